// Package gorm provides GORM-based database operations for the question,
// guess and history tables.
package gorm

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store represents the GORM database connection.
type Store struct {
	DB    *gorm.DB
	sqlDB *sql.DB
}

// Config holds database configuration.
type Config struct {
	Driver   string          // "sqlite" (default) or "postgres"
	DSN      string          // file path for sqlite, connection string for postgres
	MaxConns int             // Maximum number of open connections (default: 4 for sqlite, 10 for postgres)
	LogLevel logger.LogLevel // GORM log level (logger.Silent for production)
}

// NewStore opens the database and runs migrations.
func NewStore(cfg Config) (*Store, error) {
	dialector, maxConns, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:      logger.Default.LogMode(cfg.LogLevel),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(maxConns)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{DB: db, sqlDB: sqlDB}, nil
}

func dialectorFor(cfg Config) (gorm.Dialector, int, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", DriverSQLite:
		maxConns := cfg.MaxConns
		if maxConns <= 0 {
			maxConns = 4
		}
		return sqlite.Open(sqliteDSN(cfg.DSN)), maxConns, nil
	case DriverPostgres, "postgresql":
		maxConns := cfg.MaxConns
		if maxConns <= 0 {
			maxConns = 10
		}
		return postgres.Open(cfg.DSN), maxConns, nil
	default:
		return nil, 0, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// sqliteDSN enables WAL, foreign keys and a busy timeout unless the caller
// already passed pragmas.
func sqliteDSN(path string) string {
	if strings.Contains(path, "_pragma=") {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

// GetDB returns the GORM DB instance for standard queries.
func (s *Store) GetDB() *gorm.DB {
	return s.DB
}
