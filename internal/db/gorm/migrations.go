package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: Question bank (questions, domain_questions)
		{
			ID: "001_question_bank",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&Question{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&DomainQuestion{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("domain_questions", "questions")
			},
		},

		// Migration 002: Guess tallies
		{
			ID: "002_domain_guesses",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&DomainGuess{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("domain_guesses")
			},
		},

		// Migration 003: Finished game transcripts
		{
			ID: "003_game_history",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&GameHistory{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&GameQuestion{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("game_questions", "game_history")
			},
		},
	})

	return m.Migrate()
}
