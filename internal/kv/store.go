// Package kv provides the redis-backed fast store used for session state and quota counters.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
)

// Config holds redis connection settings.
type Config struct {
	Addr        string        // host:port
	Password    string        // optional AUTH password
	DB          int           // logical database index
	PoolSize    int           // maximum active connections (default: 10)
	DialTimeout time.Duration // connect timeout (default: 5s)
}

// Store wraps a redigo connection pool.
type Store struct {
	pool *redis.Pool
}

// New creates a Store with a lazily dialing connection pool.
func New(cfg Config) *Store {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	pool := &redis.Pool{
		MaxIdle:     poolSize,
		MaxActive:   poolSize,
		IdleTimeout: 4 * time.Minute,
		Wait:        true,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialContext(ctx, "tcp", cfg.Addr,
				redis.DialDatabase(cfg.DB),
				redis.DialPassword(cfg.Password),
				redis.DialConnectTimeout(dialTimeout),
				redis.DialReadTimeout(5*time.Second),
				redis.DialWriteTimeout(5*time.Second),
			)
		},
		TestOnBorrow: func(c redis.Conn, lastUsed time.Time) error {
			if time.Since(lastUsed) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}

	return &Store{pool: pool}
}

// Close releases all pooled connections.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Ping verifies that redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("get connection: %w", err)
	}
	defer conn.Close()

	_, err = conn.Do("PING")
	return err
}

// Get returns the value at key. The bool is false when the key does not exist.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return "", false, fmt.Errorf("get connection: %w", err)
	}
	defer conn.Close()

	val, err := redis.String(conn.Do("GET", key))
	if errors.Is(err, redis.ErrNil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// SetEX stores value at key with the given time to live.
func (s *Store) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("get connection: %w", err)
	}
	defer conn.Close()

	_, err = conn.Do("SET", key, value, "EX", ttlSeconds(ttl))
	return err
}

// Del removes keys. Missing keys are ignored.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("get connection: %w", err)
	}
	defer conn.Close()

	args := make([]interface{}, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	_, err = conn.Do("DEL", args...)
	return err
}

// HasKeys reports whether at least one key matches the glob pattern.
// It walks the keyspace with SCAN.
func (s *Store) HasKeys(ctx context.Context, pattern string) (bool, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return false, fmt.Errorf("get connection: %w", err)
	}
	defer conn.Close()

	cursor := 0
	for {
		reply, err := redis.Values(conn.Do("SCAN", cursor, "MATCH", pattern, "COUNT", 100))
		if err != nil {
			return false, err
		}
		if len(reply) != 2 {
			return false, fmt.Errorf("unexpected SCAN reply length %d", len(reply))
		}
		cursor, err = redis.Int(reply[0], nil)
		if err != nil {
			return false, err
		}
		keys, err := redis.Strings(reply[1], nil)
		if err != nil {
			return false, err
		}
		if len(keys) > 0 {
			return true, nil
		}
		if cursor == 0 {
			return false, nil
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
	}
}

// GetMany reads keys in a single pipelined round trip.
// Missing keys come back as empty strings with found=false.
func (s *Store) GetMany(ctx context.Context, keys ...string) ([]Value, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}
	defer conn.Close()

	for _, k := range keys {
		if err := conn.Send("GET", k); err != nil {
			return nil, err
		}
	}
	if err := conn.Flush(); err != nil {
		return nil, err
	}

	values := make([]Value, len(keys))
	for i := range keys {
		val, err := redis.String(conn.Receive())
		if errors.Is(err, redis.ErrNil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", keys[i], err)
		}
		values[i] = Value{Data: val, Found: true}
	}
	return values, nil
}

// Atomic applies ops inside one MULTI/EXEC block and returns the replies.
func (s *Store) Atomic(ctx context.Context, ops ...Op) ([]interface{}, error) {
	if len(ops) == 0 {
		return nil, nil
	}
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}
	defer conn.Close()

	if err := conn.Send("MULTI"); err != nil {
		return nil, err
	}
	for _, op := range ops {
		if err := conn.Send(op.Cmd, op.Args...); err != nil {
			return nil, err
		}
	}
	replies, err := redis.Values(conn.Do("EXEC"))
	if err != nil {
		return nil, fmt.Errorf("exec: %w", err)
	}
	return replies, nil
}

// Eval runs a server-side script.
func (s *Store) Eval(ctx context.Context, script *redis.Script, keysAndArgs ...interface{}) (interface{}, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}
	defer conn.Close()

	return script.Do(conn, keysAndArgs...)
}

// Value is one pipelined GET result.
type Value struct {
	Data  string
	Found bool
}

// Op is a single command queued in an Atomic block.
type Op struct {
	Cmd  string
	Args []interface{}
}

// Incr increments the integer at key.
func Incr(key string) Op {
	return Op{Cmd: "INCR", Args: []interface{}{key}}
}

// Expire sets a time to live on key.
func Expire(key string, ttl time.Duration) Op {
	return Op{Cmd: "EXPIRE", Args: []interface{}{key, ttlSeconds(ttl)}}
}

// SetWithTTL stores value at key with a time to live.
func SetWithTTL(key string, value interface{}, ttl time.Duration) Op {
	return Op{Cmd: "SET", Args: []interface{}{key, value, "EX", ttlSeconds(ttl)}}
}

func ttlSeconds(ttl time.Duration) int64 {
	secs := int64(ttl / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
