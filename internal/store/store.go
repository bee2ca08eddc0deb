// Package store persists small string values (the session credential and
// role) so they survive a restart. Writes and deletes of several keys are
// applied in one transaction.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"truckdash/internal/db"
	"truckdash/internal/migrate"
)

var ErrNotFound = errors.New("not found")

// Store is a SQLite-backed key/value table.
type Store struct {
	DB  *sql.DB
	Now func() time.Time
}

// Open opens (and migrates) the state database in dir.
func Open(ctx context.Context, dir string) (*Store, error) {
	conn, err := db.Open(db.Config{Dir: dir})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate state db: %w", err)
	}
	return &Store{DB: conn}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// Get returns the value for key or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

// SetMany upserts all pairs atomically.
func (s *Store) SetMany(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	now := s.now().UTC().Format(time.RFC3339)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, k := range sortedKeys(values) {
			if k == "" {
				return errors.New("key required")
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO kv(key,value,updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`, k, values[k], now); err != nil {
				return fmt.Errorf("set %s: %w", k, err)
			}
		}
		return nil
	})
}

// Set upserts one value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.SetMany(ctx, map[string]string{key: value})
}

// Delete removes all keys atomically. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, k := range keys {
			if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE key=?`, k); err != nil {
				return fmt.Errorf("delete %s: %w", k, err)
			}
		}
		return nil
	})
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
