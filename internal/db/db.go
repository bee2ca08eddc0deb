package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const defaultDBName = "state.db"

type Config struct {
	// Dir is the state directory; it is created if missing.
	Dir string
}

func dbPath(dir string) string {
	if dir == "" {
		dir = ".truckdash"
	}
	return filepath.Join(dir, defaultDBName)
}

// EnsureDir creates the state directory if missing.
func EnsureDir(dir string) (string, error) {
	if dir == "" {
		dir = ".truckdash"
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// Open opens the SQLite state database.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureDir(cfg.Dir); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath(cfg.Dir))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	return conn, nil
}

// Path returns the db path for the state directory.
func Path(dir string) string {
	return dbPath(dir)
}
