// Package store persists link state in the profile's SQLite database:
// recovery checkpoints and the spooled offline buffer.
package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the profile's rtlink.db.
type DB struct {
	*sql.DB
}

func dsn(path string) string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_busy_timeout", "5000")
	q.Set("_synchronous", "NORMAL")
	// Spool rewrites take the write lock at BEGIN instead of upgrading later.
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// Open opens or creates the database at path, creating parent dirs.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}

// Close folds the WAL back into the main file and closes the database.
func (db *DB) Close() error {
	_, cpErr := db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`)
	if err := db.DB.Close(); err != nil {
		return err
	}
	if cpErr != nil {
		return fmt.Errorf("wal checkpoint: %w", cpErr)
	}
	return nil
}
