package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/rtlink/internal/recovery"
)

// Checkpoint returns the value stored under key. ok is false when the key
// is absent.
func (db *DB) Checkpoint(ctx context.Context, key string) (value string, ok bool, err error) {
	err = db.QueryRowContext(ctx, `SELECT value FROM checkpoints WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetCheckpoint inserts or replaces the value under key.
func (db *DB) SetCheckpoint(ctx context.Context, key, value string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO checkpoints (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	return err
}

// DeleteCheckpoint removes key. Removing a missing key is not an error.
func (db *DB) DeleteCheckpoint(ctx context.Context, key string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM checkpoints WHERE key = ?`, key)
	return err
}

// LoadSnapshot implements recovery.Store.
func (db *DB) LoadSnapshot(ctx context.Context) (*recovery.Snapshot, error) {
	raw, ok, err := db.Checkpoint(ctx, recoveryKey)
	if err != nil || !ok {
		return nil, err
	}
	var s recovery.Snapshot
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("decode recovery snapshot: %w", err)
	}
	return &s, nil
}

// SaveSnapshot implements recovery.Store.
func (db *DB) SaveSnapshot(ctx context.Context, s recovery.Snapshot) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return db.SetCheckpoint(ctx, recoveryKey, string(raw))
}

// ClearSnapshot implements recovery.Store.
func (db *DB) ClearSnapshot(ctx context.Context) error {
	return db.DeleteCheckpoint(ctx, recoveryKey)
}
