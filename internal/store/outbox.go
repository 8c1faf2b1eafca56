package store

import (
	"context"
	"fmt"
)

// ReplaceOutbox swaps the spooled offline buffer for entries in one
// transaction.
func (db *DB) ReplaceOutbox(ctx context.Context, entries []OutboxEntry) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM outbox`); err != nil {
		return fmt.Errorf("clear outbox: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO outbox (seq, msg_id, type, body, timestamp, queued_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.Seq, e.MsgID, e.Type, e.Body, e.Timestamp, e.QueuedAt); err != nil {
			return fmt.Errorf("spool seq %d: %w", e.Seq, err)
		}
	}
	return tx.Commit()
}

// LoadOutbox returns the spooled entries in enqueue order.
func (db *DB) LoadOutbox(ctx context.Context) ([]OutboxEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT seq, msg_id, type, body, timestamp, queued_at
		FROM outbox ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.Seq, &e.MsgID, &e.Type, &e.Body, &e.Timestamp, &e.QueuedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// OutboxLen reports how many entries are spooled.
func (db *DB) OutboxLen(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&n)
	return n, err
}
