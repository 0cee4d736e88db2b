package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"github.com/StrathCole/feedguard/pkg/policy"
)

// DefaultListLimit is used when List is called with a non-positive limit.
const DefaultListLimit = 100

// Entry is a recorded change.
type Entry struct {
	ID string `json:"id"`
	policy.Change
}

// SQLite stores changes in a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the journal database at path.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// sqlite allows one writer at a time
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create journal schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Record stores a change and returns its id.
func (j *SQLite) Record(ctx context.Context, c policy.Change) (string, error) {
	at := c.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	id, err := newID(at)
	if err != nil {
		return "", fmt.Errorf("failed to generate change id: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO changes
		(id, feed, field, old_value, new_value, changed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, c.Feed, c.Field, c.Old, c.New, at.UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to record change: %w", err)
	}
	return id, nil
}

// Notify records the change, so the journal can be registered as a change notifier.
func (j *SQLite) Notify(ctx context.Context, c policy.Change) error {
	_, err := j.Record(ctx, c)
	return err
}

// List returns the most recent changes, newest first. An empty feed lists all feeds.
func (j *SQLite) List(ctx context.Context, feed string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `SELECT id, feed, field, old_value, new_value, changed_at FROM changes`
	args := []interface{}{}
	if feed != "" {
		query += ` WHERE feed = ?`
		args = append(args, feed)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query changes: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Feed, &e.Field, &e.Old, &e.New, &e.At); err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		e.At = e.At.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read changes: %w", err)
	}
	return entries, nil
}

// Close closes the database.
func (j *SQLite) Close() error {
	return j.db.Close()
}
