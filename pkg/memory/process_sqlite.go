// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loomworks/loom/pkg/errors"
)

// SQLiteProcessStore persists process-tier entries in SQLite so they
// survive restarts and are shared across runs.
type SQLiteProcessStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) a process memory database at path and
// ensures its schema.
func OpenSQLite(path string) (*SQLiteProcessStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "open process memory db", err)
	}
	store, err := NewSQLiteProcessStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteProcessStore wraps an existing database handle and ensures
// the schema.
func NewSQLiteProcessStore(db *sql.DB) (*SQLiteProcessStore, error) {
	if db == nil {
		return nil, errors.New(errors.CodeInvalidInput, "db is nil", nil)
	}
	if err := ensureProcessSchema(db); err != nil {
		return nil, errors.New(errors.CodeInternal, "ensure process memory schema", err)
	}
	return &SQLiteProcessStore{db: db}, nil
}

func ensureProcessSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS process_memory (
			key        TEXT PRIMARY KEY,
			value_json TEXT NOT NULL,
			writer     TEXT NOT NULL DEFAULT '',
			tags_json  TEXT NOT NULL DEFAULT '[]',
			written_at TIMESTAMP NOT NULL
		)
	`)
	return err
}

// Put inserts or replaces the entry for its key.
func (s *SQLiteProcessStore) Put(ctx context.Context, entry Entry) error {
	value, err := json.Marshal(entry.Value)
	if err != nil {
		return errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("encode value for key %q", entry.Key), err)
	}
	tags, err := json.Marshal(entry.Tags)
	if err != nil {
		return errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("encode tags for key %q", entry.Key), err)
	}
	writtenAt := entry.WrittenAt
	if writtenAt.IsZero() {
		writtenAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO process_memory (key, value_json, writer, tags_json, written_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value_json = excluded.value_json,
			writer     = excluded.writer,
			tags_json  = excluded.tags_json,
			written_at = excluded.written_at
	`, entry.Key, string(value), entry.Writer, string(tags), writtenAt)
	if err != nil {
		return errors.New(errors.CodeInternal, "write process memory", err)
	}
	return nil
}

// Get returns the entry stored under key.
func (s *SQLiteProcessStore) Get(ctx context.Context, key string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, value_json, writer, tags_json, written_at
		FROM process_memory WHERE key = ?
	`, key)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return Entry{}, notFound(TierProcess, key)
	}
	if err != nil {
		return Entry{}, errors.New(errors.CodeInternal, "read process memory", err)
	}
	return entry, nil
}

// Query returns entries carrying the given tag, every entry if the tag
// is empty. Tag filtering happens after the scan; the process tier is
// small and the tags live in a JSON column.
func (s *SQLiteProcessStore) Query(ctx context.Context, tag string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value_json, writer, tags_json, written_at
		FROM process_memory ORDER BY key ASC
	`)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "query process memory", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, errors.New(errors.CodeInternal, "scan process memory", err)
		}
		if tag == "" || hasTag(entry, tag) {
			out = append(out, entry)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.CodeInternal, "iterate process memory", err)
	}
	return out, nil
}

// Close closes the underlying database handle.
func (s *SQLiteProcessStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		entry     Entry
		valueJSON string
		tagsJSON  string
	)
	if err := row.Scan(&entry.Key, &valueJSON, &entry.Writer, &tagsJSON, &entry.WrittenAt); err != nil {
		return Entry{}, err
	}
	entry.Tier = TierProcess
	if err := json.Unmarshal([]byte(valueJSON), &entry.Value); err != nil {
		return Entry{}, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &entry.Tags); err != nil {
		return Entry{}, err
	}
	return entry, nil
}
