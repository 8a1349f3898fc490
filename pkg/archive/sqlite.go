// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/loomworks/loom/pkg/errors"
)

// SQLiteStore persists run records in SQLite. Invocation and gate logs
// are stored as JSON columns; they are read back whole, never queried
// field by field.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) an archive database at path and ensures
// its schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "open archive db", err)
	}
	store, err := NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteStore wraps an existing database handle and ensures the
// schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New(errors.CodeInvalidInput, "db is nil", nil)
	}
	if err := ensureArchiveSchema(db); err != nil {
		return nil, errors.New(errors.CodeInternal, "ensure archive schema", err)
	}
	return &SQLiteStore{db: db}, nil
}

func ensureArchiveSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS run_archive (
			run_id           TEXT PRIMARY KEY,
			loop_id          TEXT NOT NULL,
			loop_version     TEXT NOT NULL,
			project          TEXT NOT NULL DEFAULT '',
			status           TEXT NOT NULL,
			estimated_ns     INTEGER NOT NULL,
			actual_ns        INTEGER NOT NULL,
			started_at       TIMESTAMP NOT NULL,
			finished_at      TIMESTAMP NOT NULL,
			invocations_json TEXT NOT NULL DEFAULT '[]',
			gates_json       TEXT NOT NULL DEFAULT '[]'
		);
		CREATE INDEX IF NOT EXISTS idx_run_archive_loop
			ON run_archive (loop_id, finished_at DESC)
	`)
	return err
}

// Save stores or replaces a record.
func (s *SQLiteStore) Save(ctx context.Context, record Record) error {
	if record.RunID == "" {
		return errors.New(errors.CodeInvalidInput, "record has no run id", nil)
	}
	invocations, err := json.Marshal(record.Invocations)
	if err != nil {
		return errors.New(errors.CodeInvalidInput, "encode invocation log", err)
	}
	gates, err := json.Marshal(record.Gates)
	if err != nil {
		return errors.New(errors.CodeInvalidInput, "encode gate log", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_archive (
			run_id, loop_id, loop_version, project, status,
			estimated_ns, actual_ns, started_at, finished_at,
			invocations_json, gates_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status           = excluded.status,
			estimated_ns     = excluded.estimated_ns,
			actual_ns        = excluded.actual_ns,
			started_at       = excluded.started_at,
			finished_at      = excluded.finished_at,
			invocations_json = excluded.invocations_json,
			gates_json       = excluded.gates_json
	`,
		record.RunID, record.LoopID, record.LoopVersion, record.Project, record.Status,
		int64(record.EstimatedDuration), int64(record.ActualDuration),
		record.StartedAt, record.FinishedAt,
		string(invocations), string(gates),
	)
	if err != nil {
		return errors.New(errors.CodeInternal, "save archived run", err)
	}
	return nil
}

// Get returns the record for a run.
func (s *SQLiteStore) Get(ctx context.Context, runID string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, loop_id, loop_version, project, status,
		       estimated_ns, actual_ns, started_at, finished_at,
		       invocations_json, gates_json
		FROM run_archive WHERE run_id = ?
	`, runID)
	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, errors.New(errors.CodeNotFound,
			fmt.Sprintf("no archived run %q", runID), nil)
	}
	if err != nil {
		return Record{}, errors.New(errors.CodeInternal, "read archived run", err)
	}
	return record, nil
}

// List returns records matching the filter, most recently finished
// first.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]Record, error) {
	query := `
		SELECT run_id, loop_id, loop_version, project, status,
		       estimated_ns, actual_ns, started_at, finished_at,
		       invocations_json, gates_json
		FROM run_archive
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.LoopID != "" {
		addFilter("loop_id = ?", filter.LoopID)
	}
	if filter.Status != "" {
		addFilter("status = ?", filter.Status)
	}
	query += where + " ORDER BY finished_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "list archived runs", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, errors.New(errors.CodeInternal, "scan archived run", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.CodeInternal, "iterate archived runs", err)
	}
	return out, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		record          Record
		estimatedNS     int64
		actualNS        int64
		invocationsJSON string
		gatesJSON       string
	)
	err := row.Scan(
		&record.RunID, &record.LoopID, &record.LoopVersion, &record.Project, &record.Status,
		&estimatedNS, &actualNS, &record.StartedAt, &record.FinishedAt,
		&invocationsJSON, &gatesJSON,
	)
	if err != nil {
		return Record{}, err
	}
	record.EstimatedDuration = durationNS(estimatedNS)
	record.ActualDuration = durationNS(actualNS)
	if err := json.Unmarshal([]byte(invocationsJSON), &record.Invocations); err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal([]byte(gatesJSON), &record.Gates); err != nil {
		return Record{}, err
	}
	return record, nil
}
