// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive records finished runs and derives duration
// calibration from them.
package archive

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/loomworks/loom/pkg/errors"
)

// InvocationRecord is the archived outcome of one skill invocation.
type InvocationRecord struct {
	ID         string    `json:"id"`
	Skill      string    `json:"skill"`
	Phase      string    `json:"phase"`
	Status     string    `json:"status"`
	Attempts   int       `json:"attempts"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Error      string    `json:"error,omitempty"`
}

// GateRecord is the archived outcome of one gate evaluation.
type GateRecord struct {
	GateID      string    `json:"gateId"`
	Phase       string    `json:"phase"`
	Kind        string    `json:"kind"`
	Outcome     string    `json:"outcome"`
	Detail      string    `json:"detail,omitempty"`
	DecidedBy   string    `json:"decidedBy,omitempty"`
	EvaluatedAt time.Time `json:"evaluatedAt"`
}

// Record is the durable summary of a terminal run.
type Record struct {
	RunID             string             `json:"runId"`
	LoopID            string             `json:"loopId"`
	LoopVersion       string             `json:"loopVersion"`
	Project           string             `json:"project,omitempty"`
	Status            string             `json:"status"`
	EstimatedDuration time.Duration      `json:"estimatedDuration"`
	ActualDuration    time.Duration      `json:"actualDuration"`
	StartedAt         time.Time          `json:"startedAt"`
	FinishedAt        time.Time          `json:"finishedAt"`
	Invocations       []InvocationRecord `json:"invocations,omitempty"`
	Gates             []GateRecord       `json:"gates,omitempty"`
}

// Filter narrows List results.
type Filter struct {
	LoopID string
	Status string
	Limit  int
}

// Store persists run records. Saving the same run twice replaces the
// earlier record.
type Store interface {
	Save(ctx context.Context, record Record) error
	Get(ctx context.Context, runID string) (Record, error)
	List(ctx context.Context, filter Filter) ([]Record, error)
}

// InMemoryStore keeps records in a map, newest-first on List.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewInMemoryStore creates an empty archive.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]Record)}
}

// Save stores or replaces a record.
func (s *InMemoryStore) Save(_ context.Context, record Record) error {
	if record.RunID == "" {
		return errors.New(errors.CodeInvalidInput, "record has no run id", nil)
	}
	s.mu.Lock()
	s.records[record.RunID] = record
	s.mu.Unlock()
	return nil
}

// Get returns the record for a run.
func (s *InMemoryStore) Get(_ context.Context, runID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[runID]
	if !ok {
		return Record{}, errors.New(errors.CodeNotFound,
			fmt.Sprintf("no archived run %q", runID), nil)
	}
	return record, nil
}

// List returns records matching the filter, most recently finished
// first.
func (s *InMemoryStore) List(_ context.Context, filter Filter) ([]Record, error) {
	s.mu.RLock()
	out := make([]Record, 0, len(s.records))
	for _, record := range s.records {
		if matches(record, filter) {
			out = append(out, record)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].FinishedAt.After(out[j].FinishedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matches(record Record, filter Filter) bool {
	if filter.LoopID != "" && record.LoopID != filter.LoopID {
		return false
	}
	if filter.Status != "" && record.Status != filter.Status {
		return false
	}
	return true
}
