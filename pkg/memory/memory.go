// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory is the three-tier persistent key/value store read and
// written by skills and by the engine itself. Tiers nest strictly:
// process-wide entries are visible everywhere, run entries within their
// run, invocation entries only within the invocation that wrote them.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loomworks/loom/pkg/errors"
)

// Tier is one of the three visibility scopes.
type Tier string

const (
	TierProcess    Tier = "process"
	TierRun        Tier = "run"
	TierInvocation Tier = "invocation"
)

// Entry is a persisted fact at a given scope.
type Entry struct {
	Tier      Tier      `json:"tier"`
	ScopeID   string    `json:"scopeId,omitempty"`
	Key       string    `json:"key"`
	Value     any       `json:"value"`
	Writer    string    `json:"writer,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	WrittenAt time.Time `json:"writtenAt"`
}

// ProcessStore persists process-wide entries across runs.
type ProcessStore interface {
	Put(ctx context.Context, entry Entry) error
	Get(ctx context.Context, key string) (Entry, error)
	Query(ctx context.Context, tag string) ([]Entry, error)
}

// Store owns all three tiers. Run and invocation tiers live in memory
// and are garbage-collected with their owning run; the process tier is
// delegated to a persistent backend.
type Store struct {
	mu      sync.Mutex
	strict  bool
	process ProcessStore
	runs    map[string]*runMemory
}

// runMemory serializes all writes within one run behind a single mutex,
// so concurrently dispatched independent skills cannot lose updates.
type runMemory struct {
	mu          sync.Mutex
	entries     map[string]Entry
	invocations map[string]map[string]Entry
}

// New creates a store over the given process-tier backend. In strict
// mode cross-scope reads fail loud; otherwise they log a warning and
// report not-found.
func New(process ProcessStore, strict bool) *Store {
	return &Store{
		strict:  strict,
		process: process,
		runs:    make(map[string]*runMemory),
	}
}

// WriteOption decorates an entry before it is stored.
type WriteOption func(*Entry)

// WithWriter records who wrote the entry.
func WithWriter(writer string) WriteOption {
	return func(e *Entry) { e.Writer = writer }
}

// WithTags attaches query tags to the entry.
func WithTags(tags ...string) WriteOption {
	return func(e *Entry) { e.Tags = tags }
}

func (s *Store) run(runID string) *runMemory {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm, ok := s.runs[runID]
	if !ok {
		rm = &runMemory{
			entries:     make(map[string]Entry),
			invocations: make(map[string]map[string]Entry),
		}
		s.runs[runID] = rm
	}
	return rm
}

// View binds a reader/writer to one skill invocation within one run.
// The engine hands each invocation its own view; all visibility rules
// are enforced here.
type View struct {
	store        *Store
	runID        string
	invocationID string
	writer       string
}

// View creates a scope-bound view. An empty invocationID produces an
// engine-level view that can touch run and process tiers only.
func (s *Store) View(runID, invocationID, writer string) *View {
	return &View{store: s, runID: runID, invocationID: invocationID, writer: writer}
}

// RunID returns the run this view is bound to.
func (v *View) RunID() string { return v.runID }

// InvocationID returns the invocation this view is bound to.
func (v *View) InvocationID() string { return v.invocationID }

// Write stores a value at the given tier within this view's scope.
// Run and invocation writes are serialized per run.
func (v *View) Write(ctx context.Context, tier Tier, key string, value any, opts ...WriteOption) error {
	entry := Entry{
		Tier:      tier,
		Key:       key,
		Value:     value,
		Writer:    v.writer,
		WrittenAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&entry)
	}

	switch tier {
	case TierProcess:
		return v.store.process.Put(ctx, entry)
	case TierRun:
		entry.ScopeID = v.runID
		rm := v.store.run(v.runID)
		rm.mu.Lock()
		rm.entries[key] = entry
		rm.mu.Unlock()
		return nil
	case TierInvocation:
		if v.invocationID == "" {
			return errors.New(errors.CodeInvalidInput,
				"view has no invocation scope", nil)
		}
		entry.ScopeID = v.invocationID
		rm := v.store.run(v.runID)
		rm.mu.Lock()
		inv, ok := rm.invocations[v.invocationID]
		if !ok {
			inv = make(map[string]Entry)
			rm.invocations[v.invocationID] = inv
		}
		inv[key] = entry
		rm.mu.Unlock()
		return nil
	default:
		return errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("unknown memory tier %q", tier), nil)
	}
}

// Read resolves a key through the nested scopes: this invocation's
// entries first, then the run tier, then process-wide.
func (v *View) Read(ctx context.Context, key string) (Entry, error) {
	if v.invocationID != "" {
		if entry, err := v.ReadTier(ctx, TierInvocation, v.invocationID, key); err == nil {
			return entry, nil
		}
	}
	if entry, err := v.ReadTier(ctx, TierRun, v.runID, key); err == nil {
		return entry, nil
	}
	return v.ReadTier(ctx, TierProcess, "", key)
}

// ReadTier reads a key from an explicit tier and scope, enforcing
// visibility: another invocation's entries are never readable, nor is
// another run's tier.
func (v *View) ReadTier(ctx context.Context, tier Tier, scopeID, key string) (Entry, error) {
	if err := v.checkVisibility(tier, scopeID); err != nil {
		return Entry{}, err
	}
	switch tier {
	case TierProcess:
		return v.store.process.Get(ctx, key)
	case TierRun:
		rm := v.store.run(v.runID)
		rm.mu.Lock()
		defer rm.mu.Unlock()
		entry, ok := rm.entries[key]
		if !ok {
			return Entry{}, notFound(tier, key)
		}
		return entry, nil
	case TierInvocation:
		rm := v.store.run(v.runID)
		rm.mu.Lock()
		defer rm.mu.Unlock()
		entry, ok := rm.invocations[v.invocationID][key]
		if !ok {
			return Entry{}, notFound(tier, key)
		}
		return entry, nil
	default:
		return Entry{}, errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("unknown memory tier %q", tier), nil)
	}
}

// Query lists entries at a tier carrying the given tag. An empty tag
// matches every entry in the scope.
func (v *View) Query(ctx context.Context, tier Tier, tag string) ([]Entry, error) {
	switch tier {
	case TierProcess:
		return v.store.process.Query(ctx, tag)
	case TierRun:
		rm := v.store.run(v.runID)
		rm.mu.Lock()
		defer rm.mu.Unlock()
		return filterByTag(rm.entries, tag), nil
	case TierInvocation:
		if v.invocationID == "" {
			return nil, errors.New(errors.CodeInvalidInput,
				"view has no invocation scope", nil)
		}
		rm := v.store.run(v.runID)
		rm.mu.Lock()
		defer rm.mu.Unlock()
		return filterByTag(rm.invocations[v.invocationID], tag), nil
	default:
		return nil, errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("unknown memory tier %q", tier), nil)
	}
}

// Promote copies an invocation-scoped entry up to run scope so it
// survives the invocation's close.
func (v *View) Promote(ctx context.Context, key string) error {
	if v.invocationID == "" {
		return errors.New(errors.CodeInvalidInput, "view has no invocation scope", nil)
	}
	rm := v.store.run(v.runID)
	rm.mu.Lock()
	defer rm.mu.Unlock()
	entry, ok := rm.invocations[v.invocationID][key]
	if !ok {
		return notFound(TierInvocation, key)
	}
	entry.Tier = TierRun
	entry.ScopeID = v.runID
	rm.entries[key] = entry
	return nil
}

func (v *View) checkVisibility(tier Tier, scopeID string) error {
	var violation string
	switch tier {
	case TierInvocation:
		if scopeID != "" && scopeID != v.invocationID {
			violation = fmt.Sprintf("invocation %q reading invocation %q", v.invocationID, scopeID)
		} else if v.invocationID == "" {
			violation = "engine view reading invocation tier"
		}
	case TierRun:
		if scopeID != "" && scopeID != v.runID {
			violation = fmt.Sprintf("run %q reading run %q", v.runID, scopeID)
		}
	}
	if violation == "" {
		return nil
	}
	if v.store.strict {
		return errors.New(errors.CodeMemoryVisibility, violation, nil)
	}
	slog.Warn("memory.visibility.violation",
		slog.String("run_id", v.runID),
		slog.String("invocation_id", v.invocationID),
		slog.String("detail", violation),
	)
	return errors.New(errors.CodeNotFound, "entry not visible", nil)
}

// CloseInvocation discards an invocation's entries. Promoted entries
// already live at run scope and survive.
func (s *Store) CloseInvocation(runID, invocationID string) {
	rm := s.run(runID)
	rm.mu.Lock()
	delete(rm.invocations, invocationID)
	rm.mu.Unlock()
}

// ReleaseRun garbage-collects a run's tier and all of its invocations.
// Process-wide entries are untouched.
func (s *Store) ReleaseRun(runID string) {
	s.mu.Lock()
	delete(s.runs, runID)
	s.mu.Unlock()
}

// RunEntries returns a copy of a run's entries, for gate evaluation and
// archiving.
func (s *Store) RunEntries(runID string) map[string]any {
	rm := s.run(runID)
	rm.mu.Lock()
	defer rm.mu.Unlock()
	out := make(map[string]any, len(rm.entries))
	for k, e := range rm.entries {
		out[k] = e.Value
	}
	return out
}

func filterByTag(entries map[string]Entry, tag string) []Entry {
	var out []Entry
	for _, e := range entries {
		if tag == "" || hasTag(e, tag) {
			out = append(out, e)
		}
	}
	return out
}

func hasTag(e Entry, tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

func notFound(tier Tier, key string) error {
	return errors.New(errors.CodeNotFound,
		fmt.Sprintf("no %s entry for key %q", tier, key), nil)
}
