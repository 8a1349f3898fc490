// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"sort"
	"sync"
)

// InMemoryProcessStore keeps process-tier entries in a map. Suitable
// for tests and for deployments that do not need durability.
type InMemoryProcessStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewInMemoryProcessStore creates an empty process store.
func NewInMemoryProcessStore() *InMemoryProcessStore {
	return &InMemoryProcessStore{entries: make(map[string]Entry)}
}

// Put inserts or replaces the entry for its key.
func (s *InMemoryProcessStore) Put(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.Tier = TierProcess
	s.entries[entry.Key] = entry
	return nil
}

// Get returns the entry stored under key.
func (s *InMemoryProcessStore) Get(_ context.Context, key string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	if !ok {
		return Entry{}, notFound(TierProcess, key)
	}
	return entry, nil
}

// Query returns entries carrying the given tag, sorted by key.
func (s *InMemoryProcessStore) Query(_ context.Context, tag string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := filterByTag(s.entries, tag)
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
