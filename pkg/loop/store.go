// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package loop

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/loomworks/loom/pkg/catalog"
	"github.com/loomworks/loom/pkg/errors"
)

// Store holds loaded loop templates by id and version. Templates are
// immutable once added; loading a newer version never disturbs runs
// pinned to an older one.
type Store struct {
	mu        sync.RWMutex
	templates map[string][]*Template // ascending by version
}

// NewStore creates an empty template store.
func NewStore() *Store {
	return &Store{templates: make(map[string][]*Template)}
}

// Add validates a template against the catalog and registers it.
// A duplicate (id, version) pair is a version conflict.
func (s *Store) Add(t *Template, cat *catalog.Catalog) error {
	if err := t.Bind(cat); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.templates[t.ID] {
		if existing.Version == t.Version {
			return errors.New(errors.CodeVersionConflict,
				fmt.Sprintf("duplicate template %s", t.Key()), nil)
		}
	}
	s.templates[t.ID] = append(s.templates[t.ID], t)
	sort.Slice(s.templates[t.ID], func(i, j int) bool {
		return versionLess(s.templates[t.ID][i].Version, s.templates[t.ID][j].Version)
	})
	return nil
}

// Load reads a template file, validates it against the catalog, and
// registers it.
func (s *Store) Load(path string, cat *catalog.Catalog) (*Template, error) {
	t, err := LoadTemplate(path)
	if err != nil {
		return nil, err
	}
	if err := s.Add(t, cat); err != nil {
		return nil, err
	}
	return t, nil
}

// LoadDir loads every .yaml/.yml/.json template in a directory. A file
// that fails to load is skipped with a warning; the rest still load.
func (s *Store) LoadDir(dir string, cat *catalog.Catalog) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if _, err := s.Load(path, cat); err != nil {
			slog.Warn("loop.load.skip",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		loaded++
	}
	return loaded, nil
}

// Get resolves a template by id and version. An empty or "latest"
// version selects the highest loaded version.
func (s *Store) Get(id, version string) (*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions, ok := s.templates[id]
	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			fmt.Sprintf("loop template %q not loaded", id), nil)
	}
	version = strings.TrimSpace(version)
	if version == "" || version == "latest" {
		return versions[len(versions)-1], nil
	}
	for _, t := range versions {
		if t.Version == version {
			return t, nil
		}
	}
	return nil, errors.New(errors.CodeNotFound,
		fmt.Sprintf("loop template %s@%s not loaded", id, version), nil)
}

// Templates returns the latest version of every loaded template.
func (s *Store) Templates() []*Template {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.templates))
	for id := range s.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*Template, 0, len(ids))
	for _, id := range ids {
		versions := s.templates[id]
		out = append(out, versions[len(versions)-1])
	}
	return out
}

func versionLess(a, b string) bool {
	pa := strings.SplitN(a, ".", 3)
	pb := strings.SplitN(b, ".", 3)
	for i := 0; i < 3 && i < len(pa) && i < len(pb); i++ {
		na, _ := strconv.Atoi(pa[i])
		nb, _ := strconv.Atoi(pb[i])
		if na != nb {
			return na < nb
		}
	}
	return len(pa) < len(pb)
}
