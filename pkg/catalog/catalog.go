// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/loomworks/loom/pkg/errors"
)

// Catalog is an immutable snapshot of loaded skill descriptors. Runs bind
// one snapshot for their whole life; reloads produce new snapshots and
// never mutate existing ones.
type Catalog struct {
	byName map[string][]SkillDescriptor // ascending by version
	graph  *graph
}

// New indexes descriptors and validates the dependency graph. Duplicate
// (name, version) pairs and dependency cycles reject the whole load.
func New(descs []SkillDescriptor) (*Catalog, error) {
	byName := make(map[string][]SkillDescriptor)
	seen := make(map[string]bool)
	for _, d := range descs {
		if seen[d.Key()] {
			return nil, errors.New(errors.CodeVersionConflict,
				fmt.Sprintf("duplicate skill %s", d.Key()), nil)
		}
		seen[d.Key()] = true
		byName[d.Name] = append(byName[d.Name], d)
	}

	names := make([]string, 0, len(byName))
	dependsOn := make(map[string][]string, len(byName))
	for name, versions := range byName {
		sort.Slice(versions, func(i, j int) bool {
			return versionLess(versions[i].Version, versions[j].Version)
		})
		byName[name] = versions
		names = append(names, name)
		// The graph follows the latest version of each skill.
		dependsOn[name] = versions[len(versions)-1].DependsOn
	}
	sort.Strings(names)

	g, err := buildGraph(names, dependsOn)
	if err != nil {
		return nil, err
	}
	return &Catalog{byName: byName, graph: g}, nil
}

// Len returns the number of distinct skill names.
func (c *Catalog) Len() int {
	return len(c.byName)
}

// Skills returns the latest version of every skill, sorted by name.
func (c *Catalog) Skills() []SkillDescriptor {
	out := make([]SkillDescriptor, 0, len(c.byName))
	for _, name := range c.graph.names {
		versions := c.byName[name]
		out = append(out, versions[len(versions)-1])
	}
	return out
}

// Get resolves a skill by name and version constraint. An empty or
// "latest" constraint selects the highest version; anything else must
// match a loaded version exactly.
func (c *Catalog) Get(name, constraint string) (SkillDescriptor, error) {
	versions, ok := c.byName[name]
	if !ok {
		return SkillDescriptor{}, errors.New(errors.CodeNotFound,
			fmt.Sprintf("skill %q not in catalog", name), nil)
	}
	constraint = strings.TrimSpace(constraint)
	if constraint == "" || constraint == "latest" {
		return versions[len(versions)-1], nil
	}
	for _, d := range versions {
		if d.Version == constraint {
			return d, nil
		}
	}
	return SkillDescriptor{}, errors.New(errors.CodeNotFound,
		fmt.Sprintf("skill %s@%s not in catalog", name, constraint), nil)
}

// Has reports whether a skill name is resolvable.
func (c *Catalog) Has(name string) bool {
	_, ok := c.byName[name]
	return ok
}

// ResolveOrder returns ids in topological order among themselves.
func (c *Catalog) ResolveOrder(ids []string) ([]string, error) {
	return c.graph.resolveOrder(ids)
}

// ResolveWaves groups ids into dependency levels for concurrent dispatch.
func (c *Catalog) ResolveWaves(ids []string) ([][]string, error) {
	return c.graph.resolveWaves(ids)
}

// PhaseSkills returns the latest version of every skill tagged for phase.
func (c *Catalog) PhaseSkills(phase Phase) []SkillDescriptor {
	var out []SkillDescriptor
	for _, d := range c.Skills() {
		if d.Phase == phase {
			out = append(out, d)
		}
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

// Registry owns the live catalog snapshot and its reload lifecycle.
// Snapshots handed out are never mutated; a reload swaps the pointer so
// only runs started afterwards observe the new catalog.
type Registry struct {
	mu       sync.RWMutex
	dir      string
	snapshot *Catalog
}

// NewRegistry creates a registry over a skills directory.
func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir}
}

// Init performs the first load. It fails if the directory is unreadable
// or the surviving descriptors do not form a valid graph.
func (r *Registry) Init() (*Catalog, *LoadReport, error) {
	return r.Reload()
}

// Reload builds a fresh snapshot from disk and atomically installs it.
// The previous snapshot stays valid for runs already bound to it.
func (r *Registry) Reload() (*Catalog, *LoadReport, error) {
	descs, report, err := LoadDir(r.dir)
	if err != nil {
		return nil, nil, err
	}
	cat, err := New(descs)
	if err != nil {
		return nil, report, err
	}
	r.mu.Lock()
	r.snapshot = cat
	r.mu.Unlock()
	return cat, report, nil
}

// Snapshot returns the current catalog, or nil before the first load.
func (r *Registry) Snapshot() *Catalog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}
