// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"fmt"

	"github.com/loomworks/loom/pkg/errors"
)

// dfs colors for cycle detection.
const (
	colorUnvisited = iota
	colorInProgress
	colorDone
)

// graph is the arena-indexed dependency graph over skill names. Skills
// are referenced by integer index so snapshots are cheap to copy.
type graph struct {
	names []string
	index map[string]int
	deps  [][]int
}

func buildGraph(names []string, dependsOn map[string][]string) (*graph, error) {
	g := &graph{
		names: names,
		index: make(map[string]int, len(names)),
		deps:  make([][]int, len(names)),
	}
	for i, name := range names {
		g.index[name] = i
	}
	for i, name := range names {
		for _, dep := range dependsOn[name] {
			j, ok := g.index[dep]
			if !ok {
				return nil, errors.New(errors.CodeNotFound,
					fmt.Sprintf("skill %q depends on unknown skill %q", name, dep), nil)
			}
			g.deps[i] = append(g.deps[i], j)
		}
	}
	if cycle := g.findCycle(); cycle != nil {
		return nil, errors.New(errors.CodeCycle,
			fmt.Sprintf("dependency cycle: %v", cycle), nil)
	}
	return g, nil
}

// findCycle runs a three-color depth-first traversal over the whole
// graph. A back-edge to an in-progress node is a cycle; the returned
// slice names the offending path.
func (g *graph) findCycle() []string {
	color := make([]int, len(g.names))
	var stack []int

	var visit func(i int) []string
	visit = func(i int) []string {
		color[i] = colorInProgress
		stack = append(stack, i)
		for _, j := range g.deps[i] {
			switch color[j] {
			case colorInProgress:
				// Back-edge: slice the stack from the first occurrence of j.
				var cycle []string
				for k := len(stack) - 1; k >= 0; k-- {
					cycle = append([]string{g.names[stack[k]]}, cycle...)
					if stack[k] == j {
						break
					}
				}
				return append(cycle, g.names[j])
			case colorUnvisited:
				if cycle := visit(j); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[i] = colorDone
		return nil
	}

	for i := range g.names {
		if color[i] == colorUnvisited {
			if cycle := visit(i); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// resolveOrder returns the requested skills in topological order: every
// skill appears after all of its dependencies within the set. Dependencies
// outside the set are treated as already satisfied.
func (g *graph) resolveOrder(ids []string) ([]string, error) {
	inSet := make(map[int]bool, len(ids))
	for _, id := range ids {
		i, ok := g.index[id]
		if !ok {
			return nil, errors.New(errors.CodeNotFound,
				fmt.Sprintf("skill %q not in catalog", id), nil)
		}
		inSet[i] = true
	}

	visited := make(map[int]bool, len(ids))
	out := make([]string, 0, len(ids))

	var visit func(i int)
	visit = func(i int) {
		if visited[i] {
			return
		}
		visited[i] = true
		for _, j := range g.deps[i] {
			if inSet[j] {
				visit(j)
			}
		}
		out = append(out, g.names[i])
	}

	for _, id := range ids {
		visit(g.index[id])
	}
	return out, nil
}

// resolveWaves groups the requested skills into dependency levels.
// Skills within a wave have no mutual dependency and may run concurrently;
// each wave depends only on earlier waves.
func (g *graph) resolveWaves(ids []string) ([][]string, error) {
	ordered, err := g.resolveOrder(ids)
	if err != nil {
		return nil, err
	}
	inSet := make(map[int]bool, len(ids))
	for _, id := range ids {
		inSet[g.index[id]] = true
	}

	level := make(map[int]int, len(ordered))
	var waves [][]string
	for _, id := range ordered {
		i := g.index[id]
		lvl := 0
		for _, j := range g.deps[i] {
			if inSet[j] && level[j]+1 > lvl {
				lvl = level[j] + 1
			}
		}
		level[i] = lvl
		for len(waves) <= lvl {
			waves = append(waves, nil)
		}
		waves[lvl] = append(waves[lvl], id)
	}
	return waves, nil
}
