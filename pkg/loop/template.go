// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package loop loads and validates loop templates: ordered phase lists,
// the skills each phase requires, and the gates between phases.
package loop

import (
	"fmt"

	"github.com/loomworks/loom/pkg/catalog"
	"github.com/loomworks/loom/pkg/errors"
	"github.com/loomworks/loom/pkg/gate"
)

// GateSpec declares the exit checkpoint of a phase.
type GateSpec struct {
	Kind     gate.Kind `json:"kind" yaml:"kind"`
	Criteria string    `json:"criteria,omitempty" yaml:"criteria,omitempty"`
	Approver string    `json:"approver,omitempty" yaml:"approver,omitempty"`
	Advisory bool      `json:"advisory,omitempty" yaml:"advisory,omitempty"`
}

// Blocking reports whether a gate failure blocks phase advancement.
// Human gates always block; automatic gates block unless marked advisory.
func (g *GateSpec) Blocking() bool {
	if g.Kind == gate.KindHuman {
		return true
	}
	return !g.Advisory
}

// PhaseSpec is one ordered stage of a loop.
type PhaseSpec struct {
	Phase  catalog.Phase `json:"phase" yaml:"phase"`
	Skills []string      `json:"skills" yaml:"skills"`
	Gate   *GateSpec     `json:"gate,omitempty" yaml:"gate,omitempty"`
}

// Template is a versioned, immutable workflow definition. A run pins one
// version for its entire lifetime.
type Template struct {
	ID                string      `json:"id" yaml:"id"`
	Version           string      `json:"version" yaml:"version"`
	Description       string      `json:"description,omitempty" yaml:"description,omitempty"`
	EstimatedDuration Duration    `json:"estimatedDuration,omitempty" yaml:"estimated_duration,omitempty"`
	Phases            []PhaseSpec `json:"phases" yaml:"phases"`
}

// Key returns the id@version identity of the template.
func (t *Template) Key() string {
	return t.ID + "@" + t.Version
}

// Validate checks structural well-formedness independent of any catalog.
func (t *Template) Validate() error {
	if t == nil {
		return errors.New(errors.CodeInvalidInput, "template is nil", nil)
	}
	if t.ID == "" {
		return errors.New(errors.CodeParse, "template id is required", nil)
	}
	if t.Version == "" {
		t.Version = catalog.DefaultVersion
	}
	if len(t.Phases) == 0 {
		return errors.New(errors.CodeParse, "template has no phases", nil)
	}

	seen := make(map[catalog.Phase]bool, len(t.Phases))
	for i, ps := range t.Phases {
		phase, err := catalog.ParsePhase(string(ps.Phase))
		if err != nil {
			return errors.New(errors.CodeParse, fmt.Sprintf("phase %d: %v", i, err), nil)
		}
		t.Phases[i].Phase = phase
		if seen[phase] {
			return errors.New(errors.CodeParse,
				fmt.Sprintf("phase %q declared twice", phase), nil)
		}
		seen[phase] = true

		if g := ps.Gate; g != nil {
			switch g.Kind {
			case gate.KindAutomatic:
				if _, err := gate.ParseCriteria(g.Criteria); err != nil {
					return errors.New(errors.CodeParse,
						fmt.Sprintf("phase %q gate: %v", phase, err), nil)
				}
			case gate.KindHuman:
				// Approver is advisory metadata; nothing else to check.
			default:
				return errors.New(errors.CodeParse,
					fmt.Sprintf("phase %q gate has unknown kind %q", phase, g.Kind), nil)
			}
		}
	}
	return nil
}

// Bind validates the template against a catalog snapshot: every required
// skill must be resolvable and tagged for the phase that requires it.
func (t *Template) Bind(cat *catalog.Catalog) error {
	if err := t.Validate(); err != nil {
		return err
	}
	return t.CheckCatalog(cat)
}

// CheckCatalog verifies the template's skills against a catalog snapshot
// without mutating the template, so a bound template can be re-checked
// against the snapshot a new run pins.
func (t *Template) CheckCatalog(cat *catalog.Catalog) error {
	for _, ps := range t.Phases {
		for _, id := range ps.Skills {
			desc, err := cat.Get(id, "")
			if err != nil {
				return errors.New(errors.CodeNotFound,
					fmt.Sprintf("phase %q requires unresolvable skill %q", ps.Phase, id), err)
			}
			if desc.Phase != ps.Phase {
				return errors.New(errors.CodeInvalidInput,
					fmt.Sprintf("skill %q is tagged %q, not %q", id, desc.Phase, ps.Phase), nil)
			}
		}
		// The per-phase subgraph must be sequenceable.
		if _, err := cat.ResolveOrder(ps.Skills); err != nil {
			return err
		}
	}
	return nil
}
