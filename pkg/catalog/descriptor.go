// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package catalog loads skill descriptors, indexes them by name and
// version, and validates the dependency graph they declare.
package catalog

import (
	"fmt"
	"sort"
	"strings"
)

// Phase is one of the ten ordered loop stages a skill can belong to.
type Phase string

const (
	PhaseInit      Phase = "init"
	PhaseAssess    Phase = "assess"
	PhaseIdentify  Phase = "identify"
	PhasePlan      Phase = "plan"
	PhaseDesign    Phase = "design"
	PhaseImplement Phase = "implement"
	PhaseVerify    Phase = "verify"
	PhaseReview    Phase = "review"
	PhaseShip      Phase = "ship"
	PhaseRetro     Phase = "retro"
)

// Phases returns all valid phases in loop order.
func Phases() []Phase {
	return []Phase{
		PhaseInit, PhaseAssess, PhaseIdentify, PhasePlan, PhaseDesign,
		PhaseImplement, PhaseVerify, PhaseReview, PhaseShip, PhaseRetro,
	}
}

// ParsePhase validates a phase string against the fixed enum.
func ParsePhase(s string) (Phase, error) {
	p := Phase(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Phases() {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown phase %q", s)
}

// Category classifies the kind of work a skill performs.
type Category string

const (
	CategoryAnalysis      Category = "analysis"
	CategoryPlanning      Category = "planning"
	CategoryExecution     Category = "execution"
	CategoryValidation    Category = "validation"
	CategoryCommunication Category = "communication"
)

// Categories returns all valid categories.
func Categories() []Category {
	return []Category{
		CategoryAnalysis, CategoryPlanning, CategoryExecution,
		CategoryValidation, CategoryCommunication,
	}
}

// ParseCategory validates a category string against the fixed set.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories() {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// DefaultVersion is assigned to descriptors that omit a version.
const DefaultVersion = "1.0.0"

// SkillDescriptor is one immutable, versioned unit of declared work.
type SkillDescriptor struct {
	Name          string
	Version       string
	Description   string
	Phase         Phase
	PhaseInferred bool
	Category      Category
	DependsOn     []string
	Deliverables  []string
	Tags          []string
	Body          string
	Path          string
	Dir           string
}

// Key returns the name@version identity of the descriptor.
func (d SkillDescriptor) Key() string {
	return d.Name + "@" + d.Version
}

// phaseKeywords drives the best-effort phase inference for descriptors
// that omit an explicit phase tag.
var phaseKeywords = map[Phase][]string{
	PhaseInit:      {"setup", "bootstrap", "initialize", "onboard", "kickoff"},
	PhaseAssess:    {"assess", "score", "evaluate", "measure", "baseline", "strength"},
	PhaseIdentify:  {"identify", "discover", "find", "map", "stakeholder"},
	PhasePlan:      {"plan", "estimate", "schedule", "prioritize", "roadmap"},
	PhaseDesign:    {"design", "architect", "draft", "prototype", "sketch"},
	PhaseImplement: {"implement", "build", "execute", "develop", "create"},
	PhaseVerify:    {"verify", "test", "validate", "check", "confirm"},
	PhaseReview:    {"review", "audit", "inspect", "approve", "feedback"},
	PhaseShip:      {"ship", "deliver", "release", "deploy", "launch", "close"},
	PhaseRetro:     {"retro", "retrospect", "learn", "calibrate", "debrief"},
}

// InferPhase guesses a phase from descriptor text. It returns the best
// candidate plus every phase that tied for the top keyword count; callers
// should surface ambiguous results (len(candidates) != 1) rather than
// trust them. With no keyword hits it falls back to PhaseInit.
func InferPhase(text string) (Phase, []Phase) {
	lowered := strings.ToLower(text)
	scores := make(map[Phase]int)
	for phase, words := range phaseKeywords {
		for _, w := range words {
			if strings.Contains(lowered, w) {
				scores[phase]++
			}
		}
	}
	if len(scores) == 0 {
		return PhaseInit, nil
	}

	best := 0
	for _, n := range scores {
		if n > best {
			best = n
		}
	}
	var candidates []Phase
	for phase, n := range scores {
		if n == best {
			candidates = append(candidates, phase)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return phaseIndex(candidates[i]) < phaseIndex(candidates[j])
	})
	return candidates[0], candidates
}

func phaseIndex(p Phase) int {
	for i, known := range Phases() {
		if p == known {
			return i
		}
	}
	return len(Phases())
}
