// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine drives runs through their loop's phase sequence:
// dispatching skills in dependency waves, consulting gates at phase
// boundaries, and archiving terminal runs.
package engine

import (
	"sync"
	"time"

	"github.com/loomworks/loom/pkg/catalog"
	"github.com/loomworks/loom/pkg/loop"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusBlocked   Status = "blocked"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusAborted:
		return true
	}
	return false
}

// InvocationStatus is the lifecycle state of one skill invocation.
type InvocationStatus string

const (
	InvocationRunning   InvocationStatus = "running"
	InvocationSucceeded InvocationStatus = "succeeded"
	InvocationFailed    InvocationStatus = "failed"
)

// Invocation is one dispatch of a skill within a phase. Attempts counts
// every execution across retries and resumes.
type Invocation struct {
	ID         string           `json:"id"`
	RunID      string           `json:"runId"`
	Skill      string           `json:"skill"`
	Version    string           `json:"version"`
	Phase      catalog.Phase    `json:"phase"`
	Status     InvocationStatus `json:"status"`
	Attempts   int              `json:"attempts"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// PhaseStatus is the lifecycle state of one phase of a run.
type PhaseStatus string

const (
	PhasePending   PhaseStatus = "pending"
	PhaseActive    PhaseStatus = "active"
	PhaseCompleted PhaseStatus = "completed"
)

// PhaseRecord tracks one phase's progress within a run.
type PhaseRecord struct {
	Phase       catalog.Phase `json:"phase"`
	Status      PhaseStatus   `json:"status"`
	EnteredAt   time.Time     `json:"enteredAt,omitempty"`
	ExitedAt    time.Time     `json:"exitedAt,omitempty"`
	Invocations []*Invocation `json:"invocations,omitempty"`
}

// Run is one execution of a loop template. All mutable state is guarded
// by mu; cond wakes the run loop when an operator resumes, approves, or
// aborts.
type Run struct {
	mu   sync.Mutex
	cond *sync.Cond

	ID                string
	Template          *loop.Template
	Project           string
	EstimatedDuration time.Duration

	// catalog is the immutable snapshot bound at start; reloads never
	// touch it.
	catalog *catalog.Catalog

	status     Status
	statusNote string
	phaseIndex int
	phases     []*PhaseRecord
	gateSeq    int

	pauseRequested bool
	abortRequested bool
	resumeSeq      int

	startedAt  time.Time
	finishedAt time.Time
	updatedAt  time.Time

	cancel func()
	done   chan struct{}
}

func newRun(id string, tpl *loop.Template, cat *catalog.Catalog, project string, estimated time.Duration) *Run {
	phases := make([]*PhaseRecord, len(tpl.Phases))
	for i, ps := range tpl.Phases {
		phases[i] = &PhaseRecord{Phase: ps.Phase, Status: PhasePending}
	}
	r := &Run{
		ID:                id,
		Template:          tpl,
		catalog:           cat,
		Project:           project,
		EstimatedDuration: estimated,
		status:            StatusPending,
		phases:            phases,
		updatedAt:         time.Now().UTC(),
		done:              make(chan struct{}),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Progress summarizes how far a run has advanced.
type Progress struct {
	PhasesCompleted int `json:"phasesCompleted"`
	PhasesTotal     int `json:"phasesTotal"`
	SkillsCompleted int `json:"skillsCompleted"`
	SkillsTotal     int `json:"skillsTotal"`
}

// View is a read-only snapshot of a run, shaped for the dashboard.
type View struct {
	ID                string         `json:"id"`
	LoopID            string         `json:"loopId"`
	LoopVersion       string         `json:"loopVersion"`
	Project           string         `json:"project,omitempty"`
	Status            Status         `json:"status"`
	StatusNote        string         `json:"statusNote,omitempty"`
	CurrentPhase      string         `json:"currentPhase,omitempty"`
	Progress          Progress       `json:"progress"`
	EstimatedDuration string         `json:"estimatedDuration,omitempty"`
	StartedAt         time.Time      `json:"startedAt,omitempty"`
	FinishedAt        time.Time      `json:"finishedAt,omitempty"`
	UpdatedAt         time.Time      `json:"updatedAt"`
	Phases            []*PhaseRecord `json:"phases,omitempty"`
}

func (r *Run) view(withPhases bool) View {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := View{
		ID:          r.ID,
		LoopID:      r.Template.ID,
		LoopVersion: r.Template.Version,
		Project:     r.Project,
		Status:      r.status,
		StatusNote:  r.statusNote,
		StartedAt:   r.startedAt,
		FinishedAt:  r.finishedAt,
		UpdatedAt:   r.updatedAt,
	}
	if r.EstimatedDuration > 0 {
		v.EstimatedDuration = r.EstimatedDuration.String()
	}
	if !r.status.Terminal() && r.phaseIndex < len(r.phases) {
		v.CurrentPhase = string(r.phases[r.phaseIndex].Phase)
	}

	total := 0
	for _, ps := range r.Template.Phases {
		total += len(ps.Skills)
	}
	v.Progress = Progress{PhasesTotal: len(r.phases), SkillsTotal: total}
	for _, pr := range r.phases {
		if pr.Status == PhaseCompleted {
			v.Progress.PhasesCompleted++
		}
		for _, inv := range pr.Invocations {
			if inv.Status == InvocationSucceeded {
				v.Progress.SkillsCompleted++
			}
		}
	}

	if withPhases {
		v.Phases = make([]*PhaseRecord, len(r.phases))
		for i, pr := range r.phases {
			cp := *pr
			cp.Invocations = make([]*Invocation, len(pr.Invocations))
			for j, inv := range pr.Invocations {
				invCopy := *inv
				cp.Invocations[j] = &invCopy
			}
			v.Phases[i] = &cp
		}
	}
	return v
}

// Status returns the current lifecycle state.
func (r *Run) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Done is closed when the run loop exits.
func (r *Run) Done() <-chan struct{} {
	return r.done
}
