// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package gate judges whether a phase's exit criteria are satisfied,
// either by evaluating a criteria expression over recorded deliverables
// or by waiting for an explicit human decision.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/loomworks/loom/pkg/errors"
)

// Kind distinguishes automatic and human gates.
type Kind string

const (
	KindAutomatic Kind = "automatic"
	KindHuman     Kind = "human"
)

// Outcome is the result of a gate evaluation.
type Outcome string

const (
	OutcomePass    Outcome = "PASS"
	OutcomeFail    Outcome = "FAIL"
	OutcomePending Outcome = "PENDING"
)

// Gate is one evaluable checkpoint instance at a phase boundary. The
// engine mints a fresh instance (new ID) for each evaluation attempt, so
// a blocked phase can be re-judged after remediation while every resolved
// instance stays immutable.
type Gate struct {
	ID       string
	RunID    string
	Phase    string
	Kind     Kind
	Criteria string
	Approver string
	Blocking bool
	Deadline time.Time // zero means no expiry
}

// Result is one immutably logged evaluation outcome.
type Result struct {
	GateID      string    `json:"gateId"`
	RunID       string    `json:"runId"`
	Phase       string    `json:"phase"`
	Kind        Kind      `json:"kind"`
	Outcome     Outcome   `json:"outcome"`
	Expired     bool      `json:"expired,omitempty"`
	Canceled    bool      `json:"canceled,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Rationale   string    `json:"rationale,omitempty"`
	Approver    string    `json:"approver,omitempty"`
	EvaluatedAt time.Time `json:"evaluatedAt"`
}

// Decision is an external operator verdict on a human gate instance.
type Decision struct {
	GateID    string    `json:"gateId"`
	Decision  Outcome   `json:"decision"` // PASS or FAIL
	Rationale string    `json:"rationale"`
	Approver  string    `json:"approver"`
	Timestamp time.Time `json:"timestamp"`
}

// Evaluator resolves gate instances and keeps the append-only result log.
type Evaluator struct {
	mu       sync.Mutex
	resolved map[string]Result
	pending  map[string]Gate
	log      []Result
	tracer   trace.Tracer
}

// NewEvaluator creates an empty evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		resolved: make(map[string]Result),
		pending:  make(map[string]Gate),
		tracer:   otel.Tracer("loom/gate"),
	}
}

// Evaluate judges a gate instance against the deliverable fields produced
// so far. A resolved instance returns its stored result unchanged. Human
// gates stay PENDING until a decision is recorded via Decide.
func (e *Evaluator) Evaluate(ctx context.Context, g Gate, fields map[string]any) Result {
	_, span := e.tracer.Start(ctx, "Gate.Evaluate", trace.WithAttributes(
		attribute.String("gate.id", g.ID),
		attribute.String("gate.kind", string(g.Kind)),
		attribute.String("run.id", g.RunID),
	))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	if res, ok := e.resolved[g.ID]; ok {
		return res
	}

	switch g.Kind {
	case KindHuman:
		e.pending[g.ID] = g
		res := Result{
			GateID:      g.ID,
			RunID:       g.RunID,
			Phase:       g.Phase,
			Kind:        g.Kind,
			Outcome:     OutcomePending,
			Reason:      "awaiting approval",
			EvaluatedAt: time.Now().UTC(),
		}
		e.log = append(e.log, res)
		return res
	default:
		res := e.evaluateAutomatic(g, fields)
		e.resolved[g.ID] = res
		e.log = append(e.log, res)
		span.SetAttributes(attribute.String("gate.outcome", string(res.Outcome)))
		return res
	}
}

func (e *Evaluator) evaluateAutomatic(g Gate, fields map[string]any) Result {
	res := Result{
		GateID:      g.ID,
		RunID:       g.RunID,
		Phase:       g.Phase,
		Kind:        g.Kind,
		EvaluatedAt: time.Now().UTC(),
	}
	criteria, err := ParseCriteria(g.Criteria)
	if err != nil {
		res.Outcome = OutcomeFail
		res.Reason = fmt.Sprintf("invalid criteria: %v", err)
		return res
	}
	if criteria.Evaluate(fields) {
		res.Outcome = OutcomePass
		res.Reason = fmt.Sprintf("criteria %q satisfied", g.Criteria)
	} else {
		res.Outcome = OutcomeFail
		res.Reason = fmt.Sprintf("criteria %q not satisfied", g.Criteria)
	}
	return res
}

// Decide records a human verdict on a pending gate instance. Replaying
// the same decision returns the stored result; a conflicting decision on
// a resolved instance is rejected, the stored result never changes.
func (e *Evaluator) Decide(d Decision) (Result, error) {
	if d.Decision != OutcomePass && d.Decision != OutcomeFail {
		return Result{}, errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("decision must be PASS or FAIL, got %q", d.Decision), nil)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if res, ok := e.resolved[d.GateID]; ok {
		if res.Canceled {
			return Result{}, errors.New(errors.CodeInvalidInput,
				"gate was canceled when its run terminated", nil).
				WithContext("gate_id", d.GateID)
		}
		if res.Outcome == d.Decision {
			return res, nil
		}
		return Result{}, errors.New(errors.CodeInvalidInput,
			"gate already resolved with a different outcome", nil).
			WithContext("gate_id", d.GateID).
			WithContext("resolved", string(res.Outcome))
	}

	g, ok := e.pending[d.GateID]
	if !ok {
		return Result{}, errors.New(errors.CodeNotFound,
			fmt.Sprintf("no pending gate %q", d.GateID), nil)
	}

	ts := d.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	res := Result{
		GateID:      g.ID,
		RunID:       g.RunID,
		Phase:       g.Phase,
		Kind:        g.Kind,
		Outcome:     d.Decision,
		Rationale:   d.Rationale,
		Approver:    d.Approver,
		EvaluatedAt: ts,
	}
	if res.Outcome == OutcomeFail {
		res.Reason = "rejected by approver"
	} else {
		res.Reason = "approved"
	}
	e.resolved[g.ID] = res
	delete(e.pending, g.ID)
	e.log = append(e.log, res)

	slog.Info("gate.decided",
		slog.String("gate_id", g.ID),
		slog.String("run_id", g.RunID),
		slog.String("outcome", string(res.Outcome)),
		slog.String("approver", d.Approver),
	)
	return res, nil
}

// Resolved returns the stored result for a gate instance, if any.
func (e *Evaluator) Resolved(gateID string) (Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	res, ok := e.resolved[gateID]
	return res, ok
}

// Pending returns a snapshot of gate instances awaiting a decision.
func (e *Evaluator) Pending() []Gate {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Gate, 0, len(e.pending))
	for _, g := range e.pending {
		out = append(out, g)
	}
	return out
}

// Expire fails every pending human gate whose deadline has passed,
// returning the expired results. Gates without a deadline never expire.
func (e *Evaluator) Expire(now time.Time) []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Result
	for id, g := range e.pending {
		if g.Deadline.IsZero() || now.Before(g.Deadline) {
			continue
		}
		res := Result{
			GateID:      g.ID,
			RunID:       g.RunID,
			Phase:       g.Phase,
			Kind:        g.Kind,
			Outcome:     OutcomeFail,
			Expired:     true,
			Reason:      "approval deadline expired",
			EvaluatedAt: now.UTC(),
		}
		e.resolved[id] = res
		delete(e.pending, id)
		e.log = append(e.log, res)
		out = append(out, res)
	}
	return out
}

// CancelRun voids every pending gate instance belonging to a run, so a
// terminal run leaves nothing awaiting a decision. Canceled instances
// reject later decisions instead of appending to the run's log.
func (e *Evaluator) CancelRun(runID string) []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Result
	for id, g := range e.pending {
		if g.RunID != runID {
			continue
		}
		res := Result{
			GateID:      g.ID,
			RunID:       g.RunID,
			Phase:       g.Phase,
			Kind:        g.Kind,
			Outcome:     OutcomeFail,
			Canceled:    true,
			Reason:      "run terminated before decision",
			EvaluatedAt: time.Now().UTC(),
		}
		e.resolved[id] = res
		delete(e.pending, id)
		e.log = append(e.log, res)
		out = append(out, res)
	}
	return out
}

// Log returns a copy of the append-only evaluation log, optionally
// filtered by run id.
func (e *Evaluator) Log(runID string) []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Result, 0, len(e.log))
	for _, res := range e.log {
		if runID == "" || res.RunID == runID {
			out = append(out, res)
		}
	}
	return out
}
