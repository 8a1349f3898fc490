// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/loomworks/loom/pkg/archive"
	"github.com/loomworks/loom/pkg/catalog"
	"github.com/loomworks/loom/pkg/core"
	"github.com/loomworks/loom/pkg/errors"
	"github.com/loomworks/loom/pkg/gate"
	"github.com/loomworks/loom/pkg/loop"
	"github.com/loomworks/loom/pkg/memory"
	"github.com/loomworks/loom/pkg/resilience"
)

// Options configures an engine. Runner is required; everything else has
// a working default.
type Options struct {
	Runner SkillRunner
	// Registry, when set, supplies each new run a fresh catalog
	// snapshot; reloads only affect runs started afterwards.
	Registry     *catalog.Registry
	Memory       *memory.Store
	Archive      archive.Store
	Calibrator   *archive.Calibrator
	Emitter      core.EventEmitter
	Retry        resilience.RetryConfig
	SkillTimeout time.Duration
	GateTimeout  time.Duration // human gate deadline, 0 disables expiry
}

// Engine owns the runs of one process. Each run executes on its own
// goroutine; operator calls (Pause, Resume, Abort, Approve) signal the
// run loop through its condition variable.
type Engine struct {
	mu   sync.RWMutex
	runs map[string]*Run

	catalog  *catalog.Catalog
	registry *catalog.Registry
	loops    *loop.Store
	gates    *gate.Evaluator
	memory   *memory.Store
	archive  archive.Store
	calib    *archive.Calibrator
	runner   SkillRunner
	emitter  core.EventEmitter

	retry        resilience.RetryConfig
	skillTimeout time.Duration
	gateTimeout  time.Duration

	tracer trace.Tracer

	sweepCancel func()
	sweepDone   chan struct{}
}

// New creates an engine over a catalog snapshot and a template store.
func New(cat *catalog.Catalog, loops *loop.Store, opts Options) (*Engine, error) {
	if cat == nil || loops == nil {
		return nil, errors.New(errors.CodeInvalidInput, "catalog and loop store are required", nil)
	}
	if opts.Runner == nil {
		return nil, errors.New(errors.CodeInvalidInput, "skill runner is required", nil)
	}
	mem := opts.Memory
	if mem == nil {
		mem = memory.New(memory.NewInMemoryProcessStore(), false)
	}
	arch := opts.Archive
	if arch == nil {
		arch = archive.NewInMemoryStore()
	}
	emitter := opts.Emitter
	if emitter == nil {
		emitter = core.NoopEventEmitter{}
	}
	retry := opts.Retry
	if retry.MaxAttempts == 0 {
		retry = resilience.DefaultRetryConfig()
	}
	return &Engine{
		runs:         make(map[string]*Run),
		catalog:      cat,
		registry:     opts.Registry,
		loops:        loops,
		gates:        gate.NewEvaluator(),
		memory:       mem,
		archive:      arch,
		calib:        opts.Calibrator,
		runner:       opts.Runner,
		emitter:      emitter,
		retry:        retry,
		skillTimeout: opts.SkillTimeout,
		gateTimeout:  opts.GateTimeout,
		tracer:       otel.Tracer("loom/engine"),
	}, nil
}

// Memory exposes the backing memory store.
func (e *Engine) Memory() *memory.Store { return e.memory }

// RunMemory returns an engine-level memory view bound to a run, for
// operator remediation before resuming a blocked run.
func (e *Engine) RunMemory(runID string) *memory.View {
	return e.memory.View(runID, "", "operator")
}

// StartRequest names the loop to run and the project it runs for.
type StartRequest struct {
	LoopID      string `json:"loopId"`
	LoopVersion string `json:"loopVersion,omitempty"`
	Project     string `json:"project,omitempty"`
}

// Start creates a run of the requested loop template and launches its
// run loop. The returned view reflects the run at creation time.
func (e *Engine) Start(ctx context.Context, req StartRequest) (View, error) {
	tpl, err := e.loops.Get(req.LoopID, req.LoopVersion)
	if err != nil {
		return View{}, err
	}

	estimated := tpl.EstimatedDuration.Std()
	if e.calib != nil && estimated > 0 {
		if calibrated, err := e.calib.Estimate(ctx, tpl.ID, estimated); err == nil {
			estimated = calibrated
		}
	}

	cat := e.catalog
	if e.registry != nil {
		if snapshot := e.registry.Snapshot(); snapshot != nil {
			cat = snapshot
		}
	}
	// The template was bound at load time, but a reload since may have
	// dropped or retagged a required skill. Fail here rather than at
	// dispatch.
	if err := tpl.CheckCatalog(cat); err != nil {
		return View{}, err
	}

	runCtx, runID := core.EnsureRunID(context.Background())
	runCtx, cancel := context.WithCancel(runCtx)
	run := newRun(runID, tpl, cat, req.Project, estimated)
	run.cancel = cancel

	e.mu.Lock()
	e.runs[runID] = run
	e.mu.Unlock()

	slog.Info("engine.run.start",
		slog.String("run_id", runID),
		slog.String("loop", tpl.Key()),
		slog.String("project", req.Project),
	)
	go e.runLoop(runCtx, run)
	return run.view(false), nil
}

// Get returns a detailed snapshot of one run.
func (e *Engine) Get(runID string) (View, error) {
	run, err := e.run(runID)
	if err != nil {
		return View{}, err
	}
	return run.view(true), nil
}

// List returns summaries of every run, newest first.
func (e *Engine) List() []View {
	e.mu.RLock()
	runs := make([]*Run, 0, len(e.runs))
	for _, run := range e.runs {
		runs = append(runs, run)
	}
	e.mu.RUnlock()

	out := make([]View, 0, len(runs))
	for _, run := range runs {
		out = append(out, run.view(false))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Pause asks a run to stop dispatching new skills. Invocations already
// in flight run to completion; the run parks before the next wave.
func (e *Engine) Pause(runID string) error {
	run, err := e.run(runID)
	if err != nil {
		return err
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	if run.status.Terminal() {
		return errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("run %s is already %s", runID, run.status), nil)
	}
	run.pauseRequested = true
	run.cond.Broadcast()
	return nil
}

// Resume wakes a paused or blocked run. A blocked run re-dispatches its
// outstanding skills or re-evaluates its gate with a fresh instance.
func (e *Engine) Resume(runID string) error {
	run, err := e.run(runID)
	if err != nil {
		return err
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	if run.status.Terminal() {
		return errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("run %s is already %s", runID, run.status), nil)
	}
	run.pauseRequested = false
	run.resumeSeq++
	run.cond.Broadcast()
	return nil
}

// Abort cancels a run. In-flight invocations see their context
// canceled; the run finishes aborted.
func (e *Engine) Abort(runID string) error {
	run, err := e.run(runID)
	if err != nil {
		return err
	}
	run.mu.Lock()
	if run.status.Terminal() {
		run.mu.Unlock()
		return errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("run %s is already %s", runID, run.status), nil)
	}
	run.abortRequested = true
	run.cond.Broadcast()
	run.mu.Unlock()
	run.cancel()
	return nil
}

// Approve records a human verdict on a pending gate and wakes the run
// waiting on it. Replays of the same decision are idempotent.
func (e *Engine) Approve(d gate.Decision) (gate.Result, error) {
	res, err := e.gates.Decide(d)
	if err != nil {
		return gate.Result{}, err
	}
	if run, lookupErr := e.run(res.RunID); lookupErr == nil {
		run.mu.Lock()
		run.cond.Broadcast()
		run.mu.Unlock()
	}
	return res, nil
}

// PendingGates lists gate instances awaiting a human decision.
func (e *Engine) PendingGates() []gate.Gate {
	return e.gates.Pending()
}

// GateLog returns the append-only gate evaluation log for a run.
func (e *Engine) GateLog(runID string) []gate.Result {
	return e.gates.Log(runID)
}

// ExpireGates fails pending human gates whose deadline has passed and
// wakes the runs waiting on them.
func (e *Engine) ExpireGates(_ context.Context) (int, error) {
	expired := e.gates.Expire(time.Now())
	for _, res := range expired {
		if run, err := e.run(res.RunID); err == nil {
			run.mu.Lock()
			run.cond.Broadcast()
			run.mu.Unlock()
		}
	}
	return len(expired), nil
}

func (e *Engine) run(runID string) (*Run, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	run, ok := e.runs[runID]
	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			fmt.Sprintf("no run %q", runID), nil)
	}
	return run, nil
}

func (e *Engine) emit(ctx context.Context, event core.Event) {
	e.emitter.Emit(ctx, event)
}

// runLoop drives one run through its phase sequence to a terminal
// state.
func (e *Engine) runLoop(ctx context.Context, run *Run) {
	defer close(run.done)

	ctx, span := e.tracer.Start(ctx, "engine.run", trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.String("loop", run.Template.Key()),
	))
	defer span.End()

	run.mu.Lock()
	run.status = StatusActive
	run.startedAt = time.Now().UTC()
	run.updatedAt = run.startedAt
	run.mu.Unlock()
	e.emit(ctx, core.NewEvent(core.EventRunStarted, run.ID, "", map[string]any{
		"loop":    run.Template.Key(),
		"project": run.Project,
	}))

	for i := range run.Template.Phases {
		ps := run.Template.Phases[i]
		if !e.waitReady(ctx, run) {
			e.finish(ctx, run, StatusAborted, "aborted by operator")
			return
		}

		run.mu.Lock()
		run.phaseIndex = i
		run.phases[i].Status = PhaseActive
		run.phases[i].EnteredAt = time.Now().UTC()
		run.updatedAt = run.phases[i].EnteredAt
		run.mu.Unlock()
		e.emit(ctx, core.NewEvent(core.EventPhaseEntered, run.ID, string(ps.Phase), nil))

		if !e.executeSkills(ctx, run, i, ps) {
			e.finish(ctx, run, StatusAborted, "aborted by operator")
			return
		}

		verdict, reason := e.consultGate(ctx, run, ps)
		switch verdict {
		case gateAborted:
			e.finish(ctx, run, StatusAborted, "aborted by operator")
			return
		case gateFailed:
			e.finish(ctx, run, StatusFailed, reason)
			return
		}

		run.mu.Lock()
		run.phases[i].Status = PhaseCompleted
		run.phases[i].ExitedAt = time.Now().UTC()
		run.updatedAt = run.phases[i].ExitedAt
		run.mu.Unlock()
		e.emit(ctx, core.NewEvent(core.EventPhaseExited, run.ID, string(ps.Phase), nil))
	}

	e.finish(ctx, run, StatusCompleted, "")
}

// waitReady parks the run while a pause is requested and reports false
// once an abort is. On return the run is active.
func (e *Engine) waitReady(ctx context.Context, run *Run) bool {
	run.mu.Lock()
	for {
		if run.abortRequested {
			run.mu.Unlock()
			return false
		}
		if !run.pauseRequested {
			wasParked := run.status == StatusPaused || run.status == StatusBlocked
			run.status = StatusActive
			run.statusNote = ""
			run.updatedAt = time.Now().UTC()
			run.mu.Unlock()
			if wasParked {
				e.emit(ctx, core.NewEvent(core.EventRunResumed, run.ID, run.currentPhase(), nil))
			}
			return true
		}
		if run.status != StatusPaused {
			run.status = StatusPaused
			run.statusNote = "paused by operator"
			run.updatedAt = time.Now().UTC()
			run.mu.Unlock()
			e.emit(ctx, core.NewEvent(core.EventRunPaused, run.ID, run.currentPhase(), nil))
			run.mu.Lock()
			continue
		}
		run.cond.Wait()
	}
}

// waitResume marks the run blocked and parks it until an operator
// resumes or aborts.
func (e *Engine) waitResume(ctx context.Context, run *Run, note string) bool {
	run.mu.Lock()
	run.status = StatusBlocked
	run.statusNote = note
	run.updatedAt = time.Now().UTC()
	seq := run.resumeSeq
	run.mu.Unlock()
	e.emit(ctx, core.NewEvent(core.EventRunBlocked, run.ID, run.currentPhase(), map[string]any{
		"reason": note,
	}))

	run.mu.Lock()
	defer run.mu.Unlock()
	for run.resumeSeq == seq && !run.abortRequested {
		run.cond.Wait()
	}
	return !run.abortRequested
}

func (r *Run) currentPhase() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phaseIndex < len(r.phases) {
		return string(r.phases[r.phaseIndex].Phase)
	}
	return ""
}

// executeSkills dispatches a phase's skills in dependency waves until
// all have succeeded. Failures block the run; a resume re-dispatches
// only the outstanding skills. Returns false on abort.
func (e *Engine) executeSkills(ctx context.Context, run *Run, phaseIdx int, ps loop.PhaseSpec) bool {
	pending := append([]string(nil), ps.Skills...)
	invBySkill := make(map[string]*Invocation, len(ps.Skills))

	for len(pending) > 0 {
		if !e.waitReady(ctx, run) {
			return false
		}
		waves, err := run.catalog.ResolveWaves(pending)
		if err != nil {
			// Bind guarantees a sequenceable subgraph against the
			// snapshot the run is bound to.
			slog.Error("engine.phase.sequence",
				slog.String("run_id", run.ID),
				slog.String("phase", string(ps.Phase)),
				slog.String("error", err.Error()),
			)
			if !e.waitResume(ctx, run, err.Error()) {
				return false
			}
			continue
		}

		var (
			failedMu sync.Mutex
			failed   []string
		)
		for wi, wave := range waves {
			if !e.waitReady(ctx, run) {
				return false
			}
			var wg sync.WaitGroup
			for _, name := range wave {
				wg.Add(1)
				go func(name string) {
					defer wg.Done()
					if err := e.runInvocation(ctx, run, phaseIdx, ps.Phase, name, invBySkill); err != nil {
						failedMu.Lock()
						failed = append(failed, name)
						failedMu.Unlock()
					}
				}(name)
			}
			wg.Wait()

			if len(failed) > 0 {
				// Skip later waves; their members may depend on the
				// failed skills and stay outstanding for the retry.
				for _, rest := range waves[wi+1:] {
					failed = append(failed, rest...)
				}
				break
			}
		}

		if len(failed) == 0 {
			return true
		}
		note := fmt.Sprintf("phase %s blocked: %d skill(s) outstanding", ps.Phase, len(failed))
		if !e.waitResume(ctx, run, note) {
			return false
		}
		pending = failed
	}
	return true
}

// runInvocation executes one skill with retry and timeout, recording
// its deliverables at run scope on success.
func (e *Engine) runInvocation(ctx context.Context, run *Run, phaseIdx int, phase catalog.Phase, name string, invBySkill map[string]*Invocation) error {
	desc, err := run.catalog.Get(name, "")
	if err != nil {
		return err
	}

	run.mu.Lock()
	inv, ok := invBySkill[name]
	if !ok {
		inv = &Invocation{
			ID:        fmt.Sprintf("%s/%s/%s", run.ID, phase, name),
			RunID:     run.ID,
			Skill:     name,
			Version:   desc.Version,
			Phase:     phase,
			StartedAt: time.Now().UTC(),
		}
		invBySkill[name] = inv
		run.phases[phaseIdx].Invocations = append(run.phases[phaseIdx].Invocations, inv)
	}
	inv.Status = InvocationRunning
	inv.Error = ""
	run.mu.Unlock()

	ctx = core.WithInvocationID(ctx, inv.ID)
	ctx, span := e.tracer.Start(ctx, "engine.skill", trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.String("skill", desc.Key()),
		attribute.String("phase", string(phase)),
	))
	defer span.End()

	e.emit(ctx, core.NewEvent(core.EventSkillStarted, run.ID, string(phase), map[string]any{
		"skill":      desc.Key(),
		"invocation": inv.ID,
	}))

	view := e.memory.View(run.ID, inv.ID, name)
	var outputs map[string]any
	err = e.retry.Do(ctx, func() error {
		run.mu.Lock()
		inv.Attempts++
		run.mu.Unlock()
		return resilience.WithTimeout(ctx, e.skillTimeout, func(ctx context.Context) error {
			out, runErr := e.runner.Run(ctx, desc, view)
			if runErr != nil {
				return runErr
			}
			outputs = out
			return nil
		})
	})

	if err == nil {
		// Deliverables become run-scoped facts, visible to gates and to
		// later phases. A write failure fails the invocation like any
		// other skill error.
		runView := e.memory.View(run.ID, "", name)
		for key, value := range outputs {
			if writeErr := runView.Write(ctx, memory.TierRun, key, value,
				memory.WithWriter(name), memory.WithTags("deliverable")); writeErr != nil {
				err = writeErr
				break
			}
		}
	}

	now := time.Now().UTC()
	if err != nil {
		span.RecordError(err)
		run.mu.Lock()
		inv.Status = InvocationFailed
		inv.FinishedAt = now
		inv.Error = err.Error()
		run.updatedAt = now
		run.mu.Unlock()
		e.emit(ctx, core.NewEvent(core.EventSkillFailed, run.ID, string(phase), map[string]any{
			"skill":      desc.Key(),
			"invocation": inv.ID,
			"error":      err.Error(),
		}))
		slog.Warn("engine.skill.failed",
			slog.String("run_id", run.ID),
			slog.String("skill", desc.Key()),
			slog.Int("attempts", inv.Attempts),
			slog.String("error", err.Error()),
		)
		return err
	}

	// Invocation scratch space is discarded.
	e.memory.CloseInvocation(run.ID, inv.ID)

	run.mu.Lock()
	inv.Status = InvocationSucceeded
	inv.FinishedAt = now
	run.updatedAt = now
	run.mu.Unlock()
	e.emit(ctx, core.NewEvent(core.EventSkillSucceeded, run.ID, string(phase), map[string]any{
		"skill":      desc.Key(),
		"invocation": inv.ID,
	}))
	return nil
}

type gateVerdict int

const (
	gateAdvance gateVerdict = iota
	gateAborted
	gateFailed
)

// consultGate judges a phase's exit gate, minting a fresh instance per
// evaluation attempt. A blocking failure (automatic criteria miss or
// human rejection) parks the run until a resume triggers a fresh
// evaluation; only an expired approval deadline fails the run.
func (e *Engine) consultGate(ctx context.Context, run *Run, ps loop.PhaseSpec) (gateVerdict, string) {
	if ps.Gate == nil {
		return gateAdvance, ""
	}

	for {
		if !e.waitReady(ctx, run) {
			return gateAborted, ""
		}

		run.mu.Lock()
		run.gateSeq++
		gateID := fmt.Sprintf("%s/%s#%d", run.ID, ps.Phase, run.gateSeq)
		run.mu.Unlock()

		g := gate.Gate{
			ID:       gateID,
			RunID:    run.ID,
			Phase:    string(ps.Phase),
			Kind:     ps.Gate.Kind,
			Criteria: ps.Gate.Criteria,
			Approver: ps.Gate.Approver,
			Blocking: ps.Gate.Blocking(),
		}
		if g.Kind == gate.KindHuman && e.gateTimeout > 0 {
			g.Deadline = time.Now().Add(e.gateTimeout)
		}

		fields := e.memory.RunEntries(run.ID)
		res := e.gates.Evaluate(ctx, g, fields)
		e.emit(ctx, core.NewEvent(core.EventGateEvaluated, run.ID, string(ps.Phase), map[string]any{
			"gate":    gateID,
			"outcome": string(res.Outcome),
			"reason":  res.Reason,
		}))

		if res.Outcome == gate.OutcomePending {
			decided, ok := e.waitDecision(ctx, run, gateID, g.Approver)
			if !ok {
				return gateAborted, ""
			}
			res = decided
			e.emit(ctx, core.NewEvent(core.EventGateDecided, run.ID, string(ps.Phase), map[string]any{
				"gate":     gateID,
				"outcome":  string(res.Outcome),
				"approver": res.Approver,
			}))
		}

		switch res.Outcome {
		case gate.OutcomePass:
			return gateAdvance, ""
		case gate.OutcomeFail:
			if res.Expired {
				return gateFailed, fmt.Sprintf("gate %s: %s", gateID, res.Reason)
			}
			if !g.Blocking {
				slog.Warn("engine.gate.advisory_fail",
					slog.String("run_id", run.ID),
					slog.String("gate", gateID),
					slog.String("reason", res.Reason),
				)
				return gateAdvance, ""
			}
			if !e.waitResume(ctx, run, fmt.Sprintf("gate %s failed: %s", gateID, res.Reason)) {
				return gateAborted, ""
			}
			// Loop mints a fresh instance against the remediated state.
		}
	}
}

// waitDecision parks the run until a pending human gate is resolved or
// the run is aborted. A pause request surfaces as PAUSED while the
// decision stays outstanding and reverts to BLOCKED on resume.
func (e *Engine) waitDecision(ctx context.Context, run *Run, gateID, approver string) (gate.Result, bool) {
	blockedNote := fmt.Sprintf("awaiting approval on gate %s", gateID)
	run.mu.Lock()
	run.status = StatusBlocked
	run.statusNote = blockedNote
	run.updatedAt = time.Now().UTC()
	run.mu.Unlock()
	e.emit(ctx, core.NewEvent(core.EventRunBlocked, run.ID, run.currentPhase(), map[string]any{
		"gate":     gateID,
		"approver": approver,
	}))

	run.mu.Lock()
	defer run.mu.Unlock()
	for {
		if run.abortRequested {
			return gate.Result{}, false
		}
		if res, ok := e.gates.Resolved(gateID); ok {
			return res, true
		}
		if run.pauseRequested && run.status != StatusPaused {
			run.status = StatusPaused
			run.statusNote = "paused by operator"
			run.updatedAt = time.Now().UTC()
		} else if !run.pauseRequested && run.status != StatusBlocked {
			run.status = StatusBlocked
			run.statusNote = blockedNote
			run.updatedAt = time.Now().UTC()
		}
		run.cond.Wait()
	}
}

// finish transitions a run to a terminal state, archives it, and
// releases its memory tiers.
func (e *Engine) finish(ctx context.Context, run *Run, status Status, note string) {
	now := time.Now().UTC()
	run.mu.Lock()
	run.status = status
	run.statusNote = note
	run.finishedAt = now
	run.updatedAt = now
	run.cond.Broadcast()
	run.mu.Unlock()

	eventType := core.EventRunCompleted
	switch status {
	case StatusFailed:
		eventType = core.EventRunFailed
	case StatusAborted:
		eventType = core.EventRunAborted
	}
	payload := map[string]any{}
	if note != "" {
		payload["reason"] = note
	}
	e.emit(ctx, core.NewEvent(eventType, run.ID, "", payload))
	slog.Info("engine.run.finish",
		slog.String("run_id", run.ID),
		slog.String("status", string(status)),
		slog.String("note", note),
		slog.Duration("duration", now.Sub(run.startedAt)),
	)

	// A run blocked on a human gate may die with the instance still
	// pending; void it so the decision surface reflects only live runs.
	e.gates.CancelRun(run.ID)

	if err := e.archiveRun(context.WithoutCancel(ctx), run, status); err != nil {
		slog.Error("engine.run.archive",
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()),
		)
	}
	e.memory.ReleaseRun(run.ID)
}

func (e *Engine) archiveRun(ctx context.Context, run *Run, status Status) error {
	run.mu.Lock()
	record := archive.Record{
		RunID:             run.ID,
		LoopID:            run.Template.ID,
		LoopVersion:       run.Template.Version,
		Project:           run.Project,
		Status:            string(status),
		EstimatedDuration: run.EstimatedDuration,
		ActualDuration:    run.finishedAt.Sub(run.startedAt),
		StartedAt:         run.startedAt,
		FinishedAt:        run.finishedAt,
	}
	for _, pr := range run.phases {
		for _, inv := range pr.Invocations {
			record.Invocations = append(record.Invocations, archive.InvocationRecord{
				ID:         inv.ID,
				Skill:      inv.Skill,
				Phase:      string(inv.Phase),
				Status:     string(inv.Status),
				Attempts:   inv.Attempts,
				StartedAt:  inv.StartedAt,
				FinishedAt: inv.FinishedAt,
				Error:      inv.Error,
			})
		}
	}
	run.mu.Unlock()

	for _, res := range e.gates.Log(run.ID) {
		record.Gates = append(record.Gates, archive.GateRecord{
			GateID:      res.GateID,
			Phase:       res.Phase,
			Kind:        string(res.Kind),
			Outcome:     string(res.Outcome),
			Detail:      res.Reason,
			DecidedBy:   res.Approver,
			EvaluatedAt: res.EvaluatedAt,
		})
	}
	return e.archive.Save(ctx, record)
}
