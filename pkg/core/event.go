package core

import (
	"context"
	"time"
)

// EventType identifies a semantic event emitted by the engine.
type EventType string

const (
	EventRunStarted     EventType = "run.started"
	EventRunCompleted   EventType = "run.completed"
	EventRunFailed      EventType = "run.failed"
	EventRunAborted     EventType = "run.aborted"
	EventRunPaused      EventType = "run.paused"
	EventRunResumed     EventType = "run.resumed"
	EventRunBlocked     EventType = "run.blocked"
	EventPhaseEntered   EventType = "phase.entered"
	EventPhaseExited    EventType = "phase.exited"
	EventSkillStarted   EventType = "skill.started"
	EventSkillSucceeded EventType = "skill.succeeded"
	EventSkillFailed    EventType = "skill.failed"
	EventGateEvaluated  EventType = "gate.evaluated"
	EventGateDecided    EventType = "gate.decided"
)

// Event captures a semantic streaming/logging event.
type Event struct {
	Type      EventType
	RunID     string
	Phase     string
	Timestamp time.Time
	Payload   map[string]any
}

// EventEmitter receives semantic events.
type EventEmitter interface {
	Emit(ctx context.Context, event Event)
}

// NoopEventEmitter is a default no-op implementation.
type NoopEventEmitter struct{}

// Emit implements EventEmitter.
func (NoopEventEmitter) Emit(_ context.Context, _ Event) {}

// NewEvent builds a default event with timestamp.
func NewEvent(eventType EventType, runID, phase string, payload map[string]any) Event {
	return Event{
		Type:      eventType,
		RunID:     runID,
		Phase:     phase,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}
