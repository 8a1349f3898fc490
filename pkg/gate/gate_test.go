package gate

import (
	"context"
	"testing"
	"time"

	"github.com/loomworks/loom/pkg/errors"
)

func autoGate(id string) Gate {
	return Gate{
		ID:       id,
		RunID:    "run-1",
		Phase:    "assess",
		Kind:     KindAutomatic,
		Criteria: "championStrength > 30",
		Blocking: true,
	}
}

func humanGate(id string) Gate {
	return Gate{
		ID:       id,
		RunID:    "run-1",
		Phase:    "review",
		Kind:     KindHuman,
		Approver: "lead",
		Blocking: true,
	}
}

func TestAutomaticGatePassFail(t *testing.T) {
	e := NewEvaluator()

	res := e.Evaluate(context.Background(), autoGate("g-pass"), map[string]any{"championStrength": 80})
	if res.Outcome != OutcomePass {
		t.Fatalf("expected PASS, got %s (%s)", res.Outcome, res.Reason)
	}

	res = e.Evaluate(context.Background(), autoGate("g-fail"), map[string]any{"championStrength": 10})
	if res.Outcome != OutcomeFail {
		t.Fatalf("expected FAIL, got %s", res.Outcome)
	}
}

func TestResolvedGateIsImmutable(t *testing.T) {
	e := NewEvaluator()
	first := e.Evaluate(context.Background(), autoGate("g-1"), map[string]any{"championStrength": 10})
	if first.Outcome != OutcomeFail {
		t.Fatalf("expected FAIL, got %s", first.Outcome)
	}

	// Same instance, better deliverables: the stored result wins.
	again := e.Evaluate(context.Background(), autoGate("g-1"), map[string]any{"championStrength": 99})
	if again.Outcome != OutcomeFail || !again.EvaluatedAt.Equal(first.EvaluatedAt) {
		t.Fatalf("resolved result changed: %+v vs %+v", again, first)
	}
}

func TestHumanGatePendingThenDecision(t *testing.T) {
	e := NewEvaluator()
	res := e.Evaluate(context.Background(), humanGate("g-h"), nil)
	if res.Outcome != OutcomePending {
		t.Fatalf("expected PENDING, got %s", res.Outcome)
	}

	decided, err := e.Decide(Decision{
		GateID:    "g-h",
		Decision:  OutcomePass,
		Rationale: "looks good",
		Approver:  "lead",
	})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decided.Outcome != OutcomePass || decided.Approver != "lead" {
		t.Fatalf("unexpected result: %+v", decided)
	}

	// Re-evaluation returns the stored result without a fresh approval.
	again := e.Evaluate(context.Background(), humanGate("g-h"), nil)
	if again.Outcome != OutcomePass {
		t.Fatalf("expected stored PASS, got %s", again.Outcome)
	}
}

func TestDecisionIdempotentAgainstReplay(t *testing.T) {
	e := NewEvaluator()
	e.Evaluate(context.Background(), humanGate("g-h"), nil)

	d := Decision{GateID: "g-h", Decision: OutcomeFail, Rationale: "not ready", Approver: "lead"}
	first, err := e.Decide(d)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	replay, err := e.Decide(d)
	if err != nil {
		t.Fatalf("replay should be accepted: %v", err)
	}
	if replay.EvaluatedAt != first.EvaluatedAt || replay.Outcome != first.Outcome {
		t.Fatalf("replay produced a different result: %+v vs %+v", replay, first)
	}

	// A conflicting decision is rejected, the stored result stands.
	if _, err := e.Decide(Decision{GateID: "g-h", Decision: OutcomePass, Approver: "lead"}); err == nil {
		t.Fatal("expected conflict rejection")
	}
	if res, _ := e.Resolved("g-h"); res.Outcome != OutcomeFail {
		t.Fatalf("stored result changed: %s", res.Outcome)
	}
}

func TestDecideUnknownGate(t *testing.T) {
	e := NewEvaluator()
	if _, err := e.Decide(Decision{GateID: "ghost", Decision: OutcomePass}); !errors.HasCode(err, errors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestInvalidCriteriaFailsNotCrashes(t *testing.T) {
	e := NewEvaluator()
	g := autoGate("g-bad")
	g.Criteria = "completely ~ wrong"
	res := e.Evaluate(context.Background(), g, nil)
	if res.Outcome != OutcomeFail {
		t.Fatalf("expected FAIL for bad criteria, got %s", res.Outcome)
	}
}

func TestExpire(t *testing.T) {
	e := NewEvaluator()
	g := humanGate("g-exp")
	g.Deadline = time.Now().Add(-time.Minute)
	e.Evaluate(context.Background(), g, nil)

	forever := humanGate("g-forever")
	e.Evaluate(context.Background(), forever, nil)

	expired := e.Expire(time.Now())
	if len(expired) != 1 || expired[0].GateID != "g-exp" {
		t.Fatalf("unexpected expiry set: %+v", expired)
	}
	if res, ok := e.Resolved("g-exp"); !ok || res.Outcome != OutcomeFail {
		t.Fatalf("expired gate should be resolved FAIL: %+v", res)
	}
	if _, ok := e.Resolved("g-forever"); ok {
		t.Fatal("gate without deadline must not expire")
	}
}

func TestLogIsAppendOnly(t *testing.T) {
	e := NewEvaluator()
	e.Evaluate(context.Background(), autoGate("g-1"), map[string]any{"championStrength": 80})
	e.Evaluate(context.Background(), humanGate("g-2"), nil)
	if _, err := e.Decide(Decision{GateID: "g-2", Decision: OutcomePass, Approver: "lead"}); err != nil {
		t.Fatalf("decide: %v", err)
	}

	log := e.Log("run-1")
	if len(log) != 3 {
		t.Fatalf("expected 3 log entries (pass, pending, decided), got %d", len(log))
	}
	if log[1].Outcome != OutcomePending || log[2].Outcome != OutcomePass {
		t.Fatalf("unexpected log sequence: %+v", log)
	}
}

func TestCancelRunVoidsPending(t *testing.T) {
	e := NewEvaluator()
	e.Evaluate(context.Background(), humanGate("g-dead"), nil)

	other := humanGate("g-live")
	other.RunID = "run-2"
	e.Evaluate(context.Background(), other, nil)

	canceled := e.CancelRun("run-1")
	if len(canceled) != 1 || canceled[0].GateID != "g-dead" || !canceled[0].Canceled {
		t.Fatalf("unexpected cancel set: %+v", canceled)
	}

	// Only the dead run's instance is voided.
	pending := e.Pending()
	if len(pending) != 1 || pending[0].ID != "g-live" {
		t.Fatalf("unexpected pending set: %+v", pending)
	}

	// A decision on the voided instance is rejected either way.
	if _, err := e.Decide(Decision{GateID: "g-dead", Decision: OutcomePass, Approver: "lead"}); !errors.HasCode(err, errors.CodeInvalidInput) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if _, err := e.Decide(Decision{GateID: "g-dead", Decision: OutcomeFail, Approver: "lead"}); !errors.HasCode(err, errors.CodeInvalidInput) {
		t.Fatalf("expected rejection, got %v", err)
	}

	log := e.Log("run-1")
	if last := log[len(log)-1]; !last.Canceled || last.Outcome != OutcomeFail {
		t.Fatalf("expected canceled FAIL tail entry, got %+v", last)
	}
}
