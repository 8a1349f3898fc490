package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	cause := stderrors.New("boom")
	err := New(CodeSkillFailure, "skill champion-scoring failed", cause)
	msg := err.Error()
	if !strings.Contains(msg, string(CodeSkillFailure)) {
		t.Fatalf("missing code in %q", msg)
	}
	if !strings.Contains(msg, "boom") {
		t.Fatalf("missing cause in %q", msg)
	}
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("root")
	err := New(CodeParse, "bad frontmatter", cause)
	if !stderrors.Is(err, cause) {
		t.Fatal("expected errors.Is to reach the cause")
	}
}

func TestChaining(t *testing.T) {
	err := New(CodeGateRejected, "gate denied", nil).
		WithContext("gate_id", "g-1").
		WithAttribute("run.id", "r-1").
		WithRecoverable(true)
	if err.Context["gate_id"] != "g-1" {
		t.Fatalf("context not set: %v", err.Context)
	}
	if err.Attributes["run.id"] != "r-1" {
		t.Fatalf("attribute not set: %v", err.Attributes)
	}
	if !err.Recoverable {
		t.Fatal("expected recoverable")
	}
	if err.RecoverableString() != "true" {
		t.Fatalf("unexpected recoverable string")
	}
}

func TestHasCode(t *testing.T) {
	err := New(CodeCycle, "cycle detected", nil)
	if !HasCode(err, CodeCycle) {
		t.Fatal("expected code match")
	}
	if HasCode(err, CodeParse) {
		t.Fatal("unexpected code match")
	}
	if HasCode(stderrors.New("plain"), CodeCycle) {
		t.Fatal("plain error should not match")
	}
}

func TestAsLoomError(t *testing.T) {
	le := New(CodeNotFound, "missing", nil)
	if AsLoomError(le) != le {
		t.Fatal("expected identity for LoomError")
	}
	wrapped := AsLoomError(stderrors.New("raw"))
	if wrapped.Code != CodeInternal {
		t.Fatalf("expected internal wrap, got %s", wrapped.Code)
	}
	if AsLoomError(nil) != nil {
		t.Fatal("nil should stay nil")
	}
}
