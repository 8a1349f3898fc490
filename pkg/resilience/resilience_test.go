package resilience

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/loomworks/loom/pkg/errors"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	attempts := 0
	cfg := DefaultRetryConfig().
		WithMaxAttempts(3).
		WithInitialDelay(time.Millisecond).
		WithMaxDelay(5 * time.Millisecond)

	err := cfg.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return stderrors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	cfg := DefaultRetryConfig().
		WithMaxAttempts(2).
		WithInitialDelay(time.Millisecond)

	err := cfg.Do(context.Background(), func() error {
		attempts++
		return stderrors.New("always")
	})
	if err == nil {
		t.Fatal("expected error after exhaustion")
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryStopsOnUnrecoverable(t *testing.T) {
	attempts := 0
	cfg := DefaultRetryConfig().
		WithMaxAttempts(5).
		WithInitialDelay(time.Millisecond)

	fatal := errors.New(errors.CodeInvalidInput, "bad input", nil).WithRecoverable(false)
	err := cfg.Do(context.Background(), func() error {
		attempts++
		return fatal
	})
	if err != fatal {
		t.Fatalf("expected the fatal error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected single attempt, got %d", attempts)
	}
}

func TestRetryHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := DefaultRetryConfig().
		WithMaxAttempts(3).
		WithInitialDelay(50 * time.Millisecond)

	err := cfg.Do(ctx, func() error { return stderrors.New("transient") })
	if !errors.HasCode(err, errors.CodeAborted) {
		t.Fatalf("expected aborted, got %v", err)
	}
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if !errors.HasCode(err, errors.CodeTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}

	if err := WithTimeout(context.Background(), 0, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("zero timeout should run directly: %v", err)
	}
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          10 * time.Millisecond,
		Name:             "skill-runner",
	})

	fail := func() error { return stderrors.New("down") }
	ok := func() error { return nil }

	_ = cb.Call(context.Background(), fail)
	_ = cb.Call(context.Background(), fail)
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	err := cb.Call(context.Background(), ok)
	if !errors.HasCode(err, errors.CodeSkillFailure) {
		t.Fatalf("expected rejection while open, got %v", err)
	}

	time.Sleep(15 * time.Millisecond)
	if err := cb.Call(context.Background(), ok); err != nil {
		t.Fatalf("half-open probe should pass: %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after recovery, got %s", cb.State())
	}
}
