package core

import (
	"context"
	"testing"
)

func TestEnsureRunID(t *testing.T) {
	ctx := context.Background()
	ctx, id := EnsureRunID(ctx)
	if id == "" {
		t.Fatal("expected generated run id")
	}
	ctx2, id2 := EnsureRunID(ctx)
	if id2 != id {
		t.Fatalf("run id changed: %s != %s", id2, id)
	}
	if ctx2 != ctx {
		t.Fatal("context should be unchanged when id present")
	}
}

func TestInvocationID(t *testing.T) {
	ctx := WithInvocationID(context.Background(), "inv-1")
	id, ok := InvocationID(ctx)
	if !ok || id != "inv-1" {
		t.Fatalf("unexpected invocation id: %s %v", id, ok)
	}
	if _, ok := InvocationID(context.Background()); ok {
		t.Fatal("expected missing invocation id")
	}
}
