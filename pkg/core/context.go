// Package core holds the shared primitives of the loom engine: context
// plumbing for run and invocation identity and the semantic event stream.
package core

import (
	"context"

	"github.com/google/uuid"
)

type runIDKey struct{}
type invocationIDKey struct{}

// WithRunID attaches a run id to the context.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunID returns the run id if present.
func RunID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey{}).(string)
	return id, ok
}

// EnsureRunID ensures a run id exists in the context.
func EnsureRunID(ctx context.Context) (context.Context, string) {
	if id, ok := RunID(ctx); ok {
		return ctx, id
	}
	id := newID("run")
	return WithRunID(ctx, id), id
}

// WithInvocationID attaches a skill invocation id to the context.
func WithInvocationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, invocationIDKey{}, id)
}

// InvocationID returns the invocation id if present.
func InvocationID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(invocationIDKey{}).(string)
	return id, ok
}

func newID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
