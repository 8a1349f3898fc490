// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"

	"github.com/loomworks/loom/pkg/catalog"
	"github.com/loomworks/loom/pkg/memory"
	"github.com/loomworks/loom/pkg/resilience"
)

// SkillRunner executes one skill invocation. The engine treats the
// execution as opaque: it reads via the scoped memory view and returns
// deliverable fields, which the engine records at run scope for gate
// evaluation.
//
// Returned errors carry recoverability through the errors package; only
// recoverable failures are retried.
type SkillRunner interface {
	Run(ctx context.Context, desc catalog.SkillDescriptor, mem *memory.View) (map[string]any, error)
}

// RunnerFunc adapts a function to the SkillRunner interface.
type RunnerFunc func(ctx context.Context, desc catalog.SkillDescriptor, mem *memory.View) (map[string]any, error)

// Run implements SkillRunner.
func (f RunnerFunc) Run(ctx context.Context, desc catalog.SkillDescriptor, mem *memory.View) (map[string]any, error) {
	return f(ctx, desc, mem)
}

// BreakerRunner guards a delegate runner with a circuit breaker, so a
// consistently failing executor sheds dispatches instead of burning
// retries against it.
type BreakerRunner struct {
	delegate SkillRunner
	breaker  *resilience.CircuitBreaker
}

// NewBreakerRunner wraps delegate with a breaker built from config.
func NewBreakerRunner(delegate SkillRunner, config resilience.CircuitBreakerConfig) *BreakerRunner {
	return &BreakerRunner{
		delegate: delegate,
		breaker:  resilience.NewCircuitBreaker(config),
	}
}

// Run implements SkillRunner.
func (b *BreakerRunner) Run(ctx context.Context, desc catalog.SkillDescriptor, mem *memory.View) (map[string]any, error) {
	var out map[string]any
	err := b.breaker.Call(ctx, func() error {
		var runErr error
		out, runErr = b.delegate.Run(ctx, desc, mem)
		return runErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
