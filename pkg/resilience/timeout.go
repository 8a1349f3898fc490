// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"time"

	"github.com/loomworks/loom/pkg/errors"
)

// WithTimeout runs fn with a deadline. A zero timeout runs fn directly.
// The timeout error is recoverable so retry policies may re-attempt it.
func WithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return errors.New(errors.CodeTimeout, "operation timed out", ctx.Err()).
				WithContext("timeout", timeout.String()).
				WithRecoverable(true)
		}
		return errors.New(errors.CodeAborted, "operation canceled", ctx.Err())
	}
}
