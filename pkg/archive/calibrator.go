// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"math"
	"time"
)

func durationNS(ns int64) time.Duration {
	return time.Duration(ns)
}

// Calibrator derives estimate corrections from archived runs. Only
// completed runs with both durations recorded contribute.
type Calibrator struct {
	store  Store
	window int
}

// DefaultCalibrationWindow is how many recent runs feed a multiplier.
const DefaultCalibrationWindow = 20

// NewCalibrator creates a calibrator over an archive. A window of zero
// or less uses the default.
func NewCalibrator(store Store, window int) *Calibrator {
	if window <= 0 {
		window = DefaultCalibrationWindow
	}
	return &Calibrator{store: store, window: window}
}

// Multiplier returns avg(actual/estimated) over the calibration window
// for a loop, and how many runs contributed. With no usable history the
// multiplier is 1.
func (c *Calibrator) Multiplier(ctx context.Context, loopID string) (float64, int, error) {
	records, err := c.usable(ctx, loopID)
	if err != nil {
		return 0, 0, err
	}
	if len(records) == 0 {
		return 1.0, 0, nil
	}
	sum := 0.0
	for _, r := range records {
		sum += float64(r.ActualDuration) / float64(r.EstimatedDuration)
	}
	return sum / float64(len(records)), len(records), nil
}

// Accuracy returns 1 minus the mean relative estimation error over the
// window, clamped at zero. An empty history reports zero accuracy.
func (c *Calibrator) Accuracy(ctx context.Context, loopID string) (float64, error) {
	records, err := c.usable(ctx, loopID)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	sum := 0.0
	for _, r := range records {
		sum += math.Abs(float64(r.ActualDuration)-float64(r.EstimatedDuration)) / float64(r.ActualDuration)
	}
	accuracy := 1 - sum/float64(len(records))
	if accuracy < 0 {
		return 0, nil
	}
	return accuracy, nil
}

// Estimate scales a template's raw estimate by the loop's multiplier.
func (c *Calibrator) Estimate(ctx context.Context, loopID string, raw time.Duration) (time.Duration, error) {
	multiplier, _, err := c.Multiplier(ctx, loopID)
	if err != nil {
		return 0, err
	}
	return time.Duration(float64(raw) * multiplier), nil
}

func (c *Calibrator) usable(ctx context.Context, loopID string) ([]Record, error) {
	records, err := c.store.List(ctx, Filter{
		LoopID: loopID,
		Status: "completed",
		Limit:  c.window,
	})
	if err != nil {
		return nil, err
	}
	out := records[:0]
	for _, r := range records {
		if r.EstimatedDuration > 0 && r.ActualDuration > 0 {
			out = append(out, r)
		}
	}
	return out, nil
}
