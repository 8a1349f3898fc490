// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// StartSweeper launches the background loop that expires overdue human
// gates on the given interval. An interval of zero disables it.
func (e *Engine) StartSweeper(interval time.Duration) {
	if interval <= 0 || e.gateTimeout <= 0 {
		slog.Info("engine.gate.sweeper.disabled",
			slog.Duration("interval", interval),
			slog.Duration("gate_timeout", e.gateTimeout),
		)
		return
	}
	if e.sweepCancel != nil {
		e.StopSweeper()
	}
	initSweepMetrics()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.sweepCancel = cancel
	e.sweepDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		slog.Info("engine.gate.sweeper.start", slog.Duration("interval", interval))
		for {
			select {
			case <-ctx.Done():
				slog.Info("engine.gate.sweeper.stop")
				return
			case <-ticker.C:
				start := time.Now()
				sweepCtx, span := e.tracer.Start(ctx, "engine.gate.sweep")
				expired, err := e.ExpireGates(sweepCtx)
				durationMs := float64(time.Since(start).Seconds() * 1000)
				sweepCounter.Add(ctx, 1)
				sweepLatencyMs.Record(ctx, durationMs)
				if err != nil {
					sweepErrorCounter.Add(ctx, 1)
					span.RecordError(err)
					slog.Warn("engine.gate.sweep.error",
						slog.Float64("duration_ms", durationMs),
						slog.String("error", err.Error()),
					)
					span.End()
					continue
				}
				if expired > 0 {
					expiredCounter.Add(ctx, int64(expired))
					slog.Info("engine.gate.sweep.expired",
						slog.Int("expired", expired),
						slog.Float64("duration_ms", durationMs),
					)
				}
				span.SetAttributes(attribute.Int("expired", expired))
				span.End()
			}
		}
	}()
}

// StopSweeper stops the background sweeper and waits for it to exit.
func (e *Engine) StopSweeper() {
	if e.sweepCancel == nil {
		return
	}
	e.sweepCancel()
	if e.sweepDone != nil {
		<-e.sweepDone
	}
	e.sweepCancel = nil
	e.sweepDone = nil
}

var (
	sweepMetricsOnce  sync.Once
	sweepCounter      metric.Int64Counter
	sweepErrorCounter metric.Int64Counter
	expiredCounter    metric.Int64Counter
	sweepLatencyMs    metric.Float64Histogram
)

func initSweepMetrics() {
	sweepMetricsOnce.Do(func() {
		meter := otel.Meter("loom/engine")
		sweepCounter, _ = meter.Int64Counter("loom.engine.gate.sweep.count")
		sweepErrorCounter, _ = meter.Int64Counter("loom.engine.gate.sweep.error.count")
		expiredCounter, _ = meter.Int64Counter("loom.engine.gate.expired.count")
		sweepLatencyMs, _ = meter.Float64Histogram("loom.engine.gate.sweep.latency_ms")
	})
}
