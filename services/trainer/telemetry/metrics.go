// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Outcome labels shared by the export metrics.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusSkipped = "skipped"
	StatusMissing = "missing"
)

// Metrics contains the instruments recorded by export hooks.
//
// Description:
//
//	All metrics use the "trainhooks_" prefix. The Record methods are safe
//	to call on a nil *Metrics, which records nothing, so hooks built
//	without telemetry need no branches.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// ExportsTotal counts run-end exports by strategy and status.
	ExportsTotal metric.Int64Counter

	// ExportDuration records export duration in seconds, from program
	// extraction to the closed artifact.
	ExportDuration metric.Float64Histogram

	// ExportBytes records the size of each written artifact.
	ExportBytes metric.Int64Histogram

	// StartChecksTotal counts run-start directory checks by status.
	StartChecksTotal metric.Int64Counter
}

// NewMetrics registers every instrument with meter.
//
// Example:
//
//	metrics, err := telemetry.NewMetrics(otel.Meter("trainer.hooks"))
//	if err != nil {
//	    return fmt.Errorf("create metrics: %w", err)
//	}
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.ExportsTotal, err = meter.Int64Counter(
		"trainhooks_exports_total",
		metric.WithDescription("Total program exports"),
		metric.WithUnit("{export}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create exports_total: %w", err)
	}

	m.ExportDuration, err = meter.Float64Histogram(
		"trainhooks_export_duration_seconds",
		metric.WithDescription("Program export duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300),
	)
	if err != nil {
		return nil, fmt.Errorf("create export_duration: %w", err)
	}

	m.ExportBytes, err = meter.Int64Histogram(
		"trainhooks_export_bytes",
		metric.WithDescription("Size of written program artifacts"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(1<<10, 1<<15, 1<<20, 1<<25, 1<<30),
	)
	if err != nil {
		return nil, fmt.Errorf("create export_bytes: %w", err)
	}

	m.StartChecksTotal, err = meter.Int64Counter(
		"trainhooks_start_checks_total",
		metric.WithDescription("Run-start output directory checks"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create start_checks_total: %w", err)
	}

	return m, nil
}

// RecordExport records one export attempt. size is ignored unless status
// is StatusOK.
func (m *Metrics) RecordExport(ctx context.Context, strategy, status string, elapsed time.Duration, size int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("strategy", strategy),
		attribute.String("status", status),
	)
	m.ExportsTotal.Add(ctx, 1, attrs)
	if status == StatusSkipped {
		return
	}
	m.ExportDuration.Record(ctx, elapsed.Seconds(), attrs)
	if status == StatusOK {
		m.ExportBytes.Record(ctx, size, metric.WithAttributes(attribute.String("strategy", strategy)))
	}
}

// RecordStartCheck records one run-start directory check.
func (m *Metrics) RecordStartCheck(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.StartChecksTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
