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
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// Init Tests
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_METRICS_EXPORTER", "")
	cfg := DefaultConfig()

	if cfg.ServiceName != "trainhooks" {
		t.Errorf("ServiceName = %q, want %q", cfg.ServiceName, "trainhooks")
	}
	if cfg.TraceExporter != "none" {
		t.Errorf("TraceExporter = %q, want %q", cfg.TraceExporter, "none")
	}
	if cfg.MetricExporter != "none" {
		t.Errorf("MetricExporter = %q, want %q", cfg.MetricExporter, "none")
	}
	if cfg.SampleRate != 1.0 {
		t.Errorf("SampleRate = %v, want 1.0", cfg.SampleRate)
	}
}

func TestDefaultConfig_EnvOverride(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "stdout")
	t.Setenv("TRAINHOOKS_ENV", "production")
	cfg := DefaultConfig()

	if cfg.TraceExporter != "stdout" {
		t.Errorf("TraceExporter = %q, want %q", cfg.TraceExporter, "stdout")
	}
	if cfg.Environment != "production" {
		t.Errorf("Environment = %q, want %q", cfg.Environment, "production")
	}
}

func TestInit_NilContext(t *testing.T) {
	_, err := Init(nil, DefaultConfig())
	if !errors.Is(err, ErrNilContext) {
		t.Errorf("Init(nil, cfg) error = %v, want %v", err, ErrNilContext)
	}
}

func TestInit_NoopExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "none"

	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}

func TestInit_StdoutExporters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "stdout"
	cfg.MetricExporter = "stdout"

	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer shutdown(context.Background())

	_, span := otel.Tracer("test").Start(context.Background(), "test-span")
	defer span.End()
	if !span.SpanContext().IsSampled() {
		t.Error("expected span to be sampled with rate 1.0")
	}
}

func TestInit_OTLPExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "otlp"
	cfg.OTLPEndpoint = "127.0.0.1:4317"
	cfg.OTLPInsecure = true

	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = shutdown(ctx)
}

func TestInit_UnknownExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "carrier-pigeon"

	_, err := Init(context.Background(), cfg)
	if !errors.Is(err, ErrUnknownExporter) {
		t.Fatalf("Init() error = %v, want %v", err, ErrUnknownExporter)
	}

	cfg = DefaultConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "carrier-pigeon"
	_, err = Init(context.Background(), cfg)
	if !errors.Is(err, ErrUnknownExporter) {
		t.Fatalf("Init() error = %v, want %v", err, ErrUnknownExporter)
	}
}

func TestInit_AllowDegraded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "carrier-pigeon"
	cfg.MetricExporter = "none"
	cfg.AllowDegraded = true

	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}

func TestInit_PropagatorIsSet(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "none"

	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer shutdown(context.Background())

	fields := otel.GetTextMapPropagator().Fields()
	found := false
	for _, f := range fields {
		if f == "traceparent" {
			found = true
		}
	}
	if !found {
		t.Errorf("propagator fields = %v, want traceparent", fields)
	}
}

func TestGetSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1.0, "AlwaysOnSampler"},
		{1.5, "AlwaysOnSampler"},
		{0.0, "AlwaysOffSampler"},
		{-0.5, "AlwaysOffSampler"},
		{0.25, "TraceIDRatioBased"},
	}
	for _, tt := range tests {
		got := getSampler(tt.rate).Description()
		if !strings.HasPrefix(got, tt.want) {
			t.Errorf("getSampler(%v) = %q, want prefix %q", tt.rate, got, tt.want)
		}
	}
}

func TestMetricsHandler_Prometheus(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "prometheus"

	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer shutdown(context.Background())

	metrics, err := NewMetrics(otel.Meter("test_handler"))
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	metrics.RecordExport(context.Background(), "trace", StatusOK, time.Second, 2048)

	handler := MetricsHandler()
	if handler == nil {
		t.Fatal("MetricsHandler() returned nil")
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	resp := rec.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if !strings.Contains(string(body), "trainhooks_exports_total") {
		t.Errorf("output missing trainhooks_exports_total")
	}
}

// =============================================================================
// Metrics Tests
// =============================================================================

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumInt64(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s: data is %T, want Sum[int64]", m.Name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetrics_Record(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	metrics, err := NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	ctx := context.Background()
	metrics.RecordExport(ctx, "trace", StatusOK, 50*time.Millisecond, 4096)
	metrics.RecordExport(ctx, "trace", StatusSkipped, 0, 0)
	metrics.RecordExport(ctx, "script", StatusError, 10*time.Millisecond, 0)
	metrics.RecordStartCheck(ctx, StatusOK)
	metrics.RecordStartCheck(ctx, StatusMissing)

	got := collect(t, reader)

	if n := sumInt64(t, got["trainhooks_exports_total"]); n != 3 {
		t.Errorf("exports_total = %d, want 3", n)
	}
	if n := sumInt64(t, got["trainhooks_start_checks_total"]); n != 2 {
		t.Errorf("start_checks_total = %d, want 2", n)
	}

	dur, ok := got["trainhooks_export_duration_seconds"].Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("export_duration_seconds missing")
	}
	var durCount uint64
	for _, dp := range dur.DataPoints {
		durCount += dp.Count
	}
	if durCount != 2 {
		t.Errorf("export_duration count = %d, want 2 (skips are not timed)", durCount)
	}

	size, ok := got["trainhooks_export_bytes"].Data.(metricdata.Histogram[int64])
	if !ok {
		t.Fatal("export_bytes missing")
	}
	if len(size.DataPoints) != 1 || size.DataPoints[0].Sum != 4096 {
		t.Errorf("export_bytes = %+v, want one point summing 4096", size.DataPoints)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordExport(context.Background(), "trace", StatusOK, time.Second, 1)
	m.RecordStartCheck(context.Background(), StatusOK)
}

// =============================================================================
// Tracing Tests
// =============================================================================

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func TestSpanHelpers(t *testing.T) {
	sr := withRecorder(t)

	ctx, span := StartSpan(context.Background(), "test", "Op.Fail")
	if TraceID(ctx) == "" {
		t.Error("TraceID() is empty inside a span")
	}
	AddSpanEvent(span, "checkpoint")
	RecordError(span, errors.New("boom"))
	span.End()

	_, span = StartSpan(context.Background(), "test", "Op.Ok")
	SetSpanOK(span)
	span.End()

	ended := sr.Ended()
	if len(ended) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(ended))
	}
	if ended[0].Status().Code != codes.Error || ended[0].Status().Description != "boom" {
		t.Errorf("failed span status = %+v", ended[0].Status())
	}
	if len(ended[0].Events()) != 2 {
		t.Errorf("failed span events = %d, want checkpoint + exception", len(ended[0].Events()))
	}
	if ended[1].Status().Code != codes.Ok {
		t.Errorf("ok span status = %+v", ended[1].Status())
	}
}

func TestSpanHelpers_NilSafe(t *testing.T) {
	RecordError(nil, errors.New("boom"))
	SetSpanOK(nil)
	AddSpanEvent(nil, "x")
	if TraceID(context.Background()) != "" {
		t.Error("TraceID() without span should be empty")
	}
}

func TestLoggerWithTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	LoggerWithTrace(context.Background(), logger).Info("plain")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("output should not contain trace_id without a span: %s", buf.String())
	}
	buf.Reset()

	traceID := trace.TraceID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     trace.SpanID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

	LoggerWithTrace(ctx, logger).Info("traced")
	if !strings.Contains(buf.String(), traceID.String()) {
		t.Errorf("output should contain trace ID: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "span_id") {
		t.Errorf("output should contain span_id: %s", buf.String())
	}

	if LoggerWithTrace(ctx, nil) == nil {
		t.Error("LoggerWithTrace(ctx, nil) returned nil")
	}
}
