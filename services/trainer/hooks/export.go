// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package hooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/trainhooks/services/trainer/distributed"
	"github.com/AleutianAI/trainhooks/services/trainer/ledger"
	"github.com/AleutianAI/trainhooks/services/trainer/program"
	"github.com/AleutianAI/trainhooks/services/trainer/program/jit"
	"github.com/AleutianAI/trainhooks/services/trainer/storage"
	"github.com/AleutianAI/trainhooks/services/trainer/telemetry"
)

const (
	// ExportHookName is the registry name of ExportHook.
	ExportHookName = "torchscript"

	// ArtifactName is the file name every export writes inside the folder.
	ArtifactName = "torchscript.pt"

	tracerName = "trainer.hooks"
)

// Tracer records the concrete execution of a module on one sample.
type Tracer interface {
	Trace(ctx context.Context, m program.Module, sample program.Value, strict bool) (program.Program, error)
}

// Scripter extracts a module's control flow symbolically.
type Scripter interface {
	Script(ctx context.Context, m program.Module) (program.Program, error)
}

// Serializer writes a program to a byte sink.
type Serializer interface {
	Save(p program.Program, w io.Writer) error
}

// Recorder keeps a history of written artifacts.
type Recorder interface {
	Append(ctx context.Context, rec ledger.Record) (ledger.Record, error)
}

// Dependencies are the collaborators a hook is built with. Every field is
// optional; see NewExportHook for the defaults.
type Dependencies struct {
	Rank       distributed.RankProvider
	Storage    storage.Backend
	Tracer     Tracer
	Scripter   Scripter
	Serializer Serializer
	Recorder   Recorder
	Metrics    *telemetry.Metrics
	Logger     *slog.Logger

	// RunID is copied into every ledger record.
	RunID string
}

// ExportHook saves the task's model as a portable program at the end of a
// run.
//
// Description:
//
//	On run start the designated writer checks that the folder exists and
//	fails the run with *MissingOutputDirectoryError when it does not. On
//	run end it traces or scripts the model with the model in eval mode and
//	gradients off, moves the program to the configured device and writes
//	it to {folder}/torchscript.pt, replacing any previous artifact. The
//	phase and step events are no-ops.
//
//	Errors from the tracer, scripter, serializer and storage backend are
//	returned as is. A model without an input shape cannot be traced; that
//	run end logs a warning, writes nothing and returns nil.
//
// Thread Safety: Stateless after construction. Each run end performs a
// fresh export.
type ExportHook struct {
	cfg        ExportConfig
	rank       distributed.RankProvider
	storage    storage.Backend
	tracer     Tracer
	scripter   Scripter
	serializer Serializer
	recorder   Recorder
	metrics    *telemetry.Metrics
	logger     *slog.Logger
	runID      string
}

var _ Hook = (*ExportHook)(nil)

// NewExportHook creates an ExportHook.
//
// Description:
//
//	Missing dependencies default to: a single-process rank, a PathManager
//	over the local filesystem, a jit.Compiler as tracer, scripter and
//	serializer, no ledger, no metrics and slog.Default().
//
// Inputs:
//
//	cfg - Export configuration. Folder must not be empty.
//	deps - Collaborators.
//
// Outputs:
//
//	*ExportHook - The hook.
//	error - Wraps ErrTypeConfiguration when cfg is invalid.
func NewExportHook(cfg ExportConfig, deps Dependencies) (*ExportHook, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &ExportHook{
		cfg:        cfg,
		rank:       deps.Rank,
		storage:    deps.Storage,
		tracer:     deps.Tracer,
		scripter:   deps.Scripter,
		serializer: deps.Serializer,
		recorder:   deps.Recorder,
		metrics:    deps.Metrics,
		logger:     logger.With(slog.String("hook", ExportHookName)),
		runID:      deps.RunID,
	}
	if h.rank == nil {
		h.rank = distributed.Single
	}
	if h.storage == nil {
		h.storage = storage.NewPathManager(storage.NewLocal())
	}
	if h.tracer == nil || h.scripter == nil || h.serializer == nil {
		c := jit.NewCompiler(logger)
		if h.tracer == nil {
			h.tracer = c
		}
		if h.scripter == nil {
			h.scripter = c
		}
		if h.serializer == nil {
			h.serializer = c
		}
	}
	return h, nil
}

// Name returns the registry name, "torchscript".
func (h *ExportHook) Name() string { return ExportHookName }

// Config returns the hook's configuration.
func (h *ExportHook) Config() ExportConfig { return h.cfg }

// ArtifactPath is where run end writes the program.
func (h *ExportHook) ArtifactPath() string {
	return storage.Join(h.cfg.Folder, ArtifactName)
}

// Callbacks maps run start and run end to the hook; the other events are
// no-ops.
func (h *ExportHook) Callbacks() Callbacks {
	return Callbacks{
		EventRunStart:   h.OnStart,
		EventPhaseStart: Noop,
		EventStep:       Noop,
		EventPhaseEnd:   Noop,
		EventRunEnd:     h.OnEnd,
	}
}

// OnStart verifies that the export folder exists on the designated writer.
func (h *ExportHook) OnStart(ctx context.Context, _ Task) error {
	if !h.rank.IsPrimary() {
		h.logger.Debug("not the designated writer, skipping folder check")
		return nil
	}

	ctx, span := telemetry.StartSpan(ctx, tracerName, "ExportHook.OnStart",
		trace.WithAttributes(attribute.String("folder", h.cfg.Folder)),
	)
	defer span.End()

	exists, err := h.storage.Exists(ctx, h.cfg.Folder)
	if err != nil {
		telemetry.RecordError(span, err)
		h.metrics.RecordStartCheck(ctx, telemetry.StatusError)
		return err
	}
	if !exists {
		err := &MissingOutputDirectoryError{Dir: h.cfg.Folder}
		telemetry.RecordError(span, err)
		h.metrics.RecordStartCheck(ctx, telemetry.StatusMissing)
		return err
	}

	h.metrics.RecordStartCheck(ctx, telemetry.StatusOK)
	telemetry.SetSpanOK(span)
	return nil
}

// OnEnd exports the task's model on the designated writer.
func (h *ExportHook) OnEnd(ctx context.Context, task Task) error {
	if !h.rank.IsPrimary() {
		h.logger.Debug("not the designated writer, skipping export")
		return nil
	}

	strategy := h.cfg.Strategy()
	ctx, span := telemetry.StartSpan(ctx, tracerName, "ExportHook.OnEnd",
		trace.WithAttributes(
			attribute.String("folder", h.cfg.Folder),
			attribute.String("strategy", strategy),
			attribute.String("device", h.cfg.Device),
		),
	)
	defer span.End()
	logger := telemetry.LoggerWithTrace(ctx, h.logger)

	start := time.Now()
	rec, written, err := h.save(ctx, logger, task.BaseModel())
	elapsed := time.Since(start)
	switch {
	case err != nil:
		telemetry.RecordError(span, err)
		h.metrics.RecordExport(ctx, strategy, telemetry.StatusError, elapsed, 0)
		return err
	case !written:
		telemetry.AddSpanEvent(span, "export skipped")
		h.metrics.RecordExport(ctx, strategy, telemetry.StatusSkipped, elapsed, 0)
		return nil
	}

	span.SetAttributes(
		attribute.String("path", rec.Path),
		attribute.Int64("bytes", rec.Bytes),
		attribute.String("sha256", rec.SHA256),
	)
	h.metrics.RecordExport(ctx, strategy, telemetry.StatusOK, elapsed, rec.Bytes)
	telemetry.SetSpanOK(span)

	if h.recorder != nil {
		rec.TraceID = telemetry.TraceID(ctx)
		if _, err := h.recorder.Append(ctx, rec); err != nil {
			logger.Warn("failed to record export", slog.String("path", rec.Path), slog.String("error", err.Error()))
		}
	}
	return nil
}

// save runs the configured strategy and writes the result. written is
// false when the trace precondition skipped the export.
func (h *ExportHook) save(ctx context.Context, logger *slog.Logger, m program.Module) (rec ledger.Record, written bool, err error) {
	var prog program.Program
	if h.cfg.UseTrace {
		prog, err = h.trace(ctx, logger, m)
	} else {
		prog, err = h.script(ctx, m)
	}
	if err != nil || prog == nil {
		return ledger.Record{}, false, err
	}

	logger.Info("saving torchscript", slog.String("folder", h.cfg.Folder))
	prog, err = prog.To(program.Device(h.cfg.Device))
	if err != nil {
		return ledger.Record{}, false, err
	}

	path := h.ArtifactPath()
	size, digest, err := h.write(ctx, path, prog)
	if err != nil {
		return ledger.Record{}, false, err
	}

	logger.Debug("torchscript saved",
		slog.String("path", path),
		slog.Int64("bytes", size),
		slog.String("sha256", digest))
	return ledger.Record{
		RunID:    h.runID,
		Path:     path,
		SHA256:   digest,
		Bytes:    size,
		Strategy: h.cfg.Strategy(),
		Strict:   h.cfg.UseTrace && h.cfg.TraceStrict,
		Device:   h.cfg.Device,
	}, true, nil
}

func (h *ExportHook) trace(ctx context.Context, logger *slog.Logger, m program.Module) (program.Program, error) {
	shape := program.InputShapeOf(m)
	if len(shape) == 0 {
		logger.Warn("model does not implement input shape, cannot save torchscript")
		return nil, nil
	}
	sample, err := program.DummyInput(m, shape, program.InputKeyOf(m))
	if err != nil {
		return nil, err
	}

	scope := program.EnterInference(m)
	defer scope.Restore()
	return h.tracer.Trace(ctx, m, sample, h.cfg.TraceStrict)
}

func (h *ExportHook) script(ctx context.Context, m program.Module) (program.Program, error) {
	scope := program.EnterInference(m)
	defer scope.Restore()
	return h.scripter.Script(ctx, m)
}

// write serializes p to path. The sink is closed on every path; a close
// error is returned when nothing failed before it. A sink that supports
// it is aborted first when serialization failed.
func (h *ExportHook) write(ctx context.Context, path string, p program.Program) (size int64, digest string, err error) {
	f, err := h.storage.Create(ctx, path)
	if err != nil {
		return 0, "", err
	}
	defer func() {
		if a, ok := f.(storage.Aborter); ok && err != nil {
			a.Abort()
		}
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	sum := sha256.New()
	cw := &countingWriter{w: io.MultiWriter(f, sum)}
	if err := h.serializer.Save(p, cw); err != nil {
		return 0, "", err
	}
	return cw.n, hex.EncodeToString(sum.Sum(nil)), nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
