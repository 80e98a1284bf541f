// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
// Package loop drives a model through a run and emits hook events.
//
// The loop is deliberately small: it exists to exercise hooks outside a
// real training framework. Each run emits
//
//	on_start
//	  on_phase_start, on_step x StepsPerPhase, on_phase_end   (x Phases)
//	on_end
//
// and calls Step on the model before each on_step when the model supports
// it.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/trainhooks/services/trainer/hooks"
	"github.com/AleutianAI/trainhooks/services/trainer/program"
	"github.com/AleutianAI/trainhooks/services/trainer/telemetry"
)

// ErrNilModel is returned by Run without a model.
var ErrNilModel = errors.New("loop: nil model")

// Stepper is a model that can take an optimization step.
type Stepper interface {
	Step(lr float32)
}

// Config shapes a run.
type Config struct {
	Phases        int
	StepsPerPhase int
	LearningRate  float32
}

// Progress is the position of a run.
type Progress struct {
	Phase      int
	Step       int
	GlobalStep int
}

// Task is the hooks.Task a Runner hands to callbacks.
type Task struct {
	model program.Module

	mu       sync.RWMutex
	progress Progress
}

var _ hooks.Task = (*Task)(nil)

// NewTask wraps a model.
func NewTask(m program.Module) *Task {
	return &Task{model: m}
}

// BaseModel returns the model being trained.
func (t *Task) BaseModel() program.Module { return t.model }

// Progress returns the current position.
func (t *Task) Progress() Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.progress
}

func (t *Task) advance(p Progress) {
	t.mu.Lock()
	t.progress = p
	t.mu.Unlock()
}

// Runner emits events to a fixed list of hooks.
type Runner struct {
	cfg    Config
	hooks  []hooks.Hook
	logger *slog.Logger
}

// NewRunner creates a Runner. A nil logger means slog.Default().
func NewRunner(cfg Config, hs []hooks.Hook, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, hooks: hs, logger: logger.With(slog.String("component", "loop"))}
}

// Run drives m through one run.
//
// Description:
//
//	Emits the run events in order. The first hook error aborts the run
//	and is returned as is, so a failing on_start prevents any training and
//	on_end. Cancellation is checked between steps.
//
// Inputs:
//
//	ctx - Cancels the run between steps.
//	m - The live model.
//
// Outputs:
//
//	*Task - The task handed to hooks, with its final progress.
//	error - A *hooks.HookError, a context error, or ErrNilModel.
func (r *Runner) Run(ctx context.Context, m program.Module) (*Task, error) {
	if m == nil {
		return nil, ErrNilModel
	}
	ctx, span := telemetry.StartSpan(ctx, "trainer.loop", "Runner.Run",
		trace.WithAttributes(
			attribute.Int("phases", r.cfg.Phases),
			attribute.Int("steps_per_phase", r.cfg.StepsPerPhase),
			attribute.Int("hooks", len(r.hooks)),
		),
	)
	defer span.End()

	task := NewTask(m)
	if err := r.run(ctx, task); err != nil {
		telemetry.RecordError(span, err)
		return task, err
	}
	telemetry.SetSpanOK(span)
	return task, nil
}

func (r *Runner) run(ctx context.Context, task *Task) error {
	stepper, _ := task.model.(Stepper)

	r.logger.Info("run starting", slog.Int("phases", r.cfg.Phases), slog.Int("steps_per_phase", r.cfg.StepsPerPhase))
	if err := r.emit(ctx, hooks.EventRunStart, task); err != nil {
		return err
	}

	global := 0
	for phase := 0; phase < r.cfg.Phases; phase++ {
		task.advance(Progress{Phase: phase, GlobalStep: global})
		if err := r.emit(ctx, hooks.EventPhaseStart, task); err != nil {
			return err
		}
		for step := 0; step < r.cfg.StepsPerPhase; step++ {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("run canceled at phase %d step %d: %w", phase, step, err)
			}
			if stepper != nil {
				stepper.Step(r.cfg.LearningRate)
			}
			global++
			task.advance(Progress{Phase: phase, Step: step, GlobalStep: global})
			if err := r.emit(ctx, hooks.EventStep, task); err != nil {
				return err
			}
		}
		if err := r.emit(ctx, hooks.EventPhaseEnd, task); err != nil {
			return err
		}
		r.logger.Debug("phase done", slog.Int("phase", phase), slog.Int("global_step", global))
	}

	if err := r.emit(ctx, hooks.EventRunEnd, task); err != nil {
		return err
	}
	r.logger.Info("run finished", slog.Int("global_step", global))
	return nil
}

func (r *Runner) emit(ctx context.Context, ev hooks.Event, task *Task) error {
	return hooks.Dispatch(ctx, r.hooks, ev, task)
}
