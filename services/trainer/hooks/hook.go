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
	"fmt"

	"github.com/AleutianAI/trainhooks/services/trainer/program"
)

// Event is a point in the training run at which hooks are called.
type Event int

const (
	EventRunStart Event = iota
	EventPhaseStart
	EventStep
	EventPhaseEnd
	EventRunEnd
)

// Events lists every event in the order a run emits them first.
var Events = []Event{EventRunStart, EventPhaseStart, EventStep, EventPhaseEnd, EventRunEnd}

func (e Event) String() string {
	switch e {
	case EventRunStart:
		return "on_start"
	case EventPhaseStart:
		return "on_phase_start"
	case EventStep:
		return "on_step"
	case EventPhaseEnd:
		return "on_phase_end"
	case EventRunEnd:
		return "on_end"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// Task is the view of the running task a hook receives.
type Task interface {
	// BaseModel returns the live model being trained or evaluated.
	BaseModel() program.Module
}

// Callback handles one event.
type Callback func(ctx context.Context, task Task) error

// Noop is the callback for events a hook deliberately ignores.
func Noop(context.Context, Task) error { return nil }

// Callbacks maps every event a hook handles to its callback.
type Callbacks map[Event]Callback

// Missing returns the events with no callback, in Events order.
func (c Callbacks) Missing() []Event {
	var out []Event
	for _, e := range Events {
		if c[e] == nil {
			out = append(out, e)
		}
	}
	return out
}

// Hook is a named set of lifecycle callbacks.
type Hook interface {
	Name() string
	Callbacks() Callbacks
}

// Dispatch invokes the callback for ev on every hook, in order.
//
// Description:
//
//	A hook with no callback for ev is skipped. The first failing callback
//	stops the dispatch; its error is returned inside a *HookError, so
//	errors.Is and errors.As still reach the original error.
//
// Inputs:
//
//	ctx - Passed to each callback.
//	hooks - Hooks in registration order.
//	ev - The event being emitted.
//	task - The running task.
//
// Outputs:
//
//	error - nil, or a *HookError.
func Dispatch(ctx context.Context, hooks []Hook, ev Event, task Task) error {
	for _, h := range hooks {
		cb := h.Callbacks()[ev]
		if cb == nil {
			continue
		}
		if err := cb(ctx, task); err != nil {
			return &HookError{Hook: h.Name(), Event: ev, Err: err}
		}
	}
	return nil
}
