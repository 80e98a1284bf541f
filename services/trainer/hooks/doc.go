// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package hooks implements training-loop lifecycle hooks.
//
// A training loop calls each registered Hook at five points of a run:
// run start, phase start, every step, phase end and run end. A hook
// exposes its behavior as a Callbacks table keyed by Event, with Noop in
// the slots it does not use, and the loop invokes the table through
// Dispatch.
//
// ExportHook is the built-in hook registered as "torchscript". At run
// start it checks that its output folder exists; at run end it extracts
// a portable program from the task's model, by tracing or scripting,
// relocates it to the configured device and writes it to
// "{folder}/torchscript.pt":
//
//	reg := hooks.DefaultRegistry()
//	h, err := reg.Build("torchscript", map[string]any{
//	    "torchscript_folder": "/checkpoints/run-7",
//	    "use_trace":          false,
//	}, hooks.Dependencies{Rank: rank, Storage: pathManager})
//	if err != nil {
//	    return err
//	}
//	err = hooks.Dispatch(ctx, []hooks.Hook{h}, hooks.EventRunEnd, task)
//
// # Distributed Runs
//
// Only the designated writer acts. Every callback asks the injected
// distributed.RankProvider and returns immediately on other processes,
// so they never touch storage.
//
// # Thread Safety
//
// Hooks hold no mutable state after construction. Callbacks are
// synchronous and start no goroutines; the loop must not invoke callbacks
// of the same run concurrently.
package hooks
