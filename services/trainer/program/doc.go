// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package program defines the model-facing surface shared by the training
// loop, its hooks and the program compiler.
//
// A Module is a live model owned by a training task. Its forward pass is
// written against the Ops interface, which lets the same code run eagerly,
// be traced along one concrete execution path, or be scripted into a program
// that keeps every branch.
//
// # Capabilities
//
// Introspection is optional. A module advertises what it supports by
// implementing small interfaces, checked with a type assertion:
//
//   - InputShaper: per-sample input shape, needed to build a trace sample
//   - InputKeyer: key under which the model expects its input
//   - Trainable: train/eval mode switch
//   - GradToggler: gradient tracking switch
//   - DevicePlacer: device holding the model parameters
//
// # Scoped Inference
//
// EnterInference puts a module into eval mode with gradients off and returns
// a scope whose Restore method puts both back. Callers defer Restore so the
// previous mode survives errors and panics alike.
//
// # Thread Safety
//
// Tensors and Dict values are plain data and are not safe for concurrent
// mutation. InferenceScope is not safe for concurrent use.
package program
