// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package jit turns live modules into portable programs.
//
// Two extraction strategies are provided:
//
//   - Trace runs the forward pass on one sample input and records the
//     operations actually executed. A Cond is resolved against the sample,
//     so only the branch taken ends up in the program.
//   - Script walks the forward pass symbolically without computing values.
//     A Cond becomes an "if" node holding both branches.
//
// Tracing covers anything the forward pass can compute; scripting keeps
// exact control flow. A strict trace refuses to record Dict containers,
// since their structure would be frozen as data.
//
// # Archive Format
//
// Save writes a zip archive with deterministic content:
//
//	torchscript/version         "1"
//	torchscript/program.json    strategy, graph, parameter table
//	torchscript/data/<n>        little-endian float32 parameter data
//
// Entries are stored uncompressed with zero timestamps, so saving the same
// program twice yields identical bytes. Load reads an archive back.
package jit
