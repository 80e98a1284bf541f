// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package jit

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/AleutianAI/trainhooks/services/trainer/program"
)

// Compiler extracts programs from modules and serializes them.
//
// Thread Safety: Safe for concurrent use; each call works on its own
// session. The modules passed in are not locked.
type Compiler struct {
	logger *slog.Logger
}

// NewCompiler creates a Compiler. A nil logger uses slog.Default().
func NewCompiler(logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compiler{logger: logger}
}

// Trace records the operations m executes on sample.
//
// Description:
//
//	Runs the forward pass once with concrete values. Only the branch each
//	Cond takes for sample is recorded, so data-dependent control flow is
//	frozen to that path. With strict set, a forward pass that returns a
//	Dict fails the trace with ErrContainerOutput.
//
// Inputs:
//
//	ctx - Checked for cancellation before tracing starts.
//	m - The module to trace. Its modes are not changed here.
//	sample - One input value, typically from program.DummyInput.
//	strict - Reject mutable containers.
//
// Outputs:
//
//	program.Program - A *Program with Strategy StrategyTrace.
//	error - Errors raised by the forward pass or by the recorded ops.
func (c *Compiler) Trace(ctx context.Context, m program.Module, sample program.Value, strict bool) (program.Program, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := newSession(modeTrace, m.Parameters(), sample)
	s.strict = strict
	out, err := m.Forward(s)
	if _, err = s.finish(out, err); err != nil {
		return nil, fmt.Errorf("trace %T: %w", m, err)
	}
	p := newProgram(StrategyTrace, strict, s.graph, m.Parameters())
	c.logger.Debug("traced module",
		"module", fmt.Sprintf("%T", m),
		"nodes", p.Graph.Len(),
		"strict", strict,
	)
	return p, nil
}

// Script records the forward pass of m symbolically.
//
// Description:
//
//	No values are computed and no sample is needed. Every Cond is kept as
//	an "if" node with both branches, so the program follows the same
//	control flow as the module for any input.
//
// Inputs:
//
//	ctx - Checked for cancellation before scripting starts.
//	m - The module to script.
//
// Outputs:
//
//	program.Program - A *Program with Strategy StrategyScript.
//	error - Errors raised by the forward pass, such as unknown parameters.
func (c *Compiler) Script(ctx context.Context, m program.Module) (program.Program, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := newSession(modeScript, m.Parameters(), nil)
	out, err := m.Forward(s)
	if _, err = s.finish(out, err); err != nil {
		return nil, fmt.Errorf("script %T: %w", m, err)
	}
	p := newProgram(StrategyScript, false, s.graph, m.Parameters())
	c.logger.Debug("scripted module",
		"module", fmt.Sprintf("%T", m),
		"nodes", p.Graph.Len(),
		"branches", p.Graph.Count(OpIf),
	)
	return p, nil
}

// Save writes p to w in the archive format described in the package doc.
// p must be a *Program; anything else fails with ErrForeignProgram.
func (c *Compiler) Save(p program.Program, w io.Writer) error {
	jp, ok := p.(*Program)
	if !ok {
		return fmt.Errorf("%w: %T", ErrForeignProgram, p)
	}
	return writeArchive(jp, w)
}

// Eager runs the forward pass of m on input without recording anything.
func Eager(m program.Module, input program.Value) (program.Value, error) {
	s := newSession(modeEager, m.Parameters(), input)
	out, err := m.Forward(s)
	if out, err = s.finish(out, err); err != nil {
		return nil, err
	}
	return s.values[out], nil
}
