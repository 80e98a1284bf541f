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
	"fmt"
	"sort"

	"github.com/AleutianAI/trainhooks/services/trainer/program"
)

// Strategy names how a program was extracted.
type Strategy string

const (
	StrategyTrace  Strategy = "trace"
	StrategyScript Strategy = "script"
)

// Program is a recorded graph plus the parameters it references.
//
// Programs are immutable once built; To returns a relocated copy.
type Program struct {
	Strategy Strategy
	Strict   bool
	Graph    *Graph
	Params   map[string]*program.Tensor
}

var _ program.Program = (*Program)(nil)

// newProgram keeps only the parameters the graph references, cloned so
// later training steps cannot change the program.
func newProgram(strategy Strategy, strict bool, g *Graph, params map[string]*program.Tensor) *Program {
	used := make(map[string]bool)
	g.paramNames(used)
	kept := make(map[string]*program.Tensor, len(used))
	for name := range used {
		kept[name] = params[name].Clone()
	}
	return &Program{Strategy: strategy, Strict: strict, Graph: g, Params: kept}
}

// To returns a copy of the program with every parameter on dev.
//
// Returns an error wrapping program.ErrInvalidDevice if dev does not parse.
func (p *Program) To(dev program.Device) (program.Program, error) {
	d, err := program.ParseDevice(string(dev))
	if err != nil {
		return nil, err
	}
	moved := make(map[string]*program.Tensor, len(p.Params))
	for name, t := range p.Params {
		moved[name] = t.To(d)
	}
	return &Program{Strategy: p.Strategy, Strict: p.Strict, Graph: p.Graph, Params: moved}, nil
}

// Devices lists the distinct parameter devices in sorted order.
func (p *Program) Devices() []program.Device {
	seen := make(map[program.Device]bool)
	for _, t := range p.Params {
		seen[t.Device] = true
	}
	out := make([]program.Device, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParamNames returns the parameter names in sorted order.
func (p *Program) ParamNames() []string {
	names := make([]string, 0, len(p.Params))
	for name := range p.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes the program on input.
//
// Description:
//
//	Interprets the graph node by node. An "if" node evaluates its predicate
//	and runs exactly one nested graph; traced programs have no such nodes
//	and always replay the path recorded at trace time.
//
// Inputs:
//
//	input - A tensor or Dict shaped like the trace sample.
//
// Outputs:
//
//	program.Value - The value of the graph output node.
//	error - Shape or type errors met while executing.
func (p *Program) Run(input program.Value) (program.Value, error) {
	r := &runner{params: p.Params, input: input, values: make(map[int]program.Value)}
	return r.run(p.Graph)
}

type runner struct {
	params map[string]*program.Tensor
	input  program.Value
	values map[int]program.Value
}

func (r *runner) run(g *Graph) (program.Value, error) {
	if g == nil {
		return nil, fmt.Errorf("%w: missing graph", ErrBadArchive)
	}
	for _, n := range g.Nodes {
		v, err := r.eval(n)
		if err != nil {
			return nil, fmt.Errorf("node %d (%s): %w", n.ID, n.Op, err)
		}
		r.values[n.ID] = v
	}
	out, ok := r.values[g.Output]
	if !ok {
		return nil, fmt.Errorf("%w: output %d", ErrInvalidRef, g.Output)
	}
	return out, nil
}

func (r *runner) arg(n Node, i int) (program.Value, error) {
	if i >= len(n.Inputs) {
		return nil, fmt.Errorf("%w: %s needs input %d", ErrBadArchive, n.Op, i)
	}
	v, ok := r.values[n.Inputs[i]]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRef, n.Inputs[i])
	}
	return v, nil
}

func (r *runner) tensorArg(n Node, i int) (*program.Tensor, error) {
	v, err := r.arg(n, i)
	if err != nil {
		return nil, err
	}
	t, ok := v.(*program.Tensor)
	if !ok {
		return nil, fmt.Errorf("%w: input %d is not a tensor", ErrTypeMismatch, i)
	}
	return t, nil
}

func (r *runner) eval(n Node) (program.Value, error) {
	switch n.Op {
	case OpInput:
		return r.input, nil

	case OpField:
		v, err := r.arg(n, 0)
		if err != nil {
			return nil, err
		}
		d, ok := v.(program.Dict)
		if !ok {
			return nil, fmt.Errorf("%w: field of non-dict", ErrTypeMismatch)
		}
		f, ok := d[n.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingField, n.Name)
		}
		return f, nil

	case OpParam:
		t, ok := r.params[n.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownParam, n.Name)
		}
		return t, nil

	case OpMatMul, OpAdd:
		a, err := r.tensorArg(n, 0)
		if err != nil {
			return nil, err
		}
		b, err := r.tensorArg(n, 1)
		if err != nil {
			return nil, err
		}
		if n.Op == OpMatMul {
			return matmul(a, b)
		}
		return add(a, b)

	case OpReLU, OpScale, OpFlatten:
		a, err := r.tensorArg(n, 0)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case OpReLU:
			return relu(a), nil
		case OpScale:
			return scale(a, n.Scalar), nil
		default:
			return flatten(a), nil
		}

	case OpIf:
		pred, err := r.tensorArg(n, 0)
		if err != nil {
			return nil, err
		}
		if pred.Sum() > 0 {
			return r.run(n.Then)
		}
		return r.run(n.Else)

	case OpDict:
		if len(n.Keys) != len(n.Inputs) {
			return nil, fmt.Errorf("%w: dict has %d keys for %d inputs", ErrBadArchive, len(n.Keys), len(n.Inputs))
		}
		d := make(program.Dict, len(n.Keys))
		for i, k := range n.Keys {
			v, err := r.arg(n, i)
			if err != nil {
				return nil, err
			}
			d[k] = v
		}
		return d, nil

	default:
		return nil, fmt.Errorf("%w: unknown op %q", ErrBadArchive, n.Op)
	}
}
