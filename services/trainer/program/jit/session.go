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

type mode int

const (
	modeEager mode = iota
	modeTrace
	modeScript
)

func (m mode) String() string {
	switch m {
	case modeEager:
		return "eager"
	case modeTrace:
		return "trace"
	case modeScript:
		return "script"
	default:
		return "unknown"
	}
}

// session implements program.Ops for one forward pass.
//
// Eager and trace sessions compute concrete values; trace and script
// sessions append nodes to graph. values is indexed by Ref and holds nil
// entries in script mode.
type session struct {
	mode   mode
	strict bool
	params map[string]*program.Tensor
	input  program.Value
	values []program.Value
	graph  *Graph
	err    error
}

var _ program.Ops = (*session)(nil)

func newSession(m mode, params map[string]*program.Tensor, input program.Value) *session {
	s := &session{mode: m, params: params, input: input}
	if m != modeEager {
		s.graph = &Graph{}
	}
	return s
}

// computes reports whether the session produces concrete values.
func (s *session) computes() bool {
	return s.mode != modeScript
}

func (s *session) fail(err error) program.Ref {
	if s.err == nil {
		s.err = err
	}
	return program.NoRef
}

func (s *session) emit(n Node, v program.Value) program.Ref {
	id := program.Ref(len(s.values))
	s.values = append(s.values, v)
	if s.graph != nil {
		n.ID = int(id)
		s.graph.Nodes = append(s.graph.Nodes, n)
	}
	return id
}

// check validates refs and reports whether the op may proceed.
func (s *session) check(refs ...program.Ref) bool {
	if s.err != nil {
		return false
	}
	for _, r := range refs {
		if r < 0 || int(r) >= len(s.values) {
			s.fail(fmt.Errorf("%w: %d", ErrInvalidRef, r))
			return false
		}
	}
	return true
}

func (s *session) tensor(r program.Ref) (*program.Tensor, bool) {
	t, ok := s.values[r].(*program.Tensor)
	if !ok {
		s.fail(fmt.Errorf("%w: value %d is not a tensor", ErrTypeMismatch, r))
	}
	return t, ok
}

func (s *session) Input() program.Ref {
	if !s.check() {
		return program.NoRef
	}
	return s.emit(Node{Op: OpInput}, s.input)
}

func (s *session) Field(v program.Ref, key string) program.Ref {
	if !s.check(v) {
		return program.NoRef
	}
	var field program.Value
	if s.computes() {
		d, ok := s.values[v].(program.Dict)
		if !ok {
			return s.fail(fmt.Errorf("%w: value %d is not a dict", ErrTypeMismatch, v))
		}
		if field, ok = d[key]; !ok {
			return s.fail(fmt.Errorf("%w: %q", ErrMissingField, key))
		}
	}
	return s.emit(Node{Op: OpField, Inputs: []int{int(v)}, Name: key}, field)
}

func (s *session) Param(name string) program.Ref {
	if !s.check() {
		return program.NoRef
	}
	p, ok := s.params[name]
	if !ok {
		return s.fail(fmt.Errorf("%w: %q", ErrUnknownParam, name))
	}
	var v program.Value
	if s.computes() {
		v = p
	}
	return s.emit(Node{Op: OpParam, Name: name}, v)
}

// binary runs a two-operand kernel in computing modes and records the node.
func (s *session) binary(op string, a, b program.Ref, kernel func(a, b *program.Tensor) (*program.Tensor, error)) program.Ref {
	if !s.check(a, b) {
		return program.NoRef
	}
	var out program.Value
	if s.computes() {
		at, ok := s.tensor(a)
		if !ok {
			return program.NoRef
		}
		bt, ok := s.tensor(b)
		if !ok {
			return program.NoRef
		}
		res, err := kernel(at, bt)
		if err != nil {
			return s.fail(err)
		}
		out = res
	}
	return s.emit(Node{Op: op, Inputs: []int{int(a), int(b)}}, out)
}

// unary runs a one-operand kernel in computing modes and records the node.
func (s *session) unary(n Node, a program.Ref, kernel func(a *program.Tensor) *program.Tensor) program.Ref {
	if !s.check(a) {
		return program.NoRef
	}
	var out program.Value
	if s.computes() {
		at, ok := s.tensor(a)
		if !ok {
			return program.NoRef
		}
		out = kernel(at)
	}
	n.Inputs = []int{int(a)}
	return s.emit(n, out)
}

func (s *session) MatMul(a, b program.Ref) program.Ref {
	return s.binary(OpMatMul, a, b, matmul)
}

func (s *session) Add(a, b program.Ref) program.Ref {
	return s.binary(OpAdd, a, b, add)
}

func (s *session) ReLU(a program.Ref) program.Ref {
	return s.unary(Node{Op: OpReLU}, a, relu)
}

func (s *session) Scale(a program.Ref, factor float32) program.Ref {
	return s.unary(Node{Op: OpScale, Scalar: factor}, a, func(t *program.Tensor) *program.Tensor {
		return scale(t, factor)
	})
}

func (s *session) Flatten(a program.Ref) program.Ref {
	return s.unary(Node{Op: OpFlatten}, a, flatten)
}

// Cond resolves the branch against the concrete predicate when computing.
// A trace inlines the chosen branch and records no "if" node; a script
// records both branches in nested graphs.
func (s *session) Cond(pred program.Ref, then, otherwise func(program.Ops) program.Ref) program.Ref {
	if !s.check(pred) {
		return program.NoRef
	}
	if s.computes() {
		p, ok := s.tensor(pred)
		if !ok {
			return program.NoRef
		}
		if p.Sum() > 0 {
			return then(s)
		}
		return otherwise(s)
	}

	outer := s.graph
	thenGraph := s.branch(then)
	elseGraph := s.branch(otherwise)
	s.graph = outer
	if s.err != nil {
		return program.NoRef
	}
	return s.emit(Node{Op: OpIf, Inputs: []int{int(pred)}, Then: thenGraph, Else: elseGraph}, nil)
}

func (s *session) branch(fn func(program.Ops) program.Ref) *Graph {
	g := &Graph{}
	s.graph = g
	out := fn(s)
	if s.check(out) {
		g.Output = int(out)
	}
	return g
}

func (s *session) Dict(fields map[string]program.Ref) program.Ref {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	inputs := make([]int, 0, len(keys))
	for _, k := range keys {
		if !s.check(fields[k]) {
			return program.NoRef
		}
		inputs = append(inputs, int(fields[k]))
	}

	var out program.Value
	if s.computes() {
		d := make(program.Dict, len(keys))
		for _, k := range keys {
			d[k] = s.values[fields[k]]
		}
		out = d
	}
	return s.emit(Node{Op: OpDict, Inputs: inputs, Keys: keys}, out)
}

// finish closes the session after the forward pass returned out.
func (s *session) finish(out program.Ref, forwardErr error) (program.Ref, error) {
	if forwardErr != nil {
		return program.NoRef, forwardErr
	}
	if s.err != nil {
		return program.NoRef, s.err
	}
	if !s.check(out) {
		return program.NoRef, s.err
	}
	if s.mode == modeTrace && s.strict {
		if _, isDict := s.values[out].(program.Dict); isDict {
			return program.NoRef, ErrContainerOutput
		}
	}
	if s.graph != nil {
		s.graph.Output = int(out)
	}
	return out, nil
}
