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

// Op names recorded in a Graph.
const (
	OpInput   = "input"
	OpField   = "field"
	OpParam   = "param"
	OpMatMul  = "matmul"
	OpAdd     = "add"
	OpReLU    = "relu"
	OpScale   = "scale"
	OpFlatten = "flatten"
	OpIf      = "if"
	OpDict    = "dict"
)

// Node is one recorded operation. IDs are unique across a program,
// including nodes nested in branches.
type Node struct {
	ID     int      `json:"id"`
	Op     string   `json:"op"`
	Inputs []int    `json:"inputs,omitempty"`
	Name   string   `json:"name,omitempty"`
	Scalar float32  `json:"scalar,omitempty"`
	Keys   []string `json:"keys,omitempty"`
	Then   *Graph   `json:"then,omitempty"`
	Else   *Graph   `json:"else,omitempty"`
}

// Graph is an ordered list of nodes and the ID of the node it returns.
type Graph struct {
	Nodes  []Node `json:"nodes"`
	Output int    `json:"output"`
}

// Count returns how many nodes with the given op the graph holds,
// including nodes inside branches.
func (g *Graph) Count(op string) int {
	if g == nil {
		return 0
	}
	n := 0
	for _, node := range g.Nodes {
		if node.Op == op {
			n++
		}
		n += node.Then.Count(op) + node.Else.Count(op)
	}
	return n
}

// Len returns the total number of nodes, including nodes inside branches.
func (g *Graph) Len() int {
	if g == nil {
		return 0
	}
	n := len(g.Nodes)
	for _, node := range g.Nodes {
		n += node.Then.Len() + node.Else.Len()
	}
	return n
}

// paramNames collects the parameter names referenced anywhere in g.
func (g *Graph) paramNames(into map[string]bool) {
	if g == nil {
		return
	}
	for _, node := range g.Nodes {
		if node.Op == OpParam {
			into[node.Name] = true
		}
		node.Then.paramNames(into)
		node.Else.paramNames(into)
	}
}
