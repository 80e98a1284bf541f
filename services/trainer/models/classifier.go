// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package models provides small reference models for exercising hooks
// and the training loop without a real network.
package models

import (
	"fmt"
	"slices"

	"github.com/AleutianAI/trainhooks/services/trainer/program"
)

// Parameter names of Classifier.
const (
	ParamWeight = "fc.weight"
	ParamBias   = "fc.bias"
)

// Classifier is a single linear layer over the flattened input followed by
// a gate: when the activations sum positive they pass through a ReLU,
// otherwise they are halved.
//
// It implements every optional model capability: input shape, input key,
// train/eval mode, gradient tracking and device placement.
type Classifier struct {
	inputShape []int
	inputKey   string
	classes    int
	device     program.Device
	dictOutput bool

	training    bool
	gradEnabled bool
	params      map[string]*program.Tensor
}

// ClassifierOption configures a Classifier.
type ClassifierOption func(*Classifier)

// WithInputShape sets the per-sample input shape. Called with no
// dimensions the model declares no input shape and cannot be traced.
func WithInputShape(dims ...int) ClassifierOption {
	return func(c *Classifier) {
		c.inputShape = slices.Clone(dims)
	}
}

// WithInputKey makes the model read its input from a Dict under key.
func WithInputKey(key string) ClassifierOption {
	return func(c *Classifier) {
		c.inputKey = key
	}
}

// WithClasses sets the number of output classes.
func WithClasses(n int) ClassifierOption {
	return func(c *Classifier) {
		c.classes = n
	}
}

// WithDevice places the parameters on dev.
func WithDevice(dev program.Device) ClassifierOption {
	return func(c *Classifier) {
		c.device = dev
	}
}

// WithDictOutput wraps the logits in a Dict under "logits".
func WithDictOutput() ClassifierOption {
	return func(c *Classifier) {
		c.dictOutput = true
	}
}

// NewClassifier builds a Classifier in training mode with gradients on.
//
// Defaults: input shape [3, 8, 8], 10 classes, CPU. Weights are filled
// deterministically so two models built with the same options are
// identical.
func NewClassifier(opts ...ClassifierOption) (*Classifier, error) {
	c := &Classifier{
		inputShape:  []int{3, 8, 8},
		classes:     10,
		device:      program.CPU,
		training:    true,
		gradEnabled: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.classes < 1 {
		return nil, fmt.Errorf("classes must be positive, got %d", c.classes)
	}
	if _, err := program.ParseDevice(c.device.String()); err != nil {
		return nil, err
	}

	features, err := program.CheckShape(c.inputShape)
	if err != nil {
		return nil, err
	}
	if len(c.inputShape) == 0 {
		// Without a declared shape the layer still needs a width.
		features = 1
	}
	weight := program.Zeros([]int{features, c.classes}, c.device)
	for i := range weight.Data {
		weight.Data[i] = float32((i*37)%17-8) / 64
	}
	bias := program.Zeros([]int{c.classes}, c.device)
	for i := range bias.Data {
		bias.Data[i] = 0.1
	}
	c.params = map[string]*program.Tensor{ParamWeight: weight, ParamBias: bias}
	return c, nil
}

// Forward computes the logits, gating them on the sign of their sum.
func (c *Classifier) Forward(ops program.Ops) (program.Ref, error) {
	x := ops.Input()
	if c.inputKey != "" {
		x = ops.Field(x, c.inputKey)
	}
	h := ops.Add(ops.MatMul(ops.Flatten(x), ops.Param(ParamWeight)), ops.Param(ParamBias))
	out := ops.Cond(h,
		func(o program.Ops) program.Ref { return o.ReLU(h) },
		func(o program.Ops) program.Ref { return o.Scale(h, 0.5) },
	)
	if c.dictOutput {
		out = ops.Dict(map[string]program.Ref{"logits": out})
	}
	return out, nil
}

// Parameters returns the live weight and bias tensors.
func (c *Classifier) Parameters() map[string]*program.Tensor { return c.params }

// InputShape returns the per-sample shape, or nil when none is declared.
func (c *Classifier) InputShape() []int { return slices.Clone(c.inputShape) }

func (c *Classifier) InputKey() string { return c.inputKey }

func (c *Classifier) Training() bool { return c.training }

func (c *Classifier) Train(mode bool) { c.training = mode }

func (c *Classifier) GradEnabled() bool { return c.gradEnabled }

func (c *Classifier) SetGradEnabled(enabled bool) { c.gradEnabled = enabled }

func (c *Classifier) Device() program.Device { return c.device }

// Step shrinks every parameter toward zero by lr, standing in for an
// optimizer step. It does nothing in eval mode or with gradients off.
func (c *Classifier) Step(lr float32) {
	if !c.training || !c.gradEnabled {
		return
	}
	for _, p := range c.params {
		for i, v := range p.Data {
			switch {
			case v > 0:
				p.Data[i] = v - lr
			case v < 0:
				p.Data[i] = v + lr
			}
		}
	}
}
