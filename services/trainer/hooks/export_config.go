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
	"fmt"
	"sort"
	"strings"
)

// Option keys accepted by the "torchscript" hook.
const (
	OptionFolder      = "torchscript_folder"
	OptionUseTrace    = "use_trace"
	OptionTraceStrict = "trace_strict"
	OptionDevice      = "device"
)

// DefaultDevice is the device programs are moved to when none is set.
const DefaultDevice = "cpu"

// ExportConfig configures an ExportHook. Values are used verbatim; the
// device string is only parsed when a program is relocated.
type ExportConfig struct {
	// Folder is the directory, local or remote, the artifact is written to.
	Folder string `yaml:"torchscript_folder" json:"torchscript_folder"`

	// UseTrace selects tracing; false selects scripting.
	UseTrace bool `yaml:"use_trace" json:"use_trace"`

	// TraceStrict rejects mutable containers while tracing.
	TraceStrict bool `yaml:"trace_strict" json:"trace_strict"`

	// Device is the target device of the saved program, e.g. "cpu" or "cuda:0".
	Device string `yaml:"device" json:"device"`
}

// NewExportConfig returns the configuration for folder with every other
// field at its default: trace, strict, on the CPU.
func NewExportConfig(folder string) ExportConfig {
	return ExportConfig{
		Folder:      folder,
		UseTrace:    true,
		TraceStrict: true,
		Device:      DefaultDevice,
	}
}

// Strategy names the extraction strategy, "trace" or "script".
func (c ExportConfig) Strategy() string {
	if c.UseTrace {
		return "trace"
	}
	return "script"
}

// Validate checks the invariants NewExportHook relies on.
func (c ExportConfig) Validate() error {
	if strings.TrimSpace(c.Folder) == "" {
		return fmt.Errorf("%w: %s must not be empty", ErrTypeConfiguration, OptionFolder)
	}
	return nil
}

// ExportConfigFromOptions builds an ExportConfig from free-form options,
// as decoded from a YAML or JSON hook section.
//
// Description:
//
//	torchscript_folder is required and must be a string. use_trace and
//	trace_strict must be booleans and device a string when present.
//	Missing optional keys take the defaults of NewExportConfig. Unknown
//	keys are rejected.
//
// Outputs:
//
//	ExportConfig - The configuration.
//	error - Wraps ErrTypeConfiguration on any type or key error.
func ExportConfigFromOptions(opts map[string]any) (ExportConfig, error) {
	raw, ok := opts[OptionFolder]
	folder, isString := raw.(string)
	if !ok || !isString {
		return ExportConfig{}, fmt.Errorf("%w: %s must be a string specifying the torchscript directory, got %T",
			ErrTypeConfiguration, OptionFolder, raw)
	}
	cfg := NewExportConfig(folder)

	var unknown []string
	for key, v := range opts {
		var err error
		switch key {
		case OptionFolder:
		case OptionUseTrace:
			cfg.UseTrace, err = boolOption(key, v)
		case OptionTraceStrict:
			cfg.TraceStrict, err = boolOption(key, v)
		case OptionDevice:
			s, ok := v.(string)
			if !ok {
				err = fmt.Errorf("%w: %s must be a string, got %T", ErrTypeConfiguration, key, v)
			}
			cfg.Device = s
		default:
			unknown = append(unknown, key)
		}
		if err != nil {
			return ExportConfig{}, err
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return ExportConfig{}, fmt.Errorf("%w: unknown options %s", ErrTypeConfiguration, strings.Join(unknown, ", "))
	}
	return cfg, nil
}

func boolOption(key string, v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s must be a boolean, got %T", ErrTypeConfiguration, key, v)
	}
	return b, nil
}
