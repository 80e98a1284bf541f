// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/trainhooks/pkg/ux"
	"github.com/AleutianAI/trainhooks/services/trainer/program"
	"github.com/AleutianAI/trainhooks/services/trainer/program/jit"
)

// artifactSummary is the inspect output.
type artifactSummary struct {
	Path     string           `json:"path"`
	Bytes    int              `json:"bytes"`
	Strategy jit.Strategy     `json:"strategy"`
	Strict   bool             `json:"strict"`
	Devices  []program.Device `json:"devices"`
	Params   []string         `json:"params"`
	Nodes    int              `json:"nodes"`
	Branches int              `json:"branches"`
}

func newInspectCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect <artifact>",
		Short: "Describe an exported program (local path or gs:// URI)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			s, err := inspectArtifact(ctx, a, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(s)
			}
			printSummary(ux.NewPrinter(a.out), s)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printSummary(p *ux.Printer, s artifactSummary) {
	p.KeyValue("path", fmt.Sprintf("%s (%d bytes)", s.Path, s.Bytes))
	p.KeyValue("strategy", fmt.Sprintf("%s (strict=%t)", s.Strategy, s.Strict))
	p.KeyValue("devices", s.Devices)
	p.KeyValue("params", s.Params)
	p.KeyValue("nodes", fmt.Sprintf("%d (%d branch point(s))", s.Nodes, s.Branches))
}

func inspectArtifact(ctx context.Context, a *app, path string) (artifactSummary, error) {
	pm, closeStorage, err := buildStorage(ctx, a.cfg.Storage, []string{path})
	if err != nil {
		return artifactSummary{}, err
	}
	defer closeStorage()

	r, err := pm.Open(ctx, path)
	if err != nil {
		return artifactSummary{}, fmt.Errorf("failed to open artifact: %w", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return artifactSummary{}, fmt.Errorf("failed to read artifact: %w", err)
	}

	p, err := jit.LoadBytes(data)
	if err != nil {
		return artifactSummary{}, err
	}
	return artifactSummary{
		Path:     path,
		Bytes:    len(data),
		Strategy: p.Strategy,
		Strict:   p.Strict,
		Devices:  p.Devices(),
		Params:   p.ParamNames(),
		Nodes:    p.Graph.Len(),
		Branches: p.Graph.Count(jit.OpIf),
	}, nil
}
