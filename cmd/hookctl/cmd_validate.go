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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/trainhooks/pkg/ux"
	"github.com/AleutianAI/trainhooks/services/trainer/hooks"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and every hook's options",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			built, err := buildHooks(hooks.DefaultRegistry(), a.cfg.Hooks, hooks.Dependencies{Logger: a.logger.Slog()})
			if err != nil {
				return err
			}
			p := ux.NewPrinter(a.out)
			p.Title(fmt.Sprintf("config ok: service %q, %d hook(s)", a.cfg.Service.Name, len(built)))
			for _, h := range built {
				line := h.Name()
				if eh, ok := h.(*hooks.ExportHook); ok {
					c := eh.Config()
					line += fmt.Sprintf(": %s -> %s on %s", c.Strategy(), eh.ArtifactPath(), c.Device)
				}
				p.Item(line)
			}
			return nil
		},
	}
}
