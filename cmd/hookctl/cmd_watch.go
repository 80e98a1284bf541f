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
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/trainhooks/pkg/ux"
	"github.com/AleutianAI/trainhooks/services/trainer/hooks"
	"github.com/AleutianAI/trainhooks/services/trainer/watch"
)

var errWatchDone = errors.New("watch: change limit reached")

func newWatchCmd(a *app) *cobra.Command {
	var (
		count    int
		debounce time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch <folder>",
		Short: "Describe the torchscript artifact in a local folder each time it is rewritten",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runWatch(ctx, a, args[0], count, debounce)
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "exit after this many changes (0 watches until interrupted)")
	cmd.Flags().DurationVar(&debounce, "debounce", 200*time.Millisecond, "quiet period before a burst of writes is reported")
	return cmd
}

func runWatch(ctx context.Context, a *app, folder string, count int, debounce time.Duration) error {
	logger := a.logger.Slog()
	w, err := watch.New(folder, hooks.ArtifactName, watch.Options{Debounce: debounce, Logger: logger})
	if err != nil {
		return err
	}
	defer w.Close()

	p := ux.NewPrinter(a.out)
	p.Title("watching " + w.Path())

	seen := 0
	err = w.Run(ctx, func(ctx context.Context, c watch.Change) error {
		switch c.Op {
		case watch.OpRemoved:
			p.Warning(fmt.Sprintf("%s removed", c.Path))
		default:
			s, err := inspectArtifact(ctx, a, c.Path)
			if err != nil {
				p.Warning(fmt.Sprintf("%s: %v", c.Path, err))
				break
			}
			p.Success(fmt.Sprintf("%s rewritten at %s", c.Path, c.Time.Format(time.TimeOnly)))
			printSummary(p, s)
		}
		seen++
		if count > 0 && seen >= count {
			return errWatchDone
		}
		return nil
	})
	if errors.Is(err, errWatchDone) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
