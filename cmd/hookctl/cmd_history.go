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
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/trainhooks/services/trainer/ledger"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		latest     bool
		ledgerPath string
	)
	cmd := &cobra.Command{
		Use:   "history <artifact-path>",
		Short: "List recorded exports of an artifact path",
		Long: `history reads the export ledger and lists every recorded export of the
given artifact path, oldest first. The ledger comes from the config file
unless --ledger points at one directly.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lc := a.cfg.Ledger
			if ledgerPath != "" {
				lc.Enabled = true
				lc.InMemory = false
				lc.Path = ledgerPath
			}
			if !lc.Enabled {
				return errors.New("ledger is not enabled; set ledger.enabled in the config or pass --ledger")
			}
			lc.GCInterval = 0

			l, err := openLedger(lc, a.logger.Slog())
			if err != nil {
				return fmt.Errorf("failed to open ledger: %w", err)
			}
			defer l.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			var recs []ledger.Record
			if latest {
				rec, err := l.Latest(ctx, args[0])
				if err != nil {
					return err
				}
				recs = []ledger.Record{rec}
			} else {
				recs, err = l.History(ctx, args[0])
				if err != nil {
					return err
				}
			}
			if len(recs) == 0 {
				fmt.Fprintf(a.out, "no exports recorded for %s\n", args[0])
				return nil
			}

			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "EXPORTED\tRUN\tSTRATEGY\tDEVICE\tBYTES\tSHA256")
			for _, r := range recs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%.12s\n",
					r.ExportedAt.Format(time.RFC3339), r.RunID, r.Strategy, r.Device, r.Bytes, r.SHA256)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&latest, "latest", false, "show only the most recent export")
	cmd.Flags().StringVar(&ledgerPath, "ledger", "", "ledger directory (overrides the config)")
	return cmd
}
