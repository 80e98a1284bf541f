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
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/trainhooks/services/trainer/config"
	"github.com/AleutianAI/trainhooks/services/trainer/distributed"
	"github.com/AleutianAI/trainhooks/services/trainer/hooks"
	"github.com/AleutianAI/trainhooks/services/trainer/ledger"
	"github.com/AleutianAI/trainhooks/services/trainer/storage"
	"github.com/AleutianAI/trainhooks/services/trainer/telemetry"
)

// needsGCS reports whether any path is routed to Google Cloud Storage.
func needsGCS(cfg config.StorageConfig, paths []string) bool {
	for _, p := range paths {
		for _, prefix := range cfg.GCSPrefixes {
			if strings.HasPrefix(p, prefix) {
				return true
			}
		}
	}
	return false
}

// buildStorage returns a PathManager over the local filesystem, with GCS
// registered for the configured prefixes when one of paths needs it. The
// returned closer releases the GCS client.
func buildStorage(ctx context.Context, cfg config.StorageConfig, paths []string) (*storage.PathManager, func() error, error) {
	pm := storage.NewPathManager(storage.NewLocal())
	if !needsGCS(cfg, paths) {
		return pm, func() error { return nil }, nil
	}

	gcs, err := storage.NewGCS(ctx, cfg.GCSKeyPath)
	if err != nil {
		return nil, nil, err
	}
	for _, prefix := range cfg.GCSPrefixes {
		if err := pm.Register(prefix, gcs); err != nil {
			return nil, nil, errors.Join(err, gcs.Close())
		}
	}
	return pm, gcs.Close, nil
}

// openLedger opens the configured ledger, or returns nil when disabled.
func openLedger(cfg config.LedgerConfig, logger *slog.Logger) (*ledger.Ledger, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	lc := cfg.Config
	lc.Logger = logger
	return ledger.Open(lc)
}

// hookFolders lists the torchscript folders named in the hook options.
func hookFolders(hs []config.HookConfig) []string {
	var out []string
	for _, h := range hs {
		if folder, ok := h.Options[hooks.OptionFolder].(string); ok {
			out = append(out, folder)
		}
	}
	return out
}

// services are the collaborators shared by every hook in a run.
type services struct {
	deps  hooks.Dependencies
	runID string

	ledger       *ledger.Ledger
	closeStorage func() error
}

func (s *services) Close() error {
	var errs []error
	if s.ledger != nil {
		errs = append(errs, s.ledger.Close())
	}
	if s.closeStorage != nil {
		errs = append(errs, s.closeStorage())
	}
	return errors.Join(errs...)
}

// buildServices wires storage, the ledger, metrics and the rank provider
// from cfg.
func buildServices(ctx context.Context, cfg config.Config, logger *slog.Logger) (*services, error) {
	rank, err := distributed.FromEnv()
	if err != nil {
		return nil, err
	}

	metrics, err := telemetry.NewMetrics(otel.Meter("trainhooks"))
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	pm, closeStorage, err := buildStorage(ctx, cfg.Storage, hookFolders(cfg.Hooks))
	if err != nil {
		return nil, err
	}
	s := &services{closeStorage: closeStorage}

	l, err := openLedger(cfg.Ledger, logger)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	s.ledger = l

	s.runID = cfg.Service.RunID
	if s.runID == "" {
		s.runID = uuid.NewString()
	}

	s.deps = hooks.Dependencies{
		Rank:    rank,
		Storage: pm,
		Metrics: metrics,
		Logger:  logger,
		RunID:   s.runID,
	}
	if l != nil {
		s.deps.Recorder = l
	}
	return s, nil
}

// buildHooks builds every configured hook through the registry.
func buildHooks(reg *hooks.Registry, hs []config.HookConfig, deps hooks.Dependencies) ([]hooks.Hook, error) {
	out := make([]hooks.Hook, 0, len(hs))
	for i, hc := range hs {
		h, err := reg.Build(hc.Name, hc.Options, deps)
		if err != nil {
			return nil, fmt.Errorf("hooks[%d] (%s): %w", i, hc.Name, err)
		}
		out = append(out, h)
	}
	return out, nil
}
