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
	"net"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/trainhooks/pkg/ux"
	"github.com/AleutianAI/trainhooks/services/trainer/config"
	"github.com/AleutianAI/trainhooks/services/trainer/hooks"
	"github.com/AleutianAI/trainhooks/services/trainer/loop"
	"github.com/AleutianAI/trainhooks/services/trainer/models"
	"github.com/AleutianAI/trainhooks/services/trainer/status"
	"github.com/AleutianAI/trainhooks/services/trainer/storage"
	"github.com/AleutianAI/trainhooks/services/trainer/telemetry"
)

type demoOptions struct {
	folder       string
	script       bool
	device       string
	createFolder bool
	shape        []int
	noShape      bool
	inputKey     string
	statusAddr   string
	serveFor     time.Duration
}

func newDemoCmd(a *app) *cobra.Command {
	var opts demoOptions
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Train a small classifier with the configured hooks installed",
		Long: `demo runs the configured number of phases and steps over a small
classifier, emitting every hook event. With --folder it installs (or
retargets) a torchscript hook, so

  hookctl demo --folder ./out --create-folder

leaves ./out/torchscript.pt behind.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd.Context(), a, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.folder, "folder", "", "torchscript folder; adds a torchscript hook when none is configured")
	f.BoolVar(&opts.script, "script", false, "export by scripting instead of tracing")
	f.StringVar(&opts.device, "device", "", "device for the exported program (cpu, cuda:0, mps)")
	f.BoolVar(&opts.createFolder, "create-folder", false, "create local hook folders before the run")
	f.IntSliceVar(&opts.shape, "input-shape", []int{3, 8, 8}, "model input shape without the batch dimension")
	f.BoolVar(&opts.noShape, "no-input-shape", false, "build a model that declares no input shape")
	f.StringVar(&opts.inputKey, "input-key", "", "wrap model input in a dict under this key")
	f.StringVar(&opts.statusAddr, "status-addr", "", "serve /healthz, /metrics and /v1/exports on this address")
	f.DurationVar(&opts.serveFor, "serve-for", 0, "keep the status server up this long after the run")
	return cmd
}

// applyDemoOptions folds the command line into the hook list.
func applyDemoOptions(hs []config.HookConfig, opts demoOptions) []config.HookConfig {
	if opts.folder == "" && !opts.script && opts.device == "" {
		return hs
	}
	out := make([]config.HookConfig, 0, len(hs)+1)
	found := false
	for _, h := range hs {
		if h.Name == hooks.ExportHookName {
			found = true
			h = withExportOverrides(h, opts)
		}
		out = append(out, h)
	}
	if !found && opts.folder != "" {
		out = append(out, withExportOverrides(config.HookConfig{Name: hooks.ExportHookName}, opts))
	}
	return out
}

func withExportOverrides(h config.HookConfig, opts demoOptions) config.HookConfig {
	merged := make(map[string]any, len(h.Options)+3)
	for k, v := range h.Options {
		merged[k] = v
	}
	if opts.folder != "" {
		merged[hooks.OptionFolder] = opts.folder
	}
	if opts.script {
		merged[hooks.OptionUseTrace] = false
	}
	if opts.device != "" {
		merged[hooks.OptionDevice] = opts.device
	}
	h.Options = merged
	return h
}

func runDemo(ctx context.Context, a *app, opts demoOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := a.logger.Slog()
	cfg := a.cfg
	cfg.Hooks = applyDemoOptions(cfg.Hooks, opts)
	if len(cfg.Hooks) == 0 {
		return errors.New("no hooks configured; pass --folder or a config with hooks")
	}

	shutdown, err := telemetry.Init(ctx, cfg.TelemetryConfig())
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	if opts.createFolder {
		for _, folder := range hookFolders(cfg.Hooks) {
			if strings.Contains(folder, "://") && !strings.HasPrefix(folder, "file://") {
				continue
			}
			if err := os.MkdirAll(strings.TrimPrefix(folder, "file://"), 0o750); err != nil {
				return fmt.Errorf("failed to create folder: %w", err)
			}
		}
	}

	svc, err := buildServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("failed to release services", slog.String("error", err.Error()))
		}
	}()

	stopStatus, err := serveStatus(opts.statusAddr, cfg.Service.Name, svc, logger)
	if err != nil {
		return err
	}
	defer stopStatus(opts.serveFor)

	installed, err := buildHooks(hooks.DefaultRegistry(), cfg.Hooks, svc.deps)
	if err != nil {
		return err
	}

	shape := opts.shape
	if opts.noShape {
		shape = nil
	}
	modelOpts := []models.ClassifierOption{models.WithInputShape(shape...)}
	if opts.inputKey != "" {
		modelOpts = append(modelOpts, models.WithInputKey(opts.inputKey))
	}
	model, err := models.NewClassifier(modelOpts...)
	if err != nil {
		return err
	}

	runner := loop.NewRunner(loop.Config{
		Phases:        cfg.Loop.Phases,
		StepsPerPhase: cfg.Loop.StepsPerPhase,
		LearningRate:  float32(cfg.Loop.LearningRate),
	}, installed, logger)

	task, err := runner.Run(ctx, model)
	if err != nil {
		return err
	}

	out := ux.NewPrinter(a.out)
	p := task.Progress()
	out.Title(fmt.Sprintf("run %s finished: %d phase(s), %d step(s)", svc.runID, cfg.Loop.Phases, p.GlobalStep))
	for _, h := range installed {
		eh, ok := h.(*hooks.ExportHook)
		if !ok {
			continue
		}
		exists, err := svc.deps.Storage.Exists(ctx, eh.ArtifactPath())
		switch {
		case err != nil:
			return err
		case exists:
			out.Success(fmt.Sprintf("%s: %s", h.Name(), eh.ArtifactPath()))
		default:
			out.Warning(fmt.Sprintf("%s: nothing written to %s", h.Name(), storage.Join(eh.Config().Folder, hooks.ArtifactName)))
		}
	}
	return nil
}

// serveStatus starts the status server when addr is set. The returned
// function keeps it up for linger and then shuts it down.
func serveStatus(addr, serviceName string, svc *services, logger *slog.Logger) (func(linger time.Duration), error) {
	if addr == "" {
		return func(time.Duration) {}, nil
	}
	opts := status.Options{
		ServiceName: serviceName,
		Logger:      logger,
	}
	if h := telemetry.MetricsHandler(); h != nil {
		opts.Metrics = h
	}
	if svc.ledger != nil {
		opts.History = svc.ledger
	}

	gin.SetMode(gin.ReleaseMode)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- status.NewServer(opts).Serve(ctx, ln) }()

	return func(linger time.Duration) {
		if linger > 0 {
			time.Sleep(linger)
		}
		cancel()
		if err := <-done; err != nil {
			logger.Warn("status server stopped with error", slog.String("error", err.Error()))
		}
	}, nil
}
