// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
// Package status serves a training job's operational endpoints.
//
// Routes:
//
//	GET /healthz                      liveness
//	GET /metrics                      prometheus exposition, when enabled
//	GET /v1/exports?path=<artifact>   export history from the ledger
//	GET /v1/exports/latest?path=...   most recent export
//
// Requests are traced through otelgin.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/trainhooks/services/trainer/ledger"
)

// HistoryReader is the read side of the export ledger.
type HistoryReader interface {
	History(ctx context.Context, path string) ([]ledger.Record, error)
	Latest(ctx context.Context, path string) (ledger.Record, error)
}

// Options configures the router.
type Options struct {
	// ServiceName names the otelgin server spans.
	ServiceName string

	// Metrics serves /metrics. Nil answers 404.
	Metrics http.Handler

	// History serves /v1/exports. Nil answers 503.
	History HistoryReader

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// NewRouter builds the gin engine for opts.
func NewRouter(opts Options) *gin.Engine {
	if opts.ServiceName == "" {
		opts.ServiceName = "trainhooks"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	h := &handlers{opts: opts}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(opts.ServiceName))

	router.GET("/healthz", h.healthz)
	router.GET("/metrics", h.metrics)
	v1 := router.Group("/v1")
	{
		v1.GET("/exports", h.history)
		v1.GET("/exports/latest", h.latest)
	}
	return router
}

type handlers struct {
	opts Options
}

func (h *handlers) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) metrics(c *gin.Context) {
	if h.opts.Metrics == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "metrics exporter is not prometheus"})
		return
	}
	h.opts.Metrics.ServeHTTP(c.Writer, c.Request)
}

// artifactPath extracts the required path query, answering the request
// itself when it cannot proceed.
func (h *handlers) artifactPath(c *gin.Context) (string, bool) {
	if h.opts.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "export ledger is not enabled"})
		return "", false
	}
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter 'path' is required"})
		return "", false
	}
	return path, true
}

func (h *handlers) history(c *gin.Context) {
	path, ok := h.artifactPath(c)
	if !ok {
		return
	}
	recs, err := h.opts.History.History(c.Request.Context(), path)
	if err != nil {
		h.fail(c, err)
		return
	}
	if recs == nil {
		recs = []ledger.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"path": path, "exports": recs})
}

func (h *handlers) latest(c *gin.Context) {
	path, ok := h.artifactPath(c)
	if !ok {
		return
	}
	rec, err := h.opts.History.Latest(c.Request.Context(), path)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *handlers) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "no exports recorded"})
	default:
		h.opts.Logger.Error("ledger read failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ledger read failed"})
	}
}

// Server runs the router on a listener.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer wraps the router for opts in an http.Server.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		srv: &http.Server{
			Handler:           NewRouter(opts),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With(slog.String("component", "status")),
	}
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully within five seconds.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("status server listening", slog.String("addr", ln.Addr().String()))
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(sctx)
	})
	return g.Wait()
}
