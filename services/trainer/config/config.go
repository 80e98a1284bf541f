// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
// Package config loads the YAML configuration for a training job's hooks.
//
// A configuration file describes the ambient services (logging, telemetry,
// artifact storage, export ledger), the demo loop shape and the hooks to
// install:
//
//	service:
//	  name: resnet-finetune
//	logging:
//	  level: info
//	storage:
//	  gcs_key_path: /secrets/sa.json
//	  gcs_prefixes: ["gs://"]
//	ledger:
//	  enabled: true
//	  path: /var/lib/trainhooks/ledger
//	hooks:
//	  - name: torchscript
//	    options:
//	      torchscript_folder: gs://models/resnet
//	      use_trace: true
//	      device: cuda:0
//
// Hook options stay an untyped map. Each hook factory type-checks its own
// options when the hook is built.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/trainhooks/pkg/logging"
	"github.com/AleutianAI/trainhooks/services/trainer/ledger"
	"github.com/AleutianAI/trainhooks/services/trainer/telemetry"
)

// ErrInvalidConfig is returned when a configuration fails validation.
var ErrInvalidConfig = errors.New("invalid config")

var validate = validator.New()

// Config is the root of a configuration file.
type Config struct {
	Service   ServiceConfig    `yaml:"service" json:"service"`
	Logging   LoggingConfig    `yaml:"logging" json:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry" json:"telemetry"`
	Storage   StorageConfig    `yaml:"storage" json:"storage"`
	Ledger    LedgerConfig     `yaml:"ledger" json:"ledger"`
	Loop      LoopConfig       `yaml:"loop" json:"loop"`
	Hooks     []HookConfig     `yaml:"hooks" json:"hooks" validate:"dive"`
}

// ServiceConfig identifies the job.
type ServiceConfig struct {
	Name string `yaml:"name" json:"name" validate:"required"`

	// RunID tags ledger records. Empty means a fresh UUID per run.
	RunID string `yaml:"run_id" json:"run_id"`
}

// LoggingConfig maps onto logging.Config.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level" validate:"omitempty,oneof=debug info warn warning error DEBUG INFO WARN WARNING ERROR"`
	Dir   string `yaml:"dir" json:"dir"`
	JSON  bool   `yaml:"json" json:"json"`
	Quiet bool   `yaml:"quiet" json:"quiet"`
}

// StorageConfig selects the artifact backends. Paths that match none of
// GCSPrefixes go to the local filesystem.
type StorageConfig struct {
	// GCSKeyPath is a service account key. Empty means application
	// default credentials.
	GCSKeyPath string `yaml:"gcs_key_path" json:"gcs_key_path"`

	// GCSPrefixes routes matching paths to Google Cloud Storage.
	GCSPrefixes []string `yaml:"gcs_prefixes" json:"gcs_prefixes" validate:"dive,startswith=gs://"`
}

// LedgerConfig enables the export ledger.
type LedgerConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	ledger.Config `yaml:",inline"`
}

// LoopConfig shapes the demo training loop.
type LoopConfig struct {
	Phases        int     `yaml:"phases" json:"phases" validate:"gte=1"`
	StepsPerPhase int     `yaml:"steps_per_phase" json:"steps_per_phase" validate:"gte=0"`
	LearningRate  float64 `yaml:"learning_rate" json:"learning_rate" validate:"gte=0"`
}

// HookConfig names a registered hook and its options.
type HookConfig struct {
	Name    string         `yaml:"name" json:"name" validate:"required"`
	Options map[string]any `yaml:"options" json:"options"`
}

// DefaultConfig returns a configuration with no hooks, console logging,
// telemetry exporters off and the ledger disabled.
func DefaultConfig() Config {
	return Config{
		Service:   ServiceConfig{Name: "trainhooks"},
		Logging:   LoggingConfig{Level: "info"},
		Telemetry: telemetry.DefaultConfig(),
		Storage:   StorageConfig{GCSPrefixes: []string{"gs://"}},
		Ledger:    LedgerConfig{Config: ledger.DefaultConfig("")},
		Loop:      LoopConfig{Phases: 2, StepsPerPhase: 4, LearningRate: 0.01},
	}
}

// Parse decodes YAML over DefaultConfig and validates the result.
//
// Description:
//
//	Unknown keys are rejected so that a misspelt section fails loudly
//	instead of silently keeping its defaults. Empty input yields the
//	defaults.
//
// Inputs:
//
//	data - YAML document.
//
// Outputs:
//
//	Config - The merged configuration.
//	error - Decode errors, or ErrInvalidConfig from Validate.
func Parse(data []byte) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and parses the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	return Parse(data)
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Ledger.Enabled && !c.Ledger.InMemory && c.Ledger.Path == "" {
		return fmt.Errorf("%w: ledger.path is required when the ledger is enabled", ErrInvalidConfig)
	}
	return nil
}

// LoggerConfig converts the logging section.
func (c *Config) LoggerConfig() (logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return logging.Config{}, err
	}
	return logging.Config{
		Level:   level,
		LogDir:  c.Logging.Dir,
		Service: c.Service.Name,
		JSON:    c.Logging.JSON,
		Quiet:   c.Logging.Quiet,
	}, nil
}

// TelemetryConfig returns the telemetry section with the service name
// filled in from the service section when unset.
func (c *Config) TelemetryConfig() telemetry.Config {
	tc := c.Telemetry
	if tc.ServiceName == "" {
		tc.ServiceName = c.Service.Name
	}
	return tc
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
