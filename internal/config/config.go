// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"encoding/json"
	"time"
)

// BackpressurePolicy is pipeline.output_backpressure (spec §4.3).
type BackpressurePolicy string

const (
	Block      BackpressurePolicy = "block"
	DropOldest BackpressurePolicy = "drop_oldest"
	DropNew    BackpressurePolicy = "drop_new"
)

// PipelineConfig is the `pipeline.*` section of spec §6.
type PipelineConfig struct {
	OutputBackpressure BackpressurePolicy `json:"output_backpressure"`
	ShutdownTimeout    time.Duration      `json:"-"`
	// SelfMetricsAddr, when non-empty, binds the ambient Prometheus
	// /metrics endpoint described in SPEC_FULL.md §4.3. Empty disables it.
	SelfMetricsAddr string `json:"self_metrics_addr"`
}

// ControlConfig is the `control.*` section of spec §6/§4.7.
type ControlConfig struct {
	SocketPath string `json:"socket_path"`
}

// RelayConfig is the `relay.*` section of spec §6.
type RelayConfig struct {
	ServerURL     string        `json:"server_url"`
	ListenAddress string        `json:"listen_address"`
	BatchSize     int           `json:"batch_size"`
	MaxBatchDelay time.Duration `json:"-"`
}

// AgentConfig is the root of the pre-parsed configuration tree: the
// `plugins.<name>.*`, `pipeline.*`, `control.*` and `relay.*` keys of
// spec §6. Parsing the outer file format (TOML) is out of scope per
// spec §1 — Load takes already-decoded JSON, standing in for
// whatever upstream parser hands the pipeline its configuration tree.
type AgentConfig struct {
	Plugins  map[string]Table
	Pipeline PipelineConfig
	Control  ControlConfig
	Relay    RelayConfig
}

var defaultPipeline = PipelineConfig{
	OutputBackpressure: Block,
	ShutdownTimeout:    10 * time.Second,
}

var defaultControl = ControlConfig{
	SocketPath: "./alumet-control.sock",
}

var defaultRelay = RelayConfig{
	BatchSize:     1024,
	MaxBatchDelay: 250 * time.Millisecond,
}

// rawAgentConfig mirrors AgentConfig's JSON shape for decoding, using
// string durations (as a pre-parsed config tree would carry them) that
// Load then parses into time.Duration.
type rawAgentConfig struct {
	Plugins  map[string]json.RawMessage `json:"plugins"`
	Pipeline struct {
		OutputBackpressure string `json:"output_backpressure"`
		ShutdownTimeout    string `json:"shutdown_timeout"`
		SelfMetricsAddr    string `json:"self_metrics_addr"`
	} `json:"pipeline"`
	Control struct {
		SocketPath string `json:"socket_path"`
	} `json:"control"`
	Relay struct {
		ServerURL     string `json:"server_url"`
		ListenAddress string `json:"listen_address"`
		BatchSize     int    `json:"batch_size"`
		MaxBatchDelay string `json:"max_batch_delay"`
	} `json:"relay"`
}

// Load validates raw against the embedded schema and decodes it into an
// AgentConfig, filling in defaults for anything left unspecified. Any
// failure is a *Error (ConfigError, spec §7) and should abort agent
// startup.
func Load(raw json.RawMessage) (*AgentConfig, error) {
	if err := validateRoot(raw); err != nil {
		return nil, err
	}

	var rc rawAgentConfig
	if err := json.Unmarshal(raw, &rc); err != nil {
		return nil, wrapConfigError("decode agent config", err)
	}

	cfg := &AgentConfig{
		Plugins:  make(map[string]Table, len(rc.Plugins)),
		Pipeline: defaultPipeline,
		Control:  defaultControl,
		Relay:    defaultRelay,
	}

	for name, raw := range rc.Plugins {
		var t Table
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, wrapConfigError("decode plugin config for "+name, err)
		}
		cfg.Plugins[name] = t
	}

	if rc.Pipeline.OutputBackpressure != "" {
		switch BackpressurePolicy(rc.Pipeline.OutputBackpressure) {
		case Block, DropOldest, DropNew:
			cfg.Pipeline.OutputBackpressure = BackpressurePolicy(rc.Pipeline.OutputBackpressure)
		default:
			return nil, newConfigError("pipeline.output_backpressure: invalid value %q", rc.Pipeline.OutputBackpressure)
		}
	}
	if rc.Pipeline.ShutdownTimeout != "" {
		d, err := time.ParseDuration(rc.Pipeline.ShutdownTimeout)
		if err != nil {
			return nil, wrapConfigError("pipeline.shutdown_timeout", err)
		}
		cfg.Pipeline.ShutdownTimeout = d
	}
	if rc.Pipeline.SelfMetricsAddr != "" {
		cfg.Pipeline.SelfMetricsAddr = rc.Pipeline.SelfMetricsAddr
	}

	if rc.Control.SocketPath != "" {
		cfg.Control.SocketPath = rc.Control.SocketPath
	}

	if rc.Relay.ServerURL != "" {
		cfg.Relay.ServerURL = rc.Relay.ServerURL
	}
	if rc.Relay.ListenAddress != "" {
		cfg.Relay.ListenAddress = rc.Relay.ListenAddress
	}
	if rc.Relay.BatchSize > 0 {
		cfg.Relay.BatchSize = rc.Relay.BatchSize
	}
	if rc.Relay.MaxBatchDelay != "" {
		d, err := time.ParseDuration(rc.Relay.MaxBatchDelay)
		if err != nil {
			return nil, wrapConfigError("relay.max_batch_delay", err)
		}
		cfg.Relay.MaxBatchDelay = d
	}

	return cfg, nil
}
