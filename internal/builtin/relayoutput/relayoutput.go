// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package relayoutput adapts an internal/relay.Client to pipeline.Output,
// so an agent can ship every buffer to a remote collector the same way
// it would write to any other output, rather than the core treating
// relay as a special case of the pipeline (spec §4.6).
package relayoutput

import (
	"context"
	"fmt"
	"time"

	"github.com/alumet-project/alumet/internal/config"
	"github.com/alumet-project/alumet/internal/pipeline"
	"github.com/alumet-project/alumet/internal/relay"
	"github.com/alumet-project/alumet/pkg/measurement"
)

// Plugin forwards every buffer handed to it to a relay.Client, which
// batches and ships points to a remote collector over NATS.
type Plugin struct {
	pluginName string
	agentID    string
	cfg        config.RelayConfig

	client *relay.Client
}

// New returns an unconfigured Plugin bound to agentID, the identifier
// this agent registers its metrics under with the collector.
func New(agentID string) *Plugin {
	return &Plugin{pluginName: "relayoutput", agentID: agentID}
}

func (p *Plugin) Name() string { return p.pluginName }

// Init reads the relay.* section (server_url, batch_size, max_batch_delay)
// from cfg; server_url is required.
func (p *Plugin) Init(cfg config.Table) error {
	url, ok := cfg.String("server_url")
	if !ok || url == "" {
		return fmt.Errorf("relayoutput: missing required config key \"server_url\"")
	}
	p.cfg.ServerURL = url

	if n, ok := cfg.Int("batch_size"); ok {
		p.cfg.BatchSize = int(n)
	}
	if d, ok := cfg.String("max_batch_delay"); ok {
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return fmt.Errorf("relayoutput: max_batch_delay: %w", err)
		}
		p.cfg.MaxBatchDelay = parsed
	}
	return nil
}

// Start dials the collector, registers every metric already known to
// the pipeline's registry, and registers itself as an Output.
func (p *Plugin) Start(b *pipeline.Builder) error {
	client, err := relay.NewClient(p.cfg, p.agentID)
	if err != nil {
		return fmt.Errorf("relayoutput: %w", err)
	}
	if err := client.RegisterMetrics(context.Background(), b.Registry()); err != nil {
		return fmt.Errorf("relayoutput: register metrics: %w", err)
	}
	client.Start(context.Background())
	p.client = client

	b.AddOutput(pipeline.OutputSpec{PluginName: p.pluginName, OutputName: "relay", Output: p})
	return nil
}

// Write enqueues buf with the relay client, flushing immediately once
// the configured batch size is reached.
func (p *Plugin) Write(ctx context.Context, buf *measurement.Buffer) error {
	return p.client.Enqueue(buf)
}

// Stop flushes any pending batch and closes the collector connection.
// It passes Client.Shutdown a context with no deadline, so the agent's
// shutdown_timeout does not bound this wait.
func (p *Plugin) Stop() error {
	if p.client == nil {
		return nil
	}
	return p.client.Shutdown(context.Background())
}

func (p *Plugin) Drop() {}
