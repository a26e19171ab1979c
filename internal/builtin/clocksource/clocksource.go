// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package clocksource is a reference Source plugin: it emits a single
// monotonically increasing counter metric on every poll. It exists as a
// core testing fixture and the walkthrough demo of a minimal working
// pipeline, the same role internal/memorystore/lineprotocol.go's own
// in-tree fixtures play for the teacher — not a real hardware probe.
package clocksource

import (
	"context"
	"time"

	"github.com/alumet-project/alumet/internal/config"
	"github.com/alumet-project/alumet/internal/pipeline"
	"github.com/alumet-project/alumet/pkg/measurement"
	"github.com/alumet-project/alumet/pkg/metric"
	"github.com/alumet-project/alumet/pkg/units"
)

const defaultPollInterval = time.Second

// Plugin registers one Periodic source named "ticks" that emits a
// "clocksource_ticks" U64 counter, incrementing by one on every poll.
type Plugin struct {
	pluginName   string
	pollInterval time.Duration

	metricId metric.Id
	count    uint64
}

// New returns an unconfigured Plugin; Init fills in poll_interval from
// the plugin's own config section.
func New() *Plugin {
	return &Plugin{pluginName: "clocksource", pollInterval: defaultPollInterval}
}

func (p *Plugin) Name() string { return p.pluginName }

// Init reads poll_interval (a duration string, default 1s) from cfg.
func (p *Plugin) Init(cfg config.Table) error {
	if s, ok := cfg.String("poll_interval"); ok {
		d, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		p.pollInterval = d
	}
	return nil
}

// Start registers the counter metric and the periodic source.
func (p *Plugin) Start(b *pipeline.Builder) error {
	id, err := b.CreateMetric("clocksource_ticks", metric.U64, units.PrefixedUnit{Base: "count"}, "monotonic tick counter emitted by the clocksource reference plugin")
	if err != nil {
		return err
	}
	p.metricId = id

	return b.AddSource(pipeline.SourceSpec{
		PluginName:   p.pluginName,
		SourceName:   "ticks",
		Trigger:      pipeline.Periodic,
		PollInterval: p.pollInterval,
		Source:       p,
	})
}

// Poll appends one point carrying the current tick count, then
// increments it.
func (p *Plugin) Poll(ctx context.Context, buf *measurement.Buffer) error {
	m := metric.Metric{Id: p.metricId, ValueType: metric.U64}
	pt, err := measurement.NewPoint(m, measurement.TimestampNow(), measurement.U64Value(p.count),
		measurement.Resource{Kind: "local_machine"}, measurement.ResourceConsumer{Kind: "local_machine"})
	if err != nil {
		return err
	}
	buf.Append(pt)
	p.count++
	return nil
}

func (p *Plugin) Stop() error { return nil }
func (p *Plugin) Drop()       {}
