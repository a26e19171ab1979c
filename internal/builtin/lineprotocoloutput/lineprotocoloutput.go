// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package lineprotocoloutput is a reference Output plugin: it encodes
// every buffer as InfluxDB line protocol and appends it to a configured
// file. It is the encode-side counterpart of
// internal/memorystore/lineprotocol.go's decode-side use of the same
// github.com/influxdata/line-protocol/v2 package, and exists as a core
// testing fixture and minimal working demo output, not a domain exporter.
package lineprotocoloutput

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/influxdata/line-protocol/v2/lineprotocol"

	"github.com/alumet-project/alumet/internal/config"
	"github.com/alumet-project/alumet/internal/pipeline"
	"github.com/alumet-project/alumet/pkg/measurement"
	"github.com/alumet-project/alumet/pkg/metric"
)

const defaultMeasurementName = "alumet"

// Plugin writes every point of every buffer it is handed as one line
// protocol line, tagged with the metric name, resource/consumer kind+id
// and every attribute, with the point's value as its single field.
type Plugin struct {
	pluginName string
	path       string

	mu       sync.Mutex
	file     *os.File
	registry *metric.Registry
}

// New returns an unconfigured Plugin; Init reads the output file path
// from the plugin's config section.
func New() *Plugin {
	return &Plugin{pluginName: "lineprotocoloutput"}
}

func (p *Plugin) Name() string { return p.pluginName }

// Init reads the required "path" config key naming the file to append
// encoded lines to.
func (p *Plugin) Init(cfg config.Table) error {
	path, ok := cfg.String("path")
	if !ok || path == "" {
		return fmt.Errorf("lineprotocoloutput: missing required config key \"path\"")
	}
	p.path = path
	return nil
}

// Start opens the output file and registers this plugin as an Output.
func (p *Plugin) Start(b *pipeline.Builder) error {
	f, err := os.OpenFile(p.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("lineprotocoloutput: open %s: %w", p.path, err)
	}
	p.file = f
	p.registry = b.Registry()

	b.AddOutput(pipeline.OutputSpec{PluginName: p.pluginName, OutputName: "file", Output: p})
	return nil
}

// Write encodes every non-dropped point in buf as one line protocol
// line and appends the batch to the output file in one write call.
func (p *Plugin) Write(ctx context.Context, buf *measurement.Buffer) error {
	enc := &lineprotocol.Encoder{}
	enc.SetPrecision(lineprotocol.Nanosecond)

	for i := 0; i < buf.Len(); i++ {
		pt := buf.At(i)
		if pt.Dropped() {
			continue
		}

		m, ok := p.registry.Get(pt.Metric)
		if !ok {
			continue
		}

		enc.StartLine(defaultMeasurementName)
		enc.AddTag("metric", m.Name)
		enc.AddTag("resource_kind", pt.Resource.Kind)
		if pt.Resource.Id != "" {
			enc.AddTag("resource_id", pt.Resource.Id)
		}
		enc.AddTag("consumer_kind", pt.Consumer.Kind)
		if pt.Consumer.Id != "" {
			enc.AddTag("consumer_id", pt.Consumer.Id)
		}
		for _, a := range pt.Attributes() {
			enc.AddTag(a.Key, attributeToString(a.Value))
		}

		value, err := pointValue(pt.Value)
		if err != nil {
			return err
		}
		enc.AddField("value", value)
		enc.EndLine(pt.Timestamp.Time())

		if err := enc.Err(); err != nil {
			return fmt.Errorf("lineprotocoloutput: encode point for metric %q: %w", m.Name, err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.file.Write(enc.Bytes())
	return err
}

func pointValue(v measurement.Value) (lineprotocol.Value, error) {
	if u, ok := v.U64(); ok {
		return lineprotocol.UintValue(u), nil
	}
	if f, ok := v.F64(); ok {
		return lineprotocol.FloatValue(f), nil
	}
	return lineprotocol.Value{}, fmt.Errorf("lineprotocoloutput: point value is neither u64 nor f64")
}

func attributeToString(v measurement.AttributeValue) string {
	if s, ok := v.AsString(); ok {
		return s
	}
	if u, ok := v.AsU64(); ok {
		return fmt.Sprintf("%d", u)
	}
	if f, ok := v.AsF64(); ok {
		return fmt.Sprintf("%g", f)
	}
	if b, ok := v.AsBool(); ok {
		return fmt.Sprintf("%t", b)
	}
	return ""
}

// Stop flushes nothing further (every Write already wrote synchronously)
// and closes the output file.
func (p *Plugin) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file == nil {
		return nil
	}
	return p.file.Close()
}

func (p *Plugin) Drop() {}
