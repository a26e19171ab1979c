// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pipeline

import (
	"fmt"

	"github.com/alumet-project/alumet/pkg/metric"
	"github.com/alumet-project/alumet/pkg/units"
)

// Builder is the only channel through which a plugin may register
// metrics, sources, transforms, or outputs (spec §4.4). The plugin
// manager hands one shared Builder to every plugin's Start, in load
// order, and invalidates it once the last Start has returned; until then
// a plugin whose own Start has already returned can still use it. This
// breaks the conceptual Builder -> plugin ->
// Source -> Pipeline cycle noted in spec §9: ownership flows one way
// (Pipeline owns Sources), and a Source only ever reaches back into the
// Pipeline through the narrow capability handle passed at callback time,
// never through the Builder itself.
type Builder struct {
	registry *metric.Registry
	valid    bool

	sources    []SourceSpec
	transforms []TransformSpec
	outputs    []OutputSpec
}

func newBuilder(registry *metric.Registry) *Builder {
	return &Builder{registry: registry, valid: true}
}

// NewBuilder returns a fresh, valid Builder bound to registry. Callers
// outside this package (the plugin manager, tests) use this to obtain
// the Builder passed to each plugin's Start.
func NewBuilder(registry *metric.Registry) *Builder {
	return newBuilder(registry)
}

// Invalidate marks b unusable; exported so the plugin manager can
// enforce the "valid only during Start" rule of spec §4.4 from outside
// this package.
func (b *Builder) Invalidate() { b.invalidate() }

// invalidate is reached through Invalidate, which the plugin manager
// calls once every plugin's Start has returned; any further use of the
// Builder from a stray goroutine panics rather than silently registering
// into a pipeline that has moved on.
func (b *Builder) invalidate() { b.valid = false }

func (b *Builder) checkValid() {
	if !b.valid {
		panic("pipeline: Builder used after the plugins' Start calls returned")
	}
}

// Registry exposes the metric registry this Builder writes into, for
// callers (internal/pluginabi) that need to resolve metric ids back to
// names/types while decoding a dynamic plugin's buffer.
func (b *Builder) Registry() *metric.Registry { return b.registry }

// CreateMetric registers a metric, exactly mirroring the registry
// operation of spec §4.1.
func (b *Builder) CreateMetric(name string, valueType metric.ValueType, unit units.PrefixedUnit, description string) (metric.Id, error) {
	b.checkValid()
	return b.registry.Register(name, valueType, unit, description)
}

// AddSource registers a Source under the given plugin/source name.
func (b *Builder) AddSource(spec SourceSpec) error {
	b.checkValid()
	if spec.Trigger == Periodic && spec.PollInterval <= 0 {
		return fmt.Errorf("pipeline: source %s.%s: poll_interval must be > 0", spec.PluginName, spec.SourceName)
	}
	if spec.FlushInterval == 0 {
		spec.FlushInterval = spec.PollInterval
	}
	if spec.FlushInterval < spec.PollInterval {
		return fmt.Errorf("pipeline: source %s.%s: flush_interval must be >= poll_interval", spec.PluginName, spec.SourceName)
	}
	b.sources = append(b.sources, spec)
	return nil
}

// AddTransform appends a Transform to the chain, in registration order.
func (b *Builder) AddTransform(spec TransformSpec) {
	b.checkValid()
	b.transforms = append(b.transforms, spec)
}

// AddOutput registers an Output under the given plugin/output name.
func (b *Builder) AddOutput(spec OutputSpec) {
	b.checkValid()
	if spec.InboxCapacity <= 0 {
		spec.InboxCapacity = defaultInboxCapacity
	}
	b.outputs = append(b.outputs, spec)
}
