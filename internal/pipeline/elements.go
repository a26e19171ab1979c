// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package pipeline implements Alumet's pipeline runtime (spec §4.3, §5):
// it schedules Sources on timers, routes their buffers through an
// ordered Transform chain, and fans post-transform buffers out to
// Outputs, applying the configured backpressure policy.
package pipeline

import (
	"context"
	"time"

	"github.com/alumet-project/alumet/pkg/measurement"
)

// Source produces a buffer on each poll (spec §4.3). Poll must fill buf
// and return; the runtime owns buf's lifetime outside of the call.
type Source interface {
	Poll(ctx context.Context, buf *measurement.Buffer) error
}

// Transform is a pure function buffer -> buffer: it may mutate points in
// place (including marking them Dropped) but must be total — an error
// degrades to "log and pass the buffer through unchanged" (spec §4.3).
type Transform interface {
	Apply(buf *measurement.Buffer) error
}

// Output consumes a post-transform buffer. Write is allowed to block;
// the runtime is responsible for ensuring a slow Write never stalls
// Sources (bounded per-output inbox + backpressure policy, spec §4.3).
type Output interface {
	Write(ctx context.Context, buf *measurement.Buffer) error
}

// TriggerMode selects how a Source advances (spec §4.3).
type TriggerMode int

const (
	// Periodic sources tick on a fixed poll_interval, first tick at
	// start+poll_interval (never zero-tick).
	Periodic TriggerMode = iota
	// Manual sources advance only when the control plane names them in
	// a `source trigger` command.
	Manual
	// External sources are registered but never scheduled or polled by
	// the runtime; the pipeline offers no entry point through which they
	// could push buffers.
	External
)

// SourceSpec is the declaration a plugin makes at registration time.
type SourceSpec struct {
	PluginName   string
	SourceName   string
	Trigger      TriggerMode
	PollInterval time.Duration // Periodic only; must be > 0.
	// FlushInterval batches every poll since the last flush into one
	// buffer, emitted on its own schedule; >= PollInterval, 0 means
	// "== PollInterval" (no batching, one buffer per poll).
	FlushInterval time.Duration
	Source       Source
}

// TransformSpec is the declaration a plugin makes for a Transform. Chain
// order is the plugin registration order, stabilized by PluginName for
// ties (spec §4.3).
type TransformSpec struct {
	PluginName string
	Transform  Transform
}

// OutputSpec is the declaration a plugin makes for an Output.
type OutputSpec struct {
	PluginName string
	OutputName string
	Output     Output
	// InboxCapacity overrides the default (16) inbox depth (spec §4.3).
	InboxCapacity int
}
