// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/alumet-project/alumet/pkg/log"
	"github.com/alumet-project/alumet/pkg/measurement"
	"github.com/alumet-project/alumet/pkg/metric"
)

// State is one of the pipeline lifecycle states of spec §5:
// Built -> Running <-> Paused -> Stopping -> Stopped.
type State int

const (
	Built State = iota
	Running
	Paused
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Built:
		return "built"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Pipeline owns every Source, the Transform chain, and every Output of
// a running agent, and drives them through the lifecycle of spec §5.
// Grounded on internal/memorystore/memorystore.go's
// context.WithCancel + sync.WaitGroup background-goroutine shutdown
// idiom, generalized from memorystore's fixed four workers (Retention,
// Checkpointing, Archiving, DataStaging) to a dynamic set of per-source
// and per-output goroutines assembled from plugin registrations.
type Pipeline struct {
	registry *metric.Registry

	mu    sync.Mutex
	state State

	sources []*sourceTask
	chain   *transformChain
	fanout  *outputFanout

	sched  gocron.Scheduler
	cancel context.CancelFunc
	wg     sync.WaitGroup

	shutdownTimeout time.Duration

	transformIn chan *measurement.Buffer
}

// New constructs a Built pipeline from a Builder that plugins have
// already populated during their Start calls.
func New(b *Builder, policy BackpressurePolicy, shutdownTimeout time.Duration) (*Pipeline, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("pipeline: create scheduler: %w", err)
	}

	p := &Pipeline{
		registry:        b.registry,
		state:           Built,
		sched:           sched,
		shutdownTimeout: shutdownTimeout,
		transformIn:     make(chan *measurement.Buffer, 64),
	}

	for _, spec := range b.sources {
		p.sources = append(p.sources, newSourceTask(spec))
	}
	p.chain = newTransformChain(b.transforms)

	fanout := &outputFanout{}
	for _, spec := range b.outputs {
		fanout.workers = append(fanout.workers, newOutputWorker(spec, policy))
	}
	p.fanout = fanout

	return p, nil
}

// Registry exposes the metric registry backing this pipeline, for
// components (relay, control, self-metrics) that need to resolve
// metric.Id <-> name outside of plugin Start calls.
func (p *Pipeline) Registry() *metric.Registry { return p.registry }

// Start transitions Built -> Running: it schedules every Periodic
// source's gocron job, starts the transform goroutine, starts every
// output worker, and starts the scheduler. Calling Start on anything
// but a Built pipeline is an error.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Built {
		return fmt.Errorf("pipeline: Start called in state %s, want %s", p.state, Built)
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for _, w := range p.fanout.workers {
		p.wg.Add(1)
		go w.run(runCtx, &p.wg)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.chain.run(runCtx, p.transformIn, p.fanout)
	}()

	for _, t := range p.sources {
		t := t
		if t.spec.Trigger != Periodic {
			continue
		}
		if err := p.scheduleSource(t, runCtx); err != nil {
			cancel()
			return err
		}
	}
	p.sched.Start()

	p.state = Running
	log.Info("pipeline: started")
	return nil
}

// scheduleSource registers a Periodic source's gocron job(s): one job
// that polls at PollInterval, and — only when FlushInterval exceeds
// PollInterval — a second job that flushes at FlushInterval, batching
// however many polls happened in between into a single buffer (spec
// §4.3's Flushing behavior). When the two intervals are equal (the
// common, default case), a single job polls and flushes every tick,
// matching the pre-batching behavior exactly.
func (p *Pipeline) scheduleSource(t *sourceTask, runCtx context.Context) error {
	job, err := p.sched.NewJob(
		gocron.DurationJob(t.spec.PollInterval),
		gocron.NewTask(func() {
			t.poll(runCtx, p.onSourceEvent)
			if t.spec.FlushInterval <= t.spec.PollInterval {
				t.flush()
				p.drainSource(runCtx, t)
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("pipeline: schedule source %s.%s: %w", t.spec.PluginName, t.spec.SourceName, err)
	}
	t.job = job

	if t.spec.FlushInterval > t.spec.PollInterval {
		flushJob, err := p.sched.NewJob(
			gocron.DurationJob(t.spec.FlushInterval),
			gocron.NewTask(func() {
				t.flush()
				p.drainSource(runCtx, t)
			}),
		)
		if err != nil {
			return fmt.Errorf("pipeline: schedule flush for source %s.%s: %w", t.spec.PluginName, t.spec.SourceName, err)
		}
		t.flushJob = flushJob
	}
	return nil
}

// drainSource forwards anything the source's last flush produced into
// the transform chain's input channel.
func (p *Pipeline) drainSource(ctx context.Context, t *sourceTask) {
	select {
	case buf := <-t.outbox:
		select {
		case p.transformIn <- buf:
		case <-ctx.Done():
			buf.Release()
		}
	default:
	}
}

func (p *Pipeline) onSourceEvent(name, msg string) {
	log.Warnf("pipeline: event source=%s %s", name, msg)
}

// Pause transitions Running -> Paused: every source and output worker
// stops processing, but goroutines and scheduler jobs stay alive so
// Resume is cheap (spec §5).
func (p *Pipeline) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Running {
		return fmt.Errorf("pipeline: Pause called in state %s, want %s", p.state, Running)
	}
	for _, t := range p.sources {
		t.pause()
	}
	for _, w := range p.fanout.workers {
		w.pause()
	}
	p.state = Paused
	log.Info("pipeline: paused")
	return nil
}

// Resume transitions Paused -> Running.
func (p *Pipeline) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Paused {
		return fmt.Errorf("pipeline: Resume called in state %s, want %s", p.state, Paused)
	}
	for _, t := range p.sources {
		t.resume()
	}
	for _, w := range p.fanout.workers {
		w.resume()
	}
	p.state = Running
	log.Info("pipeline: resumed")
	return nil
}

// Stop transitions {Running,Paused} -> Stopping -> Stopped: it cancels
// the run context, stops the scheduler, and waits up to
// shutdownTimeout for every goroutine to drain before returning. A
// timeout logs a shutdown_forced event (spec §5) and returns anyway,
// since a plugin's Output.Write refusing to finish must never hang the
// whole agent's exit.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if p.state != Running && p.state != Paused {
		p.mu.Unlock()
		return fmt.Errorf("pipeline: Stop called in state %s", p.state)
	}
	p.state = Stopping
	cancel := p.cancel
	p.mu.Unlock()

	log.Info("pipeline: stopping")
	_ = p.sched.Shutdown()
	cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.shutdownTimeout):
		log.Warnf("pipeline: shutdown_timeout (%s) exceeded, forcing shutdown", p.shutdownTimeout)
	}

	p.mu.Lock()
	p.state = Stopped
	p.mu.Unlock()
	log.Info("pipeline: stopped")
	return nil
}

// State returns the pipeline's current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SourceRef names one registered source, for callers (internal/control)
// that need to expand a `*`/plugin-name selector (spec §4.7) into a
// concrete set of sources without reaching into Pipeline internals.
type SourceRef struct {
	PluginName string
	SourceName string
}

// Sources lists every registered source's (plugin, name).
func (p *Pipeline) Sources() []SourceRef {
	refs := make([]SourceRef, 0, len(p.sources))
	for _, t := range p.sources {
		refs = append(refs, SourceRef{PluginName: t.spec.PluginName, SourceName: t.spec.SourceName})
	}
	return refs
}

// OutputRef names one registered output, mirroring SourceRef.
type OutputRef struct {
	PluginName string
	OutputName string
}

// Outputs lists every registered output's (plugin, name).
func (p *Pipeline) Outputs() []OutputRef {
	refs := make([]OutputRef, 0, len(p.fanout.workers))
	for _, w := range p.fanout.workers {
		refs = append(refs, OutputRef{PluginName: w.spec.PluginName, OutputName: w.spec.OutputName})
	}
	return refs
}

// TriggerSource advances a Manual source by name immediately, used by
// the control plane's `source trigger` command (spec §4.7).
func (p *Pipeline) TriggerSource(pluginName, sourceName string) error {
	p.mu.Lock()
	runCtx := context.Background()
	state := p.state
	p.mu.Unlock()

	if state != Running && state != Paused {
		return fmt.Errorf("pipeline: cannot trigger source while %s", state)
	}

	for _, t := range p.sources {
		if t.spec.PluginName == pluginName && t.spec.SourceName == sourceName {
			if t.spec.Trigger != Manual {
				return fmt.Errorf("pipeline: source %s.%s is not Manual", pluginName, sourceName)
			}
			t.poll(runCtx, p.onSourceEvent)
			t.flush()
			p.drainSource(runCtx, t)
			return nil
		}
	}
	return fmt.Errorf("pipeline: no such source %s.%s", pluginName, sourceName)
}

// SetSourcePeriod reschedules a Periodic source's poll_interval, used
// by `source set-period` (spec §4.7).
func (p *Pipeline) SetSourcePeriod(pluginName, sourceName string, d time.Duration) error {
	for _, t := range p.sources {
		if t.spec.PluginName == pluginName && t.spec.SourceName == sourceName {
			return t.setPollInterval(p.sched, d, func() {
				t.poll(context.Background(), p.onSourceEvent)
				if t.spec.FlushInterval <= d {
					t.flush()
					p.drainSource(context.Background(), t)
				}
			})
		}
	}
	return fmt.Errorf("pipeline: no such source %s.%s", pluginName, sourceName)
}

// PauseSource / ResumeSource implement the per-source control commands
// (spec §4.7) without affecting the rest of the pipeline.
func (p *Pipeline) PauseSource(pluginName, sourceName string) error {
	for _, t := range p.sources {
		if t.spec.PluginName == pluginName && t.spec.SourceName == sourceName {
			t.pause()
			return nil
		}
	}
	return fmt.Errorf("pipeline: no such source %s.%s", pluginName, sourceName)
}

func (p *Pipeline) ResumeSource(pluginName, sourceName string) error {
	for _, t := range p.sources {
		if t.spec.PluginName == pluginName && t.spec.SourceName == sourceName {
			t.resume()
			return nil
		}
	}
	return fmt.Errorf("pipeline: no such source %s.%s", pluginName, sourceName)
}

// PauseOutput / ResumeOutput implement the per-output control commands.
func (p *Pipeline) PauseOutput(pluginName, outputName string) error {
	for _, w := range p.fanout.workers {
		if w.spec.PluginName == pluginName && w.spec.OutputName == outputName {
			w.pause()
			return nil
		}
	}
	return fmt.Errorf("pipeline: no such output %s.%s", pluginName, outputName)
}

func (p *Pipeline) ResumeOutput(pluginName, outputName string) error {
	for _, w := range p.fanout.workers {
		if w.spec.PluginName == pluginName && w.spec.OutputName == outputName {
			w.resume()
			return nil
		}
	}
	return fmt.Errorf("pipeline: no such output %s.%s", pluginName, outputName)
}
