// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alumet-project/alumet/pkg/measurement"
	"github.com/alumet-project/alumet/pkg/metric"
	"github.com/alumet-project/alumet/pkg/units"
)

type countingSource struct {
	n atomic.Int64
}

func (s *countingSource) Poll(ctx context.Context, buf *measurement.Buffer) error {
	s.n.Add(1)
	return nil
}

type failingSource struct{}

func (failingSource) Poll(ctx context.Context, buf *measurement.Buffer) error {
	return assert.AnError
}

// pointSource appends n fixed points to buf on every poll, for tests
// that need to observe how many points a flush accumulated.
type pointSource struct{ n int }

func (s pointSource) Poll(ctx context.Context, buf *measurement.Buffer) error {
	m := metric.Metric{Id: 1, Name: "m", ValueType: metric.U64, Unit: units.PrefixedUnit{Base: "count"}}
	for i := 0; i < s.n; i++ {
		pt, err := measurement.NewPoint(m, measurement.TimestampNow(), measurement.U64Value(1), measurement.Resource{}, measurement.ResourceConsumer{})
		if err != nil {
			return err
		}
		buf.Append(pt)
	}
	return nil
}

type countingOutput struct {
	mu  sync.Mutex
	got int
}

func (o *countingOutput) Write(ctx context.Context, buf *measurement.Buffer) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.got += buf.Len()
	return nil
}

func (o *countingOutput) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.got
}

func newTestBuilder() (*Builder, *metric.Registry) {
	reg := metric.NewRegistry()
	return newBuilder(reg), reg
}

func TestPipelineLifecycle(t *testing.T) {
	b, _ := newTestBuilder()
	src := &countingSource{}
	out := &countingOutput{}

	require.NoError(t, b.AddSource(SourceSpec{
		PluginName:   "testplugin",
		SourceName:   "src",
		Trigger:      Periodic,
		PollInterval: 10 * time.Millisecond,
	}))
	b.sources[0].Source = src
	b.AddOutput(OutputSpec{PluginName: "testplugin", OutputName: "out", Output: out})

	p, err := New(b, PolicyBlock, time.Second)
	require.NoError(t, err)
	assert.Equal(t, Built, p.State())

	require.NoError(t, p.Start(context.Background()))
	assert.Equal(t, Running, p.State())

	time.Sleep(50 * time.Millisecond)
	assert.Greater(t, src.n.Load(), int64(0))

	require.NoError(t, p.Pause())
	assert.Equal(t, Paused, p.State())

	require.NoError(t, p.Resume())
	assert.Equal(t, Running, p.State())

	require.NoError(t, p.Stop())
	assert.Equal(t, Stopped, p.State())
}

// TestPipelineBatchesFlushInterval exercises a FlushInterval well above
// PollInterval end to end: several polls must accumulate into one
// buffer that reaches the output only once, at the flush tick.
func TestPipelineBatchesFlushInterval(t *testing.T) {
	b, _ := newTestBuilder()
	src := pointSource{n: 2}
	out := &countingOutput{}

	require.NoError(t, b.AddSource(SourceSpec{
		PluginName:    "testplugin",
		SourceName:    "src",
		Trigger:       Periodic,
		PollInterval:  10 * time.Millisecond,
		FlushInterval: 60 * time.Millisecond,
		Source:        src,
	}))
	b.AddOutput(OutputSpec{PluginName: "testplugin", OutputName: "out", Output: out})

	p, err := New(b, PolicyBlock, time.Second)
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, out.count(), "nothing should reach the output before the first flush tick")

	time.Sleep(50 * time.Millisecond)
	assert.Greater(t, out.count(), 2, "a flush should have batched more than one poll's worth of points")

	require.NoError(t, p.Stop())
}

func TestSourceStalledAfterConsecutiveFailures(t *testing.T) {
	spec := SourceSpec{PluginName: "p", SourceName: "s", Trigger: Manual, Source: failingSource{}}
	task := newSourceTask(spec)

	var events []string
	onEvent := func(name, msg string) { events = append(events, msg) }

	for i := 0; i < maxConsecutiveFailures; i++ {
		task.poll(context.Background(), onEvent)
	}

	assert.Contains(t, events, "SourceStalled")
}

func TestOutboxFullDropsFlush(t *testing.T) {
	spec := SourceSpec{PluginName: "p", SourceName: "s", Trigger: Manual, Source: pointSource{n: 1}}
	task := newSourceTask(spec)

	for i := 0; i < defaultOutboxCapacity+2; i++ {
		task.poll(context.Background(), func(string, string) {})
		task.flush()
	}

	assert.Greater(t, task.ticksMissedCount(), uint64(0))
}

func TestFlushBatchesMultiplePolls(t *testing.T) {
	spec := SourceSpec{PluginName: "p", SourceName: "s", Trigger: Manual, Source: pointSource{n: 3}}
	task := newSourceTask(spec)

	for i := 0; i < 4; i++ {
		task.poll(context.Background(), func(string, string) {})
	}
	task.flush()

	select {
	case buf := <-task.outbox:
		assert.Equal(t, 12, buf.Len())
	default:
		t.Fatal("expected a flushed buffer")
	}
}

func TestFlushWithNothingPendingIsNoop(t *testing.T) {
	spec := SourceSpec{PluginName: "p", SourceName: "s", Trigger: Manual, Source: &countingSource{}}
	task := newSourceTask(spec)

	task.flush()

	select {
	case <-task.outbox:
		t.Fatal("expected no buffer on an empty flush")
	default:
	}
}

func TestTransformChainPreservesRegistrationOrder(t *testing.T) {
	var order []string
	mk := func(name string) TransformSpec {
		return TransformSpec{PluginName: name, Transform: transformFunc(func(buf *measurement.Buffer) error {
			order = append(order, name)
			return nil
		})}
	}
	chain := newTransformChain([]TransformSpec{mk("zeta"), mk("alpha"), mk("mu")})
	chain.apply(measurement.NewBuffer())

	assert.Equal(t, []string{"zeta", "alpha", "mu"}, order)
}

func TestTransformErrorPassesThrough(t *testing.T) {
	chain := newTransformChain([]TransformSpec{{
		PluginName: "broken",
		Transform: transformFunc(func(buf *measurement.Buffer) error {
			return assert.AnError
		}),
	}})

	buf := measurement.NewBuffer()
	m := metric.Metric{Id: 1, Name: "m", ValueType: metric.U64, Unit: units.PrefixedUnit{Base: "count"}}
	pt, err := measurement.NewPoint(m, measurement.TimestampNow(), measurement.U64Value(1), measurement.Resource{}, measurement.ResourceConsumer{})
	require.NoError(t, err)
	buf.Append(pt)

	assert.NotPanics(t, func() { chain.apply(buf) })
	assert.Equal(t, 1, buf.Len())
}

func TestOutputFanoutClonesPerWorker(t *testing.T) {
	o1 := &countingOutput{}
	o2 := &countingOutput{}
	fanout := &outputFanout{workers: []*outputWorker{
		newOutputWorker(OutputSpec{PluginName: "p", OutputName: "o1", Output: o1}, PolicyBlock),
		newOutputWorker(OutputSpec{PluginName: "p", OutputName: "o2", Output: o2}, PolicyBlock),
	}}

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())
	for _, w := range fanout.workers {
		wg.Add(1)
		go w.run(ctx, &wg)
	}

	buf := measurement.NewBuffer()
	m := metric.Metric{Id: 1, Name: "m", ValueType: metric.U64, Unit: units.PrefixedUnit{Base: "count"}}
	pt, err := measurement.NewPoint(m, measurement.TimestampNow(), measurement.U64Value(1), measurement.Resource{}, measurement.ResourceConsumer{})
	require.NoError(t, err)
	buf.Append(pt)
	fanout.dispatch(ctx, buf)

	time.Sleep(20 * time.Millisecond)
	cancel()
	wg.Wait()

	assert.Equal(t, 1, o1.count())
	assert.Equal(t, 1, o2.count())
}

func TestOutputWorkerPauseHoldsBuffers(t *testing.T) {
	out := &countingOutput{}
	w := newOutputWorker(OutputSpec{PluginName: "p", OutputName: "o", Output: out}, PolicyBlock)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go w.run(ctx, &wg)

	w.pause()

	m := metric.Metric{Id: 1, Name: "m", ValueType: metric.U64, Unit: units.PrefixedUnit{Base: "count"}}
	buf := measurement.NewBuffer()
	pt, err := measurement.NewPoint(m, measurement.TimestampNow(), measurement.U64Value(1), measurement.Resource{}, measurement.ResourceConsumer{})
	require.NoError(t, err)
	buf.Append(pt)
	w.offer(ctx, buf)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, out.count(), "a paused worker must not write while paused")
	assert.Equal(t, uint64(0), w.pausedDropsCount())

	w.resume()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, out.count(), "resuming must flush what accumulated while paused")

	cancel()
	wg.Wait()
}

func TestOutputWorkerShutdownDropsWhilePaused(t *testing.T) {
	out := &countingOutput{}
	w := newOutputWorker(OutputSpec{PluginName: "p", OutputName: "o", Output: out}, PolicyBlock)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go w.run(ctx, &wg)

	w.pause()

	m := metric.Metric{Id: 1, Name: "m", ValueType: metric.U64, Unit: units.PrefixedUnit{Base: "count"}}
	buf := measurement.NewBuffer()
	pt, err := measurement.NewPoint(m, measurement.TimestampNow(), measurement.U64Value(1), measurement.Resource{}, measurement.ResourceConsumer{})
	require.NoError(t, err)
	buf.Append(pt)
	w.offer(ctx, buf)
	time.Sleep(20 * time.Millisecond)

	cancel()
	wg.Wait()

	assert.Equal(t, 0, out.count(), "shutdown must not write a buffer that was held while paused")
	assert.Equal(t, uint64(1), w.pausedDropsCount())
}

// transformFunc adapts a plain function to the Transform interface, for
// tests that don't need a dedicated named type.
type transformFunc func(buf *measurement.Buffer) error

func (f transformFunc) Apply(buf *measurement.Buffer) error { return f(buf) }
