// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/alumet-project/alumet/pkg/log"
	"github.com/alumet-project/alumet/pkg/measurement"
)

// defaultOutboxCapacity is the per-source buffered channel depth of
// spec §4.3: a Source that outruns its consumer drops the tick and
// counts it, instead of blocking the scheduler.
const defaultOutboxCapacity = 4

// defaultInboxCapacity is the default per-output inbox depth (spec §4.3).
const defaultInboxCapacity = 16

// maxConsecutiveFailures triggers a SourceStalled event (spec §8).
const maxConsecutiveFailures = 3

// maxFailuresPerMinute triggers auto-disable (spec §8).
const maxFailuresPerMinute = 10

// sourceTask owns one Source's lifetime inside a running pipeline: its
// scheduler job (for Periodic sources), its outbox, and its failure
// bookkeeping. Grounded on the gocron scheduler lifecycle of
// internal/taskManager/taskManager.go (register job -> s.Start ->
// s.Shutdown), generalized from one process-wide scheduler to one
// gocron.Job per registered source.
type sourceTask struct {
	spec SourceSpec

	outbox chan *measurement.Buffer

	pendMu  sync.Mutex
	pending *measurement.Buffer // points accumulated since the last flush

	mu                  sync.Mutex
	consecutiveFailures int
	recentFailures      []time.Time
	disabled            bool
	ticksMissed         uint64
	paused              atomic.Bool

	job      gocron.Job // nil for Manual/External sources
	flushJob gocron.Job // nil unless FlushInterval > PollInterval
}

func newSourceTask(spec SourceSpec) *sourceTask {
	cap := defaultOutboxCapacity
	return &sourceTask{
		spec:   spec,
		outbox: make(chan *measurement.Buffer, cap),
	}
}

// poll runs one tick of the source: allocate a buffer, call Poll, and
// append the result onto the pending accumulator, or record a failure.
// onEvent reports SourceStalled / auto-disable transitions to the
// pipeline's event log. poll never itself hands anything to the outbox
// — flush does, on its own schedule, so that FlushInterval polls can be
// batched into one buffer (spec §4.3's Flushing behavior).
func (t *sourceTask) poll(ctx context.Context, onEvent func(name string, msg string)) {
	if t.paused.Load() {
		return
	}
	t.mu.Lock()
	if t.disabled {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	buf := measurement.NewBuffer()
	err := t.spec.Source.Poll(ctx, buf)
	if err != nil {
		buf.Release()
		t.recordFailure(onEvent)
		return
	}
	t.recordSuccess()

	t.pendMu.Lock()
	if t.pending == nil {
		t.pending = measurement.NewBuffer()
	}
	t.pending.Extend(buf)
	t.pendMu.Unlock()
	buf.Release()
}

// flush moves everything accumulated since the last flush onto the
// outbox as one buffer, counting and dropping it if the outbox is full
// (the consumer is outrunning flushes rather than polls, spec §4.3). A
// tick with nothing pending is a no-op: when PollInterval ==
// FlushInterval this runs on every poll, so it is also what keeps the
// no-batching default case behaving exactly as before. When
// FlushInterval > PollInterval, this runs on its own slower schedule
// and is what guarantees a flush at least every flush_interval even
// while the source keeps ticking quietly in between.
func (t *sourceTask) flush() {
	t.pendMu.Lock()
	pending := t.pending
	t.pending = nil
	t.pendMu.Unlock()

	if pending == nil || pending.Len() == 0 {
		if pending != nil {
			pending.Release()
		}
		return
	}

	select {
	case t.outbox <- pending:
	default:
		atomic.AddUint64(&t.ticksMissed, 1)
		pending.Release()
		log.Warnf("pipeline: source %s.%s outbox full, dropping flush", t.spec.PluginName, t.spec.SourceName)
	}
}

func (t *sourceTask) recordSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consecutiveFailures = 0
}

func (t *sourceTask) recordFailure(onEvent func(name, msg string)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.consecutiveFailures++
	t.recentFailures = append(t.recentFailures, now)
	cutoff := now.Add(-1 * time.Minute)
	kept := t.recentFailures[:0]
	for _, ts := range t.recentFailures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	t.recentFailures = kept

	name := t.spec.PluginName + "." + t.spec.SourceName
	if t.consecutiveFailures == maxConsecutiveFailures {
		log.Warnf("pipeline: source %s stalled after %d consecutive failures", name, t.consecutiveFailures)
		onEvent(name, "SourceStalled")
	}
	if len(t.recentFailures) >= maxFailuresPerMinute && !t.disabled {
		t.disabled = true
		log.Errorf("pipeline: source %s disabled after %d failures in the last minute", name, len(t.recentFailures))
		onEvent(name, "SourceAutoDisabled")
	}
}

// ticksMissedCount returns the number of outbox-full drops seen so far.
func (t *sourceTask) ticksMissedCount() uint64 { return atomic.LoadUint64(&t.ticksMissed) }

func (t *sourceTask) pause()  { t.paused.Store(true) }
func (t *sourceTask) resume() { t.paused.Store(false) }

func (t *sourceTask) isDisabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disabled
}

// setPollInterval reschedules a Periodic source's job to a new period,
// honoring a `source set-period` control command (spec §4.7). It is a
// no-op for Manual/External sources.
func (t *sourceTask) setPollInterval(sched gocron.Scheduler, d time.Duration, onTick func()) error {
	if t.spec.Trigger != Periodic {
		return nil
	}
	t.spec.PollInterval = d
	if t.job != nil {
		if err := sched.RemoveJob(t.job.ID()); err != nil {
			return err
		}
	}
	j, err := sched.NewJob(
		gocron.DurationJob(d),
		gocron.NewTask(onTick),
	)
	if err != nil {
		return err
	}
	t.job = j
	return nil
}
