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

	"golang.org/x/time/rate"

	"github.com/alumet-project/alumet/pkg/log"
	"github.com/alumet-project/alumet/pkg/measurement"
)

// errorLogLimiter throttles output-write failure and paused-drop log
// lines to one per second, so a persistently broken Output does not
// flood the log with a message on every buffer (spec §7). It is a single
// limiter shared by every output worker in the process.
// Grounded on golang.org/x/time/rate, already a teacher-adjacent
// ecosystem dependency for exactly this "don't repeat yourself" pattern.
var errorLogLimiter = rate.NewLimiter(rate.Every(time.Second), 1)

// outputWorker owns one Output's inbox goroutine and applies the
// configured backpressure policy when the inbox is full.
type outputWorker struct {
	spec   OutputSpec
	policy BackpressurePolicy
	inbox  chan *measurement.Buffer

	mu        sync.Mutex
	paused    bool
	resumeSig chan struct{}

	pausedDrops uint64
}

// BackpressurePolicy mirrors config.BackpressurePolicy without creating
// an import-cycle between pipeline and config; the pipeline builder
// translates config.BackpressurePolicy into this type at construction.
type BackpressurePolicy int

const (
	PolicyBlock BackpressurePolicy = iota
	PolicyDropOldest
	PolicyDropNew
)

func newOutputWorker(spec OutputSpec, policy BackpressurePolicy) *outputWorker {
	cap := spec.InboxCapacity
	if cap <= 0 {
		cap = defaultInboxCapacity
	}
	return &outputWorker{
		spec:      spec,
		policy:    policy,
		inbox:     make(chan *measurement.Buffer, cap),
		resumeSig: make(chan struct{}),
	}
}

// offer enqueues buf according to the worker's backpressure policy
// (spec §4.3): block waits for room (or ctx cancellation), drop_oldest
// evicts the head of the inbox to make room, drop_new discards buf
// itself when the inbox is full.
func (w *outputWorker) offer(ctx context.Context, buf *measurement.Buffer) {
	switch w.policy {
	case PolicyBlock:
		select {
		case w.inbox <- buf:
		case <-ctx.Done():
			buf.Release()
		}
	case PolicyDropOldest:
		for {
			select {
			case w.inbox <- buf:
				return
			default:
			}
			select {
			case old := <-w.inbox:
				old.Release()
			default:
			}
		}
	case PolicyDropNew:
		select {
		case w.inbox <- buf:
		default:
			buf.Release()
		}
	}
}

func (w *outputWorker) pause() {
	w.mu.Lock()
	w.paused = true
	w.mu.Unlock()
}

// resume releases a paused worker: run's steady-state loop picks the
// inbox back up on its next iteration, and whatever accumulated there
// while paused is written out from oldest to newest.
func (w *outputWorker) resume() {
	w.mu.Lock()
	if w.paused {
		w.paused = false
		close(w.resumeSig)
		w.resumeSig = make(chan struct{})
	}
	w.mu.Unlock()
}

func (w *outputWorker) isPaused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

// waitResume returns the channel that closes the next time resume is
// called; read under the lock so it can't race a concurrent resume.
func (w *outputWorker) waitResume() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.resumeSig
}

func (w *outputWorker) pausedDropsCount() uint64 {
	return atomic.LoadUint64(&w.pausedDrops)
}

// run drains the inbox until ctx is cancelled and the inbox is empty.
// A paused worker stops dequeuing entirely (spec §4.7 "hold or release
// an output worker"): it never touches the inbox until resumed, so
// buffers pile up there under the same backpressure policy offer()
// already applies to a slow Output, instead of being silently written
// off as dropped. Shutdown is the one exception — ctx.Done() drains
// and releases whatever is still queued regardless of pause state, so
// a paused output can never block shutdown past shutdown_timeout.
func (w *outputWorker) run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		if w.isPaused() {
			select {
			case <-w.waitResume():
				continue
			case <-ctx.Done():
				w.drain(ctx)
				return
			}
		}
		select {
		case buf := <-w.inbox:
			// A pause that lands while this select was already waiting
			// holds the dequeued buffer until resume (or shutdown).
			resumed := w.waitResume()
			if w.isPaused() {
				select {
				case <-resumed:
				case <-ctx.Done():
				}
			}
			w.write(ctx, buf)
		case <-ctx.Done():
			w.drain(ctx)
			return
		}
	}
}

// drain releases whatever remains queued at shutdown. A buffer found
// while the worker is paused is counted and released unwritten rather
// than handed to the Output (spec §4.3's shutdown_timeout bounds
// shutdown; it cannot wait indefinitely for an operator to resume).
func (w *outputWorker) drain(ctx context.Context) {
	for {
		select {
		case buf := <-w.inbox:
			w.write(ctx, buf)
		default:
			return
		}
	}
}

func (w *outputWorker) write(ctx context.Context, buf *measurement.Buffer) {
	defer buf.Release()
	if w.isPaused() {
		atomic.AddUint64(&w.pausedDrops, 1)
		if errorLogLimiter.Allow() {
			log.Warnf("pipeline: output %s.%s paused, dropping buffer at shutdown", w.spec.PluginName, w.spec.OutputName)
		}
		return
	}
	if err := w.spec.Output.Write(ctx, buf); err != nil {
		if errorLogLimiter.Allow() {
			log.Errorf("pipeline: output %s.%s write failed: %v", w.spec.PluginName, w.spec.OutputName, err)
		}
	}
}

// outputFanout holds every output worker of a running pipeline and
// forwards each post-transform buffer to all of them. Each output gets
// its own clone so that one output's Dropped markers or mutations
// never affect another's view of the data.
type outputFanout struct {
	workers []*outputWorker
}

func (f *outputFanout) dispatch(ctx context.Context, buf *measurement.Buffer) {
	n := len(f.workers)
	if n == 0 {
		buf.Release()
		return
	}
	for i, w := range f.workers {
		if i == n-1 {
			w.offer(ctx, buf)
			return
		}
		w.offer(ctx, buf.Clone())
	}
}
