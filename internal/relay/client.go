// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package relay

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"github.com/alumet-project/alumet/internal/config"
	"github.com/alumet-project/alumet/pkg/log"
	"github.com/alumet-project/alumet/pkg/measurement"
	"github.com/alumet-project/alumet/pkg/metric"
)

// ingestSubject and registerSubject mirror the two logical services of
// proto/relay.proto, carried as NATS subjects scoped to one agent
// (spec §4.6). Both are request/reply: ingest's reply carries the
// reserved re-registration signal a collector raises when it sees an
// id it doesn't recognize, so register must run again before the
// agent's points stop being dropped.
func ingestSubject(agentID string) string   { return "alumet.relay.ingest." + agentID }
func registerSubject(agentID string) string { return "alumet.relay.register." + agentID }

// reconnectBaseDelay/reconnectMaxDelay/reconnectJitter approximate the
// reconnect/backoff behavior of spec §4.6 ("100ms, backing off
// exponentially to a ceiling of 10s, with up to 20% jitter") on top of
// nats.go's CustomReconnectDelayCB hook, the same hook family the
// teacher's pkg/nats/client.go configures (DisconnectErrHandler,
// ReconnectHandler, ErrorHandler).
const (
	reconnectBaseDelay = 100 * time.Millisecond
	reconnectMaxDelay  = 10 * time.Second
	reconnectJitter    = 0.2
)

func reconnectDelay(attempts int) time.Duration {
	d := reconnectBaseDelay * time.Duration(1<<uint(min(attempts, 20)))
	if d > reconnectMaxDelay || d <= 0 {
		d = reconnectMaxDelay
	}
	jitter := 1 + (rand.Float64()*2-1)*reconnectJitter
	return time.Duration(float64(d) * jitter)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Client is the agent side of the relay transport: it registers the
// agent's metric definitions with a collector, then batches and ships
// MeasurementBuffers over NATS (spec §4.6). One Client is bound to one
// agent id and one collector connection.
type Client struct {
	conn    *nats.Conn
	agentID string

	mu        sync.Mutex
	toWireID  map[metric.Id]uint64
	batch     MeasurementBuffer
	batchSize int
	registry  *metric.Registry

	flushInterval time.Duration
	cancel        context.CancelFunc
	wg            sync.WaitGroup

	dropLogLimiter *rate.Limiter
}

// NewClient dials cfg.ServerURL and returns a relay Client for agentID.
// Reconnection is handled by nats.go itself, configured the way the
// teacher's pkg/nats.NewClient configures it, tuned toward spec §4.6's
// backoff envelope via a CustomReconnectDelayCB. The Client value is
// constructed before the options that reference it (ReconnectHandler
// needs to call back into it), then bound to the live connection once
// nats.Connect succeeds.
func NewClient(cfg config.RelayConfig, agentID string) (*Client, error) {
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("relay: server_url is required")
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1024
	}
	flushInterval := cfg.MaxBatchDelay
	if flushInterval <= 0 {
		flushInterval = 250 * time.Millisecond
	}

	c := &Client{
		agentID:        agentID,
		toWireID:       make(map[metric.Id]uint64),
		batchSize:      batchSize,
		flushInterval:  flushInterval,
		dropLogLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}

	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.CustomReconnectDelayCB(func(attempts int) time.Duration {
			return reconnectDelay(attempts)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("relay: disconnected from collector: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("relay: reconnected to collector at %s, re-registering metrics", nc.ConnectedUrl())
			go c.reRegister()
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Errorf("relay: connection error: %v", err)
		}),
	}

	nc, err := nats.Connect(cfg.ServerURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("relay: connect to %s: %w", cfg.ServerURL, err)
	}
	c.conn = nc

	return c, nil
}

// Start begins the background flush loop, publishing the accumulated
// batch every flushInterval even if it has not reached batchSize (spec
// §4.6 "buffers are flushed on a max delay even when not full").
func (c *Client) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := c.Flush(); err != nil {
					log.Warnf("relay: flush failed: %v", err)
				}
			}
		}
	}()
}

// RegisterMetrics sends the agent's metric definitions to the collector
// and records the returned id_for_agent -> id_for_collector mapping
// (spec §4.6). It must be called at least once before Enqueue can
// translate any of the registered ids.
func (c *Client) RegisterMetrics(ctx context.Context, registry *metric.Registry) error {
	var defs MetricDefinitions
	registry.Iter(func(id metric.Id, m metric.Metric) {
		defs.Defs = append(defs.Defs, MetricDef{
			IdForAgent:  uint64(id),
			Name:        m.Name,
			Description: m.Description,
			Type:        wireValueType(m.ValueType),
			Unit:        PrefixedUnit{Prefix: m.Unit.Prefix, BaseUnit: m.Unit.Base},
		})
	})

	msg, err := c.conn.RequestWithContext(ctx, registerSubject(c.agentID), MarshalMetricDefinitions(defs))
	if err != nil {
		return fmt.Errorf("relay: register metrics: %w", err)
	}
	reply, err := UnmarshalRegisterReply(msg.Data)
	if err != nil {
		return fmt.Errorf("relay: decode register reply: %w", err)
	}

	c.mu.Lock()
	c.registry = registry
	for _, m := range reply.Mappings {
		c.toWireID[metric.Id(m.IdForAgent)] = m.IdForCollector
	}
	c.mu.Unlock()
	return nil
}

// reRegister re-sends MetricDefinitions against the registry passed to
// the last successful RegisterMetrics call (spec §4.6: the agent must
// re-register on reconnect, and whenever the collector's ingest reply
// raises the reserved re-registration signal). A no-op before the
// first RegisterMetrics call, since there is nothing to resend yet.
func (c *Client) reRegister() {
	c.mu.Lock()
	registry := c.registry
	c.mu.Unlock()
	if registry == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.RegisterMetrics(ctx, registry); err != nil {
		log.Warnf("relay: re-register metrics: %v", err)
	}
}

func wireValueType(t metric.ValueType) MeasurementValueType {
	if t == metric.F64 {
		return ValueF64
	}
	return ValueU64
}

// Enqueue appends buf's points to the pending batch (translating each
// point's metric id to the collector's id), flushing immediately once
// the batch reaches batchSize (spec §4.6 batch_size). A point whose
// metric has no known translation is dropped and rate-limit logged:
// the collector has not acknowledged that metric yet, most likely
// because RegisterMetrics has not been (re-)run since it was created.
func (c *Client) Enqueue(buf *measurement.Buffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := 0; i < buf.Len(); i++ {
		p := buf.At(i)
		if p.Dropped() {
			continue
		}
		wireID, ok := c.toWireID[p.Metric]
		if !ok {
			if c.dropLogLimiter.Allow() {
				log.Warnf("relay: dropping point for unregistered metric id %d", p.Metric)
			}
			continue
		}
		c.batch.Points = append(c.batch.Points, pointToWire(wireID, p))
	}

	if len(c.batch.Points) >= c.batchSize {
		return c.flushLocked()
	}
	return nil
}

func pointToWire(wireID uint64, p *measurement.Point) MeasurementPoint {
	var wp MeasurementPoint
	if f, ok := p.Value.F64(); ok {
		wp = NewF64Point(wireID, uint64(p.Timestamp.Seconds), p.Timestamp.Nanos, f,
			Resource{Kind: p.Resource.Kind, Id: p.Resource.Id},
			ResourceConsumer{Kind: p.Consumer.Kind, Id: p.Consumer.Id})
	} else {
		u, _ := p.Value.U64()
		wp = NewU64Point(wireID, uint64(p.Timestamp.Seconds), p.Timestamp.Nanos, u,
			Resource{Kind: p.Resource.Kind, Id: p.Resource.Id},
			ResourceConsumer{Kind: p.Consumer.Kind, Id: p.Consumer.Id})
	}
	for _, a := range p.Attributes() {
		wp.Attributes = append(wp.Attributes, attributeToWire(a))
	}
	return wp
}

func attributeToWire(a measurement.Attribute) MeasurementAttribute {
	if v, ok := a.Value.AsString(); ok {
		return AttrString(a.Key, v)
	}
	if v, ok := a.Value.AsU64(); ok {
		return AttrU64(a.Key, v)
	}
	if v, ok := a.Value.AsF64(); ok {
		return AttrF64(a.Key, v)
	}
	v, _ := a.Value.AsBool()
	return AttrBool(a.Key, v)
}

// Flush publishes the pending batch immediately, regardless of size.
func (c *Client) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked()
}

// flushLocked publishes the pending batch as a request rather than a
// fire-and-forget publish, so the collector's IngestReply can carry
// spec §4.6's reserved re-registration signal. Re-registration itself
// runs on its own goroutine: reRegister locks c.mu internally, and
// flushLocked is always called with c.mu already held by its caller.
func (c *Client) flushLocked() error {
	if len(c.batch.Points) == 0 {
		return nil
	}
	payload := MarshalMeasurementBuffer(c.batch)
	c.batch.Points = nil

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg, err := c.conn.RequestWithContext(ctx, ingestSubject(c.agentID), payload)
	if err != nil {
		return fmt.Errorf("relay: publish ingest: %w", err)
	}

	reply, err := UnmarshalIngestReply(msg.Data)
	if err != nil {
		log.Warnf("relay: decode ingest reply: %v", err)
		return nil
	}
	if reply.ReregisterRequired {
		log.Warnf("relay: collector requested re-registration")
		go c.reRegister()
	}
	return nil
}

// Shutdown flushes any pending batch, stops the background flush loop,
// and closes the connection. Bounded by ctx so a collector that is not
// draining fast enough cannot hang agent shutdown past
// pipeline.shutdown_timeout (spec §4.6/§4.3).
func (c *Client) Shutdown(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warnf("relay: shutdown: background flush loop did not stop in time")
	}

	err := c.Flush()
	_ = c.conn.FlushWithContext(ctx)
	c.conn.Close()
	return err
}
