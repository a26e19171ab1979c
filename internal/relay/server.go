// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package relay

import (
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/alumet-project/alumet/pkg/log"
	"github.com/alumet-project/alumet/pkg/measurement"
	"github.com/alumet-project/alumet/pkg/metric"
	"github.com/alumet-project/alumet/pkg/units"
)

// queueGroup load-balances ingest subscriptions across however many
// collector processes are listening, the same QueueSubscribe pattern
// the teacher's pkg/nats/client.go exposes as SubscribeQueue.
const queueGroup = "alumet-relay-collectors"

// BufferHandler receives a decoded MeasurementBuffer from some agent.
// The collector process passes its own output fan-out here (e.g. an
// internal/pipeline.Pipeline fed synthetic sources, or — more simply —
// an output chain driven straight off the relay, bypassing sources and
// transforms entirely since the collector only relays what agents
// already measured and transformed).
type BufferHandler func(agentID string, buf *measurement.Buffer)

// Server is the collector side of the relay transport (spec §4.6): it
// accepts RegisterMetrics requests from agents against its own metric
// registry, and receives their batched MeasurementBuffers, translating
// each wire point back into pkg/measurement's model before handing it
// to a BufferHandler.
type Server struct {
	conn     *nats.Conn
	registry *metric.Registry
	handler  BufferHandler

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewServer connects to listenAddress (a NATS server URL) and returns a
// Server bound to registry. handler is invoked once per received
// MeasurementBuffer, from the NATS library's own delivery goroutine —
// handler must not block for long (mirrors the constraint on
// nats.MsgHandler upstream).
func NewServer(listenAddress string, registry *metric.Registry, handler BufferHandler) (*Server, error) {
	if listenAddress == "" {
		return nil, fmt.Errorf("relay: listen_address is required")
	}

	opts := []nats.Option{
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("relay: agent connection disrupted: %v", err)
			}
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Errorf("relay: server connection error: %v", err)
		}),
	}

	nc, err := nats.Connect(listenAddress, opts...)
	if err != nil {
		return nil, fmt.Errorf("relay: connect to %s: %w", listenAddress, err)
	}

	return &Server{conn: nc, registry: registry, handler: handler}, nil
}

// Serve subscribes to the ingest and register subjects for every agent
// (wildcarded on agent id) and begins processing messages in the
// background. Call Shutdown to unwind.
func (s *Server) Serve() error {
	ingestSub, err := s.conn.QueueSubscribe("alumet.relay.ingest.*", queueGroup, s.handleIngest)
	if err != nil {
		return fmt.Errorf("relay: subscribe ingest: %w", err)
	}

	registerSub, err := s.conn.QueueSubscribe("alumet.relay.register.*", queueGroup, s.handleRegister)
	if err != nil {
		ingestSub.Unsubscribe()
		return fmt.Errorf("relay: subscribe register: %w", err)
	}

	s.mu.Lock()
	s.subs = append(s.subs, ingestSub, registerSub)
	s.mu.Unlock()
	return nil
}

func agentIDFromSubject(subject, prefix string) string {
	if len(subject) <= len(prefix) {
		return ""
	}
	return subject[len(prefix):]
}

func (s *Server) handleIngest(msg *nats.Msg) {
	agentID := agentIDFromSubject(msg.Subject, "alumet.relay.ingest.")

	buf, err := UnmarshalMeasurementBuffer(msg.Data)
	if err != nil {
		log.Warnf("relay: agent %s: malformed MeasurementBuffer: %v", agentID, err)
		return
	}

	unknownMetric := false
	out := measurement.NewBuffer()
	for _, wp := range buf.Points {
		m, ok := s.registry.Get(metric.Id(wp.Metric))
		if !ok {
			log.Warnf("relay: agent %s: unknown collector metric id %d", agentID, wp.Metric)
			unknownMetric = true
			continue
		}

		var value measurement.Value
		if f, ok := wp.F64(); ok {
			value = measurement.F64Value(f)
		} else {
			u, _ := wp.U64()
			value = measurement.U64Value(u)
		}

		pt, err := measurement.NewPoint(
			m,
			measurement.Timestamp{Seconds: int64(wp.TsSecs), Nanos: wp.TsNanos},
			value,
			measurement.Resource{Kind: wp.Resource.Kind, Id: wp.Resource.Id},
			measurement.ResourceConsumer{Kind: wp.Consumer.Kind, Id: wp.Consumer.Id},
		)
		if err != nil {
			log.Warnf("relay: agent %s: %v", agentID, err)
			continue
		}
		for _, wa := range wp.Attributes {
			if err := pt.SetAttribute(wa.Key, attributeFromWire(wa)); err != nil {
				log.Warnf("relay: agent %s: %v", agentID, err)
			}
		}
		out.Append(pt)
	}

	if out.Len() > 0 && s.handler != nil {
		s.handler(agentID, out)
	} else {
		out.Release()
	}

	if msg.Reply != "" {
		reply := IngestReply{ReregisterRequired: unknownMetric}
		if err := msg.Respond(MarshalIngestReply(reply)); err != nil {
			log.Warnf("relay: agent %s: replying to ingest request: %v", agentID, err)
		}
	}
}

func attributeFromWire(a MeasurementAttribute) measurement.AttributeValue {
	if v, ok := a.AsString(); ok {
		return measurement.StringAttr(v)
	}
	if v, ok := a.AsU64(); ok {
		return measurement.U64Attr(v)
	}
	if v, ok := a.AsF64(); ok {
		return measurement.F64Attr(v)
	}
	v, _ := a.AsBool()
	return measurement.BoolAttr(v)
}

func (s *Server) handleRegister(msg *nats.Msg) {
	agentID := agentIDFromSubject(msg.Subject, "alumet.relay.register.")

	defs, err := UnmarshalMetricDefinitions(msg.Data)
	if err != nil {
		log.Warnf("relay: agent %s: malformed MetricDefinitions: %v", agentID, err)
		return
	}

	reply := RegisterReply{Mappings: make([]IdMapping, 0, len(defs.Defs))}
	for _, d := range defs.Defs {
		id, err := s.registry.Register(d.Name, metricValueType(d.Type), unitFromWire(d.Unit), d.Description)
		if err != nil {
			log.Warnf("relay: agent %s: registering metric %q: %v", agentID, d.Name, err)
			continue
		}
		reply.Mappings = append(reply.Mappings, IdMapping{IdForAgent: d.IdForAgent, IdForCollector: uint64(id)})
	}

	if err := msg.Respond(MarshalRegisterReply(reply)); err != nil {
		log.Warnf("relay: agent %s: replying to register request: %v", agentID, err)
	}
}

func metricValueType(t MeasurementValueType) metric.ValueType {
	if t == ValueF64 {
		return metric.F64
	}
	return metric.U64
}

func unitFromWire(u PrefixedUnit) units.PrefixedUnit {
	return units.PrefixedUnit{Prefix: u.Prefix, Base: u.BaseUnit}
}

// Shutdown unsubscribes and closes the collector's NATS connection.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			log.Warnf("relay: unsubscribe: %v", err)
		}
	}
	s.subs = nil
	s.conn.Close()
}
