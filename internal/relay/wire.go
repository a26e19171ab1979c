// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package relay implements the Alumet relay transport (spec §4.6, §6):
// an agent-side client that batches MeasurementBuffers and metric
// registrations to a collector, and a collector-side server that
// receives them, over NATS subjects in place of the gRPC streams the
// distilled spec describes (see DESIGN.md's relay transport
// substitution entry — the pack's only message-bus dependency is the
// teacher's pkg/nats, so that is what this package is grounded on).
//
// wire.go hand-encodes the messages of proto/relay.proto directly with
// google.golang.org/protobuf/encoding/protowire: there is no protoc
// invocation in this build, so the wire format is implemented against
// that schema contract rather than generated from it.
package relay

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// MeasurementValueType mirrors proto/relay.proto's enum of the same
// name; kept distinct from metric.ValueType so this package has no
// compile-time dependency on pkg/metric's internal representation.
type MeasurementValueType int32

const (
	ValueU64 MeasurementValueType = 0
	ValueF64 MeasurementValueType = 1
)

// PrefixedUnit is the wire shape of proto/relay.proto's PrefixedUnit.
type PrefixedUnit struct {
	Prefix   string
	BaseUnit string
}

// Resource is the wire shape of proto/relay.proto's Resource.
type Resource struct {
	Kind string
	Id   string
}

// ResourceConsumer is the wire shape of proto/relay.proto's
// ResourceConsumer.
type ResourceConsumer struct {
	Kind string
	Id   string
}

// attribute value kinds, matching MeasurementAttribute's oneof.
type attrKind int32

const (
	attrNone attrKind = iota
	attrStr
	attrU64
	attrF64
	attrBool
)

// MeasurementAttribute is the wire shape of proto/relay.proto's
// MeasurementAttribute. Exactly one of the value fields is meaningful,
// selected by kind; callers build one through the StringAttr/U64Attr/
// F64Attr/BoolAttr helpers rather than setting kind directly.
type MeasurementAttribute struct {
	Key string

	kind attrKind
	str  string
	u64  uint64
	f64  float64
	b    bool
}

func AttrString(key, v string) MeasurementAttribute {
	return MeasurementAttribute{Key: key, kind: attrStr, str: v}
}
func AttrU64(key string, v uint64) MeasurementAttribute {
	return MeasurementAttribute{Key: key, kind: attrU64, u64: v}
}
func AttrF64(key string, v float64) MeasurementAttribute {
	return MeasurementAttribute{Key: key, kind: attrF64, f64: v}
}
func AttrBool(key string, v bool) MeasurementAttribute {
	return MeasurementAttribute{Key: key, kind: attrBool, b: v}
}

// AsString, AsU64, AsF64, AsBool mirror pkg/measurement.AttributeValue's
// accessor shape, so the translation to/from pkg/measurement in
// client.go and server.go reads the same way on both sides of the wire
// boundary.
func (a MeasurementAttribute) AsString() (string, bool)  { return a.str, a.kind == attrStr }
func (a MeasurementAttribute) AsU64() (uint64, bool)     { return a.u64, a.kind == attrU64 }
func (a MeasurementAttribute) AsF64() (float64, bool)    { return a.f64, a.kind == attrF64 }
func (a MeasurementAttribute) AsBool() (bool, bool)      { return a.b, a.kind == attrBool }

// MeasurementPoint is the wire shape of proto/relay.proto's
// MeasurementPoint. Metric carries the collector's metric id
// (id_for_collector): the client rewrites each point's local id through
// the IdMapping table a prior RegisterReply established before sending,
// and the collector looks the id up in its own registry as is (spec §4.6).
type MeasurementPoint struct {
	Metric  uint64
	TsSecs  uint64
	TsNanos uint32

	valueType MeasurementValueType
	valueU64  uint64
	valueF64  float64

	Resource   Resource
	Consumer   ResourceConsumer
	Attributes []MeasurementAttribute
}

func NewU64Point(metric, tsSecs uint64, tsNanos uint32, v uint64, res Resource, con ResourceConsumer) MeasurementPoint {
	return MeasurementPoint{Metric: metric, TsSecs: tsSecs, TsNanos: tsNanos, valueType: ValueU64, valueU64: v, Resource: res, Consumer: con}
}

func NewF64Point(metric, tsSecs uint64, tsNanos uint32, v float64, res Resource, con ResourceConsumer) MeasurementPoint {
	return MeasurementPoint{Metric: metric, TsSecs: tsSecs, TsNanos: tsNanos, valueType: ValueF64, valueF64: v, Resource: res, Consumer: con}
}

func (p MeasurementPoint) ValueType() MeasurementValueType { return p.valueType }
func (p MeasurementPoint) U64() (uint64, bool)             { return p.valueU64, p.valueType == ValueU64 }
func (p MeasurementPoint) F64() (float64, bool)            { return p.valueF64, p.valueType == ValueF64 }

// MeasurementBuffer is the wire shape of proto/relay.proto's
// MeasurementBuffer: the unit the agent ships to the collector on the
// ingest subject.
type MeasurementBuffer struct {
	Points []MeasurementPoint
}

// MetricDef is the wire shape of proto/relay.proto's MetricDef.
type MetricDef struct {
	IdForAgent  uint64
	Name        string
	Description string
	Type        MeasurementValueType
	Unit        PrefixedUnit
}

// MetricDefinitions is the wire shape of proto/relay.proto's
// MetricDefinitions: what the agent sends on the register subject.
type MetricDefinitions struct {
	Defs []MetricDef
}

// IdMapping is the wire shape of proto/relay.proto's IdMapping.
type IdMapping struct {
	IdForAgent     uint64
	IdForCollector uint64
}

// RegisterReply is the wire shape of proto/relay.proto's RegisterReply:
// the collector's response to a MetricDefinitions registration request.
type RegisterReply struct {
	Mappings           []IdMapping
	ReregisterRequired bool
}

// --- Resource / ResourceConsumer ---

func appendResource(dst []byte, num protowire.Number, r Resource) []byte {
	var body []byte
	if r.Kind != "" {
		body = protowire.AppendTag(body, 1, protowire.BytesType)
		body = protowire.AppendString(body, r.Kind)
	}
	if r.Id != "" {
		body = protowire.AppendTag(body, 2, protowire.BytesType)
		body = protowire.AppendString(body, r.Id)
	}
	dst = protowire.AppendTag(dst, num, protowire.BytesType)
	dst = protowire.AppendBytes(dst, body)
	return dst
}

func consumeResource(b []byte) (Resource, error) {
	var r Resource
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			r.Kind = v
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			r.Id = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return r, nil
}

func appendConsumer(dst []byte, num protowire.Number, c ResourceConsumer) []byte {
	return appendResource(dst, num, Resource(c))
}

func consumeConsumer(b []byte) (ResourceConsumer, error) {
	r, err := consumeResource(b)
	return ResourceConsumer(r), err
}

// --- MeasurementAttribute ---

func appendAttribute(dst []byte, a MeasurementAttribute) []byte {
	var body []byte
	body = protowire.AppendTag(body, 1, protowire.BytesType)
	body = protowire.AppendString(body, a.Key)
	switch a.kind {
	case attrStr:
		body = protowire.AppendTag(body, 2, protowire.BytesType)
		body = protowire.AppendString(body, a.str)
	case attrU64:
		body = protowire.AppendTag(body, 3, protowire.VarintType)
		body = protowire.AppendVarint(body, a.u64)
	case attrF64:
		body = protowire.AppendTag(body, 4, protowire.Fixed64Type)
		body = protowire.AppendFixed64(body, math.Float64bits(a.f64))
	case attrBool:
		body = protowire.AppendTag(body, 5, protowire.VarintType)
		body = protowire.AppendVarint(body, boolVarint(a.b))
	}
	dst = protowire.AppendTag(dst, 8, protowire.BytesType)
	dst = protowire.AppendBytes(dst, body)
	return dst
}

func consumeAttribute(b []byte) (MeasurementAttribute, error) {
	var a MeasurementAttribute
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return a, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return a, protowire.ParseError(n)
			}
			a.Key = v
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return a, protowire.ParseError(n)
			}
			a.kind, a.str = attrStr, v
			b = b[n:]
		case 3:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return a, protowire.ParseError(n)
			}
			a.kind, a.u64 = attrU64, v
			b = b[n:]
		case 4:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return a, protowire.ParseError(n)
			}
			a.kind, a.f64 = attrF64, math.Float64frombits(v)
			b = b[n:]
		case 5:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return a, protowire.ParseError(n)
			}
			a.kind, a.b = attrBool, v != 0
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return a, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return a, nil
}

// --- MeasurementPoint ---

func appendPoint(dst []byte, p MeasurementPoint) []byte {
	var body []byte
	if p.Metric != 0 {
		body = protowire.AppendTag(body, 1, protowire.VarintType)
		body = protowire.AppendVarint(body, p.Metric)
	}
	body = protowire.AppendTag(body, 2, protowire.VarintType)
	body = protowire.AppendVarint(body, p.TsSecs)
	if p.TsNanos != 0 {
		body = protowire.AppendTag(body, 3, protowire.VarintType)
		body = protowire.AppendVarint(body, uint64(p.TsNanos))
	}
	switch p.valueType {
	case ValueF64:
		body = protowire.AppendTag(body, 5, protowire.Fixed64Type)
		body = protowire.AppendFixed64(body, math.Float64bits(p.valueF64))
	default:
		body = protowire.AppendTag(body, 4, protowire.VarintType)
		body = protowire.AppendVarint(body, p.valueU64)
	}
	body = appendResource(body, 6, p.Resource)
	body = appendConsumer(body, 7, p.Consumer)
	for _, a := range p.Attributes {
		body = appendAttribute(body, a)
	}
	dst = protowire.AppendTag(dst, 1, protowire.BytesType)
	dst = protowire.AppendBytes(dst, body)
	return dst
}

func consumePoint(b []byte) (MeasurementPoint, error) {
	var p MeasurementPoint
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return p, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return p, protowire.ParseError(n)
			}
			p.Metric = v
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return p, protowire.ParseError(n)
			}
			p.TsSecs = v
			b = b[n:]
		case 3:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return p, protowire.ParseError(n)
			}
			p.TsNanos = uint32(v)
			b = b[n:]
		case 4:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return p, protowire.ParseError(n)
			}
			p.valueType, p.valueU64 = ValueU64, v
			b = b[n:]
		case 5:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return p, protowire.ParseError(n)
			}
			p.valueType, p.valueF64 = ValueF64, math.Float64frombits(v)
			b = b[n:]
		case 6:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return p, protowire.ParseError(n)
			}
			r, err := consumeResource(v)
			if err != nil {
				return p, err
			}
			p.Resource = r
			b = b[n:]
		case 7:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return p, protowire.ParseError(n)
			}
			c, err := consumeConsumer(v)
			if err != nil {
				return p, err
			}
			p.Consumer = c
			b = b[n:]
		case 8:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return p, protowire.ParseError(n)
			}
			a, err := consumeAttribute(v)
			if err != nil {
				return p, err
			}
			p.Attributes = append(p.Attributes, a)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return p, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return p, nil
}

// --- MeasurementBuffer ---

// MarshalMeasurementBuffer encodes buf as it travels the ingest subject
// (spec §4.6, proto/relay.proto MeasurementBuffer).
func MarshalMeasurementBuffer(buf MeasurementBuffer) []byte {
	var out []byte
	for _, p := range buf.Points {
		out = appendPoint(out, p)
	}
	return out
}

// UnmarshalMeasurementBuffer decodes the bytes published on the ingest
// subject back into a MeasurementBuffer.
func UnmarshalMeasurementBuffer(data []byte) (MeasurementBuffer, error) {
	var buf MeasurementBuffer
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return buf, protowire.ParseError(n)
		}
		b = b[n:]
		if num != 1 || typ != protowire.BytesType {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return buf, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return buf, protowire.ParseError(n)
		}
		p, err := consumePoint(v)
		if err != nil {
			return buf, fmt.Errorf("relay: decode MeasurementBuffer: %w", err)
		}
		buf.Points = append(buf.Points, p)
		b = b[n:]
	}
	return buf, nil
}

// --- PrefixedUnit / MetricDef / MetricDefinitions ---

func appendUnit(dst []byte, num protowire.Number, u PrefixedUnit) []byte {
	var body []byte
	if u.Prefix != "" {
		body = protowire.AppendTag(body, 1, protowire.BytesType)
		body = protowire.AppendString(body, u.Prefix)
	}
	if u.BaseUnit != "" {
		body = protowire.AppendTag(body, 2, protowire.BytesType)
		body = protowire.AppendString(body, u.BaseUnit)
	}
	dst = protowire.AppendTag(dst, num, protowire.BytesType)
	dst = protowire.AppendBytes(dst, body)
	return dst
}

func consumeUnit(b []byte) (PrefixedUnit, error) {
	var u PrefixedUnit
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return u, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return u, protowire.ParseError(n)
			}
			u.Prefix = v
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return u, protowire.ParseError(n)
			}
			u.BaseUnit = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return u, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return u, nil
}

func appendMetricDef(dst []byte, d MetricDef) []byte {
	var body []byte
	body = protowire.AppendTag(body, 1, protowire.VarintType)
	body = protowire.AppendVarint(body, d.IdForAgent)
	body = protowire.AppendTag(body, 2, protowire.BytesType)
	body = protowire.AppendString(body, d.Name)
	if d.Description != "" {
		body = protowire.AppendTag(body, 3, protowire.BytesType)
		body = protowire.AppendString(body, d.Description)
	}
	body = protowire.AppendTag(body, 4, protowire.VarintType)
	body = protowire.AppendVarint(body, uint64(d.Type))
	body = appendUnit(body, 5, d.Unit)

	dst = protowire.AppendTag(dst, 1, protowire.BytesType)
	dst = protowire.AppendBytes(dst, body)
	return dst
}

func consumeMetricDef(b []byte) (MetricDef, error) {
	var d MetricDef
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return d, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return d, protowire.ParseError(n)
			}
			d.IdForAgent = v
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return d, protowire.ParseError(n)
			}
			d.Name = v
			b = b[n:]
		case 3:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return d, protowire.ParseError(n)
			}
			d.Description = v
			b = b[n:]
		case 4:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return d, protowire.ParseError(n)
			}
			d.Type = MeasurementValueType(v)
			b = b[n:]
		case 5:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return d, protowire.ParseError(n)
			}
			u, err := consumeUnit(v)
			if err != nil {
				return d, err
			}
			d.Unit = u
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return d, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return d, nil
}

// MarshalMetricDefinitions encodes defs as sent on the registration
// subject (spec §4.6 "the agent registers its metric definitions
// before streaming measurements").
func MarshalMetricDefinitions(defs MetricDefinitions) []byte {
	var out []byte
	for _, d := range defs.Defs {
		out = appendMetricDef(out, d)
	}
	return out
}

// UnmarshalMetricDefinitions decodes a registration request.
func UnmarshalMetricDefinitions(data []byte) (MetricDefinitions, error) {
	var defs MetricDefinitions
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return defs, protowire.ParseError(n)
		}
		b = b[n:]
		if num != 1 || typ != protowire.BytesType {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return defs, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return defs, protowire.ParseError(n)
		}
		d, err := consumeMetricDef(v)
		if err != nil {
			return defs, fmt.Errorf("relay: decode MetricDefinitions: %w", err)
		}
		defs.Defs = append(defs.Defs, d)
		b = b[n:]
	}
	return defs, nil
}

// --- IdMapping / RegisterReply ---

func appendIdMapping(dst []byte, m IdMapping) []byte {
	var body []byte
	body = protowire.AppendTag(body, 1, protowire.VarintType)
	body = protowire.AppendVarint(body, m.IdForAgent)
	body = protowire.AppendTag(body, 2, protowire.VarintType)
	body = protowire.AppendVarint(body, m.IdForCollector)

	dst = protowire.AppendTag(dst, 1, protowire.BytesType)
	dst = protowire.AppendBytes(dst, body)
	return dst
}

func consumeIdMapping(b []byte) (IdMapping, error) {
	var m IdMapping
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, protowire.ParseError(n)
			}
			m.IdForAgent = v
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, protowire.ParseError(n)
			}
			m.IdForCollector = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return m, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return m, nil
}

// MarshalRegisterReply encodes the collector's reply to a
// MetricDefinitions request (spec §4.6 IdMapping table).
func MarshalRegisterReply(reply RegisterReply) []byte {
	var out []byte
	for _, m := range reply.Mappings {
		out = appendIdMapping(out, m)
	}
	if reply.ReregisterRequired {
		out = protowire.AppendTag(out, 2, protowire.VarintType)
		out = protowire.AppendVarint(out, boolVarint(true))
	}
	return out
}

// UnmarshalRegisterReply decodes a collector's RegisterReply.
func UnmarshalRegisterReply(data []byte) (RegisterReply, error) {
	var reply RegisterReply
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return reply, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return reply, protowire.ParseError(n)
			}
			m, err := consumeIdMapping(v)
			if err != nil {
				return reply, fmt.Errorf("relay: decode RegisterReply: %w", err)
			}
			reply.Mappings = append(reply.Mappings, m)
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return reply, protowire.ParseError(n)
			}
			reply.ReregisterRequired = v != 0
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return reply, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return reply, nil
}

func boolVarint(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// --- IngestReply ---

// IngestReply is the wire shape of proto/relay.proto's IngestReply: the
// collector's acknowledgement of an ingest request. ReregisterRequired
// is the reserved error code of spec §4.6 — the collector sets it when
// a MeasurementBuffer referenced a metric id it does not recognize, and
// the agent is expected to re-send MetricDefinitions and retry rather
// than keep dropping points against a stale mapping.
type IngestReply struct {
	ReregisterRequired bool
}

// MarshalIngestReply encodes the collector's reply to an ingest request.
func MarshalIngestReply(reply IngestReply) []byte {
	var out []byte
	if reply.ReregisterRequired {
		out = protowire.AppendTag(out, 1, protowire.VarintType)
		out = protowire.AppendVarint(out, boolVarint(true))
	}
	return out
}

// UnmarshalIngestReply decodes a collector's IngestReply.
func UnmarshalIngestReply(data []byte) (IngestReply, error) {
	var reply IngestReply
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return reply, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return reply, protowire.ParseError(n)
			}
			reply.ReregisterRequired = v != 0
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return reply, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return reply, nil
}
