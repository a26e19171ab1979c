// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package measurement

import (
	"fmt"
	"time"

	"github.com/alumet-project/alumet/pkg/metric"
)

// Timestamp is UTC wall time with nanosecond resolution, as carried on
// the relay wire (spec §6 `ts_secs`/`ts_nanos`).
type Timestamp struct {
	Seconds int64
	Nanos   uint32
}

// TimestampNow returns the current time as a Timestamp.
func TimestampNow() Timestamp {
	return FromTime(time.Now())
}

// FromTime converts a time.Time to a Timestamp (UTC).
func FromTime(t time.Time) Timestamp {
	u := t.UTC()
	return Timestamp{Seconds: u.Unix(), Nanos: uint32(u.Nanosecond())}
}

// Time converts back to a time.Time (UTC).
func (ts Timestamp) Time() time.Time {
	return time.Unix(ts.Seconds, int64(ts.Nanos)).UTC()
}

// Point is one observation: the metric it belongs to, when it was
// taken, its typed value, the resource/consumer pair, and its
// attributes. dropped marks a point a Transform chose to remove without
// physically deleting it from the buffer (spec §4.3: "may mark a point
// as dropped rather than removing it in-place" — this preserves
// downstream attribute joins across the rest of the transform chain).
type Point struct {
	Metric     metric.Id
	Timestamp  Timestamp
	Value      Value
	Resource   Resource
	Consumer   ResourceConsumer
	attributes []Attribute
	dropped    bool
}

// NewPoint constructs a point, validating that value's type matches the
// metric's declared type (spec §3: a type mismatch is a programmer
// error, reported here as an error rather than silently accepted).
func NewPoint(m metric.Metric, ts Timestamp, value Value, resource Resource, consumer ResourceConsumer) (Point, error) {
	if !value.MatchesMetricType(m) {
		return Point{}, fmt.Errorf("measurement: value type %s does not match metric %q declared type %s", value.Type(), m.Name, m.ValueType)
	}
	return Point{
		Metric:    m.Id,
		Timestamp: ts,
		Value:     value,
		Resource:  resource,
		Consumer:  consumer,
	}, nil
}

// SetAttribute appends an attribute, rejecting a duplicate key — spec
// §3: "duplicate keys on one point are forbidden". This is also how
// internal/builtin/tagtransform implements the overwrite-rejection rule
// of §8 scenario 2: the second transform's SetAttribute("tag", ...)
// fails because "tag" is already present, and the transform error is
// logged while the point passes through unchanged (spec §4.3).
func (p *Point) SetAttribute(key string, value AttributeValue) error {
	for _, a := range p.attributes {
		if a.Key == key {
			return fmt.Errorf("measurement: attribute %q already set on point", key)
		}
	}
	p.attributes = append(p.attributes, Attribute{Key: key, Value: value})
	return nil
}

// Attribute performs a linear lookup by key (few attributes per point
// in practice, per spec §4.2).
func (p *Point) Attribute(key string) (AttributeValue, bool) {
	for _, a := range p.attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return AttributeValue{}, false
}

// Attributes returns the point's attributes in insertion order. The
// returned slice must not be mutated by the caller.
func (p *Point) Attributes() []Attribute {
	return p.attributes
}

// Drop marks the point as dropped without removing it from its buffer.
func (p *Point) Drop() { p.dropped = true }

// Dropped reports whether a prior Transform marked this point dropped.
func (p *Point) Dropped() bool { return p.dropped }
