// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package measurement implements Alumet's measurement model (spec §3,
// §4.2): MeasurementPoint, MeasurementBuffer, Resource, ResourceConsumer
// and Attribute.
package measurement

import (
	"fmt"

	"github.com/alumet-project/alumet/pkg/metric"
)

// Value is a typed measurement value matching a Metric's declared
// ValueType. Construction helpers (U64Value/F64Value) are the only
// supported way to build one, so a type mismatch against a metric's
// declared type is caught at construction rather than surfacing as a
// runtime surprise three stages downstream.
type Value struct {
	valueType metric.ValueType
	u64       uint64
	f64       float64
}

// U64Value builds an unsigned 64-bit integer value.
func U64Value(v uint64) Value { return Value{valueType: metric.U64, u64: v} }

// F64Value builds a 64-bit IEEE float value.
func F64Value(v float64) Value { return Value{valueType: metric.F64, f64: v} }

// Type reports the value's declared type.
func (v Value) Type() metric.ValueType { return v.valueType }

// U64 returns the value as an unsigned 64-bit integer; ok is false if
// the value was not constructed with U64Value.
func (v Value) U64() (val uint64, ok bool) {
	return v.u64, v.valueType == metric.U64
}

// F64 returns the value as a 64-bit float; ok is false if the value was
// not constructed with F64Value.
func (v Value) F64() (val float64, ok bool) {
	return v.f64, v.valueType == metric.F64
}

func (v Value) String() string {
	switch v.valueType {
	case metric.U64:
		return fmt.Sprintf("%d", v.u64)
	case metric.F64:
		return fmt.Sprintf("%g", v.f64)
	default:
		return "<invalid value>"
	}
}

// MatchesMetricType reports whether v's type matches m's declared
// value type. Constructing a MeasurementPoint with a mismatched value
// is a programmer error per spec §3, not a runtime condition — callers
// are expected to check this (or rely on NewPoint, which does).
func (v Value) MatchesMetricType(m metric.Metric) bool {
	return v.valueType == m.ValueType
}
