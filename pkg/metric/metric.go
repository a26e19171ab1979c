// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metric implements Alumet's metrics registry (spec §3, §4.1):
// the authoritative in-process table mapping a metric name to a stable
// numeric id and its immutable definition.
package metric

import "github.com/alumet-project/alumet/pkg/units"

// ValueType is the declared storage type of a Metric's values. Chosen at
// registration time and immutable afterwards.
type ValueType int

const (
	// U64 values are unsigned 64-bit integers (e.g. byte/event counters).
	U64 ValueType = iota
	// F64 values are 64-bit IEEE floats (e.g. utilization percentages).
	F64
)

func (t ValueType) String() string {
	switch t {
	case U64:
		return "u64"
	case F64:
		return "f64"
	default:
		return "invalid"
	}
}

// Id is a stable, process-lifetime-scoped handle assigned by the
// registry on registration. Ids are never reused, even across an
// (unsupported) unregistration, since nothing in the source this spec
// was distilled from exercises metric unregistration (see DESIGN.md).
type Id uint64

// Metric is the essential, immutable description of a named measurement
// kind: its declared value type, its unit, and a human description.
type Metric struct {
	Id          Id
	Name        string
	Description string
	ValueType   ValueType
	Unit        units.PrefixedUnit
}
