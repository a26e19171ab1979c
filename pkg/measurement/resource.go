// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package measurement

// Resource identifies *what is being measured* (spec §3): a short kind
// tag ("local_machine", "cpu_package", "gpu", "cgroup", ...) plus an
// optional id disambiguating instances of that kind.
type Resource struct {
	Kind string
	Id   string
}

// ResourceConsumer identifies *who consumed* the resource, same shape as
// Resource (e.g. kind "process", id the pid; kind "local_machine" when
// the whole node is both resource and consumer).
type ResourceConsumer struct {
	Kind string
	Id   string
}

// AttributeValue is a tagged union of the value kinds an Attribute may
// carry: string, unsigned 64-bit integer, 64-bit float, or boolean.
type AttributeValue struct {
	kind attrKind
	str  string
	u64  uint64
	f64  float64
	b    bool
}

type attrKind int

const (
	attrString attrKind = iota
	attrU64
	attrF64
	attrBool
)

func StringAttr(v string) AttributeValue  { return AttributeValue{kind: attrString, str: v} }
func U64Attr(v uint64) AttributeValue     { return AttributeValue{kind: attrU64, u64: v} }
func F64Attr(v float64) AttributeValue    { return AttributeValue{kind: attrF64, f64: v} }
func BoolAttr(v bool) AttributeValue      { return AttributeValue{kind: attrBool, b: v} }

func (v AttributeValue) AsString() (string, bool)  { return v.str, v.kind == attrString }
func (v AttributeValue) AsU64() (uint64, bool)      { return v.u64, v.kind == attrU64 }
func (v AttributeValue) AsF64() (float64, bool)     { return v.f64, v.kind == attrF64 }
func (v AttributeValue) AsBool() (bool, bool)       { return v.b, v.kind == attrBool }

// Attribute is a single (key, tagged-value) pair carried on a point.
// Order within a point is irrelevant; duplicate keys on the same point
// are forbidden (enforced by Point.SetAttribute in point.go).
type Attribute struct {
	Key   string
	Value AttributeValue
}
