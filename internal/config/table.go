// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config implements Alumet's configuration tree (spec §1, §6):
// the pipeline and its plugins receive a pre-parsed table of tables —
// this package never parses TOML or CLI flags itself, only validates
// and exposes the tree an outer layer (not part of this spec) handed it.
package config

// Table is a node of the pre-parsed configuration tree: a table of
// string keys to scalars, nested Tables, or Arrays. It backs both
// plugin.Plugin.Init's config_section argument and the ABI's
// ConfigTable accessors of spec §4.5/§6 — the same tree is read from
// both Go-native and dynamic (cgo) plugins.
type Table map[string]any

// Array is a config array, positionally indexed per spec §4.5.
type Array []any

// String returns a string value for key, or ok=false if absent or of a
// different type.
func (t Table) String(key string) (string, bool) {
	v, ok := t[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Int returns a signed 64-bit integer value for key. Values decoded
// from JSON arrive as float64; Int accepts an integral float64 as well
// as a native int64, matching what the ABI's accessor contract expects
// a "signed 64-bit integer" key to mean.
func (t Table) Int(key string) (int64, bool) {
	v, ok := t[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

// Bool returns a boolean value for key.
func (t Table) Bool(key string) (bool, bool) {
	v, ok := t[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Float returns a 64-bit float value for key.
func (t Table) Float(key string) (float64, bool) {
	v, ok := t[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// Table returns a nested table value for key.
func (t Table) Table(key string) (Table, bool) {
	v, ok := t[key]
	if !ok {
		return nil, false
	}
	switch sub := v.(type) {
	case Table:
		return sub, true
	case map[string]any:
		return Table(sub), true
	}
	return nil, false
}

// Array returns an array value for key.
func (t Table) Array(key string) (Array, bool) {
	v, ok := t[key]
	if !ok {
		return nil, false
	}
	switch arr := v.(type) {
	case Array:
		return arr, true
	case []any:
		return Array(arr), true
	}
	return nil, false
}

// At returns the i'th element of the array, positionally indexed.
func (a Array) At(i int) (any, bool) {
	if i < 0 || i >= len(a) {
		return nil, false
	}
	return a[i], true
}

// Len returns the number of elements in the array.
func (a Array) Len() int { return len(a) }
