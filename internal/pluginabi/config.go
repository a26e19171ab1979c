// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pluginabi

/*
#include <string.h>
#include "../../include/alumet_abi.h"
*/
import "C"

import (
	"runtime/cgo"
	"unsafe"

	"github.com/alumet-project/alumet/internal/config"
)

// fromCBytes converts a C alumet_bytes (borrowed, core-owned memory) into
// a Go string. Called only from within an //export accessor, while the
// backing C buffer is still alive.
func fromCBytes(b C.alumet_bytes) string {
	if b.len == 0 {
		return ""
	}
	return C.GoStringN(b.data, C.int(b.len))
}

// configTableHandle pins a config.Table so it can be referenced from C
// as an opaque alumet_config_table* without copying it across the cgo
// boundary. The root table's handle is released when plugin_init
// returns; handles created by alumet_config_get_table,
// alumet_config_get_array and alumet_config_array_get_table are never
// released.
type configTableHandle struct {
	t config.Table
}

// configArrayHandle is the analogous pin for a config.Array.
type configArrayHandle struct {
	a config.Array
}

func newConfigTablePtr(t config.Table) (*C.alumet_config_table, cgo.Handle) {
	h := cgo.NewHandle(configTableHandle{t: t})
	return (*C.alumet_config_table)(unsafe.Pointer(uintptr(h))), h
}

func tableFromPtr(p *C.alumet_config_table) config.Table {
	h := cgo.Handle(uintptr(unsafe.Pointer(p)))
	return h.Value().(configTableHandle).t
}

func arrayFromPtr(p *C.alumet_config_array) config.Array {
	h := cgo.Handle(uintptr(unsafe.Pointer(p)))
	return h.Value().(configArrayHandle).a
}

//export alumet_config_get_string
func alumet_config_get_string(t *C.alumet_config_table, key C.alumet_bytes, out *C.alumet_bytes) C.int {
	tbl := tableFromPtr(t)
	v, ok := tbl.String(fromCBytes(key))
	if !ok {
		return 0
	}
	out.data = C.CString(v)
	out.len = C.size_t(len(v))
	return 1
}

//export alumet_config_get_i64
func alumet_config_get_i64(t *C.alumet_config_table, key C.alumet_bytes, out *C.int64_t) C.int {
	tbl := tableFromPtr(t)
	v, ok := tbl.Int(fromCBytes(key))
	if !ok {
		return 0
	}
	*out = C.int64_t(v)
	return 1
}

//export alumet_config_get_bool
func alumet_config_get_bool(t *C.alumet_config_table, key C.alumet_bytes, out *C.int) C.int {
	tbl := tableFromPtr(t)
	v, ok := tbl.Bool(fromCBytes(key))
	if !ok {
		return 0
	}
	if v {
		*out = 1
	} else {
		*out = 0
	}
	return 1
}

//export alumet_config_get_f64
func alumet_config_get_f64(t *C.alumet_config_table, key C.alumet_bytes, out *C.double) C.int {
	tbl := tableFromPtr(t)
	v, ok := tbl.Float(fromCBytes(key))
	if !ok {
		return 0
	}
	*out = C.double(v)
	return 1
}

//export alumet_config_get_table
func alumet_config_get_table(t *C.alumet_config_table, key C.alumet_bytes, out **C.alumet_config_table) C.int {
	tbl := tableFromPtr(t)
	v, ok := tbl.Table(fromCBytes(key))
	if !ok {
		return 0
	}
	h := cgo.NewHandle(configTableHandle{t: v})
	*out = (*C.alumet_config_table)(unsafe.Pointer(uintptr(h)))
	return 1
}

//export alumet_config_get_array
func alumet_config_get_array(t *C.alumet_config_table, key C.alumet_bytes, out **C.alumet_config_array) C.int {
	tbl := tableFromPtr(t)
	v, ok := tbl.Array(fromCBytes(key))
	if !ok {
		return 0
	}
	h := cgo.NewHandle(configArrayHandle{a: v})
	*out = (*C.alumet_config_array)(unsafe.Pointer(uintptr(h)))
	return 1
}

//export alumet_config_array_len
func alumet_config_array_len(a *C.alumet_config_array) C.size_t {
	return C.size_t(arrayFromPtr(a).Len())
}

//export alumet_config_array_get_table
func alumet_config_array_get_table(a *C.alumet_config_array, index C.size_t, out **C.alumet_config_table) C.int {
	arr := arrayFromPtr(a)
	v, ok := arr.At(int(index))
	if !ok {
		return 0
	}
	tbl, ok := v.(config.Table)
	if !ok {
		return 0
	}
	h := cgo.NewHandle(configTableHandle{t: tbl})
	*out = (*C.alumet_config_table)(unsafe.Pointer(uintptr(h)))
	return 1
}
