// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pluginabi

/*
#include <stdlib.h>
#include "../../include/alumet_abi.h"

typedef int (*poll_fn_t)(void *, alumet_buffer *);
typedef int (*write_fn_t)(void *, const alumet_buffer *, const alumet_write_ctx *);
typedef void (*drop_fn_t)(void *);

static int call_poll_fn(poll_fn_t fn, void *data, alumet_buffer *buf) {
	return fn(data, buf);
}
static int call_write_fn(write_fn_t fn, void *data, const alumet_buffer *buf, const alumet_write_ctx *ctx) {
	return fn(data, buf, ctx);
}
static void call_drop_fn(drop_fn_t fn, void *data) {
	if (fn != NULL) {
		fn(data);
	}
}
*/
import "C"

import (
	"context"
	"fmt"
	"math"
	"runtime/cgo"
	"time"
	"unsafe"

	"github.com/alumet-project/alumet/internal/pipeline"
	"github.com/alumet-project/alumet/pkg/measurement"
	"github.com/alumet-project/alumet/pkg/metric"
	"github.com/alumet-project/alumet/pkg/units"
)

// defaultDynamicPollInterval is used for a dynamic source until the ABI
// grows a way for the plugin to declare its own period; the config table
// is the natural extension point (not yet part of spec §4.5's contract).
const defaultDynamicPollInterval = time.Second

// builderAdapter pins the pair (plugin name, *pipeline.Builder) behind
// one cgo.Handle passed to the plugin as its alumet_builder*, so every
// add_source/add_output/create_metric callback knows which plugin is
// registering without the C side having to carry that context itself.
type builderAdapter struct {
	pluginName string
	b          *pipeline.Builder
}

func newBuilderPtr(pluginName string, b *pipeline.Builder) (*C.alumet_builder, cgo.Handle) {
	h := cgo.NewHandle(&builderAdapter{pluginName: pluginName, b: b})
	return (*C.alumet_builder)(unsafe.Pointer(uintptr(h))), h
}

func builderFromPtr(p *C.alumet_builder) *builderAdapter {
	h := cgo.Handle(uintptr(unsafe.Pointer(p)))
	return h.Value().(*builderAdapter)
}

// funcSource/funcOutput adapt a plain closure to pipeline.Source/Output,
// the same shape internal/builtin's reference plugins use, so a dynamic
// plugin's C callback looks like any other registered Source/Output to
// the pipeline runtime.
type funcSource func(ctx context.Context, buf *measurement.Buffer) error

func (f funcSource) Poll(ctx context.Context, buf *measurement.Buffer) error { return f(ctx, buf) }

type funcOutput func(ctx context.Context, buf *measurement.Buffer) error

func (f funcOutput) Write(ctx context.Context, buf *measurement.Buffer) error { return f(ctx, buf) }

//export alumet_create_metric
func alumet_create_metric(b *C.alumet_builder, name C.alumet_bytes, vtype C.alumet_value_type, unit C.alumet_bytes, description C.alumet_bytes) C.uint64_t {
	adapter := builderFromPtr(b)
	mvt := metric.U64
	if vtype == C.ALUMET_VALUE_F64 {
		mvt = metric.F64
	}
	id, err := adapter.b.CreateMetric(fromCBytes(name), mvt, units.ConvertUnitString(fromCBytes(unit)), fromCBytes(description))
	if err != nil {
		return 0
	}
	return C.uint64_t(id)
}

//export alumet_add_source
func alumet_add_source(b *C.alumet_builder, name C.alumet_bytes, pluginData unsafe.Pointer, pollFn C.alumet_poll_fn, dropFn C.alumet_drop_fn) {
	adapter := builderFromPtr(b)
	registry := adapter.b.Registry()
	poll := C.poll_fn_t(unsafe.Pointer(pollFn))

	_ = adapter.b.AddSource(pipeline.SourceSpec{
		PluginName:   adapter.pluginName,
		SourceName:   fromCBytes(name),
		Trigger:      pipeline.Periodic,
		PollInterval: defaultDynamicPollInterval,
		Source: funcSource(func(ctx context.Context, buf *measurement.Buffer) error {
			cBuf, h := newBufferPtr(buf, registry)
			defer h.Delete()
			rc := C.call_poll_fn(poll, pluginData, cBuf)
			if rc != 0 {
				return fmt.Errorf("pluginabi: poll_fn returned %d", int(rc))
			}
			return nil
		}),
	})
}

//export alumet_add_output
func alumet_add_output(b *C.alumet_builder, name C.alumet_bytes, pluginData unsafe.Pointer, writeFn C.alumet_write_fn, dropFn C.alumet_drop_fn) {
	adapter := builderFromPtr(b)
	registry := adapter.b.Registry()
	write := C.write_fn_t(unsafe.Pointer(writeFn))

	adapter.b.AddOutput(pipeline.OutputSpec{
		PluginName: adapter.pluginName,
		OutputName: fromCBytes(name),
		Output: funcOutput(func(ctx context.Context, buf *measurement.Buffer) error {
			cBuf, h := newBufferPtr(buf, registry)
			defer h.Delete()
			rc := C.call_write_fn(write, pluginData, cBuf, nil)
			if rc != 0 {
				return fmt.Errorf("pluginabi: write_fn returned %d", int(rc))
			}
			return nil
		}),
	})
}

// bufferHandle pins both a *measurement.Buffer and the registry needed
// to resolve metric ids, so the C side can reference it as an opaque
// alumet_buffer* for the duration of one poll_fn/write_fn call.
type bufferHandle struct {
	buf      *measurement.Buffer
	registry *metric.Registry
}

func newBufferPtr(buf *measurement.Buffer, registry *metric.Registry) (*C.alumet_buffer, cgo.Handle) {
	h := cgo.NewHandle(bufferHandle{buf: buf, registry: registry})
	return (*C.alumet_buffer)(unsafe.Pointer(uintptr(h))), h
}

func bufferHandleFromPtr(p *C.alumet_buffer) bufferHandle {
	h := cgo.Handle(uintptr(unsafe.Pointer(p)))
	return h.Value().(bufferHandle)
}

func bufferFromPtr(p *C.alumet_buffer) *measurement.Buffer {
	return bufferHandleFromPtr(p).buf
}

func bytesOf(s string) C.alumet_bytes {
	if len(s) == 0 {
		return C.alumet_bytes{}
	}
	return C.alumet_bytes{data: C.CString(s), len: C.size_t(len(s))}
}

//export alumet_buffer_push
func alumet_buffer_push(buf *C.alumet_buffer, metricID C.uint64_t, tsSecs C.int64_t, tsNanos C.uint32_t, vtype C.alumet_value_type, valueBits C.uint64_t, resourceKind, resourceID, consumerKind, consumerID C.alumet_bytes) C.int {
	bh := bufferHandleFromPtr(buf)

	m, ok := bh.registry.Get(metric.Id(metricID))
	if !ok {
		return 1
	}

	var value measurement.Value
	if vtype == C.ALUMET_VALUE_F64 {
		value = measurement.F64Value(math.Float64frombits(uint64(valueBits)))
	} else {
		value = measurement.U64Value(uint64(valueBits))
	}

	pt, err := measurement.NewPoint(
		m,
		measurement.Timestamp{Seconds: int64(tsSecs), Nanos: uint32(tsNanos)},
		value,
		measurement.Resource{Kind: fromCBytes(resourceKind), Id: fromCBytes(resourceID)},
		measurement.ResourceConsumer{Kind: fromCBytes(consumerKind), Id: fromCBytes(consumerID)},
	)
	if err != nil {
		return 1
	}
	bh.buf.Append(pt)
	return 0
}

//export alumet_buffer_get_len
func alumet_buffer_get_len(buf *C.alumet_buffer) C.size_t {
	return C.size_t(bufferFromPtr(buf).Len())
}

//export alumet_buffer_get_metric
func alumet_buffer_get_metric(buf *C.alumet_buffer, index C.size_t) C.uint64_t {
	return C.uint64_t(bufferFromPtr(buf).At(int(index)).Metric)
}

//export alumet_buffer_get_ts_secs
func alumet_buffer_get_ts_secs(buf *C.alumet_buffer, index C.size_t) C.int64_t {
	return C.int64_t(bufferFromPtr(buf).At(int(index)).Timestamp.Seconds)
}

//export alumet_buffer_get_ts_nanos
func alumet_buffer_get_ts_nanos(buf *C.alumet_buffer, index C.size_t) C.uint32_t {
	return C.uint32_t(bufferFromPtr(buf).At(int(index)).Timestamp.Nanos)
}

//export alumet_buffer_get_value_type
func alumet_buffer_get_value_type(buf *C.alumet_buffer, index C.size_t) C.alumet_value_type {
	if _, ok := bufferFromPtr(buf).At(int(index)).Value.F64(); ok {
		return C.ALUMET_VALUE_F64
	}
	return C.ALUMET_VALUE_U64
}

//export alumet_buffer_get_value_bits
func alumet_buffer_get_value_bits(buf *C.alumet_buffer, index C.size_t) C.uint64_t {
	p := bufferFromPtr(buf).At(int(index))
	if f, ok := p.Value.F64(); ok {
		return C.uint64_t(math.Float64bits(f))
	}
	u, _ := p.Value.U64()
	return C.uint64_t(u)
}

//export alumet_buffer_get_resource_kind
func alumet_buffer_get_resource_kind(buf *C.alumet_buffer, index C.size_t) C.alumet_bytes {
	return bytesOf(bufferFromPtr(buf).At(int(index)).Resource.Kind)
}

//export alumet_buffer_get_resource_id
func alumet_buffer_get_resource_id(buf *C.alumet_buffer, index C.size_t) C.alumet_bytes {
	return bytesOf(bufferFromPtr(buf).At(int(index)).Resource.Id)
}

//export alumet_buffer_get_consumer_kind
func alumet_buffer_get_consumer_kind(buf *C.alumet_buffer, index C.size_t) C.alumet_bytes {
	return bytesOf(bufferFromPtr(buf).At(int(index)).Consumer.Kind)
}

//export alumet_buffer_get_consumer_id
func alumet_buffer_get_consumer_id(buf *C.alumet_buffer, index C.size_t) C.alumet_bytes {
	return bytesOf(bufferFromPtr(buf).At(int(index)).Consumer.Id)
}
