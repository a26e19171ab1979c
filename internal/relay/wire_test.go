// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeasurementBufferRoundTrip(t *testing.T) {
	buf := MeasurementBuffer{
		Points: []MeasurementPoint{
			NewU64Point(1, 1700000000, 500, 42,
				Resource{Kind: "local_machine"}, ResourceConsumer{Kind: "local_machine"}),
			NewF64Point(2, 1700000001, 0, 3.14,
				Resource{Kind: "cpu_package", Id: "0"}, ResourceConsumer{Kind: "process", Id: "1234"}),
		},
	}
	buf.Points[1].Attributes = []MeasurementAttribute{
		AttrString("tag", "interactive"),
		AttrU64("pid", 1234),
		AttrF64("ratio", 0.5),
		AttrBool("ok", true),
	}

	data := MarshalMeasurementBuffer(buf)
	got, err := UnmarshalMeasurementBuffer(data)
	require.NoError(t, err)
	require.Len(t, got.Points, 2)

	p0 := got.Points[0]
	assert.Equal(t, uint64(1), p0.Metric)
	assert.Equal(t, uint64(1700000000), p0.TsSecs)
	assert.Equal(t, uint32(500), p0.TsNanos)
	u, ok := p0.U64()
	assert.True(t, ok)
	assert.Equal(t, uint64(42), u)
	assert.Equal(t, "local_machine", p0.Resource.Kind)

	p1 := got.Points[1]
	f, ok := p1.F64()
	assert.True(t, ok)
	assert.InDelta(t, 3.14, f, 1e-9)
	assert.Equal(t, "cpu_package", p1.Resource.Kind)
	assert.Equal(t, "0", p1.Resource.Id)
	assert.Equal(t, "process", p1.Consumer.Kind)
	assert.Equal(t, "1234", p1.Consumer.Id)
	require.Len(t, p1.Attributes, 4)

	str, ok := p1.Attributes[0].AsString()
	assert.True(t, ok)
	assert.Equal(t, "interactive", str)
	u64, ok := p1.Attributes[1].AsU64()
	assert.True(t, ok)
	assert.Equal(t, uint64(1234), u64)
	f64, ok := p1.Attributes[2].AsF64()
	assert.True(t, ok)
	assert.InDelta(t, 0.5, f64, 1e-9)
	b, ok := p1.Attributes[3].AsBool()
	assert.True(t, ok)
	assert.True(t, b)
}

func TestEmptyMeasurementBufferRoundTrip(t *testing.T) {
	data := MarshalMeasurementBuffer(MeasurementBuffer{})
	got, err := UnmarshalMeasurementBuffer(data)
	require.NoError(t, err)
	assert.Empty(t, got.Points)
}

func TestMetricDefinitionsRoundTrip(t *testing.T) {
	defs := MetricDefinitions{
		Defs: []MetricDef{
			{IdForAgent: 1, Name: "cpu_usage", Description: "CPU utilization", Type: ValueF64, Unit: PrefixedUnit{BaseUnit: "%"}},
			{IdForAgent: 2, Name: "bytes_read", Description: "bytes read", Type: ValueU64, Unit: PrefixedUnit{Prefix: "K", BaseUnit: "B"}},
		},
	}

	data := MarshalMetricDefinitions(defs)
	got, err := UnmarshalMetricDefinitions(data)
	require.NoError(t, err)
	require.Len(t, got.Defs, 2)
	assert.Equal(t, "cpu_usage", got.Defs[0].Name)
	assert.Equal(t, ValueF64, got.Defs[0].Type)
	assert.Equal(t, "bytes_read", got.Defs[1].Name)
	assert.Equal(t, "K", got.Defs[1].Unit.Prefix)
	assert.Equal(t, "B", got.Defs[1].Unit.BaseUnit)
}

func TestRegisterReplyRoundTrip(t *testing.T) {
	reply := RegisterReply{
		Mappings: []IdMapping{
			{IdForAgent: 1, IdForCollector: 101},
			{IdForAgent: 2, IdForCollector: 102},
		},
	}

	data := MarshalRegisterReply(reply)
	got, err := UnmarshalRegisterReply(data)
	require.NoError(t, err)
	require.Len(t, got.Mappings, 2)
	assert.Equal(t, uint64(101), got.Mappings[0].IdForCollector)
	assert.False(t, got.ReregisterRequired)

	reply.ReregisterRequired = true
	data = MarshalRegisterReply(reply)
	got, err = UnmarshalRegisterReply(data)
	require.NoError(t, err)
	assert.True(t, got.ReregisterRequired)
}

func TestIngestReplyRoundTrip(t *testing.T) {
	data := MarshalIngestReply(IngestReply{})
	got, err := UnmarshalIngestReply(data)
	require.NoError(t, err)
	assert.False(t, got.ReregisterRequired)

	data = MarshalIngestReply(IngestReply{ReregisterRequired: true})
	got, err = UnmarshalIngestReply(data)
	require.NoError(t, err)
	assert.True(t, got.ReregisterRequired)
}

func TestReconnectDelayStaysWithinBounds(t *testing.T) {
	for attempt := 0; attempt < 30; attempt++ {
		d := reconnectDelay(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, reconnectMaxDelay+reconnectMaxDelay/5)
	}
}
