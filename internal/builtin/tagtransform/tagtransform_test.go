// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tagtransform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alumet-project/alumet/internal/config"
	"github.com/alumet-project/alumet/pkg/measurement"
	"github.com/alumet-project/alumet/pkg/metric"
)

func newPoint(t *testing.T, kind string) measurement.Point {
	t.Helper()
	m := metric.Metric{Id: 1, ValueType: metric.U64}
	pt, err := measurement.NewPoint(m, measurement.TimestampNow(), measurement.U64Value(1),
		measurement.Resource{Kind: kind}, measurement.ResourceConsumer{Kind: "local_machine"})
	require.NoError(t, err)
	return pt
}

func TestInitRequiresKeyAndExpression(t *testing.T) {
	p := New()
	assert.Error(t, p.Init(config.Table{"expression": `"a"`}))

	p = New()
	assert.Error(t, p.Init(config.Table{"key": "tag"}))
}

func TestInitRejectsInvalidExpression(t *testing.T) {
	p := New()
	assert.Error(t, p.Init(config.Table{"key": "tag", "expression": "not valid expr (("}))
}

func TestApplySetsAttributeFromResourceKind(t *testing.T) {
	p := New()
	require.NoError(t, p.Init(config.Table{
		"key":        "tag",
		"expression": `"a" if resource.kind == "cpu_package" else "b"`,
	}))

	buf := measurement.NewBuffer()
	defer buf.Release()
	buf.Append(newPoint(t, "cpu_package"))
	buf.Append(newPoint(t, "gpu"))

	require.NoError(t, p.Apply(buf))

	v0, ok := buf.At(0).Attribute("tag")
	require.True(t, ok)
	s0, _ := v0.AsString()
	assert.Equal(t, "a", s0)

	v1, ok := buf.At(1).Attribute("tag")
	require.True(t, ok)
	s1, _ := v1.AsString()
	assert.Equal(t, "b", s1)
}

func TestApplyRejectsDuplicateKey(t *testing.T) {
	p := New()
	require.NoError(t, p.Init(config.Table{"key": "tag", "expression": `"x"`}))

	buf := measurement.NewBuffer()
	defer buf.Release()
	pt := newPoint(t, "cpu_package")
	require.NoError(t, pt.SetAttribute("tag", measurement.StringAttr("already-set")))
	buf.Append(pt)

	err := p.Apply(buf)
	assert.Error(t, err)

	v, ok := buf.At(0).Attribute("tag")
	require.True(t, ok)
	s, _ := v.AsString()
	assert.Equal(t, "already-set", s)
}
