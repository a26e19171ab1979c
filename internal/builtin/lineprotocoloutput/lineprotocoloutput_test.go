// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lineprotocoloutput

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alumet-project/alumet/internal/config"
	"github.com/alumet-project/alumet/internal/pipeline"
	"github.com/alumet-project/alumet/pkg/measurement"
	"github.com/alumet-project/alumet/pkg/metric"
	"github.com/alumet-project/alumet/pkg/units"
)

func TestInitRequiresPath(t *testing.T) {
	p := New()
	assert.Error(t, p.Init(config.Table{}))
}

func TestWriteAppendsLineProtocol(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.lp")

	p := New()
	require.NoError(t, p.Init(config.Table{"path": path}))

	registry := metric.NewRegistry()
	b := pipeline.NewBuilder(registry)
	require.NoError(t, p.Start(b))
	t.Cleanup(func() { _ = p.Stop() })

	id, err := registry.Register("cpu_usage", metric.F64, units.PrefixedUnit{Base: "%"}, "")
	require.NoError(t, err)

	m, ok := registry.Get(id)
	require.True(t, ok)

	pt, err := measurement.NewPoint(m, measurement.TimestampNow(), measurement.F64Value(42.5),
		measurement.Resource{Kind: "cpu_package", Id: "0"}, measurement.ResourceConsumer{Kind: "local_machine"})
	require.NoError(t, err)

	buf := measurement.NewBuffer()
	defer buf.Release()
	buf.Append(pt)

	require.NoError(t, p.Write(context.Background(), buf))
	require.NoError(t, p.Stop())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "metric=cpu_usage")
	assert.Contains(t, content, "resource_kind=cpu_package")
	assert.Contains(t, content, "resource_id=0")
	assert.Contains(t, content, "value=42.5")
}

func TestWriteSkipsDroppedPoints(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.lp")

	p := New()
	require.NoError(t, p.Init(config.Table{"path": path}))

	registry := metric.NewRegistry()
	b := pipeline.NewBuilder(registry)
	require.NoError(t, p.Start(b))
	t.Cleanup(func() { _ = p.Stop() })

	id, err := registry.Register("bytes_read", metric.U64, units.PrefixedUnit{Base: "B"}, "")
	require.NoError(t, err)
	m, ok := registry.Get(id)
	require.True(t, ok)

	pt, err := measurement.NewPoint(m, measurement.TimestampNow(), measurement.U64Value(10),
		measurement.Resource{Kind: "local_machine"}, measurement.ResourceConsumer{Kind: "local_machine"})
	require.NoError(t, err)
	pt.Drop()

	buf := measurement.NewBuffer()
	defer buf.Release()
	buf.Append(pt)

	require.NoError(t, p.Write(context.Background(), buf))
	require.NoError(t, p.Stop())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data)
}
