// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package clocksource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alumet-project/alumet/internal/config"
	"github.com/alumet-project/alumet/internal/pipeline"
	"github.com/alumet-project/alumet/pkg/measurement"
	"github.com/alumet-project/alumet/pkg/metric"
)

func TestInitParsesPollInterval(t *testing.T) {
	p := New()
	require.NoError(t, p.Init(config.Table{"poll_interval": "5s"}))
	assert.Equal(t, 5*time.Second, p.pollInterval)
}

func TestInitDefaultsWhenAbsent(t *testing.T) {
	p := New()
	require.NoError(t, p.Init(config.Table{}))
	assert.Equal(t, defaultPollInterval, p.pollInterval)
}

func TestInitRejectsInvalidDuration(t *testing.T) {
	p := New()
	assert.Error(t, p.Init(config.Table{"poll_interval": "not-a-duration"}))
}

func TestStartRegistersMetricAndSource(t *testing.T) {
	p := New()
	require.NoError(t, p.Init(config.Table{}))

	b := pipeline.NewBuilder(metric.NewRegistry())
	require.NoError(t, p.Start(b))

	m, ok := b.Registry().LookupByName("clocksource_ticks")
	require.True(t, ok)
	got, ok := b.Registry().Get(m)
	require.True(t, ok)
	assert.Equal(t, metric.U64, got.ValueType)
}

func TestPollIncrementsCounter(t *testing.T) {
	p := New()
	require.NoError(t, p.Init(config.Table{}))
	b := pipeline.NewBuilder(metric.NewRegistry())
	require.NoError(t, p.Start(b))

	buf := measurement.NewBuffer()
	defer buf.Release()

	require.NoError(t, p.Poll(context.Background(), buf))
	require.NoError(t, p.Poll(context.Background(), buf))
	require.Equal(t, 2, buf.Len())

	v0, ok := buf.At(0).Value.U64()
	require.True(t, ok)
	v1, ok := buf.At(1).Value.U64()
	require.True(t, ok)
	assert.Equal(t, uint64(0), v0)
	assert.Equal(t, uint64(1), v1)
}
