// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package plugin

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alumet-project/alumet/internal/config"
	"github.com/alumet-project/alumet/internal/pipeline"
	"github.com/alumet-project/alumet/pkg/metric"
)

type fakePlugin struct {
	name       string
	initErr    error
	startErr   error
	calls      *[]string
}

func (f *fakePlugin) Name() string { return f.name }

func (f *fakePlugin) Init(cfg config.Table) error {
	*f.calls = append(*f.calls, f.name+":init")
	return f.initErr
}

func (f *fakePlugin) Start(b *pipeline.Builder) error {
	*f.calls = append(*f.calls, f.name+":start")
	return f.startErr
}

func (f *fakePlugin) Stop() error {
	*f.calls = append(*f.calls, f.name+":stop")
	return nil
}

func (f *fakePlugin) Drop() {
	*f.calls = append(*f.calls, f.name+":drop")
}

func TestManagerHappyPath(t *testing.T) {
	var calls []string
	m := NewManager()
	m.Register(&fakePlugin{name: "a", calls: &calls})
	m.Register(&fakePlugin{name: "b", calls: &calls})

	require.NoError(t, m.InitAll(map[string]config.Table{}))

	b := pipeline.NewBuilder(metric.NewRegistry())
	require.NoError(t, m.StartAll(b))
	assert.Equal(t, 2, m.Loaded())

	m.StopAll()
	m.DropAll()

	assert.Equal(t, []string{
		"a:init", "b:init",
		"a:start", "b:start",
		"b:stop", "a:stop",
		"b:drop", "a:drop",
	}, calls)
}

func TestManagerInitFailureDropsReverseOrder(t *testing.T) {
	var calls []string
	m := NewManager()
	m.Register(&fakePlugin{name: "a", calls: &calls})
	m.Register(&fakePlugin{name: "b", initErr: errors.New("bad config"), calls: &calls})
	m.Register(&fakePlugin{name: "c", calls: &calls})

	err := m.InitAll(map[string]config.Table{})
	require.Error(t, err)

	assert.Equal(t, []string{"a:init", "b:init", "b:drop", "a:drop"}, calls)
}

func TestManagerStartFailureStopsAndDropsReverseOrder(t *testing.T) {
	var calls []string
	m := NewManager()
	m.Register(&fakePlugin{name: "a", calls: &calls})
	m.Register(&fakePlugin{name: "b", startErr: errors.New("bad start"), calls: &calls})

	require.NoError(t, m.InitAll(map[string]config.Table{}))

	b := pipeline.NewBuilder(metric.NewRegistry())
	err := m.StartAll(b)
	require.Error(t, err)

	assert.Equal(t, []string{
		"a:init", "b:init",
		"a:start", "b:start",
		"a:stop",
		"b:drop", "a:drop",
	}, calls)
}
