// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package relayoutput

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alumet-project/alumet/internal/config"
)

func TestInitRequiresServerURL(t *testing.T) {
	p := New("agent-1")
	assert.Error(t, p.Init(config.Table{}))
}

func TestInitReadsBatchSizeAndDelay(t *testing.T) {
	p := New("agent-1")
	require.NoError(t, p.Init(config.Table{
		"server_url":      "nats://127.0.0.1:4222",
		"batch_size":      float64(512),
		"max_batch_delay": "500ms",
	}))
	assert.Equal(t, "nats://127.0.0.1:4222", p.cfg.ServerURL)
	assert.Equal(t, 512, p.cfg.BatchSize)
	assert.Equal(t, 500_000_000, int(p.cfg.MaxBatchDelay))
}

func TestInitRejectsInvalidMaxBatchDelay(t *testing.T) {
	p := New("agent-1")
	assert.Error(t, p.Init(config.Table{
		"server_url":      "nats://127.0.0.1:4222",
		"max_batch_delay": "not-a-duration",
	}))
}

func TestStopWithoutStartIsNoop(t *testing.T) {
	p := New("agent-1")
	assert.NoError(t, p.Stop())
}
