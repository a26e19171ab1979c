// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package selfmetrics

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerServesMetrics(t *testing.T) {
	reg := New()
	reg.SourcePolls.WithLabelValues("testplugin", "src").Inc()

	srv, err := NewServer("127.0.0.1:0", reg)
	require.NoError(t, err)
	srv.Serve()
	defer srv.Shutdown(context.Background())

	addr := srv.listener.Addr().String()
	time.Sleep(20 * time.Millisecond)

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "alumet_source_polls_total")
}
