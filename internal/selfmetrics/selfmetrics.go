// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package selfmetrics exposes the agent's own operational counters
// (ambient, not part of the domain measurement model of pkg/measurement)
// over a Prometheus /metrics endpoint, so operators can monitor the
// agent the same way they monitor anything else in their stack.
package selfmetrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alumet-project/alumet/pkg/log"
)

// Registry holds every self-observability counter/gauge the agent
// exposes. Grounded on engine/telemetry/metrics/prometheus.go's
// PrometheusProvider (own prometheus.Registry, cached promhttp handler),
// generalized from that package's dynamic name->Vec maps to a small set
// of fixed, named instruments. cmd/alumet-agent sets PluginsLoaded and
// PipelineState once after the pipeline starts; the pipeline and plugin
// manager do not update any of these instruments, so the counters stay
// at zero.
type Registry struct {
	reg *prometheus.Registry

	SourcePolls      *prometheus.CounterVec
	SourceFailures   *prometheus.CounterVec
	SourceTicksMissed *prometheus.CounterVec
	TransformErrors  *prometheus.CounterVec
	OutputWrites     *prometheus.CounterVec
	OutputErrors     *prometheus.CounterVec
	PluginsLoaded    prometheus.Gauge
	PipelineState    prometheus.Gauge

	handler http.Handler
}

// New builds a fresh, self-contained registry (not the global default
// registerer, so multiple agents in one test binary never collide).
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		SourcePolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alumet", Subsystem: "source", Name: "polls_total",
			Help: "Number of times a source was polled.",
		}, []string{"plugin", "source"}),
		SourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alumet", Subsystem: "source", Name: "failures_total",
			Help: "Number of source poll failures.",
		}, []string{"plugin", "source"}),
		SourceTicksMissed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alumet", Subsystem: "source", Name: "ticks_missed_total",
			Help: "Number of source ticks dropped because the outbox was full.",
		}, []string{"plugin", "source"}),
		TransformErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alumet", Subsystem: "transform", Name: "errors_total",
			Help: "Number of transform Apply errors.",
		}, []string{"plugin"}),
		OutputWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alumet", Subsystem: "output", Name: "writes_total",
			Help: "Number of buffers written to an output.",
		}, []string{"plugin", "output"}),
		OutputErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alumet", Subsystem: "output", Name: "errors_total",
			Help: "Number of output Write errors.",
		}, []string{"plugin", "output"}),
		PluginsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "alumet", Name: "plugins_loaded",
			Help: "Number of plugins currently started.",
		}),
		PipelineState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "alumet", Name: "pipeline_state",
			Help: "Pipeline lifecycle state (0=built,1=running,2=paused,3=stopping,4=stopped).",
		}),
	}

	reg.MustRegister(
		r.SourcePolls, r.SourceFailures, r.SourceTicksMissed,
		r.TransformErrors, r.OutputWrites, r.OutputErrors,
		r.PluginsLoaded, r.PipelineState,
	)
	r.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return r
}

// Server wraps an http.Server serving /metrics, built the way the
// teacher assembles its own HTTP surface in server.go: a mux.Router,
// gorilla/handlers compression + logging middleware, and an explicit
// net.Listen so the caller can observe bind failures before Serve.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	wg         sync.WaitGroup
}

// NewServer binds addr and wires the self-metrics Registry's handler
// under /metrics. It does not start serving until Serve is called.
func NewServer(addr string, reg *Registry) (*Server, error) {
	r := mux.NewRouter()
	r.Handle("/metrics", reg.handler)
	r.Use(handlers.CompressHandler)

	logged := handlers.CustomLoggingHandler(log.InfoWriter, r, func(w io.Writer, params handlers.LogFormatterParams) {
		log.Finfof(w, "selfmetrics: %s %s (%d)", params.Request.Method, params.URL.RequestURI(), params.StatusCode)
	})

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	return &Server{
		httpServer: &http.Server{
			Handler:      logged,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
		listener: listener,
	}, nil
}

// Serve starts accepting connections in a background goroutine and
// returns immediately.
func (s *Server) Serve() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			log.Errorf("selfmetrics: server error: %v", err)
		}
	}()
}

// Shutdown gracefully stops the server, waiting for ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.wg.Wait()
	return err
}
