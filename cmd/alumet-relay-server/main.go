// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command alumet-relay-server is the collector side of the relay
// transport (spec §4.6): it accepts RegisterMetrics/ingest traffic from
// any number of agents over NATS and appends every received buffer,
// tagged with its originating agent id, to one line-protocol output
// file. It reuses the agent's own configuration schema (internal/config)
// rather than inventing a second one: `relay.listen_address` is where it
// binds, `plugins.lineprotocoloutput.path` is where it writes.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/gops/agent"

	"github.com/alumet-project/alumet/internal/builtin/lineprotocoloutput"
	"github.com/alumet-project/alumet/internal/config"
	"github.com/alumet-project/alumet/internal/pipeline"
	"github.com/alumet-project/alumet/internal/relay"
	"github.com/alumet-project/alumet/internal/runtimeEnv"
	"github.com/alumet-project/alumet/internal/selfmetrics"
	"github.com/alumet-project/alumet/pkg/log"
	"github.com/alumet-project/alumet/pkg/measurement"
	"github.com/alumet-project/alumet/pkg/metric"
)

func main() {
	var flagConfigFile, flagEnvFile string
	var flagGops bool

	flag.StringVar(&flagConfigFile, "config", "./alumet-relay-server.json", "Path to the relay server's JSON configuration file")
	flag.StringVar(&flagEnvFile, "env", "./.env", "Path to an optional .env file loaded before the configuration")
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.Parse()

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	if err := runtimeEnv.LoadEnv(flagEnvFile); err != nil && !os.IsNotExist(err) {
		log.Fatalf("parsing %q failed: %s", flagEnvFile, err.Error())
	}

	raw, err := os.ReadFile(flagConfigFile)
	if err != nil {
		log.Fatalf("reading config file %q: %s", flagConfigFile, err.Error())
	}
	cfg, err := config.Load(json.RawMessage(raw))
	if err != nil {
		log.Fatalf("invalid configuration: %s", err.Error())
	}
	if cfg.Relay.ListenAddress == "" {
		log.Fatal("relay.listen_address is required")
	}

	registry := metric.NewRegistry()

	writer := lineprotocoloutput.New()
	if err := writer.Init(cfg.Plugins["lineprotocoloutput"]); err != nil {
		log.Fatalf("configuring output: %s", err.Error())
	}
	if err := writer.Start(pipeline.NewBuilder(registry)); err != nil {
		log.Fatalf("starting output: %s", err.Error())
	}

	relayServer, err := relay.NewServer(cfg.Relay.ListenAddress, registry, func(agentID string, buf *measurement.Buffer) {
		for i := 0; i < buf.Len(); i++ {
			if err := buf.At(i).SetAttribute("agent_id", measurement.StringAttr(agentID)); err != nil {
				log.Warnf("relay-server: agent %s: %v", agentID, err)
			}
		}
		if err := writer.Write(context.Background(), buf); err != nil {
			log.Warnf("relay-server: agent %s: writing buffer: %v", agentID, err)
		}
		buf.Release()
	})
	if err != nil {
		log.Fatalf("binding relay listener on %q: %s", cfg.Relay.ListenAddress, err.Error())
	}
	if err := relayServer.Serve(); err != nil {
		log.Fatalf("starting relay server: %s", err.Error())
	}

	var selfmetricsServer *selfmetrics.Server
	if cfg.Pipeline.SelfMetricsAddr != "" {
		reg := selfmetrics.New()
		srv, err := selfmetrics.NewServer(cfg.Pipeline.SelfMetricsAddr, reg)
		if err != nil {
			log.Fatalf("binding self-metrics listener on %q: %s", cfg.Pipeline.SelfMetricsAddr, err.Error())
		}
		srv.Serve()
		selfmetricsServer = srv
	}

	var wg sync.WaitGroup
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-sigs
		runtimeEnv.SystemdNotifiy(false, "shutting down")
		log.Info("alumet-relay-server: shutting down")
		relayServer.Shutdown()
		_ = writer.Stop()
		if selfmetricsServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = selfmetricsServer.Shutdown(ctx)
			cancel()
		}
	}()

	runtimeEnv.SystemdNotifiy(true, "running")
	wg.Wait()
	log.Print("alumet-relay-server: shutdown complete")
}
