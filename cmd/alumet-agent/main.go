// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/gops/agent"

	"github.com/alumet-project/alumet/internal/builtin/clocksource"
	"github.com/alumet-project/alumet/internal/builtin/lineprotocoloutput"
	"github.com/alumet-project/alumet/internal/builtin/relayoutput"
	"github.com/alumet-project/alumet/internal/builtin/tagtransform"
	"github.com/alumet-project/alumet/internal/config"
	"github.com/alumet-project/alumet/internal/control"
	"github.com/alumet-project/alumet/internal/pipeline"
	"github.com/alumet-project/alumet/internal/plugin"
	"github.com/alumet-project/alumet/internal/pluginabi"
	"github.com/alumet-project/alumet/internal/runtimeEnv"
	"github.com/alumet-project/alumet/internal/selfmetrics"
	"github.com/alumet-project/alumet/pkg/log"
	"github.com/alumet-project/alumet/pkg/metric"
)

// stringSlice collects repeated `-plugin path.so` flags in order.
type stringSlice []string

func (s *stringSlice) String() string { return strings.Join(*s, ",") }
func (s *stringSlice) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// builtin names one of the static reference plugins the core ships
// with, under the name a `plugins.<name>` config section enables it.
type builtin struct {
	name    string
	factory func() plugin.Plugin
}

// builtins lists the static reference plugins in a fixed order, so
// registration order (and therefore transform chain order, spec §4.3)
// does not depend on map iteration. Only names actually present in the
// configuration are registered (spec §4.4's plugin set is
// config-driven, not "everything the binary happens to link in").
var builtins = []builtin{
	{"clocksource", func() plugin.Plugin { return clocksource.New() }},
	{"tagtransform", func() plugin.Plugin { return tagtransform.New() }},
	{"lineprotocoloutput", func() plugin.Plugin { return lineprotocoloutput.New() }},
}

func main() {
	var flagConfigFile, flagEnvFile, flagAgentID, flagRunAsUser, flagRunAsGroup string
	var flagGops bool
	var flagPlugins stringSlice

	flag.StringVar(&flagConfigFile, "config", "./alumet-agent.json", "Path to the agent's JSON configuration file")
	flag.StringVar(&flagEnvFile, "env", "./.env", "Path to an optional .env file loaded before the configuration")
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.StringVar(&flagAgentID, "agent-id", "", "Identifier this agent registers itself under with a relay collector (defaults to the hostname)")
	flag.Var(&flagPlugins, "plugin", "Path to a dynamic plugin shared library (spec §4.5); may be repeated")
	flag.StringVar(&flagRunAsUser, "run-as-user", "", "Unprivileged user to switch to once all sources have opened their privileged resources (RAPL/perf_event file descriptors, typically)")
	flag.StringVar(&flagRunAsGroup, "run-as-group", "", "Unprivileged group to switch to alongside -run-as-user")
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

	if flagAgentID == "" {
		flagAgentID, _ = os.Hostname()
	}

	manager := plugin.NewManager()
	for _, b := range builtins {
		if _, ok := cfg.Plugins[b.name]; ok {
			manager.Register(b.factory())
		}
	}
	if cfg.Relay.ServerURL != "" {
		manager.Register(relayoutput.New(flagAgentID))
		cfg.Plugins["relayoutput"] = config.Table{
			"server_url":      cfg.Relay.ServerURL,
			"batch_size":      float64(cfg.Relay.BatchSize),
			"max_batch_delay": cfg.Relay.MaxBatchDelay.String(),
		}
	}
	for _, path := range flagPlugins {
		dyn, err := pluginabi.Load(path)
		if err != nil {
			log.Fatalf("loading dynamic plugin %q: %s", path, err.Error())
		}
		manager.Register(dyn)
	}

	if err := manager.InitAll(cfg.Plugins); err != nil {
		log.Abortf("plugin initialization failed: %s", err.Error())
	}

	registry := metric.NewRegistry()
	builder := pipeline.NewBuilder(registry)
	if err := manager.StartAll(builder); err != nil {
		log.Abortf("plugin startup failed: %s", err.Error())
	}

	// Sources that need CAP_SYS_RAWIO/CAP_PERFMON (RAPL MSRs, perf_event)
	// have already opened whatever file descriptors they need by now, so
	// it's safe to give those up for the rest of the process lifetime.
	if flagRunAsUser != "" || flagRunAsGroup != "" {
		if err := runtimeEnv.DropPrivileges(flagRunAsUser, flagRunAsGroup); err != nil {
			log.Abortf("dropping privileges to user=%q group=%q: %s", flagRunAsUser, flagRunAsGroup, err.Error())
		}
	}

	pl, err := pipeline.New(builder, pipeline.PolicyFromConfig(cfg.Pipeline.OutputBackpressure), cfg.Pipeline.ShutdownTimeout)
	if err != nil {
		manager.StopAll()
		manager.DropAll()
		log.Critf("constructing pipeline: %s", err.Error())
		os.Exit(3)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := pl.Start(ctx); err != nil {
		log.Critf("starting pipeline: %s", err.Error())
		os.Exit(3)
	}

	var selfmetricsServer *selfmetrics.Server
	if cfg.Pipeline.SelfMetricsAddr != "" {
		reg := selfmetrics.New()
		reg.PipelineState.Set(float64(pl.State()))
		reg.PluginsLoaded.Set(float64(manager.Loaded()))
		srv, err := selfmetrics.NewServer(cfg.Pipeline.SelfMetricsAddr, reg)
		if err != nil {
			log.Fatalf("binding self-metrics listener on %q: %s", cfg.Pipeline.SelfMetricsAddr, err.Error())
		}
		srv.Serve()
		selfmetricsServer = srv
	}

	var wg sync.WaitGroup
	done := make(chan struct{})
	var shutdownOnce sync.Once
	exitCode := 0

	shutdown := func(code int) {
		shutdownOnce.Do(func() {
			exitCode = code
			runtimeEnv.SystemdNotifiy(false, "shutting down")
			log.Info("alumet-agent: shutting down")
			cancel()
			_ = pl.Stop()
			manager.StopAll()
			manager.DropAll()
			if selfmetricsServer != nil {
				sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = selfmetricsServer.Shutdown(sctx)
				scancel()
			}
			close(done)
		})
	}

	controlServer, err := control.NewServer(cfg.Control.SocketPath, pl, func() { shutdown(0) })
	if err != nil {
		log.Fatalf("binding control socket %q: %s", cfg.Control.SocketPath, err.Error())
	}
	controlServer.Serve()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-sigs:
			shutdown(130)
		case <-done:
		}
	}()

	runtimeEnv.SystemdNotifiy(true, "running")
	<-done
	controlServer.Shutdown()
	wg.Wait()

	log.Print("alumet-agent: shutdown complete")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

