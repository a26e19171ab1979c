// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package plugin drives the linear Init -> Start -> Stop -> Drop
// lifecycle of spec §4.4 uniformly over both static (compiled-in) and
// dynamic (shared-library, internal/pluginabi) plugins.
package plugin

import (
	"fmt"

	"github.com/alumet-project/alumet/internal/config"
	"github.com/alumet-project/alumet/internal/pipeline"
	"github.com/alumet-project/alumet/pkg/log"
)

// Plugin is the interface every static plugin implements directly, and
// every dynamic plugin is adapted to by internal/pluginabi. A Plugin
// value IS its own plugin_handle (spec §4.4's "opaque*") — idiomatic Go
// has no need for the C ABI's separate handle indirection once a value
// already carries its own state.
type Plugin interface {
	// Name identifies the plugin in logs, config keys, and control-plane
	// selectors (`plugin.source_name`).
	Name() string

	// Init validates cfg and prepares internal state. A returned error
	// aborts the whole agent's startup (spec §4.4).
	Init(cfg config.Table) error

	// Start registers the plugin's metrics, sources, transforms and
	// outputs through b. b is only valid for the duration of this call.
	Start(b *pipeline.Builder) error

	// Stop signals the plugin to quiesce; after Stop returns, the core
	// guarantees no further callback (Poll/Apply/Write) will be invoked
	// for anything this plugin registered (spec §4.5).
	Stop() error

	// Drop releases any remaining resources. Called even for plugins
	// that never reached Start, in reverse load order, if a later
	// plugin's Init fails (spec §4.4).
	Drop()
}

// state tracks how far a single plugin has progressed, so Manager knows
// exactly which lifecycle calls are still owed to it during an abort.
type state int

const (
	stateRegistered state = iota
	stateInitialized
	stateStarted
	stateStopped
)

type entry struct {
	p     Plugin
	state state
}

// Manager owns the full set of plugins configured for one agent run and
// drives them through the lifecycle in deterministic, configuration-file
// order. Grounded on internal/taskManager.Start's central-registration-
// point pattern (a fixed sequence of Register* calls executed once at
// startup) and pkg/log for lifecycle logging; generalized from a fixed
// compiled-in service list to a dynamic, config-driven plugin set with
// explicit reverse-order teardown on abort.
type Manager struct {
	entries []*entry
}

// NewManager returns an empty Manager; plugins are added with Register
// in the exact order they should be initialized (the order the
// configuration file lists them in).
func NewManager() *Manager {
	return &Manager{}
}

// Register appends p to the load order.
func (m *Manager) Register(p Plugin) {
	m.entries = append(m.entries, &entry{p: p})
}

// InitAll calls Init on every registered plugin in load order, passing
// each its `plugins.<name>` config table. If any Init fails, startup
// aborts: every already-initialized plugin (including the failing one,
// per spec §4.4 "already-initialized plugins receive drop") is handed
// Drop in reverse order, and the first error is returned.
func (m *Manager) InitAll(cfgs map[string]config.Table) error {
	for i, e := range m.entries {
		cfg := cfgs[e.p.Name()]
		if err := e.p.Init(cfg); err != nil {
			log.Errorf("plugin: %s failed to init: %v", e.p.Name(), err)
			m.dropFrom(i)
			return fmt.Errorf("plugin %s: init: %w", e.p.Name(), err)
		}
		e.state = stateInitialized
		log.Infof("plugin: %s initialized", e.p.Name())
	}
	return nil
}

// dropFrom calls Drop, in reverse order, on every entry up to and
// including index i (the one that just failed Init).
func (m *Manager) dropFrom(i int) {
	for j := i; j >= 0; j-- {
		e := m.entries[j]
		e.p.Drop()
		log.Infof("plugin: %s dropped", e.p.Name())
	}
}

// StartAll calls Start on every initialized plugin, in load order, each
// with the same pipeline.Builder b, and invalidates b once the loop ends
// (also when a Start fails). A failing Start aborts startup the same way a
// failing Init does (spec §4.4 treats both as part of the same
// transition toward a running pipeline).
func (m *Manager) StartAll(b *pipeline.Builder) error {
	defer b.Invalidate()
	for i, e := range m.entries {
		if e.state != stateInitialized {
			continue
		}
		if err := e.p.Start(b); err != nil {
			log.Errorf("plugin: %s failed to start: %v", e.p.Name(), err)
			m.stopFrom(i - 1)
			m.dropFrom(i)
			return fmt.Errorf("plugin %s: start: %w", e.p.Name(), err)
		}
		e.state = stateStarted
		log.Infof("plugin: %s started", e.p.Name())
	}
	return nil
}

// StopAll calls Stop on every started plugin, in reverse load order.
func (m *Manager) StopAll() {
	m.stopFrom(len(m.entries) - 1)
}

func (m *Manager) stopFrom(i int) {
	for j := i; j >= 0; j-- {
		e := m.entries[j]
		if e.state != stateStarted {
			continue
		}
		if err := e.p.Stop(); err != nil {
			log.Warnf("plugin: %s stop returned error: %v", e.p.Name(), err)
		}
		e.state = stateStopped
		log.Infof("plugin: %s stopped", e.p.Name())
	}
}

// DropAll calls Drop on every plugin that was ever initialized, in
// reverse load order. Call after StopAll during normal agent shutdown.
func (m *Manager) DropAll() {
	for j := len(m.entries) - 1; j >= 0; j-- {
		e := m.entries[j]
		if e.state == stateRegistered {
			continue
		}
		e.p.Drop()
		log.Infof("plugin: %s dropped", e.p.Name())
	}
}

// Loaded returns the number of plugins currently in the Started state,
// for internal/selfmetrics.Registry.PluginsLoaded.
func (m *Manager) Loaded() int {
	n := 0
	for _, e := range m.entries {
		if e.state == stateStarted {
			n++
		}
	}
	return n
}
