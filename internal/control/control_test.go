// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package control

import (
	"bufio"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alumet-project/alumet/internal/pipeline"
)

type fakePipeline struct {
	sources []pipeline.SourceRef
	outputs []pipeline.OutputRef

	calls []string

	failOn string
}

func (f *fakePipeline) Sources() []pipeline.SourceRef { return f.sources }
func (f *fakePipeline) Outputs() []pipeline.OutputRef { return f.outputs }

func (f *fakePipeline) record(call string) error {
	f.calls = append(f.calls, call)
	if call == f.failOn {
		return fmt.Errorf("boom")
	}
	return nil
}

func (f *fakePipeline) TriggerSource(plugin, name string) error {
	return f.record("trigger:" + plugin + "." + name)
}
func (f *fakePipeline) SetSourcePeriod(plugin, name string, d time.Duration) error {
	return f.record(fmt.Sprintf("set-period:%s.%s:%s", plugin, name, d))
}
func (f *fakePipeline) PauseSource(plugin, name string) error {
	return f.record("pause-source:" + plugin + "." + name)
}
func (f *fakePipeline) ResumeSource(plugin, name string) error {
	return f.record("resume-source:" + plugin + "." + name)
}
func (f *fakePipeline) PauseOutput(plugin, name string) error {
	return f.record("pause-output:" + plugin + "." + name)
}
func (f *fakePipeline) ResumeOutput(plugin, name string) error {
	return f.record("resume-output:" + plugin + "." + name)
}
func (f *fakePipeline) Pause() error  { return f.record("pipeline-pause") }
func (f *fakePipeline) Resume() error { return f.record("pipeline-resume") }

func newFakePipeline() *fakePipeline {
	return &fakePipeline{
		sources: []pipeline.SourceRef{
			{PluginName: "cpu", SourceName: "usage"},
			{PluginName: "cpu", SourceName: "freq"},
			{PluginName: "net", SourceName: "bytes"},
		},
		outputs: []pipeline.OutputRef{
			{PluginName: "stdout", OutputName: "main"},
		},
	}
}

func TestDispatchSourceTriggerWildcard(t *testing.T) {
	fp := newFakePipeline()
	s := &Server{pipeline: fp}

	reply := s.dispatch("source trigger *")
	assert.Equal(t, "ok", reply)
	assert.ElementsMatch(t, []string{"trigger:cpu.usage", "trigger:cpu.freq", "trigger:net.bytes"}, fp.calls)
}

func TestDispatchSourceTriggerByPlugin(t *testing.T) {
	fp := newFakePipeline()
	s := &Server{pipeline: fp}

	reply := s.dispatch("source trigger cpu")
	assert.Equal(t, "ok", reply)
	assert.ElementsMatch(t, []string{"trigger:cpu.usage", "trigger:cpu.freq"}, fp.calls)
}

func TestDispatchSourceTriggerByPluginWildcard(t *testing.T) {
	fp := newFakePipeline()
	s := &Server{pipeline: fp}

	reply := s.dispatch("source trigger cpu.*")
	assert.Equal(t, "ok", reply)
	assert.ElementsMatch(t, []string{"trigger:cpu.usage", "trigger:cpu.freq"}, fp.calls)
}

func TestDispatchSourceTriggerByFullName(t *testing.T) {
	fp := newFakePipeline()
	s := &Server{pipeline: fp}

	reply := s.dispatch("source trigger net.bytes")
	assert.Equal(t, "ok", reply)
	assert.Equal(t, []string{"trigger:net.bytes"}, fp.calls)
}

func TestDispatchSourceNotFound(t *testing.T) {
	fp := newFakePipeline()
	s := &Server{pipeline: fp}

	reply := s.dispatch("source trigger ghost")
	assert.Equal(t, "err: not found", reply)
}

func TestDispatchSetPeriod(t *testing.T) {
	fp := newFakePipeline()
	s := &Server{pipeline: fp}

	reply := s.dispatch("source set-period cpu.usage 5s")
	assert.Equal(t, "ok", reply)
	assert.Equal(t, []string{"set-period:cpu.usage:5s"}, fp.calls)

	reply = s.dispatch("source set-period cpu.usage notaduration")
	assert.Contains(t, reply, "err:")
}

func TestDispatchOutputPauseResume(t *testing.T) {
	fp := newFakePipeline()
	s := &Server{pipeline: fp}

	assert.Equal(t, "ok", s.dispatch("output pause stdout.main"))
	assert.Equal(t, "ok", s.dispatch("output resume stdout.main"))
	assert.Equal(t, []string{"pause-output:stdout.main", "resume-output:stdout.main"}, fp.calls)
}

func TestDispatchPipelinePauseResume(t *testing.T) {
	fp := newFakePipeline()
	s := &Server{pipeline: fp}

	assert.Equal(t, "ok", s.dispatch("pipeline pause"))
	assert.Equal(t, "ok", s.dispatch("pipeline resume"))
	assert.Equal(t, []string{"pipeline-pause", "pipeline-resume"}, fp.calls)
}

func TestDispatchUnknownCommand(t *testing.T) {
	s := &Server{pipeline: newFakePipeline()}
	assert.Equal(t, "err: unknown", s.dispatch("frobnicate everything"))
	assert.Equal(t, "err: unknown", s.dispatch(""))
	assert.Equal(t, "err: unknown", s.dispatch("pipeline"))
}

func TestDispatchActionErrorIsReported(t *testing.T) {
	fp := newFakePipeline()
	fp.failOn = "trigger:cpu.usage"
	s := &Server{pipeline: fp}

	reply := s.dispatch("source trigger cpu.usage")
	assert.Contains(t, reply, "err:")
}

func TestDispatchShutdown(t *testing.T) {
	done := make(chan struct{})
	s := &Server{pipeline: newFakePipeline(), onShutdown: func() { close(done) }}

	reply := s.dispatch("shutdown")
	assert.Equal(t, "ok", reply)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("onShutdown was not called")
	}
}

func TestServerEndToEndOverSocket(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "alumet-control.sock")
	fp := newFakePipeline()

	srv, err := NewServer(socketPath, fp, nil)
	require.NoError(t, err)
	srv.Serve()
	t.Cleanup(srv.Shutdown)

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	fmt.Fprintf(conn, "source trigger *\n")
	reply, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "ok\n", reply)
	assert.ElementsMatch(t, []string{"trigger:cpu.usage", "trigger:cpu.freq", "trigger:net.bytes"}, fp.calls)
}
