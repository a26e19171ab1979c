// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package tagtransform is a reference Transform plugin: it adds one
// configured attribute key to every point, whose value is computed by
// evaluating a small github.com/expr-lang/expr expression over the
// point's resource, consumer and existing attributes. It is a core
// testing fixture exercising the "pure function buffer -> buffer"
// contract of pipeline.Transform with a configurable, non-recompiled
// rule rather than a fixed one, and directly demonstrates the
// duplicate-attribute-key rejection of measurement.Point.SetAttribute
// (spec §8 scenario 2: tagging the same key twice on one point fails,
// is logged, and the point passes through with its first value intact).
package tagtransform

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/alumet-project/alumet/internal/config"
	"github.com/alumet-project/alumet/internal/pipeline"
	"github.com/alumet-project/alumet/pkg/measurement"
)

// Plugin evaluates Expression against each point and stores the result
// under Key.
type Plugin struct {
	pluginName string
	key        string
	expression string
	program    *vm.Program
}

// New returns an unconfigured Plugin; Init compiles the expression from
// the plugin's config section.
func New() *Plugin {
	return &Plugin{pluginName: "tagtransform"}
}

func (p *Plugin) Name() string { return p.pluginName }

// Init reads "key" (the attribute name to set) and "expression" (an
// expr-lang expression over resource/consumer/attributes) from cfg and
// compiles the expression once, so a malformed rule aborts startup
// (spec §4.4) rather than failing on every point at runtime.
func (p *Plugin) Init(cfg config.Table) error {
	key, ok := cfg.String("key")
	if !ok || key == "" {
		return fmt.Errorf("tagtransform: missing required config key \"key\"")
	}
	exprStr, ok := cfg.String("expression")
	if !ok || exprStr == "" {
		return fmt.Errorf("tagtransform: missing required config key \"expression\"")
	}

	program, err := expr.Compile(exprStr, expr.Env(env{}))
	if err != nil {
		return fmt.Errorf("tagtransform: compile expression %q: %w", exprStr, err)
	}

	p.key = key
	p.expression = exprStr
	p.program = program
	return nil
}

// Start registers this plugin as a Transform.
func (p *Plugin) Start(b *pipeline.Builder) error {
	b.AddTransform(pipeline.TransformSpec{PluginName: p.pluginName, Transform: p})
	return nil
}

// env is the variable namespace an expression is evaluated against.
type env struct {
	Resource   tagRef         `expr:"resource"`
	Consumer   tagRef         `expr:"consumer"`
	Attributes map[string]any `expr:"attributes"`
}

type tagRef struct {
	Kind string `expr:"kind"`
	Id   string `expr:"id"`
}

// Apply evaluates the expression once per point and stores the result
// under p.key. The first SetAttribute failure (most commonly: the key
// is already set on that point) aborts the rest of the buffer and is
// returned to the caller; the pipeline's transform chain logs it and
// restores the buffer to its state before Apply, so points already
// tagged earlier in the same call lose the new attribute (spec §4.3).
func (p *Plugin) Apply(buf *measurement.Buffer) error {
	for i := 0; i < buf.Len(); i++ {
		pt := buf.At(i)

		attrs := make(map[string]any, len(pt.Attributes()))
		for _, a := range pt.Attributes() {
			attrs[a.Key] = attributeToAny(a.Value)
		}

		result, err := expr.Run(p.program, env{
			Resource:   tagRef{Kind: pt.Resource.Kind, Id: pt.Resource.Id},
			Consumer:   tagRef{Kind: pt.Consumer.Kind, Id: pt.Consumer.Id},
			Attributes: attrs,
		})
		if err != nil {
			return fmt.Errorf("tagtransform: evaluate expression: %w", err)
		}

		value, err := anyToAttribute(result)
		if err != nil {
			return fmt.Errorf("tagtransform: expression result: %w", err)
		}
		if err := pt.SetAttribute(p.key, value); err != nil {
			return err
		}
	}
	return nil
}

func attributeToAny(v measurement.AttributeValue) any {
	if s, ok := v.AsString(); ok {
		return s
	}
	if u, ok := v.AsU64(); ok {
		return u
	}
	if f, ok := v.AsF64(); ok {
		return f
	}
	if b, ok := v.AsBool(); ok {
		return b
	}
	return nil
}

func anyToAttribute(v any) (measurement.AttributeValue, error) {
	switch n := v.(type) {
	case string:
		return measurement.StringAttr(n), nil
	case bool:
		return measurement.BoolAttr(n), nil
	case int:
		return measurement.U64Attr(uint64(n)), nil
	case int64:
		return measurement.U64Attr(uint64(n)), nil
	case uint64:
		return measurement.U64Attr(n), nil
	case float64:
		return measurement.F64Attr(n), nil
	default:
		return measurement.AttributeValue{}, fmt.Errorf("unsupported expression result type %T", v)
	}
}

func (p *Plugin) Stop() error { return nil }
func (p *Plugin) Drop()       {}
