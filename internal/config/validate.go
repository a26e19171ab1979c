// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*
var schemaFiles embed.FS

func loadSchemaFile(s string) (io.ReadCloser, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	return schemaFiles.Open(u.Path)
}

func init() {
	jsonschema.Loaders["embedFS"] = loadSchemaFile
}

// Error wraps a configuration validation or decoding failure. It is the
// ConfigError of spec §7: any occurrence aborts agent startup.
type Error struct {
	msg string
	err error
}

func (e *Error) Error() string { return e.msg }
func (e *Error) Unwrap() error { return e.err }

func newConfigError(format string, args ...any) *Error {
	return &Error{msg: fmt.Sprintf(format, args...)}
}

func wrapConfigError(context string, err error) *Error {
	return &Error{msg: fmt.Sprintf("%s: %v", context, err), err: err}
}

// validateRoot validates raw root-level agent configuration JSON against
// the embedded schema before it is decoded into Go structures.
func validateRoot(raw json.RawMessage) error {
	s, err := jsonschema.Compile("embedFS://schemas/agent.schema.json")
	if err != nil {
		return wrapConfigError("compile agent config schema", err)
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return wrapConfigError("decode agent config", err)
	}

	if err := s.Validate(v); err != nil {
		return wrapConfigError("validate agent config", err)
	}
	return nil
}
