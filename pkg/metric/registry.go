// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package metric

import (
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/alumet-project/alumet/pkg/units"
)

var nameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// NameConflictError is returned by Register when a name is already taken
// by a metric with an incompatible (type, unit, description).
type NameConflictError struct {
	Name       string
	ExistingId Id
}

func (e *NameConflictError) Error() string {
	return fmt.Sprintf("metric: name %q already registered with an incompatible definition (id %d)", e.Name, e.ExistingId)
}

// InvalidNameError is returned by Register when name fails the
// `[A-Za-z_][A-Za-z0-9_]*`, length <= 255 rule.
type InvalidNameError struct {
	Name string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("metric: invalid name %q", e.Name)
}

// Registry is the shared, concurrency-safe metric catalog described by
// spec §4.1. Reads (Get/LookupByName/Iter) may run concurrently with each
// other; writes (Register) are serialized and readers never observe a
// partially inserted metric.
type Registry struct {
	mu        sync.RWMutex
	byName    map[string]Id
	byId      map[Id]*Metric
	nextIdSeq atomic.Uint64
}

// NewRegistry returns an empty registry. Every agent owns exactly one;
// it is threaded explicitly through plugin start calls rather than kept
// as an ambient singleton (spec §9 "Global state").
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]Id),
		byId:   make(map[Id]*Metric),
	}
}

func validateName(name string) error {
	if len(name) == 0 || len(name) > 255 || !nameRegex.MatchString(name) {
		return &InvalidNameError{Name: name}
	}
	return nil
}

// Register creates or reuses a metric id for (name, valueType, unit,
// description). Re-registering with an identical definition returns the
// existing id; a conflicting re-registration returns *NameConflictError.
func (r *Registry) Register(name string, valueType ValueType, unit units.PrefixedUnit, description string) (Id, error) {
	if err := validateName(name); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byName[name]; ok {
		existing := r.byId[id]
		if existing.ValueType == valueType && existing.Unit.Equal(unit) && existing.Description == description {
			return id, nil
		}
		return 0, &NameConflictError{Name: name, ExistingId: id}
	}

	id := Id(r.nextIdSeq.Add(1))
	r.byId[id] = &Metric{
		Id:          id,
		Name:        name,
		Description: description,
		ValueType:   valueType,
		Unit:        unit,
	}
	r.byName[name] = id
	return id, nil
}

// LookupByName returns the id of a previously registered metric, or
// false if no metric carries that name.
func (r *Registry) LookupByName(name string) (Id, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	return id, ok
}

// Get returns the immutable definition of a metric id, or false if the
// id is unknown (never registered, or — were unregistration supported —
// already retired; spec assumes unregistration is not supported).
func (r *Registry) Get(id Id) (Metric, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byId[id]
	if !ok {
		return Metric{}, false
	}
	return *m, true
}

// Iter calls fn for every registered metric in unspecified order. fn
// must not call back into the registry (Register/Iter): Iter holds the
// read lock for its whole duration.
func (r *Registry) Iter(fn func(Id, Metric)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, m := range r.byId {
		fn(id, *m)
	}
}

// Known reports whether id refers to a currently registered metric; the
// pipeline uses this to discard points with an unknown metric id
// (spec §3 invariants) and count them.
func (r *Registry) Known(id Id) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byId[id]
	return ok
}
