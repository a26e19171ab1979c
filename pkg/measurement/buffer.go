// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package measurement

import "sync"

// Default starting capacity for a freshly pooled buffer. Matches the
// teacher's internal/memorystore BufferCap idiom of sizing pooled
// allocations for the common case rather than growing from zero.
const defaultPointCapacity = 64

var bufferPool = sync.Pool{
	New: func() any {
		return &Buffer{points: make([]Point, 0, defaultPointCapacity)}
	},
}

// Buffer is an ordered sequence of Points — the only unit of bulk
// transport between pipeline stages (spec §3). Buffer identity is
// pipeline-local: a buffer is produced by exactly one Source, owned by
// whichever stage currently holds it, and returned to the pool once the
// last Output has consumed it.
type Buffer struct {
	points []Point
}

// NewBuffer returns a buffer drawn from the shared pool, avoiding a
// fresh allocation on every source poll tick.
func NewBuffer() *Buffer {
	b := bufferPool.Get().(*Buffer)
	b.points = b.points[:0]
	return b
}

// Release returns the buffer to the pool. Callers must not use b after
// calling Release. The pipeline calls this once a buffer has been
// delivered (or explicitly dropped) for every registered output.
func Release(b *Buffer) {
	if b == nil {
		return
	}
	bufferPool.Put(b)
}

// Release is the method form of the package-level Release, for callers
// already holding a *Buffer receiver.
func (b *Buffer) Release() { Release(b) }

// Append adds a point to the end of the buffer, preserving insertion
// order (spec §3: "insertion order is preserved across transforms").
func (b *Buffer) Append(p Point) {
	b.points = append(b.points, p)
}

// Extend appends every point of other to b, in order.
func (b *Buffer) Extend(other *Buffer) {
	b.points = append(b.points, other.points...)
}

// Drain moves b's contents into a new slice and empties b, without
// reallocating b's backing array.
func (b *Buffer) Drain() []Point {
	out := b.points
	b.points = nil
	return out
}

// Len returns the number of points currently in the buffer.
func (b *Buffer) Len() int { return len(b.points) }

// Points exposes the buffer's points for read access. Transforms that
// need to mutate a point in place should use At, not a stale copy taken
// from this slice.
func (b *Buffer) Points() []Point { return b.points }

// At returns a pointer to the i'th point, to be mutated in place by a
// Transform (e.g. SetAttribute, Drop).
func (b *Buffer) At(i int) *Point { return &b.points[i] }

// Clone returns a deep-enough copy of b (a new backing array, points
// copied by value) so that a Transform's mutations never alias a
// buffer some other consumer still holds — used when a buffer is fanned
// out to multiple Outputs that might run concurrently with in-place
// edits from a slow Transform upstream. The pipeline itself only clones
// when fanning out post-transform, never mid-chain (transforms see one
// buffer each, strictly ordered, per spec §5).
func (b *Buffer) Clone() *Buffer {
	clone := NewBuffer()
	clone.points = append(clone.points, b.points...)
	return clone
}
