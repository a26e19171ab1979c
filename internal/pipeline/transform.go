// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pipeline

import (
	"context"

	"github.com/alumet-project/alumet/pkg/log"
	"github.com/alumet-project/alumet/pkg/measurement"
)

// transformChain applies an ordered list of Transforms to every buffer
// it receives, single-threaded and in strict FIFO arrival order (spec
// §4.3): a chain never reorders or parallelizes buffers, so Outputs see
// points in the same relative order Sources produced them.
type transformChain struct {
	specs []TransformSpec
}

// newTransformChain keeps specs in registration order, per spec §4.3's
// determinism requirement: plugin registration order is the primary
// key, and PluginName only matters as a tiebreaker for specs that
// registration order cannot already distinguish — which, since specs
// arrive in a deterministic slice, never happens in practice. Sorting
// by PluginName here would invert the guarantee, not stabilize it.
func newTransformChain(specs []TransformSpec) *transformChain {
	sorted := make([]TransformSpec, len(specs))
	copy(sorted, specs)
	return &transformChain{specs: sorted}
}

// apply runs buf through every transform in the chain. A failing
// transform logs the error and passes the buffer through unmodified to
// the next stage (spec §4.3) rather than aborting the chain.
func (c *transformChain) apply(buf *measurement.Buffer) {
	for _, spec := range c.specs {
		snapshot := buf.Clone()
		if err := spec.Transform.Apply(buf); err != nil {
			log.Warnf("pipeline: transform %s failed, passing buffer through unchanged: %v", spec.PluginName, err)
			buf.Drain()
			buf.Extend(snapshot)
		}
		snapshot.Release()
	}
}

// run drains in, applies the chain, and forwards to every output inbox
// according to policy. It exits when in is closed or ctx is done.
func (c *transformChain) run(ctx context.Context, in <-chan *measurement.Buffer, fanout *outputFanout) {
	for {
		select {
		case <-ctx.Done():
			return
		case buf, ok := <-in:
			if !ok {
				return
			}
			c.apply(buf)
			fanout.dispatch(ctx, buf)
		}
	}
}
