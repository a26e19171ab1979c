// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pipeline

import "github.com/alumet-project/alumet/internal/config"

// PolicyFromConfig translates the config package's string-based
// BackpressurePolicy into the pipeline package's own enum, keeping
// internal/config free of any dependency on internal/pipeline.
func PolicyFromConfig(p config.BackpressurePolicy) BackpressurePolicy {
	switch p {
	case config.DropOldest:
		return PolicyDropOldest
	case config.DropNew:
		return PolicyDropNew
	default:
		return PolicyBlock
	}
}
