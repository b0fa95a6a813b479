// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package keyring

import (
	"math/rand/v2"
	"time"
)

// jitteredRefreshPeriod narrows period to the asymmetric band
// (0.8*period, 1.0*period], matching the source behavior this
// specification preserves exactly (see DESIGN.md open questions).
//
// rand/v2's top-level functions are already safe for concurrent use by
// multiple goroutines, which is what a shared, process-seeded PRNG
// needs here; we deliberately do not construct a fresh *rand.Rand per
// call.
func jitteredRefreshPeriod(period time.Duration) time.Duration {
	u := rand.Float64() // [0, 1)
	return time.Duration(float64(period) * (1 - u*0.2))
}
