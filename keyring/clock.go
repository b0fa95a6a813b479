// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package keyring implements KeyRingProvider, the concurrent
// cache-and-refresh core that sits on top of keys.KeyManager and
// resolver.Resolve.
package keyring

import "time"

// Clock produces the current instant. Injected so tests can control
// time; production code uses SystemClock.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock, backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
