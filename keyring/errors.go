// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package keyring

import "errors"

// ErrNoDefaultKeyAutoGenDisabled is returned when the resolver found no
// default or fallback key and AutoGenerateKeys is false. It is a
// configuration error: non-retryable until an operator intervenes.
var ErrNoDefaultKeyAutoGenDisabled = errors.New("keyring: no default key available and auto-generation is disabled")

// errRefreshAttemptsExhausted guards against the bounded refresh loop
// looping more than the single permitted recursion; it should be
// unreachable in practice, since the loop body always either returns
// or records the just-created key before its final iteration.
var errRefreshAttemptsExhausted = errors.New("keyring: refresh did not converge after creating a key")
