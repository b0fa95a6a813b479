// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package keys

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeyManagementOptions_ValidateAccumulatesErrors(t *testing.T) {
	opts := KeyManagementOptions{
		NewKeyLifetime:       0,
		KeyPropagationWindow: -time.Minute,
		MaxServerClockSkew:   -time.Minute,
		KeyRingRefreshPeriod: 0,
	}
	err := opts.Validate()
	require.Error(t, err)
	require.ErrorContains(t, err, "new key lifetime")
	require.ErrorContains(t, err, "key propagation window")
	require.ErrorContains(t, err, "max server clock skew")
	require.ErrorContains(t, err, "key ring refresh period")
}

func TestKeyManagementOptions_PropagationMustBeShorterThanLifetime(t *testing.T) {
	opts := DefaultKeyManagementOptions()
	opts.KeyPropagationWindow = opts.NewKeyLifetime
	require.ErrorContains(t, opts.Validate(), "must be shorter")
}

func TestDefaultKeyManagementOptions_IsValid(t *testing.T) {
	opts, err := NewKeyManagementOptions(DefaultKeyManagementOptions())
	require.NoError(t, err)
	require.True(t, opts.AutoGenerateKeys)
}
