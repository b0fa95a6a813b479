// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package memkeys

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hashicorp/go-keyring-provider/keys"
)

func TestManager_GetAllKeysEmpty(t *testing.T) {
	m := New()
	all, err := m.GetAllKeys(context.Background())
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestManager_CreateNewKeyIsVisibleToSubsequentGetAllKeys(t *testing.T) {
	m := New()
	t0 := time.Date(2015, 3, 1, 0, 0, 0, 0, time.UTC)

	created, err := m.CreateNewKey(context.Background(), t0, t0.Add(90*24*time.Hour))
	require.NoError(t, err)

	all, err := m.GetAllKeys(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, created.ID(), all[0].ID())

	enc, err := all[0].Encryptor()
	require.NoError(t, err)
	ciphertext, err := enc.Encrypt([]byte("hello"))
	require.NoError(t, err)
	plaintext, err := enc.Decrypt(ciphertext)
	require.NoError(t, err)
	require.Equal(t, "hello", string(plaintext))
}

func TestManager_RevokeIsRetainedAndVisible(t *testing.T) {
	m := New()
	t0 := time.Date(2015, 3, 1, 0, 0, 0, 0, time.UTC)
	id, err := keys.NewKeyID()
	require.NoError(t, err)
	require.NoError(t, m.Seed(id, t0.Add(-10*24*time.Hour), t0.Add(-10*24*time.Hour), t0.Add(80*24*time.Hour), false))

	require.NoError(t, m.Revoke(id))

	all, err := m.GetAllKeys(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.True(t, all[0].IsRevoked())
}

func TestManager_RevokeUnknownKeyErrors(t *testing.T) {
	m := New()
	id, err := keys.NewKeyID()
	require.NoError(t, err)
	require.Error(t, m.Revoke(id))
}

func TestManager_CacheExpirationTokenFiresOnMutation(t *testing.T) {
	m := New()
	sig := m.CacheExpirationToken()
	require.False(t, keys.Fired(sig))

	t0 := time.Date(2015, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err := m.CreateNewKey(context.Background(), t0, t0.Add(90*24*time.Hour))
	require.NoError(t, err)

	require.True(t, keys.Fired(sig), "a mutation must fire the signal obtained before it")
	require.False(t, keys.Fired(m.CacheExpirationToken()), "a freshly obtained token must not already be fired")
}

func TestManager_CreateNewKeyIsRateLimited(t *testing.T) {
	m := New()
	t0 := time.Date(2015, 3, 1, 0, 0, 0, 0, time.UTC)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	// Exhaust the burst allowance, then expect the next call to return
	// an error rather than hang forever: the wait for a new token is
	// longer than the (short) context deadline allows.
	for i := 0; i < createRateBurst; i++ {
		_, err := m.CreateNewKey(context.Background(), t0, t0.Add(90*24*time.Hour))
		require.NoError(t, err)
	}
	_, err := m.CreateNewKey(ctx, t0, t0.Add(90*24*time.Hour))
	require.Error(t, err)
}
