// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package keys

import (
	"time"

	"github.com/hashicorp/go-set/v2"
)

// KeyRing is the read-only view callers get back from the provider:
// the current default key, and lookup by id for decrypting payloads
// protected under any previously known key.
type KeyRing interface {
	// Default is the key new payloads should be encrypted under.
	Default() *Key
	// Find returns the key with the given id, including revoked keys,
	// and reports whether it was present.
	Find(id KeyID) (*Key, bool)
}

// CacheableKeyRing is the immutable snapshot the provider publishes.
// It is valid until ExpirationTime, or until ExpirationSignal fires,
// whichever comes first.
type CacheableKeyRing struct {
	DefaultKey       *Key
	AllKeys          map[KeyID]*Key
	ExpirationTime   time.Time
	ExpirationSignal ExpirationSignal

	revoked *set.Set[KeyID]
}

// NewCacheableKeyRing assembles a snapshot. allKeys must include
// defaultKey; the caller is expected to have already verified
// defaultKey.Encryptor() succeeds (Invariant 2).
func NewCacheableKeyRing(defaultKey *Key, allKeys map[KeyID]*Key, expirationTime time.Time, signal ExpirationSignal) *CacheableKeyRing {
	revoked := set.New[KeyID](0)
	for id, k := range allKeys {
		if k.IsRevoked() {
			revoked.Insert(id)
		}
	}
	return &CacheableKeyRing{
		DefaultKey:       defaultKey,
		AllKeys:          allKeys,
		ExpirationTime:   expirationTime,
		ExpirationSignal: signal,
		revoked:          revoked,
	}
}

// IsValid reports whether the snapshot may still be served at instant
// now without a refresh (spec Invariant 1).
func (c *CacheableKeyRing) IsValid(now time.Time) bool {
	if !now.Before(c.ExpirationTime) {
		return false
	}
	return !Fired(c.ExpirationSignal)
}

// WithExtendedLifetime returns a copy of c whose ExpirationTime is
// pushed out to newExpiration, keeping the same keys. Used by the
// provider to extend a snapshot's life across a transient KeyManager
// failure (spec §4.2.1).
//
// The extended copy drops the original expiration signal rather than
// carrying it forward: that signal already fired (or the keys became
// stale for some other reason) to trigger the refresh that then
// failed, so keeping it would make the grace-period snapshot invalid
// the instant it's published, defeating the point of the extension
// ("subsequent callers within the 2-minute window get the old ring
// without hammering the repository"). For the extension window,
// validity is governed by ExpirationTime alone.
func (c *CacheableKeyRing) WithExtendedLifetime(newExpiration time.Time) *CacheableKeyRing {
	extended := *c
	extended.ExpirationTime = newExpiration
	extended.ExpirationSignal = nil
	return &extended
}

// HasRevoked reports whether id was a revoked key at the time this
// snapshot was assembled.
func (c *CacheableKeyRing) HasRevoked(id KeyID) bool {
	if c.revoked == nil {
		return false
	}
	return c.revoked.Contains(id)
}

// KeyRing returns the public lookup view over this snapshot.
func (c *CacheableKeyRing) KeyRing() KeyRing {
	return (*keyRingView)(c)
}

type keyRingView CacheableKeyRing

func (v *keyRingView) Default() *Key {
	return v.DefaultKey
}

func (v *keyRingView) Find(id KeyID) (*Key, bool) {
	k, ok := v.AllKeys[id]
	return k, ok
}
