// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package keys holds the data model for the key ring provider: the
// immutable Key descriptor, the KeyManager collaborator interface, the
// policy options, and the key ring views assembled from them.
package keys

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	uuid "github.com/hashicorp/go-uuid"
)

// KeyID is a 128-bit key identifier. It is byte-lexicographically
// ordered, which DefaultKeyResolver relies on for its tie-break rule.
type KeyID [16]byte

// Compare returns -1, 0, or 1 as id is byte-lexicographically less
// than, equal to, or greater than other.
func (id KeyID) Compare(other KeyID) int {
	return bytes.Compare(id[:], other[:])
}

func (id KeyID) String() string {
	return hex.EncodeToString(id[:])
}

// NewKeyID generates a random KeyID.
func NewKeyID() (KeyID, error) {
	var id KeyID
	raw, err := uuid.GenerateRandomBytes(16)
	if err != nil {
		return id, fmt.Errorf("keys: failed to generate key id: %w", err)
	}
	copy(id[:], raw)
	return id, nil
}

// Encryptor is the authenticated-encryption handle a Key's factory
// produces. The concrete AEAD construction (AES-CBC+HMAC, AES-GCM, ...)
// is the payload-protection layer's concern; the key ring core only
// needs to know whether a Key can produce one.
type Encryptor interface {
	Encrypt(plaintext []byte) (ciphertext []byte, err error)
	Decrypt(ciphertext []byte) (plaintext []byte, err error)
}

// EncryptorFactory lazily constructs the Encryptor for a Key. It may
// fail, and must be idempotent on success.
type EncryptorFactory func() (Encryptor, error)

// Key is an immutable key descriptor, aside from the monotonic
// is-revoked flag. Its encryptor is constructed lazily and memoized the
// first time it's requested, successful or not.
type Key struct {
	id             KeyID
	creationDate   time.Time
	activationDate time.Time
	expirationDate time.Time

	revoked bool // guarded by mu; set at most once, false -> true
	mu      sync.Mutex

	factory       EncryptorFactory
	encryptorOnce sync.Once
	encryptor     Encryptor
	encryptorErr  error
}

// NewKey constructs a Key, validating the creation <= activation <
// expiration invariant from the data model.
func NewKey(id KeyID, creationDate, activationDate, expirationDate time.Time, factory EncryptorFactory) (*Key, error) {
	if factory == nil {
		return nil, fmt.Errorf("keys: key %s has no encryptor factory", id)
	}
	if activationDate.Before(creationDate) {
		return nil, fmt.Errorf("keys: key %s activation %s precedes creation %s", id, activationDate, creationDate)
	}
	if !expirationDate.After(activationDate) {
		return nil, fmt.Errorf("keys: key %s expiration %s does not follow activation %s", id, expirationDate, activationDate)
	}
	return &Key{
		id:             id,
		creationDate:   creationDate.UTC(),
		activationDate: activationDate.UTC(),
		expirationDate: expirationDate.UTC(),
		factory:        factory,
	}, nil
}

func (k *Key) ID() KeyID                 { return k.id }
func (k *Key) CreationDate() time.Time   { return k.creationDate }
func (k *Key) ActivationDate() time.Time { return k.activationDate }
func (k *Key) ExpirationDate() time.Time { return k.expirationDate }

// IsRevoked reports whether the key has been revoked. Revocation is
// monotonic: once true, it never reports false again.
func (k *Key) IsRevoked() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.revoked
}

// Revoke marks the key revoked. It is idempotent.
func (k *Key) Revoke() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.revoked = true
}

// Encryptor returns the key's authenticated-encryption handle,
// constructing it on first call and memoizing the result (success or
// failure) for every subsequent call.
func (k *Key) Encryptor() (Encryptor, error) {
	k.encryptorOnce.Do(func() {
		k.encryptor, k.encryptorErr = k.factory()
	})
	return k.encryptor, k.encryptorErr
}
