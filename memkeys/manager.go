// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package memkeys is a reference, in-memory KeyManager implementation
// for tests and local development. It is explicitly not the
// persistent key repository spec.md places out of scope: there is no
// XML serialization, no envelope encryption, no file or registry
// storage - just an indexed in-memory table modeled on the way Nomad's
// FSM state store holds RootKeyMeta records.
package memkeys

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	memdb "github.com/hashicorp/go-memdb"
	"golang.org/x/time/rate"

	"github.com/hashicorp/go-keyring-provider/keys"
)

// record is the row stored in the memdb table. Key material never
// leaves the package; GetAllKeys reconstructs keys.Key values with a
// lazy encryptor factory closed over the raw secret.
type record struct {
	IDHex          string
	ID             keys.KeyID
	CreationDate   time.Time
	ActivationDate time.Time
	ExpirationDate time.Time
	Revoked        bool
	Secret         []byte // AES-256 key material
}

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		"keys": {
			Name: "keys",
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "IDHex"},
				},
			},
		},
	},
}

// createRateLimit bounds how often CreateNewKey may mint a key,
// guarding against a thundering herd of callers each asking the
// provider to generate one, the way KeyringReplicator.run rate-limits
// its repository polling loop.
const createRateLimit rate.Limit = 5
const createRateBurst = 5

// Manager is a reference KeyManager backed by an in-memory,
// snapshot-isolated table.
type Manager struct {
	db            *memdb.MemDB
	createLimiter *rate.Limiter

	mu     sync.Mutex
	signal context.Context
	cancel context.CancelFunc
}

// New constructs an empty Manager.
func New() *Manager {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		// schema is a package-level constant known to be well-formed;
		// a failure here means the schema itself was edited incorrectly.
		panic(fmt.Sprintf("memkeys: invalid schema: %v", err))
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		db:            db,
		createLimiter: rate.NewLimiter(createRateLimit, createRateBurst),
		signal:        ctx,
		cancel:        cancel,
	}
}

// GetAllKeys implements keys.KeyManager.
func (m *Manager) GetAllKeys(ctx context.Context) ([]*keys.Key, error) {
	txn := m.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get("keys", "id")
	if err != nil {
		return nil, fmt.Errorf("memkeys: failed to scan keys: %w", err)
	}

	var out []*keys.Key
	for raw := it.Next(); raw != nil; raw = it.Next() {
		rec := raw.(*record)
		k, err := toKey(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

// CreateNewKey implements keys.KeyManager.
func (m *Manager) CreateNewKey(ctx context.Context, activation, expiration time.Time) (*keys.Key, error) {
	if err := m.createLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("memkeys: rate limited: %w", err)
	}

	id, err := keys.NewKeyID()
	if err != nil {
		return nil, err
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("memkeys: failed to generate key material: %w", err)
	}

	rec := &record{
		IDHex:          id.String(),
		ID:             id,
		CreationDate:   activation,
		ActivationDate: activation,
		ExpirationDate: expiration,
		Secret:         secret,
	}

	txn := m.db.Txn(true)
	if err := txn.Insert("keys", rec); err != nil {
		txn.Abort()
		return nil, fmt.Errorf("memkeys: failed to insert key: %w", err)
	}
	txn.Commit()

	m.invalidate()
	return toKey(rec)
}

// CacheExpirationToken implements keys.KeyManager.
func (m *Manager) CacheExpirationToken() keys.ExpirationSignal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signal
}

// Revoke marks an existing key revoked, for use by tests exercising
// Invariant 3 / P6 (revoked-key retention). Returns an error if the
// key is unknown.
func (m *Manager) Revoke(id keys.KeyID) error {
	txn := m.db.Txn(true)
	raw, err := txn.First("keys", "id", id.String())
	if err != nil {
		txn.Abort()
		return fmt.Errorf("memkeys: failed to look up key %s: %w", id, err)
	}
	if raw == nil {
		txn.Abort()
		return fmt.Errorf("memkeys: no such key %s", id)
	}
	rec := *raw.(*record)
	rec.Revoked = true
	if err := txn.Insert("keys", &rec); err != nil {
		txn.Abort()
		return fmt.Errorf("memkeys: failed to revoke key %s: %w", id, err)
	}
	txn.Commit()
	m.invalidate()
	return nil
}

// Seed inserts a pre-built key directly, for tests that want to start
// from a specific key universe rather than driving CreateNewKey.
func (m *Manager) Seed(id keys.KeyID, creation, activation, expiration time.Time, revoked bool) error {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("memkeys: failed to generate key material: %w", err)
	}
	rec := &record{
		IDHex:          id.String(),
		ID:             id,
		CreationDate:   creation,
		ActivationDate: activation,
		ExpirationDate: expiration,
		Revoked:        revoked,
		Secret:         secret,
	}
	txn := m.db.Txn(true)
	if err := txn.Insert("keys", rec); err != nil {
		txn.Abort()
		return fmt.Errorf("memkeys: failed to seed key: %w", err)
	}
	txn.Commit()
	m.invalidate()
	return nil
}

func (m *Manager) invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancel()
	ctx, cancel := context.WithCancel(context.Background())
	m.signal, m.cancel = ctx, cancel
}

// toKey reconstructs a keys.Key from a stored record, the same way
// addCipher in the teacher builds a cipher.AEAD from root key material
// on load.
func toKey(rec *record) (*keys.Key, error) {
	k, err := keys.NewKey(rec.ID, rec.CreationDate, rec.ActivationDate, rec.ExpirationDate, func() (keys.Encryptor, error) {
		block, err := aes.NewCipher(rec.Secret)
		if err != nil {
			return nil, fmt.Errorf("memkeys: could not create cipher: %w", err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("memkeys: could not create cipher: %w", err)
		}
		return &gcmEncryptor{aead: aead}, nil
	})
	if err != nil {
		return nil, err
	}
	if rec.Revoked {
		k.Revoke()
	}
	return k, nil
}

// gcmEncryptor is a minimal AES-GCM keys.Encryptor for the reference
// manager's own tests and demos. It is not the payload-protection
// layer's production AEAD construction.
type gcmEncryptor struct {
	aead cipher.AEAD
}

func (e *gcmEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return e.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (e *gcmEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := e.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("memkeys: ciphertext too short")
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	return e.aead.Open(nil, nonce, sealed, nil)
}
