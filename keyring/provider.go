// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package keyring

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	metrics "github.com/armon/go-metrics"
	log "github.com/hashicorp/go-hclog"

	"github.com/hashicorp/go-keyring-provider/keys"
	"github.com/hashicorp/go-keyring-provider/resolver"
)

// maxRefreshAttempts bounds the refresh loop at one retry after
// creating a key, standing in for the source's recursive "create then
// re-resolve" step (spec §9 Design Notes).
const maxRefreshAttempts = 2

// transientFailureExtension is how long a prior snapshot is kept alive
// after a KeyManager call fails transiently (spec §4.2.1).
const transientFailureExtension = 2 * time.Minute

// KeyRingProvider is the concurrent cache-and-refresh core: it returns
// an always-available (possibly stale) key ring to any number of
// concurrent callers while guaranteeing at most one refresh is ever in
// flight.
type KeyRingProvider struct {
	manager keys.KeyManager
	clock   Clock
	options keys.KeyManagementOptions
	logger  log.Logger

	snapshot atomic.Pointer[keys.CacheableKeyRing]
	mu       sync.Mutex
}

// NewKeyRingProvider constructs a provider. logger may be nil, in
// which case a no-op logger is used.
func NewKeyRingProvider(manager keys.KeyManager, clock Clock, options keys.KeyManagementOptions, logger log.Logger) *KeyRingProvider {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = log.NewNullLogger()
	}
	return &KeyRingProvider{
		manager: manager,
		clock:   clock,
		options: options.Clone(),
		logger:  logger.Named("keyring.provider"),
	}
}

// GetCurrentKeyRing returns the current key ring. It blocks only when
// there is no prior snapshot and a refresh must complete or fail; with
// any prior (even stale) snapshot, it never blocks on a contended
// refresh (spec §4.2, §5).
func (p *KeyRingProvider) GetCurrentKeyRing(ctx context.Context) (keys.KeyRing, error) {
	now := p.clock.Now()

	if snap := p.snapshot.Load(); snap != nil && snap.IsValid(now) {
		metrics.IncrCounter([]string{"keyring", "provider", "cache_hit"}, 1)
		return snap.KeyRing(), nil
	}

	if snap := p.snapshot.Load(); snap != nil {
		if !p.mu.TryLock() {
			// Another goroutine is refreshing. Never block a reader
			// that already has something to return.
			metrics.IncrCounter([]string{"keyring", "provider", "stale_fallback"}, 1)
			return snap.KeyRing(), nil
		}
		defer p.mu.Unlock()

		now = p.clock.Now()
		if fresh := p.snapshot.Load(); fresh != nil && fresh.IsValid(now) {
			return fresh.KeyRing(), nil
		}
		return p.refreshAndPublish(ctx, now)
	}

	// No snapshot exists yet: the first caller (and any concurrent
	// first callers) must block until one is published or refresh
	// fails.
	p.mu.Lock()
	defer p.mu.Unlock()

	now = p.clock.Now()
	if fresh := p.snapshot.Load(); fresh != nil && fresh.IsValid(now) {
		return fresh.KeyRing(), nil
	}
	return p.refreshAndPublish(ctx, now)
}

// refreshAndPublish performs a refresh under the already-held mutex
// and either publishes the new snapshot or, on transient failure,
// extends the lifetime of whatever snapshot was previously published.
// Callers must hold p.mu.
func (p *KeyRingProvider) refreshAndPublish(ctx context.Context, now time.Time) (keys.KeyRing, error) {
	ring, err := p.doRefresh(ctx, now)
	if err != nil {
		metrics.IncrCounter([]string{"keyring", "provider", "refresh_failed"}, 1)
		if prior := p.snapshot.Load(); prior != nil {
			extended := prior.WithExtendedLifetime(now.Add(transientFailureExtension))
			p.snapshot.Store(extended)
			p.logger.Warn("key ring refresh failed, extending prior snapshot", "error", err, "extended_until", extended.ExpirationTime)
		} else {
			p.logger.Error("key ring refresh failed with no prior snapshot", "error", err)
		}
		return nil, err
	}

	metrics.IncrCounter([]string{"keyring", "provider", "refreshed"}, 1)
	p.snapshot.Store(ring)
	return ring.KeyRing(), nil
}

// doRefresh implements the refresh algorithm of spec §4.2.1 as a
// bounded loop instead of recursion: at most one key is created, and
// the loop re-enters at "read all keys" exactly once afterward.
func (p *KeyRingProvider) doRefresh(ctx context.Context, now time.Time) (*keys.CacheableKeyRing, error) {
	var justCreated *keys.Key

	for attempt := 0; attempt < maxRefreshAttempts; attempt++ {
		// Obtained before reading keys so any mutation racing with the
		// read still fires this signal (spec step 1).
		signal := p.manager.CacheExpirationToken()

		allKeys, err := p.manager.GetAllKeys(ctx)
		if err != nil {
			return nil, fmt.Errorf("keyring: failed to list keys: %w", err)
		}

		policy := resolver.Resolve(now, allKeys, p.options)

		var chosen *keys.Key
		switch {
		case !policy.ShouldGenerateNewKey:
			chosen = policy.DefaultKey

		case justCreated != nil:
			// Recursion guard: we already created a key this refresh.
			chosen = firstNonNil(policy.DefaultKey, policy.FallbackKey, justCreated)

		case !p.options.AutoGenerateKeys:
			chosen = firstNonNil(policy.DefaultKey, policy.FallbackKey)
			if chosen == nil {
				return nil, ErrNoDefaultKeyAutoGenDisabled
			}

		default:
			activation := now
			if policy.DefaultKey != nil {
				activation = policy.DefaultKey.ExpirationDate()
			}
			created, err := p.manager.CreateNewKey(ctx, activation, activation.Add(p.options.NewKeyLifetime))
			if err != nil {
				return nil, fmt.Errorf("keyring: failed to create key: %w", err)
			}
			p.logger.Debug("created new key", "key_id", created.ID(), "activation", activation)
			justCreated = created
			continue
		}

		return p.assembleSnapshot(now, chosen, allKeys, signal)
	}

	return nil, errRefreshAttemptsExhausted
}

// assembleSnapshot builds the published CacheableKeyRing for the
// chosen default key (spec §4.2.1 step 5).
func (p *KeyRingProvider) assembleSnapshot(now time.Time, defaultKey *keys.Key, allKeys []*keys.Key, signal keys.ExpirationSignal) (*keys.CacheableKeyRing, error) {
	if defaultKey == nil {
		return nil, ErrNoDefaultKeyAutoGenDisabled
	}
	if _, err := defaultKey.Encryptor(); err != nil {
		return nil, fmt.Errorf("keyring: default key %s has no usable encryptor: %w", defaultKey.ID(), err)
	}

	keyMap := make(map[keys.KeyID]*keys.Key, len(allKeys)+1)
	for _, k := range allKeys {
		keyMap[k.ID()] = k
	}
	keyMap[defaultKey.ID()] = defaultKey

	nextRefreshAt := now.Add(jitteredRefreshPeriod(p.options.KeyRingRefreshPeriod))

	var expirationTime time.Time
	if !defaultKey.ExpirationDate().After(now) {
		expirationTime = nextRefreshAt
	} else if defaultKey.ExpirationDate().Before(nextRefreshAt) {
		expirationTime = defaultKey.ExpirationDate()
	} else {
		expirationTime = nextRefreshAt
	}

	return keys.NewCacheableKeyRing(defaultKey, keyMap, expirationTime, signal), nil
}

func firstNonNil(candidates ...*keys.Key) *keys.Key {
	for _, k := range candidates {
		if k != nil {
			return k
		}
	}
	return nil
}
