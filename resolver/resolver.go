// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package resolver implements DefaultKeyResolver: the pure function
// that picks the default encryption key (and a fallback, and whether a
// new key should be minted) from the full set of known keys under the
// lifetime policy in keys.KeyManagementOptions.
package resolver

import (
	"time"

	"github.com/hashicorp/go-set/v2"

	"github.com/hashicorp/go-keyring-provider/keys"
)

// Resolution is the result of Resolve.
type Resolution struct {
	DefaultKey           *keys.Key
	FallbackKey          *keys.Key
	ShouldGenerateNewKey bool
}

// Resolve picks the default key, fallback key, and generation decision
// for instant now, given the full universe of known keys and the
// active policy. It is a pure function: it never mutates allKeys and
// never returns an error - an encryptor probe failure simply demotes
// that key from candidacy (spec §4.1, §7 EncryptorUnavailable).
func Resolve(now time.Time, allKeys []*keys.Key, opts keys.KeyManagementOptions) Resolution {
	active := make([]*keys.Key, 0, len(allKeys))
	for _, k := range allKeys {
		if isActive(k, now, opts) {
			active = append(active, k)
		}
	}

	usable := set.New[*keys.Key](len(active))
	for _, k := range active {
		if _, err := k.Encryptor(); err == nil {
			usable.Insert(k)
		}
	}

	eligible := eligibleAsDefault(usable.Slice(), now, opts, true)
	if len(eligible) == 0 {
		// relax the propagation floor: activation_date <= now
		eligible = eligibleAsDefault(usable.Slice(), now, opts, false)
	}

	var res Resolution
	res.DefaultKey = pickLatestActivation(eligible)

	if res.DefaultKey == nil {
		res.FallbackKey = pickLatestActivation(usable.Slice())
	}

	res.ShouldGenerateNewKey = shouldGenerateNewKey(res.DefaultKey, usable.Slice(), now, opts)

	return res
}

// isActive implements the "active" eligibility rule: activation_date
// <= now + skew < expiration_date, and not revoked.
func isActive(k *keys.Key, now time.Time, opts keys.KeyManagementOptions) bool {
	if k.IsRevoked() {
		return false
	}
	skewedNow := now.Add(opts.MaxServerClockSkew)
	if k.ActivationDate().After(skewedNow) {
		return false
	}
	if !skewedNow.Before(k.ExpirationDate()) {
		return false
	}
	return true
}

// eligibleAsDefault filters usable keys to those that have propagated
// long enough to be chosen as default. When enforcePropagation is
// false the floor is relaxed to activation_date <= now.
func eligibleAsDefault(usable []*keys.Key, now time.Time, opts keys.KeyManagementOptions, enforcePropagation bool) []*keys.Key {
	floor := now
	if enforcePropagation {
		floor = now.Add(-opts.KeyPropagationWindow)
	}
	out := make([]*keys.Key, 0, len(usable))
	for _, k := range usable {
		if !k.ActivationDate().After(floor) {
			out = append(out, k)
		}
	}
	return out
}

// pickLatestActivation returns the candidate with the latest
// activation date, tie-broken by the larger key id
// byte-lexicographically. Returns nil on an empty slice.
func pickLatestActivation(candidates []*keys.Key) *keys.Key {
	var best *keys.Key
	for _, k := range candidates {
		if best == nil {
			best = k
			continue
		}
		switch {
		case k.ActivationDate().After(best.ActivationDate()):
			best = k
		case k.ActivationDate().Equal(best.ActivationDate()) && k.ID().Compare(best.ID()) > 0:
			best = k
		}
	}
	return best
}

// shouldGenerateNewKey implements step 2 of the selection algorithm:
// true iff there is no default, or the default is close enough to
// expiring that nothing later-activating already covers it.
func shouldGenerateNewKey(defaultKey *keys.Key, usable []*keys.Key, now time.Time, opts keys.KeyManagementOptions) bool {
	if defaultKey == nil {
		return true
	}

	remaining := defaultKey.ExpirationDate().Sub(now)
	threshold := opts.KeyPropagationWindow + opts.MaxServerClockSkew
	if remaining > threshold {
		return false
	}

	// A later-activating usable key already exists to supersede it.
	for _, k := range usable {
		if k.ActivationDate().After(defaultKey.ActivationDate()) {
			return false
		}
	}
	return true
}
