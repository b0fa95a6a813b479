// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package keys

import (
	"fmt"
	"time"

	multierror "github.com/hashicorp/go-multierror"
)

// KeyManagementOptions is the immutable policy the resolver and
// provider evaluate keys against. Construct with
// NewKeyManagementOptions; the zero value is not valid.
type KeyManagementOptions struct {
	// AutoGenerateKeys permits the provider to mint a new key via
	// KeyManager.CreateNewKey when the resolver asks for one.
	AutoGenerateKeys bool

	// NewKeyLifetime is the validity period given to a freshly
	// created key. Typical: 90 days.
	NewKeyLifetime time.Duration

	// KeyPropagationWindow is how long after activation a key is
	// assumed to still be propagating to peers, and therefore
	// ineligible to be chosen as the default. Typical: 2 days.
	KeyPropagationWindow time.Duration

	// MaxServerClockSkew is the budget absorbed when deciding whether
	// a key's activation/expiration bounds admit `now`. Typical: 5 min.
	MaxServerClockSkew time.Duration

	// KeyRingRefreshPeriod upper-bounds snapshot staleness absent an
	// expiration signal. Typical: 24h.
	KeyRingRefreshPeriod time.Duration
}

// NewKeyManagementOptions validates and returns a defensive copy of
// opts, since KeyManagementOptions has no pointer fields there is
// nothing further to deep-copy, but construction through this
// constructor (rather than taking a caller-owned pointer) is what
// prevents a caller from mutating options live under the provider.
func NewKeyManagementOptions(opts KeyManagementOptions) (KeyManagementOptions, error) {
	if err := opts.Validate(); err != nil {
		return KeyManagementOptions{}, err
	}
	return opts, nil
}

// Clone returns an independent copy of opts.
func (o KeyManagementOptions) Clone() KeyManagementOptions {
	return o
}

// Validate checks the option set for internal consistency, collecting
// every violation rather than stopping at the first.
func (o KeyManagementOptions) Validate() error {
	var result *multierror.Error
	if o.NewKeyLifetime <= 0 {
		result = multierror.Append(result, fmt.Errorf("new key lifetime must be positive, got %s", o.NewKeyLifetime))
	}
	if o.KeyPropagationWindow < 0 {
		result = multierror.Append(result, fmt.Errorf("key propagation window must not be negative, got %s", o.KeyPropagationWindow))
	}
	if o.MaxServerClockSkew < 0 {
		result = multierror.Append(result, fmt.Errorf("max server clock skew must not be negative, got %s", o.MaxServerClockSkew))
	}
	if o.KeyRingRefreshPeriod <= 0 {
		result = multierror.Append(result, fmt.Errorf("key ring refresh period must be positive, got %s", o.KeyRingRefreshPeriod))
	}
	if o.KeyPropagationWindow >= o.NewKeyLifetime {
		result = multierror.Append(result, fmt.Errorf("key propagation window (%s) must be shorter than new key lifetime (%s)", o.KeyPropagationWindow, o.NewKeyLifetime))
	}
	return result.ErrorOrNil()
}

// DefaultKeyManagementOptions returns the typical values called out in
// the data model: 90 day lifetime, 2 day propagation window, 5 minute
// skew budget, 24 hour refresh period.
func DefaultKeyManagementOptions() KeyManagementOptions {
	return KeyManagementOptions{
		AutoGenerateKeys:     true,
		NewKeyLifetime:       90 * 24 * time.Hour,
		KeyPropagationWindow: 2 * 24 * time.Hour,
		MaxServerClockSkew:   5 * time.Minute,
		KeyRingRefreshPeriod: 24 * time.Hour,
	}
}
