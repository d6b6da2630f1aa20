// Package credentials implements the Credential Accessor (C1): read-only
// lookup of a per-account access token bundle, refreshed on expiry. The
// end-user OAuth login flow and the vault that stores refresh tokens are
// external collaborators (spec.md §1 Non-goals) — this package only
// consumes a stored refresh token and exchanges it for a live access
// token, caching the live token until it is close to expiry.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNoCredentials is returned when no stored refresh token exists for
// the given account — the Mailbox Sync Engine treats this identically to
// a refresh failure and aborts the pass with AUTH_REQUIRED.
var ErrNoCredentials = errors.New("credentials: no stored token for account")

// TokenBundle is a live, usable access token for one account.
type TokenBundle struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Expired reports whether the bundle is at or past its expiry, with a
// small safety margin so callers don't race a token that's about to
// expire mid-call.
func (b TokenBundle) Expired() bool {
	return time.Now().After(b.ExpiresAt.Add(-30 * time.Second))
}

// Accessor is the read-only contract the Mailbox Sync Engine and
// Provider Adapter depend on. Implementations own refresh-on-expiry;
// callers never see a stale token.
type Accessor interface {
	// TokenBundle returns a live access token for accountID, refreshing
	// the stored refresh token if necessary. Returns ErrNoCredentials if
	// the account has never been connected or was disconnected.
	TokenBundle(ctx context.Context, accountID string) (TokenBundle, error)
}

// RefreshTokenLookup resolves an account to its stored provider refresh
// token. This is the seam onto the external credential vault
// (spec.md §1 Non-goals) — the core depends only on this function type,
// never on how or where refresh tokens are persisted.
type RefreshTokenLookup func(ctx context.Context, accountID string) (refreshToken string, err error)

// Refresher exchanges a refresh token for a live access token. The
// Google-backed implementation in oauth_google.go is the concrete
// instance used in production; tests supply a fake.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (TokenBundle, error)
}

// CachingAccessor is an Accessor that caches the live access token per
// account in memory and only calls the Refresher when the cached bundle
// is absent or expired. Grounded on the teacher's AuthManager in-memory
// session map (internal/auth/auth.go), generalized from user sessions to
// per-account provider tokens.
type CachingAccessor struct {
	lookup    RefreshTokenLookup
	refresher Refresher

	mu    sync.Mutex
	cache map[string]TokenBundle
}

// NewCachingAccessor builds a CachingAccessor from a refresh-token lookup
// and a Refresher.
func NewCachingAccessor(lookup RefreshTokenLookup, refresher Refresher) *CachingAccessor {
	return &CachingAccessor{
		lookup:    lookup,
		refresher: refresher,
		cache:     make(map[string]TokenBundle),
	}
}

// TokenBundle implements Accessor.
func (a *CachingAccessor) TokenBundle(ctx context.Context, accountID string) (TokenBundle, error) {
	a.mu.Lock()
	cached, ok := a.cache[accountID]
	a.mu.Unlock()
	if ok && !cached.Expired() {
		return cached, nil
	}

	refreshToken, err := a.lookup(ctx, accountID)
	if err != nil {
		return TokenBundle{}, fmt.Errorf("credentials: lookup refresh token for %s: %w", accountID, err)
	}
	if refreshToken == "" {
		return TokenBundle{}, ErrNoCredentials
	}

	bundle, err := a.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return TokenBundle{}, fmt.Errorf("credentials: refresh token for %s: %w", accountID, err)
	}

	a.mu.Lock()
	a.cache[accountID] = bundle
	a.mu.Unlock()
	return bundle, nil
}
