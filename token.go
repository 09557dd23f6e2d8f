package authority

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// newAccountID returns a random v4 UUID for a freshly created account.
func newAccountID() string {
	return uuid.NewString()
}

// tokenIssuer mints and consumes single-use purpose tokens. Values are
// random v4 UUIDs; expiry is a fixed offset from issuance. Consumption
// clears the token before any dependent side effect runs: if that effect
// fails the token is gone, and recovery is reissuing a fresh token rather
// than replaying the old one.
type tokenIssuer struct {
	store AccountStore
	ttl   time.Duration
	clock func() time.Time
}

func newTokenIssuer(store AccountStore, ttl time.Duration, clock func() time.Time) *tokenIssuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if clock == nil {
		clock = time.Now
	}
	return &tokenIssuer{store: store, ttl: ttl, clock: clock}
}

// Mint builds a token without persisting it, for accounts that are about to
// be created with the token already in place.
func (i *tokenIssuer) Mint() PurposeToken {
	now := i.clock()
	return PurposeToken{
		Value:     uuid.NewString(),
		IssuedAt:  now,
		ExpiresAt: now.Add(i.ttl),
	}
}

// Issue mints a token and persists it against the account, superseding any
// prior live token of the same purpose.
func (i *tokenIssuer) Issue(ctx context.Context, accountID string, purpose TokenPurpose) (PurposeToken, error) {
	tok := i.Mint()
	if err := i.store.SaveToken(ctx, accountID, purpose, tok); err != nil {
		return PurposeToken{}, err
	}
	return tok, nil
}

// Consume atomically clears the token and returns its account. The store
// reports ErrTokenNotFound for absent or already-consumed values and
// ErrTokenExpired past the expiry instant (a token is accepted up to and
// including its expiry timestamp).
func (i *tokenIssuer) Consume(ctx context.Context, purpose TokenPurpose, value string) (*Account, error) {
	if value == "" {
		return nil, ErrTokenNotFound
	}
	return i.store.ConsumeToken(ctx, purpose, value, i.clock())
}
