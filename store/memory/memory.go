// Package memory holds an in-process AccountStore for tests and
// single-process deployments. All operations copy records on the way in and
// out, so callers never share memory with the store.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/kipdev/authority"
)

// Store implements authority.AccountStore over a mutex-guarded map.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]*authority.Account
	byEmail map[string]string
}

// New returns an empty store.
func New() *Store {
	return &Store{
		byID:    make(map[string]*authority.Account),
		byEmail: make(map[string]string),
	}
}

func (s *Store) Create(ctx context.Context, account *authority.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[account.Email]; taken {
		return authority.ErrEmailTaken
	}
	s.byID[account.ID] = clone(account)
	s.byEmail[account.Email] = account.ID
	return nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*authority.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, authority.ErrAccountNotFound
	}
	return clone(s.byID[id]), nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*authority.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.byID[id]
	if !ok {
		return nil, authority.ErrAccountNotFound
	}
	return clone(account), nil
}

func (s *Store) FindByToken(ctx context.Context, purpose authority.TokenPurpose, value string) (*authority.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account := s.lookupToken(purpose, value)
	if account == nil {
		return nil, authority.ErrTokenNotFound
	}
	return clone(account), nil
}

func (s *Store) SaveToken(ctx context.Context, accountID string, purpose authority.TokenPurpose, tok authority.PurposeToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.byID[accountID]
	if !ok {
		return authority.ErrAccountNotFound
	}
	account.SetToken(purpose, tok)
	return nil
}

// ConsumeToken clears a live token and returns its account under a single
// lock hold, so exactly one of any number of concurrent consumers for the
// same value succeeds. Expired tokens are reported but left in place.
func (s *Store) ConsumeToken(ctx context.Context, purpose authority.TokenPurpose, value string, now time.Time) (*authority.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account := s.lookupToken(purpose, value)
	if account == nil {
		return nil, authority.ErrTokenNotFound
	}
	tok, _ := account.Token(purpose)
	if now.After(tok.ExpiresAt) {
		return nil, authority.ErrTokenExpired
	}
	delete(account.Tokens, purpose)
	return clone(account), nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, accountID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.byID[accountID]
	if !ok {
		return authority.ErrAccountNotFound
	}
	account.PasswordHash = hash
	return nil
}

func (s *Store) UpdateStatus(ctx context.Context, accountID string, status authority.AccountStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.byID[accountID]
	if !ok {
		return authority.ErrAccountNotFound
	}
	account.Status = status
	return nil
}

func (s *Store) UpdateTwoFactor(ctx context.Context, accountID string, tf authority.TwoFactor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.byID[accountID]
	if !ok {
		return authority.ErrAccountNotFound
	}
	account.TwoFactor = copyTwoFactor(tf)
	return nil
}

// lookupToken scans for the account whose token of the given purpose
// matches value. Callers hold the lock.
func (s *Store) lookupToken(purpose authority.TokenPurpose, value string) *authority.Account {
	if value == "" {
		return nil
	}
	for _, account := range s.byID {
		if tok, ok := account.Token(purpose); ok && tok.Value == value {
			return account
		}
	}
	return nil
}

func clone(account *authority.Account) *authority.Account {
	if account == nil {
		return nil
	}
	out := *account
	out.TwoFactor = copyTwoFactor(account.TwoFactor)
	if account.Tokens != nil {
		out.Tokens = make(map[authority.TokenPurpose]authority.PurposeToken, len(account.Tokens))
		for purpose, tok := range account.Tokens {
			out.Tokens[purpose] = tok
		}
	}
	return &out
}

func copyTwoFactor(tf authority.TwoFactor) authority.TwoFactor {
	if tf.TOTP != nil {
		t := *tf.TOTP
		tf.TOTP = &t
	}
	if tf.SMS != nil {
		s := *tf.SMS
		tf.SMS = &s
	}
	return tf
}
