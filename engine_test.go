package authority

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

// fakeClock is a controllable time source shared by the engine and the test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(at time.Time) *fakeClock {
	return &fakeClock{now: at}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// mockAccountStore is the map-backed store the engine tests run against.
// Error fields force specific methods to fail.
type mockAccountStore struct {
	mu      sync.Mutex
	byID    map[string]*Account
	byEmail map[string]string

	createErr error
	updateErr error
}

func newMockStore() *mockAccountStore {
	return &mockAccountStore{
		byID:    make(map[string]*Account),
		byEmail: make(map[string]string),
	}
}

func (s *mockAccountStore) Create(ctx context.Context, account *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if _, taken := s.byEmail[account.Email]; taken {
		return ErrEmailTaken
	}
	s.byID[account.ID] = copyAccount(account)
	s.byEmail[account.Email] = account.ID
	return nil
}

func (s *mockAccountStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return copyAccount(s.byID[id]), nil
}

func (s *mockAccountStore) FindByID(ctx context.Context, id string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.byID[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return copyAccount(account), nil
}

func (s *mockAccountStore) FindByToken(ctx context.Context, purpose TokenPurpose, value string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, account := range s.byID {
		if tok, ok := account.Token(purpose); ok && tok.Value == value {
			return copyAccount(account), nil
		}
	}
	return nil, ErrTokenNotFound
}

func (s *mockAccountStore) SaveToken(ctx context.Context, accountID string, purpose TokenPurpose, tok PurposeToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.byID[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	account.SetToken(purpose, tok)
	return nil
}

func (s *mockAccountStore) ConsumeToken(ctx context.Context, purpose TokenPurpose, value string, now time.Time) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, account := range s.byID {
		tok, ok := account.Token(purpose)
		if !ok || tok.Value != value {
			continue
		}
		if now.After(tok.ExpiresAt) {
			return nil, ErrTokenExpired
		}
		delete(account.Tokens, purpose)
		return copyAccount(account), nil
	}
	return nil, ErrTokenNotFound
}

func (s *mockAccountStore) UpdatePasswordHash(ctx context.Context, accountID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	account, ok := s.byID[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	account.PasswordHash = hash
	return nil
}

func (s *mockAccountStore) UpdateStatus(ctx context.Context, accountID string, status AccountStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	account, ok := s.byID[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	account.Status = status
	return nil
}

func (s *mockAccountStore) UpdateTwoFactor(ctx context.Context, accountID string, tf TwoFactor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	account, ok := s.byID[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	account.TwoFactor = tf
	return nil
}

func copyAccount(account *Account) *Account {
	out := *account
	if account.Tokens != nil {
		out.Tokens = make(map[TokenPurpose]PurposeToken, len(account.Tokens))
		for purpose, tok := range account.Tokens {
			out.Tokens[purpose] = tok
		}
	}
	if account.TwoFactor.TOTP != nil {
		totp := *account.TwoFactor.TOTP
		out.TwoFactor.TOTP = &totp
	}
	if account.TwoFactor.SMS != nil {
		sms := *account.TwoFactor.SMS
		out.TwoFactor.SMS = &sms
	}
	return &out
}

// recordingMailer captures delivered tokens instead of sending anything.
type recordingMailer struct {
	mu               sync.Mutex
	validationTokens []PurposeToken
	resetTokens      []PurposeToken
	changedNotices   int

	failValidation error
	failReset      error
	failChanged    error
}

func (m *recordingMailer) SendAccountValidation(ctx context.Context, account *Account, tok PurposeToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failValidation != nil {
		return m.failValidation
	}
	m.validationTokens = append(m.validationTokens, tok)
	return nil
}

func (m *recordingMailer) SendPasswordReset(ctx context.Context, account *Account, tok PurposeToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReset != nil {
		return m.failReset
	}
	m.resetTokens = append(m.resetTokens, tok)
	return nil
}

func (m *recordingMailer) SendPasswordChanged(ctx context.Context, account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failChanged != nil {
		return m.failChanged
	}
	m.changedNotices++
	return nil
}

func (m *recordingMailer) lastValidationToken(t *testing.T) PurposeToken {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.validationTokens) == 0 {
		t.Fatal("no validation token delivered")
	}
	return m.validationTokens[len(m.validationTokens)-1]
}

func (m *recordingMailer) lastResetToken(t *testing.T) PurposeToken {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.resetTokens) == 0 {
		t.Fatal("no reset token delivered")
	}
	return m.resetTokens[len(m.resetTokens)-1]
}

// stubSMS accepts one configured code and hands out sequential handles.
type stubSMS struct {
	mu         sync.Mutex
	sendCalls  int
	acceptCode string
	sendErr    error
	checkErr   error
}

func (s *stubSMS) SendCode(ctx context.Context, phoneNumber string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return "", s.sendErr
	}
	s.sendCalls++
	return fmt.Sprintf("handle-%d", s.sendCalls), nil
}

func (s *stubSMS) CheckCode(ctx context.Context, sessionHandle, phoneNumber, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkErr != nil {
		return false, s.checkErr
	}
	return code == s.acceptCode, nil
}

func (s *stubSMS) sends() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendCalls
}

type testEnv struct {
	engine *Engine
	store  *mockAccountStore
	mailer *recordingMailer
	sms    *stubSMS
	clock  *fakeClock
	mr     *miniredis.Miniredis
}

var testEpoch = time.Unix(1700000000, 0)

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	mr, rdb := newTestRedis(t)
	t.Cleanup(mr.Close)

	cfg := defaultConfig()
	cfg.Session.Secret = []byte("test-secret")
	cfg.Password.Cost = 4 // keep hashing fast in tests
	if mutate != nil {
		mutate(&cfg)
	}

	env := &testEnv{
		store:  newMockStore(),
		mailer: &recordingMailer{},
		sms:    &stubSMS{acceptCode: "424242"},
		clock:  newFakeClock(testEpoch),
		mr:     mr,
	}

	engine, err := New().
		WithConfig(cfg).
		WithStore(env.store).
		WithRedis(rdb).
		WithMailer(env.mailer).
		WithSMSVerifier(env.sms).
		WithClock(env.clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	env.engine = engine
	return env
}

// signupActive creates and validates an account, returning it active.
func (env *testEnv) signupActive(t *testing.T, email, passwd string) *Account {
	t.Helper()

	ctx := context.Background()
	if _, err := env.engine.Signup(ctx, SignupRequest{
		Email:     email,
		Password:  passwd,
		FirstName: "Alice",
		LastName:  "Doe",
	}); err != nil {
		t.Fatalf("Signup failed: %v", err)
	}

	tok := env.mailer.lastValidationToken(t)
	account, err := env.engine.ValidateAccount(ctx, tok.Value)
	if err != nil {
		t.Fatalf("ValidateAccount failed: %v", err)
	}
	return account
}

// enrollTOTP flips the account onto the totp method and returns the secret.
func (env *testEnv) enrollTOTP(t *testing.T, accountID string) string {
	t.Helper()

	setup, err := env.engine.EnableTOTP(context.Background(), accountID)
	if err != nil {
		t.Fatalf("EnableTOTP failed: %v", err)
	}
	return setup.SecretBase32
}

// totpCode computes the valid code for the secret at the given instant.
func (env *testEnv) totpCode(t *testing.T, secretBase32 string, at time.Time) string {
	t.Helper()

	raw, err := b32.DecodeString(secretBase32)
	if err != nil {
		t.Fatalf("decode secret: %v", err)
	}
	m := env.engine.totp
	code, err := m.codeAt(raw, at.Unix()/int64(m.config.Period))
	if err != nil {
		t.Fatalf("codeAt: %v", err)
	}
	return code
}
