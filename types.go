package authority

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/kipdev/authority/internal/audit"
)

// AccountStatus is the lifecycle state of an account. The status is explicit
// rather than inferred from nullable token fields, so a record can never be
// both pending and active.
type AccountStatus uint8

const (
	// AccountPendingValidation is the state between signup and consumption of
	// the validate-account token.
	AccountPendingValidation AccountStatus = iota
	// AccountActive marks a validated account that may log in.
	AccountActive
)

// Role is the coarse authorization tier stored on the account. Role
// management beyond storage is a collaborator concern.
type Role string

const (
	// RoleUser is the default role assigned on signup.
	RoleUser Role = "user"
	// RoleAdmin is assigned out of band by administrative tooling.
	RoleAdmin Role = "admin"
)

// TokenPurpose tags a purpose token with the single flow it may complete.
type TokenPurpose string

const (
	// PurposeValidateAccount tokens activate a freshly signed-up account.
	PurposeValidateAccount TokenPurpose = "validate-account"
	// PurposeResetPassword tokens authorize a password reset.
	PurposeResetPassword TokenPurpose = "reset-password"
	// PurposeMagicLink is reserved in the token taxonomy; no engine flow
	// issues or consumes it yet.
	PurposeMagicLink TokenPurpose = "magic-link"
)

// PurposeToken is a single-use random credential bound to one account and one
// purpose. At most one live token exists per (account, purpose); issuing a new
// one overwrites the previous value.
type PurposeToken struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TwoFactorMethod selects the configured second factor.
type TwoFactorMethod string

const (
	// MethodTOTP verifies a rolling time-based code against a shared secret.
	MethodTOTP TwoFactorMethod = "totp"
	// MethodSMS verifies an out-of-band code through the SMS provider.
	MethodSMS TwoFactorMethod = "sms"
)

// TOTPFactor holds the base32-encoded shared secret for the totp method.
type TOTPFactor struct {
	Secret string
}

// SMSFactor holds the provider-side verification session and the resend
// cooldown for the sms method. No code or secret is stored locally.
type SMSFactor struct {
	PhoneNumber   string
	SessionHandle string
	ResendAfter   time.Time
}

// TwoFactor is the account's second-factor configuration as a tagged variant:
// Method selects which factor pointer is populated. FirstVerified stays false
// until one verification has succeeded since the last (re)configuration;
// enrollment is pending until then.
type TwoFactor struct {
	Enabled       bool
	FirstVerified bool
	Method        TwoFactorMethod
	TOTP          *TOTPFactor
	SMS           *SMSFactor
}

// Account is the long-lived aggregate owned by this core. Purpose tokens and
// the two-factor configuration are mutated only through engine flows.
type Account struct {
	ID           string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	Role         Role
	Status       AccountStatus
	TwoFactor    TwoFactor
	Tokens       map[TokenPurpose]PurposeToken
	CreatedAt    time.Time
}

// Validated reports whether the account has completed email validation.
func (a *Account) Validated() bool {
	return a != nil && a.Status == AccountActive
}

// Token returns the live token for the given purpose, if any.
func (a *Account) Token(purpose TokenPurpose) (PurposeToken, bool) {
	if a == nil || a.Tokens == nil {
		return PurposeToken{}, false
	}
	tok, ok := a.Tokens[purpose]
	return tok, ok
}

// SetToken records tok as the only live token for its purpose.
func (a *Account) SetToken(purpose TokenPurpose, tok PurposeToken) {
	if a.Tokens == nil {
		a.Tokens = make(map[TokenPurpose]PurposeToken, 1)
	}
	a.Tokens[purpose] = tok
}

// AccountStore is the durable-store collaborator. Implementations must make
// ConsumeToken an atomic conditional clear (compare-and-swap or row lock) so
// two concurrent consumers of the same token cannot both succeed.
type AccountStore interface {
	// Create persists a new account, returning ErrEmailTaken when the email
	// is already registered.
	Create(ctx context.Context, account *Account) error
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByID(ctx context.Context, id string) (*Account, error)
	// FindByToken locates the account holding the given live token value for
	// the purpose, returning ErrTokenNotFound on a miss.
	FindByToken(ctx context.Context, purpose TokenPurpose, value string) (*Account, error)
	// SaveToken overwrites the account's token slot for the purpose.
	SaveToken(ctx context.Context, accountID string, purpose TokenPurpose, tok PurposeToken) error
	// ConsumeToken atomically clears the token slot and returns the owning
	// account. It fails with ErrTokenNotFound on a miss and ErrTokenExpired
	// when now is past the token's expiry, leaving an expired token in place
	// for the next issuance to overwrite.
	ConsumeToken(ctx context.Context, purpose TokenPurpose, value string, now time.Time) (*Account, error)
	UpdatePasswordHash(ctx context.Context, accountID, hash string) error
	UpdateStatus(ctx context.Context, accountID string, status AccountStatus) error
	UpdateTwoFactor(ctx context.Context, accountID string, tf TwoFactor) error
}

// Mailer is the out-of-band email collaborator. Sends are awaited; a failed
// send fails the flow that required it.
type Mailer interface {
	SendAccountValidation(ctx context.Context, account *Account, tok PurposeToken) error
	SendPasswordReset(ctx context.Context, account *Account, tok PurposeToken) error
	SendPasswordChanged(ctx context.Context, account *Account) error
}

// SMSVerifier is the out-of-band SMS verification collaborator, modeled on
// verification-session APIs: SendCode opens a provider-side session for the
// phone number and CheckCode settles it.
type SMSVerifier interface {
	SendCode(ctx context.Context, phoneNumber string) (sessionHandle string, err error)
	CheckCode(ctx context.Context, sessionHandle, phoneNumber, code string) (bool, error)
}

// SessionCredential is a signed, stateless session token and its lifetime.
type SessionCredential struct {
	Token            string
	ExpiresInSeconds int
}

// ChallengeDescriptor tells the caller which second factor the suspended
// login is waiting on.
type ChallengeDescriptor struct {
	Method TwoFactorMethod
}

// LoginResult is returned by LoginWithResult: either a session, or a pending
// challenge when the flow is suspended on a second factor.
type LoginResult struct {
	Session           *SessionCredential
	TwoFactorRequired bool
	Challenge         *ChallengeDescriptor
}

// SignupRequest carries the fields persisted on account creation.
type SignupRequest struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// TOTPSetup is returned by EnableTOTP for QR provisioning. The secret is not
// trusted until the account completes its first verification.
type TOTPSetup struct {
	SecretBase32 string
	URI          string
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives AuditEvent values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an AuditSink that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based AuditSink.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an AuditSink that writes JSON-encoded events to a writer.
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a ChannelSink with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a JSONWriterSink that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
