package authority

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/kipdev/authority/internal/audit"
	"github.com/kipdev/authority/internal/stores"
	"github.com/kipdev/authority/jwt"
	"github.com/kipdev/authority/password"
)

// Engine is the authentication orchestrator. It sequences the credential
// verifier, token issuer, two-factor challenge engine, and session minter to
// drive the signup, validate, login, reset, and enrollment flows. An Engine
// is built once and safe for concurrent use; all work is request-scoped.
type Engine struct {
	config     Config
	store      AccountStore
	mailer     Mailer
	sms        SMSVerifier
	clock      func() time.Time
	hasher     *password.Hasher
	tokens     *tokenIssuer
	totp       *totpManager
	sessions   *jwt.Manager
	challenges *stores.ChallengeStore
	audit      *audit.Dispatcher
	warnLog    *log.Logger
}

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped reports how many audit events were discarded under load.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Audit event names. One event per orchestrator transition, success or not.
const (
	auditEventSignup           = "signup"
	auditEventValidateAccount  = "validate_account"
	auditEventResendValidation = "resend_validation"
	auditEventLogin            = "login"
	auditEventChallengeIssued  = "two_factor_challenge"
	auditEventTwoFactorVerify  = "two_factor_verify"
	auditEventEnrollTwoFactor  = "two_factor_enroll"
	auditEventForgetPassword   = "forget_password"
	auditEventResetPassword    = "reset_password"
	auditEventLogout           = "logout"
)

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, accountID, email string, cause error, metadata map[string]string) {
	if e == nil || e.audit == nil {
		return
	}
	event := audit.Event{
		Timestamp: e.clock(),
		EventType: eventType,
		AccountID: accountID,
		Email:     email,
		Success:   success,
		Metadata:  metadata,
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	e.audit.Emit(ctx, event)
}

func (e *Engine) warn(format string, args ...any) {
	if e == nil || e.warnLog == nil {
		return
	}
	e.warnLog.Printf(format, args...)
}

// dependencyFailure normalizes an unexpected collaborator error. Context
// cancellation passes through so callers can tell a timeout from a broken
// dependency.
func dependencyFailure(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrDependencyFailure, err)
}

// mintSession converts a fully verified identity into a session credential.
func (e *Engine) mintSession(accountID string) (*SessionCredential, error) {
	token, expiresIn, err := e.sessions.Mint(accountID)
	if err != nil {
		return nil, dependencyFailure(err)
	}
	return &SessionCredential{Token: token, ExpiresInSeconds: expiresIn}, nil
}

// CookieDirective formats a minted credential as an HTTP-only cookie whose
// max-age matches the token's own expiry.
func (e *Engine) CookieDirective(cred *SessionCredential) string {
	if cred == nil {
		return jwt.ClearCookieDirective()
	}
	return jwt.CookieDirective(cred.Token, cred.ExpiresInSeconds)
}
