package authority

import (
	"context"
	"errors"
)

// ForgetPassword issues a password-reset token and mails it. An unknown
// email succeeds silently so the operation leaks nothing about which
// addresses hold accounts.
func (e *Engine) ForgetPassword(ctx context.Context, email string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}

	email = normalizeEmail(email)
	account, err := e.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			e.emitAudit(ctx, auditEventForgetPassword, true, "", email, nil, map[string]string{
				"reason": "account_not_found",
			})
			return nil
		}
		return dependencyFailure(err)
	}

	tok, err := e.tokens.Issue(ctx, account.ID, PurposeResetPassword)
	if err != nil {
		return dependencyFailure(err)
	}
	if err := e.mailer.SendPasswordReset(ctx, account, tok); err != nil {
		e.emitAudit(ctx, auditEventForgetPassword, false, account.ID, email, err, nil)
		return dependencyFailure(err)
	}

	e.emitAudit(ctx, auditEventForgetPassword, true, account.ID, email, nil, nil)
	return nil
}

// ResetPassword consumes a reset token and installs a new password. Input
// checks run before the token is touched, so a typo does not cost the user
// their link. The token is cleared before the hash is written; if the write
// fails the user restarts from ForgetPassword with a fresh link.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword, confirmPassword string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	if newPassword != confirmPassword {
		return ErrPasswordMismatch
	}
	if len(newPassword) < e.config.Password.MinLength {
		return ErrPasswordTooShort
	}

	account, err := e.tokens.Consume(ctx, PurposeResetPassword, token)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) || errors.Is(err, ErrTokenExpired) {
			e.emitAudit(ctx, auditEventResetPassword, false, "", "", ErrLinkExpired, nil)
			return ErrLinkExpired
		}
		return dependencyFailure(err)
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return dependencyFailure(err)
	}
	if err := e.store.UpdatePasswordHash(ctx, account.ID, hash); err != nil {
		e.emitAudit(ctx, auditEventResetPassword, false, account.ID, account.Email, err, nil)
		return dependencyFailure(err)
	}

	// The change itself has settled; a lost notice mail is logged, not
	// surfaced.
	if err := e.mailer.SendPasswordChanged(ctx, account); err != nil {
		e.warn("password-changed notice for %s not sent: %v", account.Email, err)
	}

	e.emitAudit(ctx, auditEventResetPassword, true, account.ID, account.Email, nil, nil)
	return nil
}
