package authority

import (
	"context"
	"errors"
	"strings"
)

// Signup creates an unvalidated account, issues its validate-account token,
// and delivers the token out of band. The new account cannot log in until
// ValidateAccount consumes the token.
func (e *Engine) Signup(ctx context.Context, req SignupRequest) (*Account, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	email := normalizeEmail(req.Email)
	if len(req.Password) < e.config.Password.MinLength {
		return nil, ErrPasswordTooShort
	}

	if _, err := e.store.FindByEmail(ctx, email); err == nil {
		e.emitAudit(ctx, auditEventSignup, false, "", email, ErrEmailTaken, nil)
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrAccountNotFound) {
		return nil, dependencyFailure(err)
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return nil, dependencyFailure(err)
	}

	account := &Account{
		ID:           newAccountID(),
		Email:        email,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		PasswordHash: hash,
		Role:         RoleUser,
		Status:       AccountPendingValidation,
		CreatedAt:    e.clock(),
	}
	tok := e.tokens.Mint()
	account.SetToken(PurposeValidateAccount, tok)

	if err := e.store.Create(ctx, account); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			e.emitAudit(ctx, auditEventSignup, false, "", email, ErrEmailTaken, nil)
			return nil, ErrEmailTaken
		}
		return nil, dependencyFailure(err)
	}

	// The account exists either way; a failed delivery is recovered through
	// ResendValidation, not by rolling the creation back.
	if err := e.mailer.SendAccountValidation(ctx, account, tok); err != nil {
		e.emitAudit(ctx, auditEventSignup, false, account.ID, email, err, map[string]string{
			"reason": "validation_mail_failed",
		})
		return nil, dependencyFailure(err)
	}

	e.emitAudit(ctx, auditEventSignup, true, account.ID, email, nil, nil)
	return account, nil
}

// ValidateAccount consumes a validate-account token and activates its
// account. Absent, consumed, and expired tokens are indistinguishable to the
// caller: all report ErrLinkExpired.
func (e *Engine) ValidateAccount(ctx context.Context, token string) (*Account, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	account, err := e.tokens.Consume(ctx, PurposeValidateAccount, token)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) || errors.Is(err, ErrTokenExpired) {
			e.emitAudit(ctx, auditEventValidateAccount, false, "", "", ErrLinkExpired, nil)
			return nil, ErrLinkExpired
		}
		return nil, dependencyFailure(err)
	}

	// The token is already cleared. If activation fails here the account is
	// stuck pending with no live token; ResendValidation reissues one.
	if err := e.store.UpdateStatus(ctx, account.ID, AccountActive); err != nil {
		e.emitAudit(ctx, auditEventValidateAccount, false, account.ID, account.Email, err, nil)
		return nil, dependencyFailure(err)
	}
	account.Status = AccountActive

	e.emitAudit(ctx, auditEventValidateAccount, true, account.ID, account.Email, nil, nil)
	return account, nil
}

// ResendValidation reissues the validate-account token, superseding any prior
// one, and redelivers it. Active accounts get ErrAlreadyValidated.
func (e *Engine) ResendValidation(ctx context.Context, email string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}

	account, err := e.store.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return dependencyFailure(err)
	}
	if account.Validated() {
		e.emitAudit(ctx, auditEventResendValidation, false, account.ID, account.Email, ErrAlreadyValidated, nil)
		return ErrAlreadyValidated
	}

	tok, err := e.tokens.Issue(ctx, account.ID, PurposeValidateAccount)
	if err != nil {
		return dependencyFailure(err)
	}
	if err := e.mailer.SendAccountValidation(ctx, account, tok); err != nil {
		e.emitAudit(ctx, auditEventResendValidation, false, account.ID, account.Email, err, nil)
		return dependencyFailure(err)
	}

	e.emitAudit(ctx, auditEventResendValidation, true, account.ID, account.Email, nil, nil)
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
