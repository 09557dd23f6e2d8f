package authority

import (
	"context"
	"errors"

	"github.com/kipdev/authority/internal/stores"
)

// LoginWithResult runs the login flow. It returns a session credential when
// the account is fully authenticated, or a challenge descriptor when the
// flow is suspended on a second factor; the flow then resumes through
// ConfirmTwoFactor. An unknown email and a wrong password are reported
// identically as ErrPasswordMismatch.
func (e *Engine) LoginWithResult(ctx context.Context, email, passwd string) (*LoginResult, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	email = normalizeEmail(email)
	account, err := e.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			// Burn a comparison against a throwaway hash so the miss costs
			// the same as a mismatch.
			e.hasher.Verify(passwd, decoyHash)
			e.emitAudit(ctx, auditEventLogin, false, "", email, ErrPasswordMismatch, map[string]string{
				"reason": "account_not_found",
			})
			return nil, ErrPasswordMismatch
		}
		return nil, dependencyFailure(err)
	}

	if !account.Validated() {
		e.emitAudit(ctx, auditEventLogin, false, account.ID, email, ErrAccountNotValidated, nil)
		return nil, ErrAccountNotValidated
	}

	if !e.hasher.Verify(passwd, account.PasswordHash) {
		e.emitAudit(ctx, auditEventLogin, false, account.ID, email, ErrPasswordMismatch, map[string]string{
			"reason": "password_mismatch",
		})
		return nil, ErrPasswordMismatch
	}

	if e.config.TwoFactor.Enabled && account.TwoFactor.Enabled {
		descriptor, err := e.issueChallenge(ctx, account)
		if err != nil {
			return nil, err
		}
		e.emitAudit(ctx, auditEventChallengeIssued, true, account.ID, email, nil, map[string]string{
			"method": string(descriptor.Method),
		})
		return &LoginResult{TwoFactorRequired: true, Challenge: descriptor}, nil
	}

	cred, err := e.mintSession(account.ID)
	if err != nil {
		e.emitAudit(ctx, auditEventLogin, false, account.ID, email, err, nil)
		return nil, err
	}
	e.emitAudit(ctx, auditEventLogin, true, account.ID, email, nil, nil)
	return &LoginResult{Session: cred}, nil
}

// Login is the session-or-error form of LoginWithResult: a pending second
// factor surfaces as ErrTwoFactorRequired instead of a challenge descriptor.
func (e *Engine) Login(ctx context.Context, email, passwd string) (*SessionCredential, error) {
	result, err := e.LoginWithResult(ctx, email, passwd)
	if err != nil {
		return nil, err
	}
	if result.TwoFactorRequired {
		return nil, ErrTwoFactorRequired
	}
	return result.Session, nil
}

// issueChallenge records the suspended login attempt and, for the sms
// method, requests an out-of-band code unless the cooldown is still running.
func (e *Engine) issueChallenge(ctx context.Context, account *Account) (*ChallengeDescriptor, error) {
	if e.challenges == nil {
		return nil, ErrEngineNotReady
	}
	now := e.clock()

	if account.TwoFactor.Method == MethodSMS {
		sms := account.TwoFactor.SMS
		if sms == nil || sms.PhoneNumber == "" {
			return nil, ErrPhoneNumberRequired
		}
		// Inside the cooldown the provider session from the previous send is
		// still pending; reuse it instead of firing a duplicate code.
		if sms.SessionHandle == "" || !now.Before(sms.ResendAfter) {
			if e.sms == nil {
				return nil, ErrEngineNotReady
			}
			handle, err := e.sms.SendCode(ctx, sms.PhoneNumber)
			if err != nil {
				return nil, dependencyFailure(err)
			}
			tf := account.TwoFactor
			tf.SMS = &SMSFactor{
				PhoneNumber:   sms.PhoneNumber,
				SessionHandle: handle,
				ResendAfter:   now.Add(e.config.TwoFactor.SMSCooldown),
			}
			if err := e.store.UpdateTwoFactor(ctx, account.ID, tf); err != nil {
				return nil, dependencyFailure(err)
			}
			account.TwoFactor = tf
		}
	}

	record := &stores.Challenge{
		Method:    string(account.TwoFactor.Method),
		ExpiresAt: now.Add(e.config.TwoFactor.ChallengeTTL).Unix(),
	}
	if err := e.challenges.Save(ctx, account.ID, record, e.config.TwoFactor.ChallengeTTL); err != nil {
		return nil, dependencyFailure(err)
	}

	return &ChallengeDescriptor{Method: account.TwoFactor.Method}, nil
}

// ConfirmTwoFactor resumes a suspended login with the client's response to
// the challenge. Every failure reports the uniform ErrCodeIncorrect: a wrong
// code, a stale or missing challenge, an exhausted attempt budget, and
// provider-side rejections are indistinguishable to the caller. Exhaustion
// deletes the challenge, so the client restarts from login.
func (e *Engine) ConfirmTwoFactor(ctx context.Context, email, code string) (*LoginResult, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if e.challenges == nil {
		return nil, ErrEngineNotReady
	}

	email = normalizeEmail(email)
	account, err := e.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			e.emitAudit(ctx, auditEventTwoFactorVerify, false, "", email, ErrCodeIncorrect, nil)
			return nil, ErrCodeIncorrect
		}
		return nil, dependencyFailure(err)
	}

	now := e.clock()
	challenge, err := e.challenges.Get(ctx, account.ID, now)
	if err != nil {
		if errors.Is(err, stores.ErrChallengeNotFound) || errors.Is(err, stores.ErrChallengeExpired) {
			e.emitAudit(ctx, auditEventTwoFactorVerify, false, account.ID, email, ErrCodeIncorrect, map[string]string{
				"reason": "no_pending_challenge",
			})
			return nil, ErrCodeIncorrect
		}
		return nil, dependencyFailure(err)
	}
	if challenge.Method != string(account.TwoFactor.Method) {
		// The configuration changed under the pending attempt; discard it.
		_, _ = e.challenges.Delete(ctx, account.ID)
		e.emitAudit(ctx, auditEventTwoFactorVerify, false, account.ID, email, ErrCodeIncorrect, map[string]string{
			"reason": "method_changed",
		})
		return nil, ErrCodeIncorrect
	}

	ok, cause := e.checkFactor(ctx, account, code)
	if !ok {
		return nil, e.failChallenge(ctx, account, email, cause)
	}

	deleted, err := e.challenges.Delete(ctx, account.ID)
	if err != nil {
		return nil, dependencyFailure(err)
	}
	if !deleted {
		// A concurrent confirmation won the race; only one settlement per
		// issued challenge may succeed.
		e.emitAudit(ctx, auditEventTwoFactorVerify, false, account.ID, email, ErrCodeIncorrect, map[string]string{
			"reason": "challenge_already_settled",
		})
		return nil, ErrCodeIncorrect
	}

	if err := e.markFirstVerified(ctx, account); err != nil {
		return nil, err
	}

	cred, err := e.mintSession(account.ID)
	if err != nil {
		e.emitAudit(ctx, auditEventTwoFactorVerify, false, account.ID, email, err, nil)
		return nil, err
	}
	e.emitAudit(ctx, auditEventTwoFactorVerify, true, account.ID, email, nil, nil)
	return &LoginResult{Session: cred}, nil
}

// failChallenge settles a rejected verification attempt. The cause, when
// non-nil, is the collaborator error behind the rejection; it reaches the
// warn log and the audit trail but never the caller.
func (e *Engine) failChallenge(ctx context.Context, account *Account, email string, cause error) error {
	if cause != nil {
		e.warn("two-factor check for account %s: %v", account.ID, cause)
	}
	exceeded, recErr := e.challenges.RecordFailure(ctx, account.ID, e.config.TwoFactor.MaxAttempts, e.clock())
	if recErr != nil && !errors.Is(recErr, stores.ErrChallengeNotFound) && !errors.Is(recErr, stores.ErrChallengeExpired) {
		return dependencyFailure(recErr)
	}
	reason := "code_incorrect"
	if exceeded {
		reason = "attempts_exceeded"
	}
	meta := map[string]string{"reason": reason}
	if cause != nil {
		meta["cause"] = cause.Error()
	}
	e.emitAudit(ctx, auditEventTwoFactorVerify, false, account.ID, email, ErrCodeIncorrect, meta)
	return ErrCodeIncorrect
}

// Logout verifies the presented identity against a real account and returns
// the cookie-clearing directive for the transport layer. Sessions are
// stateless; the credential itself stays valid until its natural expiry.
func (e *Engine) Logout(ctx context.Context, accountID string) (string, error) {
	if e == nil || e.store == nil {
		return "", ErrEngineNotReady
	}
	account, err := e.store.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return "", ErrAccountNotFound
		}
		return "", dependencyFailure(err)
	}
	e.emitAudit(ctx, auditEventLogout, true, account.ID, account.Email, nil, nil)
	return e.CookieDirective(nil), nil
}

// Authenticate parses a session credential and loads the account it asserts,
// for collaborators authorizing subsequent requests.
func (e *Engine) Authenticate(ctx context.Context, token string) (*Account, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	accountID, err := e.sessions.Parse(token)
	if err != nil {
		return nil, ErrSessionInvalid
	}
	account, err := e.store.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrSessionInvalid
		}
		return nil, dependencyFailure(err)
	}
	return account, nil
}

// decoyHash is a bcrypt hash of a random value, used to equalize login
// timing when the email has no account.
const decoyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"
