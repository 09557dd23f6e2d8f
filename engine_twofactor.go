package authority

import (
	"context"
	"errors"
)

// EnableTOTP enrolls an account into authenticator-based verification and
// returns the provisioning material for the client. The factor stays in the
// first-verify state until VerifyTwoFactor accepts a code from the enrolled
// device. Enrollment is refused when the engine was built without
// two-factor support.
func (e *Engine) EnableTOTP(ctx context.Context, accountID string) (*TOTPSetup, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if !e.config.TwoFactor.Enabled {
		return nil, ErrEngineNotReady
	}
	account, err := e.store.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, dependencyFailure(err)
	}

	secret, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, dependencyFailure(err)
	}
	tf := TwoFactor{
		Enabled: true,
		Method:  MethodTOTP,
		TOTP:    &TOTPFactor{Secret: secret},
	}
	if err := e.store.UpdateTwoFactor(ctx, account.ID, tf); err != nil {
		return nil, dependencyFailure(err)
	}

	e.emitAudit(ctx, auditEventEnrollTwoFactor, true, account.ID, account.Email, nil, map[string]string{
		"method": string(MethodTOTP),
	})
	return &TOTPSetup{
		SecretBase32: secret,
		URI:          e.totp.ProvisionURI(secret, account.Email),
	}, nil
}

// EnableSMS enrolls an account into phone-based verification. A first code
// is sent immediately so the enrollment can be confirmed with
// VerifyTwoFactor before the factor has ever gated a login.
func (e *Engine) EnableSMS(ctx context.Context, accountID, phoneNumber string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	if !e.config.TwoFactor.Enabled {
		return ErrEngineNotReady
	}
	if phoneNumber == "" {
		return ErrPhoneNumberRequired
	}
	if e.sms == nil {
		return ErrEngineNotReady
	}
	account, err := e.store.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return dependencyFailure(err)
	}

	handle, err := e.sms.SendCode(ctx, phoneNumber)
	if err != nil {
		return dependencyFailure(err)
	}
	tf := TwoFactor{
		Enabled: true,
		Method:  MethodSMS,
		SMS: &SMSFactor{
			PhoneNumber:   phoneNumber,
			SessionHandle: handle,
			ResendAfter:   e.clock().Add(e.config.TwoFactor.SMSCooldown),
		},
	}
	if err := e.store.UpdateTwoFactor(ctx, account.ID, tf); err != nil {
		return dependencyFailure(err)
	}

	e.emitAudit(ctx, auditEventEnrollTwoFactor, true, account.ID, account.Email, nil, map[string]string{
		"method": string(MethodSMS),
	})
	return nil
}

// VerifyTwoFactor confirms an enrollment by checking a code against the
// account's active factor, outside of any login attempt. Acceptance clears
// the first-verify state.
func (e *Engine) VerifyTwoFactor(ctx context.Context, accountID, code string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	account, err := e.store.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return dependencyFailure(err)
	}
	if !account.TwoFactor.Enabled {
		return ErrCodeIncorrect
	}

	ok, cause := e.checkFactor(ctx, account, code)
	if !ok {
		if cause != nil {
			e.warn("two-factor check for account %s: %v", account.ID, cause)
		}
		meta := map[string]string{"reason": "enrollment_code_incorrect"}
		if cause != nil {
			meta["cause"] = cause.Error()
		}
		e.emitAudit(ctx, auditEventTwoFactorVerify, false, account.ID, account.Email, ErrCodeIncorrect, meta)
		return ErrCodeIncorrect
	}
	if err := e.markFirstVerified(ctx, account); err != nil {
		return err
	}
	e.emitAudit(ctx, auditEventTwoFactorVerify, true, account.ID, account.Email, nil, map[string]string{
		"reason": "enrollment",
	})
	return nil
}

// DisableTwoFactor removes the account's second factor and discards any
// login attempt suspended on it.
func (e *Engine) DisableTwoFactor(ctx context.Context, accountID string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	account, err := e.store.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return dependencyFailure(err)
	}
	if err := e.store.UpdateTwoFactor(ctx, account.ID, TwoFactor{}); err != nil {
		return dependencyFailure(err)
	}
	if e.challenges != nil {
		if _, err := e.challenges.Delete(ctx, account.ID); err != nil {
			return dependencyFailure(err)
		}
	}
	e.emitAudit(ctx, auditEventEnrollTwoFactor, true, account.ID, account.Email, nil, map[string]string{
		"method": "disabled",
	})
	return nil
}

// checkFactor dispatches a code to the account's active verification method.
// A false return means the code was not accepted. The cause, when non-nil,
// is the collaborator error behind the rejection; callers log and audit it
// but never surface it, so a provider-side failure reads the same as a
// wrong code.
func (e *Engine) checkFactor(ctx context.Context, account *Account, code string) (ok bool, cause error) {
	switch account.TwoFactor.Method {
	case MethodTOTP:
		if account.TwoFactor.TOTP == nil || account.TwoFactor.TOTP.Secret == "" {
			return false, nil
		}
		ok, err := e.totp.VerifyCode(account.TwoFactor.TOTP.Secret, code, e.clock())
		if err != nil {
			return false, err
		}
		return ok, nil
	case MethodSMS:
		sms := account.TwoFactor.SMS
		if sms == nil || sms.SessionHandle == "" {
			return false, nil
		}
		if e.sms == nil {
			return false, ErrEngineNotReady
		}
		ok, err := e.sms.CheckCode(ctx, sms.SessionHandle, sms.PhoneNumber, code)
		if err != nil {
			return false, err
		}
		return ok, nil
	default:
		return false, nil
	}
}

// markFirstVerified records the first successful code acceptance for a
// freshly enrolled factor. Later acceptances are no-ops.
func (e *Engine) markFirstVerified(ctx context.Context, account *Account) error {
	if account.TwoFactor.FirstVerified {
		return nil
	}
	tf := account.TwoFactor
	tf.FirstVerified = true
	if err := e.store.UpdateTwoFactor(ctx, account.ID, tf); err != nil {
		return dependencyFailure(err)
	}
	account.TwoFactor = tf
	return nil
}
