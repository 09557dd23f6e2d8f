package authority

import "errors"

// Domain failures are returned as typed sentinel values so callers can map
// them to transport responses with errors.Is. Unexpected store or provider
// failures are never returned raw; they are wrapped in ErrDependencyFailure
// at the point of use.
var (
	// ErrEmailTaken is returned by Signup when the email already has an account.
	ErrEmailTaken = errors.New("email already registered")
	// ErrAccountNotFound is returned when no account matches the given identity.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountNotValidated is returned by Login while the account has not
	// consumed its validation token.
	ErrAccountNotValidated = errors.New("account not validated")
	// ErrPasswordMismatch covers both a wrong password and, on login, an
	// unknown email, so the two cases are indistinguishable to callers.
	ErrPasswordMismatch = errors.New("password mismatch")
	// ErrLinkExpired is returned when a purpose token is absent, already
	// consumed, or past its expiry.
	ErrLinkExpired = errors.New("link expired")
	// ErrCodeIncorrect is the uniform second-factor failure: wrong code,
	// stale challenge, exhausted attempts, and provider-side rejections all
	// collapse into it.
	ErrCodeIncorrect = errors.New("verification code incorrect")
	// ErrAlreadyValidated is returned by ResendValidation for active accounts.
	ErrAlreadyValidated = errors.New("account already validated")
	// ErrPhoneNumberRequired is returned when SMS enrollment lacks a phone number.
	ErrPhoneNumberRequired = errors.New("phone number required")
	// ErrPasswordTooShort is returned when a new password fails the minimum
	// length policy.
	ErrPasswordTooShort = errors.New("password too short")
	// ErrDependencyFailure is the opaque wrapper for unexpected store,
	// hashing, mail, or SMS provider errors.
	ErrDependencyFailure = errors.New("dependency failure")

	// ErrTokenNotFound is the issuer-level miss; the orchestrator reports it
	// to callers as ErrLinkExpired.
	ErrTokenNotFound = errors.New("token not found")
	// ErrTokenExpired is the issuer-level expiry; the orchestrator reports it
	// to callers as ErrLinkExpired.
	ErrTokenExpired = errors.New("token expired")

	// ErrSessionInvalid is returned by Authenticate for tokens that fail
	// signature or expiry checks.
	ErrSessionInvalid = errors.New("invalid session credential")
	// ErrTwoFactorRequired is returned by Login's session-or-error
	// convenience form when the account needs a second factor.
	ErrTwoFactorRequired = errors.New("second factor required")
	// ErrEngineNotReady is returned when a flow needs a collaborator the
	// engine was built without.
	ErrEngineNotReady = errors.New("engine not initialized")
)
