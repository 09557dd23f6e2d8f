package authority

import (
	"errors"
	"time"
)

// Config groups the tunables for every engine component. Zero values are
// filled in by defaultConfig via the Builder; a populated Config is treated
// as immutable after Build.
type Config struct {
	Token     TokenConfig
	Session   SessionConfig
	Password  PasswordConfig
	TwoFactor TwoFactorConfig
	Audit     AuditConfig
}

// TokenConfig controls purpose-token issuance.
type TokenConfig struct {
	// TTL is the fixed offset from issuance to expiry. Validation and reset
	// links quote it to the account holder.
	TTL time.Duration
}

// SessionConfig controls session minting. Secret is the server-held signing
// key; rotation is a deployment concern.
type SessionConfig struct {
	TTL           time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	Secret        []byte
	PrivateKey    []byte // ed25519 only
	PublicKey     []byte // ed25519 only
}

// PasswordConfig controls credential hashing and the one password-shape check
// the core owns (reset bypasses the transport validation layer).
type PasswordConfig struct {
	Cost      int
	MinLength int
}

// TwoFactorConfig controls the challenge engine. MaxAttempts bounds code
// guesses per issued challenge; exhaustion deletes the challenge so the
// client must restart from login.
type TwoFactorConfig struct {
	Enabled      bool
	Issuer       string // otpauth:// issuer label
	ChallengeTTL time.Duration
	MaxAttempts  int
	SMSCooldown  time.Duration
	TOTP         TOTPConfig
	RedisPrefix  string
}

// TOTPConfig fixes the RFC 6238 parameters for the totp method.
type TOTPConfig struct {
	Digits    int
	Period    int
	Skew      int
	Algorithm string // "SHA1" (default), "SHA256", "SHA512"
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// DefaultConfig returns the baseline configuration: one-hour tokens and
// sessions, bcrypt cost 10, two-factor enabled with RFC 6238 defaults. The
// session secret is deployment-specific and must still be set.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			TTL: time.Hour,
		},
		Session: SessionConfig{
			TTL:           time.Hour,
			SigningMethod: "hs256",
		},
		Password: PasswordConfig{
			Cost:      10,
			MinLength: 8,
		},
		TwoFactor: TwoFactorConfig{
			Enabled:      true,
			Issuer:       "authority",
			ChallengeTTL: 5 * time.Minute,
			MaxAttempts:  5,
			SMSCooldown:  2 * time.Minute,
			TOTP: TOTPConfig{
				Digits:    6,
				Period:    30,
				Skew:      1,
				Algorithm: "SHA1",
			},
			RedisPrefix: "a2f",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
	}
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.Token.TTL <= 0 {
		return errors.New("token TTL must be positive")
	}
	if c.Session.TTL <= 0 {
		return errors.New("session TTL must be positive")
	}
	switch c.Session.SigningMethod {
	case "hs256":
		if len(c.Session.Secret) == 0 {
			return errors.New("hs256 requires a signing secret")
		}
	case "ed25519":
		if len(c.Session.PrivateKey) == 0 || len(c.Session.PublicKey) == 0 {
			return errors.New("ed25519 requires a private and public key")
		}
	default:
		return errors.New("unsupported session signing method")
	}
	if c.Password.Cost < 4 || c.Password.Cost > 31 {
		return errors.New("password cost out of range")
	}
	if c.Password.MinLength < 1 {
		return errors.New("password minimum length must be positive")
	}
	if c.TwoFactor.Enabled {
		if c.TwoFactor.ChallengeTTL <= 0 {
			return errors.New("two-factor challenge TTL must be positive")
		}
		if c.TwoFactor.MaxAttempts < 1 {
			return errors.New("two-factor max attempts must be positive")
		}
		if c.TwoFactor.SMSCooldown < 0 {
			return errors.New("two-factor sms cooldown must not be negative")
		}
		if c.TwoFactor.TOTP.Digits < 6 || c.TwoFactor.TOTP.Digits > 10 {
			return errors.New("totp digits out of range")
		}
		if c.TwoFactor.TOTP.Period <= 0 {
			return errors.New("totp period must be positive")
		}
		if c.TwoFactor.TOTP.Skew < 0 {
			return errors.New("totp skew must not be negative")
		}
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("audit buffer size must be positive")
	}
	return nil
}
