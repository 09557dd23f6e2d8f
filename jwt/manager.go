// Package jwt mints and parses the signed session credential. The token
// embeds only the account id and its expiry; there is no server-side session
// store, so a credential is valid until it expires.
package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	// MethodHS256 signs with a shared server-held secret.
	MethodHS256 SigningMethod = "hs256"
	// MethodEd25519 signs with an ed25519 private key.
	MethodEd25519 SigningMethod = "ed25519"
)

// Config holds the signing material and token lifetime. Now is the injectable
// clock used for issuance and expiry; it defaults to time.Now.
type Config struct {
	TTL           time.Duration
	SigningMethod SigningMethod
	Secret        []byte
	PrivateKey    []byte
	PublicKey     []byte
	Now           func() time.Time
}

// Manager is the session minter. It is immutable after construction.
type Manager struct {
	config Config
}

type sessionClaims struct {
	ID string `json:"id"`
	jwt.RegisteredClaims
}

// NewManager validates the signing configuration.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.TTL <= 0 {
		return nil, errors.New("invalid session TTL")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.Secret) == 0 {
			return nil, errors.New("hs256 requires a secret")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) != ed25519.PrivateKeySize {
			return nil, errors.New("invalid ed25519 private key size")
		}
		if len(cfg.PublicKey) != ed25519.PublicKeySize {
			return nil, errors.New("invalid ed25519 public key size")
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	return &Manager{config: cfg}, nil
}

// Mint signs a session credential for the account and returns it with its
// lifetime in seconds. The lifetime the caller advertises (cookie max-age)
// and the token's own exp claim come from the same TTL.
func (m *Manager) Mint(accountID string) (string, int, error) {
	if m == nil {
		return "", 0, errors.New("nil session minter")
	}
	now := m.config.Now()
	claims := sessionClaims{
		ID: accountID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.TTL)),
		},
	}

	token := jwt.NewWithClaims(m.method(), claims)
	signed, err := token.SignedString(m.signKey())
	if err != nil {
		return "", 0, err
	}
	return signed, int(m.config.TTL.Seconds()), nil
}

// Parse verifies signature and expiry and returns the embedded account id.
func (m *Manager) Parse(tokenStr string) (string, error) {
	if m == nil {
		return "", errors.New("nil session minter")
	}
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return m.verifyKey(), nil
	},
		jwt.WithValidMethods([]string{m.method().Alg()}),
		jwt.WithTimeFunc(m.config.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", err
	}
	if claims.ID == "" {
		return "", errors.New("session credential missing account id")
	}
	return claims.ID, nil
}

// CookieDirective formats the credential as an HTTP-only cookie bounded by
// the same lifetime as the token.
func CookieDirective(token string, expiresInSeconds int) string {
	return fmt.Sprintf("Authorization=%s; HttpOnly; Max-Age=%d;", token, expiresInSeconds)
}

// ClearCookieDirective formats the logout-side cookie drop.
func ClearCookieDirective() string {
	return "Authorization=; Max-Age=0"
}

func (m *Manager) method() jwt.SigningMethod {
	if m.config.SigningMethod == MethodEd25519 {
		return jwt.SigningMethodEdDSA
	}
	return jwt.SigningMethodHS256
}

func (m *Manager) signKey() any {
	if m.config.SigningMethod == MethodEd25519 {
		return ed25519.PrivateKey(m.config.PrivateKey)
	}
	return m.config.Secret
}

func (m *Manager) verifyKey() any {
	if m.config.SigningMethod == MethodEd25519 {
		return ed25519.PublicKey(m.config.PublicKey)
	}
	return m.config.Secret
}
