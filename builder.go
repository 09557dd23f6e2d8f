package authority

import (
	"errors"
	"log"
	"os"
	"time"

	"github.com/kipdev/authority/internal/audit"
	"github.com/kipdev/authority/internal/stores"
	"github.com/kipdev/authority/jwt"
	"github.com/kipdev/authority/password"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine from a Config and the collaborator
// implementations the core consumes: the durable account store, out-of-band
// delivery, and an injectable clock.
type Builder struct {
	config Config
	store  AccountStore
	redis  redis.UniversalClient
	mailer Mailer
	sms    SMSVerifier
	clock  func() time.Time
	sink   AuditSink
	warn   *log.Logger

	built bool
}

// New returns a Builder seeded with default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the seeded configuration wholesale.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithStore sets the durable account store.
func (b *Builder) WithStore(store AccountStore) *Builder {
	b.store = store
	return b
}

// WithRedis sets the client backing the two-factor challenge store. Required
// only when two-factor support is enabled.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithMailer sets the out-of-band email collaborator.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithSMSVerifier sets the out-of-band SMS verification collaborator.
// Without one, SMS enrollment reports ErrEngineNotReady.
func (b *Builder) WithSMSVerifier(v SMSVerifier) *Builder {
	b.sms = v
	return b
}

// WithClock injects the time source used for every expiry comparison.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// WithAuditSink sets the audit destination and enables auditing.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	b.config.Audit.Enabled = sink != nil
	return b
}

// WithWarnLogger sets the logger for non-fatal anomalies. Defaults to the
// process stderr logger.
func (b *Builder) WithWarnLogger(l *log.Logger) *Builder {
	b.warn = l
	return b
}

// Build validates the wiring and returns the immutable Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("account store required")
	}
	if b.mailer == nil {
		return nil, errors.New("mailer required")
	}
	if cfg.TwoFactor.Enabled && b.redis == nil {
		return nil, errors.New("two-factor support requires a redis client")
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	hasher, err := password.New(cfg.Password.Cost)
	if err != nil {
		return nil, err
	}

	sessions, err := jwt.NewManager(jwt.Config{
		TTL:           cfg.Session.TTL,
		SigningMethod: jwt.SigningMethod(cfg.Session.SigningMethod),
		Secret:        cfg.Session.Secret,
		PrivateKey:    cfg.Session.PrivateKey,
		PublicKey:     cfg.Session.PublicKey,
		Now:           clock,
	})
	if err != nil {
		return nil, err
	}

	warnLog := b.warn
	if warnLog == nil {
		warnLog = log.New(os.Stderr, "authority: ", log.LstdFlags)
	}

	e := &Engine{
		config:   cfg,
		store:    b.store,
		mailer:   b.mailer,
		sms:      b.sms,
		clock:    clock,
		hasher:   hasher,
		tokens:   newTokenIssuer(b.store, cfg.Token.TTL, clock),
		totp:     newTOTPManager(cfg.TwoFactor.TOTP, cfg.TwoFactor.Issuer),
		sessions: sessions,
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.sink),
		warnLog: warnLog,
	}
	if cfg.TwoFactor.Enabled {
		e.challenges = stores.NewChallengeStore(b.redis, cfg.TwoFactor.RedisPrefix)
	}

	b.built = true
	return e, nil
}
