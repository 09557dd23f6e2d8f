// Package envconfig loads the deployment settings that sit outside the
// engine's own Config: backing services, SMTP, the verification provider.
// Engine tuning (TTLs, cost factors) stays in authority.Config and is set
// in code.
package envconfig

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Settings is the full environment surface of a deployment.
type Settings struct {
	DatabaseURL string `env:"AUTHORITY_DATABASE_URL"`
	RedisAddr   string `env:"AUTHORITY_REDIS_ADDR"   envDefault:"localhost:6379"`
	RedisDB     int    `env:"AUTHORITY_REDIS_DB"     envDefault:"0"`

	SessionSecret string        `env:"AUTHORITY_SESSION_SECRET"`
	SessionTTL    time.Duration `env:"AUTHORITY_SESSION_TTL" envDefault:"1h"`
	TokenTTL      time.Duration `env:"AUTHORITY_TOKEN_TTL"   envDefault:"1h"`

	SMTPHost     string `env:"AUTHORITY_SMTP_HOST"`
	SMTPPort     int    `env:"AUTHORITY_SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"AUTHORITY_SMTP_USERNAME"`
	SMTPPassword string `env:"AUTHORITY_SMTP_PASSWORD"`
	MailFrom     string `env:"AUTHORITY_MAIL_FROM"`
	FrontendURL  string `env:"AUTHORITY_FRONTEND_URL" envDefault:"http://localhost:3000"`

	SMSBaseURL string `env:"AUTHORITY_SMS_BASE_URL"`
	SMSAPIKey  string `env:"AUTHORITY_SMS_API_KEY"`
	SMSDryRun  bool   `env:"AUTHORITY_SMS_DRY_RUN" envDefault:"false"`
}

// Load parses Settings from the environment.
func Load() (Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return Settings{}, fmt.Errorf("parse env: %w", err)
	}
	return s, nil
}
