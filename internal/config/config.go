package config

import (
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/shopspring/decimal"
)

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort    string `env:"HTTP_PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	JWTSecret            string `env:"JWT_SECRET"`
	JWTAccessTTLMinutes  int    `env:"JWT_ACCESS_TTL_MINUTES" envDefault:"15"`
	JWTRefreshTTLMinutes int    `env:"JWT_REFRESH_TTL_MINUTES" envDefault:"10080"`

	MagicSecretKey string `env:"MAGIC_SECRET_KEY"`
	MagicClientID  string `env:"MAGIC_CLIENT_ID"`
	MagicAPIURL    string `env:"MAGIC_API_URL" envDefault:"https://api.magic.link"`

	DefaultCommunityID       string            `env:"DEFAULT_COMMUNITY_ID" envDefault:"ethereum"`
	AddressTokenExpiresIn    time.Duration     `env:"ADDRESS_TOKEN_EXPIRES_IN" envDefault:"10m"`
	TierSocialVerifiedMinETH string            `env:"TIER_SOCIAL_VERIFIED_MIN_ETH" envDefault:"0.006"`
	EthRPCURLs               map[string]string `env:"ETH_RPC_URLS" envSeparator:"," envKeyValSeparator:"="`

	ActivityCacheTTL        time.Duration `env:"ACTIVITY_CACHE_TTL" envDefault:"10m"`
	ActivityLockTTL         time.Duration `env:"ACTIVITY_LOCK_TTL" envDefault:"1m"`
	ActivityRefreshInterval time.Duration `env:"ACTIVITY_REFRESH_INTERVAL" envDefault:"5m"`
	ActivityFeedLimit       int           `env:"ACTIVITY_FEED_LIMIT" envDefault:"50"`

	NATSURL           string        `env:"NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	NATSStream        string        `env:"NATS_STREAM" envDefault:"COMMONWEALTH_EVENTS"`
	NATSSubjectPrefix string        `env:"NATS_SUBJECT_PREFIX" envDefault:"commonwealth.events"`
	RelayInterval     time.Duration `env:"RELAY_INTERVAL" envDefault:"2s"`
	RelayBatchSize    int           `env:"RELAY_BATCH_SIZE" envDefault:"100"`
	NotifierWorkers   int           `env:"NOTIFIER_WORKERS" envDefault:"4"`

	GoogleIssuer  string `env:"GOOGLE_ISSUER" envDefault:"https://accounts.google.com"`
	AppleIssuer   string `env:"APPLE_ISSUER" envDefault:"https://appleid.apple.com"`
	AppleClientID string `env:"APPLE_CLIENT_ID"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPass     string `env:"SMTP_PASS"`
	SMTPFrom     string `env:"SMTP_FROM"`
	SMTPFromName string `env:"SMTP_FROM_NAME"`
	SMTPUseTLS   bool   `env:"SMTP_USE_TLS" envDefault:"false"`

	SignInRateLimit  int           `env:"SIGNIN_RATE_LIMIT" envDefault:"10"`
	SignInRateWindow time.Duration `env:"SIGNIN_RATE_WINDOW" envDefault:"1m"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SocialVerifiedMinBalance devuelve el umbral en ETH como decimal; un valor invalido equivale a cero.
func (c *Config) SocialVerifiedMinBalance() decimal.Decimal {
	d, err := decimal.NewFromString(c.TierSocialVerifiedMinETH)
	if err != nil {
		return decimal.Zero
	}
	return d
}
