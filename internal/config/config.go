package config

import (
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"

	"github.com/josh-kwaku/wallet-reconciler/internal/domain"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	JWTSecret   string `env:"JWT_SECRET,required,notEmpty"`
	Port        int    `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv      string `env:"APP_ENV" envDefault:"production"`

	// The Paystack secret key authenticates API calls and signs webhooks.
	PaystackSecretKey  string        `env:"PAYSTACK_SECRET_KEY,required,notEmpty"`
	PaystackBaseURL    string        `env:"PAYSTACK_BASE_URL" envDefault:"https://api.paystack.co"`
	PaymentCallbackURL string        `env:"PAYMENT_CALLBACK_URL" envDefault:"http://localhost:3000/wallet/callback"`
	GatewayTimeout     time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`

	MinFundingAmount int64  `env:"MIN_FUNDING_AMOUNT" envDefault:"100"`
	Currency         string `env:"CURRENCY" envDefault:"NGN"`

	StoreTimeout       time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`
	ProcessorInterval  time.Duration `env:"PROCESSOR_INTERVAL" envDefault:"30s"`
	ProcessorBatchSize int           `env:"PROCESSOR_BATCH_SIZE" envDefault:"20"`
	StaleIntentAge     time.Duration `env:"STALE_INTENT_AGE" envDefault:"2m"`
	StaleIntentMaxAge  time.Duration `env:"STALE_INTENT_MAX_AGE" envDefault:"24h"`
	IdempotencyTTL     time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`

	NotifyURL       string `env:"NOTIFY_URL"`
	StatusRateLimit int    `env:"STATUS_RATE_LIMIT" envDefault:"120"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
	DBPingAttempts     int `env:"DB_PING_ATTEMPTS" envDefault:"10"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if cfg.MinFundingAmount <= 0 {
		return nil, fmt.Errorf("config.Load: MIN_FUNDING_AMOUNT must be positive")
	}
	if cfg.ProcessorBatchSize <= 0 {
		return nil, fmt.Errorf("config.Load: PROCESSOR_BATCH_SIZE must be positive")
	}
	if cfg.StaleIntentMaxAge <= cfg.StaleIntentAge {
		return nil, fmt.Errorf("config.Load: STALE_INTENT_MAX_AGE must exceed STALE_INTENT_AGE")
	}
	return &cfg, nil
}

// FundingPolicy snapshots the funding settings once at startup.
func (c *Config) FundingPolicy() domain.FundingPolicy {
	return domain.FundingPolicy{
		MinAmount: c.MinFundingAmount,
		Currency:  c.Currency,
	}
}
