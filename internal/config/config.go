package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds every environment-derived setting the service needs to
// start. Loaded once at process start via Load.
type Config struct {
	// Front end
	ListenAddr   string        `envconfig:"LISTEN_ADDR" default:"127.0.0.1:43316"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`
	IdleTimeout  time.Duration `envconfig:"IDLE_TIMEOUT" default:"120s"`
	MaxBodyBytes int64         `envconfig:"MAX_BODY_BYTES" default:"32768"`

	// Connection directory (Postgres)
	PostgresURL string `envconfig:"POSTGRES_URL" required:"true"`

	// Idempotency cache (Redis)
	RedisURL string `envconfig:"REDIS_URL" required:"true"`

	// Notification outbox (NATS)
	NATSURL string `envconfig:"NATS_URL" required:"true"`

	// Dispatch semantics
	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
	MaxRetries     int           `envconfig:"MAX_RETRIES" default:"3"`
	LeaseDuration  time.Duration `envconfig:"LEASE_DURATION" default:"30s"`
	SweepInterval  time.Duration `envconfig:"SWEEP_INTERVAL" default:"5s"`
	LongPollMax    time.Duration `envconfig:"LONG_POLL_MAX" default:"30s"`

	// Observability
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	Environment string `envconfig:"GO_ENV" default:"production"`
}

// Development reports whether the service should log through the
// colorized console encoder instead of the production JSON one.
func (c *Config) Development() bool {
	return c.Environment == "development"
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
