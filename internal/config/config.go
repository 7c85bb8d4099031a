package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/medbridge/transponder/storage/sqlstore"
	"github.com/medbridge/transponder/transport"
)

type Config struct {
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBDriver    string `mapstructure:"DB_DRIVER"`
	DBDialect   string `mapstructure:"DB_DIALECT"`

	ChannelCapacity           int           `mapstructure:"OUTBOX_CHANNEL_CAPACITY"`
	BatchSize                 int           `mapstructure:"OUTBOX_BATCH_SIZE"`
	MaxConcurrentDestinations int           `mapstructure:"OUTBOX_MAX_CONCURRENT_DESTINATIONS"`
	PollInterval              time.Duration `mapstructure:"OUTBOX_POLL_INTERVAL"`
	RetryDelay                time.Duration `mapstructure:"OUTBOX_RETRY_DELAY"`
	MaxAttempts               int           `mapstructure:"OUTBOX_MAX_ATTEMPTS"`
	DeadLetterAddress         string        `mapstructure:"OUTBOX_DEAD_LETTER_ADDRESS"`
	StopTimeout               time.Duration `mapstructure:"OUTBOX_STOP_TIMEOUT"`

	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	AMQPURL      string `mapstructure:"AMQP_URL"`
	NATSURL      string `mapstructure:"NATS_URL"`

	MessageTypes   string `mapstructure:"MESSAGE_TYPES"`
	AdminAddr      string `mapstructure:"ADMIN_ADDR"`
	BreakerEnabled bool   `mapstructure:"BREAKER_ENABLED"`
}

var keys = []string{
	"ENV", "LOG_LEVEL",
	"DATABASE_URL", "DB_DRIVER", "DB_DIALECT",
	"OUTBOX_CHANNEL_CAPACITY", "OUTBOX_BATCH_SIZE", "OUTBOX_MAX_CONCURRENT_DESTINATIONS",
	"OUTBOX_POLL_INTERVAL", "OUTBOX_RETRY_DELAY", "OUTBOX_MAX_ATTEMPTS",
	"OUTBOX_DEAD_LETTER_ADDRESS", "OUTBOX_STOP_TIMEOUT",
	"KAFKA_BROKERS", "AMQP_URL", "NATS_URL",
	"MESSAGE_TYPES", "ADMIN_ADDR", "BREAKER_ENABLED",
}

// Load reads the configuration from the environment and an optional .env file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("ENV", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DB_DIALECT", "postgres")
	v.SetDefault("OUTBOX_CHANNEL_CAPACITY", 1000)
	v.SetDefault("OUTBOX_BATCH_SIZE", 100)
	v.SetDefault("OUTBOX_MAX_CONCURRENT_DESTINATIONS", 16)
	v.SetDefault("OUTBOX_POLL_INTERVAL", "10s")
	v.SetDefault("OUTBOX_RETRY_DELAY", "5s")
	v.SetDefault("OUTBOX_MAX_ATTEMPTS", 0)
	v.SetDefault("OUTBOX_STOP_TIMEOUT", "30s")
	v.SetDefault("ADMIN_ADDR", ":8080")
	v.SetDefault("BREAKER_ENABLED", true)

	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if _, err := sqlstore.ParseDialect(c.DBDialect); err != nil {
		errs = append(errs, fmt.Errorf("DB_DIALECT: %w", err))
	}
	if c.DBDriver == "" {
		errs = append(errs, errors.New("DB_DRIVER is required"))
	}

	positive := []struct {
		key   string
		value int64
	}{
		{"OUTBOX_CHANNEL_CAPACITY", int64(c.ChannelCapacity)},
		{"OUTBOX_BATCH_SIZE", int64(c.BatchSize)},
		{"OUTBOX_MAX_CONCURRENT_DESTINATIONS", int64(c.MaxConcurrentDestinations)},
		{"OUTBOX_POLL_INTERVAL", int64(c.PollInterval)},
		{"OUTBOX_RETRY_DELAY", int64(c.RetryDelay)},
		{"OUTBOX_STOP_TIMEOUT", int64(c.StopTimeout)},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", p.key))
		}
	}
	if c.MaxAttempts < 0 {
		errs = append(errs, errors.New("OUTBOX_MAX_ATTEMPTS must not be negative"))
	}

	if c.DeadLetterAddress != "" {
		if _, err := transport.ParseAddress(c.DeadLetterAddress); err != nil {
			errs = append(errs, fmt.Errorf("OUTBOX_DEAD_LETTER_ADDRESS: %w", err))
		}
	}

	if _, err := c.ParsedMessageTypes(); err != nil {
		errs = append(errs, fmt.Errorf("MESSAGE_TYPES: %w", err))
	}

	return errors.Join(errs...)
}

// ParsedMessageTypes parses MESSAGE_TYPES ("Name=topic,Other").
func (c *Config) ParsedMessageTypes() ([]transport.MessageType, error) {
	return transport.ParseTypeMap(c.MessageTypes)
}

// Brokers splits KAFKA_BROKERS on commas.
func (c *Config) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
