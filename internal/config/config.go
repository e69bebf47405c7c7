package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Provider  ProviderConfig  `yaml:"provider"`
	Wallet    WalletConfig    `yaml:"wallet"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers        []string `yaml:"brokers"`
	Topic          string   `yaml:"topic"`
	PollIntervalMS int      `yaml:"poll_interval_ms"`
	PollBatch      int      `yaml:"poll_batch"`
}

// PollInterval is how often the outbox relay wakes up.
func (k KafkaConfig) PollInterval() time.Duration {
	if k.PollIntervalMS <= 0 {
		return time.Second
	}
	return time.Duration(k.PollIntervalMS) * time.Millisecond
}

// BatchSize caps how many outbox rows one poll drains.
func (k KafkaConfig) BatchSize() int {
	if k.PollBatch <= 0 {
		return 100
	}
	return k.PollBatch
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

// ProviderConfig points at the external payment provider. CallbackToken is
// the shared secret the provider echoes back on webhooks; requests without it
// never reach the reconciliation processor.
type ProviderConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	CallbackToken  string `yaml:"callback_token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout bounds every outbound provider call.
func (p ProviderConfig) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// WalletConfig holds ledger policy knobs. Amounts are yaml strings so they
// survive the trip into decimal without float rounding.
type WalletConfig struct {
	Currency          string `yaml:"currency"`
	MinCashOut        string `yaml:"min_cashout"`
	RegistrationBonus string `yaml:"registration_bonus"`
}

// MinCashOutAmount parses the configured cash-out floor, defaulting to 100.
func (w WalletConfig) MinCashOutAmount() decimal.Decimal {
	if d, err := decimal.NewFromString(w.MinCashOut); err == nil && d.IsPositive() {
		return d
	}
	return decimal.NewFromInt(100)
}

// RegistrationBonusAmount parses the signup bonus; zero disables it.
func (w WalletConfig) RegistrationBonusAmount() decimal.Decimal {
	if d, err := decimal.NewFromString(w.RegistrationBonus); err == nil && d.IsPositive() {
		return d
	}
	return decimal.Zero
}

// Load reads the yaml file, after letting a local .env populate the process
// environment. Secrets come from env, never from the checked-in yaml.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		cfg.Postgres.DSN = cfg.Postgres.DSN + " password=" + pw
	}
	if key := os.Getenv("PROVIDER_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if tok := os.Getenv("PROVIDER_CALLBACK_TOKEN"); tok != "" {
		cfg.Provider.CallbackToken = tok
	}
	if cfg.Wallet.Currency == "" {
		cfg.Wallet.Currency = "PHP"
	}
	return &cfg, nil
}
