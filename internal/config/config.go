package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Balance   BalanceConfig   `yaml:"balance"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Outbox    OutboxConfig    `yaml:"outbox"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

// DatabaseConfig.URL is either a postgres:// URL, a key=value postgres DSN,
// or a sqlite:// URL for local runs.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Addr       string        `yaml:"addr"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	BalanceTTL time.Duration `yaml:"balance_ttl"`
	OrderTTL   time.Duration `yaml:"order_ttl"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

// BalanceConfig holds the thresholds enforced before any ledger mutation.
type BalanceConfig struct {
	Currency                string          `yaml:"currency"`
	SupportedCurrencies     []string        `yaml:"supported_currencies"`
	MinDeposit              decimal.Decimal `yaml:"min_deposit"`
	MaxDeposit              decimal.Decimal `yaml:"max_deposit"`
	MinWithdrawal           decimal.Decimal `yaml:"min_withdrawal"`
	MaxWithdrawal           decimal.Decimal `yaml:"max_withdrawal"`
	DailyDepositLimit       decimal.Decimal `yaml:"daily_deposit_limit"`
	DailyWithdrawalLimit    decimal.Decimal `yaml:"daily_withdrawal_limit"`
	MaxOperationsPerMinute  int             `yaml:"max_operations_per_minute"`
	MaxConcurrentOperations int             `yaml:"max_concurrent_operations"`
	MaxBatchSize            int             `yaml:"max_batch_size"`
	AdminIDs                []string        `yaml:"admin_ids"`
}

type ReconcileConfig struct {
	Interval            time.Duration `yaml:"interval"`
	StaleTransactionAge time.Duration `yaml:"stale_transaction_age"`
	StuckOrderAge       time.Duration `yaml:"stuck_order_age"`
	BatchSize           int           `yaml:"batch_size"`
}

type OutboxConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a configuration usable for local runs and tests.
func Default() Config {
	return Config{
		Server:    ServerConfig{Port: 8080},
		Database:  DatabaseConfig{URL: "sqlite://stars.db"},
		Redis:     RedisConfig{Addr: "localhost:6379", BalanceTTL: 30 * time.Second, OrderTTL: 30 * time.Second},
		Kafka:     KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "stars.events"},
		RateLimit: RateLimitConfig{RPS: 50, Burst: 100},
		Balance: BalanceConfig{
			Currency:                "RUB",
			SupportedCurrencies:     []string{"USD", "EUR", "RUB"},
			MinDeposit:              decimal.RequireFromString("0.01"),
			MaxDeposit:              decimal.NewFromInt(1_000_000),
			MinWithdrawal:           decimal.RequireFromString("0.01"),
			MaxWithdrawal:           decimal.NewFromInt(1_000_000),
			DailyDepositLimit:       decimal.NewFromInt(5_000_000),
			DailyWithdrawalLimit:    decimal.NewFromInt(5_000_000),
			MaxOperationsPerMinute:  10,
			MaxConcurrentOperations: 3,
			MaxBatchSize:            50,
		},
		Reconcile: ReconcileConfig{
			Interval:            5 * time.Minute,
			StaleTransactionAge: 30 * time.Minute,
			StuckOrderAge:       time.Hour,
			BatchSize:           500,
		},
		Outbox: OutboxConfig{PollInterval: time.Second, BatchSize: 100},
		Log:    LogConfig{Level: "info"},
	}
}

// Load reads an optional .env file, the yaml file at path (skipped when empty),
// then environment overrides.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	// key=value DSNs get the password appended; URLs carry their own.
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" && !strings.Contains(cfg.Database.URL, "://") {
		cfg.Database.URL = cfg.Database.URL + " password=" + pw
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = splitList(brokers)
	}
	if admins := os.Getenv("ADMIN_IDS"); admins != "" {
		cfg.Balance.AdminIDs = splitList(admins)
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks that limits are consistent.
func (c Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("config: database.url is required")
	}
	if err := c.Reconcile.Validate(); err != nil {
		return err
	}
	if c.Outbox.PollInterval <= 0 || c.Outbox.BatchSize <= 0 {
		return errors.New("config: outbox poll_interval and batch_size must be positive")
	}
	return c.Balance.Validate()
}

func (r ReconcileConfig) Validate() error {
	if r.Interval <= 0 {
		return fmt.Errorf("config: reconcile.interval must be positive, got %s", r.Interval)
	}
	if r.StaleTransactionAge <= 0 || r.StuckOrderAge <= 0 {
		return errors.New("config: reconcile ages must be positive")
	}
	return nil
}

func (b BalanceConfig) Validate() error {
	if len(b.Currency) != 3 {
		return fmt.Errorf("config: balance.currency %q must be a 3-letter code", b.Currency)
	}
	if !b.IsSupportedCurrency(b.Currency) {
		return fmt.Errorf("config: balance.currency %q is not in supported_currencies", b.Currency)
	}
	if !b.MinDeposit.IsPositive() || b.MaxDeposit.LessThan(b.MinDeposit) {
		return errors.New("config: deposit bounds must satisfy 0 < min_deposit <= max_deposit")
	}
	if !b.MinWithdrawal.IsPositive() || b.MaxWithdrawal.LessThan(b.MinWithdrawal) {
		return errors.New("config: withdrawal bounds must satisfy 0 < min_withdrawal <= max_withdrawal")
	}
	if b.MaxOperationsPerMinute <= 0 || b.MaxConcurrentOperations <= 0 {
		return errors.New("config: operation caps must be positive")
	}
	if b.MaxBatchSize <= 0 {
		return errors.New("config: max_batch_size must be positive")
	}
	return nil
}

func (b BalanceConfig) IsSupportedCurrency(code string) bool {
	for _, c := range b.SupportedCurrencies {
		if c == code {
			return true
		}
	}
	return false
}
