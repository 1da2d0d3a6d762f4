package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	JWT         JWTConfig         `mapstructure:"jwt"`
	Wallet      WalletConfig      `mapstructure:"wallet"`
	Stellar     StellarConfig     `mapstructure:"stellar"`
	Sweep       SweepConfig       `mapstructure:"sweep"`
	Payment     PaymentConfig     `mapstructure:"payment"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Security    SecurityConfig    `mapstructure:"security"`
	Log         LogConfig         `mapstructure:"log"`
}

// SecurityConfig holds the key protecting merchant webhook secrets at rest.
// When empty, webhook notifications are disabled.
type SecurityConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"` // 64-char hex, AES-256
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

// WalletConfig carries the HD wallet master secret. The value is either a
// hex-encoded 64-byte seed or a BIP-39 mnemonic phrase. It is read once at
// startup, held in memory only, and must never be logged or persisted.
type WalletConfig struct {
	MasterSeed string `mapstructure:"master_seed"`
}

// StellarConfig describes the ledger endpoint and settlement targets.
type StellarConfig struct {
	HorizonURL         string        `mapstructure:"horizon_url"`
	NetworkPassphrase  string        `mapstructure:"network_passphrase"`
	TreasuryAddress    string        `mapstructure:"treasury_address"`
	AssetCode          string        `mapstructure:"asset_code"`
	AssetIssuer        string        `mapstructure:"asset_issuer"`
	FundingAddress     string        `mapstructure:"funding_address"`
	EnableAccountMerge bool          `mapstructure:"enable_account_merge"`
	SubmitTimeout      time.Duration `mapstructure:"submit_timeout"`
}

type SweepConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Interval       time.Duration `mapstructure:"interval"`
	Concurrency    int           `mapstructure:"concurrency"`
	BatchSize      int           `mapstructure:"batch_size"`
	PaymentTimeout time.Duration `mapstructure:"payment_timeout"`
	RunLockTTL     time.Duration `mapstructure:"run_lock_ttl"`
}

type PaymentConfig struct {
	Expiry time.Duration `mapstructure:"expiry"` // collection deadline per payment
}

type IdempotencyConfig struct {
	TTL     time.Duration `mapstructure:"ttl"`      // cached response retention
	LockTTL time.Duration `mapstructure:"lock_ttl"` // per-key execution lock
	Wait    time.Duration `mapstructure:"wait"`     // how long a concurrent duplicate waits for the first execution
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: FLUXAPAY.
// Nested keys use underscore: FLUXAPAY_DATABASE_HOST, FLUXAPAY_WALLET_MASTER_SEED, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "fluxapay")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "fluxapay")
	v.SetDefault("wallet.master_seed", "")
	v.SetDefault("stellar.horizon_url", "")
	v.SetDefault("stellar.network_passphrase", "")
	v.SetDefault("stellar.treasury_address", "")
	v.SetDefault("stellar.asset_code", "USDC")
	v.SetDefault("stellar.asset_issuer", "")
	v.SetDefault("stellar.funding_address", "")
	v.SetDefault("stellar.enable_account_merge", false)
	v.SetDefault("stellar.submit_timeout", "30s")
	v.SetDefault("sweep.enabled", true)
	v.SetDefault("sweep.interval", "5m")
	v.SetDefault("sweep.concurrency", 4)
	v.SetDefault("sweep.batch_size", 200)
	v.SetDefault("sweep.payment_timeout", "45s")
	v.SetDefault("sweep.run_lock_ttl", "10m")
	v.SetDefault("payment.expiry", "1h")
	v.SetDefault("idempotency.ttl", "24h")
	v.SetDefault("idempotency.lock_ttl", "30s")
	v.SetDefault("idempotency.wait", "5s")
	v.SetDefault("security.encryption_key", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: FLUXAPAY_STELLAR_TREASURY_ADDRESS -> stellar.treasury_address
	v.SetEnvPrefix("FLUXAPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects incomplete financial configuration. A missing master seed
// or treasury address must stop the process at startup, not surface once
// money is already in flight.
func (c *Config) Validate() error {
	var missing []string

	if c.JWT.Secret == "" {
		missing = append(missing, "jwt.secret")
	}
	if c.Wallet.MasterSeed == "" {
		missing = append(missing, "wallet.master_seed")
	}
	if c.Stellar.HorizonURL == "" {
		missing = append(missing, "stellar.horizon_url")
	}
	if c.Stellar.NetworkPassphrase == "" {
		missing = append(missing, "stellar.network_passphrase")
	}
	if c.Stellar.TreasuryAddress == "" {
		missing = append(missing, "stellar.treasury_address")
	}
	if c.Stellar.AssetCode == "" {
		missing = append(missing, "stellar.asset_code")
	}
	if c.Stellar.AssetIssuer == "" {
		missing = append(missing, "stellar.asset_issuer")
	}
	if c.Stellar.EnableAccountMerge && c.Stellar.FundingAddress == "" {
		missing = append(missing, "stellar.funding_address (required when account merge is enabled)")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}
