package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PrivyConfig holds the custodial signer credentials. The authorization key
// never signs anything locally; it is forwarded as a request header.
type PrivyConfig struct {
	BaseURL          string `yaml:"base_url"`
	AppID            string `yaml:"app_id"`
	AppSecret        string `yaml:"app_secret"`
	AuthorizationKey string `yaml:"authorization_key"`
	CAIP2            string `yaml:"caip2"`
}

type HyperliquidConfig struct {
	BaseURL    string `yaml:"base_url"`
	TestnetURL string `yaml:"testnet_url"`
	WSURL      string `yaml:"ws_url"`
	UseTestnet bool   `yaml:"use_testnet"`
}

// APIURL picks mainnet or testnet.
func (h HyperliquidConfig) APIURL() string {
	if h.UseTestnet {
		return h.TestnetURL
	}
	return h.BaseURL
}

type LedgerConfig struct {
	Path          string `yaml:"path"`
	EncryptionKey string `yaml:"encryption_key"` // hex/base64, 32 bytes; optional
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

type RetryConfig struct {
	Base        time.Duration `yaml:"base"`
	Cap         time.Duration `yaml:"cap"`
	MaxAttempts int           `yaml:"max_attempts"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

type Config struct {
	Listen            string            `yaml:"listen"`
	Privy             PrivyConfig       `yaml:"privy"`
	Hyperliquid       HyperliquidConfig `yaml:"hyperliquid"`
	Ledger            LedgerConfig      `yaml:"ledger"`
	HistoryDBPath     string            `yaml:"history_db_path"`
	ReconcileInterval time.Duration     `yaml:"reconcile_interval"`
	MarketCacheTTL    time.Duration     `yaml:"market_cache_ttl"`
	Retry             RetryConfig       `yaml:"retry"`
	Log               LogConfig         `yaml:"log"`
}

func defaults() *Config {
	return &Config{
		Listen: ":8000",
		Privy: PrivyConfig{
			BaseURL: "https://api.privy.io",
			CAIP2:   "eip155:84532",
		},
		Hyperliquid: HyperliquidConfig{
			BaseURL:    "https://api.hyperliquid.xyz",
			TestnetURL: "https://api.hyperliquid-testnet.xyz",
			WSURL:      "wss://api.hyperliquid-testnet.xyz/ws",
			UseTestnet: true,
		},
		Ledger:            LedgerConfig{Path: "data/ledger"},
		HistoryDBPath:     "data/history.db",
		ReconcileInterval: 30 * time.Second,
		MarketCacheTTL:    5 * time.Second,
		Retry: RetryConfig{
			Base:        200 * time.Millisecond,
			Cap:         5 * time.Second,
			MaxAttempts: 5,
			CallTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   true,
		},
	}
}

// Load builds the config from defaults, an optional YAML file, then
// environment variables (highest precedence).
func Load(path string) (*Config, error) {
	cfg := defaults()

	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Privy.AppID, "PRIVY_APP_ID")
	setString(&c.Privy.AppSecret, "PRIVY_APP_SECRET")
	setString(&c.Privy.AuthorizationKey, "PRIVY_AUTHORIZATION_KEY")
	setString(&c.Privy.BaseURL, "PRIVY_BASE_URL")
	setString(&c.Privy.CAIP2, "PRIVY_CAIP2")

	setString(&c.Hyperliquid.BaseURL, "HYPERLIQUID_BASE_URL")
	setString(&c.Hyperliquid.TestnetURL, "HYPERLIQUID_TESTNET_URL")
	setString(&c.Hyperliquid.WSURL, "HYPERLIQUID_WS_URL")
	setBool(&c.Hyperliquid.UseTestnet, "HYPERLIQUID_USE_TESTNET")

	setString(&c.Ledger.Path, "GOTRADE_LEDGER_PATH")
	setString(&c.Ledger.EncryptionKey, "GOTRADE_LEDGER_KEY")
	setString(&c.HistoryDBPath, "GOTRADE_HISTORY_DB")
	setString(&c.Listen, "GOTRADE_LISTEN")
	setDuration(&c.ReconcileInterval, "GOTRADE_RECONCILE_INTERVAL")
	setString(&c.Log.Level, "GOTRADE_LOG_LEVEL")
	setString(&c.Log.File, "GOTRADE_LOG_FILE")

	// API_HOST/API_PORT pair kept for compatibility with older deployments.
	if host, port := os.Getenv("API_HOST"), os.Getenv("API_PORT"); port != "" {
		c.Listen = host + ":" + port
	}
}

// Validate checks the required signer credentials, mirroring the rule that
// the service must not boot without a working custody path.
func (c *Config) Validate() error {
	var missing []string
	if c.Privy.AppID == "" {
		missing = append(missing, "PRIVY_APP_ID")
	}
	if c.Privy.AppSecret == "" {
		missing = append(missing, "PRIVY_APP_SECRET")
	}
	if c.Privy.AuthorizationKey == "" {
		missing = append(missing, "PRIVY_AUTHORIZATION_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.Hyperliquid.APIURL() == "" {
		return fmt.Errorf("exchange base url is required")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.ToLower(v)); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*dst = d
		}
	}
}
