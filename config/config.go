// Package config reads pearauth settings from PEARAUTH_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const Prefix = "PEARAUTH_"

type Config struct {
	ClientID  string         `env:"CLIENT_ID" envDefault:"HLHackathon1"`
	AgentName string         `env:"AGENT_NAME" envDefault:"Voxtrade Agent"`
	Builder   common.Address `env:"BUILDER" envDefault:"0xA47D4d99191db54A4829cdf3de2417E527c3b042"`
	// MaxFeeRate is sent verbatim in approveBuilderFee, e.g. "0.1%"
	MaxFeeRate string `env:"MAX_FEE_RATE" envDefault:"0.1%"`
	// MaxFeeRateCeiling is the highest percentage this deployment will ever approve
	MaxFeeRateCeiling decimal.Decimal `env:"MAX_FEE_RATE_CEILING" envDefault:"0.1"`
	MinOrderSize      decimal.Decimal `env:"MIN_ORDER_SIZE" envDefault:"0.1"`

	PearBaseURL    string `env:"PEAR_BASE_URL" envDefault:"https://hl-v2.pearprotocol.io"`
	RelayURL       string `env:"RELAY_URL" envDefault:"http://127.0.0.1:9001/relay"`
	HyperliquidURL string `env:"HYPERLIQUID_URL" envDefault:"https://api.hyperliquid.xyz"`
	Mainnet        bool   `env:"MAINNET" envDefault:"true"`

	PrivateKey string `env:"PRIVATE_KEY"`
	ChainID    int64  `env:"CHAIN_ID" envDefault:"42161"`

	SignTimeout          time.Duration `env:"SIGN_TIMEOUT" envDefault:"2m"`
	HTTPTimeout          time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`
	TokenInvalidationTTL time.Duration `env:"TOKEN_INVALIDATION_TTL" envDefault:"24h"`

	RedisURL string `env:"REDIS_URL"`

	ListenAddr      string `env:"LISTEN_ADDR" envDefault:":9000"`
	RelayListenAddr string `env:"RELAY_LISTEN_ADDR" envDefault:":9001"`
	RelayPath       string `env:"RELAY_PATH" envDefault:"/relay"`
	APIKey          string `env:"API_KEY"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY"`
}

// Load parses the environment and validates the result
func Load() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values env cannot check by type alone
func (c Config) Validate() error {
	if c.ClientID == "" {
		return errors.New("client id must be set")
	}
	if c.Builder == (common.Address{}) {
		return errors.New("builder address must be set")
	}

	rate, err := ParseFeeRate(c.MaxFeeRate)
	if err != nil {
		return err
	}
	if !c.MaxFeeRateCeiling.IsPositive() {
		return errors.New("max fee rate ceiling must be positive")
	}
	if rate.GreaterThan(c.MaxFeeRateCeiling) {
		return fmt.Errorf("max fee rate %s exceeds ceiling %s%%", c.MaxFeeRate, c.MaxFeeRateCeiling)
	}

	if c.MinOrderSize.IsNegative() {
		return errors.New("min order size must not be negative")
	}
	if c.ChainID <= 0 {
		return fmt.Errorf("invalid chain id %d", c.ChainID)
	}
	if c.SignTimeout <= 0 || c.HTTPTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	if !strings.HasPrefix(c.RelayPath, "/") {
		return fmt.Errorf("relay path %q must start with /", c.RelayPath)
	}
	return nil
}

// ParseFeeRate parses a percentage such as "0.1%"
func ParseFeeRate(rate string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(rate)
	if !strings.HasSuffix(trimmed, "%") {
		return decimal.Zero, fmt.Errorf("fee rate %q must be a percentage", rate)
	}
	d, err := decimal.NewFromString(strings.TrimSuffix(trimmed, "%"))
	if err != nil {
		return decimal.Zero, fmt.Errorf("fee rate %q: %w", rate, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("fee rate %q must be positive", rate)
	}
	return d, nil
}
