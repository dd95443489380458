// Package config loads process configuration for the depay binaries.
package config

import (
	"fmt"
	"math/big"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/vitwit/depay/types"
	"github.com/vitwit/depay/utils"
)

type Config struct {
	AssetKind     types.AssetKind `env:"DEPAY_ASSET_KIND" envDefault:"native"`
	Network       types.Network   `env:"DEPAY_NETWORK" envDefault:"sepolia"`
	AssetSymbol   string          `env:"DEPAY_ASSET_SYMBOL"`
	AssetDecimals uint8           `env:"DEPAY_ASSET_DECIMALS" envDefault:"18"`

	// On-chain price feed. When RPCURL is empty the static price is used.
	RPCURL       string         `env:"DEPAY_RPC_URL"`
	FeedAddress  common.Address `env:"DEPAY_FEED_ADDRESS"`
	TokenAddress common.Address `env:"DEPAY_TOKEN_ADDRESS"`

	StaticPrice         string `env:"DEPAY_STATIC_PRICE"`
	StaticPriceDecimals uint8  `env:"DEPAY_STATIC_PRICE_DECIMALS" envDefault:"8" validate:"lte=36"`

	EngineAddress    common.Address `env:"DEPAY_ENGINE_ADDRESS,required,notEmpty"`
	TreasuryOperator common.Address `env:"DEPAY_TREASURY_OPERATOR,required,notEmpty"`
	TreasuryFeeBps   uint16         `env:"DEPAY_TREASURY_FEE_BPS" envDefault:"0" validate:"lte=10000"`
	Timeout          time.Duration  `env:"DEPAY_TIMEOUT" envDefault:"30s"`

	RedisAddr   string `env:"DEPAY_REDIS_ADDR"`
	RedisPrefix string `env:"DEPAY_REDIS_PREFIX" envDefault:"depay"`

	NatsURL     string `env:"DEPAY_NATS_URL"`
	NatsSubject string `env:"DEPAY_NATS_SUBJECT" envDefault:"depay.payments"`

	// Accounts credited in the simulated ledger at startup, in base units.
	DevAccounts []string `env:"DEPAY_DEV_ACCOUNTS" envSeparator:","`
	DevBalance  string   `env:"DEPAY_DEV_BALANCE" envDefault:"1000000000000000000000"`

	Port          int    `env:"DEPAY_PORT" envDefault:"8080" validate:"gt=0,lt=65536"`
	LogLevel      string `env:"DEPAY_LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	AppEnv        string `env:"DEPAY_APP_ENV" envDefault:"production"`
	EnableMetrics bool   `env:"DEPAY_ENABLE_METRICS" envDefault:"true"`
}

// Load reads an optional .env file, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return Parse()
}

// Parse reads configuration from the environment only.
func Parse() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if err := cfg.resolve(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// resolve validates the config and fills feed and token addresses from
// known deployments.
func (c *Config) resolve() error {
	if err := c.AssetKind.Valid(); err != nil {
		return err
	}
	if err := utils.Validator().Struct(c); err != nil {
		return err
	}

	if d, err := types.LookupDeployment(c.Network, c.AssetKind); err == nil {
		if c.FeedAddress == (common.Address{}) {
			c.FeedAddress = d.Feed
		}
		if c.TokenAddress == (common.Address{}) {
			c.TokenAddress = d.Token
		}
		if c.AssetSymbol == "" {
			c.AssetSymbol = d.Symbol
		}
	}
	if c.AssetSymbol == "" {
		c.AssetSymbol = "ETH"
		if c.AssetKind == types.AssetERC20 {
			c.AssetSymbol = "TOKEN"
		}
	}

	if c.RPCURL == "" && c.StaticPrice == "" {
		return fmt.Errorf("either DEPAY_RPC_URL or DEPAY_STATIC_PRICE is required")
	}
	if c.RPCURL != "" && c.FeedAddress == (common.Address{}) {
		return fmt.Errorf("DEPAY_FEED_ADDRESS is required for network %s", c.Network)
	}
	if c.AssetKind == types.AssetERC20 && c.TokenAddress == (common.Address{}) {
		return fmt.Errorf("DEPAY_TOKEN_ADDRESS is required for the erc20 asset")
	}
	if c.StaticPrice != "" {
		if _, err := c.StaticRate(); err != nil {
			return err
		}
	}
	return nil
}

// StaticRate converts DEPAY_STATIC_PRICE (a USD decimal such as "2000.5")
// into a price scaled by 10^StaticPriceDecimals.
func (c *Config) StaticRate() (*big.Int, error) {
	price, err := decimal.NewFromString(c.StaticPrice)
	if err != nil {
		return nil, fmt.Errorf("invalid DEPAY_STATIC_PRICE %q: %w", c.StaticPrice, err)
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("DEPAY_STATIC_PRICE must be positive")
	}
	scaled := price.Shift(int32(c.StaticPriceDecimals))
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("DEPAY_STATIC_PRICE %s has more than %d fractional digits", c.StaticPrice, c.StaticPriceDecimals)
	}
	return scaled.BigInt(), nil
}

// AssetAddress is the address clients pass to TreasuryWithdraw.
func (c *Config) AssetAddress() common.Address {
	if c.AssetKind == types.AssetNative {
		return types.NativeAsset
	}
	return c.TokenAddress
}

// EngineConfig returns the settlement engine configuration.
func (c *Config) EngineConfig() *types.Config {
	return &types.Config{
		EngineAddress:    c.EngineAddress,
		TreasuryOperator: c.TreasuryOperator,
		TreasuryFeeBps:   c.TreasuryFeeBps,
		DefaultTimeout:   c.Timeout,
		LogLevel:         c.LogLevel,
		EnableMetrics:    c.EnableMetrics,
	}
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Development() bool {
	return c.AppEnv == "development"
}
