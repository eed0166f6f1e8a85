// Package config loads the YAML blueprint of asset classes and the account settings,
// applies .env and environment overrides, and resolves assets into runnable bindings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"asset-trader/engine"
	"asset-trader/execution"
	"asset-trader/marketdata"
	"asset-trader/positioning"
	"asset-trader/strategy"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownClass      = errors.New("unknown asset class")
	ErrUnknownStructure  = errors.New("unknown positioning structure")
	ErrUnknownStrategy   = errors.New("unknown strategy")
	ErrInvalidDefinition = errors.New("invalid asset definition")
)

// Environment variables that override file values.
const (
	EnvAccountID  = "AUTOASSETS_ACCOUNT_ID"
	EnvPrivateKey = "AUTOASSETS_PRIVATE_KEY"
	EnvBrokerURL  = "AUTOASSETS_BROKER_URL"
	EnvFeedURL    = "AUTOASSETS_FEED_URL"
	EnvAssetsPath = "AUTOASSETS_ASSETS_PATH"
	EnvRedisAddr  = "AUTOASSETS_REDIS_ADDR"
)

// Config is the whole runtime configuration.
type Config struct {
	Account   string                 `yaml:"account"`
	Listen    string                 `yaml:"listen"`
	Broker    execution.RESTConfig   `yaml:"broker"`
	Feed      marketdata.FeedConfig  `yaml:"feed"`
	Engine    engine.Config          `yaml:"engine"`
	Store     StoreConfig            `yaml:"store"`
	Execution ExecutionConfig        `yaml:"execution"`
	Classes   map[string]ClassConfig `yaml:"classes"`
}

// StoreConfig selects where asset state is persisted. A Redis address wins over the file.
type StoreConfig struct {
	Path      string `yaml:"assets_path"`
	RedisAddr string `yaml:"redis_addr"`
	RedisKey  string `yaml:"redis_key"`
	RedisDB   int    `yaml:"redis_db"`
}

// ExecutionConfig holds the account-wide execution parameters.
type ExecutionConfig struct {
	Commission     decimal.Decimal `yaml:"commission"`
	NonIdeal       decimal.Decimal `yaml:"non_ideal"`
	MinSellPremium decimal.Decimal `yaml:"min_sell_premium"`
	Multiplier     int64           `yaml:"multiplier"`
}

// ClassConfig is the blueprint shared by every asset of one class.
type ClassConfig struct {
	Ticker      string           `yaml:"ticker"`
	Positioning PositioningBlock `yaml:"positioning"`
	Strategy    StrategyBlock    `yaml:"strategy"`
}

// PositioningBlock names a structure and carries the parameters of every structure;
// only the named one's are used.
type PositioningBlock struct {
	Type         string                         `yaml:"type"`
	EnableTrades bool                           `yaml:"enable_trades"`
	Ratio        positioning.RatioConfig        `yaml:",inline"`
	Accumulative positioning.AccumulativeConfig `yaml:",inline"`
}

func (p *PositioningBlock) UnmarshalYAML(node *yaml.Node) error {
	type plain PositioningBlock
	v := plain{
		Ratio:        positioning.DefaultRatioConfig(),
		Accumulative: positioning.DefaultAccumulativeConfig(),
	}
	if err := node.Decode(&v); err != nil {
		return err
	}
	*p = PositioningBlock(v)
	return nil
}

// StrategyBlock names a strategy, its parameters and its trading window.
type StrategyBlock struct {
	Type   string               `yaml:"type"`
	Trend  strategy.TrendConfig `yaml:",inline"`
	Window strategy.Window      `yaml:",inline"`
}

func (s *StrategyBlock) UnmarshalYAML(node *yaml.Node) error {
	type plain StrategyBlock
	v := plain{Type: "buy", Trend: strategy.DefaultTrendConfig()}
	if err := node.Decode(&v); err != nil {
		return err
	}
	*s = StrategyBlock(v)
	return nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	settings := execution.DefaultSettings()
	return &Config{
		Listen: ":9090",
		Broker: execution.DefaultRESTConfig(),
		Feed:   marketdata.DefaultFeedConfig(),
		Engine: engine.DefaultConfig(),
		Store:  StoreConfig{Path: "assets.json"},
		Execution: ExecutionConfig{
			Commission:     settings.Commission,
			NonIdeal:       settings.NonIdeal,
			MinSellPremium: settings.MinSellPremium,
			Multiplier:     settings.Multiplier,
		},
		Classes: map[string]ClassConfig{},
	}
}

// LoadEnv loads .env files into the process environment, overriding existing variables.
// A missing file is reported but callers treat it as non-fatal.
func LoadEnv(files ...string) error {
	return godotenv.Overload(files...)
}

// Load reads path over the defaults and applies environment overrides. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides file values with AUTOASSETS_* variables.
func (c *Config) ApplyEnv() {
	if v := env(EnvAccountID); v != "" {
		c.Account = v
	}
	if v := env(EnvPrivateKey); v != "" {
		c.Broker.PrivateKeyHex = v
	}
	if v := env(EnvBrokerURL); v != "" {
		c.Broker.BaseURL = v
	}
	if v := env(EnvFeedURL); v != "" {
		c.Feed.URL = v
	}
	if v := env(EnvAssetsPath); v != "" {
		c.Store.Path = v
	}
	if v := env(EnvRedisAddr); v != "" {
		c.Store.RedisAddr = v
	}
}

// env reads a variable, trimming spaces and surrounding quotes left by .env editors.
func env(key string) string {
	v := strings.TrimSpace(os.Getenv(key))
	v = strings.Trim(v, "\"")
	return strings.Trim(v, "'")
}

// Settings returns the execution settings of one asset.
func (c *Config) Settings(enableTrades bool) execution.Settings {
	return execution.Settings{
		Account:        c.Account,
		EnableTrades:   enableTrades,
		Commission:     c.Execution.Commission,
		NonIdeal:       c.Execution.NonIdeal,
		MinSellPremium: c.Execution.MinSellPremium,
		Multiplier:     c.Execution.Multiplier,
	}
}
