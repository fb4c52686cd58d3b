// Package config provides configuration management for the paper trading engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Trading TradingConfig `mapstructure:"trading"`
	Risk    RiskConfig    `mapstructure:"risk"`
	Market  MarketConfig  `mapstructure:"market"`
	Log     LogConfig     `mapstructure:"log"`
}

// TradingConfig holds account and commission configuration.
type TradingConfig struct {
	StartingCash      float64 `mapstructure:"starting_cash"`
	CommissionFlat    float64 `mapstructure:"commission_flat"`
	CommissionPercent float64 `mapstructure:"commission_percent"`
}

// RiskConfig holds the pre-trade risk limit parameters.
type RiskConfig struct {
	MaxOpenPositions     int     `mapstructure:"max_open_positions"`
	MaxOrderValue        float64 `mapstructure:"max_order_value"`
	MaxPortfolioValue    float64 `mapstructure:"max_portfolio_value"`
	MaxLossPerDay        float64 `mapstructure:"max_loss_per_day"` // negative floor
	MinCashBalance       float64 `mapstructure:"min_cash_balance"`
	MaxConcentration     float64 `mapstructure:"max_concentration"` // fraction per product
	MarginMultiplierBuy  float64 `mapstructure:"margin_multiplier_buy"`
	MarginMultiplierSell float64 `mapstructure:"margin_multiplier_sell"`
	SpanFraction         float64 `mapstructure:"span_fraction"` // of underlying notional
}

// MarketConfig holds instrument reference data and price fallbacks.
type MarketConfig struct {
	LotSizes         map[string]int     `mapstructure:"lot_sizes"`
	DefaultLotSize   int                `mapstructure:"default_lot_size"`
	UnderlyingPrices map[string]float64 `mapstructure:"underlying_prices"`
	DefaultUnderlying float64           `mapstructure:"default_underlying"`
	FallbackPrice    float64            `mapstructure:"fallback_price"`
	DefaultProduct   string             `mapstructure:"default_product"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// LotSize returns the lot size for a product.
func (m *MarketConfig) LotSize(product string) int {
	if size, ok := m.LotSizes[product]; ok {
		return size
	}
	return m.DefaultLotSize
}

// UnderlyingPrice returns the fallback underlying price for a product.
func (m *MarketConfig) UnderlyingPrice(product string) float64 {
	if price, ok := m.UnderlyingPrices[product]; ok {
		return price
	}
	return m.DefaultUnderlying
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/paper-trader"
	}
	return filepath.Join(home, ".config", "paper-trader")
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Trading: TradingConfig{
			StartingCash:      1000000, // 10 lakh
			CommissionFlat:    20,
			CommissionPercent: 0.0005,
		},
		Risk: RiskConfig{
			MaxOpenPositions:     10,
			MaxOrderValue:        500000,
			MaxPortfolioValue:    2000000,
			MaxLossPerDay:        -50000,
			MinCashBalance:       100000,
			MaxConcentration:     0.30,
			MarginMultiplierBuy:  1.0,
			MarginMultiplierSell: 5.0,
			SpanFraction:         0.18,
		},
		Market: MarketConfig{
			LotSizes: map[string]int{
				"NIFTY":     50,
				"BANKNIFTY": 25,
				"FINNIFTY":  40,
			},
			DefaultLotSize: 50,
			UnderlyingPrices: map[string]float64{
				"NIFTY":     21500,
				"BANKNIFTY": 46000,
			},
			DefaultUnderlying: 21500,
			FallbackPrice:     100,
			DefaultProduct:    "NIFTY",
		},
		Log: LogConfig{
			Level:      "info",
			Console:    true,
			File:       true,
			FilePath:   filepath.Join(DefaultConfigDir(), "logs", "trader.log"),
			MaxSize:    100,
			MaxBackups: 7,
			MaxAge:     30,
		},
	}
}

// Load loads configuration from the specified directory, falling back
// to built-in defaults when no config file exists.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := Default()

	v.SetDefault("trading.starting_cash", def.Trading.StartingCash)
	v.SetDefault("trading.commission_flat", def.Trading.CommissionFlat)
	v.SetDefault("trading.commission_percent", def.Trading.CommissionPercent)

	v.SetDefault("risk.max_open_positions", def.Risk.MaxOpenPositions)
	v.SetDefault("risk.max_order_value", def.Risk.MaxOrderValue)
	v.SetDefault("risk.max_portfolio_value", def.Risk.MaxPortfolioValue)
	v.SetDefault("risk.max_loss_per_day", def.Risk.MaxLossPerDay)
	v.SetDefault("risk.min_cash_balance", def.Risk.MinCashBalance)
	v.SetDefault("risk.max_concentration", def.Risk.MaxConcentration)
	v.SetDefault("risk.margin_multiplier_buy", def.Risk.MarginMultiplierBuy)
	v.SetDefault("risk.margin_multiplier_sell", def.Risk.MarginMultiplierSell)
	v.SetDefault("risk.span_fraction", def.Risk.SpanFraction)

	v.SetDefault("market.lot_sizes", def.Market.LotSizes)
	v.SetDefault("market.default_lot_size", def.Market.DefaultLotSize)
	v.SetDefault("market.underlying_prices", def.Market.UnderlyingPrices)
	v.SetDefault("market.default_underlying", def.Market.DefaultUnderlying)
	v.SetDefault("market.fallback_price", def.Market.FallbackPrice)
	v.SetDefault("market.default_product", def.Market.DefaultProduct)

	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.console", def.Log.Console)
	v.SetDefault("log.file", def.Log.File)
	v.SetDefault("log.file_path", def.Log.FilePath)
	v.SetDefault("log.max_size", def.Log.MaxSize)
	v.SetDefault("log.max_backups", def.Log.MaxBackups)
	v.SetDefault("log.max_age", def.Log.MaxAge)
}
