// Package config provides centralized configuration for the transaction
// engine. All tunable parameters (fee rates, delegation fees, protocol
// addresses, storage paths) are defined here; nothing else in the codebase
// hardcodes them.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/SatoriNetwork/satori-lite/internal/chain"
	"github.com/SatoriNetwork/satori-lite/internal/txutil"
	"github.com/SatoriNetwork/satori-lite/pkg/helpers"
)

// Config is the top-level engine configuration.
type Config struct {
	Network chain.Network `yaml:"network"`
	Asset   string        `yaml:"asset"`

	// Divisibility is the asset's decimal places; amounts are rounded
	// down to multiples of 10^(8-divisibility) satoshis before sending.
	Divisibility uint8 `yaml:"divisibility"`

	Fees       FeeConfig        `yaml:"fees"`
	Delegation DelegationConfig `yaml:"delegation"`
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// FeeConfig tunes transaction fees.
type FeeConfig struct {
	// Rate is the flat fee per input plus output, in satoshis.
	Rate int64 `yaml:"rate"`

	// Reserve is a currency floor, in coins, excluded from selection so
	// the wallet always retains enough to move its assets.
	Reserve string `yaml:"reserve"`
}

// DelegationConfig tunes the fee-delegation protocol.
type DelegationConfig struct {
	// MundoFee is the asset amount, in coins, an originator pays its
	// completer per delegated transaction.
	MundoFee string `yaml:"mundo_fee"`

	// BridgeFee is the asset amount, in coins, paid to the bridge
	// address on bridge transfers.
	BridgeFee string `yaml:"bridge_fee"`

	// MaxBridgeAmount caps a single bridge transfer, in coins.
	MaxBridgeAmount string `yaml:"max_bridge_amount"`

	// MaxReportedFee caps the fee a completer accepts, in coins.
	MaxReportedFee string `yaml:"max_reported_fee"`
}

// StorageConfig locates the sqlite ledger.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig tunes logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the engine defaults: Evrmore mainnet, the SATORI asset,
// and the protocol's standard fees.
func Default() *Config {
	return &Config{
		Network:      chain.Mainnet,
		Asset:        "SATORI",
		Divisibility: 8,
		Fees: FeeConfig{
			Rate:    txutil.DefaultFeeRate,
			Reserve: "0.25",
		},
		Delegation: DelegationConfig{
			MundoFee:        "0.0001",
			BridgeFee:       "0.01",
			MaxBridgeAmount: "500",
			MaxReportedFee:  "1",
		},
		Storage: StorageConfig{
			Path: "satori.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML configuration file, overlaying the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if _, err := chain.ParamsFor(c.Network); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Asset == "" {
		return fmt.Errorf("config: asset name is required")
	}
	if c.Divisibility > 8 {
		return fmt.Errorf("config: divisibility must be at most 8, got %d", c.Divisibility)
	}
	if c.Fees.Rate <= 0 {
		return fmt.Errorf("config: fee rate must be positive, got %d", c.Fees.Rate)
	}
	for name, v := range map[string]string{
		"fees.reserve":                 c.Fees.Reserve,
		"delegation.mundo_fee":         c.Delegation.MundoFee,
		"delegation.bridge_fee":        c.Delegation.BridgeFee,
		"delegation.max_bridge_amount": c.Delegation.MaxBridgeAmount,
		"delegation.max_reported_fee":  c.Delegation.MaxReportedFee,
	} {
		if _, err := helpers.ParseSats(v); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	return nil
}

// Params returns the chain parameters for the configured network.
func (c *Config) Params() *chain.Params {
	p, err := chain.ParamsFor(c.Network)
	if err != nil {
		p = &chain.EvrmoreMainNetParams
	}
	return p
}

func mustSats(v string) int64 {
	sats, err := helpers.ParseSats(v)
	if err != nil {
		return 0
	}
	return sats
}

// ReserveSats returns the selection floor in satoshis.
func (c *Config) ReserveSats() int64 { return mustSats(c.Fees.Reserve) }

// MundoFeeSats returns the delegation fee in asset satoshis.
func (c *Config) MundoFeeSats() int64 { return mustSats(c.Delegation.MundoFee) }

// BridgeFeeSats returns the bridge fee in asset satoshis.
func (c *Config) BridgeFeeSats() int64 { return mustSats(c.Delegation.BridgeFee) }

// MaxBridgeAmountSats returns the bridge transfer cap in asset satoshis.
func (c *Config) MaxBridgeAmountSats() int64 { return mustSats(c.Delegation.MaxBridgeAmount) }

// MaxReportedFeeSats returns the completer's fee ceiling in satoshis.
func (c *Config) MaxReportedFeeSats() int64 { return mustSats(c.Delegation.MaxReportedFee) }
