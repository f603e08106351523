package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/SatoriNetwork/satori-lite/internal/chain"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	if cfg.Network != chain.Mainnet {
		t.Errorf("network = %s, want mainnet", cfg.Network)
	}
	if cfg.Asset != "SATORI" {
		t.Errorf("asset = %s, want SATORI", cfg.Asset)
	}
	if cfg.Divisibility != 8 {
		t.Errorf("divisibility = %d, want 8", cfg.Divisibility)
	}
	if cfg.MundoFeeSats() != 10000 {
		t.Errorf("mundo fee = %d sats, want 10000", cfg.MundoFeeSats())
	}
	if cfg.BridgeFeeSats() != 1000000 {
		t.Errorf("bridge fee = %d sats, want 1000000", cfg.BridgeFeeSats())
	}
	if cfg.ReserveSats() != 25000000 {
		t.Errorf("reserve = %d sats, want 25000000", cfg.ReserveSats())
	}
	if cfg.MaxBridgeAmountSats() != 50000000000 {
		t.Errorf("max bridge = %d sats, want 50000000000", cfg.MaxBridgeAmountSats())
	}
	if cfg.MaxReportedFeeSats() != 100000000 {
		t.Errorf("max reported fee = %d sats, want 100000000", cfg.MaxReportedFeeSats())
	}
	if cfg.Params().Symbol != "EVR" {
		t.Errorf("params symbol = %s, want EVR", cfg.Params().Symbol)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
network: testnet
fees:
  rate: 200000
delegation:
  mundo_fee: "0.0002"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Network != chain.Testnet {
		t.Errorf("network = %s, want testnet", cfg.Network)
	}
	if cfg.Fees.Rate != 200000 {
		t.Errorf("fee rate = %d, want 200000", cfg.Fees.Rate)
	}
	if cfg.MundoFeeSats() != 20000 {
		t.Errorf("mundo fee = %d sats, want 20000", cfg.MundoFeeSats())
	}
	// Untouched fields keep their defaults.
	if cfg.Asset != "SATORI" {
		t.Errorf("asset = %s, want SATORI", cfg.Asset)
	}
	if cfg.Delegation.BridgeFee != "0.01" {
		t.Errorf("bridge fee = %s, want 0.01", cfg.Delegation.BridgeFee)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown network", "network: regtest"},
		{"bad yaml", "network: [unclosed"},
		{"empty asset", `asset: ""`},
		{"negative rate", "fees:\n  rate: -1"},
		{"unparseable fee", "delegation:\n  mundo_fee: lots"},
		{"divisibility too fine", "divisibility: 9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			if _, err := Load(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
