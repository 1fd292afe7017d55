package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
Admin = "0x000000000000000000000000000000000000000a"
FeeRecipient = "0x000000000000000000000000000000000000000f"
PlatformFeePercent = 5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != ":8645" || cfg.GatewayAddress != ":8080" {
		t.Fatalf("addresses %q %q", cfg.RPCAddress, cfg.GatewayAddress)
	}
	if cfg.DisputePeriodDays != 7 || cfg.NativeDenom != "uwork" || cfg.MinEscrowAmount != "1000" {
		t.Fatalf("defaults %+v", cfg)
	}
}

func TestLoadRejectsExcessiveFee(t *testing.T) {
	path := writeConfig(t, `
Admin = "0x000000000000000000000000000000000000000a"
FeeRecipient = "0x000000000000000000000000000000000000000f"
PlatformFeePercent = 11
`)
	if _, err := Load(path); err == nil {
		t.Fatal("11 percent accepted")
	}
}

func TestLoadRejectsBadAddress(t *testing.T) {
	path := writeConfig(t, `
Admin = "not-an-address"
FeeRecipient = "0x000000000000000000000000000000000000000f"
PlatformFeePercent = 5
`)
	if _, err := Load(path); err == nil {
		t.Fatal("bad admin accepted")
	}
}

func TestPlatformConversion(t *testing.T) {
	path := writeConfig(t, `
Admin = "0x000000000000000000000000000000000000000a"
FeeRecipient = "0x000000000000000000000000000000000000000f"
PlatformFeePercent = 5
MinEscrowAmount = "2500"
DisputePeriodDays = 3
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	platform, err := cfg.Platform()
	if err != nil {
		t.Fatalf("platform: %v", err)
	}
	if platform.MinEscrowAmount.Int64() != 2500 {
		t.Fatalf("min amount %s", platform.MinEscrowAmount)
	}
	if platform.DisputePeriodSeconds != 3*24*60*60 {
		t.Fatalf("period %d", platform.DisputePeriodSeconds)
	}
	if err := platform.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("missing file accepted")
	}
}
