package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"workchain/core/types"
	"workchain/native/fees"
	"workchain/native/params"
)

type Config struct {
	RPCAddress         string `toml:"RPCAddress"`
	GatewayAddress     string `toml:"GatewayAddress"`
	DataDir            string `toml:"DataDir"`
	Environment        string `toml:"Environment"`
	Admin              string `toml:"Admin"`
	FeeRecipient       string `toml:"FeeRecipient"`
	PlatformFeePercent uint64 `toml:"PlatformFeePercent"`
	MinEscrowAmount    string `toml:"MinEscrowAmount"`
	DisputePeriodDays  int64  `toml:"DisputePeriodDays"`
	NativeDenom        string `toml:"NativeDenom"`
}

// Load loads the configuration from the given path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file %s does not exist", path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = ":8645"
	}
	if strings.TrimSpace(c.GatewayAddress) == "" {
		c.GatewayAddress = ":8080"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./workd-data"
	}
	if c.DisputePeriodDays == 0 {
		c.DisputePeriodDays = 7
	}
	if strings.TrimSpace(c.NativeDenom) == "" {
		c.NativeDenom = "uwork"
	}
	if strings.TrimSpace(c.MinEscrowAmount) == "" {
		c.MinEscrowAmount = "1000"
	}
}

// Validate rejects configurations the node would refuse at genesis anyway,
// so operators learn about them before the process starts.
func (c *Config) Validate() error {
	if err := fees.ValidatePlatformFee(c.PlatformFeePercent); err != nil {
		return err
	}
	if _, err := types.ParseAddress(c.Admin); err != nil {
		return fmt.Errorf("config: Admin: %w", err)
	}
	if _, err := types.ParseAddress(c.FeeRecipient); err != nil {
		return fmt.Errorf("config: FeeRecipient: %w", err)
	}
	if _, ok := new(big.Int).SetString(c.MinEscrowAmount, 10); !ok {
		return fmt.Errorf("config: MinEscrowAmount %q is not a decimal integer", c.MinEscrowAmount)
	}
	if c.DisputePeriodDays <= 0 {
		return fmt.Errorf("config: DisputePeriodDays must be positive")
	}
	return nil
}

// Platform converts the static file configuration into the genesis platform
// parameters persisted in state.
func (c *Config) Platform() (*params.Platform, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	admin, _ := types.ParseAddress(c.Admin)
	recipient, _ := types.ParseAddress(c.FeeRecipient)
	minAmount, _ := new(big.Int).SetString(c.MinEscrowAmount, 10)
	return &params.Platform{
		Admin:                admin,
		FeeRecipient:         recipient,
		PlatformFeePercent:   c.PlatformFeePercent,
		MinEscrowAmount:      minAmount,
		DisputePeriodSeconds: c.DisputePeriodDays * 24 * 60 * 60,
		NativeDenom:          c.NativeDenom,
	}, nil
}
