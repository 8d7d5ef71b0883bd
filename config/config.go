package config

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the launchpoold service configuration.
type Config struct {
	RPCAddress      string  `toml:"RPCAddress"`
	DataDir         string  `toml:"DataDir"`
	NetworkName     string  `toml:"NetworkName"`
	Environment     string  `toml:"Environment"`
	LogFile         string  `toml:"LogFile"`
	Governance      string  `toml:"Governance"`
	RegistryAddress string  `toml:"RegistryAddress"`
	LockerAddress   string  `toml:"LockerAddress"`
	CreationFeeWei  string  `toml:"CreationFeeWei"`
	CurrencyFeePct  uint64  `toml:"CurrencyFeePct"`
	TokenFeePct     uint64  `toml:"TokenFeePct"`
	RPCRateLimit    float64 `toml:"RPCRateLimit"`
	RPCRateBurst    int     `toml:"RPCRateBurst"`
}

const defaultConfig = `RPCAddress = ":8645"
DataDir = "./launchpool-data"
NetworkName = "launchpool-local"
Environment = "dev"
LogFile = ""
Governance = "00000000000000000000000000000000000000a1"
RegistryAddress = "00000000000000000000000000000000000000b2"
LockerAddress = "00000000000000000000000000000000000000c3"
CreationFeeWei = "0"
CurrencyFeePct = 5
TokenFeePct = 2
RPCRateLimit = 50.0
RPCRateBurst = 100
`

// Load reads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s contains unknown key %s", path, undecoded[0].String())
	}
	normalize(cfg)
	return cfg, validate(cfg)
}

func createDefault(path string) (*Config, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	if err := os.WriteFile(path, []byte(defaultConfig), 0o600); err != nil {
		return nil, err
	}
	cfg := &Config{}
	if _, err := toml.Decode(defaultConfig, cfg); err != nil {
		return nil, err
	}
	normalize(cfg)
	return cfg, validate(cfg)
}

func normalize(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8645"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "launchpool-local"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "dev"
	}
	if strings.TrimSpace(cfg.CreationFeeWei) == "" {
		cfg.CreationFeeWei = "0"
	}
	if cfg.RPCRateLimit <= 0 {
		cfg.RPCRateLimit = 50
	}
	if cfg.RPCRateBurst <= 0 {
		cfg.RPCRateBurst = 100
	}
}

func validate(cfg *Config) error {
	if cfg.CurrencyFeePct > 100 || cfg.TokenFeePct > 100 {
		return fmt.Errorf("config: fee percentage out of range")
	}
	if _, err := cfg.CreationFee(); err != nil {
		return err
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"Governance", cfg.Governance},
		{"RegistryAddress", cfg.RegistryAddress},
		{"LockerAddress", cfg.LockerAddress},
	} {
		if _, err := decodeAddress(field.value); err != nil {
			return fmt.Errorf("config: invalid %s: %w", field.name, err)
		}
	}
	return nil
}

// CreationFee parses the flat creation fee.
func (c *Config) CreationFee() (*big.Int, error) {
	fee, ok := new(big.Int).SetString(strings.TrimSpace(c.CreationFeeWei), 10)
	if !ok || fee.Sign() < 0 {
		return nil, fmt.Errorf("config: invalid CreationFeeWei %q", c.CreationFeeWei)
	}
	return fee, nil
}

// GovernanceAddress parses the platform governance identity.
func (c *Config) GovernanceAddress() ([20]byte, error) {
	return decodeAddress(c.Governance)
}

// Registry parses the registry's ledger identity.
func (c *Config) Registry() ([20]byte, error) {
	return decodeAddress(c.RegistryAddress)
}

// Locker parses the locker vault's ledger identity.
func (c *Config) Locker() ([20]byte, error) {
	return decodeAddress(c.LockerAddress)
}

func decodeAddress(encoded string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(encoded), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, err
	}
	if len(raw) != len(addr) {
		return addr, fmt.Errorf("expected 20 bytes, got %d", len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}
