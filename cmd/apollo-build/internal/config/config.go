// Package config loads apollo-build's configuration from an optional YAML
// file with environment variable overrides, following the same pattern as
// blinklabs-io/shai.
package config

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config is the full configuration for the apollo-build CLI.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Provider ProviderConfig `yaml:"provider"`
	Wallet   WalletConfig   `yaml:"wallet"`
	Network  string         `yaml:"network" envconfig:"NETWORK"`
}

// LoggingConfig controls the log level of the slog-based logger.
type LoggingConfig struct {
	Level string `yaml:"level" envconfig:"LOGGING_LEVEL"`
}

// ProviderConfig selects and configures the backend.ChainContext
// implementation used to build against.
type ProviderConfig struct {
	Kind      string `yaml:"kind"      envconfig:"PROVIDER_KIND"` // "blockfrost" or "fixed"
	BaseUrl   string `yaml:"baseUrl"   envconfig:"PROVIDER_BASE_URL"`
	ProjectId string `yaml:"projectId" envconfig:"PROVIDER_PROJECT_ID"`
}

// WalletConfig holds the mnemonic used to derive the signing wallet.
// Never logged; String()/GoString() on the loaded Config must not be
// relied on to redact it, so callers should avoid printing this struct.
type WalletConfig struct {
	Mnemonic   string `yaml:"mnemonic"   envconfig:"MNEMONIC"`
	Passphrase string `yaml:"passphrase" envconfig:"MNEMONIC_PASSPHRASE"`
}

var globalConfig = &Config{
	Network: "testnet",
	Logging: LoggingConfig{
		Level: "info",
	},
	Provider: ProviderConfig{
		Kind: "fixed",
	},
}

// Load reads configFile (if non-empty) as YAML into the global config, then
// overlays any matching environment variables.
func Load(configFile string) (*Config, error) {
	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, globalConfig); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	if err := envconfig.Process("apollo_build", globalConfig); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	return globalConfig, nil
}

// GetConfig returns the global config instance.
func GetConfig() *Config {
	return globalConfig
}
