package configs

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ChainYAMLData is one chain endpoint's static configuration.
type ChainYAMLData struct {
	RPC             string `yaml:"rpc"`
	ContractAddress string `yaml:"contractAddress"`
	ABI             string `yaml:"abi"`
	ParaID          uint32 `yaml:"paraId"`
}

// RetryYAMLData mirrors pkg/retry.Policy's fields for static defaults;
// every field has an env override (RETRY_*).
type RetryYAMLData struct {
	MaxAttempts       int     `yaml:"maxAttempts"`
	BaseDelayMs       int     `yaml:"baseDelayMs"`
	BackoffMultiplier float64 `yaml:"backoffMultiplier"`
	MaxDelayMs        int     `yaml:"maxDelayMs"`
}

// Config represents the entire configuration structure from config.yml,
// with environment overrides applied on top (spec §6).
type Config struct {
	Vault    ChainYAMLData `yaml:"vault"`
	Proxy    ChainYAMLData `yaml:"proxy"`
	Retry    RetryYAMLData `yaml:"retry"`
	Database string        `yaml:"database"`

	Environment                       string `yaml:"environment"`
	TestMode                          bool   `yaml:"testMode"`
	BlockchainEventsAutoStart         bool   `yaml:"blockchainEventsAutoStart"`
	EnablePassethubTransactSettlement bool   `yaml:"enablePassethubTransactSettlement"`
	SettlementEndpointConfigured      bool   `yaml:"settlementEndpointConfigured"`
}

// LoadConfig reads and parses config.yml into a Config struct, then
// overlays any BLOCKCHAIN_EVENTS_AUTO_START, TEST_MODE, ENVIRONMENT,
// ENABLE_PASSETHUB_TRANSACT_SETTLEMENT, and RETRY_* env vars present.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	config.BlockchainEventsAutoStart = true // default when config.yml omits the key
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	applyEnvOverrides(&config)

	return &config, nil
}

func applyEnvOverrides(c *Config) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if v.IsSet("BLOCKCHAIN_EVENTS_AUTO_START") {
		c.BlockchainEventsAutoStart = v.GetBool("BLOCKCHAIN_EVENTS_AUTO_START")
	}
	if v.IsSet("TEST_MODE") {
		c.TestMode = v.GetBool("TEST_MODE")
	}
	if v.IsSet("ENVIRONMENT") {
		c.Environment = v.GetString("ENVIRONMENT")
	}
	if v.IsSet("ENABLE_PASSETHUB_TRANSACT_SETTLEMENT") {
		c.EnablePassethubTransactSettlement = v.GetBool("ENABLE_PASSETHUB_TRANSACT_SETTLEMENT")
	}
	if v.IsSet("RETRY_MAX_ATTEMPTS") {
		c.Retry.MaxAttempts = v.GetInt("RETRY_MAX_ATTEMPTS")
	}
	if v.IsSet("RETRY_BASE_DELAY_MS") {
		c.Retry.BaseDelayMs = v.GetInt("RETRY_BASE_DELAY_MS")
	}
	if v.IsSet("RETRY_BACKOFF_MULTIPLIER") {
		c.Retry.BackoffMultiplier = v.GetFloat64("RETRY_BACKOFF_MULTIPLIER")
	}
	if v.IsSet("RETRY_MAX_DELAY_MS") {
		c.Retry.MaxDelayMs = v.GetInt("RETRY_MAX_DELAY_MS")
	}
}

// RetryPolicyDurations converts the millisecond YAML/env fields into the
// time.Duration fields pkg/retry.Policy expects.
func (c *Config) RetryPolicyDurations() (base, maxDelay time.Duration) {
	base = time.Duration(c.Retry.BaseDelayMs) * time.Millisecond
	maxDelay = time.Duration(c.Retry.MaxDelayMs) * time.Millisecond
	return base, maxDelay
}
