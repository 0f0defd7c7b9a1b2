package configs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
vault:
  rpc: wss://vault.example
  contractAddress: "0x1111111111111111111111111111111111111111"
  paraId: 1000
proxy:
  rpc: https://proxy.example
  contractAddress: "0x2222222222222222222222222222222222222222"
  paraId: 2004
retry:
  maxAttempts: 3
  baseDelayMs: 1000
  backoffMultiplier: 2
  maxDelayMs: 30000
database: "user:pass@tcp(127.0.0.1:3306)/coordinator"
environment: production
`

func writeSampleConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))
	return path
}

func TestLoadConfig_ParsesYAMLAndDefaultsAutoStart(t *testing.T) {
	path := writeSampleConfig(t)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "wss://vault.example", cfg.Vault.RPC)
	assert.Equal(t, uint32(2004), cfg.Proxy.ParaID)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.True(t, cfg.BlockchainEventsAutoStart)
	assert.False(t, cfg.TestMode)
}

func TestLoadConfig_EnvOverridesWin(t *testing.T) {
	path := writeSampleConfig(t)
	t.Setenv("TEST_MODE", "true")
	t.Setenv("BLOCKCHAIN_EVENTS_AUTO_START", "false")
	t.Setenv("RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("ENABLE_PASSETHUB_TRANSACT_SETTLEMENT", "true")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.True(t, cfg.TestMode)
	assert.False(t, cfg.BlockchainEventsAutoStart)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.True(t, cfg.EnablePassethubTransactSettlement)
}

func TestRetryPolicyDurations_ConvertsMillisecondFields(t *testing.T) {
	cfg := &Config{Retry: RetryYAMLData{BaseDelayMs: 1000, MaxDelayMs: 30000}}
	base, maxDelay := cfg.RetryPolicyDurations()
	assert.Equal(t, "1s", base.String())
	assert.Equal(t, "30s", maxDelay.String())
}
