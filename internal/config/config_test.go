package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
networks:
  - name: " Ethereum_Sepolia "
    chainID: 11155111
    rpcURL: https://rpc.example
`))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 120, cfg.Watchdog.BudgetSeconds)
	assert.Equal(t, "auto", cfg.Watchdog.ProgressScale)
	assert.Equal(t, 3, cfg.ProviderRegistration.MaxAttempts)
	assert.Equal(t, int64(1500), cfg.ProviderRegistration.RetryDelayMs)
	assert.Equal(t, 3, cfg.Engine.StartAttempts)
	assert.Equal(t, SessionStoreMemory, cfg.Session.Store)
	assert.Equal(t, DefaultSessionRecordKey, cfg.Session.RecordKey)
	require.Len(t, cfg.Networks, 1)
	assert.Equal(t, "Ethereum_Sepolia", cfg.Networks[0].Name)
	assert.Equal(t, int64(15000), cfg.Networks[0].PollingIntervalMs)
	assert.False(t, cfg.Networks[0].SkipExternalValidation)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown store", "session:\n  store: redis\n"},
		{"unknown progress scale", "watchdog:\n  progressScale: permille\n"},
		{"unnamed network", "networks:\n  - chainID: 1\n"},
		{"duplicate network", "networks:\n  - name: a\n  - name: A\n"},
		{"bad yaml", "server: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_SQLiteDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("session:\n  store: SQLite\nnetworks:\n  - name: x\n    skipExternalValidation: true\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, SessionStoreSQLite, cfg.Session.Store)
	assert.Equal(t, "data/session.db", cfg.Session.SQLitePath)
	assert.True(t, cfg.Networks[0].SkipExternalValidation)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}
