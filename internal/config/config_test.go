package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
	assert.Equal(t, "https://api.mainnet.aptoslabs.com/v1/graphql", cfg.Indexer.Endpoint)
	assert.Equal(t, 2, cfg.Indexer.MaxRetries)
	assert.Equal(t, 1.5, cfg.Indexer.Multiplier)
	assert.Equal(t, 5*time.Minute, cfg.Quote.Freshness)
	assert.Equal(t, 2*time.Second, cfg.Quote.MinSpacing)
	assert.Equal(t, 15, cfg.RateLimit.WindowLimit)
	assert.Equal(t, 10, cfg.RateLimit.BurstLimit)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.CleanupInterval)
	assert.Equal(t, 3, cfg.Logging.MaxBackups)
	assert.Len(t, cfg.Assets, 4)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("RATE_LIMIT_WINDOW_LIMIT", "5")
	t.Setenv("CACHE_TTL", "90s")
	t.Setenv("INDEXER_RETRY_MULTIPLIER", "2")
	t.Setenv("LOG_OUTPUT_PATHS", "stdout, /tmp/api.log")
	t.Setenv("MONGODB_MAX_POOL_SIZE", "not-a-number")
	t.Setenv("LOG_MAX_BACKUPS", "9")

	cfg := LoadConfig()

	assert.Equal(t, 5, cfg.RateLimit.WindowLimit)
	assert.Equal(t, 90*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 2.0, cfg.Indexer.Multiplier)
	assert.Equal(t, []string{"stdout", "/tmp/api.log"}, cfg.Logging.OutputPaths)
	assert.Equal(t, 9, cfg.Logging.MaxBackups)
	assert.Equal(t, uint64(20), cfg.Snapshot.MaxPoolSize, "unparseable values fall back to defaults")
}

func TestLoad_EnvFileAndAssets(t *testing.T) {
	dir := t.TempDir()

	assetsPath := filepath.Join(dir, "assets.yaml")
	require.NoError(t, os.WriteFile(assetsPath, []byte(`
assets:
  - symbol: USDC
    key: "0xusdc"
  - symbol: USDt
    key: "0xusdt"
`), 0o600))

	envPath := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envPath, []byte(
		"CMC_API_KEY=from-file\nASSETS_FILE="+assetsPath+"\n"), 0o600))

	t.Setenv("CMC_API_KEY", "")
	t.Setenv("ASSETS_FILE", "")
	require.NoError(t, os.Unsetenv("CMC_API_KEY"))
	require.NoError(t, os.Unsetenv("ASSETS_FILE"))

	cfg, err := Load(envPath)
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.Quote.APIKey)
	assert.Equal(t, []Asset{{Symbol: "USDC", Key: "0xusdc"}, {Symbol: "USDt", Key: "0xusdt"}}, cfg.Assets)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	assert.Len(t, cfg.Assets, 4)
}

func TestParseAssets_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty table", "assets: []\n"},
		{"missing key", "assets:\n  - symbol: USDC\n"},
		{"duplicate symbol", "assets:\n  - {symbol: A, key: k1}\n  - {symbol: A, key: k2}\n"},
		{"duplicate key", "assets:\n  - {symbol: A, key: k1}\n  - {symbol: B, key: k1}\n"},
		{"unknown field", "assets:\n  - {symbol: A, key: k1, decimals: 6}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAssets([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadAssets_BundledFile(t *testing.T) {
	assets, err := LoadAssets(filepath.Join("..", "..", "config", "assets.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultAssets(), assets)
	assert.Equal(t, DefaultAssets()[0].Key, AssetKeys(assets)[0])
}

func TestValidate(t *testing.T) {
	cfg := LoadConfig()
	cfg.Quote.APIKey = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CMC_API_KEY")

	cfg.Quote.APIKey = "secret"
	assert.NoError(t, cfg.Validate())

	cfg.RateLimit.BurstLimit = 0
	assert.Error(t, cfg.Validate())

	cfg = LoadConfig()
	cfg.Quote.APIKey = "secret"
	cfg.Cache.MaxSize = 2
	assert.Error(t, cfg.Validate())

	cfg = LoadConfig()
	cfg.Quote.APIKey = "secret"
	cfg.RateLimit.CleanupInterval = 0
	assert.Error(t, cfg.Validate())
}
