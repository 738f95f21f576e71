package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, StoragePostgres, cfg.Engine.Storage)
	assert.Equal(t, 5*time.Second, cfg.Redis.TTL)
	assert.Equal(t, "futures.notifications", cfg.Kafka.NotificationTopic)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  http_addr: ":9000"
engine:
  storage: memory
  fee_rate: "0.001"
  tolerance_bps: 5
kafka:
  brokers: ["k1:9092", "k2:9092"]
`), 0o600))
	t.Setenv("FUTURES_SERVER_HTTP_ADDR", ":9100")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Server.HTTPAddr)
	assert.Equal(t, StorageMemory, cfg.Engine.Storage)
	assert.Equal(t, "0.001", cfg.Engine.FeeRate)
	assert.Equal(t, int64(5), cfg.Engine.ToleranceBps)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  storage: sqlite\n  tolerance_bps: 20000\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.storage")
	assert.Contains(t, err.Error(), "tolerance_bps")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
