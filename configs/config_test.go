package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	// テスト用の環境変数を設定
	t.Setenv("PORT", "9090")
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("DATA_PATH", "/data/history.csv")
	t.Setenv("MODEL_STORE", "redis")
	t.Setenv("REDIS_URL", "redis://cache:6379/1")
	t.Setenv("WATCH_INTERVAL", "500ms")
	t.Setenv("METRICS_ENABLED", "false")
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")

	cfg := LoadConfig()

	if cfg.Port != "9090" {
		t.Errorf("Expected Port to be '9090', got '%s'", cfg.Port)
	}
	if cfg.Environment != "test" {
		t.Errorf("Expected Environment to be 'test', got '%s'", cfg.Environment)
	}
	assert.Equal(t, "/data/history.csv", cfg.DataPath)
	assert.Equal(t, ModelStoreRedis, cfg.ModelStore)
	assert.Equal(t, "redis://cache:6379/1", cfg.RedisURL)
	assert.Equal(t, 500*time.Millisecond, cfg.WatchInterval)
	assert.False(t, cfg.MetricsEnabled)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTTBroker)
}

func TestLoadConfigDefaults(t *testing.T) {
	// 環境変数をクリア
	vars := []string{
		"PORT", "ENVIRONMENT", "DATA_PATH", "INVENTORY_DB_PATH", "MODEL_STORE",
		"MODEL_DIR", "WATCH_INTERVAL", "METRICS_ENABLED", "MQTT_BROKER",
	}
	for _, v := range vars {
		t.Setenv(v, "")
	}

	cfg := LoadConfig()

	if cfg.Port != "8080" {
		t.Errorf("Expected default Port to be '8080', got '%s'", cfg.Port)
	}
	if cfg.Environment != "development" {
		t.Errorf("Expected default Environment to be 'development', got '%s'", cfg.Environment)
	}
	assert.Equal(t, "file", cfg.ModelStore)
	assert.Equal(t, 2*time.Second, cfg.WatchInterval)
	assert.True(t, cfg.MetricsEnabled)
	assert.Empty(t, cfg.MQTTBroker)
}

func TestLoadConfigInvalidValuesKeepDefaults(t *testing.T) {
	t.Setenv("WATCH_INTERVAL", "soon")
	t.Setenv("METRICS_ENABLED", "maybe")

	cfg := LoadConfig()
	assert.Equal(t, 2*time.Second, cfg.WatchInterval)
	assert.True(t, cfg.MetricsEnabled)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
port: "7000"
data_path: data/fleet.xlsx
model_store: redis
redis_key_prefix: "fleet:"
watch_interval: 5s
metrics_enabled: false
mqtt_topic_prefix: fleet/alerts
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	// 環境変数がファイルより優先される
	t.Setenv("PORT", "7100")
	t.Setenv("DATA_PATH", "")
	t.Setenv("MODEL_STORE", "")
	t.Setenv("REDIS_KEY_PREFIX", "")
	t.Setenv("WATCH_INTERVAL", "")
	t.Setenv("METRICS_ENABLED", "")
	t.Setenv("MQTT_TOPIC_PREFIX", "")

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, "7100", cfg.Port)
	assert.Equal(t, "data/fleet.xlsx", cfg.DataPath)
	assert.Equal(t, ModelStoreRedis, cfg.ModelStore)
	assert.Equal(t, "fleet:", cfg.RedisKeyPrefix)
	assert.Equal(t, 5*time.Second, cfg.WatchInterval)
	assert.False(t, cfg.MetricsEnabled)
	assert.Equal(t, "fleet/alerts", cfg.MQTTTopicPrefix)
	// ファイルにない項目は既定値
	assert.Equal(t, "models", cfg.ModelDir)
}

func TestLoadConfigFileErrors(t *testing.T) {
	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("port: [unclosed"), 0o644))
	_, err = LoadConfigFile(bad)
	assert.Error(t, err)

	cfg, err := LoadConfigFile("")
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Port)
}
