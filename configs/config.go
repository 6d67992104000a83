package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Port          string `yaml:"port"`
	Environment   string `yaml:"environment"`
	APIKey        string `yaml:"api_key"`
	AdminUsername string `yaml:"admin_username"`
	AdminPassword string `yaml:"admin_password"`

	// データソース
	DataPath        string `yaml:"data_path"`
	InventoryDBPath string `yaml:"inventory_db_path"`

	// モデルストア (file|redis)
	ModelStore     string `yaml:"model_store"`
	ModelDir       string `yaml:"model_dir"`
	RedisURL       string `yaml:"redis_url"`
	RedisPassword  string `yaml:"redis_password"`
	RedisKeyPrefix string `yaml:"redis_key_prefix"`

	// 変更通知
	ReloadChannel string        `yaml:"reload_channel"`
	WatchInterval time.Duration `yaml:"watch_interval"`

	// 異常アラート
	MQTTBroker      string `yaml:"mqtt_broker"`
	MQTTTopicPrefix string `yaml:"mqtt_topic_prefix"`
	MQTTUsername    string `yaml:"mqtt_username"`
	MQTTPassword    string `yaml:"mqtt_password"`

	MetricsEnabled bool `yaml:"metrics_enabled"`
}

// ModelStoreRedis Redisモデルストアを表す値
const ModelStoreRedis = "redis"

func defaultConfig() Config {
	return Config{
		Port:            "8080",
		Environment:     "development",
		APIKey:          "",
		AdminUsername:   "admin",
		AdminPassword:   "",
		DataPath:        "data/rental_history.xlsx",
		InventoryDBPath: "data/inventory.db",
		ModelStore:      "file",
		ModelDir:        "models",
		RedisURL:        "redis://localhost:6379/0",
		RedisKeyPrefix:  "rental-ml:models:",
		ReloadChannel:   "rental-ml:reload",
		WatchInterval:   2 * time.Second,
		MQTTTopicPrefix: "rental/anomalies",
		MetricsEnabled:  true,
	}
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	cfg := defaultConfig()
	applyEnv(&cfg)
	return &cfg
}

// LoadConfigFile loads a YAML file and lets environment variables override it
func LoadConfigFile(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)
	cfg.APIKey = getEnv("API_KEY", cfg.APIKey)
	cfg.AdminUsername = getEnv("ADMIN_USERNAME", cfg.AdminUsername)
	cfg.AdminPassword = getEnv("ADMIN_PASSWORD", cfg.AdminPassword)
	cfg.DataPath = getEnv("DATA_PATH", cfg.DataPath)
	cfg.InventoryDBPath = getEnv("INVENTORY_DB_PATH", cfg.InventoryDBPath)
	cfg.ModelStore = getEnv("MODEL_STORE", cfg.ModelStore)
	cfg.ModelDir = getEnv("MODEL_DIR", cfg.ModelDir)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisKeyPrefix = getEnv("REDIS_KEY_PREFIX", cfg.RedisKeyPrefix)
	cfg.ReloadChannel = getEnv("RELOAD_CHANNEL", cfg.ReloadChannel)
	cfg.MQTTBroker = getEnv("MQTT_BROKER", cfg.MQTTBroker)
	cfg.MQTTTopicPrefix = getEnv("MQTT_TOPIC_PREFIX", cfg.MQTTTopicPrefix)
	cfg.MQTTUsername = getEnv("MQTT_USERNAME", cfg.MQTTUsername)
	cfg.MQTTPassword = getEnv("MQTT_PASSWORD", cfg.MQTTPassword)

	if v := os.Getenv("WATCH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.WatchInterval = d
		} else {
			log.Printf("[設定] ⚠️ WATCH_INTERVAL の値が不正です: %q", v)
		}
	}
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MetricsEnabled = b
		} else {
			log.Printf("[設定] ⚠️ METRICS_ENABLED の値が不正です: %q", v)
		}
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
