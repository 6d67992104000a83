package main

import (
	"context"
	"fmt"
	"log"

	config "rental-ml-api/configs"
	"rental-ml-api/internal/dataset"
	"rental-ml-api/internal/inventory"
	"rental-ml-api/internal/modelstore"
	"rental-ml-api/pkg/services"

	"github.com/spf13/cobra"
)

var (
	cfgFile       string
	dataPath      string
	modelDir      string
	storeKind     string
	redisURL      string
	inventoryPath string
)

var rootCmd = &cobra.Command{
	Use:   "rentalctl",
	Short: "Train and query the equipment rental demand models",
	Long: `rentalctl runs the rental demand forecasting and anomaly detection engine offline.
It trains models from the rental history, saves them to the model store and
queries forecasts or anomaly scans without starting the API server.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (default: environment only)")
	rootCmd.PersistentFlags().StringVar(&dataPath, "data", "", "rental history file (.csv or .xlsx)")
	rootCmd.PersistentFlags().StringVar(&modelDir, "model-dir", "", "model directory for the file store")
	rootCmd.PersistentFlags().StringVar(&storeKind, "store", "", "model store (file or redis)")
	rootCmd.PersistentFlags().StringVar(&redisURL, "redis-url", "", "Redis URL for the redis store and reload channel")
	rootCmd.PersistentFlags().StringVar(&inventoryPath, "inventory", "", "live inventory SQLite database")
}

// loadConfig reads the config file and applies command line overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigFile(cfgFile)
	if err != nil {
		return nil, err
	}
	if dataPath != "" {
		cfg.DataPath = dataPath
	}
	if modelDir != "" {
		cfg.ModelDir = modelDir
	}
	if storeKind != "" {
		cfg.ModelStore = storeKind
	}
	if redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if inventoryPath != "" {
		cfg.InventoryDBPath = inventoryPath
	}
	return cfg, nil
}

// openStore opens the configured model store
func openStore(ctx context.Context, cfg *config.Config) (services.ModelStore, func(), error) {
	if cfg.ModelStore == config.ModelStoreRedis {
		store, err := modelstore.NewRedisStore(ctx, modelstore.RedisConfig{
			URL:       cfg.RedisURL,
			Password:  cfg.RedisPassword,
			KeyPrefix: cfg.RedisKeyPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	}

	store, err := modelstore.NewFileStore(cfg.ModelDir)
	if err != nil {
		return nil, nil, fmt.Errorf("opening model directory: %w", err)
	}
	return store, func() {}, nil
}

// newEngine builds an engine on the configured dataset, store and inventory
func newEngine(ctx context.Context, cfg *config.Config) (*services.RentalMLService, func(), error) {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	deps := services.RentalMLDeps{
		Dataset: dataset.NewReader(cfg.DataPath),
		Store:   store,
	}
	closeInv := func() {}
	if inv, err := inventory.Open(cfg.InventoryDBPath); err == nil {
		deps.Inventory = inv
		closeInv = func() { inv.Close() }
	} else {
		log.Printf("[在庫] 在庫DBなしで実行します: %v", err)
	}

	cleanup := func() {
		closeInv()
		closeStore()
	}
	return services.NewRentalMLService(deps), cleanup, nil
}
