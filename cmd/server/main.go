package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "rental-ml-api/configs"
	"rental-ml-api/internal/alerts"
	"rental-ml-api/internal/dataset"
	"rental-ml-api/internal/inventory"
	"rental-ml-api/internal/metrics"
	"rental-ml-api/internal/modelstore"
	"rental-ml-api/internal/watcher"
	"rental-ml-api/pkg/handlers"
	"rental-ml-api/pkg/services"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

func main() {
	// .envファイルを読み込み
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found or could not be loaded: %v", err)
	}

	// 設定の読み込み
	cfg, err := config.LoadConfigFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsEnabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			log.Printf("[メトリクス] ⚠️ 登録に失敗しました: %v", err)
		}
	}

	// サービスの初期化
	monitoringService := services.NewMonitoringService()
	deps := services.RentalMLDeps{
		Dataset: dataset.NewReader(cfg.DataPath),
		Events:  monitoringService,
	}

	var redisClient *redis.Client
	switch cfg.ModelStore {
	case config.ModelStoreRedis:
		store, err := modelstore.NewRedisStore(ctx, modelstore.RedisConfig{
			URL:       cfg.RedisURL,
			Password:  cfg.RedisPassword,
			KeyPrefix: cfg.RedisKeyPrefix,
		})
		if err != nil {
			log.Fatalf("Failed to initialize Redis model store: %v", err)
		}
		defer store.Close()
		deps.Store = store
		redisClient = store.Client()
	default:
		store, err := modelstore.NewFileStore(cfg.ModelDir)
		if err != nil {
			log.Fatalf("Failed to initialize model directory: %v", err)
		}
		deps.Store = store
	}

	if inv, err := inventory.Open(cfg.InventoryDBPath); err != nil {
		log.Printf("[在庫] ⚠️ 在庫DBを開けません。学習データで代替します: %v", err)
	} else {
		defer inv.Close()
		deps.Inventory = inv
	}

	if cfg.MQTTBroker != "" {
		publisher, err := alerts.NewMQTTPublisher(alerts.Config{
			Broker:      cfg.MQTTBroker,
			TopicPrefix: cfg.MQTTTopicPrefix,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
		})
		if err != nil {
			log.Printf("[アラート] ⚠️ MQTTに接続できません。通知は無効です: %v", err)
		} else {
			defer publisher.Close()
			deps.Alerts = publisher
		}
	}

	engine := services.NewRentalMLService(deps)
	if err := engine.Initialize(ctx); err != nil {
		log.Printf("[エンジン] ⚠️ 初期化に失敗しました（未学習のまま起動します）: %v", err)
	}

	// 変更通知
	fileWatcher := watcher.NewFileWatcher(cfg.InventoryDBPath, cfg.WatchInterval, watcher.DefaultDebounce, engine.TriggerReload)
	engine.AddWatcher(fileWatcher)
	go fileWatcher.Run(ctx)

	if redisClient != nil {
		subscriber := watcher.NewRedisSubscriber(redisClient, cfg.ReloadChannel, engine.TriggerReload)
		engine.AddWatcher(subscriber)
		go subscriber.Start(ctx)
	}

	r := handlers.NewRouter(cfg, engine, monitoringService)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Printf("Starting Rental ML API server on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server:", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}
