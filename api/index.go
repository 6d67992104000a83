package handler

import (
	"context"
	"log"
	"net/http"
	"sync"

	config "rental-ml-api/configs"
	"rental-ml-api/internal/dataset"
	"rental-ml-api/internal/modelstore"
	"rental-ml-api/pkg/handlers"
	"rental-ml-api/pkg/services"

	"github.com/gin-gonic/gin"
)

var (
	app  *gin.Engine
	once sync.Once
)

// setupApp はGinアプリケーションを初期化します。
// サーバーレス環境では、リクエストごとに初期化が走らないようsync.Onceで一度だけ実行します。
func setupApp() *gin.Engine {
	once.Do(func() {
		// 環境変数はデプロイ先の設定から読み込まれるため、ここではgodotenvを呼び出しません。
		cfg := config.LoadConfig()

		monitoringService := services.NewMonitoringService()
		deps := services.RentalMLDeps{
			Dataset: dataset.NewReader(cfg.DataPath),
			Events:  monitoringService,
		}

		// 関数インスタンス間でモデルを共有するにはRedisストアを使う
		if cfg.ModelStore == config.ModelStoreRedis {
			store, err := modelstore.NewRedisStore(context.Background(), modelstore.RedisConfig{
				URL:       cfg.RedisURL,
				Password:  cfg.RedisPassword,
				KeyPrefix: cfg.RedisKeyPrefix,
			})
			if err != nil {
				log.Printf("⚠️ [setupApp] Redisモデルストアに接続できません: %v", err)
			} else {
				deps.Store = store
			}
		} else if store, err := modelstore.NewFileStore(cfg.ModelDir); err == nil {
			deps.Store = store
		} else {
			log.Printf("⚠️ [setupApp] モデルディレクトリを使用できません: %v", err)
		}

		engine := services.NewRentalMLService(deps)
		if err := engine.Initialize(context.Background()); err != nil {
			log.Printf("⚠️ [setupApp] エンジンの初期化に失敗しました: %v", err)
		}

		// サーバーレスでは /metrics を公開しない
		cfg.MetricsEnabled = false
		app = handlers.NewRouter(cfg, engine, monitoringService)
		log.Printf("🟢 [setupApp] Initialized (trained=%t)", engine.Status(context.Background()).Trained)
	})
	return app
}

// Handler はサーバーレス関数からのすべてのリクエストを処理するエントリーポイントです。
func Handler(w http.ResponseWriter, r *http.Request) {
	// Ginアプリケーションをセットアップ（初回のみ実行される）
	setupApp().ServeHTTP(w, r)
}
