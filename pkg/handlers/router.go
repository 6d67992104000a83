package handlers

import (
	"net/http"

	config "rental-ml-api/configs"
	"rental-ml-api/pkg/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Engine ルーターが必要とするエンジンの操作
type Engine interface {
	RentalEngine
	ReloadTrigger
}

// NewRouter ミドルウェアと全ルートを登録したルーターを返す
func NewRouter(cfg *config.Config, engine Engine, monitoringService *services.MonitoringService) *gin.Engine {
	// Ginルーターの初期化
	r := gin.Default()

	// ハンドラーの初期化
	mlHandler := NewRentalMLHandler(engine)
	adminHandler := NewAdminHandler(cfg, engine)
	monitoringHandler := NewMonitoringHandler(monitoringService)

	// ミドルウェアの登録
	r.Use(monitoringService.LoggingMiddleware())
	r.Use(cors.Default())

	// ヘルスチェックエンドポイント
	r.GET("/health", HealthCheck)

	if cfg.MetricsEnabled {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// APIバージョン1のルートグループ
	v1 := r.Group("/api/v1")
	v1.Use(APIKeyMiddleware(cfg.APIKey))
	{
		// 需要予測・異常検知API
		mlHandler.RegisterRoutes(v1.Group("/ml"))

		// 管理者向けAPI
		admin := v1.Group("/admin")
		{
			admin.GET("/health-status", adminHandler.GetHealthStatus)
			admin.POST("/maintenance/start", adminHandler.StartMaintenance)
			admin.POST("/maintenance/stop", adminHandler.StopMaintenance)
			admin.POST("/reload", adminHandler.TriggerReload)
		}

		// モニタリングAPI
		monitoring := v1.Group("/monitoring")
		{
			monitoring.GET("/logs", monitoringHandler.GetLogs)
			monitoring.GET("/events", monitoringHandler.GetEvents)
		}
	}

	return r
}

// APIKeyMiddleware X-API-KEY ヘッダーを検証する。キー未設定なら素通し。
func APIKeyMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" || apiKey == "default_secret_key" {
			c.Next()
			return
		}
		providedKey := c.GetHeader("X-API-KEY")
		if providedKey != apiKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}
