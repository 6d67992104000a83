package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"rental-ml-api/pkg/models"
	"rental-ml-api/pkg/services"

	"github.com/gin-gonic/gin"
)

// RentalEngine ハンドラーが使うエンジンの操作
type RentalEngine interface {
	Status(ctx context.Context) models.ModelStatus
	Forecast(ctx context.Context, equipmentType, siteID string, days int) (*models.ForecastResult, error)
	DetectAnomalies(ctx context.Context, equipmentID string) (*models.AnomalyResult, error)
	GetEquipmentStats(ctx context.Context) (*models.EquipmentStats, error)
	GetRecommendations() (*models.RecommendationResult, error)
	Save(ctx context.Context) ([]string, error)
	Load(ctx context.Context) error
	Retrain(ctx context.Context) error
	DatabaseStatus(ctx context.Context) services.DatabaseStatus
}

// RentalMLHandler 需要予測・異常検知APIハンドラー
type RentalMLHandler struct {
	engine RentalEngine
}

// NewRentalMLHandler 新しいハンドラーを作成
func NewRentalMLHandler(engine RentalEngine) *RentalMLHandler {
	return &RentalMLHandler{engine: engine}
}

// RegisterRoutes /api/v1/ml 配下のルートを登録
func (h *RentalMLHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/health", h.Health)
	rg.GET("/status", h.GetStatus)
	rg.POST("/demand-forecast", h.PredictDemand)
	rg.POST("/anomaly-detection", h.DetectAnomalies)
	rg.GET("/equipment-stats", h.GetEquipmentStats)
	rg.GET("/recommendations", h.GetRecommendations)
	rg.GET("/database-status", h.GetDatabaseStatus)
	rg.POST("/models/save", h.SaveModels)
	rg.POST("/models/load", h.LoadModels)
	rg.POST("/models/retrain", h.RetrainModels)
}

// ForecastRequest 需要予測リクエスト
type ForecastRequest struct {
	EquipmentType string `json:"equipment_type"`
	SiteID        string `json:"site_id"`
	DaysAhead     *int   `json:"days_ahead"`
	HorizonDays   *int   `json:"horizon_days"`
}

// days days_ahead を優先し、なければ horizon_days、どちらもなければ既定値
func (r ForecastRequest) days() int {
	switch {
	case r.DaysAhead != nil:
		return *r.DaysAhead
	case r.HorizonDays != nil:
		return *r.HorizonDays
	default:
		return services.DefaultForecastDays
	}
}

// AnomalyRequest 異常検知リクエスト
type AnomalyRequest struct {
	EquipmentID string `json:"equipment_id"`
}

// statusFor エラー種別をHTTPステータスに変換
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrNotTrained):
		return http.StatusServiceUnavailable
	case errors.Is(err, services.ErrNoMatchingData):
		return http.StatusNotFound
	case errors.Is(err, services.ErrRetrainInProgress):
		return http.StatusConflict
	case errors.Is(err, services.ErrNoData), errors.Is(err, services.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrInsufficientData):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("[API] ❌ %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{
		"success": false,
		"error":   message + ": " + err.Error(),
	})
}

// Health モデルの学習状態を含むヘルスチェック
func (h *RentalMLHandler) Health(c *gin.Context) {
	status := h.engine.Status(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"status":        "healthy",
		"model_trained": status.Trained,
		"retraining":    status.Retraining,
	})
}

// GetStatus モデルの状態を返す
func (h *RentalMLHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    h.engine.Status(c.Request.Context()),
	})
}

// PredictDemand 需要予測を実行
func (h *RentalMLHandler) PredictDemand(c *gin.Context) {
	var request ForecastRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "リクエストの解析に失敗しました: " + err.Error(),
			})
			return
		}
	}

	days := request.days()
	if days < 1 || days > services.MaxForecastDays {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   fmt.Sprintf("days_ahead は1〜%dの範囲で指定してください", services.MaxForecastDays),
		})
		return
	}

	result, err := h.engine.Forecast(c.Request.Context(), request.EquipmentType, request.SiteID, days)
	if err != nil {
		respondError(c, "需要予測の実行に失敗しました", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result,
	})
}

// DetectAnomalies 異常検知を実行
func (h *RentalMLHandler) DetectAnomalies(c *gin.Context) {
	var request AnomalyRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "リクエストの解析に失敗しました: " + err.Error(),
			})
			return
		}
	}

	result, err := h.engine.DetectAnomalies(c.Request.Context(), request.EquipmentID)
	if err != nil {
		respondError(c, "異常検知の実行に失敗しました", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result,
	})
}

// GetEquipmentStats 機材の稼働統計
func (h *RentalMLHandler) GetEquipmentStats(c *gin.Context) {
	stats, err := h.engine.GetEquipmentStats(c.Request.Context())
	if err != nil {
		respondError(c, "統計の取得に失敗しました", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    stats,
	})
}

// GetRecommendations 改善提案
func (h *RentalMLHandler) GetRecommendations(c *gin.Context) {
	result, err := h.engine.GetRecommendations()
	if err != nil {
		respondError(c, "推奨事項の取得に失敗しました", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result,
	})
}

// GetDatabaseStatus ライブ在庫と変更通知の状態
func (h *RentalMLHandler) GetDatabaseStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    h.engine.DatabaseStatus(c.Request.Context()),
	})
}

// SaveModels モデルを保存
func (h *RentalMLHandler) SaveModels(c *gin.Context) {
	keys, err := h.engine.Save(c.Request.Context())
	if err != nil {
		respondError(c, "モデルの保存に失敗しました", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Models saved successfully",
		"keys":    keys,
	})
}

// LoadModels 保存済みモデルを読み込む
func (h *RentalMLHandler) LoadModels(c *gin.Context) {
	if err := h.engine.Load(c.Request.Context()); err != nil {
		respondError(c, "モデルの読み込みに失敗しました", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Models loaded successfully",
		"data":    h.engine.Status(c.Request.Context()),
	})
}

// RetrainModels 同期的に再学習する
func (h *RentalMLHandler) RetrainModels(c *gin.Context) {
	if err := h.engine.Retrain(c.Request.Context()); err != nil {
		respondError(c, "再学習に失敗しました", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Models retrained successfully",
		"data":    h.engine.Status(c.Request.Context()),
	})
}
