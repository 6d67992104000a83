package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	config "rental-ml-api/configs"
	"rental-ml-api/pkg/models"
	"rental-ml-api/pkg/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEngine 呼び出し引数を記録するテスト用エンジン
type stubEngine struct {
	forecastErr error
	anomalyErr  error
	statsErr    error
	saveErr     error
	loadErr     error
	retrainErr  error

	gotType, gotSite string
	gotDays          int
	gotEquipment     string
	reloads          []string
}

func (s *stubEngine) Status(context.Context) models.ModelStatus {
	return models.ModelStatus{Trained: true, DataRecordCount: 120, SiteModels: 3}
}

func (s *stubEngine) Forecast(_ context.Context, equipmentType, siteID string, days int) (*models.ForecastResult, error) {
	s.gotType, s.gotSite, s.gotDays = equipmentType, siteID, days
	if s.forecastErr != nil {
		return nil, s.forecastErr
	}
	return &models.ForecastResult{
		EquipmentType: equipmentType,
		SiteID:        siteID,
		ForecastDays:  days,
		Forecasts:     make([]models.ForecastPoint, days),
		Trend:         "stable",
		ModelScope:    "global",
		DataSource:    services.SourceTraining,
	}, nil
}

func (s *stubEngine) DetectAnomalies(_ context.Context, equipmentID string) (*models.AnomalyResult, error) {
	s.gotEquipment = equipmentID
	if s.anomalyErr != nil {
		return nil, s.anomalyErr
	}
	return &models.AnomalyResult{
		Anomalies:  []models.AnomalyRecord{{EquipmentID: "EQ001", AlertType: "low_utilization", Severity: "high"}},
		Summary:    models.AnomalySummary{TotalAnomalies: 1, TotalRecords: 4, AnomalyRate: 25},
		DataSource: services.SourceDatabase,
	}, nil
}

func (s *stubEngine) GetEquipmentStats(context.Context) (*models.EquipmentStats, error) {
	if s.statsErr != nil {
		return nil, s.statsErr
	}
	return &models.EquipmentStats{Overall: models.OverallStats{TotalEquipment: 10}}, nil
}

func (s *stubEngine) GetRecommendations() (*models.RecommendationResult, error) {
	return &models.RecommendationResult{TotalRecommendations: 0, Recommendations: []models.Recommendation{}}, nil
}

func (s *stubEngine) Save(context.Context) ([]string, error) {
	if s.saveErr != nil {
		return nil, s.saveErr
	}
	return []string{"manifest.json", "global.json"}, nil
}

func (s *stubEngine) Load(context.Context) error    { return s.loadErr }
func (s *stubEngine) Retrain(context.Context) error { return s.retrainErr }

func (s *stubEngine) DatabaseStatus(context.Context) services.DatabaseStatus {
	return services.DatabaseStatus{Connected: true, TotalEquipment: 10, ActiveRentals: 4}
}

func (s *stubEngine) TriggerReload(_ context.Context, reason string) {
	s.reloads = append(s.reloads, reason)
}

func newTestRouter(engine RentalEngine) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewRentalMLHandler(engine).RegisterRoutes(r.Group("/api/v1/ml"))
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestPredictDemandDefaults(t *testing.T) {
	engine := &stubEngine{}
	r := newTestRouter(engine)

	w, body := doJSON(t, r, http.MethodPost, "/api/v1/ml/demand-forecast", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, services.DefaultForecastDays, engine.gotDays)
	assert.Empty(t, engine.gotType)

	data := body["data"].(map[string]any)
	assert.Len(t, data["forecasts"], services.DefaultForecastDays)
}

func TestPredictDemandDaysFields(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"days_ahead", `{"days_ahead": 7}`, 7},
		{"horizon_days", `{"horizon_days": 14}`, 14},
		{"days_ahead wins", `{"days_ahead": 3, "horizon_days": 14}`, 3},
		{"filters only", `{"equipment_type": "Excavator", "site_id": "S001"}`, services.DefaultForecastDays},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &stubEngine{}
			w, _ := doJSON(t, newTestRouter(engine), http.MethodPost, "/api/v1/ml/demand-forecast", tt.body)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.want, engine.gotDays)
		})
	}
}

func TestPredictDemandPassesFilters(t *testing.T) {
	engine := &stubEngine{}
	w, _ := doJSON(t, newTestRouter(engine), http.MethodPost, "/api/v1/ml/demand-forecast",
		`{"equipment_type": "Excavator", "site_id": "S001", "days_ahead": 5}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Excavator", engine.gotType)
	assert.Equal(t, "S001", engine.gotSite)
}

func TestPredictDemandRejectsInvalidDays(t *testing.T) {
	for _, body := range []string{`{"days_ahead": 0}`, `{"days_ahead": -3}`, `{"horizon_days": 366}`} {
		engine := &stubEngine{}
		w, out := doJSON(t, newTestRouter(engine), http.MethodPost, "/api/v1/ml/demand-forecast", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, false, out["success"])
		assert.Zero(t, engine.gotDays, "engine must not be called for %s", body)
	}
}

func TestPredictDemandMalformedJSON(t *testing.T) {
	w, out := doJSON(t, newTestRouter(&stubEngine{}), http.MethodPost, "/api/v1/ml/demand-forecast", `{"days_ahead": "ten"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, out["error"], "リクエストの解析に失敗しました")
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{services.ErrNotTrained, http.StatusServiceUnavailable},
		{fmt.Errorf("filter: %w", services.ErrNoMatchingData), http.StatusNotFound},
		{services.ErrRetrainInProgress, http.StatusConflict},
		{services.ErrNoData, http.StatusBadRequest},
		{fmt.Errorf("days_ahead: %w", services.ErrInvalidArgument), http.StatusBadRequest},
		{services.ErrInsufficientData, http.StatusUnprocessableEntity},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			engine := &stubEngine{forecastErr: tt.err}
			w, out := doJSON(t, newTestRouter(engine), http.MethodPost, "/api/v1/ml/demand-forecast", `{"days_ahead": 3}`)
			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, false, out["success"])
			assert.Contains(t, out["error"], tt.err.Error())
		})
	}
}

func TestDetectAnomaliesHandler(t *testing.T) {
	engine := &stubEngine{}
	r := newTestRouter(engine)

	w, out := doJSON(t, r, http.MethodPost, "/api/v1/ml/anomaly-detection", `{"equipment_id": "EQ001"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "EQ001", engine.gotEquipment)
	data := out["data"].(map[string]any)
	assert.Equal(t, services.SourceDatabase, data["data_source"])

	engine.anomalyErr = services.ErrNoMatchingData
	w, _ = doJSON(t, r, http.MethodPost, "/api/v1/ml/anomaly-detection", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReadEndpoints(t *testing.T) {
	engine := &stubEngine{}
	r := newTestRouter(engine)

	for _, path := range []string{"/status", "/equipment-stats", "/recommendations", "/database-status"} {
		w, out := doJSON(t, r, http.MethodGet, "/api/v1/ml"+path, "")
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.Equal(t, true, out["success"], path)
		assert.NotNil(t, out["data"], path)
	}

	w, out := doJSON(t, r, http.MethodGet, "/api/v1/ml/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", out["status"])
	assert.Equal(t, true, out["model_trained"])

	engine.statsErr = services.ErrNoData
	w, _ = doJSON(t, r, http.MethodGet, "/api/v1/ml/equipment-stats", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestModelLifecycleEndpoints(t *testing.T) {
	engine := &stubEngine{}
	r := newTestRouter(engine)

	w, out := doJSON(t, r, http.MethodPost, "/api/v1/ml/models/save", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Models saved successfully", out["message"])
	assert.Len(t, out["keys"], 2)

	w, out = doJSON(t, r, http.MethodPost, "/api/v1/ml/models/load", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Models loaded successfully", out["message"])

	w, _ = doJSON(t, r, http.MethodPost, "/api/v1/ml/models/retrain", "")
	assert.Equal(t, http.StatusOK, w.Code)

	engine.saveErr = services.ErrNotTrained
	engine.loadErr = fmt.Errorf("no manifest")
	engine.retrainErr = services.ErrRetrainInProgress

	w, _ = doJSON(t, r, http.MethodPost, "/api/v1/ml/models/save", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	w, _ = doJSON(t, r, http.MethodPost, "/api/v1/ml/models/load", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	w, _ = doJSON(t, r, http.MethodPost, "/api/v1/ml/models/retrain", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHealthCheckMaintenance(t *testing.T) {
	gin.SetMode(gin.TestMode)
	t.Cleanup(func() { isMaintenanceMode.Store(false) })

	cfg := &config.Config{AdminUsername: "admin", AdminPassword: "secret"}
	engine := &stubEngine{}
	admin := NewAdminHandler(cfg, engine)

	r := gin.New()
	r.GET("/health", HealthCheck)
	r.POST("/maintenance/start", admin.StartMaintenance)
	r.POST("/maintenance/stop", admin.StopMaintenance)
	r.POST("/reload", admin.TriggerReload)

	w, _ := doJSON(t, r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = doJSON(t, r, http.MethodPost, "/maintenance/start", `{"username":"admin","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = doJSON(t, r, http.MethodPost, "/maintenance/start", `{"username":"admin","password":"secret"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w, out := doJSON(t, r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unavailable", out["status"])

	w, _ = doJSON(t, r, http.MethodPost, "/maintenance/stop", `{"username":"admin","password":"secret"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = doJSON(t, r, http.MethodPost, "/reload", `{"username":"admin","password":"secret"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"admin request"}, engine.reloads)
}

func TestAdminRejectsWhenPasswordUnset(t *testing.T) {
	gin.SetMode(gin.TestMode)
	admin := NewAdminHandler(&config.Config{AdminUsername: "admin"}, nil)

	r := gin.New()
	r.POST("/reload", admin.TriggerReload)

	w, _ := doJSON(t, r, http.MethodPost, "/reload", `{"username":"admin","password":"x"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = doJSON(t, r, http.MethodPost, "/reload", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMonitoringEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := services.NewMonitoringService()
	svc.RecordEvent("retrain", "ok", nil)
	svc.RecordEvent("save", "failed", fmt.Errorf("disk full"))
	svc.RecordEvent("retrain", "ok again", nil)

	h := NewMonitoringHandler(svc)
	r := gin.New()
	r.GET("/events", h.GetEvents)
	r.GET("/logs", h.GetLogs)

	w, out := doJSON(t, r, http.MethodGet, "/events?kind=retrain", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, out["count"])

	w, out = doJSON(t, r, http.MethodGet, "/events?limit=1", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, out["count"])

	w, _ = doJSON(t, r, http.MethodGet, "/logs?period=1h", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
