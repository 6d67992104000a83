package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	config "rental-ml-api/configs"
	"rental-ml-api/internal/dataset"
	"rental-ml-api/internal/modelstore"
	"rental-ml-api/pkg/handlers"
	"rental-ml-api/pkg/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	// テスト環境の設定
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// writeHistoryCSV 学習に十分な行数のCSVを書き出す
func writeHistoryCSV(t *testing.T, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	types := []string{"Excavator", "Crane", "Bulldozer"}
	sites := []string{"S001", "S002", "S003"}
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	w := csv.NewWriter(f)
	require.NoError(t, w.Write([]string{"Equipment ID", "Type", "User ID", "Check-Out Date", "Check-in Date", "Engine Hours/Day", "Idle Hours/Day"}))
	for i := 0; i < n; i++ {
		out := start.AddDate(0, 0, i%45)
		in := out.AddDate(0, 0, 3+i%70)
		require.NoError(t, w.Write([]string{
			fmt.Sprintf("EQ%03d", i%40),
			types[i%len(types)],
			sites[(i/3)%len(sites)],
			out.Format("2006-01-02"),
			in.Format("2006-01-02"),
			fmt.Sprint(3 + i%5),
			fmt.Sprint(1 + i%3),
		}))
	}
	w.Flush()
	require.NoError(t, w.Error())
	return path
}

func newTestServer(t *testing.T, dataPath, apiKey string) (*gin.Engine, *services.RentalMLService) {
	t.Helper()
	store, err := modelstore.NewFileStore(t.TempDir())
	require.NoError(t, err)

	monitoring := services.NewMonitoringService()
	engine := services.NewRentalMLService(services.RentalMLDeps{
		Dataset: dataset.NewReader(dataPath),
		Store:   store,
		Events:  monitoring,
	})

	cfg := &config.Config{APIKey: apiKey, AdminUsername: "admin", AdminPassword: "secret"}
	return handlers.NewRouter(cfg, engine, monitoring), engine
}

func request(t *testing.T, r http.Handler, method, path, body string, header map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestApplicationSetup(t *testing.T) {
	// 設定の読み込みテスト
	cfg := config.LoadConfig()
	assert.NotNil(t, cfg, "Config should not be nil")

	r, engine := newTestServer(t, writeHistoryCSV(t, 120), "")
	assert.NotNil(t, r, "Router should not be nil")
	require.NoError(t, engine.Initialize(context.Background()))
	assert.True(t, engine.Status(context.Background()).Trained)
}

func TestRouterEndToEnd(t *testing.T) {
	r, engine := newTestServer(t, writeHistoryCSV(t, 120), "")
	require.NoError(t, engine.Initialize(context.Background()))

	// ヘルスチェックのテスト
	w, out := request(t, r, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", out["status"])

	w, out = request(t, r, http.MethodPost, "/api/v1/ml/demand-forecast", `{"equipment_type":"Crane","days_ahead":7}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := out["data"].(map[string]any)
	assert.Len(t, data["forecasts"], 7)
	assert.Equal(t, services.SourceTraining, data["data_source"])

	w, _ = request(t, r, http.MethodPost, "/api/v1/ml/anomaly-detection", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, out = request(t, r, http.MethodPost, "/api/v1/ml/models/save", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, out["keys"])

	w, _ = request(t, r, http.MethodPost, "/api/v1/ml/models/load", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, out = request(t, r, http.MethodGet, "/api/v1/monitoring/events?kind=save", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, out["count"])
}

func TestRouterUntrainedEngine(t *testing.T) {
	r, _ := newTestServer(t, filepath.Join(t.TempDir(), "missing.csv"), "")

	w, out := request(t, r, http.MethodPost, "/api/v1/ml/demand-forecast", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, false, out["success"])

	w, out = request(t, r, http.MethodGet, "/api/v1/ml/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, out["model_trained"])
}

func TestAPIKeyMiddleware(t *testing.T) {
	r, _ := newTestServer(t, filepath.Join(t.TempDir(), "missing.csv"), "top-secret")

	w, _ := request(t, r, http.MethodGet, "/api/v1/ml/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = request(t, r, http.MethodGet, "/api/v1/ml/status", "", map[string]string{"X-API-KEY": "top-secret"})
	assert.Equal(t, http.StatusOK, w.Code)

	// ヘルスチェックは認証不要
	w, _ = request(t, r, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddlewareDefaultKey(t *testing.T) {
	r := gin.New()
	r.Use(handlers.APIKeyMiddleware("default_secret_key"))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w, _ := request(t, r, http.MethodGet, "/ping", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
