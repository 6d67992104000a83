package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"rental-ml-api/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeHistory 3機種・3サイトのレンタル履歴。最後の2件は貸出中。
func writeHistory(t *testing.T, dir string, n int) string {
	t.Helper()
	path := filepath.Join(dir, "history.csv")
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
		in := out.AddDate(0, 0, 3+i%70).Format("2006-01-02")
		if i >= n-2 {
			in = ""
		}
		require.NoError(t, w.Write([]string{
			fmt.Sprintf("EQ%03d", i),
			types[i%len(types)],
			sites[(i/3)%len(sites)],
			out.Format("2006-01-02"),
			in,
			fmt.Sprint(3 + i%5),
			fmt.Sprint(1 + i%3),
		}))
	}
	w.Flush()
	require.NoError(t, w.Error())
	return path
}

// execute コマンドを実行して標準出力を返す
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestTrainSaveAndForecast(t *testing.T) {
	t.Setenv("MODEL_STORE", "")
	dir := t.TempDir()
	data := writeHistory(t, dir, 120)
	common := []string{
		"--data", data,
		"--model-dir", filepath.Join(dir, "models"),
		"--store", "file",
		"--inventory", filepath.Join(dir, "missing.db"),
	}

	out, err := execute(t, append([]string{"train", "--save"}, common...)...)
	require.NoError(t, err, out)
	assert.Contains(t, out, "trained on 120 rows")
	assert.Contains(t, out, "Saved")

	out, err = execute(t, append([]string{"forecast", "--type", "Crane", "--days", "5", "--json"}, common...)...)
	require.NoError(t, err, out)

	var result models.ForecastResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Len(t, result.Forecasts, 5)
	assert.Equal(t, "Crane", result.EquipmentType)
	for _, p := range result.Forecasts {
		assert.GreaterOrEqual(t, p.PredictedDemand, 0.0)
	}

	out, err = execute(t, append([]string{"status"}, common...)...)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Trained:      true")
	assert.Contains(t, out, "Inventory:    not connected")
}

func TestSeedThenAnomalies(t *testing.T) {
	dir := t.TempDir()
	data := writeHistory(t, dir, 60)
	db := filepath.Join(dir, "inventory.db")
	common := []string{
		"--data", data,
		"--model-dir", filepath.Join(dir, "models"),
		"--store", "file",
		"--inventory", db,
	}

	out, err := execute(t, append([]string{"seed"}, common...)...)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Seeded 60 records (2 active)")

	out, err = execute(t, append([]string{"anomalies", "--equipment", "", "--json"}, common...)...)
	require.NoError(t, err, out)

	var result models.AnomalyResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "database", result.DataSource)
	assert.Equal(t, 2, result.Summary.ActiveRentals)
	assert.Equal(t, 60, result.Summary.TotalRecords)
}

func TestLoadConfigFlagOverrides(t *testing.T) {
	t.Cleanup(func() { dataPath, modelDir, storeKind, redisURL, inventoryPath = "", "", "", "", "" })
	dataPath = "fleet.csv"
	storeKind = "redis"
	redisURL = "redis://cache:6379/2"

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "fleet.csv", cfg.DataPath)
	assert.Equal(t, "redis", cfg.ModelStore)
	assert.Equal(t, "redis://cache:6379/2", cfg.RedisURL)
}
