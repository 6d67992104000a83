package services

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFitRidgeRecoversLinearRelation(t *testing.T) {
	// y = 2*x1 - 3*x2 + 5
	var X [][]float64
	var y []float64
	for i := 0; i < 40; i++ {
		x1 := float64(i % 7)
		x2 := float64((i * 3) % 11)
		X = append(X, []float64{x1, x2})
		y = append(y, 2*x1-3*x2+5)
	}

	m, err := fitRidge([]string{"x1", "x2"}, X, y, 1e-9)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, m.Coefficients[0], 1e-4)
	assert.InDelta(t, -3.0, m.Coefficients[1], 1e-4)
	assert.InDelta(t, 5.0, m.Intercept, 1e-3)

	pred, err := m.Predict([]float64{1, 1})
	require.NoError(t, err)
	assert.InDelta(t, 4.0, pred, 1e-3)
}

func TestFitRidgeHandlesConstantColumn(t *testing.T) {
	X := [][]float64{{1, 3}, {2, 3}, {3, 3}, {4, 3}}
	y := []float64{2, 4, 6, 8}

	m, err := fitRidge([]string{"x", "const"}, X, y, defaultRidgeLambda)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, m.Coefficients[1], 1e-9)
}

func TestFitRidgeRejectsBadInput(t *testing.T) {
	_, err := fitRidge([]string{"x"}, nil, nil, defaultRidgeLambda)
	assert.Error(t, err)

	_, err = fitRidge([]string{"x"}, [][]float64{{1, 2}}, []float64{1}, defaultRidgeLambda)
	assert.Error(t, err)
}

func TestLinearModelPredictDimensionMismatch(t *testing.T) {
	m := &LinearModel{Coefficients: []float64{1, 2}}
	_, err := m.Predict([]float64{1})
	assert.Error(t, err)
}

func TestSolveSymmetricNotPositiveDefinite(t *testing.T) {
	_, err := solveSymmetric([][]float64{{0, 1}, {1, 0}}, []float64{1, 1})
	assert.True(t, errors.Is(err, errNotPositiveDefinite))
}

func TestStandardScaler(t *testing.T) {
	s, err := FitStandardScaler([][]float64{{1, 5}, {3, 5}})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 5}, s.Mean)
	// 分散0の列は1で割る
	assert.Equal(t, []float64{1, 1}, s.Scale)

	out, err := s.Transform([]float64{3, 7})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, out)

	_, err = s.Transform([]float64{1})
	assert.Error(t, err)

	_, err = FitStandardScaler(nil)
	assert.Error(t, err)
}

func TestLinearModelJSONRoundTripPredictsIdentically(t *testing.T) {
	m := &LinearModel{Features: []string{"a", "b"}, Coefficients: []float64{0.1, -2.5}, Intercept: 3.25}
	data, err := json.Marshal(m)
	require.NoError(t, err)

	var restored LinearModel
	require.NoError(t, json.Unmarshal(data, &restored))

	want, _ := m.Predict([]float64{4, 2})
	got, err := restored.Predict([]float64{4, 2})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFitLinearTrend(t *testing.T) {
	fit, err := fitLinearTrend([]float64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, fit.Slope, 1e-12)
	assert.InDelta(t, 1.0, fit.RSquared, 1e-12)

	flat, err := fitLinearTrend([]float64{2, 2, 2})
	require.NoError(t, err)
	assert.Equal(t, 0.0, flat.Slope)
	assert.Equal(t, 0.0, flat.RSquared)

	_, err = fitLinearTrend([]float64{1})
	assert.Error(t, err)
}

func TestRegressionScores(t *testing.T) {
	mse, mae, r2 := regressionScores([]float64{1, 2, 3}, []float64{1, 2, 3})
	assert.Equal(t, 0.0, mse)
	assert.Equal(t, 0.0, mae)
	assert.Equal(t, 1.0, r2)

	mse, mae, _ = regressionScores([]float64{0, 0}, []float64{1, -1})
	assert.Equal(t, 1.0, mse)
	assert.Equal(t, 1.0, mae)
}

func TestRoundAndClamp(t *testing.T) {
	testCases := []struct {
		v      float64
		places int
		want   float64
	}{
		{1.25, 1, 1.3},
		{0.944, 2, 0.94},
		{12.3456, 0, 12},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, roundTo(tc.v, tc.places), "roundTo(%v, %d)", tc.v, tc.places)
	}

	assert.Equal(t, 0.3, clamp(0.1, 0.3, 0.95))
	assert.Equal(t, 0.95, clamp(2, 0.3, 0.95))
}
