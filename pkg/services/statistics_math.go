package services

import (
	"errors"
	"fmt"
	"math"
)

// errNotPositiveDefinite Cholesky分解できない行列
var errNotPositiveDefinite = errors.New("matrix is not positive definite")

// defaultRidgeLambda 正規方程式に加える正則化係数
const defaultRidgeLambda = 1e-3

// LinearModel 中心化した特徴量で学習したリッジ回帰モデル
type LinearModel struct {
	Features     []string  `json:"features"`
	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
}

// Predict 1行分の特徴量から予測値を計算
func (m *LinearModel) Predict(x []float64) (float64, error) {
	if len(x) != len(m.Coefficients) {
		return 0, fmt.Errorf("特徴量の数が一致しません: got %d, want %d", len(x), len(m.Coefficients))
	}
	pred := m.Intercept
	for i, b := range m.Coefficients {
		pred += b * x[i]
	}
	return pred, nil
}

// fitRidge X(行×特徴量)とyからリッジ回帰を学習する
func fitRidge(features []string, X [][]float64, y []float64, lambda float64) (*LinearModel, error) {
	n := len(X)
	if n == 0 || n != len(y) {
		return nil, fmt.Errorf("データ系列の長さが一致しないか、空です: rows=%d targets=%d", n, len(y))
	}
	k := len(features)
	for i, row := range X {
		if len(row) != k {
			return nil, fmt.Errorf("行%dの特徴量の数が不正です: got %d, want %d", i, len(row), k)
		}
	}

	// 平均で中心化して切片を分離
	meanX := make([]float64, k)
	for _, row := range X {
		for j, v := range row {
			meanX[j] += v
		}
	}
	for j := range meanX {
		meanX[j] /= float64(n)
	}
	meanY := calculateMean(y)

	XtX := make([][]float64, k)
	for i := range XtX {
		XtX[i] = make([]float64, k)
	}
	Xty := make([]float64, k)
	for t, row := range X {
		yc := y[t] - meanY
		for i := 0; i < k; i++ {
			xi := row[i] - meanX[i]
			Xty[i] += xi * yc
			for j := 0; j <= i; j++ {
				XtX[i][j] += xi * (row[j] - meanX[j])
			}
		}
	}
	for i := 0; i < k; i++ {
		for j := 0; j < i; j++ {
			XtX[j][i] = XtX[i][j]
		}
		XtX[i][i] += lambda
	}

	beta, err := solveSymmetric(XtX, Xty)
	if err != nil {
		return nil, fmt.Errorf("正規方程式を解けません: %w", err)
	}

	intercept := meanY
	for i, b := range beta {
		intercept -= b * meanX[i]
	}

	return &LinearModel{
		Features:     append([]string(nil), features...),
		Coefficients: beta,
		Intercept:    intercept,
	}, nil
}

// solveSymmetric solves A*x=b for symmetric positive definite A by Cholesky
func solveSymmetric(A [][]float64, b []float64) ([]float64, error) {
	n := len(A)
	if n == 0 {
		return nil, errors.New("empty matrix")
	}
	for _, row := range A {
		if len(row) != n {
			return nil, fmt.Errorf("matrix is not square: %d x %d", n, len(row))
		}
	}
	if len(b) != n {
		return nil, fmt.Errorf("dimension mismatch: matrix %d, vector %d", n, len(b))
	}
	L := make([][]float64, n)
	for i := 0; i < n; i++ {
		L[i] = make([]float64, n)
		copy(L[i], A[i])
	}
	// Cholesky decomposition
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			var sum float64
			for k := 0; k < j; k++ {
				sum += L[i][k] * L[j][k]
			}
			if i == j {
				val := L[i][i] - sum
				if val <= 0 || math.IsNaN(val) {
					return nil, errNotPositiveDefinite
				}
				L[i][j] = math.Sqrt(val)
			} else {
				L[i][j] = (L[i][j] - sum) / L[j][j]
			}
		}
		for j := i + 1; j < n; j++ {
			L[i][j] = 0
		}
	}
	// Forward substitution
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for j := 0; j < i; j++ {
			sum += L[i][j] * y[j]
		}
		y[i] = (b[i] - sum) / L[i][i]
	}
	// Back substitution
	x := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		var sum float64
		for j := i + 1; j < n; j++ {
			sum += L[j][i] * x[j]
		}
		x[i] = (y[i] - sum) / L[i][i]
	}
	return x, nil
}

// StandardScaler 列ごとに平均0・分散1へ標準化する
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// FitStandardScaler 学習行から平均と標準偏差を求める。標準偏差0の列は1で割る。
func FitStandardScaler(X [][]float64) (*StandardScaler, error) {
	if len(X) == 0 {
		return nil, errors.New("標準化する行がありません")
	}
	k := len(X[0])
	s := &StandardScaler{Mean: make([]float64, k), Scale: make([]float64, k)}
	col := make([]float64, len(X))
	for j := 0; j < k; j++ {
		for i, row := range X {
			col[i] = row[j]
		}
		s.Mean[j] = calculateMean(col)
		std := calculateStandardDeviation(col)
		if std == 0 {
			std = 1
		}
		s.Scale[j] = std
	}
	return s, nil
}

// Transform 1行を標準化した新しいスライスを返す
func (s *StandardScaler) Transform(x []float64) ([]float64, error) {
	if len(x) != len(s.Mean) {
		return nil, fmt.Errorf("特徴量の数が一致しません: got %d, want %d", len(x), len(s.Mean))
	}
	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (v - s.Mean[j]) / s.Scale[j]
	}
	return out, nil
}

// TrendFit 添字に対する最小二乗直線
type TrendFit struct {
	Slope     float64
	Intercept float64
	RSquared  float64
}

// fitLinearTrend 系列を添字0..n-1に回帰する。yが一定ならR²は0。
func fitLinearTrend(values []float64) (TrendFit, error) {
	if len(values) < 2 {
		return TrendFit{}, fmt.Errorf("データ数が不足しています: %d", len(values))
	}

	n := float64(len(values))
	var sumX, sumY, sumXY, sumX2 float64
	for i, v := range values {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumX2 += x * x
	}

	// 傾き（slope）の計算
	slope := (n*sumXY - sumX*sumY) / (n*sumX2 - sumX*sumX)

	// 切片（intercept）の計算
	intercept := (sumY - slope*sumX) / n

	// R²（決定係数）の計算
	meanY := sumY / n
	var ssTotal, ssResidual float64
	for i, v := range values {
		predicted := slope*float64(i) + intercept
		ssTotal += (v - meanY) * (v - meanY)
		ssResidual += (v - predicted) * (v - predicted)
	}
	rSquared := 0.0
	if ssTotal > 0 {
		rSquared = 1 - (ssResidual / ssTotal)
	}

	return TrendFit{Slope: slope, Intercept: intercept, RSquared: rSquared}, nil
}

// regressionScores ホールドアウト評価用の MSE / MAE / R²
func regressionScores(actual, predicted []float64) (mse, mae, r2 float64) {
	if len(actual) == 0 || len(actual) != len(predicted) {
		return 0, 0, 0
	}
	meanY := calculateMean(actual)
	var ssTotal, ssResidual, absSum float64
	for i, y := range actual {
		d := y - predicted[i]
		ssResidual += d * d
		absSum += math.Abs(d)
		ssTotal += (y - meanY) * (y - meanY)
	}
	n := float64(len(actual))
	mse = ssResidual / n
	mae = absSum / n
	switch {
	case ssTotal > 0:
		r2 = 1 - ssResidual/ssTotal
	case ssResidual == 0:
		r2 = 1
	}
	return mse, mae, r2
}

// calculateMean パッケージ内部用のヘルパー関数：平均値を計算
func calculateMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// calculateStandardDeviation パッケージ内部用のヘルパー関数：標準偏差を計算
func calculateStandardDeviation(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := calculateMean(values)
	sumSquaredDiff := 0.0
	for _, v := range values {
		diff := v - mean
		sumSquaredDiff += diff * diff
	}
	return math.Sqrt(sumSquaredDiff / float64(len(values)))
}

// roundTo 小数点以下 places 桁に丸める
func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// clamp v を [lo, hi] に収める
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
