package services

import (
	"math"
	"time"

	"rental-ml-api/pkg/models"
)

// 予測値の上限と補正係数
const (
	maxDailyDemand       = 20.0
	typeCapMultiplier    = 1.5
	siteCapMultiplier    = 2.0
	weekendDemandFactor  = 0.6
	winterDemandFactor   = 0.8
	baseConfidence       = 0.7
	minConfidence        = 0.3
	maxConfidence        = 0.95
	stableSlopeThreshold = 0.1
)

// DemandCap 予測値の上限 min(20, 1.5×タイプ行数, 2×サイト行数)
func DemandCap(equipmentType, siteID string, contextRows []models.EngineeredRecord) float64 {
	limit := maxDailyDemand
	if equipmentType != "" {
		if n := countRows(contextRows, func(r models.EngineeredRecord) bool { return r.EquipmentType == equipmentType }); n > 0 {
			limit = math.Min(limit, typeCapMultiplier*float64(n))
		}
	}
	if siteID != "" && siteID != models.UnassignedSite {
		if n := countRows(contextRows, func(r models.EngineeredRecord) bool { return r.SiteID == siteID }); n > 0 {
			limit = math.Min(limit, siteCapMultiplier*float64(n))
		}
	}
	return limit
}

// ConstrainPrediction 週末・冬季の補正をかけてから [0, 上限] に収める
func ConstrainPrediction(raw float64, date time.Time, equipmentType, siteID string, contextRows []models.EngineeredRecord) float64 {
	limit := DemandCap(equipmentType, siteID, contextRows)
	v := raw
	if weekdayIndex(date) >= 5 {
		v *= weekendDemandFactor
	}
	if isWinter(int(date.Month())) {
		v *= winterDemandFactor
	}
	if math.IsNaN(v) {
		v = 0
	}
	return clamp(v, 0, limit)
}

// ForecastConfidence データ量・サイト・タイプ・経過日数の係数を掛け合わせた信頼度
func ForecastConfidence(contextRows []models.EngineeredRecord, equipmentType, siteID string, date time.Time) float64 {
	confidence := baseConfidence

	switch n := len(contextRows); {
	case n >= 100:
		confidence *= 1.0
	case n >= 50:
		confidence *= 0.9
	case n >= 20:
		confidence *= 0.8
	default:
		confidence *= 0.6
	}

	if siteID != "" && siteID != models.UnassignedSite {
		switch n := countRows(contextRows, func(r models.EngineeredRecord) bool { return r.SiteID == siteID }); {
		case n >= 10:
			confidence *= 1.0
		case n >= 5:
			confidence *= 0.9
		default:
			confidence *= 0.7
		}
	}

	if equipmentType != "" {
		switch n := countRows(contextRows, func(r models.EngineeredRecord) bool { return r.EquipmentType == equipmentType }); {
		case n >= 20:
			confidence *= 1.0
		case n >= 10:
			confidence *= 0.9
		default:
			confidence *= 0.8
		}
	}

	// 最新の貸出日からの経過日数で減衰
	if latest, ok := latestCheckout(contextRows); ok {
		days := math.Floor(date.Sub(latest).Hours() / 24)
		if days < 0 {
			days = 0
		}
		confidence *= math.Max(0.5, 1-0.01*days)
	}

	return clamp(confidence, minConfidence, maxConfidence)
}

// ForecastSummary 予測系列の集計
type ForecastSummary struct {
	Trend         string
	TrendStrength float64
	Total         float64
	Average       float64
	Peak          models.ForecastPoint
	Low           models.ForecastPoint
}

// AggregateForecast 傾きからトレンドを判定し、合計・平均・ピーク日・最小日を求める
func AggregateForecast(points []models.ForecastPoint) ForecastSummary {
	summary := ForecastSummary{Trend: "stable"}
	if len(points) == 0 {
		return summary
	}

	demands := make([]float64, len(points))
	peak, low := 0, 0
	for i, p := range points {
		demands[i] = p.PredictedDemand
		summary.Total += p.PredictedDemand
		if p.PredictedDemand > points[peak].PredictedDemand {
			peak = i
		}
		if p.PredictedDemand < points[low].PredictedDemand {
			low = i
		}
	}
	summary.Total = roundTo(summary.Total, 1)
	summary.Average = roundTo(calculateMean(demands), 1)
	summary.Peak = points[peak]
	summary.Low = points[low]

	if fit, err := fitLinearTrend(demands); err == nil {
		switch {
		case math.Abs(fit.Slope) < stableSlopeThreshold:
			summary.Trend = "stable"
		case fit.Slope > 0:
			summary.Trend = "increasing"
		default:
			summary.Trend = "decreasing"
		}
		summary.TrendStrength = roundTo(fit.RSquared, 3)
	}
	return summary
}

func countRows(rows []models.EngineeredRecord, match func(models.EngineeredRecord) bool) int {
	n := 0
	for _, r := range rows {
		if match(r) {
			n++
		}
	}
	return n
}

// latestCheckout 文脈行の最新貸出日
func latestCheckout(rows []models.EngineeredRecord) (time.Time, bool) {
	var latest time.Time
	for _, r := range rows {
		if r.CheckOutDate.After(latest) {
			latest = r.CheckOutDate
		}
	}
	return latest, !latest.IsZero()
}
