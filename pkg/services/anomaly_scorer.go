package services

import (
	"strings"

	"rental-ml-api/pkg/models"
)

// 異常の種別
const (
	AlertLowUtilization = "low_utilization"
	AlertHighIdleTime   = "high_idle_time"
	AlertNoUsage        = "no_usage"
)

// 重要度
const (
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// anomalyRule 稼働指標に対する判定ルール
type anomalyRule struct {
	alertType string
	severity  string
	match     func(u UsageMetrics) bool
}

// anomalyRules 評価順は固定。alert_type は最初に一致したルール。
var anomalyRules = []anomalyRule{
	{AlertLowUtilization, SeverityMedium, func(u UsageMetrics) bool { return u.Utilization < 0.35 }},
	{AlertHighIdleTime, SeverityHigh, func(u UsageMetrics) bool { return u.IdleHours > 6 }},
	{AlertNoUsage, SeverityHigh, func(u UsageMetrics) bool { return u.EngineHours == 0 && u.IdleHours > 0 }},
}

// isLiveActive 貸出中かつステータスが available でない
func isLiveActive(r models.RentalRecord) bool {
	return r.IsActive() && !strings.EqualFold(strings.TrimSpace(r.Status), "available")
}

// ScoreAnomaly 全ルールを独立に評価する。一致がなければ false。
func ScoreAnomaly(r models.RentalRecord) (models.AnomalyRecord, bool) {
	r = normalizeRecord(r)
	usage := ComputeUsage(r.EngineHoursPerDay, r.IdleHoursPerDay)

	var matched []string
	severity := ""
	for _, rule := range anomalyRules {
		if !rule.match(usage) {
			continue
		}
		matched = append(matched, rule.alertType)
		if severity != SeverityHigh {
			severity = rule.severity
		}
	}
	if len(matched) == 0 {
		return models.AnomalyRecord{}, false
	}

	return models.AnomalyRecord{
		EquipmentID:   r.EquipmentID,
		EquipmentType: r.EquipmentType,
		AlertType:     matched[0],
		AlertTypes:    matched,
		Severity:      severity,
		SiteID:        r.SiteID,
		Metrics: models.AnomalyMetrics{
			EngineHours: usage.EngineHours,
			IdleHours:   usage.IdleHours,
			Utilization: roundTo(usage.Utilization, 3),
			Efficiency:  roundTo(usage.Efficiency, 3),
		},
	}, true
}

// SummarizeAnomalies 件数・異常率・影響範囲を集計する
func SummarizeAnomalies(anomalies []models.AnomalyRecord, fleetSize, scanned int) models.AnomalySummary {
	summary := models.AnomalySummary{
		TotalAnomalies: len(anomalies),
		TotalRecords:   fleetSize,
		ActiveRentals:  scanned,
		AnomalyTypes:   make(map[string]int),
	}
	if scanned > 0 {
		summary.AnomalyRate = roundTo(float64(len(anomalies))/float64(scanned)*100, 2)
	}

	equipment := make(map[string]struct{})
	sites := make(map[string]struct{})
	for _, a := range anomalies {
		summary.AnomalyTypes[a.AlertType]++
		equipment[a.EquipmentID] = struct{}{}
		if a.SiteID != models.UnassignedSite {
			sites[a.SiteID] = struct{}{}
		}
	}
	summary.EquipmentAffected = len(equipment)
	summary.SitesAffected = len(sites)
	return summary
}
