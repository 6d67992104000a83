package services

import (
	"errors"
	"log"
	"math"
	"sort"
	"strings"
	"time"

	"rental-ml-api/pkg/models"
)

// 稼働時間が欠損しているときの既定値
const (
	DefaultEngineHours = 6.0
	DefaultIdleHours   = 2.0
)

// ライブデータでは履歴がないため固定値を使う
const (
	liveRentalDuration = 30.0
	liveDailyDemand    = 1.0
	liveDemand7dAvg    = 2.0
	liveDemand30dAvg   = 8.0
)

// 貸出日が欠損しているライブ行のカレンダー既定値
const (
	defaultMonth     = 6
	defaultDayOfWeek = 1
	defaultQuarter   = 2
)

// globalFeatureNames 全体モデルの特徴量（順序固定）
var globalFeatureNames = []string{
	"equipment_type_encoded",
	"site_encoded",
	"month",
	"day_of_week",
	"quarter",
	"is_weekend",
	"seasonal_factor",
	"site_equipment_count",
	"site_avg_utilization",
	"equipment_site_popularity",
	"demand_7d_avg",
	"demand_30d_avg",
	"rental_duration",
	"utilization_ratio",
}

// siteFeatureNames サイト別モデルの特徴量（順序固定）
var siteFeatureNames = []string{
	"equipment_type_encoded",
	"month",
	"day_of_week",
	"quarter",
	"is_weekend",
	"seasonal_factor",
	"demand_7d_avg",
	"demand_30d_avg",
}

// UsageMetrics 稼働率と効率スコア。学習と推論で同じ式を使う。
type UsageMetrics struct {
	EngineHours float64
	IdleHours   float64
	Utilization float64
	Efficiency  float64
}

// ComputeUsage 稼働時間から稼働率と効率スコアを計算する
func ComputeUsage(engine, idle *float64) UsageMetrics {
	e := DefaultEngineHours
	if engine != nil && !math.IsNaN(*engine) {
		e = *engine
	}
	i := DefaultIdleHours
	if idle != nil && !math.IsNaN(*idle) {
		i = *idle
	}

	util := 0.0
	if total := e + i; total > 0 {
		util = e / total
	}
	eff := (e*0.6 + (24-i)*0.4) / 24

	return UsageMetrics{
		EngineHours: e,
		IdleHours:   i,
		Utilization: clamp(util, 0, 1),
		Efficiency:  clamp(eff, 0, 1),
	}
}

// SeasonalFactor 月ごとの季節係数
func SeasonalFactor(month int) float64 {
	switch month {
	case 6, 7, 8:
		return 1.3
	case 12, 1, 2:
		return 0.7
	case 3, 4, 5:
		return 1.1
	default:
		return 1.0
	}
}

// isWinter 冬季（12〜2月）かどうか
func isWinter(month int) bool {
	return month == 12 || month == 1 || month == 2
}

// weekdayIndex 月曜=0 … 日曜=6
func weekdayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// applyCalendar 日付からカレンダー特徴量を設定する
func applyCalendar(r *models.EngineeredRecord, t time.Time) {
	if t.IsZero() {
		r.Month = defaultMonth
		r.DayOfWeek = defaultDayOfWeek
		r.Quarter = defaultQuarter
	} else {
		r.Month = int(t.Month())
		r.DayOfWeek = weekdayIndex(t)
		r.Quarter = (r.Month-1)/3 + 1
	}
	r.IsWeekend = 0
	if r.DayOfWeek >= 5 {
		r.IsWeekend = 1
	}
	r.SeasonalFactor = SeasonalFactor(r.Month)
}

// normalizeRecord 空白を除去し、サイト未設定を UNASSIGNED にする
func normalizeRecord(r models.RentalRecord) models.RentalRecord {
	r.EquipmentID = strings.TrimSpace(r.EquipmentID)
	r.EquipmentType = strings.TrimSpace(r.EquipmentType)
	r.SiteID = strings.TrimSpace(r.SiteID)
	if r.SiteID == "" {
		r.SiteID = models.UnassignedSite
	}
	return r
}

// baseFeatures レコード単位で決まる特徴量を計算する
func baseFeatures(r models.RentalRecord) models.EngineeredRecord {
	usage := ComputeUsage(r.EngineHoursPerDay, r.IdleHoursPerDay)
	er := models.EngineeredRecord{
		RentalRecord:     r,
		EngineHours:      usage.EngineHours,
		IdleHours:        usage.IdleHours,
		UtilizationRatio: usage.Utilization,
		EfficiencyScore:  usage.Efficiency,
	}
	if r.CheckInDate != nil && !r.CheckOutDate.IsZero() {
		days := math.Floor(r.CheckInDate.Sub(r.CheckOutDate).Hours() / 24)
		er.RentalDuration = &days
	}
	applyCalendar(&er, r.CheckOutDate)
	return er
}

type siteTypeKey struct {
	site, equipmentType string
}

type demandKey struct {
	site, equipmentType, day string
}

// applySiteAggregates サイト単位の集計値と機材タイプ人気度を設定する
func applySiteAggregates(rows []models.EngineeredRecord) {
	siteCount := make(map[string]float64)
	siteUtil := make(map[string]float64)
	popularity := make(map[siteTypeKey]float64)
	for _, r := range rows {
		siteCount[r.SiteID]++
		siteUtil[r.SiteID] += r.UtilizationRatio
		popularity[siteTypeKey{r.SiteID, r.EquipmentType}]++
	}
	for i := range rows {
		site := rows[i].SiteID
		rows[i].SiteEquipmentCount = siteCount[site]
		rows[i].SiteAvgUtilization = siteUtil[site] / siteCount[site]
		rows[i].EquipmentSitePopularity = popularity[siteTypeKey{site, rows[i].EquipmentType}]
	}
}

// applyDemandFeatures 日次需要と移動平均需要を設定する。
// 移動平均は (サイト, タイプ, 日) のユニーク行を日付順に並べた末尾7行/30行の平均。
func applyDemandFeatures(rows []models.EngineeredRecord) {
	daily := make(map[demandKey]float64)
	for _, r := range rows {
		daily[demandKey{r.SiteID, r.EquipmentType, dayKey(r.CheckOutDate)}]++
	}

	days := make(map[siteTypeKey][]string)
	for k := range daily {
		g := siteTypeKey{k.site, k.equipmentType}
		days[g] = append(days[g], k.day)
	}

	rolling7 := make(map[demandKey]float64, len(daily))
	rolling30 := make(map[demandKey]float64, len(daily))
	for g, ds := range days {
		sort.Strings(ds)
		series := make([]float64, len(ds))
		for i, d := range ds {
			series[i] = daily[demandKey{g.site, g.equipmentType, d}]
		}
		for i, d := range ds {
			k := demandKey{g.site, g.equipmentType, d}
			rolling7[k] = trailingMean(series, i, 7)
			rolling30[k] = trailingMean(series, i, 30)
		}
	}

	for i := range rows {
		k := demandKey{rows[i].SiteID, rows[i].EquipmentType, dayKey(rows[i].CheckOutDate)}
		rows[i].DailyDemand = daily[k]
		rows[i].Demand7dAvg = rolling7[k]
		rows[i].Demand30dAvg = rolling30[k]
	}
}

// trailingMean series[end-window+1 .. end] の平均（最小ウィンドウ1）
func trailingMean(series []float64, end, window int) float64 {
	start := end - window + 1
	if start < 0 {
		start = 0
	}
	return calculateMean(series[start : end+1])
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// BuildTrainingFeatures 学習データから特徴量を作成し、エンコーダを学習する。
// 貸出日のない行は除外する。
func BuildTrainingFeatures(records []models.RentalRecord) ([]models.EngineeredRecord, *EncoderState) {
	rows := make([]models.EngineeredRecord, 0, len(records))
	skipped := 0
	for _, rec := range records {
		rec = normalizeRecord(rec)
		if rec.CheckOutDate.IsZero() {
			skipped++
			continue
		}
		rows = append(rows, baseFeatures(rec))
	}
	if skipped > 0 {
		log.Printf("[特徴量] 貸出日のない%d行を除外しました", skipped)
	}

	applySiteAggregates(rows)
	applyDemandFeatures(rows)

	types := make([]string, len(rows))
	sites := make([]string, len(rows))
	for i, r := range rows {
		types[i] = r.EquipmentType
		sites[i] = r.SiteID
	}
	enc := FitEncoders(types, sites)
	encodeRows(rows, enc)

	return rows, enc
}

// BuildLiveFeatures ライブ在庫スナップショットから特徴量を作成する。
// 移動平均需要は固定値（学習時との差は既知の近似）。
func BuildLiveFeatures(records []models.RentalRecord, enc *EncoderState) []models.EngineeredRecord {
	rows := make([]models.EngineeredRecord, 0, len(records))
	for _, rec := range records {
		er := baseFeatures(normalizeRecord(rec))
		if er.RentalDuration == nil {
			d := liveRentalDuration
			er.RentalDuration = &d
		}
		er.DailyDemand = liveDailyDemand
		er.Demand7dAvg = liveDemand7dAvg
		er.Demand30dAvg = liveDemand30dAvg
		rows = append(rows, er)
	}
	applySiteAggregates(rows)
	encodeRows(rows, enc)
	return rows
}

// encodeRows カテゴリ列を整数コードに変換する。未学習の値は番兵コード。
func encodeRows(rows []models.EngineeredRecord, enc *EncoderState) {
	if enc == nil {
		enc = &EncoderState{}
	}
	unknown := make(map[string]struct{})
	for i := range rows {
		var err error
		rows[i].EquipmentTypeCode, err = enc.EquipmentType.Encode(rows[i].EquipmentType)
		if err != nil {
			unknown["equipment_type="+rows[i].EquipmentType] = struct{}{}
		}
		rows[i].SiteCode, err = enc.Site.Encode(rows[i].SiteID)
		if err != nil {
			unknown["site_id="+rows[i].SiteID] = struct{}{}
		}
	}
	if len(unknown) > 0 {
		keys := make([]string, 0, len(unknown))
		for k := range unknown {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		log.Printf("[特徴量] ⚠️ 未学習カテゴリを番兵コード%dで扱います: %s", UnknownCategoryCode, strings.Join(keys, ", "))
	}
}

// encodeCategory 単一の値を変換する。未学習なら番兵コードとログ。
func encodeCategory(enc *LabelEncoder, field, value string) int {
	code, err := enc.Encode(value)
	if errors.Is(err, ErrUnknownCategory) {
		log.Printf("[特徴量] ⚠️ %s: %v", field, err)
	}
	return code
}

// globalFeatureVector 全体モデル用の14特徴量。rental_duration が欠損なら false。
func globalFeatureVector(r models.EngineeredRecord) ([]float64, bool) {
	if r.RentalDuration == nil {
		return nil, false
	}
	return []float64{
		float64(r.EquipmentTypeCode),
		float64(r.SiteCode),
		float64(r.Month),
		float64(r.DayOfWeek),
		float64(r.Quarter),
		float64(r.IsWeekend),
		r.SeasonalFactor,
		r.SiteEquipmentCount,
		r.SiteAvgUtilization,
		r.EquipmentSitePopularity,
		r.Demand7dAvg,
		r.Demand30dAvg,
		*r.RentalDuration,
		r.UtilizationRatio,
	}, true
}

// siteFeatureVector サイト別モデル用の8特徴量
func siteFeatureVector(r models.EngineeredRecord) []float64 {
	return []float64{
		float64(r.EquipmentTypeCode),
		float64(r.Month),
		float64(r.DayOfWeek),
		float64(r.Quarter),
		float64(r.IsWeekend),
		r.SeasonalFactor,
		r.Demand7dAvg,
		r.Demand30dAvg,
	}
}
