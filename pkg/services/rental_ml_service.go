package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"rental-ml-api/internal/metrics"
	"rental-ml-api/internal/watcher"
	"rental-ml-api/pkg/models"
)

// 予測日数の範囲
const (
	DefaultForecastDays = 30
	MaxForecastDays     = 365
)

// データソース名
const (
	SourceDatabase = "database"
	SourceTraining = "training"
)

// 推奨事項のしきい値
const (
	lowUtilizationThreshold  = 0.3
	longRentalDays           = 60
	siteConcentrationPercent = 0.3
)

// DatasetReader 学習用データセットを読み込む
type DatasetReader interface {
	ReadRecords(ctx context.Context) ([]models.RentalRecord, error)
}

// InventorySource ライブ在庫のスナップショットを返す
type InventorySource interface {
	ActiveRentals(ctx context.Context) ([]models.RentalRecord, error)
	TotalEquipmentCount(ctx context.Context) (int, error)
	ActiveRentalCount(ctx context.Context) (int, error)
}

// AlertPublisher 重要度の高い異常を外部へ通知する
type AlertPublisher interface {
	Publish(ctx context.Context, anomalies []models.AnomalyRecord) error
}

// EventRecorder エンジンイベントの記録先
type EventRecorder interface {
	RecordEvent(kind, message string, err error)
}

// WatcherStatus 変更通知の状態を返すもの
type WatcherStatus interface {
	Status() watcher.Status
}

// RentalMLDeps エンジンの協調オブジェクト。Dataset 以外は nil でもよい。
type RentalMLDeps struct {
	Dataset   DatasetReader
	Inventory InventorySource
	Store     ModelStore
	Alerts    AlertPublisher
	Events    EventRecorder
}

// engineSnapshot 学習済みバンクと学習データの組。差し替えのみで変更しない。
type engineSnapshot struct {
	bank    *ModelBank
	records []models.RentalRecord
	rows    []models.EngineeredRecord
}

func (s *engineSnapshot) trained() bool {
	return s != nil && s.bank != nil
}

// DatabaseStatus ライブ在庫と変更通知の状態
type DatabaseStatus struct {
	Connected      bool             `json:"connected"`
	TotalEquipment int              `json:"total_equipment"`
	ActiveRentals  int              `json:"active_rentals"`
	Error          string           `json:"error,omitempty"`
	Watchers       []watcher.Status `json:"watchers"`
	CheckedAt      string           `json:"checked_at"`
}

// RentalMLService 需要予測と異常検知のエンジン
type RentalMLService struct {
	dataset   DatasetReader
	inventory InventorySource
	store     ModelStore
	alerts    AlertPublisher
	events    EventRecorder

	snapshot   atomic.Pointer[engineSnapshot]
	retrainMu  sync.Mutex
	retraining atomic.Bool

	watchersMu sync.RWMutex
	watchers   []WatcherStatus

	now func() time.Time
}

// NewRentalMLService エンジンを生成する。学習は Initialize で行う。
func NewRentalMLService(deps RentalMLDeps) *RentalMLService {
	return &RentalMLService{
		dataset:   deps.Dataset,
		inventory: deps.Inventory,
		store:     deps.Store,
		alerts:    deps.Alerts,
		events:    deps.Events,
		now:       time.Now,
	}
}

// AddWatcher DatabaseStatus に表示する変更通知を登録する
func (s *RentalMLService) AddWatcher(w WatcherStatus) {
	s.watchersMu.Lock()
	defer s.watchersMu.Unlock()
	s.watchers = append(s.watchers, w)
}

func (s *RentalMLService) current() *engineSnapshot {
	return s.snapshot.Load()
}

func (s *RentalMLService) swap(next *engineSnapshot) {
	s.snapshot.Store(next)
	if next.trained() {
		metrics.SetModelState(true, len(next.bank.PerSite))
		return
	}
	metrics.SetModelState(false, 0)
}

func (s *RentalMLService) recordEvent(kind, message string, err error) {
	if s.events != nil {
		s.events.RecordEvent(kind, message, err)
	}
}

// Initialize 保存済みモデルを読み込み、なければ学習する。
// データ不足で学習できない場合は未学習のまま起動する。
func (s *RentalMLService) Initialize(ctx context.Context) error {
	if s.store != nil {
		err := s.Load(ctx)
		if err == nil {
			return nil
		}
		log.Printf("[初期化] 保存済みモデルを使用できないため学習します: %v", err)
	}

	err := s.Retrain(ctx)
	if errors.Is(err, ErrInsufficientData) {
		log.Printf("[初期化] ⚠️ 未学習のまま起動します: %v", err)
		return nil
	}
	return err
}

// Retrain データセットを読み直して学習する。失敗時は現在のバンクを使い続ける。
func (s *RentalMLService) Retrain(ctx context.Context) error {
	if !s.retrainMu.TryLock() {
		metrics.ObserveRetrain(0, metrics.OutcomeSkipped)
		return ErrRetrainInProgress
	}
	defer s.retrainMu.Unlock()
	s.retraining.Store(true)
	defer s.retraining.Store(false)

	start := time.Now()
	err := s.retrain(ctx)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		metrics.ObserveRetrain(elapsed, metrics.OutcomeSuccess)
		snap := s.current()
		s.recordEvent("retrain", fmt.Sprintf("model %s trained on %d rows", snap.bank.Version, len(snap.rows)), nil)
	case errors.Is(err, ErrInsufficientData):
		metrics.ObserveRetrain(elapsed, metrics.OutcomeSkipped)
		s.recordEvent("retrain", "training skipped", err)
	default:
		metrics.ObserveRetrain(elapsed, metrics.OutcomeError)
		log.Printf("[学習] ❌ 再学習に失敗しました。現在のモデルを継続使用します: %v", err)
		s.recordEvent("retrain", "retrain failed", err)
	}
	return err
}

func (s *RentalMLService) retrain(ctx context.Context) error {
	if s.dataset == nil {
		return fmt.Errorf("データセットが設定されていません: %w", ErrNoData)
	}
	records, err := s.dataset.ReadRecords(ctx)
	if err != nil {
		return fmt.Errorf("データセットの読み込みに失敗しました: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	rows, enc := BuildTrainingFeatures(records)
	bank, err := TrainModelBank(rows, enc)
	if err != nil {
		// 未学習ならデータ件数だけは反映する
		if errors.Is(err, ErrInsufficientData) && !s.current().trained() {
			s.swap(&engineSnapshot{records: records, rows: rows})
		}
		return err
	}

	s.swap(&engineSnapshot{bank: bank, records: records, rows: rows})
	log.Printf("[学習] ✅ モデル %s を適用しました（%d行）", bank.Version, len(rows))
	return nil
}

// TriggerReload 変更通知から呼ばれる。再学習は別ゴルーチンで行い、実行中なら何もしない。
func (s *RentalMLService) TriggerReload(ctx context.Context, reason string) {
	if s.retraining.Load() {
		log.Printf("[再学習] 実行中のためスキップします: %s", reason)
		return
	}
	log.Printf("[再学習] 🔄 %s", reason)
	go func() {
		err := s.Retrain(context.WithoutCancel(ctx))
		if errors.Is(err, ErrRetrainInProgress) {
			log.Printf("[再学習] 実行中のためスキップします: %s", reason)
		}
	}()
}

// Status エンジンの状態を返す
func (s *RentalMLService) Status(ctx context.Context) models.ModelStatus {
	snap := s.current()
	status := models.ModelStatus{Retraining: s.retraining.Load()}
	if snap != nil {
		status.DataRecordCount = len(snap.rows)
	}
	if snap.trained() {
		metricsCopy := snap.bank.Metrics
		status.Trained = true
		status.SiteModels = len(snap.bank.PerSite)
		status.PendingSites = snap.bank.PendingSites
		status.ModelVersion = snap.bank.Version
		status.TrainedAt = snap.bank.TrainedAt.Format(time.RFC3339)
		status.Metrics = &metricsCopy
	}
	if s.store != nil {
		keys, err := s.store.Keys(ctx)
		if err != nil {
			log.Printf("[状態] ⚠️ モデルストアの一覧取得に失敗しました: %v", err)
		} else {
			status.SavedModelKeys = keys
		}
	}
	return status
}

// liveRecords ライブ在庫を取得する。取得できなければ false。
func (s *RentalMLService) liveRecords(ctx context.Context) ([]models.RentalRecord, bool) {
	if s.inventory == nil {
		return nil, false
	}
	records, err := s.inventory.ActiveRentals(ctx)
	if err != nil {
		log.Printf("[在庫] ⚠️ 学習データにフォールバックします: %v", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err))
		return nil, false
	}
	if len(records) == 0 {
		log.Printf("[在庫] 貸出中のレコードがないため学習データを使用します")
		return nil, false
	}
	return records, true
}

// filterRows タイプとサイトで絞り込む。UNASSIGNED はサイト指定なしと同じ。
func filterRows(rows []models.EngineeredRecord, equipmentType, siteID string) []models.EngineeredRecord {
	if siteID == models.UnassignedSite {
		siteID = ""
	}
	if equipmentType == "" && siteID == "" {
		return rows
	}
	filtered := make([]models.EngineeredRecord, 0)
	for _, r := range rows {
		if equipmentType != "" && r.EquipmentType != equipmentType {
			continue
		}
		if siteID != "" && r.SiteID != siteID {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered
}

// forecastContext ライブ在庫から条件に合う行を取り出す。なければ学習データ。
func (s *RentalMLService) forecastContext(ctx context.Context, snap *engineSnapshot, equipmentType, siteID string) ([]models.EngineeredRecord, string) {
	if live, ok := s.liveRecords(ctx); ok {
		rows := filterRows(BuildLiveFeatures(live, snap.bank.Encoders), equipmentType, siteID)
		if len(rows) > 0 {
			return rows, SourceDatabase
		}
	}
	return filterRows(snap.rows, equipmentType, siteID), SourceTraining
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Forecast 指定日数の需要予測を行う
func (s *RentalMLService) Forecast(ctx context.Context, equipmentType, siteID string, days int) (*models.ForecastResult, error) {
	equipmentType = strings.TrimSpace(equipmentType)
	siteID = strings.TrimSpace(siteID)

	if days < 1 || days > MaxForecastDays {
		return nil, fmt.Errorf("days_ahead は1〜%dの範囲で指定してください: %d: %w", MaxForecastDays, days, ErrInvalidArgument)
	}

	snap := s.current()
	if !snap.trained() {
		metrics.ObserveForecast("", ErrNotTrained)
		return nil, ErrNotTrained
	}
	bank := snap.bank

	contextRows, source := s.forecastContext(ctx, snap, equipmentType, siteID)
	if len(contextRows) == 0 && (equipmentType != "" || siteID != "") {
		err := fmt.Errorf("equipment_type=%q site_id=%q: %w", equipmentType, siteID, ErrNoMatchingData)
		metrics.ObserveForecast("", err)
		return nil, err
	}

	bank.warnUnknownCategories(equipmentType, siteID)
	if siteID != "" && siteID != models.UnassignedSite && equipmentType != "" && !bank.HasSiteModel(siteID) {
		log.Printf("[需要予測] サイト %s のモデルがないため全体モデルを使用します", siteID)
	}

	base, ok := latestCheckout(contextRows)
	if !ok {
		base = s.now()
	}
	base = truncateDay(base)

	points := make([]models.ForecastPoint, 0, days)
	scope := ScopeGlobal
	for i := 1; i <= days; i++ {
		date := base.AddDate(0, 0, i)
		raw, usedScope, err := bank.Predict(equipmentType, siteID, date, contextRows)
		if err != nil {
			metrics.ObserveForecast(scope, err)
			return nil, fmt.Errorf("需要予測に失敗しました: %w", err)
		}
		scope = usedScope
		demand := ConstrainPrediction(raw, date, equipmentType, siteID, contextRows)
		confidence := ForecastConfidence(contextRows, equipmentType, siteID, date)
		points = append(points, models.ForecastPoint{
			Date:            date.Format("2006-01-02"),
			DayOfWeek:       date.Weekday().String(),
			PredictedDemand: roundTo(demand, 1),
			Confidence:      roundTo(confidence, 2),
		})
	}

	summary := AggregateForecast(points)
	metrics.ObserveForecast(scope, nil)
	log.Printf("[需要予測] ✅ %d日分を予測しました（type=%q site=%q scope=%s source=%s）", days, equipmentType, siteID, scope, source)

	return &models.ForecastResult{
		EquipmentType:        equipmentType,
		SiteID:               siteID,
		ForecastDays:         days,
		Forecasts:            points,
		Trend:                summary.Trend,
		TrendStrength:        summary.TrendStrength,
		TotalPredictedDemand: summary.Total,
		AverageDailyDemand:   summary.Average,
		PeakDemandDay:        summary.Peak,
		LowDemandDay:         summary.Low,
		ModelScope:           scope,
		DataSource:           source,
		GeneratedAt:          s.now().Format(time.RFC3339),
	}, nil
}

// fleetSize 在庫の総台数。取得できなければ学習データの台数。
func (s *RentalMLService) fleetSize(ctx context.Context, snap *engineSnapshot) int {
	if s.inventory != nil {
		total, err := s.inventory.TotalEquipmentCount(ctx)
		if err == nil && total > 0 {
			return total
		}
		if err != nil {
			log.Printf("[在庫] ⚠️ 総台数を取得できません: %v", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err))
		}
	}
	return distinctEquipment(snap.records)
}

func distinctEquipment(records []models.RentalRecord) int {
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		seen[r.EquipmentID] = struct{}{}
	}
	return len(seen)
}

// DetectAnomalies 貸出中の機材を異常ルールで判定する
func (s *RentalMLService) DetectAnomalies(ctx context.Context, equipmentID string) (*models.AnomalyResult, error) {
	equipmentID = strings.TrimSpace(equipmentID)

	snap := s.current()
	if !snap.trained() {
		metrics.ObserveAnomalyScan("", nil, ErrNotTrained)
		return nil, ErrNotTrained
	}

	records, source := snap.records, SourceTraining
	if live, ok := s.liveRecords(ctx); ok {
		records, source = live, SourceDatabase
	}

	anomalies := make([]models.AnomalyRecord, 0)
	scanned := 0
	for _, r := range records {
		if !isLiveActive(r) {
			continue
		}
		if equipmentID != "" && strings.TrimSpace(r.EquipmentID) != equipmentID {
			continue
		}
		scanned++
		if a, ok := ScoreAnomaly(r); ok {
			anomalies = append(anomalies, a)
		}
	}
	if equipmentID != "" && scanned == 0 {
		err := fmt.Errorf("equipment_id=%q: %w", equipmentID, ErrNoMatchingData)
		metrics.ObserveAnomalyScan(source, nil, err)
		return nil, err
	}

	summary := SummarizeAnomalies(anomalies, s.fleetSize(ctx, snap), scanned)
	metrics.ObserveAnomalyScan(source, summary.AnomalyTypes, nil)
	log.Printf("[異常検知] ✅ %d件中%d件の異常（source=%s）", scanned, len(anomalies), source)

	s.publishAlerts(ctx, anomalies)

	return &models.AnomalyResult{
		Anomalies:   anomalies,
		Summary:     summary,
		DataSource:  source,
		GeneratedAt: s.now().Format(time.RFC3339),
	}, nil
}

// publishAlerts 重要度 high の異常を通知する。失敗はログのみ。
func (s *RentalMLService) publishAlerts(ctx context.Context, anomalies []models.AnomalyRecord) {
	if s.alerts == nil {
		return
	}
	high := make([]models.AnomalyRecord, 0)
	for _, a := range anomalies {
		if a.Severity == SeverityHigh {
			high = append(high, a)
		}
	}
	if len(high) == 0 {
		return
	}
	if err := s.alerts.Publish(ctx, high); err != nil {
		log.Printf("[異常検知] ⚠️ アラート通知に失敗しました: %v", err)
	}
}

// usageTotals エンジン・アイドル時間の合計と件数（nil は除外）
type usageTotals struct {
	engineSum, idleSum     float64
	engineCount, idleCount int
	total, active          int
}

func (u *usageTotals) add(r models.RentalRecord) {
	u.total++
	if r.CheckInDate == nil {
		u.active++
	}
	if r.EngineHoursPerDay != nil {
		u.engineSum += *r.EngineHoursPerDay
		u.engineCount++
	}
	if r.IdleHoursPerDay != nil {
		u.idleSum += *r.IdleHoursPerDay
		u.idleCount++
	}
}

func (u *usageTotals) avgEngine() float64 {
	if u.engineCount == 0 {
		return 0
	}
	return u.engineSum / float64(u.engineCount)
}

func (u *usageTotals) avgIdle() float64 {
	if u.idleCount == 0 {
		return 0
	}
	return u.idleSum / float64(u.idleCount)
}

func percent(part, whole float64) float64 {
	if whole <= 0 {
		return 0
	}
	return part / whole * 100
}

// GetEquipmentStats 全体・機材タイプ別・サイト別の稼働統計
func (s *RentalMLService) GetEquipmentStats(ctx context.Context) (*models.EquipmentStats, error) {
	snap := s.current()

	var records []models.RentalRecord
	source := SourceTraining
	if snap != nil {
		records = snap.records
	}
	if live, ok := s.liveRecords(ctx); ok {
		records, source = live, SourceDatabase
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("統計対象のデータがありません: %w", ErrNoData)
	}

	var overall usageTotals
	byType := make(map[string]*usageTotals)
	bySite := make(map[string]*usageTotals)
	for _, r := range records {
		r = normalizeRecord(r)
		overall.add(r)
		if r.EquipmentType != "" {
			if byType[r.EquipmentType] == nil {
				byType[r.EquipmentType] = &usageTotals{}
			}
			byType[r.EquipmentType].add(r)
		}
		if r.SiteID != models.UnassignedSite {
			if bySite[r.SiteID] == nil {
				bySite[r.SiteID] = &usageTotals{}
			}
			bySite[r.SiteID].add(r)
		}
	}

	totalEquipment := 0
	active := overall.active
	if s.inventory != nil {
		if n, err := s.inventory.TotalEquipmentCount(ctx); err == nil {
			totalEquipment = n
		} else {
			log.Printf("[統計] ⚠️ 総台数を取得できません: %v", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err))
		}
		if n, err := s.inventory.ActiveRentalCount(ctx); err == nil {
			active = n
		} else {
			log.Printf("[統計] ⚠️ 貸出件数を取得できません: %v", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err))
		}
	}
	if totalEquipment == 0 {
		totalEquipment = distinctEquipment(records)
	}

	stats := &models.EquipmentStats{
		Overall: models.OverallStats{
			UtilizationRate:    roundTo(percent(float64(active), float64(totalEquipment)), 1),
			ActiveRentals:      active,
			TotalEquipment:     totalEquipment,
			AverageUtilization: roundTo(percent(overall.engineSum, overall.engineSum+overall.idleSum), 1),
			TotalEngineHours:   roundTo(overall.engineSum, 2),
		},
		ByEquipmentType: make(map[string]models.TypeStats, len(byType)),
		BySite:          make(map[string]models.SiteStats, len(bySite)),
		DataSource:      source,
	}

	for name, t := range byType {
		engine, idle := t.avgEngine(), t.avgIdle()
		efficiency := 0.0
		if engine > 0 {
			efficiency = engine / 8.0
		}
		stats.ByEquipmentType[name] = models.TypeStats{
			UtilizationRate: roundTo(percent(float64(t.active), float64(t.total)), 1),
			ActiveRentals:   t.active,
			Count:           t.total,
			AvgEngineHours:  roundTo(engine, 2),
			AvgIdleHours:    roundTo(idle, 2),
			AvgUtilization:  roundTo(percent(engine, engine+idle), 1),
			AvgEfficiency:   roundTo(min(efficiency, 1.0), 3),
		}
	}
	for site, t := range bySite {
		stats.BySite[site] = models.SiteStats{
			EquipmentCount: t.total,
			ActiveRentals:  t.active,
			AvgEngineHours: roundTo(t.avgEngine(), 2),
			AvgIdleHours:   roundTo(t.avgIdle(), 2),
		}
	}
	return stats, nil
}

// GetRecommendations 学習データから改善提案を作る
func (s *RentalMLService) GetRecommendations() (*models.RecommendationResult, error) {
	snap := s.current()
	if snap == nil || len(snap.rows) == 0 {
		return nil, ErrNoData
	}
	rows := snap.rows

	recommendations := make([]models.Recommendation, 0)

	lowUtil, longRentals := 0, 0
	siteCounts := make(map[string]int)
	for _, r := range rows {
		if r.UtilizationRatio < lowUtilizationThreshold {
			lowUtil++
		}
		if r.RentalDuration != nil && *r.RentalDuration > longRentalDays {
			longRentals++
		}
		if r.SiteID != models.UnassignedSite {
			siteCounts[r.SiteID]++
		}
	}

	if lowUtil > 0 {
		recommendations = append(recommendations, models.Recommendation{
			Type:        "utilization",
			Priority:    "medium",
			Title:       "Low Equipment Utilization",
			Description: fmt.Sprintf("%d equipment items have utilization below 30%%", lowUtil),
			Action:      "Consider reallocating underutilized equipment or adjusting rental rates",
		})
	}
	if longRentals > 0 {
		recommendations = append(recommendations, models.Recommendation{
			Type:        "duration",
			Priority:    "low",
			Title:       "Long-term Rentals",
			Description: fmt.Sprintf("%d rentals exceed %d days", longRentals, longRentalDays),
			Action:      "Evaluate if long-term rentals are optimal for your business model",
		})
	}

	if site, count, ok := busiestSite(siteCounts); ok && float64(count) > float64(len(rows))*siteConcentrationPercent {
		recommendations = append(recommendations, models.Recommendation{
			Type:        "distribution",
			Priority:    "medium",
			Title:       "Site Concentration",
			Description: fmt.Sprintf("Site %s accounts for %d rentals", site, count),
			Action:      "Consider diversifying operations across more sites",
		})
	}

	return &models.RecommendationResult{
		Recommendations:      recommendations,
		TotalRecommendations: len(recommendations),
		GeneratedAt:          s.now().Format(time.RFC3339),
	}, nil
}

// busiestSite 件数が最大のサイト。同数なら名前順で先のもの。
func busiestSite(counts map[string]int) (string, int, bool) {
	sites := make([]string, 0, len(counts))
	for site := range counts {
		sites = append(sites, site)
	}
	if len(sites) == 0 {
		return "", 0, false
	}
	sort.Slice(sites, func(i, j int) bool {
		if counts[sites[i]] != counts[sites[j]] {
			return counts[sites[i]] > counts[sites[j]]
		}
		return sites[i] < sites[j]
	})
	return sites[0], counts[sites[0]], true
}

// Save 現在のバンクをモデルストアへ保存する
func (s *RentalMLService) Save(ctx context.Context) ([]string, error) {
	if s.store == nil {
		return nil, fmt.Errorf("モデルストアが設定されていません")
	}
	snap := s.current()
	if !snap.trained() {
		return nil, ErrNotTrained
	}
	keys, err := snap.bank.Save(ctx, s.store)
	if err != nil {
		s.recordEvent("save", "model save failed", err)
		return nil, err
	}
	log.Printf("[モデル保存] ✅ モデル %s を保存しました（%d件）", snap.bank.Version, len(keys))
	s.recordEvent("save", fmt.Sprintf("model %s saved (%d blobs)", snap.bank.Version, len(keys)), nil)
	return keys, nil
}

// Load 保存済みバンクを復元する。欠けたサイト別モデルは学習データで作り直す。
func (s *RentalMLService) Load(ctx context.Context) error {
	if s.store == nil {
		return fmt.Errorf("モデルストアが設定されていません")
	}
	if !s.retrainMu.TryLock() {
		return ErrRetrainInProgress
	}
	defer s.retrainMu.Unlock()

	err := s.load(ctx)
	if err != nil {
		s.recordEvent("load", "model load failed", err)
		return err
	}
	snap := s.current()
	log.Printf("[モデル読込] ✅ モデル %s を読み込みました（サイト別 %d件）", snap.bank.Version, len(snap.bank.PerSite))
	s.recordEvent("load", fmt.Sprintf("model %s loaded", snap.bank.Version), nil)
	return nil
}

func (s *RentalMLService) load(ctx context.Context) error {
	bank, err := LoadModelBank(ctx, s.store)
	if err != nil {
		return err
	}

	var records []models.RentalRecord
	var rows []models.EngineeredRecord
	if s.dataset != nil {
		records, err = s.dataset.ReadRecords(ctx)
		if err != nil {
			return fmt.Errorf("データセットの読み込みに失敗しました: %w", err)
		}
		rows, _ = BuildTrainingFeatures(records)
		// 保存済みエンコーダのコードに揃える
		encodeRows(rows, bank.Encoders)
		bank = bank.WithRetrainedSites(rows)
	}

	s.swap(&engineSnapshot{bank: bank, records: records, rows: rows})
	return nil
}

// DatabaseStatus ライブ在庫の接続状態と変更通知の状態
func (s *RentalMLService) DatabaseStatus(ctx context.Context) DatabaseStatus {
	status := DatabaseStatus{
		Watchers:  make([]watcher.Status, 0),
		CheckedAt: s.now().Format(time.RFC3339),
	}

	s.watchersMu.RLock()
	for _, w := range s.watchers {
		status.Watchers = append(status.Watchers, w.Status())
	}
	s.watchersMu.RUnlock()

	if s.inventory == nil {
		status.Error = "inventory database is not configured"
		return status
	}
	total, err := s.inventory.TotalEquipmentCount(ctx)
	if err != nil {
		status.Error = fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err).Error()
		return status
	}
	active, err := s.inventory.ActiveRentalCount(ctx)
	if err != nil {
		status.Error = fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err).Error()
		return status
	}
	status.Connected = true
	status.TotalEquipment = total
	status.ActiveRentals = active
	return status
}
