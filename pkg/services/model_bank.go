package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"slices"
	"sort"
	"strings"
	"time"

	"rental-ml-api/internal/modelstore"
	"rental-ml-api/pkg/models"

	"github.com/google/uuid"
)

// 学習に必要な最小行数
const (
	minTrainingRows  = 50
	minCleanRows     = 30
	minSiteRows      = 10
	minSiteCleanRows = 5
	holdoutEvery     = 5
)

// モデルのスコープ
const (
	ScopeGlobal = "global"
	ScopeSite   = "site"
)

// モデルストアのキー。manifest 以外は "<version>/" 配下に置く。
const (
	manifestKey   = "manifest"
	globalKey     = "global"
	scalerKey     = "scaler"
	encodersKey   = "encoders"
	sitePrefixKey = "site/"
)

// blobKey バージョン付きのブロブキー
func blobKey(version, name string) string {
	return version + "/" + name
}

// ModelStore 学習済みモデルのバイト列をキーで保存する
type ModelStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// ModelBank 全体モデルとサイト別モデルの組。生成後は変更しない。
type ModelBank struct {
	Global       *LinearModel
	Scaler       *StandardScaler
	PerSite      map[string]*LinearModel
	Encoders     *EncoderState
	TrainedAt    time.Time
	Version      string
	Metrics      models.ModelMetrics
	PendingSites []string
}

// bankManifest 保存時のメタデータ
type bankManifest struct {
	Version        string              `json:"version"`
	TrainedAt      time.Time           `json:"trained_at"`
	Metrics        models.ModelMetrics `json:"metrics"`
	Sites          []string            `json:"sites"`
	GlobalFeatures []string            `json:"global_features"`
	SiteFeatures   []string            `json:"site_features"`
}

// TrainModelBank 特徴量行から全体モデルとサイト別モデルを学習する
func TrainModelBank(rows []models.EngineeredRecord, enc *EncoderState) (*ModelBank, error) {
	if len(rows) < minTrainingRows {
		return nil, fmt.Errorf("学習データが%d行しかありません（最低%d行）: %w", len(rows), minTrainingRows, ErrInsufficientData)
	}

	var X [][]float64
	var y []float64
	for _, r := range rows {
		vec, ok := globalFeatureVector(r)
		if !ok {
			continue
		}
		X = append(X, vec)
		y = append(y, r.DailyDemand)
	}
	if len(X) < minCleanRows {
		return nil, fmt.Errorf("欠損のない行が%d行しかありません（最低%d行）: %w", len(X), minCleanRows, ErrInsufficientData)
	}

	// 5行ごとに1行をホールドアウトに回す
	var trainX, testX [][]float64
	var trainY, testY []float64
	for i := range X {
		if i%holdoutEvery == holdoutEvery-1 {
			testX = append(testX, X[i])
			testY = append(testY, y[i])
			continue
		}
		trainX = append(trainX, X[i])
		trainY = append(trainY, y[i])
	}

	scaler, err := FitStandardScaler(trainX)
	if err != nil {
		return nil, fmt.Errorf("標準化に失敗しました: %w", err)
	}
	scaledTrain, err := transformAll(scaler, trainX)
	if err != nil {
		return nil, err
	}
	global, err := fitRidge(globalFeatureNames, scaledTrain, trainY, defaultRidgeLambda)
	if err != nil {
		return nil, fmt.Errorf("全体モデルの学習に失敗しました: %w", err)
	}

	scaledTest, err := transformAll(scaler, testX)
	if err != nil {
		return nil, err
	}
	predicted := make([]float64, len(scaledTest))
	for i, row := range scaledTest {
		if predicted[i], err = global.Predict(row); err != nil {
			return nil, err
		}
	}
	mse, mae, r2 := regressionScores(testY, predicted)

	bank := &ModelBank{
		Global:    global,
		Scaler:    scaler,
		PerSite:   trainSiteModels(rows, nil),
		Encoders:  enc,
		TrainedAt: time.Now(),
		Version:   uuid.New().String(),
		Metrics: models.ModelMetrics{
			MSE:        mse,
			MAE:        mae,
			R2:         r2,
			TrainRows:  len(trainX),
			TestRows:   len(testX),
			CleanRows:  len(X),
			SourceRows: len(rows),
		},
	}
	log.Printf("[学習] ✅ 全体モデル: MSE=%.4f MAE=%.4f R²=%.4f (train=%d, test=%d)", mse, mae, r2, len(trainX), len(testX))
	log.Printf("[学習] ✅ サイト別モデル: %d件", len(bank.PerSite))
	return bank, nil
}

func transformAll(scaler *StandardScaler, X [][]float64) ([][]float64, error) {
	out := make([][]float64, len(X))
	for i, row := range X {
		scaled, err := scaler.Transform(row)
		if err != nil {
			return nil, err
		}
		out[i] = scaled
	}
	return out, nil
}

// trainSiteModels 条件を満たすサイトごとに8特徴量モデルを学習する。
// only が空でなければそのサイトだけを対象にする。
func trainSiteModels(rows []models.EngineeredRecord, only map[string]bool) map[string]*LinearModel {
	bySite := make(map[string][]models.EngineeredRecord)
	for _, r := range rows {
		if r.SiteID == models.UnassignedSite {
			continue
		}
		if only != nil && !only[r.SiteID] {
			continue
		}
		bySite[r.SiteID] = append(bySite[r.SiteID], r)
	}

	sites := make([]string, 0, len(bySite))
	for s := range bySite {
		sites = append(sites, s)
	}
	sort.Strings(sites)

	result := make(map[string]*LinearModel)
	for _, site := range sites {
		siteRows := bySite[site]
		if len(siteRows) < minSiteRows {
			continue
		}
		var X [][]float64
		var y []float64
		for _, r := range siteRows {
			if r.RentalDuration == nil {
				continue
			}
			X = append(X, siteFeatureVector(r))
			y = append(y, r.DailyDemand)
		}
		if len(X) < minSiteCleanRows {
			continue
		}
		m, err := fitRidge(siteFeatureNames, X, y, defaultRidgeLambda)
		if err != nil {
			log.Printf("[学習] ⚠️ サイト %s のモデル学習をスキップ: %v", site, err)
			continue
		}
		result[site] = m
	}
	return result
}

// Predict 指定日の需要を予測する。使ったモデルのスコープも返す。
func (b *ModelBank) Predict(equipmentType, siteID string, date time.Time, contextRows []models.EngineeredRecord) (float64, string, error) {
	if b == nil || b.Global == nil || b.Scaler == nil || b.Encoders == nil {
		return 0, "", ErrNotTrained
	}

	ctxf := summarizeContext(contextRows)

	typeCode := ctxf.typeCode
	if equipmentType != "" {
		typeCode, _ = b.Encoders.EquipmentType.Encode(equipmentType)
	}
	siteCode := ctxf.siteCode
	if siteID != "" {
		siteCode, _ = b.Encoders.Site.Encode(siteID)
	}

	var cal models.EngineeredRecord
	applyCalendar(&cal, date)

	if siteID != "" && siteID != models.UnassignedSite && equipmentType != "" {
		if m, ok := b.PerSite[siteID]; ok {
			row := cal
			row.EquipmentTypeCode = typeCode
			row.Demand7dAvg = ctxf.demand7d
			row.Demand30dAvg = ctxf.demand30d
			pred, err := m.Predict(siteFeatureVector(row))
			if err != nil {
				return 0, "", fmt.Errorf("サイト別モデルの予測に失敗しました: %w", err)
			}
			return pred, ScopeSite, nil
		}
	}

	duration := ctxf.duration
	row := cal
	row.EquipmentTypeCode = typeCode
	row.SiteCode = siteCode
	row.SiteEquipmentCount = ctxf.siteCount
	row.SiteAvgUtilization = ctxf.siteAvgUtil
	row.EquipmentSitePopularity = ctxf.popularity
	row.Demand7dAvg = ctxf.demand7d
	row.Demand30dAvg = ctxf.demand30d
	row.RentalDuration = &duration
	row.UtilizationRatio = ctxf.utilization

	vec, _ := globalFeatureVector(row)
	scaled, err := b.Scaler.Transform(vec)
	if err != nil {
		return 0, "", fmt.Errorf("標準化に失敗しました: %w", err)
	}
	pred, err := b.Global.Predict(scaled)
	if err != nil {
		return 0, "", fmt.Errorf("全体モデルの予測に失敗しました: %w", err)
	}
	return pred, ScopeGlobal, nil
}

// HasSiteModel サイト別モデルがあるか
func (b *ModelBank) HasSiteModel(siteID string) bool {
	_, ok := b.PerSite[siteID]
	return ok
}

// warnUnknownCategories 未学習のタイプ・サイトをログに残す（予測は番兵コードで続行）
func (b *ModelBank) warnUnknownCategories(equipmentType, siteID string) {
	if equipmentType != "" {
		encodeCategory(b.Encoders.EquipmentType, "equipment_type", equipmentType)
	}
	if siteID != "" {
		encodeCategory(b.Encoders.Site, "site_id", siteID)
	}
}

// contextFeatures 予測日から決まらない特徴量
type contextFeatures struct {
	typeCode, siteCode int
	siteCount          float64
	siteAvgUtil        float64
	popularity         float64
	demand7d           float64
	demand30d          float64
	duration           float64
	utilization        float64
}

// summarizeContext 最新行の集計値と、期間・稼働率の平均を取り出す
func summarizeContext(rows []models.EngineeredRecord) contextFeatures {
	if len(rows) == 0 {
		return contextFeatures{
			siteAvgUtil: 0.5,
			popularity:  1,
			duration:    liveRentalDuration,
			utilization: 0.5,
		}
	}

	latest := rows[0]
	var durations, utils []float64
	for _, r := range rows {
		if !r.CheckOutDate.Before(latest.CheckOutDate) {
			latest = r
		}
		if r.RentalDuration != nil {
			durations = append(durations, *r.RentalDuration)
		}
		utils = append(utils, r.UtilizationRatio)
	}

	duration := liveRentalDuration
	if len(durations) > 0 {
		duration = calculateMean(durations)
	}

	return contextFeatures{
		typeCode:    latest.EquipmentTypeCode,
		siteCode:    latest.SiteCode,
		siteCount:   latest.SiteEquipmentCount,
		siteAvgUtil: latest.SiteAvgUtilization,
		popularity:  latest.EquipmentSitePopularity,
		demand7d:    latest.Demand7dAvg,
		demand30d:   latest.Demand30dAvg,
		duration:    duration,
		utilization: calculateMean(utils),
	}
}

// WithRetrainedSites 保留中サイトを学習し直した新しいバンクを返す
func (b *ModelBank) WithRetrainedSites(rows []models.EngineeredRecord) *ModelBank {
	if len(b.PendingSites) == 0 {
		return b
	}
	pending := make(map[string]bool, len(b.PendingSites))
	for _, s := range b.PendingSites {
		pending[s] = true
	}

	// 保存済みエンコーダで再エンコードする
	encoded := make([]models.EngineeredRecord, len(rows))
	copy(encoded, rows)
	encodeRows(encoded, b.Encoders)

	retrained := trainSiteModels(encoded, pending)

	next := *b
	next.PerSite = make(map[string]*LinearModel, len(b.PerSite)+len(retrained))
	for s, m := range b.PerSite {
		next.PerSite[s] = m
	}
	next.PendingSites = nil
	for _, s := range b.PendingSites {
		if m, ok := retrained[s]; ok {
			next.PerSite[s] = m
			log.Printf("[モデル読込] ✅ サイト %s のモデルを再学習しました", s)
			continue
		}
		log.Printf("[モデル読込] ⚠️ サイト %s は再学習の条件を満たさないため全体モデルを使用します", s)
	}
	return &next
}

// Save バンクを "<version>/" 配下へ書き込み、最後に manifest を差し替える。
// 途中で失敗しても manifest は前のバージョンを指したまま。
func (b *ModelBank) Save(ctx context.Context, store ModelStore) ([]string, error) {
	if b == nil || b.Global == nil {
		return nil, ErrNotTrained
	}
	if b.Version == "" || strings.Contains(b.Version, "/") {
		return nil, fmt.Errorf("モデルのバージョンが不正です: %q", b.Version)
	}

	sites := make([]string, 0, len(b.PerSite))
	for s := range b.PerSite {
		sites = append(sites, s)
	}
	sort.Strings(sites)

	type blob struct {
		key   string
		value any
	}
	blobs := []blob{
		{blobKey(b.Version, globalKey), b.Global},
		{blobKey(b.Version, scalerKey), b.Scaler},
		{blobKey(b.Version, encodersKey), b.Encoders},
	}
	for _, s := range sites {
		blobs = append(blobs, blob{blobKey(b.Version, sitePrefixKey+s), b.PerSite[s]})
	}

	keys := make([]string, 0, len(blobs)+1)
	for _, bl := range blobs {
		data, err := json.Marshal(bl.value)
		if err != nil {
			return nil, fmt.Errorf("%s のシリアライズに失敗しました: %w", bl.key, err)
		}
		if err := store.Put(ctx, bl.key, data); err != nil {
			return nil, fmt.Errorf("%s の保存に失敗しました: %w", bl.key, err)
		}
		keys = append(keys, bl.key)
	}

	manifest := bankManifest{
		Version:        b.Version,
		TrainedAt:      b.TrainedAt,
		Metrics:        b.Metrics,
		Sites:          sites,
		GlobalFeatures: globalFeatureNames,
		SiteFeatures:   siteFeatureNames,
	}
	data, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("manifest のシリアライズに失敗しました: %w", err)
	}
	if err := store.Put(ctx, manifestKey, data); err != nil {
		return nil, fmt.Errorf("manifest の保存に失敗しました: %w", err)
	}
	keys = append(keys, manifestKey)
	sort.Strings(keys)

	pruneStaleBlobs(ctx, store, b.Version)
	return keys, nil
}

// pruneStaleBlobs 現行バージョン以外のブロブを消す。失敗はログのみ。
func pruneStaleBlobs(ctx context.Context, store ModelStore, version string) {
	keys, err := store.Keys(ctx)
	if err != nil {
		log.Printf("[モデル保存] ⚠️ 古いモデルの一覧取得に失敗しました: %v", err)
		return
	}
	for _, key := range keys {
		if key == manifestKey || strings.HasPrefix(key, version+"/") {
			continue
		}
		if err := store.Delete(ctx, key); err != nil {
			log.Printf("[モデル保存] ⚠️ %s の削除に失敗しました: %v", key, err)
		}
	}
}

// LoadModelBank モデルストアからバンクを復元する。
// サイト別モデルが欠けていれば PendingSites に記録する。
func LoadModelBank(ctx context.Context, store ModelStore) (*ModelBank, error) {
	var manifest bankManifest
	if err := getJSON(ctx, store, manifestKey, &manifest); err != nil {
		if errors.Is(err, modelstore.ErrNotFound) {
			return nil, fmt.Errorf("保存済みモデルがありません: %w", ErrNotTrained)
		}
		return nil, err
	}
	if manifest.Version == "" {
		return nil, fmt.Errorf("manifest にバージョンがありません")
	}
	if !slices.Equal(manifest.GlobalFeatures, globalFeatureNames) || !slices.Equal(manifest.SiteFeatures, siteFeatureNames) {
		return nil, fmt.Errorf("保存済みモデルの特徴量が一致しません: global=[%s]", strings.Join(manifest.GlobalFeatures, ","))
	}

	bank := &ModelBank{
		Global:    &LinearModel{},
		Scaler:    &StandardScaler{},
		Encoders:  &EncoderState{},
		PerSite:   make(map[string]*LinearModel),
		TrainedAt: manifest.TrainedAt,
		Version:   manifest.Version,
		Metrics:   manifest.Metrics,
	}
	if err := getJSON(ctx, store, blobKey(manifest.Version, globalKey), bank.Global); err != nil {
		return nil, err
	}
	if err := getJSON(ctx, store, blobKey(manifest.Version, scalerKey), bank.Scaler); err != nil {
		return nil, err
	}
	if err := getJSON(ctx, store, blobKey(manifest.Version, encodersKey), bank.Encoders); err != nil {
		return nil, err
	}
	bank.Encoders.restoreIndexes()

	if len(bank.Global.Coefficients) != len(globalFeatureNames) || len(bank.Scaler.Mean) != len(globalFeatureNames) {
		return nil, fmt.Errorf("保存済みモデルの次元が不正です: coefficients=%d scaler=%d", len(bank.Global.Coefficients), len(bank.Scaler.Mean))
	}

	for _, site := range manifest.Sites {
		m := &LinearModel{}
		err := getJSON(ctx, store, blobKey(manifest.Version, sitePrefixKey+site), m)
		switch {
		case errors.Is(err, modelstore.ErrNotFound):
			bank.PendingSites = append(bank.PendingSites, site)
			log.Printf("[モデル読込] ⚠️ サイト %s のモデルがありません。再学習対象にします", site)
		case err != nil:
			return nil, err
		default:
			bank.PerSite[site] = m
		}
	}
	return bank, nil
}

func getJSON(ctx context.Context, store ModelStore, key string, v any) error {
	data, err := store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("%s の読み込みに失敗しました: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s のデシリアライズに失敗しました: %w", key, err)
	}
	return nil
}
