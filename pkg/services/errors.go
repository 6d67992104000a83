package services

import "errors"

// 需要予測・異常検知エンジンのエラー分類
var (
	// ErrNotTrained モデルバンクが未学習
	ErrNotTrained = errors.New("models are not trained")
	// ErrInsufficientData 学習に必要な行数が不足
	ErrInsufficientData = errors.New("insufficient data for training")
	// ErrNoMatchingData 指定条件に一致するデータがない
	ErrNoMatchingData = errors.New("no matching data")
	// ErrUnknownCategory エンコーダが学習していないカテゴリ
	ErrUnknownCategory = errors.New("unknown category")
	// ErrUpstreamUnavailable 在庫DBなど外部ソースに接続できない
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrRetrainInProgress 再学習が既に実行中
	ErrRetrainInProgress = errors.New("retrain already in progress")
	// ErrNoData データセットが読み込まれていない
	ErrNoData = errors.New("no data available")
	// ErrInvalidArgument 呼び出し側の引数が範囲外
	ErrInvalidArgument = errors.New("invalid argument")
)
