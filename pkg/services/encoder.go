package services

import (
	"fmt"
	"sort"
)

// UnknownCategoryCode 未学習カテゴリに割り当てる番兵コード
const UnknownCategoryCode = -1

// LabelEncoder カテゴリ文字列を整数コードへ変換する。クラスは辞書順。
type LabelEncoder struct {
	Classes []string `json:"classes"`
	index   map[string]int
}

// NewLabelEncoder 値の集合からエンコーダを学習する
func NewLabelEncoder(values []string) *LabelEncoder {
	seen := make(map[string]struct{}, len(values))
	classes := make([]string, 0)
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		classes = append(classes, v)
	}
	sort.Strings(classes)
	return newLabelEncoderFromClasses(classes)
}

func newLabelEncoderFromClasses(classes []string) *LabelEncoder {
	enc := &LabelEncoder{Classes: classes, index: make(map[string]int, len(classes))}
	for i, c := range classes {
		enc.index[c] = i
	}
	return enc
}

// Encode 値のコードを返す。未学習の値は UnknownCategoryCode と ErrUnknownCategory。
func (e *LabelEncoder) Encode(value string) (int, error) {
	if e == nil {
		return UnknownCategoryCode, fmt.Errorf("%q: %w", value, ErrUnknownCategory)
	}
	code, ok := e.index[value]
	if !ok {
		return UnknownCategoryCode, fmt.Errorf("%q: %w", value, ErrUnknownCategory)
	}
	return code, nil
}

// Len クラス数
func (e *LabelEncoder) Len() int {
	if e == nil {
		return 0
	}
	return len(e.Classes)
}

// EncoderState 機材タイプとサイトIDのエンコーダ
type EncoderState struct {
	EquipmentType *LabelEncoder `json:"equipment_type"`
	Site          *LabelEncoder `json:"site_id"`
}

// FitEncoders 学習データからエンコーダを作成
func FitEncoders(types, sites []string) *EncoderState {
	return &EncoderState{
		EquipmentType: NewLabelEncoder(types),
		Site:          NewLabelEncoder(sites),
	}
}

// restoreIndexes デシリアライズ後に索引を再構築
func (s *EncoderState) restoreIndexes() {
	if s.EquipmentType != nil {
		s.EquipmentType = newLabelEncoderFromClasses(s.EquipmentType.Classes)
	}
	if s.Site != nil {
		s.Site = newLabelEncoderFromClasses(s.Site.Classes)
	}
}
