// Package dataset reads the historical rental dataset from CSV or XLSX files.
package dataset

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"rental-ml-api/pkg/models"

	"github.com/xuri/excelize/v2"
)

// 列名の候補（大文字小文字は区別しない）
var (
	equipmentIDColumns = []string{"Equipment ID", "equipment_id", "EquipmentID"}
	typeColumns        = []string{"Type", "equipment_type", "Equipment Type"}
	siteColumns        = []string{"User ID", "site_id", "Site ID", "Site"}
	checkOutColumns    = []string{"Check-Out Date", "check_out_date", "Checkout Date"}
	checkInColumns     = []string{"Check-in Date", "Check-In Date", "check_in_date", "Checkin Date"}
	engineColumns      = []string{"Engine Hours/Day", "engine_hours_per_day", "Engine Hours"}
	idleColumns        = []string{"Idle Hours/Day", "idle_hours_per_day", "Idle Hours"}
	operatingColumns   = []string{"Operating Days", "operating_days"}
)

// Reader loads RentalRecords from a .csv or .xlsx file.
type Reader struct {
	path string
}

// NewReader creates a reader for the file at path.
func NewReader(path string) *Reader {
	return &Reader{path: path}
}

// Path returns the dataset path.
func (r *Reader) Path() string { return r.path }

// ReadRecords reads and parses every data row.
func (r *Reader) ReadRecords(ctx context.Context) ([]models.RentalRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := readRows(r.path)
	if err != nil {
		return nil, err
	}
	records, err := ParseRows(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(r.path), err)
	}
	log.Printf("[データ読込] %s から%d件のレンタル記録を読み込みました", filepath.Base(r.path), len(records))
	return records, nil
}

func readRows(path string) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, fmt.Errorf("Excelファイルの読み込みに失敗しました: %w", err)
		}
		defer f.Close()
		rows, err := f.GetRows(f.GetSheetName(0))
		if err != nil {
			return nil, fmt.Errorf("Excelシートの行取得に失敗しました: %w", err)
		}
		return rows, nil
	case ".csv":
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("CSVファイルを開けません: %w", err)
		}
		defer file.Close()
		cr := csv.NewReader(file)
		cr.FieldsPerRecord = -1
		rows, err := cr.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("CSVファイルの解析に失敗しました: %w", err)
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("サポートされていないファイル形式です: %s（.xlsxまたは.csv）", path)
	}
}

// ParseRows converts a header row plus data rows into RentalRecords.
// Rows without an equipment id are skipped.
func ParseRows(rows [][]string) ([]models.RentalRecord, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("ファイルにヘッダー行がありません")
	}

	header := rows[0]
	idCol := findIndex(header, equipmentIDColumns...)
	typeCol := findIndex(header, typeColumns...)
	siteCol := findIndex(header, siteColumns...)
	outCol := findIndex(header, checkOutColumns...)
	inCol := findIndex(header, checkInColumns...)
	engineCol := findIndex(header, engineColumns...)
	idleCol := findIndex(header, idleColumns...)
	opCol := findIndex(header, operatingColumns...)

	var missing []string
	if idCol == -1 {
		missing = append(missing, "Equipment ID")
	}
	if typeCol == -1 {
		missing = append(missing, "Type")
	}
	if outCol == -1 {
		missing = append(missing, "Check-Out Date")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("必要な列が見つかりませんでした: %s。ヘッダー: %v", strings.Join(missing, ", "), header)
	}

	records := make([]models.RentalRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		id := cell(row, idCol)
		if id == "" {
			continue
		}
		rec := models.RentalRecord{
			EquipmentID:       id,
			EquipmentType:     cell(row, typeCol),
			SiteID:            cell(row, siteCol),
			EngineHoursPerDay: parseFloat(cell(row, engineCol)),
			IdleHoursPerDay:   parseFloat(cell(row, idleCol)),
			OperatingDays:     parseFloat(cell(row, opCol)),
		}
		if t, ok := ParseDate(cell(row, outCol)); ok {
			rec.CheckOutDate = t
		}
		if t, ok := ParseDate(cell(row, inCol)); ok {
			rec.CheckInDate = &t
		}
		records = append(records, rec)
	}
	return records, nil
}

// findIndex finds the index of the first candidate in a slice
func findIndex(slice []string, candidates ...string) int {
	for _, candidate := range candidates {
		for i, item := range slice {
			if strings.EqualFold(strings.TrimSpace(item), candidate) {
				return i
			}
		}
	}
	return -1
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func parseFloat(s string) *float64 {
	if s == "" || strings.EqualFold(s, "nan") || strings.EqualFold(s, "null") {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006/1/2",
	"2006/01/02",
	"1/2/2006",
	"01/02/2006",
	"1/2/2006 15:04",
}

// ParseDate accepts the date formats seen in exports and the inventory database.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
