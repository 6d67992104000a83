package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rental-ml-api/internal/modelstore"
	"rental-ml-api/pkg/models"
)

func f64(v float64) *float64 { return &v }

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

// sampleRecords 3タイプ×3サイトの返却済みレンタル履歴
func sampleRecords(n int) []models.RentalRecord {
	types := []string{"Excavator", "Crane", "Bulldozer"}
	sites := []string{"S001", "S002", "S003"}
	start := day("2024-03-01")

	records := make([]models.RentalRecord, 0, n)
	for i := 0; i < n; i++ {
		out := start.AddDate(0, 0, i%45)
		in := out.AddDate(0, 0, 3+i%70)
		records = append(records, models.RentalRecord{
			EquipmentID:       "EQ" + string(rune('A'+i%26)) + string(rune('0'+i/26%10)),
			EquipmentType:     types[i%len(types)],
			SiteID:            sites[(i/3)%len(sites)],
			CheckOutDate:      out,
			CheckInDate:       &in,
			EngineHoursPerDay: f64(float64(3 + i%5)),
			IdleHoursPerDay:   f64(float64(1 + i%3)),
		})
	}
	return records
}

// fakeDataset 差し替え可能なデータセット
type fakeDataset struct {
	mu      sync.Mutex
	records []models.RentalRecord
	err     error
	calls   int
}

func (d *fakeDataset) ReadRecords(context.Context) ([]models.RentalRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	out := make([]models.RentalRecord, len(d.records))
	copy(out, d.records)
	return out, nil
}

func (d *fakeDataset) set(records []models.RentalRecord, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = records
	d.err = err
}

// fakeInventory ライブ在庫の代わり
type fakeInventory struct {
	active      []models.RentalRecord
	total       int
	activeCount int
	err         error
}

func (f *fakeInventory) ActiveRentals(context.Context) ([]models.RentalRecord, error) {
	return f.active, f.err
}

func (f *fakeInventory) TotalEquipmentCount(context.Context) (int, error) {
	return f.total, f.err
}

func (f *fakeInventory) ActiveRentalCount(context.Context) (int, error) {
	return f.activeCount, f.err
}

// memoryStore テスト用のモデルストア
type memoryStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{blobs: make(map[string][]byte)}
}

func (m *memoryStore) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (m *memoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, modelstore.ErrNotFound)
	}
	return data, nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}

func (m *memoryStore) Keys(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.blobs))
	for k := range m.blobs {
		keys = append(keys, k)
	}
	return keys, nil
}

// recordingPublisher 通知内容を記録する
type recordingPublisher struct {
	mu        sync.Mutex
	published []models.AnomalyRecord
	err       error
}

func (p *recordingPublisher) Publish(_ context.Context, anomalies []models.AnomalyRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, anomalies...)
	return p.err
}
