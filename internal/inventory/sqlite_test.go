package inventory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"rental-ml-api/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }

func newTestSource(t *testing.T) *SQLiteSource {
	t.Helper()
	s, err := Create(filepath.Join(t.TempDir(), "inventory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestActiveRentals(t *testing.T) {
	s := newTestSource(t)
	ctx := context.Background()
	out := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	in := out.AddDate(0, 0, 3)

	rows := []models.RentalRecord{
		{EquipmentID: "EQ1", EquipmentType: "Crane", SiteID: "S1", CheckOutDate: out, EngineHoursPerDay: f64(5), IdleHoursPerDay: f64(2), Status: "rented"},
		{EquipmentID: "EQ2", EquipmentType: "Crane", CheckOutDate: out, Status: "Rented"},
		{EquipmentID: "EQ3", EquipmentType: "Loader", SiteID: "S1", CheckOutDate: out, CheckInDate: &in, Status: "rented"},
		{EquipmentID: "EQ4", EquipmentType: "Loader", SiteID: "S2", CheckOutDate: out, Status: "Available"},
		{EquipmentID: "EQ5", EquipmentType: "Loader", SiteID: "S2", Status: "rented"},
	}
	for _, r := range rows {
		require.NoError(t, s.UpsertEquipment(ctx, r))
	}

	active, err := s.ActiveRentals(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)

	assert.Equal(t, "EQ1", active[0].EquipmentID)
	assert.Equal(t, "S1", active[0].SiteID)
	assert.True(t, out.Equal(active[0].CheckOutDate))
	require.NotNil(t, active[0].EngineHoursPerDay)
	assert.Equal(t, 5.0, *active[0].EngineHoursPerDay)
	assert.Nil(t, active[0].CheckInDate)

	// site_id が NULL の行は空文字で返す
	assert.Equal(t, "EQ2", active[1].EquipmentID)
	assert.Equal(t, "", active[1].SiteID)
	assert.Nil(t, active[1].EngineHoursPerDay)

	total, err := s.TotalEquipmentCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
}

func TestActiveRentalCount(t *testing.T) {
	s := newTestSource(t)
	ctx := context.Background()
	out := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.InsertRental(ctx, "EQ1", "S1", "active", out))
	require.NoError(t, s.InsertRental(ctx, "EQ2", "S1", "Active", out))
	require.NoError(t, s.InsertRental(ctx, "EQ3", "S2", "completed", out))

	n, err := s.ActiveRentalCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.db"))
	assert.Error(t, err)
}
