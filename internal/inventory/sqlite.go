// Package inventory queries the live equipment inventory database.
package inventory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"rental-ml-api/internal/dataset"
	"rental-ml-api/pkg/models"

	_ "modernc.org/sqlite"
)

// SQLiteSource reads currently checked-out equipment from the Equipment table.
type SQLiteSource struct {
	conn *sql.DB
	path string
}

// Open connects to an existing database file.
func Open(path string) (*SQLiteSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("inventory database not found: %w", err)
	}
	return open(path)
}

// Create opens (creating if needed) a database and ensures the schema exists.
func Create(path string) (*SQLiteSource, error) {
	s, err := open(path)
	if err != nil {
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		s.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return s, nil
}

func open(path string) (*SQLiteSource, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return &SQLiteSource{conn: conn, path: path}, nil
}

// Path returns the database file path.
func (s *SQLiteSource) Path() string { return s.path }

// Close closes the database connection
func (s *SQLiteSource) Close() error {
	return s.conn.Close()
}

func (s *SQLiteSource) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS Equipment (
		equipment_id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		site_id TEXT,
		check_out_date TEXT,
		check_in_date TEXT,
		engine_hours_per_day REAL,
		idle_hours_per_day REAL,
		operating_days REAL,
		last_operator_id TEXT,
		status TEXT
	);
	CREATE TABLE IF NOT EXISTS Rental (
		rental_id INTEGER PRIMARY KEY AUTOINCREMENT,
		equipment_id TEXT NOT NULL,
		site_id TEXT,
		check_out_date TEXT,
		check_in_date TEXT,
		status TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_equipment_status ON Equipment(status);
	CREATE INDEX IF NOT EXISTS idx_rental_status ON Rental(status);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// ActiveRentals returns equipment that is checked out, not checked in and not available.
func (s *SQLiteSource) ActiveRentals(ctx context.Context) ([]models.RentalRecord, error) {
	query := `
	SELECT
		e.equipment_id,
		e.type,
		COALESCE(e.site_id, ''),
		e.check_out_date,
		e.check_in_date,
		e.engine_hours_per_day,
		e.idle_hours_per_day,
		e.operating_days,
		COALESCE(e.status, '')
	FROM Equipment e
	WHERE e.check_out_date IS NOT NULL AND e.check_out_date != ''
	AND (e.check_in_date IS NULL OR e.check_in_date = '')
	AND LOWER(COALESCE(e.status, '')) != 'available'
	ORDER BY e.equipment_id
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying active rentals: %w", err)
	}
	defer rows.Close()

	var records []models.RentalRecord
	for rows.Next() {
		var rec models.RentalRecord
		var checkOut, checkIn sql.NullString
		var engine, idle, opDays sql.NullFloat64
		if err := rows.Scan(&rec.EquipmentID, &rec.EquipmentType, &rec.SiteID, &checkOut, &checkIn, &engine, &idle, &opDays, &rec.Status); err != nil {
			return nil, fmt.Errorf("scanning active rental: %w", err)
		}
		if t, ok := dataset.ParseDate(checkOut.String); ok {
			rec.CheckOutDate = t
		}
		if checkIn.Valid {
			if t, ok := dataset.ParseDate(checkIn.String); ok {
				rec.CheckInDate = &t
			}
		}
		rec.EngineHoursPerDay = nullFloat(engine)
		rec.IdleHoursPerDay = nullFloat(idle)
		rec.OperatingDays = nullFloat(opDays)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating active rentals: %w", err)
	}
	return records, nil
}

// TotalEquipmentCount returns the fleet size.
func (s *SQLiteSource) TotalEquipmentCount(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM Equipment`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting equipment: %w", err)
	}
	return n, nil
}

// ActiveRentalCount counts rentals with status 'active' in the Rental table.
func (s *SQLiteSource) ActiveRentalCount(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM Rental WHERE LOWER(status) = 'active'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting active rentals: %w", err)
	}
	return n, nil
}

// UpsertEquipment inserts or replaces an Equipment row.
func (s *SQLiteSource) UpsertEquipment(ctx context.Context, rec models.RentalRecord) error {
	query := `
	INSERT OR REPLACE INTO Equipment (equipment_id, type, site_id, check_out_date, check_in_date,
		engine_hours_per_day, idle_hours_per_day, operating_days, status)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var site, checkOut, checkIn any
	if rec.SiteID != "" {
		site = rec.SiteID
	}
	if !rec.CheckOutDate.IsZero() {
		checkOut = rec.CheckOutDate.Format("2006-01-02")
	}
	if rec.CheckInDate != nil {
		checkIn = rec.CheckInDate.Format("2006-01-02")
	}
	_, err := s.conn.ExecContext(ctx, query, rec.EquipmentID, rec.EquipmentType, site, checkOut, checkIn,
		floatArg(rec.EngineHoursPerDay), floatArg(rec.IdleHoursPerDay), floatArg(rec.OperatingDays), rec.Status)
	if err != nil {
		return fmt.Errorf("upserting equipment %s: %w", rec.EquipmentID, err)
	}
	return nil
}

// InsertRental records a Rental row.
func (s *SQLiteSource) InsertRental(ctx context.Context, equipmentID, siteID, status string, checkOut time.Time) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO Rental (equipment_id, site_id, check_out_date, status) VALUES (?, ?, ?, ?)`,
		equipmentID, siteID, checkOut.Format("2006-01-02"), status)
	if err != nil {
		return fmt.Errorf("inserting rental for %s: %w", equipmentID, err)
	}
	return nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func floatArg(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
