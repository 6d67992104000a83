package models

import "time"

// UnassignedSite is the site id used when a rental has no site assignment.
const UnassignedSite = "UNASSIGNED"

// RentalRecord represents a single rental row from the dataset or the live inventory.
// Engine/idle hours are pointers because both sources may leave them empty.
type RentalRecord struct {
	EquipmentID       string     `json:"equipment_id"`
	EquipmentType     string     `json:"equipment_type"`
	SiteID            string     `json:"site_id"`
	CheckOutDate      time.Time  `json:"check_out_date"`
	CheckInDate       *time.Time `json:"check_in_date,omitempty"` // nil while the rental is active
	EngineHoursPerDay *float64   `json:"engine_hours_per_day,omitempty"`
	IdleHoursPerDay   *float64   `json:"idle_hours_per_day,omitempty"`
	OperatingDays     *float64   `json:"operating_days,omitempty"`
	Status            string     `json:"status,omitempty"` // live inventory status (e.g. "rented", "available")
}

// IsActive reports whether the rental is still checked out.
func (r RentalRecord) IsActive() bool {
	return !r.CheckOutDate.IsZero() && r.CheckInDate == nil
}

// EngineeredRecord is a RentalRecord with every derived feature populated.
type EngineeredRecord struct {
	RentalRecord

	EngineHours float64 `json:"engine_hours"` // defaulted engine hours
	IdleHours   float64 `json:"idle_hours"`   // defaulted idle hours

	RentalDuration   *float64 `json:"rental_duration,omitempty"` // days; nil while active (training only)
	UtilizationRatio float64  `json:"utilization_ratio"`
	EfficiencyScore  float64  `json:"efficiency_score"`

	Month          int     `json:"month"`
	DayOfWeek      int     `json:"day_of_week"` // Monday=0 ... Sunday=6
	Quarter        int     `json:"quarter"`
	IsWeekend      int     `json:"is_weekend"`
	SeasonalFactor float64 `json:"seasonal_factor"`

	SiteEquipmentCount      float64 `json:"site_equipment_count"`
	SiteAvgUtilization      float64 `json:"site_avg_utilization"`
	EquipmentSitePopularity float64 `json:"equipment_site_popularity"`

	DailyDemand  float64 `json:"daily_demand"`
	Demand7dAvg  float64 `json:"demand_7d_avg"`
	Demand30dAvg float64 `json:"demand_30d_avg"`

	EquipmentTypeCode int `json:"equipment_type_encoded"`
	SiteCode          int `json:"site_encoded"`
}

// ForecastPoint is one forecasted day.
type ForecastPoint struct {
	Date            string  `json:"date"`
	DayOfWeek       string  `json:"day_of_week"`
	PredictedDemand float64 `json:"predicted_demand"`
	Confidence      float64 `json:"confidence"`
}

// ForecastResult is a multi-day demand forecast with aggregates.
type ForecastResult struct {
	EquipmentType        string          `json:"equipment_type,omitempty"`
	SiteID               string          `json:"site_id,omitempty"`
	ForecastDays         int             `json:"forecast_days"`
	Forecasts            []ForecastPoint `json:"forecasts"`
	Trend                string          `json:"trend"`
	TrendStrength        float64         `json:"trend_strength"`
	TotalPredictedDemand float64         `json:"total_predicted_demand"`
	AverageDailyDemand   float64         `json:"average_daily_demand"`
	PeakDemandDay        ForecastPoint   `json:"peak_demand_day"`
	LowDemandDay         ForecastPoint   `json:"low_demand_day"`
	ModelScope           string          `json:"model_scope"` // "global" or "site"
	DataSource           string          `json:"data_source"` // "database" or "training"
	GeneratedAt          string          `json:"generated_at"`
}

// AnomalyMetrics are the per-equipment figures the scorer looked at.
type AnomalyMetrics struct {
	EngineHours float64 `json:"engine_hours"`
	IdleHours   float64 `json:"idle_hours"`
	Utilization float64 `json:"utilization"`
	Efficiency  float64 `json:"efficiency"`
}

// AnomalyRecord is one flagged piece of equipment.
type AnomalyRecord struct {
	EquipmentID   string         `json:"equipment_id"`
	EquipmentType string         `json:"equipment_type"`
	AlertType     string         `json:"alert_type"`  // first matched rule
	AlertTypes    []string       `json:"alert_types"` // every matched rule, in rule order
	Severity      string         `json:"severity"`
	SiteID        string         `json:"site_id"`
	Metrics       AnomalyMetrics `json:"metrics"`
}

// AnomalySummary aggregates an anomaly scan.
type AnomalySummary struct {
	TotalAnomalies    int            `json:"total_anomalies"`
	TotalRecords      int            `json:"total_records"`  // fleet size
	ActiveRentals     int            `json:"active_rentals"` // records scanned
	AnomalyRate       float64        `json:"anomaly_rate"`
	EquipmentAffected int            `json:"equipment_affected"`
	SitesAffected     int            `json:"sites_affected"`
	AnomalyTypes      map[string]int `json:"anomaly_types"`
}

// AnomalyResult is the outcome of an anomaly scan.
type AnomalyResult struct {
	Anomalies   []AnomalyRecord `json:"anomalies"`
	Summary     AnomalySummary  `json:"summary"`
	DataSource  string          `json:"data_source"`
	GeneratedAt string          `json:"generated_at"`
}

// OverallStats is the fleet-wide section of EquipmentStats.
type OverallStats struct {
	UtilizationRate    float64 `json:"utilization_rate"`
	ActiveRentals      int     `json:"active_rentals"`
	TotalEquipment     int     `json:"total_equipment"`
	AverageUtilization float64 `json:"average_utilization"`
	TotalEngineHours   float64 `json:"total_engine_hours"`
}

// TypeStats is the per equipment type section of EquipmentStats.
type TypeStats struct {
	UtilizationRate float64 `json:"utilization_rate"`
	ActiveRentals   int     `json:"active_rentals"`
	Count           int     `json:"count"`
	AvgEngineHours  float64 `json:"avg_engine_hours"`
	AvgIdleHours    float64 `json:"avg_idle_hours"`
	AvgUtilization  float64 `json:"avg_utilization"`
	AvgEfficiency   float64 `json:"avg_efficiency"`
}

// SiteStats is the per site section of EquipmentStats.
type SiteStats struct {
	EquipmentCount int     `json:"equipment_count"`
	ActiveRentals  int     `json:"active_rentals"`
	AvgEngineHours float64 `json:"avg_engine_hours"`
	AvgIdleHours   float64 `json:"avg_idle_hours"`
}

// EquipmentStats is the utilization/efficiency breakdown by overall, type and site.
type EquipmentStats struct {
	Overall         OverallStats         `json:"overall"`
	ByEquipmentType map[string]TypeStats `json:"by_equipment_type"`
	BySite          map[string]SiteStats `json:"by_site"`
	DataSource      string               `json:"data_source"`
}

// Recommendation is an actionable hint derived from the training dataset.
type Recommendation struct {
	Type        string `json:"type"`
	Priority    string `json:"priority"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Action      string `json:"action"`
}

// RecommendationResult wraps the recommendation list.
type RecommendationResult struct {
	Recommendations      []Recommendation `json:"recommendations"`
	TotalRecommendations int              `json:"total_recommendations"`
	GeneratedAt          string           `json:"generated_at"`
}

// ModelMetrics are hold-out evaluation figures of the global model.
type ModelMetrics struct {
	MSE        float64 `json:"mse"`
	MAE        float64 `json:"mae"`
	R2         float64 `json:"r2"`
	TrainRows  int     `json:"train_rows"`
	TestRows   int     `json:"test_rows"`
	CleanRows  int     `json:"clean_rows"`
	SourceRows int     `json:"source_rows"`
}

// ModelStatus describes the engine state.
type ModelStatus struct {
	Trained         bool          `json:"trained"`
	DataRecordCount int           `json:"data_record_count"`
	SiteModels      int           `json:"site_models"`
	PendingSites    []string      `json:"pending_sites,omitempty"`
	ModelVersion    string        `json:"model_version,omitempty"`
	TrainedAt       string        `json:"trained_at,omitempty"`
	Metrics         *ModelMetrics `json:"metrics,omitempty"`
	Retraining      bool          `json:"retraining"`
	SavedModelKeys  []string      `json:"saved_model_keys,omitempty"`
}
