// Package metrics holds the Prometheus collectors of the forecasting engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful operations.
	OutcomeSuccess = "success"
	// OutcomeError labels failed operations.
	OutcomeError = "error"
	// OutcomeSkipped labels retrains that were not run (in flight or insufficient data).
	OutcomeSkipped = "skipped"
)

const namespace = "rental_ml"

var (
	forecastsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forecasts_total",
			Help:      "Total number of demand forecasts, partitioned by model scope and outcome.",
		},
		[]string{"scope", "outcome"},
	)

	anomalyScansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomaly_scans_total",
			Help:      "Total number of anomaly scans, partitioned by data source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	anomaliesDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_detected_total",
			Help:      "Anomalies flagged, partitioned by primary alert type.",
		},
		[]string{"alert_type"},
	)

	retrainsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrains_total",
			Help:      "Total number of retrain attempts, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	retrainDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrain_seconds",
			Help:      "Retrain latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	modelTrained = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_trained",
			Help:      "1 when a trained model bank is serving, 0 otherwise.",
		},
	)

	siteModels = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "site_models",
			Help:      "Number of per-site models in the serving bank.",
		},
	)
)

// Register attaches the collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		forecastsTotal,
		anomalyScansTotal,
		anomaliesDetected,
		retrainsTotal,
		retrainDurationSeconds,
		modelTrained,
		siteModels,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveForecast records one forecast call.
func ObserveForecast(scope string, err error) {
	if scope == "" {
		scope = "none"
	}
	forecastsTotal.WithLabelValues(scope, outcome(err)).Inc()
}

// ObserveAnomalyScan records one anomaly scan and the alert types it produced.
func ObserveAnomalyScan(source string, alertTypes map[string]int, err error) {
	if source == "" {
		source = "none"
	}
	anomalyScansTotal.WithLabelValues(source, outcome(err)).Inc()
	for alertType, n := range alertTypes {
		anomaliesDetected.WithLabelValues(alertType).Add(float64(n))
	}
}

// ObserveRetrain records a retrain duration and outcome label.
func ObserveRetrain(duration time.Duration, outcome string) {
	switch outcome {
	case OutcomeSuccess, OutcomeError, OutcomeSkipped:
	default:
		outcome = OutcomeError
	}
	retrainsTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	retrainDurationSeconds.Observe(duration.Seconds())
}

// SetModelState updates the serving-bank gauges.
func SetModelState(trained bool, sites int) {
	if trained {
		modelTrained.Set(1)
	} else {
		modelTrained.Set(0)
	}
	siteModels.Set(float64(sites))
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}
