package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	PagesFetched     *prometheus.CounterVec
	ErrorsTotal      *prometheus.CounterVec
	ListingsUpserted prometheus.Counter
	HousesEnriched   prometheus.Counter
	ScansStarted     prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		PagesFetched: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_pages_fetched_total",
			Help: "The total number of pages fetched",
		}, []string{"kind"}), // 'search', 'listing', 'house'
		ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_errors_total",
			Help: "The total number of errors encountered",
		}, []string{"type"}), // e.g., 'fetch_failed', 'decode_failed', 'db_save_failed'
		ListingsUpserted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scanner_listings_upserted_total",
			Help: "The total number of listings written",
		}),
		HousesEnriched: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scanner_houses_enriched_total",
			Help: "The total number of houses enriched with details",
		}),
		ScansStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scanner_scans_started_total",
			Help: "The total number of scans started",
		}),
	}
}

func (m *Metrics) IncPagesFetched(kind string) {
	m.PagesFetched.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncErrorsTotal(errorType string) {
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

func (m *Metrics) IncListingsUpserted() {
	m.ListingsUpserted.Inc()
}

func (m *Metrics) IncHousesEnriched() {
	m.HousesEnriched.Inc()
}

func (m *Metrics) IncScansStarted() {
	m.ScansStarted.Inc()
}
