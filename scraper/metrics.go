package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the scraper.
type Metrics struct {
	Registry          *prometheus.Registry
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   prometheus.Histogram
	PagesTotal        *prometheus.CounterVec
	ItemsScrapedTotal prometheus.Counter
	DuplicatesTotal   prometheus.Counter
	ErrorsTotal       *prometheus.CounterVec
	RunsTotal         *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "Total HTTP requests issued by the scraper.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_request_duration_seconds",
			Help:    "HTTP request latency for result page requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	pages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_pages_total",
			Help: "Result pages handled, by outcome.",
		},
		[]string{"outcome"},
	)
	itemsScraped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_items_scraped_total",
			Help: "Total number of distinct products collected.",
		},
	)
	duplicates := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_duplicates_total",
			Help: "Total number of products dropped as (title, link) repeats.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of scraper errors by type.",
		},
		[]string{"error_type"},
	)
	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_runs_total",
			Help: "Search runs, by how they ended.",
		},
		[]string{"result"},
	)

	registry.MustRegister(requests, requestDuration, pages, itemsScraped, duplicates, errorsTotal, runs)

	return &Metrics{
		Registry:          registry,
		RequestsTotal:     requests,
		RequestDuration:   requestDuration,
		PagesTotal:        pages,
		ItemsScrapedTotal: itemsScraped,
		DuplicatesTotal:   duplicates,
		ErrorsTotal:       errorsTotal,
		RunsTotal:         runs,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncPage counts a handled page: "parsed", "skipped" or "empty".
func (m *Metrics) IncPage(outcome string) {
	if m == nil {
		return
	}
	m.PagesTotal.WithLabelValues(outcome).Inc()
}

// IncItems increments the items scraped counter.
func (m *Metrics) IncItems() {
	if m == nil {
		return
	}
	m.ItemsScrapedTotal.Inc()
}

// IncDuplicates increments the duplicates counter.
func (m *Metrics) IncDuplicates() {
	if m == nil {
		return
	}
	m.DuplicatesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncRun counts a finished run.
func (m *Metrics) IncRun(result string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(result).Inc()
}
