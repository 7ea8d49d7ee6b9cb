// Package metrics exposes crawl counters to Prometheus. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "interp_crawler"

type Metrics struct {
	PagesFetched     *prometheus.CounterVec
	PagesFailed      *prometheus.CounterVec
	Retries          *prometheus.CounterVec
	RecordsExtracted *prometheus.CounterVec
	BatchFlushes     *prometheus.CounterVec
	FrontierPending  prometheus.Gauge
	FetchSeconds     *prometheus.HistogramVec
}

// New registers the crawl metrics on reg, or the default registerer when reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		PagesFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Pages fetched and extracted, by page type.",
		}, []string{"page_type"}),
		PagesFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_failed_total",
			Help:      "Tasks abandoned after terminal failure, by page type.",
		}, []string{"page_type"}),
		Retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_retries_total",
			Help:      "Tasks re-enqueued after a transient failure, by page type.",
		}, []string{"page_type"}),
		RecordsExtracted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_extracted_total",
			Help:      "Domain records handed to batch persistence, by collection.",
		}, []string{"collection"}),
		BatchFlushes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_flushes_total",
			Help:      "Upsert batches flushed, by collection and status.",
		}, []string{"collection", "status"}),
		FrontierPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frontier_pending",
			Help:      "Tasks waiting in the frontier.",
		}),
		FetchSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Time spent fetching and parsing a page.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"page_type"}),
	}
}

func (m *Metrics) ObserveFetch(pageType string, seconds float64) {
	if m == nil {
		return
	}
	m.PagesFetched.WithLabelValues(pageType).Inc()
	m.FetchSeconds.WithLabelValues(pageType).Observe(seconds)
}

func (m *Metrics) ObserveFailure(pageType string) {
	if m == nil {
		return
	}
	m.PagesFailed.WithLabelValues(pageType).Inc()
}

func (m *Metrics) ObserveRetry(pageType string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(pageType).Inc()
}

func (m *Metrics) ObserveRecord(collection string) {
	if m == nil {
		return
	}
	m.RecordsExtracted.WithLabelValues(collection).Inc()
}

func (m *Metrics) ObserveFlush(collection string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.BatchFlushes.WithLabelValues(collection, status).Inc()
}

func (m *Metrics) SetFrontierPending(n int) {
	if m == nil {
		return
	}
	m.FrontierPending.Set(float64(n))
}
