// Package metrics collects and exposes Prometheus metrics for timeline
// fetches, comment mutations and background refreshes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements timeline.Recorder on Prometheus metrics.
type Collector struct {
	pageFetches   *prometheus.CounterVec
	fetchLatency  prometheus.Histogram
	mutations     *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	openTimelines prometheus.Gauge
	streamClients prometheus.Gauge
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		pageFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_timeline_page_fetches_total",
			Help: "Timeline page fetches by result.",
		}, []string{"result"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "requests_timeline_page_fetch_seconds",
			Help:    "Latency of timeline page fetches.",
			Buckets: prometheus.DefBuckets,
		}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_timeline_comment_mutations_total",
			Help: "Comment creates, updates and deletes by result.",
		}, []string{"kind", "result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_timeline_refreshes_total",
			Help: "Background tail page refreshes by result.",
		}, []string{"result"}),
		openTimelines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "requests_timeline_open_timelines",
			Help: "Timelines currently held by the server.",
		}),
		streamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "requests_timeline_stream_clients",
			Help: "Connected server-sent event clients.",
		}),
	}

	reg.MustRegister(
		c.pageFetches,
		c.fetchLatency,
		c.mutations,
		c.refreshes,
		c.openTimelines,
		c.streamClients,
	)

	return c
}

// RecordPageFetch records one page fetch and its latency.
func (c *Collector) RecordPageFetch(result string, duration time.Duration) {
	c.pageFetches.WithLabelValues(result).Inc()
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordMutation records a comment create, update or delete.
func (c *Collector) RecordMutation(kind, result string) {
	c.mutations.WithLabelValues(kind, result).Inc()
}

// RecordRefresh records one background refresh.
func (c *Collector) RecordRefresh(result string) {
	c.refreshes.WithLabelValues(result).Inc()
}

// SetOpenTimelines reports the number of live timelines.
func (c *Collector) SetOpenTimelines(count int) {
	c.openTimelines.Set(float64(count))
}

// SetStreamClients reports the number of connected stream clients.
func (c *Collector) SetStreamClients(count int) {
	c.streamClients.Set(float64(count))
}

// Handler returns the Prometheus scrape handler.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
