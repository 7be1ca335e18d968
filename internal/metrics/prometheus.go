package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "surge"

// Collector exposes an Aggregator to Prometheus. Values are read from a
// snapshot at scrape time, so nothing is double-counted.
type Collector struct {
	agg *Aggregator

	requests   *prometheus.Desc
	failed     *prometheus.Desc
	bytes      *prometheus.Desc
	vus        *prometheus.Desc
	latency    *prometheus.Desc
	checks     *prometheus.Desc
	statusCode *prometheus.Desc
}

// NewCollector returns a prometheus.Collector for agg. runID is attached
// as a constant label.
func NewCollector(agg *Aggregator, runID string) *Collector {
	labels := prometheus.Labels{"run_id": runID}
	return &Collector{
		agg: agg,
		requests: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "requests_total"),
			"Total requests issued by virtual users.", nil, labels),
		failed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "requests_failed_total"),
			"Requests that errored or returned a 4xx/5xx status.", nil, labels),
		bytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "received_bytes_total"),
			"Response bytes received.", nil, labels),
		vus: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "active_vus"),
			"Currently running virtual users.", nil, labels),
		latency: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "request_duration_seconds"),
			"Request latency from send to full response.", nil, labels),
		checks: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "checks_total"),
			"Check evaluations by check name and result.", []string{"check", "result"}, labels),
		statusCode: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "responses_total"),
			"Responses by status code (0 = no response).", []string{"code"}, labels),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.failed
	ch <- c.bytes
	ch <- c.vus
	ch <- c.latency
	ch <- c.checks
	ch <- c.statusCode
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.agg.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(snap.TotalRequests))
	ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, float64(snap.FailedRequests))
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.CounterValue, float64(snap.TotalBytes))
	ch <- prometheus.MustNewConstMetric(c.vus, prometheus.GaugeValue, float64(snap.ActiveVUs))

	l := snap.Latency
	ch <- prometheus.MustNewConstSummary(c.latency,
		uint64(l.Count),
		l.Mean.Seconds()*float64(l.Count),
		map[float64]float64{
			0.5:  l.P50.Seconds(),
			0.9:  l.P90.Seconds(),
			0.95: l.P95.Seconds(),
			0.99: l.P99.Seconds(),
		})

	for _, cs := range snap.Checks {
		ch <- prometheus.MustNewConstMetric(c.checks, prometheus.CounterValue, float64(cs.Passes), cs.Name, "pass")
		ch <- prometheus.MustNewConstMetric(c.checks, prometheus.CounterValue, float64(cs.Fails), cs.Name, "fail")
	}

	for _, sc := range snap.StatusCodes {
		ch <- prometheus.MustNewConstMetric(c.statusCode, prometheus.CounterValue, float64(sc.Count), strconv.Itoa(sc.Code))
	}
}

var _ prometheus.Collector = (*Collector)(nil)
