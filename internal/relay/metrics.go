package relay

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// promCollector adapts the relay's atomic counters to Prometheus, reading
// them fresh on every scrape rather than keeping a second, eagerly-updated
// set of prometheus.Counter values in sync with metrics.go's atomics.
type promCollector struct {
	h *Handler

	uploadsTotal   *prometheus.Desc
	uploadsFailed  *prometheus.Desc
	downloadsTotal *prometheus.Desc
	downloadsMiss  *prometheus.Desc
	rateLimited    *prometheus.Desc
	unauthorized   *prometheus.Desc
}

func newPromCollector(h *Handler) *promCollector {
	return &promCollector{
		h:              h,
		uploadsTotal:   prometheus.NewDesc("oneshot_relay_uploads_total", "Total uploads accepted for processing.", nil, nil),
		uploadsFailed:  prometheus.NewDesc("oneshot_relay_uploads_failed_total", "Uploads that failed validation or storage.", nil, nil),
		downloadsTotal: prometheus.NewDesc("oneshot_relay_downloads_total", "Total download requests.", nil, nil),
		downloadsMiss:  prometheus.NewDesc("oneshot_relay_downloads_miss_total", "Downloads that resulted in a 404.", nil, nil),
		rateLimited:    prometheus.NewDesc("oneshot_relay_rate_limited_total", "Uploads rejected by the per-IP rate limiter.", nil, nil),
		unauthorized:   prometheus.NewDesc("oneshot_relay_unauthorized_total", "Uploads rejected by the API key check.", nil, nil),
	}
}

func (c *promCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.uploadsTotal
	ch <- c.uploadsFailed
	ch <- c.downloadsTotal
	ch <- c.downloadsMiss
	ch <- c.rateLimited
	ch <- c.unauthorized
}

func (c *promCollector) Collect(ch chan<- prometheus.Metric) {
	m := c.h.metrics
	ch <- prometheus.MustNewConstMetric(c.uploadsTotal, prometheus.CounterValue, float64(m.UploadsTotal.Load()))
	ch <- prometheus.MustNewConstMetric(c.uploadsFailed, prometheus.CounterValue, float64(m.UploadsFailed.Load()))
	ch <- prometheus.MustNewConstMetric(c.downloadsTotal, prometheus.CounterValue, float64(m.DownloadsTotal.Load()))
	ch <- prometheus.MustNewConstMetric(c.downloadsMiss, prometheus.CounterValue, float64(m.DownloadsMiss.Load()))
	ch <- prometheus.MustNewConstMetric(c.rateLimited, prometheus.CounterValue, float64(m.RateLimited.Load()))
	ch <- prometheus.MustNewConstMetric(c.unauthorized, prometheus.CounterValue, float64(m.Unauthorized.Load()))
}

// MetricsHandler exposes a Prometheus scrape endpoint. It is deliberately
// not registered on the public mux New builds: spec.md §4.2.1 requires every
// path outside {/hc,/hp,/ud,/ud/f/...} to be an opaque empty 404, so this is
// wired onto a separate listener address by cmd/relay when UD_METRICS_ADDR
// is set.
func (h *Handler) MetricsHandler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(newPromCollector(h))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
