package gateway

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type promCollector struct {
	h *Handler

	dispatchTotal  *prometheus.Desc
	dispatchFailed *prometheus.Desc
	unauthorized   *prometheus.Desc
}

func newPromCollector(h *Handler) *promCollector {
	return &promCollector{
		h:              h,
		dispatchTotal:  prometheus.NewDesc("oneshot_gateway_dispatch_total", "Total webhook dispatches accepted for processing.", nil, nil),
		dispatchFailed: prometheus.NewDesc("oneshot_gateway_dispatch_failed_total", "Dispatches that failed validation or upstream delivery.", nil, nil),
		unauthorized:   prometheus.NewDesc("oneshot_gateway_unauthorized_total", "Requests rejected by the token allowlist.", nil, nil),
	}
}

func (c *promCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.dispatchTotal
	ch <- c.dispatchFailed
	ch <- c.unauthorized
}

func (c *promCollector) Collect(ch chan<- prometheus.Metric) {
	m := c.h.metrics
	ch <- prometheus.MustNewConstMetric(c.dispatchTotal, prometheus.CounterValue, float64(m.DispatchTotal.Load()))
	ch <- prometheus.MustNewConstMetric(c.dispatchFailed, prometheus.CounterValue, float64(m.DispatchFailed.Load()))
	ch <- prometheus.MustNewConstMetric(c.unauthorized, prometheus.CounterValue, float64(m.Unauthorized.Load()))
}

// MetricsHandler exposes a Prometheus scrape endpoint on a separate listener,
// wired by cmd/gateway when GW_METRICS_ADDR is set.
func (h *Handler) MetricsHandler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(newPromCollector(h))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
