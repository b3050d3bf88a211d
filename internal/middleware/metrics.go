package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests (Rate)",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_request_errors_total",
			Help: "Total number of HTTP request errors",
		},
		[]string{"method", "route", "status", "error_type"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds (Duration)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	httpRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests being served",
		},
	)
)

// Metrics records RED metrics per matched route. Unmatched paths share one
// label value so that scanners cannot blow up the series count.
func Metrics(reg prometheus.Registerer) gin.HandlerFunc {
	reg.MustRegister(httpRequestsTotal, httpRequestErrorsTotal, httpRequestDuration, httpRequestsInFlight)

	return func(c *gin.Context) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		status := c.Writer.Status()
		statusStr := strconv.Itoa(status)

		httpRequestsTotal.WithLabelValues(method, route, statusStr).Inc()
		switch {
		case status >= 500:
			httpRequestErrorsTotal.WithLabelValues(method, route, statusStr, "server").Inc()
		case status >= 400:
			httpRequestErrorsTotal.WithLabelValues(method, route, statusStr, "client").Inc()
		}
		httpRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}
