package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jsonlined_http_requests_total",
		Help: "Total number of HTTP requests processed",
	}, []string{"status", "method"})

	AppendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jsonlined_appends_total",
		Help: "The total number of append operations by outcome",
	}, []string{"status"})

	AppendRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jsonlined_append_retries_total",
		Help: "The total number of append attempts that failed and were retried",
	})

	AppendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "jsonlined_append_duration_seconds",
		Help:    "Wall time of successful append operations, including lock wait and fsync",
		Buckets: prometheus.DefBuckets,
	})
)
