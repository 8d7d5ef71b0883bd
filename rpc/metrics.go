package rpc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "launchpool",
		Subsystem: "rpc",
		Name:      "requests_total",
		Help:      "RPC requests processed, partitioned by method and outcome.",
	}, []string{"method", "outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "launchpool",
		Subsystem: "rpc",
		Name:      "request_duration_seconds",
		Help:      "RPC handler latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})
)

func observeRequest(method string, ok bool, elapsed time.Duration) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	requestsTotal.WithLabelValues(method, outcome).Inc()
	requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}
