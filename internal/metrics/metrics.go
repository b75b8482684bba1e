// Package metrics wires up the process's Prometheus instrumentation:
// request latency per path and the current worker health as a gauge.
//
// Grounded directly on cmd/coordinated/metrics.go's shape — package-level
// prometheus.New* vars registered in init(), with an exported function
// called from elsewhere in the process to record observations.
package metrics

import (
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/diffeo/cogrunner/internal/runtime"
)

var (
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cogrunner",
			Name:      "http_request_duration_seconds",
			Help:      "Time to handle an HTTP request, by path",
			Buckets:   prometheus.ExponentialBuckets(math.Pow(2, -8), 2, 16),
		},
		[]string{"path"},
	)

	workerHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "cogrunner",
			Name:      "worker_health",
			Help:      "Current worker health, one gauge per possible value set to 1",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(requestDuration)
	prometheus.MustRegister(workerHealth)
}

// ObserveRequest records how long it took to handle one HTTP request to
// path.
func ObserveRequest(path string, elapsed time.Duration) {
	requestDuration.WithLabelValues(path).Observe(elapsed.Seconds())
}

// allHealthValues lists every runtime.Health constant so ObserveHealth
// can zero out the gauges that are no longer current.
var allHealthValues = []runtime.Health{
	runtime.HealthUnknown,
	runtime.HealthStarting,
	runtime.HealthReady,
	runtime.HealthBusy,
	runtime.HealthSetupFailed,
}

// ObserveHealth sets the gauge for the current health value to 1 and
// every other possible value to 0, so a dashboard can graph health as a
// single time series per status.
func ObserveHealth(current runtime.Health) {
	for _, h := range allHealthValues {
		value := 0.0
		if h == current {
			value = 1.0
		}
		workerHealth.WithLabelValues(string(h)).Set(value)
	}
}
