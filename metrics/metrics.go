// Package metrics exposes Prometheus counters for the status bridge.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricPrefix = "bambu_status_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	recordsReceived  *prometheus.CounterVec
	fieldWrites      *prometheus.CounterVec
	projectionErrors *prometheus.CounterVec
	recordLatency    prometheus.Histogram
	taskSyncs        *prometheus.CounterVec
	scriptRuns       *prometheus.CounterVec
)

// Init registers the collectors with the default registry. Safe to call repeatedly.
func Init() {
	registerOnce.Do(func() {
		recordsReceived = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "records_total",
				Help: "Telemetry records received by decode result",
			},
			[]string{"result"},
		)
		fieldWrites = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "field_writes_total",
				Help: "Status field writes by result",
			},
			[]string{"result"},
		)
		projectionErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "projection_errors_total",
				Help: "Telemetry keys that could not be projected, by key",
			},
			[]string{"key"},
		)
		recordLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "record_latency_seconds",
				Help:    "Time to project one telemetry record",
				Buckets: prometheus.DefBuckets,
			},
		)
		taskSyncs = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "task_syncs_total",
				Help: "Cloud task syncs by outcome",
			},
			[]string{"result"},
		)
		scriptRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "script_runs_total",
				Help: "Status field script runs by script and result",
			},
			[]string{"script", "result"},
		)

		prometheus.MustRegister(
			recordsReceived,
			fieldWrites,
			projectionErrors,
			recordLatency,
			taskSyncs,
			scriptRuns,
		)
	})
}

func result(err error) string {
	if err != nil {
		return resultError
	}
	return resultSuccess
}

// ObserveRecord counts a received record and whether it decoded
func ObserveRecord(err error) {
	Init()
	recordsReceived.WithLabelValues(result(err)).Inc()
}

// ObserveProjection records how long one record took to project
func ObserveProjection(d time.Duration) {
	Init()
	recordLatency.Observe(d.Seconds())
}

// ObserveWrite counts a status field write
func ObserveWrite(err error) {
	Init()
	fieldWrites.WithLabelValues(result(err)).Inc()
}

// IncProjectionError counts a telemetry key whose rule failed
func IncProjectionError(key string) {
	Init()
	projectionErrors.WithLabelValues(key).Inc()
}

// ObserveTaskSync counts a task sync outcome such as "updated", "unchanged" or "error"
func ObserveTaskSync(outcome string) {
	Init()
	taskSyncs.WithLabelValues(outcome).Inc()
}

// ObserveScript counts a script run
func ObserveScript(name string, err error) {
	Init()
	scriptRuns.WithLabelValues(name, result(err)).Inc()
}

// Handler serves the default registry
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}
