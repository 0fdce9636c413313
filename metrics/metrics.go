// Package metrics holds the process-wide Prometheus registry. It is created
// once at startup and handed to components; nothing registers ad hoc globals.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Job outcome labels.
const (
	ResultStarted      = "started"
	ResultCompleted    = "completed"
	ResultFailed       = "failed"
	ResultSkipped      = "skipped"
	ResultRetried      = "retried"
	ResultDeadLettered = "deadlettered"
)

// Pipeline stage labels.
const (
	StageDownload = "download"
	StageProbe    = "probe"
	StageValidate = "validate"
	StageRender   = "render"
	StageUpload   = "upload"
	StagePersist  = "persist"
)

// Metrics 是流水线的指标集合，随依赖注入传入各组件。
type Metrics struct {
	Registry *prometheus.Registry

	StageDuration *prometheus.HistogramVec
	Jobs          *prometheus.CounterVec
	ScratchUsage  prometheus.Gauge
	InFlightJobs  prometheus.Gauge
}

// New creates and registers the pipeline metric set.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "soniq_stage_duration_seconds",
			Help:    "Duration of each pipeline stage.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms .. ~7m
		}, []string{"stage"}),
		Jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soniq_jobs_total",
			Help: "Processing jobs by outcome.",
		}, []string{"result"}),
		ScratchUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "soniq_scratch_usage_bytes",
			Help: "Aggregate bytes under the scratch root.",
		}),
		InFlightJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "soniq_inflight_jobs",
			Help: "Jobs currently being processed.",
		}),
	}

	reg.MustRegister(m.StageDuration, m.Jobs, m.ScratchUsage, m.InFlightJobs)
	return m
}
