package scheduler

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// JobMetrics are the Prometheus collectors of the job scheduler
type JobMetrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	queueDepth  prometheus.Gauge
	lastSuccess *prometheus.GaugeVec
}

var (
	jobMetricsOnce sync.Once
	jobMetrics     *JobMetrics
)

// DefaultJobMetrics returns the collectors registered on the default registry
func DefaultJobMetrics() *JobMetrics {
	jobMetricsOnce.Do(func() {
		jobMetrics = NewJobMetrics(prometheus.DefaultRegisterer)
	})
	return jobMetrics
}

// NewJobMetrics creates and registers the collectors on registerer
func NewJobMetrics(registerer prometheus.Registerer) *JobMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &JobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "backoffice",
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Finished job attempts by type and status.",
		}, []string{"job_type", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "backoffice",
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Duration of job attempts.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"job_type"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "backoffice",
			Subsystem: "scheduler",
			Name:      "queue_depth",
			Help:      "Jobs waiting for a worker.",
		}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "backoffice",
			Subsystem: "scheduler",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run by type.",
		}, []string{"job_type"}),
	}
	registerer.MustRegister(m.runs, m.duration, m.queueDepth, m.lastSuccess)
	return m
}

func (m *JobMetrics) queued(delta float64) {
	if m == nil {
		return
	}
	m.queueDepth.Add(delta)
}

func (m *JobMetrics) observe(job *Job, elapsed time.Duration) {
	if m == nil {
		return
	}
	jobType := string(job.Type)
	m.runs.WithLabelValues(jobType, string(job.Status)).Inc()
	m.duration.WithLabelValues(jobType).Observe(elapsed.Seconds())
	if job.Status == JobStatusSuccess {
		m.lastSuccess.WithLabelValues(jobType).SetToCurrentTime()
	}
}
