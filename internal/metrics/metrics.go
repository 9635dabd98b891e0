// Package metrics defines the Prometheus counters/histograms exported
// by lightflow processes. Grounded on the teacher's
// core/infra/metrics/metrics.go interface-plus-Prom-implementation
// shape, generalized from job/gateway/workflow metrics to the
// workflow/dag/task three-level job model.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics defines the counters lightflow workers and schedulers emit.
type Metrics interface {
	IncJobsSubmitted(queue string)
	IncJobsDispatched(queue string)
	IncJobsCompleted(queue, status string)
	IncTaskRetries(dag, task string)
	IncDeadLettered(queue string)
	ObserveTaskDuration(dag, task string, seconds float64)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) IncJobsSubmitted(string)             {}
func (Noop) IncJobsDispatched(string)             {}
func (Noop) IncJobsCompleted(string, string)      {}
func (Noop) IncTaskRetries(string, string)        {}
func (Noop) IncDeadLettered(string)               {}
func (Noop) ObserveTaskDuration(string, string, float64) {}

// Prom implements Metrics backed by Prometheus counters/histograms.
type Prom struct {
	jobsSubmitted  *prometheus.CounterVec
	jobsDispatched *prometheus.CounterVec
	jobsCompleted  *prometheus.CounterVec
	taskRetries    *prometheus.CounterVec
	deadLettered   *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec
	once           sync.Once
}

// NewProm constructs and registers a Prom under namespace (typically
// "lightflow").
func NewProm(namespace string) *Prom {
	p := &Prom{
		jobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_submitted_total", Help: "Jobs submitted by queue",
		}, []string{"queue"}),
		jobsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_dispatched_total", Help: "Jobs dispatched by queue",
		}, []string{"queue"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_completed_total", Help: "Jobs completed by queue and terminal status",
		}, []string{"queue", "status"}),
		taskRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "task_retries_total", Help: "Task retry attempts by dag and task",
		}, []string{"dag", "task"}),
		deadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "dead_lettered_total", Help: "Jobs routed to the dead-letter store by queue",
		}, []string{"queue"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "task_duration_seconds", Help: "Task body execution latency", Buckets: prometheus.DefBuckets,
		}, []string{"dag", "task"}),
	}
	p.once.Do(func() {
		prometheus.MustRegister(p.jobsSubmitted, p.jobsDispatched, p.jobsCompleted, p.taskRetries, p.deadLettered, p.taskDuration)
	})
	return p
}

func (p *Prom) IncJobsSubmitted(queue string)  { p.jobsSubmitted.WithLabelValues(queue).Inc() }
func (p *Prom) IncJobsDispatched(queue string) { p.jobsDispatched.WithLabelValues(queue).Inc() }
func (p *Prom) IncJobsCompleted(queue, status string) {
	p.jobsCompleted.WithLabelValues(queue, status).Inc()
}
func (p *Prom) IncTaskRetries(dag, task string) { p.taskRetries.WithLabelValues(dag, task).Inc() }
func (p *Prom) IncDeadLettered(queue string)    { p.deadLettered.WithLabelValues(queue).Inc() }
func (p *Prom) ObserveTaskDuration(dag, task string, seconds float64) {
	p.taskDuration.WithLabelValues(dag, task).Observe(seconds)
}

// Handler returns the HTTP handler serving /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
