package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the counters of one run. Each run owns its registry so
// runs in the same process never collide. A nil *Metrics records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	IterationsTotal   *prometheus.CounterVec
	ValidatorRuns     *prometheus.CounterVec
	ValidatorDuration *prometheus.HistogramVec
	BackendCalls      *prometheus.CounterVec
	TaskOutcomes      *prometheus.CounterVec
	USDSpent          prometheus.Counter
}

// NewMetrics registers the taskforge_* collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		IterationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taskforge_iterations_total",
			Help: "Iterations started, by task.",
		}, []string{"task"}),
		ValidatorRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taskforge_validator_runs_total",
			Help: "Validator executions, by validator and result.",
		}, []string{"validator", "result"}),
		ValidatorDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskforge_validator_duration_seconds",
			Help:    "Validator wall time.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}, []string{"validator"}),
		BackendCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taskforge_backend_calls_total",
			Help: "Backend invocations, by backend and result.",
		}, []string{"backend", "result"}),
		TaskOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taskforge_task_outcomes_total",
			Help: "Terminal task states.",
		}, []string{"status"}),
		USDSpent: f.NewCounter(prometheus.CounterOpts{
			Name: "taskforge_usd_spent_total",
			Help: "Backend-reported estimated spend in USD.",
		}),
	}
}

func (m *Metrics) iteration(task string) {
	if m == nil {
		return
	}
	m.IterationsTotal.WithLabelValues(task).Inc()
}

func (m *Metrics) validator(id string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	m.ValidatorRuns.WithLabelValues(id, result(ok)).Inc()
	m.ValidatorDuration.WithLabelValues(id).Observe(d.Seconds())
}

func (m *Metrics) backend(id string, ok bool, usd float64) {
	if m == nil {
		return
	}
	m.BackendCalls.WithLabelValues(id, result(ok)).Inc()
	if usd > 0 {
		m.USDSpent.Add(usd)
	}
}

func (m *Metrics) task(status string) {
	if m == nil {
		return
	}
	m.TaskOutcomes.WithLabelValues(status).Inc()
}

// WriteTextfile writes the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.Registry)
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "fail"
}
