// Package metrics содержит prometheus-метрики планировщика и рассылки.
// Все методы безопасно вызывать на nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "subboy"

// Metrics набор коллекторов приложения.
type Metrics struct {
	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	jobSkips    *prometheus.CounterVec
	advanced    prometheus.Counter
	advanceSkip prometheus.Counter
	deliveries  *prometheus.CounterVec
}

// New создаёт метрики и регистрирует их в reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "job_runs_total",
			Help:      "Job executions partitioned by job and result.",
		}, []string{"job", "result"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "job_duration_seconds",
			Help:      "Job execution latency in seconds.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"job"}),
		jobSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "job_skips_total",
			Help:      "Ticks that did not start a job, partitioned by reason.",
		}, []string{"job", "reason"}),
		advanced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "advanced_total",
			Help:      "Subscriptions whose next payment date was moved forward.",
		}),
		advanceSkip: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "advance_skipped_total",
			Help:      "Subscriptions skipped by advancement because of bad data.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Reminder deliveries partitioned by kind and result.",
		}, []string{"kind", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.jobRuns, m.jobDuration, m.jobSkips, m.advanced, m.advanceSkip, m.deliveries)
	}
	return m
}

// JobFinished учитывает завершённый запуск задачи.
func (m *Metrics) JobFinished(job string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "completed"
	if err != nil {
		result = "failed"
	}
	m.jobRuns.WithLabelValues(job, result).Inc()
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

// JobSkipped учитывает пропущенный тик: misfire, running или locked.
func (m *Metrics) JobSkipped(job, reason string) {
	if m == nil {
		return
	}
	m.jobSkips.WithLabelValues(job, reason).Inc()
}

// Advanced учитывает результат сдвига дат.
func (m *Metrics) Advanced(advanced, skipped int) {
	if m == nil {
		return
	}
	m.advanced.Add(float64(advanced))
	m.advanceSkip.Add(float64(skipped))
}

// Delivery учитывает одну попытку доставки напоминания.
func (m *Metrics) Delivery(kind string, ok bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !ok {
		result = "failed"
	}
	m.deliveries.WithLabelValues(kind, result).Inc()
}
