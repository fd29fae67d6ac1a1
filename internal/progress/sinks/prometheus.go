package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jbeaumont/fetchd/internal/progress"
)

// PrometheusSink exports fetch pipeline metrics via Prometheus. It owns all
// collectors for jobs started/completed/running, per-host fetch outcomes,
// retries, and session refreshes.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsCompleted prometheus.Counter
	jobsRunning   prometheus.Gauge
	jobRuntime    prometheus.Histogram

	fetchOutcomes    *prometheus.CounterVec
	fetchDuration    *prometheus.HistogramVec
	fetchRetries     *prometheus.CounterVec
	sessionRefreshes *prometheus.CounterVec

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fetchd_jobs_started_total",
			Help: "Total jobs that have started.",
		}),
		jobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fetchd_jobs_completed_total",
			Help: "Total jobs completed.",
		}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fetchd_jobs_running",
			Help: "Current number of running jobs.",
		}),
		jobRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fetchd_job_runtime_seconds",
			Help:    "Wall time per completed job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		fetchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fetchd_fetch_outcomes_total",
			Help: "Fetch completions partitioned by host and outcome.",
		}, []string{"host", "outcome"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fetchd_fetch_duration_seconds",
			Help:    "Fetch duration partitioned by host and status class.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"host", "status_class"}),
		fetchRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fetchd_fetch_retries_total",
			Help: "Retry attempts partitioned by host.",
		}, []string{"host"}),
		sessionRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fetchd_session_refreshes_total",
			Help: "Challenge solver round trips partitioned by host.",
		}, []string{"host"}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsCompleted,
		s.jobsRunning,
		s.jobRuntime,
		s.fetchOutcomes,
		s.fetchDuration,
		s.fetchRetries,
		s.sessionRefreshes,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageJobStart:
		s.jobsStarted.Inc()
		if s.tracker.start(evt.JobID) {
			s.jobsRunning.Inc()
		}
	case progress.StageJobDone:
		s.jobsCompleted.Inc()
		if evt.Dur > 0 {
			s.jobRuntime.Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.JobID) {
			s.jobsRunning.Dec()
		}
	case progress.StageFetchDone:
		s.handleFetchDone(evt)
	case progress.StageFetchRetry:
		s.fetchRetries.WithLabelValues(hostLabel(evt)).Inc()
	case progress.StageSessionRefresh:
		s.sessionRefreshes.WithLabelValues(hostLabel(evt)).Inc()
	}
	return nil
}

func (s *PrometheusSink) handleFetchDone(evt progress.Event) {
	host := hostLabel(evt)
	outcome := evt.Outcome
	if outcome == "" {
		outcome = "unknown"
	}
	s.fetchOutcomes.WithLabelValues(host, outcome).Inc()
	if evt.Dur > 0 {
		statusClass := string(evt.StatusClass)
		if statusClass == "" {
			statusClass = string(progress.StatusOther)
		}
		s.fetchDuration.WithLabelValues(host, statusClass).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func hostLabel(evt progress.Event) string {
	if evt.Host == "" {
		return "unknown"
	}
	return evt.Host
}

type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
