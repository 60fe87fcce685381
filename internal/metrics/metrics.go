// Package metrics exposes Prometheus collectors for workers and voice sessions.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "zpodcast"

// Reply outcomes
const (
	StatusCompleted   = "completed"
	StatusInterrupted = "interrupted"
	StatusFailed      = "failed"
)

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Jobs handled by the worker, by final status.",
		},
		[]string{"agent", "status"},
	)

	activeJobs = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_jobs",
			Help:      "Jobs currently running on this worker.",
		},
		[]string{"agent"},
	)

	sessionsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Voice sessions started, by persona.",
		},
		[]string{"persona"},
	)

	repliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Generated replies, by persona and outcome.",
		},
		[]string{"persona", "status"},
	)

	replyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reply_duration_seconds",
			Help:      "Time from reply scheduling to end of playout.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"persona"},
	)

	userTurns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "user_turns_total",
			Help:      "Committed user turns, by persona.",
		},
		[]string{"persona"},
	)

	registerOnce sync.Once
)

// Register adds all collectors to the registerer. Safe to call more than once.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(jobsTotal, activeJobs, sessionsStarted, repliesTotal, replyDuration, userTurns)
	})
}

// JobStarted marks a job as running.
func JobStarted(agent string) {
	activeJobs.WithLabelValues(agent).Inc()
}

// JobFinished records the final job status.
func JobFinished(agent, status string) {
	activeJobs.WithLabelValues(agent).Dec()
	jobsTotal.WithLabelValues(agent, status).Inc()
}

// SessionStarted counts a started session.
func SessionStarted(persona string) {
	sessionsStarted.WithLabelValues(persona).Inc()
}

// ReplyFinished records one reply outcome and its duration.
func ReplyFinished(persona, status string, d time.Duration) {
	repliesTotal.WithLabelValues(persona, status).Inc()
	if status == StatusCompleted {
		replyDuration.WithLabelValues(persona).Observe(d.Seconds())
	}
}

// UserTurn counts a committed user turn.
func UserTurn(persona string) {
	userTurns.WithLabelValues(persona).Inc()
}
