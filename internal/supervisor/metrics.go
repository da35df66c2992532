package supervisor

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce       sync.Once
	transitionsTotal  *prometheus.CounterVec
	sessionsByState   *prometheus.GaugeVec
	reconnectAttempts *prometheus.CounterVec
	outcomesTotal     *prometheus.CounterVec
	connectDuration   *prometheus.HistogramVec
)

func ensureMetrics() {
	metricsOnce.Do(func() {
		transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voice",
			Subsystem: "supervisor",
			Name:      "transitions_total",
			Help:      "Session state transitions",
		}, []string{"from", "to"})
		sessionsByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "voice",
			Subsystem: "supervisor",
			Name:      "sessions",
			Help:      "Supervised sessions per non-terminal state",
		}, []string{"state"})
		reconnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voice",
			Subsystem: "supervisor",
			Name:      "reconnect_attempts_total",
			Help:      "Voice rejoin attempts by result",
		}, []string{"result"})
		outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voice",
			Subsystem: "supervisor",
			Name:      "outcomes_total",
			Help:      "Start outcomes by credential kind and status",
		}, []string{"kind", "status"})
		connectDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "voice",
			Subsystem: "supervisor",
			Name:      "connect_duration_seconds",
			Help:      "Time from start to Active or failure",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"status"})
	})
}

func observeTransition(from, to State) {
	transitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	if from != StateNone && from != StateTerminated && from != StateExpired {
		sessionsByState.WithLabelValues(string(from)).Dec()
	}
	if to != StateTerminated && to != StateExpired {
		sessionsByState.WithLabelValues(string(to)).Inc()
	}
}

func observeOutcome(o Outcome, took time.Duration) {
	outcomesTotal.WithLabelValues(string(o.Kind), string(o.Status)).Inc()
	connectDuration.WithLabelValues(string(o.Status)).Observe(took.Seconds())
}
