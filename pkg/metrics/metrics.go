// Package metrics provides Prometheus-based metrics recording for the
// orchestration engine: message outcomes, retries, dead letters, queue depth,
// tool-client provisioning, and circuit breaker state.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder records engine metrics. A nil *Recorder is valid and records
// nothing, so components can treat metrics as optional.
type Recorder struct {
	messagesTotal      *prometheus.CounterVec
	retriesTotal       *prometheus.CounterVec
	deadLettersTotal   *prometheus.CounterVec
	queueDepth         *prometheus.GaugeVec
	sessionDuration    *prometheus.HistogramVec
	toolClientsTotal   *prometheus.CounterVec
	breakerState       prometheus.Gauge
	breakerTransitions *prometheus.CounterVec
}

// NewRecorder creates a recorder registered against reg. Tests pass a private
// registry so parallel packages never collide on metric names.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)

	return &Recorder{
		messagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentflow_messages_total",
				Help: "Total messages processed by queue and outcome",
			},
			[]string{"queue", "status"},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentflow_retries_total",
				Help: "Total retry re-enqueues by queue",
			},
			[]string{"queue"},
		),
		deadLettersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentflow_dead_letters_total",
				Help: "Total messages moved to a dead-letter queue",
			},
			[]string{"queue"},
		),
		queueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "agentflow_queue_depth",
				Help: "Current number of messages waiting in each queue",
			},
			[]string{"queue"},
		),
		sessionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentflow_session_duration_seconds",
				Help:    "Duration of routed sessions by message type and outcome",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"msg_type", "status"},
		),
		toolClientsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentflow_tool_clients_total",
				Help: "Tool client provisioning outcomes by server",
			},
			[]string{"server", "outcome"},
		),
		breakerState: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentflow_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
		),
		breakerTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentflow_breaker_transitions_total",
				Help: "Circuit breaker state transitions by target state",
			},
			[]string{"to_state"},
		),
	}
}

// ObserveMessage records one processed message outcome.
func (r *Recorder) ObserveMessage(queue string, success bool) {
	if r == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	r.messagesTotal.WithLabelValues(queue, status).Inc()
}

// IncRetry records one retry re-enqueue.
func (r *Recorder) IncRetry(queue string) {
	if r == nil {
		return
	}
	r.retriesTotal.WithLabelValues(queue).Inc()
}

// IncDeadLetter records one dead-letter move.
func (r *Recorder) IncDeadLetter(queue string) {
	if r == nil {
		return
	}
	r.deadLettersTotal.WithLabelValues(queue).Inc()
}

// SetQueueDepth reports the current depth of a queue.
func (r *Recorder) SetQueueDepth(queue string, depth int) {
	if r == nil {
		return
	}
	r.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// ObserveSession records a completed session's duration and outcome.
func (r *Recorder) ObserveSession(msgType string, success bool, duration time.Duration) {
	if r == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	r.sessionDuration.WithLabelValues(msgType, status).Observe(duration.Seconds())
}

// IncToolClient records a tool client provisioning outcome.
func (r *Recorder) IncToolClient(server, outcome string) {
	if r == nil {
		return
	}
	r.toolClientsTotal.WithLabelValues(server, outcome).Inc()
}

// SetBreakerState reports the circuit breaker state.
func (r *Recorder) SetBreakerState(state int) {
	if r == nil {
		return
	}
	r.breakerState.Set(float64(state))
}

// IncBreakerTransition records a breaker state transition.
func (r *Recorder) IncBreakerTransition(toState string) {
	if r == nil {
		return
	}
	r.breakerTransitions.WithLabelValues(toState).Inc()
}
