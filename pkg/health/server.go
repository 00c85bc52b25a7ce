// Package health exposes the engine's HTTP observability surface: a JSON
// health endpoint covering queue depths and breaker state, and the Prometheus
// metrics endpoint.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agentflow/pkg/breaker"
	"agentflow/pkg/logx"
	"agentflow/pkg/queue"
)

// QueueStatus reports one queue's depth against its capacity.
type QueueStatus struct {
	Depth    int `json:"depth"`
	Capacity int `json:"capacity"`
}

// Status is the health endpoint payload.
type Status struct {
	Status       string                 `json:"status"`
	Queues       map[string]QueueStatus `json:"queues"`
	BreakerState string                 `json:"breaker_state,omitempty"`
	Uptime       string                 `json:"uptime"`
}

// Server serves /healthz and /metrics.
type Server struct {
	logger   *logx.Logger
	queues   *queue.Service
	breaker  *breaker.CircuitBreaker
	registry *prometheus.Registry
	started  time.Time
	srv      *http.Server
}

// NewServer creates a health server bound to addr. breaker and registry may
// be nil; the corresponding surfaces are omitted.
func NewServer(addr string, queues *queue.Service, cb *breaker.CircuitBreaker, registry *prometheus.Registry) *Server {
	s := &Server{
		logger:   logx.NewLogger("health"),
		queues:   queues,
		breaker:  cb,
		registry: registry,
		started:  time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	if registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start begins serving in the background. Listen errors other than a clean
// close are logged.
func (s *Server) Start() {
	go func() {
		s.logger.Info("Health server listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Health server failed: %v", err)
		}
	}()
}

// Stop shuts the server down within the context deadline.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := s.Snapshot()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Warn("Failed to encode health response: %v", err)
	}
}

// Snapshot assembles the current health status.
func (s *Server) Snapshot() Status {
	status := Status{
		Status: "ok",
		Queues: make(map[string]QueueStatus),
		Uptime: time.Since(s.started).Round(time.Second).String(),
	}
	if s.queues != nil {
		for _, name := range s.queues.QueueNames() {
			status.Queues[name] = QueueStatus{
				Depth:    s.queues.Size(name),
				Capacity: s.queues.Capacity(),
			}
		}
	}
	if s.breaker != nil {
		status.BreakerState = s.breaker.State().String()
	}
	return status
}
