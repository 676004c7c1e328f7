// Package http exposes a Fantasm engine over HTTP.
//
// The dispatch endpoint lets a push queue deliver hops: it maps a task to a
// fantasm.Request and answers 200 when the task must not be delivered again
// (success or permanent failure) and 500 when it should be retried.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/aretw0/fantasm"
	"github.com/aretw0/fantasm/internal/logging"
	"github.com/aretw0/fantasm/pkg/domain"
	"github.com/aretw0/fantasm/pkg/graph"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Headers carrying queue delivery metadata.
const (
	HeaderRetryCount = "X-Fantasm-Retry-Count"
	HeaderTaskName   = "X-Fantasm-Task-Name"
)

// Engine is the part of *fantasm.Engine the server needs.
type Engine interface {
	Handle(ctx context.Context, req fantasm.Request) error
	Start(ctx context.Context, machine string, data map[string]any) (string, error)
	Graph() *graph.Graph
}

// DispatchRequest is the body of POST /machines/{machine}/dispatch.
// Context is the JSON execution context carried by the task.
type DispatchRequest struct {
	Instance string          `json:"instance,omitempty"`
	State    string          `json:"state,omitempty"`
	Event    string          `json:"event,omitempty"`
	Context  json.RawMessage `json:"context,omitempty"`
}

// DispatchResponse reports how a delivery was handled.
type DispatchResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Dispatch statuses.
const (
	StatusOK      = "ok"
	StatusDropped = "dropped"
	StatusRetry   = "retry"
)

// Server routes HTTP requests to an Engine.
type Server struct {
	Engine   Engine
	logger   *slog.Logger
	gatherer prometheus.Gatherer
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithGatherer sets the registry served on /metrics (default:
// prometheus.DefaultGatherer). A nil gatherer disables the endpoint.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// NewHandler creates a new HTTP handler for the engine.
func NewHandler(engine Engine, opts ...Option) http.Handler {
	s := &Server{
		Engine:   engine,
		logger:   logging.NewNop(),
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Get("/health", s.GetHealth)
	r.Get("/machines", s.ListMachines)
	r.Route("/machines/{machine}", func(r chi.Router) {
		r.Get("/graph", s.GetGraph)
		r.Post("/instances", s.StartInstance)
		r.Post("/dispatch", s.Dispatch)
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// Dispatch handles POST /machines/{machine}/dispatch.
func (s *Server) Dispatch(w http.ResponseWriter, r *http.Request) {
	var body DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		// A malformed delivery will never parse; do not ask for it again.
		s.logger.Warn("Dispatch: invalid request body", "err", err)
		writeJSON(w, http.StatusOK, DispatchResponse{Status: StatusDropped, Error: "invalid request body"})
		return
	}
	retryCount := 0
	if v := r.Header.Get(HeaderRetryCount); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, fmt.Sprintf("invalid %s header", HeaderRetryCount), http.StatusBadRequest)
			return
		}
		retryCount = n
	}

	err := s.Engine.Handle(r.Context(), fantasm.Request{
		Machine:    chi.URLParam(r, "machine"),
		Instance:   body.Instance,
		State:      body.State,
		Event:      body.Event,
		Payload:    body.Context,
		RetryCount: retryCount,
		TaskName:   r.Header.Get(HeaderTaskName),
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, DispatchResponse{Status: StatusOK})
	case domain.IsPermanent(err):
		writeJSON(w, http.StatusOK, DispatchResponse{Status: StatusDropped, Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, DispatchResponse{Status: StatusRetry, Error: err.Error()})
	}
}

// StartInstance handles POST /machines/{machine}/instances. The body is
// the initial working memory as a JSON object and may be empty.
func (s *Server) StartInstance(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			s.logger.Warn("StartInstance: invalid request body", "err", err)
			return
		}
	}
	instance, err := s.Engine.Start(r.Context(), chi.URLParam(r, "machine"), data)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrUnknownMachine) {
			status = http.StatusNotFound
		}
		http.Error(w, fmt.Sprintf("Start error: %v", err), status)
		s.logger.Error("StartInstance failed", "err", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"instance": instance})
}

// ListMachines handles GET /machines.
func (s *Server) ListMachines(w http.ResponseWriter, r *http.Request) {
	machines := s.Engine.Graph().Machines()
	names := make([]string, len(machines))
	for i, m := range machines {
		names[i] = m.Name
	}
	writeJSON(w, http.StatusOK, names)
}

// GetGraph handles GET /machines/{machine}/graph and returns Mermaid source.
func (s *Server) GetGraph(w http.ResponseWriter, r *http.Request) {
	m, err := s.Engine.Graph().Machine(chi.URLParam(r, "machine"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, graph.Mermaid(m))
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": fantasm.Version})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
