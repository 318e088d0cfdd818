// Package api serves the profile store over JSON-over-HTTP.
//
// Every operation is a POST under BasePath taking a JSON request and
// answering with a tagged object: {"type":"show","values":{...}},
// {"type":"set"}, {"type":"removed"} or {"type":"error","reason":"..."}.
// Success is 200. Every error outcome is 500, whatever its kind; a
// malformed body is 400 and a non-POST is 405.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/dreamware/profilestore/internal/profile"
)

// Server routes HTTP requests to a profile.Store.
type Server struct {
	store   *profile.Store
	health  func() error
	metrics http.Handler
	mux     *http.ServeMux
	handler http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithHealthCheck makes /health answer 503 whenever fn returns an error.
func WithHealthCheck(fn func() error) Option {
	return func(s *Server) { s.health = fn }
}

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// NewServer builds the route table.
func NewServer(store *profile.Store, opts ...Option) *Server {
	s := &Server{store: store, mux: http.NewServeMux()}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("/health", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics)
	}

	s.mux.HandleFunc(BasePath+PathShow, post(s.handleShow))
	s.mux.HandleFunc(BasePath+PathShowService, post(s.handleShowService))
	s.mux.HandleFunc(BasePath+PathShowOverlay, post(s.handleShowOverlay))
	s.mux.HandleFunc(BasePath+PathSet, post(s.handleSet))
	s.mux.HandleFunc(BasePath+PathSetService, post(s.handleSetService))
	s.mux.HandleFunc(BasePath+PathRemove, post(s.handleRemove))
	s.mux.HandleFunc(BasePath+PathRemoveService, post(s.handleRemoveService))

	s.handler = withRequestID(s.mux)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.health != nil {
		if err := s.health(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleShow(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	var req ShowRequest
	if !decode(w, r, &req) {
		return
	}
	values, err := s.store.Show(ctx, req.ID, req.Entries)
	writeShow(w, values, err)
}

func (s *Server) handleShowService(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	var req ShowRequest
	if !decode(w, r, &req) {
		return
	}
	values, err := s.store.ShowService(ctx, req.ID, req.Service, req.Entries)
	writeShow(w, values, err)
}

func (s *Server) handleShowOverlay(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	var req ShowRequest
	if !decode(w, r, &req) {
		return
	}
	values, err := s.store.ShowOverlay(ctx, req.ID, req.Service, req.Entries)
	writeShow(w, values, err)
}

func (s *Server) handleSet(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	var req SetRequest
	if !decode(w, r, &req) {
		return
	}
	writeStatus(w, TypeSet, s.store.Set(ctx, req.ID, req.Entries))
}

func (s *Server) handleSetService(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	var req SetRequest
	if !decode(w, r, &req) {
		return
	}
	writeStatus(w, TypeSet, s.store.SetService(ctx, req.ID, req.Service, req.Entries))
}

func (s *Server) handleRemove(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	var req RemoveRequest
	if !decode(w, r, &req) {
		return
	}
	writeStatus(w, TypeRemoved, s.store.Remove(ctx, req.ID))
}

func (s *Server) handleRemoveService(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	var req RemoveRequest
	if !decode(w, r, &req) {
		return
	}
	writeStatus(w, TypeRemoved, s.store.RemoveService(ctx, req.ID, req.Service))
}

// post rejects every method but POST and hands the request context to fn.
func post(fn func(context.Context, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Type: TypeError, Reason: "method not allowed"})
			return
		}
		fn(r.Context(), w, r)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Type: TypeError, Reason: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func writeShow(w http.ResponseWriter, values map[string]string, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	if values == nil {
		values = map[string]string{}
	}
	writeJSON(w, http.StatusOK, ShowResponse{Type: TypeShow, Values: values})
}

func writeStatus(w http.ResponseWriter, tag string, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Type: tag})
}

// writeError maps every failure to 500; callers tell kinds apart by reason.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Type: TypeError, Reason: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error writing response: %v", err)
	}
}
