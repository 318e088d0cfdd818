// Package main implements the service directory daemon: an in-memory
// registry of dependent services that the profile service asks before any
// service-scoped operation.
//
// HTTP API:
//
//	POST /api/services/v1/exists    {"id":"mail"}                    -> {"type":"exists","value":true}
//	POST /api/services/v1/register  {"service":{"name":"mail",...}}  -> {"type":"registered"}
//	POST /api/services/v1/remove    {"id":"mail"}                    -> {"type":"removed"}
//	GET  /api/services/v1/services                                   -> {"type":"services","services":[...]}
//	GET  /health
//
// Configuration:
//   - DIRECTORY_LISTEN: Listen address (default: ":8081")
//   - DIRECTORY_FILE: YAML services file loaded at startup (default: "services.yaml")
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dreamware/profilestore/internal/config"
	"github.com/dreamware/profilestore/internal/directory"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

func main() {
	log.SetPrefix("[directoryd] ")

	cfg, err := config.LoadDirectory()
	if err != nil {
		logFatal("config: %v", err)
		return
	}
	reg, err := directory.LoadRegistry(cfg.File)
	if err != nil {
		logFatal("load services: %v", err)
		return
	}
	log.Printf("loaded %d services from %s", reg.Len(), cfg.File)

	srv := newServer(reg)
	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("directory listening on %s", cfg.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	log.Println("directory stopped")
}

type server struct {
	registry *directory.Registry
}

func newServer(reg *directory.Registry) *server {
	return &server{registry: reg}
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(directory.ExistsPath, s.handleExists)
	mux.HandleFunc(directory.RegisterPath, s.handleRegister)
	mux.HandleFunc(directory.RemovePath, s.handleRemove)
	mux.HandleFunc(directory.ServicesPath, s.handleListServices)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (s *server) handleExists(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req directory.ExistsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	ok, err := s.registry.Exists(r.Context(), req.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, directory.ExistsResponse{Type: directory.TypeExists, Value: ok})
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req directory.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if err := s.registry.Register(req.Service); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	log.Printf("registered service %s (%s)", req.Service.Name, req.Service.Addr)
	writeJSON(w, http.StatusOK, directory.StatusResponse{Type: directory.TypeRegistered})
}

func (s *server) handleRemove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req directory.ExistsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if !s.registry.Remove(req.ID) {
		writeError(w, http.StatusNotFound, "service not found")
		return
	}
	log.Printf("removed service %s", req.ID)
	writeJSON(w, http.StatusOK, directory.StatusResponse{Type: directory.TypeRemoved})
}

func (s *server) handleListServices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, directory.ServicesResponse{
		Type:     directory.TypeServices,
		Services: s.registry.List(),
	})
}

func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, directory.ErrorResponse{Type: directory.TypeError, Reason: reason})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
