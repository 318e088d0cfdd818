// Package main implements the profile service: a JSON-over-HTTP front for
// the profile attribute store.
//
// The process wires three collaborators together at startup and never
// re-reads its configuration:
//
//	┌─────────────────────────────────────────┐
//	│               profiled                  │
//	├─────────────────────────────────────────┤
//	│  HTTP API:                              │
//	│    /api/profile/v1/*  - Profile ops     │
//	│    /health            - Health check    │
//	│    /metrics           - Prometheus      │
//	├─────────────────────────────────────────┤
//	│  Components:                            │
//	│    profile.Store      - Core logic      │
//	│    storage.Backend    - Persistence     │
//	│    directory          - Service gating  │
//	└─────────────────────────────────────────┘
//
// Configuration (see internal/config):
//   - PROFILE_LISTEN: Listen address (default: ":8080")
//   - PROFILE_STORAGE_DRIVER: memory, sqlite, postgres or mongodb (default: "sqlite")
//   - PROFILE_DIRECTORY_MODE: native or http (default: "http")
//   - PROFILE_DIRECTORY_ADDR: Directory daemon URL (default: "http://localhost:8081")
//   - PROFILE_OTEL_ENDPOINT: OTLP/HTTP endpoint; tracing is off when empty
//
// Example usage:
//
//	# Start against a local directory daemon
//	PROFILE_STORAGE_DRIVER=sqlite \
//	PROFILE_DIRECTORY_ADDR=http://localhost:8081 \
//	./profiled
//
//	# Set and read an attribute
//	curl -X POST localhost:8080/api/profile/v1/set \
//	  -d '{"id":42,"entries":[{"key":"theme","value":"dark"}]}'
//	curl -X POST localhost:8080/api/profile/v1/show \
//	  -d '{"id":42,"entries":["theme"]}'
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dreamware/profilestore/internal/api"
	"github.com/dreamware/profilestore/internal/config"
	"github.com/dreamware/profilestore/internal/directory"
	"github.com/dreamware/profilestore/internal/profile"
	"github.com/dreamware/profilestore/internal/storage"
	"github.com/dreamware/profilestore/internal/storage/mongostore"
	"github.com/dreamware/profilestore/internal/storage/sqlstore"
	"github.com/dreamware/profilestore/internal/telemetry"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
// This indirection enables test code to intercept fatal errors
// without actually terminating the test process.
var logFatal = log.Fatalf

// errDirectoryUnhealthy is reported by /health once the directory monitor
// has given up on the remote directory.
var errDirectoryUnhealthy = errors.New("service directory unhealthy")

// app holds everything main starts and must later stop.
type app struct {
	handler http.Handler
	backend storage.Backend
	monitor *directory.Monitor
}

// main loads the configuration, builds the app and serves until SIGINT or
// SIGTERM.
//
// Exit codes:
//   - 0: Normal shutdown via signal
//   - 1: Invalid configuration, unreachable backend or listen failure
func main() {
	log.SetPrefix("[profiled] ")

	cfg, err := config.Load()
	if err != nil {
		logFatal("config: %v", err)
		return
	}

	ctx := context.Background()
	shutdownTracing, err := telemetry.Setup(ctx, "profiled", cfg.OTelEndpoint)
	if err != nil {
		logFatal("telemetry: %v", err)
		return
	}

	a, err := newApp(ctx, cfg, prometheus.NewRegistry())
	if err != nil {
		logFatal("startup: %v", err)
		return
	}

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	if a.monitor != nil {
		a.monitor.Run(monitorCtx)
	}

	s := &http.Server{
		Addr:              cfg.Listen,
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("listening on %s (storage=%s directory=%s)", cfg.Listen, cfg.StorageDriver, cfg.DirectoryMode)
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	stopMonitor()
	if a.monitor != nil {
		a.monitor.Stop()
	}
	if err := a.backend.Close(); err != nil {
		log.Printf("Backend close error: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("Tracing shutdown error: %v", err)
	}
	log.Println("profiled stopped")
}

// newApp opens the backend, builds the directory capability and returns the
// HTTP handler serving the profile API. Metrics are registered on reg.
func newApp(ctx context.Context, cfg config.Config, reg *prometheus.Registry) (*app, error) {
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	dir, monitor, err := openDirectory(cfg)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := profile.NewMetrics(reg)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("metrics: %w", err)
	}

	store := profile.New(backend, dir, profile.WithMetrics(metrics))
	opts := []api.Option{
		api.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
	}
	if monitor != nil {
		opts = append(opts, api.WithHealthCheck(healthCheck(monitor)))
	}

	return &app{
		handler: api.NewServer(store, opts...),
		backend: backend,
		monitor: monitor,
	}, nil
}

// openBackend connects the configured persistence driver.
func openBackend(ctx context.Context, cfg config.Config) (storage.Backend, error) {
	switch cfg.StorageDriver {
	case config.DriverMemory:
		log.Println("using in-memory storage; data is lost on restart")
		return storage.NewMemoryStore(), nil
	case config.DriverSQLite:
		return sqlstore.OpenSQLite(ctx, cfg.SQLitePath)
	case config.DriverPostgres:
		return sqlstore.OpenPostgres(ctx, cfg.PostgresDSN)
	case config.DriverMongoDB:
		return mongostore.Open(ctx, mongostore.Config{
			URI:        cfg.Mongo.URI,
			Username:   cfg.Mongo.Username,
			Password:   cfg.Mongo.Password,
			AuthSource: cfg.Mongo.AuthDB,
			Database:   cfg.Mongo.Database,
		})
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

// openDirectory selects the in-process registry or the HTTP client. The
// monitor is only returned in http mode.
func openDirectory(cfg config.Config) (directory.Directory, *directory.Monitor, error) {
	switch cfg.DirectoryMode {
	case config.DirectoryNative:
		reg, err := directory.LoadRegistry(cfg.DirectoryFile)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("native directory with %d services", reg.Len())
		return reg, nil, nil
	case config.DirectoryHTTP:
		client := directory.NewClient(cfg.DirectoryAddr)
		monitor := directory.NewMonitor(cfg.DirectoryAddr, cfg.DirectoryHealthInterval)
		monitor.SetOnChange(func(status string) {
			log.Printf("directory %s is now %s", client.Addr(), status)
		})
		return client, monitor, nil
	default:
		return nil, nil, fmt.Errorf("unknown directory mode %q", cfg.DirectoryMode)
	}
}

type unhealthyReporter interface {
	Unhealthy() bool
}

func healthCheck(r unhealthyReporter) func() error {
	return func() error {
		if r.Unhealthy() {
			return errDirectoryUnhealthy
		}
		return nil
	}
}
