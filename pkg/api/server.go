// Package api is the HTTP binding of the partition manager. Every response
// carries the numeric status code in the X-Flashkv-Status header; failures
// also return {"code":N,"error":"..."}.
package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dd0wney/cluso-flashkv/pkg/api/middleware"
	"github.com/dd0wney/cluso-flashkv/pkg/health"
	"github.com/dd0wney/cluso-flashkv/pkg/logging"
	"github.com/dd0wney/cluso-flashkv/pkg/metrics"
	"github.com/dd0wney/cluso-flashkv/pkg/partition"
	"github.com/dd0wney/cluso-flashkv/pkg/recordlog"
)

// Options configure a Server. Every field is optional.
type Options struct {
	Metrics *metrics.Registry
	Health  *health.HealthChecker
	Logger  logging.Logger
	// MaxBodyBytes bounds blob uploads; zero means one erase unit.
	MaxBodyBytes int64
	// Tokens enables bearer authentication on /v1 when set.
	Tokens middleware.TokenValidator
}

// Server represents the HTTP API server
type Server struct {
	manager         *partition.Manager
	metricsRegistry *metrics.Registry
	healthChecker   *health.HealthChecker
	logger          logging.Logger
	maxBody         int64
	tokens          middleware.TokenValidator
	router          chi.Router
	startTime       time.Time
}

// NewServer builds the binding around a manager.
func NewServer(mgr *partition.Manager, opts Options) *Server {
	s := &Server{
		manager:         mgr,
		metricsRegistry: opts.Metrics,
		healthChecker:   opts.Health,
		logger:          logging.OrNop(opts.Logger).With(logging.Component("api")),
		maxBody:         opts.MaxBodyBytes,
		tokens:          opts.Tokens,
		startTime:       time.Now(),
	}
	if s.metricsRegistry == nil {
		s.metricsRegistry = metrics.NewRegistry()
	}
	if s.healthChecker == nil {
		s.healthChecker = NewHealthChecker(mgr)
	}
	if s.maxBody <= 0 {
		s.maxBody = int64(mgr.Table().Geometry().UnitSize)
	}
	s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.PanicRecovery(s.logger))
	r.Use(middleware.Logging(s.logger, middleware.GetRequestID))
	r.Use(middleware.Metrics(s.metricsRegistry))

	r.Get("/health", s.healthChecker.HTTPHandler())
	r.Get("/health/ready", s.healthChecker.ReadinessHandler())
	r.Get("/health/live", s.healthChecker.LivenessHandler())
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metricsRegistry.GetPrometheusRegistry(), promhttp.HandlerOpts{}))

	r.Route("/v1/partitions", func(r chi.Router) {
		if s.tokens != nil {
			r.Use(middleware.Auth(s.tokens, s.logger))
		}
		r.Get("/", s.handleListPartitions)
		r.Route("/{partition}", func(r chi.Router) {
			r.Get("/", s.handlePartitionInfo)
			r.Post("/init", s.handleInit)
			r.Post("/erase", s.handleErase)
			r.Post("/compact", s.handleCompact)
			r.Get("/namespaces", s.handleListNamespaces)
			r.Route("/namespaces/{namespace}", func(r chi.Router) {
				r.Get("/", s.handleListKeys)
				r.Delete("/", s.handleEraseNamespace)
				r.Head("/keys/{key}", s.handleKeyExists)
				r.Get("/keys/{key}", s.handleReadBlob)
				r.With(middleware.BodySizeLimit(s.maxBody)).Put("/keys/{key}", s.handleWriteBlob)
				r.Delete("/keys/{key}", s.handleDeleteKey)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.respondRouteError(w, http.StatusNotFound, "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.respondRouteError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	s.router = r
}

// NewHealthChecker registers a check per key-value partition plus device and
// memory checks.
func NewHealthChecker(mgr *partition.Manager) *health.HealthChecker {
	hc := health.NewHealthChecker()
	for _, p := range mgr.Table().Partitions() {
		if !p.IsKV() {
			continue
		}
		name := p.Name
		check := health.PartitionCheck(name, func() (recordlog.Info, error) {
			return mgr.PartitionInfo(name)
		})
		hc.RegisterCheck("partition:"+name, check)
		hc.RegisterReadinessCheck("partition:"+name, check)
	}

	device := health.DeviceCheck(mgr.Verify)
	hc.RegisterCheck("device", device)
	hc.RegisterLivenessCheck("device", device)

	memory := health.MemoryCheck(func() (uint64, uint64) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		return m.Alloc, m.Sys
	})
	hc.RegisterCheck("memory", memory)
	hc.RegisterLivenessCheck("memory", memory)
	return hc
}

// UpdateMetricsPeriodically samples runtime and partition gauges until ctx
// is cancelled.
func (s *Server) UpdateMetricsPeriodically(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.metricsRegistry.UpdateSystemMetrics()
			for _, p := range s.manager.Partitions() {
				if !p.Initialized {
					continue
				}
				if info, err := s.manager.PartitionInfo(p.Name); err == nil {
					s.metricsRegistry.UpdatePartition(info)
				}
			}
		}
	}
}
