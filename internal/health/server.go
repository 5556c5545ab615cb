// Package health serves liveness, readiness and Prometheus endpoints for the
// pipeline processes.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/trinhhung12345/data-warehouse/internal/metrics"
	"github.com/trinhhung12345/data-warehouse/internal/scheduler"
)

// Overall health values
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// StatusSource reports the scheduler status of a component
type StatusSource interface {
	Status() scheduler.Status
}

// Check is a readiness probe of a dependency
type Check func(ctx context.Context) error

type component struct {
	source StatusSource
	detail func() any
}

// ComponentHealth is the /health view of one component
type ComponentHealth struct {
	scheduler.Status
	Healthy bool `json:"healthy"`
	Detail  any  `json:"detail,omitempty"`
}

// Response is the JSON body of /health
type Response struct {
	Status     string                     `json:"status"`
	Service    string                     `json:"service"`
	Version    string                     `json:"version"`
	Uptime     string                     `json:"uptime"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"timestamp"`
}

// Options configures a Server
type Options struct {
	Service string
	Version string
	Port    int
	// StaleAfter marks a component degraded when it has made no progress for
	// this long. Zero disables the check.
	StaleAfter   time.Duration
	CheckTimeout time.Duration
}

// Server provides /health, /ready and /metrics
type Server struct {
	opts      Options
	logger    *zap.Logger
	collector *metrics.Collector
	router    *mux.Router
	startTime time.Time
	now       func() time.Time

	mu         sync.RWMutex
	components map[string]component
	checks     map[string]Check
}

// NewServer creates a health server
func NewServer(opts Options, collector *metrics.Collector, logger *zap.Logger) *Server {
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		opts:       opts,
		logger:     logger,
		collector:  collector,
		startTime:  time.Now(),
		now:        time.Now,
		components: make(map[string]component),
		checks:     make(map[string]Check),
	}

	s.router = mux.NewRouter()
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	if collector != nil {
		s.router.Handle("/metrics", collector.Handler()).Methods(http.MethodGet)
	}
	return s
}

// RegisterComponent adds a component to /health. detail may be nil.
func (s *Server) RegisterComponent(name string, source StatusSource, detail func() any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.components[name] = component{source: source, detail: detail}
}

// AddCheck adds a readiness probe
func (s *Server) AddCheck(name string, check Check) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.opts.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Health server listening", zap.Int("port", s.opts.Port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// Snapshot builds the /health response
func (s *Server) Snapshot() Response {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	resp := Response{
		Status:     StatusHealthy,
		Service:    s.opts.Service,
		Version:    s.opts.Version,
		Uptime:     now.Sub(s.startTime).Round(time.Second).String(),
		Components: make(map[string]ComponentHealth, len(s.components)),
		Timestamp:  now,
	}

	for name, c := range s.components {
		st := c.source.Status()
		ch := ComponentHealth{Status: st, Healthy: true}
		if c.detail != nil {
			ch.Detail = c.detail()
		}

		switch {
		case st.State == scheduler.StateStopped:
			ch.Healthy = false
			resp.Status = StatusUnhealthy
		case st.State == scheduler.StateBackoff, s.stale(st, now):
			ch.Healthy = false
			if resp.Status == StatusHealthy {
				resp.Status = StatusDegraded
			}
		}
		resp.Components[name] = ch
	}
	return resp
}

func (s *Server) stale(st scheduler.Status, now time.Time) bool {
	if s.opts.StaleAfter <= 0 {
		return false
	}
	last := st.LastProgressAt
	if last.IsZero() {
		last = s.startTime
	}
	return now.Sub(last) > s.opts.StaleAfter
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := s.Snapshot()
	code := http.StatusOK
	if resp.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	checks := make(map[string]Check, len(s.checks))
	for name, check := range s.checks {
		names = append(names, name)
		checks[name] = check
	}
	s.mu.RUnlock()
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.CheckTimeout)
	defer cancel()

	failed := map[string]string{}
	for _, name := range names {
		if err := checks[name](ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": true, "checks": names})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
