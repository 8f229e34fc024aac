// Package web provides the HTTP server for the fisler receipt dashboard:
// the JSON API, the ingest event stream and the HTMX fragments.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/fisler/internal/config"
	"github.com/JonMunkholm/fisler/internal/core"
	"github.com/JonMunkholm/fisler/internal/export"
	"github.com/JonMunkholm/fisler/internal/ingest"
	"github.com/JonMunkholm/fisler/internal/logging"
	mw "github.com/JonMunkholm/fisler/internal/web/middleware"
	"github.com/JonMunkholm/fisler/internal/workflow"
)

// Forwarder sends an accepted upload to the extraction workflow.
// *workflow.Client implements it.
type Forwarder interface {
	Enabled() bool
	Forward(ctx context.Context, up workflow.Upload) (workflow.Reply, error)
}

// Server is the HTTP server for the fisler service.
type Server struct {
	cfg      *config.Config
	service  *core.Service
	poller   *ingest.Poller
	workflow Forwarder
	limiter  *core.UploadLimiter
	exporter *export.Formatter
	limits   core.UploadLimits
	now      func() time.Time

	router *chi.Mux
	server *http.Server
	rates  []*rateLimiter
}

// NewServer wires handlers around the service, the ingest poller and the
// workflow forwarder.
func NewServer(cfg *config.Config, service *core.Service, poller *ingest.Poller, wf Forwarder) *Server {
	s := &Server{
		cfg:      cfg,
		service:  service,
		poller:   poller,
		workflow: wf,
		limiter:  core.NewUploadLimiter(cfg.Upload.MaxConcurrent, cfg.Upload.MaxWaitTime),
		exporter: export.NewFormatter(),
		limits: core.UploadLimits{
			MaxSize:       cfg.Upload.MaxFileSize,
			MinImageSize:  cfg.Upload.MinImageSize,
			MaxNameLength: cfg.Upload.MaxNameLength,
		},
		now:    time.Now,
		router: chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5, "application/json", "text/html"))
	s.router.Use(securityHeaders(s.cfg.Security.EnableCSP))

	if s.cfg.Rate.Enabled {
		s.router.Use(s.newRateLimiter(s.cfg.Rate.RequestsPerMinute, time.Minute).middleware)
	}
}

// setupRoutes configures all HTTP routes. The ingest event stream and the
// uploads sit outside the request timeout.
func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/ingest/events", s.handleIngestEvents)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))

			r.Get("/health", s.handleHealth)
			r.Get("/stats", s.handleStats)

			r.Get("/ingest/status", s.handleIngestStatus)
			r.Get("/ingest/banner", s.handleIngestBanner)
			r.Post("/ingest/dismiss", s.handleIngestDismiss)

			r.Route("/fisler", func(r chi.Router) {
				r.Get("/", s.handleListFis)
				r.Delete("/", s.handleDeleteFis)
				r.Get("/export", s.handleExportFiltered)
				r.Post("/export", s.handleExportSelection)
				r.Get("/{id}", s.handleGetFis)

				// Workflow write-back
				r.Group(func(r chi.Router) {
					r.Use(mw.APIKeyAuth(s.cfg.Security))
					r.Post("/", s.handleCreateFis)
					r.Patch("/{id}", s.handleUpdateFis)
				})
			})
		})

		// Forwards are bounded by the workflow timeout and the upload
		// limiter wait instead of the request timeout.
		r.Group(func(r chi.Router) {
			if s.cfg.Rate.Enabled && s.cfg.Rate.UploadLimit > 0 {
				r.Use(s.newRateLimiter(s.cfg.Rate.UploadLimit, time.Minute).middleware)
			}
			r.Post("/upload", s.handleUpload)
			r.Post("/upload/batch", s.handleUploadBatch)
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", s.server.Addr, "workflow", s.workflow.Enabled())
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests, then waits for in-flight workflow
// forwards to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, rl := range s.rates {
		rl.stop()
	}
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	if drainErr := s.limiter.WaitForDrain(ctx); drainErr != nil {
		slog.Warn("uploads still in flight at shutdown",
			"active", s.limiter.ActiveCount(),
			"error", drainErr,
		)
	}
	return err
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(csp bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			if csp {
				h.Set("Content-Security-Policy", "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data: blob:")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimiter is a fixed-window token bucket per client address.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int
	window   time.Duration
	now      func() time.Time
	done     chan struct{}
	once     sync.Once
}

type visitor struct {
	tokens    int
	lastReset time.Time
}

func (s *Server) newRateLimiter(rate int, window time.Duration) *rateLimiter {
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	s.rates = append(s.rates, rl)
	go rl.cleanup()
	return rl
}

// cleanup drops visitors idle for two windows until stop is called.
func (rl *rateLimiter) cleanup() {
	t := time.NewTicker(rl.window)
	defer t.Stop()
	for {
		select {
		case <-rl.done:
			return
		case <-t.C:
			rl.mu.Lock()
			for ip, v := range rl.visitors {
				if rl.now().Sub(v.lastReset) > 2*rl.window {
					delete(rl.visitors, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.once.Do(func() { close(rl.done) })
}

// allow consumes a token for ip if one is left in the current window.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v, ok := rl.visitors[ip]
	if !ok || now.Sub(v.lastReset) > rl.window {
		rl.visitors[ip] = &visitor{tokens: rl.rate - 1, lastReset: now}
		return true
	}
	if v.tokens <= 0 {
		return false
	}
	v.tokens--
	return true
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientIP(r)) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			writeJSON(w, r, http.StatusTooManyRequests, errorResponse{
				Error:   "rate limit exceeded",
				Details: "Please wait before making more requests",
				Code:    "RATE001",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP is RemoteAddr without the port; TrustedRealIP has already
// applied proxy headers.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// writeJSON encodes v as the response body with the given status.
// Encoding errors are logged; headers are already sent by then.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && !errors.Is(err, context.Canceled) {
		logging.FromContext(r.Context()).Error("json encode failed", "error", err)
	}
}
