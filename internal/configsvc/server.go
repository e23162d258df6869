package configsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/SebastienMelki/appgate/internal/observability"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// ServerOptions holds the optional parts of the HTTP surface.
type ServerOptions struct {
	Metrics        *observability.Metrics
	MetricsHandler http.Handler
	HealthChecks   map[string]HealthCheck
}

// Server is the config endpoint's HTTP server.
type Server struct {
	cfg    Config
	svc    *DecisionService
	opts   ServerOptions
	router chi.Router
	http   *http.Server
	logger *slog.Logger
}

// NewServer builds the router. Call Start to listen.
func NewServer(cfg Config, svc *DecisionService, opts ServerOptions, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		svc:    svc,
		opts:   opts,
		logger: logger.With("component", "http-server"),
	}
	s.router = s.routes()
	s.http = &http.Server{
		Addr:           cfg.Addr,
		Handler:        s.router,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(RequestID)
	r.Use(chimw.Recoverer)
	r.Use(observability.HTTPMetrics(s.opts.Metrics))

	r.Get("/healthz", s.handleHealth)
	if s.opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(RateLimit(s.cfg.RateLimit, s.opts.Metrics))
		r.Use(BodySizeLimit(s.cfg.MaxBodyBytes))
		r.Post("/config", s.handleConfig)
	})
	return r
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("config endpoint listening", "addr", s.cfg.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	return s.http.Shutdown(ctx)
}

// configResponse is the body the SDK decodes.
type configResponse struct {
	OK      bool     `json:"ok"`
	URL     string   `json:"url,omitempty"`
	Expires *float64 `json:"expires,omitempty"`
	Message string   `json:"message,omitempty"`
}

func errorResponse(msg string) configResponse {
	return configResponse{OK: false, Message: msg}
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse("request body too large"))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse("request body must be a JSON object"))
		return
	}
	if req == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("request body must be a JSON object"))
		return
	}

	d := s.svc.Decide(r.Context(), req, GetRequestID(r.Context()))

	if d.Status != http.StatusOK {
		writeJSON(w, d.Status, errorResponse(d.Message))
		return
	}

	expires := float64(d.ExpiresAt.UnixMilli()) / 1000
	writeJSON(w, http.StatusOK, configResponse{OK: true, URL: d.URL, Expires: &expires})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{}
	healthy := true
	for name, check := range s.opts.HealthChecks {
		if err := check(r.Context()); err != nil {
			healthy = false
			status[name] = err.Error()
			continue
		}
		status[name] = "ok"
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"ok": healthy, "checks": status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
