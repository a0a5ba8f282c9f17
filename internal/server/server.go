// Package server implements the lifecycle HTTP endpoints the platform
// calls to manage this external app: init, enable/disable, heartbeat,
// and the task trigger fast path.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/stewardhq/steward/internal/buildinfo"
	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/intake"
	"github.com/stewardhq/steward/internal/platform"
	"github.com/stewardhq/steward/internal/tools"
)

// Server is the management surface of the app. Every route except the
// heartbeat requires the platform's shared-secret authentication.
type Server struct {
	cfg      config.ListenConfig
	secret   string
	platform *platform.Client
	loop     *intake.Loop
	registry *tools.Registry
	logger   *slog.Logger

	server *http.Server
}

// New creates the lifecycle server. pc must be the app-scoped platform
// client used for provider and settings registration.
func New(cfg config.ListenConfig, secret string, pc *platform.Client, loop *intake.Loop, registry *tools.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		secret:   secret,
		platform: pc,
		loop:     loop,
		registry: registry,
		logger:   logger,
	}
}

// Handler builds the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /heartbeat", s.handleHeartbeat)
	mux.HandleFunc("POST /init", s.requireAuth(s.handleInit))
	mux.HandleFunc("PUT /enabled", s.requireAuth(s.handleEnabled))
	mux.HandleFunc("POST /trigger", s.requireAuth(s.handleTrigger))
	mux.HandleFunc("GET /status", s.requireAuth(s.handleStatus))
	return mux
}

// Start serves the lifecycle endpoints until Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port),
		Handler:      s.withLogging(s.Handler()),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.logger.Info("starting lifecycle server", "address", s.cfg.Address, "port", s.cfg.Port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// requireAuth validates the platform's shared-secret header. The header
// carries base64(user:secret); only the secret part is checked, the
// user part names the acting user.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("AUTHORIZATION-APP-API")
		if raw == "" {
			http.Error(w, "missing authentication", http.StatusUnauthorized)
			return
		}
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			http.Error(w, "malformed authentication", http.StatusUnauthorized)
			return
		}
		_, secret, found := strings.Cut(string(decoded), ":")
		if !found || subtle.ConstantTimeCompare([]byte(secret), []byte(s.secret)) != 1 {
			s.logger.Warn("rejected lifecycle request", "path", r.URL.Path)
			http.Error(w, "invalid authentication", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"}, s.logger)
}

// handleInit acknowledges immediately and finishes registration in the
// background, reporting progress to the platform as it goes.
func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{}, s.logger)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		if err := s.register(ctx); err != nil {
			s.logger.Error("app initialization failed", "error", err)
			return
		}
		if err := s.platform.ReportInitProgress(ctx, 100); err != nil {
			s.logger.Warn("could not report init progress", "error", err)
		}
		s.logger.Info("app initialized", "version", buildinfo.Version)
	}()
}

// register wires this app into the platform: the task provider, the
// admin settings form, and the default tool toggles.
func (s *Server) register(ctx context.Context) error {
	if err := s.platform.RegisterProvider(ctx, platform.DefaultProvider()); err != nil {
		return fmt.Errorf("register provider: %w", err)
	}
	if err := s.platform.RegisterSettingsForm(ctx, platform.ToolSettingsForm(categoryLabels(s.registry.Categories()))); err != nil {
		return fmt.Errorf("register settings form: %w", err)
	}
	if err := s.platform.SeedToolStatus(ctx, s.registry.Categories()); err != nil {
		return fmt.Errorf("seed tool toggles: %w", err)
	}
	return nil
}

// handleEnabled reacts to the platform's enable/disable switch. Enabled
// state drives the intake loop; disabling also unregisters the
// provider so no further tasks are routed here.
func (s *Server) handleEnabled(w http.ResponseWriter, r *http.Request) {
	enabled := r.URL.Query().Get("enabled") == "1"
	s.loop.SetEnabled(enabled)

	if !enabled {
		if err := s.platform.UnregisterProvider(r.Context(), platform.ProviderID); err != nil {
			s.logger.Warn("could not unregister provider", "error", err)
		}
	}

	writeJSON(w, map[string]string{"error": ""}, s.logger)
}

// handleTrigger is the fast-path poke that new tasks may be waiting.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	s.loop.Trigger()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"enabled":   s.loop.Enabled(),
		"in_flight": s.loop.InFlight(),
		"version":   buildinfo.Version,
		"uptime":    buildinfo.Uptime().String(),
	}, s.logger)
}

// categoryLabels derives display names for the settings form from the
// category keys.
func categoryLabels(categories []string) map[string]string {
	labels := make(map[string]string, len(categories))
	for _, c := range categories {
		label := strings.ReplaceAll(c, "_", " ")
		if label != "" {
			label = strings.ToUpper(label[:1]) + label[1:]
		}
		labels[c] = label
	}
	return labels
}

func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("could not write response", "error", err)
	}
}
