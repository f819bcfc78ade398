// Package httpedge exposes the two HTTP contracts spec §6 names
// (validate-api-key, execute-mcp-tool) plus the operational endpoints
// (health, readiness, metrics) every other endpoint the excluded edge might
// want belongs outside this package.
package httpedge

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server holds the HTTP server dependencies and chi router.
type Server struct {
	Router    *chi.Mux
	Logger    *slog.Logger
	deps      *Deps
	startedAt time.Time
}

// NewServer wires the chi router, global middleware, health/metrics
// endpoints, and the two contractual handlers (spec §6).
func NewServer(deps *Deps, corsOrigins []string, maxBodyBytes int64, metricsReg *prometheus.Registry) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		Logger:    deps.Logger,
		deps:      deps,
		startedAt: time.Now(),
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(deps.Logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"POST", "GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	s.Router.Use(maxBody(maxBodyBytes))

	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	s.Router.Post("/v1/validate-api-key", deps.HandleValidateAPIKey)
	s.Router.Post("/v1/execute-mcp-tool", deps.HandleExecuteMCPTool)

	return s
}

// maxBody caps every request body at limitBytes (spec §6: "MAX_BODY_BYTES").
func maxBody(limitBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limitBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz reports ready as soon as the process can reach its own data
// root; this fabric has no external database/cache dependency to ping the
// way the teacher's readyz does; readiness here means "the filesystem root
// is reachable", checked by a lightweight stat in the handler.
func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if !dataRootReachable(s.deps.DataRoot) {
		s.Logger.Error("readiness check: data root unreachable", "data_root", s.deps.DataRoot)
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "data root not reachable")
		return
	}
	Respond(w, http.StatusOK, map[string]string{"status": "ready", "uptime": time.Since(s.startedAt).String()})
}

func dataRootReachable(dataRoot string) bool {
	info, err := os.Stat(dataRoot)
	return err == nil && info.IsDir()
}
