// Package api provides the HTTP API server and handlers for the Bookshelf
// server. Operations are registered with huma on a chi router; the SSE
// endpoints are plain chi handlers that share the same middleware.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	jsoniter "github.com/json-iterator/go"

	"github.com/bookshelfapp/bookshelf-server/internal/logger"
	"github.com/bookshelfapp/bookshelf-server/internal/sse"
	"github.com/bookshelfapp/bookshelf-server/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Options tune the server. Zero values fall back to defaults.
type Options struct {
	CORSOrigins  []string
	ReadyTimeout time.Duration
	Heartbeat    time.Duration
	// AuthRateLimiter limits the auth routes per client IP.
	AuthRateLimiter *RateLimiter
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	store           store.SessionStore
	services        *Services
	router          *chi.Mux
	api             huma.API
	streamer        *sse.Streamer
	authRateLimiter *RateLimiter
	readyTimeout    time.Duration
	logger          *slog.Logger
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(st store.SessionStore, services *Services, opts Options, logger *slog.Logger) *Server {
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	if opts.AuthRateLimiter == nil {
		opts.AuthRateLimiter = NewRateLimiter(authRatePerMinute, time.Minute, authBurst)
	}

	s := &Server{
		store:           st,
		services:        services,
		router:          chi.NewRouter(),
		streamer:        sse.NewStreamer(logger, opts.Heartbeat),
		authRateLimiter: opts.AuthRateLimiter,
		readyTimeout:    opts.ReadyTimeout,
		logger:          logger,
	}

	// chi requires middleware before any route, and humachi registers the
	// docs routes on creation.
	s.setupMiddleware(opts.CORSOrigins)

	humaConfig := huma.DefaultConfig("Bookshelf API", "1.0.0")
	humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearer": {
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "PASETO",
		},
	}
	humaConfig.Transformers = append(humaConfig.Transformers, EnvelopeTransformer)
	s.api = humachi.New(s.router, humaConfig)
	RegisterErrorHandler()

	s.registerRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// API exposes the huma API, mainly for tests and OpenAPI export.
func (s *Server) API() huma.API {
	return s.api
}

// Close releases background resources owned by the server.
func (s *Server) Close() {
	s.authRateLimiter.Stop()
}

// setupMiddleware configures middleware stack.
func (s *Server) setupMiddleware(origins []string) {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	s.router.Use(rateLimitPrefix("/api/v1/auth/", s.authRateLimiter, s.logger))
	s.router.Use(authMiddleware(s.services.Auth))
}

func (s *Server) registerRoutes() {
	s.registerHealthRoutes()
	s.registerAuthRoutes()
	s.registerCatalogRoutes()
	s.registerDetailRoutes()
	s.registerProfileRoutes()
}

// requestLogger logs one line per request at debug level, and at warn for
// server errors. Handlers find a logger tagged with the request ID through
// logger.FromContext.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			scoped := log.With("request_id", middleware.GetReqID(r.Context()))

			next.ServeHTTP(ww, r.WithContext(logger.IntoContext(r.Context(), scoped)))

			level := slog.LevelDebug
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			scoped.Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
			)
		})
	}
}
