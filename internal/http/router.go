package http

import (
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/solar-dashboard-service/internal/observability"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	AllowedOrigin  string
	RequestTimeout time.Duration
	// RateLimiter guards /api routes; nil disables limiting.
	RateLimiter *rate.Limiter
}

// NewRouter wires routes and middleware:
//
//	GET /api/solar  dashboard payload (rate limited, request timeout)
//	GET /health     health status
//	GET /metrics    Prometheus metrics
//
// Preflight, panic recovery and the fixed CORS headers wrap every route.
func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := mux.NewRouter()
	r.Use(CorrelationIDMiddleware(logger))
	r.Use(MetricsMiddleware)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(RateLimitMiddleware(cfg.RateLimiter))
	api.Use(TimeoutMiddleware(cfg.RequestTimeout))
	api.HandleFunc("/solar", h.GetSolarData).Methods(http.MethodGet)

	r.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	r.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	return wrap(r, cfg.AllowedOrigin, logger)
}

// wrap applies the outer layers shared by every route.
func wrap(next http.Handler, origin string, logger *zap.Logger) http.Handler {
	recovered := handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(logger)),
		handlers.PrintRecoveryStack(true),
	)(next)
	preflight := handlers.CORS(
		handlers.AllowedOrigins([]string{origin}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "X-Correlation-ID"}),
		handlers.ExposedHeaders([]string{"X-Correlation-ID"}),
		handlers.AllowCredentials(),
	)(recovered)
	return CORSMiddleware(origin)(preflight)
}
