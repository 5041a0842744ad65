package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/solar-dashboard-service/internal/cache"
	"github.com/kjstillabower/solar-dashboard-service/internal/degraded"
	"github.com/kjstillabower/solar-dashboard-service/internal/lifecycle"
	"github.com/kjstillabower/solar-dashboard-service/internal/observability"
	"github.com/kjstillabower/solar-dashboard-service/internal/service"
)

// Version is reported by /health. Overridden at build time with -ldflags.
var Version = "dev"

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	// StorePingTimeout bounds the blob store reachability check.
	StorePingTimeout time.Duration
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	solarService     *service.SolarService
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. healthConfig may be nil.
func NewHandler(solarService *service.SolarService, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		solarService: solarService,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// GetSolarData handles GET /api/solar.
func (h *Handler) GetSolarData(w http.ResponseWriter, r *http.Request) {
	result, err := h.solarService.GetSolarData(r.Context())
	if err != nil {
		logger := requestLogger(r, h.logger)
		if errors.Is(err, service.ErrMissingAPIKey) {
			logger.Error("configuration error", zap.Error(err))
		} else {
			logger.Error("solar data request failed", zap.Error(err))
		}
		writeText(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{
		"upstream":  "healthy",
		"blobStore": h.storeCheck(r.Context()),
	}
	switch {
	case !h.solarService.WeatherConfigured():
		checks["upstream"] = "unconfigured"
	case result.reason == "error_rate_breach":
		checks["upstream"] = "unhealthy"
	}

	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   observability.ServiceName,
		"version":   Version,
		"checks":    checks,
		"uptime":    lifecycle.Uptime().Round(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > missing API key > per-city error rate > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if !h.solarService.WeatherConfigured() {
		return healthResult{"degraded", http.StatusServiceUnavailable, "api_key_missing"}
	}
	if h.healthConfig != nil {
		if s := degraded.Evaluate(h.healthConfig.DegradedWindow, h.healthConfig.DegradedErrorPct); s.Degraded {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// storeCheck reports blob store reachability. An absent store is "disabled",
// which is not a failure.
func (h *Handler) storeCheck(ctx context.Context) string {
	store := h.solarService.Store()
	if store == nil {
		return "disabled"
	}
	pinger, ok := store.(cache.Pinger)
	if !ok {
		return "unknown"
	}
	timeout := time.Second
	if h.healthConfig != nil && h.healthConfig.StorePingTimeout > 0 {
		timeout = h.healthConfig.StorePingTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := pinger.Ping(ctx); err != nil {
		h.logger.Debug("blob store ping failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}

// requestLogger returns the request-scoped logger set by CorrelationIDMiddleware.
func requestLogger(r *http.Request, fallback *zap.Logger) *zap.Logger {
	if l, ok := r.Context().Value("logger").(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// writeJSON writes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeText writes a plain-text body. Used for 500s so the message is readable as-is.
func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}
