package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/solar-dashboard-service/internal/cache"
	"github.com/kjstillabower/solar-dashboard-service/internal/cities"
	"github.com/kjstillabower/solar-dashboard-service/internal/client"
	"github.com/kjstillabower/solar-dashboard-service/internal/config"
	httphandler "github.com/kjstillabower/solar-dashboard-service/internal/http"
	"github.com/kjstillabower/solar-dashboard-service/internal/lifecycle"
	"github.com/kjstillabower/solar-dashboard-service/internal/models"
	"github.com/kjstillabower/solar-dashboard-service/internal/observability"
	"github.com/kjstillabower/solar-dashboard-service/internal/service"
)

func main() {
	lifecycle.MarkStarted(time.Now())

	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()

	cfg, err := config.Load(startCtx)
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	logger.Info("configuration loaded", zap.String("env", cfg.Env), zap.String("cache_backend", cfg.CacheBackend))

	cityList, err := loadCities(cfg.CitiesFile)
	if err != nil {
		logger.Fatal("cities", zap.Error(err))
	}

	deps := service.Dependencies{
		Cities: cityList,
		Logger: logger,
	}

	if weatherClient := newWeatherClient(cfg, logger); weatherClient != nil {
		deps.Weather = weatherClient
	}

	solarClient := client.NewPowerClient(cfg.SolarAPIURL, cfg.SolarParameter, cfg.SolarCommunity, cfg.SolarAPITimeout)
	if cfg.CircuitBreakerEnabled {
		solarClient.SetBreaker(newBreaker(cfg, "nasa_power", logger))
	}
	deps.Solar = solarClient

	store, storeCloser, err := cache.New(startCtx, cfg.CacheOptions(), logger)
	if err != nil {
		logger.Warn("blob store unavailable; caching disabled", zap.Error(err))
		store = nil
	}
	if store != nil {
		deps.Store = store
	}

	solarService := service.NewSolarService(deps, service.Options{
		Workers:             cfg.FanoutWorkers,
		CityTimeout:         cfg.CityTimeout,
		IrradiancePerDegree: cfg.IrradiancePerDegree,
		MJToKWh:             cfg.MJToKWh,
		KeyPrefix:           cfg.CacheKeyPrefix,
	})

	var stopPrewarm func()
	if cfg.PrewarmEnabled {
		switch {
		case !solarService.WeatherConfigured():
			logger.Warn("cache pre-warm skipped: weather API key is not configured")
		case !solarService.CacheConfigured():
			logger.Warn("cache pre-warm skipped: no blob store")
		default:
			prewarmer := cache.NewPrewarmer(solarService, cfg.RequestTimeout, logger)
			stopPrewarm, err = prewarmer.Schedule(cfg.PrewarmAt)
			if err != nil {
				logger.Error("cache pre-warm", zap.Error(err))
			}
		}
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	observability.RegisterRateLimitGauges(time.Minute)

	handler := httphandler.NewHandler(solarService, &httphandler.HealthConfig{
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		StorePingTimeout: time.Second,
	}, logger)
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		AllowedOrigin:  cfg.AllowedOrigin,
		RequestTimeout: cfg.RequestTimeout,
		RateLimiter:    limiter,
	}, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.Int("cities", len(cityList)),
			zap.String("allowed_origin", cfg.AllowedOrigin))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	if stopPrewarm != nil {
		stopPrewarm()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	if err := httphandler.WaitForInFlight(shutdownCtx, 50*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := storeCloser.Close(); err != nil {
		logger.Error("blob store close", zap.Error(err))
	}
	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// loadCities returns the embedded registry, or the file at path when set.
func loadCities(path string) ([]models.CityRecord, error) {
	if path == "" {
		return cities.Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cities file: %w", err)
	}
	return cities.Parse(data)
}

// newWeatherClient returns nil when the key is absent or rejected. The process
// keeps serving either way: /api/solar answers 500 and /health reports degraded.
func newWeatherClient(cfg *config.Config, logger *zap.Logger) client.WeatherClient {
	if cfg.WeatherAPIKey == "" {
		logger.Error("weather API key is not configured; solar requests will fail")
		return nil
	}
	weatherClient, err := client.NewOpenWeatherClient(cfg.WeatherAPIKey, cfg.WeatherAPIURL, cfg.WeatherAPITimeout)
	if err != nil {
		logger.Error("weather client unavailable; solar requests will fail", zap.Error(err))
		return nil
	}
	if cfg.CircuitBreakerEnabled {
		weatherClient.SetBreaker(newBreaker(cfg, "openweathermap", logger))
	}
	return weatherClient
}

func newBreaker(cfg *config.Config, provider string, logger *zap.Logger) *client.Breaker {
	b := client.NewBreaker(client.BreakerConfig{
		Provider:         provider,
		FailureThreshold: cfg.CircuitBreakerFailureThreshold,
		OpenTimeout:      cfg.CircuitBreakerOpenTimeout,
	})
	logger.Info("circuit breaker enabled",
		zap.String("provider", provider),
		zap.String("state", b.State()),
		zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
		zap.Duration("open_timeout", cfg.CircuitBreakerOpenTimeout))
	return b
}
