//go:build integration
// +build integration

package testhelpers

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/solar-dashboard-service/internal/cache"
	"github.com/kjstillabower/solar-dashboard-service/internal/client"
	"github.com/kjstillabower/solar-dashboard-service/internal/models"
	"github.com/kjstillabower/solar-dashboard-service/internal/observability"
	"github.com/kjstillabower/solar-dashboard-service/internal/service"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIKey        string
	WeatherAPIURL string
	SolarAPIURL   string
	CacheBackend  string // "in_memory", "memcached" or "redis"
	MemcachedAddr string
	RedisAddr     string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips test if OPENWEATHERMAP_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	apiKey := os.Getenv("OPENWEATHERMAP_API_KEY")
	if apiKey == "" {
		t.Skip("OPENWEATHERMAP_API_KEY not set, skipping integration test")
	}

	cfg := IntegrationTestConfig{
		APIKey:        apiKey,
		WeatherAPIURL: os.Getenv("WEATHER_API_URL"),
		SolarAPIURL:   os.Getenv("SOLAR_API_URL"),
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: os.Getenv("MEMCACHED_ADDRS"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
	}
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = "https://api.openweathermap.org/data/2.5/weather"
	}
	if cfg.SolarAPIURL == "" {
		cfg.SolarAPIURL = "https://power.larc.nasa.gov/api/temporal/daily/point"
	}
	if cfg.MemcachedAddr == "" {
		cfg.MemcachedAddr = "localhost:11211"
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	return cfg
}

// SetupIntegrationService creates a service backed by the real providers for
// the given cities. Returns the service, its blob store and a cleanup function.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig, cityList []models.CityRecord) (*service.SolarService, cache.BlobStore, func()) {
	logger, err := observability.NewLogger()
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	weatherClient, err := client.NewOpenWeatherClient(cfg.APIKey, cfg.WeatherAPIURL, 5*time.Second)
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}
	solarClient := client.NewPowerClient(cfg.SolarAPIURL, "ALLSKY_SFC_SW_DWN", "RE", 10*time.Second)

	opts := cache.Options{Backend: cache.BackendInMemory}
	switch cfg.CacheBackend {
	case cache.BackendMemcached:
		opts = cache.Options{Backend: cache.BackendMemcached, MemcachedAddrs: cfg.MemcachedAddr, MemcachedTimeout: 500 * time.Millisecond, MemcachedMaxIdleConns: 2}
	case cache.BackendRedis:
		opts = cache.Options{Backend: cache.BackendRedis, RedisAddr: cfg.RedisAddr}
	}
	store, closer, err := cache.New(context.Background(), opts, logger)
	if err != nil {
		t.Logf("%s not available (%v), using in-memory store", cfg.CacheBackend, err)
		store = cache.NewInMemoryStore()
	}
	t.Logf("Using %s blob store", opts.Backend)

	svc := service.NewSolarService(service.Dependencies{
		Weather: weatherClient,
		Solar:   solarClient,
		Store:   store,
		Cities:  cityList,
		Logger:  logger,
	}, service.Options{})

	return svc, store, func() { _ = closer.Close() }
}
