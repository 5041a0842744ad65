package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/solar-dashboard-service/internal/cache"
)

// Config holds service configuration loaded from YAML, .env and the environment.
type Config struct {
	Env string

	ServerPort    string
	AllowedOrigin string

	// WeatherAPIKey may be empty; requests then fail with a configuration error.
	WeatherAPIKey     string
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration

	SolarAPIURL     string
	SolarParameter  string
	SolarCommunity  string
	SolarAPITimeout time.Duration

	CitiesFile string

	FanoutWorkers  int
	CityTimeout    time.Duration
	RequestTimeout time.Duration

	IrradiancePerDegree float64
	MJToKWh             float64

	CacheBackend          string
	CacheKeyPrefix        string
	CacheDir              string
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	GCSBucket             string
	AzureConnectionString string
	AzureContainer        string

	PrewarmEnabled bool
	PrewarmAt      string

	RateLimitRPS   int
	RateLimitBurst int

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerOpenTimeout      time.Duration

	DegradedWindow   time.Duration
	DegradedErrorPct int

	ShutdownTimeout time.Duration
}

type fileConfig struct {
	Server struct {
		Port          string `yaml:"port"`
		AllowedOrigin string `yaml:"allowed_origin"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"weather_api"`

	SolarAPI struct {
		URL       string `yaml:"url"`
		Parameter string `yaml:"parameter"`
		Community string `yaml:"community"`
		Timeout   string `yaml:"timeout"`
	} `yaml:"solar_api"`

	Cities struct {
		File string `yaml:"file"`
	} `yaml:"cities"`

	Fanout struct {
		Workers     int    `yaml:"workers"`
		CityTimeout string `yaml:"city_timeout"`
	} `yaml:"fanout"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Estimates struct {
		IrradiancePerDegree float64 `yaml:"irradiance_per_degree"`
		MJToKWh             float64 `yaml:"mj_to_kwh"`
	} `yaml:"estimates"`

	Cache struct {
		Backend   string `yaml:"backend"`
		KeyPrefix string `yaml:"key_prefix"`
		Dir       string `yaml:"dir"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			Addr string `yaml:"addr"`
			DB   int    `yaml:"db"`
		} `yaml:"redis"`
		GCS struct {
			Bucket string `yaml:"bucket"`
		} `yaml:"gcs"`
		AzureBlob struct {
			Container string `yaml:"container"`
		} `yaml:"azblob"`
		Prewarm struct {
			Enabled *bool  `yaml:"enabled"`
			At      string `yaml:"at"`
		} `yaml:"prewarm"`
	} `yaml:"cache"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
		CircuitBreaker struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			OpenTimeout      string `yaml:"open_timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`
}

// envOverlay lists the variables that override file values. Zero fields are unset.
type envOverlay struct {
	Port          string `env:"PORT"`
	AllowedOrigin string `env:"ALLOWED_ORIGIN"`

	WeatherAPIKey string `env:"OPENWEATHERMAP_API_KEY"`
	WeatherAPIURL string `env:"WEATHER_API_URL"`
	SolarAPIURL   string `env:"SOLAR_API_URL"`
	CitiesFile    string `env:"CITIES_FILE"`

	FanoutWorkers int           `env:"FANOUT_WORKERS"`
	CityTimeout   time.Duration `env:"CITY_TIMEOUT"`

	CacheBackend          string `env:"CACHE_BACKEND"`
	CacheDir              string `env:"CACHE_DIR"`
	MemcachedAddrs        string `env:"MEMCACHED_ADDRS"`
	RedisAddr             string `env:"REDIS_ADDR"`
	RedisPassword         string `env:"REDIS_PASSWORD"`
	GCSBucket             string `env:"GCS_BUCKET"`
	AzureConnectionString string `env:"AZURE_STORAGE_CONNECTION_STRING"`
	AzureContainer        string `env:"AZURE_STORAGE_CONTAINER"`
	PrewarmEnabled        *bool  `env:"CACHE_PREWARM_ENABLED, noinit"`

	RateLimitRPS          int    `env:"RATE_LIMIT_RPS"`
	CircuitBreakerEnabled *bool  `env:"CIRCUIT_BREAKER_ENABLED, noinit"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
}

// Load reads .env (if present), config/{ENV_NAME}.yaml (default dev, optional)
// and config/secrets.yaml (optional), then applies environment overrides.
// A missing API key is not an error here. Call from project root.
func Load(ctx context.Context) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}

	var fc fileConfig
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var ov envOverlay
	if err := envconfig.Process(ctx, &ov); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	cfg := fromFile(&fc)
	cfg.Env = env
	applyOverlay(cfg, &ov)

	if cfg.WeatherAPIKey == "" {
		key, err := readSecrets(filepath.Join(cwd, "config", "secrets.yaml"))
		if err != nil {
			return nil, err
		}
		cfg.WeatherAPIKey = key
	}

	if cfg.CacheBackend == "" {
		if cfg.AzureConnectionString != "" {
			cfg.CacheBackend = cache.BackendAzureBlob
		} else {
			cfg.CacheBackend = cache.BackendNone
		}
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fromFile applies defaults for anything the file leaves unset.
func fromFile(fc *fileConfig) *Config {
	cfg := &Config{
		ServerPort:    orDefault(fc.Server.Port, "8080"),
		AllowedOrigin: orDefault(fc.Server.AllowedOrigin, "http://localhost:3000"),

		WeatherAPIURL:     orDefault(fc.WeatherAPI.URL, "https://api.openweathermap.org/data/2.5/weather"),
		WeatherAPITimeout: parseDurationOrZero(fc.WeatherAPI.Timeout, 5*time.Second),

		SolarAPIURL:     orDefault(fc.SolarAPI.URL, "https://power.larc.nasa.gov/api/temporal/daily/point"),
		SolarParameter:  orDefault(fc.SolarAPI.Parameter, "ALLSKY_SFC_SW_DWN"),
		SolarCommunity:  orDefault(fc.SolarAPI.Community, "RE"),
		SolarAPITimeout: parseDurationOrZero(fc.SolarAPI.Timeout, 10*time.Second),

		CitiesFile: strings.TrimSpace(fc.Cities.File),

		FanoutWorkers:  fc.Fanout.Workers,
		CityTimeout:    parseDuration(fc.Fanout.CityTimeout, 10*time.Second),
		RequestTimeout: parseDuration(fc.Request.Timeout, 60*time.Second),

		IrradiancePerDegree: fc.Estimates.IrradiancePerDegree,
		MJToKWh:             fc.Estimates.MJToKWh,

		CacheBackend:          strings.TrimSpace(strings.ToLower(fc.Cache.Backend)),
		CacheKeyPrefix:        orDefault(fc.Cache.KeyPrefix, "solar_"),
		CacheDir:              orDefault(fc.Cache.Dir, "./data/cache"),
		MemcachedAddrs:        orDefault(fc.Cache.Memcached.Addrs, "localhost:11211"),
		MemcachedTimeout:      parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond),
		MemcachedMaxIdleConns: fc.Cache.Memcached.MaxIdleConns,
		RedisAddr:             strings.TrimSpace(fc.Cache.Redis.Addr),
		RedisDB:               fc.Cache.Redis.DB,
		GCSBucket:             strings.TrimSpace(fc.Cache.GCS.Bucket),
		AzureContainer:        orDefault(fc.Cache.AzureBlob.Container, "solar-data"),

		PrewarmAt: orDefault(fc.Cache.Prewarm.At, "00:05"),

		RateLimitRPS:   fc.Reliability.RateLimitRPS,
		RateLimitBurst: fc.Reliability.RateLimitBurst,

		CircuitBreakerFailureThreshold: fc.Reliability.CircuitBreaker.FailureThreshold,
		CircuitBreakerOpenTimeout:      parseDuration(fc.Reliability.CircuitBreaker.OpenTimeout, 60*time.Second),

		DegradedWindow:   parseDuration(fc.Lifecycle.DegradedWindow, 5*time.Minute),
		DegradedErrorPct: fc.Lifecycle.DegradedErrorPct,

		ShutdownTimeout: parseDuration(fc.Shutdown.Timeout, 30*time.Second),
	}
	if cfg.FanoutWorkers <= 0 {
		cfg.FanoutWorkers = 10
	}
	if cfg.IrradiancePerDegree == 0 {
		cfg.IrradiancePerDegree = 20
	}
	if cfg.MJToKWh == 0 {
		cfg.MJToKWh = 0.2778
	}
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}
	if fc.Cache.Prewarm.Enabled != nil {
		cfg.PrewarmEnabled = *fc.Cache.Prewarm.Enabled
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 20
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 40
	}
	if fc.Reliability.CircuitBreaker.Enabled != nil {
		cfg.CircuitBreakerEnabled = *fc.Reliability.CircuitBreaker.Enabled
	}
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}
	return cfg
}

func applyOverlay(cfg *Config, ov *envOverlay) {
	setString(&cfg.ServerPort, ov.Port)
	setString(&cfg.AllowedOrigin, ov.AllowedOrigin)
	setString(&cfg.WeatherAPIKey, ov.WeatherAPIKey)
	setString(&cfg.WeatherAPIURL, ov.WeatherAPIURL)
	setString(&cfg.SolarAPIURL, ov.SolarAPIURL)
	setString(&cfg.CitiesFile, ov.CitiesFile)
	if ov.FanoutWorkers > 0 {
		cfg.FanoutWorkers = ov.FanoutWorkers
	}
	if ov.CityTimeout > 0 {
		cfg.CityTimeout = ov.CityTimeout
	}
	setString(&cfg.CacheBackend, strings.ToLower(ov.CacheBackend))
	setString(&cfg.CacheDir, ov.CacheDir)
	setString(&cfg.MemcachedAddrs, ov.MemcachedAddrs)
	setString(&cfg.RedisAddr, ov.RedisAddr)
	setString(&cfg.RedisPassword, ov.RedisPassword)
	setString(&cfg.GCSBucket, ov.GCSBucket)
	setString(&cfg.AzureConnectionString, ov.AzureConnectionString)
	setString(&cfg.AzureContainer, ov.AzureContainer)
	if ov.RateLimitRPS > 0 {
		cfg.RateLimitRPS = ov.RateLimitRPS
	}
	if ov.PrewarmEnabled != nil {
		cfg.PrewarmEnabled = *ov.PrewarmEnabled
	}
	if ov.CircuitBreakerEnabled != nil {
		cfg.CircuitBreakerEnabled = *ov.CircuitBreakerEnabled
	}
}

func readSecrets(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	return strings.TrimSpace(sec.WeatherAPIKey), nil
}

// CacheOptions maps the cache settings onto blob store options.
func (c *Config) CacheOptions() cache.Options {
	return cache.Options{
		Backend:               c.CacheBackend,
		Dir:                   c.CacheDir,
		MemcachedAddrs:        c.MemcachedAddrs,
		MemcachedTimeout:      c.MemcachedTimeout,
		MemcachedMaxIdleConns: c.MemcachedMaxIdleConns,
		RedisAddr:             c.RedisAddr,
		RedisPassword:         c.RedisPassword,
		RedisDB:               c.RedisDB,
		GCSBucket:             c.GCSBucket,
		AzureConnectionString: c.AzureConnectionString,
		AzureContainer:        c.AzureContainer,
	}
}

func orDefault(s, def string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation. RequestTimeout is raised to
// cover at least one city timeout.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if cfg.SolarAPITimeout <= 0 {
		return fmt.Errorf("solar_api.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.CityTimeout {
		cfg.RequestTimeout = cfg.CityTimeout + time.Second
	}
	if cfg.MJToKWh < 0 {
		return fmt.Errorf("estimates.mj_to_kwh must not be negative")
	}
	switch cfg.CacheBackend {
	case cache.BackendNone, cache.BackendInMemory, cache.BackendFile, cache.BackendMemcached,
		cache.BackendRedis, cache.BackendGCS, cache.BackendAzureBlob:
	default:
		return fmt.Errorf("cache.backend must be one of none, in_memory, file, memcached, redis, gcs, azblob, got %q", cfg.CacheBackend)
	}
	if cfg.PrewarmEnabled {
		if _, err := time.Parse("15:04", cfg.PrewarmAt); err != nil {
			return fmt.Errorf("cache.prewarm.at must be HH:MM, got %q", cfg.PrewarmAt)
		}
	}
	return nil
}
