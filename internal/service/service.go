package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/solar-dashboard-service/internal/cache"
	"github.com/kjstillabower/solar-dashboard-service/internal/client"
	"github.com/kjstillabower/solar-dashboard-service/internal/models"
	"github.com/kjstillabower/solar-dashboard-service/internal/observability"
)

// ErrMissingAPIKey is returned before any cache or upstream work when the
// weather provider has no API key configured.
var ErrMissingAPIKey = errors.New("weather API key is not configured")

const (
	DefaultWorkers             = 10
	DefaultCityTimeout         = 10 * time.Second
	DefaultIrradiancePerDegree = 20.0
	DefaultMJToKWh             = 0.2778
	DefaultKeyPrefix           = "solar_"
)

// Dependencies are the collaborators a SolarService is built from.
type Dependencies struct {
	// Weather is nil when no API key is configured.
	Weather client.WeatherClient
	Solar   client.SolarClient
	// Store is nil when caching is disabled.
	Store  cache.BlobStore
	Cities []models.CityRecord
	Logger *zap.Logger
	Now    func() time.Time
}

// Options tune the fan-out and the derived estimates. Zero values take the defaults above.
type Options struct {
	Workers             int
	CityTimeout         time.Duration
	IrradiancePerDegree float64
	MJToKWh             float64
	KeyPrefix           string
}

// SolarService builds the daily dashboard payload using a cache-aside
// pattern over a blob store, falling back to a per-city provider fan-out.
type SolarService struct {
	weather client.WeatherClient
	solar   client.SolarClient
	store   cache.BlobStore
	cities  []models.CityRecord
	logger  *zap.Logger
	now     func() time.Time
	opts    Options

	group           singleflight.Group
	stampedeTracker *stampedeTracker
}

// NewSolarService creates a SolarService. Cities are copied.
func NewSolarService(deps Dependencies, opts Options) *SolarService {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.CityTimeout <= 0 {
		opts.CityTimeout = DefaultCityTimeout
	}
	if opts.IrradiancePerDegree == 0 {
		opts.IrradiancePerDegree = DefaultIrradiancePerDegree
	}
	if opts.MJToKWh == 0 {
		opts.MJToKWh = DefaultMJToKWh
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	cities := make([]models.CityRecord, len(deps.Cities))
	copy(cities, deps.Cities)

	return &SolarService{
		weather:         deps.Weather,
		solar:           deps.Solar,
		store:           deps.Store,
		cities:          cities,
		logger:          logger,
		now:             now,
		opts:            opts,
		stampedeTracker: newStampedeTracker(),
	}
}

// loggerFromContext returns the request-scoped logger if present, else fallback.
func loggerFromContext(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return fallback
}

// WeatherConfigured reports whether the weather provider has an API key.
func (s *SolarService) WeatherConfigured() bool {
	return s.weather != nil
}

// CacheConfigured reports whether a blob store is attached.
func (s *SolarService) CacheConfigured() bool {
	return s.store != nil
}

// Store returns the attached blob store, or nil.
func (s *SolarService) Store() cache.BlobStore {
	return s.store
}

// GetSolarData returns today's CombinedResult, from the daily blob when
// present, else by fanning out to the providers and writing the blob back.
func (s *SolarService) GetSolarData(ctx context.Context) (models.CombinedResult, error) {
	if s.weather == nil {
		return models.CombinedResult{}, ErrMissingAPIKey
	}
	start := time.Now()
	logger := loggerFromContext(ctx, s.logger)
	today := s.now().UTC()
	key := cache.DailyKey(s.opts.KeyPrefix, today)

	if cached, ok := s.lookupCache(ctx, key); ok {
		observability.CacheHitsTotal.Inc()
		logger.Debug("solar data served", zap.String("key", key), zap.Bool("cached", true), zap.Duration("duration", time.Since(start)))
		return cached, nil
	}

	concurrentMisses := s.stampedeTracker.Begin(key)
	defer s.stampedeTracker.End(key)
	if concurrentMisses > 1 {
		observability.CacheStampedeConcurrency.Observe(float64(concurrentMisses))
		logger.Debug("concurrent cache misses", zap.String("key", key), zap.Int("concurrent", concurrentMisses))
	}

	result, shared, err := s.refreshShared(ctx, key, today, true)
	if err != nil {
		return models.CombinedResult{}, err
	}
	logger.Debug("solar data served",
		zap.String("key", key),
		zap.Bool("cached", false),
		zap.Bool("shared", shared),
		zap.Int("cities", len(result.MapData)),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}

// Refresh rebuilds today's payload and writes it to the store, skipping the
// read. Used by the daily pre-warm. A batch where no city succeeded is
// reported as an error and leaves the stored blob untouched.
func (s *SolarService) Refresh(ctx context.Context) error {
	if s.weather == nil {
		return ErrMissingAPIKey
	}
	today := s.now().UTC()
	result, _, err := s.refreshShared(ctx, cache.DailyKey(s.opts.KeyPrefix, today), today, false)
	if err != nil {
		return err
	}
	if len(result.MapData) == 0 {
		return errors.New("refresh: no city returned data")
	}
	return nil
}

// refreshShared coalesces concurrent misses for the same key onto one fan-out.
// A caller whose ctx ends stops waiting. The shared fan-out runs under the
// leader's context, so a follower that inherits the leader's cancellation
// retries once on its own.
//
// writeEmpty controls whether a batch with no successful city is stored; the
// two modes never share a flight.
func (s *SolarService) refreshShared(ctx context.Context, key string, today time.Time, writeEmpty bool) (models.CombinedResult, bool, error) {
	flight := key
	if !writeEmpty {
		flight = "refresh:" + key
	}
	for attempt := 0; ; attempt++ {
		ch := s.group.DoChan(flight, func() (interface{}, error) {
			return s.refresh(ctx, key, today, writeEmpty)
		})
		select {
		case <-ctx.Done():
			return models.CombinedResult{}, false, ctx.Err()
		case res := <-ch:
			if res.Err == nil {
				return res.Val.(models.CombinedResult), res.Shared, nil
			}
			if attempt == 0 && res.Shared && ctx.Err() == nil && isContextError(res.Err) {
				continue
			}
			return models.CombinedResult{}, res.Shared, res.Err
		}
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (s *SolarService) refresh(ctx context.Context, key string, today time.Time, writeEmpty bool) (models.CombinedResult, error) {
	samples := s.collect(ctx, today)
	if err := ctx.Err(); err != nil {
		return models.CombinedResult{}, fmt.Errorf("collect solar data: %w", err)
	}
	result := s.aggregate(samples)
	if len(samples) == 0 && !writeEmpty {
		loggerFromContext(ctx, s.logger).Warn("no city returned data; cache write skipped", zap.String("key", key))
		return result, nil
	}
	s.writeCache(ctx, key, result)
	return result, nil
}

// lookupCache returns the parsed blob for key. Any failure is a miss.
func (s *SolarService) lookupCache(ctx context.Context, key string) (models.CombinedResult, bool) {
	logger := loggerFromContext(ctx, s.logger)
	if s.store == nil {
		observability.CacheMissesTotal.WithLabelValues("unconfigured").Inc()
		return models.CombinedResult{}, false
	}

	getStart := time.Now()
	data, ok, err := s.store.Get(ctx, key)
	if err != nil {
		observability.ObserveBlobStore("get", "error", getStart)
		observability.CacheMissesTotal.WithLabelValues("read_error").Inc()
		logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return models.CombinedResult{}, false
	}
	if !ok {
		observability.ObserveBlobStore("get", "miss", getStart)
		observability.CacheMissesTotal.WithLabelValues("absent").Inc()
		logger.Debug("cache miss", zap.String("key", key))
		return models.CombinedResult{}, false
	}
	observability.ObserveBlobStore("get", "hit", getStart)

	result, err := decodeResult(data)
	if err != nil {
		observability.CacheMissesTotal.WithLabelValues("parse_error").Inc()
		logger.Warn("cached blob is not a valid result", zap.String("key", key), zap.Error(err))
		return models.CombinedResult{}, false
	}
	return result, true
}

// decodeResult parses a stored blob and checks its shape.
func decodeResult(data []byte) (models.CombinedResult, error) {
	var result models.CombinedResult
	if err := json.Unmarshal(data, &result); err != nil {
		return models.CombinedResult{}, err
	}
	if result.MapData == nil || result.ChartData == nil {
		return models.CombinedResult{}, errors.New("mapData and chartData are required")
	}
	if len(result.MapData) != len(result.ChartData) {
		return models.CombinedResult{}, fmt.Errorf("mapData has %d points, chartData has %d", len(result.MapData), len(result.ChartData))
	}
	return result, nil
}

// writeCache stores result under key. Failures are logged only.
func (s *SolarService) writeCache(ctx context.Context, key string, result models.CombinedResult) {
	if s.store == nil {
		return
	}
	logger := loggerFromContext(ctx, s.logger)
	data, err := json.Marshal(result)
	if err != nil {
		logger.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	putStart := time.Now()
	if err := s.store.Put(ctx, key, data); err != nil {
		observability.ObserveBlobStore("put", "error", putStart)
		logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		return
	}
	observability.ObserveBlobStore("put", "success", putStart)
}
