package service

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/solar-dashboard-service/internal/client"
	"github.com/kjstillabower/solar-dashboard-service/internal/degraded"
	"github.com/kjstillabower/solar-dashboard-service/internal/models"
	"github.com/kjstillabower/solar-dashboard-service/internal/observability"
)

// collect fans out over the registry and returns one sample per city whose
// lookups both succeeded, in completion order. Failed cities are logged and dropped.
func (s *SolarService) collect(ctx context.Context, today time.Time) []models.WeatherSample {
	logger := loggerFromContext(ctx, s.logger)
	start := time.Now()

	var (
		mu      sync.Mutex
		samples = make([]models.WeatherSample, 0, len(s.cities))
		g       errgroup.Group
	)
	g.SetLimit(s.opts.Workers)

	for _, city := range s.cities {
		if ctx.Err() != nil {
			break
		}
		city := city
		g.Go(func() error {
			sample, err := s.fetchCity(ctx, city, today)
			if err != nil {
				observability.CitiesFetchedTotal.WithLabelValues("skipped").Inc()
				degraded.RecordCityError()
				logger.Warn("city skipped",
					zap.String("city", city.Name),
					zap.String("category", string(client.CategorizeError(err))),
					zap.Error(err))
				return nil
			}
			observability.CitiesFetchedTotal.WithLabelValues("success").Inc()
			degraded.RecordCitySuccess()
			mu.Lock()
			samples = append(samples, sample)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	observability.FanoutDuration.Observe(time.Since(start).Seconds())
	logger.Info("fan-out complete",
		zap.Int("cities", len(s.cities)),
		zap.Int("succeeded", len(samples)),
		zap.Duration("duration", time.Since(start)))
	return samples
}

// fetchCity makes both provider calls for one city under the per-city timeout.
func (s *SolarService) fetchCity(ctx context.Context, city models.CityRecord, today time.Time) (models.WeatherSample, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.CityTimeout)
	defer cancel()

	temp, err := s.weather.GetTemperature(ctx, city.Lat, city.Lng)
	if err != nil {
		return models.WeatherSample{}, fmt.Errorf("weather for %s: %w", city.Name, err)
	}
	raw, err := s.solar.GetDailyIrradiance(ctx, city.Lat, city.Lng, today)
	if err != nil {
		return models.WeatherSample{}, fmt.Errorf("irradiance for %s: %w", city.Name, err)
	}

	return models.WeatherSample{
		CityName:           city.Name,
		Lat:                city.Lat,
		Lng:                city.Lng,
		Temperature:        temp,
		IrradianceEstimate: temp * s.opts.IrradiancePerDegree,
		SolarEnergyRaw:     raw,
		SolarEnergy:        math.Abs(raw) * s.opts.MJToKWh,
		TimestampISO:       s.now().UTC().Format(time.RFC3339),
	}, nil
}
