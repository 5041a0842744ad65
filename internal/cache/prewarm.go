package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/kjstillabower/solar-dashboard-service/internal/observability"
)

// Refresher is implemented by the service layer to rebuild and store today's blob.
// Used by Prewarmer to avoid a circular dependency on the service package.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Prewarmer rebuilds the daily blob shortly after UTC midnight so the first
// request of the day is a hit.
type Prewarmer struct {
	refresher Refresher
	timeout   time.Duration
	logger    *zap.Logger
}

// NewPrewarmer creates a Prewarmer. timeout bounds one run; zero means no bound.
func NewPrewarmer(refresher Refresher, timeout time.Duration, logger *zap.Logger) *Prewarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prewarmer{refresher: refresher, timeout: timeout, logger: logger}
}

// Warm runs one refresh.
func (p *Prewarmer) Warm(ctx context.Context) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	start := time.Now()
	p.logger.Info("pre-warming daily cache")

	err := p.refresher.Refresh(ctx)
	duration := time.Since(start).Seconds()
	if err != nil {
		observability.CachePrewarmTotal.WithLabelValues("error").Inc()
		p.logger.Warn("cache pre-warm failed", zap.Error(err), zap.Float64("duration_seconds", duration))
		return fmt.Errorf("cache pre-warm: %w", err)
	}
	observability.CachePrewarmTotal.WithLabelValues("success").Inc()
	p.logger.Info("cache pre-warm complete", zap.Float64("duration_seconds", duration))
	return nil
}

// Schedule runs Warm every day at the given UTC time ("HH:MM") until stop is called.
func (p *Prewarmer) Schedule(at string) (stop func(), err error) {
	if at == "" {
		return nil, errors.New("pre-warm time not set")
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	if _, err := s.Every(1).Day().At(at).Do(func() {
		_ = p.Warm(context.Background())
	}); err != nil {
		return nil, fmt.Errorf("schedule pre-warm at %s: %w", at, err)
	}
	s.StartAsync()
	p.logger.Info("daily cache pre-warm scheduled", zap.String("at_utc", at))
	return s.Stop, nil
}
