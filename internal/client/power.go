package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/kjstillabower/solar-dashboard-service/internal/observability"
)

// DateKeyLayout is the provider's 8-digit date format (YYYYMMDD).
const DateKeyLayout = "20060102"

// SolarClient returns the daily downward shortwave irradiance (MJ/m²/day) at a coordinate.
type SolarClient interface {
	GetDailyIrradiance(ctx context.Context, lat, lng float64, today time.Time) (float64, error)
}

// PowerClient calls the NASA POWER daily point endpoint.
type PowerClient struct {
	client    *resty.Client
	baseURL   string
	parameter string
	community string
	breaker   *Breaker
}

// NewPowerClient returns a client for the given endpoint, parameter name
// (e.g. ALLSKY_SFC_SW_DWN) and community code (e.g. RE).
func NewPowerClient(baseURL, parameter, community string, timeout time.Duration) *PowerClient {
	rc := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &PowerClient{
		client:    rc,
		baseURL:   baseURL,
		parameter: parameter,
		community: community,
	}
}

// SetBreaker installs an optional circuit breaker. Nil disables it.
func (c *PowerClient) SetBreaker(b *Breaker) {
	c.breaker = b
}

type powerResponse struct {
	Properties struct {
		Parameter map[string]map[string]float64 `json:"parameter"`
	} `json:"properties"`
}

// GetDailyIrradiance queries the two-day window ending on today's UTC date and
// returns the value for yesterday, since the provider lags by a day. A missing
// value yields 0. The raw value is returned unmodified, sentinels included.
func (c *PowerClient) GetDailyIrradiance(ctx context.Context, lat, lng float64, today time.Time) (float64, error) {
	end := today.UTC()
	start := end.AddDate(0, 0, -1)
	targetKey := start.Format(DateKeyLayout)

	var value float64
	err := c.breaker.Do(func() error {
		var callErr error
		value, callErr = c.callAPI(ctx, lat, lng, start.Format(DateKeyLayout), end.Format(DateKeyLayout), targetKey)
		return callErr
	})
	if err != nil {
		observability.UpstreamErrorsTotal.WithLabelValues(ProviderSolar, string(CategorizeError(err))).Inc()
		return 0, err
	}
	return value, nil
}

func (c *PowerClient) callAPI(ctx context.Context, lat, lng float64, startKey, endKey, targetKey string) (float64, error) {
	begin := time.Now()

	req := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"parameters": c.parameter,
			"community":  c.community,
			"latitude":   formatCoord(lat),
			"longitude":  formatCoord(lng),
			"start":      startKey,
			"end":        endKey,
			"format":     "JSON",
		})
	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.SetHeader("X-Correlation-ID", corrID)
	}

	resp, err := req.Get(c.baseURL)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(ProviderSolar, "error").Inc()
		observability.UpstreamDuration.WithLabelValues(ProviderSolar, "error").Observe(time.Since(begin).Seconds())
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return 0, fmt.Errorf("request timeout: %w", err)
		}
		return 0, fmt.Errorf("http request failed: %w", err)
	}

	status := statusLabel(resp.StatusCode())
	observability.UpstreamCallsTotal.WithLabelValues(ProviderSolar, status).Inc()
	observability.UpstreamDuration.WithLabelValues(ProviderSolar, status).Observe(time.Since(begin).Seconds())

	if err := errorForStatus(resp.StatusCode()); err != nil {
		return 0, err
	}

	var payload powerResponse
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return 0, fmt.Errorf("parse response: %w", err)
	}

	return payload.Properties.Parameter[c.parameter][targetKey], nil
}
