package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kjstillabower/solar-dashboard-service/internal/observability"
)

// Provider labels used in metrics and logs.
const (
	ProviderWeather = "weather"
	ProviderSolar   = "solar"
)

// WeatherClient returns the current temperature (°C) at a coordinate.
type WeatherClient interface {
	GetTemperature(ctx context.Context, lat, lng float64) (float64, error)
}

var (
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrNotFound        = errors.New("not found")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
	ErrCircuitOpen     = errors.New("circuit breaker open")
)

// OpenWeatherClient calls the OpenWeatherMap current-weather endpoint by coordinate.
// A failed call is returned to the caller as-is; there is no retry.
type OpenWeatherClient struct {
	apiKey  string
	apiURL  string
	timeout time.Duration
	client  *http.Client
	breaker *Breaker
}

// NewOpenWeatherClient validates the key and returns a client. An empty key
// yields ErrInvalidAPIKey so callers can treat it as a configuration error.
func NewOpenWeatherClient(apiKey, apiURL string, timeout time.Duration) (*OpenWeatherClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}

	return &OpenWeatherClient{
		apiKey:  apiKey,
		apiURL:  apiURL,
		timeout: timeout,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetBreaker installs an optional circuit breaker. Nil disables it.
func (c *OpenWeatherClient) SetBreaker(b *Breaker) {
	c.breaker = b
}

// openWeatherResponse covers both the 2.5 /weather shape (main.temp) and the
// 3.0 /onecall shape (current.temp). Missing fields decode as nil.
type openWeatherResponse struct {
	Main *struct {
		Temp *float64 `json:"temp"`
	} `json:"main"`
	Current *struct {
		Temp *float64 `json:"temp"`
	} `json:"current"`
}

func (r openWeatherResponse) temperature() float64 {
	if r.Main != nil && r.Main.Temp != nil {
		return *r.Main.Temp
	}
	if r.Current != nil && r.Current.Temp != nil {
		return *r.Current.Temp
	}
	return 0
}

// GetTemperature performs one GET against the provider. A missing temperature
// field yields 0; transport, status and decode failures yield an error.
func (c *OpenWeatherClient) GetTemperature(ctx context.Context, lat, lng float64) (float64, error) {
	var temp float64
	err := c.breaker.Do(func() error {
		var callErr error
		temp, callErr = c.callAPI(ctx, lat, lng)
		return callErr
	})
	if err != nil {
		observability.UpstreamErrorsTotal.WithLabelValues(ProviderWeather, string(CategorizeError(err))).Inc()
		return 0, err
	}
	return temp, nil
}

func (c *OpenWeatherClient) callAPI(ctx context.Context, lat, lng float64) (float64, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, lat, lng)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(ProviderWeather, "error").Inc()
		return 0, fmt.Errorf("build request: %w", err)
	}

	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.UpstreamCallsTotal.WithLabelValues(ProviderWeather, "error").Inc()
		observability.UpstreamDuration.WithLabelValues(ProviderWeather, "error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return 0, fmt.Errorf("request timeout: %w", err)
		}
		return 0, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.UpstreamCallsTotal.WithLabelValues(ProviderWeather, status).Inc()
	observability.UpstreamDuration.WithLabelValues(ProviderWeather, status).Observe(duration)

	if err := errorForStatus(resp.StatusCode); err != nil {
		return 0, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read response body: %w", err)
	}

	var apiResp openWeatherResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return 0, fmt.Errorf("parse response: %w", err)
	}

	return apiResp.temperature(), nil
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, lat, lng float64) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := url.Values{}
	params.Set("lat", formatCoord(lat))
	params.Set("lon", formatCoord(lng))
	params.Set("appid", c.apiKey)
	params.Set("units", "metric")
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

// errorForStatus maps a non-2xx provider status to a sentinel error.
func errorForStatus(statusCode int) error {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrInvalidAPIKey, statusCode)
	case http.StatusNotFound:
		return fmt.Errorf("%w", ErrNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	}

	if statusCode < 200 || statusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, statusCode)
	}

	return nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value("correlation_id"); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
