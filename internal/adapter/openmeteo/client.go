package openmeteo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/couchcryptid/striga-risk/internal/domain"
	"github.com/couchcryptid/striga-risk/internal/observability"
)

const (
	// PublicArchiveURL is the free historical weather endpoint.
	PublicArchiveURL = "https://archive-api.open-meteo.com/v1/archive"
	// CustomerArchiveURL serves API-key holders.
	CustomerArchiveURL = "https://customer-archive-api.open-meteo.com/v1/archive"
)

// DefaultBaseURL picks the customer endpoint when an API key is configured.
func DefaultBaseURL(apiKey string) string {
	if apiKey != "" {
		return CustomerArchiveURL
	}
	return PublicArchiveURL
}

// Client implements domain.WeatherArchive using the Open-Meteo historical
// weather API.
type Client struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
	retries    int
	newBackOff func() backoff.BackOff // nil uses the default exponential pacing
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates an Open-Meteo archive client. An empty baseURL selects
// DefaultBaseURL(apiKey). Failed requests are retried up to retries times.
func NewClient(apiKey, baseURL string, timeout time.Duration, retries int, metrics *observability.Metrics, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL(apiKey)
	}
	return &Client{
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
		retries: retries,
		metrics: metrics,
		logger:  logger,
	}
}

// FetchDaily returns the daily series of variable at (lat, lon) for every day
// in [start, end]. Days the archive reports as null come back with a NaN
// amount.
func (c *Client) FetchDaily(ctx context.Context, variable string, lat, lon float64, start, end domain.CalendarDate) (domain.RainfallSeries, error) {
	if err := domain.ValidateCoordinate(lat, lon); err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("end date %s is before start date %s", end, start)
	}

	params := url.Values{
		"latitude":   {strconv.FormatFloat(lat, 'f', -1, 64)},
		"longitude":  {strconv.FormatFloat(lon, 'f', -1, 64)},
		"start_date": {start.String()},
		"end_date":   {end.String()},
		"daily":      {variable},
		"timezone":   {"auto"},
	}
	if c.apiKey != "" {
		params.Set("apikey", c.apiKey)
	}
	fullURL := c.baseURL + "?" + params.Encode()

	b := backoff.WithMaxRetries(backoff.WithContext(c.backOff(), ctx), uint64(max(c.retries, 0)))
	body, err := backoff.RetryNotifyWithData(func() ([]byte, error) {
		body, err := c.doRequest(ctx, fullURL)
		var apiErr *apiError
		if errors.As(err, &apiErr) && !apiErr.retryable() {
			return nil, backoff.Permanent(err)
		}
		return body, err
	}, b, func(err error, wait time.Duration) {
		c.metrics.WeatherRequests.WithLabelValues("retry").Inc()
		c.logger.Warn("weather request failed, retrying",
			"error", err,
			"backoff", wait,
		)
	})
	if err != nil {
		c.metrics.WeatherRequests.WithLabelValues("error").Inc()
		return nil, err
	}
	c.metrics.WeatherRequests.WithLabelValues("success").Inc()
	return decodeSeries(body, variable)
}

// backOff paces retries: 200ms doubling to 5s, bounded by the retry count
// rather than elapsed time.
func (c *Client) backOff() backoff.BackOff {
	if c.newBackOff != nil {
		return c.newBackOff()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (c *Client) doRequest(ctx context.Context, fullURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.WeatherAPIDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("archive request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := &apiError{status: resp.StatusCode, reason: string(body)}
		var e errorResponse
		if json.Unmarshal(body, &e) == nil && e.Reason != "" {
			apiErr.reason = e.Reason
		}
		return nil, apiErr
	}
	return body, nil
}

func decodeSeries(body []byte, variable string) (domain.RainfallSeries, error) {
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var dates []string
	if err := json.Unmarshal(resp.Daily["time"], &dates); err != nil {
		return nil, fmt.Errorf("decode daily.time: %w", err)
	}
	raw, ok := resp.Daily[variable]
	if !ok {
		return nil, fmt.Errorf("response has no daily.%s", variable)
	}
	var values []*float64
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("decode daily.%s: %w", variable, err)
	}
	if len(values) != len(dates) {
		return nil, fmt.Errorf("daily.%s has %d values for %d dates", variable, len(values), len(dates))
	}

	series := make(domain.RainfallSeries, len(dates))
	for i, d := range dates {
		date, err := domain.ParseDate(d)
		if err != nil {
			return nil, err
		}
		amount := math.NaN()
		if values[i] != nil {
			amount = *values[i]
		}
		series[i] = domain.Observation{Date: date, Amount: amount}
	}
	return series, nil
}

type apiError struct {
	status int
	reason string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("open-meteo API error: status %d: %s", e.status, e.reason)
}

func (e *apiError) retryable() bool {
	return e.status == http.StatusTooManyRequests || e.status >= 500
}

// Open-Meteo API response types.

type response struct {
	Latitude  float64                    `json:"latitude"`
	Longitude float64                    `json:"longitude"`
	Daily     map[string]json.RawMessage `json:"daily"`
}

type errorResponse struct {
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}
