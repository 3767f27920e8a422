package openmeteo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/couchcryptid/agrosentinel-etl/internal/domain"
	"github.com/couchcryptid/agrosentinel-etl/internal/observability"
	"github.com/sony/gobreaker"
)

// SourceName tags samples produced by this client.
const SourceName = "open-meteo"

// timeLayout is the ISO8601 minute precision the API uses with timezone=GMT.
const timeLayout = "2006-01-02T15:04"

// ErrIncompleteResponse is returned when the API omits a current measurement.
var ErrIncompleteResponse = errors.New("open-meteo response missing current measurement")

// Client implements domain.WeatherSource using the Open-Meteo forecast API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	breaker    *gobreaker.CircuitBreaker
	backoff    BackoffConfig
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates an Open-Meteo client rooted at baseURL
// (https://api.open-meteo.com in production).
func NewClient(baseURL string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		backoff:    DefaultBackoff,
		metrics:    metrics,
		logger:     logger,
	}
	c.breaker = newBreaker(c.logStateChange)
	return c
}

// Current fetches the current temperature and relative humidity at loc.
func (c *Client) Current(ctx context.Context, loc domain.Location) (domain.Sample, error) {
	resp, err := c.do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.forecastURL(loc), nil)
	})
	if err != nil {
		if !errors.Is(err, ErrCircuitOpen) {
			c.metrics.WeatherRequests.WithLabelValues("error").Inc()
		}
		return domain.Sample{}, fmt.Errorf("open-meteo %s: %w", loc.Name, err)
	}
	defer resp.Body.Close()

	var payload forecastResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.metrics.WeatherRequests.WithLabelValues("error").Inc()
		return domain.Sample{}, fmt.Errorf("decode open-meteo response: %w", err)
	}
	if payload.Current.Temperature == nil || payload.Current.Humidity == nil {
		c.metrics.WeatherRequests.WithLabelValues("error").Inc()
		return domain.Sample{}, fmt.Errorf("open-meteo %s: %w", loc.Name, ErrIncompleteResponse)
	}

	ts, err := time.ParseInLocation(timeLayout, payload.Current.Time, time.UTC)
	if err != nil {
		c.metrics.WeatherRequests.WithLabelValues("error").Inc()
		return domain.Sample{}, fmt.Errorf("parse open-meteo time %q: %w", payload.Current.Time, err)
	}

	c.metrics.WeatherRequests.WithLabelValues("success").Inc()
	lat, lon := loc.Lat, loc.Lon
	return domain.Sample{
		SensorID:     loc.Name,
		Source:       SourceName,
		Time:         ts,
		TemperatureC: payload.Current.Temperature,
		HumidityPct:  payload.Current.Humidity,
		Lat:          &lat,
		Lon:          &lon,
	}, nil
}

func (c *Client) forecastURL(loc domain.Location) string {
	params := url.Values{
		"latitude":  {strconv.FormatFloat(loc.Lat, 'f', -1, 64)},
		"longitude": {strconv.FormatFloat(loc.Lon, 'f', -1, 64)},
		"current":   {"temperature_2m,relative_humidity_2m"},
		"timezone":  {"GMT"},
	}
	return c.baseURL + "/v1/forecast?" + params.Encode()
}

func (c *Client) logStateChange(name string, from, to gobreaker.State) {
	c.logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
}

// Open-Meteo API response types.

type forecastResponse struct {
	Current struct {
		Time        string   `json:"time"`
		Temperature *float64 `json:"temperature_2m"`
		Humidity    *float64 `json:"relative_humidity_2m"`
	} `json:"current"`
}
