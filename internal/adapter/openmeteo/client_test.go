package openmeteo

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/agrosentinel-etl/internal/domain"
	"github.com/couchcryptid/agrosentinel-etl/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	contentTypeJSON   = "application/json"
	headerContentType = "Content-Type"
	currentBody       = `{"latitude":37.28,"longitude":-5.92,"current":{"time":"2024-07-15T13:45","interval":900,"temperature_2m":31.4,"relative_humidity_2m":38}}`
)

var testLocation = domain.Location{Name: "Dos_Hermanas_Exterior", Lat: 37.28, Lon: -5.92}

func testClient(baseURL string, maxRetries int) *Client {
	c := NewClient(baseURL, 5*time.Second, observability.NewMetricsForTesting(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.backoff = BackoffConfig{MaxRetries: maxRetries, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
	return c
}

func TestClient_Current_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/forecast", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "37.28", q.Get("latitude"))
		assert.Equal(t, "-5.92", q.Get("longitude"))
		assert.Equal(t, "temperature_2m,relative_humidity_2m", q.Get("current"))
		assert.Equal(t, "GMT", q.Get("timezone"))

		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(currentBody))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 0)
	s, err := c.Current(context.Background(), testLocation)
	require.NoError(t, err)

	assert.Equal(t, "Dos_Hermanas_Exterior", s.SensorID)
	assert.Equal(t, SourceName, s.Source)
	assert.Equal(t, time.Date(2024, 7, 15, 13, 45, 0, 0, time.UTC), s.Time)
	require.NotNil(t, s.TemperatureC)
	assert.Equal(t, 31.4, *s.TemperatureC)
	require.NotNil(t, s.HumidityPct)
	assert.Equal(t, 38.0, *s.HumidityPct)
	require.NotNil(t, s.Lat)
	assert.Equal(t, 37.28, *s.Lat)
	assert.InDelta(t, 1, testutil.ToFloat64(c.metrics.WeatherRequests.WithLabelValues("success")), 0)
}

func TestClient_Current_RetriesServerErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"internal error", http.StatusInternalServerError},
		{"bad gateway", http.StatusBadGateway},
		{"rate limited", http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if calls.Add(1) < 3 {
					w.WriteHeader(tt.status)
					return
				}
				_, _ = w.Write([]byte(currentBody))
			}))
			defer srv.Close()

			c := testClient(srv.URL, 3)
			_, err := c.Current(context.Background(), testLocation)
			require.NoError(t, err)
			assert.Equal(t, int32(3), calls.Load())
			assert.InDelta(t, 2, testutil.ToFloat64(c.metrics.WeatherRequests.WithLabelValues("retry")), 0)
		})
	}
}

func TestClient_Current_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := testClient(srv.URL, 2)
	_, err := c.Current(context.Background(), testLocation)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server error")
	assert.Equal(t, int32(3), calls.Load())
	assert.InDelta(t, 1, testutil.ToFloat64(c.metrics.WeatherRequests.WithLabelValues("error")), 0)
}

func TestClient_Current_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":true,"reason":"Latitude must be in range of -90 to 90°."}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 3)
	_, err := c.Current(context.Background(), testLocation)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.Contains(t, err.Error(), "Latitude")
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_Current_IncompleteResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"current":{"time":"2024-07-15T13:45","temperature_2m":20}}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, 0).Current(context.Background(), testLocation)
	assert.ErrorIs(t, err, ErrIncompleteResponse)
}

func TestClient_Current_BadPayload(t *testing.T) {
	tests := []struct {
		name string
		body string
		msg  string
	}{
		{"invalid json", `{"current":`, "decode open-meteo response"},
		{"invalid time", `{"current":{"time":"yesterday","temperature_2m":20,"relative_humidity_2m":50}}`, "parse open-meteo time"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := testClient(srv.URL, 0).Current(context.Background(), testLocation)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestClient_Current_CircuitOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(srv.URL, 0)
	// The default breaker trips after more than five consecutive failures.
	for i := 0; i < 6; i++ {
		_, err := c.Current(context.Background(), testLocation)
		require.Error(t, err)
	}

	_, err := c.Current(context.Background(), testLocation)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(6), calls.Load())
	assert.InDelta(t, 1, testutil.ToFloat64(c.metrics.WeatherRequests.WithLabelValues("circuit_open")), 0)
}

func TestClient_Current_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testClient(srv.URL, 3).Current(ctx, testLocation)
	assert.ErrorIs(t, err, context.Canceled)
}
