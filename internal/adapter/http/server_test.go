package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	httpadapter "github.com/couchcryptid/agrosentinel-etl/internal/adapter/http"
	"github.com/couchcryptid/agrosentinel-etl/internal/domain"
	"github.com/couchcryptid/agrosentinel-etl/internal/observability"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockStore struct {
	readings []domain.VPDReading
	err      error
	gotLimit int
}

func (m *mockStore) LatestReadings(_ context.Context, sensorID string, limit int) ([]domain.VPDReading, error) {
	m.gotLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.VPDReading
	for _, r := range m.readings {
		if r.SensorID == sensorID {
			out = append(out, r)
		}
	}
	return out, nil
}

func newTestServer(readyErr error, store httpadapter.ReadingStore) *httpadapter.Server {
	return httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func get(t *testing.T, srv *httpadapter.Server, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

	var body map[string]any
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealthzReturns200(t *testing.T) {
	rec, body := get(t, newTestServer(nil, nil), "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec, body := get(t, newTestServer(nil, nil), "/readyz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec, body := get(t, newTestServer(fmt.Errorf("not ready yet"), nil), "/readyz")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "not ready yet", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	rec, _ := get(t, newTestServer(nil, nil), "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestVPDEndpoint(t *testing.T) {
	rec, body := get(t, newTestServer(nil, nil), "/api/v1/vpd?temperature=25&humidity=50")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 1.585, body["vpd_kpa"], 0.01)
	assert.InDelta(t, 3.169, body["svp_kpa"], 0.01)
	assert.Equal(t, "WATER_STRESS", body["risk_category"])
	assert.Equal(t, "OPTIMAL", body["diagnosis"])
	assert.Equal(t, false, body["humidity_clamped"])
}

func TestVPDEndpoint_ClampsHumidity(t *testing.T) {
	rec, body := get(t, newTestServer(nil, nil), "/api/v1/vpd?temperature=22&humidity=103")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["humidity_clamped"])
	assert.InDelta(t, 100, body["humidity_pct"], 0)
	assert.InDelta(t, 0, body["vpd_kpa"], 0)
	assert.Equal(t, "FUNGAL_RISK", body["risk_category"])
	assert.Equal(t, "FUNGAL_CRITICAL", body["diagnosis"])
}

func TestVPDEndpoint_InvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"missing temperature", "humidity=50"},
		{"missing humidity", "temperature=25"},
		{"not a number", "temperature=warm&humidity=50"},
		{"NaN", "temperature=NaN&humidity=50"},
		{"too hot", "temperature=75&humidity=50"},
		{"negative humidity", "temperature=25&humidity=-1"},
		{"humidity beyond tolerance", "temperature=25&humidity=120"},
	}
	srv := newTestServer(nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := get(t, srv, "/api/v1/vpd?"+tt.query)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestLatestReadings(t *testing.T) {
	at := time.Date(2024, 7, 15, 13, 45, 0, 0, time.UTC)
	store := &mockStore{readings: []domain.VPDReading{
		{ID: "vpd-1", SensorID: "gh-1", Time: at, VPDKPa: 0.9, Risk: domain.RiskComfort},
		{ID: "vpd-2", SensorID: "gh-2", Time: at, VPDKPa: 0.2, Risk: domain.RiskFungal},
	}}
	srv := newTestServer(nil, store)

	rec, body := get(t, srv, "/api/v1/readings/latest?sensor_id=gh-1&limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gh-1", body["sensor_id"])
	assert.InDelta(t, 1, body["count"], 0)
	assert.Equal(t, 5, store.gotLimit)

	readings, ok := body["readings"].([]any)
	require.True(t, ok)
	first, ok := readings[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "vpd-1", first["id"])
	assert.Equal(t, "COMFORT_ZONE", first["risk_category"])

	_, _ = get(t, srv, "/api/v1/readings/latest?sensor_id=gh-2")
	assert.Equal(t, 10, store.gotLimit, "default limit")
}

func TestLatestReadings_Errors(t *testing.T) {
	tests := []struct {
		name   string
		store  httpadapter.ReadingStore
		query  string
		status int
	}{
		{"no store", nil, "sensor_id=gh-1", http.StatusServiceUnavailable},
		{"missing sensor", &mockStore{}, "", http.StatusBadRequest},
		{"bad limit", &mockStore{}, "sensor_id=gh-1&limit=many", http.StatusBadRequest},
		{"limit too large", &mockStore{}, "sensor_id=gh-1&limit=5000", http.StatusBadRequest},
		{"nothing stored", &mockStore{}, "sensor_id=gh-1", http.StatusNotFound},
		{"store failure", &mockStore{err: errors.New("connection reset")}, "sensor_id=gh-1", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := get(t, newTestServer(nil, tt.store), "/api/v1/readings/latest?"+tt.query)
			assert.Equal(t, tt.status, rec.Code)
			assert.NotEmpty(t, body["error"])
			assert.NotContains(t, body["error"], "connection reset")
		})
	}
}

func TestHealthEndpoints_ServedBySharedHandlers(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		readyFn func(context.Context) error
		shared  http.HandlerFunc
	}{
		{"liveness", "/healthz", nil, sharedobs.LivenessHandler()},
		{"ready", "/readyz", func(context.Context) error { return nil }, nil},
		{"not ready", "/readyz", func(context.Context) error { return errors.New("timescale: down") }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var checker sharedobs.ReadinessChecker = observability.AllReady()
			if tt.readyFn != nil {
				checker = observability.AllReady(observability.ReadinessFunc(tt.readyFn))
			}
			shared := tt.shared
			if shared == nil {
				shared = sharedobs.ReadinessHandler(checker)
			}

			srv := httpadapter.NewServer(":0", checker, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
			got := httptest.NewRecorder()
			srv.ServeHTTP(got, httptest.NewRequest(http.MethodGet, tt.path, nil))
			want := httptest.NewRecorder()
			shared.ServeHTTP(want, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, want.Code, got.Code)
			assert.Equal(t, want.Body.String(), got.Body.String())
			assert.Equal(t, "application/json", got.Header().Get("Content-Type"))
		})
	}
}
