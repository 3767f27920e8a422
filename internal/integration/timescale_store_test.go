//go:build integration

package integration_test

import (
	"context"
	"testing"
	"time"

	"github.com/couchcryptid/agrosentinel-etl/internal/adapter/timescale"
	"github.com/couchcryptid/agrosentinel-etl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

const timescaleImage = "timescale/timescaledb:latest-pg16"

func startTimescale(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tcpostgres.Run(ctx, timescaleImage,
		tcpostgres.WithDatabase("agro_db"),
		tcpostgres.WithUsername("agrosentinel"),
		tcpostgres.WithPassword("agrosentinel"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err, "start timescale container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func reading(t *testing.T, sensor string, ts time.Time, temp, rh float64) domain.VPDReading {
	t.Helper()
	r, err := domain.EnrichReading(domain.Sample{
		SensorID:     sensor,
		Source:       "test",
		Time:         ts,
		TemperatureC: &temp,
		HumidityPct:  &rh,
	})
	require.NoError(t, err)
	return r
}

func TestTimescaleStore(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store, err := timescale.Connect(ctx, startTimescale(ctx, t), true, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.CheckReadiness(ctx))

	first := reading(t, "greenhouse-1", sampleTime, 20, 95)
	second := reading(t, "greenhouse-1", sampleTime.Add(time.Hour), 30, 40)
	other := reading(t, "field-1", sampleTime, 24, 60)

	require.NoError(t, store.LoadBatch(ctx, []domain.VPDReading{first, second, other}))
	// Replays are ignored.
	require.NoError(t, store.LoadBatch(ctx, []domain.VPDReading{first}))

	got, err := store.LatestReadings(ctx, "greenhouse-1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, second.ID, got[0].ID)
	assert.Equal(t, first.ID, got[1].ID)
	assert.Equal(t, domain.RiskFungal, got[1].Risk)
	assert.Equal(t, domain.DiagnosisHumidityExcess, got[1].Diagnosis)
	assert.InDelta(t, first.VPDKPa, got[1].VPDKPa, 1e-9)
	assert.True(t, first.Time.Equal(got[1].Time))
	assert.True(t, first.TimeBucket.Equal(got[1].TimeBucket))

	got, err = store.LatestReadings(ctx, "greenhouse-1", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = store.LatestReadings(ctx, "unknown", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}
