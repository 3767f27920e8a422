package timescale

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/agrosentinel-etl/internal/domain"
	"github.com/couchcryptid/storm-data-shared/retry"
	_ "github.com/lib/pq"
)

//go:embed sql/schema.sql
var schemaSQL string

//go:embed sql/hypertable.sql
var hypertableSQL string

//go:embed sql/insert-reading.sql
var insertReadingSQL string

//go:embed sql/get-latest-readings.sql
var getLatestReadingsSQL string

// retryInterval is how long Connect waits between attempts to reach the database.
const retryInterval = 5 * time.Second

// Store persists VPD readings in TimescaleDB (or plain PostgreSQL).
// It implements pipeline.BatchLoader.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Connect opens the database and waits until it answers, retrying every five
// seconds until ctx ends. The schema is created on success and, when
// hypertable is set, vpd_readings is converted to a hypertable.
func Connect(ctx context.Context, dsn string, hypertable bool, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open timescale: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	for {
		pingCtx, cancel := context.WithTimeout(ctx, retryInterval)
		err = db.PingContext(pingCtx)
		cancel()
		if err == nil {
			break
		}
		logger.Warn("waiting for database", "error", err, "retry_in", retryInterval)

		if !retry.SleepWithContext(ctx, retryInterval) {
			_ = db.Close()
			return nil, fmt.Errorf("connect timescale: %w", ctx.Err())
		}
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(ctx, hypertable); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("database connected", "hypertable", hypertable)
	return s, nil
}

func (s *Store) migrate(ctx context.Context, hypertable bool) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if hypertable {
		if _, err := s.db.ExecContext(ctx, hypertableSQL); err != nil {
			return fmt.Errorf("create hypertable (is the timescaledb extension installed?): %w", err)
		}
	}
	return nil
}

// LoadBatch inserts the readings in one transaction. Readings already stored
// for the same sensor and time are left untouched.
func (s *Store) LoadBatch(ctx context.Context, readings []domain.VPDReading) error {
	if len(readings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, insertReadingSQL)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, r := range readings {
		var lat, lon sql.NullFloat64
		if r.Geo != nil {
			lat = sql.NullFloat64{Float64: r.Geo.Lat, Valid: true}
			lon = sql.NullFloat64{Float64: r.Geo.Lon, Valid: true}
		}
		res, err := stmt.ExecContext(ctx,
			r.Time, r.SensorID, r.ID, r.Source, lat, lon,
			r.TemperatureC, r.HumidityPct, r.HumidityClamped,
			r.SVPKPa, r.AVPKPa, r.VPDKPa, string(r.Risk), string(r.Diagnosis),
			r.TimeBucket, r.ProcessedAt,
		)
		if err != nil {
			return fmt.Errorf("insert reading %s: %w", r.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit readings: %w", err)
	}
	s.logger.Debug("readings stored", "inserted", inserted, "duplicates", len(readings)-inserted)
	return nil
}

// LatestReadings returns up to limit readings for sensorID, newest first.
func (s *Store) LatestReadings(ctx context.Context, sensorID string, limit int) ([]domain.VPDReading, error) {
	rows, err := s.db.QueryContext(ctx, getLatestReadingsSQL, sensorID, limit)
	if err != nil {
		return nil, fmt.Errorf("query latest readings: %w", err)
	}
	defer rows.Close()

	var out []domain.VPDReading
	for rows.Next() {
		var (
			r        domain.VPDReading
			lat, lon sql.NullFloat64
			risk     string
			diag     string
		)
		if err := rows.Scan(
			&r.ID, &r.SensorID, &r.Source, &r.Time, &lat, &lon,
			&r.TemperatureC, &r.HumidityPct, &r.HumidityClamped,
			&r.SVPKPa, &r.AVPKPa, &r.VPDKPa, &risk, &diag,
			&r.TimeBucket, &r.ProcessedAt,
		); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		r.Risk = domain.RiskCategory(risk)
		r.Diagnosis = domain.Diagnosis(diag)
		if lat.Valid && lon.Valid {
			r.Geo = &domain.Geo{Lat: lat.Float64, Lon: lon.Float64}
		}
		r.Time = r.Time.UTC()
		r.TimeBucket = r.TimeBucket.UTC()
		r.ProcessedAt = r.ProcessedAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// CheckReadiness pings the database.
func (s *Store) CheckReadiness(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("timescale: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
