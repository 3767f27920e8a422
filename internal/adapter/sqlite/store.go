package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/couchcryptid/agrosentinel-etl/internal/domain"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed sql/schema.sql
var schemaSQL string

//go:embed sql/insert-reading.sql
var insertReadingSQL string

//go:embed sql/get-latest-readings.sql
var getLatestReadingsSQL string

// timeLayout is fixed width so that lexical order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store persists VPD readings in an embedded SQLite database.
// It implements pipeline.BatchLoader.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates (if needed) and opens the database at path, then applies the
// schema. ":memory:" opens a private in-memory database.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	dsn, err := buildDSN(path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serialises writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	logger.Info("sqlite store opened", "path", path)
	return &Store{db: db, logger: logger}, nil
}

func buildDSN(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if dir := filepath.Dir(strings.TrimPrefix(path, "file:")); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	params := "_busy_timeout=5000&_journal_mode=WAL"
	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + params, nil
	}
	return fmt.Sprintf("file:%s?%s", path, params), nil
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
			formatTime(r.Time), r.SensorID, r.ID, r.Source, lat, lon,
			r.TemperatureC, r.HumidityPct, r.HumidityClamped,
			r.SVPKPa, r.AVPKPa, r.VPDKPa, string(r.Risk), string(r.Diagnosis),
			formatTime(r.TimeBucket), formatTime(r.ProcessedAt),
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
			r                    domain.VPDReading
			lat, lon             sql.NullFloat64
			risk, diag           string
			ts, bucket, procTime string
		)
		if err := rows.Scan(
			&r.ID, &r.SensorID, &r.Source, &ts, &lat, &lon,
			&r.TemperatureC, &r.HumidityPct, &r.HumidityClamped,
			&r.SVPKPa, &r.AVPKPa, &r.VPDKPa, &risk, &diag,
			&bucket, &procTime,
		); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		if r.Time, err = parseTime(ts); err != nil {
			return nil, err
		}
		if r.TimeBucket, err = parseTime(bucket); err != nil {
			return nil, err
		}
		if r.ProcessedAt, err = parseTime(procTime); err != nil {
			return nil, err
		}
		r.Risk = domain.RiskCategory(risk)
		r.Diagnosis = domain.Diagnosis(diag)
		if lat.Valid && lon.Valid {
			r.Geo = &domain.Geo{Lat: lat.Float64, Lon: lon.Float64}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CheckReadiness pings the database.
func (s *Store) CheckReadiness(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t.UTC(), nil
}
