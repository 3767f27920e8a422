// Command genmock reads a field sample log (CSV) and generates the raw
// sample fixture consumed by the pipeline plus the readings it is expected
// to produce. It runs the actual domain package so the expected output
// always matches real pipeline behavior.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -csv data/mock/field_samples.csv \
//	  -raw-out data/mock/raw_samples.json \
//	  -readings-out data/mock/vpd_readings.json
package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/agrosentinel-etl/internal/domain"
	"github.com/jonboulle/clockwork"
)

// processedAt is the fixed processing time stamped on every expected reading.
var processedAt = time.Date(2024, time.July, 16, 0, 0, 0, 0, time.UTC)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	csvPath := flag.String("csv", "", "field sample log (sensor_id,time,temperature_c,humidity_pct,lat,lon)")
	rawOut := flag.String("raw-out", "", "output path for the raw sample JSON fixture")
	readingsOut := flag.String("readings-out", "", "output path for the expected readings JSON fixture")
	flag.Parse()

	if *csvPath == "" || *rawOut == "" || *readingsOut == "" {
		flag.Usage()
		return errors.New("missing required flags: -csv, -raw-out, -readings-out")
	}

	domain.SetClock(clockwork.NewFakeClockAt(processedAt))
	defer domain.SetClock(nil)

	samples, err := readSamples(*csvPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", *csvPath, err)
	}

	readings := make([]domain.VPDReading, 0, len(samples))
	for i, s := range samples {
		raw, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("marshal sample %d: %w", i, err)
		}
		parsed, err := domain.ParseRawEvent(domain.RawEvent{Value: raw})
		if err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
		r, err := domain.EnrichReading(parsed)
		if err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
		readings = append(readings, r)
	}
	log.Printf("total: %d samples", len(samples))

	if err := writeJSON(*rawOut, samples); err != nil {
		return fmt.Errorf("writing raw fixture: %w", err)
	}
	log.Printf("wrote raw fixture: %s", *rawOut)

	if err := writeJSON(*readingsOut, readings); err != nil {
		return fmt.Errorf("writing readings fixture: %w", err)
	}
	log.Printf("wrote readings fixture: %s", *readingsOut)

	printStats(readings)
	return nil
}

func readSamples(path string) ([]domain.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(rows) < 2 {
		return nil, errors.New("no data rows")
	}

	colIdx := map[string]int{}
	for i, h := range rows[0] {
		colIdx[strings.TrimSpace(h)] = i
	}

	samples := make([]domain.Sample, 0, len(rows)-1)
	for n, row := range rows[1:] {
		line := n + 2
		ts, err := time.Parse(time.RFC3339, get(row, colIdx, "time"))
		if err != nil {
			return nil, fmt.Errorf("line %d: time: %w", line, err)
		}
		temp, err := parseFloat(get(row, colIdx, "temperature_c"))
		if err != nil || temp == nil {
			return nil, fmt.Errorf("line %d: invalid temperature_c", line)
		}
		rh, err := parseFloat(get(row, colIdx, "humidity_pct"))
		if err != nil || rh == nil {
			return nil, fmt.Errorf("line %d: invalid humidity_pct", line)
		}
		lat, err := parseFloat(get(row, colIdx, "lat"))
		if err != nil {
			return nil, fmt.Errorf("line %d: lat: %w", line, err)
		}
		lon, err := parseFloat(get(row, colIdx, "lon"))
		if err != nil {
			return nil, fmt.Errorf("line %d: lon: %w", line, err)
		}

		samples = append(samples, domain.Sample{
			SensorID:     get(row, colIdx, "sensor_id"),
			Source:       "fixture",
			Time:         ts.UTC(),
			TemperatureC: temp,
			HumidityPct:  rh,
			Lat:          lat,
			Lon:          lon,
		})
	}
	return samples, nil
}

// parseFloat returns nil for an empty cell.
func parseFloat(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func get(row []string, idx map[string]int, col string) string {
	i, ok := idx[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

func printStats(readings []domain.VPDReading) {
	riskCounts := map[domain.RiskCategory]int{}
	diagCounts := map[domain.Diagnosis]int{}
	sensorCounts := map[string]int{}
	clamped := 0
	for _, r := range readings {
		riskCounts[r.Risk]++
		diagCounts[r.Diagnosis]++
		sensorCounts[r.SensorID]++
		if r.HumidityClamped {
			clamped++
		}
	}

	fmt.Println("\nRisk categories:")
	for _, c := range domain.RiskCategories {
		fmt.Printf("  %-14s %d\n", c, riskCounts[c])
	}

	fmt.Println("\nDiagnoses:")
	diags := make([]string, 0, len(diagCounts))
	for d := range diagCounts {
		diags = append(diags, string(d))
	}
	sort.Strings(diags)
	for _, d := range diags {
		fmt.Printf("  %-16s %d\n", d, diagCounts[domain.Diagnosis(d)])
	}

	fmt.Println("\nSensors:")
	sensors := make([]string, 0, len(sensorCounts))
	for s := range sensorCounts {
		sensors = append(sensors, s)
	}
	sort.Strings(sensors)
	for _, s := range sensors {
		fmt.Printf("  %-24s %d\n", s, sensorCounts[s])
	}

	fmt.Printf("\nClamped humidity: %d\n", clamped)
}
