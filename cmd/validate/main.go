// Command validate performs data integrity checks on the mock fixtures:
// the raw sample JSON consumed by the pipeline and the expected VPD readings
// JSON. It recomputes every reading with the domain package and verifies
// counts, derived values and classification invariants.
//
// The JSON fixtures are generated, not committed. Produce them from the
// shipped field log first, then validate:
//
//	go run ./cmd/genmock \
//	  -csv data/mock/field_samples.csv \
//	  -raw-out data/mock/raw_samples.json \
//	  -readings-out data/mock/vpd_readings.json
//
//	go run ./cmd/validate \
//	  -raw-json data/mock/raw_samples.json \
//	  -readings-json data/mock/vpd_readings.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/couchcryptid/agrosentinel-etl/internal/domain"
	"github.com/jonboulle/clockwork"
)

// tolerance for comparing derived pressures in kPa.
const tolerance = 1e-9

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	rawJSON := flag.String("raw-json", "", "path to raw sample JSON fixture (written by genmock -raw-out)")
	readingsJSON := flag.String("readings-json", "", "path to expected readings JSON fixture (written by genmock -readings-out)")
	flag.Parse()

	if *rawJSON == "" || *readingsJSON == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*rawJSON, *readingsJSON); code != 0 {
		os.Exit(code)
	}
}

func run(rawPath, readingsPath string) int {
	// Fixed clock matching genmock so ProcessedAt is reproducible.
	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2024, time.July, 16, 0, 0, 0, 0, time.UTC)))
	defer domain.SetClock(nil)

	fmt.Println("=== VPD Fixture Integrity Validation ===")
	fmt.Println()

	samples, err := loadJSON[domain.Sample](rawPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load raw JSON: %v\n", err)
		return 1
	}
	readings, err := loadJSON[domain.VPDReading](readingsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load readings JSON: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateParity(samples, readings),
		validateRecomputation(samples, readings),
		validateInvariants(readings),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Records: %d raw samples, %d readings\n", len(samples), len(readings))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

func loadJSON[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ── Phases ──

func validateParity(samples []domain.Sample, readings []domain.VPDReading) *phase {
	p := &phase{name: "Raw/readings parity"}
	if len(samples) != len(readings) {
		p.errorf("count mismatch: %d samples, %d readings", len(samples), len(readings))
	}

	ids := make(map[string]int, len(readings))
	for i, r := range readings {
		if prev, ok := ids[r.ID]; ok {
			p.errorf("reading %d: duplicate id %s (first at %d)", i, r.ID, prev)
		}
		ids[r.ID] = i
	}
	for i := range min(len(samples), len(readings)) {
		if samples[i].SensorID != readings[i].SensorID {
			p.errorf("row %d: sensor %q vs %q", i, samples[i].SensorID, readings[i].SensorID)
		}
		if !samples[i].Time.Equal(readings[i].Time) {
			p.errorf("row %d: time %s vs %s", i, samples[i].Time, readings[i].Time)
		}
	}
	return p
}

func validateRecomputation(samples []domain.Sample, readings []domain.VPDReading) *phase {
	p := &phase{name: "Recomputed readings match fixture"}
	for i := range min(len(samples), len(readings)) {
		raw, err := json.Marshal(samples[i])
		if err != nil {
			p.errorf("row %d: marshal: %v", i, err)
			continue
		}
		parsed, err := domain.ParseRawEvent(domain.RawEvent{Value: raw})
		if err != nil {
			p.errorf("row %d: %v", i, err)
			continue
		}
		want, err := domain.EnrichReading(parsed)
		if err != nil {
			p.errorf("row %d: %v", i, err)
			continue
		}
		got := readings[i]

		if got.ID != want.ID {
			p.errorf("row %d: id %s, want %s", i, got.ID, want.ID)
		}
		if math.Abs(got.VPDKPa-want.VPDKPa) > tolerance {
			p.errorf("row %d: vpd %.6f, want %.6f", i, got.VPDKPa, want.VPDKPa)
		}
		if got.Risk != want.Risk {
			p.errorf("row %d: risk %s, want %s", i, got.Risk, want.Risk)
		}
		if got.Diagnosis != want.Diagnosis {
			p.errorf("row %d: diagnosis %s, want %s", i, got.Diagnosis, want.Diagnosis)
		}
		if got.HumidityClamped != want.HumidityClamped {
			p.errorf("row %d: humidity_clamped %t, want %t", i, got.HumidityClamped, want.HumidityClamped)
		}
		if !got.TimeBucket.Equal(want.TimeBucket) {
			p.errorf("row %d: time_bucket %s, want %s", i, got.TimeBucket, want.TimeBucket)
		}
	}
	return p
}

func validateInvariants(readings []domain.VPDReading) *phase {
	p := &phase{name: "Classification invariants"}
	for i, r := range readings {
		if r.VPDKPa < 0 {
			p.errorf("row %d: negative vpd %.4f", i, r.VPDKPa)
		}
		if r.AVPKPa > r.SVPKPa+tolerance {
			p.errorf("row %d: avp %.4f exceeds svp %.4f", i, r.AVPKPa, r.SVPKPa)
		}
		if r.HumidityPct < 0 || r.HumidityPct > 100 {
			p.errorf("row %d: humidity %.2f outside [0, 100]", i, r.HumidityPct)
		}
		if got := domain.Classify(r.VPDKPa); got != r.Risk {
			p.errorf("row %d: risk %s does not match vpd %.4f (%s)", i, r.Risk, r.VPDKPa, got)
		}
		if got := domain.Diagnose(r.TemperatureC, r.HumidityPct); got != r.Diagnosis {
			p.errorf("row %d: diagnosis %s, want %s", i, r.Diagnosis, got)
		}
		if !r.TimeBucket.Equal(r.Time.Truncate(time.Hour)) {
			p.errorf("row %d: time_bucket %s is not the hour of %s", i, r.TimeBucket, r.Time)
		}
	}
	return p
}
