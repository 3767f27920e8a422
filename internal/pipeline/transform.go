package pipeline

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/agrosentinel-etl/internal/domain"
)

// VPDTransformer implements Transformer by decoding a sample and running the
// VPD calculator and diagnosis over it.
type VPDTransformer struct {
	logger *slog.Logger
}

// NewTransformer creates a VPDTransformer.
func NewTransformer(logger *slog.Logger) *VPDTransformer {
	return &VPDTransformer{logger: logger}
}

func (t *VPDTransformer) Transform(_ context.Context, raw domain.RawEvent) (domain.VPDReading, error) {
	sample, err := domain.ParseRawEvent(raw)
	if err != nil {
		return domain.VPDReading{}, err
	}

	reading, err := domain.EnrichReading(sample)
	if err != nil {
		return domain.VPDReading{}, err
	}

	if reading.HumidityClamped {
		t.logger.Debug("humidity clamped to saturation",
			"sensor_id", reading.SensorID,
			"reported_pct", *sample.HumidityPct,
		)
	}
	return reading, nil
}
