package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/couchcryptid/agrosentinel-etl/internal/domain"
)

// Sink is a named BatchLoader.
type Sink struct {
	Name   string
	Loader BatchLoader
}

// FanOut writes every batch to each configured sink. A failing sink does not
// stop the others; the joined error reports all failures.
type FanOut struct {
	sinks []Sink
}

// NewFanOut returns a loader writing to all sinks in order.
func NewFanOut(sinks ...Sink) *FanOut {
	return &FanOut{sinks: sinks}
}

func (f *FanOut) LoadBatch(ctx context.Context, readings []domain.VPDReading) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Loader.LoadBatch(ctx, readings); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}
