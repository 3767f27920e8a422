package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/agrosentinel-etl/internal/domain"
	"github.com/couchcryptid/agrosentinel-etl/internal/observability"
	"github.com/couchcryptid/storm-data-shared/retry"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// BatchExtractor reads up to batchSize raw events from the source.
// An empty batch with a nil error means nothing arrived in time.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// Buffer is implemented by extractors that hold events in memory and can
// hand them over without waiting. Drain uses it to empty the buffer on
// shutdown.
type Buffer interface {
	DrainBatch(batchSize int) []domain.RawEvent
}

// Transformer converts a raw event into a VPD reading.
type Transformer interface {
	Transform(ctx context.Context, raw domain.RawEvent) (domain.VPDReading, error)
}

// BatchLoader writes multiple readings to the destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, readings []domain.VPDReading) error
}

// Pipeline orchestrates the extract-transform-load loop.
type Pipeline struct {
	extractor   BatchExtractor
	transformer Transformer
	loader      BatchLoader
	logger      *slog.Logger
	metrics     *observability.Metrics
	ready       atomic.Bool
	batchSize   int

	// interrupted holds the batch whose load was cut short by cancellation.
	interrupted *pendingBatch
}

type pendingBatch struct {
	readings []domain.VPDReading
	accepted []domain.RawEvent
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, t Transformer, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline {
	return &Pipeline{
		extractor:   e,
		transformer: t,
		loader:      l,
		logger:      logger,
		metrics:     metrics,
		batchSize:   batchSize,
	}
}

// CheckReadiness returns nil once the pipeline has loaded at least one batch.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not loaded any readings yet")
	}
	return nil
}

// Run executes the batch ETL loop until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx, &backoff) {
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		}
	}
}

// processBatch runs one extract-transform-load cycle. Returns false if the pipeline should stop.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration) bool {
	start := time.Now()

	rawBatch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return backoffOrStop(ctx, backoff)
	}
	*backoff = initialBackoff

	if len(rawBatch) == 0 {
		return ctx.Err() == nil
	}

	p.metrics.SamplesConsumed.Add(float64(len(rawBatch)))
	p.metrics.BatchSize.Observe(float64(len(rawBatch)))

	readings, accepted := p.transformBatch(ctx, rawBatch)
	if len(readings) == 0 {
		return true
	}

	if !p.load(ctx, readings, backoff) {
		p.interrupted = &pendingBatch{readings: readings, accepted: accepted}
		return false
	}

	for _, raw := range accepted {
		p.commitOffset(ctx, raw)
	}
	p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
	p.ready.Store(true)
	return true
}

// transformBatch converts each raw event, committing and skipping the ones
// that cannot become a reading.
func (p *Pipeline) transformBatch(ctx context.Context, rawBatch []domain.RawEvent) ([]domain.VPDReading, []domain.RawEvent) {
	readings := make([]domain.VPDReading, 0, len(rawBatch))
	accepted := make([]domain.RawEvent, 0, len(rawBatch))

	for _, raw := range rawBatch {
		r, err := p.transformer.Transform(ctx, raw)
		if err != nil {
			p.logger.Warn("transform failed, skipping sample",
				"error", err,
				"topic", raw.Topic,
				"partition", raw.Partition,
				"offset", raw.Offset,
			)
			p.metrics.TransformErrors.WithLabelValues(errorReason(err)).Inc()
			p.commitOffset(ctx, raw)
			continue
		}
		readings = append(readings, r)
		accepted = append(accepted, raw)
	}
	return readings, accepted
}

// load writes the batch, retrying with backoff until it succeeds or the
// context ends. Returns false if the pipeline should stop.
func (p *Pipeline) load(ctx context.Context, readings []domain.VPDReading, backoff *time.Duration) bool {
	for {
		if ctx.Err() != nil {
			return false
		}
		err := p.loader.LoadBatch(ctx, readings)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("load batch failed", "error", err, "batch_size", len(readings), "retry_in", *backoff)
		if !backoffOrStop(ctx, backoff) {
			return false
		}
	}
	*backoff = initialBackoff

	p.metrics.ReadingsProduced.Add(float64(len(readings)))
	for _, r := range readings {
		p.metrics.ReadingsByRisk.WithLabelValues(string(r.Risk)).Inc()
		p.metrics.SetLatestVPD(r.SensorID, r.VPDKPa)
	}
	return true
}

// Drain loads what Run left behind: the batch whose load was interrupted by
// cancellation, then every event still held by a Buffer extractor. ctx should
// be a fresh shutdown context. Drain must not run concurrently with Run.
func (p *Pipeline) Drain(ctx context.Context) error {
	drained := 0
	if b := p.interrupted; b != nil {
		if err := p.loadRemaining(ctx, b.readings, b.accepted); err != nil {
			return err
		}
		p.interrupted = nil
		drained += len(b.readings)
	}

	if buf, ok := p.extractor.(Buffer); ok {
		for {
			rawBatch := buf.DrainBatch(p.batchSize)
			if len(rawBatch) == 0 {
				break
			}
			p.metrics.SamplesConsumed.Add(float64(len(rawBatch)))
			readings, accepted := p.transformBatch(ctx, rawBatch)
			if len(readings) == 0 {
				continue
			}
			if err := p.loadRemaining(ctx, readings, accepted); err != nil {
				return err
			}
			drained += len(readings)
		}
	}

	p.logger.Info("pipeline drained", "readings", drained)
	return nil
}

func (p *Pipeline) loadRemaining(ctx context.Context, readings []domain.VPDReading, accepted []domain.RawEvent) error {
	backoff := initialBackoff
	if !p.load(ctx, readings, &backoff) {
		return fmt.Errorf("drain pipeline: %d readings not loaded: %w", len(readings), ctx.Err())
	}
	for _, raw := range accepted {
		p.commitOffset(ctx, raw)
	}
	return nil
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrMalformedSample):
		return "malformed"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	default:
		return "other"
	}
}

// backoffOrStop sleeps with the current backoff and advances it.
// Returns false if the context ended first.
func backoffOrStop(ctx context.Context, backoff *time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !retry.SleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = retry.NextBackoff(*backoff, maxBackoff)
	return true
}
