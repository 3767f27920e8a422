package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/agrosentinel-etl/internal/domain"
	"github.com/couchcryptid/agrosentinel-etl/internal/observability"
	"github.com/go-co-op/gocron"
)

// Publisher accepts raw events for the pipeline. *pipeline.Queue satisfies it.
type Publisher interface {
	Push(ctx context.Context, ev domain.RawEvent) error
}

// Poller periodically fetches current conditions for every configured
// location and publishes the samples it has not seen before.
type Poller struct {
	source    domain.WeatherSource
	publisher Publisher
	locations []domain.Location
	interval  time.Duration
	seen      *seenSet
	scheduler *gocron.Scheduler
	metrics   *observability.Metrics
	logger    *slog.Logger
	cancel    context.CancelFunc
}

// New creates a Poller. cacheSize bounds how many sensor/time pairs are
// remembered for duplicate suppression.
func New(source domain.WeatherSource, publisher Publisher, locations []domain.Location, interval time.Duration, cacheSize int, metrics *observability.Metrics, logger *slog.Logger) *Poller {
	return &Poller{
		source:    source,
		publisher: publisher,
		locations: locations,
		interval:  interval,
		seen:      newSeenSet(cacheSize),
		scheduler: gocron.NewScheduler(time.UTC),
		metrics:   metrics,
		logger:    logger,
	}
}

// Start schedules PollOnce every interval, running the first poll right away.
// Polls never overlap; a slow round delays the next one.
func (p *Poller) Start(ctx context.Context) error {
	if len(p.locations) == 0 {
		p.logger.Warn("poller has no locations configured; nothing to schedule")
		return nil
	}

	ctx, p.cancel = context.WithCancel(ctx)
	_, err := p.scheduler.Every(p.interval).SingletonMode().Do(func() {
		pollCtx, cancel := context.WithTimeout(ctx, p.interval)
		defer cancel()

		if _, err := p.PollOnce(pollCtx); err != nil {
			p.logger.Warn("poll completed with errors", "error", err)
		}
	})
	if err != nil {
		p.cancel()
		return fmt.Errorf("schedule poll job: %w", err)
	}

	p.logger.Info("poller started", "interval", p.interval, "locations", len(p.locations))
	p.scheduler.StartAsync()
	return nil
}

// Stop cancels any in-flight poll and stops the scheduler.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.scheduler.Stop()
}

// PollOnce fetches every location concurrently and publishes new samples.
// It returns the number published and the joined per-location errors.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	samples := make([]domain.Sample, len(p.locations))
	errs := make([]error, len(p.locations))

	var wg sync.WaitGroup
	for i, loc := range p.locations {
		wg.Add(1)
		go func() {
			defer wg.Done()
			samples[i], errs[i] = p.source.Current(ctx, loc)
		}()
	}
	wg.Wait()

	published := 0
	for i, s := range samples {
		if errs[i] != nil {
			p.logger.Warn("fetch current conditions failed", "location", p.locations[i].Name, "error", errs[i])
			continue
		}

		key := dedupKey(s)
		if p.seen.contains(key) {
			p.metrics.PollDuplicates.Inc()
			p.logger.Debug("sample already seen", "sensor_id", s.SensorID, "time", s.Time)
			continue
		}

		raw, err := toRawEvent(s)
		if err != nil {
			errs[i] = err
			continue
		}
		if err := p.publisher.Push(ctx, raw); err != nil {
			return published, errors.Join(append(errs, fmt.Errorf("publish %s: %w", s.SensorID, err))...)
		}
		p.seen.add(key)
		published++
	}

	p.logger.Debug("poll complete", "published", published, "locations", len(p.locations))
	return published, errors.Join(errs...)
}

func dedupKey(s domain.Sample) string {
	return s.SensorID + "|" + s.Time.UTC().Format(time.RFC3339)
}

func toRawEvent(s domain.Sample) (domain.RawEvent, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return domain.RawEvent{}, fmt.Errorf("encode sample %s: %w", s.SensorID, err)
	}
	return domain.RawEvent{
		Key:   []byte(s.SensorID),
		Value: data,
		Headers: map[string]string{
			"sensor_id": s.SensorID,
			"source":    s.Source,
		},
		Timestamp: s.Time,
	}, nil
}
