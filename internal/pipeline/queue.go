package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/couchcryptid/agrosentinel-etl/internal/domain"
)

// ErrQueueFull is returned by TryPush when the queue has no free slot.
var ErrQueueFull = errors.New("pipeline queue full")

// Queue is a bounded in-process source for push-based producers such as the
// weather poller and the MQTT subscriber. It implements BatchExtractor.
type Queue struct {
	ch            chan domain.RawEvent
	flushInterval time.Duration
}

// NewQueue creates a queue holding up to capacity events. ExtractBatch waits
// at most flushInterval for a batch to fill.
func NewQueue(capacity int, flushInterval time.Duration) *Queue {
	return &Queue{
		ch:            make(chan domain.RawEvent, capacity),
		flushInterval: flushInterval,
	}
}

// Push enqueues ev, blocking while the queue is full.
func (q *Queue) Push(ctx context.Context, ev domain.RawEvent) error {
	select {
	case q.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPush enqueues ev without blocking.
func (q *Queue) TryPush(ev domain.RawEvent) error {
	select {
	case q.ch <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Len reports the number of queued events.
func (q *Queue) Len() int { return len(q.ch) }

// ExtractBatch returns up to batchSize events, or whatever arrived before the
// flush interval elapsed. On cancellation the events collected so far are
// returned; Pipeline.Drain loads them.
func (q *Queue) ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error) {
	timer := time.NewTimer(q.flushInterval)
	defer timer.Stop()

	batch := make([]domain.RawEvent, 0, batchSize)
	for len(batch) < batchSize {
		select {
		case ev := <-q.ch:
			batch = append(batch, ev)
		case <-timer.C:
			return batch, nil
		case <-ctx.Done():
			if len(batch) > 0 {
				return batch, nil
			}
			return nil, ctx.Err()
		}
	}
	return batch, nil
}

// DrainBatch returns up to batchSize queued events without waiting.
func (q *Queue) DrainBatch(batchSize int) []domain.RawEvent {
	batch := make([]domain.RawEvent, 0, min(batchSize, len(q.ch)))
	for len(batch) < batchSize {
		select {
		case ev := <-q.ch:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
	return batch
}
