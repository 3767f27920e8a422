package openmeteo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/sony/gobreaker"
)

// BackoffConfig controls exponential backoff between attempts. The delay
// starts at InitialInterval and doubles up to MaxInterval.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultBackoff retries three times, starting at 500ms and capping at 5s.
var DefaultBackoff = BackoffConfig{
	MaxRetries:      3,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     5 * time.Second,
}

var (
	// ErrCircuitOpen is returned without contacting the API while the breaker is open.
	ErrCircuitOpen = errors.New("open-meteo circuit breaker open")
	// ErrUnexpectedStatus wraps non-retryable HTTP status codes.
	ErrUnexpectedStatus = errors.New("open-meteo unexpected status")

	errRateLimited = errors.New("rate limited")
	errServerError = errors.New("server error")
)

func newBreaker(onChange func(name string, from, to gobreaker.State)) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:          "openmeteo",
		MaxRequests:   5,
		Interval:      time.Minute,
		Timeout:       2 * time.Minute,
		OnStateChange: onChange,
	})
}

// do executes the request through the circuit breaker, retrying transport
// errors, 429 and 5xx with exponential backoff. Any other non-2xx status
// fails immediately.
func (c *Client) do(ctx context.Context, buildRequest func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	var attempt int
	delay := c.backoff.InitialInterval
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := buildRequest(ctx)
		if err != nil {
			return nil, err
		}

		start := time.Now()
		result, err := c.breaker.Execute(func() (interface{}, error) {
			resp, doErr := c.httpClient.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			switch {
			case resp.StatusCode == http.StatusTooManyRequests:
				drain(resp)
				return nil, errRateLimited
			case resp.StatusCode >= 500:
				drain(resp)
				return nil, fmt.Errorf("%w: %d", errServerError, resp.StatusCode)
			}
			return resp, nil
		})
		c.metrics.WeatherAPIDuration.Observe(time.Since(start).Seconds())

		if err == nil {
			resp, ok := result.(*http.Response)
			if !ok {
				return nil, errors.New("unexpected result type from circuit breaker")
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				resp.Body.Close()
				return nil, fmt.Errorf("%w: %d: %s", ErrUnexpectedStatus, resp.StatusCode, body)
			}
			return resp, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.metrics.WeatherRequests.WithLabelValues("circuit_open").Inc()
			return nil, fmt.Errorf("%w: %w", ErrCircuitOpen, err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt >= c.backoff.MaxRetries {
			return nil, err
		}

		c.metrics.WeatherRequests.WithLabelValues("retry").Inc()
		c.logger.Debug("open-meteo request failed, retrying", "error", err, "attempt", attempt+1, "delay", delay)

		if !retry.SleepWithContext(ctx, delay) {
			return nil, ctx.Err()
		}
		delay = retry.NextBackoff(delay, c.backoff.MaxInterval)
		attempt++
	}
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck // connection reuse only
	resp.Body.Close()
}
