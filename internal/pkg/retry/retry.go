package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrExhausted is returned when every attempt failed with a retryable condition.
var ErrExhausted = errors.New("max retries exceeded")

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Wait is the default Sleeper.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Policy describes how an outbound call is retried.
//
// Delays[i] is slept after failed attempt i; the last entry is reused when
// there are more attempts than delays.
type Policy struct {
	MaxAttempts    int
	Delays         []time.Duration
	RetryStatuses  []int
	RetryTransport bool
	// ReturnLast hands back the final retryable response instead of ErrExhausted.
	ReturnLast bool
	Sleep      Sleeper
	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, reason string)
}

// RateLimited retries only HTTP 429.
func RateLimited(maxAttempts int, delays ...time.Duration) Policy {
	return Policy{
		MaxAttempts:   maxAttempts,
		Delays:        delays,
		RetryStatuses: []int{http.StatusTooManyRequests},
	}
}

// Exponential builds a delay schedule base, 2*base, 4*base ... of length n.
func Exponential(base time.Duration, n int) []time.Duration {
	out := make([]time.Duration, n)
	d := base
	for i := range out {
		out[i] = d
		d *= 2
	}
	return out
}

func (p Policy) retryableStatus(code int) bool {
	for _, s := range p.RetryStatuses {
		if s == code {
			return true
		}
	}
	return false
}

func (p Policy) delay(attempt int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	if attempt >= len(p.Delays) {
		return p.Delays[len(p.Delays)-1]
	}
	return p.Delays[attempt]
}

// Do runs call until it returns a non-retryable outcome or attempts run out.
func (p Policy) Do(ctx context.Context, call func(ctx context.Context) (*resty.Response, error)) (*resty.Response, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Wait
	}

	var (
		lastResp *resty.Response
		lastErr  error
	)
	for i := 0; i < attempts; i++ {
		resp, err := call(ctx)
		var reason string
		switch {
		case err != nil:
			if !p.RetryTransport || ctx.Err() != nil {
				return nil, err
			}
			lastErr, lastResp = err, nil
			reason = err.Error()
		case p.retryableStatus(resp.StatusCode()):
			lastErr, lastResp = nil, resp
			reason = fmt.Sprintf("status %d", resp.StatusCode())
		default:
			return resp, nil
		}

		if i == attempts-1 {
			break
		}
		d := p.delay(i)
		if p.OnRetry != nil {
			p.OnRetry(i+1, d, reason)
		}
		if err := sleep(ctx, d); err != nil {
			return nil, err
		}
	}

	if p.ReturnLast && lastResp != nil {
		return lastResp, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w after %d attempts: %v", ErrExhausted, attempts, lastErr)
	}
	return nil, fmt.Errorf("%w after %d attempts: status %d", ErrExhausted, attempts, lastResp.StatusCode())
}
