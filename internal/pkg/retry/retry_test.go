package retry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

// statusServer answers with the given codes in order, then repeats the last one.
func statusServer(t *testing.T, codes ...int) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(&hits, 1)) - 1
		if n >= len(codes) {
			n = len(codes) - 1
		}
		w.WriteHeader(codes[n])
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func get(url string) func(ctx context.Context) (*resty.Response, error) {
	client := resty.New()
	return func(ctx context.Context) (*resty.Response, error) {
		return client.R().SetContext(ctx).Get(url)
	}
}

func TestDo_RetriesRateLimitThenSucceeds(t *testing.T) {
	srv, hits := statusServer(t, 429, 429, 200)
	rec := &sleepRecorder{}
	p := RateLimited(5, Exponential(time.Second, 4)...)
	p.Sleep = rec.sleep

	resp, err := p.Do(context.Background(), get(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode())
	assert.EqualValues(t, 3, atomic.LoadInt32(hits))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)
}

func TestDo_ReturnLastOnExhaustion(t *testing.T) {
	srv, hits := statusServer(t, 429)
	rec := &sleepRecorder{}
	p := RateLimited(5, Exponential(time.Second, 4)...)
	p.ReturnLast = true
	p.Sleep = rec.sleep

	resp, err := p.Do(context.Background(), get(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, 429, resp.StatusCode())
	assert.EqualValues(t, 5, atomic.LoadInt32(hits))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, rec.delays)
}

func TestDo_ExhaustedError(t *testing.T) {
	srv, hits := statusServer(t, 429)
	rec := &sleepRecorder{}
	p := RateLimited(3, 2*time.Second, 4*time.Second, 8*time.Second)
	p.Sleep = rec.sleep

	_, err := p.Do(context.Background(), get(srv.URL))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExhausted))
	assert.EqualValues(t, 3, atomic.LoadInt32(hits))
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, rec.delays)
}

func TestDo_NonRetryableStatusReturnedImmediately(t *testing.T) {
	srv, hits := statusServer(t, 400)
	p := RateLimited(3, time.Second)
	p.Sleep = (&sleepRecorder{}).sleep

	resp, err := p.Do(context.Background(), get(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode())
	assert.EqualValues(t, 1, atomic.LoadInt32(hits))
}

func TestDo_TransportErrors(t *testing.T) {
	transportErr := errors.New("connection reset")
	calls := 0
	call := func(context.Context) (*resty.Response, error) {
		calls++
		return nil, transportErr
	}

	t.Run("not retried by default", func(t *testing.T) {
		calls = 0
		p := RateLimited(5, time.Second)
		p.Sleep = (&sleepRecorder{}).sleep
		_, err := p.Do(context.Background(), call)
		assert.ErrorIs(t, err, transportErr)
		assert.Equal(t, 1, calls)
	})

	t.Run("retried when enabled", func(t *testing.T) {
		calls = 0
		rec := &sleepRecorder{}
		p := RateLimited(3, 2*time.Second, 4*time.Second, 8*time.Second)
		p.RetryTransport = true
		p.Sleep = rec.sleep
		_, err := p.Do(context.Background(), call)
		assert.ErrorIs(t, err, ErrExhausted)
		assert.Contains(t, err.Error(), "connection reset")
		assert.Equal(t, 3, calls)
		assert.Len(t, rec.delays, 2)
	})
}

func TestExponential(t *testing.T) {
	assert.Equal(t,
		[]time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second},
		Exponential(time.Second, 4))
}

func TestWait_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Wait(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}
