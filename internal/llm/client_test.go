package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/essay-grader/backend/pkg/circuitbreaker"
)

type stubBackend struct {
	calls   atomic.Int32
	respond func(ctx context.Context, call int, req Request) (string, error)
}

func (s *stubBackend) Name() string  { return "stub" }
func (s *stubBackend) Model() string { return "stub-model" }

func (s *stubBackend) Complete(ctx context.Context, req Request) (string, error) {
	n := int(s.calls.Add(1))
	return s.respond(ctx, n, req)
}

type mapCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newMapCache() *mapCache { return &mapCache{data: map[string]string{}} }

func (m *mapCache) Name() string { return "map" }

func (m *mapCache) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapCache) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mapCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

var gradingReq = Request{Role: "C1", Instructions: "rubrica", Input: "redação"}

func TestGenerateTimeout(t *testing.T) {
	backend := &stubBackend{respond: func(ctx context.Context, _ int, _ Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	client := NewClient(backend, Options{Timeout: 20 * time.Millisecond})

	_, err := client.Generate(context.Background(), gradingReq)
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, "timeout", Outcome(err))
}

func TestGenerateRetriesConnectionFailures(t *testing.T) {
	backend := &stubBackend{respond: func(_ context.Context, call int, _ Request) (string, error) {
		if call == 1 {
			return "", errors.New("connection reset by peer")
		}
		return `{"nota": 120}`, nil
	}}
	client := NewClient(backend, Options{MaxAttempts: 2, RetryDelay: time.Millisecond})

	text, err := client.Generate(context.Background(), gradingReq)
	require.NoError(t, err)
	require.Equal(t, `{"nota": 120}`, text)
	require.Equal(t, int32(2), backend.calls.Load())
}

func TestGenerateDoesNotRetryMalformedStream(t *testing.T) {
	backend := &stubBackend{respond: func(context.Context, int, Request) (string, error) {
		return "", ErrMalformedStream
	}}
	client := NewClient(backend, Options{MaxAttempts: 3, RetryDelay: time.Millisecond})

	_, err := client.Generate(context.Background(), gradingReq)
	require.ErrorIs(t, err, ErrMalformedStream)
	require.Equal(t, int32(1), backend.calls.Load())
}

func TestGenerateCacheHitAndForget(t *testing.T) {
	backend := &stubBackend{respond: func(_ context.Context, call int, _ Request) (string, error) {
		return "resposta", nil
	}}
	cache := newMapCache()
	client := NewClient(backend, Options{Cache: cache})

	for i := 0; i < 3; i++ {
		text, err := client.Generate(context.Background(), gradingReq)
		require.NoError(t, err)
		require.Equal(t, "resposta", text)
	}
	require.Equal(t, int32(1), backend.calls.Load())

	other := gradingReq
	other.Role = "C2"
	_, err := client.Generate(context.Background(), other)
	require.NoError(t, err)
	require.Equal(t, int32(2), backend.calls.Load())

	client.Forget(context.Background(), gradingReq)
	_, err = client.Generate(context.Background(), gradingReq)
	require.NoError(t, err)
	require.Equal(t, int32(3), backend.calls.Load())
}

func TestGenerateFailuresAreNotCached(t *testing.T) {
	backend := &stubBackend{respond: func(_ context.Context, call int, _ Request) (string, error) {
		if call == 1 {
			return "", ErrTimeout
		}
		return "ok", nil
	}}
	cache := newMapCache()
	client := NewClient(backend, Options{Cache: cache})

	_, err := client.Generate(context.Background(), gradingReq)
	require.Error(t, err)
	require.Empty(t, cache.data)

	text, err := client.Generate(context.Background(), gradingReq)
	require.NoError(t, err)
	require.Equal(t, "ok", text)
}

func TestGenerateWaitsOutOpenBreaker(t *testing.T) {
	backend := &stubBackend{respond: func(_ context.Context, call int, _ Request) (string, error) {
		if call == 1 {
			return "", errors.New("dial tcp: connection refused")
		}
		return "ok", nil
	}}
	breaker := NewBreaker("test-llm", 1, 50*time.Millisecond, nil)
	client := NewClient(backend, Options{Breaker: breaker})

	_, err := client.Generate(context.Background(), gradingReq)
	require.ErrorIs(t, err, ErrConnectionFailure)
	require.Equal(t, circuitbreaker.StateOpen, breaker.State())

	short, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err = client.Generate(short, gradingReq)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotErrorIs(t, err, ErrConnectionFailure)
	require.Equal(t, int32(1), backend.calls.Load())

	text, err := client.Generate(context.Background(), gradingReq)
	require.NoError(t, err)
	require.Equal(t, "ok", text)
	require.Equal(t, circuitbreaker.StateClosed, breaker.State())
}

func TestGenerateHalfOpenAdmitsFanOut(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	backend := &stubBackend{respond: func(context.Context, int, Request) (string, error) {
		if failing.Load() {
			return "", errors.New("connection reset by peer")
		}
		time.Sleep(10 * time.Millisecond)
		return "ok", nil
	}}
	breaker := NewBreaker("test-llm", 1, 20*time.Millisecond, nil)
	client := NewClient(backend, Options{Breaker: breaker})

	_, err := client.Generate(context.Background(), gradingReq)
	require.ErrorIs(t, err, ErrConnectionFailure)
	failing.Store(false)
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, circuitbreaker.StateHalfOpen, breaker.State())

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := gradingReq
			req.Role = fmt.Sprintf("C%d", i)
			_, errs[i] = client.Generate(context.Background(), req)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, circuitbreaker.StateClosed, breaker.State())
}

func TestNewBreakerDisabled(t *testing.T) {
	require.Nil(t, NewBreaker("off", 0, time.Second, nil))
}

func TestClassify(t *testing.T) {
	ctx := context.Background()
	require.Nil(t, classify(ctx, nil))
	require.ErrorIs(t, classify(ctx, context.DeadlineExceeded), ErrTimeout)
	require.ErrorIs(t, classify(ctx, errors.New("eof")), ErrConnectionFailure)
	require.ErrorIs(t, classify(ctx, context.Canceled), context.Canceled)
	require.Equal(t, "canceled", Outcome(context.Canceled))
	require.Equal(t, "ok", Outcome(nil))
}
