package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wakegate/wakegate/internal/backend"
	"github.com/wakegate/wakegate/internal/clock/system"
)

// fakeBackend simulates the upstream service with call counting. A negative
// readyAfter means the backend never wakes.
type fakeBackend struct {
	created    time.Time
	readyAfter time.Duration
	forwardErr error
	result     *backend.Result

	probeCalls   atomic.Int64
	wakeCalls    atomic.Int64
	forwardCalls atomic.Int64
}

func newFakeBackend(readyAfter time.Duration) *fakeBackend {
	return &fakeBackend{
		created:    time.Now(),
		readyAfter: readyAfter,
		result: &backend.Result{
			StatusCode:  http.StatusOK,
			ContentType: "application/json",
			Body:        []byte(`{"ok":true}`),
		},
	}
}

func (f *fakeBackend) Probe(context.Context) error {
	f.probeCalls.Add(1)
	if f.readyAfter < 0 || time.Since(f.created) < f.readyAfter {
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeBackend) Wake(context.Context) error {
	f.wakeCalls.Add(1)
	return nil
}

func (f *fakeBackend) Forward(context.Context, string, string) (*backend.Result, error) {
	f.forwardCalls.Add(1)
	if f.forwardErr != nil {
		return nil, f.forwardErr
	}
	return f.result, nil
}

func newTestGateway(be Backend, maxWait time.Duration) *Gateway {
	return New(be, system.New(), Config{
		ProbeInterval:     10 * time.Millisecond,
		MaxBlockWait:      maxWait,
		RetryAfterSeconds: 30,
	}, zap.NewNop())
}

func TestProcess_ReadyImmediately(t *testing.T) {
	t.Parallel()

	be := newFakeBackend(0)
	gw := newTestGateway(be, 100*time.Millisecond)

	outcome, err := gw.Process(context.Background(), "hubcloud", "url=x", true)
	require.NoError(t, err)
	require.False(t, outcome.Deferred)
	require.Equal(t, StateReady, outcome.State)
	require.Equal(t, http.StatusOK, outcome.Result.StatusCode)
	require.JSONEq(t, `{"ok":true}`, string(outcome.Result.Body))

	require.Equal(t, int64(1), be.probeCalls.Load(), "one probe round trip")
	require.Equal(t, int64(1), be.forwardCalls.Load())
	require.Equal(t, int64(0), be.wakeCalls.Load(), "no wake when already ready")
}

func TestProcess_WakesAndForwardsOnceReady(t *testing.T) {
	t.Parallel()

	be := newFakeBackend(40 * time.Millisecond)
	gw := newTestGateway(be, 500*time.Millisecond)

	start := time.Now()
	outcome, err := gw.Process(context.Background(), "hubcloud", "url=x", true)
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.False(t, outcome.Deferred)
	require.Equal(t, int64(1), be.forwardCalls.Load(), "exactly one forward call")
	require.Less(t, elapsed, 300*time.Millisecond, "loop must exit early on success")
	require.Eventually(t, func() bool { return be.wakeCalls.Load() >= 1 },
		time.Second, 5*time.Millisecond, "wake must be signaled at least once")
}

func TestProcess_DefersWhenBackendNeverWakes(t *testing.T) {
	t.Parallel()

	be := newFakeBackend(-1)
	gw := newTestGateway(be, 100*time.Millisecond)

	start := time.Now()
	outcome, err := gw.Process(context.Background(), "hubcloud", "url=x", true)
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.True(t, outcome.Deferred)
	require.Equal(t, StateWaking, outcome.State)
	require.Equal(t, 30, outcome.RetryAfterSeconds)
	require.Equal(t, int64(0), be.forwardCalls.Load(), "work endpoint never called")
	require.GreaterOrEqual(t, elapsed, 100*time.Millisecond, "waits out the full bound")
}

func TestProcess_BlockingNeverExceedsBound(t *testing.T) {
	t.Parallel()

	be := newFakeBackend(-1)
	gw := newTestGateway(be, 80*time.Millisecond)

	for i := 0; i < 3; i++ {
		start := time.Now()
		outcome, err := gw.Process(context.Background(), "hubcloud", "url=x", true)
		elapsed := time.Since(start)

		require.NoError(t, err)
		require.True(t, outcome.Deferred)
		require.Less(t, elapsed, 500*time.Millisecond,
			"trial %d blocked past the bound plus epsilon", i)
	}
}

func TestProcess_NoWaitDefersImmediately(t *testing.T) {
	t.Parallel()

	be := newFakeBackend(-1)
	gw := newTestGateway(be, time.Minute)

	start := time.Now()
	outcome, err := gw.Process(context.Background(), "hubcloud", "url=x", false)
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.True(t, outcome.Deferred)
	require.Equal(t, int64(0), be.forwardCalls.Load())
	require.Less(t, elapsed, 200*time.Millisecond)
	require.Eventually(t, func() bool { return be.wakeCalls.Load() >= 1 },
		time.Second, 5*time.Millisecond, "wake is still signaled without waiting")
}

func TestProcess_ZeroBoundDisablesWaiting(t *testing.T) {
	t.Parallel()

	be := newFakeBackend(-1)
	gw := New(be, system.New(), Config{
		ProbeInterval:     10 * time.Millisecond,
		MaxBlockWait:      0,
		RetryAfterSeconds: 30,
	}, zap.NewNop())

	start := time.Now()
	outcome, err := gw.Process(context.Background(), "hubcloud", "url=x", true)
	require.NoError(t, err)
	require.True(t, outcome.Deferred)
	require.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestProcess_ForwardFailureBecomesDeferral(t *testing.T) {
	t.Parallel()

	// Probe answers but the work call drops: backend crashed mid-wake.
	be := newFakeBackend(0)
	be.forwardErr = errors.New("connection reset by peer")
	gw := newTestGateway(be, 50*time.Millisecond)

	outcome, err := gw.Process(context.Background(), "hubcloud", "url=x", true)
	require.NoError(t, err, "network failures never surface to the client")
	require.True(t, outcome.Deferred)
	require.Equal(t, 30, outcome.RetryAfterSeconds)
}

func TestProcess_CanceledContextSurfaces(t *testing.T) {
	t.Parallel()

	be := newFakeBackend(-1)
	gw := newTestGateway(be, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := gw.Process(ctx, "hubcloud", "url=x", true)
	require.Error(t, err)
	require.Less(t, time.Since(start), time.Second, "cancellation cuts the wait short")
}
