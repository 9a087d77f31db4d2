// Package gateway decides, per request, whether to forward to the backend,
// wake it and wait, or defer the client with a retry hint.
package gateway

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wakegate/wakegate/internal/backend"
	"github.com/wakegate/wakegate/internal/telemetry"
)

// State describes backend liveness as seen by one request. It is derived
// fresh for every request and never shared or persisted.
type State string

const (
	// StateUnknown is the starting state before the first probe.
	StateUnknown State = "unknown"
	// StateSleeping means the probe failed; the backend is suspended.
	StateSleeping State = "sleeping"
	// StateWaking means a wake signal was sent and the backend has not
	// answered a probe yet.
	StateWaking State = "waking"
	// StateReady means a probe succeeded and the request can be forwarded.
	StateReady State = "ready"
)

// Outcome labels used for metrics.
const (
	outcomeForwarded = "forwarded"
	outcomeDeferred  = "deferred"
)

// Backend is the subset of the upstream client the gateway needs.
type Backend interface {
	Probe(ctx context.Context) error
	Wake(ctx context.Context) error
	Forward(ctx context.Context, task, rawQuery string) (*backend.Result, error)
}

// Clock abstracts time so the wait loop is testable and cooperative.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Config controls Gateway behavior.
type Config struct {
	// ProbeInterval is how often the wait loop re-probes the backend.
	ProbeInterval time.Duration
	// MaxBlockWait bounds how long one request may block waiting for the
	// backend to wake. Zero disables waiting entirely.
	MaxBlockWait time.Duration
	// RetryAfterSeconds is the hint returned with a deferral.
	RetryAfterSeconds int
}

// Outcome is the gateway's decision for one request: either the backend's
// response verbatim, or a deferral with a retry hint.
type Outcome struct {
	State             State
	Deferred          bool
	RetryAfterSeconds int
	Result            *backend.Result
}

// Gateway holds immutable per-process dependencies. Handling is stateless;
// concurrent requests run their own probe/wake/wait cycles independently,
// and duplicate wake signals are harmless.
type Gateway struct {
	backend Backend
	clock   Clock
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Gateway.
func New(b Backend, clock Clock, cfg Config, logger *zap.Logger) *Gateway {
	return &Gateway{backend: b, clock: clock, cfg: cfg, logger: logger}
}

// Process runs the liveness state machine for one request. Callers must
// have validated the request already; Process always performs network I/O.
// Backend unavailability is absorbed into the deferral outcome. The only
// error returned is the caller's own context ending.
func (g *Gateway) Process(ctx context.Context, task, rawQuery string, wait bool) (*Outcome, error) {
	state := StateUnknown

	if g.probeOnce(ctx) {
		state = StateReady
	} else {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		state = StateSleeping
		g.signalWake(ctx)
		state = StateWaking
		if wait {
			state = g.awaitReady(ctx)
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}

	if state == StateReady {
		result, err := g.backend.Forward(ctx, task, rawQuery)
		if err == nil {
			telemetry.ObserveRequest(task, outcomeForwarded)
			return &Outcome{State: StateReady, Result: result}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		// The backend answered the probe but dropped the work call; it
		// likely crashed mid-wake. Treat it as sleeping again.
		g.logger.Warn("forward failed after ready probe, deferring",
			zap.String("task", task), zap.Error(err))
		state = StateSleeping
		g.signalWake(ctx)
	}

	telemetry.ObserveRequest(task, outcomeDeferred)
	return &Outcome{
		State:             StateWaking,
		Deferred:          true,
		RetryAfterSeconds: g.cfg.RetryAfterSeconds,
	}, nil
}

// awaitReady re-probes the backend every ProbeInterval until it answers or
// MaxBlockWait elapses. Returns StateReady on success, StateWaking
// otherwise. Sleeping is cooperative: a parked request holds no thread.
func (g *Gateway) awaitReady(ctx context.Context) State {
	start := g.clock.Now()
	deadline := start.Add(g.cfg.MaxBlockWait)
	state := StateWaking
	for {
		remaining := deadline.Sub(g.clock.Now())
		if remaining <= 0 {
			break
		}
		interval := g.cfg.ProbeInterval
		if interval > remaining {
			interval = remaining
		}
		if err := g.clock.Sleep(ctx, interval); err != nil {
			break
		}
		if g.probeOnce(ctx) {
			state = StateReady
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	telemetry.ObserveWait(g.clock.Now().Sub(start))
	return state
}

func (g *Gateway) probeOnce(ctx context.Context) bool {
	start := g.clock.Now()
	err := g.backend.Probe(ctx)
	telemetry.ObserveProbe(err == nil, g.clock.Now().Sub(start))
	if err != nil {
		g.logger.Debug("liveness probe failed", zap.Error(err))
		return false
	}
	return true
}

// signalWake fires the advisory wake call without blocking the request.
// The call is detached from the request context so an impatient client
// does not cancel the wake it triggered.
func (g *Gateway) signalWake(ctx context.Context) {
	telemetry.ObserveWakeSignal()
	wakeCtx := context.WithoutCancel(ctx)
	go func() {
		if err := g.backend.Wake(wakeCtx); err != nil {
			g.logger.Debug("wake signal failed", zap.Error(err))
		}
	}()
}
