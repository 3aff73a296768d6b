package manager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"inferd/internal/errs"
)

// errGateClosed is returned to waiters of a gate whose entry was unloaded.
// The manager retries them against a fresh entry.
var errGateClosed = errors.New("instance unloaded")

// Gate limits concurrent generation calls on one instance. Waiters queue in
// arrival order and are never rejected; they leave only when they get a
// permit, their context ends, or the gate is closed.
type Gate struct {
	permits chan struct{}
	closed  chan struct{}
	once    sync.Once
	waiting atomic.Int64
}

// NewGate returns a gate with n permits (1 if n <= 0).
func NewGate(n int) *Gate {
	if n <= 0 {
		n = 1
	}
	return &Gate{permits: make(chan struct{}, n), closed: make(chan struct{})}
}

// Acquire blocks until a permit is free. The returned release func is
// idempotent and must be called on every exit path.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	select {
	case <-g.closed:
		return nil, errGateClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Cancelled(err)
	}
	g.waiting.Add(1)
	gateWaiting.Inc()
	select {
	case g.permits <- struct{}{}:
		g.waiting.Add(-1)
		gateWaiting.Dec()
	case <-ctx.Done():
		g.waiting.Add(-1)
		gateWaiting.Dec()
		return nil, errs.Cancelled(ctx.Err())
	case <-g.closed:
		g.waiting.Add(-1)
		gateWaiting.Dec()
		return nil, errGateClosed
	}
	// Closed while we were being admitted: hand the permit back.
	select {
	case <-g.closed:
		<-g.permits
		return nil, errGateClosed
	default:
	}
	gateInflight.Inc()
	var once sync.Once
	return func() {
		once.Do(func() {
			<-g.permits
			gateInflight.Dec()
		})
	}, nil
}

// Close stops admitting: current waiters and later callers get errGateClosed.
// Permits already held stay valid until released.
func (g *Gate) Close() { g.once.Do(func() { close(g.closed) }) }

// Drain waits until every held permit has been released. Call after Close.
func (g *Gate) Drain(ctx context.Context) error {
	for i := 0; i < cap(g.permits); i++ {
		select {
		case g.permits <- struct{}{}:
		case <-ctx.Done():
			for ; i > 0; i-- {
				<-g.permits
			}
			return ctx.Err()
		}
	}
	return nil
}

func (g *Gate) Permits() int  { return cap(g.permits) }
func (g *Gate) Inflight() int { return len(g.permits) }
func (g *Gate) Waiting() int  { return int(g.waiting.Load()) }

// Idle reports whether nobody holds or waits for a permit.
func (g *Gate) Idle() bool { return g.Inflight() == 0 && g.Waiting() == 0 }
