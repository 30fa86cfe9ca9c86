package main

import (
	"context"
	"sync/atomic"
)

// InFlight tracks handlers currently executing so shutdown can wait for
// them to finish before the process exits, and rejects new work once
// closed. Grounded on the same begin/end/close/wait shape used by
// distributed rate limiters to drain in-flight requests.
type InFlight struct {
	n      atomic.Int64
	closed atomic.Bool
	ch     chan struct{}
}

func NewInFlight() *InFlight {
	return &InFlight{ch: make(chan struct{})}
}

// Begin registers one in-flight unit of work. It returns false once the
// tracker has been closed, meaning the caller must reject the request.
func (f *InFlight) Begin() bool {
	if f.closed.Load() {
		return false
	}
	f.n.Add(1)
	if f.closed.Load() {
		f.End()
		return false
	}
	return true
}

// End releases one unit of work previously registered with Begin.
func (f *InFlight) End() {
	if f.n.Add(-1) == 0 && f.closed.Load() {
		select {
		case <-f.ch:
		default:
			close(f.ch)
		}
	}
}

// Close stops accepting new work. If nothing is in flight it signals done
// immediately.
func (f *InFlight) Close() {
	if !f.closed.CompareAndSwap(false, true) {
		return
	}
	if f.n.Load() == 0 {
		select {
		case <-f.ch:
		default:
			close(f.ch)
		}
	}
}

// Wait blocks until every in-flight unit registered before Close has
// finished, or ctx is done first.
func (f *InFlight) Wait(ctx context.Context) error {
	select {
	case <-f.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// shutdown drains the gateway within the configured ceiling: stop accepting
// new admission requests, wait for in-flight ones to finish, flush the
// audit queue, then close the analyzer connection and database pool. The
// returned error is non-nil when the ceiling expired before the drain
// finished, which callers map to a dirty process exit.
func (s *Server) shutdown(ctx context.Context) error {
	s.InFlight.Close()
	err := s.InFlight.Wait(ctx)
	s.AuditQueue.Flush(ctx)
	_ = s.Analyzer.Close()
	if s.DB != nil {
		s.DB.Close()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	return err
}
