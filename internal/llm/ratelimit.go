package llm

import (
	"context"
	"time"
)

// rpsLimiter throttles gateway calls to a sustained rate with a bounded
// burst. A nil *rpsLimiter is valid and never blocks, so callers keep a
// single code path whether limiting is configured or not.
type rpsLimiter struct {
	tokens chan struct{}
	done   chan struct{}
}

// newRPSLimiter returns nil when rps <= 0; limiting is off.
func newRPSLimiter(rps float64, burst int) *rpsLimiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	l := &rpsLimiter{
		tokens: make(chan struct{}, burst),
		done:   make(chan struct{}),
	}
	for len(l.tokens) < cap(l.tokens) {
		l.tokens <- struct{}{}
	}
	go l.refill(time.Duration(float64(time.Second) / rps))
	return l
}

// refill adds one token per period, dropping tokens while the bucket is
// full. Fractional rps yields a sub-second period.
func (l *rpsLimiter) refill(period time.Duration) {
	if period <= 0 {
		period = time.Millisecond
	}
	tick := time.NewTicker(period)
	defer tick.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-tick.C:
			select {
			case l.tokens <- struct{}{}:
			default:
			}
		}
	}
}

// Acquire blocks until a token is available, the context ends, or the
// limiter is stopped.
func (l *rpsLimiter) Acquire(ctx context.Context) error {
	if l == nil {
		return nil
	}
	select {
	case <-l.tokens:
		return nil
	case <-l.done:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *rpsLimiter) Stop() {
	if l == nil {
		return
	}
	close(l.done)
}
