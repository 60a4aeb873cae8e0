package llm

import (
	"context"
	"sync"
)

type roleKey struct{}

// WithRole tags the context with the calling stage's role ("architect",
// "synthesizer"). Used for logging and by the fake client.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey{}, role)
}

// RoleFrom returns the role tag, or "" when absent.
func RoleFrom(ctx context.Context) string {
	if v, ok := ctx.Value(roleKey{}).(string); ok {
		return v
	}
	return ""
}

type budgetKey struct{}

// WithTokenBudget caps the model's output tokens for calls made under ctx.
// Zero means the provider default.
func WithTokenBudget(ctx context.Context, n int) context.Context {
	if n <= 0 {
		return ctx
	}
	return context.WithValue(ctx, budgetKey{}, n)
}

// TokenBudgetFrom returns the output-token cap, or 0.
func TokenBudgetFrom(ctx context.Context) int {
	if v, ok := ctx.Value(budgetKey{}).(int); ok {
		return v
	}
	return 0
}

// Usage is a point-in-time snapshot of metered consumption.
type Usage struct {
	Requests int64
	Tokens   int64
}

// Meter accumulates per-run usage across concurrent gateway calls. The
// settlement stage derives actual cost from the final snapshot.
type Meter struct {
	mu       sync.Mutex
	requests int64
	tokens   int64
}

// Record adds one request with its estimated token count.
func (m *Meter) Record(tokens int) {
	if m == nil {
		return
	}
	if tokens < 1 {
		tokens = 1
	}
	m.mu.Lock()
	m.requests++
	m.tokens += int64(tokens)
	m.mu.Unlock()
}

// Snapshot returns the accumulated usage.
func (m *Meter) Snapshot() Usage {
	if m == nil {
		return Usage{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return Usage{Requests: m.requests, Tokens: m.tokens}
}

type meterKey struct{}

// WithMeter attaches a usage meter to the context.
func WithMeter(ctx context.Context, m *Meter) context.Context {
	if m == nil {
		return ctx
	}
	return context.WithValue(ctx, meterKey{}, m)
}

// MeterFrom returns the context's meter, or nil.
func MeterFrom(ctx context.Context) *Meter {
	if v, ok := ctx.Value(meterKey{}).(*Meter); ok {
		return v
	}
	return nil
}
