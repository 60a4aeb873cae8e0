package llm

import (
	"context"
	"encoding/json"
	"log"
)

// Middleware decorates a Client to inject cross-cutting concerns
// (rate limiting, metering, logging).
type Middleware func(Client) Client

// Wrap applies middlewares in left-to-right order.
// Example: Wrap(inner, A, B) => A(B(inner))
func Wrap(inner Client, mws ...Middleware) Client {
	out := inner
	for i := len(mws) - 1; i >= 0; i-- {
		out = mws[i](out)
	}
	return out
}

// WithLogging logs request size and errors. Provide a custom logger or nil
// to use log.Default().
func WithLogging(logger *log.Logger) Middleware {
	if logger == nil {
		logger = log.Default()
	}
	return func(next Client) Client {
		return &logging{next: next, log: logger}
	}
}

type logging struct {
	next Client
	log  *log.Logger
}

func (l *logging) Name() string               { return l.next.Name() }
func (l *logging) Close() error               { return l.next.Close() }
func (l *logging) CountTokens(text string) int { return l.next.CountTokens(text) }
func (l *logging) TokenCapacity() int         { return l.next.TokenCapacity() }

func (l *logging) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	in, _ := json.Marshal(input)
	l.log.Printf("LLM request (%s): %d bytes", RoleFrom(ctx), len(prompt)+len(in))
	raw, err := l.next.GenerateJSON(ctx, prompt, input)
	if err != nil {
		l.log.Printf("LLM error (%s): %v", RoleFrom(ctx), err)
	}
	return raw, err
}

// RateLimit limits request rate with a token bucket. If rps <= 0, the
// middleware is a pass-through.
func RateLimit(rps float64, burst int) Middleware {
	return func(next Client) Client {
		return &rateLimited{next: next, rl: newRPSLimiter(rps, burst)}
	}
}

type rateLimited struct {
	next Client
	rl   *rpsLimiter
}

func (c *rateLimited) Name() string               { return c.next.Name() }
func (c *rateLimited) Close() error               { c.rl.Stop(); return c.next.Close() }
func (c *rateLimited) CountTokens(text string) int { return c.next.CountTokens(text) }
func (c *rateLimited) TokenCapacity() int         { return c.next.TokenCapacity() }

func (c *rateLimited) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	if err := c.rl.Acquire(ctx); err != nil {
		return nil, err
	}
	return c.next.GenerateJSON(ctx, prompt, input)
}

// WithMetering records an estimated token count for every call into the
// context's Meter. The estimate feeds actual-cost settlement, so it is
// recorded for failed calls too: the tokens were spent either way.
func WithMetering() Middleware {
	return func(next Client) Client {
		return &metered{next: next}
	}
}

type metered struct {
	next Client
}

func (m *metered) Name() string               { return m.next.Name() }
func (m *metered) Close() error               { return m.next.Close() }
func (m *metered) CountTokens(text string) int { return m.next.CountTokens(text) }
func (m *metered) TokenCapacity() int         { return m.next.TokenCapacity() }

func (m *metered) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	in, _ := json.Marshal(input)
	tokens := m.next.CountTokens(prompt + "\n" + string(in))
	out, err := m.next.GenerateJSON(ctx, prompt, input)
	if err == nil {
		tokens += m.next.CountTokens(string(out))
	}
	MeterFrom(ctx).Record(tokens)
	return out, err
}
