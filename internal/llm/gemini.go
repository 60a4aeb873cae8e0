package llm

import (
	"context"
	"encoding/json"
	"log"
	"time"

	genai "google.golang.org/genai"
)

// GeminiClient is a thin wrapper around the official genai client.
type GeminiClient struct {
	cli      *genai.Client
	model    string
	capacity int
	rl       *rpsLimiter
}

// NewGeminiClient builds a Gemini-backed Client. rps/burst configure an
// optional client-side request limiter; rps <= 0 disables it.
func NewGeminiClient(ctx context.Context, apiKey, model string, rps float64, burst int) (*GeminiClient, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &GeminiClient{
		cli:      cli,
		model:    model,
		capacity: 8192,
		rl:       newRPSLimiter(rps, burst),
	}, nil
}

func (g *GeminiClient) Name() string { return "Gemini:" + g.model }

func (g *GeminiClient) Close() error {
	if g.rl != nil {
		g.rl.Stop()
	}
	return nil
}

// CountTokens is a cheap length heuristic; exact counts are not needed,
// only a stable estimate for budgeting and metering.
func (g *GeminiClient) CountTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return len(text) / 4
}

func (g *GeminiClient) TokenCapacity() int { return g.capacity }

// GenerateJSON sends the concatenated prompt/input and requests
// application/json, honoring the context's output-token budget.
func (g *GeminiClient) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	in, _ := json.MarshalIndent(input, "", "  ")
	full := prompt + "\n\n[INPUT JSON]\n" + string(in)

	cfg := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	if budget := TokenBudgetFrom(ctx); budget > 0 {
		cfg.MaxOutputTokens = int32(budget)
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		// Respect the limiter per attempt (each API call consumes a token).
		if err := g.rl.Acquire(ctx); err != nil {
			lastErr = err
			break
		}
		resp, err := g.cli.Models.GenerateContent(ctx, g.model,
			[]*genai.Content{{Parts: []*genai.Part{{Text: full}}}},
			cfg,
		)
		if err != nil {
			lastErr = err
		} else if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
			lastErr = ErrInvalidJSON
		} else {
			return json.RawMessage(resp.Candidates[0].Content.Parts[0].Text), nil
		}
		if ctx.Err() != nil {
			break
		}
		log.Printf("LLM attempt %d failed (%s): %v", attempt+1, RoleFrom(ctx), lastErr)
		time.Sleep(time.Duration(300*(1<<attempt)) * time.Millisecond)
	}
	return nil, lastErr
}
