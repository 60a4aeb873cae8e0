// Package llm is the uniform gateway to the text-generation service. Every
// pipeline stage talks to the model through Client; role tag, token budget
// and the usage meter ride the context.
package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrInvalidJSON indicates the model returned an empty or non-JSON response.
var ErrInvalidJSON = errors.New("llm: invalid JSON from model")

// Client is the minimal interface to a text-generation backend.
type Client interface {
	Name() string
	GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error)
	CountTokens(text string) int
	TokenCapacity() int
	Close() error
}
