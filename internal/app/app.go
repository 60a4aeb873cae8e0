// Package app wires configuration, stores, the inference gateway and the
// pipeline into a runnable server.
package app

import (
	"context"
	"fmt"
	"log"

	"flowsmith/internal/artifact"
	"flowsmith/internal/config"
	"flowsmith/internal/events"
	"flowsmith/internal/exemplar"
	"flowsmith/internal/ledger"
	"flowsmith/internal/llm"
	"flowsmith/internal/pipeline"
	"flowsmith/internal/server"
)

type App struct {
	server *server.Server
	client llm.Client
	store  ledger.Store
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	store, err := newLedgerStore(cfg.Ledger)
	if err != nil {
		return nil, fmt.Errorf("ledger store: %w", err)
	}
	led, err := ledger.New(store)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}

	client, err := newLLMClient(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("llm client: %w", err)
	}
	client = llm.Wrap(client,
		llm.WithLogging(nil),
		llm.WithMetering(),
		llm.RateLimit(cfg.LLM.RPS, cfg.LLM.Burst),
	)

	artifacts, err := newArtifactStore(cfg.Artifact)
	if err != nil {
		return nil, fmt.Errorf("artifact store: %w", err)
	}

	hub := events.NewHub()
	pipe := pipeline.New(client, led, exemplar.NewSelector(nil), artifacts, hub, pipeline.Config{
		ExemplarCount: cfg.Pipeline.ExemplarCount,
		MaxInFlight:   cfg.Pipeline.MaxInFlight,
		Deadline:      cfg.Pipeline.Deadline,
	})

	mux := server.NewMux(pipe, led, hub, cfg.Credit)
	srv := server.New(cfg.Port, mux)

	return &App{server: srv, client: client, store: store}, nil
}

func newLedgerStore(cfg config.LedgerConfig) (ledger.Store, error) {
	switch {
	case cfg.PostgresDSN != "":
		log.Printf("ledger backend: postgres")
		return ledger.NewPostgresStore(cfg.PostgresDSN)
	case cfg.SQLitePath != "":
		log.Printf("ledger backend: sqlite (%s)", cfg.SQLitePath)
		return ledger.NewSQLiteStore(cfg.SQLitePath)
	default:
		log.Printf("ledger backend: memory")
		return ledger.NewMemoryStore(), nil
	}
}

func newLLMClient(ctx context.Context, cfg config.LLMConfig) (llm.Client, error) {
	switch cfg.Provider {
	case "gemini":
		// Request limiting is applied as middleware; the client's own
		// limiter stays off.
		return llm.NewGeminiClient(ctx, cfg.APIKey, cfg.Model, 0, 0)
	case "fake", "":
		log.Printf("using fake LLM client")
		return llm.NewFakeClient(0), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

func newArtifactStore(cfg config.ArtifactConfig) (artifact.Store, error) {
	if !cfg.Enabled {
		return artifact.NewMemoryStore(), nil
	}
	return artifact.NewS3Store(artifact.S3Config{
		Endpoint:  cfg.Endpoint,
		Region:    cfg.Region,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Bucket:    cfg.Bucket,
		UseSSL:    cfg.UseSSL,
	})
}

func (a *App) Start() error { return a.server.Start() }

func (a *App) Shutdown(ctx context.Context) error {
	if err := a.client.Close(); err != nil {
		log.Printf("close llm client: %v", err)
	}
	if err := a.store.Close(); err != nil {
		log.Printf("close ledger store: %v", err)
	}
	return a.server.Shutdown(ctx)
}
