// Package llm provides interfaces for language model providers.
package llm

import (
	"context"
	"errors"
	"log/slog"

	"go.uber.org/fx"

	"github.com/emergent-company/entitygraph/internal/config"
	"github.com/emergent-company/entitygraph/pkg/llm/vertex"
	"github.com/emergent-company/entitygraph/pkg/logger"
)

// ErrNotConfigured is returned by providers without credentials
var ErrNotConfigured = errors.New("llm provider not configured")

// Provider is an interface for LLM providers
type Provider interface {
	// Complete generates a completion for the given prompt
	Complete(ctx context.Context, prompt string) (string, error)

	// IsConfigured returns true if the provider is properly configured
	IsConfigured() bool
}

// Module provides the LLM provider
var Module = fx.Module("llm",
	fx.Provide(NewProvider),
)

// NoopProvider is used when no LLM is configured
type NoopProvider struct{}

// Complete always fails with ErrNotConfigured
func (NoopProvider) Complete(ctx context.Context, prompt string) (string, error) {
	return "", ErrNotConfigured
}

// IsConfigured returns false
func (NoopProvider) IsConfigured() bool { return false }

// NewProvider selects the Vertex AI client when configured, falling back to NoopProvider
func NewProvider(cfg *config.Config, log *slog.Logger) Provider {
	log = log.With(logger.Scope("llm"))
	if !cfg.LLM.IsEnabled() {
		log.Info("llm provider disabled - path explanations use the fallback")
		return NoopProvider{}
	}

	client, err := vertex.NewClient(context.Background(), vertex.Config{
		ProjectID:       cfg.LLM.GCPProjectID,
		Location:        cfg.LLM.VertexAILocation,
		Model:           cfg.LLM.Model,
		Timeout:         cfg.LLM.Timeout,
		Temperature:     cfg.LLM.Temperature,
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
	}, vertex.WithLogger(log))
	if err != nil {
		log.Error("failed to initialize vertex llm client", logger.Error(err))
		return NoopProvider{}
	}

	log.Info("vertex llm client initialized", slog.String("model", client.Model()))
	return client
}
