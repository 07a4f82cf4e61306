// Package embeddings turns node and edge context strings into vectors.
package embeddings

import (
	"context"
	"errors"
)

// ErrDisabled is returned when no embedding provider is configured
var ErrDisabled = errors.New("embeddings provider not configured")

// Client is a vector provider backend.
type Client interface {
	// EmbedQuery embeds a search query
	EmbedQuery(ctx context.Context, query string) ([]float32, error)

	// EmbedDocuments embeds entity context strings, one vector per input in order
	EmbedDocuments(ctx context.Context, documents []string) ([][]float32, error)
}

// NoopClient stands in for a provider when embeddings are disabled.
type NoopClient struct{}

func NewNoopClient() *NoopClient {
	return &NoopClient{}
}

func (c *NoopClient) EmbedQuery(context.Context, string) ([]float32, error) {
	return nil, ErrDisabled
}

func (c *NoopClient) EmbedDocuments(context.Context, []string) ([][]float32, error) {
	return nil, ErrDisabled
}
