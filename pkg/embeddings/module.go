package embeddings

import (
	"context"
	"fmt"
	"log/slog"

	"go.uber.org/fx"
	"golang.org/x/time/rate"

	"github.com/emergent-company/entitygraph/internal/config"
	"github.com/emergent-company/entitygraph/pkg/embeddings/genai"
	"github.com/emergent-company/entitygraph/pkg/logger"
)

// Module provides the embeddings fx.Module
var Module = fx.Module("embeddings",
	fx.Provide(NewService),
)

// Service provides embedding generation with automatic client selection.
// Provider calls are throttled by a token bucket shared across callers.
type Service struct {
	client   Client
	log      *slog.Logger
	limiter  *rate.Limiter
	provider string
	model    string
	enabled  bool
}

// NewNoopService creates a service with a noop client (for testing)
func NewNoopService(log *slog.Logger) *Service {
	return &Service{
		client:   NewNoopClient(),
		log:      log,
		limiter:  rate.NewLimiter(rate.Inf, 1),
		provider: "none",
	}
}

// NewServiceWithClient wraps an existing client. Used by tests and tools.
func NewServiceWithClient(client Client, provider, model string, rps float64, log *slog.Logger) *Service {
	return &Service{
		client:   client,
		log:      log,
		limiter:  newLimiter(rps),
		provider: provider,
		model:    model,
		enabled:  true,
	}
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// NewService creates a new embeddings service
func NewService(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) *Service {
	embCfg := cfg.Embeddings
	log = log.With(logger.Scope("embeddings"))

	svc := &Service{
		client:   NewNoopClient(),
		log:      log,
		limiter:  newLimiter(embCfg.RequestsPerSecond),
		provider: "none",
		model:    embCfg.Model,
	}

	if !embCfg.IsEnabled() {
		log.Info("embeddings service disabled - no configuration provided")
		return svc
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			gcfg := genai.Config{
				Model:     embCfg.Model,
				Dimension: embCfg.Dimension,
			}
			provider := genai.ProviderGemini
			if embCfg.UseVertexAI() {
				gcfg.Project = embCfg.GCPProjectID
				gcfg.Location = embCfg.VertexAILocation
				provider = genai.ProviderVertex
			} else {
				gcfg.APIKey = embCfg.GoogleAPIKey
			}

			log.Info("initializing embeddings client",
				slog.String("provider", provider),
				slog.String("model", embCfg.Model),
			)

			client, err := genai.NewClient(ctx, gcfg, genai.WithLogger(log))
			if err != nil {
				log.Error("failed to initialize embeddings client", logger.Error(err))
				// Keep noop client, semantic operations report the provider as unavailable
				return nil
			}
			svc.client = client
			svc.provider = provider
			svc.enabled = true
			log.Info("embeddings client initialized")
			return nil
		},
	})

	return svc
}

// IsEnabled returns true if embeddings are available
func (s *Service) IsEnabled() bool {
	return s.enabled
}

// ProviderName identifies the backend that produced the vectors
func (s *Service) ProviderName() string {
	return s.provider
}

// Model returns the embedding model version
func (s *Service) Model() string {
	return s.model
}

// EmbedQuery generates an embedding for a single query
func (s *Service) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if !s.enabled {
		return nil, ErrDisabled
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	vec, err := s.client.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("empty embedding returned by %s", s.provider)
	}
	return vec, nil
}

// EmbedDocuments generates embeddings for multiple documents
func (s *Service) EmbedDocuments(ctx context.Context, documents []string) ([][]float32, error) {
	if !s.enabled {
		return nil, ErrDisabled
	}
	if err := s.limiter.WaitN(ctx, min(len(documents), s.limiter.Burst())); err != nil {
		return nil, err
	}
	vecs, err := s.client.EmbedDocuments(ctx, documents)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(documents) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(documents), len(vecs))
	}
	return vecs, nil
}
