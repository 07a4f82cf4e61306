package semantic

import (
	"go.uber.org/fx"

	"github.com/emergent-company/entitygraph/domain/graph"
	"github.com/emergent-company/entitygraph/pkg/embeddings"
)

// Module provides embedding generation and semantic search. The service is
// also exposed as the graph.SemanticSearcher used by the query façade.
var Module = fx.Module("semantic",
	fx.Provide(
		fx.Annotate(
			NewRepository,
			fx.As(fx.Self()),
			fx.As(new(RecordStore)),
			fx.As(new(VectorSearcher)),
		),
		fx.Annotate(
			func(s *embeddings.Service) *embeddings.Service { return s },
			fx.As(new(Embedder)),
		),
		fx.Annotate(
			func(s graph.Store) graph.Store { return s },
			fx.As(new(GraphReader)),
		),
		fx.Annotate(
			NewService,
			fx.As(fx.Self()),
			fx.As(new(graph.SemanticSearcher)),
		),
	),
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)
