package graph

import (
	"go.uber.org/fx"
)

// Module provides graph domain dependencies.
// A SemanticSearcher must be provided by another module.
var Module = fx.Module("graph",
	fx.Provide(
		fx.Annotate(
			NewRepository,
			fx.As(fx.Self()),
			fx.As(new(Store)),
		),
	),
	fx.Provide(NewService),
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)
