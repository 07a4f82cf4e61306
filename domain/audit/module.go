package audit

import (
	"go.uber.org/fx"
)

// Module provides the audit log. Other domains depend on the Recorder interface.
var Module = fx.Module("audit",
	fx.Provide(NewRepository),
	fx.Provide(
		fx.Annotate(
			NewService,
			fx.As(fx.Self()),
			fx.As(new(Recorder)),
		),
	),
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)
