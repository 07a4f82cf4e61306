package health

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"

	"github.com/emergent-company/entitygraph/domain/scheduler"
	"github.com/emergent-company/entitygraph/internal/jobs"
)

var Module = fx.Module("health",
	fx.Provide(
		fx.Annotate(
			func(p *pgxpool.Pool) *pgxpool.Pool { return p },
			fx.As(new(Pinger)),
		),
		fx.Annotate(
			func(q *jobs.Queue) *jobs.Queue { return q },
			fx.As(new(QueueStats)),
		),
		fx.Annotate(
			func(w *jobs.Worker) *jobs.Worker { return w },
			fx.As(new(WorkerStatus)),
		),
		fx.Annotate(
			func(s *scheduler.Scheduler) *scheduler.Scheduler { return s },
			fx.As(new(TaskLister)),
		),
		NewHandler,
		NewMetricsHandler,
	),
	fx.Invoke(RegisterRoutes),
)
