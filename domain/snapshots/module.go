package snapshots

import (
	"context"
	"log/slog"

	"github.com/uptrace/bun"
	"go.uber.org/fx"

	"github.com/emergent-company/entitygraph/domain/audit"
	"github.com/emergent-company/entitygraph/domain/graph"
	"github.com/emergent-company/entitygraph/internal/config"
	"github.com/emergent-company/entitygraph/internal/jobs"
	"github.com/emergent-company/entitygraph/internal/storage"
)

// Module provides snapshot management and the background generator.
var Module = fx.Module("snapshots",
	fx.Provide(
		fx.Annotate(
			NewRepository,
			fx.As(fx.Self()),
			fx.As(new(Store)),
		),
		provideQueue,
		fx.Annotate(
			func(q *jobs.Queue) *jobs.Queue { return q },
			fx.As(new(Enqueuer)),
		),
		fx.Annotate(
			func(s *storage.Service) *storage.Service { return s },
			fx.As(new(Archiver)),
		),
		fx.Annotate(
			func(s *graph.Service) *graph.Service { return s },
			fx.As(new(Analytics)),
		),
		fx.Annotate(
			func(s graph.Store) graph.Store { return s },
			fx.As(new(Exporter)),
		),
		provideGenerator,
		provideWorker,
		NewService,
		NewHandler,
	),
	fx.Invoke(RegisterRoutes),
	fx.Invoke(registerWorkerLifecycle),
)

func provideQueue(db bun.IDB, cfg *config.Config, log *slog.Logger) *jobs.Queue {
	qc := jobs.DefaultQueueConfig("kb.snapshot_jobs", "snapshot_id")
	qc.MaxAttempts = cfg.Snapshots.MaxAttempts
	qc.BatchSize = cfg.Snapshots.WorkerBatchSize
	return jobs.NewQueue(db, qc, log.With(slog.String("queue", "snapshot_jobs")))
}

func provideGenerator(store Store, analytics Analytics, exporter Exporter, archiver Archiver, recorder audit.Recorder, cfg *config.Config, log *slog.Logger) *Generator {
	return NewGenerator(store, analytics, exporter, archiver, cfg.Snapshots.ArchiveEnabled, recorder, log)
}

func provideWorker(q *jobs.Queue, gen *Generator, cfg *config.Config, log *slog.Logger) *jobs.Worker {
	wc := jobs.DefaultWorkerConfig("snapshot-generator")
	wc.PollInterval = cfg.Snapshots.WorkerInterval
	wc.BatchSize = cfg.Snapshots.WorkerBatchSize
	wc.StaleThresholdMinutes = cfg.Snapshots.StaleThresholdMinutes
	return jobs.NewWorker(wc, q, gen.Process, log)
}

// registerWorkerLifecycle starts the generator with the application.
func registerWorkerLifecycle(lc fx.Lifecycle, worker *jobs.Worker, cfg *config.Config, log *slog.Logger) {
	if !cfg.Snapshots.WorkerEnabled {
		log.Info("snapshot worker disabled")
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// fx start contexts time out; the worker must outlive them
			return worker.Start(context.Background())
		},
		OnStop: func(ctx context.Context) error {
			return worker.Stop(ctx)
		},
	})
}
