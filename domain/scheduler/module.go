package scheduler

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/emergent-company/entitygraph/domain/graph"
	"github.com/emergent-company/entitygraph/domain/snapshots"
	"github.com/emergent-company/entitygraph/internal/config"
	"github.com/emergent-company/entitygraph/internal/jobs"
	"github.com/emergent-company/entitygraph/pkg/logger"
)

// Module provides scheduled task functionality
var Module = fx.Module("scheduler",
	fx.Provide(NewScheduler),
	fx.Invoke(
		RegisterTasks,
		RegisterSchedulerLifecycle,
	),
)

// TaskParams contains dependencies for creating scheduled tasks
type TaskParams struct {
	fx.In
	Scheduler *Scheduler
	Snapshots *snapshots.Service
	Graph     *graph.Service
	Queue     *jobs.Queue
	Cfg       *config.Config
	Log       *slog.Logger
}

// RegisterTasks registers all scheduled tasks. A task that cannot be
// registered is logged and skipped.
func RegisterTasks(p TaskParams) error {
	sc := p.Cfg.Scheduler
	if !sc.Enabled {
		p.Log.Info("scheduler disabled, skipping task registration")
		return nil
	}

	tenants, err := ParseTenants(sc.Tenants)
	if err != nil {
		return err
	}

	if sc.SnapshotSchedule != "" && len(tenants) > 0 {
		task := NewSnapshotTask(p.Snapshots, tenants, p.Log)
		if err := p.Scheduler.AddCronTask("scheduled_snapshots", sc.SnapshotSchedule, task.Run); err != nil {
			p.Log.Error("failed to register scheduled snapshot task", logger.Error(err))
		}
	}

	if sc.MetricsInterval > 0 && len(tenants) > 0 {
		task := NewMetricsRecomputeTask(p.Graph, tenants, p.Log)
		if err := p.Scheduler.AddIntervalTask("metrics_recompute", sc.MetricsInterval, task.Run); err != nil {
			p.Log.Error("failed to register metrics recompute task", logger.Error(err))
		}
	}

	if sc.StaleJobInterval > 0 {
		task := NewStaleJobRecoveryTask(p.Queue, p.Cfg.Snapshots.StaleThresholdMinutes, p.Log)
		if err := p.Scheduler.AddIntervalTask("stale_snapshot_jobs", sc.StaleJobInterval, task.Run); err != nil {
			p.Log.Error("failed to register stale job recovery task", logger.Error(err))
		}
	}

	p.Log.Info("registered scheduled tasks",
		slog.Any("tasks", p.Scheduler.ListTasks()),
		slog.Int("tenants", len(tenants)))
	return nil
}

// RegisterSchedulerLifecycle registers the scheduler with fx lifecycle
func RegisterSchedulerLifecycle(lc fx.Lifecycle, scheduler *Scheduler, cfg *config.Config) {
	if !cfg.Scheduler.Enabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return scheduler.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return scheduler.Stop(ctx)
		},
	})
}
