package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/emergent-company/entitygraph/domain/graph"
	"github.com/emergent-company/entitygraph/domain/snapshots"
	"github.com/emergent-company/entitygraph/pkg/logger"
)

// SnapshotCreator schedules snapshots. Implemented by *snapshots.Service.
type SnapshotCreator interface {
	CreateScheduled(ctx context.Context, tenantID uuid.UUID, at time.Time) (*snapshots.Snapshot, error)
}

// MetricsComputer recomputes graph analytics. Implemented by *graph.Service.
type MetricsComputer interface {
	ComputeCentrality(ctx context.Context, tenantID uuid.UUID, actorID *uuid.UUID) (*graph.CentralityResult, error)
	ComputeClusters(ctx context.Context, tenantID uuid.UUID, actorID *uuid.UUID) (*graph.ClusterResult, error)
}

// StaleRecoverer returns stuck jobs to the queue. Implemented by *jobs.Queue.
type StaleRecoverer interface {
	RecoverStaleJobs(ctx context.Context, staleThresholdMinutes int) (int, error)
}

// ParseTenants parses the configured tenant ids, skipping blanks.
func ParseTenants(raw []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		if s == "" {
			continue
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid tenant id %q: %w", s, err)
		}
		out = append(out, id)
	}
	return out, nil
}

// SnapshotTask creates a full snapshot for every configured tenant.
type SnapshotTask struct {
	creator SnapshotCreator
	tenants []uuid.UUID
	now     func() time.Time
	log     *slog.Logger
}

// NewSnapshotTask creates a new scheduled snapshot task
func NewSnapshotTask(creator SnapshotCreator, tenants []uuid.UUID, log *slog.Logger) *SnapshotTask {
	return &SnapshotTask{
		creator: creator,
		tenants: tenants,
		now:     time.Now,
		log:     log.With(logger.Scope("scheduler.snapshots")),
	}
}

// Run schedules one snapshot per tenant. A failing tenant does not stop the others.
func (t *SnapshotTask) Run(ctx context.Context) error {
	at := t.now()
	var errs []error
	for _, tenantID := range t.tenants {
		snap, err := t.creator.CreateScheduled(ctx, tenantID, at)
		if err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", tenantID, err))
			continue
		}
		t.log.Info("scheduled snapshot created",
			slog.String("tenant_id", tenantID.String()),
			slog.String("snapshot_id", snap.ID.String()))
	}
	return errors.Join(errs...)
}

// MetricsRecomputeTask refreshes centrality scores and clusters for every
// configured tenant.
type MetricsRecomputeTask struct {
	computer MetricsComputer
	tenants  []uuid.UUID
	log      *slog.Logger
}

// NewMetricsRecomputeTask creates a new metrics recompute task
func NewMetricsRecomputeTask(computer MetricsComputer, tenants []uuid.UUID, log *slog.Logger) *MetricsRecomputeTask {
	return &MetricsRecomputeTask{
		computer: computer,
		tenants:  tenants,
		log:      log.With(logger.Scope("scheduler.metrics")),
	}
}

// Run recomputes analytics per tenant. A failing tenant does not stop the others.
func (t *MetricsRecomputeTask) Run(ctx context.Context) error {
	var errs []error
	for _, tenantID := range t.tenants {
		start := time.Now()
		centrality, err := t.computer.ComputeCentrality(ctx, tenantID, nil)
		if err != nil {
			errs = append(errs, fmt.Errorf("tenant %s centrality: %w", tenantID, err))
			continue
		}
		clusters, err := t.computer.ComputeClusters(ctx, tenantID, nil)
		if err != nil {
			errs = append(errs, fmt.Errorf("tenant %s clusters: %w", tenantID, err))
			continue
		}
		t.log.Debug("graph metrics recomputed",
			slog.String("tenant_id", tenantID.String()),
			slog.Int("nodes_scored", centrality.NodesScored),
			slog.Int("clusters", clusters.ClusterCount),
			slog.Duration("duration", time.Since(start)))
	}
	return errors.Join(errs...)
}

// StaleJobRecoveryTask requeues snapshot jobs stuck in processing, e.g.
// after a crash mid-generation.
type StaleJobRecoveryTask struct {
	queue        StaleRecoverer
	staleMinutes int
	log          *slog.Logger
}

// NewStaleJobRecoveryTask creates a new stale job recovery task
func NewStaleJobRecoveryTask(queue StaleRecoverer, staleMinutes int, log *slog.Logger) *StaleJobRecoveryTask {
	if staleMinutes <= 0 {
		staleMinutes = 15
	}
	return &StaleJobRecoveryTask{
		queue:        queue,
		staleMinutes: staleMinutes,
		log:          log.With(logger.Scope("scheduler.stale_jobs")),
	}
}

// Run executes the recovery
func (t *StaleJobRecoveryTask) Run(ctx context.Context) error {
	n, err := t.queue.RecoverStaleJobs(ctx, t.staleMinutes)
	if err != nil {
		return err
	}
	if n > 0 {
		t.log.Info("recovered stale snapshot jobs", slog.Int("count", n))
	}
	return nil
}
