package snapshots

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/emergent-company/entitygraph/domain/audit"
	"github.com/emergent-company/entitygraph/domain/graph"
	"github.com/emergent-company/entitygraph/pkg/apperror"
	"github.com/emergent-company/entitygraph/pkg/logger"
	"github.com/emergent-company/entitygraph/pkg/mathutil"
	"github.com/emergent-company/entitygraph/pkg/metrics"
	"github.com/emergent-company/entitygraph/pkg/tracing"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

// Enqueuer schedules background generation. Implemented by *jobs.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, db bun.IDB, tenantID, entityID uuid.UUID) (bool, error)
}

// Service manages the snapshot lifecycle. Generation itself runs in the
// Generator, off the request path.
type Service struct {
	store    Store
	queue    Enqueuer
	archiver Archiver
	audit    audit.Recorder
	log      *slog.Logger
}

// NewService creates a new snapshot service.
func NewService(store Store, queue Enqueuer, archiver Archiver, recorder audit.Recorder, log *slog.Logger) *Service {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &Service{
		store:    store,
		queue:    queue,
		archiver: archiver,
		audit:    recorder,
		log:      log.With(logger.Scope("snapshots.svc")),
	}
}

func (s *Service) instrument(ctx context.Context, op string, tenantID uuid.UUID) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := tracing.Start(ctx, "snapshots."+op,
		tracing.AttrTenantID.String(tenantID.String()),
		tracing.AttrOp.String(op),
	)
	return ctx, func(err error) {
		tracing.Fail(span, err)
		span.End()
		metrics.Observe(op, start, err)
	}
}

// Create validates the request, stores a pending snapshot and schedules its
// generation. The pending record is returned immediately.
func (s *Service) Create(ctx context.Context, tenantID uuid.UUID, actorID *uuid.UUID, req CreateSnapshotRequest) (_ *Snapshot, err error) {
	ctx, done := s.instrument(ctx, "create_snapshot", tenantID)
	defer func() { done(err) }()

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperror.NewValidation("name is required")
	}
	typ := req.SnapshotType
	if typ == "" {
		typ = TypeFull
	}
	if !typ.Valid() {
		return nil, apperror.NewValidation(fmt.Sprintf("invalid snapshot type %q", typ))
	}
	nodeTypes := []string{}
	for _, raw := range req.NodeTypes {
		t := graph.NodeType(strings.TrimSpace(raw))
		if !t.Valid() {
			return nil, apperror.NewValidation(fmt.Sprintf("invalid node type %q", raw))
		}
		nodeTypes = append(nodeTypes, string(t))
	}

	snap := &Snapshot{
		TenantID:     tenantID,
		Name:         name,
		Description:  req.Description,
		SnapshotType: typ,
		Status:       StatusPending,
		NodeTypes:    nodeTypes,
		IncludeNodes: req.IncludeNodes == nil || *req.IncludeNodes,
		IncludeEdges: req.IncludeEdges == nil || *req.IncludeEdges,
		NodeIDs:      []uuid.UUID{},
		EdgeIDs:      []uuid.UUID{},
		CreatedBy:    actorID,
	}
	if err := s.store.Insert(ctx, snap); err != nil {
		return nil, err
	}
	if err := s.schedule(ctx, snap); err != nil {
		return nil, err
	}

	s.record(ctx, tenantID, actorID, audit.ActionSnapshotCreated, snap, map[string]any{
		"name":         snap.Name,
		"snapshotType": snap.SnapshotType,
		"nodeTypes":    snap.NodeTypes,
	})
	s.log.Info("snapshot scheduled",
		slog.String("tenant_id", tenantID.String()),
		slog.String("snapshot_id", snap.ID.String()),
		slog.String("type", string(snap.SnapshotType)))
	return snap, nil
}

// Regenerate resets a complete or failed snapshot to pending and schedules
// it again. Its diff base is recomputed by the new run.
func (s *Service) Regenerate(ctx context.Context, tenantID uuid.UUID, actorID *uuid.UUID, id uuid.UUID) (_ *Snapshot, err error) {
	ctx, done := s.instrument(ctx, "regenerate_snapshot", tenantID)
	defer func() { done(err) }()

	snap, err := s.store.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !snap.Status.Terminal() {
		return nil, apperror.ErrConflict.
			WithMessage("snapshot generation is still in progress").
			WithDetails(map[string]any{"status": snap.Status})
	}

	previousStatus := snap.Status
	resetForGeneration(snap)
	if err := s.store.Update(ctx, snap, resetColumns...); err != nil {
		return nil, err
	}
	if err := s.schedule(ctx, snap); err != nil {
		return nil, err
	}

	s.record(ctx, tenantID, actorID, audit.ActionSnapshotRegenerated, snap, map[string]any{
		"previousStatus": previousStatus,
	})
	return snap, nil
}

var resetColumns = []string{
	"status", "node_count", "edge_count", "cluster_count", "metrics", "nodes", "edges",
	"node_ids", "edge_ids", "previous_snapshot_id", "diff", "archive_key", "error_message",
	"started_at", "completed_at",
}

func resetForGeneration(snap *Snapshot) {
	snap.Status = StatusPending
	snap.NodeCount, snap.EdgeCount, snap.ClusterCount = 0, 0, 0
	snap.Metrics = nil
	snap.Nodes, snap.Edges = nil, nil
	snap.NodeIDs, snap.EdgeIDs = []uuid.UUID{}, []uuid.UUID{}
	snap.PreviousSnapshotID = nil
	snap.Diff = nil
	snap.ArchiveKey = nil
	snap.ErrorMessage = nil
	snap.StartedAt, snap.CompletedAt = nil, nil
}

// schedule enqueues generation. A snapshot that cannot be scheduled is
// marked failed so it never stays pending without a job.
func (s *Service) schedule(ctx context.Context, snap *Snapshot) error {
	if _, err := s.queue.Enqueue(ctx, nil, snap.TenantID, snap.ID); err != nil {
		s.log.Error("failed to enqueue snapshot job",
			slog.String("snapshot_id", snap.ID.String()),
			logger.Error(err))
		msg := "failed to schedule generation"
		now := time.Now().UTC()
		snap.Status = StatusFailed
		snap.ErrorMessage = &msg
		snap.CompletedAt = &now
		if uerr := s.store.Update(context.WithoutCancel(ctx), snap, "status", "error_message", "completed_at"); uerr != nil {
			s.log.Error("failed to mark unscheduled snapshot", logger.Error(uerr))
		}
		return apperror.NewInternal("failed to schedule snapshot generation", err)
	}
	return nil
}

// Get returns a snapshot with its payloads.
func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (*Snapshot, error) {
	return s.store.Get(ctx, tenantID, id)
}

// List returns snapshots newest first.
func (s *Service) List(ctx context.Context, tenantID uuid.UUID, p ListParams) (*ListResponse, error) {
	if p.Status != nil && !p.Status.Valid() {
		return nil, apperror.NewValidation(fmt.Sprintf("invalid status %q", *p.Status))
	}
	if p.SnapshotType != nil && !p.SnapshotType.Valid() {
		return nil, apperror.NewValidation(fmt.Sprintf("invalid snapshot type %q", *p.SnapshotType))
	}
	if p.Offset < 0 {
		return nil, apperror.NewValidation("offset must not be negative")
	}
	p.Limit = mathutil.ClampLimit(p.Limit, defaultListLimit, maxListLimit)

	items, total, err := s.store.List(ctx, tenantID, p)
	if err != nil {
		return nil, err
	}
	return &ListResponse{Snapshots: items, Total: total, Limit: p.Limit, Offset: p.Offset}, nil
}

// Delete removes a finished snapshot and its archive object.
func (s *Service) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	snap, err := s.store.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if !snap.Status.Terminal() {
		return apperror.ErrConflict.
			WithMessage("snapshot generation is still in progress").
			WithDetails(map[string]any{"status": snap.Status})
	}
	deleted, err := s.store.Delete(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if !deleted {
		return apperror.NewNotFound("snapshot", id.String())
	}

	if snap.ArchiveKey != nil && s.archiver != nil && s.archiver.Enabled() {
		if err := s.archiver.Delete(ctx, *snap.ArchiveKey); err != nil {
			s.log.Warn("failed to delete snapshot archive",
				slog.String("key", *snap.ArchiveKey),
				logger.Error(err))
		}
	}
	return nil
}

// CreateScheduled creates a full snapshot on behalf of the scheduler.
func (s *Service) CreateScheduled(ctx context.Context, tenantID uuid.UUID, at time.Time) (*Snapshot, error) {
	desc := "created by schedule"
	return s.Create(ctx, tenantID, nil, CreateSnapshotRequest{
		Name:         "scheduled " + at.UTC().Format(time.RFC3339),
		Description:  &desc,
		SnapshotType: TypeFull,
	})
}

func (s *Service) record(ctx context.Context, tenantID uuid.UUID, actorID *uuid.UUID, action audit.Action, snap *Snapshot, details map[string]any) {
	id := snap.ID
	s.audit.Record(ctx, audit.Entry{
		TenantID:   tenantID,
		ActorID:    actorID,
		Action:     action,
		EntityType: audit.EntitySnapshot,
		EntityID:   &id,
		Details:    details,
	})
}
