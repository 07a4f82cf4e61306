package snapshots

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/emergent-company/entitygraph/domain/audit"
	"github.com/emergent-company/entitygraph/domain/graph"
	"github.com/emergent-company/entitygraph/internal/jobs"
	"github.com/emergent-company/entitygraph/internal/storage"
	"github.com/emergent-company/entitygraph/pkg/logger"
	"github.com/emergent-company/entitygraph/pkg/metrics"
	"github.com/emergent-company/entitygraph/pkg/tracing"
)

// Analytics recomputes and reads graph metrics. Implemented by *graph.Service.
type Analytics interface {
	ComputeCentrality(ctx context.Context, tenantID uuid.UUID, actorID *uuid.UUID) (*graph.CentralityResult, error)
	ComputeClusters(ctx context.Context, tenantID uuid.UUID, actorID *uuid.UUID) (*graph.ClusterResult, error)
	CollectMetrics(ctx context.Context, tenantID uuid.UUID) (*graph.GraphMetrics, error)
}

// Exporter reads the active graph. Implemented by graph.Store.
type Exporter interface {
	ActiveGraph(ctx context.Context, tenantID uuid.UUID, nodeTypes []graph.NodeType) ([]*graph.Node, []*graph.Edge, error)
}

// Archiver stores full snapshot payloads. Implemented by *storage.Service.
type Archiver interface {
	Enabled() bool
	Put(ctx context.Context, key string, data []byte, contentType string) (*storage.PutResult, error)
	Delete(ctx context.Context, key string) error
}

// Generator materializes claimed snapshots. It is the jobs.Handler of the
// snapshot worker.
type Generator struct {
	store     Store
	analytics Analytics
	exporter  Exporter
	archiver  Archiver
	archive   bool
	audit     audit.Recorder
	log       *slog.Logger
}

// NewGenerator creates a snapshot generator. Payloads are archived only
// when archive is set and the archiver is enabled.
func NewGenerator(store Store, analytics Analytics, exporter Exporter, archiver Archiver, archive bool, recorder audit.Recorder, log *slog.Logger) *Generator {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &Generator{
		store:     store,
		analytics: analytics,
		exporter:  exporter,
		archiver:  archiver,
		archive:   archive,
		audit:     recorder,
		log:       log.With(logger.Scope("snapshots.generator")),
	}
}

// Process runs generation for one job. Generation errors are recorded on the
// snapshot and complete the job; only errors persisting the outcome, or a
// shutdown mid-run, are returned so the queue retries.
func (g *Generator) Process(ctx context.Context, job jobs.Job) error {
	ctx, span := tracing.Start(ctx, "snapshots.generate",
		tracing.AttrTenantID.String(job.TenantID.String()),
		tracing.AttrOp.String("generate_snapshot"),
	)
	defer span.End()

	snap, err := g.store.Claim(ctx, job.TenantID, job.EntityID)
	if err != nil {
		tracing.Fail(span, err)
		return err
	}
	if snap == nil {
		g.log.Debug("snapshot no longer pending, skipping",
			slog.String("snapshot_id", job.EntityID.String()))
		return nil
	}

	start := time.Now()
	if err := g.generate(ctx, snap); err != nil {
		tracing.Fail(span, err)
		if ctx.Err() != nil {
			return err
		}
		return g.fail(ctx, snap, err, start)
	}
	return g.complete(ctx, snap, start)
}

func (g *Generator) generate(ctx context.Context, snap *Snapshot) error {
	tenantID := snap.TenantID
	nodeTypes := make([]graph.NodeType, len(snap.NodeTypes))
	for i, t := range snap.NodeTypes {
		nodeTypes[i] = graph.NodeType(t)
	}

	if _, err := g.analytics.ComputeCentrality(ctx, tenantID, snap.CreatedBy); err != nil {
		return fmt.Errorf("compute centrality: %w", err)
	}
	clusters, err := g.analytics.ComputeClusters(ctx, tenantID, snap.CreatedBy)
	if err != nil {
		return fmt.Errorf("compute clusters: %w", err)
	}
	nodes, edges, err := g.exporter.ActiveGraph(ctx, tenantID, nodeTypes)
	if err != nil {
		return fmt.Errorf("export graph: %w", err)
	}
	graphMetrics, err := g.analytics.CollectMetrics(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("collect metrics: %w", err)
	}
	prev, err := g.store.PreviousComplete(ctx, tenantID, snap.ID, snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("find previous snapshot: %w", err)
	}

	snap.NodeIDs = nodeIDs(nodes)
	snap.EdgeIDs = edgeIDs(edges)
	snap.NodeCount = len(nodes)
	snap.EdgeCount = len(edges)
	snap.ClusterCount = clusters.ClusterCount
	snap.Metrics = graphMetrics
	snap.PreviousSnapshotID = nil
	snap.Diff = nil

	payloadNodes, payloadEdges := nodes, edges
	if prev != nil {
		diff := computeDiff(prev, snap)
		snap.PreviousSnapshotID = &prev.ID
		snap.Diff = diff
		if snap.SnapshotType == TypeIncremental {
			payloadNodes = filterNodes(nodes, diff.AddedNodeIDs)
			payloadEdges = filterEdges(edges, diff.AddedEdgeIDs)
		}
	}

	snap.Nodes, snap.Edges = nil, nil
	if snap.SnapshotType != TypeMetricsOnly {
		if snap.IncludeNodes {
			snap.Nodes = payloadNodes
		}
		if snap.IncludeEdges {
			snap.Edges = payloadEdges
		}
	}

	snap.ArchiveKey = nil
	if g.archive && g.archiver != nil && g.archiver.Enabled() {
		g.archiveSnapshot(ctx, snap, nodes, edges)
	}
	return nil
}

// archiveSnapshot writes the full payload to object storage. Archive
// failures are logged and leave archive_key empty.
func (g *Generator) archiveSnapshot(ctx context.Context, snap *Snapshot, nodes []*graph.Node, edges []*graph.Edge) {
	data, err := json.Marshal(archive{
		SnapshotID: snap.ID,
		TenantID:   snap.TenantID,
		Name:       snap.Name,
		Type:       snap.SnapshotType,
		Metrics:    snap.Metrics,
		Nodes:      nodes,
		Edges:      edges,
		Diff:       snap.Diff,
	})
	if err != nil {
		g.log.Warn("failed to encode snapshot archive", logger.Error(err))
		return
	}
	key := storage.SnapshotKey(snap.TenantID, snap.ID, snap.Name, snap.CreatedAt)
	if _, err := g.archiver.Put(ctx, key, data, "application/json"); err != nil {
		g.log.Warn("failed to archive snapshot",
			slog.String("snapshot_id", snap.ID.String()),
			logger.Error(err))
		return
	}
	snap.ArchiveKey = &key
}

var completeColumns = []string{
	"status", "node_count", "edge_count", "cluster_count", "metrics", "nodes", "edges",
	"node_ids", "edge_ids", "previous_snapshot_id", "diff", "archive_key", "error_message",
	"completed_at",
}

func (g *Generator) complete(ctx context.Context, snap *Snapshot, start time.Time) error {
	now := time.Now().UTC()
	snap.Status = StatusComplete
	snap.ErrorMessage = nil
	snap.CompletedAt = &now
	if err := g.store.Update(context.WithoutCancel(ctx), snap, completeColumns...); err != nil {
		return err
	}

	metrics.SnapshotsTotal.WithLabelValues(string(StatusComplete)).Inc()
	details := map[string]any{
		"snapshotType": snap.SnapshotType,
		"nodeCount":    snap.NodeCount,
		"edgeCount":    snap.EdgeCount,
		"clusterCount": snap.ClusterCount,
	}
	if snap.Diff != nil {
		details["nodesAdded"] = snap.Diff.NodesAdded
		details["nodesRemoved"] = snap.Diff.NodesRemoved
		details["edgesAdded"] = snap.Diff.EdgesAdded
		details["edgesRemoved"] = snap.Diff.EdgesRemoved
	}
	g.record(ctx, snap, audit.ActionSnapshotCompleted, details, start)

	g.log.Info("snapshot complete",
		slog.String("snapshot_id", snap.ID.String()),
		slog.Int("nodes", snap.NodeCount),
		slog.Int("edges", snap.EdgeCount),
		slog.Duration("took", time.Since(start)))
	return nil
}

func (g *Generator) fail(ctx context.Context, snap *Snapshot, cause error, start time.Time) error {
	now := time.Now().UTC()
	msg := cause.Error()
	if len(msg) > 1000 {
		msg = msg[:1000]
	}
	snap.Status = StatusFailed
	snap.ErrorMessage = &msg
	snap.CompletedAt = &now
	if err := g.store.Update(context.WithoutCancel(ctx), snap, "status", "error_message", "completed_at"); err != nil {
		return err
	}

	metrics.SnapshotsTotal.WithLabelValues(string(StatusFailed)).Inc()
	g.record(ctx, snap, audit.ActionSnapshotFailed, map[string]any{"error": msg}, start)
	g.log.Warn("snapshot failed",
		slog.String("snapshot_id", snap.ID.String()),
		logger.Error(cause))
	return nil
}

func (g *Generator) record(ctx context.Context, snap *Snapshot, action audit.Action, details map[string]any, start time.Time) {
	id := snap.ID
	count := snap.NodeCount
	ms := time.Since(start).Milliseconds()
	g.audit.Record(ctx, audit.Entry{
		TenantID:    snap.TenantID,
		ActorID:     snap.CreatedBy,
		Action:      action,
		EntityType:  audit.EntitySnapshot,
		EntityID:    &id,
		Details:     details,
		ResultCount: &count,
		DurationMs:  &ms,
	})
}

// computeDiff compares the id sets of cur against prev.
func computeDiff(prev, cur *Snapshot) *Diff {
	addedNodes, removedNodes := diffIDs(prev.NodeIDs, cur.NodeIDs)
	addedEdges, removedEdges := diffIDs(prev.EdgeIDs, cur.EdgeIDs)
	return &Diff{
		NodesAdded:     len(addedNodes),
		NodesRemoved:   len(removedNodes),
		EdgesAdded:     len(addedEdges),
		EdgesRemoved:   len(removedEdges),
		AddedNodeIDs:   addedNodes,
		RemovedNodeIDs: removedNodes,
		AddedEdgeIDs:   addedEdges,
		RemovedEdgeIDs: removedEdges,
	}
}

// diffIDs returns ids in cur but not prev (in cur order) and ids in prev
// but not cur (in prev order).
func diffIDs(prev, cur []uuid.UUID) (added, removed []uuid.UUID) {
	before := make(map[uuid.UUID]bool, len(prev))
	for _, id := range prev {
		before[id] = true
	}
	now := make(map[uuid.UUID]bool, len(cur))
	added = []uuid.UUID{}
	for _, id := range cur {
		now[id] = true
		if !before[id] {
			added = append(added, id)
		}
	}
	removed = []uuid.UUID{}
	for _, id := range prev {
		if !now[id] {
			removed = append(removed, id)
		}
	}
	return added, removed
}

func nodeIDs(nodes []*graph.Node) []uuid.UUID {
	ids := make([]uuid.UUID, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

func edgeIDs(edges []*graph.Edge) []uuid.UUID {
	ids := make([]uuid.UUID, len(edges))
	for i, e := range edges {
		ids[i] = e.ID
	}
	return ids
}

func filterNodes(nodes []*graph.Node, keep []uuid.UUID) []*graph.Node {
	set := idSet(keep)
	out := []*graph.Node{}
	for _, n := range nodes {
		if set[n.ID] {
			out = append(out, n)
		}
	}
	return out
}

func filterEdges(edges []*graph.Edge, keep []uuid.UUID) []*graph.Edge {
	set := idSet(keep)
	out := []*graph.Edge{}
	for _, e := range edges {
		if set[e.ID] {
			out = append(out, e)
		}
	}
	return out
}

func idSet(ids []uuid.UUID) map[uuid.UUID]bool {
	set := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
