package graph

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/emergent-company/entitygraph/pkg/apperror"
	"github.com/emergent-company/entitygraph/pkg/logger"
	"github.com/emergent-company/entitygraph/pkg/pgutils"
)

// Store is the persistence boundary used by the graph engines.
// Lookups of absent rows return an apperror not-found.
type Store interface {
	InsertNode(ctx context.Context, n *Node) error
	GetNode(ctx context.Context, tenantID, id uuid.UUID) (*Node, error)
	GetNodes(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*Node, error)
	UpdateNode(ctx context.Context, n *Node, columns ...string) error
	DeleteNode(ctx context.Context, tenantID, id uuid.UUID) (bool, error)
	ListNodes(ctx context.Context, tenantID uuid.UUID, f NodeFilter) ([]*Node, int, error)

	InsertEdge(ctx context.Context, e *Edge) error
	GetEdge(ctx context.Context, tenantID, id uuid.UUID) (*Edge, error)
	UpdateEdge(ctx context.Context, e *Edge, columns ...string) error
	DeleteEdge(ctx context.Context, tenantID, id uuid.UUID) (bool, error)
	ListEdges(ctx context.Context, tenantID uuid.UUID, f EdgeFilter) ([]*Edge, int, error)

	// ActiveEdgesTouching returns active edges with both endpoints active
	// and at least one endpoint in nodeIDs, ordered by creation.
	ActiveEdgesTouching(ctx context.Context, tenantID uuid.UUID, nodeIDs []uuid.UUID) ([]*Edge, error)
	// EdgesTouching returns every edge, active or not, with an endpoint in nodeIDs.
	EdgesTouching(ctx context.Context, tenantID uuid.UUID, nodeIDs []uuid.UUID) ([]*Edge, error)
	// EdgesWithin returns active edges whose endpoints are both in nodeIDs.
	EdgesWithin(ctx context.Context, tenantID uuid.UUID, nodeIDs []uuid.UUID) ([]*Edge, error)
	RepointEdge(ctx context.Context, tenantID, edgeID, sourceID, targetID uuid.UUID, actorID *uuid.UUID) error

	// ActiveGraph returns active nodes (optionally of the given types) and the
	// active edges whose endpoints are both among them.
	ActiveGraph(ctx context.Context, tenantID uuid.UUID, nodeTypes []NodeType) ([]*Node, []*Edge, error)
	SaveCentrality(ctx context.Context, tenantID uuid.UUID, scores map[uuid.UUID]float64) error
	SaveClusters(ctx context.Context, tenantID uuid.UUID, assignments map[uuid.UUID]uuid.UUID) error
	CountStats(ctx context.Context, tenantID uuid.UUID) (*GraphMetrics, error)
	TopNodes(ctx context.Context, tenantID uuid.UUID, column string, n int) ([]*Node, error)
}

// Repository is the PostgreSQL Store.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new graph repository.
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("graph.repo")),
	}
}

var _ Store = (*Repository)(nil)

// DB exposes the underlying handle for collaborators that share transactions.
func (r *Repository) DB() bun.IDB {
	return r.db
}

// =============================================================================
// Nodes
// =============================================================================

// InsertNode inserts n and refreshes server-side defaults.
func (r *Repository) InsertNode(ctx context.Context, n *Node) error {
	_, err := r.db.NewInsert().Model(n).Returning("*").Exec(ctx)
	if err != nil {
		r.log.Error("failed to insert node", logger.Error(err))
		return mapWriteError(err)
	}
	return nil
}

// GetNode returns a node of the tenant.
func (r *Repository) GetNode(ctx context.Context, tenantID, id uuid.UUID) (*Node, error) {
	n := new(Node)
	err := r.db.NewSelect().
		Model(n).
		Where("n.tenant_id = ?", tenantID).
		Where("n.id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NewNotFound("node", id.String())
		}
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return n, nil
}

// GetNodes returns the tenant's nodes among ids, in creation order.
// Missing ids are skipped.
func (r *Repository) GetNodes(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*Node, error) {
	nodes := []*Node{}
	if len(ids) == 0 {
		return nodes, nil
	}
	err := r.db.NewSelect().
		Model(&nodes).
		Where("n.tenant_id = ?", tenantID).
		Where("n.id IN (?)", bun.In(ids)).
		Order("n.created_at ASC", "n.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return nodes, nil
}

// UpdateNode writes the given columns of n.
func (r *Repository) UpdateNode(ctx context.Context, n *Node, columns ...string) error {
	res, err := r.db.NewUpdate().
		Model(n).
		Column(columns...).
		Where("n.tenant_id = ?", n.TenantID).
		WherePK().
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to update node", slog.String("id", n.ID.String()), logger.Error(err))
		return mapWriteError(err)
	}
	if affected(res) == 0 {
		return apperror.NewNotFound("node", n.ID.String())
	}
	return nil
}

// DeleteNode hard-deletes a node. Attached edges go with it by cascade.
func (r *Repository) DeleteNode(ctx context.Context, tenantID, id uuid.UUID) (bool, error) {
	res, err := r.db.NewDelete().
		Model((*Node)(nil)).
		Where("tenant_id = ?", tenantID).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return false, apperror.ErrDatabase.WithInternal(err)
	}
	return affected(res) > 0, nil
}

// ListNodes returns one page of nodes and the total match count.
func (r *Repository) ListNodes(ctx context.Context, tenantID uuid.UUID, f NodeFilter) ([]*Node, int, error) {
	nodes := []*Node{}
	q := r.db.NewSelect().
		Model(&nodes).
		Where("n.tenant_id = ?", tenantID)

	if len(f.NodeTypes) > 0 {
		q = q.Where("n.node_type IN (?)", bun.In(f.NodeTypes))
	}
	if len(f.Tags) > 0 {
		q = q.Where("n.tags && ?", pgdialect.Array(f.Tags))
	}
	if len(f.Categories) > 0 {
		q = q.Where("n.categories && ?", pgdialect.Array(f.Categories))
	}
	if f.Search != "" {
		pattern := "%" + escapeLike(f.Search) + "%"
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("n.label ILIKE ?", pattern).WhereOr("n.description ILIKE ?", pattern)
		})
	}
	if f.SourceSystem != "" {
		q = q.Where("n.source_system = ?", f.SourceSystem)
	}
	if f.IsActive != nil {
		q = q.Where("n.is_active = ?", *f.IsActive)
	}
	if f.ClusterID != nil {
		q = q.Where("n.cluster_id = ?", *f.ClusterID)
	}
	if f.CommunityID != nil {
		q = q.Where("n.community_id = ?", *f.CommunityID)
	}

	total, err := q.
		OrderExpr("n.? "+orderDir(f.Desc), bun.Ident(f.SortBy)).
		OrderExpr("n.id ASC").
		Limit(f.Limit).
		Offset(f.Offset).
		ScanAndCount(ctx)
	if err != nil {
		r.log.Error("failed to list nodes", logger.Error(err))
		return nil, 0, apperror.ErrDatabase.WithInternal(err)
	}
	return nodes, total, nil
}

// =============================================================================
// Edges
// =============================================================================

// InsertEdge inserts e and refreshes server-side defaults.
func (r *Repository) InsertEdge(ctx context.Context, e *Edge) error {
	_, err := r.db.NewInsert().Model(e).Returning("*").Exec(ctx)
	if err != nil {
		r.log.Error("failed to insert edge", logger.Error(err))
		return mapWriteError(err)
	}
	return nil
}

// GetEdge returns an edge of the tenant.
func (r *Repository) GetEdge(ctx context.Context, tenantID, id uuid.UUID) (*Edge, error) {
	e := new(Edge)
	err := r.db.NewSelect().
		Model(e).
		Where("e.tenant_id = ?", tenantID).
		Where("e.id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NewNotFound("edge", id.String())
		}
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return e, nil
}

// UpdateEdge writes the given columns of e.
func (r *Repository) UpdateEdge(ctx context.Context, e *Edge, columns ...string) error {
	res, err := r.db.NewUpdate().
		Model(e).
		Column(columns...).
		Where("e.tenant_id = ?", e.TenantID).
		WherePK().
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to update edge", slog.String("id", e.ID.String()), logger.Error(err))
		return mapWriteError(err)
	}
	if affected(res) == 0 {
		return apperror.NewNotFound("edge", e.ID.String())
	}
	return nil
}

// DeleteEdge hard-deletes an edge.
func (r *Repository) DeleteEdge(ctx context.Context, tenantID, id uuid.UUID) (bool, error) {
	res, err := r.db.NewDelete().
		Model((*Edge)(nil)).
		Where("tenant_id = ?", tenantID).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return false, apperror.ErrDatabase.WithInternal(err)
	}
	return affected(res) > 0, nil
}

// ListEdges returns one page of edges and the total match count.
func (r *Repository) ListEdges(ctx context.Context, tenantID uuid.UUID, f EdgeFilter) ([]*Edge, int, error) {
	edges := []*Edge{}
	q := r.db.NewSelect().
		Model(&edges).
		Where("e.tenant_id = ?", tenantID)

	if len(f.EdgeTypes) > 0 {
		q = q.Where("e.edge_type IN (?)", bun.In(f.EdgeTypes))
	}
	if f.SourceNodeID != nil {
		q = q.Where("e.source_node_id = ?", *f.SourceNodeID)
	}
	if f.TargetNodeID != nil {
		q = q.Where("e.target_node_id = ?", *f.TargetNodeID)
	}
	if f.NodeID != nil {
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("e.source_node_id = ?", *f.NodeID).WhereOr("e.target_node_id = ?", *f.NodeID)
		})
	}
	if f.IsBidirectional != nil {
		q = q.Where("e.is_bidirectional = ?", *f.IsBidirectional)
	}
	if f.SourceSystem != "" {
		q = q.Where("e.source_system = ?", f.SourceSystem)
	}
	if f.IsActive != nil {
		q = q.Where("e.is_active = ?", *f.IsActive)
	}

	total, err := q.
		OrderExpr("e.? "+orderDir(f.Desc), bun.Ident(f.SortBy)).
		OrderExpr("e.id ASC").
		Limit(f.Limit).
		Offset(f.Offset).
		ScanAndCount(ctx)
	if err != nil {
		r.log.Error("failed to list edges", logger.Error(err))
		return nil, 0, apperror.ErrDatabase.WithInternal(err)
	}
	return edges, total, nil
}

// ActiveEdgesTouching implements Store.
func (r *Repository) ActiveEdgesTouching(ctx context.Context, tenantID uuid.UUID, nodeIDs []uuid.UUID) ([]*Edge, error) {
	edges := []*Edge{}
	if len(nodeIDs) == 0 {
		return edges, nil
	}
	err := r.db.NewSelect().
		Model(&edges).
		Join("JOIN kb.graph_nodes AS s ON s.id = e.source_node_id AND s.is_active").
		Join("JOIN kb.graph_nodes AS t ON t.id = e.target_node_id AND t.is_active").
		Where("e.tenant_id = ?", tenantID).
		Where("e.is_active").
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("e.source_node_id IN (?)", bun.In(nodeIDs)).
				WhereOr("e.target_node_id IN (?)", bun.In(nodeIDs))
		}).
		Order("e.created_at ASC", "e.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return edges, nil
}

// EdgesTouching implements Store.
func (r *Repository) EdgesTouching(ctx context.Context, tenantID uuid.UUID, nodeIDs []uuid.UUID) ([]*Edge, error) {
	edges := []*Edge{}
	if len(nodeIDs) == 0 {
		return edges, nil
	}
	err := r.db.NewSelect().
		Model(&edges).
		Where("e.tenant_id = ?", tenantID).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("e.source_node_id IN (?)", bun.In(nodeIDs)).
				WhereOr("e.target_node_id IN (?)", bun.In(nodeIDs))
		}).
		Order("e.created_at ASC", "e.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return edges, nil
}

// EdgesWithin implements Store.
func (r *Repository) EdgesWithin(ctx context.Context, tenantID uuid.UUID, nodeIDs []uuid.UUID) ([]*Edge, error) {
	edges := []*Edge{}
	if len(nodeIDs) == 0 {
		return edges, nil
	}
	err := r.db.NewSelect().
		Model(&edges).
		Where("e.tenant_id = ?", tenantID).
		Where("e.is_active").
		Where("e.source_node_id IN (?)", bun.In(nodeIDs)).
		Where("e.target_node_id IN (?)", bun.In(nodeIDs)).
		Order("e.created_at ASC", "e.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return edges, nil
}

// RepointEdge moves both endpoints of an edge.
func (r *Repository) RepointEdge(ctx context.Context, tenantID, edgeID, sourceID, targetID uuid.UUID, actorID *uuid.UUID) error {
	res, err := r.db.NewUpdate().
		Model((*Edge)(nil)).
		Set("source_node_id = ?", sourceID).
		Set("target_node_id = ?", targetID).
		Set("updated_at = now()").
		Set("updated_by = ?", actorID).
		Where("tenant_id = ?", tenantID).
		Where("id = ?", edgeID).
		Exec(ctx)
	if err != nil {
		return mapWriteError(err)
	}
	if affected(res) == 0 {
		return apperror.NewNotFound("edge", edgeID.String())
	}
	return nil
}

// =============================================================================
// Analytics
// =============================================================================

// ActiveGraph implements Store.
func (r *Repository) ActiveGraph(ctx context.Context, tenantID uuid.UUID, nodeTypes []NodeType) ([]*Node, []*Edge, error) {
	nodes := []*Node{}
	q := r.db.NewSelect().
		Model(&nodes).
		Where("n.tenant_id = ?", tenantID).
		Where("n.is_active")
	if len(nodeTypes) > 0 {
		q = q.Where("n.node_type IN (?)", bun.In(nodeTypes))
	}
	if err := q.Order("n.created_at ASC", "n.id ASC").Scan(ctx); err != nil {
		return nil, nil, apperror.ErrDatabase.WithInternal(err)
	}

	edges := []*Edge{}
	eq := r.db.NewSelect().
		Model(&edges).
		Join("JOIN kb.graph_nodes AS s ON s.id = e.source_node_id AND s.is_active").
		Join("JOIN kb.graph_nodes AS t ON t.id = e.target_node_id AND t.is_active").
		Where("e.tenant_id = ?", tenantID).
		Where("e.is_active")
	if len(nodeTypes) > 0 {
		eq = eq.Where("s.node_type IN (?)", bun.In(nodeTypes)).
			Where("t.node_type IN (?)", bun.In(nodeTypes))
	}
	if err := eq.Order("e.created_at ASC", "e.id ASC").Scan(ctx); err != nil {
		return nil, nil, apperror.ErrDatabase.WithInternal(err)
	}

	return nodes, edges, nil
}

// SaveCentrality writes degree centrality and the pagerank approximation.
func (r *Repository) SaveCentrality(ctx context.Context, tenantID uuid.UUID, scores map[uuid.UUID]float64) error {
	if len(scores) == 0 {
		return nil
	}
	ids := make([]string, 0, len(scores))
	values := make([]float64, 0, len(scores))
	for id, score := range scores {
		ids = append(ids, id.String())
		values = append(values, score)
	}

	_, err := r.db.NewRaw(`
		UPDATE kb.graph_nodes AS n
		SET degree_centrality = d.score, pagerank_score = d.score
		FROM unnest(?::uuid[], ?::float8[]) AS d(id, score)
		WHERE n.id = d.id AND n.tenant_id = ?`,
		pgdialect.Array(ids), pgdialect.Array(values), tenantID,
	).Exec(ctx)
	if err != nil {
		r.log.Error("failed to save centrality", logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// SaveClusters writes cluster assignments.
func (r *Repository) SaveClusters(ctx context.Context, tenantID uuid.UUID, assignments map[uuid.UUID]uuid.UUID) error {
	if len(assignments) == 0 {
		return nil
	}
	ids := make([]string, 0, len(assignments))
	clusters := make([]string, 0, len(assignments))
	for id, cluster := range assignments {
		ids = append(ids, id.String())
		clusters = append(clusters, cluster.String())
	}

	_, err := r.db.NewRaw(`
		UPDATE kb.graph_nodes AS n
		SET cluster_id = d.cluster_id
		FROM unnest(?::uuid[], ?::uuid[]) AS d(id, cluster_id)
		WHERE n.id = d.id AND n.tenant_id = ?`,
		pgdialect.Array(ids), pgdialect.Array(clusters), tenantID,
	).Exec(ctx)
	if err != nil {
		r.log.Error("failed to save clusters", logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

type typeCount struct {
	Type  string `bun:"type"`
	Count int    `bun:"count"`
}

// CountStats fills the count fields of GraphMetrics.
func (r *Repository) CountStats(ctx context.Context, tenantID uuid.UUID) (*GraphMetrics, error) {
	m := &GraphMetrics{
		NodesByType: map[string]int{},
		EdgesByType: map[string]int{},
	}

	var totals struct {
		TotalNodes   int `bun:"total_nodes"`
		ActiveNodes  int `bun:"active_nodes"`
		ClusterCount int `bun:"cluster_count"`
		TotalEdges   int `bun:"total_edges"`
		ActiveEdges  int `bun:"active_edges"`
	}
	err := r.db.NewRaw(`
		SELECT
			(SELECT count(*) FROM kb.graph_nodes WHERE tenant_id = ?0) AS total_nodes,
			(SELECT count(*) FROM kb.graph_nodes WHERE tenant_id = ?0 AND is_active) AS active_nodes,
			(SELECT count(DISTINCT cluster_id) FROM kb.graph_nodes
				WHERE tenant_id = ?0 AND is_active AND cluster_id IS NOT NULL) AS cluster_count,
			(SELECT count(*) FROM kb.graph_edges WHERE tenant_id = ?0) AS total_edges,
			(SELECT count(*) FROM kb.graph_edges WHERE tenant_id = ?0 AND is_active) AS active_edges`,
		tenantID,
	).Scan(ctx, &totals)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	m.TotalNodes = totals.TotalNodes
	m.ActiveNodes = totals.ActiveNodes
	m.ClusterCount = totals.ClusterCount
	m.TotalEdges = totals.TotalEdges
	m.ActiveEdges = totals.ActiveEdges

	var nodeTypes []typeCount
	err = r.db.NewRaw(`
		SELECT node_type AS type, count(*) AS count FROM kb.graph_nodes
		WHERE tenant_id = ? AND is_active GROUP BY node_type`, tenantID,
	).Scan(ctx, &nodeTypes)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	for _, tc := range nodeTypes {
		m.NodesByType[tc.Type] = tc.Count
	}

	var edgeTypes []typeCount
	err = r.db.NewRaw(`
		SELECT edge_type AS type, count(*) AS count FROM kb.graph_edges
		WHERE tenant_id = ? AND is_active GROUP BY edge_type`, tenantID,
	).Scan(ctx, &edgeTypes)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	for _, tc := range edgeTypes {
		m.EdgesByType[tc.Type] = tc.Count
	}

	return m, nil
}

// TopNodes returns the n active nodes with the highest stored column value.
func (r *Repository) TopNodes(ctx context.Context, tenantID uuid.UUID, column string, n int) ([]*Node, error) {
	nodes := []*Node{}
	err := r.db.NewSelect().
		Model(&nodes).
		Where("n.tenant_id = ?", tenantID).
		Where("n.is_active").
		Where("n.? IS NOT NULL", bun.Ident(column)).
		OrderExpr("n.? DESC", bun.Ident(column)).
		OrderExpr("n.id ASC").
		Limit(n).
		Scan(ctx)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return nodes, nil
}

// =============================================================================
// Helpers
// =============================================================================

func affected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}

func orderDir(desc bool) string {
	if desc {
		return "DESC NULLS LAST"
	}
	return "ASC NULLS LAST"
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// mapWriteError turns constraint violations into validation errors.
func mapWriteError(err error) error {
	switch {
	case pgutils.IsForeignKeyViolation(err):
		return apperror.NewValidation("referenced node does not exist").
			WithDetails(map[string]any{"constraint": pgutils.ConstraintName(err)})
	case pgutils.IsCheckViolation(err):
		return apperror.NewValidation("value violates a constraint").
			WithDetails(map[string]any{"constraint": pgutils.ConstraintName(err)})
	case pgutils.IsUniqueViolation(err):
		return apperror.ErrConflict.WithInternal(err)
	}
	return apperror.ErrDatabase.WithInternal(err)
}
