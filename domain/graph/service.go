package graph

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/emergent-company/entitygraph/domain/audit"
	"github.com/emergent-company/entitygraph/internal/config"
	"github.com/emergent-company/entitygraph/pkg/apperror"
	"github.com/emergent-company/entitygraph/pkg/llm"
	"github.com/emergent-company/entitygraph/pkg/logger"
	"github.com/emergent-company/entitygraph/pkg/mathutil"
	"github.com/emergent-company/entitygraph/pkg/metrics"
	"github.com/emergent-company/entitygraph/pkg/tracing"
)

// SemanticSearcher ranks a tenant's nodes by similarity to a text query.
type SemanticSearcher interface {
	SearchNodes(ctx context.Context, tenantID uuid.UUID, query string, nodeTypes []NodeType, threshold float64, limit int) ([]SemanticMatch, error)
}

// Service implements the entity store, query, traversal, merge and
// analytics operations over a Store.
type Service struct {
	store    Store
	searcher SemanticSearcher
	llm      llm.Provider
	audit    audit.Recorder
	limits   config.GraphConfig
	log      *slog.Logger
}

// NewService creates a new graph service. searcher may be nil, in which
// case semantic queries fail as an unavailable collaborator.
func NewService(store Store, searcher SemanticSearcher, provider llm.Provider, recorder audit.Recorder, cfg *config.Config, log *slog.Logger) *Service {
	limits := cfg.Graph
	if limits.DefaultListLimit <= 0 {
		limits.DefaultListLimit = 50
	}
	if limits.MaxListLimit <= 0 {
		limits.MaxListLimit = 500
	}
	if limits.MaxDepth <= 0 {
		limits.MaxDepth = 10
	}
	if limits.MaxVisited <= 0 {
		limits.MaxVisited = 1000
	}
	if provider == nil {
		provider = llm.NoopProvider{}
	}
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &Service{
		store:    store,
		searcher: searcher,
		llm:      provider,
		audit:    recorder,
		limits:   limits,
		log:      log.With(logger.Scope("graph.svc")),
	}
}

// instrument opens a span and returns a func that closes it and records the outcome.
func (s *Service) instrument(ctx context.Context, op string, tenantID uuid.UUID) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := tracing.Start(ctx, "graph."+op,
		tracing.AttrTenantID.String(tenantID.String()),
		tracing.AttrOp.String(op),
	)
	return ctx, func(err error) {
		tracing.Fail(span, err)
		span.End()
		metrics.Observe(op, start, err)
	}
}

func (s *Service) record(ctx context.Context, tenantID uuid.UUID, actorID *uuid.UUID, action audit.Action, entityType string, entityID *uuid.UUID, details map[string]any) {
	s.audit.Record(ctx, audit.Entry{
		TenantID:   tenantID,
		ActorID:    actorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
	})
}

func (s *Service) recordTimed(ctx context.Context, tenantID uuid.UUID, actorID *uuid.UUID, action audit.Action, entityID *uuid.UUID, details map[string]any, count int, start time.Time) {
	ms := time.Since(start).Milliseconds()
	s.audit.Record(ctx, audit.Entry{
		TenantID:    tenantID,
		ActorID:     actorID,
		Action:      action,
		EntityType:  audit.EntityGraph,
		EntityID:    entityID,
		Details:     details,
		ResultCount: &count,
		DurationMs:  &ms,
	})
}

// =============================================================================
// Nodes
// =============================================================================

// CreateNode validates and inserts a node.
func (s *Service) CreateNode(ctx context.Context, tenantID uuid.UUID, actorID *uuid.UUID, req CreateNodeRequest) (_ *Node, err error) {
	ctx, done := s.instrument(ctx, "create_node", tenantID)
	defer func() { done(err) }()

	label := strings.TrimSpace(req.Label)
	if label == "" {
		return nil, apperror.NewValidation("label is required")
	}
	if !req.NodeType.Valid() {
		return nil, apperror.NewValidation(fmt.Sprintf("invalid node type %q", req.NodeType))
	}
	if err := validateWindow(req.ValidFrom, req.ValidTo); err != nil {
		return nil, err
	}
	if err := validateConfidence(req.ConfidenceScore); err != nil {
		return nil, err
	}

	node := &Node{
		TenantID:        tenantID,
		NodeType:        req.NodeType,
		ExternalID:      req.ExternalID,
		SourceSystem:    req.SourceSystem,
		SourceTable:     req.SourceTable,
		Label:           label,
		Description:     req.Description,
		Properties:      orEmptyProps(req.Properties),
		Tags:            normalizeSet(req.Tags),
		Categories:      normalizeSet(req.Categories),
		ValidFrom:       req.ValidFrom,
		ValidTo:         req.ValidTo,
		IsActive:        req.IsActive == nil || *req.IsActive,
		ConfidenceScore: req.ConfidenceScore,
		CreatedBy:       actorID,
		UpdatedBy:       actorID,
	}
	if err := s.store.InsertNode(ctx, node); err != nil {
		return nil, err
	}

	s.record(ctx, tenantID, actorID, audit.ActionNodeCreated, audit.EntityNode, &node.ID, map[string]any{
		"nodeType": node.NodeType,
		"label":    node.Label,
	})
	return node, nil
}

// GetNode returns a node of the tenant or not-found.
func (s *Service) GetNode(ctx context.Context, tenantID, id uuid.UUID) (*Node, error) {
	return s.store.GetNode(ctx, tenantID, id)
}

// UpdateNode applies the fields present in req.
func (s *Service) UpdateNode(ctx context.Context, tenantID uuid.UUID, actorID *uuid.UUID, id uuid.UUID, req UpdateNodeRequest) (_ *Node, err error) {
	ctx, done := s.instrument(ctx, "update_node", tenantID)
	defer func() { done(err) }()

	node, err := s.store.GetNode(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	var columns []string
	if req.NodeType.Set {
		if req.NodeType.Null || !req.NodeType.Value.Valid() {
			return nil, apperror.NewValidation(fmt.Sprintf("invalid node type %q", req.NodeType.Value))
		}
		node.NodeType = req.NodeType.Value
		columns = append(columns, "node_type")
	}
	if req.Label.Set {
		label := strings.TrimSpace(req.Label.Value)
		if req.Label.Null || label == "" {
			return nil, apperror.NewValidation("label cannot be empty")
		}
		node.Label = label
		columns = append(columns, "label")
	}
	if req.Description.Set {
		node.Description = ptrOrNil(req.Description)
		columns = append(columns, "description")
	}
	if req.ExternalID.Set {
		node.ExternalID = ptrOrNil(req.ExternalID)
		columns = append(columns, "external_id")
	}
	if req.SourceSystem.Set {
		node.SourceSystem = ptrOrNil(req.SourceSystem)
		columns = append(columns, "source_system")
	}
	if req.SourceTable.Set {
		node.SourceTable = ptrOrNil(req.SourceTable)
		columns = append(columns, "source_table")
	}
	if req.Properties.Set {
		node.Properties = orEmptyProps(req.Properties.Value)
		columns = append(columns, "properties")
	}
	if req.Tags.Set {
		node.Tags = normalizeSet(req.Tags.Value)
		columns = append(columns, "tags")
	}
	if req.Categories.Set {
		node.Categories = normalizeSet(req.Categories.Value)
		columns = append(columns, "categories")
	}
	if req.ValidFrom.Set {
		node.ValidFrom = ptrOrNil(req.ValidFrom)
		columns = append(columns, "valid_from")
	}
	if req.ValidTo.Set {
		node.ValidTo = ptrOrNil(req.ValidTo)
		columns = append(columns, "valid_to")
	}
	if req.ConfidenceScore.Set {
		node.ConfidenceScore = ptrOrNil(req.ConfidenceScore)
		columns = append(columns, "confidence_score")
	}
	if req.IsActive.Set {
		if req.IsActive.Null {
			return nil, apperror.NewValidation("isActive cannot be null")
		}
		node.IsActive = req.IsActive.Value
		columns = append(columns, "is_active")
	}

	if len(columns) == 0 {
		return node, nil
	}
	if err := validateWindow(node.ValidFrom, node.ValidTo); err != nil {
		return nil, err
	}
	if err := validateConfidence(node.ConfidenceScore); err != nil {
		return nil, err
	}

	node.UpdatedAt = time.Now().UTC()
	node.UpdatedBy = actorID
	if err := s.store.UpdateNode(ctx, node, append(columns, "updated_at", "updated_by")...); err != nil {
		return nil, err
	}

	s.record(ctx, tenantID, actorID, audit.ActionNodeUpdated, audit.EntityNode, &node.ID, map[string]any{
		"fields": columns,
	})
	return node, nil
}

// DeleteNode hard-deletes a node and, by cascade, its edges.
func (s *Service) DeleteNode(ctx context.Context, tenantID uuid.UUID, actorID *uuid.UUID, id uuid.UUID) (err error) {
	ctx, done := s.instrument(ctx, "delete_node", tenantID)
	defer func() { done(err) }()

	deleted, err := s.store.DeleteNode(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if !deleted {
		return apperror.NewNotFound("node", id.String())
	}

	s.record(ctx, tenantID, actorID, audit.ActionNodeDeleted, audit.EntityNode, &id, nil)
	return nil
}

// ListNodes returns a filtered page of nodes. Inactive nodes are excluded
// unless IsActive is set explicitly.
func (s *Service) ListNodes(ctx context.Context, tenantID uuid.UUID, actorID *uuid.UUID, params NodeListParams) (*NodeListResponse, error) {
	start := time.Now()
	f, err := s.nodeFilter(params)
	if err != nil {
		return nil, err
	}
	nodes, total, err := s.store.ListNodes(ctx, tenantID, f)
	if err != nil {
		return nil, err
	}
	s.recordTimed(ctx, tenantID, actorID, audit.ActionQueryExecuted, nil, map[string]any{
		"mode":   "list_nodes",
		"total":  total,
		"offset": f.Offset,
	}, len(nodes), start)
	return &NodeListResponse{Data: nodes, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

// =============================================================================
// Edges
// =============================================================================

// CreateEdge validates both endpoints and inserts an edge.
// Endpoint existence is read before insert; a concurrent endpoint delete can
// still win, in which case the foreign key rejects the insert.
func (s *Service) CreateEdge(ctx context.Context, tenantID uuid.UUID, actorID *uuid.UUID, req CreateEdgeRequest) (_ *Edge, err error) {
	ctx, done := s.instrument(ctx, "create_edge", tenantID)
	defer func() { done(err) }()

	if !req.EdgeType.Valid() {
		return nil, apperror.NewValidation(fmt.Sprintf("invalid edge type %q", req.EdgeType))
	}
	weight := 1.0
	if req.Weight != nil {
		weight = *req.Weight
	}
	if weight < 0 {
		return nil, apperror.NewValidation("weight must be >= 0")
	}
	if err := validateWindow(req.ValidFrom, req.ValidTo); err != nil {
		return nil, err
	}
	if err := validateConfidence(req.ConfidenceScore); err != nil {
		return nil, err
	}

	endpoints, err := s.store.GetNodes(ctx, tenantID, []uuid.UUID{req.SourceNodeID, req.TargetNodeID})
	if err != nil {
		return nil, err
	}
	if !containsNode(endpoints, req.SourceNodeID) {
		return nil, apperror.NewValidation("source node not found").
			WithDetails(map[string]any{"reason": "source_node_not_found", "nodeId": req.SourceNodeID})
	}
	if !containsNode(endpoints, req.TargetNodeID) {
		return nil, apperror.NewValidation("target node not found").
			WithDetails(map[string]any{"reason": "target_node_not_found", "nodeId": req.TargetNodeID})
	}

	edge := &Edge{
		TenantID:        tenantID,
		SourceNodeID:    req.SourceNodeID,
		TargetNodeID:    req.TargetNodeID,
		EdgeType:        req.EdgeType,
		Label:           req.Label,
		Description:     req.Description,
		Properties:      orEmptyProps(req.Properties),
		Weight:          weight,
		IsBidirectional: req.IsBidirectional,
		ValidFrom:       req.ValidFrom,
		ValidTo:         req.ValidTo,
		SourceSystem:    req.SourceSystem,
		InferenceMethod: req.InferenceMethod,
		ConfidenceScore: req.ConfidenceScore,
		IsActive:        req.IsActive == nil || *req.IsActive,
		CreatedBy:       actorID,
		UpdatedBy:       actorID,
	}
	if err := s.store.InsertEdge(ctx, edge); err != nil {
		return nil, err
	}

	s.record(ctx, tenantID, actorID, audit.ActionEdgeCreated, audit.EntityEdge, &edge.ID, map[string]any{
		"edgeType":     edge.EdgeType,
		"sourceNodeId": edge.SourceNodeID,
		"targetNodeId": edge.TargetNodeID,
	})
	return edge, nil
}

// GetEdge returns an edge of the tenant or not-found.
func (s *Service) GetEdge(ctx context.Context, tenantID, id uuid.UUID) (*Edge, error) {
	return s.store.GetEdge(ctx, tenantID, id)
}

// UpdateEdge applies the fields present in req.
func (s *Service) UpdateEdge(ctx context.Context, tenantID uuid.UUID, actorID *uuid.UUID, id uuid.UUID, req UpdateEdgeRequest) (_ *Edge, err error) {
	ctx, done := s.instrument(ctx, "update_edge", tenantID)
	defer func() { done(err) }()

	edge, err := s.store.GetEdge(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	var columns []string
	if req.EdgeType.Set {
		if req.EdgeType.Null || !req.EdgeType.Value.Valid() {
			return nil, apperror.NewValidation(fmt.Sprintf("invalid edge type %q", req.EdgeType.Value))
		}
		edge.EdgeType = req.EdgeType.Value
		columns = append(columns, "edge_type")
	}
	if req.Label.Set {
		edge.Label = ptrOrNil(req.Label)
		columns = append(columns, "label")
	}
	if req.Description.Set {
		edge.Description = ptrOrNil(req.Description)
		columns = append(columns, "description")
	}
	if req.Properties.Set {
		edge.Properties = orEmptyProps(req.Properties.Value)
		columns = append(columns, "properties")
	}
	if req.Weight.Set {
		if req.Weight.Null || req.Weight.Value < 0 {
			return nil, apperror.NewValidation("weight must be >= 0")
		}
		edge.Weight = req.Weight.Value
		columns = append(columns, "weight")
	}
	if req.IsBidirectional.Set {
		edge.IsBidirectional = !req.IsBidirectional.Null && req.IsBidirectional.Value
		columns = append(columns, "is_bidirectional")
	}
	if req.ValidFrom.Set {
		edge.ValidFrom = ptrOrNil(req.ValidFrom)
		columns = append(columns, "valid_from")
	}
	if req.ValidTo.Set {
		edge.ValidTo = ptrOrNil(req.ValidTo)
		columns = append(columns, "valid_to")
	}
	if req.SourceSystem.Set {
		edge.SourceSystem = ptrOrNil(req.SourceSystem)
		columns = append(columns, "source_system")
	}
	if req.InferenceMethod.Set {
		edge.InferenceMethod = ptrOrNil(req.InferenceMethod)
		columns = append(columns, "inference_method")
	}
	if req.ConfidenceScore.Set {
		edge.ConfidenceScore = ptrOrNil(req.ConfidenceScore)
		columns = append(columns, "confidence_score")
	}
	if req.IsActive.Set {
		if req.IsActive.Null {
			return nil, apperror.NewValidation("isActive cannot be null")
		}
		edge.IsActive = req.IsActive.Value
		columns = append(columns, "is_active")
	}

	if len(columns) == 0 {
		return edge, nil
	}
	if err := validateWindow(edge.ValidFrom, edge.ValidTo); err != nil {
		return nil, err
	}
	if err := validateConfidence(edge.ConfidenceScore); err != nil {
		return nil, err
	}

	edge.UpdatedAt = time.Now().UTC()
	edge.UpdatedBy = actorID
	if err := s.store.UpdateEdge(ctx, edge, append(columns, "updated_at", "updated_by")...); err != nil {
		return nil, err
	}

	s.record(ctx, tenantID, actorID, audit.ActionEdgeUpdated, audit.EntityEdge, &edge.ID, map[string]any{
		"fields": columns,
	})
	return edge, nil
}

// DeleteEdge hard-deletes an edge.
func (s *Service) DeleteEdge(ctx context.Context, tenantID uuid.UUID, actorID *uuid.UUID, id uuid.UUID) (err error) {
	ctx, done := s.instrument(ctx, "delete_edge", tenantID)
	defer func() { done(err) }()

	deleted, err := s.store.DeleteEdge(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if !deleted {
		return apperror.NewNotFound("edge", id.String())
	}

	s.record(ctx, tenantID, actorID, audit.ActionEdgeDeleted, audit.EntityEdge, &id, nil)
	return nil
}

// ListEdges returns a filtered page of edges.
func (s *Service) ListEdges(ctx context.Context, tenantID uuid.UUID, actorID *uuid.UUID, params EdgeListParams) (*EdgeListResponse, error) {
	start := time.Now()
	f, err := s.edgeFilter(params)
	if err != nil {
		return nil, err
	}
	edges, total, err := s.store.ListEdges(ctx, tenantID, f)
	if err != nil {
		return nil, err
	}
	s.recordTimed(ctx, tenantID, actorID, audit.ActionQueryExecuted, nil, map[string]any{
		"mode":   "list_edges",
		"total":  total,
		"offset": f.Offset,
	}, len(edges), start)
	return &EdgeListResponse{Data: edges, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

// GetNeighbors returns the one-hop neighborhood of a node over active edges.
func (s *Service) GetNeighbors(ctx context.Context, tenantID uuid.UUID, actorID *uuid.UUID, nodeID uuid.UUID, direction Direction, edgeTypes []string) (*NeighborsResponse, error) {
	start := time.Now()
	if direction == "" {
		direction = DirectionBoth
	}
	if !direction.Valid() {
		return nil, apperror.NewValidation(fmt.Sprintf("invalid direction %q", direction))
	}
	types, err := parseEdgeTypes(edgeTypes)
	if err != nil {
		return nil, err
	}

	node, err := s.store.GetNode(ctx, tenantID, nodeID)
	if err != nil {
		return nil, err
	}

	touching, err := s.store.ActiveEdgesTouching(ctx, tenantID, []uuid.UUID{nodeID})
	if err != nil {
		return nil, err
	}

	edges := []*Edge{}
	seen := map[uuid.UUID]bool{}
	var ids []uuid.UUID
	for _, e := range touching {
		if len(types) > 0 && !slices.Contains(types, e.EdgeType) {
			continue
		}
		next, ok := direction.next(e, nodeID)
		if !ok {
			continue
		}
		edges = append(edges, e)
		if next != nodeID && !seen[next] {
			seen[next] = true
			ids = append(ids, next)
		}
	}

	neighbors, err := s.store.GetNodes(ctx, tenantID, ids)
	if err != nil {
		return nil, err
	}
	s.recordTimed(ctx, tenantID, actorID, audit.ActionQueryExecuted, &nodeID, map[string]any{
		"mode":      "neighbors",
		"direction": direction,
	}, len(neighbors), start)
	return &NeighborsResponse{Node: node, Neighbors: neighbors, Edges: edges}, nil
}

// =============================================================================
// Validation helpers
// =============================================================================

var nodeSortColumns = []string{
	"created_at", "updated_at", "label", "node_type",
	"degree_centrality", "pagerank_score", "confidence_score",
}

var edgeSortColumns = []string{
	"created_at", "updated_at", "edge_type", "weight", "confidence_score",
}

func (s *Service) nodeFilter(p NodeListParams) (NodeFilter, error) {
	types, err := parseNodeTypes(p.NodeTypes)
	if err != nil {
		return NodeFilter{}, err
	}
	sortBy, desc, err := parseSort(p.SortBy, p.SortOrder, nodeSortColumns)
	if err != nil {
		return NodeFilter{}, err
	}
	if p.Offset < 0 {
		return NodeFilter{}, apperror.NewValidation("offset must be >= 0")
	}
	active := true
	if p.IsActive != nil {
		active = *p.IsActive
	}
	return NodeFilter{
		NodeTypes:    types,
		Tags:         p.Tags,
		Categories:   p.Categories,
		Search:       strings.TrimSpace(p.Search),
		SourceSystem: p.SourceSystem,
		IsActive:     &active,
		ClusterID:    p.ClusterID,
		CommunityID:  p.CommunityID,
		SortBy:       sortBy,
		Desc:         desc,
		Limit:        mathutil.ClampLimit(p.Limit, s.limits.DefaultListLimit, s.limits.MaxListLimit),
		Offset:       p.Offset,
	}, nil
}

func (s *Service) edgeFilter(p EdgeListParams) (EdgeFilter, error) {
	types, err := parseEdgeTypes(p.EdgeTypes)
	if err != nil {
		return EdgeFilter{}, err
	}
	sortBy, desc, err := parseSort(p.SortBy, p.SortOrder, edgeSortColumns)
	if err != nil {
		return EdgeFilter{}, err
	}
	if p.Offset < 0 {
		return EdgeFilter{}, apperror.NewValidation("offset must be >= 0")
	}
	active := true
	if p.IsActive != nil {
		active = *p.IsActive
	}
	return EdgeFilter{
		EdgeTypes:       types,
		SourceNodeID:    p.SourceNodeID,
		TargetNodeID:    p.TargetNodeID,
		NodeID:          p.NodeID,
		IsBidirectional: p.IsBidirectional,
		SourceSystem:    p.SourceSystem,
		IsActive:        &active,
		SortBy:          sortBy,
		Desc:            desc,
		Limit:           mathutil.ClampLimit(p.Limit, s.limits.DefaultListLimit, s.limits.MaxListLimit),
		Offset:          p.Offset,
	}, nil
}

func parseSort(sortBy, order string, allowed []string) (string, bool, error) {
	if sortBy == "" {
		sortBy = "created_at"
	}
	if !slices.Contains(allowed, sortBy) {
		return "", false, apperror.NewValidation(fmt.Sprintf("cannot sort by %q", sortBy)).
			WithDetails(map[string]any{"allowed": allowed})
	}
	switch strings.ToLower(order) {
	case "", "desc":
		return sortBy, true, nil
	case "asc":
		return sortBy, false, nil
	}
	return "", false, apperror.NewValidation(fmt.Sprintf("invalid sort order %q", order))
}

// parseNodeTypes validates filter values against the node type enum.
func parseNodeTypes(raw []string) ([]NodeType, error) {
	types := make([]NodeType, 0, len(raw))
	for _, r := range raw {
		t := NodeType(strings.TrimSpace(r))
		if !t.Valid() {
			return nil, apperror.NewValidation(fmt.Sprintf("unknown node type %q", r))
		}
		types = append(types, t)
	}
	return types, nil
}

// parseEdgeTypes validates filter values against the edge type enum.
func parseEdgeTypes(raw []string) ([]EdgeType, error) {
	types := make([]EdgeType, 0, len(raw))
	for _, r := range raw {
		t := EdgeType(strings.TrimSpace(r))
		if !t.Valid() {
			return nil, apperror.NewValidation(fmt.Sprintf("unknown edge type %q", r))
		}
		types = append(types, t)
	}
	return types, nil
}

func validateWindow(from, to *time.Time) error {
	if from != nil && to != nil && to.Before(*from) {
		return apperror.NewValidation("validTo must not be before validFrom")
	}
	return nil
}

func validateConfidence(score *float64) error {
	if score != nil && (*score < 0 || *score > 1) {
		return apperror.NewValidation("confidenceScore must be between 0 and 1")
	}
	return nil
}

func orEmptyProps(p Properties) Properties {
	if p == nil {
		return Properties{}
	}
	return p
}

// normalizeSet trims, drops empties, de-duplicates and sorts.
func normalizeSet(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func containsNode(nodes []*Node, id uuid.UUID) bool {
	return slices.ContainsFunc(nodes, func(n *Node) bool { return n.ID == id })
}

func containsActiveNode(nodes []*Node, id uuid.UUID) bool {
	return slices.ContainsFunc(nodes, func(n *Node) bool { return n.ID == id && n.IsActive })
}

func nodeIDs(nodes []*Node) []uuid.UUID {
	ids := make([]uuid.UUID, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}
