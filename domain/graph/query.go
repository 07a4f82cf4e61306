package graph

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/emergent-company/entitygraph/domain/audit"
	"github.com/emergent-company/entitygraph/pkg/apperror"
	"github.com/emergent-company/entitygraph/pkg/mathutil"
)

const (
	defaultQueryLimit   = 50
	defaultSimilarity   = 0.7
	filterScanPageSize  = 500
	maxFilterCandidates = 10000
)

// QueryGraph is the unified query entry point. It dispatches to semantic
// search when a query text is given, else to traversal when a start node is
// given, else to a filtered listing. Edges connecting the selected nodes are
// attached in every mode.
func (s *Service) QueryGraph(ctx context.Context, tenantID uuid.UUID, actorID *uuid.UUID, req QueryRequest) (_ *QueryResult, err error) {
	ctx, done := s.instrument(ctx, "query", tenantID)
	defer func() { done(err) }()
	start := time.Now()

	if req.GroupBy != "" {
		if err := validateGroupBy(req.GroupBy); err != nil {
			return nil, err
		}
	}
	limit := mathutil.ClampLimit(req.Limit, defaultQueryLimit, s.limits.MaxListLimit)

	var result *QueryResult
	switch {
	case req.SemanticQuery != "":
		result, err = s.querySemantic(ctx, tenantID, req, limit)
	case req.StartNodeID != nil:
		result, err = s.queryTraversal(ctx, tenantID, req, limit)
	default:
		result, err = s.queryFiltered(ctx, tenantID, req, limit)
	}
	if err != nil {
		return nil, err
	}

	edges, err := s.store.EdgesWithin(ctx, tenantID, nodeIDs(result.Nodes))
	if err != nil {
		return nil, err
	}
	result.Edges = edges

	if req.GroupBy != "" {
		result.Groups = make(map[string]int)
		for _, n := range result.Nodes {
			result.Groups[groupKey(n, req.GroupBy)]++
		}
	}

	result.TotalCount = len(result.Nodes)
	result.ExecutionTimeMs = time.Since(start).Milliseconds()

	s.recordTimed(ctx, tenantID, actorID, audit.ActionQueryExecuted, req.StartNodeID, map[string]any{
		"mode":    result.Mode,
		"filters": len(req.Filters),
		"groupBy": req.GroupBy,
	}, result.TotalCount, start)
	return result, nil
}

func (s *Service) querySemantic(ctx context.Context, tenantID uuid.UUID, req QueryRequest, limit int) (*QueryResult, error) {
	if s.searcher == nil {
		return nil, apperror.NewUpstream("semantic search", nil)
	}
	types, err := parseNodeTypes(req.NodeTypes)
	if err != nil {
		return nil, err
	}
	threshold := defaultSimilarity
	if req.SimilarityThreshold != nil {
		threshold = mathutil.ClampFloat(*req.SimilarityThreshold, 0, 1)
	}

	matches, err := s.searcher.SearchNodes(ctx, tenantID, req.SemanticQuery, types, threshold, limit)
	if err != nil {
		return nil, err
	}

	nodes := make([]*Node, 0, len(matches))
	for _, m := range matches {
		nodes = append(nodes, m.Node)
	}
	return &QueryResult{Mode: QueryModeSemantic, Nodes: nodes, Matches: matches}, nil
}

func (s *Service) queryTraversal(ctx context.Context, tenantID uuid.UUID, req QueryRequest, limit int) (*QueryResult, error) {
	res, err := s.traverse(ctx, tenantID, TraverseRequest{
		StartNodeID: *req.StartNodeID,
		Direction:   req.Direction,
		MaxDepth:    req.MaxDepth,
		NodeTypes:   req.NodeTypes,
		EdgeTypes:   req.EdgeTypes,
		Limit:       limit,
	})
	if err != nil {
		return nil, err
	}

	nodes := make([]*Node, 0, len(res.Nodes)+1)
	nodes = append(nodes, res.StartNode)
	for _, v := range res.Nodes {
		nodes = append(nodes, v.Node)
	}
	return &QueryResult{Mode: QueryModeTraversal, Nodes: nodes, Paths: res.Paths}, nil
}

// queryFiltered pages through the structurally filtered candidates and
// evaluates the filter expressions on each node.
func (s *Service) queryFiltered(ctx context.Context, tenantID uuid.UUID, req QueryRequest, limit int) (*QueryResult, error) {
	pred, err := compileFilters(req.Filters)
	if err != nil {
		return nil, err
	}
	f, err := s.nodeFilter(NodeListParams{NodeTypes: req.NodeTypes, SortOrder: "asc"})
	if err != nil {
		return nil, err
	}
	if hasActiveFilter(req.Filters) {
		f.IsActive = nil
	}
	f.Limit = filterScanPageSize

	nodes := []*Node{}
	for f.Offset < maxFilterCandidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, total, err := s.store.ListNodes(ctx, tenantID, f)
		if err != nil {
			return nil, err
		}
		for _, n := range page {
			if pred(n) {
				nodes = append(nodes, n)
				if len(nodes) == limit {
					return &QueryResult{Mode: QueryModeFilter, Nodes: nodes}, nil
				}
			}
		}
		f.Offset += len(page)
		if len(page) == 0 || f.Offset >= total {
			break
		}
	}
	return &QueryResult{Mode: QueryModeFilter, Nodes: nodes}, nil
}

// hasActiveFilter reports whether the caller filters on is_active, in which
// case inactive nodes become candidates.
func hasActiveFilter(filters []FilterExpr) bool {
	for _, f := range filters {
		if f.Field == "is_active" {
			return true
		}
	}
	return false
}
