package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/emergent-company/entitygraph/domain/audit"
	"github.com/emergent-company/entitygraph/pkg/apperror"
	"github.com/emergent-company/entitygraph/pkg/logger"
	"github.com/emergent-company/entitygraph/pkg/mathutil"
)

const (
	defaultTraverseDepth = 3
	defaultTraverseLimit = 100
	defaultPathDepth     = 5
)

type visit struct {
	depth   int
	nodeIDs []uuid.UUID
	edgeIDs []uuid.UUID
}

// Traverse expands breadth-first from the start node. A node is visited at
// most once, at the depth it was first discovered. Type filters are applied
// to candidate next nodes, so filtered nodes are neither returned nor
// expanded through.
func (s *Service) Traverse(ctx context.Context, tenantID uuid.UUID, actorID *uuid.UUID, req TraverseRequest) (_ *TraverseResult, err error) {
	ctx, done := s.instrument(ctx, "traverse", tenantID)
	defer func() { done(err) }()
	start := time.Now()

	res, err := s.traverse(ctx, tenantID, req)
	if err != nil {
		return nil, err
	}

	s.recordTimed(ctx, tenantID, actorID, audit.ActionTraversalExecuted, &req.StartNodeID, map[string]any{
		"direction": req.Direction,
		"maxDepth":  req.MaxDepth,
		"truncated": res.Truncated,
	}, len(res.Nodes), start)
	return res, nil
}

func (s *Service) traverse(ctx context.Context, tenantID uuid.UUID, req TraverseRequest) (*TraverseResult, error) {
	if req.Direction == "" {
		req.Direction = DirectionOutgoing
	}
	if !req.Direction.Valid() {
		return nil, apperror.NewValidation(fmt.Sprintf("invalid direction %q", req.Direction))
	}
	nodeTypes, err := parseNodeTypes(req.NodeTypes)
	if err != nil {
		return nil, err
	}
	edgeTypes, err := parseEdgeTypes(req.EdgeTypes)
	if err != nil {
		return nil, err
	}
	maxDepth := req.MaxDepth
	if maxDepth <= 0 {
		maxDepth = defaultTraverseDepth
	}
	maxDepth = mathutil.ClampInt(maxDepth, 1, s.limits.MaxDepth)
	limit := req.Limit
	if limit <= 0 {
		limit = defaultTraverseLimit
	}
	limit = mathutil.ClampInt(limit, 1, s.limits.MaxVisited)

	startNode, err := s.store.GetNode(ctx, tenantID, req.StartNodeID)
	if err != nil {
		return nil, err
	}
	if !startNode.IsActive {
		return nil, apperror.NewNotFound("node", req.StartNodeID.String())
	}

	result := &TraverseResult{
		StartNode: startNode,
		Nodes:     []VisitedNode{},
		Paths:     []Path{},
	}
	visited := map[uuid.UUID]*visit{
		startNode.ID: {nodeIDs: []uuid.UUID{startNode.ID}},
	}
	frontier := []uuid.UUID{startNode.ID}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(visited) >= limit {
			result.Truncated = true
			break
		}

		edges, err := s.store.ActiveEdgesTouching(ctx, tenantID, frontier)
		if err != nil {
			return nil, err
		}
		byNode := make(map[uuid.UUID][]*Edge, len(frontier))
		var candidateIDs []uuid.UUID
		for _, e := range edges {
			if len(edgeTypes) > 0 && !slices.Contains(edgeTypes, e.EdgeType) {
				continue
			}
			for _, end := range []uuid.UUID{e.SourceNodeID, e.TargetNodeID} {
				byNode[end] = append(byNode[end], e)
				if visited[e.Other(end)] == nil {
					candidateIDs = append(candidateIDs, e.Other(end))
				}
			}
		}
		candidates, err := s.store.GetNodes(ctx, tenantID, uniqueIDs(candidateIDs))
		if err != nil {
			return nil, err
		}
		nodesByID := make(map[uuid.UUID]*Node, len(candidates))
		for _, n := range candidates {
			nodesByID[n.ID] = n
		}

		var next []uuid.UUID
	expand:
		for _, cur := range frontier {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			from := visited[cur]
			for _, e := range byNode[cur] {
				nid, ok := req.Direction.next(e, cur)
				if !ok || visited[nid] != nil {
					continue
				}
				n := nodesByID[nid]
				if n == nil || !n.IsActive {
					continue
				}
				if len(nodeTypes) > 0 && !slices.Contains(nodeTypes, n.NodeType) {
					continue
				}
				v := &visit{
					depth:   depth + 1,
					nodeIDs: appendID(from.nodeIDs, nid),
					edgeIDs: appendID(from.edgeIDs, e.ID),
				}
				visited[nid] = v
				next = append(next, nid)
				result.Nodes = append(result.Nodes, VisitedNode{Node: n, Depth: v.depth})
				result.Paths = append(result.Paths, Path{NodeIDs: v.nodeIDs, EdgeIDs: v.edgeIDs, Length: len(v.edgeIDs)})
				if len(visited) >= limit {
					result.Truncated = true
					break expand
				}
			}
		}
		frontier = next
	}

	return result, nil
}

type backPointer struct {
	prev uuid.UUID
	edge *Edge
}

// FindShortestPath runs an unweighted BFS over the undirected view of the
// active edges. It returns nil when no path of at most maxDepth hops exists.
// TotalWeight is informational; the search minimizes hops, not weight.
func (s *Service) FindShortestPath(ctx context.Context, tenantID uuid.UUID, actorID *uuid.UUID, req ShortestPathRequest) (_ *ShortestPath, err error) {
	ctx, done := s.instrument(ctx, "shortest_path", tenantID)
	defer func() { done(err) }()
	start := time.Now()

	path, err := s.shortestPath(ctx, tenantID, req)
	if err != nil {
		return nil, err
	}

	count := 0
	details := map[string]any{"toNodeId": req.ToNodeID, "found": path != nil}
	if path != nil {
		count = path.Length
		details["totalWeight"] = path.TotalWeight
	}
	s.recordTimed(ctx, tenantID, actorID, audit.ActionPathFound, &req.FromNodeID, details, count, start)
	return path, nil
}

func (s *Service) shortestPath(ctx context.Context, tenantID uuid.UUID, req ShortestPathRequest) (*ShortestPath, error) {
	maxDepth := req.MaxDepth
	if maxDepth <= 0 {
		maxDepth = defaultPathDepth
	}
	maxDepth = mathutil.ClampInt(maxDepth, 1, s.limits.MaxDepth)

	endpoints, err := s.store.GetNodes(ctx, tenantID, []uuid.UUID{req.FromNodeID, req.ToNodeID})
	if err != nil {
		return nil, err
	}
	for _, id := range []uuid.UUID{req.FromNodeID, req.ToNodeID} {
		if !containsActiveNode(endpoints, id) {
			return nil, apperror.NewNotFound("node", id.String())
		}
	}

	prev := map[uuid.UUID]backPointer{req.FromNodeID: {}}
	depth := map[uuid.UUID]int{req.FromNodeID: 0}
	queue := []uuid.UUID{req.FromNodeID}
	edgeCache := map[uuid.UUID][]*Edge{}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur := queue[0]
		queue = queue[1:]

		if cur == req.ToNodeID {
			return s.hydratePath(ctx, tenantID, req.FromNodeID, cur, prev)
		}
		if depth[cur] >= maxDepth {
			continue
		}

		// Load the whole pending level at once to avoid one query per node.
		if _, ok := edgeCache[cur]; !ok {
			level := []uuid.UUID{cur}
			for _, q := range queue {
				if _, cached := edgeCache[q]; !cached && depth[q] < maxDepth {
					level = append(level, q)
				}
			}
			edges, err := s.store.ActiveEdgesTouching(ctx, tenantID, level)
			if err != nil {
				return nil, err
			}
			for _, id := range level {
				edgeCache[id] = []*Edge{}
			}
			for _, e := range edges {
				if _, ok := edgeCache[e.SourceNodeID]; ok {
					edgeCache[e.SourceNodeID] = append(edgeCache[e.SourceNodeID], e)
				}
				if e.TargetNodeID != e.SourceNodeID {
					if _, ok := edgeCache[e.TargetNodeID]; ok {
						edgeCache[e.TargetNodeID] = append(edgeCache[e.TargetNodeID], e)
					}
				}
			}
		}

		for _, e := range edgeCache[cur] {
			nid := e.Other(cur)
			if _, seen := prev[nid]; seen {
				continue
			}
			prev[nid] = backPointer{prev: cur, edge: e}
			depth[nid] = depth[cur] + 1
			queue = append(queue, nid)
		}
	}

	return nil, nil
}

func (s *Service) hydratePath(ctx context.Context, tenantID, from, to uuid.UUID, prev map[uuid.UUID]backPointer) (*ShortestPath, error) {
	var ids []uuid.UUID
	var edges []*Edge
	for cur := to; ; {
		ids = append(ids, cur)
		if cur == from {
			break
		}
		bp := prev[cur]
		edges = append(edges, bp.edge)
		cur = bp.prev
	}
	slices.Reverse(ids)
	slices.Reverse(edges)

	nodes, err := s.store.GetNodes(ctx, tenantID, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	path := &ShortestPath{
		Path: Path{
			NodeIDs: ids,
			EdgeIDs: make([]uuid.UUID, len(edges)),
			Length:  len(edges),
		},
		Nodes: make([]*Node, 0, len(ids)),
		Edges: edges,
	}
	for _, id := range ids {
		if n := byID[id]; n != nil {
			path.Nodes = append(path.Nodes, n)
		}
	}
	for i, e := range edges {
		path.EdgeIDs[i] = e.ID
		path.TotalWeight += e.Weight
	}
	return path, nil
}

// fallbackExplanation is returned when the text generator is unavailable
// or its output cannot be used.
func fallbackExplanation(path *ShortestPath) *PathExplanation {
	return &PathExplanation{
		Explanation:      fmt.Sprintf("These entities are connected through a path of %d relationship(s).", path.Length),
		Reasoning:        []string{"A narrative explanation is not available; the path was found by breadth-first search."},
		Confidence:       0.1,
		KeyRelationships: []string{},
	}
}

// ExplainPath finds the shortest path and asks the text generator to narrate
// it. Generator failures degrade to a fixed low-confidence explanation.
func (s *Service) ExplainPath(ctx context.Context, tenantID uuid.UUID, actorID *uuid.UUID, req ShortestPathRequest) (_ *ExplainPathResponse, err error) {
	ctx, done := s.instrument(ctx, "explain_path", tenantID)
	defer func() { done(err) }()
	start := time.Now()

	path, err := s.shortestPath(ctx, tenantID, req)
	if err != nil {
		return nil, err
	}
	resp := &ExplainPathResponse{Path: path}
	if path == nil {
		s.recordTimed(ctx, tenantID, actorID, audit.ActionPathExplained, &req.FromNodeID,
			map[string]any{"toNodeId": req.ToNodeID, "found": false}, 0, start)
		return resp, nil
	}

	explanation, fallback := s.explain(ctx, path)
	resp.Explanation = explanation

	s.recordTimed(ctx, tenantID, actorID, audit.ActionPathExplained, &req.FromNodeID, map[string]any{
		"toNodeId":   req.ToNodeID,
		"found":      true,
		"fallback":   fallback,
		"confidence": explanation.Confidence,
	}, path.Length, start)
	return resp, nil
}

func (s *Service) explain(ctx context.Context, path *ShortestPath) (*PathExplanation, bool) {
	if !s.llm.IsConfigured() {
		return fallbackExplanation(path), true
	}

	raw, err := s.llm.Complete(ctx, buildPathPrompt(path))
	if err != nil {
		s.log.Warn("path explanation failed, using fallback", logger.Error(err))
		return fallbackExplanation(path), true
	}

	var out PathExplanation
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &out); err != nil || strings.TrimSpace(out.Explanation) == "" {
		s.log.Warn("unusable path explanation, using fallback", logger.Error(err))
		return fallbackExplanation(path), true
	}
	out.Confidence = mathutil.ClampFloat(out.Confidence, 0, 1)
	if out.Reasoning == nil {
		out.Reasoning = []string{}
	}
	if out.KeyRelationships == nil {
		out.KeyRelationships = []string{}
	}
	return &out, false
}

func buildPathPrompt(path *ShortestPath) string {
	byID := make(map[uuid.UUID]*Node, len(path.Nodes))
	for _, n := range path.Nodes {
		byID[n.ID] = n
	}
	describe := func(id uuid.UUID) string {
		n := byID[id]
		if n == nil {
			return id.String()
		}
		if n.Description != nil && *n.Description != "" {
			return fmt.Sprintf("%s (%s: %s)", n.Label, n.NodeType, *n.Description)
		}
		return fmt.Sprintf("%s (%s)", n.Label, n.NodeType)
	}

	var b strings.Builder
	b.WriteString("Explain how the following entities are connected.\n\nPath:\n")
	b.WriteString("- " + describe(path.NodeIDs[0]) + "\n")
	for i, e := range path.Edges {
		rel := string(e.EdgeType)
		if e.Label != nil && *e.Label != "" {
			rel += " \"" + *e.Label + "\""
		}
		fmt.Fprintf(&b, "  --[%s]--> %s\n", rel, describe(path.NodeIDs[i+1]))
	}
	b.WriteString(`
Respond with JSON only, using this shape:
{"explanation": string, "reasoning": [string], "confidence": number between 0 and 1, "keyRelationships": [string]}`)
	return b.String()
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func appendID(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, len(ids), len(ids)+1)
	copy(out, ids)
	return append(out, id)
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
