package graph

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/emergent-company/entitygraph/domain/audit"
)

const topNodesLimit = 10

// ComputeCentrality scores every active node by degree, normalized by the
// maximum degree in the active graph. pagerank_score is set to the same
// normalized degree; it is an approximation, not iterative PageRank.
func (s *Service) ComputeCentrality(ctx context.Context, tenantID uuid.UUID, actorID *uuid.UUID) (_ *CentralityResult, err error) {
	ctx, done := s.instrument(ctx, "compute_centrality", tenantID)
	defer func() { done(err) }()

	nodes, edges, err := s.store.ActiveGraph(ctx, tenantID, nil)
	if err != nil {
		return nil, err
	}

	scores, maxDegree := degreeCentrality(nodes, edges)
	if err := s.store.SaveCentrality(ctx, tenantID, scores); err != nil {
		return nil, err
	}

	res := &CentralityResult{NodesScored: len(scores), MaxDegree: maxDegree}
	s.record(ctx, tenantID, actorID, audit.ActionMetricsComputed, audit.EntityGraph, nil, map[string]any{
		"nodesScored": res.NodesScored,
		"maxDegree":   res.MaxDegree,
	})
	return res, nil
}

// degreeCentrality returns normalized degree per node and the maximum raw degree.
func degreeCentrality(nodes []*Node, edges []*Edge) (map[uuid.UUID]float64, int) {
	degree := make(map[uuid.UUID]int, len(nodes))
	for _, n := range nodes {
		degree[n.ID] = 0
	}
	for _, e := range edges {
		if _, ok := degree[e.SourceNodeID]; ok {
			degree[e.SourceNodeID]++
		}
		if _, ok := degree[e.TargetNodeID]; ok {
			degree[e.TargetNodeID]++
		}
	}

	maxDegree := 0
	for _, d := range degree {
		maxDegree = max(maxDegree, d)
	}
	norm := float64(maxDegree)
	if maxDegree == 0 {
		norm = 1
	}

	scores := make(map[uuid.UUID]float64, len(degree))
	for id, d := range degree {
		scores[id] = float64(d) / norm
	}
	return scores, maxDegree
}

// ComputeClusters labels connected components of the undirected active
// graph. Every component, including isolated nodes, gets a fresh cluster id.
// community_id is left untouched.
func (s *Service) ComputeClusters(ctx context.Context, tenantID uuid.UUID, actorID *uuid.UUID) (_ *ClusterResult, err error) {
	ctx, done := s.instrument(ctx, "compute_clusters", tenantID)
	defer func() { done(err) }()

	nodes, edges, err := s.store.ActiveGraph(ctx, tenantID, nil)
	if err != nil {
		return nil, err
	}

	components := connectedComponents(nodes, edges)
	assignments := make(map[uuid.UUID]uuid.UUID, len(nodes))
	res := &ClusterResult{ClusterCount: len(components)}
	for _, members := range components {
		clusterID := uuid.New()
		for _, id := range members {
			assignments[id] = clusterID
		}
		res.LargestSize = max(res.LargestSize, len(members))
	}
	res.NodesAssigned = len(assignments)

	if err := s.store.SaveClusters(ctx, tenantID, assignments); err != nil {
		return nil, err
	}

	s.record(ctx, tenantID, actorID, audit.ActionClustersComputed, audit.EntityGraph, nil, map[string]any{
		"clusterCount":  res.ClusterCount,
		"nodesAssigned": res.NodesAssigned,
		"largestSize":   res.LargestSize,
	})
	return res, nil
}

// connectedComponents runs BFS over the undirected view of edges. Components
// are returned in order of their first node.
func connectedComponents(nodes []*Node, edges []*Edge) [][]uuid.UUID {
	adj := make(map[uuid.UUID][]uuid.UUID, len(nodes))
	for _, n := range nodes {
		adj[n.ID] = nil
	}
	for _, e := range edges {
		_, srcOK := adj[e.SourceNodeID]
		_, tgtOK := adj[e.TargetNodeID]
		if !srcOK || !tgtOK {
			continue
		}
		adj[e.SourceNodeID] = append(adj[e.SourceNodeID], e.TargetNodeID)
		adj[e.TargetNodeID] = append(adj[e.TargetNodeID], e.SourceNodeID)
	}

	seen := make(map[uuid.UUID]bool, len(nodes))
	var components [][]uuid.UUID
	for _, n := range nodes {
		if seen[n.ID] {
			continue
		}
		seen[n.ID] = true
		component := []uuid.UUID{n.ID}
		for i := 0; i < len(component); i++ {
			for _, next := range adj[component[i]] {
				if !seen[next] {
					seen[next] = true
					component = append(component, next)
				}
			}
		}
		components = append(components, component)
	}
	return components
}

// GetMetrics reads aggregate statistics from stored fields. Centrality and
// clusters must be computed first for fresh values.
func (s *Service) GetMetrics(ctx context.Context, tenantID uuid.UUID, actorID *uuid.UUID) (*GraphMetrics, error) {
	start := time.Now()
	m, err := s.CollectMetrics(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	s.recordTimed(ctx, tenantID, actorID, audit.ActionQueryExecuted, nil, map[string]any{
		"mode": "metrics",
	}, m.TotalNodes, start)
	return m, nil
}

// CollectMetrics reads the stored counts and rankings without recording an
// audit entry. Snapshot generation uses it inside its own audited operation.
func (s *Service) CollectMetrics(ctx context.Context, tenantID uuid.UUID) (*GraphMetrics, error) {
	m, err := s.store.CountStats(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	byDegree, err := s.store.TopNodes(ctx, tenantID, "degree_centrality", topNodesLimit)
	if err != nil {
		return nil, err
	}
	byRank, err := s.store.TopNodes(ctx, tenantID, "pagerank_score", topNodesLimit)
	if err != nil {
		return nil, err
	}

	m.TopByDegree = rank(byDegree, func(n *Node) *float64 { return n.DegreeCentrality })
	m.TopByRank = rank(byRank, func(n *Node) *float64 { return n.PagerankScore })
	return m, nil
}

func rank(nodes []*Node, score func(*Node) *float64) []RankedNode {
	out := make([]RankedNode, 0, len(nodes))
	for _, n := range nodes {
		r := RankedNode{ID: n.ID, Label: n.Label, Type: n.NodeType}
		if v := score(n); v != nil {
			r.Score = *v
		}
		out = append(out, r)
	}
	return out
}
