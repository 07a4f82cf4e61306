package graph

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/entitygraph/domain/audit"
)

func TestComputeCentrality(t *testing.T) {
	f := newFixture(t)
	a, b, c, _, _ := chain(t, f)
	isolated := f.node(t, "Isolated", NodeTypeTopic)

	res, err := f.svc.ComputeCentrality(f.ctx, f.tenant, f.actor)
	require.NoError(t, err)
	assert.Equal(t, 4, res.NodesScored)
	assert.Equal(t, 2, res.MaxDegree)

	want := map[uuid.UUID]float64{a.ID: 0.5, b.ID: 1, c.ID: 0.5, isolated.ID: 0}
	for id, score := range want {
		n, err := f.svc.GetNode(f.ctx, f.tenant, id)
		require.NoError(t, err)
		require.NotNil(t, n.DegreeCentrality)
		assert.InDelta(t, score, *n.DegreeCentrality, 1e-9, n.Label)
		assert.InDelta(t, score, *n.PagerankScore, 1e-9, n.Label)
	}
	assert.Len(t, f.audit.ByAction(audit.ActionMetricsComputed), 1)
}

func TestDegreeCentrality_EmptyGraph(t *testing.T) {
	n := &Node{ID: uuid.New()}
	scores, maxDegree := degreeCentrality([]*Node{n}, nil)
	assert.Equal(t, 0, maxDegree)
	assert.Equal(t, map[uuid.UUID]float64{n.ID: 0}, scores)

	scores, maxDegree = degreeCentrality(nil, nil)
	assert.Equal(t, 0, maxDegree)
	assert.Empty(t, scores)
}

func TestComputeClusters(t *testing.T) {
	f := newFixture(t)
	a, b, c, _, bc := chain(t, f)

	res, err := f.svc.ComputeClusters(f.ctx, f.tenant, f.actor)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ClusterCount)
	assert.Equal(t, 3, res.LargestSize)

	require.NoError(t, f.svc.DeleteEdge(f.ctx, f.tenant, f.actor, bc.ID))

	res, err = f.svc.ComputeClusters(f.ctx, f.tenant, f.actor)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ClusterCount)
	assert.Equal(t, 3, res.NodesAssigned)
	assert.Equal(t, 2, res.LargestSize)

	cluster := func(id uuid.UUID) uuid.UUID {
		n, err := f.svc.GetNode(f.ctx, f.tenant, id)
		require.NoError(t, err)
		require.NotNil(t, n.ClusterID)
		assert.Nil(t, n.CommunityID)
		return *n.ClusterID
	}
	assert.Equal(t, cluster(a.ID), cluster(b.ID))
	assert.NotEqual(t, cluster(a.ID), cluster(c.ID))

	assert.Len(t, f.audit.ByAction(audit.ActionClustersComputed), 2)
}

func TestConnectedComponents_IgnoresForeignEdges(t *testing.T) {
	a, b := &Node{ID: uuid.New()}, &Node{ID: uuid.New()}
	dangling := &Edge{SourceNodeID: a.ID, TargetNodeID: uuid.New()}
	loop := &Edge{SourceNodeID: b.ID, TargetNodeID: b.ID}

	components := connectedComponents([]*Node{a, b}, []*Edge{dangling, loop})
	assert.Equal(t, [][]uuid.UUID{{a.ID}, {b.ID}}, components)
}

func TestGetMetrics(t *testing.T) {
	f := newFixture(t)
	a, b, _, _, _ := chain(t, f)
	f.node(t, "Dormant", NodeTypeTopic, func(r *CreateNodeRequest) { r.IsActive = ptr(false) })

	_, err := f.svc.ComputeCentrality(f.ctx, f.tenant, f.actor)
	require.NoError(t, err)
	_, err = f.svc.ComputeClusters(f.ctx, f.tenant, f.actor)
	require.NoError(t, err)

	m, err := f.svc.GetMetrics(f.ctx, f.tenant, f.actor)
	require.NoError(t, err)
	assert.Equal(t, 4, m.TotalNodes)
	assert.Equal(t, 3, m.ActiveNodes)
	assert.Equal(t, 2, m.TotalEdges)
	assert.Equal(t, 2, m.ActiveEdges)
	assert.Equal(t, map[string]int{"person": 1, "organization": 1, "project": 1}, m.NodesByType)
	assert.Equal(t, map[string]int{"works_for": 1, "owns": 1}, m.EdgesByType)
	assert.Equal(t, 1, m.ClusterCount)

	require.Len(t, m.TopByDegree, 3)
	assert.Equal(t, b.ID, m.TopByDegree[0].ID)
	assert.InDelta(t, 1.0, m.TopByDegree[0].Score, 1e-9)
	assert.Equal(t, NodeTypeOrganization, m.TopByDegree[0].Type)
	require.Len(t, m.TopByRank, 3)
	assert.Equal(t, b.ID, m.TopByRank[0].ID)
	assert.Contains(t, []uuid.UUID{m.TopByRank[1].ID, m.TopByRank[2].ID}, a.ID)
}

func TestGetMetrics_Empty(t *testing.T) {
	f := newFixture(t)

	m, err := f.svc.GetMetrics(f.ctx, f.tenant, f.actor)
	require.NoError(t, err)
	assert.Zero(t, m.TotalNodes)
	assert.Empty(t, m.NodesByType)
	assert.NotNil(t, m.TopByDegree)
	assert.NotNil(t, m.TopByRank)
}
