package graph

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/entitygraph/domain/audit"
	"github.com/emergent-company/entitygraph/internal/config"
	"github.com/emergent-company/entitygraph/pkg/apperror"
)

// memStore is an in-memory Store with the same observable semantics as
// Repository, including FK cascade on node delete.
type memStore struct {
	mu          sync.Mutex
	nodes       map[uuid.UUID]*Node
	edges       map[uuid.UUID]*Edge
	clock       time.Time
	failRepoint map[uuid.UUID]bool
	failDelete  map[uuid.UUID]bool
	listCalls   int
}

func newMemStore() *memStore {
	return &memStore{
		nodes:       map[uuid.UUID]*Node{},
		edges:       map[uuid.UUID]*Edge{},
		clock:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		failRepoint: map[uuid.UUID]bool{},
		failDelete:  map[uuid.UUID]bool{},
	}
}

var _ Store = (*memStore)(nil)

func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func cloneNode(n *Node) *Node {
	c := *n
	c.Properties = maps.Clone(n.Properties)
	c.Tags = slices.Clone(n.Tags)
	c.Categories = slices.Clone(n.Categories)
	return &c
}

func cloneEdge(e *Edge) *Edge {
	c := *e
	c.Properties = maps.Clone(e.Properties)
	return &c
}

func (m *memStore) InsertNode(_ context.Context, n *Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	now := m.tick()
	n.CreatedAt, n.UpdatedAt = now, now
	m.nodes[n.ID] = cloneNode(n)
	return nil
}

func (m *memStore) GetNode(_ context.Context, tenantID, id uuid.UUID) (*Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok || n.TenantID != tenantID {
		return nil, apperror.NewNotFound("node", id.String())
	}
	return cloneNode(n), nil
}

func (m *memStore) GetNodes(_ context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*Node{}
	for _, id := range uniqueIDs(ids) {
		if n, ok := m.nodes[id]; ok && n.TenantID == tenantID {
			out = append(out, cloneNode(n))
		}
	}
	sortByCreation(out)
	return out, nil
}

func (m *memStore) UpdateNode(_ context.Context, n *Node, _ ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.nodes[n.ID]
	if !ok || cur.TenantID != n.TenantID {
		return apperror.NewNotFound("node", n.ID.String())
	}
	m.nodes[n.ID] = cloneNode(n)
	return nil
}

func (m *memStore) DeleteNode(_ context.Context, tenantID, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete[id] {
		return false, apperror.ErrDatabase
	}
	n, ok := m.nodes[id]
	if !ok || n.TenantID != tenantID {
		return false, nil
	}
	delete(m.nodes, id)
	for eid, e := range m.edges {
		if e.Touches(id) {
			delete(m.edges, eid)
		}
	}
	return true, nil
}

func (m *memStore) ListNodes(_ context.Context, tenantID uuid.UUID, f NodeFilter) ([]*Node, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++

	var matched []*Node
	for _, n := range m.nodes {
		if n.TenantID != tenantID {
			continue
		}
		if len(f.NodeTypes) > 0 && !slices.Contains(f.NodeTypes, n.NodeType) {
			continue
		}
		if len(f.Tags) > 0 && !overlaps(n.Tags, f.Tags) {
			continue
		}
		if len(f.Categories) > 0 && !overlaps(n.Categories, f.Categories) {
			continue
		}
		if f.Search != "" {
			needle := strings.ToLower(f.Search)
			desc := ""
			if n.Description != nil {
				desc = *n.Description
			}
			if !strings.Contains(strings.ToLower(n.Label), needle) && !strings.Contains(strings.ToLower(desc), needle) {
				continue
			}
		}
		if f.SourceSystem != "" && (n.SourceSystem == nil || *n.SourceSystem != f.SourceSystem) {
			continue
		}
		if f.IsActive != nil && n.IsActive != *f.IsActive {
			continue
		}
		if f.ClusterID != nil && (n.ClusterID == nil || *n.ClusterID != *f.ClusterID) {
			continue
		}
		if f.CommunityID != nil && (n.CommunityID == nil || *n.CommunityID != *f.CommunityID) {
			continue
		}
		matched = append(matched, cloneNode(n))
	}

	slices.SortFunc(matched, func(a, b *Node) int {
		if c := sortCompare(fieldValue(a, f.SortBy), fieldValue(b, f.SortBy), f.Desc); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})

	total := len(matched)
	start := min(f.Offset, total)
	end := min(start+f.Limit, total)
	return append([]*Node{}, matched[start:end]...), total, nil
}

// sortCompare orders values with nulls last in either direction.
func sortCompare(a, b any, desc bool) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	c, _ := compare(a, b)
	if desc {
		return -c
	}
	return c
}

func overlaps(have, want []string) bool {
	for _, w := range want {
		if slices.Contains(have, w) {
			return true
		}
	}
	return false
}

func (m *memStore) InsertEdge(_ context.Context, e *Edge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[e.SourceNodeID]; !ok {
		return apperror.NewValidation("referenced node does not exist")
	}
	if _, ok := m.nodes[e.TargetNodeID]; !ok {
		return apperror.NewValidation("referenced node does not exist")
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	now := m.tick()
	e.CreatedAt, e.UpdatedAt = now, now
	m.edges[e.ID] = cloneEdge(e)
	return nil
}

func (m *memStore) GetEdge(_ context.Context, tenantID, id uuid.UUID) (*Edge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.edges[id]
	if !ok || e.TenantID != tenantID {
		return nil, apperror.NewNotFound("edge", id.String())
	}
	return cloneEdge(e), nil
}

func (m *memStore) UpdateEdge(_ context.Context, e *Edge, _ ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.edges[e.ID]
	if !ok || cur.TenantID != e.TenantID {
		return apperror.NewNotFound("edge", e.ID.String())
	}
	m.edges[e.ID] = cloneEdge(e)
	return nil
}

func (m *memStore) DeleteEdge(_ context.Context, tenantID, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.edges[id]
	if !ok || e.TenantID != tenantID {
		return false, nil
	}
	delete(m.edges, id)
	return true, nil
}

func (m *memStore) ListEdges(_ context.Context, tenantID uuid.UUID, f EdgeFilter) ([]*Edge, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*Edge
	for _, e := range m.edges {
		if e.TenantID != tenantID {
			continue
		}
		if len(f.EdgeTypes) > 0 && !slices.Contains(f.EdgeTypes, e.EdgeType) {
			continue
		}
		if f.SourceNodeID != nil && e.SourceNodeID != *f.SourceNodeID {
			continue
		}
		if f.TargetNodeID != nil && e.TargetNodeID != *f.TargetNodeID {
			continue
		}
		if f.NodeID != nil && !e.Touches(*f.NodeID) {
			continue
		}
		if f.IsBidirectional != nil && e.IsBidirectional != *f.IsBidirectional {
			continue
		}
		if f.IsActive != nil && e.IsActive != *f.IsActive {
			continue
		}
		matched = append(matched, cloneEdge(e))
	}
	sortEdges(matched)
	if f.Desc {
		slices.Reverse(matched)
	}

	total := len(matched)
	start := min(f.Offset, total)
	end := min(start+f.Limit, total)
	return append([]*Edge{}, matched[start:end]...), total, nil
}

func sortEdges(edges []*Edge) {
	slices.SortFunc(edges, func(a, b *Edge) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
}

func (m *memStore) activeEdge(e *Edge) bool {
	if !e.IsActive {
		return false
	}
	s, t := m.nodes[e.SourceNodeID], m.nodes[e.TargetNodeID]
	return s != nil && t != nil && s.IsActive && t.IsActive
}

func (m *memStore) ActiveEdgesTouching(_ context.Context, tenantID uuid.UUID, nodeIDs []uuid.UUID) ([]*Edge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*Edge{}
	for _, e := range m.edges {
		if e.TenantID != tenantID || !m.activeEdge(e) {
			continue
		}
		if slices.Contains(nodeIDs, e.SourceNodeID) || slices.Contains(nodeIDs, e.TargetNodeID) {
			out = append(out, cloneEdge(e))
		}
	}
	sortEdges(out)
	return out, nil
}

func (m *memStore) EdgesTouching(_ context.Context, tenantID uuid.UUID, nodeIDs []uuid.UUID) ([]*Edge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*Edge{}
	for _, e := range m.edges {
		if e.TenantID != tenantID {
			continue
		}
		if slices.Contains(nodeIDs, e.SourceNodeID) || slices.Contains(nodeIDs, e.TargetNodeID) {
			out = append(out, cloneEdge(e))
		}
	}
	sortEdges(out)
	return out, nil
}

func (m *memStore) EdgesWithin(_ context.Context, tenantID uuid.UUID, nodeIDs []uuid.UUID) ([]*Edge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*Edge{}
	for _, e := range m.edges {
		if e.TenantID != tenantID || !e.IsActive {
			continue
		}
		if slices.Contains(nodeIDs, e.SourceNodeID) && slices.Contains(nodeIDs, e.TargetNodeID) {
			out = append(out, cloneEdge(e))
		}
	}
	sortEdges(out)
	return out, nil
}

func (m *memStore) RepointEdge(_ context.Context, tenantID, edgeID, sourceID, targetID uuid.UUID, actorID *uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRepoint[edgeID] {
		return apperror.ErrDatabase
	}
	e, ok := m.edges[edgeID]
	if !ok || e.TenantID != tenantID {
		return apperror.NewNotFound("edge", edgeID.String())
	}
	e.SourceNodeID, e.TargetNodeID = sourceID, targetID
	e.UpdatedBy = actorID
	return nil
}

func (m *memStore) ActiveGraph(_ context.Context, tenantID uuid.UUID, nodeTypes []NodeType) ([]*Node, []*Edge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	nodes := []*Node{}
	in := map[uuid.UUID]bool{}
	for _, n := range m.nodes {
		if n.TenantID != tenantID || !n.IsActive {
			continue
		}
		if len(nodeTypes) > 0 && !slices.Contains(nodeTypes, n.NodeType) {
			continue
		}
		nodes = append(nodes, cloneNode(n))
		in[n.ID] = true
	}
	sortByCreation(nodes)

	edges := []*Edge{}
	for _, e := range m.edges {
		if e.TenantID == tenantID && e.IsActive && in[e.SourceNodeID] && in[e.TargetNodeID] {
			edges = append(edges, cloneEdge(e))
		}
	}
	sortEdges(edges)
	return nodes, edges, nil
}

func (m *memStore) SaveCentrality(_ context.Context, tenantID uuid.UUID, scores map[uuid.UUID]float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, score := range scores {
		if n, ok := m.nodes[id]; ok && n.TenantID == tenantID {
			v := score
			n.DegreeCentrality = &v
			r := score
			n.PagerankScore = &r
		}
	}
	return nil
}

func (m *memStore) SaveClusters(_ context.Context, tenantID uuid.UUID, assignments map[uuid.UUID]uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, cluster := range assignments {
		if n, ok := m.nodes[id]; ok && n.TenantID == tenantID {
			c := cluster
			n.ClusterID = &c
		}
	}
	return nil
}

func (m *memStore) CountStats(_ context.Context, tenantID uuid.UUID) (*GraphMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gm := &GraphMetrics{NodesByType: map[string]int{}, EdgesByType: map[string]int{}}
	clusters := map[uuid.UUID]bool{}
	for _, n := range m.nodes {
		if n.TenantID != tenantID {
			continue
		}
		gm.TotalNodes++
		if n.IsActive {
			gm.ActiveNodes++
			gm.NodesByType[string(n.NodeType)]++
			if n.ClusterID != nil {
				clusters[*n.ClusterID] = true
			}
		}
	}
	for _, e := range m.edges {
		if e.TenantID != tenantID {
			continue
		}
		gm.TotalEdges++
		if e.IsActive {
			gm.ActiveEdges++
			gm.EdgesByType[string(e.EdgeType)]++
		}
	}
	gm.ClusterCount = len(clusters)
	return gm, nil
}

func (m *memStore) TopNodes(_ context.Context, tenantID uuid.UUID, column string, limit int) ([]*Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Node
	for _, n := range m.nodes {
		if n.TenantID == tenantID && n.IsActive && fieldValue(n, column) != nil {
			out = append(out, cloneNode(n))
		}
	}
	slices.SortFunc(out, func(a, b *Node) int {
		c, _ := compare(fieldValue(b, column), fieldValue(a, column))
		if c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return out[:min(limit, len(out))], nil
}

// =============================================================================
// Fixtures
// =============================================================================

type fixture struct {
	svc    *Service
	store  *memStore
	audit  *audit.MemoryRecorder
	tenant uuid.UUID
	actor  *uuid.UUID
	ctx    context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	rec := &audit.MemoryRecorder{}
	actor := uuid.New()
	svc := NewService(store, nil, nil, rec, &config.Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return &fixture{
		svc:    svc,
		store:  store,
		audit:  rec,
		tenant: uuid.New(),
		actor:  &actor,
		ctx:    context.Background(),
	}
}

func (f *fixture) node(t *testing.T, label string, typ NodeType, opts ...func(*CreateNodeRequest)) *Node {
	t.Helper()
	req := CreateNodeRequest{Label: label, NodeType: typ}
	for _, o := range opts {
		o(&req)
	}
	n, err := f.svc.CreateNode(f.ctx, f.tenant, f.actor, req)
	require.NoError(t, err)
	return n
}

func (f *fixture) edge(t *testing.T, src, tgt *Node, typ EdgeType, opts ...func(*CreateEdgeRequest)) *Edge {
	t.Helper()
	req := CreateEdgeRequest{SourceNodeID: src.ID, TargetNodeID: tgt.ID, EdgeType: typ}
	for _, o := range opts {
		o(&req)
	}
	e, err := f.svc.CreateEdge(f.ctx, f.tenant, f.actor, req)
	require.NoError(t, err)
	return e
}

func withProps(p Properties) func(*CreateNodeRequest) {
	return func(r *CreateNodeRequest) { r.Properties = p }
}

func withTags(tags ...string) func(*CreateNodeRequest) {
	return func(r *CreateNodeRequest) { r.Tags = tags }
}

func bidirectional(r *CreateEdgeRequest) { r.IsBidirectional = true }

func weight(w float64) func(*CreateEdgeRequest) {
	return func(r *CreateEdgeRequest) { r.Weight = &w }
}

func ptr[T any](v T) *T { return &v }
