package semantic

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/entitygraph/domain/audit"
	"github.com/emergent-company/entitygraph/domain/graph"
	"github.com/emergent-company/entitygraph/internal/config"
	"github.com/emergent-company/entitygraph/pkg/apperror"
)

// =============================================================================
// Fakes
// =============================================================================

type recordKey struct {
	tenant uuid.UUID
	kind   EntityKind
	id     uuid.UUID
}

type fakeRecords struct {
	mu         sync.Mutex
	history    map[recordKey][]*Record
	replaceErr error
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{history: map[recordKey][]*Record{}}
}

func (f *fakeRecords) Current(_ context.Context, tenantID uuid.UUID, kind EntityKind, entityID uuid.UUID) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.history[recordKey{tenantID, kind, entityID}] {
		if r.IsCurrent {
			c := *r
			return &c, nil
		}
	}
	return nil, nil
}

func (f *fakeRecords) Replace(_ context.Context, rec *Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replaceErr != nil {
		return f.replaceErr
	}
	key := recordKey{rec.TenantID, rec.EntityKind, rec.EntityID}
	for _, r := range f.history[key] {
		r.IsCurrent = false
	}
	rec.ID = uuid.New()
	rec.IsCurrent = true
	c := *rec
	f.history[key] = append([]*Record{&c}, f.history[key]...)
	return nil
}

func (f *fakeRecords) History(_ context.Context, tenantID uuid.UUID, kind EntityKind, entityID uuid.UUID) ([]*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Record{}, f.history[recordKey{tenantID, kind, entityID}]...), nil
}

func (f *fakeRecords) currentCount(kind EntityKind, id uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for key, recs := range f.history {
		if key.kind != kind || key.id != id {
			continue
		}
		for _, r := range recs {
			if r.IsCurrent {
				n++
			}
		}
	}
	return n
}

type fakeVectors struct {
	hits      []VectorHit
	err       error
	threshold float64
	limit     int
	types     []graph.NodeType
}

func (f *fakeVectors) SearchNodes(_ context.Context, _ uuid.UUID, _ []float32, nodeTypes []graph.NodeType, threshold float64, limit int) ([]VectorHit, error) {
	f.threshold, f.limit, f.types = threshold, limit, nodeTypes
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

type fakeGraph struct {
	nodes map[uuid.UUID]*graph.Node
	edges map[uuid.UUID]*graph.Edge
}

func (f *fakeGraph) GetNode(_ context.Context, tenantID, id uuid.UUID) (*graph.Node, error) {
	n, ok := f.nodes[id]
	if !ok || n.TenantID != tenantID {
		return nil, apperror.NewNotFound("node", id.String())
	}
	return n, nil
}

func (f *fakeGraph) GetNodes(_ context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*graph.Node, error) {
	out := []*graph.Node{}
	for _, id := range ids {
		if n, ok := f.nodes[id]; ok && n.TenantID == tenantID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeGraph) GetEdge(_ context.Context, tenantID, id uuid.UUID) (*graph.Edge, error) {
	e, ok := f.edges[id]
	if !ok || e.TenantID != tenantID {
		return nil, apperror.NewNotFound("edge", id.String())
	}
	return e, nil
}

type fakeEmbedder struct {
	mu       sync.Mutex
	disabled bool
	model    string
	dims     int
	err      error
	failOn   string
	calls    int
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := f.EmbedDocuments(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, documents []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.disabled {
		return nil, errors.New("embeddings provider not configured")
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(documents))
	for i, d := range documents {
		if f.failOn != "" && d == f.failOn {
			return nil, errors.New("rate limited")
		}
		out[i] = make([]float32, f.dims)
	}
	return out, nil
}

func (f *fakeEmbedder) IsEnabled() bool      { return !f.disabled }
func (f *fakeEmbedder) ProviderName() string { return "fake" }
func (f *fakeEmbedder) Model() string        { return f.model }

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// =============================================================================
// Fixture
// =============================================================================

type fixture struct {
	svc      *Service
	records  *fakeRecords
	vectors  *fakeVectors
	graph    *fakeGraph
	embedder *fakeEmbedder
	audit    *audit.MemoryRecorder
	tenant   uuid.UUID
	ctx      context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		records:  newFakeRecords(),
		vectors:  &fakeVectors{},
		graph:    &fakeGraph{nodes: map[uuid.UUID]*graph.Node{}, edges: map[uuid.UUID]*graph.Edge{}},
		embedder: &fakeEmbedder{model: "text-embedding-004", dims: 8},
		audit:    &audit.MemoryRecorder{},
		tenant:   uuid.New(),
		ctx:      context.Background(),
	}
	cfg := &config.Config{}
	cfg.Embeddings.Dimension = 8
	cfg.Embeddings.BatchConcurrency = 2
	f.svc = NewService(f.records, f.vectors, f.graph, f.embedder, f.audit, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

func (f *fixture) node(label string, typ graph.NodeType) *graph.Node {
	n := &graph.Node{ID: uuid.New(), TenantID: f.tenant, Label: label, NodeType: typ, IsActive: true}
	f.graph.nodes[n.ID] = n
	return n
}

func (f *fixture) edge(src, tgt *graph.Node, typ graph.EdgeType) *graph.Edge {
	e := &graph.Edge{ID: uuid.New(), TenantID: f.tenant, SourceNodeID: src.ID, TargetNodeID: tgt.ID, EdgeType: typ, IsActive: true}
	f.graph.edges[e.ID] = e
	return e
}

// =============================================================================
// Generation
// =============================================================================

func TestGenerateNodeEmbedding(t *testing.T) {
	f := newFixture(t)
	n := f.node("Acme", graph.NodeTypeOrganization)

	res, err := f.svc.GenerateNodeEmbedding(f.ctx, f.tenant, nil, n.ID, false)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 8, res.Dimensions)
	assert.Equal(t, ContentHash("Acme"), res.ContentHash)
	require.NotNil(t, res.RecordID)

	cur, err := f.records.Current(f.ctx, f.tenant, KindNode, n.ID)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, "fake", cur.Provider)
	assert.Equal(t, "text-embedding-004", cur.ModelVersion)
	assert.Equal(t, "Acme", cur.ContextText)
	assert.Len(t, cur.Embedding.Slice(), 8)

	entries := f.audit.ByAction(audit.ActionEmbeddingsGenerated)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Details["generated"])
}

func TestGenerate_SkipsUnchangedContent(t *testing.T) {
	f := newFixture(t)
	n := f.node("Acme", graph.NodeTypeOrganization)

	_, err := f.svc.GenerateNodeEmbedding(f.ctx, f.tenant, nil, n.ID, false)
	require.NoError(t, err)

	res, err := f.svc.GenerateNodeEmbedding(f.ctx, f.tenant, nil, n.ID, false)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 1, f.embedder.callCount())

	t.Run("force regenerates", func(t *testing.T) {
		res, err := f.svc.GenerateNodeEmbedding(f.ctx, f.tenant, nil, n.ID, true)
		require.NoError(t, err)
		assert.False(t, res.Skipped)
		assert.Equal(t, 2, f.embedder.callCount())
	})

	t.Run("content change regenerates", func(t *testing.T) {
		n.Label = "Acme Corp"
		res, err := f.svc.GenerateNodeEmbedding(f.ctx, f.tenant, nil, n.ID, false)
		require.NoError(t, err)
		assert.False(t, res.Skipped)
	})

	t.Run("model change regenerates", func(t *testing.T) {
		f.embedder.model = "text-embedding-005"
		res, err := f.svc.GenerateNodeEmbedding(f.ctx, f.tenant, nil, n.ID, false)
		require.NoError(t, err)
		assert.False(t, res.Skipped)
	})

	history, err := f.svc.History(f.ctx, f.tenant, KindNode, n.ID)
	require.NoError(t, err)
	assert.Len(t, history, 4)
	assert.Equal(t, 1, f.records.currentCount(KindNode, n.ID))
	assert.True(t, history[0].IsCurrent)
	assert.Equal(t, "text-embedding-005", history[0].ModelVersion)
}

func TestGenerateEdgeEmbedding(t *testing.T) {
	f := newFixture(t)
	a := f.node("Ada", graph.NodeTypePerson)
	b := f.node("Acme", graph.NodeTypeOrganization)
	e := f.edge(a, b, graph.EdgeTypeWorksFor)

	res, err := f.svc.GenerateEdgeEmbedding(f.ctx, f.tenant, nil, e.ID, false)
	require.NoError(t, err)
	assert.Equal(t, KindEdge, res.Kind)
	assert.Equal(t, ContentHash("works_for"), res.ContentHash)
}

func TestGenerate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *fixture)
		wantErr error
	}{
		{
			name:    "provider disabled",
			setup:   func(f *fixture) { f.embedder.disabled = true },
			wantErr: apperror.ErrUpstream,
		},
		{
			name:    "provider failure",
			setup:   func(f *fixture) { f.embedder.err = errors.New("quota exceeded") },
			wantErr: apperror.ErrUpstream,
		},
		{
			name:    "dimension mismatch",
			setup:   func(f *fixture) { f.embedder.dims = 4 },
			wantErr: apperror.ErrUpstream,
		},
		{
			name:    "store failure",
			setup:   func(f *fixture) { f.records.replaceErr = apperror.ErrDatabase },
			wantErr: apperror.ErrDatabase,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			n := f.node("Acme", graph.NodeTypeOrganization)
			tt.setup(f)

			_, err := f.svc.GenerateNodeEmbedding(f.ctx, f.tenant, nil, n.ID, false)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, f.audit.Entries())
			assert.Equal(t, 0, f.records.currentCount(KindNode, n.ID))
		})
	}

	t.Run("unknown node", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.GenerateNodeEmbedding(f.ctx, f.tenant, nil, uuid.New(), false)
		assert.ErrorIs(t, err, apperror.ErrNotFound)
	})

	t.Run("other tenant's node", func(t *testing.T) {
		f := newFixture(t)
		n := f.node("Acme", graph.NodeTypeOrganization)
		_, err := f.svc.GenerateNodeEmbedding(f.ctx, uuid.New(), nil, n.ID, false)
		assert.ErrorIs(t, err, apperror.ErrNotFound)
	})
}

func TestGenerateBatch(t *testing.T) {
	f := newFixture(t)
	a := f.node("Ada", graph.NodeTypePerson)
	b := f.node("Acme", graph.NodeTypeOrganization)
	c := f.node("Broken", graph.NodeTypeOther)
	e := f.edge(a, b, graph.EdgeTypeWorksFor)
	f.embedder.failOn = "Broken"

	_, err := f.svc.GenerateNodeEmbedding(f.ctx, f.tenant, nil, b.ID, false)
	require.NoError(t, err)

	missing := uuid.New()
	res, err := f.svc.GenerateBatch(f.ctx, f.tenant, nil, BatchRequest{
		NodeIDs: []uuid.UUID{a.ID, b.ID, a.ID, c.ID, missing},
		EdgeIDs: []uuid.UUID{e.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Generated)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 2, res.Failed)
	assert.Len(t, res.Results, 3)

	failed := make([]uuid.UUID, 0, len(res.Failures))
	for _, fl := range res.Failures {
		failed = append(failed, fl.EntityID)
	}
	want := []uuid.UUID{c.ID, missing}
	sortIDs(failed)
	sortIDs(want)
	assert.Equal(t, want, failed)

	entries := f.audit.ByAction(audit.ActionEmbeddingsGenerated)
	require.Len(t, entries, 2)
	last := entries[1]
	assert.Equal(t, 2, last.Details["generated"])
	assert.Equal(t, 1, last.Details["skipped"])
	assert.Equal(t, 2, last.Details["failed"])
	assert.Equal(t, 1, f.records.currentCount(KindNode, a.ID))
}

func TestGenerateBatch_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GenerateBatch(f.ctx, f.tenant, nil, BatchRequest{})
	assert.ErrorIs(t, err, apperror.ErrValidation)

	ids := make([]uuid.UUID, maxBatchSize+1)
	for i := range ids {
		ids[i] = uuid.New()
	}
	_, err = f.svc.GenerateBatch(f.ctx, f.tenant, nil, BatchRequest{NodeIDs: ids})
	assert.ErrorIs(t, err, apperror.ErrValidation)
	assert.Empty(t, f.audit.Entries())
}

func sortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
}

// =============================================================================
// Search
// =============================================================================

func TestSemanticSearch(t *testing.T) {
	f := newFixture(t)
	a := f.node("Ada", graph.NodeTypePerson)
	b := f.node("Acme", graph.NodeTypeOrganization)
	gone := f.node("Gone", graph.NodeTypeOrganization)
	gone.IsActive = false

	f.vectors.hits = []VectorHit{
		{EntityID: b.ID, Similarity: 0.81, ContextText: "Acme"},
		{EntityID: uuid.New(), Similarity: 0.95, ContextText: "deleted"},
		{EntityID: a.ID, Similarity: 0.92, ContextText: "Ada"},
		{EntityID: gone.ID, Similarity: 0.9, ContextText: "Gone"},
	}

	resp, err := f.svc.SemanticSearch(f.ctx, f.tenant, SearchRequest{QueryText: "who works at acme"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "Ada", resp.Results[0].Node.Label)
	assert.Equal(t, 0.92, resp.Results[0].Similarity)
	assert.Equal(t, "Acme", resp.Results[1].MatchedText)
	assert.Equal(t, 2, resp.TotalCount)
	assert.Equal(t, 0.7, resp.Threshold)
	assert.Equal(t, 0.7, f.vectors.threshold)
	assert.Equal(t, 10, f.vectors.limit)
}

func TestSemanticSearch_Parameters(t *testing.T) {
	threshold := func(v float64) *float64 { return &v }
	tests := []struct {
		name          string
		req           SearchRequest
		wantThreshold float64
		wantLimit     int
		wantTypes     []graph.NodeType
	}{
		{
			name:          "explicit threshold",
			req:           SearchRequest{QueryText: "q", Threshold: threshold(0.5), Limit: 25},
			wantThreshold: 0.5,
			wantLimit:     25,
		},
		{
			name:          "threshold clamped",
			req:           SearchRequest{QueryText: "q", Threshold: threshold(1.4)},
			wantThreshold: 1,
			wantLimit:     10,
		},
		{
			name:          "limit clamped",
			req:           SearchRequest{QueryText: "q", Limit: 5000},
			wantThreshold: 0.7,
			wantLimit:     100,
		},
		{
			name:          "node types",
			req:           SearchRequest{QueryText: "q", NodeTypes: []string{"person", " organization "}},
			wantThreshold: 0.7,
			wantLimit:     10,
			wantTypes:     []graph.NodeType{graph.NodeTypePerson, graph.NodeTypeOrganization},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			resp, err := f.svc.SemanticSearch(f.ctx, f.tenant, tt.req)
			require.NoError(t, err)
			assert.Empty(t, resp.Results)
			assert.Equal(t, tt.wantThreshold, f.vectors.threshold)
			assert.Equal(t, tt.wantLimit, f.vectors.limit)
			assert.Equal(t, tt.wantTypes, f.vectors.types)
		})
	}
}

func TestSemanticSearch_Errors(t *testing.T) {
	tests := []struct {
		name    string
		req     SearchRequest
		setup   func(f *fixture)
		wantErr error
	}{
		{name: "empty query", req: SearchRequest{QueryText: "  "}, wantErr: apperror.ErrValidation},
		{name: "unknown node type", req: SearchRequest{QueryText: "q", NodeTypes: []string{"planet"}}, wantErr: apperror.ErrValidation},
		{
			name:    "provider disabled",
			req:     SearchRequest{QueryText: "q"},
			setup:   func(f *fixture) { f.embedder.disabled = true },
			wantErr: apperror.ErrUpstream,
		},
		{
			name:    "vector search failure",
			req:     SearchRequest{QueryText: "q"},
			setup:   func(f *fixture) { f.vectors.err = errors.New("connection reset") },
			wantErr: apperror.ErrUpstream,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(f)
			}
			_, err := f.svc.SemanticSearch(f.ctx, f.tenant, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSearchNodes_ImplementsSemanticSearcher(t *testing.T) {
	f := newFixture(t)
	a := f.node("Ada", graph.NodeTypePerson)
	f.vectors.hits = []VectorHit{{EntityID: a.ID, Similarity: 0.8, ContextText: "Ada"}}

	var searcher graph.SemanticSearcher = f.svc
	matches, err := searcher.SearchNodes(f.ctx, f.tenant, "ada", nil, 0.3, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, a.ID, matches[0].Node.ID)
	assert.Equal(t, 0.3, f.vectors.threshold)
	assert.Equal(t, 5, f.vectors.limit)
}
