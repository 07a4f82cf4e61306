package graph

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/entitygraph/domain/audit"
	"github.com/emergent-company/entitygraph/internal/config"
	"github.com/emergent-company/entitygraph/pkg/apperror"
)

type fakeSearcher struct {
	matches   []SemanticMatch
	err       error
	threshold float64
	limit     int
	types     []NodeType
}

func (s *fakeSearcher) SearchNodes(_ context.Context, _ uuid.UUID, _ string, nodeTypes []NodeType, threshold float64, limit int) ([]SemanticMatch, error) {
	s.types, s.threshold, s.limit = nodeTypes, threshold, limit
	return s.matches, s.err
}

func withSearcher(f *fixture, s SemanticSearcher) {
	f.svc = NewService(f.store, s, nil, f.audit, &config.Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func labels(nodes []*Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Label)
	}
	return out
}

// catalog seeds a small product graph.
func catalog(t *testing.T, f *fixture) map[string]*Node {
	t.Helper()
	nodes := map[string]*Node{}
	nodes["Widget"] = f.node(t, "Widget", NodeTypeProduct,
		withProps(Properties{"price": float64(10), "region": "eu"}), withTags("hardware", "sale"))
	nodes["Gadget"] = f.node(t, "Gadget", NodeTypeProduct,
		withProps(Properties{"price": float64(25), "region": "us"}), withTags("hardware"))
	nodes["Service Plan"] = f.node(t, "Service Plan", NodeTypeProduct,
		withProps(Properties{"price": float64(99)}), withTags("software"))
	nodes["Acme"] = f.node(t, "Acme", NodeTypeOrganization, withProps(Properties{"region": "eu"}))
	nodes["Retired"] = f.node(t, "Retired", NodeTypeProduct, func(r *CreateNodeRequest) {
		r.Properties = Properties{"price": float64(5)}
		r.IsActive = ptr(false)
	})
	f.edge(t, nodes["Acme"], nodes["Widget"], EdgeTypeOwns)
	f.edge(t, nodes["Acme"], nodes["Gadget"], EdgeTypeOwns)
	return nodes
}

func TestQueryGraph_Filters(t *testing.T) {
	f := newFixture(t)
	catalog(t, f)

	tests := []struct {
		name    string
		req     QueryRequest
		want    []string
		edges   int
		errCode error
	}{
		{
			name:  "no filters returns active nodes oldest first",
			req:   QueryRequest{},
			want:  []string{"Widget", "Gadget", "Service Plan", "Acme"},
			edges: 2,
		},
		{
			name: "equals on property",
			req:  QueryRequest{Filters: []FilterExpr{{Field: "properties.region", Operator: OpEquals, Value: "eu"}}},
			want: []string{"Widget", "Acme"}, edges: 1,
		},
		{
			name: "not equals includes missing",
			req:  QueryRequest{NodeTypes: []string{"product"}, Filters: []FilterExpr{{Field: "properties.region", Operator: OpNotEquals, Value: "eu"}}},
			want: []string{"Gadget", "Service Plan"},
		},
		{
			name: "greater than",
			req:  QueryRequest{Filters: []FilterExpr{{Field: "properties.price", Operator: OpGreaterThan, Value: float64(20)}}},
			want: []string{"Gadget", "Service Plan"},
		},
		{
			name: "less than skips missing values",
			req:  QueryRequest{Filters: []FilterExpr{{Field: "properties.price", Operator: OpLessThan, Value: float64(50)}}},
			want: []string{"Widget", "Gadget"},
		},
		{
			name: "contains is case-insensitive substring",
			req:  QueryRequest{Filters: []FilterExpr{{Field: "label", Operator: OpContains, Value: "GET"}}},
			want: []string{"Widget", "Gadget"},
		},
		{
			name: "contains on a list is membership",
			req:  QueryRequest{Filters: []FilterExpr{{Field: "tags", Operator: OpContains, Value: "sale"}}},
			want: []string{"Widget"},
		},
		{
			name: "equals on a list is membership",
			req:  QueryRequest{Filters: []FilterExpr{{Field: "tags", Operator: OpEquals, Value: "hardware"}}},
			want: []string{"Widget", "Gadget"},
		},
		{
			name: "in",
			req:  QueryRequest{Filters: []FilterExpr{{Field: "node_type", Operator: OpIn, Value: []any{"organization", "location"}}}},
			want: []string{"Acme"},
		},
		{
			name: "filters are conjunctive",
			req: QueryRequest{Filters: []FilterExpr{
				{Field: "properties.region", Operator: OpEquals, Value: "eu"},
				{Field: "node_type", Operator: OpEquals, Value: "product"},
			}},
			want: []string{"Widget"},
		},
		{
			name: "is_active filter reaches inactive nodes",
			req:  QueryRequest{Filters: []FilterExpr{{Field: "is_active", Operator: OpEquals, Value: false}}},
			want: []string{"Retired"},
		},
		{
			name: "created_at accepts RFC 3339",
			req:  QueryRequest{Filters: []FilterExpr{{Field: "created_at", Operator: OpGreaterThan, Value: "2024-01-01T00:00:02Z"}}},
			want: []string{"Service Plan", "Acme"},
		},
		{
			name: "limit",
			req:  QueryRequest{Limit: 2},
			want: []string{"Widget", "Gadget"},
		},
		{name: "unknown field", req: QueryRequest{Filters: []FilterExpr{{Field: "secret", Operator: OpEquals, Value: "x"}}}, errCode: apperror.ErrValidation},
		{name: "unknown operator", req: QueryRequest{Filters: []FilterExpr{{Field: "label", Operator: "like", Value: "x"}}}, errCode: apperror.ErrValidation},
		{name: "in needs array", req: QueryRequest{Filters: []FilterExpr{{Field: "label", Operator: OpIn, Value: "x"}}}, errCode: apperror.ErrValidation},
		{name: "ordering a bool", req: QueryRequest{Filters: []FilterExpr{{Field: "is_active", Operator: OpGreaterThan, Value: true}}}, errCode: apperror.ErrValidation},
		{name: "bad timestamp", req: QueryRequest{Filters: []FilterExpr{{Field: "created_at", Operator: OpLessThan, Value: "yesterday"}}}, errCode: apperror.ErrValidation},
		{name: "empty property key", req: QueryRequest{Filters: []FilterExpr{{Field: "properties.", Operator: OpEquals, Value: "x"}}}, errCode: apperror.ErrValidation},
		{name: "unknown node type", req: QueryRequest{NodeTypes: []string{"ghost"}}, errCode: apperror.ErrValidation},
		{name: "node_type equals unknown value", req: QueryRequest{Filters: []FilterExpr{{Field: "node_type", Operator: OpEquals, Value: "widgetz"}}}, errCode: apperror.ErrValidation},
		{name: "node_type not_equals unknown value", req: QueryRequest{Filters: []FilterExpr{{Field: "node_type", Operator: OpNotEquals, Value: "widgetz"}}}, errCode: apperror.ErrValidation},
		{name: "node_type in with one unknown member", req: QueryRequest{Filters: []FilterExpr{{Field: "node_type", Operator: OpIn, Value: []any{"product", "bogus"}}}}, errCode: apperror.ErrValidation},
		{name: "node_type in string slice with unknown member", req: QueryRequest{Filters: []FilterExpr{{Field: "node_type", Operator: OpIn, Value: []string{"bogus"}}}}, errCode: apperror.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.svc.QueryGraph(f.ctx, f.tenant, f.actor, tt.req)
			if tt.errCode != nil {
				assert.ErrorIs(t, err, tt.errCode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, QueryModeFilter, res.Mode)
			assert.Equal(t, tt.want, labels(res.Nodes))
			assert.Equal(t, len(tt.want), res.TotalCount)
			assert.Len(t, res.Edges, tt.edges)
		})
	}
}

func TestQueryGraph_GroupBy(t *testing.T) {
	f := newFixture(t)
	catalog(t, f)

	res, err := f.svc.QueryGraph(f.ctx, f.tenant, f.actor, QueryRequest{GroupBy: "properties.region"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"eu": 2, "us": 1, "null": 1}, res.Groups)

	res, err = f.svc.QueryGraph(f.ctx, f.tenant, f.actor, QueryRequest{GroupBy: "node_type"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"product": 3, "organization": 1}, res.Groups)

	_, err = f.svc.QueryGraph(f.ctx, f.tenant, f.actor, QueryRequest{GroupBy: "tags"})
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = f.svc.QueryGraph(f.ctx, f.tenant, f.actor, QueryRequest{GroupBy: "nope"})
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestQueryGraph_FilterScanPages(t *testing.T) {
	f := newFixture(t)
	for i := range filterScanPageSize + 20 {
		f.node(t, "n", NodeTypeTopic, withProps(Properties{"i": float64(i)}))
	}

	res, err := f.svc.QueryGraph(f.ctx, f.tenant, f.actor, QueryRequest{
		Filters: []FilterExpr{{Field: "properties.i", Operator: OpGreaterThan, Value: float64(filterScanPageSize + 9)}},
	})
	require.NoError(t, err)
	assert.Len(t, res.Nodes, 10)
	assert.Equal(t, 2, f.store.listCalls)
}

func TestQueryGraph_Traversal(t *testing.T) {
	f := newFixture(t)
	a, b, c, _, _ := chain(t, f)

	res, err := f.svc.QueryGraph(f.ctx, f.tenant, f.actor, QueryRequest{StartNodeID: &a.ID, MaxDepth: 2})
	require.NoError(t, err)
	assert.Equal(t, QueryModeTraversal, res.Mode)
	assert.Equal(t, []uuid.UUID{a.ID, b.ID, c.ID}, nodeIDs(res.Nodes))
	assert.Len(t, res.Edges, 2)
	assert.Len(t, res.Paths, 2)
	assert.Equal(t, 3, res.TotalCount)

	entries := f.audit.ByAction(audit.ActionQueryExecuted)
	require.Len(t, entries, 1)
	assert.Equal(t, QueryModeTraversal, entries[0].Details["mode"])
	assert.Equal(t, 3, *entries[0].ResultCount)
	assert.Empty(t, f.audit.ByAction(audit.ActionTraversalExecuted))

	_, err = f.svc.QueryGraph(f.ctx, f.tenant, f.actor, QueryRequest{StartNodeID: ptr(uuid.New())})
	assert.True(t, apperror.IsNotFound(err))
}

func TestQueryGraph_Semantic(t *testing.T) {
	f := newFixture(t)
	nodes := catalog(t, f)
	searcher := &fakeSearcher{matches: []SemanticMatch{
		{Node: nodes["Acme"], Similarity: 0.93, MatchedText: "Acme"},
		{Node: nodes["Widget"], Similarity: 0.81, MatchedText: "Widget"},
	}}
	withSearcher(f, searcher)

	res, err := f.svc.QueryGraph(f.ctx, f.tenant, f.actor, QueryRequest{
		SemanticQuery: "who sells widgets",
		StartNodeID:   &nodes["Gadget"].ID,
		NodeTypes:     []string{"organization", "product"},
		Limit:         5,
	})
	require.NoError(t, err)
	assert.Equal(t, QueryModeSemantic, res.Mode)
	assert.Equal(t, []string{"Acme", "Widget"}, labels(res.Nodes))
	assert.Len(t, res.Matches, 2)
	assert.Len(t, res.Edges, 1)
	assert.InDelta(t, 0.7, searcher.threshold, 1e-9)
	assert.Equal(t, 5, searcher.limit)
	assert.Equal(t, []NodeType{NodeTypeOrganization, NodeTypeProduct}, searcher.types)

	_, err = f.svc.QueryGraph(f.ctx, f.tenant, f.actor, QueryRequest{SemanticQuery: "x", SimilarityThreshold: ptr(1.4)})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, searcher.threshold, 1e-9)
}

func TestQueryGraph_SemanticUnavailable(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.QueryGraph(f.ctx, f.tenant, f.actor, QueryRequest{SemanticQuery: "anything"})
	assert.ErrorIs(t, err, apperror.ErrUpstream)

	withSearcher(f, &fakeSearcher{err: apperror.NewUpstream("embedding provider", errors.New("timeout"))})
	_, err = f.svc.QueryGraph(f.ctx, f.tenant, f.actor, QueryRequest{SemanticQuery: "anything"})
	assert.ErrorIs(t, err, apperror.ErrUpstream)

	assert.Empty(t, f.audit.ByAction(audit.ActionQueryExecuted))
}

func TestGroupKey(t *testing.T) {
	cluster := uuid.New()
	n := &Node{
		Label:      "x",
		IsActive:   true,
		ClusterID:  &cluster,
		Properties: Properties{"n": float64(3), "nested": map[string]any{"a": float64(1)}},
	}

	tests := []struct {
		field string
		want  string
	}{
		{"label", "x"},
		{"is_active", "true"},
		{"cluster_id", cluster.String()},
		{"properties.n", "3"},
		{"properties.nested", `{"a":1}`},
		{"properties.missing", "null"},
		{"description", "null"},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			assert.Equal(t, tt.want, groupKey(n, tt.field))
		})
	}
}
