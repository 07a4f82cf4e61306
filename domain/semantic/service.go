package semantic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/errgroup"

	"github.com/emergent-company/entitygraph/domain/audit"
	"github.com/emergent-company/entitygraph/domain/graph"
	"github.com/emergent-company/entitygraph/internal/config"
	"github.com/emergent-company/entitygraph/pkg/apperror"
	"github.com/emergent-company/entitygraph/pkg/embeddings"
	"github.com/emergent-company/entitygraph/pkg/logger"
	"github.com/emergent-company/entitygraph/pkg/mathutil"
	"github.com/emergent-company/entitygraph/pkg/metrics"
	"github.com/emergent-company/entitygraph/pkg/tracing"
)

const (
	defaultThreshold   = 0.7
	defaultSearchLimit = 10
	maxSearchLimit     = 100
	maxBatchSize       = 1000
)

// Embedder produces vectors for texts. Implemented by *embeddings.Service.
type Embedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
	EmbedDocuments(ctx context.Context, documents []string) ([][]float32, error)
	IsEnabled() bool
	ProviderName() string
	Model() string
}

// GraphReader loads the entities being embedded and searched.
type GraphReader interface {
	GetNode(ctx context.Context, tenantID, id uuid.UUID) (*graph.Node, error)
	GetNodes(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*graph.Node, error)
	GetEdge(ctx context.Context, tenantID, id uuid.UUID) (*graph.Edge, error)
}

// Service generates embeddings for nodes and edges and answers semantic
// node searches.
type Service struct {
	records     RecordStore
	vectors     VectorSearcher
	graph       GraphReader
	embedder    Embedder
	audit       audit.Recorder
	concurrency int
	dimension   int
	log         *slog.Logger
}

// NewService creates a new semantic service.
func NewService(records RecordStore, vectors VectorSearcher, reader GraphReader, embedder Embedder, recorder audit.Recorder, cfg *config.Config, log *slog.Logger) *Service {
	concurrency := cfg.Embeddings.BatchConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &Service{
		records:     records,
		vectors:     vectors,
		graph:       reader,
		embedder:    embedder,
		audit:       recorder,
		concurrency: concurrency,
		dimension:   cfg.Embeddings.Dimension,
		log:         log.With(logger.Scope("semantic.svc")),
	}
}

var _ graph.SemanticSearcher = (*Service)(nil)

// GenerateNodeEmbedding embeds a node unless its current record already
// matches its content and force is false.
func (s *Service) GenerateNodeEmbedding(ctx context.Context, tenantID uuid.UUID, actorID *uuid.UUID, nodeID uuid.UUID, force bool) (*GenerateResult, error) {
	start := time.Now()
	res, err := s.generate(ctx, tenantID, KindNode, nodeID, force)
	if err != nil {
		return nil, err
	}
	s.recordGenerated(ctx, tenantID, actorID, []GenerateResult{*res}, 0, start)
	return res, nil
}

// GenerateEdgeEmbedding embeds an edge unless its current record already
// matches its content and force is false.
func (s *Service) GenerateEdgeEmbedding(ctx context.Context, tenantID uuid.UUID, actorID *uuid.UUID, edgeID uuid.UUID, force bool) (*GenerateResult, error) {
	start := time.Now()
	res, err := s.generate(ctx, tenantID, KindEdge, edgeID, force)
	if err != nil {
		return nil, err
	}
	s.recordGenerated(ctx, tenantID, actorID, []GenerateResult{*res}, 0, start)
	return res, nil
}

type batchItem struct {
	kind EntityKind
	id   uuid.UUID
}

// GenerateBatch embeds many entities with bounded concurrency. Duplicate ids
// are collapsed so one entity is never processed twice at once. Per-entity
// failures are collected and never abort the batch.
func (s *Service) GenerateBatch(ctx context.Context, tenantID uuid.UUID, actorID *uuid.UUID, req BatchRequest) (_ *BatchResult, err error) {
	ctx, span := tracing.Start(ctx, "semantic.generate_batch",
		tracing.AttrTenantID.String(tenantID.String()),
		tracing.AttrOp.String("generate_batch"),
	)
	start := time.Now()
	defer func() {
		tracing.Fail(span, err)
		span.End()
		metrics.Observe("generate_embeddings", start, err)
	}()

	var items []batchItem
	seen := map[batchItem]bool{}
	add := func(kind EntityKind, ids []uuid.UUID) {
		for _, id := range ids {
			item := batchItem{kind: kind, id: id}
			if !seen[item] {
				seen[item] = true
				items = append(items, item)
			}
		}
	}
	add(KindNode, req.NodeIDs)
	add(KindEdge, req.EdgeIDs)

	if len(items) == 0 {
		return nil, apperror.NewValidation("nodeIds or edgeIds is required")
	}
	if len(items) > maxBatchSize {
		return nil, apperror.NewValidation(fmt.Sprintf("batch exceeds %d entities", maxBatchSize))
	}
	var mu sync.Mutex
	result := &BatchResult{Results: []GenerateResult{}, Failures: []Failure{}}

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, item := range items {
		g.Go(func() error {
			res, err := s.generate(ctx, tenantID, item.kind, item.id, req.Force)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failures = append(result.Failures, Failure{EntityID: item.id, Kind: item.kind, Error: err.Error()})
				return nil
			}
			result.Results = append(result.Results, *res)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range result.Results {
		if r.Skipped {
			result.Skipped++
		} else {
			result.Generated++
		}
	}
	result.Failed = len(result.Failures)

	s.recordGenerated(ctx, tenantID, actorID, result.Results, result.Failed, start)
	s.log.Info("embedding batch finished",
		slog.String("tenant_id", tenantID.String()),
		slog.Int("generated", result.Generated),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", result.Failed))
	return result, nil
}

func (s *Service) generate(ctx context.Context, tenantID uuid.UUID, kind EntityKind, id uuid.UUID, force bool) (res *GenerateResult, err error) {
	defer func() {
		switch {
		case err != nil:
			metrics.EmbeddingsTotal.WithLabelValues("failed").Inc()
		case res.Skipped:
			metrics.EmbeddingsTotal.WithLabelValues("skipped").Inc()
		default:
			metrics.EmbeddingsTotal.WithLabelValues("generated").Inc()
		}
	}()

	var text string
	switch kind {
	case KindNode:
		n, err := s.graph.GetNode(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		text = NodeContext(n)
	case KindEdge:
		e, err := s.graph.GetEdge(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		text = EdgeContext(e)
	default:
		return nil, apperror.NewValidation(fmt.Sprintf("invalid entity kind %q", kind))
	}
	hash := ContentHash(text)

	if !force {
		cur, err := s.records.Current(ctx, tenantID, kind, id)
		if err != nil {
			return nil, err
		}
		if cur != nil && cur.ContentHash == hash && cur.ModelVersion == s.embedder.Model() {
			return &GenerateResult{EntityID: id, Kind: kind, Skipped: true, RecordID: &cur.ID, Dimensions: cur.Dimensions, ContentHash: hash}, nil
		}
	}

	if !s.embedder.IsEnabled() {
		return nil, apperror.NewUpstream("embedding provider", embeddings.ErrDisabled)
	}
	vecs, err := s.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, apperror.NewUpstream("embedding provider", err)
	}
	if len(vecs) != 1 {
		return nil, apperror.NewUpstream("embedding provider",
			fmt.Errorf("expected 1 vector, got %d", len(vecs)))
	}
	vec := vecs[0]
	if s.dimension > 0 && len(vec) != s.dimension {
		return nil, apperror.NewUpstream("embedding provider",
			fmt.Errorf("expected %d dimensions, got %d", s.dimension, len(vec)))
	}

	rec := &Record{
		TenantID:     tenantID,
		EntityKind:   kind,
		EntityID:     id,
		Provider:     s.embedder.ProviderName(),
		ModelVersion: s.embedder.Model(),
		Embedding:    pgvector.NewVector(vec),
		Dimensions:   len(vec),
		ContextText:  text,
		ContentHash:  hash,
	}
	if err := s.records.Replace(ctx, rec); err != nil {
		return nil, err
	}
	return &GenerateResult{EntityID: id, Kind: kind, RecordID: &rec.ID, Dimensions: rec.Dimensions, ContentHash: hash}, nil
}

func (s *Service) recordGenerated(ctx context.Context, tenantID uuid.UUID, actorID *uuid.UUID, results []GenerateResult, failed int, start time.Time) {
	generated, skipped := 0, 0
	for _, r := range results {
		if r.Skipped {
			skipped++
		} else {
			generated++
		}
	}
	ms := time.Since(start).Milliseconds()
	s.audit.Record(ctx, audit.Entry{
		TenantID:   tenantID,
		ActorID:    actorID,
		Action:     audit.ActionEmbeddingsGenerated,
		EntityType: audit.EntityGraph,
		Details: map[string]any{
			"generated": generated,
			"skipped":   skipped,
			"failed":    failed,
			"provider":  s.embedder.ProviderName(),
			"model":     s.embedder.Model(),
		},
		ResultCount: &generated,
		DurationMs:  &ms,
	})
}

// History lists every embedding record kept for an entity, newest first.
func (s *Service) History(ctx context.Context, tenantID uuid.UUID, kind EntityKind, entityID uuid.UUID) ([]*Record, error) {
	if !kind.Valid() {
		return nil, apperror.NewValidation(fmt.Sprintf("invalid entity kind %q", kind))
	}
	return s.records.History(ctx, tenantID, kind, entityID)
}

// SemanticSearch ranks the tenant's active nodes by similarity to the query.
func (s *Service) SemanticSearch(ctx context.Context, tenantID uuid.UUID, req SearchRequest) (_ *SearchResponse, err error) {
	ctx, span := tracing.Start(ctx, "semantic.search",
		tracing.AttrTenantID.String(tenantID.String()),
		tracing.AttrOp.String("semantic_search"),
	)
	start := time.Now()
	defer func() {
		tracing.Fail(span, err)
		span.End()
		metrics.Observe("semantic_search", start, err)
	}()

	if strings.TrimSpace(req.QueryText) == "" {
		return nil, apperror.NewValidation("queryText is required")
	}
	var types []graph.NodeType
	for _, raw := range req.NodeTypes {
		t := graph.NodeType(strings.TrimSpace(raw))
		if !t.Valid() {
			return nil, apperror.NewValidation(fmt.Sprintf("unknown node type %q", raw))
		}
		types = append(types, t)
	}
	threshold := defaultThreshold
	if req.Threshold != nil {
		threshold = mathutil.ClampFloat(*req.Threshold, 0, 1)
	}
	limit := mathutil.ClampLimit(req.Limit, defaultSearchLimit, maxSearchLimit)

	matches, err := s.search(ctx, tenantID, req.QueryText, types, threshold, limit)
	if err != nil {
		return nil, err
	}
	return &SearchResponse{Results: matches, TotalCount: len(matches), Threshold: threshold}, nil
}

// SearchNodes implements graph.SemanticSearcher for the query façade.
func (s *Service) SearchNodes(ctx context.Context, tenantID uuid.UUID, query string, nodeTypes []graph.NodeType, threshold float64, limit int) ([]graph.SemanticMatch, error) {
	return s.search(ctx, tenantID, query, nodeTypes, threshold, limit)
}

func (s *Service) search(ctx context.Context, tenantID uuid.UUID, query string, nodeTypes []graph.NodeType, threshold float64, limit int) ([]graph.SemanticMatch, error) {
	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, apperror.NewUpstream("embedding provider", err)
	}

	hits, err := s.vectors.SearchNodes(ctx, tenantID, vec, nodeTypes, threshold, limit)
	if err != nil {
		if _, ok := apperror.As(err); ok {
			return nil, err
		}
		return nil, apperror.NewUpstream("vector search", err)
	}

	ids := make([]uuid.UUID, len(hits))
	for i, h := range hits {
		ids[i] = h.EntityID
	}
	nodes, err := s.graph.GetNodes(ctx, tenantID, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*graph.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	matches := make([]graph.SemanticMatch, 0, len(hits))
	for _, h := range hits {
		n := byID[h.EntityID]
		if n == nil || !n.IsActive {
			continue
		}
		matches = append(matches, graph.SemanticMatch{Node: n, Similarity: h.Similarity, MatchedText: h.ContextText})
	}
	slices.SortStableFunc(matches, func(a, b graph.SemanticMatch) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		}
		return 0
	})
	return matches, nil
}
