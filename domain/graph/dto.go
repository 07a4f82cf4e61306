package graph

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Optional distinguishes a field that was absent from one explicitly set,
// including an explicit null.
type Optional[T any] struct {
	Set   bool
	Null  bool
	Value T
}

// Some returns an Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Set: true, Value: v}
}

// Null returns an Optional explicitly set to null.
func Null[T any]() Optional[T] {
	return Optional[T]{Set: true, Null: true}
}

// IsZero reports whether the field was absent. Used by omitzero.
func (o Optional[T]) IsZero() bool {
	return !o.Set
}

// UnmarshalJSON is only invoked for keys present in the payload.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Null = true
		var zero T
		o.Value = zero
		return nil
	}
	o.Null = false
	return json.Unmarshal(data, &o.Value)
}

// MarshalJSON writes null for explicit nulls.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Set || o.Null {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// ptrOrNil returns nil for explicit null, else a pointer to the value.
func ptrOrNil[T any](o Optional[T]) *T {
	if o.Null {
		return nil
	}
	v := o.Value
	return &v
}

// CreateNodeRequest is the payload for creating a node.
type CreateNodeRequest struct {
	NodeType        NodeType   `json:"nodeType"`
	Label           string     `json:"label"`
	Description     *string    `json:"description,omitempty"`
	ExternalID      *string    `json:"externalId,omitempty"`
	SourceSystem    *string    `json:"sourceSystem,omitempty"`
	SourceTable     *string    `json:"sourceTable,omitempty"`
	Properties      Properties `json:"properties,omitempty"`
	Tags            []string   `json:"tags,omitempty"`
	Categories      []string   `json:"categories,omitempty"`
	ValidFrom       *time.Time `json:"validFrom,omitempty"`
	ValidTo         *time.Time `json:"validTo,omitempty"`
	ConfidenceScore *float64   `json:"confidenceScore,omitempty"`
	IsActive        *bool      `json:"isActive,omitempty"`
}

// UpdateNodeRequest applies only the fields present in the payload.
type UpdateNodeRequest struct {
	NodeType        Optional[NodeType]   `json:"nodeType,omitzero"`
	Label           Optional[string]     `json:"label,omitzero"`
	Description     Optional[string]     `json:"description,omitzero"`
	ExternalID      Optional[string]     `json:"externalId,omitzero"`
	SourceSystem    Optional[string]     `json:"sourceSystem,omitzero"`
	SourceTable     Optional[string]     `json:"sourceTable,omitzero"`
	Properties      Optional[Properties] `json:"properties,omitzero"`
	Tags            Optional[[]string]   `json:"tags,omitzero"`
	Categories      Optional[[]string]   `json:"categories,omitzero"`
	ValidFrom       Optional[time.Time]  `json:"validFrom,omitzero"`
	ValidTo         Optional[time.Time]  `json:"validTo,omitzero"`
	ConfidenceScore Optional[float64]    `json:"confidenceScore,omitzero"`
	IsActive        Optional[bool]       `json:"isActive,omitzero"`
}

// CreateEdgeRequest is the payload for creating an edge.
type CreateEdgeRequest struct {
	SourceNodeID    uuid.UUID  `json:"sourceNodeId"`
	TargetNodeID    uuid.UUID  `json:"targetNodeId"`
	EdgeType        EdgeType   `json:"edgeType"`
	Label           *string    `json:"label,omitempty"`
	Description     *string    `json:"description,omitempty"`
	Properties      Properties `json:"properties,omitempty"`
	Weight          *float64   `json:"weight,omitempty"`
	IsBidirectional bool       `json:"isBidirectional,omitempty"`
	ValidFrom       *time.Time `json:"validFrom,omitempty"`
	ValidTo         *time.Time `json:"validTo,omitempty"`
	SourceSystem    *string    `json:"sourceSystem,omitempty"`
	InferenceMethod *string    `json:"inferenceMethod,omitempty"`
	ConfidenceScore *float64   `json:"confidenceScore,omitempty"`
	IsActive        *bool      `json:"isActive,omitempty"`
}

// UpdateEdgeRequest applies only the fields present in the payload.
// Endpoints are immutable; re-pointing is done by merge only.
type UpdateEdgeRequest struct {
	EdgeType        Optional[EdgeType]   `json:"edgeType,omitzero"`
	Label           Optional[string]     `json:"label,omitzero"`
	Description     Optional[string]     `json:"description,omitzero"`
	Properties      Optional[Properties] `json:"properties,omitzero"`
	Weight          Optional[float64]    `json:"weight,omitzero"`
	IsBidirectional Optional[bool]       `json:"isBidirectional,omitzero"`
	ValidFrom       Optional[time.Time]  `json:"validFrom,omitzero"`
	ValidTo         Optional[time.Time]  `json:"validTo,omitzero"`
	SourceSystem    Optional[string]     `json:"sourceSystem,omitzero"`
	InferenceMethod Optional[string]     `json:"inferenceMethod,omitzero"`
	ConfidenceScore Optional[float64]    `json:"confidenceScore,omitzero"`
	IsActive        Optional[bool]       `json:"isActive,omitzero"`
}

// NodeListParams filters and pages node listings.
// Type filter values are raw strings and are validated before use.
type NodeListParams struct {
	NodeTypes    []string
	Tags         []string
	Categories   []string
	Search       string
	SourceSystem string
	IsActive     *bool
	ClusterID    *uuid.UUID
	CommunityID  *uuid.UUID
	SortBy       string
	SortOrder    string
	Limit        int
	Offset       int
}

// EdgeListParams filters and pages edge listings.
type EdgeListParams struct {
	EdgeTypes       []string
	SourceNodeID    *uuid.UUID
	TargetNodeID    *uuid.UUID
	NodeID          *uuid.UUID
	IsBidirectional *bool
	SourceSystem    string
	IsActive        *bool
	SortBy          string
	SortOrder       string
	Limit           int
	Offset          int
}

// NodeFilter is a validated NodeListParams.
type NodeFilter struct {
	NodeTypes    []NodeType
	Tags         []string
	Categories   []string
	Search       string
	SourceSystem string
	IsActive     *bool
	ClusterID    *uuid.UUID
	CommunityID  *uuid.UUID
	SortBy       string
	Desc         bool
	Limit        int
	Offset       int
}

// EdgeFilter is a validated EdgeListParams.
type EdgeFilter struct {
	EdgeTypes       []EdgeType
	SourceNodeID    *uuid.UUID
	TargetNodeID    *uuid.UUID
	NodeID          *uuid.UUID
	IsBidirectional *bool
	SourceSystem    string
	IsActive        *bool
	SortBy          string
	Desc            bool
	Limit           int
	Offset          int
}

// NodeListResponse is a page of nodes.
type NodeListResponse struct {
	Data   []*Node `json:"data"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// EdgeListResponse is a page of edges.
type EdgeListResponse struct {
	Data   []*Edge `json:"data"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// NeighborsResponse is the one-hop neighborhood of a node.
type NeighborsResponse struct {
	Node      *Node   `json:"node"`
	Neighbors []*Node `json:"neighbors"`
	Edges     []*Edge `json:"edges"`
}

// Path is an ordered chain of nodes connected by edges.
type Path struct {
	NodeIDs []uuid.UUID `json:"nodeIds"`
	EdgeIDs []uuid.UUID `json:"edgeIds"`
	Length  int         `json:"length"`
}

// TraverseRequest configures a breadth-first traversal.
type TraverseRequest struct {
	StartNodeID uuid.UUID `json:"startNodeId"`
	Direction   Direction `json:"direction,omitempty"`
	MaxDepth    int       `json:"maxDepth,omitempty"`
	NodeTypes   []string  `json:"nodeTypes,omitempty"`
	EdgeTypes   []string  `json:"edgeTypes,omitempty"`
	Limit       int       `json:"limit,omitempty"`
}

// VisitedNode is a node reached during traversal and its hop distance.
type VisitedNode struct {
	Node  *Node `json:"node"`
	Depth int   `json:"depth"`
}

// TraverseResult is the output of a traversal.
type TraverseResult struct {
	StartNode *Node         `json:"startNode"`
	Nodes     []VisitedNode `json:"nodes"`
	Paths     []Path        `json:"paths"`
	Truncated bool          `json:"truncated"`
}

// ShortestPathRequest asks for a hop-minimal path.
type ShortestPathRequest struct {
	FromNodeID uuid.UUID `json:"fromNodeId"`
	ToNodeID   uuid.UUID `json:"toNodeId"`
	MaxDepth   int       `json:"maxDepth,omitempty"`
}

// ShortestPath is a found path with its hydrated elements.
// TotalWeight sums edge weights along the path; the search itself is hop-based.
type ShortestPath struct {
	Path
	Nodes       []*Node `json:"nodes"`
	Edges       []*Edge `json:"edges"`
	TotalWeight float64 `json:"totalWeight"`
}

// ShortestPathResponse wraps a possibly absent path.
type ShortestPathResponse struct {
	Path *ShortestPath `json:"path"`
}

// PathExplanation is the narrative for a path.
type PathExplanation struct {
	Explanation      string   `json:"explanation"`
	Reasoning        []string `json:"reasoning"`
	Confidence       float64  `json:"confidence"`
	KeyRelationships []string `json:"keyRelationships"`
}

// ExplainPathResponse carries the path and its explanation.
type ExplainPathResponse struct {
	Path        *ShortestPath    `json:"path"`
	Explanation *PathExplanation `json:"explanation"`
}

// MergeStrategy chooses the surviving node of a merge.
type MergeStrategy string

const (
	MergeIntoTarget MergeStrategy = "into_target"
	MergeCreateNew  MergeStrategy = "create_new"
)

// MergeRequest consolidates duplicate nodes.
type MergeRequest struct {
	SourceIDs      []uuid.UUID   `json:"sourceIds"`
	Strategy       MergeStrategy `json:"strategy"`
	TargetID       *uuid.UUID    `json:"targetId,omitempty"`
	PreserveEdges  bool          `json:"preserveEdges"`
	NewLabel       *string       `json:"newLabel,omitempty"`
	NewDescription *string       `json:"newDescription,omitempty"`
}

// MergeResult reports what a merge persisted.
type MergeResult struct {
	Node           *Node       `json:"node"`
	MergedNodeIDs  []uuid.UUID `json:"mergedNodeIds"`
	EdgesPreserved int         `json:"edgesPreserved"`
	EdgesRemoved   int         `json:"edgesRemoved"`
}

// FilterOperator is a comparison in the query filter language.
type FilterOperator string

const (
	OpEquals      FilterOperator = "equals"
	OpNotEquals   FilterOperator = "not_equals"
	OpContains    FilterOperator = "contains"
	OpGreaterThan FilterOperator = "greater_than"
	OpLessThan    FilterOperator = "less_than"
	OpIn          FilterOperator = "in"
)

// FilterExpr is one field comparison. Filters are ANDed.
type FilterExpr struct {
	Field    string         `json:"field"`
	Operator FilterOperator `json:"operator"`
	Value    any            `json:"value"`
}

// QueryRequest is the input of the unified query façade.
type QueryRequest struct {
	SemanticQuery       string       `json:"semanticQuery,omitempty"`
	SimilarityThreshold *float64     `json:"similarityThreshold,omitempty"`
	StartNodeID         *uuid.UUID   `json:"startNodeId,omitempty"`
	Direction           Direction    `json:"direction,omitempty"`
	MaxDepth            int          `json:"maxDepth,omitempty"`
	NodeTypes           []string     `json:"nodeTypes,omitempty"`
	EdgeTypes           []string     `json:"edgeTypes,omitempty"`
	Filters             []FilterExpr `json:"filters,omitempty"`
	GroupBy             string       `json:"groupBy,omitempty"`
	Limit               int          `json:"limit,omitempty"`
}

// QueryMode names the branch the façade dispatched to.
type QueryMode string

const (
	QueryModeSemantic  QueryMode = "semantic"
	QueryModeTraversal QueryMode = "traversal"
	QueryModeFilter    QueryMode = "filter"
)

// SemanticMatch is a node ranked by vector similarity.
type SemanticMatch struct {
	Node        *Node   `json:"node"`
	Similarity  float64 `json:"similarity"`
	MatchedText string  `json:"matchedText"`
}

// QueryResult is the output of the unified query façade.
type QueryResult struct {
	Mode            QueryMode       `json:"mode"`
	Nodes           []*Node         `json:"nodes"`
	Edges           []*Edge         `json:"edges"`
	Paths           []Path          `json:"paths,omitempty"`
	Matches         []SemanticMatch `json:"matches,omitempty"`
	Groups          map[string]int  `json:"groups,omitempty"`
	TotalCount      int             `json:"totalCount"`
	ExecutionTimeMs int64           `json:"executionTimeMs"`
}

// RankedNode is an entry of a top-N list.
type RankedNode struct {
	ID    uuid.UUID `json:"id"`
	Label string    `json:"label"`
	Type  NodeType  `json:"nodeType"`
	Score float64   `json:"score"`
}

// GraphMetrics are aggregate statistics read from stored fields.
type GraphMetrics struct {
	TotalNodes   int            `json:"totalNodes"`
	ActiveNodes  int            `json:"activeNodes"`
	TotalEdges   int            `json:"totalEdges"`
	ActiveEdges  int            `json:"activeEdges"`
	NodesByType  map[string]int `json:"nodesByType"`
	EdgesByType  map[string]int `json:"edgesByType"`
	ClusterCount int            `json:"clusterCount"`
	TopByDegree  []RankedNode   `json:"topByDegree"`
	TopByRank    []RankedNode   `json:"topByPagerank"`
}

// CentralityResult summarizes a centrality computation.
type CentralityResult struct {
	NodesScored int `json:"nodesScored"`
	MaxDegree   int `json:"maxDegree"`
}

// ClusterResult summarizes a clustering computation.
type ClusterResult struct {
	ClusterCount  int `json:"clusterCount"`
	NodesAssigned int `json:"nodesAssigned"`
	LargestSize   int `json:"largestSize"`
}
