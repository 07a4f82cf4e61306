package snapshots

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/emergent-company/entitygraph/domain/graph"
)

// SnapshotType selects how much of the graph a snapshot stores.
type SnapshotType string

const (
	TypeFull        SnapshotType = "full"
	TypeIncremental SnapshotType = "incremental"
	TypeMetricsOnly SnapshotType = "metrics_only"
)

// Valid reports whether t is a known snapshot type.
func (t SnapshotType) Valid() bool {
	switch t {
	case TypeFull, TypeIncremental, TypeMetricsOnly:
		return true
	}
	return false
}

// Status is a snapshot generation state.
//
//	pending -> generating -> complete | failed
//
// Regenerate moves a complete or failed snapshot back to pending.
type Status string

const (
	StatusPending    Status = "pending"
	StatusGenerating Status = "generating"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// Terminal reports whether generation has finished.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusGenerating, StatusComplete, StatusFailed:
		return true
	}
	return false
}

// Snapshot is a point-in-time materialization of a tenant's graph.
type Snapshot struct {
	bun.BaseModel `bun:"table:kb.graph_snapshots,alias:s"`

	ID           uuid.UUID    `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	TenantID     uuid.UUID    `bun:"tenant_id,type:uuid,notnull" json:"tenantId"`
	Name         string       `bun:"name,notnull" json:"name"`
	Description  *string      `bun:"description" json:"description,omitempty"`
	SnapshotType SnapshotType `bun:"snapshot_type,notnull" json:"snapshotType"`
	Status       Status       `bun:"status,notnull,default:'pending'" json:"status"`
	NodeTypes    []string     `bun:"node_types,array,notnull,default:'{}'" json:"nodeTypes"`
	IncludeNodes bool         `bun:"include_nodes,notnull" json:"includeNodes"`
	IncludeEdges bool         `bun:"include_edges,notnull" json:"includeEdges"`

	NodeCount    int                 `bun:"node_count,notnull" json:"nodeCount"`
	EdgeCount    int                 `bun:"edge_count,notnull" json:"edgeCount"`
	ClusterCount int                 `bun:"cluster_count,notnull" json:"clusterCount"`
	Metrics      *graph.GraphMetrics `bun:"metrics,type:jsonb" json:"metrics,omitempty"`
	Nodes        []*graph.Node       `bun:"nodes,type:jsonb,nullzero" json:"nodes,omitempty"`
	Edges        []*graph.Edge       `bun:"edges,type:jsonb,nullzero" json:"edges,omitempty"`

	// Id sets are recorded for every type so the next snapshot can diff
	NodeIDs []uuid.UUID `bun:"node_ids,type:uuid[],array,notnull,default:'{}'" json:"-"`
	EdgeIDs []uuid.UUID `bun:"edge_ids,type:uuid[],array,notnull,default:'{}'" json:"-"`

	PreviousSnapshotID *uuid.UUID `bun:"previous_snapshot_id,type:uuid" json:"previousSnapshotId,omitempty"`
	Diff               *Diff      `bun:"diff,type:jsonb" json:"diff,omitempty"`
	ArchiveKey         *string    `bun:"archive_key" json:"archiveKey,omitempty"`
	ErrorMessage       *string    `bun:"error_message" json:"errorMessage,omitempty"`

	CreatedAt   time.Time  `bun:"created_at,notnull,default:now()" json:"createdAt"`
	StartedAt   *time.Time `bun:"started_at" json:"startedAt,omitempty"`
	CompletedAt *time.Time `bun:"completed_at" json:"completedAt,omitempty"`
	CreatedBy   *uuid.UUID `bun:"created_by,type:uuid" json:"createdBy,omitempty"`
}

// Diff is the id-set difference against the previous complete snapshot.
// Modified counts are always zero: entities are compared by id only.
type Diff struct {
	NodesAdded     int         `json:"nodesAdded"`
	NodesRemoved   int         `json:"nodesRemoved"`
	NodesModified  int         `json:"nodesModified"`
	EdgesAdded     int         `json:"edgesAdded"`
	EdgesRemoved   int         `json:"edgesRemoved"`
	EdgesModified  int         `json:"edgesModified"`
	AddedNodeIDs   []uuid.UUID `json:"addedNodeIds"`
	RemovedNodeIDs []uuid.UUID `json:"removedNodeIds"`
	AddedEdgeIDs   []uuid.UUID `json:"addedEdgeIds"`
	RemovedEdgeIDs []uuid.UUID `json:"removedEdgeIds"`
}
