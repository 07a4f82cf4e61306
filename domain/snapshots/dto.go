package snapshots

import (
	"github.com/google/uuid"

	"github.com/emergent-company/entitygraph/domain/graph"
)

// CreateSnapshotRequest asks for a new snapshot. Type defaults to full and
// both include flags default to true.
type CreateSnapshotRequest struct {
	Name         string       `json:"name"`
	Description  *string      `json:"description,omitempty"`
	SnapshotType SnapshotType `json:"snapshotType,omitempty"`
	NodeTypes    []string     `json:"nodeTypes,omitempty"`
	IncludeNodes *bool        `json:"includeNodes,omitempty"`
	IncludeEdges *bool        `json:"includeEdges,omitempty"`
}

// ListParams filters the snapshot listing.
type ListParams struct {
	Status       *Status
	SnapshotType *SnapshotType
	Limit        int
	Offset       int
}

// ListResponse is one page of snapshots, newest first, without payloads.
type ListResponse struct {
	Snapshots []*Snapshot `json:"snapshots"`
	Total     int         `json:"total"`
	Limit     int         `json:"limit"`
	Offset    int         `json:"offset"`
}

// archive is the object written to storage for a generated snapshot.
type archive struct {
	SnapshotID uuid.UUID           `json:"snapshotId"`
	TenantID   uuid.UUID           `json:"tenantId"`
	Name       string              `json:"name"`
	Type       SnapshotType        `json:"snapshotType"`
	Metrics    *graph.GraphMetrics `json:"metrics"`
	Nodes      []*graph.Node       `json:"nodes"`
	Edges      []*graph.Edge       `json:"edges"`
	Diff       *Diff               `json:"diff,omitempty"`
}
