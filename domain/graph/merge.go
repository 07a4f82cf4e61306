package graph

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/emergent-company/entitygraph/domain/audit"
	"github.com/emergent-company/entitygraph/pkg/apperror"
	"github.com/emergent-company/entitygraph/pkg/logger"
)

// MergeNodes consolidates duplicate nodes into one survivor.
//
// Properties are folded over the sources in creation order, so later
// sources win on key conflicts. Tags and categories are unioned. With
// PreserveEdges, edges of the non-surviving sources are re-pointed to the
// survivor except those that would become self-loops; those are removed
// with the deleted nodes. The sequence is not atomic and the returned
// counts reflect what was persisted. When deleting a source fails, the
// partial result is returned together with the error.
func (s *Service) MergeNodes(ctx context.Context, tenantID uuid.UUID, actorID *uuid.UUID, req MergeRequest) (_ *MergeResult, err error) {
	ctx, done := s.instrument(ctx, "merge_nodes", tenantID)
	defer func() { done(err) }()

	sourceIDs := uniqueIDs(req.SourceIDs)
	if len(sourceIDs) < 2 {
		return nil, apperror.NewValidation("at least two distinct source nodes are required")
	}
	switch req.Strategy {
	case MergeIntoTarget:
		if req.TargetID == nil || !slices.Contains(sourceIDs, *req.TargetID) {
			return nil, apperror.NewValidation("targetId must be one of sourceIds")
		}
	case MergeCreateNew:
	default:
		return nil, apperror.NewValidation(fmt.Sprintf("invalid merge strategy %q", req.Strategy))
	}
	if req.NewLabel != nil && strings.TrimSpace(*req.NewLabel) == "" {
		return nil, apperror.NewValidation("newLabel cannot be empty")
	}

	sources, err := s.store.GetNodes(ctx, tenantID, sourceIDs)
	if err != nil {
		return nil, err
	}
	for _, id := range sourceIDs {
		if !containsNode(sources, id) {
			return nil, apperror.NewNotFound("node", id.String())
		}
	}
	sortByCreation(sources)

	props, tags, categories := foldSources(sources)

	survivor, err := s.persistSurvivor(ctx, tenantID, actorID, req, sources, props, tags, categories)
	if err != nil {
		return nil, err
	}

	doomed := make(map[uuid.UUID]bool, len(sources))
	var doomedIDs []uuid.UUID
	for _, n := range sources {
		if n.ID != survivor.ID {
			doomed[n.ID] = true
			doomedIDs = append(doomedIDs, n.ID)
		}
	}

	edges, err := s.store.EdgesTouching(ctx, tenantID, doomedIDs)
	if err != nil {
		return nil, err
	}

	result := &MergeResult{Node: survivor, MergedNodeIDs: doomedIDs}
	resolve := func(id uuid.UUID) uuid.UUID {
		if doomed[id] {
			return survivor.ID
		}
		return id
	}
	for _, e := range edges {
		if !req.PreserveEdges {
			result.EdgesRemoved++
			continue
		}
		src, tgt := resolve(e.SourceNodeID), resolve(e.TargetNodeID)
		if src == tgt {
			result.EdgesRemoved++
			continue
		}
		if err := s.store.RepointEdge(ctx, tenantID, e.ID, src, tgt, actorID); err != nil {
			s.log.Warn("failed to re-point edge during merge",
				slog.String("edge_id", e.ID.String()),
				logger.Error(err))
			result.EdgesRemoved++
			continue
		}
		result.EdgesPreserved++
	}

	details := map[string]any{
		"strategy":      req.Strategy,
		"sourceIds":     sourceIDs,
		"preserveEdges": req.PreserveEdges,
	}
	for i, id := range doomedIDs {
		if _, err := s.store.DeleteNode(ctx, tenantID, id); err != nil {
			s.log.Error("merge left a source node behind",
				slog.String("node_id", id.String()),
				slog.Int("edges_preserved", result.EdgesPreserved),
				logger.Error(err))
			result.MergedNodeIDs = doomedIDs[:i]
			details["failedNodeId"] = id
			details["error"] = err.Error()
			s.recordMerge(ctx, tenantID, actorID, result, details)
			return result, err
		}
	}

	s.recordMerge(ctx, tenantID, actorID, result, details)
	return result, nil
}

// recordMerge writes the nodes.merged entry with the counts persisted so far.
func (s *Service) recordMerge(ctx context.Context, tenantID uuid.UUID, actorID *uuid.UUID, result *MergeResult, details map[string]any) {
	details["mergedNodeIds"] = result.MergedNodeIDs
	details["edgesPreserved"] = result.EdgesPreserved
	details["edgesRemoved"] = result.EdgesRemoved
	_, partial := details["failedNodeId"]
	details["complete"] = !partial
	s.record(ctx, tenantID, actorID, audit.ActionNodesMerged, audit.EntityNode, &result.Node.ID, details)
}

func (s *Service) persistSurvivor(ctx context.Context, tenantID uuid.UUID, actorID *uuid.UUID, req MergeRequest, sources []*Node, props Properties, tags, categories []string) (*Node, error) {
	if req.Strategy == MergeCreateNew {
		first := sources[0]
		node := &Node{
			TenantID:     tenantID,
			NodeType:     first.NodeType,
			Label:        first.Label,
			Description:  first.Description,
			SourceSystem: first.SourceSystem,
			Properties:   props,
			Tags:         tags,
			Categories:   categories,
			IsActive:     true,
			CreatedBy:    actorID,
			UpdatedBy:    actorID,
		}
		if req.NewLabel != nil {
			node.Label = strings.TrimSpace(*req.NewLabel)
		}
		if req.NewDescription != nil {
			node.Description = req.NewDescription
		}
		if err := s.store.InsertNode(ctx, node); err != nil {
			return nil, err
		}
		return node, nil
	}

	var survivor *Node
	for _, n := range sources {
		if n.ID == *req.TargetID {
			survivor = n
		}
	}
	survivor.Properties = props
	survivor.Tags = tags
	survivor.Categories = categories
	columns := []string{"properties", "tags", "categories"}
	if req.NewLabel != nil {
		survivor.Label = strings.TrimSpace(*req.NewLabel)
		columns = append(columns, "label")
	}
	if req.NewDescription != nil {
		survivor.Description = req.NewDescription
		columns = append(columns, "description")
	}
	survivor.UpdatedAt = time.Now().UTC()
	survivor.UpdatedBy = actorID
	if err := s.store.UpdateNode(ctx, survivor, append(columns, "updated_at", "updated_by")...); err != nil {
		return nil, err
	}
	return survivor, nil
}

// sortByCreation orders nodes by creation time, oldest first, id as tiebreak.
func sortByCreation(nodes []*Node) {
	slices.SortStableFunc(nodes, func(a, b *Node) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
}

// foldSources merges properties left to right and unions tags and categories.
func foldSources(sources []*Node) (Properties, []string, []string) {
	props := Properties{}
	var tags, categories []string
	for _, n := range sources {
		maps.Copy(props, n.Properties)
		tags = append(tags, n.Tags...)
		categories = append(categories, n.Categories...)
	}
	return props, normalizeSet(tags), normalizeSet(categories)
}
