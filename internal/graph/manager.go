// Package graph owns the CMDB relationship graph: typed edge management,
// cycle prevention, impact analysis, and dependency tree construction. It
// holds no in-memory copy of the graph; every traversal step is a store
// round-trip.
package graph

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/opsbridge/cmdb/internal/domain"
	"github.com/opsbridge/cmdb/internal/repository"
)

// CIBatchLoader resolves a set of CIs in one batched store round-trip.
// Implemented by the ciloader package; stubbed directly in tests.
type CIBatchLoader interface {
	Load(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.ConfigurationItem, error)
}

// Manager creates and deletes typed directed edges between CIs, enforcing
// type constraints and multiplicity rules.
type Manager struct {
	cis       repository.CIRepository
	rels      repository.RelationshipRepository
	validator *CycleValidator
	loader    CIBatchLoader
	audit     repository.AuditRepository
}

// NewManager wires the graph manager.
func NewManager(cis repository.CIRepository, rels repository.RelationshipRepository, loader CIBatchLoader, audit repository.AuditRepository) *Manager {
	return &Manager{
		cis:       cis,
		rels:      rels,
		validator: NewCycleValidator(rels),
		loader:    loader,
		audit:     audit,
	}
}

// CreateRelationshipInput carries the parameters for a new edge. Source and
// target references accept either the opaque id or the CI business key.
type CreateRelationshipInput struct {
	SourceRef          string
	TargetRef          string
	RelationshipTypeID uuid.UUID
	Criticality        domain.Criticality
	Attributes         map[string]any
	CreatedBy          string
}

// CreateRelationship validates and commits a new edge. Checks run in order:
// reference resolution, type constraints, multiplicity, cycle closure. The
// duplicate check here is advisory; the store-level unique index is the
// guarantee under concurrent creates.
func (m *Manager) CreateRelationship(ctx context.Context, input CreateRelationshipInput) (domain.CIRelationship, error) {
	source, err := ResolveCI(ctx, m.cis, input.SourceRef)
	if err != nil {
		return domain.CIRelationship{}, fmt.Errorf("resolve source: %w", err)
	}
	target, err := ResolveCI(ctx, m.cis, input.TargetRef)
	if err != nil {
		return domain.CIRelationship{}, fmt.Errorf("resolve target: %w", err)
	}
	if source.ID == target.ID {
		return domain.CIRelationship{}, domain.Validationf("relationship source and target are the same CI")
	}

	relType, err := m.rels.GetRelationshipType(ctx, input.RelationshipTypeID)
	if err != nil {
		return domain.CIRelationship{}, err
	}

	if relType.SourceCITypeConstraint != nil && *relType.SourceCITypeConstraint != source.CITypeID {
		return domain.CIRelationship{}, fmt.Errorf("source CI type %s not allowed for relationship type %q: %w",
			source.CITypeID, relType.Name, domain.ErrTypeConstraintViolation)
	}
	if relType.TargetCITypeConstraint != nil && *relType.TargetCITypeConstraint != target.CITypeID {
		return domain.CIRelationship{}, fmt.Errorf("target CI type %s not allowed for relationship type %q: %w",
			target.CITypeID, relType.Name, domain.ErrTypeConstraintViolation)
	}

	if !relType.AllowMultiple {
		exists, err := m.rels.ExistsActive(ctx, source.ID, relType.ID)
		if err != nil {
			return domain.CIRelationship{}, err
		}
		if exists {
			return domain.CIRelationship{}, fmt.Errorf("active %q relationship already exists from %s: %w",
				relType.Name, source.CIID, domain.ErrDuplicateRelationship)
		}
	}

	cycle, err := m.validator.WouldCloseCycle(ctx, source.ID, target.ID)
	if err != nil {
		return domain.CIRelationship{}, err
	}
	if cycle {
		return domain.CIRelationship{}, fmt.Errorf("edge %s -> %s would close a dependency loop: %w",
			source.CIID, target.CIID, domain.ErrCircularDependency)
	}

	criticality := input.Criticality
	if criticality == "" {
		criticality = domain.CriticalityMedium
	}

	rel, err := m.rels.Create(ctx, domain.CIRelationship{
		SourceCIID:         source.ID,
		TargetCIID:         target.ID,
		RelationshipTypeID: relType.ID,
		Criticality:        criticality,
		Attributes:         input.Attributes,
		CreatedBy:          input.CreatedBy,
	}, !relType.AllowMultiple)
	if err != nil {
		return domain.CIRelationship{}, err
	}

	m.recordAudit(ctx, "relationship.create", rel.ID, input.CreatedBy, map[string]any{
		"source_ci": source.CIID,
		"target_ci": target.CIID,
		"type":      relType.Name,
	})
	return rel, nil
}

// DeleteRelationship soft-deletes an edge. Returns false when the id does
// not resolve; deleting an already-inactive edge is a no-op success.
func (m *Manager) DeleteRelationship(ctx context.Context, id uuid.UUID, deletedBy string) (bool, error) {
	found, err := m.rels.SoftDelete(ctx, id)
	if err != nil {
		return false, err
	}
	if found {
		m.recordAudit(ctx, "relationship.delete", id, deletedBy, nil)
	}
	return found, nil
}

// GetRelationships returns active edges around a CI in the requested
// direction(s), each annotated with the CI on the other side.
func (m *Manager) GetRelationships(ctx context.Context, ciRef string, filter domain.RelationshipFilter) ([]domain.RelationshipView, error) {
	ci, err := ResolveCI(ctx, m.cis, ciRef)
	if err != nil {
		return nil, err
	}

	direction := filter.Direction
	if direction == "" {
		direction = domain.DirectionBoth
	}

	type edge struct {
		rel       domain.CIRelationship
		direction domain.RelationshipDirection
		otherID   uuid.UUID
	}
	var edges []edge

	if direction == domain.DirectionOutgoing || direction == domain.DirectionBoth {
		rels, err := m.rels.ListActiveFrom(ctx, ci.ID, filter.RelationshipTypeID)
		if err != nil {
			return nil, err
		}
		for _, rel := range rels {
			edges = append(edges, edge{rel: rel, direction: domain.DirectionOutgoing, otherID: rel.TargetCIID})
		}
	}
	if direction == domain.DirectionIncoming || direction == domain.DirectionBoth {
		rels, err := m.rels.ListActiveTo(ctx, ci.ID, filter.RelationshipTypeID)
		if err != nil {
			return nil, err
		}
		for _, rel := range rels {
			edges = append(edges, edge{rel: rel, direction: domain.DirectionIncoming, otherID: rel.SourceCIID})
		}
	}

	otherIDs := make([]uuid.UUID, 0, len(edges))
	for _, e := range edges {
		otherIDs = append(otherIDs, e.otherID)
	}
	others, err := m.loader.Load(ctx, otherIDs)
	if err != nil {
		return nil, fmt.Errorf("load related CIs: %w", err)
	}

	views := make([]domain.RelationshipView, 0, len(edges))
	for _, e := range edges {
		views = append(views, domain.RelationshipView{
			Relationship: e.rel,
			Direction:    e.direction,
			OtherCI:      others[e.otherID],
		})
	}
	return views, nil
}

// recordAudit writes best effort; audit failures never fail the operation.
func (m *Manager) recordAudit(ctx context.Context, action string, entityID uuid.UUID, actor string, details map[string]any) {
	if m.audit == nil {
		return
	}
	err := m.audit.Record(ctx, domain.AuditEvent{
		Action:     action,
		EntityKind: "ci_relationship",
		EntityID:   entityID,
		Actor:      actor,
		Details:    details,
	})
	if err != nil {
		log.Printf("[GRAPH] audit write failed for %s: %v", action, err)
	}
}

// ResolveCI resolves a CI reference that is either an opaque id or a
// business key (CI followed by six digits).
func ResolveCI(ctx context.Context, cis repository.CIRepository, ref string) (domain.ConfigurationItem, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return cis.GetByID(ctx, id)
	}
	if domain.ValidCIID(ref) {
		return cis.GetByCIID(ctx, ref)
	}
	return domain.ConfigurationItem{}, domain.NotFoundf("configuration item reference %q", ref)
}
