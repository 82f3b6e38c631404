package graph

import (
	"context"

	"github.com/google/uuid"

	"github.com/opsbridge/cmdb/internal/domain"
	"github.com/opsbridge/cmdb/internal/repository"
)

// stubStore is an in-memory store implementing the repository interfaces
// the graph package depends on.
type stubStore struct {
	cis      map[uuid.UUID]domain.ConfigurationItem
	types    map[uuid.UUID]domain.CIType
	relTypes map[uuid.UUID]domain.CIRelationshipType
	rels     map[uuid.UUID]domain.CIRelationship
	relOrder []uuid.UUID
	services map[uuid.UUID]repository.ServiceLink

	audited []domain.AuditEvent
}

func newStubStore() *stubStore {
	return &stubStore{
		cis:      map[uuid.UUID]domain.ConfigurationItem{},
		types:    map[uuid.UUID]domain.CIType{},
		relTypes: map[uuid.UUID]domain.CIRelationshipType{},
		rels:     map[uuid.UUID]domain.CIRelationship{},
		services: map[uuid.UUID]repository.ServiceLink{},
	}
}

func (s *stubStore) addCI(name string, criticality domain.Criticality) domain.ConfigurationItem {
	return s.addTypedCI(name, criticality, uuid.Nil)
}

func (s *stubStore) addTypedCI(name string, criticality domain.Criticality, typeID uuid.UUID) domain.ConfigurationItem {
	ci := domain.ConfigurationItem{
		ID:          uuid.New(),
		CIID:        domain.RandomCIID(),
		Name:        name,
		CITypeID:    typeID,
		Status:      domain.CIStatusActive,
		Criticality: criticality,
		Attributes:  map[string]any{},
	}
	s.cis[ci.ID] = ci
	return ci
}

func (s *stubStore) addRelType(name string, allowMultiple bool) domain.CIRelationshipType {
	rt := domain.CIRelationshipType{ID: uuid.New(), Name: name, AllowMultiple: allowMultiple}
	s.relTypes[rt.ID] = rt
	return rt
}

func (s *stubStore) addEdge(source, target uuid.UUID, typeID uuid.UUID) domain.CIRelationship {
	rel := domain.CIRelationship{
		ID:                 uuid.New(),
		SourceCIID:         source,
		TargetCIID:         target,
		RelationshipTypeID: typeID,
		IsActive:           true,
		Criticality:        domain.CriticalityMedium,
	}
	s.rels[rel.ID] = rel
	s.relOrder = append(s.relOrder, rel.ID)
	return rel
}

// CIRepository

func (s *stubStore) Create(ctx context.Context, ci domain.ConfigurationItem) (domain.ConfigurationItem, error) {
	ci.ID = uuid.New()
	s.cis[ci.ID] = ci
	return ci, nil
}

func (s *stubStore) GetByID(ctx context.Context, id uuid.UUID) (domain.ConfigurationItem, error) {
	ci, ok := s.cis[id]
	if !ok {
		return domain.ConfigurationItem{}, domain.NotFoundf("configuration item %s", id)
	}
	return ci, nil
}

func (s *stubStore) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.ConfigurationItem, error) {
	var out []domain.ConfigurationItem
	for _, id := range ids {
		if ci, ok := s.cis[id]; ok {
			out = append(out, ci)
		}
	}
	return out, nil
}

func (s *stubStore) GetByCIID(ctx context.Context, ciID string) (domain.ConfigurationItem, error) {
	for _, ci := range s.cis {
		if ci.CIID == ciID {
			return ci, nil
		}
	}
	return domain.ConfigurationItem{}, domain.NotFoundf("configuration item %s", ciID)
}

func (s *stubStore) Update(ctx context.Context, ci domain.ConfigurationItem) (domain.ConfigurationItem, error) {
	if _, ok := s.cis[ci.ID]; !ok {
		return domain.ConfigurationItem{}, domain.NotFoundf("configuration item %s", ci.ID)
	}
	s.cis[ci.ID] = ci
	return ci, nil
}

func (s *stubStore) List(ctx context.Context, limit, offset int) ([]domain.ConfigurationItem, int, error) {
	var out []domain.ConfigurationItem
	for _, ci := range s.cis {
		out = append(out, ci)
	}
	return out, len(out), nil
}

func (s *stubStore) CIIDExists(ctx context.Context, ciID string) (bool, error) {
	for _, ci := range s.cis {
		if ci.CIID == ciID {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubStore) FindBySerialNumber(ctx context.Context, serial string) (domain.ConfigurationItem, bool, error) {
	for _, ci := range s.cis {
		if ci.StringAttribute("serialNumber") == serial {
			return ci, true, nil
		}
	}
	return domain.ConfigurationItem{}, false, nil
}

func (s *stubStore) FindByName(ctx context.Context, name string) (domain.ConfigurationItem, bool, error) {
	for _, ci := range s.cis {
		if ci.Name == name {
			return ci, true, nil
		}
	}
	return domain.ConfigurationItem{}, false, nil
}

func (s *stubStore) FindByIPAddress(ctx context.Context, ip string) (domain.ConfigurationItem, bool, error) {
	for _, ci := range s.cis {
		if ci.StringAttribute("ipAddress") == ip {
			return ci, true, nil
		}
	}
	return domain.ConfigurationItem{}, false, nil
}

func (s *stubStore) ListUnmapped(ctx context.Context) ([]domain.ConfigurationItem, error) {
	return nil, nil
}

func (s *stubStore) GetType(ctx context.Context, id uuid.UUID) (domain.CIType, error) {
	t, ok := s.types[id]
	if !ok {
		return domain.CIType{}, domain.NotFoundf("ci type %s", id)
	}
	return t, nil
}

func (s *stubStore) GetTypeByName(ctx context.Context, name string) (domain.CIType, error) {
	for _, t := range s.types {
		if t.Name == name {
			return t, nil
		}
	}
	return domain.CIType{}, domain.NotFoundf("ci type %s", name)
}

// RelationshipRepository

func (s *stubStore) GetRelationshipType(ctx context.Context, id uuid.UUID) (domain.CIRelationshipType, error) {
	rt, ok := s.relTypes[id]
	if !ok {
		return domain.CIRelationshipType{}, domain.NotFoundf("relationship type %s", id)
	}
	return rt, nil
}

func (s *stubStore) ListRelationshipTypes(ctx context.Context) ([]domain.CIRelationshipType, error) {
	var out []domain.CIRelationshipType
	for _, rt := range s.relTypes {
		out = append(out, rt)
	}
	return out, nil
}

func (s *stubStore) CreateRelationship(ctx context.Context, rel domain.CIRelationship, enforceSingle bool) (domain.CIRelationship, error) {
	rel.ID = uuid.New()
	rel.IsActive = true
	s.rels[rel.ID] = rel
	s.relOrder = append(s.relOrder, rel.ID)
	return rel, nil
}

// Create satisfies RelationshipRepository; the CIRepository Create lives on
// the same struct, so the relationship variant is exposed through relStore.
type relStore struct{ *stubStore }

func (s relStore) Create(ctx context.Context, rel domain.CIRelationship, enforceSingle bool) (domain.CIRelationship, error) {
	return s.CreateRelationship(ctx, rel, enforceSingle)
}

func (s relStore) GetByID(ctx context.Context, id uuid.UUID) (domain.CIRelationship, error) {
	rel, ok := s.rels[id]
	if !ok {
		return domain.CIRelationship{}, domain.NotFoundf("relationship %s", id)
	}
	return rel, nil
}

func (s *stubStore) SoftDelete(ctx context.Context, id uuid.UUID) (bool, error) {
	rel, ok := s.rels[id]
	if !ok {
		return false, nil
	}
	rel.IsActive = false
	s.rels[id] = rel
	return true, nil
}

func (s *stubStore) ExistsActive(ctx context.Context, sourceCIID, relationshipTypeID uuid.UUID) (bool, error) {
	for _, rel := range s.rels {
		if rel.IsActive && rel.SourceCIID == sourceCIID && rel.RelationshipTypeID == relationshipTypeID {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubStore) ListActiveFrom(ctx context.Context, sourceCIID uuid.UUID, relationshipTypeID *uuid.UUID) ([]domain.CIRelationship, error) {
	return s.listActive(sourceCIID, relationshipTypeID, true), nil
}

func (s *stubStore) ListActiveTo(ctx context.Context, targetCIID uuid.UUID, relationshipTypeID *uuid.UUID) ([]domain.CIRelationship, error) {
	return s.listActive(targetCIID, relationshipTypeID, false), nil
}

// listActive walks edges in insertion order so traversal-dependent results
// stay deterministic.
func (s *stubStore) listActive(ciID uuid.UUID, typeID *uuid.UUID, outgoing bool) []domain.CIRelationship {
	var out []domain.CIRelationship
	for _, id := range s.relOrder {
		rel := s.rels[id]
		if !rel.IsActive {
			continue
		}
		endpoint := rel.SourceCIID
		if !outgoing {
			endpoint = rel.TargetCIID
		}
		if endpoint != ciID {
			continue
		}
		if typeID != nil && rel.RelationshipTypeID != *typeID {
			continue
		}
		out = append(out, rel)
	}
	return out
}

// BusinessServiceRepository

func (s *stubStore) ListServicesForCIs(ctx context.Context, ciIDs []uuid.UUID) (map[uuid.UUID]repository.ServiceLink, error) {
	want := make(map[uuid.UUID]bool, len(ciIDs))
	for _, id := range ciIDs {
		want[id] = true
	}
	out := map[uuid.UUID]repository.ServiceLink{}
	for svcID, link := range s.services {
		filtered := repository.ServiceLink{Service: link.Service}
		for _, ciID := range link.LinkedCIIDs {
			if want[ciID] {
				filtered.LinkedCIIDs = append(filtered.LinkedCIIDs, ciID)
			}
		}
		if len(filtered.LinkedCIIDs) > 0 {
			out[svcID] = filtered
		}
	}
	return out, nil
}

// AuditRepository

func (s *stubStore) Record(ctx context.Context, event domain.AuditEvent) error {
	s.audited = append(s.audited, event)
	return nil
}

// CIBatchLoader

type stubLoader struct{ store *stubStore }

func (l stubLoader) Load(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.ConfigurationItem, error) {
	out := map[uuid.UUID]domain.ConfigurationItem{}
	for _, id := range ids {
		if ci, ok := l.store.cis[id]; ok {
			out[id] = ci
		}
	}
	return out, nil
}

func newTestManager(store *stubStore) *Manager {
	return NewManager(store, relStore{store}, stubLoader{store}, store)
}
