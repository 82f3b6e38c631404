package repository

import (
	"context"

	"github.com/opsbridge/cmdb/internal/domain"

	"github.com/google/uuid"
)

// CIRepository defines the interface for configuration item operations.
type CIRepository interface {
	Create(ctx context.Context, ci domain.ConfigurationItem) (domain.ConfigurationItem, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.ConfigurationItem, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.ConfigurationItem, error)
	GetByCIID(ctx context.Context, ciID string) (domain.ConfigurationItem, error)
	Update(ctx context.Context, ci domain.ConfigurationItem) (domain.ConfigurationItem, error)
	List(ctx context.Context, limit int, offset int) ([]domain.ConfigurationItem, int, error)
	CIIDExists(ctx context.Context, ciID string) (bool, error)

	// Discovery match lookups, in processing priority order.
	FindBySerialNumber(ctx context.Context, serial string) (domain.ConfigurationItem, bool, error)
	FindByName(ctx context.Context, name string) (domain.ConfigurationItem, bool, error)
	FindByIPAddress(ctx context.Context, ip string) (domain.ConfigurationItem, bool, error)

	// ListUnmapped returns CIs with no inventory mapping.
	ListUnmapped(ctx context.Context) ([]domain.ConfigurationItem, error)

	GetType(ctx context.Context, id uuid.UUID) (domain.CIType, error)
	GetTypeByName(ctx context.Context, name string) (domain.CIType, error)
}

// RelationshipRepository defines the interface for typed edges and their
// reference data.
type RelationshipRepository interface {
	GetRelationshipType(ctx context.Context, id uuid.UUID) (domain.CIRelationshipType, error)
	ListRelationshipTypes(ctx context.Context) ([]domain.CIRelationshipType, error)

	Create(ctx context.Context, rel domain.CIRelationship, enforceSingle bool) (domain.CIRelationship, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.CIRelationship, error)
	// SoftDelete marks an edge inactive. Returns false when the id does not
	// resolve; already-inactive edges return true without error.
	SoftDelete(ctx context.Context, id uuid.UUID) (bool, error)
	// ExistsActive reports whether an active edge of the given type already
	// originates at the source CI.
	ExistsActive(ctx context.Context, sourceCIID, relationshipTypeID uuid.UUID) (bool, error)
	// ListActiveFrom returns active outgoing edges of a CI, optionally
	// narrowed to one relationship type.
	ListActiveFrom(ctx context.Context, sourceCIID uuid.UUID, relationshipTypeID *uuid.UUID) ([]domain.CIRelationship, error)
	// ListActiveTo returns active incoming edges of a CI.
	ListActiveTo(ctx context.Context, targetCIID uuid.UUID, relationshipTypeID *uuid.UUID) ([]domain.CIRelationship, error)
}

// DiscoveryRepository defines the interface for discovery runs and items.
type DiscoveryRepository interface {
	CreateRun(ctx context.Context, run domain.DiscoveryRun) (domain.DiscoveryRun, error)
	GetRun(ctx context.Context, id uuid.UUID) (domain.DiscoveryRun, error)
	// CompleteRun writes the terminal Completed status and counters. The
	// store ignores the write if the run already has a terminal status.
	CompleteRun(ctx context.Context, id uuid.UUID, discovered, updated, created int) error
	// FailRun writes the terminal Failed status with the error message.
	FailRun(ctx context.Context, id uuid.UUID, message string) error

	CreateItem(ctx context.Context, item domain.DiscoveredItem) (domain.DiscoveredItem, error)
	GetItem(ctx context.Context, id uuid.UUID) (domain.DiscoveredItem, error)
	UpdateItem(ctx context.Context, item domain.DiscoveredItem) (domain.DiscoveredItem, error)
	ListItemsByRun(ctx context.Context, runID uuid.UUID) ([]domain.DiscoveredItem, error)
}

// MappingRepository defines the interface for inventory mappings.
type MappingRepository interface {
	Create(ctx context.Context, m domain.CmdbInventoryMapping) (domain.CmdbInventoryMapping, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.CmdbInventoryMapping, error)
	List(ctx context.Context) ([]domain.CmdbInventoryMapping, error)
	ListSyncEnabled(ctx context.Context) ([]domain.CmdbInventoryMapping, error)
	// UpdateSyncState persists sync status, timestamp and errors after a
	// sync pass. The mapping row itself always updates; sync failure is
	// data, not an error path.
	UpdateSyncState(ctx context.Context, m domain.CmdbInventoryMapping) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// InventoryRepository provides read access to the separate inventory store.
type InventoryRepository interface {
	GetAsset(ctx context.Context, id uuid.UUID) (domain.InventoryAsset, error)
	ListAssets(ctx context.Context) ([]domain.InventoryAsset, error)
}

// BusinessServiceRepository resolves which business services are linked to a
// set of CIs through the service-CI join.
type BusinessServiceRepository interface {
	// ListServicesForCIs returns, per business service, the subset of the
	// given CI ids linked to it. Services with no linked CI in the input are
	// omitted.
	ListServicesForCIs(ctx context.Context, ciIDs []uuid.UUID) (map[uuid.UUID]ServiceLink, error)
}

// ServiceLink pairs a business service with the impacted CIs under it.
type ServiceLink struct {
	Service     domain.BusinessService
	LinkedCIIDs []uuid.UUID
}

// AuditRepository is the audit-log sink.
type AuditRepository interface {
	Record(ctx context.Context, event domain.AuditEvent) error
}
