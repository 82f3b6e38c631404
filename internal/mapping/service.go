// Package mapping maintains the cross-system link between inventory assets
// and CIs, with field-level transformation and conflict resolution.
package mapping

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/opsbridge/cmdb/internal/domain"
	"github.com/opsbridge/cmdb/internal/repository"
)

// inventoryStatusToCI translates inventory lifecycle status into CI status.
var inventoryStatusToCI = map[string]string{
	"active":         domain.CIStatusActive,
	"deployed":       domain.CIStatusActive,
	"available":      domain.CIStatusActive,
	"in_use":         domain.CIStatusActive,
	"maintenance":    domain.CIStatusNonOperational,
	"repair":         domain.CIStatusNonOperational,
	"decommissioned": domain.CIStatusRetired,
	"disposed":       domain.CIStatusRetired,
	"lost":           domain.CIStatusRetired,
	"stolen":         domain.CIStatusRetired,
}

// Service is the inventory-CMDB mapping synchronizer.
type Service struct {
	mappings  repository.MappingRepository
	cis       repository.CIRepository
	inventory repository.InventoryRepository
	audit     repository.AuditRepository
	now       func() time.Time
}

// NewService wires the synchronizer.
func NewService(mappings repository.MappingRepository, cis repository.CIRepository, inventory repository.InventoryRepository, audit repository.AuditRepository) *Service {
	return &Service{
		mappings:  mappings,
		cis:       cis,
		inventory: inventory,
		audit:     audit,
		now:       time.Now,
	}
}

// CreateMappingInput carries the parameters for a new mapping.
type CreateMappingInput struct {
	CIID               uuid.UUID
	InventoryAssetID   uuid.UUID
	MappingType        string
	ConflictResolution domain.ConflictResolution
	FieldMapping       map[string]string
	SyncEnabled        bool
}

// CreateMapping validates both sides exist, persists the mapping, and runs
// one sync pass immediately when sync is enabled.
func (s *Service) CreateMapping(ctx context.Context, input CreateMappingInput) (domain.CmdbInventoryMapping, error) {
	if _, err := s.cis.GetByID(ctx, input.CIID); err != nil {
		return domain.CmdbInventoryMapping{}, err
	}
	if _, err := s.inventory.GetAsset(ctx, input.InventoryAssetID); err != nil {
		return domain.CmdbInventoryMapping{}, err
	}

	conflict := input.ConflictResolution
	if conflict == "" {
		conflict = domain.ConflictInventoryWins
	}

	created, err := s.mappings.Create(ctx, domain.CmdbInventoryMapping{
		CIID:               input.CIID,
		InventoryAssetID:   input.InventoryAssetID,
		MappingType:        input.MappingType,
		ConflictResolution: conflict,
		FieldMapping:       input.FieldMapping,
		SyncEnabled:        input.SyncEnabled,
	})
	if err != nil {
		return domain.CmdbInventoryMapping{}, err
	}

	if created.SyncEnabled {
		synced, err := s.SyncMapping(ctx, created.ID)
		if err != nil {
			// The mapping exists; the failed first pass is recorded on it.
			log.Printf("[SYNC] initial sync of mapping %s failed: %v", created.ID, err)
			return created, nil
		}
		return synced, nil
	}
	return created, nil
}

// SyncMapping performs one sync pass for a mapping. The outcome, success or
// failure, is written back onto the mapping row; only setup failures
// (mapping missing, sync disabled) propagate as errors.
func (s *Service) SyncMapping(ctx context.Context, id uuid.UUID) (domain.CmdbInventoryMapping, error) {
	m, err := s.mappings.GetByID(ctx, id)
	if err != nil {
		return domain.CmdbInventoryMapping{}, err
	}
	if !m.SyncEnabled {
		return domain.CmdbInventoryMapping{}, fmt.Errorf("mapping %s: %w", id, domain.ErrSyncDisabled)
	}

	syncErr := s.applySync(ctx, &m)

	now := s.now()
	m.LastSyncAt = &now
	if syncErr != nil {
		m.SyncStatus = domain.SyncStatusFailed
		m.SyncErrors = append(m.SyncErrors, syncErr.Error())
	} else {
		m.SyncStatus = domain.SyncStatusSuccess
		m.SyncErrors = nil
	}

	if err := s.mappings.UpdateSyncState(ctx, m); err != nil {
		return domain.CmdbInventoryMapping{}, err
	}

	s.recordAudit(ctx, m, syncErr)
	return m, nil
}

func (s *Service) applySync(ctx context.Context, m *domain.CmdbInventoryMapping) error {
	asset, err := s.inventory.GetAsset(ctx, m.InventoryAssetID)
	if err != nil {
		return err
	}
	ci, err := s.cis.GetByID(ctx, m.CIID)
	if err != nil {
		return err
	}

	fields, status := buildUpdatePayload(asset, m.FieldMapping)

	switch m.ConflictResolution {
	case domain.ConflictCMDBWins:
		// Only fill CMDB fields that are currently empty.
		for key := range fields {
			if existing, ok := ci.Attributes[key]; ok && existing != nil && existing != "" {
				delete(fields, key)
			}
		}
		ci.MergeAttributes(fields)
		if ci.Status == "" {
			ci.Status = status
		}
	default:
		// inventory_wins and manual both apply the computed payload; manual
		// mappings are expected to stay sync-disabled.
		ci.MergeAttributes(fields)
		ci.Status = status
	}

	if _, err := s.cis.Update(ctx, ci); err != nil {
		return fmt.Errorf("apply sync fields: %w", err)
	}
	return nil
}

// buildUpdatePayload computes the CI field updates from an asset using the
// default field map, with individual entries replaced by the mapping's
// custom overrides. Returns the attribute payload and the translated CI
// status.
func buildUpdatePayload(asset domain.InventoryAsset, overrides map[string]string) (map[string]any, string) {
	source := map[string]any{
		"serialNumber": asset.SerialNumber,
		"assetTag":     asset.AssetTag,
		"model":        asset.Model,
	}
	if asset.VendorID != nil {
		source["vendor"] = "vendor_" + asset.VendorID.String()
	}
	if asset.LocationID != nil {
		source["location"] = "location_" + asset.LocationID.String()
	}
	if asset.OwnerID != nil {
		source["owner"] = "owner_" + asset.OwnerID.String()
	}
	if asset.PurchaseDate != nil {
		source["purchaseDate"] = asset.PurchaseDate.Format(time.RFC3339)
	}
	if asset.WarrantyExpiry != nil {
		source["warrantyExpiry"] = asset.WarrantyExpiry.Format(time.RFC3339)
	}

	fields := make(map[string]any, len(source))
	for cmdbField, value := range source {
		inventoryField := cmdbField
		if override, ok := overrides[cmdbField]; ok {
			inventoryField = override
		}
		if inventoryField == cmdbField {
			fields[cmdbField] = value
			continue
		}
		// Override points the CMDB field at a different inventory field,
		// resolved from the asset's custom fields.
		if custom, ok := asset.CustomFields[inventoryField]; ok {
			fields[cmdbField] = custom
		}
	}

	status, ok := inventoryStatusToCI[asset.Status]
	if !ok {
		status = domain.CIStatusActive
	}
	return fields, status
}

// SyncAllResult summarizes a batch sync pass.
type SyncAllResult struct {
	Total      int          `json:"total"`
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	Results    []SyncResult `json:"results"`
}

// SyncResult is the outcome for one mapping in a batch.
type SyncResult struct {
	MappingID uuid.UUID `json:"mapping_id"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
}

// SyncAllMappings iterates all sync-enabled mappings sequentially, one at a
// time, to bound write pressure on the downstream stores. A single failing
// mapping never aborts the batch; only failure to read the mapping list
// propagates.
func (s *Service) SyncAllMappings(ctx context.Context) (SyncAllResult, error) {
	mappings, err := s.mappings.ListSyncEnabled(ctx)
	if err != nil {
		return SyncAllResult{}, err
	}

	result := SyncAllResult{Total: len(mappings), Results: make([]SyncResult, 0, len(mappings))}
	for _, m := range mappings {
		synced, err := s.SyncMapping(ctx, m.ID)
		if err != nil {
			result.Failed++
			result.Results = append(result.Results, SyncResult{MappingID: m.ID, Status: domain.SyncStatusFailed, Error: err.Error()})
			continue
		}
		entry := SyncResult{MappingID: m.ID, Status: synced.SyncStatus}
		if synced.SyncStatus == domain.SyncStatusFailed {
			result.Failed++
			if len(synced.SyncErrors) > 0 {
				entry.Error = synced.SyncErrors[len(synced.SyncErrors)-1]
			}
		} else {
			result.Successful++
		}
		result.Results = append(result.Results, entry)
	}
	return result, nil
}

// BulkCreateResult summarizes a batch of mapping creations.
type BulkCreateResult struct {
	Total      int      `json:"total"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`
}

// BulkCreateMappings creates many mappings, capturing per-item failures and
// continuing the batch.
func (s *Service) BulkCreateMappings(ctx context.Context, inputs []CreateMappingInput) BulkCreateResult {
	result := BulkCreateResult{Total: len(inputs)}
	for i, input := range inputs {
		if _, err := s.CreateMapping(ctx, input); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("item %d: %v", i, err))
			continue
		}
		result.Successful++
	}
	return result
}

func (s *Service) recordAudit(ctx context.Context, m domain.CmdbInventoryMapping, syncErr error) {
	if s.audit == nil {
		return
	}
	details := map[string]any{"status": m.SyncStatus}
	if syncErr != nil {
		details["error"] = syncErr.Error()
	}
	if err := s.audit.Record(ctx, domain.AuditEvent{
		Action:     "mapping.sync",
		EntityKind: "cmdb_inventory_mapping",
		EntityID:   m.ID,
		Actor:      "sync",
		Details:    details,
	}); err != nil {
		log.Printf("[SYNC] audit write failed: %v", err)
	}
}
