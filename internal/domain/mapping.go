package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ConflictResolution decides which system wins when a synced field already
// has a value on the CMDB side.
type ConflictResolution string

const (
	ConflictCMDBWins      ConflictResolution = "cmdb_wins"
	ConflictInventoryWins ConflictResolution = "inventory_wins"
	ConflictManual        ConflictResolution = "manual"
)

// Sync status values recorded on a mapping after each pass.
const (
	SyncStatusPending = "pending"
	SyncStatusSuccess = "success"
	SyncStatusFailed  = "failed"
)

// CmdbInventoryMapping links a CI to an inventory asset and carries the
// per-mapping sync policy. FieldMapping overrides individual entries of the
// default field map by key; it does not replace the whole map.
type CmdbInventoryMapping struct {
	ID                 uuid.UUID          `json:"id"`
	CIID               uuid.UUID          `json:"ci_id"`
	InventoryAssetID   uuid.UUID          `json:"inventory_asset_id"`
	MappingType        string             `json:"mapping_type"`
	ConflictResolution ConflictResolution `json:"conflict_resolution"`
	FieldMapping       map[string]string  `json:"field_mapping"`
	SyncEnabled        bool               `json:"sync_enabled"`
	SyncStatus         string             `json:"sync_status"`
	LastSyncAt         *time.Time         `json:"last_sync_at,omitempty"`
	SyncErrors         []string           `json:"sync_errors,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// FieldMappingAsJSONB marshals the override map for persistence.
func (m *CmdbInventoryMapping) FieldMappingAsJSONB() (json.RawMessage, error) {
	if m.FieldMapping == nil {
		m.FieldMapping = make(map[string]string)
	}
	return json.Marshal(m.FieldMapping)
}

// FieldMappingFromJSONB unmarshals a persisted override map.
func FieldMappingFromJSONB(data json.RawMessage) (map[string]string, error) {
	if len(data) == 0 {
		return map[string]string{}, nil
	}
	var fm map[string]string
	if err := json.Unmarshal(data, &fm); err != nil {
		return nil, err
	}
	if fm == nil {
		fm = map[string]string{}
	}
	return fm, nil
}

// InventoryAsset is the read model for records in the separate inventory
// store. Foreign keys stay opaque; the sync rewrites them as prefixed
// reference strings on the CI.
type InventoryAsset struct {
	ID             uuid.UUID      `json:"id"`
	Name           string         `json:"name"`
	Status         string         `json:"status"`
	SerialNumber   string         `json:"serial_number"`
	AssetTag       string         `json:"asset_tag"`
	Model          string         `json:"model"`
	VendorID       *uuid.UUID     `json:"vendor_id,omitempty"`
	LocationID     *uuid.UUID     `json:"location_id,omitempty"`
	OwnerID        *uuid.UUID     `json:"owner_id,omitempty"`
	Department     string         `json:"department"`
	PurchaseDate   *time.Time     `json:"purchase_date,omitempty"`
	WarrantyExpiry *time.Time     `json:"warranty_expiry,omitempty"`
	CustomFields   map[string]any `json:"custom_fields,omitempty"`
}
