package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DiscoveryType identifies which probe produced an observation.
type DiscoveryType string

const (
	DiscoveryTypeNetwork  DiscoveryType = "Network"
	DiscoveryTypeWindows  DiscoveryType = "Windows"
	DiscoveryTypeLinux    DiscoveryType = "Linux"
	DiscoveryTypeCloud    DiscoveryType = "Cloud"
	DiscoveryTypeDatabase DiscoveryType = "Database"
)

// DiscoveryRunStatus is the lifecycle of a scan. Terminal status is written
// exactly once.
type DiscoveryRunStatus string

const (
	RunStatusRunning   DiscoveryRunStatus = "Running"
	RunStatusCompleted DiscoveryRunStatus = "Completed"
	RunStatusFailed    DiscoveryRunStatus = "Failed"
)

// DiscoveryRun records one execution of a probe sweep.
type DiscoveryRun struct {
	ID              uuid.UUID          `json:"id"`
	ScheduleID      *uuid.UUID         `json:"schedule_id,omitempty"`
	DiscoveryType   DiscoveryType      `json:"discovery_type"`
	Status          DiscoveryRunStatus `json:"status"`
	StartedAt       time.Time          `json:"started_at"`
	CompletedAt     *time.Time         `json:"completed_at,omitempty"`
	ItemsDiscovered int                `json:"items_discovered"`
	ItemsUpdated    int                `json:"items_updated"`
	ItemsCreated    int                `json:"items_created"`
	ErrorMessage    *string            `json:"error_message,omitempty"`
}

// DiscoveredItemStatus is the per-observation lifecycle: New transitions to
// Processed or Error and never back.
type DiscoveredItemStatus string

const (
	ItemStatusNew       DiscoveredItemStatus = "New"
	ItemStatusProcessed DiscoveredItemStatus = "Processed"
	ItemStatusError     DiscoveredItemStatus = "Error"
)

// DiscoveredItem stores one raw probe observation together with its
// fingerprint, the idempotency key for repeated scans of the same asset.
type DiscoveredItem struct {
	ID              uuid.UUID            `json:"id"`
	RunID           uuid.UUID            `json:"run_id"`
	DiscoveredData  map[string]any       `json:"discovered_data"`
	Fingerprint     string               `json:"fingerprint"`
	Status          DiscoveredItemStatus `json:"status"`
	CIID            *uuid.UUID           `json:"ci_id,omitempty"`
	ProcessingNotes *string              `json:"processing_notes,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
}

// DataAsJSONB marshals the raw payload for persistence.
func (d *DiscoveredItem) DataAsJSONB() (json.RawMessage, error) {
	if d.DiscoveredData == nil {
		d.DiscoveredData = make(map[string]any)
	}
	return json.Marshal(d.DiscoveredData)
}

// StringField returns a string-typed field from the raw payload, "" if
// absent or not a string.
func (d *DiscoveredItem) StringField(key string) string {
	if d.DiscoveredData == nil {
		return ""
	}
	if v, ok := d.DiscoveredData[key].(string); ok {
		return v
	}
	return ""
}
