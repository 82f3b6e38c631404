package domain

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Criticality ranks how important a CI is to the business.
type Criticality string

const (
	CriticalityLow      Criticality = "Low"
	CriticalityMedium   Criticality = "Medium"
	CriticalityHigh     Criticality = "High"
	CriticalityCritical Criticality = "Critical"
)

// Rank returns the numeric weight of a criticality, higher is more severe.
// Unknown values rank as Medium.
func (c Criticality) Rank() int {
	switch c {
	case CriticalityLow:
		return 1
	case CriticalityMedium:
		return 2
	case CriticalityHigh:
		return 3
	case CriticalityCritical:
		return 4
	default:
		return 2
	}
}

// CriticalityFromRank is the inverse of Rank, clamped to the valid range.
func CriticalityFromRank(rank int) Criticality {
	switch {
	case rank <= 1:
		return CriticalityLow
	case rank == 2:
		return CriticalityMedium
	case rank == 3:
		return CriticalityHigh
	default:
		return CriticalityCritical
	}
}

// CI statuses written by the sync and discovery paths.
const (
	CIStatusActive         = "Active"
	CIStatusNonOperational = "Non-Operational"
	CIStatusRetired        = "Retired"
)

// CIType is static reference data classifying configuration items.
type CIType struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// ConfigurationItem is a node in the CMDB graph. Attributes is an open-schema
// map because discovery payloads and user-defined fields vary per CI type.
type ConfigurationItem struct {
	ID                  uuid.UUID      `json:"id"`
	CIID                string         `json:"ci_id"`
	Name                string         `json:"name"`
	CITypeID            uuid.UUID      `json:"ci_type_id"`
	Status              string         `json:"status"`
	Criticality         Criticality    `json:"criticality"`
	Attributes          map[string]any `json:"attributes"`
	IsDiscovered        bool           `json:"is_discovered"`
	DiscoverySource     *string        `json:"discovery_source,omitempty"`
	FirstDiscoveredDate *time.Time     `json:"first_discovered_date,omitempty"`
	LastDiscoveredDate  *time.Time     `json:"last_discovered_date,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

var ciIDPattern = regexp.MustCompile(`^CI\d{6}$`)

// ValidCIID reports whether s matches the CI business key format.
func ValidCIID(s string) bool {
	return ciIDPattern.MatchString(s)
}

// RandomCIID draws a candidate business key. Uniqueness is checked by the
// caller against the store; the unique index there is the real guarantee.
func RandomCIID() string {
	return fmt.Sprintf("CI%06d", rand.Intn(1000000))
}

// AttributesAsJSONB marshals the attributes map for persistence.
func (ci *ConfigurationItem) AttributesAsJSONB() (json.RawMessage, error) {
	if ci.Attributes == nil {
		ci.Attributes = make(map[string]any)
	}
	return json.Marshal(ci.Attributes)
}

// AttributesFromJSONB unmarshals a persisted attributes blob.
func AttributesFromJSONB(data json.RawMessage) (map[string]any, error) {
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	var attrs map[string]any
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, err
	}
	if attrs == nil {
		attrs = map[string]any{}
	}
	return attrs, nil
}

// StringAttribute returns the named attribute as a string, or "" if absent
// or not a string.
func (ci *ConfigurationItem) StringAttribute(key string) string {
	if ci.Attributes == nil {
		return ""
	}
	if v, ok := ci.Attributes[key].(string); ok {
		return v
	}
	return ""
}

// MergeAttributes overlays the given fields onto the CI's attributes. Only
// keys present in fields are overwritten; this is an additive merge.
func (ci *ConfigurationItem) MergeAttributes(fields map[string]any) {
	if ci.Attributes == nil {
		ci.Attributes = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		ci.Attributes[k] = v
	}
}

// BusinessService represents a business-facing service that groups CIs
// through the business_service_cis join.
type BusinessService struct {
	ID          uuid.UUID   `json:"id"`
	Name        string      `json:"name"`
	Criticality Criticality `json:"criticality"`
	OwnerGroup  string      `json:"owner_group"`
	CreatedAt   time.Time   `json:"created_at"`
}
