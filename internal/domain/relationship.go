package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RelationshipDirection selects which edges to return relative to a CI.
type RelationshipDirection string

const (
	DirectionOutgoing RelationshipDirection = "outgoing"
	DirectionIncoming RelationshipDirection = "incoming"
	DirectionBoth     RelationshipDirection = "both"
)

// CIRelationshipType is static reference data describing a kind of directed
// edge. Optional type constraints restrict which CI types may appear on each
// side; AllowMultiple permits more than one active edge of this type from the
// same source.
type CIRelationshipType struct {
	ID                     uuid.UUID  `json:"id"`
	Name                   string     `json:"name"`
	Description            string     `json:"description"`
	SourceCITypeConstraint *uuid.UUID `json:"source_ci_type_constraint,omitempty"`
	TargetCITypeConstraint *uuid.UUID `json:"target_ci_type_constraint,omitempty"`
	AllowMultiple          bool       `json:"allow_multiple"`
	CreatedAt              time.Time  `json:"created_at"`
}

// CIRelationship is a directed edge between two CIs. Edges are soft-deleted
// (IsActive=false) to preserve audit history.
type CIRelationship struct {
	ID                 uuid.UUID      `json:"id"`
	SourceCIID         uuid.UUID      `json:"source_ci_id"`
	TargetCIID         uuid.UUID      `json:"target_ci_id"`
	RelationshipTypeID uuid.UUID      `json:"relationship_type_id"`
	IsActive           bool           `json:"is_active"`
	Criticality        Criticality    `json:"criticality"`
	Attributes         map[string]any `json:"attributes"`
	CreatedBy          string         `json:"created_by"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// RelationshipView annotates an edge with the CI on the other side relative
// to the CI the query was made for, ready for direct consumption by a UI or
// the impact engine.
type RelationshipView struct {
	Relationship CIRelationship        `json:"relationship"`
	Direction    RelationshipDirection `json:"direction"`
	OtherCI      ConfigurationItem     `json:"other_ci"`
}

// RelationshipFilter narrows a GetRelationships query.
type RelationshipFilter struct {
	Direction          RelationshipDirection
	RelationshipTypeID *uuid.UUID
}

// RelAttributesAsJSONB marshals edge attributes for persistence.
func (r *CIRelationship) RelAttributesAsJSONB() (json.RawMessage, error) {
	if r.Attributes == nil {
		r.Attributes = make(map[string]any)
	}
	return json.Marshal(r.Attributes)
}
