// Package httpapi exposes the engine's operations as JSON endpoints.
package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/opsbridge/cmdb/internal/discovery"
	"github.com/opsbridge/cmdb/internal/domain"
	"github.com/opsbridge/cmdb/internal/export"
	"github.com/opsbridge/cmdb/internal/graph"
	"github.com/opsbridge/cmdb/internal/mapping"
)

// Handler carries the wired services behind the HTTP surface.
type Handler struct {
	graph     *graph.Manager
	impact    *graph.ImpactEngine
	trees     *graph.TreeBuilder
	discovery *discovery.Service
	mappings  *mapping.Service
	exports   *export.Service
}

// New creates the handler.
func New(g *graph.Manager, impact *graph.ImpactEngine, trees *graph.TreeBuilder, d *discovery.Service, m *mapping.Service, e *export.Service) *Handler {
	return &Handler{graph: g, impact: impact, trees: trees, discovery: d, mappings: m, exports: e}
}

// Routes builds the endpoint mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/relationships", h.createRelationship)
	mux.HandleFunc("DELETE /api/relationships/{id}", h.deleteRelationship)
	mux.HandleFunc("GET /api/cis/{ref}/relationships", h.getRelationships)
	mux.HandleFunc("GET /api/cis/{ref}/impact", h.analyzeImpact)
	mux.HandleFunc("GET /api/cis/{ref}/dependency-tree", h.dependencyTree)

	mux.HandleFunc("POST /api/discovery/runs", h.runDiscovery)
	mux.HandleFunc("POST /api/discovery/items/{id}/process", h.processItem)

	mux.HandleFunc("POST /api/mappings", h.createMapping)
	mux.HandleFunc("POST /api/mappings/bulk", h.bulkCreateMappings)
	mux.HandleFunc("POST /api/mappings/{id}/sync", h.syncMapping)
	mux.HandleFunc("POST /api/mappings/sync-all", h.syncAllMappings)
	mux.HandleFunc("GET /api/integration/opportunities", h.integrationOpportunities)

	return mux
}

type createRelationshipRequest struct {
	SourceRef          string         `json:"sourceRef"`
	TargetRef          string         `json:"targetRef"`
	RelationshipTypeID uuid.UUID      `json:"relationshipTypeId"`
	Criticality        string         `json:"criticality,omitempty"`
	Attributes         map[string]any `json:"attributes,omitempty"`
	CreatedBy          string         `json:"createdBy,omitempty"`
}

func (h *Handler) createRelationship(w http.ResponseWriter, r *http.Request) {
	var req createRelationshipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.Validationf("invalid request body: %v", err))
		return
	}
	if req.SourceRef == "" || req.TargetRef == "" {
		writeError(w, domain.Validationf("sourceRef and targetRef are required"))
		return
	}

	rel, err := h.graph.CreateRelationship(r.Context(), graph.CreateRelationshipInput{
		SourceRef:          req.SourceRef,
		TargetRef:          req.TargetRef,
		RelationshipTypeID: req.RelationshipTypeID,
		Criticality:        domain.Criticality(req.Criticality),
		Attributes:         req.Attributes,
		CreatedBy:          req.CreatedBy,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rel)
}

func (h *Handler) deleteRelationship(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, domain.Validationf("invalid relationship id"))
		return
	}

	found, err := h.graph.DeleteRelationship(r.Context(), id, r.Header.Get("X-User"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": found})
}

func (h *Handler) getRelationships(w http.ResponseWriter, r *http.Request) {
	filter := domain.RelationshipFilter{
		Direction: domain.RelationshipDirection(r.URL.Query().Get("direction")),
	}
	if raw := r.URL.Query().Get("relationshipType"); raw != "" {
		typeID, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, domain.Validationf("invalid relationshipType"))
			return
		}
		filter.RelationshipTypeID = &typeID
	}

	views, err := h.graph.GetRelationships(r.Context(), r.PathValue("ref"), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) analyzeImpact(w http.ResponseWriter, r *http.Request) {
	maxDepth := queryInt(r, "maxDepth", 0)

	analysis, err := h.impact.AnalyzeImpact(r.Context(), r.PathValue("ref"), maxDepth)
	if err != nil {
		writeError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "xlsx" {
		path, err := h.exports.WriteImpactReport(analysis)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"file": path})
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (h *Handler) dependencyTree(w http.ResponseWriter, r *http.Request) {
	direction := domain.RelationshipDirection(r.URL.Query().Get("direction"))
	maxDepth := queryInt(r, "maxDepth", 0)

	tree, err := h.trees.Build(r.Context(), r.PathValue("ref"), direction, maxDepth)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

type runDiscoveryRequest struct {
	DiscoveryType string         `json:"discoveryType"`
	ScheduleID    *uuid.UUID     `json:"scheduleId,omitempty"`
	Scope         map[string]any `json:"scope,omitempty"`
	AutoCreate    *bool          `json:"autoCreate,omitempty"`
}

func (h *Handler) runDiscovery(w http.ResponseWriter, r *http.Request) {
	var req runDiscoveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.Validationf("invalid request body: %v", err))
		return
	}

	run, err := h.discovery.RunDiscovery(r.Context(), discovery.ScanConfig{
		DiscoveryType: domain.DiscoveryType(req.DiscoveryType),
		Scope:         req.Scope,
		AutoCreate:    req.AutoCreate,
	}, req.ScheduleID)
	if err != nil {
		writeError(w, err)
		return
	}
	// 202: the run executes asynchronously; poll the run record for status.
	writeJSON(w, http.StatusAccepted, run)
}

type processItemRequest struct {
	AutoCreate *bool `json:"autoCreate,omitempty"`
}

func (h *Handler) processItem(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, domain.Validationf("invalid item id"))
		return
	}

	var req processItemRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, domain.Validationf("invalid request body: %v", err))
			return
		}
	}

	result, err := h.discovery.ProcessDiscoveredItem(r.Context(), id, discovery.ProcessOptions{AutoCreate: req.AutoCreate})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result.Item)
}

type createMappingRequest struct {
	CIID               uuid.UUID         `json:"ciId"`
	InventoryAssetID   uuid.UUID         `json:"inventoryAssetId"`
	MappingType        string            `json:"mappingType,omitempty"`
	ConflictResolution string            `json:"conflictResolution,omitempty"`
	FieldMapping       map[string]string `json:"fieldMapping,omitempty"`
	SyncEnabled        bool              `json:"syncEnabled"`
}

func (req createMappingRequest) toInput() mapping.CreateMappingInput {
	return mapping.CreateMappingInput{
		CIID:               req.CIID,
		InventoryAssetID:   req.InventoryAssetID,
		MappingType:        req.MappingType,
		ConflictResolution: domain.ConflictResolution(req.ConflictResolution),
		FieldMapping:       req.FieldMapping,
		SyncEnabled:        req.SyncEnabled,
	}
}

func (h *Handler) createMapping(w http.ResponseWriter, r *http.Request) {
	var req createMappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.Validationf("invalid request body: %v", err))
		return
	}

	m, err := h.mappings.CreateMapping(r.Context(), req.toInput())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) bulkCreateMappings(w http.ResponseWriter, r *http.Request) {
	var reqs []createMappingRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeError(w, domain.Validationf("invalid request body: %v", err))
		return
	}

	inputs := make([]mapping.CreateMappingInput, len(reqs))
	for i, req := range reqs {
		inputs[i] = req.toInput()
	}
	writeJSON(w, http.StatusOK, h.mappings.BulkCreateMappings(r.Context(), inputs))
}

func (h *Handler) syncMapping(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, domain.Validationf("invalid mapping id"))
		return
	}

	m, err := h.mappings.SyncMapping(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) syncAllMappings(w http.ResponseWriter, r *http.Request) {
	result, err := h.mappings.SyncAllMappings(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) integrationOpportunities(w http.ResponseWriter, r *http.Request) {
	analysis, err := h.mappings.AnalyzeIntegrationOpportunities(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "xlsx" {
		path, err := h.exports.WriteIntegrationReport(analysis)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"file": path})
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[HTTP] encode response: %v", err)
	}
}

// writeError maps error kinds to status codes with a structured body;
// operators never see raw stack traces.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal"
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrValidation):
		status, code = http.StatusBadRequest, "validation_error"
	case errors.Is(err, domain.ErrDuplicateRelationship):
		status, code = http.StatusConflict, "duplicate_relationship"
	case errors.Is(err, domain.ErrCircularDependency):
		status, code = http.StatusConflict, "circular_dependency"
	case errors.Is(err, domain.ErrTypeConstraintViolation):
		status, code = http.StatusConflict, "type_constraint_violation"
	case errors.Is(err, domain.ErrSyncDisabled):
		status, code = http.StatusConflict, "sync_disabled"
	case errors.Is(err, domain.ErrStoreUnavailable):
		status, code = http.StatusServiceUnavailable, "store_unavailable"
	}

	writeJSON(w, status, map[string]string{"code": code, "message": err.Error()})
}
