// Package discovery ingests raw probe output and reconciles it into the
// CMDB without producing duplicate records.
package discovery

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/opsbridge/cmdb/internal/domain"
	"github.com/opsbridge/cmdb/internal/repository"
)

// ciIDAttempts caps the random-draw retry loop for business key generation.
// The unique index on ci_id is the actual integrity mechanism; the loop is
// a liveness optimization.
const ciIDAttempts = 10

// ciTypeByDeviceType maps the probe-reported device type to a CI type name.
var ciTypeByDeviceType = map[string]string{
	"server":          "hardware",
	"workstation":     "hardware",
	"network-device":  "hardware",
	"storage":         "hardware",
	"vm":              "virtual",
	"virtual-machine": "virtual",
	"ec2-instance":    "virtual",
	"cloud-instance":  "virtual",
	"database":        "database",
	"application":     "application",
}

// ciTypeByDiscoveryType is the fallback when the observation does not carry
// a device type.
var ciTypeByDiscoveryType = map[domain.DiscoveryType]string{
	domain.DiscoveryTypeNetwork:  "hardware",
	domain.DiscoveryTypeWindows:  "hardware",
	domain.DiscoveryTypeLinux:    "hardware",
	domain.DiscoveryTypeCloud:    "virtual",
	domain.DiscoveryTypeDatabase: "database",
}

// Service is the discovery reconciliation pipeline.
type Service struct {
	runs     repository.DiscoveryRepository
	cis      repository.CIRepository
	registry *Registry
	audit    repository.AuditRepository
}

// NewService wires the pipeline.
func NewService(runs repository.DiscoveryRepository, cis repository.CIRepository, registry *Registry, audit repository.AuditRepository) *Service {
	return &Service{runs: runs, cis: cis, registry: registry, audit: audit}
}

// ProcessOptions control per-item reconciliation.
type ProcessOptions struct {
	// AutoCreate synthesizes a new CI when no match is found. Nil means
	// enabled; only an explicit false disables it.
	AutoCreate *bool
}

func (o ProcessOptions) autoCreate() bool {
	return o.AutoCreate == nil || *o.AutoCreate
}

// RunDiscovery creates a run record and processes the probe's observations
// asynchronously. The caller is not blocked past run creation; the run can
// only terminate via natural completion or unhandled failure, each writing
// the terminal status exactly once.
func (s *Service) RunDiscovery(ctx context.Context, config ScanConfig, scheduleID *uuid.UUID) (domain.DiscoveryRun, error) {
	probe, err := s.registry.Lookup(config.DiscoveryType)
	if err != nil {
		return domain.DiscoveryRun{}, err
	}

	run, err := s.runs.CreateRun(ctx, domain.DiscoveryRun{
		ScheduleID:    scheduleID,
		DiscoveryType: config.DiscoveryType,
	})
	if err != nil {
		return domain.DiscoveryRun{}, err
	}

	// Detach from the caller's request context; cancellation of the HTTP
	// request must not cancel the run.
	go s.executeRun(context.WithoutCancel(ctx), run, probe, config)

	return run, nil
}

func (s *Service) executeRun(ctx context.Context, run domain.DiscoveryRun, probe Probe, config ScanConfig) {
	observations, err := probe.Discover(ctx, config)
	if err != nil {
		s.failRun(ctx, run.ID, fmt.Sprintf("probe failed: %v", err))
		return
	}

	discovered, updated, created := 0, 0, 0
	opts := ProcessOptions{AutoCreate: config.AutoCreate}

	for _, obs := range observations {
		item, err := s.runs.CreateItem(ctx, domain.DiscoveredItem{
			RunID:          run.ID,
			DiscoveredData: obs,
			Fingerprint:    Fingerprint(obs, config.DiscoveryType),
		})
		if err != nil {
			s.failRun(ctx, run.ID, fmt.Sprintf("persist observation: %v", err))
			return
		}
		discovered++

		processed, err := s.ProcessDiscoveredItem(ctx, item.ID, opts)
		if err != nil {
			// Per-item failures are recorded on the item, not the run.
			log.Printf("[DISCOVERY] item %s failed: %v", item.ID, err)
			continue
		}
		switch processed.outcome {
		case outcomeUpdated:
			updated++
		case outcomeCreated:
			created++
		}
	}

	if err := s.runs.CompleteRun(ctx, run.ID, discovered, updated, created); err != nil {
		log.Printf("[DISCOVERY] complete run %s: %v", run.ID, err)
	}
}

func (s *Service) failRun(ctx context.Context, runID uuid.UUID, message string) {
	if err := s.runs.FailRun(ctx, runID, message); err != nil {
		log.Printf("[DISCOVERY] fail run %s: %v", runID, err)
	}
}

type processOutcome int

const (
	outcomeSkipped processOutcome = iota
	outcomeUpdated
	outcomeCreated
)

// ProcessResult reports what happened to one discovered item.
type ProcessResult struct {
	Item    domain.DiscoveredItem
	outcome processOutcome
}

// Updated reports whether the item merged into an existing CI.
func (r ProcessResult) Updated() bool { return r.outcome == outcomeUpdated }

// Created reports whether the item produced a new CI.
func (r ProcessResult) Created() bool { return r.outcome == outcomeCreated }

// ProcessDiscoveredItem reconciles one observation: match an existing CI by
// serial number, then hostname-as-name, then IP address; merge onto the
// match or synthesize a new CI when auto-create is enabled. Exceptions mark
// the item Error with the message; partially-applied state is not rolled
// back.
func (s *Service) ProcessDiscoveredItem(ctx context.Context, itemID uuid.UUID, opts ProcessOptions) (ProcessResult, error) {
	item, err := s.runs.GetItem(ctx, itemID)
	if err != nil {
		return ProcessResult{}, err
	}

	result, procErr := s.reconcile(ctx, &item, opts)
	if procErr != nil {
		item.Status = domain.ItemStatusError
		msg := procErr.Error()
		item.ProcessingNotes = &msg
		if _, err := s.runs.UpdateItem(ctx, item); err != nil {
			log.Printf("[DISCOVERY] record item error %s: %v", item.ID, err)
		}
		return ProcessResult{Item: item}, procErr
	}
	return result, nil
}

func (s *Service) reconcile(ctx context.Context, item *domain.DiscoveredItem, opts ProcessOptions) (ProcessResult, error) {
	match, found, err := s.findMatch(ctx, item)
	if err != nil {
		return ProcessResult{}, err
	}

	run, err := s.runs.GetRun(ctx, item.RunID)
	if err != nil {
		return ProcessResult{}, err
	}
	source := string(run.DiscoveryType)
	now := time.Now()

	if found {
		match.MergeAttributes(item.DiscoveredData)
		match.IsDiscovered = true
		match.DiscoverySource = &source
		if match.FirstDiscoveredDate == nil {
			match.FirstDiscoveredDate = &now
		}
		match.LastDiscoveredDate = &now

		updated, err := s.cis.Update(ctx, match)
		if err != nil {
			return ProcessResult{}, fmt.Errorf("update matched CI: %w", err)
		}
		return s.markProcessed(ctx, item, updated.ID, "matched existing CI "+updated.CIID, outcomeUpdated)
	}

	if !opts.autoCreate() {
		note := "no matching CI found; requires manual review"
		item.ProcessingNotes = &note
		saved, err := s.runs.UpdateItem(ctx, *item)
		if err != nil {
			return ProcessResult{}, err
		}
		return ProcessResult{Item: saved, outcome: outcomeSkipped}, nil
	}

	created, err := s.createCI(ctx, item, run.DiscoveryType, source, now)
	if err != nil {
		return ProcessResult{}, err
	}
	return s.markProcessed(ctx, item, created.ID, "created new CI "+created.CIID, outcomeCreated)
}

// findMatch applies the match order: exact serial number, hostname as CI
// name, then IP address.
func (s *Service) findMatch(ctx context.Context, item *domain.DiscoveredItem) (domain.ConfigurationItem, bool, error) {
	if serial := item.StringField("serialNumber"); serial != "" {
		ci, found, err := s.cis.FindBySerialNumber(ctx, serial)
		if err != nil || found {
			return ci, found, err
		}
	}
	if hostname := item.StringField("hostname"); hostname != "" {
		ci, found, err := s.cis.FindByName(ctx, hostname)
		if err != nil || found {
			return ci, found, err
		}
	}
	if ip := item.StringField("ipAddress"); ip != "" {
		ci, found, err := s.cis.FindByIPAddress(ctx, ip)
		if err != nil || found {
			return ci, found, err
		}
	}
	return domain.ConfigurationItem{}, false, nil
}

func (s *Service) createCI(ctx context.Context, item *domain.DiscoveredItem, discoveryType domain.DiscoveryType, source string, now time.Time) (domain.ConfigurationItem, error) {
	typeName := ciTypeByDiscoveryType[discoveryType]
	if deviceType := item.StringField("type"); deviceType != "" {
		if mapped, ok := ciTypeByDeviceType[deviceType]; ok {
			typeName = mapped
		}
	}
	ciType, err := s.cis.GetTypeByName(ctx, typeName)
	if err != nil {
		return domain.ConfigurationItem{}, fmt.Errorf("resolve CI type %q: %w", typeName, err)
	}

	ciID, err := s.generateCIID(ctx)
	if err != nil {
		return domain.ConfigurationItem{}, err
	}

	name := item.StringField("hostname")
	if name == "" {
		name = item.StringField("name")
	}
	if name == "" {
		name = ciID
	}

	ci := domain.ConfigurationItem{
		CIID:                ciID,
		Name:                name,
		CITypeID:            ciType.ID,
		Status:              domain.CIStatusActive,
		Criticality:         domain.CriticalityMedium,
		Attributes:          map[string]any{},
		IsDiscovered:        true,
		DiscoverySource:     &source,
		FirstDiscoveredDate: &now,
		LastDiscoveredDate:  &now,
	}
	ci.MergeAttributes(item.DiscoveredData)

	created, err := s.cis.Create(ctx, ci)
	if err != nil {
		return domain.ConfigurationItem{}, fmt.Errorf("create CI: %w", err)
	}
	return created, nil
}

// generateCIID draws random business keys until one is free, bounded by
// ciIDAttempts.
func (s *Service) generateCIID(ctx context.Context) (string, error) {
	for i := 0; i < ciIDAttempts; i++ {
		candidate := domain.RandomCIID()
		exists, err := s.cis.CIIDExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("exhausted %d attempts generating a unique ci_id", ciIDAttempts)
}

func (s *Service) markProcessed(ctx context.Context, item *domain.DiscoveredItem, ciID uuid.UUID, note string, outcome processOutcome) (ProcessResult, error) {
	item.Status = domain.ItemStatusProcessed
	item.CIID = &ciID
	item.ProcessingNotes = &note

	saved, err := s.runs.UpdateItem(ctx, *item)
	if err != nil {
		return ProcessResult{}, err
	}

	if s.audit != nil {
		if err := s.audit.Record(ctx, domain.AuditEvent{
			Action:     "discovery.item_processed",
			EntityKind: "discovered_item",
			EntityID:   saved.ID,
			Actor:      "discovery",
			Details:    map[string]any{"ci_id": ciID.String(), "note": note},
		}); err != nil {
			log.Printf("[DISCOVERY] audit write failed: %v", err)
		}
	}
	return ProcessResult{Item: saved, outcome: outcome}, nil
}
