package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/opsbridge/cmdb/internal/domain"
)

// pipelineStore is an in-memory store behind the discovery pipeline. The
// mutex matters: RunDiscovery processes observations on a detached goroutine.
type pipelineStore struct {
	mu        sync.Mutex
	runs      map[uuid.UUID]domain.DiscoveryRun
	items     map[uuid.UUID]domain.DiscoveredItem
	itemOrder []uuid.UUID
	cis       map[uuid.UUID]domain.ConfigurationItem
	types     map[string]domain.CIType
	audited   []domain.AuditEvent

	// finished is closed on the first terminal run status write.
	finished chan struct{}
}

func newPipelineStore() *pipelineStore {
	return &pipelineStore{
		runs:     map[uuid.UUID]domain.DiscoveryRun{},
		items:    map[uuid.UUID]domain.DiscoveredItem{},
		cis:      map[uuid.UUID]domain.ConfigurationItem{},
		types:    map[string]domain.CIType{},
		finished: make(chan struct{}),
	}
}

func (s *pipelineStore) addType(name string) domain.CIType {
	t := domain.CIType{ID: uuid.New(), Name: name}
	s.types[name] = t
	return t
}

func (s *pipelineStore) addRun(discoveryType domain.DiscoveryType) domain.DiscoveryRun {
	run := domain.DiscoveryRun{ID: uuid.New(), DiscoveryType: discoveryType, Status: domain.RunStatusRunning, StartedAt: time.Now()}
	s.runs[run.ID] = run
	return run
}

func (s *pipelineStore) addItem(runID uuid.UUID, data map[string]any) domain.DiscoveredItem {
	item := domain.DiscoveredItem{
		ID:             uuid.New(),
		RunID:          runID,
		DiscoveredData: data,
		Fingerprint:    Fingerprint(data, s.runs[runID].DiscoveryType),
		Status:         domain.ItemStatusNew,
	}
	s.items[item.ID] = item
	s.itemOrder = append(s.itemOrder, item.ID)
	return item
}

func (s *pipelineStore) addCI(name string, attrs map[string]any) domain.ConfigurationItem {
	ci := domain.ConfigurationItem{
		ID:          uuid.New(),
		CIID:        domain.RandomCIID(),
		Name:        name,
		Status:      domain.CIStatusActive,
		Criticality: domain.CriticalityMedium,
		Attributes:  attrs,
	}
	if ci.Attributes == nil {
		ci.Attributes = map[string]any{}
	}
	s.cis[ci.ID] = ci
	return ci
}

// DiscoveryRepository

func (s *pipelineStore) CreateRun(ctx context.Context, run domain.DiscoveryRun) (domain.DiscoveryRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run.ID = uuid.New()
	run.Status = domain.RunStatusRunning
	run.StartedAt = time.Now()
	s.runs[run.ID] = run
	return run, nil
}

func (s *pipelineStore) GetRun(ctx context.Context, id uuid.UUID) (domain.DiscoveryRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return domain.DiscoveryRun{}, domain.NotFoundf("discovery run %s", id)
	}
	return run, nil
}

func (s *pipelineStore) CompleteRun(ctx context.Context, id uuid.UUID, discovered, updated, created int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := s.runs[id]
	if run.Status != domain.RunStatusRunning {
		return nil
	}
	now := time.Now()
	run.Status = domain.RunStatusCompleted
	run.CompletedAt = &now
	run.ItemsDiscovered = discovered
	run.ItemsUpdated = updated
	run.ItemsCreated = created
	s.runs[id] = run
	close(s.finished)
	return nil
}

func (s *pipelineStore) FailRun(ctx context.Context, id uuid.UUID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := s.runs[id]
	if run.Status != domain.RunStatusRunning {
		return nil
	}
	now := time.Now()
	run.Status = domain.RunStatusFailed
	run.CompletedAt = &now
	run.ErrorMessage = &message
	s.runs[id] = run
	close(s.finished)
	return nil
}

func (s *pipelineStore) CreateItem(ctx context.Context, item domain.DiscoveredItem) (domain.DiscoveredItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item.ID = uuid.New()
	item.Status = domain.ItemStatusNew
	item.CreatedAt = time.Now()
	s.items[item.ID] = item
	s.itemOrder = append(s.itemOrder, item.ID)
	return item, nil
}

func (s *pipelineStore) GetItem(ctx context.Context, id uuid.UUID) (domain.DiscoveredItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return domain.DiscoveredItem{}, domain.NotFoundf("discovered item %s", id)
	}
	return item, nil
}

func (s *pipelineStore) UpdateItem(ctx context.Context, item domain.DiscoveredItem) (domain.DiscoveredItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ID]; !ok {
		return domain.DiscoveredItem{}, domain.NotFoundf("discovered item %s", item.ID)
	}
	s.items[item.ID] = item
	return item, nil
}

func (s *pipelineStore) ListItemsByRun(ctx context.Context, runID uuid.UUID) ([]domain.DiscoveredItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.DiscoveredItem
	for _, id := range s.itemOrder {
		if s.items[id].RunID == runID {
			out = append(out, s.items[id])
		}
	}
	return out, nil
}

// CIRepository

func (s *pipelineStore) Create(ctx context.Context, ci domain.ConfigurationItem) (domain.ConfigurationItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ci.ID = uuid.New()
	s.cis[ci.ID] = ci
	return ci, nil
}

func (s *pipelineStore) GetByID(ctx context.Context, id uuid.UUID) (domain.ConfigurationItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ci, ok := s.cis[id]
	if !ok {
		return domain.ConfigurationItem{}, domain.NotFoundf("configuration item %s", id)
	}
	return ci, nil
}

func (s *pipelineStore) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.ConfigurationItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ConfigurationItem
	for _, id := range ids {
		if ci, ok := s.cis[id]; ok {
			out = append(out, ci)
		}
	}
	return out, nil
}

func (s *pipelineStore) GetByCIID(ctx context.Context, ciID string) (domain.ConfigurationItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ci := range s.cis {
		if ci.CIID == ciID {
			return ci, nil
		}
	}
	return domain.ConfigurationItem{}, domain.NotFoundf("configuration item %s", ciID)
}

func (s *pipelineStore) Update(ctx context.Context, ci domain.ConfigurationItem) (domain.ConfigurationItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cis[ci.ID]; !ok {
		return domain.ConfigurationItem{}, domain.NotFoundf("configuration item %s", ci.ID)
	}
	s.cis[ci.ID] = ci
	return ci, nil
}

func (s *pipelineStore) List(ctx context.Context, limit, offset int) ([]domain.ConfigurationItem, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ConfigurationItem
	for _, ci := range s.cis {
		out = append(out, ci)
	}
	return out, len(out), nil
}

func (s *pipelineStore) CIIDExists(ctx context.Context, ciID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ci := range s.cis {
		if ci.CIID == ciID {
			return true, nil
		}
	}
	return false, nil
}

func (s *pipelineStore) FindBySerialNumber(ctx context.Context, serial string) (domain.ConfigurationItem, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ci := range s.cis {
		if ci.StringAttribute("serialNumber") == serial {
			return ci, true, nil
		}
	}
	return domain.ConfigurationItem{}, false, nil
}

func (s *pipelineStore) FindByName(ctx context.Context, name string) (domain.ConfigurationItem, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ci := range s.cis {
		if ci.Name == name {
			return ci, true, nil
		}
	}
	return domain.ConfigurationItem{}, false, nil
}

func (s *pipelineStore) FindByIPAddress(ctx context.Context, ip string) (domain.ConfigurationItem, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ci := range s.cis {
		if ci.StringAttribute("ipAddress") == ip {
			return ci, true, nil
		}
	}
	return domain.ConfigurationItem{}, false, nil
}

func (s *pipelineStore) ListUnmapped(ctx context.Context) ([]domain.ConfigurationItem, error) {
	return nil, nil
}

func (s *pipelineStore) GetType(ctx context.Context, id uuid.UUID) (domain.CIType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.types {
		if t.ID == id {
			return t, nil
		}
	}
	return domain.CIType{}, domain.NotFoundf("ci type %s", id)
}

func (s *pipelineStore) GetTypeByName(ctx context.Context, name string) (domain.CIType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.types[name]
	if !ok {
		return domain.CIType{}, domain.NotFoundf("ci type %s", name)
	}
	return t, nil
}

// AuditRepository

func (s *pipelineStore) Record(ctx context.Context, event domain.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audited = append(s.audited, event)
	return nil
}

func (s *pipelineStore) waitFinished(t *testing.T) {
	t.Helper()
	select {
	case <-s.finished:
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not reach a terminal status")
	}
}

func newTestService(store *pipelineStore, registry *Registry) *Service {
	return NewService(store, store, registry, store)
}

func boolPtr(v bool) *bool { return &v }

func TestProcessDiscoveredItemCreatesCI(t *testing.T) {
	store := newPipelineStore()
	store.addType("hardware")
	run := store.addRun(domain.DiscoveryTypeNetwork)
	item := store.addItem(run.ID, map[string]any{
		"hostname":     "web-01",
		"serialNumber": "SN-0001",
		"type":         "server",
		"osVersion":    "Ubuntu 24.04",
	})

	svc := newTestService(store, NewRegistry())

	result, err := svc.ProcessDiscoveredItem(context.Background(), item.ID, ProcessOptions{})
	if err != nil {
		t.Fatalf("process item: %v", err)
	}
	if !result.Created() {
		t.Fatalf("expected a created outcome, got %+v", result)
	}
	if result.Item.Status != domain.ItemStatusProcessed {
		t.Fatalf("item status = %s, want Processed", result.Item.Status)
	}
	if result.Item.CIID == nil {
		t.Fatalf("processed item should reference the created CI")
	}

	ci, err := store.GetByID(context.Background(), *result.Item.CIID)
	if err != nil {
		t.Fatalf("created CI not found: %v", err)
	}
	if ci.Name != "web-01" {
		t.Fatalf("CI name = %q, want hostname", ci.Name)
	}
	if !domain.ValidCIID(ci.CIID) {
		t.Fatalf("generated business key %q is malformed", ci.CIID)
	}
	if !ci.IsDiscovered || ci.DiscoverySource == nil || *ci.DiscoverySource != "Network" {
		t.Fatalf("discovery provenance not stamped: %+v", ci)
	}
	if ci.FirstDiscoveredDate == nil || ci.LastDiscoveredDate == nil {
		t.Fatalf("discovery dates not stamped: %+v", ci)
	}
	if ci.StringAttribute("serialNumber") != "SN-0001" || ci.StringAttribute("osVersion") != "Ubuntu 24.04" {
		t.Fatalf("observation payload not merged into attributes: %+v", ci.Attributes)
	}
}

func TestProcessDiscoveredItemMatchesBySerial(t *testing.T) {
	store := newPipelineStore()
	existing := store.addCI("legacy-name", map[string]any{
		"serialNumber": "SN-0001",
		"owner":        "infra-team",
	})
	run := store.addRun(domain.DiscoveryTypeLinux)
	item := store.addItem(run.ID, map[string]any{
		"hostname":     "web-01",
		"serialNumber": "SN-0001",
		"osVersion":    "RHEL 9",
	})

	svc := newTestService(store, NewRegistry())

	result, err := svc.ProcessDiscoveredItem(context.Background(), item.ID, ProcessOptions{})
	if err != nil {
		t.Fatalf("process item: %v", err)
	}
	if !result.Updated() {
		t.Fatalf("expected an updated outcome, got %+v", result)
	}
	if result.Item.CIID == nil || *result.Item.CIID != existing.ID {
		t.Fatalf("item should reference the matched CI %s, got %v", existing.ID, result.Item.CIID)
	}

	ci, _ := store.GetByID(context.Background(), existing.ID)
	// Merge is additive: observation fields land, untouched fields survive.
	if ci.StringAttribute("osVersion") != "RHEL 9" {
		t.Fatalf("observation field not merged: %+v", ci.Attributes)
	}
	if ci.StringAttribute("owner") != "infra-team" {
		t.Fatalf("pre-existing attribute lost in merge: %+v", ci.Attributes)
	}
	if !ci.IsDiscovered || ci.FirstDiscoveredDate == nil {
		t.Fatalf("matched CI should be stamped as discovered: %+v", ci)
	}
}

func TestProcessDiscoveredItemMatchPriority(t *testing.T) {
	store := newPipelineStore()
	bySerial := store.addCI("other-host", map[string]any{"serialNumber": "SN-0001"})
	store.addCI("web-01", nil)
	run := store.addRun(domain.DiscoveryTypeNetwork)
	item := store.addItem(run.ID, map[string]any{
		"hostname":     "web-01",
		"serialNumber": "SN-0001",
	})

	svc := newTestService(store, NewRegistry())

	result, err := svc.ProcessDiscoveredItem(context.Background(), item.ID, ProcessOptions{})
	if err != nil {
		t.Fatalf("process item: %v", err)
	}
	// Serial number outranks the hostname match.
	if result.Item.CIID == nil || *result.Item.CIID != bySerial.ID {
		t.Fatalf("expected serial match %s, got %v", bySerial.ID, result.Item.CIID)
	}
}

func TestProcessDiscoveredItemAutoCreateDisabled(t *testing.T) {
	store := newPipelineStore()
	store.addType("hardware")
	run := store.addRun(domain.DiscoveryTypeNetwork)
	item := store.addItem(run.ID, map[string]any{"hostname": "unknown-box"})

	svc := newTestService(store, NewRegistry())

	result, err := svc.ProcessDiscoveredItem(context.Background(), item.ID, ProcessOptions{AutoCreate: boolPtr(false)})
	if err != nil {
		t.Fatalf("process item: %v", err)
	}
	if result.Created() || result.Updated() {
		t.Fatalf("nothing should be created or updated, got %+v", result)
	}
	if result.Item.Status != domain.ItemStatusNew {
		t.Fatalf("unmatched item should stay New, got %s", result.Item.Status)
	}
	if result.Item.ProcessingNotes == nil || *result.Item.ProcessingNotes != "no matching CI found; requires manual review" {
		t.Fatalf("manual-review note missing: %v", result.Item.ProcessingNotes)
	}
	if len(store.cis) != 0 {
		t.Fatalf("no CI should exist, got %d", len(store.cis))
	}
}

func TestProcessDiscoveredItemErrorRecordedOnItem(t *testing.T) {
	store := newPipelineStore()
	// No CI types registered, so auto-create cannot resolve one.
	run := store.addRun(domain.DiscoveryTypeNetwork)
	item := store.addItem(run.ID, map[string]any{"hostname": "web-01"})

	svc := newTestService(store, NewRegistry())

	_, err := svc.ProcessDiscoveredItem(context.Background(), item.ID, ProcessOptions{})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected type resolution failure, got %v", err)
	}

	saved, _ := store.GetItem(context.Background(), item.ID)
	if saved.Status != domain.ItemStatusError {
		t.Fatalf("item status = %s, want Error", saved.Status)
	}
	if saved.ProcessingNotes == nil || *saved.ProcessingNotes == "" {
		t.Fatalf("error message should be recorded on the item")
	}
}

func TestRunDiscoveryCompletesAsynchronously(t *testing.T) {
	store := newPipelineStore()
	store.addType("hardware")
	existing := store.addCI("web-01", map[string]any{"serialNumber": "SN-0001"})

	registry := NewRegistry()
	registry.Register(domain.DiscoveryTypeNetwork, &StaticProbe{Observations: []Observation{
		{"hostname": "web-01", "serialNumber": "SN-0001"},
		{"hostname": "web-02", "serialNumber": "SN-0002", "type": "server"},
	}})

	svc := newTestService(store, registry)

	run, err := svc.RunDiscovery(context.Background(), ScanConfig{DiscoveryType: domain.DiscoveryTypeNetwork}, nil)
	if err != nil {
		t.Fatalf("run discovery: %v", err)
	}
	if run.Status != domain.RunStatusRunning {
		t.Fatalf("initial run status = %s, want Running", run.Status)
	}

	store.waitFinished(t)

	final, _ := store.GetRun(context.Background(), run.ID)
	if final.Status != domain.RunStatusCompleted {
		t.Fatalf("final run status = %s, want Completed", final.Status)
	}
	if final.ItemsDiscovered != 2 || final.ItemsUpdated != 1 || final.ItemsCreated != 1 {
		t.Fatalf("run counters = %d/%d/%d, want 2/1/1", final.ItemsDiscovered, final.ItemsUpdated, final.ItemsCreated)
	}

	items, _ := store.ListItemsByRun(context.Background(), run.ID)
	if len(items) != 2 {
		t.Fatalf("expected 2 persisted items, got %d", len(items))
	}
	for _, it := range items {
		if it.Status != domain.ItemStatusProcessed {
			t.Fatalf("item %s status = %s, want Processed", it.ID, it.Status)
		}
		if it.Fingerprint == "" {
			t.Fatalf("item %s missing fingerprint", it.ID)
		}
	}

	updated, _ := store.GetByID(context.Background(), existing.ID)
	if !updated.IsDiscovered {
		t.Fatalf("matched CI should be marked discovered")
	}
}

func TestRunDiscoveryProbeFailure(t *testing.T) {
	store := newPipelineStore()
	registry := NewRegistry()
	registry.Register(domain.DiscoveryTypeCloud, &StaticProbe{Err: errors.New("api throttled")})

	svc := newTestService(store, registry)

	run, err := svc.RunDiscovery(context.Background(), ScanConfig{DiscoveryType: domain.DiscoveryTypeCloud}, nil)
	if err != nil {
		t.Fatalf("run discovery: %v", err)
	}

	store.waitFinished(t)

	final, _ := store.GetRun(context.Background(), run.ID)
	if final.Status != domain.RunStatusFailed {
		t.Fatalf("final run status = %s, want Failed", final.Status)
	}
	if final.ErrorMessage == nil || *final.ErrorMessage == "" {
		t.Fatalf("failed run should carry the probe error")
	}
}

func TestRunDiscoveryUnknownProbe(t *testing.T) {
	store := newPipelineStore()
	svc := newTestService(store, NewRegistry())

	_, err := svc.RunDiscovery(context.Background(), ScanConfig{DiscoveryType: domain.DiscoveryTypeWindows}, nil)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for unregistered probe, got %v", err)
	}
	if len(store.runs) != 0 {
		t.Fatalf("no run should be created when the probe lookup fails")
	}
}
