package discovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/opsbridge/cmdb/internal/domain"
)

// Observation is one raw probe record: an opaque key/value payload. No
// normalization happens in probes; the pipeline does all of it.
type Observation map[string]any

// ScanConfig describes the scope handed to a probe.
type ScanConfig struct {
	DiscoveryType domain.DiscoveryType
	Scope         map[string]any
	// AutoCreate controls whether unmatched observations synthesize new
	// CIs during processing. Nil means enabled.
	AutoCreate *bool
}

// Probe produces a finite sequence of raw observations for one discovery
// type. Network scanners, WMI collectors, and cloud API pollers implement
// this; their wire formats never leak past the probe boundary.
type Probe interface {
	Discover(ctx context.Context, config ScanConfig) ([]Observation, error)
}

// Registry maps discovery types to their probe implementations.
type Registry struct {
	mu     sync.RWMutex
	probes map[domain.DiscoveryType]Probe
}

// NewRegistry creates an empty probe registry.
func NewRegistry() *Registry {
	return &Registry{probes: make(map[domain.DiscoveryType]Probe)}
}

// Register installs a probe for a discovery type, replacing any previous
// registration.
func (r *Registry) Register(t domain.DiscoveryType, p Probe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes[t] = p
}

// Lookup returns the probe for a discovery type.
func (r *Registry) Lookup(t domain.DiscoveryType) (Probe, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.probes[t]
	if !ok {
		return nil, fmt.Errorf("no probe registered for discovery type %q: %w", t, domain.ErrValidation)
	}
	return p, nil
}

// StaticProbe replays a fixed observation list. Used for smoke runs and
// tests.
type StaticProbe struct {
	Observations []Observation
	Err          error
}

// Discover returns the canned observations.
func (p *StaticProbe) Discover(ctx context.Context, config ScanConfig) ([]Observation, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	return p.Observations, nil
}
