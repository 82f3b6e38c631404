package graph

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/opsbridge/cmdb/internal/domain"
	"github.com/opsbridge/cmdb/internal/repository"
)

// DefaultMaxDepth bounds impact traversals when the caller does not supply
// a depth.
const DefaultMaxDepth = 3

// ImpactedCI is one CI reached by the impact traversal, with the depth of
// the last path that visited it.
type ImpactedCI struct {
	CI       domain.ConfigurationItem `json:"ci"`
	Depth    int                      `json:"depth"`
	Severity domain.Criticality       `json:"severity"`
}

// ServiceImpact aggregates impact onto one business service.
type ServiceImpact struct {
	Service     domain.BusinessService     `json:"service"`
	MaxSeverity domain.Criticality         `json:"max_severity"`
	ImpactedCIs []domain.ConfigurationItem `json:"impacted_cis"`
}

// ImpactAnalysis is the result of a depth-bounded traversal from a root CI.
// The root itself is never part of the impacted set.
type ImpactAnalysis struct {
	Root          domain.ConfigurationItem `json:"root"`
	MaxDepth      int                      `json:"max_depth"`
	Direct        []ImpactedCI             `json:"direct"`
	Indirect      []ImpactedCI             `json:"indirect"`
	Extended      []ImpactedCI             `json:"extended"`
	TotalImpacted int                      `json:"total_impacted"`
	Services      []ServiceImpact          `json:"services"`
}

// ImpactEngine answers "what breaks if this fails" questions.
type ImpactEngine struct {
	cis      repository.CIRepository
	rels     repository.RelationshipRepository
	services repository.BusinessServiceRepository
}

// NewImpactEngine wires the impact engine.
func NewImpactEngine(cis repository.CIRepository, rels repository.RelationshipRepository, services repository.BusinessServiceRepository) *ImpactEngine {
	return &ImpactEngine{cis: cis, rels: rels, services: services}
}

// AnalyzeImpact traverses outgoing relationships from the root, depth-first
// and depth-bounded. The visited set is populated on entry and removed on
// exit, so a CI reachable via multiple paths is recorded at the depth of
// the last path that reached it. Severity banding downstream depends on
// that ordering; do not replace this with a global-visited traversal.
func (e *ImpactEngine) AnalyzeImpact(ctx context.Context, rootRef string, maxDepth int) (ImpactAnalysis, error) {
	root, err := ResolveCI(ctx, e.cis, rootRef)
	if err != nil {
		return ImpactAnalysis{}, err
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	visited := map[uuid.UUID]bool{}
	results := map[uuid.UUID]ImpactedCI{}
	if err := e.walk(ctx, root.ID, 0, maxDepth, visited, results); err != nil {
		return ImpactAnalysis{}, err
	}

	analysis := ImpactAnalysis{
		Root:          root,
		MaxDepth:      maxDepth,
		Direct:        []ImpactedCI{},
		Indirect:      []ImpactedCI{},
		Extended:      []ImpactedCI{},
		TotalImpacted: len(results),
	}

	impacted := make([]ImpactedCI, 0, len(results))
	for _, hit := range results {
		impacted = append(impacted, hit)
	}
	sort.Slice(impacted, func(i, j int) bool {
		if impacted[i].Depth != impacted[j].Depth {
			return impacted[i].Depth < impacted[j].Depth
		}
		return impacted[i].CI.CIID < impacted[j].CI.CIID
	})

	for _, hit := range impacted {
		switch {
		case hit.Depth == 1:
			analysis.Direct = append(analysis.Direct, hit)
		case hit.Depth == 2:
			analysis.Indirect = append(analysis.Indirect, hit)
		default:
			analysis.Extended = append(analysis.Extended, hit)
		}
	}

	services, err := e.aggregateServices(ctx, root, results)
	if err != nil {
		return ImpactAnalysis{}, err
	}
	analysis.Services = services

	return analysis, nil
}

func (e *ImpactEngine) walk(ctx context.Context, ciID uuid.UUID, depth, maxDepth int, visited map[uuid.UUID]bool, results map[uuid.UUID]ImpactedCI) error {
	if depth >= maxDepth {
		return nil
	}
	visited[ciID] = true
	defer delete(visited, ciID)

	rels, err := e.rels.ListActiveFrom(ctx, ciID, nil)
	if err != nil {
		return err
	}
	for _, rel := range rels {
		if visited[rel.TargetCIID] {
			continue
		}
		target, err := e.cis.GetByID(ctx, rel.TargetCIID)
		if err != nil {
			return err
		}
		// Last write wins for CIs reachable via multiple paths.
		results[target.ID] = ImpactedCI{
			CI:       target,
			Depth:    depth + 1,
			Severity: severityFor(target.Criticality, depth+1),
		}
		if err := e.walk(ctx, target.ID, depth+1, maxDepth, visited, results); err != nil {
			return err
		}
	}
	return nil
}

// severityFor bands CI criticality by traversal depth: full criticality at
// depth 1, Critical steps down to High at depth 2, and everything steps
// down one further level past depth 2.
func severityFor(criticality domain.Criticality, depth int) domain.Criticality {
	rank := criticality.Rank()
	switch {
	case depth <= 1:
		return domain.CriticalityFromRank(rank)
	case depth == 2:
		if rank > 3 {
			rank = 3
		}
		return domain.CriticalityFromRank(rank)
	default:
		if rank > 3 {
			rank = 3
		}
		return domain.CriticalityFromRank(rank - 1)
	}
}

// aggregateServices surfaces any business service linked to the root or an
// impacted CI, with its max observed severity and the impacted CIs under it.
func (e *ImpactEngine) aggregateServices(ctx context.Context, root domain.ConfigurationItem, results map[uuid.UUID]ImpactedCI) ([]ServiceImpact, error) {
	ids := make([]uuid.UUID, 0, len(results)+1)
	ids = append(ids, root.ID)
	for id := range results {
		ids = append(ids, id)
	}

	links, err := e.services.ListServicesForCIs(ctx, ids)
	if err != nil {
		return nil, err
	}

	impacts := make([]ServiceImpact, 0, len(links))
	for _, link := range links {
		impact := ServiceImpact{Service: link.Service, ImpactedCIs: []domain.ConfigurationItem{}}
		maxRank := 0
		for _, ciID := range link.LinkedCIIDs {
			if ciID == root.ID {
				if r := root.Criticality.Rank(); r > maxRank {
					maxRank = r
				}
				continue
			}
			hit, ok := results[ciID]
			if !ok {
				continue
			}
			impact.ImpactedCIs = append(impact.ImpactedCIs, hit.CI)
			if r := hit.Severity.Rank(); r > maxRank {
				maxRank = r
			}
		}
		impact.MaxSeverity = domain.CriticalityFromRank(maxRank)
		impacts = append(impacts, impact)
	}

	sort.Slice(impacts, func(i, j int) bool {
		return impacts[i].Service.Name < impacts[j].Service.Name
	})
	return impacts, nil
}
