package graph

import (
	"context"

	"github.com/google/uuid"

	"github.com/opsbridge/cmdb/internal/repository"
)

// CycleValidator decides whether a proposed edge would close a dependency
// loop. It checks only the proposed edge's closure: a depth-first search
// from the target over active outgoing edges, abandoned on sight of the
// source. The graph may still contain independently-introduced cycles from
// multiplicity-permitted edges; traversals elsewhere bound recursion with
// their own visited sets.
type CycleValidator struct {
	rels repository.RelationshipRepository
}

// NewCycleValidator creates a validator over the relationship store.
func NewCycleValidator(rels repository.RelationshipRepository) *CycleValidator {
	return &CycleValidator{rels: rels}
}

// WouldCloseCycle reports whether inserting source -> target would create a
// cycle, i.e. whether target already reaches source through active outgoing
// edges.
func (v *CycleValidator) WouldCloseCycle(ctx context.Context, source, target uuid.UUID) (bool, error) {
	visited := make(map[uuid.UUID]bool)
	return v.reaches(ctx, target, source, visited)
}

func (v *CycleValidator) reaches(ctx context.Context, from, goal uuid.UUID, visited map[uuid.UUID]bool) (bool, error) {
	if from == goal {
		return true, nil
	}
	if visited[from] {
		return false, nil
	}
	visited[from] = true

	rels, err := v.rels.ListActiveFrom(ctx, from, nil)
	if err != nil {
		return false, err
	}
	for _, rel := range rels {
		found, err := v.reaches(ctx, rel.TargetCIID, goal, visited)
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}
