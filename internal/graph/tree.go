package graph

import (
	"context"

	"github.com/google/uuid"

	"github.com/opsbridge/cmdb/internal/domain"
	"github.com/opsbridge/cmdb/internal/repository"
)

// TreeNode is one node of a dependency tree. Diamond-shaped dependencies
// appear once per path rather than being merged: the tree mirrors all paths
// of influence, not deduplicated reachability.
type TreeNode struct {
	CI                 domain.ConfigurationItem `json:"ci"`
	Depth              int                      `json:"depth"`
	RelationshipTypeID uuid.UUID                `json:"relationship_type_id"`
	Children           []*TreeNode              `json:"children"`
}

// DependencyTree is the bidirectional view around a root CI. Upstream holds
// CIs the root depends on (incoming edges walked backwards); Downstream
// holds CIs depending on the root.
type DependencyTree struct {
	Root       domain.ConfigurationItem     `json:"root"`
	Direction  domain.RelationshipDirection `json:"direction"`
	MaxDepth   int                          `json:"max_depth"`
	Upstream   []*TreeNode                  `json:"upstream,omitempty"`
	Downstream []*TreeNode                  `json:"downstream,omitempty"`
}

// TreeBuilder builds dependency trees for visualization.
type TreeBuilder struct {
	cis  repository.CIRepository
	rels repository.RelationshipRepository
}

// NewTreeBuilder wires the tree builder.
func NewTreeBuilder(cis repository.CIRepository, rels repository.RelationshipRepository) *TreeBuilder {
	return &TreeBuilder{cis: cis, rels: rels}
}

// Build constructs a depth-bounded dependency tree in the requested
// direction(s), with the same visited/backtrack discipline as the impact
// traversal so cycles terminate and diamonds repeat per path.
func (b *TreeBuilder) Build(ctx context.Context, rootRef string, direction domain.RelationshipDirection, maxDepth int) (DependencyTree, error) {
	root, err := ResolveCI(ctx, b.cis, rootRef)
	if err != nil {
		return DependencyTree{}, err
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if direction == "" {
		direction = domain.DirectionBoth
	}

	tree := DependencyTree{Root: root, Direction: direction, MaxDepth: maxDepth}

	if direction == domain.DirectionOutgoing || direction == domain.DirectionBoth {
		visited := map[uuid.UUID]bool{}
		children, err := b.expand(ctx, root.ID, 1, maxDepth, true, visited)
		if err != nil {
			return DependencyTree{}, err
		}
		tree.Downstream = children
	}
	if direction == domain.DirectionIncoming || direction == domain.DirectionBoth {
		visited := map[uuid.UUID]bool{}
		parents, err := b.expand(ctx, root.ID, 1, maxDepth, false, visited)
		if err != nil {
			return DependencyTree{}, err
		}
		tree.Upstream = parents
	}
	return tree, nil
}

func (b *TreeBuilder) expand(ctx context.Context, ciID uuid.UUID, depth, maxDepth int, outgoing bool, visited map[uuid.UUID]bool) ([]*TreeNode, error) {
	if depth > maxDepth {
		return nil, nil
	}
	visited[ciID] = true
	defer delete(visited, ciID)

	var (
		rels []domain.CIRelationship
		err  error
	)
	if outgoing {
		rels, err = b.rels.ListActiveFrom(ctx, ciID, nil)
	} else {
		rels, err = b.rels.ListActiveTo(ctx, ciID, nil)
	}
	if err != nil {
		return nil, err
	}

	var nodes []*TreeNode
	for _, rel := range rels {
		otherID := rel.TargetCIID
		if !outgoing {
			otherID = rel.SourceCIID
		}
		if visited[otherID] {
			continue
		}
		other, err := b.cis.GetByID(ctx, otherID)
		if err != nil {
			return nil, err
		}
		node := &TreeNode{
			CI:                 other,
			Depth:              depth,
			RelationshipTypeID: rel.RelationshipTypeID,
		}
		children, err := b.expand(ctx, otherID, depth+1, maxDepth, outgoing, visited)
		if err != nil {
			return nil, err
		}
		node.Children = children
		nodes = append(nodes, node)
	}
	return nodes, nil
}
