package graph

import (
	"context"
	"testing"

	"github.com/opsbridge/cmdb/internal/domain"
)

func TestBuildTreeBothDirections(t *testing.T) {
	store := newStubStore()
	app := store.addCI("app", domain.CriticalityHigh)
	db := store.addCI("db", domain.CriticalityCritical)
	lb := store.addCI("lb", domain.CriticalityMedium)
	dependsOn := store.addRelType("depends_on", true)
	store.addEdge(app.ID, db.ID, dependsOn.ID)
	store.addEdge(lb.ID, app.ID, dependsOn.ID)

	builder := NewTreeBuilder(store, relStore{store})

	tree, err := builder.Build(context.Background(), app.CIID, domain.DirectionBoth, 3)
	if err != nil {
		t.Fatalf("build tree: %v", err)
	}
	if len(tree.Downstream) != 1 || tree.Downstream[0].CI.ID != db.ID {
		t.Fatalf("unexpected downstream: %+v", tree.Downstream)
	}
	if len(tree.Upstream) != 1 || tree.Upstream[0].CI.ID != lb.ID {
		t.Fatalf("unexpected upstream: %+v", tree.Upstream)
	}
	if tree.Downstream[0].Depth != 1 || tree.Downstream[0].RelationshipTypeID != dependsOn.ID {
		t.Fatalf("unexpected downstream node: %+v", tree.Downstream[0])
	}
}

func TestBuildTreeDepthBound(t *testing.T) {
	store := newStubStore()
	a := store.addCI("a", domain.CriticalityMedium)
	b := store.addCI("b", domain.CriticalityMedium)
	c := store.addCI("c", domain.CriticalityMedium)
	d := store.addCI("d", domain.CriticalityMedium)
	dependsOn := store.addRelType("depends_on", true)
	store.addEdge(a.ID, b.ID, dependsOn.ID)
	store.addEdge(b.ID, c.ID, dependsOn.ID)
	store.addEdge(c.ID, d.ID, dependsOn.ID)

	builder := NewTreeBuilder(store, relStore{store})

	tree, err := builder.Build(context.Background(), a.ID.String(), domain.DirectionOutgoing, 2)
	if err != nil {
		t.Fatalf("build tree: %v", err)
	}
	level1 := tree.Downstream
	if len(level1) != 1 || level1[0].CI.ID != b.ID {
		t.Fatalf("unexpected level 1: %+v", level1)
	}
	level2 := level1[0].Children
	if len(level2) != 1 || level2[0].CI.ID != c.ID {
		t.Fatalf("unexpected level 2: %+v", level2)
	}
	if len(level2[0].Children) != 0 {
		t.Fatalf("depth bound 2 exceeded: %+v", level2[0].Children)
	}
}

func TestBuildTreeDiamondRepeatsPerPath(t *testing.T) {
	store := newStubStore()
	root := store.addCI("root", domain.CriticalityHigh)
	left := store.addCI("left", domain.CriticalityMedium)
	right := store.addCI("right", domain.CriticalityMedium)
	shared := store.addCI("shared", domain.CriticalityHigh)
	dependsOn := store.addRelType("depends_on", true)
	store.addEdge(root.ID, left.ID, dependsOn.ID)
	store.addEdge(root.ID, right.ID, dependsOn.ID)
	store.addEdge(left.ID, shared.ID, dependsOn.ID)
	store.addEdge(right.ID, shared.ID, dependsOn.ID)

	builder := NewTreeBuilder(store, relStore{store})

	tree, err := builder.Build(context.Background(), root.ID.String(), domain.DirectionOutgoing, 3)
	if err != nil {
		t.Fatalf("build tree: %v", err)
	}
	if len(tree.Downstream) != 2 {
		t.Fatalf("expected two branches, got %+v", tree.Downstream)
	}
	sharedCount := 0
	for _, branch := range tree.Downstream {
		for _, child := range branch.Children {
			if child.CI.ID == shared.ID {
				sharedCount++
			}
		}
	}
	if sharedCount != 2 {
		t.Fatalf("shared CI should appear once per path, got %d occurrences", sharedCount)
	}
}

func TestBuildTreeTerminatesOnCycle(t *testing.T) {
	store := newStubStore()
	a := store.addCI("a", domain.CriticalityMedium)
	b := store.addCI("b", domain.CriticalityMedium)
	connectsTo := store.addRelType("connects_to", true)
	store.addEdge(a.ID, b.ID, connectsTo.ID)
	store.addEdge(b.ID, a.ID, connectsTo.ID)

	builder := NewTreeBuilder(store, relStore{store})

	tree, err := builder.Build(context.Background(), a.ID.String(), domain.DirectionOutgoing, 5)
	if err != nil {
		t.Fatalf("build tree: %v", err)
	}
	if len(tree.Downstream) != 1 || tree.Downstream[0].CI.ID != b.ID {
		t.Fatalf("unexpected downstream: %+v", tree.Downstream)
	}
	// b's only outgoing edge points back at a, which is on the current path.
	if len(tree.Downstream[0].Children) != 0 {
		t.Fatalf("cycle should terminate, got children: %+v", tree.Downstream[0].Children)
	}
}
