package merkle

import (
	"testing"

	"github.com/merkletreedb/mtree/crypto"
)

func noLoad(crypto.Hash) (*Node, bool, error) { return nil, false, nil }

func mustAddLeaf(t *testing.T, e *Engine, h crypto.Hash) {
	t.Helper()
	if err := e.AddLeaf(h, noLoad); err != nil {
		t.Fatalf("AddLeaf: %v", err)
	}
}

// assertConsistent walks every cached node and checks that internal node
// hashes match their children, and every parent<->child edge agrees in
// both directions.
func assertConsistent(t *testing.T, e *Engine) {
	t.Helper()
	for _, n := range e.Cache.All() {
		if !n.IsLeaf() {
			want := computeHash(n.Left, n.Right)
			if n.Hash != want {
				t.Fatalf("node %v: hash mismatch, want %v", n.Hash, want)
			}
		}
		if n.Left != nil {
			child, _ := e.get(*n.Left, noLoad)
			if child == nil {
				t.Fatalf("left child %v of %v not cached", n.Left, n.Hash)
			}
			if child.Parent == nil || *child.Parent != n.Hash {
				t.Fatalf("left child %v parent pointer does not match %v", n.Left, n.Hash)
			}
		}
		if n.Right != nil {
			child, _ := e.get(*n.Right, noLoad)
			if child == nil {
				t.Fatalf("right child %v of %v not cached", n.Right, n.Hash)
			}
			if child.Parent == nil || *child.Parent != n.Hash {
				t.Fatalf("right child %v parent pointer does not match %v", n.Right, n.Hash)
			}
		}
	}
	for _, level := range e.Hanging.Levels() {
		h, _ := e.Hanging.Get(level)
		if _, err := e.get(h, noLoad); err != nil {
			t.Fatalf("hanging node at level %d failed lookup: %v", level, err)
		}
	}
}

func TestSingleLeafTree(t *testing.T) {
	e := NewEngine()
	L := hashOf("L")
	mustAddLeaf(t, e, L)

	if e.RootHash == nil || *e.RootHash != L {
		t.Fatalf("root = %v, want %v", e.RootHash, L)
	}
	if e.Depth != 0 {
		t.Fatalf("depth = %d, want 0", e.Depth)
	}
	if e.NumLeaves != 1 {
		t.Fatalf("numLeaves = %d, want 1", e.NumLeaves)
	}
	h, ok := e.Hanging.Get(0)
	if !ok || h != L {
		t.Fatalf("hanging[0] = %v,%v want %v,true", h, ok, L)
	}
	assertConsistent(t, e)
}

func TestTwoLeafTree(t *testing.T) {
	e := NewEngine()
	L1 := hashOf("a1")
	L2 := hashOf("b2")
	mustAddLeaf(t, e, L1)
	mustAddLeaf(t, e, L2)

	want := crypto.H(L1.Bytes(), L2.Bytes())
	if e.RootHash == nil || *e.RootHash != want {
		t.Fatalf("root = %v, want %v", e.RootHash, want)
	}
	if e.Depth != 1 {
		t.Fatalf("depth = %d, want 1", e.Depth)
	}
	if _, ok := e.Hanging.Get(0); ok {
		t.Fatal("hanging[0] should be absent for an even leaf count")
	}
	h, ok := e.Hanging.Get(1)
	if !ok || h != want {
		t.Fatalf("hanging[1] = %v,%v want %v,true", h, ok, want)
	}
	assertConsistent(t, e)
}

func TestThreeLeafTreeThreadsIntoTrunk(t *testing.T) {
	e := NewEngine()
	L1, L2, L3 := hashOf("1"), hashOf("2"), hashOf("3")
	mustAddLeaf(t, e, L1)
	mustAddLeaf(t, e, L2)
	mustAddLeaf(t, e, L3)

	p12 := crypto.H(L1.Bytes(), L2.Bytes())
	// L3 has no sibling yet; it sits hanging at level 0 while a
	// single-child wrapper of it merges with p12 at level 1.
	if _, ok := e.Hanging.Get(0); !ok {
		t.Fatal("hanging[0] should hold L3 for an odd leaf count")
	}
	wantRoot := crypto.H(p12.Bytes(), crypto.H(L3.Bytes(), L3.Bytes()).Bytes())
	if e.RootHash == nil || *e.RootHash != wantRoot {
		t.Fatalf("root = %v, want %v", e.RootHash, wantRoot)
	}
	// The merge at level 1 creates the new root one level higher.
	if e.Depth != 2 {
		t.Fatalf("depth = %d, want 2", e.Depth)
	}
	assertConsistent(t, e)
}

func TestFiveLeafTreeThreadsNewBranchAboveExistingDepth(t *testing.T) {
	e := NewEngine()
	leaves := []crypto.Hash{hashOf("1"), hashOf("2"), hashOf("3"), hashOf("4"), hashOf("5")}
	for _, l := range leaves {
		mustAddLeaf(t, e, l)
	}
	if e.NumLeaves != 5 {
		t.Fatalf("numLeaves = %d, want 5", e.NumLeaves)
	}
	if e.Depth != 3 {
		t.Fatalf("depth = %d, want 3", e.Depth)
	}
	assertConsistent(t, e)
}

func TestSingleChildDuplicationAndRevertScenario(t *testing.T) {
	// Record the one-leaf state, then check that a fresh engine with only
	// that first insert applied (the state a revert of a later insert
	// returns to) reproduces the same leaf count and root.
	e := NewEngine()
	L := hashOf("x-y")
	mustAddLeaf(t, e, L)

	snapshotRoot := *e.RootHash
	snapshotLeaves := e.NumLeaves

	reverted := NewEngine()
	mustAddLeaf(t, reverted, L)

	if reverted.NumLeaves != snapshotLeaves || *reverted.RootHash != snapshotRoot {
		t.Fatalf("reverted tree state mismatch: leaves=%d root=%v", reverted.NumLeaves, reverted.RootHash)
	}
}

func TestUpdateLeafRehashesAncestry(t *testing.T) {
	e := NewEngine()
	L1, L2 := hashOf("a"), hashOf("b")
	mustAddLeaf(t, e, L1)
	mustAddLeaf(t, e, L2)

	newL2 := hashOf("b-updated")
	if err := e.UpdateLeaf(L2, newL2, noLoad); err != nil {
		t.Fatalf("UpdateLeaf: %v", err)
	}

	want := crypto.H(L1.Bytes(), newL2.Bytes())
	if e.RootHash == nil || *e.RootHash != want {
		t.Fatalf("root after update = %v, want %v", e.RootHash, want)
	}
	assertConsistent(t, e)

	if _, err := e.get(L2, noLoad); err != nil {
		t.Fatal(err)
	}
	// The stale hash must no longer resolve to anything in the cache.
	if n, _ := e.Cache.Get(L2, noLoad); n != nil {
		t.Fatal("old leaf hash should have been rekeyed out of the cache")
	}
}

func TestUpdateLeafNotFound(t *testing.T) {
	e := NewEngine()
	mustAddLeaf(t, e, hashOf("a"))
	if err := e.UpdateLeaf(hashOf("missing"), hashOf("new"), noLoad); err != ErrLeafNotFound {
		t.Fatalf("UpdateLeaf: got %v, want ErrLeafNotFound", err)
	}
}

func TestUpdateLeafNoOpOldEqualsNew(t *testing.T) {
	e := NewEngine()
	L := hashOf("a")
	mustAddLeaf(t, e, L)
	if err := e.UpdateLeaf(L, L, noLoad); err != ErrInvalidArgument {
		t.Fatalf("UpdateLeaf(same,same): got %v, want ErrInvalidArgument", err)
	}
}

func TestAddLeafRejectsZeroHash(t *testing.T) {
	e := NewEngine()
	if err := e.AddLeaf(crypto.ZeroHash, noLoad); err != ErrInvalidArgument {
		t.Fatalf("AddLeaf(zero): got %v, want ErrInvalidArgument", err)
	}
}

func TestManyLeavesPreserveInvariants(t *testing.T) {
	e := NewEngine()
	for i := 0; i < 37; i++ {
		mustAddLeaf(t, e, hashOf(string(rune('a'+i%26))+string(rune(i))))
	}
	if e.NumLeaves != 37 {
		t.Fatalf("numLeaves = %d, want 37", e.NumLeaves)
	}
	assertConsistent(t, e)
}
