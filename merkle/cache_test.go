package merkle

import (
	"testing"

	"github.com/merkletreedb/mtree/crypto"
	"github.com/merkletreedb/mtree/metrics"
)

func TestCacheGetMissWithoutLoaderReturnsNil(t *testing.T) {
	c := NewCache()
	n, err := c.Get(hashOf("missing"), nil)
	if err != nil || n != nil {
		t.Fatalf("Get: n=%v err=%v, want nil,nil", n, err)
	}
}

func TestCacheGetLoadsOnMiss(t *testing.T) {
	c := NewCache()
	want := NewLeaf(hashOf("k"))
	loaded := false
	load := func(h crypto.Hash) (*Node, bool, error) {
		loaded = true
		return want, true, nil
	}
	got, err := c.Get(want.Hash, load)
	if err != nil {
		t.Fatal(err)
	}
	if got != want || !loaded {
		t.Fatalf("Get did not load via loader: got=%v loaded=%v", got, loaded)
	}

	// Second call must be served from cache, not the loader.
	loaded = false
	got2, err := c.Get(want.Hash, load)
	if err != nil || got2 != want || loaded {
		t.Fatalf("second Get should hit cache: got=%v loaded=%v err=%v", got2, loaded, err)
	}
}

func TestCacheRekeyMarksDirtyAndMoves(t *testing.T) {
	c := NewCache()
	n := NewLeaf(hashOf("old"))
	c.Put(n)

	c.Rekey(hashOf("old"), hashOf("new"), n)

	if got, _ := c.Get(hashOf("old"), nil); got != nil {
		t.Fatal("old hash should no longer resolve")
	}
	got, err := c.Get(hashOf("new"), nil)
	if err != nil || got != n {
		t.Fatalf("new hash should resolve to the same node: got=%v err=%v", got, err)
	}
	old, ok := n.PendingOldHash()
	if !ok || old != hashOf("old") {
		t.Fatalf("PendingOldHash = %v,%v want %v,true", old, ok, hashOf("old"))
	}
}

func TestCacheRekeyOnlySetsPendingOnceAcrossMultipleMutations(t *testing.T) {
	c := NewCache()
	n := NewLeaf(hashOf("a"))
	c.Put(n)
	c.Rekey(hashOf("a"), hashOf("b"), n)
	c.Rekey(hashOf("b"), hashOf("c"), n)

	old, ok := n.PendingOldHash()
	if !ok || old != hashOf("a") {
		t.Fatalf("PendingOldHash after two rehashes = %v,%v, want original %v,true", old, ok, hashOf("a"))
	}
}

func TestCacheClearEmptiesAndResetsDirtyGauge(t *testing.T) {
	c := NewCache()
	c.Put(NewLeaf(hashOf("a")))
	c.Put(NewLeaf(hashOf("b")))
	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}
	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("Len after Clear = %d, want 0", c.Len())
	}
	if v := metrics.DirtyNodes.Value(); v != 0 {
		t.Fatalf("DirtyNodes after Clear = %d, want 0", v)
	}
}

func TestCacheAllReturnsEveryEntry(t *testing.T) {
	c := NewCache()
	a := NewLeaf(hashOf("a"))
	b := NewLeaf(hashOf("b"))
	c.Put(a)
	c.Put(b)
	all := c.All()
	if len(all) != 2 {
		t.Fatalf("All() len = %d, want 2", len(all))
	}
}
