package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetAbsentReturnsErrNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(CFNodes, []byte("missing"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	if err := s.Put(CFKeyData, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(CFKeyData, []byte("k"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("got %q, want %q", got, "v")
	}
}

func TestColumnFamiliesAreIsolated(t *testing.T) {
	s := openTestStore(t)
	if err := s.Put(CFNodes, []byte("k"), []byte("node")); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(CFKeyData, []byte("k"), []byte("keydata")); err != nil {
		t.Fatal(err)
	}
	n, err := s.Get(CFNodes, []byte("k"))
	if err != nil || string(n) != "node" {
		t.Fatalf("nodes cf: got %q, %v", n, err)
	}
	kd, err := s.Get(CFKeyData, []byte("k"))
	if err != nil || string(kd) != "keydata" {
		t.Fatalf("keydata cf: got %q, %v", kd, err)
	}
}

func TestBatchIsAtomic(t *testing.T) {
	s := openTestStore(t)
	b := s.NewBatch()
	b.Put(CFNodes, []byte("a"), []byte("1"))
	b.Put(CFMetadata, []byte("b"), []byte("2"))
	b.Delete(CFNodes, []byte("nonexistent"))
	if b.Len() != 3 {
		t.Fatalf("batch len = %d, want 3", b.Len())
	}
	if err := b.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	v, err := s.Get(CFNodes, []byte("a"))
	if err != nil || string(v) != "1" {
		t.Fatalf("got %q, %v", v, err)
	}
}

func TestIterateOrdersWithinColumnFamily(t *testing.T) {
	s := openTestStore(t)
	b := s.NewBatch()
	b.Put(CFKeyData, []byte("c"), []byte("3"))
	b.Put(CFKeyData, []byte("a"), []byte("1"))
	b.Put(CFKeyData, []byte("b"), []byte("2"))
	b.Put(CFNodes, []byte("z"), []byte("not in keydata"))
	if err := b.Commit(); err != nil {
		t.Fatal(err)
	}

	var keys []string
	err := s.Iterate(CFKeyData, func(k, v []byte) error {
		keys = append(keys, string(k))
		return nil
	})
	if err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(keys) != len(want) {
		t.Fatalf("got %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("got %v, want %v", keys, want)
		}
	}
}

func TestDeleteRange(t *testing.T) {
	s := openTestStore(t)
	for _, k := range []string{"a", "b", "c", "d"} {
		if err := s.Put(CFNodes, []byte(k), []byte("v")); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.DeleteRange(CFNodes, []byte("b"), []byte("d")); err != nil {
		t.Fatalf("DeleteRange: %v", err)
	}
	for _, k := range []string{"b", "c"} {
		if _, err := s.Get(CFNodes, []byte(k)); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected %q deleted, got err=%v", k, err)
		}
	}
	for _, k := range []string{"a", "d"} {
		if _, err := s.Get(CFNodes, []byte(k)); err != nil {
			t.Fatalf("expected %q to survive, got err=%v", k, err)
		}
	}
}

func TestClearAllWipesEveryColumnFamily(t *testing.T) {
	s := openTestStore(t)
	s.Put(CFNodes, []byte("k"), []byte("v"))
	s.Put(CFMetadata, []byte("k"), []byte("v"))
	s.Put(CFKeyData, []byte("k"), []byte("v"))

	if err := s.ClearAll(); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	for _, cf := range []CF{CFNodes, CFMetadata, CFKeyData} {
		if _, err := s.Get(cf, []byte("k")); !errors.Is(err, ErrNotFound) {
			t.Fatalf("cf %v not cleared", cf)
		}
	}
}

func TestCheckpointAndReopen(t *testing.T) {
	dir := t.TempDir()
	src, err := Open(filepath.Join(dir, "src"))
	if err != nil {
		t.Fatalf("Open src: %v", err)
	}
	defer src.Close()

	if err := src.Put(CFKeyData, []byte("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}

	destDir := filepath.Join(dir, "checkpoint")
	if err := src.Checkpoint(destDir); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	dst, err := Open(destDir)
	if err != nil {
		t.Fatalf("Open dst: %v", err)
	}
	defer dst.Close()

	v, err := dst.Get(CFKeyData, []byte("k"))
	if err != nil || string(v) != "v" {
		t.Fatalf("checkpoint did not carry data: %q, %v", v, err)
	}
}

func TestCheckpointOfMemoryStoreFails(t *testing.T) {
	s := openTestStore(t)
	if err := s.Checkpoint("/tmp/should-not-matter"); err == nil {
		t.Fatalf("expected error checkpointing an in-memory store")
	}
}

func TestCFStringNames(t *testing.T) {
	cases := map[CF]string{
		CFDefault:  "default",
		CFMetadata: "metadata",
		CFNodes:    "nodes",
		CFKeyData:  "keydata",
	}
	for cf, want := range cases {
		if got := cf.String(); got != want {
			t.Fatalf("CF(%d).String() = %q, want %q", cf, got, want)
		}
	}
}
