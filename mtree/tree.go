// Package mtree is the public facade over the Merkle structural engine
// (package merkle), the embedded storage adapter (package storage), and
// the priority read-write lock (package rwlock) that mediates every
// operation. It enforces lifecycle rules, argument validation, and the
// process-wide one-open-instance-per-name invariant.
package mtree

import (
	"sync/atomic"

	"github.com/merkletreedb/mtree/crypto"
	"github.com/merkletreedb/mtree/log"
	"github.com/merkletreedb/mtree/merkle"
	"github.com/merkletreedb/mtree/metrics"
	"github.com/merkletreedb/mtree/rwlock"
	"github.com/merkletreedb/mtree/storage"
)

// LifecycleState tracks a Tree's position in the
// Uninitialized -> Open -> Closed state machine, with Dormant as a
// storage-released side state reachable from Open.
type LifecycleState int32

const (
	StateUninitialized LifecycleState = iota
	StateOpen
	StateDormant
	StateClosed
)

func (s LifecycleState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateOpen:
		return "open"
	case StateDormant:
		return "dormant"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Tree is a single named, persistent Merkle tree. Exactly one Tree
// instance may be open for a given name within this process at a time.
type Tree struct {
	name string
	dir  string

	lock *rwlock.PriorityRWLock
	log  *log.Logger

	state atomic.Int32

	store  *storage.Store
	engine *merkle.Engine

	// keyCache holds only unflushed (key -> value) writes. Already
	// flushed records live solely in the keydata column family; reads
	// consult this map first and fall back to storage.
	keyCache map[string][]byte

	hasUnsavedChanges bool
}

func newTree(name, dir string) *Tree {
	t := &Tree{
		name:     name,
		dir:      dir,
		lock:     rwlock.New(name),
		log:      log.Default().Module("mtree").With("tree", name),
		engine:   merkle.NewEngine(),
		keyCache: make(map[string][]byte),
	}
	t.state.Store(int32(StateUninitialized))
	return t
}

// Open opens (creating if necessary) the tree named name, rooted at dir
// on disk. Opening a name already open in this process fails with
// ErrDuplicateInstance.
func Open(name, dir string) (*Tree, error) {
	if name == "" || dir == "" {
		return nil, ErrInvalidArgument
	}
	if err := reserveName(name); err != nil {
		return nil, err
	}

	t := newTree(name, dir)
	store, err := storage.Open(dir)
	if err != nil {
		unreserveName(name)
		return nil, err
	}
	t.store = store
	t.state.Store(int32(StateOpen))

	if err := t.readMetadata(); err != nil {
		store.Close()
		unreserveName(name)
		return nil, err
	}

	registerTree(t)
	metrics.TreeLeaves.Set(int64(t.engine.NumLeaves))
	metrics.TreeDepth.Set(int64(t.engine.Depth))
	return t, nil
}

func (t *Tree) loadState() LifecycleState {
	return LifecycleState(t.state.Load())
}

// fetchNode implements merkle.Loader against the nodes column family.
func (t *Tree) fetchNode(hash crypto.Hash) (*merkle.Node, bool, error) {
	b, err := t.store.Get(storage.CFNodes, hash.Bytes())
	if err == storage.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	n, err := merkle.Decode(b)
	if err != nil {
		return nil, false, err
	}
	return n, true, nil
}

func (t *Tree) loader() merkle.Loader {
	return t.fetchNode
}

// ensureOpenLocked transitions a Dormant tree back to Open by reopening
// its storage handle. Callers must hold the write lock.
func (t *Tree) ensureOpenLocked() error {
	switch t.loadState() {
	case StateClosed:
		return ErrTreeClosed
	case StateDormant:
		store, err := storage.Open(t.dir)
		if err != nil {
			return err
		}
		t.store = store
		t.state.Store(int32(StateOpen))
		return nil
	default:
		return nil
	}
}

// withRead runs fn holding the lock in shared mode, transitioning the
// tree out of Dormant first (under write mode) if necessary.
func (t *Tree) withRead(priority rwlock.Priority, fn func() error) error {
	if t.loadState() == StateOpen {
		token := rwlock.NewToken()
		ok, err := t.lock.AcquireRead(0, token, priority)
		if err != nil {
			return err
		}
		_ = ok
		defer t.lock.ReleaseRead(token)
		if t.loadState() == StateClosed {
			return ErrTreeClosed
		}
		return fn()
	}
	return t.withWrite(priority, func() error {
		if err := t.ensureOpenLocked(); err != nil {
			return err
		}
		return fn()
	})
}

// withWrite runs fn holding the lock in exclusive mode, transitioning the
// tree out of Dormant first if necessary.
func (t *Tree) withWrite(priority rwlock.Priority, fn func() error) error {
	token := rwlock.NewToken()
	ok, err := t.lock.AcquireWrite(0, token, priority)
	if err != nil {
		return err
	}
	_ = ok
	defer t.lock.ReleaseWrite(token)

	if err := t.ensureOpenLocked(); err != nil {
		return err
	}
	return fn()
}

// GetRootHash returns the current (possibly unflushed) root hash, or nil
// if the tree is empty.
func (t *Tree) GetRootHash() ([]byte, error) {
	var out []byte
	err := t.withRead(rwlock.MEDIUM, func() error {
		if t.engine.RootHash == nil {
			return nil
		}
		out = append([]byte(nil), t.engine.RootHash.Bytes()...)
		return nil
	})
	return out, err
}

// GetRootHashSavedOnDisk returns the root hash as currently persisted,
// ignoring any unflushed in-memory changes.
func (t *Tree) GetRootHashSavedOnDisk() ([]byte, error) {
	var out []byte
	err := t.withRead(rwlock.MEDIUM, func() error {
		b, err := t.store.Get(storage.CFMetadata, []byte(metaKeyRootHash))
		if err == storage.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		out = append([]byte(nil), b...)
		return nil
	})
	return out, err
}

// GetNumLeaves returns the current number of leaves.
func (t *Tree) GetNumLeaves() (int, error) {
	var n int
	err := t.withRead(rwlock.MEDIUM, func() error {
		n = t.engine.NumLeaves
		return nil
	})
	return n, err
}

// GetDepth returns the tree's current maximum occupied level.
func (t *Tree) GetDepth() (int, error) {
	var d int
	err := t.withRead(rwlock.MEDIUM, func() error {
		d = t.engine.Depth
		return nil
	})
	return d, err
}

// cloneBytes returns an independent copy of v that is non-nil whenever v
// is non-nil, even when v has zero length. A plain
// append([]byte(nil), v...) collapses a present-but-empty value back to
// nil, making it indistinguishable from "absent".
func cloneBytes(v []byte) []byte {
	out := make([]byte, len(v))
	copy(out, v)
	return out
}

// GetData returns the value stored under key, or nil if absent. A stored
// empty value is returned as a non-nil zero-length slice.
func (t *Tree) GetData(key []byte) ([]byte, error) {
	if key == nil {
		return nil, ErrInvalidArgument
	}
	var out []byte
	err := t.withRead(rwlock.MEDIUM, func() error {
		if v, ok := t.keyCache[string(key)]; ok {
			out = cloneBytes(v)
			return nil
		}
		v, err := t.store.Get(storage.CFKeyData, key)
		if err == storage.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		out = cloneBytes(v)
		return nil
	})
	return out, err
}

// ContainsKey reports whether key has an associated value.
func (t *Tree) ContainsKey(key []byte) (bool, error) {
	if key == nil {
		return false, ErrInvalidArgument
	}
	var found bool
	err := t.withRead(rwlock.MEDIUM, func() error {
		if _, ok := t.keyCache[string(key)]; ok {
			found = true
			return nil
		}
		has, err := t.store.Has(storage.CFKeyData, key)
		if err != nil {
			return err
		}
		found = has
		return nil
	})
	return found, err
}

// GetAllKeys returns every key currently stored, pending writes included.
func (t *Tree) GetAllKeys() ([][]byte, error) {
	var out [][]byte
	err := t.withRead(rwlock.MEDIUM, func() error {
		seen := make(map[string]bool, len(t.keyCache))
		iterErr := t.store.Iterate(storage.CFKeyData, func(k, _ []byte) error {
			kc := cloneBytes(k)
			seen[string(kc)] = true
			out = append(out, kc)
			return nil
		})
		if iterErr != nil {
			return iterErr
		}
		for k := range t.keyCache {
			if !seen[k] {
				out = append(out, []byte(k))
			}
		}
		return nil
	})
	return out, err
}

// GetAllData returns every value currently stored, pending writes
// included.
func (t *Tree) GetAllData() ([][]byte, error) {
	var out [][]byte
	err := t.withRead(rwlock.MEDIUM, func() error {
		seen := make(map[string]bool, len(t.keyCache))
		iterErr := t.store.Iterate(storage.CFKeyData, func(k, v []byte) error {
			ks := string(k)
			seen[ks] = true
			if pending, ok := t.keyCache[ks]; ok {
				out = append(out, cloneBytes(pending))
			} else {
				out = append(out, cloneBytes(v))
			}
			return nil
		})
		if iterErr != nil {
			return iterErr
		}
		for k, v := range t.keyCache {
			if !seen[k] {
				out = append(out, cloneBytes(v))
			}
		}
		return nil
	})
	return out, err
}

// KeysAndValues returns parallel slices of every key and its current
// value.
func (t *Tree) KeysAndValues() ([][]byte, [][]byte, error) {
	var keys, values [][]byte
	err := t.withRead(rwlock.MEDIUM, func() error {
		seen := make(map[string]bool, len(t.keyCache))
		iterErr := t.store.Iterate(storage.CFKeyData, func(k, v []byte) error {
			ks := string(k)
			seen[ks] = true
			keys = append(keys, cloneBytes(k))
			if pending, ok := t.keyCache[ks]; ok {
				values = append(values, cloneBytes(pending))
			} else {
				values = append(values, cloneBytes(v))
			}
			return nil
		})
		if iterErr != nil {
			return iterErr
		}
		for k, v := range t.keyCache {
			if !seen[k] {
				keys = append(keys, []byte(k))
				values = append(values, cloneBytes(v))
			}
		}
		return nil
	})
	return keys, values, err
}

// GetAllNodes flushes pending changes, then returns every node stored in
// the nodes column family, decoded from storage.
func (t *Tree) GetAllNodes() ([]*merkle.Node, error) {
	if err := t.FlushToDisk(false); err != nil {
		return nil, err
	}
	var out []*merkle.Node
	err := t.withRead(rwlock.MEDIUM, func() error {
		nodesErr := t.store.Iterate(storage.CFNodes, func(_, v []byte) error {
			n, decErr := merkle.Decode(v)
			if decErr != nil {
				return decErr
			}
			out = append(out, n)
			return nil
		})
		return nodesErr
	})
	return out, err
}

// RamInfo is a diagnostic snapshot of a tree's in-memory state.
type RamInfo struct {
	Name              string
	State             string
	NumLeaves         int
	Depth             int
	CachedNodes       int
	HangingLevels     int
	PendingKeyWrites  int
	HasUnsavedChanges bool
	Lock              rwlock.Stats
}

// GetRamInfo returns a diagnostic snapshot of the tree's current
// in-memory footprint and lock contention state.
func (t *Tree) GetRamInfo() (RamInfo, error) {
	var info RamInfo
	err := t.withRead(rwlock.LOW, func() error {
		info = RamInfo{
			Name:              t.name,
			State:             t.loadState().String(),
			NumLeaves:         t.engine.NumLeaves,
			Depth:             t.engine.Depth,
			CachedNodes:       t.engine.Cache.Len(),
			HangingLevels:     t.engine.Hanging.Len(),
			PendingKeyWrites:  len(t.keyCache),
			HasUnsavedChanges: t.hasUnsavedChanges,
			Lock:              t.lock.Stats(),
		}
		return nil
	})
	return info, err
}
