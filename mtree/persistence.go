package mtree

import (
	"bytes"
	"os"
	"path/filepath"
	"time"

	"github.com/merkletreedb/mtree/merkle"
	"github.com/merkletreedb/mtree/metrics"
	"github.com/merkletreedb/mtree/rwlock"
	"github.com/merkletreedb/mtree/storage"
)

// FlushToDisk commits every unsaved change in a single atomic batch. It
// is a no-op when there is nothing unsaved. releaseStorage, when true,
// also closes the storage handle afterwards, moving the tree to Dormant.
func (t *Tree) FlushToDisk(releaseStorage bool) error {
	return t.withWrite(rwlock.MEDIUM, func() error {
		return t.flushLocked(releaseStorage)
	})
}

func (t *Tree) flushLocked(releaseStorage bool) error {
	if !t.hasUnsavedChanges {
		if releaseStorage {
			return t.releaseDatabaseLocked()
		}
		return nil
	}

	start := time.Now()
	b := t.store.NewBatch()
	b.DeleteRange(storage.CFMetadata, []byte{0x00}, []byte{0xFF})

	if t.engine.RootHash != nil {
		b.Put(storage.CFMetadata, []byte(metaKeyRootHash), t.engine.RootHash.Bytes())
	}
	b.Put(storage.CFMetadata, []byte(metaKeyNumLeave), encodeUint32(t.engine.NumLeaves))
	b.Put(storage.CFMetadata, []byte(metaKeyDepth), encodeUint32(t.engine.Depth))
	for _, level := range t.engine.Hanging.Levels() {
		h, _ := t.engine.Hanging.Get(level)
		b.Put(storage.CFMetadata, []byte(metaKeyHangingNode(level)), h.Bytes())
	}

	for _, n := range t.engine.Cache.All() {
		b.Put(storage.CFNodes, n.Hash.Bytes(), merkle.Encode(n))
		if old, ok := n.PendingOldHash(); ok {
			b.Delete(storage.CFNodes, old.Bytes())
		}
	}

	for k, v := range t.keyCache {
		b.Put(storage.CFKeyData, []byte(k), v)
	}

	if err := b.Commit(); err != nil {
		return err
	}

	t.engine.Cache.Clear()
	t.keyCache = make(map[string][]byte)
	t.hasUnsavedChanges = false

	metrics.FlushCount.Inc()
	metrics.FlushDurationMillis.Observe(float64(time.Since(start).Milliseconds()))

	if releaseStorage {
		return t.releaseDatabaseLocked()
	}
	return nil
}

// releaseDatabaseLocked closes the storage handle and moves the tree to
// Dormant. Caller must hold the write lock.
func (t *Tree) releaseDatabaseLocked() error {
	if t.store == nil {
		return nil
	}
	if err := t.store.Close(); err != nil {
		return err
	}
	t.store = nil
	t.state.Store(int32(StateDormant))
	return nil
}

// RevertUnsavedChanges discards every unflushed mutation, reloading
// in-memory state from the last flushed metadata. A no-op if there is
// nothing unsaved.
func (t *Tree) RevertUnsavedChanges() error {
	return t.withWrite(rwlock.MEDIUM, func() error {
		if !t.hasUnsavedChanges {
			return nil
		}
		t.keyCache = make(map[string][]byte)
		if err := t.readMetadata(); err != nil {
			return err
		}
		t.hasUnsavedChanges = false
		metrics.RevertCount.Inc()
		metrics.TreeLeaves.Set(int64(t.engine.NumLeaves))
		metrics.TreeDepth.Set(int64(t.engine.Depth))
		return nil
	})
}

// Clear wipes every record and node from both storage and memory,
// leaving an empty tree.
func (t *Tree) Clear() error {
	return t.withWrite(rwlock.MEDIUM, func() error {
		if err := t.store.ClearAll(); err != nil {
			return err
		}
		t.engine = merkle.NewEngine()
		t.keyCache = make(map[string][]byte)
		t.hasUnsavedChanges = false
		metrics.TreeLeaves.Set(0)
		metrics.TreeDepth.Set(0)
		return nil
	})
}

func siblingDir(dir, newName string) string {
	return filepath.Join(filepath.Dir(dir), newName)
}

// Clone flushes this tree, then materializes a full point-in-time copy
// of its storage under a sibling directory named newName and opens it as
// a new Tree.
func (t *Tree) Clone(newName string) (*Tree, error) {
	if newName == "" {
		return nil, ErrInvalidArgument
	}
	if err := t.FlushToDisk(false); err != nil {
		return nil, err
	}

	var clone *Tree
	err := t.withRead(rwlock.MEDIUM, func() error {
		if existing, ok := lookupOpenTree(newName); ok {
			if err := existing.Close(); err != nil {
				return err
			}
		}
		newDir := siblingDir(t.dir, newName)
		if err := os.RemoveAll(newDir); err != nil {
			return err
		}
		if err := t.store.Checkpoint(newDir); err != nil {
			return err
		}
		c, err := Open(newName, newDir)
		if err != nil {
			return err
		}
		clone = c
		metrics.CloneCount.Inc()
		return nil
	})
	return clone, err
}

func diskRootBytes(t *Tree) ([]byte, error) {
	b, err := t.store.Get(storage.CFMetadata, []byte(metaKeyRootHash))
	if err == storage.ErrNotFound {
		return nil, nil
	}
	return b, err
}

// Update live-resynchronizes this tree to mirror source. If both trees'
// on-disk root hashes already agree, only the in-memory caches are
// copied; otherwise this tree's storage is replaced wholesale with a
// checkpoint of source's.
func (t *Tree) Update(source *Tree) error {
	if source == nil {
		return ErrInvalidArgument
	}
	return t.withWrite(rwlock.MEDIUM, func() error {
		return source.withWrite(rwlock.MEDIUM, func() error {
			thisRoot, err := diskRootBytes(t)
			if err != nil {
				return err
			}
			sourceRoot, err := diskRootBytes(source)
			if err != nil {
				return err
			}

			if bytes.Equal(thisRoot, sourceRoot) {
				t.engine = source.engine.Clone()
				t.keyCache = make(map[string][]byte, len(source.keyCache))
				for k, v := range source.keyCache {
					t.keyCache[k] = cloneBytes(v)
				}
				t.hasUnsavedChanges = source.hasUnsavedChanges
				return nil
			}

			if err := t.releaseDatabaseLocked(); err != nil {
				return err
			}
			if err := source.flushLocked(false); err != nil {
				return err
			}
			if err := os.RemoveAll(t.dir); err != nil {
				return err
			}
			if err := source.store.Checkpoint(t.dir); err != nil {
				return err
			}

			store, err := storage.Open(t.dir)
			if err != nil {
				return err
			}
			t.store = store
			t.state.Store(int32(StateOpen))
			if err := t.readMetadata(); err != nil {
				return err
			}
			t.keyCache = make(map[string][]byte)
			t.hasUnsavedChanges = false
			return nil
		})
	})
}

// Close idempotently flushes this tree with storage release and removes
// it from the process-wide open-tree registry. Operations after Close
// fail with ErrTreeClosed.
func (t *Tree) Close() error {
	token := rwlock.NewToken()
	ok, err := t.lock.AcquireWrite(0, token, rwlock.HIGH)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	defer t.lock.ReleaseWrite(token)

	if t.loadState() == StateClosed {
		return nil
	}
	if err := t.flushLocked(true); err != nil {
		return err
	}
	t.state.Store(int32(StateClosed))
	unreserveName(t.name)
	return nil
}
