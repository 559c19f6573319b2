package mtree

import (
	"github.com/merkletreedb/mtree/crypto"
	"github.com/merkletreedb/mtree/metrics"
	"github.com/merkletreedb/mtree/rwlock"
	"github.com/merkletreedb/mtree/storage"
)

// AddOrUpdateData inserts or updates the record for key. Inserting the
// same (key, value) pair a second time is a no-op that leaves the root
// hash unchanged.
func (t *Tree) AddOrUpdateData(key, value []byte) error {
	if key == nil || value == nil {
		return ErrInvalidArgument
	}
	return t.withWrite(rwlock.MEDIUM, func() error {
		existing, hadExisting, err := t.currentValueLocked(key)
		if err != nil {
			return err
		}

		newLeafHash := crypto.HashKeyValue(key, value)
		if hadExisting {
			oldLeafHash := crypto.HashKeyValue(key, existing)
			if oldLeafHash == newLeafHash {
				metrics.RecordsNoop.Inc()
				return nil
			}
		}

		t.keyCache[string(key)] = cloneBytes(value)
		t.hasUnsavedChanges = true

		if !hadExisting {
			err = t.engine.AddLeaf(newLeafHash, t.loader())
		} else {
			oldLeafHash := crypto.HashKeyValue(key, existing)
			err = t.engine.UpdateLeaf(oldLeafHash, newLeafHash, t.loader())
		}
		if err != nil {
			return err
		}

		metrics.RecordsWritten.Inc()
		metrics.TreeLeaves.Set(int64(t.engine.NumLeaves))
		metrics.TreeDepth.Set(int64(t.engine.Depth))
		return nil
	})
}

// currentValueLocked looks up key's current value, consulting the
// key-data cache first and falling back to storage. Caller must hold the
// write lock.
func (t *Tree) currentValueLocked(key []byte) ([]byte, bool, error) {
	if v, ok := t.keyCache[string(key)]; ok {
		return v, true, nil
	}
	v, err := t.store.Get(storage.CFKeyData, key)
	if err == storage.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}
