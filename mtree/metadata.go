package mtree

import (
	"encoding/binary"
	"fmt"

	"github.com/merkletreedb/mtree/crypto"
	"github.com/merkletreedb/mtree/storage"
)

const (
	metaKeyRootHash = "rootHash"
	metaKeyNumLeave = "numLeaves"
	metaKeyDepth    = "depth"
)

func metaKeyHangingNode(level int) string {
	return fmt.Sprintf("hangingNode%d", level)
}

func encodeUint32(v int) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(v))
	return b
}

func decodeUint32(b []byte) int {
	return int(binary.BigEndian.Uint32(b))
}

// readMetadata loads root_hash, num_leaves, depth, and every hanging-node
// row for levels 0..depth from storage into the engine.
func (t *Tree) readMetadata() error {
	t.engine.Cache.Clear()
	t.engine.Hanging.Clear()
	t.engine.NumLeaves = 0
	t.engine.Depth = 0
	t.engine.RootHash = nil

	rootBytes, err := t.store.Get(storage.CFMetadata, []byte(metaKeyRootHash))
	if err != nil && err != storage.ErrNotFound {
		return err
	}
	if err == nil {
		root := crypto.BytesToHash(rootBytes)
		t.engine.RootHash = &root
	}

	numBytes, err := t.store.Get(storage.CFMetadata, []byte(metaKeyNumLeave))
	if err != nil && err != storage.ErrNotFound {
		return err
	}
	if err == nil {
		t.engine.NumLeaves = decodeUint32(numBytes)
	}

	depthBytes, err := t.store.Get(storage.CFMetadata, []byte(metaKeyDepth))
	if err != nil && err != storage.ErrNotFound {
		return err
	}
	if err == nil {
		t.engine.Depth = decodeUint32(depthBytes)
	}

	for level := 0; level <= t.engine.Depth; level++ {
		b, err := t.store.Get(storage.CFMetadata, []byte(metaKeyHangingNode(level)))
		if err == storage.ErrNotFound {
			continue
		}
		if err != nil {
			return err
		}
		hash := crypto.BytesToHash(b)
		if _, found, lerr := t.fetchNode(hash); lerr != nil {
			return lerr
		} else if !found {
			return ErrCorruptedTree
		}
		t.engine.Hanging.Set(level, hash)
	}
	return nil
}
