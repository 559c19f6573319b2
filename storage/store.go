// Package storage wraps an embedded ordered key-value engine (Pebble) and
// exposes the four logical column families the Merkle tree needs:
// metadata, nodes, keydata, and an unused default namespace that must still
// be opened. Namespacing follows the single-byte key-prefix schema common
// to Ethereum client databases: every column family gets a fixed one-byte
// prefix so multiple logical keyspaces can share one physical store without
// collisions.
package storage

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// ErrNotFound is returned by Get when the key is absent from the column
// family.
var ErrNotFound = errors.New("storage: key not found")

// CF identifies one of the store's logical column families.
type CF byte

const (
	// CFDefault is unused by the tree itself but must be opened, matching
	// the on-disk layout contract.
	CFDefault CF = iota
	// CFMetadata holds rootHash, numLeaves, depth, and hangingNode<level> rows.
	CFMetadata
	// CFNodes holds encoded tree nodes keyed by their hash.
	CFNodes
	// CFKeyData holds user key -> user value records.
	CFKeyData
)

// String returns the column family's logical name.
func (cf CF) String() string {
	switch cf {
	case CFDefault:
		return "default"
	case CFMetadata:
		return "metadata"
	case CFNodes:
		return "nodes"
	case CFKeyData:
		return "keydata"
	default:
		return "unknown"
	}
}

// allCFs lists every column family that must be range-deletable by Clear.
var allCFs = []CF{CFDefault, CFMetadata, CFNodes, CFKeyData}

// Store is a directory-backed, ordered key-value store partitioned into
// column families. A Store is safe for concurrent use: Pebble itself
// serializes conflicting writes and provides consistent snapshots for
// readers.
type Store struct {
	db  *pebble.DB
	dir string
	mem bool
}

// Open opens (creating if necessary) a Store rooted at dir. An empty dir
// opens an in-memory store useful for tests; it cannot be checkpointed to
// a different in-memory Store.
func Open(dir string) (*Store, error) {
	opts := &pebble.Options{}
	mem := dir == ""
	if mem {
		opts.FS = vfs.NewMem()
		dir = "mem-root"
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, dir: dir, mem: mem}, nil
}

// Dir returns the directory the store was opened against.
func (s *Store) Dir() string { return s.dir }

func prefixedKey(cf CF, key []byte) []byte {
	out := make([]byte, 1+len(key))
	out[0] = byte(cf)
	copy(out[1:], key)
	return out
}

// Get returns the value stored under key in cf, or ErrNotFound.
func (s *Store) Get(cf CF, key []byte) ([]byte, error) {
	v, closer, err := s.db.Get(prefixedKey(cf, key))
	if err == pebble.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(v))
	copy(out, v)
	closer.Close()
	return out, nil
}

// Has reports whether key exists in cf.
func (s *Store) Has(cf CF, key []byte) (bool, error) {
	_, err := s.Get(cf, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Put writes a single key-value pair outside of a batch. Prefer NewBatch
// for anything that must be atomic across more than one write.
func (s *Store) Put(cf CF, key, value []byte) error {
	return s.db.Set(prefixedKey(cf, key), value, pebble.Sync)
}

// Delete removes a single key outside of a batch.
func (s *Store) Delete(cf CF, key []byte) error {
	return s.db.Delete(prefixedKey(cf, key), pebble.Sync)
}

// Iterate calls fn for every (key, value) pair in cf in ascending key
// order. Keys are reported with the column family prefix stripped. Iterate
// stops and returns fn's error as soon as fn returns a non-nil error.
func (s *Store) Iterate(cf CF, fn func(key, value []byte) error) error {
	lower := []byte{byte(cf)}
	upper := []byte{byte(cf) + 1}
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return err
	}
	defer it.Close()

	for it.First(); it.Valid(); it.Next() {
		key := it.Key()[1:]
		if err := fn(key, it.Value()); err != nil {
			return err
		}
	}
	return it.Error()
}

// DeleteRange deletes every key in cf within [start, end). A nil start
// means the beginning of the column family; a nil end means its end.
func (s *Store) DeleteRange(cf CF, start, end []byte) error {
	lower := prefixedKey(cf, start)
	var upper []byte
	if end == nil {
		upper = []byte{byte(cf) + 1}
	} else {
		upper = prefixedKey(cf, end)
	}
	return s.db.DeleteRange(lower, upper, pebble.Sync)
}

// ClearAll range-deletes every live column family ([\x00,\xFF) per CF) and
// compacts the store, matching Tree.clear()'s contract.
func (s *Store) ClearAll() error {
	for _, cf := range allCFs {
		if err := s.DeleteRange(cf, []byte{0x00}, []byte{0xFF}); err != nil {
			return err
		}
	}
	return s.db.Compact([]byte{byte(CFDefault)}, []byte{byte(CFKeyData) + 1}, false)
}

// Checkpoint materializes a point-in-time copy of the entire store at
// destDir, which must not already exist. destDir can later be opened with
// Open to obtain an independent Store.
func (s *Store) Checkpoint(destDir string) error {
	if s.mem {
		return errors.New("storage: cannot checkpoint an in-memory store")
	}
	if err := os.MkdirAll(filepath.Dir(destDir), 0o755); err != nil {
		return err
	}
	return s.db.Checkpoint(destDir)
}

// Close releases the store's storage handles.
func (s *Store) Close() error {
	return s.db.Close()
}

// Batch is a set of writes across any subset of column families, applied
// atomically by Commit.
type Batch struct {
	store *Store
	b     *pebble.Batch
}

// NewBatch creates an empty batch bound to this store.
func (s *Store) NewBatch() *Batch {
	return &Batch{store: s, b: s.db.NewBatch()}
}

// Put stages a write of key -> value in cf.
func (b *Batch) Put(cf CF, key, value []byte) {
	_ = b.b.Set(prefixedKey(cf, key), value, nil)
}

// Delete stages a deletion of key in cf.
func (b *Batch) Delete(cf CF, key []byte) {
	_ = b.b.Delete(prefixedKey(cf, key), nil)
}

// DeleteRange stages a range deletion [start, end) in cf.
func (b *Batch) DeleteRange(cf CF, start, end []byte) {
	_ = b.b.DeleteRange(prefixedKey(cf, start), prefixedKey(cf, end), nil)
}

// Len returns the number of staged operations.
func (b *Batch) Len() int { return b.b.Count() }

// Commit applies every staged operation atomically and durably.
func (b *Batch) Commit() error {
	return b.b.Commit(pebble.Sync)
}

// Reset discards all staged operations so the batch can be reused.
func (b *Batch) Reset() {
	b.b.Reset()
}

