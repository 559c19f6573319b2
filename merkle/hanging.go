package merkle

import (
	"sort"

	"github.com/merkletreedb/mtree/crypto"
)

// HangingRegistry tracks the "unpaired" node per tree level. An entry at
// level 0 exists iff the current leaf count is odd; the deepest occupied
// level holds the root.
type HangingRegistry struct {
	levels map[int]crypto.Hash
}

// NewHangingRegistry creates an empty registry.
func NewHangingRegistry() *HangingRegistry {
	return &HangingRegistry{levels: make(map[int]crypto.Hash)}
}

// Get returns the hanging hash at level, if any.
func (r *HangingRegistry) Get(level int) (crypto.Hash, bool) {
	h, ok := r.levels[level]
	return h, ok
}

// Set records hash as hanging at level.
func (r *HangingRegistry) Set(level int, hash crypto.Hash) {
	r.levels[level] = hash
}

// Delete removes the hanging entry at level, if present.
func (r *HangingRegistry) Delete(level int) {
	delete(r.levels, level)
}

// Rewrite replaces oldHash with newHash wherever it appears as a hanging
// value, used when a hanging node's identity changes under
// updateNodeHash.
func (r *HangingRegistry) Rewrite(oldHash, newHash crypto.Hash) {
	for level, h := range r.levels {
		if h == oldHash {
			r.levels[level] = newHash
		}
	}
}

// Levels returns the occupied levels in ascending order.
func (r *HangingRegistry) Levels() []int {
	out := make([]int, 0, len(r.levels))
	for level := range r.levels {
		out = append(out, level)
	}
	sort.Ints(out)
	return out
}

// Clear empties the registry.
func (r *HangingRegistry) Clear() {
	r.levels = make(map[int]crypto.Hash)
}

// Len reports the number of occupied levels.
func (r *HangingRegistry) Len() int {
	return len(r.levels)
}
