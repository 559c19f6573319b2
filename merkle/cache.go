package merkle

import (
	"github.com/merkletreedb/mtree/crypto"
	"github.com/merkletreedb/mtree/metrics"
)

// Loader fetches a node's encoded form from persistent storage on a cache
// miss. It returns (nil, false, nil) when the hash is genuinely absent.
type Loader func(hash crypto.Hash) (*Node, bool, error)

// Cache is the in-memory map<hash, Node> that backs every read and write
// the engine performs. It is not safe for concurrent use; callers must
// hold the tree's lock in the appropriate mode.
type Cache struct {
	nodes map[crypto.Hash]*Node
}

// NewCache creates an empty node cache.
func NewCache() *Cache {
	return &Cache{nodes: make(map[crypto.Hash]*Node)}
}

// Get returns the cached node for hash, loading it from storage via load
// on a miss and inserting it into the cache. load may be nil if the
// caller knows the hash must already be resident (e.g. one just created
// this call).
func (c *Cache) Get(hash crypto.Hash, load Loader) (*Node, error) {
	if n, ok := c.nodes[hash]; ok {
		metrics.CacheHits.Inc()
		return n, nil
	}
	metrics.CacheMisses.Inc()
	if load == nil {
		return nil, nil
	}
	n, found, err := load(hash)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	c.nodes[hash] = n
	return n, nil
}

// Put inserts or overwrites the cached entry for node.Hash.
func (c *Cache) Put(n *Node) {
	c.nodes[n.Hash] = n
	metrics.DirtyNodes.Set(int64(len(c.nodes)))
}

// Delete removes hash from the cache, used when a stale row is being
// retired after a rehash.
func (c *Cache) Delete(hash crypto.Hash) {
	delete(c.nodes, hash)
	metrics.DirtyNodes.Set(int64(len(c.nodes)))
}

// Rekey moves the cache entry for a node from its old identity to its new
// one after a hash change, marking the node dirty so the stale disk row
// is known.
func (c *Cache) Rekey(oldHash, newHash crypto.Hash, n *Node) {
	n.markDirty()
	delete(c.nodes, oldHash)
	c.nodes[newHash] = n
	metrics.DirtyNodes.Set(int64(len(c.nodes)))
}

// All returns every node currently cached, in no particular order.
func (c *Cache) All() []*Node {
	out := make([]*Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		out = append(out, n)
	}
	return out
}

// Len reports how many nodes are currently cached.
func (c *Cache) Len() int {
	return len(c.nodes)
}

// Clear empties the cache, matching the post-flush contract: the node
// cache is wiped after every committed batch.
func (c *Cache) Clear() {
	c.nodes = make(map[crypto.Hash]*Node)
	metrics.DirtyNodes.Set(0)
}
