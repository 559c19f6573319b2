package merkle

import (
	"github.com/merkletreedb/mtree/crypto"
)

// Engine drives the hanging-node incremental construction algorithm. It
// owns the node cache and hanging-node registry and the tree's scalar
// state (NumLeaves, Depth, RootHash); it knows nothing about storage
// batching, locking, or the key-data map -- those are the persistence
// manager's and facade's concerns.
type Engine struct {
	Cache   *Cache
	Hanging *HangingRegistry

	NumLeaves int
	Depth     int
	RootHash  *crypto.Hash
}

// NewEngine creates an empty engine (an empty tree).
func NewEngine() *Engine {
	return &Engine{
		Cache:   NewCache(),
		Hanging: NewHangingRegistry(),
	}
}

func (e *Engine) get(hash crypto.Hash, load Loader) (*Node, error) {
	return e.Cache.Get(hash, load)
}

// AddLeaf inserts a new leaf identified by leafHash into the tree,
// threading it through the hanging-node registry and propagating parent
// creation/adoption as needed.
func (e *Engine) AddLeaf(leafHash crypto.Hash, load Loader) error {
	if leafHash.IsZero() {
		return ErrInvalidArgument
	}

	if e.NumLeaves == 0 {
		e.Hanging.Set(0, leafHash)
		root := leafHash
		e.RootHash = &root
		e.Cache.Put(NewLeaf(leafHash))
		e.NumLeaves = 1
		return nil
	}

	hangingHash, hasHanging := e.Hanging.Get(0)
	switch {
	case !hasHanging:
		parent := &Node{Hash: computeHash(&leafHash, nil), Left: cpHash(leafHash)}
		leaf := NewLeaf(leafHash)
		leaf.Parent = cpHash(parent.Hash)
		e.Cache.Put(leaf)
		e.Cache.Put(parent)
		e.Hanging.Set(0, leafHash)
		if err := e.addNode(1, parent, load); err != nil {
			return err
		}

	default:
		hangingNode, err := e.get(hangingHash, load)
		if err != nil {
			return err
		}
		if hangingNode == nil {
			return ErrCorruptedNode
		}
		if hangingNode.Parent == nil {
			parent := &Node{
				Hash:  computeHash(&hangingHash, &leafHash),
				Left:  cpHash(hangingHash),
				Right: cpHash(leafHash),
			}
			hangingNode.Parent = cpHash(parent.Hash)
			leaf := NewLeaf(leafHash)
			leaf.Parent = cpHash(parent.Hash)
			e.Cache.Put(hangingNode)
			e.Cache.Put(leaf)
			e.Cache.Put(parent)
			e.Hanging.Delete(0)
			if err := e.addNode(1, parent, load); err != nil {
				return err
			}
		} else {
			parent, err := e.get(*hangingNode.Parent, load)
			if err != nil {
				return err
			}
			if parent == nil {
				return ErrCorruptedNode
			}
			leaf := NewLeaf(leafHash)
			leaf.Parent = cpHash(parent.Hash)
			e.Cache.Put(leaf)
			if err := e.nodeAddLeaf(parent, leafHash, load); err != nil {
				return err
			}
			e.Hanging.Delete(0)
		}
	}

	e.NumLeaves++
	return nil
}

// addNode recurses the hanging-node registration upward starting at
// level, given a freshly created internal node with one child already
// set.
func (e *Engine) addNode(level int, node *Node, load Loader) error {
	hangingHash, hasHanging := e.Hanging.Get(level)
	switch {
	case !hasHanging:
		e.Hanging.Set(level, node.Hash)
		if level >= e.Depth {
			e.Depth = level
			root := node.Hash
			e.RootHash = &root
			return nil
		}
		// The tree already extends above this level (an earlier subtree
		// reached a greater depth); this node has no sibling of its own
		// but still needs threading into the existing trunk, so wrap it
		// in a parent and keep recursing upward. It stays registered as
		// hanging at this level -- hanging means "no sibling yet", not
		// "no parent".
		parent := &Node{Hash: computeHash(&node.Hash, nil), Left: cpHash(node.Hash)}
		node.Parent = cpHash(parent.Hash)
		e.Cache.Put(node)
		e.Cache.Put(parent)
		return e.addNode(level+1, parent, load)

	default:
		hangingNode, err := e.get(hangingHash, load)
		if err != nil {
			return err
		}
		if hangingNode == nil {
			return ErrCorruptedNode
		}
		if hangingNode.Parent == nil {
			parent := &Node{
				Hash:  computeHash(&hangingHash, &node.Hash),
				Left:  cpHash(hangingHash),
				Right: cpHash(node.Hash),
			}
			hangingNode.Parent = cpHash(parent.Hash)
			node.Parent = cpHash(parent.Hash)
			e.Cache.Put(hangingNode)
			e.Cache.Put(node)
			e.Cache.Put(parent)
			e.Hanging.Delete(level)
			return e.addNode(level+1, parent, load)
		}

		parent, err := e.get(*hangingNode.Parent, load)
		if err != nil {
			return err
		}
		if parent == nil {
			return ErrCorruptedNode
		}
		node.Parent = cpHash(parent.Hash)
		e.Cache.Put(node)
		e.Hanging.Delete(level)
		return e.nodeAddLeaf(parent, node.Hash, load)
	}
}

// nodeAddLeaf fills parent's missing child slot with childHash, then
// recomputes parent's hash and propagates the change.
func (e *Engine) nodeAddLeaf(parent *Node, childHash crypto.Hash, load Loader) error {
	switch {
	case parent.Left == nil:
		parent.Left = cpHash(childHash)
	case parent.Right == nil:
		parent.Right = cpHash(childHash)
	default:
		return ErrNodeFull
	}
	newHash := computeHash(parent.Left, parent.Right)
	return e.updateNodeHash(parent, newHash, load)
}

// updateNodeHash is the hash-propagation heart of the engine: it rewrites
// a node's identity in every in-memory structure that references it by
// hash, then propagates the change to its parent.
func (e *Engine) updateNodeHash(n *Node, newHash crypto.Hash, load Loader) error {
	oldHash := n.Hash
	if newHash == oldHash {
		return nil
	}

	e.Cache.Rekey(oldHash, newHash, n)
	e.Hanging.Rewrite(oldHash, newHash)
	n.Hash = newHash

	if n.Left != nil {
		if child, err := e.get(*n.Left, load); err == nil && child != nil {
			child.Parent = cpHash(newHash)
			e.Cache.Put(child)
		}
	}
	if n.Right != nil {
		if child, err := e.get(*n.Right, load); err == nil && child != nil {
			child.Parent = cpHash(newHash)
			e.Cache.Put(child)
		}
	}

	if n.Parent == nil {
		e.RootHash = cpHash(newHash)
		return nil
	}

	parent, err := e.get(*n.Parent, load)
	if err != nil {
		return err
	}
	if parent == nil {
		return ErrCorruptedNode
	}

	switch {
	case parent.Left != nil && *parent.Left == oldHash:
		parent.Left = cpHash(newHash)
	case parent.Right != nil && *parent.Right == oldHash:
		parent.Right = cpHash(newHash)
	}
	newParentHash := computeHash(parent.Left, parent.Right)
	e.Cache.Put(parent)
	return e.updateNodeHash(parent, newParentHash, load)
}

// UpdateLeaf locates the leaf currently identified by oldLeafHash and
// rehashes it (and its ancestry) to newLeafHash.
func (e *Engine) UpdateLeaf(oldLeafHash, newLeafHash crypto.Hash, load Loader) error {
	if oldLeafHash == newLeafHash {
		return ErrInvalidArgument
	}
	n, err := e.get(oldLeafHash, load)
	if err != nil {
		return err
	}
	if n == nil {
		return ErrLeafNotFound
	}
	return e.updateNodeHash(n, newLeafHash, load)
}

// AllNodes returns every node currently cached.
func (e *Engine) AllNodes() []*Node {
	return e.Cache.All()
}

// Clone returns a deep, independent copy of the engine's full in-memory
// state: every cached node, the hanging-node registry, and the scalar
// counters.
func (e *Engine) Clone() *Engine {
	out := NewEngine()
	for hash, n := range e.Cache.nodes {
		out.Cache.nodes[hash] = n.Clone()
	}
	for level, h := range e.Hanging.levels {
		out.Hanging.levels[level] = h
	}
	out.NumLeaves = e.NumLeaves
	out.Depth = e.Depth
	if e.RootHash != nil {
		h := *e.RootHash
		out.RootHash = &h
	}
	return out
}

func cpHash(h crypto.Hash) *crypto.Hash {
	cp := h
	return &cp
}
