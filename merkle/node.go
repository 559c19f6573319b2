// Package merkle implements the hanging-node incremental Merkle tree
// engine: the structural core that grows an unbalanced-but-deterministic
// binary tree one leaf at a time, propagating hash changes up to the
// root. It has no notion of disk persistence or locking; callers (the
// mtree package) supply a node loader for cache misses and drive every
// call from inside the appropriate lock mode.
package merkle

import (
	"errors"

	"github.com/merkletreedb/mtree/crypto"
)

// Errors returned by the structural engine.
var (
	ErrLeafNotFound    = errors.New("merkle: leaf not found")
	ErrNodeFull        = errors.New("merkle: node already has both children")
	ErrCorruptedNode   = errors.New("merkle: corrupted node encoding")
	ErrInvalidArgument = errors.New("merkle: invalid argument")
)

// Node is the fundamental structural unit of the tree. A leaf has no
// children; an internal node has at least one. parent and
// pendingOldHash are never both zero-value and meaningful at once --
// pendingOldHash is transient bookkeeping for the persistence layer and
// is never encoded.
type Node struct {
	Hash   crypto.Hash
	Left   *crypto.Hash
	Right  *crypto.Hash
	Parent *crypto.Hash

	// pendingOldHash is the hash this node had the last time it was read
	// from disk, recorded on first mutation after load so the stale row
	// can be deleted at the next flush. Not part of the wire encoding.
	pendingOldHash *crypto.Hash
}

// NewLeaf creates a detached leaf node identified by hash.
func NewLeaf(hash crypto.Hash) *Node {
	return &Node{Hash: hash}
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool {
	return n.Left == nil && n.Right == nil
}

// PendingOldHash returns the node's recorded pre-mutation hash, if any.
func (n *Node) PendingOldHash() (crypto.Hash, bool) {
	if n.pendingOldHash == nil {
		return crypto.Hash{}, false
	}
	return *n.pendingOldHash, true
}

// markDirty records the node's current hash as its pending old hash, but
// only the first time it is called after a load -- subsequent mutations
// within the same cache lifetime must not clobber the original disk hash.
func (n *Node) markDirty() {
	if n.pendingOldHash == nil {
		h := n.Hash
		n.pendingOldHash = &h
	}
}

// Clone returns a deep, independent copy of n, including its transient
// pending-old-hash bookkeeping.
func (n *Node) Clone() *Node {
	cp := &Node{Hash: n.Hash}
	if n.Left != nil {
		h := *n.Left
		cp.Left = &h
	}
	if n.Right != nil {
		h := *n.Right
		cp.Right = &h
	}
	if n.Parent != nil {
		h := *n.Parent
		cp.Parent = &h
	}
	if n.pendingOldHash != nil {
		h := *n.pendingOldHash
		cp.pendingOldHash = &h
	}
	return cp
}

// Encode serializes a node to its fixed-layout binary form:
//
//	[hash:32][flagLeft:1][flagRight:1][flagParent:1]
//	[left:32 if flagLeft][right:32 if flagRight][parent:32 if flagParent]
func Encode(n *Node) []byte {
	size := crypto.HashLength + 3
	if n.Left != nil {
		size += crypto.HashLength
	}
	if n.Right != nil {
		size += crypto.HashLength
	}
	if n.Parent != nil {
		size += crypto.HashLength
	}

	buf := make([]byte, size)
	copy(buf[0:crypto.HashLength], n.Hash.Bytes())

	off := crypto.HashLength
	flagOff := off
	buf[flagOff] = boolByte(n.Left != nil)
	buf[flagOff+1] = boolByte(n.Right != nil)
	buf[flagOff+2] = boolByte(n.Parent != nil)
	off += 3

	if n.Left != nil {
		copy(buf[off:off+crypto.HashLength], n.Left.Bytes())
		off += crypto.HashLength
	}
	if n.Right != nil {
		copy(buf[off:off+crypto.HashLength], n.Right.Bytes())
		off += crypto.HashLength
	}
	if n.Parent != nil {
		copy(buf[off:off+crypto.HashLength], n.Parent.Bytes())
		off += crypto.HashLength
	}
	return buf
}

// Decode parses a node from its binary encoding. Decode fails with
// ErrCorruptedNode if the buffer is too short for its header, or if its
// declared flags do not match the buffer's total length.
func Decode(b []byte) (*Node, error) {
	if len(b) < crypto.HashLength+3 {
		return nil, ErrCorruptedNode
	}
	n := &Node{Hash: crypto.BytesToHash(b[0:crypto.HashLength])}

	off := crypto.HashLength
	hasLeft := b[off] != 0
	hasRight := b[off+1] != 0
	hasParent := b[off+2] != 0
	off += 3

	want := off
	if hasLeft {
		want += crypto.HashLength
	}
	if hasRight {
		want += crypto.HashLength
	}
	if hasParent {
		want += crypto.HashLength
	}
	if len(b) != want {
		return nil, ErrCorruptedNode
	}

	if hasLeft {
		h := crypto.BytesToHash(b[off : off+crypto.HashLength])
		n.Left = &h
		off += crypto.HashLength
	}
	if hasRight {
		h := crypto.BytesToHash(b[off : off+crypto.HashLength])
		n.Right = &h
		off += crypto.HashLength
	}
	if hasParent {
		h := crypto.BytesToHash(b[off : off+crypto.HashLength])
		n.Parent = &h
		off += crypto.HashLength
	}
	return n, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// computeHash derives an internal node's hash from its children using
// single-child duplication: H(left ?? right, right ?? left).
func computeHash(left, right *crypto.Hash) crypto.Hash {
	l := left
	r := right
	if l == nil {
		l = right
	}
	if r == nil {
		r = left
	}
	return crypto.H(l.Bytes(), r.Bytes())
}
