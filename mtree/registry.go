package mtree

import "sync"

// openTrees enforces the process-wide invariant that at most one Tree
// instance is open per name at a time.
var (
	openTreesMu sync.Mutex
	openTrees   = make(map[string]*Tree)
)

// reserveName atomically claims name for an in-progress open, failing if
// it is already claimed.
func reserveName(name string) error {
	openTreesMu.Lock()
	defer openTreesMu.Unlock()
	if _, exists := openTrees[name]; exists {
		return ErrDuplicateInstance
	}
	openTrees[name] = nil
	return nil
}

func registerTree(t *Tree) {
	openTreesMu.Lock()
	defer openTreesMu.Unlock()
	openTrees[t.name] = t
}

func unreserveName(name string) {
	openTreesMu.Lock()
	defer openTreesMu.Unlock()
	delete(openTrees, name)
}

func lookupOpenTree(name string) (*Tree, bool) {
	openTreesMu.Lock()
	defer openTreesMu.Unlock()
	t, ok := openTrees[name]
	return t, ok && t != nil
}

// CloseAll closes every tree currently registered as open in this
// process. It is meant to be invoked from a shutdown hook so no tree is
// left with unflushed state when the process exits.
func CloseAll() {
	openTreesMu.Lock()
	trees := make([]*Tree, 0, len(openTrees))
	for _, t := range openTrees {
		if t != nil {
			trees = append(trees, t)
		}
	}
	openTreesMu.Unlock()

	for _, t := range trees {
		_ = t.Close()
	}
}
