package mtree

import "errors"

// Sentinel errors surfaced by the facade. IO failures from the storage
// layer are returned unwrapped rather than remapped to a local sentinel.
var (
	ErrInvalidArgument   = errors.New("mtree: invalid argument")
	ErrTreeClosed        = errors.New("mtree: operation on a closed tree")
	ErrDuplicateInstance = errors.New("mtree: tree name already open in this process")
	ErrCorruptedTree     = errors.New("mtree: hanging-node level references a hash absent from storage")
)
