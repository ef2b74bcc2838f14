// Package refcount provides atomically reference-counted blocks in linear
// memory.
//
// A Tracker allocates blocks from an objrt.Allocator and counts how many are
// alive. Each block starts with one reference:
//
//	ref, err := tracker.Alloc(32, nil)
//	other := ref.Acquire()          // count 2
//	_, _ = other.Release(nil)       // count 1
//	_, err = ref.Release(destroy)   // destroy runs, block freed
//
// The result of the atomic decrement decides which caller destroys the
// block, so the destructor runs exactly once. If the destructor fails the
// count is restored to 1 and the block is intentionally leaked.
package refcount
