package heap

import (
	objrt "github.com/wippyai/objrt"
)

// PageSize is the growth granularity of linear memory.
const PageSize = 65536

// Growable is linear memory that can be extended in whole pages.
type Growable interface {
	objrt.Memory
	objrt.MemorySizer
	// Grow adds deltaPages and returns the previous size in pages.
	Grow(deltaPages uint32) (previousPages uint32, ok bool)
}

// Pages returns the number of pages needed to hold size bytes.
func Pages(size uint64) uint32 {
	return uint32((size + PageSize - 1) / PageSize)
}
