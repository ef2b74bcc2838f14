package heap

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/objrt/errors"
	"github.com/wippyai/objrt/internal/layout"
)

// Reserved is the size of the null region at the start of memory.
const Reserved = 16

type span struct {
	addr, size uint32
}

func (s span) end() uint32 { return s.addr + s.size }

// FreeList is a first-fit allocator with coalescing over Growable memory.
// Blocks are zero-filled on allocation.
type FreeList struct {
	mem  Growable
	log  *zap.Logger
	live map[uint32]uint32
	free []span
	top  uint32
	mu   sync.Mutex
}

// NewFreeList creates an allocator over mem.
func NewFreeList(mem Growable) *FreeList {
	return &FreeList{
		mem:  mem,
		log:  Logger(),
		live: make(map[uint32]uint32),
		top:  Reserved,
	}
}

// WithLogger sets the logger used for diagnostics.
func (f *FreeList) WithLogger(l *zap.Logger) *FreeList {
	if l != nil {
		f.log = l
	}
	return f
}

// Memory returns the memory blocks are allocated in.
func (f *FreeList) Memory() Growable {
	return f.mem
}

// Alloc returns the address of a zeroed block of size bytes.
func (f *FreeList) Alloc(size, align uint32) (uint32, error) {
	if size == 0 {
		size = 1
	}
	if align == 0 {
		align = 1
	}
	if align&(align-1) != 0 {
		return 0, errors.InvalidArg(errors.PhaseHeap, "alignment %d is not a power of two", align)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	ptr, ok := f.fromFreeList(size, align)
	if !ok {
		var err error
		ptr, err = f.fromTop(size, align)
		if err != nil {
			return 0, err
		}
	}
	f.live[ptr] = size

	if err := f.mem.Write(ptr, make([]byte, size)); err != nil {
		delete(f.live, ptr)
		return 0, err
	}
	return ptr, nil
}

func (f *FreeList) fromFreeList(size, align uint32) (uint32, bool) {
	for i, s := range f.free {
		aligned := layout.AlignTo(s.addr, align)
		end, ok := layout.SafeAddU32(aligned, size)
		if !ok || end > s.end() {
			continue
		}
		var parts []span
		if aligned > s.addr {
			parts = append(parts, span{s.addr, aligned - s.addr})
		}
		if end < s.end() {
			parts = append(parts, span{end, s.end() - end})
		}
		f.free = append(f.free[:i], append(parts, f.free[i+1:]...)...)
		return aligned, true
	}
	return 0, false
}

func (f *FreeList) fromTop(size, align uint32) (uint32, error) {
	aligned := layout.AlignTo(f.top, align)
	end, ok := layout.SafeAddU32(aligned, size)
	if !ok {
		return 0, errors.AllocationFailed(errors.PhaseHeap, size, align)
	}
	if cur := f.mem.Size(); end > cur {
		need := Pages(uint64(end)) - Pages(uint64(cur))
		if _, ok := f.mem.Grow(need); !ok {
			f.log.Warn("heap growth refused",
				zap.Uint32("size", size),
				zap.Uint32("pages", need))
			return 0, errors.AllocationFailed(errors.PhaseHeap, size, align)
		}
	}
	if aligned > f.top {
		f.insert(span{f.top, aligned - f.top})
	}
	f.top = end
	return aligned, nil
}

// Free releases a block. Unknown addresses are logged and ignored.
func (f *FreeList) Free(ptr, size, align uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()

	actual, ok := f.live[ptr]
	if !ok {
		f.log.Warn("free of unknown block",
			zap.Uint32("ptr", ptr),
			zap.Uint32("size", size))
		return
	}
	delete(f.live, ptr)
	f.insert(span{ptr, actual})
}

// insert adds s to the sorted free list, coalescing neighbors and folding
// a trailing span back into the top.
func (f *FreeList) insert(s span) {
	i := sort.Search(len(f.free), func(i int) bool { return f.free[i].addr >= s.addr })
	f.free = append(f.free, span{})
	copy(f.free[i+1:], f.free[i:])
	f.free[i] = s

	if i+1 < len(f.free) && f.free[i].end() == f.free[i+1].addr {
		f.free[i].size += f.free[i+1].size
		f.free = append(f.free[:i+1], f.free[i+2:]...)
	}
	if i > 0 && f.free[i-1].end() == f.free[i].addr {
		f.free[i-1].size += f.free[i].size
		f.free = append(f.free[:i], f.free[i+1:]...)
	}

	if n := len(f.free); n > 0 && f.free[n-1].end() == f.top {
		f.top = f.free[n-1].addr
		f.free = f.free[:n-1]
	}
}

// Live returns the number of allocated blocks.
func (f *FreeList) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

// InUse returns the number of allocated bytes.
func (f *FreeList) InUse() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n uint32
	for _, size := range f.live {
		n += size
	}
	return n
}

// Contains reports whether ptr is the start of a live block.
func (f *FreeList) Contains(ptr uint32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.live[ptr]
	return ok
}

// Dump logs every live block at debug level. It is best effort.
func (f *FreeList) Dump() {
	f.mu.Lock()
	blocks := make([]span, 0, len(f.live))
	for ptr, size := range f.live {
		blocks = append(blocks, span{ptr, size})
	}
	top := f.top
	f.mu.Unlock()

	sort.Slice(blocks, func(i, j int) bool { return blocks[i].addr < blocks[j].addr })
	for _, b := range blocks {
		f.log.Debug("live block", zap.Uint32("ptr", b.addr), zap.Uint32("size", b.size))
	}
	f.log.Info("heap dump", zap.Int("blocks", len(blocks)), zap.Uint32("top", top))
}
