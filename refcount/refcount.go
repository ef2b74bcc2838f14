package refcount

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	objrt "github.com/wippyai/objrt"
	"github.com/wippyai/objrt/errors"
	"github.com/wippyai/objrt/heap"
)

// Align is the alignment of every block payload.
const Align = 8

// DestructFn tears down a block's payload before it is freed.
type DestructFn func(*Ref) error

// Tracker allocates ref-counted blocks and tracks how many are alive.
type Tracker struct {
	mem    objrt.Memory
	alloc  objrt.Allocator
	log    *zap.Logger
	active atomic.Int32
}

// NewTracker creates a tracker over the given heap.
func NewTracker(mem objrt.Memory, alloc objrt.Allocator) *Tracker {
	return &Tracker{mem: mem, alloc: alloc, log: Logger()}
}

// WithLogger sets the logger used for lifetime diagnostics.
func (t *Tracker) WithLogger(l *zap.Logger) *Tracker {
	if l != nil {
		t.log = l
	}
	return t
}

// Memory returns the memory blocks live in.
func (t *Tracker) Memory() objrt.Memory { return t.mem }

var (
	defaultTracker *Tracker
	defaultOnce    sync.Once
)

// Default returns the process-wide tracker backed by its own slice heap.
func Default() *Tracker {
	defaultOnce.Do(func() {
		mem := heap.NewLinear(1, 0)
		defaultTracker = NewTracker(mem, heap.NewFreeList(mem))
	})
	return defaultTracker
}

// Ref is a handle to a live reference-counted block.
type Ref struct {
	tracker *Tracker
	ctx     any
	ptr     uint32
	size    uint32
	count   atomic.Int32
}

// Alloc allocates a zeroed block of size bytes with one reference.
// ctx is an arbitrary owner context carried with the block.
func (t *Tracker) Alloc(size uint32, ctx any) (*Ref, error) {
	if size == 0 {
		return nil, errors.InvalidArg(errors.PhaseLifetime, "zero-sized ref block")
	}
	ptr, err := t.alloc.Alloc(size, Align)
	if err != nil {
		return nil, err
	}
	r := &Ref{tracker: t, ctx: ctx, ptr: ptr, size: size}
	r.count.Store(1)
	t.active.Add(1)
	return r, nil
}

// Acquire adds a reference and returns r. A nil Ref stays nil.
func (r *Ref) Acquire() *Ref {
	if r == nil {
		return nil
	}
	r.count.Add(1)
	return r
}

// Release drops a reference and returns the remaining count. The caller
// that takes the count to zero runs dtor and frees the block. A failing
// dtor restores the count, leaks the block and returns its error wrapped
// as DestructorFailed. A nil Ref is a no-op.
func (r *Ref) Release(dtor DestructFn) (int32, error) {
	if r == nil {
		return 0, nil
	}
	t := r.tracker

	n := r.count.Add(-1)
	if n > 0 {
		return n, nil
	}
	if n < 0 {
		r.count.Add(1)
		return 0, errors.New(errors.PhaseLifetime, errors.KindInvalidHandle).
			Detail("release of block %d with no references", r.ptr).
			Build()
	}
	if t.active.Load() == 0 {
		r.count.Add(1)
		return 0, errors.New(errors.PhaseLifetime, errors.KindInvalidHandle).
			Detail("release with 0 active blocks").
			Build()
	}

	if dtor != nil {
		if err := dtor(r); err != nil {
			t.log.Warn("destructor failed on last reference, leaking block",
				zap.Uint32("ptr", r.ptr),
				zap.Uint32("size", r.size),
				zap.Error(err))
			return r.count.Add(1), errors.Wrap(errors.PhaseLifetime, errors.KindDestructorFailed, err, "release")
		}
	}

	t.alloc.Free(r.ptr, r.size, Align)
	t.active.Add(-1)
	return 0, nil
}

// Count returns the current reference count.
func (r *Ref) Count() int32 {
	if r == nil {
		return 0
	}
	return r.count.Load()
}

// Ptr returns the payload address in linear memory.
func (r *Ref) Ptr() uint32 { return r.ptr }

// Size returns the payload size in bytes.
func (r *Ref) Size() uint32 { return r.size }

// Context returns the owner context given to Alloc.
func (r *Ref) Context() any { return r.ctx }

// Tracker returns the tracker the block belongs to.
func (r *Ref) Tracker() *Tracker { return r.tracker }

// Bytes returns a copy of the payload.
func (r *Ref) Bytes() ([]byte, error) {
	return r.tracker.mem.Read(r.ptr, r.size)
}

// Write copies data into the payload at off.
func (r *Ref) Write(off uint32, data []byte) error {
	if uint64(off)+uint64(len(data)) > uint64(r.size) {
		return errors.OutOfBounds(errors.PhaseLifetime, off, uint32(len(data)))
	}
	return r.tracker.mem.Write(r.ptr+off, data)
}

// ActiveCount returns the number of live blocks.
func (t *Tracker) ActiveCount() int32 {
	return t.active.Load()
}

// Reinit resets the live counter, reporting Partial if blocks were still alive.
func (t *Tracker) Reinit() error {
	n := t.active.Swap(0)
	if n > 0 {
		t.log.Warn("reinit with live blocks", zap.Int32("remaining", n))
		return errors.Partial(errors.PhaseLifetime, "%d remaining references", n)
	}
	return nil
}
