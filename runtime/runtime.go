package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	objrt "github.com/wippyai/objrt"
	"github.com/wippyai/objrt/errors"
	"github.com/wippyai/objrt/handle"
	"github.com/wippyai/objrt/heap"
	"github.com/wippyai/objrt/meta"
	"github.com/wippyai/objrt/refcount"
	"github.com/wippyai/objrt/signal"
	"github.com/wippyai/objrt/variant"
)

// Runtime owns a heap and every registry built on it.
type Runtime struct {
	cfg    Config
	log    *zap.Logger
	mem    heap.Growable
	wazero *heap.Wazero
	alloc  *heap.FreeList

	refs    *refcount.Tracker
	funcs   *handle.Table
	opaque  *handle.Table
	watch   *opaqueWatch
	types   *meta.Registry
	vars    *variant.Registry
	signals *signal.Table

	closeOnce sync.Once
	closeErr  error
}

// New creates a runtime. A nil cfg uses the zero Config.
func New(ctx context.Context, cfg *Config) (*Runtime, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := cfg.withDefaults()
	log, err := c.logger()
	if err != nil {
		return nil, err
	}

	r := &Runtime{cfg: c, log: log}
	switch c.Backend {
	case BackendWazero:
		w, err := heap.NewWazero(ctx, heap.WazeroConfig{
			Name:         c.ModuleName,
			InitialPages: c.InitialPages,
			MaxPages:     c.MaxPages,
		})
		if err != nil {
			return nil, err
		}
		r.mem, r.wazero = w, w
	default:
		r.mem = heap.NewLinear(c.InitialPages, c.MaxPages)
	}

	r.alloc = heap.NewFreeList(r.mem).WithLogger(log)
	r.refs = refcount.NewTracker(r.mem, r.alloc).WithLogger(log)
	r.funcs = handle.NewTable()
	r.opaque = handle.NewTable()
	r.watch = &opaqueWatch{log: log}
	r.opaque.Subscribe(r.watch)

	r.types, err = meta.New(r.mem, r.alloc,
		meta.WithLogger(log),
		meta.WithTracker(r.refs),
		meta.WithFuncTable(r.funcs))
	if err != nil {
		if r.wazero != nil {
			_ = r.wazero.Close(ctx)
		}
		return nil, err
	}
	r.vars = variant.New(r.types, variant.WithLogger(log), variant.WithOpaqueTable(r.opaque))
	r.signals = signal.New(r.vars, signal.WithLogger(log))

	log.Debug("runtime ready",
		zap.String("backend", c.Backend),
		zap.Uint32("pages", c.InitialPages),
		zap.Uint32("max_pages", c.MaxPages))
	return r, nil
}

// Config returns the effective configuration.
func (r *Runtime) Config() Config { return r.cfg }

// Logger returns the runtime logger.
func (r *Runtime) Logger() *zap.Logger { return r.log }

// Memory returns the heap.
func (r *Runtime) Memory() objrt.Memory { return r.mem }

// Allocator returns the heap allocator.
func (r *Runtime) Allocator() *heap.FreeList { return r.alloc }

// Tracker returns the reference counter for heap blocks.
func (r *Runtime) Tracker() *refcount.Tracker { return r.refs }

// Funcs returns the class slot function table.
func (r *Runtime) Funcs() *handle.Table { return r.funcs }

// Types returns the type registry.
func (r *Runtime) Types() *meta.Registry { return r.types }

// Variants returns the variant registry.
func (r *Runtime) Variants() *variant.Registry { return r.vars }

// Signals returns the signal table.
func (r *Runtime) Signals() *signal.Table { return r.signals }

// Leaks counts what is still alive in a runtime.
type Leaks struct {
	Instances int
	Refs      int32
	Opaque    int
	Blocks    int
}

// Empty reports whether nothing leaked.
func (l Leaks) Empty() bool {
	return l.Instances == 0 && l.Refs == 0 && l.Opaque == 0
}

func (l Leaks) String() string {
	var parts []string
	if l.Instances > 0 {
		parts = append(parts, plural(l.Instances, "instance"))
	}
	if l.Refs > 0 {
		parts = append(parts, plural(int(l.Refs), "reference"))
	}
	if l.Opaque > 0 {
		parts = append(parts, plural(l.Opaque, "opaque value"))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}

func plural(n int, what string) string {
	if n == 1 {
		return "1 " + what
	}
	return fmt.Sprintf("%d %ss", n, what)
}

// Leaks reports live instances, references and opaque values.
func (r *Runtime) Leaks() Leaks {
	return Leaks{
		Instances: r.types.LiveInstances(),
		Refs:      r.refs.ActiveCount(),
		Opaque:    r.opaque.Len(),
		Blocks:    r.alloc.Live(),
	}
}

// Close disconnects every signal, tears the registries down and releases
// the heap. Anything still alive is logged with a heap dump and reported
// as Partial; the heap is released regardless.
func (r *Runtime) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		r.closeErr = r.close(ctx)
	})
	return r.closeErr
}

func (r *Runtime) close(ctx context.Context) error {
	if n := r.signals.Close(); n > 0 {
		r.log.Debug("disconnected signals on close", zap.Int("connections", n))
	}

	leaks := r.Leaks()
	var result error
	if !leaks.Empty() {
		r.log.Warn("runtime closed with live objects",
			zap.Int("instances", leaks.Instances),
			zap.Int32("refs", leaks.Refs),
			zap.Int("opaque", leaks.Opaque),
			zap.Int("blocks", leaks.Blocks))
		r.alloc.Dump()
		result = errors.Partial(errors.PhaseLifetime, "leaked %s", leaks)
	}

	if err := r.types.Close(); err != nil && result == nil {
		result = err
	}
	r.watch.closing.Store(true)
	_ = r.opaque.Close()
	r.opaque.Unsubscribe(r.watch)

	if r.wazero != nil {
		if err := r.wazero.Close(ctx); err != nil && result == nil {
			result = errors.Wrap(errors.PhaseHeap, errors.KindPartial, err, "close wazero heap")
		}
	}
	return result
}
