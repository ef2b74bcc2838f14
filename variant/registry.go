package variant

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/objrt/errors"
	"github.com/wippyai/objrt/handle"
	"github.com/wippyai/objrt/meta"
	"github.com/wippyai/objrt/refcount"
)

// KindOpaque tags opaque Go values held by variants.
const KindOpaque handle.Kind = 2

// Behavior is the per-type variant table. Nil members fall back to a
// bitwise default. Lookup walks the type's parent chain, so a behavior
// registered for a fundamental serves every type derived from it.
type Behavior struct {
	ConstructDefault func(r *Registry, t meta.Type) (Variant, error)
	Copy             func(r *Registry, src *Variant) (Variant, error)
	Destruct         func(r *Registry, v *Variant) error
	Compare          func(r *Registry, a, b *Variant) (int, error)
}

// Converter converts src to a variant of exactly type to.
type Converter func(r *Registry, src *Variant, to meta.Type) (Variant, error)

// Comparator orders two variants of different types.
type Comparator func(r *Registry, a, b *Variant) (int, error)

type pair struct{ from, to meta.Type }

// Registry holds variant behaviors, converters and comparators for one
// type registry.
type Registry struct {
	types       *meta.Registry
	refs        *refcount.Tracker
	opaque      *handle.Table
	log         *zap.Logger
	behaviors   map[meta.Type]*Behavior
	converters  map[pair]Converter
	comparators map[pair]Comparator
	mu          sync.RWMutex
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithOpaqueTable sets the table opaque values are stored in.
func WithOpaqueTable(t *handle.Table) Option {
	return func(r *Registry) { r.opaque = t }
}

// New creates a variant registry over types with the builtin behaviors
// and default converters installed.
func New(types *meta.Registry, opts ...Option) *Registry {
	r := &Registry{
		types:       types,
		refs:        types.Tracker(),
		log:         Logger(),
		behaviors:   make(map[meta.Type]*Behavior),
		converters:  make(map[pair]Converter),
		comparators: make(map[pair]Comparator),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.opaque == nil {
		r.opaque = handle.NewTable()
	}
	r.registerBehaviors()
	r.registerDefaultConverters()
	return r
}

// Types returns the type registry.
func (r *Registry) Types() *meta.Registry { return r.types }

// OpaqueTable returns the table opaque values live in.
func (r *Registry) OpaqueTable() *handle.Table { return r.opaque }

// RegisterBehavior installs the behavior table for t and its descendants.
func (r *Registry) RegisterBehavior(t meta.Type, b Behavior) error {
	if !r.types.Valid(t) {
		return errors.New(errors.PhaseConvert, errors.KindInvalidType).Value(t).Build()
	}
	r.mu.Lock()
	r.behaviors[t] = &b
	r.mu.Unlock()
	return nil
}

func (r *Registry) behavior(t meta.Type) *Behavior {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for ; t != meta.InvalidType; t = r.types.Parent(t) {
		if b, ok := r.behaviors[t]; ok {
			return b
		}
	}
	return &Behavior{}
}

// RegisterConverter installs fn for (from, to). A later registration for
// the same pair replaces the earlier one.
func (r *Registry) RegisterConverter(from, to meta.Type, fn Converter) error {
	if !r.types.Valid(from) || !r.types.Valid(to) || fn == nil {
		return errors.New(errors.PhaseConvert, errors.KindInvalidType).
			Type(r.types.Name(from)).Target(r.types.Name(to)).Detail("invalid converter registration").Build()
	}
	r.mu.Lock()
	_, replaced := r.converters[pair{from, to}]
	r.converters[pair{from, to}] = fn
	r.mu.Unlock()
	if replaced {
		r.log.Warn("overwrote existing converter",
			zap.String("from", r.types.Name(from)),
			zap.String("to", r.types.Name(to)))
	}
	return nil
}

// UnregisterConverter removes the converter for exactly (from, to).
func (r *Registry) UnregisterConverter(from, to meta.Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.converters[pair{from, to}]; !ok {
		return errors.NotFound(errors.PhaseConvert, "converter "+r.types.Name(from)+" -> "+r.types.Name(to))
	}
	delete(r.converters, pair{from, to})
	return nil
}

// ConverterCount returns the number of registered converters.
func (r *Registry) ConverterCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.converters)
}

// RegisterComparator installs fn for variants of types a and b, in either order.
func (r *Registry) RegisterComparator(a, b meta.Type, fn Comparator) error {
	if !r.types.Valid(a) || !r.types.Valid(b) || fn == nil {
		return errors.New(errors.PhaseConvert, errors.KindInvalidType).Detail("invalid comparator registration").Build()
	}
	r.mu.Lock()
	r.comparators[pair{a, b}] = fn
	r.mu.Unlock()
	return nil
}

// lookupConverter walks the destination chain outward and, for each
// destination, the source chain outward.
func (r *Registry) lookupConverter(from, to meta.Type) Converter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for dt := to; dt != meta.InvalidType; dt = r.types.Parent(dt) {
		for st := from; st != meta.InvalidType; st = r.types.Parent(st) {
			if fn, ok := r.converters[pair{st, dt}]; ok {
				return fn
			}
		}
	}
	return nil
}

func (r *Registry) lookupComparator(a, b meta.Type) (Comparator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for at := a; at != meta.InvalidType; at = r.types.Parent(at) {
		for bt := b; bt != meta.InvalidType; bt = r.types.Parent(bt) {
			if fn, ok := r.comparators[pair{at, bt}]; ok {
				return fn, false
			}
			if fn, ok := r.comparators[pair{bt, at}]; ok {
				return fn, true
			}
		}
	}
	return nil, false
}

// ConstructDefault returns the default value of t.
func (r *Registry) ConstructDefault(t meta.Type) (Variant, error) {
	if !r.types.Valid(t) {
		return Variant{}, errors.New(errors.PhaseConvert, errors.KindInvalidType).Value(t).Build()
	}
	if b := r.behavior(t); b.ConstructDefault != nil {
		return b.ConstructDefault(r, t)
	}
	return Variant{typ: t}, nil
}

// ConstructCopy returns a copy of src sharing its payload.
func (r *Registry) ConstructCopy(src *Variant) (Variant, error) {
	if src.IsNil() {
		return Nil(), nil
	}
	if b := r.behavior(src.Type()); b.Copy != nil {
		return b.Copy(r, src)
	}
	return *src, nil
}

// ConstructMove returns src's value and leaves src nil.
func (r *Registry) ConstructMove(src *Variant) Variant {
	out := *src
	src.reset()
	if out.typ == meta.InvalidType {
		out.typ = meta.NilType
	}
	return out
}

// SetCopy releases dst's payload and copies src into it.
func (r *Registry) SetCopy(dst, src *Variant) error {
	if dst == src {
		return nil
	}
	cp, err := r.ConstructCopy(src)
	if err != nil {
		return err
	}
	if err := r.Destruct(dst); err != nil {
		_ = r.Destruct(&cp)
		return err
	}
	*dst = cp
	return nil
}

// SetMove releases dst's payload and moves src into it.
func (r *Registry) SetMove(dst, src *Variant) error {
	if dst == src {
		return nil
	}
	if err := r.Destruct(dst); err != nil {
		return err
	}
	*dst = r.ConstructMove(src)
	return nil
}

// Destruct releases v's payload and leaves it nil. Destructing a nil
// variant is a no-op.
func (r *Registry) Destruct(v *Variant) error {
	if v.IsNil() {
		v.reset()
		return nil
	}
	if b := r.behavior(v.Type()); b.Destruct != nil {
		if err := b.Destruct(r, v); err != nil {
			return err
		}
	}
	v.reset()
	return nil
}

// CanConvert reports whether Convert from a variant of type from to type
// to can succeed.
func (r *Registry) CanConvert(from, to meta.Type) bool {
	if r.types.IsA(from, to) {
		return true
	}
	return r.lookupConverter(from, to) != nil
}

// Convert returns src converted to type to. Converting to the source type
// or one of its ancestors is a copy.
func (r *Registry) Convert(src *Variant, to meta.Type) (Variant, error) {
	from := src.Type()
	if !r.types.Valid(to) {
		return Variant{}, errors.New(errors.PhaseConvert, errors.KindInvalidType).Value(to).Build()
	}
	if r.types.IsA(from, to) {
		out, err := r.ConstructCopy(src)
		if err != nil {
			return Variant{}, err
		}
		if r.types.Derives(from, to) {
			out.typ = to
		}
		return out, nil
	}

	fn := r.lookupConverter(from, to)
	if fn == nil {
		return Variant{}, errors.New(errors.PhaseConvert, errors.KindInvalidConversion).
			Type(r.types.Name(from)).Target(r.types.Name(to)).Detail("no converter").Build()
	}
	out, err := fn(r, src, to)
	if err != nil {
		if errors.KindOf(err) == errors.KindInvalidConversion {
			return Variant{}, err
		}
		return Variant{}, errors.InvalidConversion(r.types.Name(from), r.types.Name(to), err)
	}
	if out.Type() != to {
		_ = r.Destruct(&out)
		return Variant{}, errors.New(errors.PhaseConvert, errors.KindInvalidConversion).
			Type(r.types.Name(from)).Target(r.types.Name(to)).
			Detail("converter produced %s", r.types.Name(out.Type())).Build()
	}
	return out, nil
}

// Compare orders a and b: negative, zero or positive. Variants of related
// types compare through the behavior of a's type; unrelated types need a
// registered comparator and fail with Incomparable otherwise.
func (r *Registry) Compare(a, b *Variant) (int, error) {
	at, bt := a.Type(), b.Type()
	if r.types.Derives(at, bt) || r.types.Derives(bt, at) {
		beh := r.behavior(at)
		if r.types.Derives(at, bt) {
			beh = r.behavior(bt)
		}
		if beh.Compare != nil {
			return beh.Compare(r, a, b)
		}
		return compareUint(a.bits, b.bits), nil
	}
	if fn, swapped := r.lookupComparator(at, bt); fn != nil {
		if swapped {
			n, err := fn(r, b, a)
			return -n, err
		}
		return fn(r, a, b)
	}
	return 0, errors.New(errors.PhaseConvert, errors.KindIncomparable).
		Type(r.types.Name(at)).Target(r.types.Name(bt)).Build()
}

// Equal reports whether Compare returns zero.
func (r *Registry) Equal(a, b *Variant) (bool, error) {
	n, err := r.Compare(a, b)
	return n == 0, err
}

func compareUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
