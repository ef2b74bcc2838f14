package meta

import (
	"sync"
	"sync/atomic"

	"go.bytecodealliance.org/wit"
	"go.uber.org/zap"

	objrt "github.com/wippyai/objrt"
	"github.com/wippyai/objrt/errors"
	"github.com/wippyai/objrt/handle"
	"github.com/wippyai/objrt/internal/layout"
	"github.com/wippyai/objrt/refcount"
)

// KindFunc tags function-table handles stored in class slots.
const KindFunc handle.Kind = 1

type ifaceSlot struct {
	entry  *typeEntry
	offset uint32
}

type typeEntry struct {
	info          TypeInfo
	name          string
	parent        *typeEntry
	bases         []*typeEntry
	ifaces        []ifaceSlot
	fields        []*fieldInfo
	values        *valueTable
	id            Type
	flags         Flags
	depth         int
	classSize     uint32
	instanceSize  uint32
	instanceAlign uint32
	privateSize   uint32
	totalPrivate  uint32
	privateOffset int32
	classMu       sync.Mutex
	classAddr     atomic.Uint32
	classRefs     atomic.Int32
	instances     atomic.Int32
	dead          atomic.Bool
}

func (e *typeEntry) root() *typeEntry   { return e.bases[0] }
func (e *typeEntry) isInterface() bool  { return e.flags&FlagInterfaced != 0 }
func (e *typeEntry) isClassed() bool    { return e.flags&FlagClassed != 0 }
func (e *typeEntry) instantiable() bool { return e.flags&FlagInstantiable != 0 }

func (e *typeEntry) headerSize() uint32 {
	switch {
	case e.isInterface():
		return InterfaceHeaderSize
	case e.isClassed():
		return ClassHeaderSize
	default:
		return 0
	}
}

type snapshot struct {
	entries []*typeEntry
	byName  map[string]*typeEntry
}

// Registry owns the type table, the function table backing class slots
// and every class and instance allocated from its heap.
//
// Lookups read an immutable snapshot and take no locks. Registration and
// unregistration are serialized.
type Registry struct {
	mem       objrt.Memory
	alloc     objrt.Allocator
	refs      *refcount.Tracker
	funcs     *handle.Table
	layout    *layout.Calculator
	log       *zap.Logger
	snap      atomic.Pointer[snapshot]
	slots     map[uint32][]handle.Handle
	observers []Observer
	live      sync.Map
	mu        sync.Mutex
	ensuring  map[string]*ensureCall
	ensureMu  sync.Mutex
	slotMu    sync.Mutex
	obsMu     sync.RWMutex
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

// WithTracker sets the tracker box instances are allocated from.
func WithTracker(t *refcount.Tracker) Option {
	return func(r *Registry) { r.refs = t }
}

// WithFuncTable sets the table class slots resolve through.
func WithFuncTable(t *handle.Table) Option {
	return func(r *Registry) { r.funcs = t }
}

// New creates a registry over the given heap and registers the builtin types.
func New(mem objrt.Memory, alloc objrt.Allocator, opts ...Option) (*Registry, error) {
	r := &Registry{
		mem:    mem,
		alloc:  alloc,
		layout: layout.NewCalculator(),
		log:    Logger(),
		slots:  make(map[uint32][]handle.Handle),

		ensuring: make(map[string]*ensureCall),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.refs == nil {
		r.refs = refcount.NewTracker(mem, alloc).WithLogger(r.log)
	}
	if r.funcs == nil {
		r.funcs = handle.NewTable()
	}
	r.snap.Store(&snapshot{byName: map[string]*typeEntry{}})

	if err := r.registerBuiltins(); err != nil {
		return nil, err
	}
	return r, nil
}

// Memory returns the heap classes and instances live in.
func (r *Registry) Memory() objrt.Memory { return r.mem }

// Allocator returns the heap allocator.
func (r *Registry) Allocator() objrt.Allocator { return r.alloc }

// Tracker returns the tracker box instances are allocated from.
func (r *Registry) Tracker() *refcount.Tracker { return r.refs }

// Funcs returns the function table class slots resolve through.
func (r *Registry) Funcs() *handle.Table { return r.funcs }

// Logger returns the registry logger.
func (r *Registry) Logger() *zap.Logger { return r.log }

func (r *Registry) entry(t Type) *typeEntry {
	s := r.snap.Load()
	if t == InvalidType || int(t) > len(s.entries) {
		return nil
	}
	e := s.entries[t-1]
	if e.dead.Load() {
		return nil
	}
	return e
}

// RegisterFundamental registers a root type.
func (r *Registry) RegisterFundamental(name string, flags Flags, info TypeInfo) (Type, error) {
	info.Flags |= flags
	return r.register(name, InvalidType, info)
}

// RegisterDerived registers a type deriving from parent.
func (r *Registry) RegisterDerived(name string, parent Type, info TypeInfo) (Type, error) {
	if parent == InvalidType {
		return InvalidType, errors.UnknownParent(name, uint32(parent))
	}
	return r.register(name, parent, info)
}

type ensureCall struct {
	done chan struct{}
	err  error
	t    Type
}

// Ensure returns the type registered under name, calling register exactly
// once across concurrent first accesses if it does not exist yet. Calls for
// other names, including ones made from inside register, proceed
// independently. A register that ensures its own name deadlocks.
func (r *Registry) Ensure(name string, register func(*Registry) (Type, error)) (Type, error) {
	if t := r.Find(name); t != InvalidType {
		return t, nil
	}
	r.ensureMu.Lock()
	if t := r.Find(name); t != InvalidType {
		r.ensureMu.Unlock()
		return t, nil
	}
	if c, ok := r.ensuring[name]; ok {
		r.ensureMu.Unlock()
		<-c.done
		return c.t, c.err
	}
	c := &ensureCall{done: make(chan struct{})}
	r.ensuring[name] = c
	r.ensureMu.Unlock()

	defer func() {
		r.ensureMu.Lock()
		delete(r.ensuring, name)
		r.ensureMu.Unlock()
		close(c.done)
	}()
	c.t, c.err = register(r)
	return c.t, c.err
}

func (r *Registry) register(name string, parentType Type, info TypeInfo) (Type, error) {
	r.mu.Lock()
	e, err := r.build(name, parentType, info)
	if err != nil {
		r.mu.Unlock()
		r.log.Warn("type registration failed", zap.String("type", name), zap.Error(err))
		return InvalidType, err
	}
	r.publish(e)
	r.mu.Unlock()

	r.log.Debug("type registered",
		zap.String("type", name),
		zap.Uint32("id", uint32(e.id)),
		zap.Uint32("class_size", e.classSize),
		zap.Uint32("instance_size", e.instanceSize))

	if e.flags&FlagClassPreinit != 0 {
		if _, err := r.refClass(e); err != nil {
			r.retire(e)
			return InvalidType, errors.New(errors.PhaseRegister, errors.KindInitFailed).
				Type(name).Detail("class preinit").Cause(err).Build()
		}
		// pinned: the class block survives the drop to zero
		_ = r.unrefClass(e)
	}
	return e.id, nil
}

// build validates info and creates an unpublished entry. Callers hold r.mu.
func (r *Registry) build(name string, parentType Type, info TypeInfo) (*typeEntry, error) {
	if name == "" {
		return nil, errors.InvalidArg(errors.PhaseRegister, "empty type name")
	}
	if _, dup := r.snap.Load().byName[name]; dup {
		return nil, errors.DuplicateName(name)
	}
	if info.Flags&FlagStaticLayout == 0 {
		info = info.clone()
	}

	e := &typeEntry{name: name}

	if parentType != InvalidType {
		parent := r.entry(parentType)
		if parent == nil {
			return nil, errors.UnknownParent(name, uint32(parentType))
		}
		if info.Flags&fundamentalFlags != 0 {
			return nil, errors.New(errors.PhaseRegister, errors.KindInvalidType).
				Type(name).Detail("fundamental flags on a derived type").Build()
		}
		root := parent.root()
		switch {
		case parent.flags&FlagFinal != 0:
			return nil, errors.New(errors.PhaseRegister, errors.KindInvalidType).
				Type(name).Target(parent.name).Detail("parent is final").Build()
		case root.flags&FlagDerivable == 0:
			return nil, errors.New(errors.PhaseRegister, errors.KindInvalidType).
				Type(name).Target(root.name).Detail("fundamental is not derivable").Build()
		case parent.depth > 0 && root.flags&FlagDeepDerivable == 0:
			return nil, errors.New(errors.PhaseRegister, errors.KindInvalidType).
				Type(name).Target(root.name).Detail("fundamental is not deep derivable").Build()
		}
		e.parent = parent
		e.depth = parent.depth + 1
		e.bases = append(append([]*typeEntry(nil), parent.bases...), e)
		e.flags = root.flags&fundamentalFlags | info.Flags
	} else {
		if info.Flags.Has(FlagInstantiable) && !info.Flags.Has(FlagClassed) {
			return nil, errors.New(errors.PhaseRegister, errors.KindInvalidType).
				Type(name).Detail("instantiable fundamentals must be classed").Build()
		}
		if info.Flags.Has(FlagInstantiable | FlagInterfaced) {
			return nil, errors.New(errors.PhaseRegister, errors.KindInvalidType).
				Type(name).Detail("interfaced fundamentals cannot be instantiable").Build()
		}
		if info.Flags.Has(FlagInterfaced) && !info.Flags.Has(FlagClassed) {
			info.Flags |= FlagClassed
		}
		e.bases = []*typeEntry{e}
		e.flags = info.Flags
	}
	if e.flags&FlagClassPreinit != 0 {
		e.flags |= FlagClassPinned
	}
	e.info = info
	if info.values != nil {
		vt, err := buildValueTable(e, info.values)
		if err != nil {
			return nil, err
		}
		e.values = vt
	}

	if err := r.buildClassLayout(e); err != nil {
		return nil, err
	}
	if err := r.buildInstanceLayout(e); err != nil {
		return nil, err
	}
	if err := r.checkDependencies(e); err != nil {
		return nil, err
	}
	return e, nil
}

func (r *Registry) buildClassLayout(e *typeEntry) error {
	info := e.info
	if !e.isClassed() {
		if info.ClassSize != 0 || len(info.Interfaces) > 0 || info.ClassInit != nil {
			return errors.InvalidLayout(e.name, "unclassed type declares class data")
		}
		return nil
	}

	minSize := e.headerSize()
	if e.parent != nil {
		minSize = e.parent.classSize
	}
	e.classSize = info.ClassSize
	if e.classSize == 0 {
		e.classSize = minSize
	}
	if e.classSize < minSize {
		return errors.InvalidLayout(e.name, "class size %d smaller than %d", e.classSize, minSize)
	}

	for i, impl := range info.Interfaces {
		ie := r.entry(impl.Interface)
		if ie == nil || !ie.isInterface() {
			return errors.New(errors.PhaseRegister, errors.KindInterfaceSlot).
				Type(e.name).Value(impl.Interface).Detail("entry %d is not an interface type", i).Build()
		}
		slotErr := func(format string, args ...any) error {
			return errors.New(errors.PhaseRegister, errors.KindInterfaceSlot).
				Type(e.name).Target(ie.name).Value(impl.Offset).Detail(format, args...).Build()
		}
		end, ok := layout.SafeAddU32(impl.Offset, ie.classSize)
		switch {
		case impl.Offset%PointerSize != 0:
			return slotErr("offset %d not pointer aligned", impl.Offset)
		case impl.Offset < minSize:
			return slotErr("offset %d inside parent class of size %d", impl.Offset, minSize)
		case !ok || end > e.classSize:
			return slotErr("vtable [%d,%d) exceeds class size %d", impl.Offset, end, e.classSize)
		case e.parent != nil && r.isA(e.parent, ie):
			return slotErr("already implemented by %s", e.parent.name)
		}
		for _, prev := range e.ifaces {
			if prev.entry == ie || r.isA(prev.entry, ie) || r.isA(ie, prev.entry) {
				return slotErr("ambiguous with %s", prev.entry.name)
			}
			if impl.Offset < prev.offset+prev.entry.classSize && prev.offset < end {
				return slotErr("overlaps %s at %d", prev.entry.name, prev.offset)
			}
		}
		e.ifaces = append(e.ifaces, ifaceSlot{entry: ie, offset: impl.Offset})
	}
	return nil
}

func (r *Registry) buildInstanceLayout(e *typeEntry) error {
	info := e.info
	if !e.instantiable() {
		if info.InstanceSize != 0 || info.PrivateSize != 0 || len(info.Fields) > 0 || info.InstanceInit != nil {
			return errors.InvalidLayout(e.name, "non-instantiable type declares instance data")
		}
		return nil
	}

	start := uint32(InstanceHeaderSize)
	e.instanceAlign = InstanceAlign
	if e.parent != nil {
		start = e.parent.instanceSize
		e.totalPrivate = e.parent.totalPrivate
	}

	names := make([]string, len(info.Fields))
	types := make([]wit.Type, len(info.Fields))
	for i, f := range info.Fields {
		if !r.fieldSupported(f.Type) {
			return errors.InvalidLayout(e.name, "field %q has unsupported type", f.Name)
		}
		if f.Name == "" {
			return errors.InvalidLayout(e.name, "field %d has no name", i)
		}
		if _, found := r.findField(e.parent, f.Name); found {
			return errors.InvalidLayout(e.name, "field %q shadows an inherited field", f.Name)
		}
		for _, prev := range names[:i] {
			if prev == f.Name {
				return errors.InvalidLayout(e.name, "duplicate field %q", f.Name)
			}
		}
		names[i], types[i] = f.Name, f.Type
	}
	lay := r.layout.Extend(start, names, types)
	if lay.Align > e.instanceAlign {
		e.instanceAlign = lay.Align
	}

	e.instanceSize = info.InstanceSize
	if e.instanceSize == 0 {
		e.instanceSize = lay.Size
	}
	if e.instanceSize < lay.Size {
		return errors.InvalidLayout(e.name, "instance size %d smaller than %d", e.instanceSize, lay.Size)
	}

	for i, f := range info.Fields {
		e.fields = append(e.fields, &fieldInfo{
			owner:         e,
			name:          f.Name,
			typ:           types[i],
			offset:        lay.FieldOffs[f.Name],
			size:          r.layout.Calculate(types[i]).Size,
			constructible: f.Constructible,
			enum:          r.tableFor(asTypeDef(types[i])),
		})
	}

	if info.PrivateSize > 0 {
		e.privateSize = layout.AlignTo(info.PrivateSize, InstanceAlign)
		e.totalPrivate += e.privateSize
		e.privateOffset = -int32(e.totalPrivate)
	}
	return nil
}

func (r *Registry) checkDependencies(e *typeEntry) error {
	if len(e.info.Dependencies) > 0 && !e.isInterface() {
		return errors.New(errors.PhaseRegister, errors.KindInvalidType).
			Type(e.name).Detail("only interfaces declare dependencies").Build()
	}
	for _, dep := range e.info.Dependencies {
		if r.entry(dep) == nil {
			return errors.UnknownParent(e.name, uint32(dep))
		}
	}
	for _, slot := range e.ifaces {
		for _, b := range slot.entry.bases {
			for _, dep := range b.info.Dependencies {
				de := r.entry(dep)
				if de == nil || !r.isA(e, de) {
					return errors.New(errors.PhaseRegister, errors.KindInvalidType).
						Type(e.name).Target(slot.entry.name).Detail("missing dependency %d", dep).Build()
				}
			}
		}
	}
	return nil
}

// publish appends e to a fresh snapshot. Callers hold r.mu.
func (r *Registry) publish(e *typeEntry) {
	old := r.snap.Load()
	next := &snapshot{
		entries: make([]*typeEntry, len(old.entries), len(old.entries)+1),
		byName:  make(map[string]*typeEntry, len(old.byName)+1),
	}
	copy(next.entries, old.entries)
	for k, v := range old.byName {
		next.byName[k] = v
	}
	e.id = Type(len(next.entries) + 1)
	next.entries = append(next.entries, e)
	next.byName[e.name] = e
	r.snap.Store(next)
}

// retire marks e dead and frees its name.
func (r *Registry) retire(e *typeEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.dead.Store(true)
	old := r.snap.Load()
	next := &snapshot{entries: old.entries, byName: make(map[string]*typeEntry, len(old.byName))}
	for k, v := range old.byName {
		if v != e {
			next.byName[k] = v
		}
	}
	r.snap.Store(next)
}

// Unregister removes a type. It fails with TypePinned for pinned types and
// TypeInUse while the type has class references, instances, subtypes,
// implementers or fields of its type.
func (r *Registry) Unregister(t Type) error {
	e := r.entry(t)
	if e == nil {
		return errors.New(errors.PhaseRegister, errors.KindInvalidType).Value(t).Detail("unknown type").Build()
	}
	inUse := func(detail string, args ...any) error {
		return errors.New(errors.PhaseRegister, errors.KindTypeInUse).Type(e.name).Detail(detail, args...).Build()
	}
	if e.flags&FlagPinned != 0 {
		return errors.New(errors.PhaseRegister, errors.KindTypePinned).Type(e.name).Build()
	}
	r.mu.Lock()
	for _, other := range r.snap.Load().entries {
		if other.dead.Load() || other == e {
			continue
		}
		if other.parent == e {
			r.mu.Unlock()
			return inUse("derived by %s", other.name)
		}
		for _, slot := range other.ifaces {
			if slot.entry == e {
				r.mu.Unlock()
				return inUse("implemented by %s", other.name)
			}
		}
		for _, f := range other.fields {
			if f.enum == e {
				r.mu.Unlock()
				return inUse("type of field %s.%s", other.name, f.name)
			}
		}
	}
	r.mu.Unlock()

	// refClass checks dead under classMu, so no class reference can be
	// taken between the checks below and the teardown.
	e.classMu.Lock()
	if n := e.classRefs.Load(); n > 0 {
		e.classMu.Unlock()
		return inUse("%d class references", n)
	}
	if n := e.instances.Load(); n > 0 {
		e.classMu.Unlock()
		return inUse("%d live instances", n)
	}
	e.dead.Store(true)
	if addr := e.classAddr.Swap(0); addr != 0 {
		if err := r.destructClass(Class{reg: r, addr: addr}, e); err != nil {
			r.log.Warn("pinned class teardown failed", zap.String("type", e.name), zap.Error(err))
		}
		r.alloc.Free(addr, e.classSize, InstanceAlign)
	}
	e.classMu.Unlock()
	r.retire(e)
	r.log.Debug("type unregistered", zap.String("type", e.name))
	return nil
}

// Valid reports whether t is a live registered type.
func (r *Registry) Valid(t Type) bool { return r.entry(t) != nil }

// Find returns the type registered under name, or InvalidType.
func (r *Registry) Find(name string) Type {
	if e, ok := r.snap.Load().byName[name]; ok {
		return e.id
	}
	return InvalidType
}

// Name returns the type's name, or "" for invalid types.
func (r *Registry) Name(t Type) string {
	if e := r.entry(t); e != nil {
		return e.name
	}
	return ""
}

// Parent returns the parent type, InvalidType for fundamentals.
func (r *Registry) Parent(t Type) Type {
	if e := r.entry(t); e != nil && e.parent != nil {
		return e.parent.id
	}
	return InvalidType
}

// Root returns the fundamental type t derives from.
func (r *Registry) Root(t Type) Type {
	if e := r.entry(t); e != nil {
		return e.root().id
	}
	return InvalidType
}

// Depth returns the number of ancestors, -1 for invalid types.
func (r *Registry) Depth(t Type) int {
	if e := r.entry(t); e != nil {
		return e.depth
	}
	return -1
}

// Base returns the ancestor of t at depth (0 is the fundamental).
func (r *Registry) Base(t Type, depth int) Type {
	e := r.entry(t)
	if e == nil || depth < 0 || depth > e.depth {
		return InvalidType
	}
	return e.bases[depth].id
}

// Ancestor returns the type level steps above t (0 is t itself).
func (r *Registry) Ancestor(t Type, level int) Type {
	e := r.entry(t)
	if e == nil {
		return InvalidType
	}
	return r.Base(t, e.depth-level)
}

// Flags returns the effective flags of t.
func (r *Registry) Flags(t Type) Flags {
	if e := r.entry(t); e != nil {
		return e.flags
	}
	return 0
}

// IsA reports whether t is other, derives from it, or implements it.
func (r *Registry) IsA(t, other Type) bool {
	e, o := r.entry(t), r.entry(other)
	if e == nil || o == nil {
		return false
	}
	return r.isA(e, o)
}

// Derives reports whether other is t or one of its class ancestors.
func (r *Registry) Derives(t, other Type) bool {
	e, o := r.entry(t), r.entry(other)
	if e == nil || o == nil {
		return false
	}
	return o.depth <= e.depth && e.bases[o.depth] == o
}

// Implements reports whether t implements interface iface.
func (r *Registry) Implements(t, iface Type) bool {
	e, o := r.entry(t), r.entry(iface)
	if e == nil || o == nil || !o.isInterface() {
		return false
	}
	return r.isA(e, o)
}

// Common returns the deepest ancestor shared by a and b.
func (r *Registry) Common(a, b Type) Type {
	ea, eb := r.entry(a), r.entry(b)
	if ea == nil || eb == nil {
		return InvalidType
	}
	common := InvalidType
	for i := 0; i <= ea.depth && i <= eb.depth; i++ {
		if ea.bases[i] != eb.bases[i] {
			break
		}
		common = ea.bases[i].id
	}
	return common
}

func (r *Registry) isA(e, target *typeEntry) bool {
	if e == target {
		return true
	}
	if target.depth <= e.depth && e.bases[target.depth] == target {
		return true
	}
	if !target.isInterface() {
		return false
	}
	for _, b := range e.bases {
		for _, slot := range b.ifaces {
			if r.isA(slot.entry, target) {
				return true
			}
		}
	}
	return false
}

// ClassRefCount returns the number of references to t's default class.
func (r *Registry) ClassRefCount(t Type) int32 {
	if e := r.entry(t); e != nil {
		return e.classRefs.Load()
	}
	return 0
}

// InstanceCount returns the number of live instances whose type is exactly t.
func (r *Registry) InstanceCount(t Type) int32 {
	if e := r.entry(t); e != nil {
		return e.instances.Load()
	}
	return 0
}

// ClassSize returns the class block size of t, 0 for unclassed types.
func (r *Registry) ClassSize(t Type) uint32 {
	if e := r.entry(t); e != nil {
		return e.classSize
	}
	return 0
}

// InstanceSize returns the public instance size of t.
func (r *Registry) InstanceSize(t Type) uint32 {
	if e := r.entry(t); e != nil {
		return e.instanceSize
	}
	return 0
}

// PrivateSize returns the private data size declared by t itself.
func (r *Registry) PrivateSize(t Type) uint32 {
	if e := r.entry(t); e != nil {
		return e.privateSize
	}
	return 0
}

// Count returns the number of live types.
func (r *Registry) Count() int {
	return len(r.snap.Load().byName)
}

// Each calls fn for every live type in registration order until fn returns false.
func (r *Registry) Each(fn func(Type) bool) {
	for _, e := range r.snap.Load().entries {
		if e.dead.Load() {
			continue
		}
		if !fn(e.id) {
			return
		}
	}
}

// Close tears down every remaining class block and the function table.
// It reports Partial and leaves the heap untouched while instances are alive.
func (r *Registry) Close() error {
	if n := r.LiveInstances(); n > 0 {
		r.log.Warn("registry closed with live instances", zap.Int("instances", n))
		return errors.Partial(errors.PhaseLifetime, "%d live instances", n)
	}
	entries := r.snap.Load().entries
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		e.classMu.Lock()
		addr := e.classAddr.Swap(0)
		e.classRefs.Store(0)
		e.classMu.Unlock()
		if addr == 0 {
			continue
		}
		if err := r.destructClass(Class{reg: r, addr: addr}, e); err != nil {
			r.log.Warn("class teardown failed", zap.String("type", e.name), zap.Error(err))
		}
		r.alloc.Free(addr, e.classSize, InstanceAlign)
	}
	return r.funcs.Close()
}
