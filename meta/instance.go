package meta

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/objrt/errors"
	"github.com/wippyai/objrt/refcount"
)

// Destructor runs after every level's InstanceFinal and before the
// instance's memory is released.
type Destructor func(inst *Instance)

// CreateOptions customize instance creation.
type CreateOptions struct {
	// Class is a floating class of the instance type. The instance sinks it.
	Class      Class
	Userdata   any
	Destructor Destructor
	Args       []Arg
	// Size grows the public instance beyond the type's instance size.
	Size uint32
}

// Instance is a live object in the registry heap.
type Instance struct {
	reg       *Registry
	box       *refcount.Ref
	userdata  any
	dtor      Destructor
	attached  map[string]any
	attachMu  sync.Mutex
	addr      uint32
	base      uint32
	size      uint32
	align     uint32
	destroyed atomic.Bool
}

// Create allocates and initializes an instance of t.
func (r *Registry) Create(t Type, args ...Arg) (*Instance, error) {
	return r.CreateWith(t, CreateOptions{Args: args})
}

// CreateWith allocates and initializes an instance of t. Each level's
// InstanceInit runs from the root down; if one fails the levels already
// initialized are finalized in reverse and InitFailed is returned.
func (r *Registry) CreateWith(t Type, opts CreateOptions) (*Instance, error) {
	e := r.entry(t)
	if e == nil {
		return nil, errors.New(errors.PhaseInstantiate, errors.KindInvalidType).Value(t).Detail("unknown type").Build()
	}
	switch {
	case e.isInterface():
		return nil, errors.New(errors.PhaseInstantiate, errors.KindCannotInstantiateInterface).Type(e.name).Build()
	case !e.instantiable():
		return nil, errors.New(errors.PhaseInstantiate, errors.KindInvalidType).Type(e.name).Detail("not instantiable").Build()
	case e.flags&FlagAbstract != 0:
		return nil, errors.New(errors.PhaseInstantiate, errors.KindCannotInstantiateAbstract).Type(e.name).Build()
	}

	levelArgs, err := r.sortArgs(e, opts.Args)
	if err != nil {
		return nil, err
	}

	custom := !opts.Class.IsNull()
	if custom {
		if opts.Class.reg != r || opts.Class.Type() != t || !opts.Class.IsFloating() {
			return nil, errors.New(errors.PhaseInstantiate, errors.KindInvalidArg).
				Type(e.name).Detail("class must be a floating class of the instance type").Build()
		}
	}

	def, err := r.refClass(e)
	if err != nil {
		return nil, err
	}
	class := def
	if custom {
		class = opts.Class
	}

	size := e.instanceSize
	if opts.Size > size {
		size = opts.Size
	}
	inst := &Instance{
		reg:      r,
		userdata: opts.Userdata,
		dtor:     opts.Destructor,
		size:     size + e.totalPrivate,
		align:    e.instanceAlign,
	}
	if r.isA(e, r.entry(BoxType)) {
		inst.box, err = r.refs.Alloc(inst.size, inst)
		if err == nil {
			inst.base = inst.box.Ptr()
		}
	} else {
		inst.base, err = r.alloc.Alloc(inst.size, inst.align)
	}
	if err != nil {
		_ = r.unrefClass(e)
		return nil, err
	}
	inst.addr = inst.base + e.totalPrivate

	fail := func(cause error) (*Instance, error) {
		_ = r.mem.WriteU32(inst.addr, 0)
		r.releaseFields(inst.addr, e)
		_ = r.unrefClass(e)
		r.freeBlock(inst)
		return nil, errors.New(errors.PhaseInstantiate, errors.KindInitFailed).
			Type(e.name).Cause(cause).Build()
	}

	if err := r.mem.WriteU32(inst.addr, class.addr); err != nil {
		return fail(err)
	}

	for idx, b := range e.bases {
		for _, a := range levelArgs[idx] {
			f, _ := r.findField(b, a.Name)
			if err := r.writeField(inst.addr+f.offset, f, a.Value); err != nil {
				r.finalizeLevels(inst, e, idx-1)
				return fail(err)
			}
		}
		if b.info.InstanceInit == nil {
			continue
		}
		if err := b.info.InstanceInit(inst, levelArgs[idx]); err != nil {
			r.finalizeLevels(inst, e, idx-1)
			return fail(err)
		}
	}

	if custom {
		_ = class.setFlags(class.flags() | classFlagOwned)
	}
	r.live.Store(inst.addr, inst)
	e.instances.Add(1)
	r.log.Debug("instance created", zap.String("type", e.name), zap.Uint32("addr", inst.addr))
	r.notify(InstanceEvent{Instance: inst, Type: EventInstanceCreated})
	return inst, nil
}

// sortArgs groups constructor arguments by the level declaring their field.
func (r *Registry) sortArgs(e *typeEntry, args []Arg) ([][]Arg, error) {
	out := make([][]Arg, len(e.bases))
	for _, a := range args {
		f, ok := r.findField(e, a.Name)
		if !ok || !f.constructible {
			return nil, errors.New(errors.PhaseInstantiate, errors.KindInvalidArg).
				Type(e.name).Path(e.name, a.Name).Detail("no constructible field %q", a.Name).Build()
		}
		lvl := f.owner.depth
		out[lvl] = append(out[lvl], a)
	}
	return out, nil
}

// finalizeLevels runs InstanceFinal from level top down to the root,
// logging failures.
func (r *Registry) finalizeLevels(inst *Instance, e *typeEntry, top int) {
	for j := top; j >= 0; j-- {
		b := e.bases[j]
		if b.info.InstanceFinal == nil {
			continue
		}
		if err := b.info.InstanceFinal(inst); err != nil {
			r.log.Warn("instance final failed during unwind", zap.String("type", b.name), zap.Error(err))
		}
	}
}

func (r *Registry) freeBlock(inst *Instance) {
	if inst.box != nil {
		if _, err := inst.box.Release(nil); err != nil {
			r.log.Warn("box release failed", zap.Error(err))
		}
		return
	}
	r.alloc.Free(inst.base, inst.size, inst.align)
}

// InstanceAt returns the live instance whose public address is addr.
func (r *Registry) InstanceAt(addr uint32) (*Instance, bool) {
	v, ok := r.live.Load(addr)
	if !ok {
		return nil, false
	}
	return v.(*Instance), true
}

// LiveInstances returns the number of instances not yet destroyed.
func (r *Registry) LiveInstances() int {
	n := 0
	r.live.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Destroy finalizes and frees the instance. Boxes may only be destroyed
// while holding the last reference.
func (i *Instance) Destroy() error {
	if i.box != nil {
		if i.destroyed.Load() {
			return doubleFree(i)
		}
		if n := i.box.Count(); n > 1 {
			return errors.InvalidOperation(errors.PhaseLifetime, "destroy of %s with %d references", i.TypeName(), n)
		}
		return i.Unref()
	}
	if err := i.destruct(); err != nil {
		return err
	}
	i.reg.alloc.Free(i.base, i.size, i.align)
	return nil
}

// Ref adds a reference to a box instance.
func (i *Instance) Ref() error {
	if i.box == nil {
		return errors.InvalidOperation(errors.PhaseLifetime, "%s is not reference counted", i.TypeName())
	}
	if i.destroyed.Load() {
		return doubleFree(i)
	}
	i.box.Acquire()
	return nil
}

// Unref drops a reference to a box instance, destroying it on the last one.
// If a finalizer fails the reference is kept and the instance stays alive.
func (i *Instance) Unref() error {
	if i.box == nil {
		return errors.InvalidOperation(errors.PhaseLifetime, "%s is not reference counted", i.TypeName())
	}
	if i.destroyed.Load() {
		return doubleFree(i)
	}
	_, err := i.box.Release(func(*refcount.Ref) error { return i.destruct() })
	return err
}

// RefCount returns the box reference count, 1 for live plain instances
// and 0 once destroyed.
func (i *Instance) RefCount() int32 {
	if i.destroyed.Load() {
		return 0
	}
	if i.box == nil {
		return 1
	}
	return i.box.Count()
}

// IsBox reports whether the instance is reference counted.
func (i *Instance) IsBox() bool { return i.box != nil }

func doubleFree(i *Instance) error {
	return errors.New(errors.PhaseLifetime, errors.KindDoubleFree).
		Value(i.addr).Detail("instance %d already destroyed", i.addr).Build()
}

// destruct tears an instance down, leaving the memory block to the caller.
func (i *Instance) destruct() error {
	if !i.destroyed.CompareAndSwap(false, true) {
		return doubleFree(i)
	}
	r := i.reg
	e := i.entry()
	if e == nil {
		i.destroyed.Store(false)
		return errors.New(errors.PhaseLifetime, errors.KindInvalidHandle).Value(i.addr).Detail("class is gone").Build()
	}

	r.notify(InstanceEvent{Instance: i, Type: EventInstanceDestroying})

	for j := len(e.bases) - 1; j >= 0; j-- {
		b := e.bases[j]
		if b.info.InstanceFinal == nil {
			continue
		}
		if err := b.info.InstanceFinal(i); err != nil {
			i.destroyed.Store(false)
			r.log.Warn("instance final failed, instance kept alive",
				zap.String("type", b.name), zap.Uint32("addr", i.addr), zap.Error(err))
			return errors.New(errors.PhaseLifetime, errors.KindDestructorFailed).
				Type(b.name).Value(i.addr).Cause(err).Build()
		}
	}
	if i.dtor != nil {
		i.dtor(i)
	}

	r.releaseFields(i.addr, e)
	if err := r.releaseInstanceClass(i.Class(), e); err != nil {
		r.log.Warn("class release failed", zap.String("type", e.name), zap.Error(err))
	}
	_ = r.mem.WriteU32(i.addr, 0)
	r.live.Delete(i.addr)
	e.instances.Add(-1)
	r.log.Debug("instance destroyed", zap.String("type", e.name), zap.Uint32("addr", i.addr))
	return nil
}

// releaseInstanceClass drops the instance's hold on its class: the owned
// class block if any, then the default class reference.
func (r *Registry) releaseInstanceClass(c Class, e *typeEntry) error {
	var err error
	if c.IsOwned() {
		err = r.destroyStandalone(c)
	}
	if uerr := r.unrefClass(e); err == nil {
		err = uerr
	}
	return err
}

func (i *Instance) checkLive() error {
	if i == nil || i.destroyed.Load() {
		return errors.New(errors.PhaseLifetime, errors.KindInvalidHandle).Detail("instance destroyed").Build()
	}
	return nil
}

// IsDestroyed reports whether the instance has been destroyed.
func (i *Instance) IsDestroyed() bool { return i.destroyed.Load() }

func (i *Instance) entry() *typeEntry {
	return i.reg.entry(i.Class().Type())
}

// Addr returns the public address of the instance.
func (i *Instance) Addr() uint32 { return i.addr }

// Registry returns the owning registry.
func (i *Instance) Registry() *Registry { return i.reg }

// Class returns the instance's current class.
func (i *Instance) Class() Class {
	addr, err := i.reg.mem.ReadU32(i.addr)
	if err != nil {
		return Class{}
	}
	return Class{reg: i.reg, addr: addr}
}

// Type returns the instance's current type.
func (i *Instance) Type() Type { return i.Class().Type() }

// TypeName returns the name of the instance's current type.
func (i *Instance) TypeName() string { return i.reg.Name(i.Type()) }

// IsA reports whether the instance is of type t.
func (i *Instance) IsA(t Type) bool { return i.reg.IsA(i.Type(), t) }

// Cast returns i if it is of type t and TypeMismatch otherwise.
func (i *Instance) Cast(t Type) (*Instance, error) {
	if err := i.checkLive(); err != nil {
		return nil, err
	}
	if !i.IsA(t) {
		return nil, errors.TypeMismatch(errors.PhaseDispatch, i.TypeName(), i.reg.Name(t))
	}
	return i, nil
}

// As is Cast without the error: nil, false when i is destroyed or not a t.
func (i *Instance) As(t Type) (*Instance, bool) {
	if i == nil || i.IsDestroyed() || !i.IsA(t) {
		return nil, false
	}
	return i, true
}

// Interface returns the vtable of iface in the instance's class.
func (i *Instance) Interface(iface Type) (Class, error) {
	if err := i.checkLive(); err != nil {
		return Class{}, err
	}
	return i.Class().Interface(iface)
}

// Userdata returns the value passed at creation or set with SetUserdata.
func (i *Instance) Userdata() any { return i.userdata }

// SetUserdata replaces the userdata.
func (i *Instance) SetUserdata(v any) { i.userdata = v }

// Attach stores a Go value on the instance under key. A nil value removes it.
func (i *Instance) Attach(key string, v any) {
	i.attachMu.Lock()
	defer i.attachMu.Unlock()
	if v == nil {
		delete(i.attached, key)
		return
	}
	if i.attached == nil {
		i.attached = make(map[string]any)
	}
	i.attached[key] = v
}

// Attachment returns the value stored under key.
func (i *Instance) Attachment(key string) (any, bool) {
	i.attachMu.Lock()
	defer i.attachMu.Unlock()
	v, ok := i.attached[key]
	return v, ok
}

// Private returns the address of level t's private block.
func (i *Instance) Private(t Type) (uint32, error) {
	if err := i.checkLive(); err != nil {
		return 0, err
	}
	e, te := i.entry(), i.reg.entry(t)
	if te == nil || e == nil || !derives(e, te) {
		return 0, errors.TypeMismatch(errors.PhaseInstantiate, i.TypeName(), i.reg.Name(t))
	}
	if te.privateSize == 0 {
		return 0, errors.New(errors.PhaseInstantiate, errors.KindNoPrivateData).Type(te.name).Build()
	}
	return uint32(int64(i.addr) + int64(te.privateOffset)), nil
}

// PublicFromPrivate maps a private block address of level t back to the
// public instance address.
func (r *Registry) PublicFromPrivate(t Type, priv uint32) (uint32, error) {
	te := r.entry(t)
	if te == nil {
		return 0, errors.New(errors.PhaseInstantiate, errors.KindInvalidType).Value(t).Build()
	}
	if te.privateSize == 0 {
		return 0, errors.New(errors.PhaseInstantiate, errors.KindNoPrivateData).Type(te.name).Build()
	}
	return uint32(int64(priv) - int64(te.privateOffset)), nil
}

// PrivateOffset returns level t's private block offset relative to the
// public address; it is negative.
func (r *Registry) PrivateOffset(t Type) (int32, bool) {
	te := r.entry(t)
	if te == nil || te.privateSize == 0 {
		return 0, false
	}
	return te.privateOffset, true
}

func (i *Instance) bounds(off, n uint32) error {
	if err := i.checkLive(); err != nil {
		return err
	}
	public := i.size - (i.addr - i.base)
	if off < InstanceHeaderSize || uint64(off)+uint64(n) > uint64(public) {
		return errors.OutOfBounds(errors.PhaseInstantiate, off, n)
	}
	return nil
}

// Read copies n bytes of instance data at off.
func (i *Instance) Read(off, n uint32) ([]byte, error) {
	if err := i.bounds(off, n); err != nil {
		return nil, err
	}
	return i.reg.mem.Read(i.addr+off, n)
}

// Write copies data into the instance at off. The class pointer cannot be written.
func (i *Instance) Write(off uint32, data []byte) error {
	if err := i.bounds(off, uint32(len(data))); err != nil {
		return err
	}
	return i.reg.mem.Write(i.addr+off, data)
}

// ReadU32 reads instance data at off.
func (i *Instance) ReadU32(off uint32) (uint32, error) {
	if err := i.bounds(off, 4); err != nil {
		return 0, err
	}
	return i.reg.mem.ReadU32(i.addr + off)
}

// WriteU32 writes instance data at off.
func (i *Instance) WriteU32(off, v uint32) error {
	if err := i.bounds(off, 4); err != nil {
		return err
	}
	return i.reg.mem.WriteU32(i.addr+off, v)
}

// SwizzleClass replaces the instance's class with c, whose type must be
// the current type or derive from it and fit the instance's memory. The
// old class is released; an owned old class is destroyed.
func (i *Instance) SwizzleClass(c Class) error {
	if err := i.checkLive(); err != nil {
		return err
	}
	r := i.reg
	old := i.Class()
	oldE := i.entry()
	if c.IsNull() || c.reg != r || c.IsInterfaceImpl() {
		return errors.InvalidArg(errors.PhaseInstantiate, "swizzle to an invalid class")
	}
	if c.addr == old.addr {
		return nil
	}
	newE := r.entry(c.Type())
	if newE == nil || !derives(newE, oldE) {
		return errors.TypeMismatch(errors.PhaseInstantiate, oldE.name, c.TypeName())
	}
	if newE.totalPrivate != oldE.totalPrivate || newE.instanceSize > i.size-oldE.totalPrivate {
		return errors.InvalidLayout(newE.name, "instance layout does not fit a %s", oldE.name)
	}

	if _, err := r.refClass(newE); err != nil {
		return err
	}
	if err := r.mem.WriteU32(i.addr, c.addr); err != nil {
		_ = r.unrefClass(newE)
		return err
	}
	if newE != oldE {
		newE.instances.Add(1)
		oldE.instances.Add(-1)
	}
	if err := r.releaseInstanceClass(old, oldE); err != nil {
		r.log.Warn("old class release failed", zap.String("type", oldE.name), zap.Error(err))
	}
	r.notify(InstanceEvent{Instance: i, Type: EventClassSwizzled})
	return nil
}

// SinkClass takes ownership of the instance's floating class.
func (i *Instance) SinkClass() error {
	c := i.Class()
	if !c.IsFloating() {
		return errors.InvalidOperation(errors.PhaseLifetime, "class of %s is not floating", i.TypeName())
	}
	return c.setFlags(c.flags() | classFlagOwned)
}

// FloatClass gives up ownership of the instance's class. The caller must
// destroy it with DestroyFloatingClass after swizzling it away.
func (i *Instance) FloatClass() (Class, error) {
	c := i.Class()
	if !c.IsOwned() {
		return Class{}, errors.InvalidOperation(errors.PhaseLifetime, "class of %s is not owned", i.TypeName())
	}
	return c, c.setFlags(c.flags() &^ classFlagOwned)
}
