package meta

import (
	"go.uber.org/zap"

	"github.com/wippyai/objrt/errors"
	"github.com/wippyai/objrt/handle"
)

// Runtime flags stored in the second header word of a class block.
const (
	classFlagOwned   uint32 = 1 << 0
	classFlagIface   uint32 = 1 << 1
	classFlagDefault uint32 = 1 << 2
)

// Class is a class block in the registry heap: a default class, a floating
// class, or an interface vtable embedded in one of those. The zero Class
// is null.
type Class struct {
	reg  *Registry
	addr uint32
}

// ClassAt wraps a class block address.
func (r *Registry) ClassAt(addr uint32) Class {
	return Class{reg: r, addr: addr}
}

// Addr returns the block address.
func (c Class) Addr() uint32 { return c.addr }

// IsNull reports whether c refers to no block.
func (c Class) IsNull() bool { return c.addr == 0 || c.reg == nil }

// Registry returns the owning registry.
func (c Class) Registry() *Registry { return c.reg }

// Type returns the type the block was constructed for, or InvalidType.
func (c Class) Type() Type {
	if c.IsNull() {
		return InvalidType
	}
	t, err := c.reg.mem.ReadU32(c.addr)
	if err != nil {
		return InvalidType
	}
	return Type(t)
}

// TypeName returns the name of the class type.
func (c Class) TypeName() string {
	return c.reg.Name(c.Type())
}

func (c Class) flags() uint32 {
	if c.IsNull() {
		return 0
	}
	f, _ := c.reg.mem.ReadU32(c.addr + 4)
	return f
}

func (c Class) setFlags(f uint32) error {
	return c.reg.mem.WriteU32(c.addr+4, f)
}

// IsDefault reports whether c is the shared class of its type.
func (c Class) IsDefault() bool { return c.flags()&classFlagDefault != 0 }

// IsOwned reports whether c is a sunk class owned by an instance.
func (c Class) IsOwned() bool { return c.flags()&classFlagOwned != 0 }

// IsInterfaceImpl reports whether c is an interface vtable inside another class.
func (c Class) IsInterfaceImpl() bool { return c.flags()&classFlagIface != 0 }

// IsFloating reports whether c is a standalone class nobody owns yet.
func (c Class) IsFloating() bool {
	return !c.IsNull() && c.flags()&(classFlagDefault|classFlagOwned|classFlagIface) == 0
}

// Size returns the class size of the block's type.
func (c Class) Size() uint32 {
	if e := c.reg.entry(c.Type()); e != nil {
		return e.classSize
	}
	return 0
}

// Check reports whether the class type is t, derives from it or implements it.
func (c Class) Check(t Type) bool {
	if c.IsNull() {
		return false
	}
	return c.reg.IsA(c.Type(), t)
}

func (c Class) entry() (*typeEntry, error) {
	if c.IsNull() {
		return nil, errors.New(errors.PhaseDispatch, errors.KindInvalidHandle).Detail("null class").Build()
	}
	e := c.reg.entry(c.Type())
	if e == nil {
		return nil, errors.New(errors.PhaseDispatch, errors.KindInvalidHandle).
			Value(c.addr).Detail("class block %d has no live type", c.addr).Build()
	}
	return e, nil
}

func (c Class) slotBounds(off uint32, e *typeEntry) error {
	if off%PointerSize != 0 || off < e.headerSize() || off+PointerSize > e.classSize {
		return errors.New(errors.PhaseDispatch, errors.KindOutOfBounds).
			Type(e.name).Value(off).
			Detail("slot %d outside class of size %d", off, e.classSize).Build()
	}
	return nil
}

// Method returns the value stored in the slot at off, or nil for an empty slot.
func (c Class) Method(off uint32) (any, error) {
	e, err := c.entry()
	if err != nil {
		return nil, err
	}
	if err := c.slotBounds(off, e); err != nil {
		return nil, err
	}
	h, err := c.reg.mem.ReadU32(c.addr + off)
	if err != nil || h == 0 {
		return nil, err
	}
	fn, ok := c.reg.funcs.GetTyped(handle.Handle(h), KindFunc)
	if !ok {
		return nil, errors.New(errors.PhaseDispatch, errors.KindInvalidHandle).
			Type(e.name).Value(h).Detail("slot %d holds a stale handle", off).Build()
	}
	return fn, nil
}

// SetMethod stores fn in the slot at off. A nil fn clears the slot.
// The previous value is released.
func (c Class) SetMethod(off uint32, fn any) error {
	e, err := c.entry()
	if err != nil {
		return err
	}
	if err := c.slotBounds(off, e); err != nil {
		return err
	}
	old, err := c.reg.mem.ReadU32(c.addr + off)
	if err != nil {
		return err
	}

	var h handle.Handle
	if fn != nil {
		h = c.reg.funcs.Insert(KindFunc, fn)
		if h == 0 {
			return errors.InvalidOperation(errors.PhaseDispatch, "function table closed")
		}
	}
	if err := c.reg.mem.WriteU32(c.addr+off, uint32(h)); err != nil {
		if h != 0 {
			c.reg.funcs.Release(h)
		}
		return err
	}

	c.reg.slotMu.Lock()
	hs := c.reg.slots[c.addr]
	if old != 0 {
		for i, x := range hs {
			if x == handle.Handle(old) {
				hs = append(hs[:i], hs[i+1:]...)
				break
			}
		}
	}
	if h != 0 {
		hs = append(hs, h)
	}
	c.reg.slots[c.addr] = hs
	c.reg.slotMu.Unlock()

	if old != 0 {
		c.reg.funcs.Release(handle.Handle(old))
	}
	return nil
}

// ReadU32 reads class data at off.
func (c Class) ReadU32(off uint32) (uint32, error) {
	e, err := c.entry()
	if err != nil {
		return 0, err
	}
	if off+4 > e.classSize {
		return 0, errors.OutOfBounds(errors.PhaseDispatch, off, 4)
	}
	return c.reg.mem.ReadU32(c.addr + off)
}

// WriteU32 writes class data at off. Header words cannot be written.
func (c Class) WriteU32(off, v uint32) error {
	e, err := c.entry()
	if err != nil {
		return err
	}
	if off < e.headerSize() || off+4 > e.classSize {
		return errors.OutOfBounds(errors.PhaseDispatch, off, 4)
	}
	return c.reg.mem.WriteU32(c.addr+off, v)
}

// OuterClass returns the class an interface vtable is embedded in, or c.
func (c Class) OuterClass() Class {
	if !c.IsInterfaceImpl() {
		return c
	}
	off, err := c.reg.mem.ReadU32(c.addr + ClassHeaderSize)
	if err != nil {
		return c
	}
	return Class{reg: c.reg, addr: uint32(int64(c.addr) + int64(int32(off)))}
}

// OuterMostClass follows OuterClass until it reaches a standalone class.
func (c Class) OuterMostClass() Class {
	for c.IsInterfaceImpl() {
		next := c.OuterClass()
		if next.addr == c.addr {
			break
		}
		c = next
	}
	return c
}

// Interface returns the vtable of iface inside c's outermost class.
func (c Class) Interface(iface Type) (Class, error) {
	outer := c.OuterMostClass()
	oe, err := outer.entry()
	if err != nil {
		return Class{}, err
	}
	te := c.reg.entry(iface)
	if te == nil {
		return Class{}, errors.New(errors.PhaseDispatch, errors.KindInvalidType).Value(iface).Build()
	}
	if derives(oe, te) {
		return outer, nil
	}
	off, ok := c.reg.interfaceOffset(oe, te)
	if !ok {
		return Class{}, errors.New(errors.PhaseDispatch, errors.KindInterfaceNotImplemented).
			Type(oe.name).Target(te.name).Build()
	}
	return Class{reg: c.reg, addr: outer.addr + off}, nil
}

// Cast returns the view of c as t: c itself for class ancestors, the
// embedded vtable for interfaces, or the outer class when c is a vtable.
func (c Class) Cast(t Type) (Class, error) {
	ce, err := c.entry()
	if err != nil {
		return Class{}, err
	}
	te := c.reg.entry(t)
	if te == nil {
		return Class{}, errors.New(errors.PhaseDispatch, errors.KindInvalidType).Value(t).Build()
	}
	if derives(ce, te) {
		return c, nil
	}
	if te.isInterface() {
		if ic, err := c.Interface(t); err == nil {
			return ic, nil
		}
	}
	if c.IsInterfaceImpl() {
		return c.OuterMostClass().Cast(t)
	}
	return Class{}, errors.TypeMismatch(errors.PhaseDispatch, ce.name, te.name)
}

func derives(e, target *typeEntry) bool {
	return target.depth <= e.depth && e.bases[target.depth] == target
}

// RefClass returns t's default class, constructing it on first use.
func (r *Registry) RefClass(t Type) (Class, error) {
	e := r.entry(t)
	if e == nil {
		return Class{}, errors.New(errors.PhaseInstantiate, errors.KindInvalidType).Value(t).Build()
	}
	return r.refClass(e)
}

// UnrefClass drops a reference taken by RefClass.
func (r *Registry) UnrefClass(t Type) error {
	e := r.entry(t)
	if e == nil {
		return errors.New(errors.PhaseLifetime, errors.KindInvalidType).Value(t).Build()
	}
	return r.unrefClass(e)
}

// PeekClass returns t's default class if it currently exists.
func (r *Registry) PeekClass(t Type) (Class, bool) {
	e := r.entry(t)
	if e == nil {
		return Class{}, false
	}
	addr := e.classAddr.Load()
	if addr == 0 {
		return Class{}, false
	}
	return Class{reg: r, addr: addr}, true
}

// PeekParentClass returns the default class of c's parent type if it exists.
func (c Class) PeekParentClass() (Class, bool) {
	p := c.reg.Parent(c.Type())
	if p == InvalidType {
		return Class{}, false
	}
	return c.reg.PeekClass(p)
}

func (r *Registry) refClass(e *typeEntry) (Class, error) {
	if !e.isClassed() {
		return Class{}, errors.New(errors.PhaseInstantiate, errors.KindInvalidType).
			Type(e.name).Detail("type has no class").Build()
	}
	e.classMu.Lock()
	defer e.classMu.Unlock()
	if e.dead.Load() {
		return Class{}, errors.New(errors.PhaseInstantiate, errors.KindInvalidType).
			Type(e.name).Detail("type unregistered").Build()
	}

	addr := e.classAddr.Load()
	if addr == 0 {
		a, err := r.alloc.Alloc(e.classSize, InstanceAlign)
		if err != nil {
			return Class{}, err
		}
		if err := r.constructClass(a, e, classFlagDefault); err != nil {
			r.alloc.Free(a, e.classSize, InstanceAlign)
			return Class{}, errors.New(errors.PhaseInstantiate, errors.KindInitFailed).
				Type(e.name).Detail("class init").Cause(err).Build()
		}
		e.classAddr.Store(a)
		addr = a
		r.log.Debug("class constructed", zap.String("type", e.name), zap.Uint32("addr", a))
	}
	e.classRefs.Add(1)
	return Class{reg: r, addr: addr}, nil
}

func (r *Registry) unrefClass(e *typeEntry) error {
	e.classMu.Lock()
	defer e.classMu.Unlock()

	n := e.classRefs.Add(-1)
	if n < 0 {
		e.classRefs.Add(1)
		return errors.New(errors.PhaseLifetime, errors.KindInvalidHandle).
			Type(e.name).Detail("class unref without reference").Build()
	}
	if n > 0 || e.flags&FlagClassPinned != 0 {
		return nil
	}
	addr := e.classAddr.Swap(0)
	if addr == 0 {
		return nil
	}
	err := r.destructClass(Class{reg: r, addr: addr}, e)
	r.alloc.Free(addr, e.classSize, InstanceAlign)
	r.log.Debug("class destroyed", zap.String("type", e.name), zap.Uint32("addr", addr))
	return err
}

// CreateFloatingClass constructs a private copy of t's class. It keeps a
// reference on t's default class until destroyed.
func (r *Registry) CreateFloatingClass(t Type) (Class, error) {
	e := r.entry(t)
	if e == nil {
		return Class{}, errors.New(errors.PhaseInstantiate, errors.KindInvalidType).Value(t).Build()
	}
	if _, err := r.refClass(e); err != nil {
		return Class{}, err
	}
	addr, err := r.alloc.Alloc(e.classSize, InstanceAlign)
	if err != nil {
		_ = r.unrefClass(e)
		return Class{}, err
	}
	if err := r.constructClass(addr, e, 0); err != nil {
		r.alloc.Free(addr, e.classSize, InstanceAlign)
		_ = r.unrefClass(e)
		return Class{}, errors.New(errors.PhaseInstantiate, errors.KindInitFailed).
			Type(e.name).Detail("floating class init").Cause(err).Build()
	}
	return Class{reg: r, addr: addr}, nil
}

// DestroyFloatingClass destroys a class made by CreateFloatingClass that
// no instance owns.
func (r *Registry) DestroyFloatingClass(c Class) error {
	if !c.IsFloating() {
		return errors.InvalidOperation(errors.PhaseLifetime, "class %d is not floating", c.addr)
	}
	return r.destroyStandalone(c)
}

func (r *Registry) destroyStandalone(c Class) error {
	e, err := c.entry()
	if err != nil {
		return err
	}
	err = r.destructClass(c, e)
	r.alloc.Free(c.addr, e.classSize, InstanceAlign)
	if uerr := r.unrefClass(e); err == nil {
		err = uerr
	}
	return err
}

func (r *Registry) writeClassHeader(addr uint32, e *typeEntry, flags uint32, outer int32) error {
	if err := r.mem.WriteU32(addr, uint32(e.id)); err != nil {
		return err
	}
	if err := r.mem.WriteU32(addr+4, flags); err != nil {
		return err
	}
	if e.isInterface() {
		return r.mem.WriteU32(addr+ClassHeaderSize, uint32(outer))
	}
	return nil
}

// constructClass builds a standalone class block at addr. It holds a
// reference on the parent's default class for the block's lifetime.
func (r *Registry) constructClass(addr uint32, e *typeEntry, flags uint32) error {
	if err := r.writeClassHeader(addr, e, flags, 0); err != nil {
		return err
	}
	if e.parent != nil {
		if _, err := r.refClass(e.parent); err != nil {
			return err
		}
	}
	c := Class{reg: r, addr: addr}
	if err := r.constructLevels(c, e); err != nil {
		if e.parent != nil {
			_ = r.unrefClass(e.parent)
		}
		r.releaseSlots(addr)
		_ = r.mem.WriteU32(addr, 0)
		return err
	}
	return nil
}

// constructInterface builds the vtable of slot inside the class at outer.
// It holds a reference on the interface's default class, which supplies
// default methods.
func (r *Registry) constructInterface(outer uint32, slot ifaceSlot) error {
	addr := outer + slot.offset
	if err := r.writeClassHeader(addr, slot.entry, classFlagIface, -int32(slot.offset)); err != nil {
		return err
	}
	if _, err := r.refClass(slot.entry); err != nil {
		return err
	}
	if err := r.constructLevels(Class{reg: r, addr: addr}, slot.entry); err != nil {
		_ = r.unrefClass(slot.entry)
		r.releaseSlots(addr)
		return err
	}
	return nil
}

// constructLevels runs interface construction and ClassInit for each level
// from the root down. A failure unwinds what was built.
func (r *Registry) constructLevels(c Class, e *typeEntry) error {
	for idx, b := range e.bases {
		for n, slot := range b.ifaces {
			if err := r.constructInterface(c.addr, slot); err != nil {
				r.unwindLevels(c, e, idx, n)
				return err
			}
		}
		if b.info.ClassInit != nil {
			if err := b.info.ClassInit(c); err != nil {
				r.unwindLevels(c, e, idx, len(b.ifaces))
				return errors.New(errors.PhaseInstantiate, errors.KindInitFailed).
					Type(b.name).Detail("class init").Cause(err).Build()
			}
		}
	}
	return nil
}

func (r *Registry) unwindLevels(c Class, e *typeEntry, idx, ifaces int) {
	r.destructInterfaces(c, e.bases[idx].ifaces[:ifaces])
	for j := idx - 1; j >= 0; j-- {
		b := e.bases[j]
		if b.info.ClassFinal != nil {
			if err := b.info.ClassFinal(c); err != nil {
				r.log.Warn("class final failed during unwind", zap.String("type", b.name), zap.Error(err))
			}
		}
		r.destructInterfaces(c, b.ifaces)
	}
}

func (r *Registry) destructInterfaces(c Class, slots []ifaceSlot) {
	for i := len(slots) - 1; i >= 0; i-- {
		slot := slots[i]
		ic := Class{reg: r, addr: c.addr + slot.offset}
		if err := r.destructLevels(ic, slot.entry); err != nil {
			r.log.Warn("interface final failed", zap.String("interface", slot.entry.name), zap.Error(err))
		}
		r.releaseSlots(ic.addr)
		_ = r.mem.WriteU32(ic.addr, 0)
		if err := r.unrefClass(slot.entry); err != nil {
			r.log.Warn("interface class unref failed", zap.String("interface", slot.entry.name), zap.Error(err))
		}
	}
}

// destructLevels runs ClassFinal from the most derived level up, tearing
// down each level's interfaces after its finalizer. It returns the first
// finalizer error but always completes.
func (r *Registry) destructLevels(c Class, e *typeEntry) error {
	var first error
	for j := len(e.bases) - 1; j >= 0; j-- {
		b := e.bases[j]
		if b.info.ClassFinal != nil {
			if err := b.info.ClassFinal(c); err != nil && first == nil {
				first = errors.Wrap(errors.PhaseLifetime, errors.KindDestructorFailed, err, "class final "+b.name)
			}
		}
		r.destructInterfaces(c, b.ifaces)
	}
	return first
}

// destructClass tears down a standalone class block without freeing it.
func (r *Registry) destructClass(c Class, e *typeEntry) error {
	err := r.destructLevels(c, e)
	if e.parent != nil {
		if uerr := r.unrefClass(e.parent); err == nil {
			err = uerr
		}
	}
	r.releaseSlots(c.addr)
	_ = r.mem.WriteU32(c.addr, 0)
	return err
}

// releaseSlots drops every function handle stored in the block at addr.
func (r *Registry) releaseSlots(addr uint32) {
	r.slotMu.Lock()
	hs := r.slots[addr]
	delete(r.slots, addr)
	r.slotMu.Unlock()
	for _, h := range hs {
		r.funcs.Release(h)
	}
}
