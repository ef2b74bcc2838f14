package meta

import (
	"github.com/wippyai/objrt/errors"
)

// Func is the signature of methods stored in class and interface slots.
type Func func(self *Instance, args ...any) (any, error)

// Slots of the ITable interface.
const (
	ITableIndex = iota
	ITableSetIndex
	ITableNext
	ITableCount

	itableSlots
)

// SlotOffset returns the class offset of method slot n of an interface.
func SlotOffset(n int) uint32 {
	return InterfaceHeaderSize + uint32(n)*PointerSize
}

// InterfaceOffset returns where iface's vtable sits inside t's class.
func (r *Registry) InterfaceOffset(t, iface Type) (uint32, bool) {
	e, ie := r.entry(t), r.entry(iface)
	if e == nil || ie == nil || !ie.isInterface() {
		return 0, false
	}
	return r.interfaceOffset(e, ie)
}

// interfaceOffset searches e's levels from the root. A vtable matches when
// its interface is target or derives from it; vtables nested in interface
// blocks are searched too.
func (r *Registry) interfaceOffset(e, target *typeEntry) (uint32, bool) {
	for _, b := range e.bases {
		for _, slot := range b.ifaces {
			if derives(slot.entry, target) {
				return slot.offset, true
			}
		}
	}
	for _, b := range e.bases {
		for _, slot := range b.ifaces {
			if off, ok := r.interfaceOffset(slot.entry, target); ok {
				return slot.offset + off, true
			}
		}
	}
	return 0, false
}

// Interfaces lists the interfaces t implements directly, ancestors first.
func (r *Registry) Interfaces(t Type) []InterfaceImpl {
	e := r.entry(t)
	if e == nil {
		return nil
	}
	var out []InterfaceImpl
	for _, b := range e.bases {
		for _, slot := range b.ifaces {
			out = append(out, InterfaceImpl{Interface: slot.entry.id, Offset: slot.offset})
		}
	}
	return out
}

// Call invokes method slot of iface on inst. An empty slot falls back to
// the interface's default class.
func (r *Registry) Call(inst *Instance, iface Type, slot int, args ...any) (any, error) {
	if err := inst.checkLive(); err != nil {
		return nil, err
	}
	ic, err := inst.Class().Interface(iface)
	if err != nil {
		return nil, err
	}
	return r.invokeSlot(inst, ic, iface, SlotOffset(slot), args)
}

// CallVirtual invokes the class method at off on inst's class. An empty
// slot falls back to the default class of the type that declares it.
func (r *Registry) CallVirtual(inst *Instance, declaring Type, off uint32, args ...any) (any, error) {
	if err := inst.checkLive(); err != nil {
		return nil, err
	}
	c, err := inst.Class().Cast(declaring)
	if err != nil {
		return nil, err
	}
	return r.invokeSlot(inst, c, declaring, off, args)
}

func (r *Registry) invokeSlot(inst *Instance, c Class, owner Type, off uint32, args []any) (any, error) {
	m, err := c.Method(off)
	if err != nil {
		return nil, err
	}
	if m == nil {
		if def, ok := r.PeekClass(owner); ok && def.addr != c.addr {
			if m, err = def.Method(off); err != nil {
				return nil, err
			}
		}
	}
	if m == nil {
		return nil, errors.New(errors.PhaseDispatch, errors.KindUnimplementedVirtual).
			Type(inst.TypeName()).Target(r.Name(owner)).Value(off).
			Detail("slot %d is empty", off).Build()
	}
	fn, ok := m.(Func)
	if !ok {
		return nil, errors.New(errors.PhaseDispatch, errors.KindTypeMismatch).
			Type(inst.TypeName()).Target(r.Name(owner)).
			Detail("slot %d holds %T", off, m).Build()
	}
	return fn(inst, args...)
}

// TableIndex looks key up through inst's ITable implementation.
func (r *Registry) TableIndex(inst *Instance, key any) (any, error) {
	return r.Call(inst, ITableType, ITableIndex, key)
}

// TableSetIndex stores value under key through inst's ITable implementation.
func (r *Registry) TableSetIndex(inst *Instance, key, value any) error {
	_, err := r.Call(inst, ITableType, ITableSetIndex, key, value)
	return err
}

// TableNext returns the key after key, nil at the end. A nil key starts
// the iteration.
func (r *Registry) TableNext(inst *Instance, key any) (any, error) {
	return r.Call(inst, ITableType, ITableNext, key)
}

// TableCount returns the number of entries.
func (r *Registry) TableCount(inst *Instance) (uint32, error) {
	v, err := r.Call(inst, ITableType, ITableCount)
	if err != nil {
		return 0, err
	}
	n, ok := v.(uint32)
	if !ok {
		return 0, errors.TypeMismatch(errors.PhaseDispatch, "count", "uint32")
	}
	return n, nil
}
