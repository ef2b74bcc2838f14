package closure

import (
	"context"
	"reflect"

	"github.com/wippyai/objrt/errors"
	"github.com/wippyai/objrt/meta"
	"github.com/wippyai/objrt/variant"
)

// NewClass creates a closure bound to the method at class offset off of
// classType, a class or interface type. The method is looked up on the
// target's actual class at every invocation, so class swaps and overrides
// take effect. target may be nil and bound later with SetTarget.
func NewClass(vars *variant.Registry, classType meta.Type, off uint32, target *meta.Instance, userdata any) (*Closure, error) {
	reg := vars.Types()
	if !reg.Valid(classType) || reg.Flags(classType)&meta.FlagClassed == 0 {
		return nil, errors.New(errors.PhaseMarshal, errors.KindInvalidType).
			Type(reg.Name(classType)).Detail("not a classed type").Build()
	}
	if target != nil && !target.IsA(classType) {
		return nil, errors.TypeMismatch(errors.PhaseMarshal, target.TypeName(), reg.Name(classType))
	}
	t, err := ClassType(reg)
	if err != nil {
		return nil, err
	}
	c, err := Create(vars, t, reg.InstanceSize(t), userdata, nil)
	if err != nil {
		return nil, err
	}
	c.classType, c.offset, c.target = classType, off, target
	return c, nil
}

// Method returns the class type and slot offset a class closure is bound to.
func (c *Closure) Method() (meta.Type, uint32) { return c.classType, c.offset }

// SetMethod rebinds a class closure to another slot.
func (c *Closure) SetMethod(classType meta.Type, off uint32) {
	c.classType, c.offset = classType, off
}

// Target returns the instance a class closure is bound to.
func (c *Closure) Target() *meta.Instance { return c.target }

// SetTarget binds a class closure to inst.
func (c *Closure) SetTarget(inst *meta.Instance) { c.target = inst }

// classMeta resolves the bound method on the target's current class and
// calls whatever the slot holds.
func classMeta(ctx context.Context, c *Closure, ret *variant.Variant, args []variant.Variant, _ any) error {
	if c.target == nil || c.target.IsDestroyed() {
		return errors.InvalidOperation(errors.PhaseMarshal, "class closure has no instance")
	}
	m, err := c.resolve()
	if err != nil {
		return err
	}

	switch fn := m.(type) {
	case meta.Func:
		return MarshalMethod(ctx, c, ret, args, fn)
	case *Closure:
		return fn.Invoke(ctx, ret, args...)
	case Marshal:
		return fn(ctx, c, ret, args, c.target)
	}
	if reflect.TypeOf(m).Kind() == reflect.Func {
		return MarshalReflect(ctx, c, ret, args, m)
	}
	return errors.New(errors.PhaseMarshal, errors.KindTypeMismatch).
		Type(c.target.TypeName()).Target(c.types.Name(c.classType)).
		Detail("slot %d holds %T", c.offset, m).Build()
}

func (c *Closure) resolve() (any, error) {
	reg := c.types
	cls := c.target.Class()
	var (
		slot meta.Class
		err  error
	)
	if reg.Flags(c.classType)&meta.FlagInterfaced != 0 {
		slot, err = cls.Interface(c.classType)
	} else {
		slot, err = cls.Cast(c.classType)
	}
	if err != nil {
		return nil, err
	}
	m, err := slot.Method(c.offset)
	if err != nil {
		return nil, err
	}
	if m == nil {
		if def, ok := reg.PeekClass(c.classType); ok && def.Addr() != slot.Addr() {
			if m, err = def.Method(c.offset); err != nil {
				return nil, err
			}
		}
	}
	if m == nil {
		return nil, errors.New(errors.PhaseMarshal, errors.KindUnimplementedVirtual).
			Type(c.target.TypeName()).Target(reg.Name(c.classType)).Value(c.offset).Build()
	}
	return m, nil
}

// NewSignal creates a closure that re-emits its invocation as signal
// through emitter.
func NewSignal(vars *variant.Registry, emitter Emitter, signal string, userdata any) (*Closure, error) {
	if signal == "" {
		return nil, errors.InvalidArg(errors.PhaseMarshal, "empty signal name")
	}
	t, err := SignalType(vars.Types())
	if err != nil {
		return nil, err
	}
	c, err := Create(vars, t, vars.Types().InstanceSize(t), userdata, nil)
	if err != nil {
		return nil, err
	}
	c.signal, c.emitter = signal, emitter
	if err := c.SetMarshal(MarshalSignalForward); err != nil {
		_ = c.Unref()
		return nil, err
	}
	return c, nil
}

// Signal returns the signal a signal closure forwards to.
func (c *Closure) Signal() string { return c.signal }
