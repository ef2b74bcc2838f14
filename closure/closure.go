package closure

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/objrt/errors"
	"github.com/wippyai/objrt/handle"
	"github.com/wippyai/objrt/meta"
	"github.com/wippyai/objrt/variant"
)

// Marshal invokes a closure with variant arguments. data is whatever the
// caller of the marshal passes along: nil from Invoke, a value chosen by a
// meta-marshal when it forwards to the direct marshal.
type Marshal func(ctx context.Context, c *Closure, ret *variant.Variant, args []variant.Variant, data any) error

const (
	// MetaMarshalOffset is the class slot holding the meta-marshal.
	MetaMarshalOffset = meta.ClassHeaderSize

	// marshalOffset is the instance word holding the direct marshal handle.
	marshalOffset = meta.InstanceHeaderSize

	attachKey = "closure"
)

// Closure is a ref-counted invocable backed by a Box instance.
type Closure struct {
	inst  *meta.Instance
	types *meta.Registry
	vars  *variant.Registry
	dtor  func(*Closure)
	log   *zap.Logger

	// class closures
	classType meta.Type
	offset    uint32
	target    *meta.Instance

	// signal closures
	signal  string
	emitter Emitter
}

// Create allocates a closure of type t, which must derive from the
// closure type. size is the public instance size and may not be smaller
// than the closure instance. The closure starts with one reference; dtor
// runs when the last one is dropped.
func Create(vars *variant.Registry, t meta.Type, size uint32, userdata any, dtor func(*Closure)) (*Closure, error) {
	reg := vars.Types()
	base, err := Type(reg)
	if err != nil {
		return nil, err
	}
	if !reg.IsA(t, base) {
		return nil, errors.TypeMismatch(errors.PhaseMarshal, reg.Name(t), reg.Name(base))
	}
	if floor := reg.InstanceSize(base); size < floor {
		return nil, errors.InvalidArg(errors.PhaseMarshal, "closure size %d is below %d", size, floor)
	}

	c := &Closure{types: reg, vars: vars, dtor: dtor, log: Logger()}
	inst, err := reg.CreateWith(t, meta.CreateOptions{
		Size:       size,
		Userdata:   userdata,
		Destructor: c.finalize,
	})
	if err != nil {
		return nil, err
	}
	inst.Attach(attachKey, c)
	c.inst = inst
	return c, nil
}

// FromInstance returns the closure backed by inst.
func FromInstance(inst *meta.Instance) (*Closure, bool) {
	if inst == nil {
		return nil, false
	}
	v, ok := inst.Attachment(attachKey)
	if !ok {
		return nil, false
	}
	c, ok := v.(*Closure)
	return c, ok
}

func (c *Closure) finalize(inst *meta.Instance) {
	if h, err := inst.ReadU32(marshalOffset); err == nil && h != 0 {
		c.types.Funcs().Release(handle.Handle(h))
	}
	if c.dtor != nil {
		c.dtor(c)
	}
	inst.Attach(attachKey, nil)
}

// Instance returns the backing Box instance.
func (c *Closure) Instance() *meta.Instance { return c.inst }

// Variants returns the variant registry arguments are built in.
func (c *Closure) Variants() *variant.Registry { return c.vars }

// Userdata returns the value given at creation.
func (c *Closure) Userdata() any { return c.inst.Userdata() }

// Ref adds a reference.
func (c *Closure) Ref() error { return c.inst.Ref() }

// Unref drops a reference, destroying the closure at zero.
func (c *Closure) Unref() error { return c.inst.Unref() }

// RefCount returns the current reference count.
func (c *Closure) RefCount() int32 { return c.inst.RefCount() }

// SetMarshal sets the direct marshal. A nil fn clears it.
func (c *Closure) SetMarshal(fn Marshal) error {
	if err := c.live(); err != nil {
		return err
	}
	funcs := c.types.Funcs()
	old, err := c.inst.ReadU32(marshalOffset)
	if err != nil {
		return err
	}
	var h handle.Handle
	if fn != nil {
		if h = funcs.Insert(meta.KindFunc, fn); h == 0 {
			return errors.InvalidOperation(errors.PhaseMarshal, "function table closed")
		}
	}
	if err := c.inst.WriteU32(marshalOffset, uint32(h)); err != nil {
		if h != 0 {
			funcs.Release(h)
		}
		return err
	}
	if old != 0 {
		funcs.Release(handle.Handle(old))
	}
	return nil
}

// Marshal returns the direct marshal, nil if none is set.
func (c *Closure) Marshal() Marshal {
	h, err := c.inst.ReadU32(marshalOffset)
	if err != nil || h == 0 {
		return nil
	}
	v, _ := c.types.Funcs().GetTyped(handle.Handle(h), meta.KindFunc)
	fn, _ := v.(Marshal)
	return fn
}

// SetMetaMarshal overrides invocation with fn. The marshal lives in the
// class, so a closure still sharing its type's default class first moves
// to a private copy.
func (c *Closure) SetMetaMarshal(fn Marshal) error {
	if err := c.live(); err != nil {
		return err
	}
	var slot any
	if fn != nil {
		slot = fn
	}

	if cls := c.inst.Class(); cls.IsOwned() {
		return cls.SetMethod(MetaMarshalOffset, slot)
	}

	fc, err := c.types.CreateFloatingClass(c.inst.Type())
	if err != nil {
		return err
	}
	if err := fc.SetMethod(MetaMarshalOffset, slot); err != nil {
		_ = c.types.DestroyFloatingClass(fc)
		return err
	}
	if err := c.inst.SwizzleClass(fc); err != nil {
		_ = c.types.DestroyFloatingClass(fc)
		return err
	}
	return c.inst.SinkClass()
}

// MetaMarshal returns the meta-marshal in effect, nil if none.
func (c *Closure) MetaMarshal() Marshal {
	v, err := c.inst.Class().Method(MetaMarshalOffset)
	if err != nil {
		return nil
	}
	fn, _ := v.(Marshal)
	return fn
}

// HasMetaMarshal reports whether invocation is redirected.
func (c *Closure) HasMetaMarshal() bool { return c.MetaMarshal() != nil }

// Invoke calls the closure: through the meta-marshal when one is set,
// otherwise through the direct marshal. ret may be nil. The closure is
// the current closure of the context passed to the marshal.
func (c *Closure) Invoke(ctx context.Context, ret *variant.Variant, args ...variant.Variant) error {
	if err := c.live(); err != nil {
		return err
	}
	fn := c.MetaMarshal()
	if fn == nil {
		fn = c.Marshal()
	}
	if fn == nil {
		return errors.New(errors.PhaseMarshal, errors.KindMissingMarshal).
			Type(c.inst.TypeName()).Build()
	}
	if err := fn(WithCurrent(ctx, c), c, ret, args, nil); err != nil {
		c.log.Debug("closure invocation failed",
			zap.String("type", c.inst.TypeName()),
			zap.Uint32("addr", c.inst.Addr()),
			zap.Error(err))
		return err
	}
	return nil
}

// Call invokes the closure with Go arguments and returns the result as a
// Go value. A Box instance result stays valid only while something else
// holds a reference to it.
func (c *Closure) Call(ctx context.Context, args ...any) (any, error) {
	vs := make([]variant.Variant, 0, len(args))
	defer func() {
		for i := range vs {
			_ = c.vars.Destruct(&vs[i])
		}
	}()
	for _, a := range args {
		v, err := c.vars.FromAny(a)
		if err != nil {
			return nil, err
		}
		vs = append(vs, v)
	}

	var ret variant.Variant
	if err := c.Invoke(ctx, &ret, vs...); err != nil {
		return nil, err
	}
	out, err := c.vars.Interface(&ret)
	if err != nil {
		_ = c.vars.Destruct(&ret)
		return nil, err
	}
	return out, c.vars.Destruct(&ret)
}

func (c *Closure) live() error {
	if c.inst == nil || c.inst.IsDestroyed() {
		return errors.InvalidOperation(errors.PhaseMarshal, "closure is destroyed")
	}
	return nil
}
