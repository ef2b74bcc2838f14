package closure

import (
	"context"

	"github.com/wippyai/objrt/meta"
)

// Type names registered on first use.
const (
	TypeName       = "Closure"
	FuncTypeName   = "FuncClosure"
	ClassTypeName  = "ClassClosure"
	SignalTypeName = "SignalClosure"
)

// Type returns the closure base type of reg, registering it on first use.
// The class carries the meta-marshal slot; the instance carries the direct
// marshal handle.
func Type(reg *meta.Registry) (meta.Type, error) {
	return reg.Ensure(TypeName, func(r *meta.Registry) (meta.Type, error) {
		return r.RegisterDerived(TypeName, meta.BoxType, meta.TypeInfo{
			ClassSize:    meta.ClassHeaderSize + meta.PointerSize,
			InstanceSize: meta.InstanceHeaderSize + meta.PointerSize,
		})
	})
}

// FuncType returns the type of closures wrapping Go functions.
func FuncType(reg *meta.Registry) (meta.Type, error) {
	return derived(reg, FuncTypeName, nil)
}

// ClassType returns the type of closures bound to a class method. Its
// default class installs the meta-marshal that resolves the method on the
// bound instance at every call.
func ClassType(reg *meta.Registry) (meta.Type, error) {
	return derived(reg, ClassTypeName, func(c meta.Class) error {
		return c.SetMethod(MetaMarshalOffset, Marshal(classMeta))
	})
}

// SignalType returns the type of closures forwarding to a signal.
func SignalType(reg *meta.Registry) (meta.Type, error) {
	return derived(reg, SignalTypeName, nil)
}

func derived(reg *meta.Registry, name string, classInit func(meta.Class) error) (meta.Type, error) {
	return reg.Ensure(name, func(r *meta.Registry) (meta.Type, error) {
		base, err := Type(r)
		if err != nil {
			return meta.InvalidType, err
		}
		return r.RegisterDerived(name, base, meta.TypeInfo{ClassInit: classInit})
	})
}

type currentKey struct{}

// WithCurrent returns ctx with c as the current closure.
func WithCurrent(ctx context.Context, c *Closure) context.Context {
	return context.WithValue(ctx, currentKey{}, c)
}

// Current returns the innermost closure being invoked in ctx.
func Current(ctx context.Context) *Closure {
	c, _ := ctx.Value(currentKey{}).(*Closure)
	return c
}
