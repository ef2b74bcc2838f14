package closure

import (
	"context"
	"fmt"
	"reflect"

	"github.com/wippyai/objrt/errors"
	"github.com/wippyai/objrt/meta"
	"github.com/wippyai/objrt/variant"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	closureType = reflect.TypeOf((*Closure)(nil))
	variantType = reflect.TypeOf(variant.Variant{})
)

// NewFunc creates a closure calling the Go function fn through
// MarshalReflect.
func NewFunc(vars *variant.Registry, fn any, userdata any) (*Closure, error) {
	if fn == nil || reflect.TypeOf(fn).Kind() != reflect.Func {
		return nil, errors.InvalidArg(errors.PhaseMarshal, "%T is not a function", fn)
	}
	t, err := FuncType(vars.Types())
	if err != nil {
		return nil, err
	}
	c, err := Create(vars, t, vars.Types().InstanceSize(t), userdata, nil)
	if err != nil {
		return nil, err
	}
	err = c.SetMarshal(func(ctx context.Context, c *Closure, ret *variant.Variant, args []variant.Variant, _ any) error {
		return MarshalReflect(ctx, c, ret, args, fn)
	})
	if err != nil {
		_ = c.Unref()
		return nil, err
	}
	return c, nil
}

// MarshalReflect calls the Go function in data. Parameters of type
// context.Context and *Closure receive the call context and the closure;
// a variant.Variant parameter borrows the argument; every other parameter
// consumes the next argument converted to the parameter type. Extra
// arguments are ignored. A trailing error result is returned, the first
// other result is stored in ret.
func MarshalReflect(ctx context.Context, c *Closure, ret *variant.Variant, args []variant.Variant, data any) error {
	fv := reflect.ValueOf(data)
	if fv.Kind() != reflect.Func {
		return errors.InvalidArg(errors.PhaseMarshal, "marshal data %T is not a function", data)
	}
	ft := fv.Type()
	if ft.IsVariadic() {
		return errors.InvalidArg(errors.PhaseMarshal, "variadic function %s", ft)
	}

	in := make([]reflect.Value, ft.NumIn())
	next := 0
	for i := range in {
		pt := ft.In(i)
		switch {
		case pt == contextType:
			in[i] = reflect.ValueOf(ctx)
			continue
		case pt == closureType:
			in[i] = reflect.ValueOf(c)
			continue
		}
		if next >= len(args) {
			return errors.InvalidArg(errors.PhaseMarshal, "%s wants more than %d arguments", ft, len(args))
		}
		arg := &args[next]
		next++
		if pt == variantType {
			in[i] = reflect.ValueOf(*arg)
			continue
		}
		v, err := goValue(c.vars, arg, pt)
		if err != nil {
			return err
		}
		in[i] = v
	}

	out := fv.Call(in)
	var result any
	for i, o := range out {
		if ft.Out(i) == errorType {
			if !o.IsNil() {
				return o.Interface().(error)
			}
			continue
		}
		if result == nil {
			result = o.Interface()
		}
	}
	return StoreResult(c.vars, ret, result)
}

func goValue(vars *variant.Registry, arg *variant.Variant, pt reflect.Type) (reflect.Value, error) {
	val, err := vars.Interface(arg)
	if err != nil {
		return reflect.Value{}, err
	}
	if val == nil {
		return reflect.Zero(pt), nil
	}
	rv := reflect.ValueOf(val)
	switch {
	case rv.Type().AssignableTo(pt):
		return rv, nil
	case isNumeric(rv.Kind()) && isNumeric(pt.Kind()):
		return rv.Convert(pt), nil
	}

	// let the variant registry convert, e.g. int32 to string
	if want := kindType(pt.Kind()); want != meta.InvalidType {
		conv, err := vars.Convert(arg, want)
		if err != nil {
			return reflect.Value{}, err
		}
		defer func() { _ = vars.Destruct(&conv) }()
		if val, err = vars.Interface(&conv); err != nil {
			return reflect.Value{}, err
		}
		if rv = reflect.ValueOf(val); rv.Type().ConvertibleTo(pt) {
			return rv.Convert(pt), nil
		}
	}
	return reflect.Value{}, errors.TypeMismatch(errors.PhaseMarshal, rv.Type().String(), pt.String())
}

func isNumeric(k reflect.Kind) bool {
	return (k >= reflect.Int && k <= reflect.Uint64) || k == reflect.Float32 || k == reflect.Float64
}

func kindType(k reflect.Kind) meta.Type {
	switch k {
	case reflect.Bool:
		return meta.BoolType
	case reflect.String:
		return meta.StringType
	case reflect.Int8, reflect.Int16:
		return meta.Int16Type
	case reflect.Int32:
		return meta.Int32Type
	case reflect.Int, reflect.Int64:
		return meta.Int64Type
	case reflect.Uint8:
		return meta.Uint8Type
	case reflect.Uint16:
		return meta.Uint16Type
	case reflect.Uint32:
		return meta.Uint32Type
	case reflect.Uint, reflect.Uint64:
		return meta.Uint64Type
	case reflect.Float32:
		return meta.FloatType
	case reflect.Float64:
		return meta.DoubleType
	}
	return meta.InvalidType
}

// StoreResult moves a Go result into ret. A ret that already carries a
// type receives the result converted to that type. A nil ret or result
// leaves ret unchanged.
func StoreResult(vars *variant.Registry, ret *variant.Variant, result any) error {
	if ret == nil || result == nil {
		return nil
	}
	v, err := vars.FromAny(result)
	if err != nil {
		return err
	}
	if want := ret.Type(); want != meta.NilType && want != v.Type() {
		conv, err := vars.Convert(&v, want)
		_ = vars.Destruct(&v)
		if err != nil {
			return err
		}
		v = conv
	}
	return vars.SetMove(ret, &v)
}

// MarshalMethod calls the meta.Func in data with the closure's bound
// instance as self and the arguments as Go values.
func MarshalMethod(_ context.Context, c *Closure, ret *variant.Variant, args []variant.Variant, data any) error {
	fn, ok := data.(meta.Func)
	if !ok {
		return errors.TypeMismatch(errors.PhaseMarshal, fmt.Sprintf("%T", data), "meta.Func")
	}
	goArgs := make([]any, len(args))
	for i := range args {
		v, err := c.vars.Interface(&args[i])
		if err != nil {
			return err
		}
		goArgs[i] = v
	}
	out, err := fn(c.target, goArgs...)
	if err != nil {
		return err
	}
	return StoreResult(c.vars, ret, out)
}

// Emitter emits a named signal on an instance.
type Emitter interface {
	EmitVariants(ctx context.Context, inst *meta.Instance, signal string, args []variant.Variant) error
}

// MarshalSignalForward re-emits the call as the closure's signal. args[0]
// is the emitting instance, the rest is the signal payload.
func MarshalSignalForward(ctx context.Context, c *Closure, _ *variant.Variant, args []variant.Variant, _ any) error {
	if len(args) == 0 {
		return errors.InvalidArg(errors.PhaseMarshal, "signal %q forwarded without a target", c.signal)
	}
	if c.emitter == nil {
		return errors.InvalidOperation(errors.PhaseMarshal, "signal closure has no emitter")
	}
	target, err := c.vars.InstanceOf(&args[0])
	if err != nil {
		return err
	}
	if target == nil {
		return errors.InvalidArg(errors.PhaseMarshal, "signal %q forwarded to a null instance", c.signal)
	}
	return c.emitter.EmitVariants(ctx, target, c.signal, args[1:])
}
