package variant

import (
	"math"

	"github.com/wippyai/objrt/errors"
	"github.com/wippyai/objrt/handle"
	"github.com/wippyai/objrt/meta"
	"github.com/wippyai/objrt/refcount"
)

// String returns a string variant. The bytes live in a ref-counted heap
// block; the empty string holds no block.
func (r *Registry) String(s string) (Variant, error) {
	if s == "" {
		return Variant{typ: meta.StringType}, nil
	}
	ref, err := r.refs.Alloc(uint32(len(s)), nil)
	if err != nil {
		return Variant{}, err
	}
	if err := ref.Write(0, []byte(s)); err != nil {
		_, _ = ref.Release(nil)
		return Variant{}, err
	}
	return Variant{typ: meta.StringType, ref: ref}, nil
}

// Instance returns a variant referencing inst. Box instances gain a
// reference; plain instances are borrowed and must outlive the variant.
func (r *Registry) Instance(inst *meta.Instance) (Variant, error) {
	if inst == nil {
		return Variant{typ: meta.InstanceType}, nil
	}
	if inst.IsDestroyed() {
		return Variant{}, errors.InvalidOperation(errors.PhaseConvert, "instance %d is destroyed", inst.Addr())
	}
	if inst.IsBox() {
		if err := inst.Ref(); err != nil {
			return Variant{}, err
		}
	}
	return Variant{typ: inst.Type(), ref: inst, bits: uint64(inst.Addr())}, nil
}

// Opaque returns a variant holding an arbitrary Go value in the opaque
// handle table.
func (r *Registry) Opaque(v any) Variant {
	if v == nil {
		return Variant{typ: meta.OpaqueType}
	}
	h := r.opaque.Insert(KindOpaque, v)
	return Variant{typ: meta.OpaqueType, bits: uint64(h)}
}

// StringOf reads a string variant without taking it.
func (r *Registry) StringOf(v *Variant) (string, error) {
	if !r.types.IsA(v.Type(), meta.StringType) {
		return "", errors.TypeMismatch(errors.PhaseConvert, r.types.Name(v.Type()), "string")
	}
	ref, _ := v.ref.(*refcount.Ref)
	if ref == nil {
		return "", nil
	}
	b, err := ref.Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// InstanceOf returns the instance held by v, nil for an empty instance
// variant.
func (r *Registry) InstanceOf(v *Variant) (*meta.Instance, error) {
	if !r.types.IsA(v.Type(), meta.InstanceType) {
		return nil, errors.TypeMismatch(errors.PhaseConvert, r.types.Name(v.Type()), "instance")
	}
	inst, _ := v.ref.(*meta.Instance)
	return inst, nil
}

// OpaqueOf returns the Go value held by an opaque variant.
func (r *Registry) OpaqueOf(v *Variant) (any, error) {
	if !r.types.IsA(v.Type(), meta.OpaqueType) {
		return nil, errors.TypeMismatch(errors.PhaseConvert, r.types.Name(v.Type()), "opaque")
	}
	if v.bits == 0 {
		return nil, nil
	}
	val, ok := r.opaque.GetTyped(handle.Handle(v.bits), KindOpaque)
	if !ok {
		return nil, errors.New(errors.PhaseConvert, errors.KindInvalidHandle).Value(v.bits).Build()
	}
	return val, nil
}

// TakeString returns the string held by v and releases v.
func (r *Registry) TakeString(v *Variant) (string, error) {
	s, err := r.StringOf(v)
	if err != nil {
		return "", err
	}
	return s, r.Destruct(v)
}

// TakeInstance moves the instance out of v, leaving v nil. The caller
// inherits the variant's box reference.
func (r *Registry) TakeInstance(v *Variant) (*meta.Instance, error) {
	inst, err := r.InstanceOf(v)
	if err != nil {
		return nil, err
	}
	v.reset()
	return inst, nil
}

// TakeOpaque returns the opaque value held by v and releases v.
func (r *Registry) TakeOpaque(v *Variant) (any, error) {
	val, err := r.OpaqueOf(v)
	if err != nil {
		return nil, err
	}
	return val, r.Destruct(v)
}

// FromAny wraps a Go value. Strings become string variants, instances
// instance variants, Variant values are copied and anything else without
// a scalar mapping is stored as opaque.
func (r *Registry) FromAny(v any) (Variant, error) {
	switch x := v.(type) {
	case nil:
		return Nil(), nil
	case Variant:
		return r.ConstructCopy(&x)
	case *Variant:
		return r.ConstructCopy(x)
	case bool:
		return Bool(x), nil
	case int8:
		return Int16(int16(x)), nil
	case uint8:
		return Uint8(x), nil
	case int16:
		return Int16(x), nil
	case uint16:
		return Uint16(x), nil
	case int32:
		return Int32(x), nil
	case uint32:
		return Uint32(x), nil
	case int:
		return Int64(int64(x)), nil
	case int64:
		return Int64(x), nil
	case uint:
		return Uint64(uint64(x)), nil
	case uint64:
		return Uint64(x), nil
	case float32:
		return Float(x), nil
	case float64:
		return Double(x), nil
	case string:
		return r.String(x)
	case meta.Type:
		return TypeValue(x), nil
	case *meta.Instance:
		return r.Instance(x)
	}
	return r.Opaque(v), nil
}

// Interface returns v as a Go value: the natural scalar type for
// fundamentals, string, *meta.Instance, the opaque value, meta.Type for
// type variants and nil for Nil.
func (r *Registry) Interface(v *Variant) (any, error) {
	switch r.types.Root(v.Type()) {
	case meta.NilType:
		return nil, nil
	case meta.BoolType:
		return v.bits != 0, nil
	case meta.CharType:
		return rune(uint32(v.bits)), nil
	case meta.Uint8Type:
		return uint8(v.bits), nil
	case meta.Int16Type:
		return int16(v.bits), nil
	case meta.Uint16Type:
		return uint16(v.bits), nil
	case meta.Int32Type:
		return int32(v.bits), nil
	case meta.Uint32Type, meta.EnumType, meta.FlagsType:
		return uint32(v.bits), nil
	case meta.Int64Type:
		return int64(v.bits), nil
	case meta.Uint64Type:
		return v.bits, nil
	case meta.FloatType:
		return math.Float32frombits(uint32(v.bits)), nil
	case meta.DoubleType:
		return math.Float64frombits(v.bits), nil
	case meta.PointerType:
		return uint32(v.bits), nil
	case meta.TypeType:
		return meta.Type(v.bits), nil
	case meta.StringType:
		return r.StringOf(v)
	case meta.OpaqueType:
		return r.OpaqueOf(v)
	case meta.InstanceType:
		return r.InstanceOf(v)
	}
	return nil, errors.TypeMismatch(errors.PhaseConvert, r.types.Name(v.Type()), "go value")
}

// Format renders v for logs and the string converters.
func (r *Registry) Format(v *Variant) (string, error) {
	s, err := r.Convert(v, meta.StringType)
	if err != nil {
		return "", err
	}
	return r.TakeString(&s)
}
