package variant

import (
	"bytes"
	"math"

	"github.com/wippyai/objrt/errors"
	"github.com/wippyai/objrt/handle"
	"github.com/wippyai/objrt/meta"
	"github.com/wippyai/objrt/refcount"
)

func (r *Registry) registerBehaviors() {
	signed := Behavior{Compare: compareSigned}
	for _, t := range []meta.Type{meta.Int16Type, meta.Int32Type, meta.Int64Type} {
		r.behaviors[t] = &signed
	}
	r.behaviors[meta.FloatType] = &Behavior{Compare: compareFloat}
	r.behaviors[meta.DoubleType] = &Behavior{Compare: compareFloat}

	r.behaviors[meta.StringType] = &Behavior{
		Copy: func(_ *Registry, src *Variant) (Variant, error) {
			ref, _ := src.ref.(*refcount.Ref)
			return Variant{typ: src.typ, ref: ref.Acquire()}, nil
		},
		Destruct: func(_ *Registry, v *Variant) error {
			ref, _ := v.ref.(*refcount.Ref)
			_, err := ref.Release(nil)
			return err
		},
		Compare: func(r *Registry, a, b *Variant) (int, error) {
			sa, err := r.StringOf(a)
			if err != nil {
				return 0, err
			}
			sb, err := r.StringOf(b)
			if err != nil {
				return 0, err
			}
			return bytes.Compare([]byte(sa), []byte(sb)), nil
		},
	}

	r.behaviors[meta.OpaqueType] = &Behavior{
		Copy: func(r *Registry, src *Variant) (Variant, error) {
			if src.bits != 0 && !r.opaque.Acquire(handle.Handle(src.bits)) {
				return Variant{}, errors.New(errors.PhaseConvert, errors.KindInvalidHandle).Value(src.bits).Build()
			}
			return *src, nil
		},
		Destruct: func(r *Registry, v *Variant) error {
			if v.bits != 0 {
				r.opaque.Release(handle.Handle(v.bits))
			}
			return nil
		},
	}

	r.behaviors[meta.InstanceType] = &Behavior{
		Copy: func(_ *Registry, src *Variant) (Variant, error) {
			inst, _ := src.ref.(*meta.Instance)
			if inst != nil && inst.IsBox() {
				if err := inst.Ref(); err != nil {
					return Variant{}, err
				}
			}
			return *src, nil
		},
		Destruct: func(_ *Registry, v *Variant) error {
			inst, _ := v.ref.(*meta.Instance)
			if inst != nil && inst.IsBox() {
				return inst.Unref()
			}
			return nil
		},
	}
}

func compareSigned(_ *Registry, a, b *Variant) (int, error) {
	x, y := int64(a.bits), int64(b.bits)
	switch {
	case x < y:
		return -1, nil
	case x > y:
		return 1, nil
	}
	return 0, nil
}

func compareFloat(r *Registry, a, b *Variant) (int, error) {
	x, y := r.floatOf(a), r.floatOf(b)
	if math.IsNaN(x) || math.IsNaN(y) {
		return 0, errors.New(errors.PhaseConvert, errors.KindIncomparable).Detail("NaN").Build()
	}
	switch {
	case x < y:
		return -1, nil
	case x > y:
		return 1, nil
	}
	return 0, nil
}

func (r *Registry) floatOf(v *Variant) float64 {
	if r.types.Root(v.Type()) == meta.FloatType {
		return float64(math.Float32frombits(uint32(v.bits)))
	}
	return math.Float64frombits(v.bits)
}
