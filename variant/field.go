package variant

import (
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/objrt/errors"
	"github.com/wippyai/objrt/meta"
)

// FieldType returns the variant type carrying values of a WIT field type.
// s8 widens to int16, the narrowest signed fundamental.
func FieldType(t wit.Type) meta.Type {
	switch t.(type) {
	case wit.Bool:
		return meta.BoolType
	case wit.S8, wit.S16:
		return meta.Int16Type
	case wit.U8:
		return meta.Uint8Type
	case wit.U16:
		return meta.Uint16Type
	case wit.S32:
		return meta.Int32Type
	case wit.U32:
		return meta.Uint32Type
	case wit.S64:
		return meta.Int64Type
	case wit.U64:
		return meta.Uint64Type
	case wit.F32:
		return meta.FloatType
	case wit.F64:
		return meta.DoubleType
	case wit.Char:
		return meta.CharType
	case wit.String:
		return meta.StringType
	}
	return meta.InvalidType
}

// GetField reads an instance field into a new variant. Enum and flags
// fields read as variants of their registered type.
func (r *Registry) GetField(inst *meta.Instance, name string) (Variant, error) {
	desc, err := r.types.FieldOf(inst.Type(), name)
	if err != nil {
		return Variant{}, err
	}
	val, err := inst.Field(name)
	if err != nil {
		return Variant{}, err
	}
	if et, ok := r.types.TypeOfWit(desc.Type); ok {
		n, _ := val.(uint32)
		return Variant{typ: et, bits: uint64(n)}, nil
	}
	switch x := val.(type) {
	case int8:
		return Int16(int16(x)), nil
	case rune:
		if _, ok := desc.Type.(wit.Char); ok {
			return Char(x), nil
		}
		return Int32(x), nil
	}
	return r.FromAny(val)
}

// SetField converts v to the field's type and writes it.
func (r *Registry) SetField(inst *meta.Instance, name string, v *Variant) error {
	desc, err := r.types.FieldOf(inst.Type(), name)
	if err != nil {
		return err
	}
	want := FieldType(desc.Type)
	if et, ok := r.types.TypeOfWit(desc.Type); ok {
		want = et
	}
	if want == meta.InvalidType {
		return errors.TypeMismatch(errors.PhaseConvert, r.types.Name(v.Type()), meta.WitName(desc.Type))
	}
	conv, err := r.Convert(v, want)
	if err != nil {
		return err
	}
	defer func() { _ = r.Destruct(&conv) }()

	val, err := r.Interface(&conv)
	if err != nil {
		return err
	}
	if c, ok := val.(rune); ok && want == meta.CharType {
		val = uint32(c)
	}
	return inst.SetField(name, val)
}
