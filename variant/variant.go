package variant

import (
	"math"

	"github.com/wippyai/objrt/meta"
)

// Variant is a tagged value. bits holds scalars, addresses, type handles
// and opaque handles; ref holds ref-counted payloads (string blocks and
// instances). The zero Variant is nil.
//
// A Variant owns its payload: copy it with Registry.ConstructCopy, never
// by assignment, and release it with Registry.Destruct.
type Variant struct {
	ref  any
	bits uint64
	typ  meta.Type
}

// Type returns the variant's type, NilType for the zero value.
func (v *Variant) Type() meta.Type {
	if v.typ == meta.InvalidType {
		return meta.NilType
	}
	return v.typ
}

// IsNil reports whether the variant holds nothing.
func (v *Variant) IsNil() bool { return v.Type() == meta.NilType }

// Bits returns the raw scalar payload.
func (v *Variant) Bits() uint64 { return v.bits }

func (v *Variant) reset() { *v = Variant{} }

// Nil returns an empty variant.
func Nil() Variant { return Variant{typ: meta.NilType} }

// Bool returns a bool variant.
func Bool(b bool) Variant {
	var bits uint64
	if b {
		bits = 1
	}
	return Variant{typ: meta.BoolType, bits: bits}
}

// Char returns a char variant holding a Unicode code point.
func Char(c rune) Variant { return Variant{typ: meta.CharType, bits: uint64(uint32(c))} }

// Uint8 returns a uint8 variant.
func Uint8(n uint8) Variant { return Variant{typ: meta.Uint8Type, bits: uint64(n)} }

// Int16 returns an int16 variant.
func Int16(n int16) Variant { return Variant{typ: meta.Int16Type, bits: uint64(int64(n))} }

// Uint16 returns a uint16 variant.
func Uint16(n uint16) Variant { return Variant{typ: meta.Uint16Type, bits: uint64(n)} }

// Int32 returns an int32 variant.
func Int32(n int32) Variant { return Variant{typ: meta.Int32Type, bits: uint64(int64(n))} }

// Uint32 returns a uint32 variant.
func Uint32(n uint32) Variant { return Variant{typ: meta.Uint32Type, bits: uint64(n)} }

// Int64 returns an int64 variant.
func Int64(n int64) Variant { return Variant{typ: meta.Int64Type, bits: uint64(n)} }

// Uint64 returns a uint64 variant.
func Uint64(n uint64) Variant { return Variant{typ: meta.Uint64Type, bits: n} }

// Float returns a float32 variant.
func Float(f float32) Variant { return Variant{typ: meta.FloatType, bits: uint64(math.Float32bits(f))} }

// Double returns a float64 variant.
func Double(f float64) Variant { return Variant{typ: meta.DoubleType, bits: math.Float64bits(f)} }

// Pointer returns a variant holding a heap address.
func Pointer(addr uint32) Variant { return Variant{typ: meta.PointerType, bits: uint64(addr)} }

// TypeValue returns a variant holding a type handle.
func TypeValue(t meta.Type) Variant { return Variant{typ: meta.TypeType, bits: uint64(t)} }

// Enum returns an enum variant of type t, which must derive from EnumType.
func Enum(t meta.Type, n uint32) Variant { return Variant{typ: t, bits: uint64(n)} }

// Flags returns a flags variant of type t, which must derive from FlagsType.
func Flags(t meta.Type, n uint32) Variant { return Variant{typ: t, bits: uint64(n)} }
