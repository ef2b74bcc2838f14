package variant

import (
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"

	"github.com/wippyai/objrt/errors"
	"github.com/wippyai/objrt/handle"
	"github.com/wippyai/objrt/meta"
)

// numericTypes take part in the all-pairs numeric converters.
var numericTypes = []meta.Type{
	meta.BoolType, meta.CharType,
	meta.Uint8Type, meta.Int16Type, meta.Uint16Type,
	meta.Int32Type, meta.Uint32Type, meta.Int64Type, meta.Uint64Type,
	meta.FloatType, meta.DoubleType,
}

// formattable types convert to and from string.
var formattable = []meta.Type{
	meta.BoolType, meta.CharType,
	meta.Uint8Type, meta.Int16Type, meta.Uint16Type,
	meta.Int32Type, meta.Uint32Type, meta.Int64Type, meta.Uint64Type,
	meta.FloatType, meta.DoubleType,
	meta.PointerType, meta.TypeType,
}

func (r *Registry) registerDefaultConverters() {
	add := func(from, to meta.Type, fn Converter) { r.converters[pair{from, to}] = fn }

	for _, from := range numericTypes {
		for _, to := range numericTypes {
			if from != to {
				add(from, to, convertNumeric)
			}
		}
	}

	for _, t := range []meta.Type{meta.EnumType, meta.FlagsType, meta.PointerType} {
		add(t, meta.Uint32Type, retag)
		add(meta.Uint32Type, t, retag)
	}
	add(meta.PointerType, meta.BoolType, nonZero)
	add(meta.InstanceType, meta.BoolType, nonZero)
	add(meta.OpaqueType, meta.PointerType, retag)
	add(meta.InstanceType, meta.PointerType, retag)
	add(meta.PointerType, meta.OpaqueType, pointerToOpaque)
	add(meta.PointerType, meta.InstanceType, pointerToInstance)

	for _, t := range []meta.Type{meta.StringType, meta.PointerType, meta.OpaqueType, meta.InstanceType} {
		add(meta.NilType, t, emptyOf)
	}

	for _, t := range formattable {
		add(t, meta.StringType, formatScalar)
		add(meta.StringType, t, parseScalar)
	}
	add(meta.EnumType, meta.StringType, formatEnum)
	add(meta.StringType, meta.EnumType, parseEnum)
	add(meta.FlagsType, meta.StringType, formatFlags)
	add(meta.StringType, meta.FlagsType, parseFlags)
	add(meta.EnumType, meta.BoolType, checkValue)
	add(meta.FlagsType, meta.BoolType, checkValue)
	add(meta.InstanceType, meta.StringType, formatInstance)
	add(meta.OpaqueType, meta.StringType, formatOpaque)
}

func retag(_ *Registry, src *Variant, to meta.Type) (Variant, error) {
	return Variant{typ: to, bits: uint64(uint32(src.bits))}, nil
}

func nonZero(_ *Registry, src *Variant, _ meta.Type) (Variant, error) {
	return Bool(uint32(src.bits) != 0), nil
}

func emptyOf(_ *Registry, _ *Variant, to meta.Type) (Variant, error) {
	return Variant{typ: to}, nil
}

// convertNumeric widens value-preserving and narrows by truncation. Float
// sources truncate toward zero first; any conversion to bool tests for
// non-zero.
func convertNumeric(r *Registry, src *Variant, to meta.Type) (Variant, error) {
	var (
		i       int64
		u       uint64
		f       float64
		isFloat bool
		signed  bool
	)
	switch r.types.Root(src.Type()) {
	case meta.Int16Type, meta.Int32Type, meta.Int64Type:
		i, signed = int64(src.bits), true
		u = uint64(i)
	case meta.FloatType, meta.DoubleType:
		f, isFloat = r.floatOf(src), true
		i = int64(f)
		u = uint64(i)
		if f >= 0 {
			u = uint64(f)
		}
	default:
		u = src.bits
		i = int64(u)
	}

	var bits uint64
	switch r.types.Root(to) {
	case meta.BoolType:
		if (isFloat && f != 0) || (!isFloat && u != 0) {
			bits = 1
		}
	case meta.CharType, meta.Uint32Type:
		bits = uint64(uint32(u))
	case meta.Uint8Type:
		bits = uint64(uint8(u))
	case meta.Int16Type:
		bits = uint64(int64(int16(u)))
	case meta.Uint16Type:
		bits = uint64(uint16(u))
	case meta.Int32Type:
		bits = uint64(int64(int32(u)))
	case meta.Int64Type, meta.Uint64Type:
		bits = u
	case meta.FloatType:
		switch {
		case isFloat:
			bits = uint64(math.Float32bits(float32(f)))
		case signed:
			bits = uint64(math.Float32bits(float32(i)))
		default:
			bits = uint64(math.Float32bits(float32(u)))
		}
	case meta.DoubleType:
		switch {
		case isFloat:
			bits = math.Float64bits(f)
		case signed:
			bits = math.Float64bits(float64(i))
		default:
			bits = math.Float64bits(float64(u))
		}
	default:
		return Variant{}, errors.InvalidConversion(r.types.Name(src.Type()), r.types.Name(to), nil)
	}
	return Variant{typ: to, bits: bits}, nil
}

func pointerToOpaque(r *Registry, src *Variant, to meta.Type) (Variant, error) {
	h := handle.Handle(uint32(src.bits))
	if h == 0 {
		return Variant{typ: to}, nil
	}
	if !r.opaque.Acquire(h) {
		return Variant{}, errors.New(errors.PhaseConvert, errors.KindInvalidConversion).
			Type("pointer").Target(r.types.Name(to)).
			Detail("%d is not an opaque handle", uint32(src.bits)).Build()
	}
	return Variant{typ: to, bits: uint64(h)}, nil
}

func pointerToInstance(r *Registry, src *Variant, to meta.Type) (Variant, error) {
	addr := uint32(src.bits)
	if addr == 0 {
		return Variant{typ: to}, nil
	}
	inst, ok := r.types.InstanceAt(addr)
	if !ok || !inst.IsA(to) {
		return Variant{}, errors.New(errors.PhaseConvert, errors.KindInvalidConversion).
			Type("pointer").Target(r.types.Name(to)).
			Detail("no %s instance at %d", r.types.Name(to), addr).Build()
	}
	out, err := r.Instance(inst)
	if err != nil {
		return Variant{}, err
	}
	out.typ = to
	return out, nil
}

func formatScalar(r *Registry, src *Variant, _ meta.Type) (Variant, error) {
	var s string
	switch r.types.Root(src.Type()) {
	case meta.BoolType:
		s = strconv.FormatBool(src.bits != 0)
	case meta.CharType:
		s = string(rune(uint32(src.bits)))
	case meta.Int16Type, meta.Int32Type, meta.Int64Type:
		s = strconv.FormatInt(int64(src.bits), 10)
	case meta.FloatType:
		s = strconv.FormatFloat(r.floatOf(src), 'g', -1, 32)
	case meta.DoubleType:
		s = strconv.FormatFloat(r.floatOf(src), 'g', -1, 64)
	case meta.PointerType:
		s = fmt.Sprintf("0x%x", uint32(src.bits))
	case meta.TypeType:
		s = r.types.Name(meta.Type(src.bits))
	default:
		s = strconv.FormatUint(src.bits, 10)
	}
	return r.String(s)
}

func formatInstance(r *Registry, src *Variant, _ meta.Type) (Variant, error) {
	inst, _ := src.ref.(*meta.Instance)
	if inst == nil {
		return r.String("null")
	}
	return r.String(fmt.Sprintf("%s@0x%x", r.types.Name(src.Type()), inst.Addr()))
}

func formatOpaque(r *Registry, src *Variant, _ meta.Type) (Variant, error) {
	v, err := r.OpaqueOf(src)
	if err != nil {
		return Variant{}, err
	}
	return r.String(fmt.Sprint(v))
}

func parseScalar(r *Registry, src *Variant, to meta.Type) (Variant, error) {
	s, err := r.StringOf(src)
	if err != nil {
		return Variant{}, err
	}

	var bits uint64
	switch r.types.Root(to) {
	case meta.BoolType:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return Variant{}, err
		}
		if b {
			bits = 1
		}
	case meta.CharType:
		c, size := utf8.DecodeRuneInString(s)
		if c == utf8.RuneError || size != len(s) {
			return Variant{}, fmt.Errorf("%q is not a single character", s)
		}
		bits = uint64(uint32(c))
	case meta.Uint8Type, meta.Uint16Type, meta.Uint32Type, meta.Uint64Type:
		n, err := strconv.ParseUint(s, 0, intBits(r, to))
		if err != nil {
			return Variant{}, err
		}
		bits = n
	case meta.Int16Type, meta.Int32Type, meta.Int64Type:
		n, err := strconv.ParseInt(s, 0, intBits(r, to))
		if err != nil {
			return Variant{}, err
		}
		bits = uint64(n)
	case meta.FloatType:
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return Variant{}, err
		}
		bits = uint64(math.Float32bits(float32(f)))
	case meta.DoubleType:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Variant{}, err
		}
		bits = math.Float64bits(f)
	case meta.PointerType:
		n, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			return Variant{}, err
		}
		bits = n
	case meta.TypeType:
		t := r.types.Find(s)
		if t == meta.InvalidType {
			return Variant{}, errors.NotFound(errors.PhaseConvert, "type "+s)
		}
		bits = uint64(t)
	}
	return Variant{typ: to, bits: bits}, nil
}

// checkValue reports whether an enum or flags value is declared by its type.
func checkValue(r *Registry, src *Variant, _ meta.Type) (Variant, error) {
	return Bool(r.types.ValueCheck(src.Type(), uint32(src.bits))), nil
}

// formatEnum spells an enum by its value name. Enums without a value
// table format as decimal.
func formatEnum(r *Registry, src *Variant, to meta.Type) (Variant, error) {
	v := uint32(src.bits)
	if r.types.EnumValues(src.Type()) == nil {
		return r.String(strconv.FormatUint(uint64(v), 10))
	}
	name, ok := r.types.EnumName(src.Type(), v)
	if !ok {
		return Variant{}, errors.InvalidConversion(r.types.Name(src.Type()), r.types.Name(to),
			fmt.Errorf("%d is not a declared value", v))
	}
	return r.String(name)
}

// parseEnum accepts a value name or nick, or a number naming a declared value.
func parseEnum(r *Registry, src *Variant, to meta.Type) (Variant, error) {
	s, err := r.StringOf(src)
	if err != nil {
		return Variant{}, err
	}
	if v, ok := r.types.EnumValue(to, s); ok {
		return Variant{typ: to, bits: uint64(v)}, nil
	}
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil || !r.types.ValueCheck(to, uint32(n)) {
		return Variant{}, fmt.Errorf("%q is not a %s value", s, r.types.Name(to))
	}
	return Variant{typ: to, bits: n}, nil
}

func formatFlags(r *Registry, src *Variant, _ meta.Type) (Variant, error) {
	v := uint32(src.bits)
	if r.types.EnumValues(src.Type()) == nil {
		return r.String(strconv.FormatUint(uint64(v), 10))
	}
	s, err := r.types.FormatFlags(src.Type(), v)
	if err != nil {
		return Variant{}, err
	}
	return r.String(s)
}

// parseFlags accepts "|"-separated flag names or nicks, or a number made
// of declared bits.
func parseFlags(r *Registry, src *Variant, to meta.Type) (Variant, error) {
	s, err := r.StringOf(src)
	if err != nil {
		return Variant{}, err
	}
	if n, err := strconv.ParseUint(s, 0, 32); err == nil {
		if !r.types.ValueCheck(to, uint32(n)) {
			return Variant{}, fmt.Errorf("%q has undeclared %s bits", s, r.types.Name(to))
		}
		return Variant{typ: to, bits: n}, nil
	}
	if r.types.EnumValues(to) == nil {
		return Variant{}, fmt.Errorf("%q is not a number", s)
	}
	v, err := r.types.ParseFlags(to, s)
	if err != nil {
		return Variant{}, err
	}
	return Variant{typ: to, bits: uint64(v)}, nil
}

// intBits returns the bit width of an integer fundamental.
func intBits(r *Registry, t meta.Type) int {
	switch r.types.Root(t) {
	case meta.Uint8Type:
		return 8
	case meta.Int16Type, meta.Uint16Type:
		return 16
	case meta.Int32Type, meta.Uint32Type:
		return 32
	}
	return 64
}
