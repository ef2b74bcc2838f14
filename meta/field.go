package meta

import (
	"fmt"
	"math"
	"reflect"

	"go.bytecodealliance.org/wit"

	objrt "github.com/wippyai/objrt"
	"github.com/wippyai/objrt/errors"
)

type fieldInfo struct {
	typ           wit.Type
	owner         *typeEntry
	name          string
	offset        uint32
	size          uint32
	constructible bool
	// enum is the enum or flags type of a WitType field.
	enum *typeEntry
}

// FieldDesc describes an instance field.
type FieldDesc struct {
	Type          wit.Type
	Name          string
	Owner         Type
	Offset        uint32
	Size          uint32
	Constructible bool
}

func (r *Registry) fieldSupported(t wit.Type) bool {
	switch t.(type) {
	case wit.Bool, wit.S8, wit.U8, wit.S16, wit.U16, wit.S32, wit.U32,
		wit.S64, wit.U64, wit.F32, wit.F64, wit.Char, wit.String:
		return true
	case *wit.TypeDef:
		return r.tableFor(asTypeDef(t)) != nil
	}
	return false
}

func asTypeDef(t wit.Type) *wit.TypeDef {
	def, _ := t.(*wit.TypeDef)
	return def
}

// WitName returns the WIT spelling of a field type.
func WitName(t wit.Type) string {
	switch t.(type) {
	case wit.Bool:
		return "bool"
	case wit.S8:
		return "s8"
	case wit.U8:
		return "u8"
	case wit.S16:
		return "s16"
	case wit.U16:
		return "u16"
	case wit.S32:
		return "s32"
	case wit.U32:
		return "u32"
	case wit.S64:
		return "s64"
	case wit.U64:
		return "u64"
	case wit.F32:
		return "f32"
	case wit.F64:
		return "f64"
	case wit.Char:
		return "char"
	case wit.String:
		return "string"
	case *wit.TypeDef:
		if def := asTypeDef(t); def.Name != nil {
			return *def.Name
		}
	}
	return "unknown"
}

// ParseWitType returns the WIT primitive named s.
func ParseWitType(s string) (wit.Type, bool) {
	switch s {
	case "bool":
		return wit.Bool{}, true
	case "s8":
		return wit.S8{}, true
	case "u8":
		return wit.U8{}, true
	case "s16":
		return wit.S16{}, true
	case "u16":
		return wit.U16{}, true
	case "s32":
		return wit.S32{}, true
	case "u32":
		return wit.U32{}, true
	case "s64":
		return wit.S64{}, true
	case "u64":
		return wit.U64{}, true
	case "f32":
		return wit.F32{}, true
	case "f64":
		return wit.F64{}, true
	case "char":
		return wit.Char{}, true
	case "string":
		return wit.String{}, true
	}
	return nil, false
}

// findField looks name up from e towards the root.
func (r *Registry) findField(e *typeEntry, name string) (*fieldInfo, bool) {
	for ; e != nil; e = e.parent {
		for _, f := range e.fields {
			if f.name == name {
				return f, true
			}
		}
	}
	return nil, false
}

// Fields returns every field of t, ancestors first.
func (r *Registry) Fields(t Type) []FieldDesc {
	e := r.entry(t)
	if e == nil {
		return nil
	}
	var out []FieldDesc
	for _, b := range e.bases {
		for _, f := range b.fields {
			out = append(out, f.desc())
		}
	}
	return out
}

// FieldOf describes field name of t.
func (r *Registry) FieldOf(t Type, name string) (FieldDesc, error) {
	e := r.entry(t)
	if e == nil {
		return FieldDesc{}, errors.New(errors.PhaseInstantiate, errors.KindInvalidType).Value(t).Build()
	}
	f, ok := r.findField(e, name)
	if !ok {
		return FieldDesc{}, errors.New(errors.PhaseInstantiate, errors.KindNotFound).
			Type(e.name).Path(e.name, name).Detail("no such field").Build()
	}
	return f.desc(), nil
}

func (f *fieldInfo) desc() FieldDesc {
	return FieldDesc{
		Type:          f.typ,
		Name:          f.name,
		Owner:         f.owner.id,
		Offset:        f.offset,
		Size:          f.size,
		Constructible: f.constructible,
	}
}

// Field reads a field as its Go value: bool, int8..int64, uint8..uint64,
// float32, float64, rune or string. Enum and flags fields read as uint32.
func (i *Instance) Field(name string) (any, error) {
	f, err := i.field(name)
	if err != nil {
		return nil, err
	}
	return i.reg.readField(i.addr+f.offset, f)
}

// SetField writes a Go value into a field. Numeric values of any Go kind
// are accepted if they fit the field type. Enum and flags fields also take
// a value name, or "|"-separated flag names.
func (i *Instance) SetField(name string, value any) error {
	f, err := i.field(name)
	if err != nil {
		return err
	}
	return i.reg.writeField(i.addr+f.offset, f, value)
}

func (i *Instance) field(name string) (*fieldInfo, error) {
	if err := i.checkLive(); err != nil {
		return nil, err
	}
	e := i.entry()
	f, ok := i.reg.findField(e, name)
	if !ok {
		return nil, errors.New(errors.PhaseInstantiate, errors.KindNotFound).
			Type(e.name).Path(e.name, name).Detail("no such field").Build()
	}
	return f, nil
}

func (r *Registry) readField(addr uint32, f *fieldInfo) (any, error) {
	m := r.mem
	switch f.typ.(type) {
	case wit.Bool:
		v, err := m.ReadU8(addr)
		return v != 0, err
	case wit.S8:
		v, err := m.ReadU8(addr)
		return int8(v), err
	case wit.U8:
		return m.ReadU8(addr)
	case wit.S16:
		v, err := m.ReadU16(addr)
		return int16(v), err
	case wit.U16:
		return m.ReadU16(addr)
	case wit.S32:
		v, err := m.ReadU32(addr)
		return int32(v), err
	case wit.U32:
		return m.ReadU32(addr)
	case wit.Char:
		v, err := m.ReadU32(addr)
		return rune(v), err
	case wit.S64:
		v, err := m.ReadU64(addr)
		return int64(v), err
	case wit.U64:
		return m.ReadU64(addr)
	case wit.F32:
		v, err := m.ReadU32(addr)
		return math.Float32frombits(v), err
	case wit.F64:
		v, err := m.ReadU64(addr)
		return math.Float64frombits(v), err
	case wit.String:
		ptr, err := m.ReadU32(addr)
		if err != nil {
			return nil, err
		}
		n, err := m.ReadU32(addr + 4)
		if err != nil || n == 0 {
			return "", err
		}
		b, err := m.Read(ptr, n)
		return string(b), err
	case *wit.TypeDef:
		if f.enum == nil {
			break
		}
		raw, err := readSized(m, addr, f.size)
		if err != nil {
			return nil, err
		}
		vt := f.enum.values
		if vt.flags {
			return uint32(raw), nil
		}
		if raw >= uint64(len(vt.values)) {
			return nil, errors.InvalidLayout(f.owner.name, "field %q holds discriminant %d of %d", f.name, raw, len(vt.values))
		}
		return vt.values[raw].Value, nil
	}
	return nil, errors.InvalidLayout(f.owner.name, "field %q has unsupported type", f.name)
}

func (r *Registry) writeField(addr uint32, f *fieldInfo, value any) error {
	m := r.mem
	mismatch := func() error {
		return errors.New(errors.PhaseInstantiate, errors.KindTypeMismatch).
			Path(f.owner.name, f.name).
			Type(fmt.Sprintf("%T", value)).
			Target(WitName(f.typ)).
			Build()
	}

	switch f.typ.(type) {
	case wit.Bool:
		b, ok := value.(bool)
		if !ok {
			return mismatch()
		}
		var v uint8
		if b {
			v = 1
		}
		return m.WriteU8(addr, v)
	case wit.S8, wit.S16, wit.S32, wit.S64:
		v, ok := toInt64(value)
		if !ok {
			return mismatch()
		}
		bits := f.size * 8
		if v < -(1<<(bits-1)) || v > (1<<(bits-1))-1 {
			return overflow(f, value)
		}
		return writeSized(m, addr, f.size, uint64(v))
	case wit.U8, wit.U16, wit.U32, wit.U64, wit.Char:
		v, ok := toUint64(value)
		if !ok {
			return mismatch()
		}
		if f.size < 8 && v >= 1<<(f.size*8) {
			return overflow(f, value)
		}
		return writeSized(m, addr, f.size, v)
	case wit.F32:
		v, ok := toFloat64(value)
		if !ok {
			return mismatch()
		}
		return m.WriteU32(addr, math.Float32bits(float32(v)))
	case wit.F64:
		v, ok := toFloat64(value)
		if !ok {
			return mismatch()
		}
		return m.WriteU64(addr, math.Float64bits(v))
	case wit.String:
		s, ok := value.(string)
		if !ok {
			return mismatch()
		}
		return r.writeStringField(addr, s)
	case *wit.TypeDef:
		if f.enum == nil {
			break
		}
		v, err := r.enumFieldValue(f, value)
		if err != nil {
			return err
		}
		return writeSized(m, addr, f.size, v)
	}
	return errors.InvalidLayout(f.owner.name, "field %q has unsupported type", f.name)
}

// enumFieldValue returns what an enum or flags field stores for value:
// the table index for enums, the bit mask for flags.
func (r *Registry) enumFieldValue(f *fieldInfo, value any) (uint64, error) {
	e, vt := f.enum, f.enum.values
	var v uint32
	switch x := value.(type) {
	case string:
		if vt.flags {
			n, err := r.ParseFlags(e.id, x)
			if err != nil {
				return 0, err
			}
			v = n
			break
		}
		n, ok := r.EnumValue(e.id, x)
		if !ok {
			return 0, errors.New(errors.PhaseInstantiate, errors.KindInvalidArg).
				Path(f.owner.name, f.name).Value(x).Detail("%s has no value %q", e.name, x).Build()
		}
		v = n
	default:
		n, ok := toUint64(value)
		if !ok || n > math.MaxUint32 {
			return 0, errors.New(errors.PhaseInstantiate, errors.KindTypeMismatch).
				Path(f.owner.name, f.name).Type(fmt.Sprintf("%T", value)).Target(e.name).Build()
		}
		v = uint32(n)
	}
	if !r.ValueCheck(e.id, v) {
		return 0, errors.New(errors.PhaseInstantiate, errors.KindInvalidArg).
			Path(f.owner.name, f.name).Value(v).Detail("%d is not a valid %s", v, e.name).Build()
	}
	if vt.flags {
		return uint64(v), nil
	}
	i, _ := vt.enumIndex(v)
	return uint64(i), nil
}

func (r *Registry) writeStringField(addr uint32, s string) error {
	if err := r.freeStringField(addr); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	ptr, err := r.alloc.Alloc(uint32(len(s)), 1)
	if err != nil {
		return err
	}
	if err := r.mem.Write(ptr, []byte(s)); err != nil {
		r.alloc.Free(ptr, uint32(len(s)), 1)
		return err
	}
	if err := r.mem.WriteU32(addr, ptr); err != nil {
		return err
	}
	return r.mem.WriteU32(addr+4, uint32(len(s)))
}

func (r *Registry) freeStringField(addr uint32) error {
	ptr, err := r.mem.ReadU32(addr)
	if err != nil {
		return err
	}
	n, err := r.mem.ReadU32(addr + 4)
	if err != nil {
		return err
	}
	if ptr != 0 {
		r.alloc.Free(ptr, n, 1)
	}
	if err := r.mem.WriteU32(addr, 0); err != nil {
		return err
	}
	return r.mem.WriteU32(addr+4, 0)
}

// releaseFields frees heap storage owned by string fields of every level.
func (r *Registry) releaseFields(addr uint32, e *typeEntry) {
	for _, b := range e.bases {
		for _, f := range b.fields {
			if _, ok := f.typ.(wit.String); ok {
				_ = r.freeStringField(addr + f.offset)
			}
		}
	}
}

func overflow(f *fieldInfo, value any) error {
	return errors.New(errors.PhaseInstantiate, errors.KindInvalidArg).
		Path(f.owner.name, f.name).
		Value(value).
		Detail("value %v overflows %s", value, WitName(f.typ)).
		Build()
}

func writeSized(m objrt.Memory, addr, size uint32, v uint64) error {
	switch size {
	case 1:
		return m.WriteU8(addr, uint8(v))
	case 2:
		return m.WriteU16(addr, uint16(v))
	case 4:
		return m.WriteU32(addr, uint32(v))
	default:
		return m.WriteU64(addr, v)
	}
}

func readSized(m objrt.Memory, addr, size uint32) (uint64, error) {
	switch size {
	case 1:
		v, err := m.ReadU8(addr)
		return uint64(v), err
	case 2:
		v, err := m.ReadU16(addr)
		return uint64(v), err
	case 4:
		v, err := m.ReadU32(addr)
		return uint64(v), err
	default:
		return m.ReadU64(addr)
	}
}

func toInt64(v any) (int64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, false
		}
		return int64(u), true
	}
	return 0, false
}

func toUint64(v any) (uint64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i := rv.Int()
		if i < 0 {
			return 0, false
		}
		return uint64(i), true
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}
