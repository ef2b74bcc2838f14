package meta

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/objrt/errors"
)

// EnumValue is one named value of an enum or flags type. Nick is an
// optional short alias accepted wherever Name is.
type EnumValue struct {
	Name  string
	Nick  string
	Value uint32
}

// valueTable is the per-type table behind an enum or flags type. def is
// the WIT definition fields of the type are laid out with.
type valueTable struct {
	def    *wit.TypeDef
	values []EnumValue
	flags  bool
	mask   uint32
}

// RegisterEnum registers an enum type deriving from EnumType. Names and
// nicks must be unique, and so must values.
func (r *Registry) RegisterEnum(name string, values []EnumValue) (Type, error) {
	if len(values) == 0 {
		return InvalidType, errors.InvalidArg(errors.PhaseRegister, "%s declares no values", name)
	}
	return r.register(name, EnumType, TypeInfo{values: values})
}

// RegisterFlags registers a flags type deriving from FlagsType. Each value
// is a non-zero bit mask; a value may combine the bits of others.
func (r *Registry) RegisterFlags(name string, values []EnumValue) (Type, error) {
	if len(values) == 0 {
		return InvalidType, errors.InvalidArg(errors.PhaseRegister, "%s declares no values", name)
	}
	return r.register(name, FlagsType, TypeInfo{values: values})
}

func buildValueTable(e *typeEntry, values []EnumValue) (*valueTable, error) {
	root := e.root().id
	if root != EnumType && root != FlagsType {
		return nil, errors.New(errors.PhaseRegister, errors.KindInvalidType).
			Type(e.name).Detail("value tables belong to enum and flags types").Build()
	}
	t := &valueTable{values: append([]EnumValue(nil), values...), flags: root == FlagsType}

	seen := make(map[string]bool, 2*len(values))
	byValue := make(map[uint32]string, len(values))
	for i, v := range t.values {
		if v.Name == "" {
			return nil, errors.InvalidArg(errors.PhaseRegister, "%s value %d has no name", e.name, i)
		}
		for _, s := range []string{v.Name, v.Nick} {
			if s == "" {
				continue
			}
			if seen[s] {
				return nil, errors.DuplicateName(e.name + "." + s)
			}
			seen[s] = true
		}
		if t.flags {
			if v.Value == 0 {
				return nil, errors.InvalidArg(errors.PhaseRegister, "%s flag %s is zero", e.name, v.Name)
			}
			t.mask |= v.Value
			continue
		}
		if prev, dup := byValue[v.Value]; dup {
			return nil, errors.InvalidArg(errors.PhaseRegister, "%s values %s and %s are both %d", e.name, prev, v.Name, v.Value)
		}
		byValue[v.Value] = v.Name
	}

	name := e.name
	t.def = &wit.TypeDef{Name: &name}
	if !t.flags {
		cases := make([]wit.EnumCase, len(t.values))
		for i, v := range t.values {
			cases[i] = wit.EnumCase{Name: v.Name}
		}
		t.def.Kind = &wit.Enum{Cases: cases}
		return t, nil
	}

	// One WIT flag per bit up to the highest bit in use, named after the
	// single-bit value when there is one.
	flags := make([]wit.Flag, bits.Len32(t.mask))
	for i := range flags {
		flags[i].Name = "bit" + strconv.Itoa(i)
	}
	for _, v := range t.values {
		if bits.OnesCount32(v.Value) == 1 {
			flags[bits.TrailingZeros32(v.Value)].Name = v.Name
		}
	}
	t.def.Kind = &wit.Flags{Flags: flags}
	return t, nil
}

// table returns the value table of t or its nearest ancestor that has one.
func (r *Registry) table(t Type) *valueTable {
	for e := r.entry(t); e != nil; e = e.parent {
		if e.values != nil {
			return e.values
		}
	}
	return nil
}

// tableFor returns the entry whose WIT definition is def.
func (r *Registry) tableFor(def *wit.TypeDef) *typeEntry {
	for _, e := range r.snap.Load().entries {
		if !e.dead.Load() && e.values != nil && e.values.def == def {
			return e
		}
	}
	return nil
}

// EnumValues returns the value table of an enum or flags type.
func (r *Registry) EnumValues(t Type) []EnumValue {
	if vt := r.table(t); vt != nil {
		return append([]EnumValue(nil), vt.values...)
	}
	return nil
}

// WitType returns the WIT definition that lays out fields of an enum or
// flags type. Pass it as Field.Type.
func (r *Registry) WitType(t Type) (wit.Type, bool) {
	if vt := r.table(t); vt != nil {
		return vt.def, true
	}
	return nil, false
}

// TypeOfWit returns the enum or flags type a WIT definition from WitType
// belongs to.
func (r *Registry) TypeOfWit(w wit.Type) (Type, bool) {
	def, ok := w.(*wit.TypeDef)
	if !ok {
		return InvalidType, false
	}
	if e := r.tableFor(def); e != nil {
		return e.id, true
	}
	return InvalidType, false
}

// EnumName returns the name of enum value v.
func (r *Registry) EnumName(t Type, v uint32) (string, bool) {
	if ev, ok := r.lookupValue(t, v); ok {
		return ev.Name, true
	}
	return "", false
}

// EnumNick returns the nick of enum value v, or its name if it has none.
func (r *Registry) EnumNick(t Type, v uint32) (string, bool) {
	ev, ok := r.lookupValue(t, v)
	if !ok {
		return "", false
	}
	if ev.Nick != "" {
		return ev.Nick, true
	}
	return ev.Name, true
}

func (r *Registry) lookupValue(t Type, v uint32) (EnumValue, bool) {
	vt := r.table(t)
	if vt == nil {
		return EnumValue{}, false
	}
	for _, ev := range vt.values {
		if ev.Value == v {
			return ev, true
		}
	}
	return EnumValue{}, false
}

// EnumValue returns the value named name, matching names and nicks.
func (r *Registry) EnumValue(t Type, name string) (uint32, bool) {
	vt := r.table(t)
	if vt == nil {
		return 0, false
	}
	for _, ev := range vt.values {
		if ev.Name == name || (ev.Nick != "" && ev.Nick == name) {
			return ev.Value, true
		}
	}
	return 0, false
}

// ValueCheck reports whether v is valid for t: a declared value for enums,
// a combination of declared bits for flags. Types without a table accept
// every value.
func (r *Registry) ValueCheck(t Type, v uint32) bool {
	vt := r.table(t)
	if vt == nil {
		return true
	}
	if vt.flags {
		return v&^vt.mask == 0
	}
	_, ok := r.lookupValue(t, v)
	return ok
}

// FormatFlags spells v as the declared names it is made of, joined with
// "|" in declaration order. 0 formats as "".
func (r *Registry) FormatFlags(t Type, v uint32) (string, error) {
	vt := r.table(t)
	if vt == nil || !vt.flags {
		return "", errors.TypeMismatch(errors.PhaseConvert, r.Name(t), "flags")
	}
	if v&^vt.mask != 0 {
		return "", errors.InvalidConversion(r.Name(t), "string", fmt.Errorf("bits 0x%x are not declared", v&^vt.mask))
	}
	var names []string
	var covered uint32
	for _, ev := range vt.values {
		if v&ev.Value == ev.Value && ev.Value&^covered != 0 {
			names = append(names, ev.Name)
			covered |= ev.Value
		}
	}
	return strings.Join(names, "|"), nil
}

// ParseFlags parses "|"-separated names or nicks into a flags value.
// Blank input parses as 0.
func (r *Registry) ParseFlags(t Type, s string) (uint32, error) {
	vt := r.table(t)
	if vt == nil || !vt.flags {
		return 0, errors.TypeMismatch(errors.PhaseConvert, r.Name(t), "flags")
	}
	var v uint32
	for _, part := range strings.Split(s, "|") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, ok := r.EnumValue(t, part)
		if !ok {
			return 0, errors.New(errors.PhaseConvert, errors.KindNotFound).
				Type(r.Name(t)).Detail("no flag %q", part).Build()
		}
		v |= n
	}
	return v, nil
}

// enumIndex returns the position of v in the enum table, used as the
// stored discriminant of enum fields.
func (vt *valueTable) enumIndex(v uint32) (int, bool) {
	for i, ev := range vt.values {
		if ev.Value == v {
			return i, true
		}
	}
	return 0, false
}
