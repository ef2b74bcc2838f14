package meta

import (
	"strings"

	"go.bytecodealliance.org/wit"
)

// Type is a stable handle to a registered type. The zero value is invalid.
type Type uint32

// InvalidType is the zero Type.
const InvalidType Type = 0

// Builtin types are registered by every Registry in this order, so their
// handles are the same everywhere.
const (
	NilType Type = iota + 1
	BoolType
	CharType
	Uint8Type
	Int16Type
	Uint16Type
	Int32Type
	Uint32Type
	Int64Type
	Uint64Type
	FloatType
	DoubleType
	PointerType
	StringType
	TypeType
	OpaqueType
	EnumType
	FlagsType
	InterfaceType
	InstanceType
	BoxType
	ITableType

	lastBuiltin = ITableType
)

// Flags control how a type may be derived, instantiated and retained.
type Flags uint32

const (
	// FlagAbstract types cannot be instantiated directly.
	FlagAbstract Flags = 1 << iota
	// FlagPinned types can never be unregistered.
	FlagPinned
	// FlagStaticLayout keeps the caller's TypeInfo slices instead of copying them.
	FlagStaticLayout
	// FlagClassPreinit constructs the default class at registration. Implies FlagClassPinned.
	FlagClassPreinit
	// FlagClassPinned keeps the default class alive at zero references.
	FlagClassPinned
	// FlagFinal types cannot be derived from.
	FlagFinal

	// Fundamental-only flags, inherited by every derived type.

	FlagClassed
	FlagInstantiable
	FlagInterfaced
	FlagDerivable
	FlagDeepDerivable
)

const fundamentalFlags = FlagClassed | FlagInstantiable | FlagInterfaced | FlagDerivable | FlagDeepDerivable

// Has reports whether all bits of m are set.
func (f Flags) Has(m Flags) bool { return f&m == m }

var flagNames = [...]struct {
	flag Flags
	name string
}{
	{FlagAbstract, "abstract"},
	{FlagPinned, "pinned"},
	{FlagStaticLayout, "static-layout"},
	{FlagClassPreinit, "class-preinit"},
	{FlagClassPinned, "class-pinned"},
	{FlagFinal, "final"},
	{FlagClassed, "classed"},
	{FlagInstantiable, "instantiable"},
	{FlagInterfaced, "interfaced"},
	{FlagDerivable, "derivable"},
	{FlagDeepDerivable, "deep-derivable"},
}

// Names returns the names of the set flags in declaration order.
func (f Flags) Names() []string {
	var out []string
	for _, n := range flagNames {
		if f&n.flag != 0 {
			out = append(out, n.name)
		}
	}
	return out
}

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	return strings.Join(f.Names(), "|")
}

// ParseFlag returns the flag spelled name, as printed by Flags.String.
func ParseFlag(name string) (Flags, bool) {
	for _, n := range flagNames {
		if n.name == name {
			return n.flag, true
		}
	}
	return 0, false
}

// Memory layout constants. Pointers in the heap are 32-bit.
const (
	PointerSize         = 4
	ClassHeaderSize     = 8
	InterfaceHeaderSize = 12
	InstanceHeaderSize  = 4
	InstanceAlign       = 8
)

type (
	// ClassInitFn fills a class block: method slots and class data.
	ClassInitFn func(c Class) error
	// ClassFinalFn tears down a class block.
	ClassFinalFn func(c Class) error
	// InstanceInitFn initializes one level of an instance. args holds the
	// constructor arguments matching constructible fields of that level,
	// already written into the instance.
	InstanceInitFn func(inst *Instance, args []Arg) error
	// InstanceFinalFn finalizes one level of an instance.
	InstanceFinalFn func(inst *Instance) error
)

// InterfaceImpl places an interface vtable inside an implementing class.
type InterfaceImpl struct {
	Interface Type
	Offset    uint32
}

// Field is a named, WIT-typed slot in an instance.
type Field struct {
	Type          wit.Type
	Name          string
	Constructible bool
}

// Arg is a constructor argument addressed to a constructible field.
type Arg struct {
	Value any
	Name  string
}

// TypeInfo describes the layout and behavior of a type.
type TypeInfo struct {
	ClassInit     ClassInitFn
	ClassFinal    ClassFinalFn
	InstanceInit  InstanceInitFn
	InstanceFinal InstanceFinalFn
	Interfaces    []InterfaceImpl
	// Dependencies lists types every implementer of this interface must also be.
	Dependencies []Type
	Fields       []Field
	// ClassSize includes the parent's class. 0 inherits the parent's size.
	ClassSize uint32
	// InstanceSize includes the parent's instance. 0 means the end of the
	// last field, or the parent's size when there are no fields.
	InstanceSize uint32
	// PrivateSize is this level's private block, stored before the public struct.
	PrivateSize uint32
	Flags       Flags

	values []EnumValue
}

func (i TypeInfo) clone() TypeInfo {
	out := i
	out.Interfaces = append([]InterfaceImpl(nil), i.Interfaces...)
	out.Dependencies = append([]Type(nil), i.Dependencies...)
	out.Fields = append([]Field(nil), i.Fields...)
	return out
}
