package meta

import (
	"github.com/wippyai/objrt/errors"
)

var valueFundamentals = []string{
	"nil", "bool", "char", "uint8", "int16", "uint16", "int32", "uint32",
	"int64", "uint64", "float", "double", "pointer", "string", "type",
	"opaque", "enum", "flags",
}

func (r *Registry) registerBuiltins() error {
	want := NilType
	check := func(t Type, err error) error {
		if err != nil {
			return err
		}
		if t != want {
			return errors.New(errors.PhaseRegister, errors.KindInvalidType).
				Value(t).Detail("builtin registered as %d, expected %d", t, want).Build()
		}
		want++
		return nil
	}

	for _, name := range valueFundamentals {
		err := check(r.register(name, InvalidType, TypeInfo{
			Flags: FlagPinned | FlagDerivable | FlagDeepDerivable,
		}))
		if err != nil {
			return err
		}
	}
	steps := []func() (Type, error){
		func() (Type, error) {
			return r.register("interface", InvalidType, TypeInfo{
				ClassSize: InterfaceHeaderSize,
				Flags:     FlagPinned | FlagAbstract | FlagInterfaced | FlagClassed | FlagDerivable | FlagDeepDerivable,
			})
		},
		func() (Type, error) {
			return r.register("instance", InvalidType, TypeInfo{
				ClassSize: ClassHeaderSize,
				Flags:     FlagPinned | FlagClassed | FlagInstantiable | FlagDerivable | FlagDeepDerivable,
			})
		},
		func() (Type, error) {
			return r.register("box", InstanceType, TypeInfo{Flags: FlagPinned})
		},
		func() (Type, error) {
			return r.register("itable", InterfaceType, TypeInfo{
				ClassSize: SlotOffset(itableSlots),
				ClassInit: initITable,
				Flags:     FlagPinned,
			})
		},
	}
	for _, step := range steps {
		if err := check(step()); err != nil {
			return err
		}
	}
	return nil
}

// initITable installs the fallback table methods. They only run for the
// ITable default class, and implementers override them.
func initITable(c Class) error {
	if c.IsInterfaceImpl() {
		return nil
	}
	defaults := [itableSlots]Func{
		ITableIndex: func(self *Instance, args ...any) (any, error) {
			return nil, errors.NotFound(errors.PhaseDispatch, "index")
		},
		ITableSetIndex: func(self *Instance, args ...any) (any, error) {
			return nil, errors.InvalidOperation(errors.PhaseDispatch, "%s is read-only", self.TypeName())
		},
		ITableNext: func(self *Instance, args ...any) (any, error) {
			return nil, nil
		},
		ITableCount: func(self *Instance, args ...any) (any, error) {
			return uint32(0), nil
		},
	}
	for i, fn := range defaults {
		if err := c.SetMethod(SlotOffset(i), fn); err != nil {
			return err
		}
	}
	return nil
}
