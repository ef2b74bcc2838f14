package runtime

import (
	"os"

	"github.com/pelletier/go-toml"
	"go.uber.org/zap"

	"github.com/wippyai/objrt/errors"
	"github.com/wippyai/objrt/meta"
)

// Schema declares types, fields, interfaces and signals in TOML:
//
//	[[types]]
//	name = "Widget"
//	parent = "instance"
//	class-size = 12
//	interfaces = [{ interface = "Drawable", offset = 12 }]
//	fields = [{ name = "width", type = "u32", constructible = true }]
//	signals = [{ name = "clicked", args = ["int32"] }]
//
// A type without parent is fundamental. A type whose parent is "enum" or
// "flags" lists its values instead of fields:
//
//	[[types]]
//	name = "Color"
//	parent = "enum"
//	values = [{ name = "red", nick = "r", value = 1 }]
//
// Parents, interfaces, signal argument types and enum or flags field types
// are resolved by name, so a type may only refer to builtins and to types
// declared before it.
type Schema struct {
	Types []TypeDecl `toml:"types"`
}

// TypeDecl declares one type.
type TypeDecl struct {
	Name         string          `toml:"name"`
	Parent       string          `toml:"parent"`
	Flags        []string        `toml:"flags"`
	ClassSize    uint32          `toml:"class-size"`
	InstanceSize uint32          `toml:"instance-size"`
	PrivateSize  uint32          `toml:"private-size"`
	Fields       []FieldDecl     `toml:"fields"`
	Interfaces   []InterfaceDecl `toml:"interfaces"`
	Requires     []string        `toml:"requires"`
	Signals      []SignalDecl    `toml:"signals"`
	Values       []ValueDecl     `toml:"values"`
}

// ValueDecl declares one value of an enum or flags type.
type ValueDecl struct {
	Name  string `toml:"name"`
	Nick  string `toml:"nick"`
	Value uint32 `toml:"value"`
}

// FieldDecl declares an instance field with a WIT type name or the name of
// a declared enum or flags type.
type FieldDecl struct {
	Name          string `toml:"name"`
	Type          string `toml:"type"`
	Constructible bool   `toml:"constructible"`
}

// InterfaceDecl places an interface vtable in the class.
type InterfaceDecl struct {
	Interface string `toml:"interface"`
	Offset    uint32 `toml:"offset"`
}

// SignalDecl declares a signal and its argument type names.
type SignalDecl struct {
	Name string   `toml:"name"`
	Args []string `toml:"args"`
}

// LoadSchema decodes a TOML schema.
func LoadSchema(data []byte) (*Schema, error) {
	var s Schema
	if err := toml.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidArg, err, "decode schema")
	}
	for i, d := range s.Types {
		if d.Name == "" {
			return nil, errors.InvalidArg(errors.PhaseConfig, "type %d has no name", i)
		}
	}
	return &s, nil
}

// LoadSchemaFile reads and decodes a TOML schema file.
func LoadSchemaFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindNotFound).
			Detail("read %s", path).Cause(err).Build()
	}
	return LoadSchema(data)
}

// Apply registers the schema's types in declaration order and installs
// their signals. It stops at the first failure and returns the types
// registered so far.
func (r *Runtime) Apply(s *Schema) ([]meta.Type, error) {
	out := make([]meta.Type, 0, len(s.Types))
	for _, d := range s.Types {
		t, err := r.applyType(d)
		if err != nil {
			return out, err
		}
		out = append(out, t)
	}
	r.log.Debug("schema applied", zap.Int("types", len(out)))
	return out, nil
}

func (r *Runtime) applyType(d TypeDecl) (meta.Type, error) {
	reg := r.types
	find := func(name string) (meta.Type, error) {
		t := reg.Find(name)
		if t == meta.InvalidType {
			return t, errors.New(errors.PhaseConfig, errors.KindNotFound).
				Type(d.Name).Detail("unknown type %q", name).Build()
		}
		return t, nil
	}

	info := meta.TypeInfo{
		ClassSize:    d.ClassSize,
		InstanceSize: d.InstanceSize,
		PrivateSize:  d.PrivateSize,
	}
	for _, name := range d.Flags {
		f, ok := meta.ParseFlag(name)
		if !ok {
			return meta.InvalidType, errors.New(errors.PhaseConfig, errors.KindInvalidArg).
				Type(d.Name).Detail("unknown flag %q", name).Build()
		}
		info.Flags |= f
	}
	if d.Parent == "enum" || d.Parent == "flags" {
		return r.applyValues(d)
	}
	if len(d.Values) > 0 {
		return meta.InvalidType, errors.New(errors.PhaseConfig, errors.KindInvalidArg).
			Type(d.Name).Detail("values need an enum or flags parent").Build()
	}
	for _, f := range d.Fields {
		wt, ok := meta.ParseWitType(f.Type)
		if !ok {
			wt, ok = reg.WitType(reg.Find(f.Type))
		}
		if !ok {
			return meta.InvalidType, errors.New(errors.PhaseConfig, errors.KindInvalidArg).
				Type(d.Name).Path(f.Name).Detail("unsupported field type %q", f.Type).Build()
		}
		info.Fields = append(info.Fields, meta.Field{Type: wt, Name: f.Name, Constructible: f.Constructible})
	}
	for _, iface := range d.Interfaces {
		t, err := find(iface.Interface)
		if err != nil {
			return meta.InvalidType, err
		}
		info.Interfaces = append(info.Interfaces, meta.InterfaceImpl{Interface: t, Offset: iface.Offset})
	}
	for _, name := range d.Requires {
		t, err := find(name)
		if err != nil {
			return meta.InvalidType, err
		}
		info.Dependencies = append(info.Dependencies, t)
	}

	var (
		t   meta.Type
		err error
	)
	if d.Parent == "" {
		t, err = reg.RegisterFundamental(d.Name, info.Flags, info)
	} else {
		parent, ferr := find(d.Parent)
		if ferr != nil {
			return meta.InvalidType, ferr
		}
		t, err = reg.RegisterDerived(d.Name, parent, info)
	}
	if err != nil {
		return meta.InvalidType, err
	}

	for _, sig := range d.Signals {
		args := make([]meta.Type, 0, len(sig.Args))
		for _, a := range sig.Args {
			at, err := find(a)
			if err != nil {
				return t, err
			}
			args = append(args, at)
		}
		if err := r.signals.Install(t, sig.Name, args...); err != nil {
			return t, err
		}
	}
	return t, nil
}

func (r *Runtime) applyValues(d TypeDecl) (meta.Type, error) {
	if len(d.Fields) > 0 || len(d.Interfaces) > 0 || len(d.Signals) > 0 {
		return meta.InvalidType, errors.New(errors.PhaseConfig, errors.KindInvalidArg).
			Type(d.Name).Detail("%s types take values only", d.Parent).Build()
	}
	values := make([]meta.EnumValue, len(d.Values))
	for i, v := range d.Values {
		values[i] = meta.EnumValue{Name: v.Name, Nick: v.Nick, Value: v.Value}
	}
	if d.Parent == "flags" {
		return r.types.RegisterFlags(d.Name, values)
	}
	return r.types.RegisterEnum(d.Name, values)
}
