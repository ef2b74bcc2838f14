package variant

import (
	"errors"
	"math"
	"strconv"
	"testing"

	"go.bytecodealliance.org/wit"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	objerrors "github.com/wippyai/objrt/errors"
	"github.com/wippyai/objrt/heap"
	"github.com/wippyai/objrt/meta"
)

func newRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	mem := heap.NewLinear(2, 0)
	types, err := meta.New(mem, heap.NewFreeList(mem))
	if err != nil {
		t.Fatalf("meta.New: %v", err)
	}
	return New(types, opts...)
}

func mustString(t *testing.T, r *Registry, s string) Variant {
	t.Helper()
	v, err := r.String(s)
	if err != nil {
		t.Fatalf("String(%q): %v", s, err)
	}
	return v
}

func TestMoveInvalidatesSource(t *testing.T) {
	r := newRegistry(t)
	before := r.refs.ActiveCount()

	src := mustString(t, r, "hello")
	if r.refs.ActiveCount() != before+1 {
		t.Fatalf("active = %d", r.refs.ActiveCount())
	}
	dst := r.ConstructMove(&src)
	if !src.IsNil() {
		t.Error("moved-from variant is not nil")
	}
	if s, _ := r.StringOf(&dst); s != "hello" {
		t.Errorf("moved value = %q", s)
	}
	if err := r.Destruct(&src); err != nil {
		t.Errorf("destruct moved-from: %v", err)
	}
	if err := r.Destruct(&dst); err != nil {
		t.Fatal(err)
	}
	if r.refs.ActiveCount() != before {
		t.Errorf("leaked %d blocks", r.refs.ActiveCount()-before)
	}
}

func TestCopySharesPayload(t *testing.T) {
	r := newRegistry(t)
	before := r.refs.ActiveCount()

	a := mustString(t, r, "shared")
	b, err := r.ConstructCopy(&a)
	if err != nil {
		t.Fatal(err)
	}
	if r.refs.ActiveCount() != before+1 {
		t.Errorf("copy allocated a new block")
	}

	c := mustString(t, r, "other")
	if err := r.SetCopy(&c, &a); err != nil {
		t.Fatal(err)
	}
	if s, _ := r.StringOf(&c); s != "shared" {
		t.Errorf("SetCopy = %q", s)
	}
	if r.refs.ActiveCount() != before+1 {
		t.Errorf("SetCopy did not release the old payload")
	}

	d := Int32(7)
	if err := r.SetMove(&d, &b); err != nil {
		t.Fatal(err)
	}
	if !b.IsNil() || d.Type() != meta.StringType {
		t.Errorf("SetMove: src %v dst %v", b.Type(), d.Type())
	}

	for _, v := range []*Variant{&a, &c, &d} {
		if err := r.Destruct(v); err != nil {
			t.Fatal(err)
		}
	}
	if r.refs.ActiveCount() != before {
		t.Errorf("leaked %d blocks", r.refs.ActiveCount()-before)
	}
}

func TestConstructDefault(t *testing.T) {
	r := newRegistry(t)
	v, err := r.ConstructDefault(meta.Int64Type)
	if err != nil || v.Type() != meta.Int64Type || v.Bits() != 0 {
		t.Errorf("default int64 = %v, %v", v, err)
	}
	if _, err := r.ConstructDefault(meta.Type(999)); !errors.Is(err, objerrors.ErrInvalidType) {
		t.Errorf("unknown type: %v", err)
	}
	var zero Variant
	if !zero.IsNil() || zero.Type() != meta.NilType {
		t.Error("zero variant is not nil")
	}
}

func TestNumericConversions(t *testing.T) {
	r := newRegistry(t)
	tests := []struct {
		name string
		in   Variant
		to   meta.Type
		want any
	}{
		{"negative to u8", Int32(-1), meta.Uint8Type, uint8(255)},
		{"u8 widens", Uint8(200), meta.Int16Type, int16(200)},
		{"double truncates", Double(3.9), meta.Int32Type, int32(3)},
		{"negative double", Double(-3.9), meta.Int64Type, int64(-3)},
		{"narrow drops high bits", Int64(1 << 40), meta.Int32Type, int32(0)},
		{"signed to double", Int16(-2), meta.DoubleType, float64(-2)},
		{"zero is false", Uint32(0), meta.BoolType, false},
		{"half is true", Float(0.5), meta.BoolType, true},
		{"bool to int", Bool(true), meta.Uint64Type, uint64(1)},
		{"char to u32", Char('A'), meta.Uint32Type, uint32(65)},
		{"double to float", Double(1.5), meta.FloatType, float32(1.5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := r.Convert(&tt.in, tt.to)
			if err != nil {
				t.Fatal(err)
			}
			if out.Type() != tt.to {
				t.Errorf("type = %s", r.types.Name(out.Type()))
			}
			got, _ := r.Interface(&out)
			if got != tt.want {
				t.Errorf("got %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestStringConversions(t *testing.T) {
	r := newRegistry(t)

	format := []struct {
		in   Variant
		want string
	}{
		{Int32(-42), "-42"},
		{Bool(true), "true"},
		{Char('é'), "é"},
		{Double(0.25), "0.25"},
		{Pointer(0x40), "0x40"},
		{TypeValue(meta.BoolType), "bool"},
	}
	for _, tt := range format {
		got, err := r.Format(&tt.in)
		if err != nil || got != tt.want {
			t.Errorf("Format(%s) = %q, %v; want %q", r.types.Name(tt.in.Type()), got, err, tt.want)
		}
	}

	parse := []struct {
		in   string
		to   meta.Type
		want any
	}{
		{"17", meta.Uint16Type, uint16(17)},
		{"-5", meta.Int16Type, int16(-5)},
		{"0x10", meta.Uint32Type, uint32(16)},
		{"2.5", meta.DoubleType, 2.5},
		{"true", meta.BoolType, true},
		{"z", meta.CharType, 'z'},
		{"string", meta.TypeType, meta.StringType},
	}
	for _, tt := range parse {
		s := mustString(t, r, tt.in)
		out, err := r.Convert(&s, tt.to)
		if err != nil {
			t.Errorf("parse %q: %v", tt.in, err)
			continue
		}
		if got, _ := r.Interface(&out); got != tt.want {
			t.Errorf("parse %q = %v, want %v", tt.in, got, tt.want)
		}
		_ = r.Destruct(&s)
	}

	for _, bad := range []struct {
		in string
		to meta.Type
	}{
		{"x", meta.Int32Type},
		{"300", meta.Uint8Type},
		{"ab", meta.CharType},
		{"NoSuchType", meta.TypeType},
	} {
		s := mustString(t, r, bad.in)
		if _, err := r.Convert(&s, bad.to); !errors.Is(err, objerrors.ErrInvalidConversion) {
			t.Errorf("parse %q to %s: %v", bad.in, r.types.Name(bad.to), err)
		}
		_ = r.Destruct(&s)
	}

	var empty Variant
	out, err := r.Convert(&empty, meta.StringType)
	if err != nil || out.Type() != meta.StringType {
		t.Errorf("nil to string = %v, %v", out.Type(), err)
	}
	if s, _ := r.StringOf(&out); s != "" {
		t.Errorf("nil to string = %q", s)
	}
}

func registerPalette(t *testing.T, r *Registry) (color, perm meta.Type) {
	t.Helper()
	color, err := r.types.RegisterEnum("Color", []meta.EnumValue{
		{Name: "red", Nick: "r", Value: 10},
		{Name: "green", Nick: "g", Value: 20},
		{Name: "blue", Nick: "b", Value: 40},
	})
	if err != nil {
		t.Fatal(err)
	}
	perm, err = r.types.RegisterFlags("Perm", []meta.EnumValue{
		{Name: "read", Nick: "r", Value: 1},
		{Name: "write", Nick: "w", Value: 2},
		{Name: "exec", Nick: "x", Value: 4},
	})
	if err != nil {
		t.Fatal(err)
	}
	return color, perm
}

func TestEnumConversions(t *testing.T) {
	r := newRegistry(t)
	color, perm := registerPalette(t, r)

	format := []struct {
		in   Variant
		want string
	}{
		{Enum(color, 20), "green"},
		{Flags(perm, 5), "read|exec"},
		{Flags(perm, 0), ""},
		{Enum(meta.EnumType, 7), "7"},
		{Flags(meta.FlagsType, 6), "6"},
	}
	for _, tt := range format {
		got, err := r.Format(&tt.in)
		if err != nil || got != tt.want {
			t.Errorf("Format(%s %d) = %q, %v; want %q", r.types.Name(tt.in.Type()), tt.in.Bits(), got, err, tt.want)
		}
	}
	undeclared := Enum(color, 11)
	if _, err := r.Format(&undeclared); !errors.Is(err, objerrors.ErrInvalidConversion) {
		t.Errorf("format undeclared value: %v", err)
	}

	parse := []struct {
		in   string
		to   meta.Type
		want uint32
	}{
		{"blue", color, 40},
		{"b", color, 40},
		{"20", color, 20},
		{"read|write", perm, 3},
		{"w | x", perm, 6},
		{"0x5", perm, 5},
		{"", perm, 0},
	}
	for _, tt := range parse {
		s := mustString(t, r, tt.in)
		out, err := r.Convert(&s, tt.to)
		_ = r.Destruct(&s)
		if err != nil {
			t.Errorf("parse %q: %v", tt.in, err)
			continue
		}
		if out.Type() != tt.to || uint32(out.Bits()) != tt.want {
			t.Errorf("parse %q = %s %d, want %d", tt.in, r.types.Name(out.Type()), out.Bits(), tt.want)
		}
	}

	for _, bad := range []struct {
		in string
		to meta.Type
	}{
		{"purple", color},
		{"11", color},
		{"read|delete", perm},
		{"8", perm},
	} {
		s := mustString(t, r, bad.in)
		if _, err := r.Convert(&s, bad.to); !errors.Is(err, objerrors.ErrInvalidConversion) {
			t.Errorf("parse %q to %s: %v", bad.in, r.types.Name(bad.to), err)
		}
		_ = r.Destruct(&s)
	}

	checks := []struct {
		in   Variant
		want bool
	}{
		{Enum(color, 10), true},
		{Enum(color, 11), false},
		{Flags(perm, 7), true},
		{Flags(perm, 9), false},
	}
	for _, tt := range checks {
		out, err := r.Convert(&tt.in, meta.BoolType)
		if err != nil {
			t.Fatal(err)
		}
		if got, _ := r.Interface(&out); got != tt.want {
			t.Errorf("%s %d valid = %v", r.types.Name(tt.in.Type()), tt.in.Bits(), got)
		}
	}

	raw := Enum(color, 40)
	if out, err := r.Convert(&raw, meta.Uint32Type); err != nil || out.Bits() != 40 {
		t.Errorf("enum to uint32 = %d, %v", out.Bits(), err)
	}
}

func TestEnumFieldBridge(t *testing.T) {
	r := newRegistry(t)
	color, perm := registerPalette(t, r)
	colorWit, _ := r.types.WitType(color)
	permWit, _ := r.types.WitType(perm)
	swatch, err := r.types.RegisterDerived("Swatch", meta.InstanceType, meta.TypeInfo{
		Fields: []meta.Field{
			{Name: "color", Type: colorWit},
			{Name: "perm", Type: permWit},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	inst, err := r.types.Create(swatch)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = inst.Destroy() }()

	set := func(name string, v Variant) error {
		defer func() { _ = r.Destruct(&v) }()
		return r.SetField(inst, name, &v)
	}
	if err := set("color", mustString(t, r, "g")); err != nil {
		t.Fatal(err)
	}
	if err := set("perm", mustString(t, r, "read|exec")); err != nil {
		t.Fatal(err)
	}
	if err := set("color", Uint32(11)); !errors.Is(err, objerrors.ErrInvalidArg) {
		t.Errorf("undeclared enum value: %v", err)
	}
	if err := set("color", mustString(t, r, "purple")); !errors.Is(err, objerrors.ErrInvalidConversion) {
		t.Errorf("unknown name: %v", err)
	}

	v, err := r.GetField(inst, "color")
	if err != nil {
		t.Fatal(err)
	}
	if v.Type() != color || v.Bits() != 20 {
		t.Errorf("color = %s %d", r.types.Name(v.Type()), v.Bits())
	}
	if s, err := r.Format(&v); err != nil || s != "green" {
		t.Errorf("format color = %q, %v", s, err)
	}

	v, err = r.GetField(inst, "perm")
	if err != nil {
		t.Fatal(err)
	}
	if v.Type() != perm || v.Bits() != 5 {
		t.Errorf("perm = %s %d", r.types.Name(v.Type()), v.Bits())
	}
}

func TestConverterParentChain(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	r := newRegistry(t, WithLogger(zap.New(core)))
	celsius, err := r.types.RegisterDerived("Celsius", meta.DoubleType, meta.TypeInfo{})
	if err != nil {
		t.Fatal(err)
	}
	temp := Variant{typ: celsius, bits: math.Float64bits(21.5)}

	if got, err := r.Format(&temp); err != nil || got != "21.5" {
		t.Errorf("inherited converter = %q, %v", got, err)
	}

	up, err := r.Convert(&temp, meta.DoubleType)
	if err != nil || up.Type() != meta.DoubleType {
		t.Errorf("upcast = %v, %v", up.Type(), err)
	}
	if !r.CanConvert(celsius, meta.Int32Type) || r.CanConvert(celsius, meta.OpaqueType) {
		t.Error("CanConvert disagrees with the converter table")
	}

	suffix := func(unit string) Converter {
		return func(r *Registry, src *Variant, _ meta.Type) (Variant, error) {
			return r.String(strconv.FormatFloat(math.Float64frombits(src.bits), 'f', 1, 64) + unit)
		}
	}
	count := r.ConverterCount()
	if err := r.RegisterConverter(celsius, meta.StringType, suffix("C")); err != nil {
		t.Fatal(err)
	}
	if got, _ := r.Format(&temp); got != "21.5C" {
		t.Errorf("derived converter = %q", got)
	}
	if err := r.RegisterConverter(celsius, meta.StringType, suffix(" degC")); err != nil {
		t.Fatal(err)
	}
	if got, _ := r.Format(&temp); got != "21.5 degC" {
		t.Errorf("last registration should win, got %q", got)
	}
	if r.ConverterCount() != count+1 {
		t.Errorf("ConverterCount = %d, want %d", r.ConverterCount(), count+1)
	}
	if logs.FilterMessage("overwrote existing converter").Len() != 1 {
		t.Errorf("expected one overwrite warning, got %d", logs.Len())
	}

	if err := r.UnregisterConverter(celsius, meta.StringType); err != nil {
		t.Fatal(err)
	}
	if got, _ := r.Format(&temp); got != "21.5" {
		t.Errorf("after unregister = %q", got)
	}
	if err := r.UnregisterConverter(celsius, meta.StringType); !errors.Is(err, objerrors.ErrNotFound) {
		t.Errorf("second unregister: %v", err)
	}
}

func TestConverterMustProduceTarget(t *testing.T) {
	r := newRegistry(t)
	_ = r.RegisterConverter(meta.OpaqueType, meta.Int32Type, func(*Registry, *Variant, meta.Type) (Variant, error) {
		return Bool(true), nil
	})
	v := r.Opaque(struct{}{})
	defer func() { _ = r.Destruct(&v) }()

	if _, err := r.Convert(&v, meta.Int32Type); !errors.Is(err, objerrors.ErrInvalidConversion) {
		t.Errorf("wrong output type: %v", err)
	}
	if _, err := r.Convert(&v, meta.CharType); !errors.Is(err, objerrors.ErrInvalidConversion) {
		t.Errorf("missing converter: %v", err)
	}
}

func TestCompare(t *testing.T) {
	r := newRegistry(t)

	a, b := Int32(-1), Int32(2)
	if n, err := r.Compare(&a, &b); err != nil || n != -1 {
		t.Errorf("Compare(-1, 2) = %d, %v", n, err)
	}
	x, y := mustString(t, r, "apple"), mustString(t, r, "banana")
	if n, _ := r.Compare(&y, &x); n != 1 {
		t.Errorf("Compare(banana, apple) = %d", n)
	}
	if eq, _ := r.Equal(&x, &x); !eq {
		t.Error("string not equal to itself")
	}
	nan := Double(math.NaN())
	if _, err := r.Compare(&nan, &nan); !errors.Is(err, objerrors.ErrIncomparable) {
		t.Errorf("NaN compare: %v", err)
	}

	n17, s17 := Int32(17), mustString(t, r, "17")
	if _, err := r.Compare(&n17, &s17); !errors.Is(err, objerrors.ErrIncomparable) {
		t.Fatalf("cross-type compare: %v", err)
	}
	err := r.RegisterComparator(meta.Int32Type, meta.StringType, func(r *Registry, a, b *Variant) (int, error) {
		s, _ := r.StringOf(b)
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, err
		}
		return compareSigned(r, a, &Variant{typ: meta.Int64Type, bits: uint64(int64(n))})
	})
	if err != nil {
		t.Fatal(err)
	}
	if eq, err := r.Equal(&n17, &s17); err != nil || !eq {
		t.Errorf("Equal(17, \"17\") = %v, %v", eq, err)
	}
	n20 := Int32(20)
	if n, _ := r.Compare(&s17, &n20); n != -1 {
		t.Errorf("swapped comparator = %d", n)
	}

	for _, v := range []*Variant{&x, &y, &s17} {
		_ = r.Destruct(v)
	}
}

func TestOpaqueHandles(t *testing.T) {
	r := newRegistry(t)
	type payload struct{ n int }

	v := r.Opaque(&payload{n: 3})
	cp, err := r.ConstructCopy(&v)
	if err != nil {
		t.Fatal(err)
	}
	if r.opaque.Len() != 1 {
		t.Fatalf("table len = %d", r.opaque.Len())
	}

	ptr, err := r.Convert(&v, meta.PointerType)
	if err != nil {
		t.Fatal(err)
	}
	back, err := r.Convert(&ptr, meta.OpaqueType)
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := r.OpaqueOf(&back); got.(*payload).n != 3 {
		t.Errorf("round trip lost the value")
	}
	bogus := Pointer(999)
	if _, err := r.Convert(&bogus, meta.OpaqueType); !errors.Is(err, objerrors.ErrInvalidConversion) {
		t.Errorf("bogus pointer: %v", err)
	}

	_ = r.Destruct(&v)
	_ = r.Destruct(&back)
	got, err := r.TakeOpaque(&cp)
	if err != nil || got.(*payload).n != 3 {
		t.Errorf("TakeOpaque = %v, %v", got, err)
	}
	if r.opaque.Len() != 0 {
		t.Errorf("opaque handles leaked: %d", r.opaque.Len())
	}
}

func TestInstanceVariants(t *testing.T) {
	r := newRegistry(t)
	counted, err := r.types.RegisterDerived("Counted", meta.BoxType, meta.TypeInfo{})
	if err != nil {
		t.Fatal(err)
	}
	inst, err := r.types.Create(counted)
	if err != nil {
		t.Fatal(err)
	}

	v, err := r.Instance(inst)
	if err != nil {
		t.Fatal(err)
	}
	if inst.RefCount() != 2 || v.Type() != counted {
		t.Fatalf("refcount %d, type %s", inst.RefCount(), r.types.Name(v.Type()))
	}

	ptr, err := r.Convert(&v, meta.PointerType)
	if err != nil || uint32(ptr.Bits()) != inst.Addr() {
		t.Fatalf("instance to pointer = %x, %v", ptr.Bits(), err)
	}
	back, err := r.Convert(&ptr, meta.InstanceType)
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := r.InstanceOf(&back); got != inst || inst.RefCount() != 3 {
		t.Errorf("pointer to instance: %v, refcount %d", got, inst.RefCount())
	}
	ok, _ := r.Convert(&v, meta.BoolType)
	if ok.Bits() != 1 {
		t.Error("live instance converts to false")
	}

	var empty Variant
	null, err := r.Convert(&empty, meta.InstanceType)
	if err != nil || null.Type() != meta.InstanceType {
		t.Errorf("nil to instance = %v, %v", null.Type(), err)
	}
	if got, _ := r.InstanceOf(&null); got != nil {
		t.Error("empty instance variant holds an instance")
	}

	_ = r.Destruct(&back)
	taken, err := r.TakeInstance(&v)
	if err != nil || taken != inst || !v.IsNil() {
		t.Fatalf("TakeInstance = %v, %v", taken, err)
	}
	if inst.RefCount() != 2 {
		t.Errorf("refcount after take = %d", inst.RefCount())
	}
	_ = inst.Unref()
	if err := inst.Unref(); err != nil {
		t.Fatal(err)
	}
	if !inst.IsDestroyed() {
		t.Error("box outlived its last reference")
	}
}

func TestFieldBridge(t *testing.T) {
	r := newRegistry(t)
	rec, err := r.types.RegisterDerived("Record", meta.InstanceType, meta.TypeInfo{
		Fields: []meta.Field{
			{Name: "temp", Type: wit.S8{}},
			{Name: "level", Type: wit.U8{}},
			{Name: "grade", Type: wit.Char{}},
			{Name: "name", Type: wit.String{}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	inst, err := r.types.Create(rec)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = inst.Destroy() }()

	set := func(name string, v Variant) error {
		defer func() { _ = r.Destruct(&v) }()
		return r.SetField(inst, name, &v)
	}
	if err := set("temp", Int32(-5)); err != nil {
		t.Fatal(err)
	}
	if err := set("level", Int32(300)); err != nil {
		t.Fatal(err)
	}
	if err := set("grade", Char('B')); err != nil {
		t.Fatal(err)
	}
	if err := set("name", mustString(t, r, "Ada")); err != nil {
		t.Fatal(err)
	}
	if err := set("temp", Int32(200)); !errors.Is(err, objerrors.ErrInvalidArg) {
		t.Errorf("s8 overflow: %v", err)
	}
	if err := set("missing", Int32(1)); !errors.Is(err, objerrors.ErrNotFound) {
		t.Errorf("unknown field: %v", err)
	}

	tests := []struct {
		field string
		typ   meta.Type
		want  any
	}{
		{"temp", meta.Int16Type, int16(-5)},
		{"level", meta.Uint8Type, uint8(44)},
		{"grade", meta.CharType, 'B'},
		{"name", meta.StringType, "Ada"},
	}
	for _, tt := range tests {
		v, err := r.GetField(inst, tt.field)
		if err != nil {
			t.Errorf("GetField(%s): %v", tt.field, err)
			continue
		}
		got, _ := r.Interface(&v)
		if v.Type() != tt.typ || got != tt.want {
			t.Errorf("%s = %v (%s), want %v", tt.field, got, r.types.Name(v.Type()), tt.want)
		}
		_ = r.Destruct(&v)
	}
}

func TestFromAny(t *testing.T) {
	r := newRegistry(t)
	tests := []struct {
		in   any
		want any
		typ  meta.Type
	}{
		{nil, nil, meta.NilType},
		{true, true, meta.BoolType},
		{int8(-3), int16(-3), meta.Int16Type},
		{uint16(7), uint16(7), meta.Uint16Type},
		{42, int64(42), meta.Int64Type},
		{float32(1.5), float32(1.5), meta.FloatType},
		{"hi", "hi", meta.StringType},
		{meta.StringType, meta.StringType, meta.TypeType},
	}
	for _, tt := range tests {
		v, err := r.FromAny(tt.in)
		if err != nil {
			t.Fatalf("FromAny(%v): %v", tt.in, err)
		}
		got, _ := r.Interface(&v)
		if v.Type() != tt.typ || got != tt.want {
			t.Errorf("FromAny(%v) = %v (%s)", tt.in, got, r.types.Name(v.Type()))
		}
		_ = r.Destruct(&v)
	}

	v, _ := r.FromAny([]int{1, 2})
	if v.Type() != meta.OpaqueType {
		t.Errorf("slice stored as %s", r.types.Name(v.Type()))
	}
	_ = r.Destruct(&v)
}
