package meta

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"go.bytecodealliance.org/wit"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	objerrors "github.com/wippyai/objrt/errors"
	"github.com/wippyai/objrt/heap"
)

type widgetTypes struct {
	object, drawable, widget Type
}

func registerWidget(t *testing.T, r *Registry) widgetTypes {
	t.Helper()
	var w widgetTypes
	w.object = mustDerive(t, r, "Object", InstanceType, TypeInfo{
		ClassSize:    ClassHeaderSize,
		InstanceSize: 8,
	})
	w.drawable = mustDerive(t, r, "Drawable", InterfaceType, TypeInfo{
		ClassSize:    SlotOffset(1),
		Dependencies: []Type{w.object},
	})
	w.widget = mustDerive(t, r, "Widget", w.object, TypeInfo{
		ClassSize:  24,
		Interfaces: []InterfaceImpl{{Interface: w.drawable, Offset: 8}},
		Fields: []Field{
			{Name: "width", Type: wit.U32{}, Constructible: true},
			{Name: "height", Type: wit.U32{}, Constructible: true},
		},
		ClassInit: func(c Class) error {
			ic, err := c.Interface(w.drawable)
			if err != nil {
				return err
			}
			return ic.SetMethod(SlotOffset(0), Func(func(self *Instance, args ...any) (any, error) {
				wd, _ := self.Field("width")
				ht, _ := self.Field("height")
				return fmt.Sprintf("%s %dx%d", args[0], wd, ht), nil
			}))
		},
	})
	return w
}

func TestWidgetDrawable(t *testing.T) {
	r := newRegistry(t)
	w := registerWidget(t, r)

	we := r.entry(w.widget)
	if r.entry(w.object).instanceSize != 8 || we.instanceSize != 16 || we.classSize != 24 {
		t.Fatalf("sizes: object %d, widget %d/%d", r.entry(w.object).instanceSize, we.instanceSize, we.classSize)
	}
	if off, ok := r.InterfaceOffset(w.widget, w.drawable); !ok || off != 8 {
		t.Fatalf("InterfaceOffset = %d, %v", off, ok)
	}
	if !r.Implements(w.widget, w.drawable) {
		t.Error("Widget should implement Drawable")
	}

	inst, err := r.Create(w.widget, Arg{Name: "width", Value: 640}, Arg{Name: "height", Value: uint32(480)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	out, err := r.Call(inst, w.drawable, 0, "screen")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out != "screen 640x480" {
		t.Errorf("Call = %v", out)
	}
	if r.ClassRefCount(w.widget) != 1 || r.InstanceCount(w.widget) != 1 {
		t.Errorf("refs = %d, instances = %d", r.ClassRefCount(w.widget), r.InstanceCount(w.widget))
	}

	ic, _ := inst.Interface(w.drawable)
	if !ic.IsInterfaceImpl() || ic.Addr() != inst.Class().Addr()+8 {
		t.Errorf("vtable at %d, class at %d", ic.Addr(), inst.Class().Addr())
	}
	back, err := ic.Cast(w.object)
	if err != nil || back.Addr() != inst.Class().Addr() {
		t.Errorf("vtable cast back: %v", err)
	}
	if _, err := inst.Class().Cast(StringType); !errors.Is(err, objerrors.ErrTypeMismatch) {
		t.Errorf("bad cast: %v", err)
	}
	if got, ok := inst.As(w.drawable); !ok || got != inst {
		t.Error("As rejected an implemented interface")
	}
	if _, ok := inst.As(StringType); ok {
		t.Error("As accepted an unrelated type")
	}

	if err := inst.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if r.ClassRefCount(w.widget) != 0 || r.ClassRefCount(w.object) != 0 || r.ClassRefCount(w.drawable) != 0 {
		t.Error("class references leaked")
	}
	if _, ok := r.PeekClass(w.widget); ok {
		t.Error("unpinned class survived")
	}
	if r.Funcs().Len() != 0 {
		t.Errorf("%d function handles leaked", r.Funcs().Len())
	}
}

func TestInterfaceDependency(t *testing.T) {
	r := newRegistry(t)
	w := registerWidget(t, r)

	_, err := r.RegisterDerived("Stray", InstanceType, TypeInfo{
		ClassSize:  SlotOffset(1) + ClassHeaderSize,
		Interfaces: []InterfaceImpl{{Interface: w.drawable, Offset: ClassHeaderSize}},
	})
	if !errors.Is(err, objerrors.ErrInvalidType) {
		t.Errorf("missing dependency: %v", err)
	}
}

func TestInterfaceSlotErrors(t *testing.T) {
	r := newRegistry(t)
	i1 := mustDerive(t, r, "I1", InterfaceType, TypeInfo{ClassSize: SlotOffset(1)})
	i2 := mustDerive(t, r, "I2", InterfaceType, TypeInfo{ClassSize: SlotOffset(1)})
	base := mustDerive(t, r, "Base", InstanceType, TypeInfo{
		ClassSize:  32,
		Interfaces: []InterfaceImpl{{Interface: i1, Offset: 8}},
	})

	tests := []struct {
		name string
		info TypeInfo
	}{
		{"inside parent", TypeInfo{ClassSize: 48, Interfaces: []InterfaceImpl{{Interface: i2, Offset: 16}}}},
		{"past end", TypeInfo{ClassSize: 40, Interfaces: []InterfaceImpl{{Interface: i2, Offset: 32}}}},
		{"unaligned", TypeInfo{ClassSize: 64, Interfaces: []InterfaceImpl{{Interface: i2, Offset: 34}}}},
		{"reimplemented", TypeInfo{ClassSize: 64, Interfaces: []InterfaceImpl{{Interface: i1, Offset: 32}}}},
		{"overlap", TypeInfo{ClassSize: 96, Interfaces: []InterfaceImpl{
			{Interface: i2, Offset: 32},
			{Interface: ITableType, Offset: 40},
		}}},
		{"not an interface", TypeInfo{ClassSize: 64, Interfaces: []InterfaceImpl{{Interface: base, Offset: 32}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.RegisterDerived("Derived", base, tt.info)
			if !errors.Is(err, objerrors.ErrInterfaceSlot) {
				t.Errorf("got %v, want InterfaceSlot", err)
			}
		})
	}
}

func TestInitOrder(t *testing.T) {
	r := newRegistry(t)
	var log []string
	level := func(name string) TypeInfo {
		return TypeInfo{
			ClassInit:     func(Class) error { log = append(log, "class:"+name); return nil },
			ClassFinal:    func(Class) error { log = append(log, "classfinal:"+name); return nil },
			InstanceInit:  func(*Instance, []Arg) error { log = append(log, "init:"+name); return nil },
			InstanceFinal: func(*Instance) error { log = append(log, "final:"+name); return nil },
		}
	}
	a := mustDerive(t, r, "A", InstanceType, level("A"))
	b := mustDerive(t, r, "B", a, level("B"))
	c := mustDerive(t, r, "C", b, level("C"))

	inst, err := r.CreateWith(c, CreateOptions{Destructor: func(*Instance) { log = append(log, "dtor") }})
	if err != nil {
		t.Fatal(err)
	}
	if err := inst.Destroy(); err != nil {
		t.Fatal(err)
	}

	want := "class:A class:A class:B class:A class:B class:C " +
		"init:A init:B init:C final:C final:B final:A dtor " +
		"classfinal:C classfinal:B classfinal:A classfinal:B classfinal:A classfinal:A"
	if got := strings.Join(log, " "); got != want {
		t.Errorf("order:\n got %s\nwant %s", got, want)
	}
}

func TestInitFailureUnwinds(t *testing.T) {
	r := newRegistry(t)
	var finals []string
	a := mustDerive(t, r, "A", InstanceType, TypeInfo{
		Fields:        []Field{{Name: "label", Type: wit.String{}, Constructible: true}},
		InstanceFinal: func(*Instance) error { finals = append(finals, "A"); return nil },
	})
	b := mustDerive(t, r, "B", a, TypeInfo{
		InstanceInit:  func(*Instance, []Arg) error { return errors.New("refused") },
		InstanceFinal: func(*Instance) error { finals = append(finals, "B"); return nil },
	})
	inUse := r.Allocator().(*heap.FreeList).InUse()

	_, err := r.Create(b, Arg{Name: "label", Value: "hello"})
	if !errors.Is(err, objerrors.ErrInitFailed) {
		t.Fatalf("Create = %v, want InitFailed", err)
	}
	if len(finals) != 1 || finals[0] != "A" {
		t.Errorf("finals = %v", finals)
	}
	if r.ClassRefCount(b) != 0 || r.InstanceCount(b) != 0 || r.LiveInstances() != 0 {
		t.Error("failed create left state behind")
	}
	if got := r.Allocator().(*heap.FreeList).InUse(); got != inUse {
		t.Errorf("heap in use %d, was %d", got, inUse)
	}
}

func TestCreateErrors(t *testing.T) {
	r := newRegistry(t)
	iface := mustDerive(t, r, "Iface", InterfaceType, TypeInfo{})
	abstract := mustDerive(t, r, "Abstract", InstanceType, TypeInfo{Flags: FlagAbstract})
	plain := mustDerive(t, r, "Plain", InstanceType, TypeInfo{
		Fields: []Field{{Name: "hidden", Type: wit.U8{}}},
	})

	tests := []struct {
		name string
		typ  Type
		args []Arg
		want *objerrors.Error
	}{
		{"interface", iface, nil, objerrors.ErrCannotInstantiateInterface},
		{"abstract", abstract, nil, objerrors.ErrCannotInstantiateAbstract},
		{"value type", Int32Type, nil, objerrors.ErrInvalidType},
		{"unknown", Type(500), nil, objerrors.ErrInvalidType},
		{"unknown arg", plain, []Arg{{Name: "nope", Value: 1}}, objerrors.ErrInvalidArg},
		{"not constructible", plain, []Arg{{Name: "hidden", Value: 1}}, objerrors.ErrInvalidArg},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Create(tt.typ, tt.args...)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %s", err, tt.want.Kind)
			}
		})
	}
}

func TestFields(t *testing.T) {
	r := newRegistry(t)
	id := mustDerive(t, r, "Rec", InstanceType, TypeInfo{
		Fields: []Field{
			{Name: "ok", Type: wit.Bool{}},
			{Name: "small", Type: wit.S8{}},
			{Name: "count", Type: wit.U16{}},
			{Name: "ratio", Type: wit.F64{}},
			{Name: "name", Type: wit.String{}, Constructible: true},
		},
	})
	inst, err := r.Create(id, Arg{Name: "name", Value: "first"})
	if err != nil {
		t.Fatal(err)
	}
	defer inst.Destroy()

	if v, _ := inst.Field("name"); v != "first" {
		t.Errorf("name = %v", v)
	}
	if err := inst.SetField("name", "second"); err != nil {
		t.Fatal(err)
	}
	if v, _ := inst.Field("name"); v != "second" {
		t.Errorf("name = %v", v)
	}
	if err := inst.SetField("small", -5); err != nil {
		t.Fatal(err)
	}
	if v, _ := inst.Field("small"); v != int8(-5) {
		t.Errorf("small = %v (%T)", v, v)
	}
	if err := inst.SetField("ratio", float32(0.5)); err != nil {
		t.Fatal(err)
	}
	if v, _ := inst.Field("ratio"); v != 0.5 {
		t.Errorf("ratio = %v", v)
	}
	if err := inst.SetField("ok", true); err != nil {
		t.Fatal(err)
	}
	if v, _ := inst.Field("ok"); v != true {
		t.Errorf("ok = %v", v)
	}

	if err := inst.SetField("small", 200); !errors.Is(err, objerrors.ErrInvalidArg) {
		t.Errorf("s8 overflow: %v", err)
	}
	if err := inst.SetField("count", -1); !errors.Is(err, objerrors.ErrTypeMismatch) {
		t.Errorf("negative u16: %v", err)
	}
	if err := inst.SetField("ok", 1); !errors.Is(err, objerrors.ErrTypeMismatch) {
		t.Errorf("int into bool: %v", err)
	}
	if _, err := inst.Field("missing"); !errors.Is(err, objerrors.ErrNotFound) {
		t.Errorf("missing field: %v", err)
	}
}

func TestPrivateData(t *testing.T) {
	r := newRegistry(t)
	a := mustDerive(t, r, "A", InstanceType, TypeInfo{PrivateSize: 4})
	b := mustDerive(t, r, "B", a, TypeInfo{PrivateSize: 16})
	none := mustDerive(t, r, "None", InstanceType, TypeInfo{})

	if off, _ := r.PrivateOffset(a); off != -8 {
		t.Errorf("A private offset = %d", off)
	}
	if off, _ := r.PrivateOffset(b); off != -24 {
		t.Errorf("B private offset = %d", off)
	}

	inst, err := r.Create(b)
	if err != nil {
		t.Fatal(err)
	}
	defer inst.Destroy()

	pa, err := inst.Private(a)
	if err != nil || pa != inst.Addr()-8 {
		t.Errorf("Private(A) = %d, %v", pa, err)
	}
	pb, _ := inst.Private(b)
	if pb != inst.Addr()-24 {
		t.Errorf("Private(B) = %d", pb)
	}
	if pub, _ := r.PublicFromPrivate(b, pb); pub != inst.Addr() {
		t.Errorf("PublicFromPrivate = %d", pub)
	}
	if err := r.Memory().WriteU32(pb, 7); err != nil {
		t.Errorf("write private: %v", err)
	}

	other, _ := r.Create(none)
	defer other.Destroy()
	if _, err := other.Private(none); !errors.Is(err, objerrors.ErrNoPrivateData) {
		t.Errorf("Private without data: %v", err)
	}
	if _, err := other.Private(a); !errors.Is(err, objerrors.ErrTypeMismatch) {
		t.Errorf("Private of unrelated level: %v", err)
	}
}

func TestDoubleFree(t *testing.T) {
	r := newRegistry(t)
	a := mustDerive(t, r, "A", InstanceType, TypeInfo{})
	inst, _ := r.Create(a)

	if err := inst.Destroy(); err != nil {
		t.Fatal(err)
	}
	if err := inst.Destroy(); !errors.Is(err, objerrors.ErrDoubleFree) {
		t.Errorf("second Destroy = %v", err)
	}
	if _, err := inst.Field("x"); !errors.Is(err, objerrors.ErrInvalidHandle) {
		t.Errorf("use after destroy = %v", err)
	}
	if _, ok := r.InstanceAt(inst.Addr()); ok {
		t.Error("destroyed instance still resolvable")
	}
}

func TestBoxLifetime(t *testing.T) {
	r := newRegistry(t)
	failFinal := true
	id := mustDerive(t, r, "Counted", BoxType, TypeInfo{
		InstanceFinal: func(*Instance) error {
			if failFinal {
				return errors.New("busy")
			}
			return nil
		},
	})
	inst, err := r.Create(id)
	if err != nil {
		t.Fatal(err)
	}
	if !inst.IsBox() || inst.RefCount() != 1 {
		t.Fatalf("box refcount = %d", inst.RefCount())
	}
	if got, ok := r.InstanceAt(inst.Addr()); !ok || got != inst {
		t.Error("InstanceAt did not resolve the box")
	}

	_ = inst.Ref()
	if err := inst.Destroy(); !errors.Is(err, objerrors.ErrInvalidOperation) {
		t.Errorf("Destroy with 2 refs = %v", err)
	}
	_ = inst.Unref()

	if err := inst.Unref(); !errors.Is(err, objerrors.ErrDestructorFailed) {
		t.Fatalf("failing final = %v", err)
	}
	if inst.IsDestroyed() || inst.RefCount() != 1 {
		t.Fatalf("instance should survive a failed final, refs %d", inst.RefCount())
	}

	failFinal = false
	if err := inst.Unref(); err != nil {
		t.Fatalf("Unref: %v", err)
	}
	if err := inst.Unref(); !errors.Is(err, objerrors.ErrDoubleFree) {
		t.Errorf("Unref after destroy = %v", err)
	}
	if r.Tracker().ActiveCount() != 0 {
		t.Errorf("%d tracker blocks alive", r.Tracker().ActiveCount())
	}

	plain := mustDerive(t, r, "Plain", InstanceType, TypeInfo{})
	p, _ := r.Create(plain)
	if err := p.Ref(); !errors.Is(err, objerrors.ErrInvalidOperation) {
		t.Errorf("Ref on plain instance = %v", err)
	}
	_ = p.Destroy()
}

func TestInterfaceSlotDeterminism(t *testing.T) {
	r := newRegistry(t)
	w := registerWidget(t, r)
	inst, err := r.Create(w.widget, Arg{Name: "width", Value: 3}, Arg{Name: "height", Value: 4})
	if err != nil {
		t.Fatal(err)
	}
	defer inst.Destroy()

	slot := func() uint32 {
		t.Helper()
		ic, err := inst.Interface(w.drawable)
		if err != nil {
			t.Fatalf("Interface: %v", err)
		}
		h, err := ic.ReadU32(SlotOffset(0))
		if err != nil || h == 0 {
			t.Fatalf("slot handle = %d, %v", h, err)
		}
		return h
	}

	first, second := slot(), slot()
	if first != second {
		t.Errorf("slot handle changed between lookups: %d, %d", first, second)
	}
	a, _ := r.Call(inst, w.drawable, 0, "x")
	b, _ := r.Call(inst, w.drawable, 0, "x")
	if a != "x 3x4" || a != b {
		t.Errorf("repeated calls = %v, %v", a, b)
	}

	fc, err := r.CreateFloatingClass(w.widget)
	if err != nil {
		t.Fatal(err)
	}
	ic, _ := fc.Interface(w.drawable)
	if err := ic.SetMethod(SlotOffset(0), Func(func(*Instance, ...any) (any, error) {
		return "swapped", nil
	})); err != nil {
		t.Fatal(err)
	}
	if out, _ := r.Call(inst, w.drawable, 0, "x"); out != "x 3x4" {
		t.Errorf("unrelated floating class changed dispatch: %v", out)
	}
	if err := inst.SwizzleClass(fc); err != nil {
		t.Fatal(err)
	}
	if err := inst.SinkClass(); err != nil {
		t.Fatal(err)
	}
	if slot() == first {
		t.Error("slot handle unchanged after swizzle")
	}
	if out, _ := r.Call(inst, w.drawable, 0, "x"); out != "swapped" {
		t.Errorf("after swizzle Call = %v", out)
	}
}

func TestFloatingClassSwizzle(t *testing.T) {
	r := newRegistry(t)
	w := registerWidget(t, r)

	inst, err := r.Create(w.widget, Arg{Name: "width", Value: 1}, Arg{Name: "height", Value: 2})
	if err != nil {
		t.Fatal(err)
	}

	fc, err := r.CreateFloatingClass(w.widget)
	if err != nil {
		t.Fatal(err)
	}
	if !fc.IsFloating() || fc.IsDefault() {
		t.Fatal("new class should be floating")
	}
	ic, _ := fc.Interface(w.drawable)
	_ = ic.SetMethod(SlotOffset(0), Func(func(self *Instance, args ...any) (any, error) {
		return "custom", nil
	}))

	if err := inst.SwizzleClass(fc); err != nil {
		t.Fatalf("Swizzle: %v", err)
	}
	if err := inst.SinkClass(); err != nil {
		t.Fatalf("Sink: %v", err)
	}
	if out, _ := r.Call(inst, w.drawable, 0, "x"); out != "custom" {
		t.Errorf("after swizzle Call = %v", out)
	}
	if err := r.DestroyFloatingClass(fc); !errors.Is(err, objerrors.ErrInvalidOperation) {
		t.Errorf("destroying owned class = %v", err)
	}

	plain := mustDerive(t, r, "Plain", InstanceType, TypeInfo{})
	pc, _ := r.RefClass(plain)
	if err := inst.SwizzleClass(pc); !errors.Is(err, objerrors.ErrTypeMismatch) {
		t.Errorf("swizzle to unrelated class = %v", err)
	}
	_ = r.UnrefClass(plain)

	if err := inst.Destroy(); err != nil {
		t.Fatal(err)
	}
	if r.ClassRefCount(w.widget) != 0 {
		t.Errorf("widget class refs = %d", r.ClassRefCount(w.widget))
	}
	if r.Funcs().Len() != 0 {
		t.Errorf("%d function handles leaked", r.Funcs().Len())
	}
}

func TestFloatClass(t *testing.T) {
	r := newRegistry(t)
	a := mustDerive(t, r, "A", InstanceType, TypeInfo{})
	fc, _ := r.CreateFloatingClass(a)
	inst, err := r.CreateWith(a, CreateOptions{Class: fc})
	if err != nil {
		t.Fatal(err)
	}
	if !inst.Class().IsOwned() {
		t.Fatal("class not sunk at creation")
	}
	c, err := inst.FloatClass()
	if err != nil || !c.IsFloating() {
		t.Fatalf("FloatClass: %v", err)
	}
	def, _ := r.RefClass(a)
	if err := inst.SwizzleClass(def); err != nil {
		t.Fatal(err)
	}
	_ = r.UnrefClass(a)
	if err := r.DestroyFloatingClass(c); err != nil {
		t.Fatalf("DestroyFloatingClass: %v", err)
	}
	_ = inst.Destroy()
	if r.ClassRefCount(a) != 0 {
		t.Errorf("refs = %d", r.ClassRefCount(a))
	}
}

func TestDispatchFallbacks(t *testing.T) {
	r := newRegistry(t)
	defaults := mustDerive(t, r, "Greeter", InterfaceType, TypeInfo{
		ClassSize: SlotOffset(2),
		ClassInit: func(c Class) error {
			if c.IsInterfaceImpl() {
				return nil
			}
			return c.SetMethod(SlotOffset(0), Func(func(*Instance, ...any) (any, error) { return "hi", nil }))
		},
	})
	impl := mustDerive(t, r, "Impl", InstanceType, TypeInfo{
		ClassSize: 64,
		Interfaces: []InterfaceImpl{
			{Interface: defaults, Offset: 8},
			{Interface: ITableType, Offset: 32},
		},
		ClassInit: func(c Class) error {
			ic, _ := c.Interface(defaults)
			return ic.SetMethod(SlotOffset(1), "not a func")
		},
	})
	inst, err := r.Create(impl)
	if err != nil {
		t.Fatal(err)
	}
	defer inst.Destroy()

	if out, err := r.Call(inst, defaults, 0); err != nil || out != "hi" {
		t.Errorf("default method = %v, %v", out, err)
	}
	if _, err := r.Call(inst, defaults, 1); !errors.Is(err, objerrors.ErrTypeMismatch) {
		t.Errorf("non-func slot = %v", err)
	}
	if _, err := r.Call(inst, StringType, 0); err == nil {
		t.Error("call through non-interface succeeded")
	}

	if n, err := r.TableCount(inst); err != nil || n != 0 {
		t.Errorf("TableCount = %d, %v", n, err)
	}
	if _, err := r.TableIndex(inst, "k"); !errors.Is(err, objerrors.ErrNotFound) {
		t.Errorf("TableIndex = %v", err)
	}
	if err := r.TableSetIndex(inst, "k", 1); !errors.Is(err, objerrors.ErrInvalidOperation) {
		t.Errorf("TableSetIndex = %v", err)
	}
	if k, err := r.TableNext(inst, nil); k != nil || err != nil {
		t.Errorf("TableNext = %v, %v", k, err)
	}

	empty := mustDerive(t, r, "Empty", InterfaceType, TypeInfo{ClassSize: SlotOffset(1)})
	impl2 := mustDerive(t, r, "Impl2", InstanceType, TypeInfo{
		ClassSize:  24,
		Interfaces: []InterfaceImpl{{Interface: empty, Offset: 8}},
	})
	inst2, _ := r.Create(impl2)
	defer inst2.Destroy()
	if _, err := r.Call(inst2, empty, 0); !errors.Is(err, objerrors.ErrUnimplementedVirtual) {
		t.Errorf("empty slot = %v", err)
	}
	if _, err := r.Call(inst2, defaults, 0); !errors.Is(err, objerrors.ErrInterfaceNotImplemented) {
		t.Errorf("unimplemented interface = %v", err)
	}
}

func TestObserverEvents(t *testing.T) {
	r := newRegistry(t)
	a := mustDerive(t, r, "A", InstanceType, TypeInfo{})

	rec := &recorder{}
	r.Subscribe(rec)
	inst, _ := r.Create(a)
	_ = inst.Destroy()
	r.Unsubscribe(rec)
	inst, _ = r.Create(a)
	_ = inst.Destroy()

	if len(rec.events) != 2 || rec.events[0] != EventInstanceCreated || rec.events[1] != EventInstanceDestroying {
		t.Errorf("events = %v", rec.events)
	}
}

type recorder struct{ events []InstanceEventType }

func (r *recorder) OnInstanceEvent(ev InstanceEvent) { r.events = append(r.events, ev.Type) }

func TestRegistryLogging(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	mem := heap.NewLinear(1, 0)
	r, err := New(mem, heap.NewFreeList(mem), WithLogger(zap.New(core)))
	if err != nil {
		t.Fatal(err)
	}
	_, _ = r.RegisterDerived("instance", InstanceType, TypeInfo{})

	if logs.FilterMessage("type registration failed").Len() != 1 {
		t.Errorf("expected registration warning, got %v", logs.All())
	}
}
