package signal

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/objrt/closure"
	objerrors "github.com/wippyai/objrt/errors"
	"github.com/wippyai/objrt/heap"
	"github.com/wippyai/objrt/meta"
	"github.com/wippyai/objrt/variant"
)

const onClickSlot = meta.ClassHeaderSize

type fixture struct {
	vars   *variant.Registry
	reg    *meta.Registry
	table  *Table
	widget meta.Type
	button meta.Type
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	mem := heap.NewLinear(2, 0)
	reg, err := meta.New(mem, heap.NewFreeList(mem))
	if err != nil {
		t.Fatalf("meta.New: %v", err)
	}
	f := &fixture{reg: reg, vars: variant.New(reg)}
	f.table = New(f.vars, opts...)
	t.Cleanup(func() { f.table.Close() })

	f.widget, err = reg.RegisterDerived("Widget", meta.InstanceType, meta.TypeInfo{
		ClassSize: meta.ClassHeaderSize + meta.PointerSize,
		ClassInit: func(c meta.Class) error {
			return c.SetMethod(onClickSlot, meta.Func(func(self *meta.Instance, args ...any) (any, error) {
				self.SetUserdata(fmt.Sprintf("widget %v", args))
				return nil, nil
			}))
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	f.button, err = reg.RegisterDerived("Button", f.widget, meta.TypeInfo{
		ClassInit: func(c meta.Class) error {
			return c.SetMethod(onClickSlot, meta.Func(func(self *meta.Instance, args ...any) (any, error) {
				self.SetUserdata(fmt.Sprintf("button %v", args))
				return nil, nil
			}))
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.table.Install(f.widget, "clicked", meta.Int32Type, meta.StringType); err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) create(t *testing.T, typ meta.Type) *meta.Instance {
	t.Helper()
	inst, err := f.reg.Create(typ)
	if err != nil {
		t.Fatal(err)
	}
	return inst
}

func TestInstall(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	f := newFixture(t, WithLogger(zap.New(core)))

	info, ok := f.table.Lookup(f.button, "clicked")
	if !ok || info.Owner != f.widget || len(info.ArgTypes) != 2 {
		t.Fatalf("inherited lookup = %+v, %v", info, ok)
	}
	if _, ok := f.table.Lookup(f.widget, "pressed"); ok {
		t.Error("unknown signal found")
	}

	if err := f.table.Install(f.widget, "clicked", meta.Int32Type); err != nil {
		t.Fatal(err)
	}
	if logs.FilterMessage("overwrote existing signal").Len() != 1 {
		t.Error("reinstall was not logged")
	}
	if info, _ := f.table.Lookup(f.widget, "clicked"); len(info.ArgTypes) != 1 {
		t.Errorf("reinstall kept %d argument types", len(info.ArgTypes))
	}

	if err := f.table.Install(f.widget, ""); !errors.Is(err, objerrors.ErrInvalidArg) {
		t.Errorf("empty name: %v", err)
	}
	if err := f.table.Install(meta.Type(9999), "x"); !errors.Is(err, objerrors.ErrInvalidType) {
		t.Errorf("unknown owner: %v", err)
	}

	if err := f.table.Uninstall(f.widget, "clicked"); err != nil {
		t.Fatal(err)
	}
	if err := f.table.Uninstall(f.widget, "clicked"); !errors.Is(err, objerrors.ErrNotFound) {
		t.Errorf("second uninstall: %v", err)
	}

	_ = f.table.Install(f.button, "a")
	_ = f.table.Install(f.button, "b")
	if n := len(f.table.Signals(f.button)); n != 2 {
		t.Errorf("signals on button = %d", n)
	}
	if n := f.table.UninstallAll(f.button); n != 2 {
		t.Errorf("uninstall all = %d", n)
	}
}

func TestConnectAndEmit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	emitter := f.create(t, f.widget)
	receiver := f.create(t, f.widget)
	defer func() { _ = emitter.Destroy() }()
	defer func() { _ = receiver.Destroy() }()

	type call struct {
		recv    *meta.Instance
		n       int32
		label   string
		emitter *meta.Instance
	}
	var calls []call
	_, err := f.table.Connect(emitter, "clicked", receiver, func(ctx context.Context, recv *meta.Instance, n int32, label string) {
		calls = append(calls, call{recv, n, label, Emitter(ctx)})
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = f.table.Connect(emitter, "clicked", nil, func(recv *meta.Instance, n int32, label string) {
		calls = append(calls, call{recv: recv, n: n, label: label})
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := f.table.Emit(ctx, emitter, "clicked", 7, "ok"); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 2 {
		t.Fatalf("handlers called %d times", len(calls))
	}
	if calls[0].recv != receiver || calls[0].n != 7 || calls[0].label != "ok" || calls[0].emitter != emitter {
		t.Errorf("first handler got %+v", calls[0])
	}
	if calls[1].recv != emitter {
		t.Error("handler without receiver did not get the emitter")
	}

	if err := f.table.Emit(ctx, emitter, "clicked", 1); !errors.Is(err, objerrors.ErrInvalidArg) {
		t.Errorf("short payload: %v", err)
	}
	if err := f.table.Emit(ctx, emitter, "missing"); !errors.Is(err, objerrors.ErrNotFound) {
		t.Errorf("unknown signal: %v", err)
	}
	if _, err := f.table.Connect(emitter, "missing", nil, func() {}); !errors.Is(err, objerrors.ErrNotFound) {
		t.Errorf("connect to unknown signal: %v", err)
	}
	if f.table.ConnectionCount(emitter, "clicked") != 2 || f.table.ConnectionCount(emitter, "") != 2 {
		t.Errorf("connection count = %d", f.table.ConnectionCount(emitter, ""))
	}
	if Emitter(ctx) != nil || Receiver(ctx) != nil {
		t.Error("emitter leaked outside emission")
	}
}

func TestEmitStopsAtFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	emitter := f.create(t, f.widget)
	defer func() { _ = emitter.Destroy() }()

	reached := false
	_, _ = f.table.Connect(emitter, "clicked", nil, func(*meta.Instance, int32, string) error {
		return errors.New("boom")
	})
	_, _ = f.table.Connect(emitter, "clicked", nil, func(*meta.Instance, int32, string) {
		reached = true
	})
	if err := f.table.Emit(ctx, emitter, "clicked", 1, "x"); err == nil || err.Error() != "boom" {
		t.Errorf("emit error = %v", err)
	}
	if reached {
		t.Error("emission continued after a failing handler")
	}
}

func TestConnectClass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	emitter := f.create(t, f.widget)
	receiver := f.create(t, f.widget)
	defer func() { _ = emitter.Destroy() }()
	defer func() { _ = receiver.Destroy() }()

	if _, err := f.table.ConnectClass(emitter, "clicked", receiver, f.widget, onClickSlot); err != nil {
		t.Fatal(err)
	}
	if err := f.table.Emit(ctx, emitter, "clicked", 1, "a"); err != nil {
		t.Fatal(err)
	}
	if got := receiver.Userdata(); got != "widget [1 a]" {
		t.Errorf("widget handler stored %v", got)
	}

	fc, err := f.reg.CreateFloatingClass(f.button)
	if err != nil {
		t.Fatal(err)
	}
	if err := receiver.SwizzleClass(fc); err != nil {
		t.Fatal(err)
	}
	if err := receiver.SinkClass(); err != nil {
		t.Fatal(err)
	}
	if err := f.table.Emit(ctx, emitter, "clicked", 2, "b"); err != nil {
		t.Fatal(err)
	}
	if got := receiver.Userdata(); got != "button [2 b]" {
		t.Errorf("override not dispatched: %v", got)
	}

	if _, err := f.table.ConnectClass(emitter, "clicked", nil, f.widget, onClickSlot); !errors.Is(err, objerrors.ErrInvalidArg) {
		t.Errorf("class connection without receiver: %v", err)
	}
}

func TestConnectSignal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, f.widget)
	b := f.create(t, f.button)
	defer func() { _ = a.Destroy() }()
	defer func() { _ = b.Destroy() }()

	if _, err := f.table.ConnectSignal(a, "clicked", b, "clicked"); err != nil {
		t.Fatal(err)
	}
	var got []string
	_, _ = f.table.Connect(b, "clicked", nil, func(ctx context.Context, recv *meta.Instance, n int32, label string) {
		got = append(got, fmt.Sprintf("%s %d %s", recv.TypeName(), n, label))
	})

	if err := f.table.Emit(ctx, a, "clicked", 3, "fwd"); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "Button 3 fwd" {
		t.Errorf("forwarded emission = %v", got)
	}

	if _, err := f.table.ConnectSignal(a, "clicked", b, "missing"); !errors.Is(err, objerrors.ErrNotFound) {
		t.Errorf("forward to unknown signal: %v", err)
	}
}

func TestBlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	emitter := f.create(t, f.widget)
	defer func() { _ = emitter.Destroy() }()

	calls := 0
	_, _ = f.table.Connect(emitter, "clicked", nil, func() { calls++ })

	if old := f.table.Block(emitter, "clicked", true); old {
		t.Error("signal started blocked")
	}
	_ = f.table.Emit(ctx, emitter, "clicked", 1, "x")
	if old := f.table.Block(emitter, "clicked", false); !old {
		t.Error("Block did not report the previous state")
	}
	_ = f.table.Emit(ctx, emitter, "clicked", 1, "x")
	if calls != 1 {
		t.Errorf("calls after unblock = %d", calls)
	}

	if old := f.table.BlockAll(emitter, true); old {
		t.Error("emitter started blocked")
	}
	_ = f.table.Emit(ctx, emitter, "clicked", 1, "x")
	f.table.BlockAll(emitter, false)
	_ = f.table.Emit(ctx, emitter, "clicked", 1, "x")
	if calls != 2 {
		t.Errorf("calls after block all = %d", calls)
	}
}

func TestDisconnect(t *testing.T) {
	f := newFixture(t)
	emitter := f.create(t, f.widget)
	r1 := f.create(t, f.widget)
	r2 := f.create(t, f.widget)
	defer func() { _ = emitter.Destroy() }()
	defer func() { _ = r1.Destroy() }()
	defer func() { _ = r2.Destroy() }()

	id, _ := f.table.Connect(emitter, "clicked", r1, func() {})
	_, _ = f.table.Connect(emitter, "clicked", r1, func() {})
	_, _ = f.table.Connect(emitter, "clicked", r2, func() {})

	fn, err := closure.NewFunc(f.vars, func() {}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.table.ConnectClosure(emitter, "clicked", r2, fn); err != nil {
		t.Fatal(err)
	}
	if fn.RefCount() != 2 {
		t.Errorf("connected closure refcount = %d", fn.RefCount())
	}

	if n := f.table.Disconnect(Filter{ID: id}); n != 1 {
		t.Errorf("disconnect by id = %d", n)
	}
	if n := f.table.Disconnect(Filter{Closure: fn}); n != 1 {
		t.Errorf("disconnect by closure = %d", n)
	}
	if fn.RefCount() != 1 {
		t.Errorf("closure refcount after disconnect = %d", fn.RefCount())
	}
	_ = fn.Unref()

	if n := f.table.Disconnect(Filter{Receiver: r1}); n != 1 {
		t.Errorf("disconnect by receiver = %d", n)
	}
	if n := f.table.ConnectionCount(emitter, ""); n != 1 {
		t.Errorf("remaining connections = %d", n)
	}
}

func TestDestroyedInstanceDropsConnections(t *testing.T) {
	f := newFixture(t)
	emitter := f.create(t, f.widget)
	receiver := f.create(t, f.widget)
	other := f.create(t, f.widget)
	defer func() { _ = other.Destroy() }()

	fn, err := closure.NewFunc(f.vars, func() {}, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.table.ConnectClosure(emitter, "clicked", receiver, fn)
	_, _ = f.table.Connect(emitter, "clicked", other, func() {})
	_, _ = f.table.Connect(other, "clicked", receiver, func() {})
	_ = fn.Unref()
	fnInst := fn.Instance()

	if err := receiver.Destroy(); err != nil {
		t.Fatal(err)
	}
	if !fnInst.IsDestroyed() {
		t.Error("closure of a dropped connection still alive")
	}
	if n := f.table.ConnectionCount(emitter, ""); n != 1 {
		t.Errorf("emitter connections after receiver destroyed = %d", n)
	}
	if n := f.table.ConnectionCount(other, ""); n != 0 {
		t.Errorf("other connections after receiver destroyed = %d", n)
	}

	if err := emitter.Destroy(); err != nil {
		t.Fatal(err)
	}
	if n := f.table.ConnectionCount(emitter, ""); n != 0 {
		t.Errorf("connections of destroyed emitter = %d", n)
	}
	if _, err := f.table.Connect(emitter, "clicked", nil, func() {}); !errors.Is(err, objerrors.ErrInvalidArg) {
		t.Errorf("connect on destroyed emitter: %v", err)
	}
}
