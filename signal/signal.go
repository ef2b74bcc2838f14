package signal

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/objrt/closure"
	"github.com/wippyai/objrt/errors"
	"github.com/wippyai/objrt/meta"
	"github.com/wippyai/objrt/variant"
)

// Info describes an installed signal.
type Info struct {
	Owner    meta.Type
	Name     string
	ArgTypes []meta.Type
}

type signalKey struct {
	owner meta.Type
	name  string
}

type connKind uint8

const (
	connClosure connKind = iota
	connClass
)

// Connection identifies a connection returned by the Connect methods.
type Connection uint64

type connection struct {
	id       Connection
	kind     connKind
	emitter  *meta.Instance
	receiver *meta.Instance
	info     *Info
	closure  *closure.Closure
}

type handler struct {
	blocked bool
	conns   []*connection
}

type emitterTable struct {
	blocked  bool
	handlers map[string]*handler
}

// Table holds installed signals and the connections between instances.
// It observes its registry and drops every connection of an instance
// that is destroyed.
type Table struct {
	types *meta.Registry
	vars  *variant.Registry
	log   *zap.Logger

	mu       sync.Mutex
	signals  map[signalKey]*Info
	emitters map[*meta.Instance]*emitterTable
	nextID   Connection
}

// Option configures a Table.
type Option func(*Table)

// WithLogger sets the table logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Table) {
		if l != nil {
			t.log = l
		}
	}
}

// New creates a signal table over vars and subscribes it to the type
// registry.
func New(vars *variant.Registry, opts ...Option) *Table {
	t := &Table{
		types:    vars.Types(),
		vars:     vars,
		log:      Logger(),
		signals:  make(map[signalKey]*Info),
		emitters: make(map[*meta.Instance]*emitterTable),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.types.Subscribe(t)
	return t
}

// Install declares signal name on owner with the given argument types.
// Reinstalling a signal replaces it.
func (t *Table) Install(owner meta.Type, name string, argTypes ...meta.Type) error {
	reg := t.types
	if !reg.Valid(owner) {
		return errors.New(errors.PhaseSignal, errors.KindInvalidType).Value(uint32(owner)).Build()
	}
	if name == "" {
		return errors.InvalidArg(errors.PhaseSignal, "empty signal name")
	}
	for i, at := range argTypes {
		if !reg.Valid(at) {
			return errors.New(errors.PhaseSignal, errors.KindInvalidType).
				Type(reg.Name(owner)).Detail("signal %s argument %d", name, i).Build()
		}
	}

	info := &Info{Owner: owner, Name: name, ArgTypes: append([]meta.Type(nil), argTypes...)}
	t.mu.Lock()
	_, exists := t.signals[signalKey{owner, name}]
	t.signals[signalKey{owner, name}] = info
	t.mu.Unlock()

	if exists {
		t.log.Warn("overwrote existing signal", zap.String("type", reg.Name(owner)), zap.String("signal", name))
	} else {
		t.log.Debug("signal installed", zap.String("type", reg.Name(owner)), zap.String("signal", name))
	}
	return nil
}

// Uninstall removes signal name from owner. Existing connections stay
// in place but are no longer emitted.
func (t *Table) Uninstall(owner meta.Type, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := signalKey{owner, name}
	if _, ok := t.signals[key]; !ok {
		return errors.NotFound(errors.PhaseSignal, t.types.Name(owner)+"::"+name)
	}
	delete(t.signals, key)
	return nil
}

// UninstallAll removes every signal owned by owner and returns how many
// were removed.
func (t *Table) UninstallAll(owner meta.Type) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for key := range t.signals {
		if key.owner == owner {
			delete(t.signals, key)
			n++
		}
	}
	return n
}

// Lookup finds signal name on t or the nearest ancestor declaring it.
func (t *Table) Lookup(typ meta.Type, name string) (*Info, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lookup(typ, name)
}

func (t *Table) lookup(typ meta.Type, name string) (*Info, bool) {
	for cur := typ; cur != meta.InvalidType; cur = t.types.Parent(cur) {
		if info, ok := t.signals[signalKey{cur, name}]; ok {
			return info, true
		}
	}
	return nil, false
}

// Signals lists the signals declared directly on owner.
func (t *Table) Signals(owner meta.Type) []*Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*Info
	for key, info := range t.signals {
		if key.owner == owner {
			out = append(out, info)
		}
	}
	return out
}

// Connect connects the Go function fn to signal on emitter. fn is called
// through closure.MarshalReflect with the receiver, or the emitter when
// receiver is nil, as its first argument followed by the signal payload.
func (t *Table) Connect(emitter *meta.Instance, signal string, receiver *meta.Instance, fn any) (Connection, error) {
	c, err := closure.NewFunc(t.vars, fn, nil)
	if err != nil {
		return 0, err
	}
	return t.connect(emitter, signal, receiver, c, connClosure)
}

// ConnectClass connects the method at class offset off of classType to
// signal on emitter. The method is resolved on receiver's class at every
// emission and called with receiver as self and the payload as arguments.
func (t *Table) ConnectClass(emitter *meta.Instance, signal string, receiver *meta.Instance, classType meta.Type, off uint32) (Connection, error) {
	if receiver == nil {
		return 0, errors.InvalidArg(errors.PhaseSignal, "class connection without a receiver")
	}
	c, err := closure.NewClass(t.vars, classType, off, receiver, nil)
	if err != nil {
		return 0, err
	}
	return t.connect(emitter, signal, receiver, c, connClass)
}

// ConnectClosure connects an existing closure. The table takes its own
// reference.
func (t *Table) ConnectClosure(emitter *meta.Instance, signal string, receiver *meta.Instance, c *closure.Closure) (Connection, error) {
	if c == nil {
		return 0, errors.InvalidArg(errors.PhaseSignal, "nil closure")
	}
	if err := c.Ref(); err != nil {
		return 0, err
	}
	return t.connect(emitter, signal, receiver, c, connClosure)
}

// ConnectSignal re-emits signal on emitter as dstSignal on dst.
func (t *Table) ConnectSignal(emitter *meta.Instance, signal string, dst *meta.Instance, dstSignal string) (Connection, error) {
	if dst == nil || dst.IsDestroyed() {
		return 0, errors.InvalidArg(errors.PhaseSignal, "signal forward without a destination")
	}
	if _, ok := t.Lookup(dst.Type(), dstSignal); !ok {
		return 0, errors.NotFound(errors.PhaseSignal, dst.TypeName()+"::"+dstSignal)
	}
	c, err := closure.NewSignal(t.vars, t, dstSignal, nil)
	if err != nil {
		return 0, err
	}
	return t.connect(emitter, signal, dst, c, connClosure)
}

// connect takes ownership of one reference to c.
func (t *Table) connect(emitter *meta.Instance, signal string, receiver *meta.Instance, c *closure.Closure, kind connKind) (Connection, error) {
	fail := func(err error) (Connection, error) {
		_ = c.Unref()
		return 0, err
	}
	if emitter == nil || emitter.IsDestroyed() {
		return fail(errors.InvalidArg(errors.PhaseSignal, "connect without an emitter"))
	}
	if receiver != nil && receiver.IsDestroyed() {
		return fail(errors.InvalidArg(errors.PhaseSignal, "receiver %d is destroyed", receiver.Addr()))
	}

	t.mu.Lock()
	info, ok := t.lookup(emitter.Type(), signal)
	if !ok {
		t.mu.Unlock()
		return fail(errors.NotFound(errors.PhaseSignal, emitter.TypeName()+"::"+signal))
	}
	t.nextID++
	conn := &connection{
		id:       t.nextID,
		kind:     kind,
		emitter:  emitter,
		receiver: receiver,
		info:     info,
		closure:  c,
	}
	h := t.handler(emitter, signal, true)
	h.conns = append(h.conns, conn)
	t.mu.Unlock()

	t.log.Debug("signal connected",
		zap.String("type", emitter.TypeName()),
		zap.String("signal", signal),
		zap.Uint64("connection", uint64(conn.id)))
	return conn.id, nil
}

func (t *Table) handler(emitter *meta.Instance, signal string, create bool) *handler {
	et, ok := t.emitters[emitter]
	if !ok {
		if !create {
			return nil
		}
		et = &emitterTable{handlers: make(map[string]*handler)}
		t.emitters[emitter] = et
	}
	h, ok := et.handlers[signal]
	if !ok && create {
		h = &handler{}
		et.handlers[signal] = h
	}
	return h
}

// Filter selects connections. Zero fields match everything.
type Filter struct {
	Emitter  *meta.Instance
	Signal   string
	Receiver *meta.Instance
	Closure  *closure.Closure
	ID       Connection
}

func (f Filter) match(c *connection) bool {
	return (f.Emitter == nil || f.Emitter == c.emitter) &&
		(f.Signal == "" || f.Signal == c.info.Name) &&
		(f.Receiver == nil || f.Receiver == c.receiver) &&
		(f.Closure == nil || f.Closure == c.closure) &&
		(f.ID == 0 || f.ID == c.id)
}

// Disconnect removes every connection matching f and returns how many
// were removed.
func (t *Table) Disconnect(f Filter) int {
	t.mu.Lock()
	var dropped []*connection
	for emitter, et := range t.emitters {
		if f.Emitter != nil && emitter != f.Emitter {
			continue
		}
		for name, h := range et.handlers {
			kept := h.conns[:0]
			for _, c := range h.conns {
				if f.match(c) {
					dropped = append(dropped, c)
				} else {
					kept = append(kept, c)
				}
			}
			clear(h.conns[len(kept):])
			h.conns = kept
			if len(h.conns) == 0 && !h.blocked {
				delete(et.handlers, name)
			}
		}
		if len(et.handlers) == 0 && !et.blocked {
			delete(t.emitters, emitter)
		}
	}
	t.mu.Unlock()

	t.release(dropped)
	return len(dropped)
}

func (t *Table) release(conns []*connection) {
	for _, c := range conns {
		if err := c.closure.Unref(); err != nil {
			t.log.Warn("dropping connection closure failed",
				zap.String("signal", c.info.Name),
				zap.Uint64("connection", uint64(c.id)),
				zap.Error(err))
		}
	}
}

// Block blocks or unblocks signal on emitter and returns the previous
// state.
func (t *Table) Block(emitter *meta.Instance, signal string, blocked bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.handler(emitter, signal, true)
	old := h.blocked
	h.blocked = blocked
	return old
}

// BlockAll blocks or unblocks every signal on emitter and returns the
// previous state.
func (t *Table) BlockAll(emitter *meta.Instance, blocked bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	et, ok := t.emitters[emitter]
	if !ok {
		et = &emitterTable{handlers: make(map[string]*handler)}
		t.emitters[emitter] = et
	}
	old := et.blocked
	et.blocked = blocked
	return old
}

// ConnectionCount returns the number of connections on emitter for
// signal, or for every signal when signal is empty.
func (t *Table) ConnectionCount(emitter *meta.Instance, signal string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	et, ok := t.emitters[emitter]
	if !ok {
		return 0
	}
	if signal != "" {
		if h, ok := et.handlers[signal]; ok {
			return len(h.conns)
		}
		return 0
	}
	n := 0
	for _, h := range et.handlers {
		n += len(h.conns)
	}
	return n
}

// Emit emits signal on emitter with Go values as payload.
func (t *Table) Emit(ctx context.Context, emitter *meta.Instance, signal string, args ...any) error {
	vs := make([]variant.Variant, 0, len(args))
	defer t.destruct(vs)
	for _, a := range args {
		v, err := t.vars.FromAny(a)
		if err != nil {
			return err
		}
		vs = append(vs, v)
	}
	return t.EmitVariants(ctx, emitter, signal, vs)
}

// EmitVariants emits signal on inst. Each connection is invoked with its
// receiver as the first argument followed by args converted to the
// signal's argument types. Emission stops at the first failing
// connection.
func (t *Table) EmitVariants(ctx context.Context, inst *meta.Instance, signal string, args []variant.Variant) error {
	if inst == nil || inst.IsDestroyed() {
		return errors.InvalidArg(errors.PhaseSignal, "emit without an emitter")
	}

	t.mu.Lock()
	info, ok := t.lookup(inst.Type(), signal)
	if !ok {
		t.mu.Unlock()
		return errors.NotFound(errors.PhaseSignal, inst.TypeName()+"::"+signal)
	}
	var conns []*connection
	if et, ok := t.emitters[inst]; ok && !et.blocked {
		if h, ok := et.handlers[signal]; ok && !h.blocked {
			conns = append(conns, h.conns...)
		}
	}
	t.mu.Unlock()

	if len(conns) == 0 {
		return nil
	}
	if len(args) != len(info.ArgTypes) {
		return errors.InvalidArg(errors.PhaseSignal, "signal %s takes %d arguments, got %d",
			signal, len(info.ArgTypes), len(args))
	}

	// slot 0 is the receiver, filled per connection
	frame := make([]variant.Variant, len(args)+1)
	defer t.destruct(frame)
	for i := range args {
		v, err := t.payload(&args[i], info.ArgTypes[i])
		if err != nil {
			return errors.New(errors.PhaseSignal, errors.KindInvalidArg).
				Type(inst.TypeName()).Detail("signal %s argument %d", signal, i).Cause(err).Build()
		}
		frame[i+1] = v
	}

	for _, c := range conns {
		if err := c.closure.Ref(); err != nil {
			// disconnected and destroyed by an earlier connection
			continue
		}
		err := t.invoke(ctx, c, frame)
		_ = c.closure.Unref()
		if err != nil {
			t.log.Debug("signal handler failed",
				zap.String("type", inst.TypeName()),
				zap.String("signal", signal),
				zap.Uint64("connection", uint64(c.id)),
				zap.Error(err))
			return err
		}
	}
	return nil
}

func (t *Table) payload(arg *variant.Variant, want meta.Type) (variant.Variant, error) {
	if t.types.IsA(arg.Type(), want) {
		return t.vars.ConstructCopy(arg)
	}
	return t.vars.Convert(arg, want)
}

func (t *Table) invoke(ctx context.Context, c *connection, frame []variant.Variant) error {
	recv := c.receiver
	if recv == nil {
		recv = c.emitter
	}
	if recv.IsDestroyed() {
		return nil
	}
	rv, err := t.vars.Instance(recv)
	if err != nil {
		return err
	}
	if err := t.vars.SetMove(&frame[0], &rv); err != nil {
		_ = t.vars.Destruct(&rv)
		return err
	}

	ctx = withConnection(ctx, c)
	if c.kind == connClass {
		return c.closure.Invoke(ctx, nil, frame[1:]...)
	}
	return c.closure.Invoke(ctx, nil, frame...)
}

func (t *Table) destruct(vs []variant.Variant) {
	for i := range vs {
		_ = t.vars.Destruct(&vs[i])
	}
}

// OnInstanceEvent drops the connections of a destroyed instance, whether
// it is the emitter or the receiver.
func (t *Table) OnInstanceEvent(ev meta.InstanceEvent) {
	if ev.Type != meta.EventInstanceDestroying {
		return
	}
	inst := ev.Instance

	t.mu.Lock()
	var dropped []*connection
	if et, ok := t.emitters[inst]; ok {
		for _, h := range et.handlers {
			dropped = append(dropped, h.conns...)
		}
		delete(t.emitters, inst)
	}
	for _, et := range t.emitters {
		for _, h := range et.handlers {
			kept := h.conns[:0]
			for _, c := range h.conns {
				if c.receiver == inst {
					dropped = append(dropped, c)
				} else {
					kept = append(kept, c)
				}
			}
			clear(h.conns[len(kept):])
			h.conns = kept
		}
	}
	t.mu.Unlock()

	if len(dropped) > 0 {
		t.log.Debug("dropping connections of destroyed instance",
			zap.String("type", inst.TypeName()),
			zap.Uint32("addr", inst.Addr()),
			zap.Int("connections", len(dropped)))
	}
	t.release(dropped)
}

// Close disconnects everything and detaches the table from its registry.
func (t *Table) Close() int {
	t.types.Unsubscribe(t)
	return t.Disconnect(Filter{})
}

type connKey struct{}

func withConnection(ctx context.Context, c *connection) context.Context {
	return context.WithValue(ctx, connKey{}, c)
}

// Emitter returns the instance emitting the signal being handled in ctx.
func Emitter(ctx context.Context) *meta.Instance {
	if c, ok := ctx.Value(connKey{}).(*connection); ok {
		return c.emitter
	}
	return nil
}

// Receiver returns the receiver of the connection being handled in ctx.
func Receiver(ctx context.Context) *meta.Instance {
	if c, ok := ctx.Value(connKey{}).(*connection); ok {
		return c.receiver
	}
	return nil
}
