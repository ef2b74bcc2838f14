// Package signal connects named events on instances to closures.
//
// Signals are installed on a type with typed arguments and are inherited
// by derived types. A connection binds an emitter instance, a signal and
// a closure, optionally on behalf of a receiver instance:
//
//	Connect         Go function through closure.MarshalReflect
//	ConnectClass    class method resolved on the receiver at every emit
//	ConnectClosure  any closure, the table takes a reference
//	ConnectSignal   re-emits as a signal of another instance
//
// Emission invokes connections in connection order with the receiver as
// the first argument. Blocked signals and blocked emitters emit nothing.
// The table observes its type registry and drops connections whose
// emitter or receiver is destroyed. Handlers find the emitting instance
// with Emitter and the receiver with Receiver.
package signal
