// Package closure implements ref-counted invocables over Box instances.
//
// A closure is called with variant arguments through one of two marshals.
// The direct marshal is per closure and stored as a function handle in the
// instance. The meta-marshal lives in a class slot at MetaMarshalOffset and,
// when set, takes over invocation; it may forward to the direct marshal
// with marshal data of its choosing. Setting a meta-marshal on a closure
// that shares its type's default class first gives the closure a private
// floating class, so other closures of the type are not affected.
//
// Three closure kinds are provided:
//
//	NewFunc    wraps a Go function, called through MarshalReflect
//	NewClass   binds a class slot and an instance; the slot is read from
//	           the instance's current class on every call
//	NewSignal  re-emits the call as a signal through an Emitter
//
// The closure being invoked is available to marshals through Current.
package closure
