// Package handle provides reference-counted handle tables.
//
// A Table maps small non-zero integers to Go values. Handles fit in a
// 32-bit heap slot, which lets class vtables and variant payloads refer to
// Go functions and Go values from linear memory:
//
//	fns := handle.NewTable()
//	h := fns.Insert(KindFunc, myMethod)   // write h into a class slot
//	fn, ok := fns.GetTyped(h, KindFunc)
//
// Every entry starts with one reference. Acquire adds one, Release drops
// one and removes the entry at zero. Close drops every entry regardless of
// outstanding references. Released values implementing Releaser get their
// Release method called. Observers see every lifecycle event.
package handle
