// Package objrt provides a dynamic type and object runtime for Go.
//
// Types are registered at runtime into a registry, form a single-inheritance
// hierarchy and may implement interfaces. Classes and instances are laid out
// in a linear heap: each instance starts with the address of its class, and
// every derived type embeds its ancestors as a structural prefix. Interface
// vtables live inside the implementing class at fixed byte offsets.
//
// # Architecture Overview
//
//	objrt/              Root package with the Memory and Allocator interfaces
//	├── runtime/        Runtime owning the heap and all registries
//	├── meta/           Type registry, classes, instances, interface dispatch
//	├── variant/        Tagged values, conversions and comparisons
//	├── closure/        Closures and marshals (C-function, class, signal)
//	├── signal/         Signal tables emitting through closures
//	├── refcount/       Atomic reference-counted heap blocks
//	├── heap/           Linear memory backends and allocators
//	├── handle/         Handle tables for function slots and opaque values
//	├── errors/         Structured error types
//	└── cmd/typeview    Schema viewer
//
// # Quick Start
//
//	rt, err := runtime.New(ctx, nil)
//	if err != nil {
//		return err
//	}
//	defer rt.Close(ctx)
//
//	object, _ := rt.Types().RegisterFundamental("Object", meta.FlagClassed|meta.FlagInstantiable|meta.FlagDerivable,
//		meta.TypeInfo{ClassSize: meta.ClassHeaderSize, InstanceSize: 8})
//	inst, _ := rt.Types().Create(object)
//	defer inst.Destroy()
//
// # Memory
//
// The default heap is a Go byte slice. A wazero-backed heap, where all
// runtime memory lives inside a wasm linear memory, is selected with
// runtime.Config{Backend: "wazero"}.
package objrt
