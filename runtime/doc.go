// Package runtime assembles a heap and the registries built on it.
//
// # Quick Start
//
//	ctx := context.Background()
//	rt, err := runtime.New(ctx, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	widget, _ := rt.Types().RegisterDerived("Widget", meta.InstanceType, meta.TypeInfo{})
//	_ = rt.Signals().Install(widget, "clicked", meta.Int32Type)
//
//	w, _ := rt.Types().Create(widget)
//	defer w.Destroy()
//
//	rt.Signals().Connect(w, "clicked", nil, func(self *meta.Instance, n int32) {
//	    fmt.Println("clicked", n)
//	})
//	rt.Signals().Emit(ctx, w, "clicked", 3)
//
// # Heap Backends
//
// The default heap is a Go byte slice. The wazero backend keeps every
// class, instance and string in the exported memory of a wasm module:
//
//	rt, err := runtime.New(ctx, &runtime.Config{Backend: runtime.BackendWazero, MaxPages: 256})
//
// # Configuration
//
// Config can be loaded from the [runtime] table of a TOML file:
//
//	[runtime]
//	backend = "wazero"
//	initial-pages = 2
//	max-pages = 256
//	log-level = "debug"
//
// # Schemas
//
// Types, fields, interfaces and signals can be declared in TOML and
// registered with Apply. See Schema for the format.
//
//	s, err := runtime.LoadSchemaFile("widgets.toml")
//	types, err := rt.Apply(s)
//
// # Shutdown
//
// Close disconnects all signals and releases the heap. Instances,
// references or opaque values still alive at that point are logged and
// reported as a Partial error.
package runtime
