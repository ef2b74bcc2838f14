// Package meta implements the type system: type registration, class and
// instance layout in linear memory, interface vtables and dispatch.
//
// Every type has a numeric handle. Classed types own a class block built on
// first use and shared by all instances (the default class). Instances
// start with a pointer to their class; private data of each level sits
// below the public address.
//
// Class block layout:
//
//	[0:4]  type handle
//	[4:8]  runtime class flags
//	[8:12] outer class offset (interface vtables only)
//	...    method slots and class data
//
// Method slots hold handles into the registry's function table, so any Go
// value can be stored; dispatch through Call expects a Func.
//
// Types derive from fundamentals. The builtin fundamentals and the Box and
// ITable types are registered by New with fixed handles (NilType through
// ITableType).
package meta
