// Package variant implements tagged values over the meta type system.
//
// A Variant holds one value of any registered type: scalars inline,
// strings in ref-counted heap blocks, instances by reference and arbitrary
// Go values as opaque handles. Variants own their payload. Copy them with
// Registry.ConstructCopy and release them with Registry.Destruct; moves
// leave the source nil.
//
// Conversions are looked up by walking the destination type's ancestry and,
// for each destination, the source type's ancestry, so a converter
// registered between fundamentals serves every derived type. Registering a
// converter for a pair that already has one replaces it.
//
// Values of unrelated types compare only through a registered Comparator.
package variant
