// Package layout computes size, alignment and field offsets for the WIT
// types that describe instance fields.
//
// # Layout Rules
//
//   - Primitives: size equals alignment (u8=1, u32=4, u64=8, etc.)
//   - Strings: a (pointer, length) pair of u32, content elsewhere in the heap
//   - Enums and flags: the smallest unsigned integer that holds them
//
// Instance fields are laid out with Extend: each derived type appends its
// fields after the parent's instance size, so ancestor fields keep their
// offsets in every descendant.
package layout
