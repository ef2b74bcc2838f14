// Package heap provides the linear memory the runtime lays out classes,
// instances and reference-counted blocks in.
//
// Two backends implement Growable memory:
//
//	Linear   a Go byte slice grown in 64KiB pages
//	Wazero   the exported memory of a synthesized wasm module running in wazero
//
// FreeList allocates blocks on top of either backend. Address 0 and the
// rest of the first 16 bytes are reserved so a zero address always means
// null, and every returned block is zero-filled.
package heap
