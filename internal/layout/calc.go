package layout

import (
	"math"
	"sync"

	"go.bytecodealliance.org/wit"
)

// Info is the memory layout of a type or field group.
type Info struct {
	FieldOffs map[string]uint32
	Size      uint32
	Align     uint32
}

// AlignTo rounds offset up to a multiple of align (a power of two).
func AlignTo(offset, align uint32) uint32 {
	if align == 0 {
		return offset
	}
	return (offset + align - 1) &^ (align - 1)
}

// SafeAddU32 adds with overflow detection.
func SafeAddU32(a, b uint32) (uint32, bool) {
	if a > math.MaxUint32-b {
		return 0, false
	}
	return a + b, true
}

// Calculator computes layouts, caching type definitions.
type Calculator struct {
	cache map[*wit.TypeDef]Info
	mu    sync.Mutex
}

func NewCalculator() *Calculator {
	return &Calculator{
		cache: make(map[*wit.TypeDef]Info),
	}
}

func (c *Calculator) Calculate(t wit.Type) Info {
	switch typ := t.(type) {
	case wit.U8, wit.S8, wit.Bool:
		return Info{Size: 1, Align: 1}
	case wit.U16, wit.S16:
		return Info{Size: 2, Align: 2}
	case wit.U32, wit.S32, wit.F32, wit.Char:
		return Info{Size: 4, Align: 4}
	case wit.U64, wit.S64, wit.F64:
		return Info{Size: 8, Align: 8}
	case wit.String:
		return Info{Size: 8, Align: 4}
	case *wit.TypeDef:
		return c.calculateTypeDef(typ)
	default:
		return Info{Size: 0, Align: 1}
	}
}

// calculateTypeDef lays out enum and flags definitions. Results are cached
// by definition pointer; definitions are immutable once registered.
func (c *Calculator) calculateTypeDef(t *wit.TypeDef) Info {
	c.mu.Lock()
	cached, ok := c.cache[t]
	c.mu.Unlock()
	if ok {
		return cached
	}

	var info Info
	switch kind := t.Kind.(type) {
	case *wit.Enum:
		size := discriminantSize(len(kind.Cases))
		info = Info{Size: size, Align: size}
	case *wit.Flags:
		info = calculateFlags(len(kind.Flags))
	default:
		info = Info{Size: 0, Align: 1}
	}

	c.mu.Lock()
	c.cache[t] = info
	c.mu.Unlock()
	return info
}

type field struct {
	typ  wit.Type
	name string
}

// Extend lays out named fields after base bytes. Offsets in the result are
// absolute; Size is the end of the last field rounded to the group alignment.
// An empty field list returns base unchanged.
func (c *Calculator) Extend(base uint32, names []string, types []wit.Type) Info {
	fields := make([]field, len(names))
	for i := range names {
		fields[i] = field{name: names[i], typ: types[i]}
	}
	if len(fields) == 0 {
		return Info{Size: base, Align: 1, FieldOffs: map[string]uint32{}}
	}
	return c.sequence(base, fields)
}

func (c *Calculator) sequence(start uint32, fields []field) Info {
	if len(fields) == 0 {
		return Info{Size: 0, Align: 1}
	}

	fieldOffs := make(map[string]uint32, len(fields))
	maxAlign := uint32(1)
	offset := start

	for _, f := range fields {
		fieldLayout := c.Calculate(f.typ)

		offset = AlignTo(offset, fieldLayout.Align)
		fieldOffs[f.name] = offset

		if fieldLayout.Align > maxAlign {
			maxAlign = fieldLayout.Align
		}

		offset += fieldLayout.Size
	}

	return Info{
		Size:      AlignTo(offset, maxAlign),
		Align:     maxAlign,
		FieldOffs: fieldOffs,
	}
}

func discriminantSize(n int) uint32 {
	switch {
	case n <= 1<<8:
		return 1
	case n <= 1<<16:
		return 2
	default:
		return 4
	}
}

func calculateFlags(n int) Info {
	switch {
	case n == 0:
		return Info{Size: 0, Align: 1}
	case n <= 8:
		return Info{Size: 1, Align: 1}
	case n <= 16:
		return Info{Size: 2, Align: 2}
	default:
		return Info{Size: uint32((n + 31) / 32 * 4), Align: 4}
	}
}
