package layout

import (
	"testing"

	"go.bytecodealliance.org/wit"
)

func TestAlignTo(t *testing.T) {
	tests := []struct {
		offset, align, want uint32
	}{
		{0, 4, 0},
		{1, 4, 4},
		{4, 4, 4},
		{5, 8, 8},
		{9, 1, 9},
		{7, 0, 7},
	}
	for _, tt := range tests {
		if got := AlignTo(tt.offset, tt.align); got != tt.want {
			t.Errorf("AlignTo(%d, %d) = %d, want %d", tt.offset, tt.align, got, tt.want)
		}
	}
}

func TestSafeAddU32(t *testing.T) {
	if v, ok := SafeAddU32(1, 2); !ok || v != 3 {
		t.Errorf("SafeAddU32(1,2) = %d,%v", v, ok)
	}
	if _, ok := SafeAddU32(^uint32(0), 1); ok {
		t.Error("expected overflow")
	}
}

func TestCalculatePrimitives(t *testing.T) {
	c := NewCalculator()

	tests := []struct {
		typ   wit.Type
		name  string
		size  uint32
		align uint32
	}{
		{wit.Bool{}, "bool", 1, 1},
		{wit.U8{}, "u8", 1, 1},
		{wit.S8{}, "s8", 1, 1},
		{wit.U16{}, "u16", 2, 2},
		{wit.S16{}, "s16", 2, 2},
		{wit.U32{}, "u32", 4, 4},
		{wit.S32{}, "s32", 4, 4},
		{wit.U64{}, "u64", 8, 8},
		{wit.S64{}, "s64", 8, 8},
		{wit.F32{}, "f32", 4, 4},
		{wit.F64{}, "f64", 8, 8},
		{wit.Char{}, "char", 4, 4},
		{wit.String{}, "string", 8, 4},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			info := c.Calculate(tc.typ)
			if info.Size != tc.size {
				t.Errorf("size: got %d, want %d", info.Size, tc.size)
			}
			if info.Align != tc.align {
				t.Errorf("align: got %d, want %d", info.Align, tc.align)
			}
		})
	}
}

func TestCalculateEnumFlags(t *testing.T) {
	c := NewCalculator()

	tests := []struct {
		name  string
		def   *wit.TypeDef
		size  uint32
		align uint32
	}{
		{"enum_3", &wit.TypeDef{Kind: &wit.Enum{Cases: make([]wit.EnumCase, 3)}}, 1, 1},
		{"enum_300", &wit.TypeDef{Kind: &wit.Enum{Cases: make([]wit.EnumCase, 300)}}, 2, 2},
		{"flags_0", &wit.TypeDef{Kind: &wit.Flags{}}, 0, 1},
		{"flags_8", &wit.TypeDef{Kind: &wit.Flags{Flags: make([]wit.Flag, 8)}}, 1, 1},
		{"flags_12", &wit.TypeDef{Kind: &wit.Flags{Flags: make([]wit.Flag, 12)}}, 2, 2},
		{"flags_32", &wit.TypeDef{Kind: &wit.Flags{Flags: make([]wit.Flag, 32)}}, 4, 4},
		{"record", &wit.TypeDef{Kind: &wit.Record{}}, 0, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			info := c.Calculate(tc.def)
			if info.Size != tc.size || info.Align != tc.align {
				t.Errorf("got %d/%d, want %d/%d", info.Size, info.Align, tc.size, tc.align)
			}
			if again := c.Calculate(tc.def); again.Size != info.Size || again.Align != info.Align {
				t.Errorf("cached layout differs: %+v", again)
			}
		})
	}
}

func TestExtendEnumField(t *testing.T) {
	c := NewCalculator()
	color := &wit.TypeDef{Kind: &wit.Enum{Cases: make([]wit.EnumCase, 4)}}
	info := c.Extend(4, []string{"color", "width"}, []wit.Type{color, wit.U32{}})
	if info.FieldOffs["color"] != 4 || info.FieldOffs["width"] != 8 || info.Size != 12 {
		t.Errorf("got %+v", info)
	}
}

func TestExtend(t *testing.T) {
	c := NewCalculator()

	t.Run("no_fields", func(t *testing.T) {
		info := c.Extend(12, nil, nil)
		if info.Size != 12 {
			t.Errorf("size: got %d, want 12", info.Size)
		}
	})

	t.Run("after_parent", func(t *testing.T) {
		info := c.Extend(4, []string{"visible", "width", "label"},
			[]wit.Type{wit.Bool{}, wit.U32{}, wit.String{}})
		want := map[string]uint32{"visible": 4, "width": 8, "label": 12}
		for name, off := range want {
			if info.FieldOffs[name] != off {
				t.Errorf("%s offset: got %d, want %d", name, info.FieldOffs[name], off)
			}
		}
		if info.Size != 20 {
			t.Errorf("size: got %d, want 20", info.Size)
		}
	})

	t.Run("monotonic", func(t *testing.T) {
		parent := c.Extend(4, []string{"a"}, []wit.Type{wit.U8{}})
		child := c.Extend(parent.Size, []string{"b"}, []wit.Type{wit.U64{}})
		if child.Size < parent.Size {
			t.Errorf("child size %d below parent %d", child.Size, parent.Size)
		}
		if child.FieldOffs["b"] < parent.Size {
			t.Errorf("child field at %d overlaps parent size %d", child.FieldOffs["b"], parent.Size)
		}
	})
}
