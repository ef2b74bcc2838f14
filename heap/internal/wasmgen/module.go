// Package wasmgen emits the minimal wasm module that owns a heap's linear memory.
package wasmgen

const (
	sectionMemory = 0x05
	sectionExport = 0x07

	exportKindMemory = 0x02

	limitsMin    = 0x00
	limitsMinMax = 0x01
)

// MemoryModule describes a module that defines one memory and exports it.
type MemoryModule struct {
	ExportName string
	MinPages   uint32
	// MaxPages of 0 leaves the memory unbounded.
	MaxPages uint32
}

// Build generates the module bytes.
func (m MemoryModule) Build() []byte {
	name := m.ExportName
	if name == "" {
		name = "memory"
	}

	var wasm []byte
	wasm = append(wasm, 0x00, 0x61, 0x73, 0x6d)
	wasm = append(wasm, 0x01, 0x00, 0x00, 0x00)

	wasm = appendSection(wasm, sectionMemory, m.buildMemorySection())

	var exports []byte
	exports = append(exports, EncodeULEB128(1)...)
	exports = append(exports, encodeName(name)...)
	exports = append(exports, exportKindMemory)
	exports = append(exports, EncodeULEB128(0)...)
	wasm = appendSection(wasm, sectionExport, exports)

	return wasm
}

func (m MemoryModule) buildMemorySection() []byte {
	var section []byte
	section = append(section, EncodeULEB128(1)...)
	if m.MaxPages > 0 {
		section = append(section, limitsMinMax)
		section = append(section, EncodeULEB128(m.MinPages)...)
		section = append(section, EncodeULEB128(m.MaxPages)...)
	} else {
		section = append(section, limitsMin)
		section = append(section, EncodeULEB128(m.MinPages)...)
	}
	return section
}
