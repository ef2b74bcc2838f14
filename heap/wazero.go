package heap

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/objrt/errors"
	"github.com/wippyai/objrt/heap/internal/wasmgen"
)

// WazeroConfig configures a wazero-backed heap.
type WazeroConfig struct {
	// Name is the module name inside the wazero runtime. Defaults to "objrt-heap".
	Name string
	// InitialPages is the starting memory size in 64KiB pages. Defaults to 1.
	InitialPages uint32
	// MaxPages bounds growth. 0 means the wazero default limit.
	MaxPages uint32
}

// Wazero is linear memory owned by a memory-only wasm module instantiated
// in its own wazero runtime.
type Wazero struct {
	runtime wazero.Runtime
	module  api.Module
	mem     api.Memory
	// api.Memory may move its backing slice on Grow
	mu sync.RWMutex
}

// NewWazero synthesizes the memory module and instantiates it.
func NewWazero(ctx context.Context, cfg WazeroConfig) (*Wazero, error) {
	if cfg.Name == "" {
		cfg.Name = "objrt-heap"
	}
	if cfg.InitialPages == 0 {
		cfg.InitialPages = 1
	}
	if cfg.MaxPages > 0 && cfg.MaxPages < cfg.InitialPages {
		return nil, errors.InvalidArg(errors.PhaseHeap, "max pages %d below initial pages %d", cfg.MaxPages, cfg.InitialPages)
	}

	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.MaxPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MaxPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	bin := wasmgen.MemoryModule{
		ExportName: "memory",
		MinPages:   cfg.InitialPages,
		MaxPages:   cfg.MaxPages,
	}.Build()

	compiled, err := rt.CompileModule(ctx, bin)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, errors.Wrap(errors.PhaseHeap, errors.KindAllocation, err, "compile heap module")
	}
	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(cfg.Name))
	if err != nil {
		_ = rt.Close(ctx)
		return nil, errors.Wrap(errors.PhaseHeap, errors.KindAllocation, err, "instantiate heap module")
	}
	mem := mod.ExportedMemory("memory")
	if mem == nil {
		_ = rt.Close(ctx)
		return nil, errors.NotFound(errors.PhaseHeap, "heap module exports no memory")
	}

	Logger().Debug("wazero heap ready",
		zap.String("module", cfg.Name),
		zap.Uint32("pages", cfg.InitialPages),
		zap.Uint32("max_pages", cfg.MaxPages))

	return &Wazero{runtime: rt, module: mod, mem: mem}, nil
}

// Close releases the module and its runtime.
func (m *Wazero) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runtime == nil {
		return nil
	}
	err := m.runtime.Close(ctx)
	m.runtime, m.module, m.mem = nil, nil, nil
	return err
}

// Size returns the current size in bytes.
func (m *Wazero) Size() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

// Grow extends the memory by deltaPages.
func (m *Wazero) Grow(deltaPages uint32) (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mem == nil {
		return 0, false
	}
	return m.mem.Grow(deltaPages)
}

func outOfBounds(offset, length uint32) error {
	return errors.OutOfBounds(errors.PhaseHeap, offset, length)
}

var errClosed = fmt.Errorf("wazero heap closed")

// Read returns a copy of length bytes at offset.
func (m *Wazero) Read(offset uint32, length uint32) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.mem == nil {
		return nil, errClosed
	}
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, outOfBounds(offset, length)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Write writes data at offset.
func (m *Wazero) Write(offset uint32, data []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.mem == nil {
		return errClosed
	}
	if !m.mem.Write(offset, data) {
		return outOfBounds(offset, uint32(len(data)))
	}
	return nil
}

// ReadU8 reads an unsigned 8-bit value.
func (m *Wazero) ReadU8(offset uint32) (uint8, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.mem == nil {
		return 0, errClosed
	}
	v, ok := m.mem.ReadByte(offset)
	if !ok {
		return 0, outOfBounds(offset, 1)
	}
	return v, nil
}

// ReadU16 reads an unsigned 16-bit little-endian value.
func (m *Wazero) ReadU16(offset uint32) (uint16, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.mem == nil {
		return 0, errClosed
	}
	v, ok := m.mem.ReadUint16Le(offset)
	if !ok {
		return 0, outOfBounds(offset, 2)
	}
	return v, nil
}

// ReadU32 reads an unsigned 32-bit little-endian value.
func (m *Wazero) ReadU32(offset uint32) (uint32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.mem == nil {
		return 0, errClosed
	}
	v, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, outOfBounds(offset, 4)
	}
	return v, nil
}

// ReadU64 reads an unsigned 64-bit little-endian value.
func (m *Wazero) ReadU64(offset uint32) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.mem == nil {
		return 0, errClosed
	}
	v, ok := m.mem.ReadUint64Le(offset)
	if !ok {
		return 0, outOfBounds(offset, 8)
	}
	return v, nil
}

// WriteU8 writes an unsigned 8-bit value.
func (m *Wazero) WriteU8(offset uint32, value uint8) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.mem == nil {
		return errClosed
	}
	if !m.mem.WriteByte(offset, value) {
		return outOfBounds(offset, 1)
	}
	return nil
}

// WriteU16 writes an unsigned 16-bit little-endian value.
func (m *Wazero) WriteU16(offset uint32, value uint16) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.mem == nil {
		return errClosed
	}
	if !m.mem.WriteUint16Le(offset, value) {
		return outOfBounds(offset, 2)
	}
	return nil
}

// WriteU32 writes an unsigned 32-bit little-endian value.
func (m *Wazero) WriteU32(offset uint32, value uint32) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.mem == nil {
		return errClosed
	}
	if !m.mem.WriteUint32Le(offset, value) {
		return outOfBounds(offset, 4)
	}
	return nil
}

// WriteU64 writes an unsigned 64-bit little-endian value.
func (m *Wazero) WriteU64(offset uint32, value uint64) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.mem == nil {
		return errClosed
	}
	if !m.mem.WriteUint64Le(offset, value) {
		return outOfBounds(offset, 8)
	}
	return nil
}
