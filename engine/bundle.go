package engine

import (
	"encoding/json"
	"sort"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-harness/wasm"
)

// Extern is a single exported entity.
type Extern interface {
	Kind() wasm.Kind
}

// Func describes an exported function.
type Func struct {
	Params  []wasm.ValType
	Results []wasm.ValType
}

func (*Func) Kind() wasm.Kind { return wasm.KindFunc }

// Memory is an exported linear memory.
type Memory struct {
	mem    api.Memory
	Max    *uint32
	Min    uint32
	Shared bool
}

func (*Memory) Kind() wasm.Kind { return wasm.KindMemory }

// NewMemory wraps mem. mem may be nil for engines without direct memory access.
func NewMemory(mem api.Memory, typ wasm.MemoryType) *Memory {
	return &Memory{mem: mem, Min: typ.Limits.Min, Max: typ.Limits.Max, Shared: typ.Limits.Shared}
}

// ReadUint32 reads a little-endian uint32 at offset.
func (m *Memory) ReadUint32(offset uint32) (uint32, bool) {
	if m.mem == nil {
		return 0, false
	}
	return m.mem.ReadUint32Le(offset)
}

// WriteUint32 writes a little-endian uint32 at offset.
func (m *Memory) WriteUint32(offset, v uint32) bool {
	if m.mem == nil {
		return false
	}
	return m.mem.WriteUint32Le(offset, v)
}

// Size returns the current size in bytes.
func (m *Memory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

// Global is an exported global.
type Global struct {
	g       api.Global
	value   Value
	Type    wasm.ValType
	Mutable bool
}

func (*Global) Kind() wasm.Kind { return wasm.KindGlobal }

// NewGlobal wraps an engine global.
func NewGlobal(g api.Global) *Global {
	_, mutable := g.(api.MutableGlobal)
	return &Global{g: g, Type: wasm.ValType(g.Type()), Mutable: mutable}
}

// ConstGlobal returns an immutable global holding v.
func ConstGlobal(t wasm.ValType, v Value) *Global {
	return &Global{Type: t, value: v}
}

// Value returns the current value of the global.
func (g *Global) Value() Value {
	if g.g == nil {
		return g.value
	}
	return decodeValue(g.Type, []uint64{g.g.Get(), 0})
}

// Table describes an exported table.
type Table struct {
	Max      *uint32
	Min      uint32
	ElemType wasm.ValType
}

func (*Table) Kind() wasm.Kind { return wasm.KindTable }

// Bundle is the export set of one instance: name to extern. A nil *Bundle
// behaves as an empty bundle.
type Bundle struct {
	source  api.Module
	externs map[string]Extern
}

// NewBundle creates a bundle. source is the engine module the externs
// belong to and may be nil.
func NewBundle(source api.Module, externs map[string]Extern) *Bundle {
	if externs == nil {
		externs = make(map[string]Extern)
	}
	return &Bundle{source: source, externs: externs}
}

// EmptyBundle returns a bundle with no exports.
func EmptyBundle() *Bundle {
	return NewBundle(nil, nil)
}

// Get returns the extern exported under name.
func (b *Bundle) Get(name string) (Extern, bool) {
	if b == nil {
		return nil, false
	}
	e, ok := b.externs[name]
	return e, ok
}

// Names returns export names in sorted order.
func (b *Bundle) Names() []string {
	if b == nil {
		return nil
	}
	names := make([]string, 0, len(b.externs))
	for name := range b.externs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of exports.
func (b *Bundle) Len() int {
	if b == nil {
		return 0
	}
	return len(b.externs)
}

// Source returns the engine module backing the bundle.
func (b *Bundle) Source() api.Module {
	if b == nil {
		return nil
	}
	return b.source
}

// Filter returns a bundle with the same source holding only the externs
// keep accepts.
func (b *Bundle) Filter(keep func(name string, e Extern) bool) *Bundle {
	out := NewBundle(b.Source(), nil)
	if b == nil {
		return out
	}
	for name, e := range b.externs {
		if keep(name, e) {
			out.externs[name] = e
		}
	}
	return out
}

// SharedMemories keeps only shared memories.
func SharedMemories(_ string, e Extern) bool {
	m, ok := e.(*Memory)
	return ok && m.Shared
}

type externJSON struct {
	Kind   string  `json:"kind"`
	Type   string  `json:"type,omitempty"`
	Min    uint32  `json:"min,omitempty"`
	Max    *uint32 `json:"max,omitempty"`
	Shared bool    `json:"shared,omitempty"`
}

// MarshalJSON describes the bundle as {name: {kind, ...}}.
func (b *Bundle) MarshalJSON() ([]byte, error) {
	out := make(map[string]externJSON, b.Len())
	for _, name := range b.Names() {
		e := b.externs[name]
		j := externJSON{Kind: e.Kind().String()}
		switch x := e.(type) {
		case *Memory:
			j.Min, j.Max, j.Shared = x.Min, x.Max, x.Shared
		case *Table:
			j.Type, j.Min, j.Max = x.ElemType.String(), x.Min, x.Max
		case *Global:
			j.Type = x.Type.String()
		}
		out[name] = j
	}
	return json.Marshal(out)
}
