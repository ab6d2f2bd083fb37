package wasm

import "fmt"

// Binary header
const (
	Magic   uint32 = 0x6d736100 // \0asm
	Version uint32 = 0x00000001
)

// Section IDs
const (
	SectionCustom    byte = 0
	SectionType      byte = 1
	SectionImport    byte = 2
	SectionFunction  byte = 3
	SectionTable     byte = 4
	SectionMemory    byte = 5
	SectionGlobal    byte = 6
	SectionExport    byte = 7
	SectionStart     byte = 8
	SectionElement   byte = 9
	SectionCode      byte = 10
	SectionData      byte = 11
	SectionDataCount byte = 12
)

// ValType represents a WebAssembly value type.
type ValType byte

const (
	ValI32       ValType = 0x7F
	ValI64       ValType = 0x7E
	ValF32       ValType = 0x7D
	ValF64       ValType = 0x7C
	ValV128      ValType = 0x7B
	ValFuncRef   ValType = 0x70
	ValExternRef ValType = 0x6F
)

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValV128:
		return "v128"
	case ValFuncRef:
		return "funcref"
	case ValExternRef:
		return "externref"
	}
	return fmt.Sprintf("valtype(0x%02x)", byte(v))
}

// Kind is an import/export descriptor kind.
type Kind byte

const (
	KindFunc   Kind = 0x00
	KindTable  Kind = 0x01
	KindMemory Kind = 0x02
	KindGlobal Kind = 0x03
)

func (k Kind) String() string {
	switch k {
	case KindFunc:
		return "func"
	case KindTable:
		return "table"
	case KindMemory:
		return "memory"
	case KindGlobal:
		return "global"
	}
	return fmt.Sprintf("kind(0x%02x)", byte(k))
}

// Limits flag bits
const (
	LimitsHasMax byte = 0x01
	LimitsShared byte = 0x02
)

// Limits describes the size bounds of a table or memory.
type Limits struct {
	Max    *uint32
	Min    uint32
	Shared bool
}

// FuncType represents a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// TableType describes a table.
type TableType struct {
	Limits   Limits
	ElemType ValType
}

// MemoryType describes a linear memory.
type MemoryType struct {
	Limits Limits
}

// GlobalType describes a global.
type GlobalType struct {
	ValType ValType
	Mutable bool
}

// ImportDesc carries the kind-specific part of an import.
// Exactly one of the pointer fields is set for table, memory and global imports.
type ImportDesc struct {
	Table   *TableType
	Memory  *MemoryType
	Global  *GlobalType
	TypeIdx uint32
	Kind    Kind
}

// Import is a single import entry.
type Import struct {
	Module string
	Name   string
	Desc   ImportDesc
}

// Export is a single export entry.
type Export struct {
	Name string
	Kind Kind
	Idx  uint32
}

// Global is a defined global with its constant initializer (including the end opcode).
type Global struct {
	Init []byte
	Type GlobalType
}

// Func is a defined function.
type Func struct {
	Locals  []ValType
	Body    []byte
	TypeIdx uint32
}

// DataSegment is an active data segment for memory 0.
type DataSegment struct {
	Offset []byte // constant expression, including end
	Init   []byte
}

// Module is the structural model used for encoding.
type Module struct {
	Start    *uint32
	Types    []FuncType
	Imports  []Import
	Funcs    []Func
	Tables   []TableType
	Memories []MemoryType
	Globals  []Global
	Exports  []Export
	Data     []DataSegment
}

// AddType appends ft unless an identical type exists and returns its index.
func (m *Module) AddType(ft FuncType) uint32 {
	for i, t := range m.Types {
		if sameTypes(t.Params, ft.Params) && sameTypes(t.Results, ft.Results) {
			return uint32(i)
		}
	}
	m.Types = append(m.Types, ft)
	return uint32(len(m.Types) - 1)
}

// NumImported returns how many imports of kind k the module declares.
func (m *Module) NumImported(k Kind) uint32 {
	var n uint32
	for _, imp := range m.Imports {
		if imp.Desc.Kind == k {
			n++
		}
	}
	return n
}

// AddFunc appends a function and returns its index in the function index space.
func (m *Module) AddFunc(ft FuncType, locals []ValType, body []byte) uint32 {
	m.Funcs = append(m.Funcs, Func{TypeIdx: m.AddType(ft), Locals: locals, Body: body})
	return m.NumImported(KindFunc) + uint32(len(m.Funcs)-1)
}

// ImportFunc declares a function import and returns its function index.
// Function imports must be declared before any AddFunc call.
func (m *Module) ImportFunc(module, name string, ft FuncType) uint32 {
	m.Imports = append(m.Imports, Import{
		Module: module,
		Name:   name,
		Desc:   ImportDesc{Kind: KindFunc, TypeIdx: m.AddType(ft)},
	})
	return m.NumImported(KindFunc) - 1
}

// Export appends an export entry.
func (m *Module) Export(name string, kind Kind, idx uint32) {
	m.Exports = append(m.Exports, Export{Name: name, Kind: kind, Idx: idx})
}

func sameTypes(a, b []ValType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Max returns a pointer to n, for Limits.Max.
func Max(n uint32) *uint32 { return &n }
