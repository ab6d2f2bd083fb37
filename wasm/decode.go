package wasm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Interface is the import/export surface of a module.
type Interface struct {
	Imports  []Import
	Tables   []TableType  // defined tables, imported ones live in Imports
	Memories []MemoryType // defined memories, imported ones live in Imports
	Exports  []Export
}

// Memory returns the type of memory idx in the memory index space.
func (i *Interface) Memory(idx uint32) (MemoryType, bool) {
	var n uint32
	for _, imp := range i.Imports {
		if imp.Desc.Kind != KindMemory {
			continue
		}
		if n == idx {
			return *imp.Desc.Memory, true
		}
		n++
	}
	idx -= n
	if idx < uint32(len(i.Memories)) {
		return i.Memories[idx], true
	}
	return MemoryType{}, false
}

// Table returns the type of table idx in the table index space.
func (i *Interface) Table(idx uint32) (TableType, bool) {
	var n uint32
	for _, imp := range i.Imports {
		if imp.Desc.Kind != KindTable {
			continue
		}
		if n == idx {
			return *imp.Desc.Table, true
		}
		n++
	}
	idx -= n
	if idx < uint32(len(i.Tables)) {
		return i.Tables[idx], true
	}
	return TableType{}, false
}

// ParseInterface decodes the import, table, memory and export sections of a binary
// module. Other sections are skipped without validation.
func ParseInterface(data []byte) (*Interface, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("module too short: %d bytes", len(data))
	}
	if binary.LittleEndian.Uint32(data[0:4]) != Magic {
		return nil, fmt.Errorf("invalid magic number")
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != Version {
		return nil, fmt.Errorf("unsupported version %d", v)
	}

	r := bytes.NewReader(data[8:])
	iface := &Interface{}
	for {
		id, err := r.ReadByte()
		if err == io.EOF {
			return iface, nil
		}
		if err != nil {
			return nil, err
		}
		size, err := ReadLEB128u(r)
		if err != nil {
			return nil, fmt.Errorf("section %d size: %w", id, err)
		}
		if int64(size) > int64(r.Len()) {
			return nil, fmt.Errorf("section %d: size %d exceeds remaining %d bytes", id, size, r.Len())
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
		sr := bytes.NewReader(payload)
		switch id {
		case SectionImport:
			err = parseImports(sr, iface)
		case SectionTable:
			err = parseTables(sr, iface)
		case SectionMemory:
			err = parseMemories(sr, iface)
		case SectionExport:
			err = parseExports(sr, iface)
		}
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", id, err)
		}
	}
}

func parseImports(r *bytes.Reader, iface *Interface) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		var imp Import
		if imp.Module, err = readName(r); err != nil {
			return err
		}
		if imp.Name, err = readName(r); err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		imp.Desc.Kind = Kind(kind)
		switch imp.Desc.Kind {
		case KindFunc:
			imp.Desc.TypeIdx, err = ReadLEB128u(r)
		case KindTable:
			var t TableType
			t, err = readTableType(r)
			imp.Desc.Table = &t
		case KindMemory:
			var l Limits
			l, err = readLimits(r)
			imp.Desc.Memory = &MemoryType{Limits: l}
		case KindGlobal:
			var g GlobalType
			g, err = readGlobalType(r)
			imp.Desc.Global = &g
		default:
			return fmt.Errorf("import %d: unsupported kind 0x%02x", i, kind)
		}
		if err != nil {
			return fmt.Errorf("import %d (%s.%s): %w", i, imp.Module, imp.Name, err)
		}
		iface.Imports = append(iface.Imports, imp)
	}
	return nil
}

func parseTables(r *bytes.Reader, iface *Interface) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		t, err := readTableType(r)
		if err != nil {
			return fmt.Errorf("table %d: %w", i, err)
		}
		iface.Tables = append(iface.Tables, t)
	}
	return nil
}

func parseMemories(r *bytes.Reader, iface *Interface) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		l, err := readLimits(r)
		if err != nil {
			return fmt.Errorf("memory %d: %w", i, err)
		}
		iface.Memories = append(iface.Memories, MemoryType{Limits: l})
	}
	return nil
}

func parseExports(r *bytes.Reader, iface *Interface) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		var exp Export
		if exp.Name, err = readName(r); err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		exp.Kind = Kind(kind)
		if exp.Idx, err = ReadLEB128u(r); err != nil {
			return err
		}
		iface.Exports = append(iface.Exports, exp)
	}
	return nil
}

func readName(r *bytes.Reader) (string, error) {
	n, err := ReadLEB128u(r)
	if err != nil {
		return "", err
	}
	if int64(n) > int64(r.Len()) {
		return "", fmt.Errorf("name length %d exceeds remaining %d bytes", n, r.Len())
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readLimits(r *bytes.Reader) (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	if flags&^(LimitsHasMax|LimitsShared) != 0 {
		return Limits{}, fmt.Errorf("unsupported limits flags 0x%02x", flags)
	}
	l := Limits{Shared: flags&LimitsShared != 0}
	if l.Min, err = ReadLEB128u(r); err != nil {
		return Limits{}, err
	}
	if flags&LimitsHasMax != 0 {
		m, err := ReadLEB128u(r)
		if err != nil {
			return Limits{}, err
		}
		l.Max = &m
	}
	return l, nil
}

func readTableType(r *bytes.Reader) (TableType, error) {
	elem, err := r.ReadByte()
	if err != nil {
		return TableType{}, err
	}
	l, err := readLimits(r)
	if err != nil {
		return TableType{}, err
	}
	return TableType{ElemType: ValType(elem), Limits: l}, nil
}

func readGlobalType(r *bytes.Reader) (GlobalType, error) {
	vt, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	return GlobalType{ValType: ValType(vt), Mutable: mut == 1}, nil
}
