package wasm

import "encoding/binary"

// Encode encodes the module to WebAssembly binary format
func (m *Module) Encode() []byte {
	out := binary.LittleEndian.AppendUint32(nil, Magic)
	out = binary.LittleEndian.AppendUint32(out, Version)

	if len(m.Types) > 0 {
		sec := AppendU32(nil, uint32(len(m.Types)))
		for _, ft := range m.Types {
			sec = append(sec, 0x60)
			sec = appendValTypes(sec, ft.Params)
			sec = appendValTypes(sec, ft.Results)
		}
		out = appendSection(out, SectionType, sec)
	}

	if len(m.Imports) > 0 {
		sec := AppendU32(nil, uint32(len(m.Imports)))
		for _, imp := range m.Imports {
			sec = appendName(sec, imp.Module)
			sec = appendName(sec, imp.Name)
			sec = append(sec, byte(imp.Desc.Kind))
			switch imp.Desc.Kind {
			case KindFunc:
				sec = AppendU32(sec, imp.Desc.TypeIdx)
			case KindTable:
				sec = appendTableType(sec, *imp.Desc.Table)
			case KindMemory:
				sec = appendLimits(sec, imp.Desc.Memory.Limits)
			case KindGlobal:
				sec = appendGlobalType(sec, *imp.Desc.Global)
			}
		}
		out = appendSection(out, SectionImport, sec)
	}

	if len(m.Funcs) > 0 {
		sec := AppendU32(nil, uint32(len(m.Funcs)))
		for _, fn := range m.Funcs {
			sec = AppendU32(sec, fn.TypeIdx)
		}
		out = appendSection(out, SectionFunction, sec)
	}

	if len(m.Tables) > 0 {
		sec := AppendU32(nil, uint32(len(m.Tables)))
		for _, t := range m.Tables {
			sec = appendTableType(sec, t)
		}
		out = appendSection(out, SectionTable, sec)
	}

	if len(m.Memories) > 0 {
		sec := AppendU32(nil, uint32(len(m.Memories)))
		for _, mem := range m.Memories {
			sec = appendLimits(sec, mem.Limits)
		}
		out = appendSection(out, SectionMemory, sec)
	}

	if len(m.Globals) > 0 {
		sec := AppendU32(nil, uint32(len(m.Globals)))
		for _, g := range m.Globals {
			sec = appendGlobalType(sec, g.Type)
			sec = append(sec, g.Init...)
		}
		out = appendSection(out, SectionGlobal, sec)
	}

	if len(m.Exports) > 0 {
		sec := AppendU32(nil, uint32(len(m.Exports)))
		for _, exp := range m.Exports {
			sec = appendName(sec, exp.Name)
			sec = append(sec, byte(exp.Kind))
			sec = AppendU32(sec, exp.Idx)
		}
		out = appendSection(out, SectionExport, sec)
	}

	if m.Start != nil {
		out = appendSection(out, SectionStart, AppendU32(nil, *m.Start))
	}

	if len(m.Funcs) > 0 {
		sec := AppendU32(nil, uint32(len(m.Funcs)))
		for _, fn := range m.Funcs {
			body := appendLocals(nil, fn.Locals)
			body = append(body, fn.Body...)
			sec = AppendU32(sec, uint32(len(body)))
			sec = append(sec, body...)
		}
		out = appendSection(out, SectionCode, sec)
	}

	if len(m.Data) > 0 {
		sec := AppendU32(nil, uint32(len(m.Data)))
		for _, d := range m.Data {
			sec = append(sec, 0x00) // active, memory 0
			sec = append(sec, d.Offset...)
			sec = AppendU32(sec, uint32(len(d.Init)))
			sec = append(sec, d.Init...)
		}
		out = appendSection(out, SectionData, sec)
	}

	return out
}

func appendSection(dst []byte, id byte, data []byte) []byte {
	dst = append(dst, id)
	dst = AppendU32(dst, uint32(len(data)))
	return append(dst, data...)
}

func appendName(dst []byte, s string) []byte {
	dst = AppendU32(dst, uint32(len(s)))
	return append(dst, s...)
}

func appendValTypes(dst []byte, types []ValType) []byte {
	dst = AppendU32(dst, uint32(len(types)))
	for _, t := range types {
		dst = append(dst, byte(t))
	}
	return dst
}

// appendLocals run-length encodes local declarations.
func appendLocals(dst []byte, locals []ValType) []byte {
	type run struct {
		t ValType
		n uint32
	}
	var runs []run
	for _, l := range locals {
		if len(runs) > 0 && runs[len(runs)-1].t == l {
			runs[len(runs)-1].n++
			continue
		}
		runs = append(runs, run{t: l, n: 1})
	}
	dst = AppendU32(dst, uint32(len(runs)))
	for _, r := range runs {
		dst = AppendU32(dst, r.n)
		dst = append(dst, byte(r.t))
	}
	return dst
}

func appendLimits(dst []byte, l Limits) []byte {
	var flags byte
	if l.Max != nil {
		flags |= LimitsHasMax
	}
	if l.Shared {
		flags |= LimitsShared
	}
	dst = append(dst, flags)
	dst = AppendU32(dst, l.Min)
	if l.Max != nil {
		dst = AppendU32(dst, *l.Max)
	}
	return dst
}

func appendTableType(dst []byte, t TableType) []byte {
	dst = append(dst, byte(t.ElemType))
	return appendLimits(dst, t.Limits)
}

func appendGlobalType(dst []byte, g GlobalType) []byte {
	dst = append(dst, byte(g.ValType))
	if g.Mutable {
		return append(dst, 0x01)
	}
	return append(dst, 0x00)
}
