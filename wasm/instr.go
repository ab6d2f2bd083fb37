package wasm

import (
	"encoding/binary"
	"math"
)

// Opcodes used by fixtures and the default environment.
const (
	OpUnreachable byte = 0x00
	OpNop         byte = 0x01
	OpBlock       byte = 0x02
	OpLoop        byte = 0x03
	OpIf          byte = 0x04
	OpElse        byte = 0x05
	OpEnd         byte = 0x0B
	OpBr          byte = 0x0C
	OpBrIf        byte = 0x0D
	OpReturn      byte = 0x0F
	OpCall        byte = 0x10
	OpDrop        byte = 0x1A
	OpLocalGet    byte = 0x20
	OpLocalSet    byte = 0x21
	OpGlobalGet   byte = 0x23
	OpGlobalSet   byte = 0x24
	OpI32Load     byte = 0x28
	OpI32Store    byte = 0x36
	OpI32Const    byte = 0x41
	OpI64Const    byte = 0x42
	OpF32Const    byte = 0x43
	OpF64Const    byte = 0x44
	OpI32Eqz      byte = 0x45
	OpI32Add      byte = 0x6A
	OpI32Sub      byte = 0x6B
	OpI32Mul      byte = 0x6C
	OpI32DivS     byte = 0x6D
	OpI64Add      byte = 0x7C
	OpF32Add      byte = 0x92
	OpF32Div      byte = 0x95
	OpF64Add      byte = 0xA0
	OpF64Div      byte = 0xA3
	OpRefNull     byte = 0xD0
	OpRefIsNull   byte = 0xD1
	OpRefFunc     byte = 0xD2

	OpAtomicPrefix   byte = 0xFE
	OpI32AtomicLoad  byte = 0x10
	OpI32AtomicStore byte = 0x17
	BlockTypeEmpty   byte = 0x40
	naturalAlignI32  byte = 2
)

// Code accumulates a function body or constant expression.
type Code struct {
	b []byte
}

// NewCode starts an empty instruction sequence.
func NewCode() *Code { return &Code{} }

// Op appends raw opcode bytes.
func (c *Code) Op(ops ...byte) *Code {
	c.b = append(c.b, ops...)
	return c
}

func (c *Code) I32Const(v int32) *Code {
	c.b = AppendS32(append(c.b, OpI32Const), v)
	return c
}

func (c *Code) I64Const(v int64) *Code {
	c.b = AppendS64(append(c.b, OpI64Const), v)
	return c
}

func (c *Code) F32Const(v float32) *Code { return c.F32Bits(math.Float32bits(v)) }

func (c *Code) F64Const(v float64) *Code { return c.F64Bits(math.Float64bits(v)) }

// F32Bits pushes an f32 with an exact bit pattern (for NaN payloads).
func (c *Code) F32Bits(bits uint32) *Code {
	c.b = binary.LittleEndian.AppendUint32(append(c.b, OpF32Const), bits)
	return c
}

// F64Bits pushes an f64 with an exact bit pattern (for NaN payloads).
func (c *Code) F64Bits(bits uint64) *Code {
	c.b = binary.LittleEndian.AppendUint64(append(c.b, OpF64Const), bits)
	return c
}

func (c *Code) LocalGet(idx uint32) *Code  { return c.withIndex(OpLocalGet, idx) }
func (c *Code) LocalSet(idx uint32) *Code  { return c.withIndex(OpLocalSet, idx) }
func (c *Code) GlobalGet(idx uint32) *Code { return c.withIndex(OpGlobalGet, idx) }
func (c *Code) GlobalSet(idx uint32) *Code { return c.withIndex(OpGlobalSet, idx) }
func (c *Code) Call(idx uint32) *Code      { return c.withIndex(OpCall, idx) }
func (c *Code) RefFunc(idx uint32) *Code   { return c.withIndex(OpRefFunc, idx) }

// RefNull pushes a null reference of type t.
func (c *Code) RefNull(t ValType) *Code {
	c.b = append(c.b, OpRefNull, byte(t))
	return c
}

// I32Load loads from memory 0 at the given static offset.
func (c *Code) I32Load(offset uint32) *Code {
	c.b = AppendU32(append(c.b, OpI32Load, naturalAlignI32), offset)
	return c
}

// I32Store stores to memory 0 at the given static offset.
func (c *Code) I32Store(offset uint32) *Code {
	c.b = AppendU32(append(c.b, OpI32Store, naturalAlignI32), offset)
	return c
}

// I32AtomicLoad is the threads proposal i32.atomic.load.
func (c *Code) I32AtomicLoad(offset uint32) *Code {
	c.b = AppendU32(append(c.b, OpAtomicPrefix, OpI32AtomicLoad, naturalAlignI32), offset)
	return c
}

// I32AtomicStore is the threads proposal i32.atomic.store.
func (c *Code) I32AtomicStore(offset uint32) *Code {
	c.b = AppendU32(append(c.b, OpAtomicPrefix, OpI32AtomicStore, naturalAlignI32), offset)
	return c
}

// Block opens a block with an empty block type.
func (c *Code) Block() *Code {
	c.b = append(c.b, OpBlock, BlockTypeEmpty)
	return c
}

// Loop opens a loop with an empty block type.
func (c *Code) Loop() *Code {
	c.b = append(c.b, OpLoop, BlockTypeEmpty)
	return c
}

func (c *Code) Br(depth uint32) *Code   { return c.withIndex(OpBr, depth) }
func (c *Code) BrIf(depth uint32) *Code { return c.withIndex(OpBrIf, depth) }

// Bytes returns the instructions without a trailing end.
func (c *Code) Bytes() []byte { return c.b }

// End appends the final end opcode and returns the encoded body.
func (c *Code) End() []byte {
	return append(c.b, OpEnd)
}

func (c *Code) withIndex(op byte, idx uint32) *Code {
	c.b = AppendU32(append(c.b, op), idx)
	return c
}

// ConstI32 returns the constant expression (i32.const v; end).
func ConstI32(v int32) []byte { return NewCode().I32Const(v).End() }

// ConstI64 returns the constant expression (i64.const v; end).
func ConstI64(v int64) []byte { return NewCode().I64Const(v).End() }

// ConstF32 returns the constant expression (f32.const v; end).
func ConstF32(v float32) []byte { return NewCode().F32Const(v).End() }

// ConstF64 returns the constant expression (f64.const v; end).
func ConstF64(v float64) []byte { return NewCode().F64Const(v).End() }
