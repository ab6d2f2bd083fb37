package engine

import (
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-harness/wasm"
)

// Value is one of int32, int64, float32, float64, V128, FuncRef or ExternRef.
type Value = any

// FuncRef is an opaque function reference. Zero is null.
type FuncRef uint64

// IsNull reports whether r is the null reference.
func (r FuncRef) IsNull() bool { return r == 0 }

// ExternRef is an opaque host reference. Zero is null.
type ExternRef uint64

// IsNull reports whether r is the null reference.
func (r ExternRef) IsNull() bool { return r == 0 }

// V128 is a 128-bit vector value.
type V128 struct {
	Lo, Hi uint64
}

// slots returns how many stack slots a value of type t occupies.
func slots(t wasm.ValType) int {
	if t == wasm.ValV128 {
		return 2
	}
	return 1
}

// encodeValue converts v to its stack representation for a parameter of type t.
func encodeValue(t wasm.ValType, v Value) ([]uint64, error) {
	switch t {
	case wasm.ValI32:
		switch x := v.(type) {
		case int32:
			return []uint64{api.EncodeI32(x)}, nil
		case uint32:
			return []uint64{uint64(x)}, nil
		case int:
			return []uint64{api.EncodeI32(int32(x))}, nil
		}
	case wasm.ValI64:
		switch x := v.(type) {
		case int64:
			return []uint64{api.EncodeI64(x)}, nil
		case uint64:
			return []uint64{x}, nil
		case int:
			return []uint64{api.EncodeI64(int64(x))}, nil
		}
	case wasm.ValF32:
		if x, ok := v.(float32); ok {
			return []uint64{api.EncodeF32(x)}, nil
		}
	case wasm.ValF64:
		if x, ok := v.(float64); ok {
			return []uint64{api.EncodeF64(x)}, nil
		}
	case wasm.ValV128:
		if x, ok := v.(V128); ok {
			return []uint64{x.Lo, x.Hi}, nil
		}
	case wasm.ValFuncRef:
		if x, ok := v.(FuncRef); ok {
			return []uint64{uint64(x)}, nil
		}
	case wasm.ValExternRef:
		if x, ok := v.(ExternRef); ok {
			return []uint64{uint64(x)}, nil
		}
	}
	return nil, fmt.Errorf("cannot pass %T as %s", v, t)
}

// decodeValues converts raw stack slots to Values according to types.
func decodeValues(types []wasm.ValType, raw []uint64) []Value {
	out := make([]Value, 0, len(types))
	i := 0
	for _, t := range types {
		if i+slots(t) > len(raw) {
			break
		}
		out = append(out, decodeValue(t, raw[i:]))
		i += slots(t)
	}
	return out
}

func decodeValue(t wasm.ValType, raw []uint64) Value {
	switch t {
	case wasm.ValI32:
		return api.DecodeI32(raw[0])
	case wasm.ValI64:
		return int64(raw[0])
	case wasm.ValF32:
		return api.DecodeF32(raw[0])
	case wasm.ValF64:
		return api.DecodeF64(raw[0])
	case wasm.ValV128:
		return V128{Lo: raw[0], Hi: raw[1]}
	case wasm.ValFuncRef:
		return FuncRef(raw[0])
	case wasm.ValExternRef:
		return ExternRef(raw[0])
	}
	return raw[0]
}

// collapse shapes a result list the way Instance.Invoke reports it.
func collapse(vals []Value) any {
	switch len(vals) {
	case 0:
		return nil
	case 1:
		return vals[0]
	}
	return vals
}

func valTypes(ts []api.ValueType) []wasm.ValType {
	out := make([]wasm.ValType, len(ts))
	for i, t := range ts {
		out[i] = wasm.ValType(t)
	}
	return out
}

func apiTypes(ts []wasm.ValType) []api.ValueType {
	out := make([]api.ValueType, len(ts))
	for i, t := range ts {
		out[i] = api.ValueType(t)
	}
	return out
}
