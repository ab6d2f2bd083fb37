package harness

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-harness/engine"
	"github.com/wippyai/wasm-harness/match"
	"github.com/wippyai/wasm-harness/wasm"
)

// SpectestNamespace is the registry name of the default environment.
const SpectestNamespace = "spectest"

// spectestHost is the host module backing the spectest print functions.
const spectestHost = "spectest_host"

// SpectestValue is the initial value of the spectest globals.
const SpectestValue = 666

var printFuncs = []struct {
	name   string
	params []wasm.ValType
}{
	{"print", nil},
	{"print_i32", []wasm.ValType{wasm.ValI32}},
	{"print_i64", []wasm.ValType{wasm.ValI64}},
	{"print_f32", []wasm.ValType{wasm.ValF32}},
	{"print_f64", []wasm.ValType{wasm.ValF64}},
	{"print_i32_f32", []wasm.ValType{wasm.ValI32, wasm.ValF32}},
	{"print_f64_f64", []wasm.ValType{wasm.ValF64, wasm.ValF64}},
}

func spectestHostFuncs() []engine.HostFunc {
	funcs := make([]engine.HostFunc, len(printFuncs))
	for i, pf := range printFuncs {
		pf := pf
		funcs[i] = engine.HostFunc{
			Name:   pf.name,
			Params: pf.params,
			Fn: func(_ context.Context, args []engine.Value) []engine.Value {
				vals := make([]string, len(args))
				for n, a := range args {
					vals[n] = match.Format(a)
				}
				Logger().Info(pf.name, zap.Strings("args", vals))
				return nil
			},
		}
	}
	return funcs
}

// spectestModule re-exports the host print functions and defines the
// spectest globals, table and memory. Instantiating it gives each file its
// own table and memory.
var spectestModule = sync.OnceValue(func() []byte {
	m := &wasm.Module{}
	for _, pf := range printFuncs {
		idx := m.ImportFunc(spectestHost, pf.name, wasm.FuncType{Params: pf.params})
		m.Export(pf.name, wasm.KindFunc, idx)
	}

	globals := []struct {
		name string
		typ  wasm.ValType
		init []byte
	}{
		{"global_i32", wasm.ValI32, wasm.ConstI32(SpectestValue)},
		{"global_i64", wasm.ValI64, wasm.ConstI64(SpectestValue)},
		{"global_f32", wasm.ValF32, wasm.ConstF32(SpectestValue)},
		{"global_f64", wasm.ValF64, wasm.ConstF64(SpectestValue)},
	}
	for i, g := range globals {
		m.Globals = append(m.Globals, wasm.Global{Type: wasm.GlobalType{ValType: g.typ}, Init: g.init})
		m.Export(g.name, wasm.KindGlobal, uint32(i))
	}

	m.Tables = append(m.Tables, wasm.TableType{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: 10, Max: wasm.Max(20)}})
	m.Export("table", wasm.KindTable, 0)
	m.Memories = append(m.Memories, wasm.MemoryType{Limits: wasm.Limits{Min: 1, Max: wasm.Max(2)}})
	m.Export("memory", wasm.KindMemory, 0)
	return m.Encode()
})

// spectest instantiates a fresh default environment.
func (h *Harness) spectest(ctx context.Context) (*engine.Bundle, error) {
	host, err := h.engine.HostModule(ctx, spectestHost, spectestHostFuncs())
	if err != nil {
		return nil, err
	}
	m, err := h.engine.Compile(ctx, spectestModule())
	if err != nil {
		return nil, err
	}
	h.track(m)

	inst, err := h.engine.Instantiate(ctx, m, engine.Imports{spectestHost: host.Exports()})
	if err != nil {
		return nil, err
	}
	h.track(inst)
	return inst.Exports(), nil
}

// Externref returns the host reference for n. Equal n give equal
// references, and none of them is null.
func Externref(n uint32) engine.ExternRef {
	return engine.ExternRef(uint64(n) + 1)
}

// IsExternref reports whether v is a non-null host reference.
func IsExternref(v engine.Value) bool {
	r, ok := v.(engine.ExternRef)
	return ok && !r.IsNull()
}

// IsFuncref reports whether v is a non-null function reference.
func IsFuncref(v engine.Value) bool {
	r, ok := v.(engine.FuncRef)
	return ok && !r.IsNull()
}
