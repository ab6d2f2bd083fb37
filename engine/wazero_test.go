package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/wippyai/wasm-harness/errors"
	"github.com/wippyai/wasm-harness/wasm"
)

var (
	i32  = []wasm.ValType{wasm.ValI32}
	i32s = []wasm.ValType{wasm.ValI32, wasm.ValI32}
)

func newEngine(t *testing.T, cfg *Config) *WazeroEngine {
	t.Helper()
	ctx := context.Background()
	e, err := NewWazeroEngineWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("NewWazeroEngineWithConfig failed: %v", err)
	}
	t.Cleanup(func() { _ = e.Close(ctx) })
	return e
}

func instantiate(t *testing.T, e *WazeroEngine, bin []byte, imports Resolver) Instance {
	t.Helper()
	ctx := context.Background()
	m, err := e.Compile(ctx, bin)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	inst, err := e.Instantiate(ctx, m, imports)
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	return inst
}

// arithModule exports add, div_s, swap, loop and an externref identity.
func arithModule() []byte {
	m := &wasm.Module{}
	m.Export("add", wasm.KindFunc, m.AddFunc(wasm.FuncType{Params: i32s, Results: i32}, nil,
		wasm.NewCode().LocalGet(0).LocalGet(1).Op(wasm.OpI32Add).End()))
	m.Export("div_s", wasm.KindFunc, m.AddFunc(wasm.FuncType{Params: i32s, Results: i32}, nil,
		wasm.NewCode().LocalGet(0).LocalGet(1).Op(wasm.OpI32DivS).End()))
	m.Export("swap", wasm.KindFunc, m.AddFunc(wasm.FuncType{Params: i32s, Results: i32s}, nil,
		wasm.NewCode().LocalGet(1).LocalGet(0).End()))
	loop := uint32(len(m.Funcs))
	m.Export("loop", wasm.KindFunc, m.AddFunc(wasm.FuncType{}, nil, wasm.NewCode().Call(loop).End()))
	m.Export("unreachable", wasm.KindFunc, m.AddFunc(wasm.FuncType{}, nil, wasm.NewCode().Op(wasm.OpUnreachable).End()))
	m.Export("id_ref", wasm.KindFunc, m.AddFunc(
		wasm.FuncType{Params: []wasm.ValType{wasm.ValExternRef}, Results: []wasm.ValType{wasm.ValExternRef}}, nil,
		wasm.NewCode().LocalGet(0).End()))
	m.Export("f64", wasm.KindFunc, m.AddFunc(wasm.FuncType{Results: []wasm.ValType{wasm.ValF64}}, nil,
		wasm.NewCode().F64Const(1.5).End()))
	m.Globals = append(m.Globals, wasm.Global{Type: wasm.GlobalType{ValType: wasm.ValI64, Mutable: true}, Init: wasm.ConstI64(42)})
	m.Export("counter", wasm.KindGlobal, 0)
	m.Memories = append(m.Memories, wasm.MemoryType{Limits: wasm.Limits{Min: 1}})
	m.Export("mem", wasm.KindMemory, 0)
	m.Tables = append(m.Tables, wasm.TableType{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: 2, Max: wasm.Max(4)}})
	m.Export("tab", wasm.KindTable, 0)
	return m.Encode()
}

func TestNewWazeroEngineWithConfig(t *testing.T) {
	tests := []struct {
		cfg  *Config
		name string
	}{
		{nil, "nil config"},
		{&Config{}, "default config"},
		{&Config{MemoryLimitPages: 256}, "16MB limit"},
		{&Config{EnableThreads: true}, "threads"},
		{&Config{Interpreter: true}, "interpreter"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			e := newEngine(t, tc.cfg)
			if e.runtime == nil {
				t.Error("engine runtime should not be nil")
			}
		})
	}
}

func TestWazeroEngine_Validate(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()

	if !e.Validate(ctx, arithModule()) {
		t.Error("valid module rejected")
	}
	if e.Validate(ctx, []byte("not wasm")) {
		t.Error("garbage accepted")
	}

	// i32.add with a single operand does not type check
	m := &wasm.Module{}
	m.AddFunc(wasm.FuncType{Results: i32}, nil, wasm.NewCode().I32Const(1).Op(wasm.OpI32Add).End())
	if e.Validate(ctx, m.Encode()) {
		t.Error("ill-typed module accepted")
	}
}

func TestWazeroEngine_CompileError(t *testing.T) {
	e := newEngine(t, nil)
	_, err := e.Compile(context.Background(), []byte{0x00, 0x61, 0x73, 0x6d, 0x02, 0x00, 0x00, 0x00})
	if err == nil {
		t.Fatal("expected compile error")
	}
	if errors.KindOf(err) != errors.KindCompile {
		t.Errorf("expected compile kind, got %q (%v)", errors.KindOf(err), err)
	}
}

func TestWazeroInstance_Invoke(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()
	inst := instantiate(t, e, arithModule(), nil)

	tests := []struct {
		want any
		name string
		fn   string
		args []Value
	}{
		{int32(5), "single result", "add", []Value{int32(2), int32(3)}},
		{int32(-2), "wraps", "add", []Value{int32(0x7fffffff), int32(0x7fffffff)}},
		{[]Value{int32(2), int32(1)}, "multi result", "swap", []Value{int32(1), int32(2)}},
		{ExternRef(7), "externref", "id_ref", []Value{ExternRef(7)}},
		{ExternRef(0), "null externref", "id_ref", []Value{ExternRef(0)}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := inst.Invoke(ctx, tt.fn, tt.args...)
			if err != nil {
				t.Fatalf("Invoke failed: %v", err)
			}
			switch want := tt.want.(type) {
			case []Value:
				list, ok := got.([]Value)
				if !ok || len(list) != len(want) {
					t.Fatalf("got %#v, want %#v", got, want)
				}
				for i := range want {
					if list[i] != want[i] {
						t.Errorf("result %d: got %#v, want %#v", i, list[i], want[i])
					}
				}
			default:
				if got != tt.want {
					t.Errorf("got %#v, want %#v", got, tt.want)
				}
			}
		})
	}

	got, err := inst.Invoke(ctx, "f64")
	if err != nil {
		t.Fatalf("Invoke f64 failed: %v", err)
	}
	if f, ok := got.(float64); !ok || f != 1.5 {
		t.Errorf("expected float64 1.5, got %#v", got)
	}
}

func TestWazeroInstance_InvokeErrors(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()
	inst := instantiate(t, e, arithModule(), nil)

	tests := []struct {
		name string
		fn   string
		kind errors.Kind
		args []Value
	}{
		{"divide by zero", "div_s", errors.KindTrap, []Value{int32(1), int32(0)}},
		{"unreachable", "unreachable", errors.KindTrap, nil},
		{"stack overflow", "loop", errors.KindExhaustion, nil},
		{"unknown export", "missing", errors.KindInvocation, nil},
		{"arity", "add", errors.KindInvocation, []Value{int32(1)}},
		{"argument type", "add", errors.KindInvocation, []Value{int32(1), 2.5}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := inst.Invoke(ctx, tt.fn, tt.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.KindOf(err) != tt.kind {
				t.Errorf("expected kind %q, got %q (%v)", tt.kind, errors.KindOf(err), err)
			}
		})
	}
}

func TestWazeroInstance_Exports(t *testing.T) {
	e := newEngine(t, nil)
	inst := instantiate(t, e, arithModule(), nil)
	b := inst.Exports()

	want := []string{"add", "counter", "div_s", "f64", "id_ref", "loop", "mem", "swap", "tab", "unreachable"}
	names := b.Names()
	if len(names) != len(want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	g, ok := b.Get("counter")
	if !ok {
		t.Fatal("counter not exported")
	}
	global := g.(*Global)
	if !global.Mutable || global.Type != wasm.ValI64 || global.Value() != int64(42) {
		t.Errorf("unexpected global %+v value %#v", global, global.Value())
	}

	mem, _ := b.Get("mem")
	if m := mem.(*Memory); m.Shared || m.Min != 1 || m.Size() != 65536 {
		t.Errorf("unexpected memory %+v", m)
	}
	if !mem.(*Memory).WriteUint32(8, 0xdeadbeef) {
		t.Fatal("write failed")
	}
	if v, ok := mem.(*Memory).ReadUint32(8); !ok || v != 0xdeadbeef {
		t.Errorf("read back %x", v)
	}

	tab, _ := b.Get("tab")
	if tb := tab.(*Table); tb.ElemType != wasm.ValFuncRef || tb.Min != 2 || *tb.Max != 4 {
		t.Errorf("unexpected table %+v", tb)
	}

	fn, _ := b.Get("swap")
	if f := fn.(*Func); len(f.Params) != 2 || len(f.Results) != 2 {
		t.Errorf("unexpected func signature %+v", f)
	}
}

func importer(module, name string, desc wasm.ImportDesc, body func(m *wasm.Module)) []byte {
	m := &wasm.Module{}
	m.AddType(wasm.FuncType{Params: i32s, Results: i32})
	m.Imports = append(m.Imports, wasm.Import{Module: module, Name: name, Desc: desc})
	if body != nil {
		body(m)
	}
	return m.Encode()
}

func TestWazeroEngine_LinkAliasedNamespace(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()
	provider := instantiate(t, e, arithModule(), nil)

	bin := importer("aliased", "add", wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0}, func(m *wasm.Module) {
		m.Export("add_twice", wasm.KindFunc, m.AddFunc(wasm.FuncType{Params: i32s, Results: i32}, nil,
			wasm.NewCode().LocalGet(0).LocalGet(1).Call(0).LocalGet(1).Call(0).End()))
	})
	inst := instantiate(t, e, bin, Imports{"aliased": provider.Exports()})

	got, err := inst.Invoke(ctx, "add_twice", int32(1), int32(10))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if got != int32(21) {
		t.Errorf("got %#v, want 21", got)
	}
}

func TestWazeroEngine_LinkErrors(t *testing.T) {
	e := newEngine(t, &Config{EnableThreads: true})
	ctx := context.Background()
	provider := instantiate(t, e, arithModule(), nil)
	imports := Imports{"p": provider.Exports()}

	shared := &wasm.MemoryType{Limits: wasm.Limits{Min: 1, Max: wasm.Max(1), Shared: true}}

	tests := []struct {
		name    string
		imports Resolver
		module  string
		field   string
		desc    wasm.ImportDesc
	}{
		{"unknown namespace", imports, "nope", "add", wasm.ImportDesc{Kind: wasm.KindFunc}},
		{"unknown export", imports, "p", "nope", wasm.ImportDesc{Kind: wasm.KindFunc}},
		{"kind mismatch", imports, "p", "mem", wasm.ImportDesc{Kind: wasm.KindFunc}},
		{"shared mismatch", imports, "p", "mem", wasm.ImportDesc{Kind: wasm.KindMemory, Memory: shared}},
		{"signature mismatch", imports, "p", "swap", wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0}},
		{"filtered away", Imports{"p": provider.Exports().Filter(SharedMemories)}, "p", "add", wasm.ImportDesc{Kind: wasm.KindFunc}},
		{"nil resolver", nil, "p", "add", wasm.ImportDesc{Kind: wasm.KindFunc}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			m, err := e.Compile(ctx, importer(tt.module, tt.field, tt.desc, nil))
			if err != nil {
				t.Fatalf("Compile failed: %v", err)
			}
			defer m.Close(ctx)

			_, err = e.Instantiate(ctx, m, tt.imports)
			if err == nil {
				t.Fatal("expected link error")
			}
			if errors.KindOf(err) != errors.KindLink {
				t.Errorf("expected link kind, got %q (%v)", errors.KindOf(err), err)
			}
		})
	}
}

func TestWazeroEngine_Uninstantiable(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()

	trapStart := &wasm.Module{}
	start := trapStart.AddFunc(wasm.FuncType{}, nil, wasm.NewCode().Op(wasm.OpUnreachable).End())
	trapStart.Start = &start

	oobData := &wasm.Module{}
	oobData.Memories = append(oobData.Memories, wasm.MemoryType{Limits: wasm.Limits{Min: 1}})
	oobData.Data = append(oobData.Data, wasm.DataSegment{Offset: wasm.ConstI32(65536), Init: []byte{1}})

	tests := []struct {
		name string
		bin  []byte
	}{
		{"start traps", trapStart.Encode()},
		{"data out of bounds", oobData.Encode()},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			m, err := e.Compile(ctx, tt.bin)
			if err != nil {
				t.Fatalf("Compile failed: %v", err)
			}
			_, err = e.Instantiate(ctx, m, nil)
			if errors.KindOf(err) != errors.KindRuntime {
				t.Errorf("expected runtime kind, got %q (%v)", errors.KindOf(err), err)
			}
		})
	}
}

func TestWazeroEngine_SharedMemoryAcrossInstances(t *testing.T) {
	e := newEngine(t, &Config{EnableThreads: true})
	ctx := context.Background()

	owner := &wasm.Module{}
	owner.Memories = append(owner.Memories, wasm.MemoryType{Limits: wasm.Limits{Min: 1, Max: wasm.Max(1), Shared: true}})
	owner.Export("shared", wasm.KindMemory, 0)
	ownerInst := instantiate(t, e, owner.Encode(), nil)

	scope := ownerInst.Exports().Filter(SharedMemories)
	if scope.Len() != 1 {
		t.Fatalf("expected one shared memory, got %v", scope.Names())
	}

	user := &wasm.Module{}
	user.Imports = append(user.Imports, wasm.Import{Module: "mem", Name: "shared", Desc: wasm.ImportDesc{
		Kind: wasm.KindMemory, Memory: &wasm.MemoryType{Limits: wasm.Limits{Min: 1, Max: wasm.Max(1), Shared: true}},
	}})
	user.Export("store", wasm.KindFunc, user.AddFunc(wasm.FuncType{Params: i32}, nil,
		wasm.NewCode().I32Const(16).LocalGet(0).I32AtomicStore(0).End()))
	userInst := instantiate(t, e, user.Encode(), Imports{"mem": scope})

	if _, err := userInst.Invoke(ctx, "store", int32(99)); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	mem, _ := scope.Get("shared")
	if v, ok := mem.(*Memory).ReadUint32(16); !ok || v != 99 {
		t.Errorf("owner memory holds %d, want 99", v)
	}
}

func TestWazeroEngine_HostModule(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()

	var seen []Value
	funcs := []HostFunc{
		{Name: "record", Params: i32, Fn: func(_ context.Context, args []Value) []Value {
			seen = append(seen, args...)
			return nil
		}},
		{Name: "double", Params: i32, Results: i32, Fn: func(_ context.Context, args []Value) []Value {
			return []Value{args[0].(int32) * 2}
		}},
	}
	host, err := e.HostModule(ctx, "env", funcs)
	if err != nil {
		t.Fatalf("HostModule failed: %v", err)
	}
	again, err := e.HostModule(ctx, "env", nil)
	if err != nil || again != host {
		t.Fatalf("expected cached host module, got %v, %v", again, err)
	}

	m := &wasm.Module{}
	record := m.ImportFunc("env", "record", wasm.FuncType{Params: i32})
	double := m.ImportFunc("env", "double", wasm.FuncType{Params: i32, Results: i32})
	m.Export("run", wasm.KindFunc, m.AddFunc(wasm.FuncType{Params: i32}, nil,
		wasm.NewCode().LocalGet(0).Call(double).Call(record).End()))
	inst := instantiate(t, e, m.Encode(), Imports{"env": host.Exports()})

	if _, err := inst.Invoke(ctx, "run", int32(21)); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if len(seen) != 1 || seen[0] != int32(42) {
		t.Errorf("host saw %v, want [42]", seen)
	}
	if err := host.Close(ctx); err != nil {
		t.Errorf("closing a host instance should be a no-op: %v", err)
	}
}

func TestWazeroEngine_HostModuleAliased(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()

	host, err := e.HostModule(ctx, "env", []HostFunc{
		{Name: "inc", Params: i32, Results: i32, Fn: func(_ context.Context, args []Value) []Value {
			return []Value{args[0].(int32) + 1}
		}},
	})
	if err != nil {
		t.Fatalf("HostModule failed: %v", err)
	}
	if host.Exports().Source() == nil {
		t.Fatal("host bundle should carry a linkable source")
	}

	m := &wasm.Module{}
	inc := m.ImportFunc("aliased", "inc", wasm.FuncType{Params: i32, Results: i32})
	m.Export("run", wasm.KindFunc, m.AddFunc(wasm.FuncType{Params: i32, Results: i32}, nil,
		wasm.NewCode().LocalGet(0).Call(inc).End()))
	bin := m.Encode()

	// Relinking the same host bundle must keep working across instances.
	for i := 0; i < 2; i++ {
		inst := instantiate(t, e, bin, Imports{"aliased": host.Exports()})
		got, err := inst.Invoke(ctx, "run", int32(41))
		if err != nil {
			t.Fatalf("Invoke failed: %v", err)
		}
		if got != int32(42) {
			t.Errorf("run(41) = %v, want 42", got)
		}
		if err := inst.Close(ctx); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	}
}

func TestBundle(t *testing.T) {
	var nilBundle *Bundle
	if nilBundle.Len() != 0 || nilBundle.Names() != nil || nilBundle.Source() != nil {
		t.Error("nil bundle should behave as empty")
	}
	if _, ok := nilBundle.Get("x"); ok {
		t.Error("nil bundle has no exports")
	}
	if EmptyBundle().Filter(SharedMemories).Len() != 0 {
		t.Error("filtering an empty bundle should stay empty")
	}

	b := NewBundle(nil, map[string]Extern{
		"f":      &Func{Params: i32},
		"mem":    NewMemory(nil, wasm.MemoryType{Limits: wasm.Limits{Min: 1, Max: wasm.Max(2)}}),
		"shared": NewMemory(nil, wasm.MemoryType{Limits: wasm.Limits{Min: 1, Max: wasm.Max(1), Shared: true}}),
		"g":      ConstGlobal(wasm.ValI32, int32(666)),
	})
	if got := b.Filter(SharedMemories).Names(); len(got) != 1 || got[0] != "shared" {
		t.Errorf("Filter(SharedMemories) = %v", got)
	}
	if g, _ := b.Get("g"); g.(*Global).Value() != int32(666) {
		t.Error("const global value lost")
	}

	data, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var decoded map[string]map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded["shared"]["kind"] != "memory" || decoded["shared"]["shared"] != true {
		t.Errorf("unexpected shared memory encoding %v", decoded["shared"])
	}
	if decoded["g"]["type"] != "i32" || decoded["f"]["kind"] != "func" {
		t.Errorf("unexpected encoding %s", data)
	}
}

func TestImportsLookup(t *testing.T) {
	b := EmptyBundle()
	imports := Imports{"a": b, "nil": nil}
	if imports.Lookup("a") != b {
		t.Error("registered bundle not returned")
	}
	if imports.Lookup("missing") == nil || imports.Lookup("missing").Len() != 0 {
		t.Error("missing namespace should resolve to an empty bundle")
	}
	if imports.Lookup("nil") == nil {
		t.Error("nil entry should resolve to an empty bundle")
	}
}
