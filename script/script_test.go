package script

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-harness/engine"
	"github.com/wippyai/wasm-harness/errors"
	"github.com/wippyai/wasm-harness/harness"
	"github.com/wippyai/wasm-harness/match"
	"github.com/wippyai/wasm-harness/report"
	"github.com/wippyai/wasm-harness/wasm"
)

var (
	i32  = []wasm.ValType{wasm.ValI32}
	i32s = []wasm.ValType{wasm.ValI32, wasm.ValI32}
)

func mathModule() []byte {
	m := &wasm.Module{}
	m.Export("add", wasm.KindFunc, m.AddFunc(wasm.FuncType{Params: i32s, Results: i32}, nil,
		wasm.NewCode().LocalGet(0).LocalGet(1).Op(wasm.OpI32Add).End()))
	m.Export("div_s", wasm.KindFunc, m.AddFunc(wasm.FuncType{Params: i32s, Results: i32}, nil,
		wasm.NewCode().LocalGet(0).LocalGet(1).Op(wasm.OpI32DivS).End()))
	loop := uint32(len(m.Funcs))
	m.Export("loop", wasm.KindFunc, m.AddFunc(wasm.FuncType{}, nil, wasm.NewCode().Call(loop).End()))
	m.Globals = append(m.Globals, wasm.Global{Type: wasm.GlobalType{ValType: wasm.ValI32}, Init: wasm.ConstI32(5)})
	m.Export("g", wasm.KindGlobal, 0)
	return m.Encode()
}

func importerModule() []byte {
	m := &wasm.Module{}
	add := m.ImportFunc("M", "add", wasm.FuncType{Params: i32s, Results: i32})
	m.Export("add3", wasm.KindFunc, m.AddFunc(wasm.FuncType{Params: i32, Results: i32}, nil,
		wasm.NewCode().LocalGet(0).I32Const(3).Call(add).End()))
	return m.Encode()
}

func sharedOwner() []byte {
	m := &wasm.Module{}
	m.Memories = append(m.Memories, wasm.MemoryType{Limits: wasm.Limits{Min: 1, Max: wasm.Max(1), Shared: true}})
	m.Export("shared", wasm.KindMemory, 0)
	m.Export("load", wasm.KindFunc, m.AddFunc(wasm.FuncType{Results: i32}, nil,
		wasm.NewCode().I32Const(16).I32AtomicLoad(0).End()))
	return m.Encode()
}

func sharedWriter() []byte {
	m := &wasm.Module{}
	m.Imports = append(m.Imports, wasm.Import{Module: "mem", Name: "shared", Desc: wasm.ImportDesc{
		Kind: wasm.KindMemory, Memory: &wasm.MemoryType{Limits: wasm.Limits{Min: 1, Max: wasm.Max(1), Shared: true}},
	}})
	m.Export("store", wasm.KindFunc, m.AddFunc(wasm.FuncType{Params: i32}, nil,
		wasm.NewCode().I32Const(16).LocalGet(0).I32AtomicStore(0).End()))
	return m.Encode()
}

func newWazero(t *testing.T) *engine.WazeroEngine {
	t.Helper()
	ctx := context.Background()
	e, err := engine.NewWazeroEngineWithConfig(ctx, &engine.Config{EnableThreads: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(ctx) })
	return e
}

func commandFile(t *testing.T, source string, commands ...Command) []byte {
	t.Helper()
	data, err := json.Marshal(File{SourceFile: source, Commands: commands})
	require.NoError(t, err)
	return data
}

func num(typ, v string) Value {
	return Value{Type: typ, Value: json.RawMessage(`"` + v + `"`)}
}

func invoke(module, field string, args ...Value) Action {
	return Action{Type: "invoke", Module: module, Field: field, Args: args}
}

func runSuite(t *testing.T, fsys fstest.MapFS, cfg *harness.Config, files ...string) *report.Recorder {
	t.Helper()
	rec := report.NewRecorder()
	s := &harness.Suite{Engine: newWazero(t), Loader: NewLoader(fsys), Reporter: rec, Config: cfg}
	require.NoError(t, s.Run(context.Background(), files...))
	return rec
}

func TestParse(t *testing.T) {
	f, err := Parse([]byte(`{"source_filename": "a.wast", "commands": [
		{"type": "module", "line": 1, "filename": "a.0.wasm"},
		{"type": "assert_return", "line": 2,
		 "action": {"type": "invoke", "field": "f", "args": []},
		 "expected": [{"type": "i32", "value": "1"}]}]}`))
	require.NoError(t, err)
	require.Equal(t, "a.wast", f.SourceFile)
	require.Len(t, f.Commands, 2)
	require.Equal(t, "f", f.Commands[1].Action.Field)

	_, err = Parse([]byte(`{"commands": [{"type": "assert_soft_invalid", "line": 7}]}`))
	require.True(t, errors.IsKind(err, errors.KindInvalidInput))
	require.Contains(t, err.Error(), "assert_soft_invalid")

	_, err = Parse([]byte(`{"commands": [`))
	require.True(t, errors.IsKind(err, errors.KindInvalidInput))
}

func TestValueArg(t *testing.T) {
	tests := []struct {
		in   Value
		want engine.Value
	}{
		{num("i32", "4294967295"), int32(-1)},
		{num("i64", "18446744073709551615"), int64(-1)},
		{num("f32", "1065353216"), float32(1)},
		{num("f64", "4607182418800017408"), float64(1)},
		{num("externref", "null"), engine.ExternRef(0)},
		{num("externref", "0"), harness.Externref(0)},
		{num("funcref", "null"), engine.FuncRef(0)},
		{Value{Type: "v128", LaneType: "i32", Value: json.RawMessage(`["1","2","3","4"]`)},
			engine.V128{Lo: 1 | 2<<32, Hi: 3 | 4<<32}},
		{Value{Type: "v128", LaneType: "i64", Value: json.RawMessage(`["7","18446744073709551615"]`)},
			engine.V128{Lo: 7, Hi: math.MaxUint64}},
	}
	for _, tt := range tests {
		got, err := tt.in.Arg()
		require.NoError(t, err, "%+v", tt.in)
		require.Equal(t, tt.want, got)
	}

	negZero, err := num("f32", "2147483648").Arg()
	require.NoError(t, err)
	require.Equal(t, uint32(0x80000000), math.Float32bits(negZero.(float32)))

	bad := []Value{
		num("i32", "-1"),
		num("i32", "4294967296"),
		num("f32", "nan:canonical"),
		num("funcref", "3"),
		num("anyref", "1"),
		{Type: "v128", LaneType: "i32", Value: json.RawMessage(`["1","2"]`)},
		{Type: "v128", LaneType: "i128", Value: json.RawMessage(`["1"]`)},
		{Type: "v128", LaneType: "f32", Value: json.RawMessage(`["0","nan:canonical","0","0"]`)},
	}
	for _, v := range bad {
		_, err := v.Arg()
		require.Error(t, err, "%+v", v)
	}
}

func TestValueExpected(t *testing.T) {
	canonical := math.Float32frombits(0x7fc00000)
	arithmetic := math.Float64frombits(0x7ff8000000000001)
	// f32x4 lanes 1.0, canonical NaN, arithmetic NaN, +0.
	f32x4 := Value{Type: "v128", LaneType: "f32",
		Value: json.RawMessage(`["1065353216","nan:canonical","nan:arithmetic","0"]`)}

	tests := []struct {
		in     Value
		actual engine.Value
		want   bool
	}{
		{num("i32", "3"), int32(3), true},
		{num("i32", "3"), int64(3), false},
		{num("f32", "nan:canonical"), canonical, true},
		{num("f64", "nan:canonical"), arithmetic, false},
		{num("f64", "nan:arithmetic"), arithmetic, true},
		{num("f32", "2143289344"), canonical, true},
		{num("f32", "4288675840"), math.Float32frombits(0xffa00000), true},
		{num("f32", "4288675840"), canonical, false},
		{num("f64", "18443366373989023744"), math.Float64frombits(0xfff4000000000000), true},
		{num("f64", "18443366373989023744"), arithmetic, false},
		{num("externref", "null"), engine.ExternRef(0), true},
		{num("externref", "1"), harness.Externref(1), true},
		{num("externref", "1"), harness.Externref(2), false},
		{Value{Type: "externref"}, harness.Externref(5), true},
		{Value{Type: "funcref"}, engine.FuncRef(2), true},
		{Value{Type: "funcref"}, engine.FuncRef(0), false},
		{num("funcref", "null"), engine.FuncRef(0), true},
		{Value{Type: "either", Values: []Value{num("i32", "1"), num("i32", "2")}}, int32(2), true},
		{Value{Type: "either", Values: []Value{num("i32", "1"), num("i32", "2")}}, int32(3), false},
		{f32x4, engine.V128{Lo: 0x7fc00000<<32 | 0x3f800000, Hi: 0x7fc00001}, true},
		{f32x4, engine.V128{Lo: 0xffc00000<<32 | 0x3f800000, Hi: 0x7fc00000}, true},
		{f32x4, engine.V128{Lo: 0x7fc00001<<32 | 0x3f800000, Hi: 0x7fc00001}, false},
		{f32x4, engine.V128{Lo: 0x7fc00000<<32 | 0x3f800000, Hi: 0x7f800001}, false},
		{f32x4, engine.V128{Lo: 0x7fc00000<<32 | 0x3f800000, Hi: 1<<32 | 0x7fc00001}, false},
		{Value{Type: "v128", LaneType: "f64", Value: json.RawMessage(`["nan:arithmetic","4607182418800017408"]`)},
			engine.V128{Lo: 0xfff8000000000001, Hi: math.Float64bits(1)}, true},
		{Value{Type: "v128", LaneType: "i16", Value: json.RawMessage(`["65535","1","0","0","0","0","0","0"]`)},
			engine.V128{Lo: 0x0001ffff}, true},
		{Value{Type: "v128", LaneType: "i16", Value: json.RawMessage(`["65535","1","0","0","0","0","0","0"]`)},
			engine.V128{Lo: 0x0002ffff}, false},
	}
	for _, tt := range tests {
		exp, err := tt.in.Expected()
		require.NoError(t, err, "%+v", tt.in)
		require.Equal(t, tt.want, match.Match(tt.actual, exp), "%+v against %s", tt.in, match.Format(tt.actual))
	}
}

func mathScript(t *testing.T) fstest.MapFS {
	return fstest.MapFS{
		"spec/math.json": {Data: commandFile(t, "math.wast",
			Command{Type: CommandModule, Line: 1, Name: "$M", Filename: "math.0.wasm"},
			Command{Type: CommandAssertReturn, Line: 2, Action: invoke("", "add", num("i32", "1"), num("i32", "2")),
				Expected: []Value{num("i32", "3")}},
			Command{Type: CommandAssertReturn, Line: 3, Action: invoke("$M", "add", num("i32", "4294967295"), num("i32", "0")),
				Expected: []Value{num("i32", "4294967295")}},
			Command{Type: CommandAssertTrap, Line: 4, Action: invoke("", "div_s", num("i32", "1"), num("i32", "0")), Text: "integer divide by zero"},
			Command{Type: CommandAssertExhaustion, Line: 5, Action: invoke("", "loop"), Text: "call stack exhausted"},
			Command{Type: CommandAssertReturn, Line: 6, Action: Action{Type: "get", Field: "g"}, Expected: []Value{num("i32", "5")}},
			Command{Type: CommandAction, Line: 7, Action: invoke("", "add", num("i32", "0"), num("i32", "0"))},
			Command{Type: CommandAssertUnlinkable, Line: 8, Filename: "math.1.wasm", Text: "unknown import"},
			Command{Type: CommandRegister, Line: 9, Name: "$M", As: "M"},
			Command{Type: CommandModule, Line: 10, Filename: "math.1.wasm"},
			Command{Type: CommandAssertReturn, Line: 11, Action: invoke("", "add3", num("i32", "4")), Expected: []Value{num("i32", "7")}},
			Command{Type: CommandAssertInvalid, Line: 12, Filename: "math.2.wasm", Text: "type mismatch"},
			Command{Type: CommandAssertMalformed, Line: 13, Filename: "math.3.wat", ModuleType: "text", Text: "unknown operator"},
		)},
		"spec/math.0.wasm": {Data: mathModule()},
		"spec/math.1.wasm": {Data: importerModule()},
		"spec/math.2.wasm": {Data: []byte("\x00asm\x01\x00\x00\x00\x0a")},
	}
}

func TestLoaderRunsCommandFile(t *testing.T) {
	rec := runSuite(t, mathScript(t), &harness.Config{ID: "math"}, "spec/math.json")

	for _, r := range rec.Failures() {
		t.Errorf("%s", r)
	}
	results := rec.Results()
	require.NotEmpty(t, results)

	locs := make(map[string]string)
	for _, r := range results {
		if _, ok := locs[r.Location]; !ok {
			locs[r.Location] = r.Name
		}
	}
	require.Contains(t, locs["math.wast:4"], "Test that a WebAssembly code traps")
	require.Contains(t, locs["math.wast:5"], "Test that a WebAssembly code exhausts the stack space")
	require.Contains(t, locs["math.wast:8"], "(math)")
	require.NotContains(t, locs, "math.wast:13", "text modules are skipped")
}

func TestLoaderErrors(t *testing.T) {
	fsys := fstest.MapFS{
		"missing.json": {Data: commandFile(t, "missing.wast",
			Command{Type: CommandModule, Line: 1, Filename: "missing.0.wasm"})},
		"badvalue.json": {Data: commandFile(t, "bad.wast",
			Command{Type: CommandAction, Line: 3, Action: invoke("", "f", num("i32", "x"))})},
		"badaction.json": {Data: commandFile(t, "bad.wast",
			Command{Type: CommandAction, Line: 4, Action: Action{Type: "call"}})},
	}
	l := NewLoader(fsys)

	_, err := l.Load("missing.json")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing.wast:1")

	_, err = l.Load("badvalue.json")
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad.wast:3")

	_, err = l.Load("badaction.json")
	require.Contains(t, err.Error(), `unknown action type "call"`)

	_, err = l.Load("nope.json")
	require.True(t, errors.IsKind(err, errors.KindInvalidInput))

	names, err := l.Glob("*.json")
	require.NoError(t, err)
	require.Equal(t, []string{"badaction.json", "badvalue.json", "missing.json"}, names)
}

func TestUnknownThreadIsRecorded(t *testing.T) {
	fsys := fstest.MapFS{
		"w.json": {Data: commandFile(t, "w.wast", Command{Type: CommandWait, Line: 2, Thread: "$T9"})},
	}
	rec := runSuite(t, fsys, nil, "w.json")

	failures := rec.Failures()
	require.Len(t, failures, 1)
	require.Equal(t, "w.wast:2", failures[0].Location)
	require.True(t, errors.IsKind(failures[0].Err, errors.KindNotFound))
}

func TestThreadCommands(t *testing.T) {
	fsys := fstest.MapFS{
		"threads/main.json": {Data: commandFile(t, "main.wast",
			Command{Type: CommandModule, Line: 1, Name: "$Mem", Filename: "main.0.wasm"},
			Command{Type: CommandThread, Line: 2, Name: "$T1", Shared: []string{"$Mem"}, Filename: "T1.json"},
			Command{Type: CommandWait, Line: 8, Thread: "$T1"},
			Command{Type: CommandAssertReturn, Line: 9, Action: invoke("$Mem", "load"), Expected: []Value{num("i32", "42")}},
		)},
		"threads/main.0.wasm": {Data: sharedOwner()},
		"threads/T1.json": {Data: commandFile(t, "T1.wast",
			Command{Type: CommandRegister, Line: 3, Name: "$Mem", As: "mem"},
			Command{Type: CommandModule, Line: 4, Filename: "T1.0.wasm"},
			Command{Type: CommandAction, Line: 5, Action: invoke("", "store", num("i32", "42"))},
		)},
		"threads/T1.0.wasm": {Data: sharedWriter()},
	}
	rec := runSuite(t, fsys, &harness.Config{WaitTimeout: 5 * time.Second}, "threads/main.json")

	for _, r := range rec.Failures() {
		t.Errorf("%s", r)
	}
	var fromWorker bool
	for _, r := range rec.Results() {
		if r.Source == "worker:threads/T1.json" && r.Location == "T1.wast:5" {
			fromWorker = true
		}
	}
	require.True(t, fromWorker, "the store ran inside the worker")
}
