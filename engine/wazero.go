package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-harness/errors"
	"github.com/wippyai/wasm-harness/wasm"
)

// WazeroEngine implements Engine using wazero runtime
type WazeroEngine struct {
	runtime wazero.Runtime
	hosts   map[string]*hostModule
	hostsMu sync.Mutex
}

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	MemoryLimitPages uint32 `yaml:"memory_limit_pages"`

	// EnableThreads enables the WebAssembly threads proposal (shared memory,
	// atomics). Required for scripts that spawn workers over shared memory.
	EnableThreads bool `yaml:"threads"`

	// Interpreter selects wazero's interpreter instead of the compiler.
	Interpreter bool `yaml:"interpreter"`
}

// NewWazeroEngine creates a new wazero-based engine
func NewWazeroEngine(ctx context.Context) (*WazeroEngine, error) {
	return NewWazeroEngineWithConfig(ctx, nil)
}

// NewWazeroEngineWithConfig creates a new engine with custom configuration
func NewWazeroEngineWithConfig(ctx context.Context, cfg *Config) (*WazeroEngine, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg != nil && cfg.Interpreter {
		runtimeCfg = wazero.NewRuntimeConfigInterpreter()
	}
	runtimeCfg = runtimeCfg.WithCloseOnContextDone(true)

	if cfg != nil {
		if cfg.MemoryLimitPages > 0 {
			runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
		}
		if cfg.EnableThreads {
			runtimeCfg = runtimeCfg.WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesThreads)
		}
	}

	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	return &WazeroEngine{runtime: runtime, hosts: make(map[string]*hostModule)}, nil
}

// Validate reports whether bin compiles.
func (e *WazeroEngine) Validate(ctx context.Context, bin []byte) bool {
	compiled, err := e.runtime.CompileModule(ctx, bin)
	if err != nil {
		Logger().Debug("validation failed", zap.Error(err))
		return false
	}
	_ = compiled.Close(ctx)
	return true
}

// Compile compiles bin and decodes its import/export surface.
func (e *WazeroEngine) Compile(ctx context.Context, bin []byte) (Module, error) {
	compiled, err := e.runtime.CompileModule(ctx, bin)
	if err != nil {
		return nil, errors.Compile(err)
	}
	iface, err := wasm.ParseInterface(bin)
	if err != nil {
		_ = compiled.Close(ctx)
		return nil, errors.Compile(fmt.Errorf("decode interface: %w", err))
	}
	return &WazeroModule{compiled: compiled, iface: iface}, nil
}

// Instantiate links m against imports. Every import is checked against the
// resolved bundle before wazero sees it, so a bundle exposes only what it
// holds even when its source module exports more.
func (e *WazeroEngine) Instantiate(ctx context.Context, m Module, imports Resolver) (Instance, error) {
	wm, ok := m.(*WazeroModule)
	if !ok {
		return nil, errors.InvalidInput(errors.PhaseLinking, fmt.Sprintf("module %T was not compiled by this engine", m))
	}
	if imports == nil {
		imports = Imports(nil)
	}
	if err := checkImports(wm.iface.Imports, imports); err != nil {
		return nil, err
	}

	ctx = experimental.WithImportResolver(ctx, func(name string) api.Module {
		if src := imports.Lookup(name).Source(); src != nil {
			return src
		}
		return nil
	})

	cfg := wazero.NewModuleConfig().WithName("").WithStartFunctions()
	mod, err := e.runtime.InstantiateModule(ctx, wm.compiled, cfg)
	if err != nil {
		return nil, errors.Instantiation(classifyInstantiation(err), err)
	}

	Logger().Debug("instantiated module", zap.Int("imports", len(wm.iface.Imports)), zap.Int("exports", len(wm.iface.Exports)))
	return &WazeroInstance{mod: mod, exports: guestBundle(mod, wm.iface)}, nil
}

// HostModule instantiates a Go host module, or returns the existing one.
//
// wazero host modules cannot be handed to an import resolver, so the Go
// functions live in a host module registered under name and the returned
// instance is an anonymous guest module re-exporting them. Its bundle links
// under any namespace.
func (e *WazeroEngine) HostModule(ctx context.Context, name string, funcs []HostFunc) (Instance, error) {
	e.hostsMu.Lock()
	defer e.hostsMu.Unlock()

	if h, ok := e.hosts[name]; ok {
		return h.proxy, nil
	}

	builder := e.runtime.NewHostModuleBuilder(name)
	proxyDef := &wasm.Module{}
	externs := make(map[string]Extern, len(funcs))
	for _, hf := range funcs {
		hf := hf
		builder = builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, _ api.Module, stack []uint64) {
				results := hf.Fn(ctx, decodeValues(hf.Params, stack))
				i := 0
				for n, t := range hf.Results {
					if n >= len(results) {
						break
					}
					raw, err := encodeValue(t, results[n])
					if err != nil {
						panic(fmt.Sprintf("host function %s: result %d: %v", hf.Name, n, err))
					}
					i += copy(stack[i:], raw)
				}
			}), apiTypes(hf.Params), apiTypes(hf.Results)).
			Export(hf.Name)

		idx := proxyDef.ImportFunc(name, hf.Name, wasm.FuncType{Params: hf.Params, Results: hf.Results})
		proxyDef.Export(hf.Name, wasm.KindFunc, idx)
		externs[hf.Name] = &Func{Params: hf.Params, Results: hf.Results}
	}

	hostMod, err := builder.Instantiate(ctx)
	if err != nil {
		return nil, errors.Instantiation(errors.KindLink, err)
	}
	compiled, err := e.runtime.CompileModule(ctx, proxyDef.Encode())
	if err != nil {
		_ = hostMod.Close(ctx)
		return nil, errors.Instantiation(errors.KindLink, fmt.Errorf("compile proxy for %s: %w", name, err))
	}
	proxyMod, err := e.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		_ = compiled.Close(ctx)
		_ = hostMod.Close(ctx)
		return nil, errors.Instantiation(errors.KindLink, fmt.Errorf("instantiate proxy for %s: %w", name, err))
	}

	h := &hostModule{
		host:     hostMod,
		compiled: compiled,
		proxy:    &WazeroInstance{mod: proxyMod, exports: NewBundle(proxyMod, externs), host: true},
	}
	e.hosts[name] = h
	Logger().Debug("host module ready", zap.String("name", name), zap.Int("funcs", len(funcs)))
	return h.proxy, nil
}

// hostModule is a Go host module and the guest proxy re-exporting it.
type hostModule struct {
	host     api.Module
	compiled wazero.CompiledModule
	proxy    *WazeroInstance
}

func (h *hostModule) close(ctx context.Context) error {
	return multierr.Combine(
		h.proxy.mod.Close(ctx),
		h.compiled.Close(ctx),
		h.host.Close(ctx),
	)
}

// Close closes the runtime and every module it created.
func (e *WazeroEngine) Close(ctx context.Context) error {
	e.hostsMu.Lock()
	var err error
	for name, h := range e.hosts {
		err = multierr.Append(err, h.close(ctx))
		delete(e.hosts, name)
	}
	e.hostsMu.Unlock()
	return multierr.Append(err, e.runtime.Close(ctx))
}

// WazeroModule is a compiled module
type WazeroModule struct {
	compiled wazero.CompiledModule
	iface    *wasm.Interface
}

// Imports returns the declared imports in order.
func (m *WazeroModule) Imports() []wasm.Import {
	return m.iface.Imports
}

func (m *WazeroModule) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}

// WazeroInstance is an instantiated module
type WazeroInstance struct {
	mod     api.Module
	exports *Bundle
	host    bool
}

func (i *WazeroInstance) Exports() *Bundle {
	return i.exports
}

// Invoke calls an exported function with Go values.
func (i *WazeroInstance) Invoke(ctx context.Context, name string, args ...Value) (any, error) {
	fn := i.mod.ExportedFunction(name)
	if fn == nil {
		return nil, errors.Invocation(name, "unknown export function")
	}
	def := fn.Definition()
	params := valTypes(def.ParamTypes())
	if len(args) != len(params) {
		return nil, errors.Invocation(name, fmt.Sprintf("expected %d arguments, got %d", len(params), len(args)))
	}

	stack := make([]uint64, 0, len(params))
	for n, t := range params {
		raw, err := encodeValue(t, args[n])
		if err != nil {
			return nil, errors.Invocation(name, fmt.Sprintf("argument %d: %v", n, err))
		}
		stack = append(stack, raw...)
	}

	res, err := fn.Call(ctx, stack...)
	if err != nil {
		return nil, classifyInvocation(name, err)
	}
	return collapse(decodeValues(valTypes(def.ResultTypes()), res)), nil
}

// Close closes the instance. Host modules are owned by the engine.
func (i *WazeroInstance) Close(ctx context.Context) error {
	if i.host {
		return nil
	}
	return i.mod.Close(ctx)
}

// guestBundle builds the export bundle of an instantiated guest module.
func guestBundle(mod api.Module, iface *wasm.Interface) *Bundle {
	defs := mod.ExportedFunctionDefinitions()
	externs := make(map[string]Extern, len(iface.Exports))
	for _, exp := range iface.Exports {
		switch exp.Kind {
		case wasm.KindFunc:
			if def, ok := defs[exp.Name]; ok {
				externs[exp.Name] = &Func{Params: valTypes(def.ParamTypes()), Results: valTypes(def.ResultTypes())}
			}
		case wasm.KindMemory:
			typ, _ := iface.Memory(exp.Idx)
			externs[exp.Name] = NewMemory(mod.ExportedMemory(exp.Name), typ)
		case wasm.KindGlobal:
			if g := mod.ExportedGlobal(exp.Name); g != nil {
				externs[exp.Name] = NewGlobal(g)
			}
		case wasm.KindTable:
			typ, _ := iface.Table(exp.Idx)
			externs[exp.Name] = &Table{ElemType: typ.ElemType, Min: typ.Limits.Min, Max: typ.Limits.Max}
		}
	}
	return NewBundle(mod, externs)
}

// checkImports resolves each import against its namespace bundle.
func checkImports(imports []wasm.Import, r Resolver) error {
	for _, imp := range imports {
		ext, ok := r.Lookup(imp.Module).Get(imp.Name)
		if !ok {
			return errors.Link(imp.Module, imp.Name, "unknown import")
		}
		if ext.Kind() != imp.Desc.Kind {
			return errors.Link(imp.Module, imp.Name,
				fmt.Sprintf("incompatible import type: expected %s, got %s", imp.Desc.Kind, ext.Kind()))
		}
		if mem, ok := ext.(*Memory); ok && imp.Desc.Memory != nil && mem.Shared != imp.Desc.Memory.Limits.Shared {
			return errors.Link(imp.Module, imp.Name,
				fmt.Sprintf("shared flag mismatch: import shared=%t, export shared=%t", imp.Desc.Memory.Limits.Shared, mem.Shared))
		}
	}
	return nil
}

// classifyInstantiation separates traps raised while initialising the
// instance from resolution failures.
func classifyInstantiation(err error) errors.Kind {
	msg := err.Error()
	if strings.Contains(msg, "wasm error") || strings.Contains(msg, "out of bounds") {
		return errors.KindRuntime
	}
	return errors.KindLink
}

func classifyInvocation(name string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "stack overflow"):
		return errors.Exhaustion(name, err)
	case strings.Contains(msg, "wasm error"):
		return errors.Trap(name, err)
	}
	return errors.New(errors.PhaseRuntime, errors.KindInvocation).Path(name).Detail("call failed").Cause(err).Build()
}
