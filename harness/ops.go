package harness

import (
	"context"

	"github.com/wippyai/wasm-harness/chain"
	"github.com/wippyai/wasm-harness/engine"
	"github.com/wippyai/wasm-harness/errors"
	"github.com/wippyai/wasm-harness/match"
	"github.com/wippyai/wasm-harness/registry"
)

const (
	descCompileOK      = "Test that WebAssembly compilation succeeds"
	descCompileFail    = "Test that WebAssembly compilation fails"
	descInstanceOK     = "Test that WebAssembly instantiation succeeds"
	descInstanceFail   = "Test that WebAssembly instantiation fails"
	descRun            = "Run a WebAssembly test without special assertions"
	descRunFailed      = "run"
	descTrap           = "Test that a WebAssembly code traps"
	descReturn         = "Test that a WebAssembly code returns a specific result"
	descExhaustion     = "Test that a WebAssembly code exhausts the stack space"
	descUnlinkable     = "Test that a WebAssembly module is unlinkable"
	descUninstantiable = "Test that a WebAssembly module is uninstantiable"
	descRegister       = "Test that the exports of a WebAssembly module can be registered"
	descGet            = "Test that an export of a WebAssembly instance can be acquired"
	descReinit         = "Reinitialize the default imports"
)

// Action is a deferred computation run inside a chained step.
type Action func(ctx context.Context) (any, error)

// Module validates and compiles bin. It records whether the validator
// verdict equals valid and whether compilation succeeded iff valid.
func (h *Harness) Module(bin []byte, valid bool) *chain.Future[engine.Module] {
	return h.module(bin, valid, h.callSite())
}

// AssertInvalid expects bin to fail validation and compilation.
func (h *Harness) AssertInvalid(bin []byte) {
	h.module(bin, false, h.callSite())
}

// AssertMalformed expects bin to be rejected. Binary modules cannot tell
// malformed from invalid, so it is AssertInvalid.
func (h *Harness) AssertMalformed(bin []byte) {
	h.module(bin, false, h.callSite())
}

func (h *Harness) module(bin []byte, valid bool, loc string) *chain.Future[engine.Module] {
	desc := descCompileOK
	if !valid {
		desc = descCompileFail
	}
	return schedule(h, desc, loc, func(ctx context.Context) (engine.Module, error) {
		var verdict error
		if validated := h.engine.Validate(ctx, bin); validated != valid {
			verdict = errors.Mismatch(errors.KindValidationMismatch, "validator returned %t, expected %t", validated, valid)
		}
		h.record(desc, loc, verdict)

		m, err := h.engine.Compile(ctx, bin)
		if err != nil {
			var mismatch error
			if valid {
				mismatch = errors.New(errors.PhaseAssert, errors.KindCompileMismatch).
					Detail("compilation failed unexpectedly").
					Cause(err).
					Build()
			}
			h.record(desc, loc, mismatch)
			return nil, err
		}
		h.track(m)

		var mismatch error
		if !valid {
			mismatch = errors.Mismatch(errors.KindCompileMismatch, "compilation succeeded, expected failure")
		}
		h.record(desc, loc, mismatch)
		return m, nil
	})
}

// Instance compiles and instantiates bin against imports, or against a
// snapshot of the registry when imports is nil. It records whether
// instantiation succeeded iff valid. On failure the future settles with the
// instantiation error for later ops to inspect.
func (h *Harness) Instance(bin []byte, imports *chain.Future[engine.Resolver], valid bool) *chain.Future[engine.Instance] {
	return h.instance(bin, imports, valid, h.callSite())
}

func (h *Harness) instance(bin []byte, imports *chain.Future[engine.Resolver], valid bool, loc string) *chain.Future[engine.Instance] {
	desc := descInstanceOK
	if !valid {
		desc = descInstanceFail
	}
	return schedule(h, desc, loc, func(ctx context.Context) (engine.Instance, error) {
		inst, err := h.instantiate(ctx, bin, imports)
		if err != nil {
			var mismatch error
			if valid {
				mismatch = errors.New(errors.PhaseAssert, errors.KindInstantiationMismatch).
					Detail("unexpected instantiation error").
					Cause(err).
					Build()
			}
			h.record(desc, loc, mismatch)
			return nil, err
		}

		var mismatch error
		if !valid {
			mismatch = errors.Mismatch(errors.KindInstantiationMismatch, "instantiation succeeded, expected failure")
		}
		h.record(desc, loc, mismatch)
		return inst, nil
	})
}

func (h *Harness) instantiate(ctx context.Context, bin []byte, imports *chain.Future[engine.Resolver]) (engine.Instance, error) {
	var resolver engine.Resolver
	if imports != nil {
		r, err := imports.Await(ctx)
		if err != nil {
			return nil, err
		}
		resolver = r
	}
	if resolver == nil {
		resolver = h.registry.Snapshot()
	}

	m, err := h.engine.Compile(ctx, bin)
	if err != nil {
		return nil, err
	}
	h.track(m)

	inst, err := h.engine.Instantiate(ctx, m, resolver)
	if err != nil {
		return nil, err
	}
	h.track(inst)
	return inst, nil
}

// Exports builds an import resolver exposing inst's exports under name next
// to the spectest environment. An empty name means "module". The result
// does not join the chain.
func (h *Harness) Exports(name string, inst *chain.Future[engine.Instance]) *chain.Future[engine.Resolver] {
	if name == "" {
		name = "module"
	}
	return chain.Then(inst, func(i engine.Instance, err error) (engine.Resolver, error) {
		if err != nil {
			return nil, err
		}
		return exportsResolver{name: name, exports: i.Exports(), registry: h.registry}, nil
	})
}

// exportsResolver reads spectest from the registry at link time, so it sees
// the environment of the step that instantiates.
type exportsResolver struct {
	exports  *engine.Bundle
	registry *registry.Registry
	name     string
}

func (r exportsResolver) Lookup(namespace string) *engine.Bundle {
	switch namespace {
	case r.name:
		return r.exports
	case SpectestNamespace:
		return r.registry.Lookup(SpectestNamespace)
	}
	return engine.EmptyBundle()
}

// Invoke returns an action that calls the export name of inst. The raw
// result is returned unconverted.
func (h *Harness) Invoke(inst *chain.Future[engine.Instance], name string, args ...engine.Value) Action {
	return func(ctx context.Context) (any, error) {
		i, err := awaitInstance(ctx, inst)
		if err != nil {
			return nil, err
		}
		return i.Invoke(ctx, name, args...)
	}
}

// GetAction returns an action reading the export name of inst, like Get.
func (h *Harness) GetAction(inst *chain.Future[engine.Instance], name string) Action {
	return func(ctx context.Context) (any, error) {
		i, err := awaitInstance(ctx, inst)
		if err != nil {
			return nil, err
		}
		return exportValue(i, name)
	}
}

// Await adapts a future to an action.
func Await[T any](f *chain.Future[T]) Action {
	return func(ctx context.Context) (any, error) {
		return f.Await(ctx)
	}
}

func awaitInstance(ctx context.Context, inst *chain.Future[engine.Instance]) (engine.Instance, error) {
	if inst == nil {
		return nil, errors.InvalidInput(errors.PhaseRuntime, "no instance")
	}
	i, err := inst.Await(ctx)
	if err != nil {
		return nil, err
	}
	if i == nil {
		return nil, errors.InvalidInput(errors.PhaseRuntime, "no instance")
	}
	return i, nil
}

func exportValue(i engine.Instance, name string) (any, error) {
	ext, ok := i.Exports().Get(name)
	if !ok {
		return nil, errors.NotFound(errors.PhaseRuntime, "export", name)
	}
	if g, ok := ext.(*engine.Global); ok {
		return g.Value(), nil
	}
	return ext, nil
}

// Run runs action and records whether it completed without error.
func (h *Harness) Run(action Action) {
	loc := h.callSite()
	schedule(h, descRun, loc, func(ctx context.Context) (struct{}, error) {
		if _, err := action(ctx); err != nil {
			h.record(descRunFailed, loc, errors.Unexpected(err))
			return struct{}{}, nil
		}
		h.record(descRun, loc, nil)
		return struct{}{}, nil
	})
}

// AssertReturn runs action and matches its results against expected. See
// match.From for the accepted expectation forms.
func (h *Harness) AssertReturn(action Action, expected ...any) {
	loc := h.callSite()
	schedule(h, descReturn, loc, func(ctx context.Context) (struct{}, error) {
		res, err := action(ctx)
		if err != nil {
			h.record(descReturn, loc, errors.Unexpected(err))
			return struct{}{}, nil
		}
		h.record(descReturn, loc, match.Results(res, expected))
		return struct{}{}, nil
	})
}

// AssertTrap expects action to fail with a trap.
func (h *Harness) AssertTrap(action Action) {
	h.assertFailure(action, errors.KindTrap, descTrap, h.callSite())
}

// AssertExhaustion expects action to exhaust the call stack.
func (h *Harness) AssertExhaustion(action Action) {
	h.assertFailure(action, errors.KindExhaustion, descExhaustion, h.callSite())
}

func (h *Harness) assertFailure(action Action, want errors.Kind, desc, loc string) {
	schedule(h, desc, loc, func(ctx context.Context) (struct{}, error) {
		res, err := action(ctx)
		switch {
		case err == nil:
			h.record(desc, loc, errors.New(errors.PhaseAssert, errors.KindTrapExpected).
				Value(res).
				Detail("expected %s error, action returned %v", want, formatResults(res)).
				Build())
		case !errors.IsKind(err, want):
			h.record(desc, loc, errors.WrongKind(want, err))
		default:
			h.record(desc, loc, nil)
		}
		return struct{}{}, nil
	})
}

func formatResults(res any) []string {
	vals := match.Normalize(res)
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = match.Format(v)
	}
	return out
}

// AssertUnlinkable expects instantiating bin against the registry to fail
// with a link error.
func (h *Harness) AssertUnlinkable(bin []byte) {
	h.assertInstantiationFailure(bin, errors.KindLink, descUnlinkable, h.callSite())
}

// AssertUninstantiable expects instantiating bin to fail at runtime, in the
// start function or while initialising segments.
func (h *Harness) AssertUninstantiable(bin []byte) {
	h.assertInstantiationFailure(bin, errors.KindRuntime, descUninstantiable, h.callSite())
}

func (h *Harness) assertInstantiationFailure(bin []byte, want errors.Kind, desc, loc string) {
	inst := h.instance(bin, nil, false, loc)
	schedule(h, desc, loc, func(ctx context.Context) (struct{}, error) {
		_, err := inst.Await(ctx)
		switch {
		case err == nil:
			h.record(desc, loc, errors.Mismatch(errors.KindInstantiationMismatch,
				"expected %s error, module instantiated", want))
		case !errors.IsKind(err, want):
			h.record(desc, loc, errors.WrongKind(want, err))
		default:
			h.record(desc, loc, nil)
		}
		return struct{}{}, nil
	})
}

// Register stores the exports of inst in the registry under name. Only a
// failure is recorded.
func (h *Harness) Register(name string, inst *chain.Future[engine.Instance]) {
	loc := h.callSite()
	schedule(h, descRegister, loc, func(ctx context.Context) (struct{}, error) {
		i, err := awaitInstance(ctx, inst)
		if err != nil {
			h.record(descRegister, loc, errors.Unexpected(err))
			return struct{}{}, err
		}
		h.registry.Register(name, i.Exports())
		return struct{}{}, nil
	})
}

// Get resolves to the current value of the global exported as name, or to
// the raw engine.Extern for other exports. Only a failure is recorded.
func (h *Harness) Get(inst *chain.Future[engine.Instance], name string) *chain.Future[any] {
	loc := h.callSite()
	return schedule(h, descGet, loc, func(ctx context.Context) (any, error) {
		i, err := awaitInstance(ctx, inst)
		if err == nil {
			var v any
			if v, err = exportValue(i, name); err == nil {
				return v, nil
			}
		}
		h.record(descGet, loc, errors.Unexpected(err))
		return nil, err
	})
}
