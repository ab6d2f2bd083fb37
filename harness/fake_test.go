package harness

import (
	"context"
	"fmt"

	"github.com/wippyai/wasm-harness/engine"
	"github.com/wippyai/wasm-harness/errors"
	"github.com/wippyai/wasm-harness/wasm"
)

// fakeEngine treats module bytes as a scenario name.
type fakeEngine struct{}

type fakeModule string

func (fakeModule) Imports() []wasm.Import      { return nil }
func (fakeModule) Close(context.Context) error { return nil }

func (fakeEngine) Close(context.Context) error { return nil }

func (fakeEngine) Validate(_ context.Context, bin []byte) bool {
	return string(bin) != "invalid" && string(bin) != "lenient"
}

func (fakeEngine) Compile(_ context.Context, bin []byte) (engine.Module, error) {
	if string(bin) == "invalid" {
		return nil, errors.Compile(fmt.Errorf("bad magic"))
	}
	return fakeModule(bin), nil
}

func (fakeEngine) Instantiate(_ context.Context, m engine.Module, _ engine.Resolver) (engine.Instance, error) {
	switch m.(fakeModule) {
	case "unlinkable":
		return nil, errors.Link("M", "f", "unknown import")
	case "trap_start":
		return nil, errors.Instantiation(errors.KindRuntime, fmt.Errorf("wasm error: unreachable"))
	}
	return fakeInstance{}, nil
}

func (fakeEngine) HostModule(context.Context, string, []engine.HostFunc) (engine.Instance, error) {
	return fakeInstance{}, nil
}

type fakeInstance struct{}

func (fakeInstance) Exports() *engine.Bundle {
	return engine.NewBundle(nil, map[string]engine.Extern{
		"g": engine.ConstGlobal(wasm.ValI32, int32(7)),
		"f": &engine.Func{},
	})
}

func (fakeInstance) Close(context.Context) error { return nil }

func (fakeInstance) Invoke(_ context.Context, name string, args ...engine.Value) (any, error) {
	switch name {
	case "trap":
		return nil, errors.Trap(name, fmt.Errorf("wasm error: unreachable"))
	case "overflow":
		return nil, errors.Exhaustion(name, fmt.Errorf("wasm error: stack overflow"))
	case "echo":
		switch len(args) {
		case 0:
			return nil, nil
		case 1:
			return args[0], nil
		}
		return args, nil
	}
	return nil, errors.Invocation(name, "unknown export function")
}
