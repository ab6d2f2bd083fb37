package engine

import (
	"context"

	"github.com/wippyai/wasm-harness/wasm"
)

// Engine compiles, validates and instantiates binary modules.
type Engine interface {
	// Validate reports whether bin is a valid module.
	Validate(ctx context.Context, bin []byte) bool

	// Compile compiles bin. Failures are *errors.Error of kind compile.
	Compile(ctx context.Context, bin []byte) (Module, error)

	// Instantiate links m against imports and runs its start function.
	// Failures are *errors.Error of kind link or runtime.
	Instantiate(ctx context.Context, m Module, imports Resolver) (Instance, error)

	// HostModule returns an instance exporting Go functions under name.
	// Host modules are shared per engine; calling it again with the same
	// name returns the existing instance.
	HostModule(ctx context.Context, name string, funcs []HostFunc) (Instance, error)

	Close(ctx context.Context) error
}

// Module is a compiled module.
type Module interface {
	Imports() []wasm.Import
	Close(ctx context.Context) error
}

// Instance is an instantiated module.
type Instance interface {
	// Exports returns the export bundle of the instance.
	Exports() *Bundle

	// Invoke calls the exported function name. The result is nil for no
	// results, the single Value for one result, and []Value otherwise.
	Invoke(ctx context.Context, name string, args ...Value) (any, error)

	Close(ctx context.Context) error
}

// Resolver maps an import namespace to the bundle that satisfies it.
// Unknown namespaces resolve to an empty bundle.
type Resolver interface {
	Lookup(namespace string) *Bundle
}

// Imports is a fixed Resolver.
type Imports map[string]*Bundle

// Lookup implements Resolver.
func (i Imports) Lookup(namespace string) *Bundle {
	if b, ok := i[namespace]; ok && b != nil {
		return b
	}
	return EmptyBundle()
}

// HostFunc is a Go function exported by a host module.
type HostFunc struct {
	Fn      func(ctx context.Context, args []Value) []Value
	Name    string
	Params  []wasm.ValType
	Results []wasm.ValType
}
