// Package engine is the boundary between the harness and the binary module
// runtime.
//
// The harness drives modules through four interfaces:
//
//	Engine   - validate, compile, instantiate, host modules
//	Module   - a compiled module and its declared imports
//	Instance - an instantiated module: export bundle and Invoke
//	Resolver - namespace to export Bundle, used for linking
//
// WazeroEngine implements them on top of wazero. Imports are resolved
// through experimental.WithImportResolver, so an export bundle registered
// under any namespace links directly to the instance that produced it.
// Before wazero sees an import it is checked against the bundle the resolver
// returned: a missing export, an extern kind mismatch or a shared-memory flag
// mismatch fails with an errors.KindLink error.
//
// # Values
//
// Arguments and results are Go values: int32, int64, float32, float64, V128,
// FuncRef and ExternRef. Invoke returns nil for functions without results,
// the value itself for a single result, and []Value for several.
//
// # Error classification
//
//	compile     module failed to compile
//	link        import resolution failed
//	runtime     trap while instantiating (start function, data segments)
//	trap        trap during an invocation
//	exhaustion  call stack exhausted during an invocation
//	invocation  unknown export or argument mismatch
//
// # Experimental Features
//
// Threads/Atomics: Enable via Config.EnableThreads. Shared memories exported
// by one instance can be imported by instances running on other goroutines.
package engine
