// Package errors provides structured error types for the wasm harness.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// Engine kinds (compile, link, runtime, trap, exhaustion, invocation) classify what the
// engine reported; assertion kinds (result_value, wrong_error_kind, ...) classify why an
// assertion failed.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseAssert, errors.KindResultValue).
//		Path("0").
//		Location("i32.json:12").
//		Detail("expected %v, got %v", want, got).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Trap("div", cause)
//	err := errors.Link("spectest", "print", "unknown import")
//
// All errors implement the standard error interface and support errors.Is/As.
// KindOf and IsKind look through wrapped errors.
package errors
