package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseValidate Phase = "validate" // validator verdict
	PhaseCompile  Phase = "compile"  // binary compilation
	PhaseLinking  Phase = "linking"  // import resolution and instantiation
	PhaseRuntime  Phase = "runtime"  // invocation of exports
	PhaseAssert   Phase = "assert"   // assertion checks
	PhaseWorker   Phase = "worker"   // worker contexts
	PhaseParse    Phase = "parse"    // script parsing
	PhaseLoad     Phase = "load"     // script and fixture loading
)

// Kind categorizes the error
type Kind string

// Engine failure kinds. These are what AssertTrap, AssertExhaustion,
// AssertUnlinkable and AssertUninstantiable discriminate on.
const (
	KindCompile    Kind = "compile"
	KindLink       Kind = "link"
	KindRuntime    Kind = "runtime"
	KindTrap       Kind = "trap"
	KindExhaustion Kind = "exhaustion"
	KindInvocation Kind = "invocation"
)

// Assertion failure kinds.
const (
	KindValidationMismatch    Kind = "validation_mismatch"
	KindCompileMismatch       Kind = "compile_mismatch"
	KindInstantiationMismatch Kind = "instantiation_mismatch"
	KindUnexpectedError       Kind = "unexpected_error"
	KindTrapExpected          Kind = "trap_expected"
	KindWrongErrorKind        Kind = "wrong_error_kind"
	KindResultCount           Kind = "result_count"
	KindResultValue           Kind = "result_value"
	KindWorkerFailure         Kind = "worker_failure"
	KindWorkerUnused          Kind = "worker_unused"
	KindNotFound              Kind = "not_found"
	KindInvalidInput          Kind = "invalid_input"
	KindTimeout               Kind = "timeout"
)

// Error is the structured error type used throughout the harness
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	Detail   string
	Location string
	Path     []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Location != "" {
		b.WriteString(" (")
		b.WriteString(e.Location)
		b.WriteByte(')')
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// KindOf returns the kind of the outermost *Error in err's chain, or "" if
// there is none.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether any *Error in err's chain has kind k.
func IsKind(err error, k Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == k {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the export path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Location sets the call-site location
func (b *Builder) Location(loc string) *Builder {
	b.err.Location = loc
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for engine failures

// Compile creates a compilation error
func Compile(cause error) *Error {
	return &Error{
		Phase:  PhaseCompile,
		Kind:   KindCompile,
		Detail: "compile module",
		Cause:  cause,
	}
}

// Link creates a link error for an unresolvable import
func Link(module, name, detail string) *Error {
	return &Error{
		Phase:  PhaseLinking,
		Kind:   KindLink,
		Path:   []string{module, name},
		Detail: detail,
	}
}

// Instantiation wraps an instantiation failure with the given kind
// (KindLink or KindRuntime).
func Instantiation(kind Kind, cause error) *Error {
	return &Error{
		Phase:  PhaseLinking,
		Kind:   kind,
		Detail: "instantiate module",
		Cause:  cause,
	}
}

// Trap creates a runtime trap error for export name
func Trap(name string, cause error) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindTrap,
		Path:   []string{name},
		Detail: "trap",
		Cause:  cause,
	}
}

// Exhaustion creates a call stack exhaustion error for export name
func Exhaustion(name string, cause error) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindExhaustion,
		Path:   []string{name},
		Detail: "call stack exhausted",
		Cause:  cause,
	}
}

// Invocation creates an error for a call that never reached wasm code
func Invocation(name, detail string) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindInvocation,
		Path:   []string{name},
		Detail: detail,
	}
}

// Assertion failure constructors

// Mismatch creates an assertion failure of the given kind
func Mismatch(kind Kind, detail string, args ...any) *Error {
	return New(PhaseAssert, kind).Detail(detail, args...).Build()
}

// Unexpected wraps an error an assertion did not anticipate
func Unexpected(cause error) *Error {
	return &Error{
		Phase:  PhaseAssert,
		Kind:   KindUnexpectedError,
		Detail: "unexpected runtime error",
		Cause:  cause,
	}
}

// WrongKind reports that an action failed with an error of the wrong kind
func WrongKind(want Kind, got error) *Error {
	return &Error{
		Phase:  PhaseAssert,
		Kind:   KindWrongErrorKind,
		Detail: fmt.Sprintf("expected %s error, got %s", want, describeKind(got)),
		Cause:  got,
	}
}

func describeKind(err error) string {
	if k := KindOf(err); k != "" {
		return string(k)
	}
	return "untyped"
}

// WorkerFailed creates a failure forwarded from a worker context
func WorkerFailed(name, loc string) *Error {
	return &Error{
		Phase:    PhaseWorker,
		Kind:     KindWorkerFailure,
		Detail:   name,
		Location: loc,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Load creates a script loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidInput,
		Detail: detail,
		Cause:  cause,
	}
}

// ParseFailed creates a parsing error
func ParseFailed(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindInvalidInput,
		Detail: fmt.Sprintf("parse %s", what),
		Cause:  cause,
	}
}
