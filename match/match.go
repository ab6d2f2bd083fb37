// Package match compares invocation results against expected values.
//
// Float literals compare by bit pattern, so +0 and -0 differ and a literal
// NaN matches only a NaN with the same sign and payload. NaN classes are
// matched with AnyNaN, CanonicalNaN and ArithmeticNaN. OneOf matches when any
// alternative does. Lanes matches a v128 lane by lane.
package match

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/wippyai/wasm-harness/engine"
	"github.com/wippyai/wasm-harness/errors"
)

// Expected is an expected result.
type Expected interface {
	Match(actual engine.Value) bool
	String() string
}

const (
	f32Quiet    uint32 = 0x00400000
	f32Mantissa uint32 = 0x007fffff
	f64Quiet    uint64 = 0x0008000000000000
	f64Mantissa uint64 = 0x000fffffffffffff
)

type literal struct {
	v engine.Value
}

func (l literal) Match(actual engine.Value) bool {
	switch want := l.v.(type) {
	case float32:
		got, ok := actual.(float32)
		return ok && math.Float32bits(got) == math.Float32bits(want)
	case float64:
		got, ok := actual.(float64)
		return ok && math.Float64bits(got) == math.Float64bits(want)
	}
	return actual == l.v
}

func (l literal) String() string { return Format(l.v) }

// I32 expects an i32 result.
func I32(v int32) Expected { return literal{v} }

// I64 expects an i64 result.
func I64(v int64) Expected { return literal{v} }

// F32 expects an f32 result with the exact bit pattern of v.
func F32(v float32) Expected { return literal{v} }

// F64 expects an f64 result with the exact bit pattern of v.
func F64(v float64) Expected { return literal{v} }

// F32Bits expects an f32 result with the given bit pattern, NaN payload
// included.
func F32Bits(bits uint32) Expected { return literal{math.Float32frombits(bits)} }

// F64Bits expects an f64 result with the given bit pattern.
func F64Bits(bits uint64) Expected { return literal{math.Float64frombits(bits)} }

type nanClass int

const (
	nanAny nanClass = iota
	nanCanonical
	nanArithmetic
)

// AnyNaN matches any NaN of either width.
var AnyNaN Expected = nanAny

// CanonicalNaN matches a NaN whose payload is exactly the quiet bit.
var CanonicalNaN Expected = nanCanonical

// ArithmeticNaN matches a NaN with the quiet bit set.
var ArithmeticNaN Expected = nanArithmetic

func (c nanClass) Match(actual engine.Value) bool {
	switch v := actual.(type) {
	case float32:
		bits := math.Float32bits(v)
		if !isNaN32(v) {
			return false
		}
		switch c {
		case nanCanonical:
			return bits&f32Mantissa == f32Quiet
		case nanArithmetic:
			return bits&f32Quiet != 0
		}
		return true
	case float64:
		bits := math.Float64bits(v)
		if !math.IsNaN(v) {
			return false
		}
		switch c {
		case nanCanonical:
			return bits&f64Mantissa == f64Quiet
		case nanArithmetic:
			return bits&f64Quiet != 0
		}
		return true
	}
	return false
}

func (c nanClass) String() string {
	switch c {
	case nanCanonical:
		return "nan:canonical"
	case nanArithmetic:
		return "nan:arithmetic"
	}
	return "nan:any"
}

type refPredicate string

const (
	refFunc   refPredicate = "ref.func"
	refExtern refPredicate = "ref.extern"
	refNull   refPredicate = "ref.null"
)

// RefFunc matches any non-null function reference.
var RefFunc Expected = refFunc

// RefExtern matches any non-null reference.
var RefExtern Expected = refExtern

// RefNull matches a null reference of either type.
var RefNull Expected = refNull

func (p refPredicate) Match(actual engine.Value) bool {
	switch p {
	case refFunc:
		r, ok := actual.(engine.FuncRef)
		return ok && !r.IsNull()
	case refExtern:
		switch r := actual.(type) {
		case engine.FuncRef:
			return !r.IsNull()
		case engine.ExternRef:
			return !r.IsNull()
		}
	case refNull:
		switch r := actual.(type) {
		case nil:
			return true
		case engine.FuncRef:
			return r.IsNull()
		case engine.ExternRef:
			return r.IsNull()
		}
	}
	return false
}

func (p refPredicate) String() string { return string(p) }

type oneOf []Expected

// OneOf matches when any alternative matches.
func OneOf(alternatives ...any) Expected {
	out := make(oneOf, len(alternatives))
	for i, a := range alternatives {
		out[i] = From(a)
	}
	return out
}

func (o oneOf) Match(actual engine.Value) bool {
	for _, e := range o {
		if e.Match(actual) {
			return true
		}
	}
	return false
}

func (o oneOf) String() string {
	parts := make([]string, len(o))
	for i, e := range o {
		parts[i] = e.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

type untypedInt int64

func (u untypedInt) Match(actual engine.Value) bool {
	switch v := actual.(type) {
	case int32:
		return int64(v) == int64(u)
	case int64:
		return v == int64(u)
	}
	return false
}

func (u untypedInt) String() string { return strconv.FormatInt(int64(u), 10) }

// From converts a Go value into an Expected. Expected values pass through,
// slices become OneOf, the strings "nan:canonical", "nan:arithmetic",
// "nan:any", "ref.func", "ref.extern" and "ref.null" select the symbolic
// classes, an untyped int matches an i32 or i64 of the same value, and
// everything else is a literal.
func From(v any) Expected {
	switch x := v.(type) {
	case Expected:
		return x
	case []any:
		return OneOf(x...)
	case []Expected:
		return oneOf(x)
	case int:
		return untypedInt(x)
	case string:
		switch x {
		case "nan:canonical":
			return CanonicalNaN
		case "nan:arithmetic":
			return ArithmeticNaN
		case "nan:any":
			return AnyNaN
		case "ref.func":
			return RefFunc
		case "ref.extern":
			return RefExtern
		case "ref.null":
			return RefNull
		}
	}
	return literal{v}
}

// Match reports whether actual satisfies expected.
func Match(actual engine.Value, expected any) bool {
	return From(expected).Match(actual)
}

// Normalize turns an invocation result into a result list.
func Normalize(result any) []engine.Value {
	switch r := result.(type) {
	case nil:
		return nil
	case []engine.Value:
		return r
	}
	return []engine.Value{result}
}

// Results checks an invocation result against the expected list. It returns
// a result_count or result_value *errors.Error on mismatch.
func Results(actual any, expected []any) error {
	vals := Normalize(actual)
	if len(vals) != len(expected) {
		return errors.New(errors.PhaseAssert, errors.KindResultCount).
			Value(len(vals)).
			Detail("%d value(s) expected, got %d", len(expected), len(vals)).
			Build()
	}
	for i, v := range vals {
		exp := From(expected[i])
		if !exp.Match(v) {
			return errors.New(errors.PhaseAssert, errors.KindResultValue).
				Path(strconv.Itoa(i)).
				Value(v).
				Detail("Wasm return value %s expected, got %s", exp, Format(v)).
				Build()
		}
	}
	return nil
}

// Format renders a value with its type, e.g. "i32:5" or "f32:nan(0x7fc00000)".
func Format(v engine.Value) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case int32:
		return "i32:" + strconv.FormatInt(int64(x), 10)
	case int64:
		return "i64:" + strconv.FormatInt(x, 10)
	case float32:
		if isNaN32(x) {
			return fmt.Sprintf("f32:nan(0x%08x)", math.Float32bits(x))
		}
		if x == 0 && math.Signbit(float64(x)) {
			return "f32:-0"
		}
		return "f32:" + strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		if math.IsNaN(x) {
			return fmt.Sprintf("f64:nan(0x%016x)", math.Float64bits(x))
		}
		if x == 0 && math.Signbit(x) {
			return "f64:-0"
		}
		return "f64:" + strconv.FormatFloat(x, 'g', -1, 64)
	case engine.FuncRef:
		if x.IsNull() {
			return "ref.null func"
		}
		return fmt.Sprintf("ref.func(%d)", uint64(x))
	case engine.ExternRef:
		if x.IsNull() {
			return "ref.null extern"
		}
		return fmt.Sprintf("ref.extern(%d)", uint64(x))
	case engine.V128:
		return fmt.Sprintf("v128:0x%016x%016x", x.Hi, x.Lo)
	}
	return fmt.Sprintf("%v", v)
}

func isNaN32(f float32) bool {
	return math.IsNaN(float64(f))
}
