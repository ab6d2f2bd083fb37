// Package script loads wast2json command files as harness scripts.
//
// A command file is the JSON that wast2json writes next to the module
// binaries it extracts:
//
//	{"source_filename": "i32.wast", "commands": [
//	  {"type": "module", "line": 1, "filename": "i32.0.wasm"},
//	  {"type": "assert_return", "line": 3,
//	   "action": {"type": "invoke", "field": "add", "args": [...]},
//	   "expected": [{"type": "i32", "value": "2"}]}]}
//
// Two commands are added for threads. "thread" spawns a worker running
// another command file with the named modules' shared memories in scope,
// and "wait" joins it:
//
//	{"type": "thread", "line": 5, "name": "$T1", "shared": ["$Mem"], "filename": "T1.json"}
//	{"type": "wait", "line": 9, "thread": "$T1"}
//
// Text modules cannot be compiled and are skipped.
package script

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/wippyai/wasm-harness/engine"
	"github.com/wippyai/wasm-harness/errors"
	"github.com/wippyai/wasm-harness/harness"
	"github.com/wippyai/wasm-harness/match"
)

// Command types.
const (
	CommandModule               = "module"
	CommandRegister             = "register"
	CommandAction               = "action"
	CommandAssertReturn         = "assert_return"
	CommandAssertTrap           = "assert_trap"
	CommandAssertExhaustion     = "assert_exhaustion"
	CommandAssertInvalid        = "assert_invalid"
	CommandAssertMalformed      = "assert_malformed"
	CommandAssertUnlinkable     = "assert_unlinkable"
	CommandAssertUninstantiable = "assert_uninstantiable"
	CommandThread               = "thread"
	CommandWait                 = "wait"
)

// File is a parsed command file.
type File struct {
	SourceFile string    `json:"source_filename"`
	Commands   []Command `json:"commands"`
}

// Command is one script command.
type Command struct {
	Action     Action   `json:"action"`
	Type       string   `json:"type"`
	Name       string   `json:"name,omitempty"`
	Filename   string   `json:"filename,omitempty"`
	As         string   `json:"as,omitempty"`
	ModuleType string   `json:"module_type,omitempty"`
	Text       string   `json:"text,omitempty"`
	Thread     string   `json:"thread,omitempty"`
	Expected   []Value  `json:"expected,omitempty"`
	Shared     []string `json:"shared,omitempty"`
	Line       int      `json:"line"`
}

// Action is an invoke or get action.
type Action struct {
	Type   string  `json:"type"`
	Module string  `json:"module,omitempty"`
	Field  string  `json:"field,omitempty"`
	Args   []Value `json:"args,omitempty"`
}

// Value is a typed wast2json value. Numbers are decimal bit patterns, v128
// values are lists of lanes and "either" values list alternatives.
type Value struct {
	Value    json.RawMessage `json:"value,omitempty"`
	Type     string          `json:"type"`
	LaneType string          `json:"lane_type,omitempty"`
	Values   []Value         `json:"values,omitempty"`
}

// Parse decodes a command file and checks its command types.
func Parse(data []byte) (*File, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.ParseFailed("command file", err)
	}
	for _, c := range f.Commands {
		switch c.Type {
		case CommandModule, CommandRegister, CommandAction, CommandAssertReturn,
			CommandAssertTrap, CommandAssertExhaustion, CommandAssertInvalid,
			CommandAssertMalformed, CommandAssertUnlinkable, CommandAssertUninstantiable,
			CommandThread, CommandWait:
		default:
			return nil, errors.New(errors.PhaseParse, errors.KindInvalidInput).
				Location(fmt.Sprintf("line %d", c.Line)).
				Detail("unknown command type %q", c.Type).
				Build()
		}
	}
	return &f, nil
}

// text returns the scalar value as a string. A missing value is "".
func (v Value) text() (string, error) {
	if len(v.Value) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(v.Value, &s); err != nil {
		return "", fmt.Errorf("%s value: %w", v.Type, err)
	}
	return s, nil
}

// Arg converts v to an argument value.
func (v Value) Arg() (engine.Value, error) {
	if v.Type == "v128" {
		return v.vector()
	}
	s, err := v.text()
	if err != nil {
		return nil, err
	}

	switch v.Type {
	case "i32":
		n, err := strconv.ParseUint(s, 10, 32)
		return int32(uint32(n)), wrapNumber(v, err)
	case "i64":
		n, err := strconv.ParseUint(s, 10, 64)
		return int64(n), wrapNumber(v, err)
	case "f32":
		n, err := strconv.ParseUint(s, 10, 32)
		return math.Float32frombits(uint32(n)), wrapNumber(v, err)
	case "f64":
		n, err := strconv.ParseUint(s, 10, 64)
		return math.Float64frombits(n), wrapNumber(v, err)
	case "externref":
		if s == "null" {
			return engine.ExternRef(0), nil
		}
		n, err := strconv.ParseUint(s, 10, 32)
		return harness.Externref(uint32(n)), wrapNumber(v, err)
	case "funcref":
		if s == "null" {
			return engine.FuncRef(0), nil
		}
		return nil, errors.InvalidInput(errors.PhaseParse, "non-null funcref arguments cannot be expressed")
	}
	return nil, errors.InvalidInput(errors.PhaseParse, fmt.Sprintf("unsupported value type %q", v.Type))
}

// Expected converts v to an expectation for match.From.
func (v Value) Expected() (any, error) {
	switch v.Type {
	case "either":
		alts := make([]any, len(v.Values))
		for i, alt := range v.Values {
			e, err := alt.Expected()
			if err != nil {
				return nil, err
			}
			alts[i] = e
		}
		return match.OneOf(alts...), nil
	case "v128":
		return v.lanes()
	}

	s, err := v.text()
	if err != nil {
		return nil, err
	}
	switch {
	case (v.Type == "f32" || v.Type == "f64") && strings.HasPrefix(s, "nan:"):
		return match.From(s), nil
	case v.Type == "externref" && s == "":
		return match.RefExtern, nil
	case v.Type == "funcref" && s == "":
		return match.RefFunc, nil
	case (v.Type == "externref" || v.Type == "funcref") && s == "null":
		return match.RefNull, nil
	}
	return v.Arg()
}

// vector packs v128 lanes little-endian into two words.
func (v Value) vector() (engine.V128, error) {
	lanes, width, err := v.laneText()
	if err != nil {
		return engine.V128{}, err
	}

	var out engine.V128
	half := len(lanes) / 2
	for i, s := range lanes {
		bits, err := strconv.ParseUint(s, 10, width)
		if err != nil {
			return engine.V128{}, wrapNumber(v, err)
		}
		if i < half {
			out.Lo |= bits << (i * width)
		} else {
			out.Hi |= bits << ((i - half) * width)
		}
	}
	return out, nil
}

// lanes builds a per-lane expectation. Float lanes may name a NaN class.
func (v Value) lanes() (match.Expected, error) {
	lanes, width, err := v.laneText()
	if err != nil {
		return nil, err
	}

	want := make([]any, len(lanes))
	for i, s := range lanes {
		if strings.HasPrefix(s, "nan:") && (v.LaneType == "f32" || v.LaneType == "f64") {
			want[i] = match.From(s)
			continue
		}
		bits, err := strconv.ParseUint(s, 10, width)
		if err != nil {
			return nil, wrapNumber(v, err)
		}
		switch v.LaneType {
		case "f32":
			want[i] = match.F32Bits(uint32(bits))
		case "f64":
			want[i] = match.F64Bits(bits)
		case "i64":
			want[i] = match.I64(int64(bits))
		default:
			want[i] = match.I32(int32(uint32(bits)))
		}
	}
	return match.Lanes(v.LaneType, want...)
}

func (v Value) laneText() ([]string, int, error) {
	var lanes []string
	if err := json.Unmarshal(v.Value, &lanes); err != nil {
		return nil, 0, fmt.Errorf("v128 value: %w", err)
	}
	width, ok := match.LaneWidth(v.LaneType)
	if !ok {
		return nil, 0, errors.InvalidInput(errors.PhaseParse, fmt.Sprintf("unsupported lane type %q", v.LaneType))
	}
	if len(lanes)*width != 128 {
		return nil, 0, errors.InvalidInput(errors.PhaseParse, fmt.Sprintf("v128 needs %d lanes of %s", 128/width, v.LaneType))
	}
	return lanes, width, nil
}

func wrapNumber(v Value, err error) error {
	if err == nil {
		return nil
	}
	return errors.ParseFailed(v.Type+" value", err)
}
