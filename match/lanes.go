package match

import (
	"fmt"
	"math"
	"strings"

	"github.com/wippyai/wasm-harness/engine"
	"github.com/wippyai/wasm-harness/errors"
)

// LaneWidth returns the bit width of a v128 lane type: i8, i16, i32, i64,
// f32 or f64.
func LaneWidth(laneType string) (int, bool) {
	switch laneType {
	case "i8":
		return 8, true
	case "i16":
		return 16, true
	case "i32", "f32":
		return 32, true
	case "i64", "f64":
		return 64, true
	}
	return 0, false
}

type lanes struct {
	laneType string
	width    int
	want     []Expected
}

// Lanes expects a v128 result read as lanes of laneType, each lane matched
// on its own. Every element of want goes through From, so a float lane can
// be a NaN class while its neighbours are literals. Integer lanes narrower
// than 32 bits are read zero-extended into an int32.
func Lanes(laneType string, want ...any) (Expected, error) {
	width, ok := LaneWidth(laneType)
	if !ok {
		return nil, errors.InvalidInput(errors.PhaseAssert, fmt.Sprintf("unsupported lane type %q", laneType))
	}
	if len(want)*width != 128 {
		return nil, errors.InvalidInput(errors.PhaseAssert, fmt.Sprintf("v128 needs %d lanes of %s, got %d", 128/width, laneType, len(want)))
	}
	l := lanes{laneType: laneType, width: width, want: make([]Expected, len(want))}
	for i, w := range want {
		l.want[i] = From(w)
	}
	return l, nil
}

func (l lanes) Match(actual engine.Value) bool {
	v, ok := actual.(engine.V128)
	if !ok {
		return false
	}
	for i, want := range l.want {
		if !want.Match(l.lane(v, i)) {
			return false
		}
	}
	return true
}

// lane extracts lane i of v as a typed value.
func (l lanes) lane(v engine.V128, i int) engine.Value {
	half := len(l.want) / 2
	word := v.Lo
	if i >= half {
		word, i = v.Hi, i-half
	}
	bits := word >> (i * l.width)
	if l.width < 64 {
		bits &= 1<<l.width - 1
	}

	switch l.laneType {
	case "f32":
		return math.Float32frombits(uint32(bits))
	case "f64":
		return math.Float64frombits(bits)
	case "i64":
		return int64(bits)
	}
	return int32(uint32(bits))
}

func (l lanes) String() string {
	parts := make([]string, len(l.want))
	for i, w := range l.want {
		parts[i] = w.String()
	}
	return fmt.Sprintf("v128:%sx%d[%s]", l.laneType, len(l.want), strings.Join(parts, " "))
}
