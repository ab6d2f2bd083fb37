// Package report records assertion outcomes.
//
// A Reporter receives one Result per assertion. Implementations must be
// safe for concurrent use: worker contexts record into the same reporter as
// their parent.
package report

import (
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap"
)

// Result is the outcome of one assertion.
type Result struct {
	Err      error  `json:"-"`
	Name     string `json:"name"`
	Message  string `json:"message,omitempty"`
	Location string `json:"loc,omitempty"`
	Source   string `json:"source,omitempty"`
	Seq      int    `json:"seq"`
	Passed   bool   `json:"passed"`
}

func (r Result) String() string {
	status := "PASS"
	if !r.Passed {
		status = "FAIL"
	}
	s := status + " " + r.Name
	if r.Source != "" {
		s = fmt.Sprintf("%s [%s]", s, r.Source)
	}
	if r.Message != "" {
		s += ": " + r.Message
	}
	if r.Location != "" {
		s += " (" + r.Location + ")"
	}
	return s
}

// Reporter records assertion results.
type Reporter interface {
	Record(r Result)
}

// Func adapts a function to Reporter.
type Func func(r Result)

func (f Func) Record(r Result) { f(r) }

// Summary counts results.
type Summary struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// Recorder collects results in memory.
type Recorder struct {
	results []Result
	mu      sync.Mutex
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Record(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

// Results returns a copy of the recorded results in recording order.
func (r *Recorder) Results() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Result, len(r.results))
	copy(out, r.results)
	return out
}

// Failures returns the failed results.
func (r *Recorder) Failures() []Result {
	var out []Result
	for _, res := range r.Results() {
		if !res.Passed {
			out = append(out, res)
		}
	}
	return out
}

// Summary counts the recorded results.
func (r *Recorder) Summary() Summary {
	var s Summary
	for _, res := range r.Results() {
		s.Total++
		if res.Passed {
			s.Passed++
		} else {
			s.Failed++
		}
	}
	return s
}

// ForTest reports failures through tb.Errorf and passes through tb.Logf.
func ForTest(tb testing.TB) Reporter {
	return Func(func(r Result) {
		tb.Helper()
		if r.Passed {
			tb.Logf("%s", r)
			return
		}
		tb.Errorf("%s", r)
	})
}

// Log writes each result as a structured log line. Failures are logged at
// error level, passes at debug level.
func Log(logger *zap.Logger) Reporter {
	return Func(func(r Result) {
		fields := []zap.Field{
			zap.Int("seq", r.Seq),
			zap.String("name", r.Name),
		}
		if r.Source != "" {
			fields = append(fields, zap.String("source", r.Source))
		}
		if r.Passed {
			logger.Debug("assertion passed", fields...)
			return
		}
		fields = append(fields, zap.String("message", r.Message), zap.String("loc", r.Location))
		if r.Err != nil {
			fields = append(fields, zap.Error(r.Err))
		}
		logger.Error("assertion failed", fields...)
	})
}

// Multi fans each result out to every reporter.
func Multi(reporters ...Reporter) Reporter {
	return Func(func(r Result) {
		for _, rep := range reporters {
			if rep != nil {
				rep.Record(r)
			}
		}
	})
}

// Tagged sets Source on results that do not carry one.
func Tagged(rep Reporter, source string) Reporter {
	return Func(func(r Result) {
		if r.Source == "" {
			r.Source = source
		}
		rep.Record(r)
	})
}
