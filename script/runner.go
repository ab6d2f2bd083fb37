package script

import (
	"fmt"

	"github.com/wippyai/wasm-harness/chain"
	"github.com/wippyai/wasm-harness/engine"
	"github.com/wippyai/wasm-harness/harness"
	"github.com/wippyai/wasm-harness/worker"
)

type step struct {
	run  func(*runner)
	line int
}

// plan is a loaded command file.
type plan struct {
	dir    string
	source string
	steps  []step
}

// run issues the ops of every step, attributing each to its source line.
func (p *plan) run(h *harness.Harness) {
	r := &runner{
		h:       h,
		modules: make(map[string]*chain.Future[engine.Instance]),
		threads: make(map[string]*chain.Future[*worker.Handle]),
	}
	for _, s := range p.steps {
		h.Locate(fmt.Sprintf("%s:%d", p.source, s.line))
		s.run(r)
	}
	h.Locate("")
}

// runner holds the module and thread names of one run.
type runner struct {
	h       *harness.Harness
	current *chain.Future[engine.Instance]
	modules map[string]*chain.Future[engine.Instance]
	threads map[string]*chain.Future[*worker.Handle]
}

// instance resolves a module name. An empty name is the most recent module
// and an unknown one is looked up in the thread scope.
func (r *runner) instance(name string) *chain.Future[engine.Instance] {
	if name == "" {
		return r.current
	}
	if inst, ok := r.modules[name]; ok {
		return inst
	}
	return r.h.Scope(name)
}
