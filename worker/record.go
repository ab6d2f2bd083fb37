package worker

import (
	"context"
	"sync"
	"time"

	"github.com/wippyai/wasm-harness/errors"
)

// State is the lifecycle state of a worker.
type State int

const (
	StateSpawned State = iota
	StateRunning
	StateDone
	StateFailed
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateSpawned:
		return "spawned"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s >= StateDone
}

// Record tracks one worker's state.
type Record struct {
	terminal chan struct{}
	state    State
	reported bool
	mu       sync.Mutex
}

// NewRecord returns a record in the spawned state.
func NewRecord() *Record {
	return &Record{terminal: make(chan struct{})}
}

// State returns the current state.
func (r *Record) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start moves a spawned record to running.
func (r *Record) Start() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateSpawned {
		return false
	}
	r.state = StateRunning
	return true
}

// Finish moves the record to the terminal state s. It returns false if the
// record was already terminal.
func (r *Record) Finish(s State) bool {
	if !s.Terminal() {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Terminal() {
		return false
	}
	r.state = s
	close(r.terminal)
	return true
}

// Terminated is closed once the record reaches a terminal state.
func (r *Record) Terminated() <-chan struct{} {
	return r.terminal
}

// MarkReported flags the record as reported and returns whether it was
// unreported before.
func (r *Record) MarkReported() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reported {
		return false
	}
	r.reported = true
	return true
}

// Wait blocks until the record is terminal, ctx ends or timeout elapses.
// A zero timeout waits without limit.
func (r *Record) Wait(ctx context.Context, timeout time.Duration) (State, error) {
	if s := r.State(); s.Terminal() {
		return s, nil
	}

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case <-r.terminal:
		return r.State(), nil
	case <-ctx.Done():
		return r.State(), ctx.Err()
	case <-expired:
		return r.State(), errors.New(errors.PhaseWorker, errors.KindTimeout).
			Detail("worker still %s after %s", r.State(), timeout).
			Build()
	}
}
