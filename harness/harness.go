// Package harness runs WebAssembly test scripts.
//
// A Harness owns one chain. Every op captures its call site, schedules a
// step and returns immediately, so a script issues all of its ops up front
// and the steps run strictly in call order afterwards. Each step performs
// the real engine operation and records its assertions before the next step
// starts. Failures are recorded, never returned, so one broken assertion
// does not stop the rest of the file.
//
// Ops that produce something return a *chain.Future usable as an input of
// later ops:
//
//	m := h.Instance(bin, nil, true)
//	h.AssertReturn(h.Invoke(m, "add", int32(1), int32(2)), int32(3))
//	h.Register("M", m)
//	if err := h.Finish(ctx); err != nil { ... }
package harness

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-harness/chain"
	"github.com/wippyai/wasm-harness/engine"
	"github.com/wippyai/wasm-harness/errors"
	"github.com/wippyai/wasm-harness/registry"
	"github.com/wippyai/wasm-harness/report"
	"github.com/wippyai/wasm-harness/worker"
)

// Harness is the per-file execution context.
type Harness struct {
	ctx      context.Context
	engine   engine.Engine
	reporter report.Reporter
	registry *registry.Registry
	chain    *chain.Chain
	pool     *worker.Pool

	// port is set inside worker contexts.
	port  *worker.Port
	scope map[string]*chain.Future[engine.Instance]

	threadLocs map[*worker.Handle]string
	closers    []closer
	loc        string
	cfg        Config
	seq        atomic.Int64
	mu         sync.Mutex
}

type closer interface {
	Close(ctx context.Context) error
}

// New creates a harness for one file. The default imports are installed by
// the first chained step.
func New(ctx context.Context, eng engine.Engine, rep report.Reporter, cfg *Config) *Harness {
	h := newHarness(ctx, eng, rep, cfg, nil, nil)
	h.reinitialize(h.callSite())
	return h
}

func newHarness(ctx context.Context, eng engine.Engine, rep report.Reporter, cfg *Config,
	port *worker.Port, scope map[string]*chain.Future[engine.Instance]) *Harness {
	h := &Harness{
		ctx:        ctx,
		engine:     eng,
		reporter:   rep,
		registry:   registry.New(),
		chain:      chain.New(ctx),
		port:       port,
		scope:      scope,
		threadLocs: make(map[*worker.Handle]string),
		cfg:        cfg.withDefaults(),
	}
	h.pool = worker.NewPool(ctx, worker.Events{
		OnMessage: h.onWorkerMessage,
		OnError:   h.onWorkerError,
	})
	return h
}

// Registry returns the import registry of this harness.
func (h *Harness) Registry() *registry.Registry {
	return h.registry
}

// Engine returns the engine the harness runs on.
func (h *Harness) Engine() engine.Engine {
	return h.engine
}

// Locate overrides call-site capture for subsequent ops. Scripts that are
// not Go code use it to attribute assertions to their own lines. An empty
// loc restores call-site capture.
func (h *Harness) Locate(loc string) {
	h.mu.Lock()
	h.loc = loc
	h.mu.Unlock()
}

// callSite returns the location of the caller of the exported op.
func (h *Harness) callSite() string {
	h.mu.Lock()
	loc := h.loc
	h.mu.Unlock()
	if loc != "" {
		return loc
	}
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

func (h *Harness) testName(desc string) (int, string) {
	n := int(h.seq.Add(1))
	if h.cfg.ID == "" {
		return n, fmt.Sprintf("#%d %s", n, desc)
	}
	return n, fmt.Sprintf("#%d (%s) %s", n, h.cfg.ID, desc)
}

// record numbers and reports one assertion. err == nil is a pass.
func (h *Harness) record(desc, loc string, err error) {
	if h.port != nil && h.ctx.Err() != nil {
		Logger().Debug("dropping result of terminated worker",
			zap.String("file", h.cfg.File),
			zap.String("assertion", desc))
		return
	}

	seq, name := h.testName(desc)
	res := report.Result{
		Seq:      seq,
		Name:     name,
		Passed:   err == nil,
		Location: loc,
		Err:      err,
	}
	if err != nil {
		res.Message = err.Error()
	}
	h.reporter.Record(res)

	if err != nil && h.port != nil {
		if perr := h.port.Post(h.ctx, worker.Failed(name, loc)); perr != nil {
			Logger().Warn("cannot post failure to parent", zap.String("assertion", name), zap.Error(perr))
		}
	}
}

// schedule chains work and records a failure for desc if work panics.
func schedule[T any](h *Harness, desc, loc string, work func(ctx context.Context) (T, error)) *chain.Future[T] {
	return chain.Schedule(h.chain, func(ctx context.Context) (v T, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.New(errors.PhaseAssert, errors.KindUnexpectedError).
					Value(r).
					Detail("step panicked: %v", r).
					Build()
				h.record(desc, loc, err)
			}
		}()
		return work(ctx)
	})
}

func (h *Harness) track(c closer) {
	h.mu.Lock()
	h.closers = append(h.closers, c)
	h.mu.Unlock()
}

// reinitialize resets the registry to a fresh default environment.
func (h *Harness) reinitialize(loc string) {
	schedule(h, descReinit, loc, func(ctx context.Context) (struct{}, error) {
		spectest, err := h.spectest(ctx)
		if err != nil {
			h.record(descReinit, loc, errors.Unexpected(err))
			h.registry.Reset(nil)
			return struct{}{}, err
		}
		h.registry.Reset(map[string]*engine.Bundle{SpectestNamespace: spectest})
		return struct{}{}, nil
	})
}

// Finish ends the file: unfinished workers are terminated, the chain is
// drained, the final "Reinitialize the default imports" assertion is
// recorded and every instance the harness created is released.
func (h *Harness) Finish(ctx context.Context) error {
	loc := h.callSite()
	schedule(h, descReinit, loc, func(ctx context.Context) (struct{}, error) {
		h.pool.Sweep()
		return struct{}{}, nil
	})

	if err := h.chain.Drain(ctx); err != nil {
		return fmt.Errorf("drain %s: %w", h.cfg.File, err)
	}
	h.record(descReinit, loc, nil)
	Logger().Debug("file finished",
		zap.String("file", h.cfg.File),
		zap.Int("steps", h.chain.Len()),
		zap.Int64("assertions", h.seq.Load()))

	err := h.pool.Close()
	h.registry.Reset(nil)

	h.mu.Lock()
	closers := h.closers
	h.closers = nil
	h.mu.Unlock()
	for i := len(closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, closers[i].Close(ctx))
	}
	return err
}
