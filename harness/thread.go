package harness

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-harness/chain"
	"github.com/wippyai/wasm-harness/engine"
	"github.com/wippyai/wasm-harness/errors"
	"github.com/wippyai/wasm-harness/report"
	"github.com/wippyai/wasm-harness/worker"
)

const (
	descThread = "Test that a thread can be spawned"
	descWait   = "Test that the result of a thread execution can be waited on"
)

// ScopeEntry names an instance whose shared memories a thread may import.
type ScopeEntry struct {
	Instance *chain.Future[engine.Instance]
	Name     string
}

// Thread spawns a worker running file. Each scope instance is reduced to its
// shared memories and handed to the worker, where Scope(name) returns it.
// Only a failure to resolve the scope is recorded here; the worker's own
// assertions are recorded by the worker.
func (h *Harness) Thread(scope []ScopeEntry, file string) *chain.Future[*worker.Handle] {
	loc := h.callSite()
	return schedule(h, descThread, loc, func(ctx context.Context) (*worker.Handle, error) {
		entries := make([]worker.ScopeEntry, 0, len(scope))
		for _, e := range scope {
			i, err := awaitInstance(ctx, e.Instance)
			if err != nil {
				h.record(descThread, loc, errors.Unexpected(err))
				return nil, err
			}
			entries = append(entries, worker.ScopeEntry{
				Name:   e.Name,
				Bundle: i.Exports().Filter(engine.SharedMemories),
			})
		}

		hd := h.pool.Spawn(file, h.workerBody())
		h.mu.Lock()
		h.threadLocs[hd] = loc
		h.mu.Unlock()

		msg := worker.ToWorker{Scope: entries, Filename: file}
		Logger().Debug("starting worker", zap.Stringer("worker", hd), zap.Any("message", msg))
		if err := hd.Post(msg); err != nil {
			h.record(descThread, loc, errors.Unexpected(err))
			return hd, err
		}
		return hd, nil
	})
}

// Wait blocks the chain until the worker finishes. A worker that already
// finished resolves at once. A failure is recorded only when the worker
// failed without its failure having been reported, or when WaitTimeout
// elapses first.
func (h *Harness) Wait(handle *chain.Future[*worker.Handle]) *chain.Future[worker.State] {
	loc := h.callSite()
	return schedule(h, descWait, loc, func(ctx context.Context) (worker.State, error) {
		hd, err := handle.Await(ctx)
		if err == nil && hd == nil {
			err = errors.InvalidInput(errors.PhaseWorker, "no worker")
		}
		if err != nil {
			h.record(descWait, loc, errors.Unexpected(err))
			return worker.StateFailed, err
		}

		rec := hd.Record()
		if s := rec.State(); s.Terminal() {
			Logger().Debug("worker already finished", zap.Stringer("worker", hd), zap.Stringer("state", s))
		} else {
			Logger().Debug("waiting for worker", zap.Stringer("worker", hd))
		}

		state, err := rec.Wait(ctx, h.cfg.WaitTimeout)
		if err != nil {
			h.record(descWait, loc, err)
			return state, err
		}
		if state == worker.StateFailed && rec.MarkReported() {
			h.record(descWait, loc, errors.WorkerFailed(hd.File, loc))
		}
		return state, nil
	})
}

// Scope returns an instance transplanted from the parent context. Outside a
// worker, or for an unknown name, the future fails.
func (h *Harness) Scope(name string) *chain.Future[engine.Instance] {
	if f, ok := h.scope[name]; ok {
		return f
	}
	return chain.Resolved[engine.Instance](nil, errors.NotFound(errors.PhaseWorker, "scope entry", name))
}

func (h *Harness) onWorkerMessage(hd *worker.Handle, msg worker.FromWorker) {
	rec := hd.Record()
	switch msg.Type {
	case worker.MessageDone:
		rec.Finish(worker.StateDone)
		Logger().Debug("worker done", zap.Stringer("worker", hd))
	case worker.MessageFailed:
		rec.MarkReported()
		h.record(hd.File+": "+msg.Name, msg.Loc, errors.WorkerFailed(msg.Name, msg.Loc))
		rec.Finish(worker.StateFailed)
	}
}

func (h *Harness) onWorkerError(hd *worker.Handle, err error) {
	h.mu.Lock()
	loc := h.threadLocs[hd]
	h.mu.Unlock()

	rec := hd.Record()
	rec.MarkReported()
	h.record(hd.File+": "+err.Error(), loc, errors.New(errors.PhaseWorker, errors.KindWorkerFailure).
		Detail("worker errored out").
		Cause(err).
		Build())
	rec.Finish(worker.StateFailed)
}

// workerBody runs a script in a child harness that shares the engine and
// reports into this harness's reporter.
func (h *Harness) workerBody() worker.Body {
	return func(ctx context.Context, port *worker.Port) error {
		msg, err := port.Receive(ctx)
		if err != nil {
			return err
		}
		if h.cfg.Loader == nil {
			return errors.InvalidInput(errors.PhaseWorker, "no loader configured for threads")
		}
		script, err := h.cfg.Loader.Load(msg.Filename)
		if err != nil {
			return err
		}

		scope := make(map[string]*chain.Future[engine.Instance], len(msg.Scope))
		for _, e := range msg.Scope {
			scope[e.Name] = chain.Resolved[engine.Instance](scopedInstance{bundle: e.Bundle}, nil)
		}
		child := newHarness(ctx, h.engine, report.Tagged(h.reporter, "worker:"+msg.Filename), &Config{
			Loader:      h.cfg.Loader,
			ID:          h.cfg.ID,
			File:        msg.Filename,
			WaitTimeout: h.cfg.WaitTimeout,
		}, port, scope)
		child.reinitialize(msg.Filename)

		script(child)
		if err := child.Finish(ctx); err != nil {
			return err
		}
		return port.Post(ctx, worker.Done())
	}
}

// scopedInstance is an instance reduced to the shared memories of a parent
// context instance.
type scopedInstance struct {
	bundle *engine.Bundle
}

func (s scopedInstance) Exports() *engine.Bundle { return s.bundle }

func (s scopedInstance) Invoke(_ context.Context, name string, _ ...engine.Value) (any, error) {
	return nil, errors.Invocation(name, "scope instances export shared memories only")
}

func (scopedInstance) Close(context.Context) error { return nil }
