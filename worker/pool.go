package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/wasm-harness/errors"
)

// Body is the code a worker runs. It receives its start message from port.
type Body func(ctx context.Context, port *Port) error

// Events receives what workers report. Callbacks run on the worker's
// dispatcher goroutine, one message at a time per worker.
type Events struct {
	OnMessage func(h *Handle, msg FromWorker)
	OnError   func(h *Handle, err error)
}

// Handle identifies a spawned worker.
type Handle struct {
	record *Record
	cancel context.CancelFunc
	inbox  chan ToWorker
	File   string
	ID     uuid.UUID
	Index  int
}

// Record returns the worker's lifecycle record.
func (h *Handle) Record() *Record {
	return h.record
}

// Post delivers the start message. A worker accepts exactly one.
func (h *Handle) Post(msg ToWorker) error {
	select {
	case h.inbox <- msg:
		return nil
	default:
		return errors.InvalidInput(errors.PhaseWorker, "worker already has a start message")
	}
}

// Terminate moves the worker to terminated and cancels it unless it already
// finished. It reports whether the state changed. A worker that already
// reported a failure keeps running, so its later messages still arrive.
func (h *Handle) Terminate() bool {
	if !h.record.Finish(StateTerminated) {
		return false
	}
	h.cancel()
	return true
}

func (h *Handle) String() string {
	return fmt.Sprintf("worker %d (%s)", h.Index, h.File)
}

// Port is the worker's side of the channel pair.
type Port struct {
	handle *Handle
	outbox chan []byte
}

// Receive waits for the start message and marks the worker running.
func (p *Port) Receive(ctx context.Context) (ToWorker, error) {
	select {
	case msg := <-p.handle.inbox:
		p.handle.record.Start()
		return msg, nil
	case <-ctx.Done():
		return ToWorker{}, ctx.Err()
	}
}

// Post sends msg to the parent.
func (p *Port) Post(ctx context.Context, msg FromWorker) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	select {
	case p.outbox <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pool owns the workers spawned by one context.
type Pool struct {
	ctx     context.Context
	cancel  context.CancelFunc
	group   errgroup.Group
	events  Events
	handles []*Handle
	mu      sync.Mutex
}

// NewPool creates a pool whose workers live at most as long as ctx.
func NewPool(ctx context.Context, events Events) *Pool {
	ctx, cancel := context.WithCancel(ctx)
	return &Pool{ctx: ctx, cancel: cancel, events: events}
}

// Spawn starts body on a new goroutine. The worker stays in the spawned
// state until it receives the start message posted through the handle.
func (p *Pool) Spawn(file string, body Body) *Handle {
	ctx, cancel := context.WithCancel(p.ctx)

	p.mu.Lock()
	h := &Handle{
		record: NewRecord(),
		cancel: cancel,
		inbox:  make(chan ToWorker, 1),
		File:   file,
		ID:     uuid.New(),
		Index:  len(p.handles),
	}
	p.handles = append(p.handles, h)
	p.mu.Unlock()

	port := &Port{handle: h, outbox: make(chan []byte)}
	bodyErr := make(chan error, 1)

	p.group.Go(func() error {
		defer close(port.outbox)
		bodyErr <- runBody(ctx, body, port)
		return nil
	})
	p.group.Go(func() error {
		return p.dispatch(ctx, h, port.outbox, bodyErr)
	})

	Logger().Debug("worker spawned",
		zap.Int("index", h.Index),
		zap.String("id", h.ID.String()),
		zap.String("file", file))
	return h
}

func runBody(ctx context.Context, body Body, port *Port) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panicked: %v", r)
		}
	}()
	return body(ctx, port)
}

func (p *Pool) dispatch(ctx context.Context, h *Handle, outbox <-chan []byte, bodyErr <-chan error) error {
	var protoErr error
	for data := range outbox {
		msg, err := DecodeFromWorker(data)
		if err != nil {
			protoErr = err
			p.fail(h, err)
			continue
		}
		if p.events.OnMessage != nil {
			p.events.OnMessage(h, msg)
		}
	}

	if err := <-bodyErr; err != nil && ctx.Err() == nil {
		p.fail(h, err)
	}
	return protoErr
}

func (p *Pool) fail(h *Handle, err error) {
	Logger().Warn("worker errored out",
		zap.Int("index", h.Index),
		zap.String("file", h.File),
		zap.Error(err))
	if p.events.OnError != nil {
		p.events.OnError(h, err)
	}
}

// Handles returns the spawned workers in spawn order.
func (p *Pool) Handles() []*Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Handle, len(p.handles))
	copy(out, p.handles)
	return out
}

// Get returns the worker with the given id.
func (p *Pool) Get(id uuid.UUID) (*Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, h := range p.handles {
		if h.ID == id {
			return h, true
		}
	}
	return nil, false
}

// Sweep terminates every worker that has not finished and forgets all
// workers. It returns the terminated handles. Nothing is reported for them
// beyond a log line.
func (p *Pool) Sweep() []*Handle {
	p.mu.Lock()
	handles := p.handles
	p.handles = nil
	p.mu.Unlock()

	var killed []*Handle
	for _, h := range handles {
		if h.Terminate() {
			Logger().Info("kill potentially unfinished worker",
				zap.Int("index", h.Index),
				zap.String("file", h.File),
				zap.String("kind", string(errors.KindWorkerUnused)))
			killed = append(killed, h)
		}
	}
	return killed
}

// Close terminates all unfinished workers and waits for every goroutine,
// including the bodies of workers that failed but are still running. It
// returns the first protocol error any worker produced.
func (p *Pool) Close() error {
	p.Sweep()
	err := p.group.Wait()
	p.cancel()
	return err
}
