package script

import (
	"fmt"
	"io/fs"
	"path"
	"sort"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-harness/chain"
	"github.com/wippyai/wasm-harness/engine"
	"github.com/wippyai/wasm-harness/errors"
	"github.com/wippyai/wasm-harness/harness"
	"github.com/wippyai/wasm-harness/worker"
)

// Loader loads command files and the module binaries they reference from a
// file system. It implements harness.Loader, so it also serves the files
// spawned by thread commands.
type Loader struct {
	fsys fs.FS
}

// NewLoader creates a loader reading from fsys.
func NewLoader(fsys fs.FS) *Loader {
	return &Loader{fsys: fsys}
}

// Glob returns the command files matching pattern in sorted order.
func (l *Loader) Glob(pattern string) ([]string, error) {
	names, err := fs.Glob(l.fsys, pattern)
	if err != nil {
		return nil, errors.Load("glob "+pattern, err)
	}
	sort.Strings(names)
	return names, nil
}

// Load reads name and every binary module it references. Values are decoded
// up front, so a file that loads runs without parse errors.
func (l *Loader) Load(name string) (harness.Script, error) {
	data, err := fs.ReadFile(l.fsys, name)
	if err != nil {
		return nil, errors.Load("read "+name, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, err
	}

	p := &plan{
		dir:    path.Dir(name),
		source: f.SourceFile,
		steps:  make([]step, 0, len(f.Commands)),
	}
	if p.source == "" {
		p.source = path.Base(name)
	}
	for _, c := range f.Commands {
		s, err := l.compile(p, c)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", p.source, c.Line, err)
		}
		if s != nil {
			p.steps = append(p.steps, step{line: c.Line, run: s})
		}
	}
	return p.run, nil
}

// binary reads the module of c. It returns nil for text modules, which have
// no binary to run.
func (l *Loader) binary(p *plan, c Command) ([]byte, error) {
	if c.ModuleType == "text" {
		Logger().Debug("skipping text module",
			zap.String("source", p.source),
			zap.Int("line", c.Line),
			zap.String("command", c.Type))
		return nil, nil
	}
	if c.Filename == "" {
		return nil, errors.InvalidInput(errors.PhaseLoad, c.Type+" without filename")
	}
	bin, err := fs.ReadFile(l.fsys, path.Join(p.dir, c.Filename))
	if err != nil {
		return nil, errors.Load("read module "+c.Filename, err)
	}
	return bin, nil
}

func (l *Loader) compile(p *plan, c Command) (func(*runner), error) {
	switch c.Type {
	case CommandModule:
		bin, err := l.binary(p, c)
		if err != nil || bin == nil {
			return nil, err
		}
		return func(r *runner) {
			inst := r.h.Instance(bin, nil, true)
			r.current = inst
			if c.Name != "" {
				r.modules[c.Name] = inst
			}
		}, nil

	case CommandRegister:
		return func(r *runner) {
			r.h.Register(c.As, r.instance(c.Name))
		}, nil

	case CommandAction:
		act, err := compileAction(c.Action)
		if err != nil {
			return nil, err
		}
		return func(r *runner) { r.h.Run(act(r)) }, nil

	case CommandAssertReturn:
		act, err := compileAction(c.Action)
		if err != nil {
			return nil, err
		}
		expected := make([]any, len(c.Expected))
		for i, v := range c.Expected {
			if expected[i], err = v.Expected(); err != nil {
				return nil, err
			}
		}
		return func(r *runner) { r.h.AssertReturn(act(r), expected...) }, nil

	case CommandAssertTrap, CommandAssertExhaustion:
		if c.Type == CommandAssertTrap && c.Filename != "" {
			// A module whose start function traps.
			return l.moduleAssertion(p, c, (*harness.Harness).AssertUninstantiable)
		}
		act, err := compileAction(c.Action)
		if err != nil {
			return nil, err
		}
		if c.Type == CommandAssertExhaustion {
			return func(r *runner) { r.h.AssertExhaustion(act(r)) }, nil
		}
		return func(r *runner) { r.h.AssertTrap(act(r)) }, nil

	case CommandAssertInvalid:
		return l.moduleAssertion(p, c, (*harness.Harness).AssertInvalid)
	case CommandAssertMalformed:
		return l.moduleAssertion(p, c, (*harness.Harness).AssertMalformed)
	case CommandAssertUnlinkable:
		return l.moduleAssertion(p, c, (*harness.Harness).AssertUnlinkable)
	case CommandAssertUninstantiable:
		return l.moduleAssertion(p, c, (*harness.Harness).AssertUninstantiable)

	case CommandThread:
		if c.Filename == "" {
			return nil, errors.InvalidInput(errors.PhaseLoad, "thread without filename")
		}
		file := path.Join(p.dir, c.Filename)
		return func(r *runner) {
			scope := make([]harness.ScopeEntry, len(c.Shared))
			for i, name := range c.Shared {
				scope[i] = harness.ScopeEntry{Name: name, Instance: r.instance(name)}
			}
			r.threads[c.Name] = r.h.Thread(scope, file)
		}, nil

	case CommandWait:
		return func(r *runner) {
			t, ok := r.threads[c.Thread]
			if !ok {
				t = chain.Resolved[*worker.Handle](nil, errors.NotFound(errors.PhaseWorker, "thread", c.Thread))
			}
			r.h.Wait(t)
		}, nil
	}
	return nil, errors.InvalidInput(errors.PhaseLoad, fmt.Sprintf("unknown command type %q", c.Type))
}

func (l *Loader) moduleAssertion(p *plan, c Command, op func(*harness.Harness, []byte)) (func(*runner), error) {
	bin, err := l.binary(p, c)
	if err != nil || bin == nil {
		return nil, err
	}
	return func(r *runner) { op(r.h, bin) }, nil
}

// compileAction decodes the arguments of a and returns a builder for the
// harness action.
func compileAction(a Action) (func(*runner) harness.Action, error) {
	switch a.Type {
	case "invoke":
		args := make([]engine.Value, len(a.Args))
		for i, v := range a.Args {
			var err error
			if args[i], err = v.Arg(); err != nil {
				return nil, err
			}
		}
		return func(r *runner) harness.Action {
			return r.h.Invoke(r.instance(a.Module), a.Field, args...)
		}, nil
	case "get":
		return func(r *runner) harness.Action {
			return r.h.GetAction(r.instance(a.Module), a.Field)
		}, nil
	}
	return nil, errors.InvalidInput(errors.PhaseParse, fmt.Sprintf("unknown action type %q", a.Type))
}
