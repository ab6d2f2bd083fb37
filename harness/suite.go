package harness

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-harness/engine"
	"github.com/wippyai/wasm-harness/errors"
	"github.com/wippyai/wasm-harness/report"
)

// Suite runs script files one after another, each in a fresh harness.
type Suite struct {
	Engine   engine.Engine
	Loader   Loader
	Reporter report.Reporter
	Config   *Config
}

// Run runs files in order. Assertion failures go to the reporter; the
// returned error aggregates files that could not be loaded or finished.
func (s *Suite) Run(ctx context.Context, files ...string) error {
	if s.Loader == nil {
		return errors.InvalidInput(errors.PhaseLoad, "suite has no loader")
	}
	var err error
	for _, file := range files {
		err = multierr.Append(err, s.RunFile(ctx, file))
		if ctx.Err() != nil {
			return multierr.Append(err, ctx.Err())
		}
	}
	return err
}

// RunFile runs a single file.
func (s *Suite) RunFile(ctx context.Context, file string) error {
	script, err := s.Loader.Load(file)
	if err != nil {
		return fmt.Errorf("load %s: %w", file, err)
	}

	cfg := s.Config.withDefaults()
	cfg.Loader = s.Loader
	cfg.File = file

	Logger().Info("running file", zap.String("file", file))
	h := New(ctx, s.Engine, s.Reporter, &cfg)
	script(h)
	if err := h.Finish(ctx); err != nil {
		return fmt.Errorf("finish %s: %w", file, err)
	}
	return nil
}
