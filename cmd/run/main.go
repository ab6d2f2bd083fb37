// Command run executes wast2json command files against the wazero engine.
//
//	run --threads --root testdata 'spec/*.json'
//	run -i --config harness.yaml
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/wippyai/wasm-harness/engine"
	"github.com/wippyai/wasm-harness/harness"
	"github.com/wippyai/wasm-harness/report"
	"github.com/wippyai/wasm-harness/script"
	"github.com/wippyai/wasm-harness/worker"
)

func main() {
	app := &cli.App{
		Name:      "run",
		Usage:     "run WebAssembly test scripts",
		UsageText: "run [options] FILE.json...",
		Flags:     newFlags(),
		Action:    runAction,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c.Path("config"))
	if err != nil {
		return err
	}
	applyFlags(c, &cfg)

	interactive := c.Bool("interactive")
	if interactive && !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintln(os.Stderr, "stdout is not a terminal, interactive mode disabled")
		interactive = false
	}
	if interactive {
		// The terminal UI owns the screen.
		cfg.Log.Format = "none"
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	installLogger(logger)

	loader := script.NewLoader(os.DirFS(cfg.Root))
	files, err := expandFiles(loader, cfg.Files)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return cli.Exit("no command files given", 2)
	}

	ctx := c.Context
	eng, err := engine.NewWazeroEngineWithConfig(ctx, &cfg.Engine)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	defer eng.Close(context.Background())

	rec := report.NewRecorder()
	suite := &harness.Suite{
		Engine: eng,
		Loader: loader,
		Config: &cfg.Harness,
	}

	logger.Info("starting run",
		zap.String("run", uuid.NewString()),
		zap.String("root", cfg.Root),
		zap.Int("files", len(files)))

	if interactive {
		err = runInteractive(ctx, suite, rec, files)
	} else {
		suite.Reporter = report.Multi(rec, report.Log(logger), newConsole(os.Stdout))
		err = suite.Run(ctx, files...)
		printSummary(os.Stdout, rec.Summary())
	}
	if err != nil {
		return err
	}
	if s := rec.Summary(); s.Failed > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d assertions failed", s.Failed, s.Total), 1)
	}
	return nil
}

// newLogger builds the process logger. Format "none" disables logging.
func newLogger(cfg LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	var zc zap.Config
	switch cfg.Format {
	case "none":
		return zap.NewNop(), nil
	case "json":
		zc = zap.NewProductionConfig()
	case "text", "":
		zc = zap.NewDevelopmentConfig()
		zc.DisableStacktrace = true
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func installLogger(l *zap.Logger) {
	engine.SetLogger(l.Named("engine"))
	harness.SetLogger(l.Named("harness"))
	worker.SetLogger(l.Named("worker"))
	script.SetLogger(l.Named("script"))
}

// expandFiles turns arguments into fs paths below the root, expanding glob
// patterns.
func expandFiles(loader *script.Loader, args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		name := path.Clean(filepath.ToSlash(arg))
		if path.IsAbs(name) || strings.HasPrefix(name, "../") {
			return nil, fmt.Errorf("%s is outside the root directory", arg)
		}
		if !strings.ContainsAny(name, "*?[") {
			files = append(files, name)
			continue
		}
		matches, err := loader.Glob(name)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no files match %s", arg)
		}
		files = append(files, matches...)
	}
	return files, nil
}

func printSummary(w io.Writer, s report.Summary) {
	style := passStyle
	if s.Failed > 0 {
		style = failStyle
	}
	fmt.Fprintln(w, style.Render(fmt.Sprintf("%d passed, %d failed, %d total", s.Passed, s.Failed, s.Total)))
}
