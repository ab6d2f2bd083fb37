package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/wasm-harness/engine"
	"github.com/wippyai/wasm-harness/harness"
)

// Config is the run configuration. It is read from the YAML file named by
// --config and then overridden by flags that were set explicitly.
type Config struct {
	// Root is the directory command files and module binaries are read
	// from. File arguments are relative to it.
	Root string `yaml:"root"`

	// Files run when no file arguments are given. Glob patterns are
	// expanded against Root.
	Files []string `yaml:"files"`

	Log     LogConfig      `yaml:"log"`
	Engine  engine.Config  `yaml:"engine"`
	Harness harness.Config `yaml:"harness"`
}

// LogConfig selects the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaultConfig() Config {
	return Config{
		Root: ".",
		Log:  LogConfig{Level: "info", Format: "text"},
	}
}

// loadConfig reads the YAML file at path over the defaults. An empty path
// returns the defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// applyFlags overrides cfg with every flag set on the command line or
// through its environment variable.
func applyFlags(c *cli.Context, cfg *Config) {
	if c.IsSet("root") {
		cfg.Root = c.String("root")
	}
	if c.IsSet("id") {
		cfg.Harness.ID = c.String("id")
	}
	if c.IsSet("wait-timeout") {
		cfg.Harness.WaitTimeout = c.Duration("wait-timeout")
	}
	if c.IsSet("threads") {
		cfg.Engine.EnableThreads = c.Bool("threads")
	}
	if c.IsSet("interpreter") {
		cfg.Engine.Interpreter = c.Bool("interpreter")
	}
	if c.IsSet("memory-limit-pages") {
		cfg.Engine.MemoryLimitPages = uint32(c.Uint("memory-limit-pages"))
	}
	if c.IsSet("loglvl") {
		cfg.Log.Level = c.String("loglvl")
	}
	if c.IsSet("logfmt") {
		cfg.Log.Format = c.String("logfmt")
	}
	if c.NArg() > 0 {
		cfg.Files = c.Args().Slice()
	}
}

// newFlags returns the flag set. Flags carry parse state, so every app gets
// its own.
func newFlags() []cli.Flag {
	return []cli.Flag{
		&cli.PathFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "read configuration from YAML `file`",
			EnvVars: []string{"WASM_HARNESS_CONFIG"},
		},
		&cli.PathFlag{
			Name:    "root",
			Usage:   "resolve command files relative to `dir`",
			Value:   ".",
			EnvVars: []string{"WASM_HARNESS_ROOT"},
		},
		&cli.StringFlag{
			Name:    "id",
			Usage:   "insert `id` into assertion names",
			EnvVars: []string{"WASM_HARNESS_ID"},
		},
		&cli.DurationFlag{
			Name:        "wait-timeout",
			Usage:       "fail a wait after `duration`",
			DefaultText: "disabled",
			Value:       time.Duration(0),
			EnvVars:     []string{"WASM_HARNESS_WAIT_TIMEOUT"},
		},
		&cli.BoolFlag{
			Name:    "threads",
			Usage:   "enable shared memory and atomics",
			EnvVars: []string{"WASM_HARNESS_THREADS"},
		},
		&cli.BoolFlag{
			Name:    "interpreter",
			Usage:   "use the interpreter instead of the compiler",
			EnvVars: []string{"WASM_HARNESS_INTERPRETER"},
		},
		&cli.UintFlag{
			Name:        "memory-limit-pages",
			Usage:       "limit instance memory to `n` pages",
			DefaultText: "65536",
			EnvVars:     []string{"WASM_HARNESS_MEMORY_LIMIT_PAGES"},
		},
		// Logging
		&cli.StringFlag{
			Name:    "logfmt",
			Aliases: []string{"f"},
			Usage:   "`format` logs as text, json or none",
			Value:   "text",
			EnvVars: []string{"WASM_HARNESS_LOGFMT"},
		},
		&cli.StringFlag{
			Name:    "loglvl",
			Usage:   "set logging `level` to debug, info, warn or error",
			Value:   "info",
			EnvVars: []string{"WASM_HARNESS_LOGLVL"},
		},
		&cli.BoolFlag{
			Name:    "interactive",
			Aliases: []string{"i"},
			Usage:   "show results in a terminal UI",
		},
	}
}
