package harness

import "time"

// Config holds per-file harness settings. A nil *Config uses defaults.
type Config struct {
	// Loader resolves the files spawned with Thread and run by Suite.
	Loader Loader `yaml:"-"`

	// ID is inserted into assertion names as "#N (ID) description".
	ID string `yaml:"id"`

	// File names the script for logs and worker result tags.
	File string `yaml:"-"`

	// WaitTimeout bounds Wait. Zero waits until the worker finishes or
	// the harness context ends.
	WaitTimeout time.Duration `yaml:"wait_timeout"`
}

func (c *Config) withDefaults() Config {
	if c == nil {
		return Config{}
	}
	return *c
}
