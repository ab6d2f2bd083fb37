package harness

import (
	"sort"

	"github.com/wippyai/wasm-harness/errors"
)

// Script drives a harness by issuing ops. It runs synchronously and must
// not wait on the futures it creates.
type Script func(h *Harness)

// Loader resolves a file name to a script.
type Loader interface {
	Load(name string) (Script, error)
}

// ScriptMap is a Loader over in-memory scripts.
type ScriptMap map[string]Script

// Load implements Loader.
func (m ScriptMap) Load(name string) (Script, error) {
	s, ok := m[name]
	if !ok {
		return nil, errors.NotFound(errors.PhaseLoad, "script", name)
	}
	return s, nil
}

// Names returns the script names in sorted order.
func (m ScriptMap) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
