package worker

import (
	"encoding/json"

	"github.com/wippyai/wasm-harness/engine"
	"github.com/wippyai/wasm-harness/errors"
)

// MessageType tags a FromWorker message.
type MessageType string

const (
	MessageDone   MessageType = "done"
	MessageFailed MessageType = "failed"
)

// FromWorker is a message a worker posts to its parent.
type FromWorker struct {
	Type MessageType `json:"type"`
	Name string      `json:"name,omitempty"`
	Loc  string      `json:"loc,omitempty"`
}

// Done reports that the worker's chain drained.
func Done() FromWorker {
	return FromWorker{Type: MessageDone}
}

// Failed reports one failed assertion inside the worker.
func Failed(name, loc string) FromWorker {
	return FromWorker{Type: MessageFailed, Name: name, Loc: loc}
}

// Encode returns the wire form of m.
func (m FromWorker) Encode() ([]byte, error) {
	switch m.Type {
	case MessageDone:
		return []byte(`{"type":"done"}`), nil
	case MessageFailed:
		return json.Marshal(struct {
			Type MessageType `json:"type"`
			Name string      `json:"name"`
			Loc  string      `json:"loc"`
		}{m.Type, m.Name, m.Loc})
	}
	return nil, errors.InvalidInput(errors.PhaseWorker, "unknown message type "+string(m.Type))
}

// DecodeFromWorker parses a wire message.
func DecodeFromWorker(data []byte) (FromWorker, error) {
	var m FromWorker
	if err := json.Unmarshal(data, &m); err != nil {
		return FromWorker{}, errors.ParseFailed("worker message", err)
	}
	switch m.Type {
	case MessageDone, MessageFailed:
		return m, nil
	}
	return FromWorker{}, errors.InvalidInput(errors.PhaseWorker, "unknown message type "+string(m.Type))
}

// ScopeEntry is one named bundle transplanted into a worker.
type ScopeEntry struct {
	Bundle *engine.Bundle
	Name   string
}

// MarshalJSON encodes the entry as [name, bundle].
func (e ScopeEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Name, e.Bundle})
}

// ToWorker is the start message posted to a new worker. It travels by value
// since the bundles reference live shared memories; MarshalJSON gives its
// wire shape for logging.
type ToWorker struct {
	Filename string       `json:"filename"`
	Scope    []ScopeEntry `json:"scope"`
}

// MarshalJSON keeps an empty scope as [] rather than null.
func (m ToWorker) MarshalJSON() ([]byte, error) {
	scope := m.Scope
	if scope == nil {
		scope = []ScopeEntry{}
	}
	return json.Marshal(struct {
		Scope    []ScopeEntry `json:"scope"`
		Filename string       `json:"filename"`
	}{scope, m.Filename})
}
