package orchestrator

import (
	"bytes"
	"encoding/json"
	"iter"
)

const (
	DefaultManifestVersion = "1.0.0"
	DefaultProtocol        = "a2a/1.0"
)

// Capability groups the tools that serve one area of a handler's work.
type Capability struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Tools       []string `json:"tools" yaml:"tools"`
}

// CapabilityManifest is the discovery card of a handler.
type CapabilityManifest struct {
	Name         string       `json:"name" yaml:"name"`
	Description  string       `json:"description" yaml:"description"`
	Capabilities []Capability `json:"capabilities" yaml:"capabilities"`
	Version      string       `json:"version" yaml:"version"`
	Protocol     string       `json:"protocol" yaml:"protocol"`
}

// CapabilityNames returns the capability names in declaration order.
func (m CapabilityManifest) CapabilityNames() []string {
	names := make([]string, 0, len(m.Capabilities))
	for _, c := range m.Capabilities {
		names = append(names, c.Name)
	}
	return names
}

// HandlerResult is what one handler invocation produced.
type HandlerResult struct {
	Content   string   `json:"content"`
	ToolsUsed []string `json:"tools_used"`
}

// Outputs maps handler names to their last result. Iteration follows the
// order in which each handler first produced a result.
type Outputs struct {
	order   []string
	results map[string]HandlerResult
}

func NewOutputs() *Outputs {
	return &Outputs{results: make(map[string]HandlerResult)}
}

// Set records r for name. A repeated name replaces the result in place.
func (o *Outputs) Set(name string, r HandlerResult) {
	if _, ok := o.results[name]; !ok {
		o.order = append(o.order, name)
	}
	o.results[name] = r
}

func (o *Outputs) Get(name string) (HandlerResult, bool) {
	r, ok := o.results[name]
	return r, ok
}

func (o *Outputs) Len() int { return len(o.order) }

func (o *Outputs) Names() []string {
	return append([]string(nil), o.order...)
}

func (o *Outputs) All() iter.Seq2[string, HandlerResult] {
	return func(yield func(string, HandlerResult) bool) {
		for _, name := range o.order {
			if !yield(name, o.results[name]) {
				return
			}
		}
	}
}

// MarshalJSON writes a JSON object whose keys keep insertion order.
func (o *Outputs) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range o.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(o.results[name])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
