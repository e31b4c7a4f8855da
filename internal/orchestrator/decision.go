package orchestrator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Decision is the supervisor model's answer for one loop iteration. It is
// one of Terminate, Delegate or Malformed.
type Decision interface {
	decision()
}

// Terminate ends the run with Response as the final message.
type Terminate struct {
	Reasoning string
	Response  string
}

// Delegate hands Task to the named agent.
type Delegate struct {
	Reasoning string
	Agent     string
	Task      string
	Response  string
}

// Malformed carries model output that is not a decision object.
type Malformed struct {
	Raw string
	Err *DecisionParseError
}

func (Terminate) decision() {}
func (Delegate) decision()  {}
func (Malformed) decision() {}

// DecisionParser turns supervisor model output into a Decision.
type DecisionParser interface {
	Parse(text string) Decision
}

// StrictParser accepts exactly one JSON object with the fields reasoning,
// agent, task and response, each a string or null.
var StrictParser DecisionParser = strictParser{}

// LenientParser is StrictParser after stripping a surrounding markdown
// code fence.
var LenientParser DecisionParser = lenientParser{}

type decisionJSON struct {
	Reasoning *string `json:"reasoning"`
	Agent     *string `json:"agent"`
	Task      *string `json:"task"`
	Response  *string `json:"response"`
}

type strictParser struct{}

func (strictParser) Parse(text string) Decision {
	d, err := decodeDecision(text)
	if err != nil {
		return Malformed{Raw: text, Err: &DecisionParseError{Raw: text, Err: err}}
	}
	if d.Agent == nil || *d.Agent == "" {
		return Terminate{Reasoning: deref(d.Reasoning), Response: deref(d.Response)}
	}
	return Delegate{
		Reasoning: deref(d.Reasoning),
		Agent:     *d.Agent,
		Task:      deref(d.Task),
		Response:  deref(d.Response),
	}
}

func decodeDecision(text string) (decisionJSON, error) {
	var d decisionJSON
	trimmed := bytes.TrimSpace([]byte(text))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return d, errors.New("expected a JSON object")
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&d); err != nil {
		return d, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return d, fmt.Errorf("unexpected data after decision object")
	}
	return d, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

type lenientParser struct{}

func (lenientParser) Parse(text string) Decision {
	d := StrictParser.Parse(stripFence(text))
	if m, ok := d.(Malformed); ok {
		m.Raw = text
		m.Err.Raw = text
		return m
	}
	return d
}

// stripFence removes a ```json ... ``` wrapper if the whole text is one.
func stripFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return text
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.Contains(s[:nl], "{") {
		s = s[nl+1:]
	}
	return s
}

// ParseDecision parses text with StrictParser.
func ParseDecision(text string) Decision {
	return StrictParser.Parse(text)
}
