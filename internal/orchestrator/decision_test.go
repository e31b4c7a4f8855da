package orchestrator

import (
	"errors"
	"testing"
)

func TestParseDecisionTerminate(t *testing.T) {
	d := ParseDecision(`{"reasoning":"simple","agent":null,"task":null,"response":"Hello!"}`)
	term, ok := d.(Terminate)
	if !ok {
		t.Fatalf("decision = %#v, want Terminate", d)
	}
	if term.Response != "Hello!" || term.Reasoning != "simple" {
		t.Errorf("terminate = %+v", term)
	}
}

func TestParseDecisionDelegate(t *testing.T) {
	d := ParseDecision(`  {"reasoning":"cluster","agent":"kubernetes","task":"list pods","response":null}` + "\n")
	del, ok := d.(Delegate)
	if !ok {
		t.Fatalf("decision = %#v, want Delegate", d)
	}
	if del.Agent != "kubernetes" || del.Task != "list pods" || del.Response != "" {
		t.Errorf("delegate = %+v", del)
	}
}

func TestParseDecisionMissingFields(t *testing.T) {
	if _, ok := ParseDecision(`{}`).(Terminate); !ok {
		t.Error("empty object should terminate")
	}
	if _, ok := ParseDecision(`{"agent":""}`).(Terminate); !ok {
		t.Error("empty agent should terminate")
	}
	del, ok := ParseDecision(`{"agent":"jira"}`).(Delegate)
	if !ok || del.Task != "" {
		t.Errorf("agent without task = %#v", del)
	}
}

func TestParseDecisionMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"plain text", "Sure, happy to help."},
		{"empty", ""},
		{"null", "null"},
		{"array", `[{"agent":"x"}]`},
		{"string", `"hello"`},
		{"agent wrong type", `{"agent":42}`},
		{"response wrong type", `{"response":{"text":"x"}}`},
		{"unknown field", `{"agent":null,"response":"x","confidence":0.9}`},
		{"trailing data", `{"response":"x"} and more`},
		{"two objects", `{"response":"a"}{"response":"b"}`},
		{"prose before object", `Here you go: {"response":"x"}`},
		{"fenced", "```json\n{\"response\":\"x\"}\n```"},
		{"truncated", `{"response":"x"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ParseDecision(tt.input)
			m, ok := d.(Malformed)
			if !ok {
				t.Fatalf("decision = %#v, want Malformed", d)
			}
			if m.Raw != tt.input {
				t.Errorf("raw = %q, want input verbatim", m.Raw)
			}
			var perr *DecisionParseError
			if !errors.As(m.Err, &perr) || perr.Raw != tt.input {
				t.Errorf("err = %v", m.Err)
			}
		})
	}
}

func TestLenientParserStripsFence(t *testing.T) {
	tests := []string{
		"```json\n{\"agent\":\"argocd\",\"task\":\"sync\"}\n```",
		"```\n{\"agent\":\"argocd\",\"task\":\"sync\"}\n```",
		"  ```{\"agent\":\"argocd\",\"task\":\"sync\"}```  ",
	}
	for _, in := range tests {
		del, ok := LenientParser.Parse(in).(Delegate)
		if !ok || del.Agent != "argocd" || del.Task != "sync" {
			t.Errorf("Parse(%q) = %#v", in, del)
		}
	}
}

func TestLenientParserKeepsRawOnFailure(t *testing.T) {
	in := "```json\nnot json\n```"
	m, ok := LenientParser.Parse(in).(Malformed)
	if !ok {
		t.Fatal("expected Malformed")
	}
	if m.Raw != in || m.Err.Raw != in {
		t.Errorf("raw should be the original text, got %q", m.Raw)
	}
}

func TestLenientParserStillStrictOnContent(t *testing.T) {
	if _, ok := LenientParser.Parse(`{"response":"x","extra":1}`).(Malformed); !ok {
		t.Error("unknown fields should still be rejected")
	}
}
