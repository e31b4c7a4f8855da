package orchestrator

import (
	"encoding/json"
	"testing"
)

func TestOutputsKeepFirstPosition(t *testing.T) {
	o := NewOutputs()
	o.Set("kubernetes", HandlerResult{Content: "a"})
	o.Set("argocd", HandlerResult{Content: "b"})
	o.Set("kubernetes", HandlerResult{Content: "c"})

	if o.Len() != 2 {
		t.Fatalf("Len = %d", o.Len())
	}
	names := o.Names()
	if names[0] != "kubernetes" || names[1] != "argocd" {
		t.Errorf("Names = %v", names)
	}
	if r, _ := o.Get("kubernetes"); r.Content != "c" {
		t.Errorf("kubernetes = %q, want c", r.Content)
	}
}

func TestOutputsAllStopsEarly(t *testing.T) {
	o := NewOutputs()
	o.Set("a", HandlerResult{})
	o.Set("b", HandlerResult{})
	o.Set("c", HandlerResult{})

	var seen []string
	for name := range o.All() {
		seen = append(seen, name)
		if name == "b" {
			break
		}
	}
	if len(seen) != 2 {
		t.Errorf("seen = %v", seen)
	}
}

func TestOutputsMarshalJSONOrder(t *testing.T) {
	o := NewOutputs()
	o.Set("vault", HandlerResult{Content: "x", ToolsUsed: []string{"read_secret"}})
	o.Set("argocd", HandlerResult{Content: "y", ToolsUsed: []string{}})

	data, err := json.Marshal(o)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"vault":{"content":"x","tools_used":["read_secret"]},"argocd":{"content":"y","tools_used":[]}}`
	if string(data) != want {
		t.Errorf("json = %s\nwant   %s", data, want)
	}
}

func TestOutputsMarshalEmpty(t *testing.T) {
	data, err := json.Marshal(NewOutputs())
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "{}" {
		t.Errorf("json = %s", data)
	}
}

func TestCapabilityNames(t *testing.T) {
	m := CapabilityManifest{Capabilities: []Capability{{Name: "workloads"}, {Name: "logs"}}}
	got := m.CapabilityNames()
	if len(got) != 2 || got[0] != "workloads" || got[1] != "logs" {
		t.Errorf("CapabilityNames = %v", got)
	}
}
