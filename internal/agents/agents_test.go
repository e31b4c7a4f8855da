package agents

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/opentalon/idpportal/internal/agents/kube"
	"github.com/opentalon/idpportal/internal/agents/rest"
	"github.com/opentalon/idpportal/internal/config"
	"github.com/opentalon/idpportal/internal/orchestrator"
)

func toolMap(t *testing.T, h orchestrator.Handler) map[string]orchestrator.Tool {
	t.Helper()
	if err := orchestrator.ValidateManifest(h); err != nil {
		t.Fatalf("manifest: %v", err)
	}
	tools := make(map[string]orchestrator.Tool)
	for _, tool := range h.Tools() {
		tools[tool.Name()] = tool
	}
	return tools
}

func call(t *testing.T, tools map[string]orchestrator.Tool, name string, args map[string]any) any {
	t.Helper()
	tool, ok := tools[name]
	if !ok {
		t.Fatalf("no tool %q", name)
	}
	out, err := tool.Call(context.Background(), args)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return out
}

// asJSON round-trips v so tests can inspect tool output generically.
func asJSON(t *testing.T, v any) any {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	return out
}

type kubectlCall struct {
	args  string
	stdin string
}

// fakeKubectl answers each command from outputs, matched by the first
// argument prefix that fits, and records every call.
type fakeKubectl struct {
	mu      sync.Mutex
	outputs map[string]string
	calls   []kubectlCall
}

func (f *fakeKubectl) exec(_ context.Context, stdin []byte, _ string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	joined := strings.Join(args, " ")
	f.calls = append(f.calls, kubectlCall{args: joined, stdin: string(stdin)})
	for prefix, out := range f.outputs {
		if strings.HasPrefix(joined, prefix) {
			return []byte(out), nil
		}
	}
	return []byte(""), nil
}

func (f *fakeKubectl) kubectl() *kube.Kubectl {
	return kube.NewWithExec(config.KubernetesConfig{}, f.exec)
}

func (f *fakeKubectl) last() kubectlCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type request struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   map[string]any
}

// backend is an httptest server that records requests and answers from
// routes keyed by "METHOD /path". A body of the form "503|text" is sent
// with that status code.
type backend struct {
	*httptest.Server
	mu       sync.Mutex
	requests []request
}

func newBackend(t *testing.T, routes map[string]string) *backend {
	t.Helper()
	b := &backend{}
	b.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		req := request{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Header: r.Header.Clone()}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &req.Body)
		}
		b.mu.Lock()
		b.requests = append(b.requests, req)
		b.mu.Unlock()

		body, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
			return
		}
		if code, payload, found := strings.Cut(body, "|"); found {
			if status, err := strconv.Atoi(code); err == nil {
				w.WriteHeader(status)
				_, _ = io.WriteString(w, payload)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(b.Close)
	return b
}

func (b *backend) client(service string, opts ...rest.Option) *rest.Client {
	return rest.New(service, b.URL, opts...)
}

func (b *backend) last(t *testing.T) request {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.requests) == 0 {
		t.Fatal("no request received")
	}
	return b.requests[len(b.requests)-1]
}

func envWith(b config.BackendsConfig) *orchestrator.Env {
	cfg := config.Default()
	cfg.Backends = b
	return &orchestrator.Env{Config: cfg}
}

func TestConditionStatus(t *testing.T) {
	conds := []condition{{Type: "Ready", Status: "True"}, {Type: "Reconciling", Status: "False"}}
	if got := conditionStatus(conds, "Ready"); got != "True" {
		t.Errorf("Ready = %q", got)
	}
	if got := conditionStatus(conds, "Stalled"); got != "Unknown" {
		t.Errorf("missing = %q", got)
	}
}

func TestStringMap(t *testing.T) {
	got := stringMap(map[string]any{"retention.ms": float64(86400000), "cleanup.policy": "compact", "flag": true})
	want := map[string]string{"retention.ms": "86400000", "cleanup.policy": "compact", "flag": "true"}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}
