package kube

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/opentalon/idpportal/internal/config"
)

type recorded struct {
	stdin []byte
	name  string
	args  []string
}

func fakeExec(out string, err error, calls *[]recorded) ExecFunc {
	return func(_ context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
		*calls = append(*calls, recorded{stdin: stdin, name: name, args: args})
		if err != nil {
			return nil, err
		}
		return []byte(out), nil
	}
}

func TestRunPrependsContextAndKubeconfig(t *testing.T) {
	var calls []recorded
	k := NewWithExec(config.KubernetesConfig{Kubectl: "/usr/bin/kubectl", Context: "prod", Kubeconfig: "/etc/kube/config"}, fakeExec("ok\n", nil, &calls))

	out, err := k.Run(context.Background(), "get", "pods", "-n", "default")
	if err != nil {
		t.Fatal(err)
	}
	if out != "ok" {
		t.Errorf("out = %q", out)
	}
	want := "--kubeconfig /etc/kube/config --context prod get pods -n default"
	if got := strings.Join(calls[0].args, " "); got != want {
		t.Errorf("args = %q, want %q", got, want)
	}
	if calls[0].name != "/usr/bin/kubectl" {
		t.Errorf("name = %q", calls[0].name)
	}
}

func TestGetJSON(t *testing.T) {
	var calls []recorded
	k := NewWithExec(config.KubernetesConfig{}, fakeExec(`{"items":[{"metadata":{"name":"web"}}]}`, nil, &calls))

	var list struct {
		Items []struct {
			Metadata struct{ Name string } `json:"metadata"`
		} `json:"items"`
	}
	if err := k.GetJSON(context.Background(), &list, "get", "pods"); err != nil {
		t.Fatal(err)
	}
	if len(list.Items) != 1 || list.Items[0].Metadata.Name != "web" {
		t.Errorf("list = %+v", list)
	}
	if got := strings.Join(calls[0].args, " "); got != "get pods -o json" {
		t.Errorf("args = %q", got)
	}
}

func TestApplyPipesManifest(t *testing.T) {
	var calls []recorded
	k := NewWithExec(config.KubernetesConfig{}, fakeExec("kafkatopic/orders created\n", nil, &calls))

	out, err := k.Apply(context.Background(), map[string]any{"kind": "KafkaTopic"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "kafkatopic/orders created" {
		t.Errorf("out = %q", out)
	}
	var manifest map[string]any
	if err := json.Unmarshal(calls[0].stdin, &manifest); err != nil {
		t.Fatal(err)
	}
	if manifest["kind"] != "KafkaTopic" {
		t.Errorf("manifest = %v", manifest)
	}
	if got := strings.Join(calls[0].args, " "); got != "apply -f -" {
		t.Errorf("args = %q", got)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		stderr    string
		err       error
		retryable bool
		notFound  bool
	}{
		{"Unable to connect to the server: dial tcp 10.0.0.1:6443: i/o timeout", errors.New("exit status 1"), true, false},
		{`Error from server (NotFound): pods "web" not found`, errors.New("exit status 1"), false, true},
		{`Error from server (Forbidden): pods is forbidden`, errors.New("exit status 1"), false, false},
		{"", context.DeadlineExceeded, true, false},
	}
	for _, tc := range tests {
		var calls []recorded
		k := NewWithExec(config.KubernetesConfig{}, fakeExec("", &Error{Stderr: tc.stderr, Err: tc.err}, &calls))
		_, err := k.Run(context.Background(), "get", "pod", "web")

		var ke *Error
		if !errors.As(err, &ke) {
			t.Fatalf("err = %v, want *Error", err)
		}
		if ke.Retryable() != tc.retryable {
			t.Errorf("%q: retryable = %v", tc.stderr, ke.Retryable())
		}
		if NotFound(err) != tc.notFound {
			t.Errorf("%q: not found = %v", tc.stderr, NotFound(err))
		}
		if !strings.HasPrefix(err.Error(), "kubectl get pod web") {
			t.Errorf("error = %q", err)
		}
	}
}

func TestNewDisabled(t *testing.T) {
	if _, err := New(config.KubernetesConfig{Kubectl: "kubectl", Disabled: true}); err == nil {
		t.Error("expected error for disabled backend")
	}
}

func TestNewMissingBinary(t *testing.T) {
	if _, err := New(config.KubernetesConfig{Kubectl: "kubectl-does-not-exist-here"}); err == nil {
		t.Error("expected error for missing kubectl")
	}
}

func TestRunCommandRealProcess(t *testing.T) {
	k, err := New(config.KubernetesConfig{Kubectl: "echo", Context: "staging"})
	if err != nil {
		t.Skipf("echo not available: %v", err)
	}
	out, err := k.Run(context.Background(), "get", "ns")
	if err != nil {
		t.Fatal(err)
	}
	if out != "--context staging get ns" {
		t.Errorf("out = %q", out)
	}
}

func TestRunCommandFailure(t *testing.T) {
	k, err := New(config.KubernetesConfig{Kubectl: "false"})
	if err != nil {
		t.Skipf("false not available: %v", err)
	}
	_, err = k.Run(context.Background(), "get", "ns")
	var ke *Error
	if !errors.As(err, &ke) {
		t.Fatalf("err = %v, want *Error", err)
	}
}

func TestRunCommandCancelled(t *testing.T) {
	k, err := New(config.KubernetesConfig{Kubectl: "sleep"})
	if err != nil {
		t.Skipf("sleep not available: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = k.Run(ctx, "5")
	var ke *Error
	if !errors.As(err, &ke) || !ke.Retryable() {
		t.Errorf("err = %v, want retryable timeout", err)
	}
}
