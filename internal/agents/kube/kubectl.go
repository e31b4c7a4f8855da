// Package kube runs kubectl for the cluster-facing agents.
package kube

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/opentalon/idpportal/internal/config"
)

// ExecFunc runs name with args, feeding stdin, and returns stdout.
type ExecFunc func(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)

// Error is a kubectl invocation that exited non-zero.
type Error struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Stderr
	if msg == "" {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("kubectl %s: %s", strings.Join(e.Args, " "), msg)
}

func (e *Error) Unwrap() error { return e.Err }

var transientMarkers = []string{
	"unable to connect to the server",
	"connection refused",
	"i/o timeout",
	"tls handshake timeout",
	"the server is currently unable to handle the request",
	"etcdserver: request timed out",
}

// Retryable reports API server connectivity failures.
func (e *Error) Retryable() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	lower := strings.ToLower(e.Stderr)
	for _, m := range transientMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// NotFound reports whether err is kubectl's "not found" answer.
func NotFound(err error) bool {
	var ke *Error
	return errors.As(err, &ke) && strings.Contains(ke.Stderr, "NotFound")
}

// Kubectl runs kubectl against the configured context.
type Kubectl struct {
	path     string
	baseArgs []string
	exec     ExecFunc
}

// New locates kubectl and fails when it is missing or the backend is disabled.
func New(cfg config.KubernetesConfig) (*Kubectl, error) {
	if cfg.Disabled {
		return nil, errors.New("kubernetes backend is disabled")
	}
	path, err := exec.LookPath(cfg.Kubectl)
	if err != nil {
		return nil, fmt.Errorf("kubectl not found: %w", err)
	}
	k := NewWithExec(cfg, runCommand)
	k.path = path
	return k, nil
}

// NewWithExec builds a Kubectl that runs commands through fn.
func NewWithExec(cfg config.KubernetesConfig, fn ExecFunc) *Kubectl {
	path := cfg.Kubectl
	if path == "" {
		path = "kubectl"
	}
	var base []string
	if cfg.Kubeconfig != "" {
		base = append(base, "--kubeconfig", cfg.Kubeconfig)
	}
	if cfg.Context != "" {
		base = append(base, "--context", cfg.Context)
	}
	return &Kubectl{path: path, baseArgs: base, exec: fn}
}

// Run executes kubectl with args and returns trimmed stdout.
func (k *Kubectl) Run(ctx context.Context, args ...string) (string, error) {
	out, err := k.RunInput(ctx, nil, args...)
	return strings.TrimSpace(string(out)), err
}

// RunInput executes kubectl with stdin, for apply -f -.
func (k *Kubectl) RunInput(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	full := append(append([]string{}, k.baseArgs...), args...)
	out, err := k.exec(ctx, stdin, k.path, full...)
	if err != nil {
		var ke *Error
		if errors.As(err, &ke) {
			ke.Args = args
			return nil, ke
		}
		return nil, &Error{Args: args, Err: err}
	}
	return out, nil
}

// GetJSON runs kubectl with -o json appended and decodes the output.
func (k *Kubectl) GetJSON(ctx context.Context, out any, args ...string) error {
	data, err := k.RunInput(ctx, nil, append(args, "-o", "json")...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode kubectl output: %w", err)
	}
	return nil
}

// Apply pipes a JSON manifest into kubectl apply -f -.
func (k *Kubectl) Apply(ctx context.Context, manifest any) (string, error) {
	data, err := json.Marshal(manifest)
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	out, err := k.RunInput(ctx, data, "apply", "-f", "-")
	return strings.TrimSpace(string(out)), err
}

func runCommand(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, &Error{Stderr: strings.TrimSpace(stderr.String()), Err: err}
	}
	return stdout.Bytes(), nil
}
