package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	DefaultMaxResponseBytes = 64 * 1024 // 64KB
	DefaultTimeout          = 30 * time.Second
)

var defaultForbiddenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\[tool_call\]`),
	regexp.MustCompile(`\[tool_use\]`),
	regexp.MustCompile(`<tool_call>`),
	regexp.MustCompile(`<function_call>`),
	regexp.MustCompile(`"tool_calls"\s*:\s*\[`),
}

// Guard bounds tool execution time and scrubs tool output before it is
// shown to a model.
type Guard struct {
	MaxResponseBytes  int
	Timeout           time.Duration
	ForbiddenPatterns []*regexp.Regexp
}

func NewGuard() *Guard {
	return &Guard{
		MaxResponseBytes:  DefaultMaxResponseBytes,
		Timeout:           DefaultTimeout,
		ForbiddenPatterns: defaultForbiddenPatterns,
	}
}

// Sanitize truncates oversized output and masks tool-call markup.
func (g *Guard) Sanitize(s string) string {
	if g == nil || s == "" {
		return s
	}

	if g.MaxResponseBytes > 0 && len(s) > g.MaxResponseBytes {
		cut := g.MaxResponseBytes
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "\n[truncated: response exceeded size limit]"
	}

	for _, pat := range g.ForbiddenPatterns {
		s = pat.ReplaceAllStringFunc(s, func(match string) string {
			return strings.Repeat("*", len(match))
		})
	}

	return s
}

// Execute runs the tool under the guard's timeout. A timeout is reported
// as a retryable ToolError.
func (g *Guard) Execute(ctx context.Context, tool Tool, args map[string]any) (any, error) {
	if g == nil || g.Timeout <= 0 {
		return tool.Call(ctx, args)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := tool.Call(callCtx, args)
		done <- outcome{v, err}
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, Transient(tool.Name(), fmt.Errorf("timed out after %s", g.Timeout))
		}
		return nil, Transient(tool.Name(), callCtx.Err())
	}
}
