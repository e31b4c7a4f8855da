package api

import (
	"context"
	"net/http"
	"sort"
	"time"
)

const checkTimeout = 3 * time.Second

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": serviceName})
}

// handleReady answers 503 until every check passes and at least one
// agent is registered.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	results, ok := runChecks(r.Context(), s.checks)
	if s.registry == nil || s.registry.Len() == 0 {
		results["agents"] = "no agents registered"
		ok = false
	} else {
		results["agents"] = "ok"
	}

	status, code := "ready", http.StatusOK
	if !ok {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": results})
}

// runChecks runs every check with its own timeout. The result maps each
// check name to "ok" or its error text.
func runChecks(ctx context.Context, checks map[string]Check) (map[string]string, bool) {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string]string, len(checks)+1)
	ok := true
	for _, name := range names {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := checks[name](cctx)
		cancel()
		if err != nil {
			results[name] = err.Error()
			ok = false
			continue
		}
		results[name] = "ok"
	}
	return results, ok
}
