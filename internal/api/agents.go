package api

import (
	"net/http"

	"github.com/opentalon/idpportal/internal/orchestrator"
)

type toolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	manifests := s.registry.Manifests()
	if manifests == nil {
		manifests = []orchestrator.CapabilityManifest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": manifests})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookupAgent(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.Manifest())
}

func (s *Server) handleAgentTools(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookupAgent(w, r)
	if !ok {
		return
	}
	tools := make([]toolInfo, 0, len(h.Tools()))
	for _, t := range h.Tools() {
		tools = append(tools, toolInfo{
			Name:        t.Spec.Name,
			Description: t.Spec.Description,
			Parameters:  t.Spec.InputSchema(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent": r.PathValue("name"),
		"tools": tools,
	})
}

func (s *Server) lookupAgent(w http.ResponseWriter, r *http.Request) (orchestrator.Handler, bool) {
	name := r.PathValue("name")
	h, ok := s.registry.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "agent '"+name+"' not found")
		return nil, false
	}
	return h, true
}
