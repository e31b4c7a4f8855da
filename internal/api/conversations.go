package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/opentalon/idpportal/internal/state"
)

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "conversation store not configured")
		return
	}
	ids, err := s.store.List(r.Context())
	if err != nil {
		s.logger.Error("list conversations", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": ids})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "conversation store not configured")
		return
	}
	conv, err := s.store.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, state.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("get conversation", zap.String("conversation_id", r.PathValue("id")), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "conversation store not configured")
		return
	}
	id := r.PathValue("id")
	if _, err := s.store.Get(r.Context(), id); errors.Is(err, state.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err := s.store.Delete(r.Context(), id); err != nil {
		s.logger.Error("delete conversation", zap.String("conversation_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
