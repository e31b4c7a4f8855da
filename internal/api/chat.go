package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opentalon/idpportal/internal/orchestrator"
)

const maxChatBody = 1 << 20

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
}

// normalize trims the message and assigns a conversation id when the
// client did not send one.
func (c *chatRequest) normalize() error {
	c.Message = strings.TrimSpace(c.Message)
	if c.Message == "" {
		return errors.New("message is required")
	}
	if c.ConversationID == "" {
		c.ConversationID = uuid.NewString()
	}
	return nil
}

type agentOutput struct {
	AgentName string   `json:"agent_name"`
	Content   string   `json:"content"`
	ToolsUsed []string `json:"tools_used"`
}

type chatResponse struct {
	Message        string        `json:"message"`
	ConversationID string        `json:"conversation_id"`
	AgentOutputs   []agentOutput `json:"agent_outputs"`
	Iterations     int           `json:"iterations"`
	Truncated      bool          `json:"truncated"`
}

func newChatResponse(res *orchestrator.RunResult, conversationID string) chatResponse {
	resp := chatResponse{
		Message:        res.FinalMessage(),
		ConversationID: conversationID,
		AgentOutputs:   make([]agentOutput, 0),
		Iterations:     res.Iterations,
		Truncated:      res.Truncated,
	}
	if res.Outputs == nil {
		return resp
	}
	for name, out := range res.Outputs.All() {
		tools := out.ToolsUsed
		if tools == nil {
			tools = []string{}
		}
		resp.AgentOutputs = append(resp.AgentOutputs, agentOutput{AgentName: name, Content: out.Content, ToolsUsed: tools})
	}
	return resp
}

func decodeChat(w http.ResponseWriter, r *http.Request) (chatRequest, bool) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return req, false
	}
	if err := req.normalize(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return req, false
	}
	return req, true
}

// handleChat runs the supervisor to completion. The run is detached from
// the request so a disconnecting client does not abort it midway.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeChat(w, r)
	if !ok {
		return
	}

	res, err := s.runner.Run(context.WithoutCancel(r.Context()), req.Message, req.ConversationID)
	if err != nil {
		s.logger.Error("chat run failed", zap.String("conversation_id", req.ConversationID), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newChatResponse(res, req.ConversationID))
}

// handleChatStream writes the run's events as server-sent events. Delivery
// stops when the client goes away.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeChat(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for ev := range s.emitter.Stream(context.WithoutCancel(r.Context()), req.Message, req.ConversationID) {
		if r.Context().Err() != nil {
			s.logger.Debug("stream client disconnected", zap.String("conversation_id", req.ConversationID))
			return
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			s.logger.Error("encode event", zap.Error(err))
			return
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
			return
		}
		flusher.Flush()
	}
}

// handleChatSocket serves a websocket where each inbound chat request is
// answered with that run's events, one JSON message per event.
func (s *Server) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: s.devMode})
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow() //nolint:errcheck

	ctx := r.Context()
	for {
		var req chatRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && websocket.CloseStatus(err) != websocket.StatusGoingAway {
				s.logger.Debug("websocket read ended", zap.Error(err))
			}
			return
		}
		if err := req.normalize(); err != nil {
			if err := wsjson.Write(ctx, conn, orchestrator.Event{Type: orchestrator.EventError, Content: err.Error()}); err != nil {
				return
			}
			continue
		}
		for ev := range s.emitter.Stream(context.WithoutCancel(ctx), req.Message, req.ConversationID) {
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return
			}
		}
	}
}
