package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/insightgrid/insightgrid/ai/analytics"
	"github.com/insightgrid/insightgrid/store"
)

// QueryRequest is the body of POST /api/v1/query.
type QueryRequest struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	Query          string `json:"query"`
	Stream         bool   `json:"stream,omitempty"`
}

// QueryResponse is the terminal result of a run.
type QueryResponse struct {
	RunID    string             `json:"run_id"`
	Response string             `json:"response"`
	Metadata analytics.Metadata `json:"metadata"`
}

func (s *Server) handleQuery(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body").SetInternal(err)
	}
	if req.UserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	ctx := c.Request().Context()
	requestID := uuid.NewString()
	slog.Info("query: received",
		"request_id", requestID,
		"user_id", req.UserID,
		"conversation_id", req.ConversationID,
		"stream", req.Stream)

	summary := ""
	var profileFields map[string]string
	if req.ConversationID != "" {
		// The conversation must belong to the caller before any of its
		// history is read or written.
		if _, err := s.store.GetConversation(ctx, req.UserID, req.ConversationID); err != nil {
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found").SetInternal(err)
		}
		var err error
		summary, err = s.store.GetContextSummary(ctx, req.UserID, req.ConversationID)
		if err != nil {
			slog.Warn("query: context summary unavailable", "conversation_id", req.ConversationID, "error", err)
		}
	}
	if p, err := s.store.GetUserProfile(ctx, req.UserID); err == nil {
		profileFields = p.Fields
	}

	pipelineReq := analytics.Request{
		UserID:              req.UserID,
		ConversationID:      req.ConversationID,
		Query:               req.Query,
		ConversationSummary: summary,
		Profile:             profileFields,
	}

	if req.Stream {
		return s.streamQuery(c, pipelineReq)
	}

	state, err := s.pipeline.Answer(ctx, pipelineReq)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "query failed").SetInternal(err)
	}

	s.persistTurn(c, req, state)
	return c.JSON(http.StatusOK, &QueryResponse{
		RunID:    state.RunID,
		Response: state.FinalResponse,
		Metadata: state.Metadata,
	})
}

// progressEvent is one SSE frame during a streamed run.
type progressEvent struct {
	RunID   string `json:"run_id"`
	Stage   string `json:"stage"`
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// streamQuery runs the pipeline while pushing progress frames over
// SSE, ending with a "result" event carrying the final response.
func (s *Server) streamQuery(c echo.Context, pipelineReq analytics.Request) error {
	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	// Comparison sub-runs emit concurrently; serialize writes.
	var mu sync.Mutex
	writeEvent := func(event string, payload any) {
		mu.Lock()
		defer mu.Unlock()
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", event, data)
		resp.Flush()
	}

	pipelineReq.Progress = analytics.ProgressFunc(func(runID string, stage analytics.Step, percent int, message string) {
		writeEvent("progress", &progressEvent{
			RunID:   runID,
			Stage:   string(stage),
			Percent: percent,
			Message: message,
		})
	})

	state, err := s.pipeline.Answer(c.Request().Context(), pipelineReq)
	if err != nil {
		writeEvent("error", map[string]string{"error": "query failed"})
		return nil
	}

	s.persistTurn(c, QueryRequest{
		UserID:         pipelineReq.UserID,
		ConversationID: pipelineReq.ConversationID,
		Query:          pipelineReq.Query,
	}, state)
	writeEvent("result", &QueryResponse{
		RunID:    state.RunID,
		Response: state.FinalResponse,
		Metadata: state.Metadata,
	})
	return nil
}

// persistTurn stores the user question and the assistant answer. Best
// effort: persistence failure never fails a delivered response.
func (s *Server) persistTurn(c echo.Context, req QueryRequest, state *analytics.RunState) {
	if req.ConversationID == "" {
		return
	}
	ctx := c.Request().Context()
	if _, err := s.store.GetConversation(ctx, req.UserID, req.ConversationID); err != nil {
		slog.Warn("query: refusing to persist into unowned conversation",
			"user_id", req.UserID, "conversation_id", req.ConversationID, "error", err)
		return
	}

	if _, err := s.store.SaveMessage(ctx, &store.Message{
		ConversationUID: req.ConversationID,
		Role:            store.RoleUser,
		Content:         req.Query,
	}); err != nil {
		slog.Warn("query: failed to persist user message", "error", err)
		return
	}

	metadataJSON, err := json.Marshal(state.Metadata)
	if err != nil {
		metadataJSON = []byte("{}")
	}
	if _, err := s.store.SaveMessage(ctx, &store.Message{
		ConversationUID: req.ConversationID,
		Role:            store.RoleAssistant,
		Content:         state.FinalResponse,
		RunID:           state.RunID,
		MetadataJSON:    string(metadataJSON),
	}); err != nil {
		slog.Warn("query: failed to persist assistant message", "error", err)
	}
}
