package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type createConversationRequest struct {
	UserID string `json:"user_id"`
	Title  string `json:"title,omitempty"`
}

func (s *Server) handleCreateConversation(c echo.Context) error {
	var req createConversationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body").SetInternal(err)
	}
	if req.UserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}
	if req.Title == "" {
		req.Title = "New analysis"
	}

	conv, err := s.store.CreateConversation(c.Request().Context(), req.UserID, req.Title)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create conversation").SetInternal(err)
	}
	return c.JSON(http.StatusOK, conv)
}

func (s *Server) handleListConversations(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}

	list, err := s.store.ListConversations(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list conversations").SetInternal(err)
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleListMessages(c echo.Context) error {
	userID := c.QueryParam("user_id")
	uid := c.Param("uid")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}

	// Ownership check before exposing message content.
	if _, err := s.store.GetConversation(c.Request().Context(), userID, uid); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found").SetInternal(err)
	}

	messages, err := s.store.ListMessages(c.Request().Context(), uid, 0)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list messages").SetInternal(err)
	}
	return c.JSON(http.StatusOK, messages)
}
