package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type setProfileFieldRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// handleGetProfile returns the prompt-context fields of a user.
func (s *Server) handleGetProfile(c echo.Context) error {
	userID := c.Param("user_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}

	p, err := s.store.GetUserProfile(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load profile").SetInternal(err)
	}
	return c.JSON(http.StatusOK, p)
}

// handleSetProfileField upserts one profile field, e.g. timezone or
// primary platform. Fields are injected into pipeline prompts on every
// subsequent query.
func (s *Server) handleSetProfileField(c echo.Context) error {
	userID := c.Param("user_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}

	var req setProfileFieldRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body").SetInternal(err)
	}
	if req.Key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "key is required")
	}

	if err := s.store.SetUserProfileField(c.Request().Context(), userID, req.Key, req.Value); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to save profile field").SetInternal(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
