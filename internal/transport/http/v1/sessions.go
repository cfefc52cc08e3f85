package v1

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/dispatch/internal/domain"
)

// CreateSessionRequest is the body of POST /v1/sessions.
type CreateSessionRequest struct {
	Kind          string          `json:"kind"`
	WorkspacePath string          `json:"workspace_path"`
	Meta          json.RawMessage `json:"meta,omitempty"`
	OwnerUserID   *string         `json:"owner_user_id,omitempty"`
}

// InputRequest is the body of POST /v1/sessions/:id/input.
type InputRequest struct {
	Data string `json:"data"`
}

// OperationRequest is the body of POST /v1/sessions/:id/operations/:name.
type OperationRequest struct {
	Params []json.RawMessage `json:"params"`
}

// CreateSession creates and starts a session.
// POST /v1/sessions
func (h *Handler) CreateSession(c echo.Context) error {
	ctx := c.Request().Context()

	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Kind == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "kind is required"})
	}

	resp, err := h.service.CreateSession(ctx, req.Kind, domain.CreateSessionRequest{
		WorkspacePath: req.WorkspacePath,
		Meta:          req.Meta,
		OwnerUserID:   req.OwnerUserID,
	})
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, resp)
}

// ListSessions lists persisted sessions.
// GET /v1/sessions?kind=
func (h *Handler) ListSessions(c echo.Context) error {
	sessions, err := h.service.ListSessions(c.Request().Context(), c.QueryParam("kind"))
	if err != nil {
		return errorResponse(c, err)
	}
	if sessions == nil {
		sessions = []domain.RunSession{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// GetSession returns one session.
// GET /v1/sessions/:id
func (h *Handler) GetSession(c echo.Context) error {
	session, err := h.service.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

// CloseSession stops a session. It succeeds for sessions that are not live.
// DELETE /v1/sessions/:id
func (h *Handler) CloseSession(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	if _, err := h.service.GetSession(ctx, id); err != nil {
		return errorResponse(c, err)
	}
	h.service.CloseSession(ctx, id)
	return c.NoContent(http.StatusNoContent)
}

// GetSessionEvents returns events after a sequence number.
// GET /v1/sessions/:id/events?after=
func (h *Handler) GetSessionEvents(c echo.Context) error {
	after := int64(-1)
	if v := c.QueryParam("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "after must be an integer"})
		}
		after = n
	}

	events, err := h.service.GetEventsSince(c.Request().Context(), c.Param("id"), after)
	if err != nil {
		return errorResponse(c, err)
	}
	if events == nil {
		events = []domain.SessionEvent{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"events": events})
}

// SendInput writes to a live session.
// POST /v1/sessions/:id/input
func (h *Handler) SendInput(c echo.Context) error {
	var req InputRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if err := h.service.SendInput(c.Request().Context(), c.Param("id"), req.Data); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]bool{"ok": true})
}

// ResumeSession restarts a stopped or errored session.
// POST /v1/sessions/:id/resume
func (h *Handler) ResumeSession(c echo.Context) error {
	resp, err := h.service.ResumeSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// PerformOperation runs an adapter-specific operation.
// POST /v1/sessions/:id/operations/:name
func (h *Handler) PerformOperation(c echo.Context) error {
	var req OperationRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		}
	}
	result, err := h.service.PerformOperation(c.Request().Context(), c.Param("id"), c.Param("name"), req.Params)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"result": result})
}

// GetStats returns live session statistics.
// GET /v1/stats
func (h *Handler) GetStats(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"stats":    h.service.GetStats(),
		"sessions": h.service.GetActiveSessions(),
	})
}
