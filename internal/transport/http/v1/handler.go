// Package v1 provides the v1 REST handlers for run sessions.
package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/dispatch/internal/adapter"
	"github.com/xiaot623/gogo/dispatch/internal/domain"
	"github.com/xiaot623/gogo/dispatch/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/sessions", h.CreateSession)
	e.GET("/v1/sessions", h.ListSessions)
	e.GET("/v1/sessions/:id", h.GetSession)
	e.DELETE("/v1/sessions/:id", h.CloseSession)
	e.GET("/v1/sessions/:id/events", h.GetSessionEvents)
	e.POST("/v1/sessions/:id/input", h.SendInput)
	e.POST("/v1/sessions/:id/resume", h.ResumeSession)
	e.POST("/v1/sessions/:id/operations/:name", h.PerformOperation)

	e.GET("/v1/stats", h.GetStats)
	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

// errorResponse maps service errors to HTTP status codes.
func errorResponse(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrAdapterNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrSessionNotActive), errors.Is(err, domain.ErrSessionInitializing):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInputUnsupported), errors.Is(err, adapter.ErrOperationUnsupported):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrPolicyDenied):
		status = http.StatusForbidden
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}
