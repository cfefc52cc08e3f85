// Package http provides the HTTP server for the dispatch service.
package http

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xiaot623/gogo/dispatch/internal/service"
	v1 "github.com/xiaot623/gogo/dispatch/internal/transport/http/v1"
	"github.com/xiaot623/gogo/dispatch/internal/transport/ws"
)

// NewServer creates the echo server with the REST API and the attach stream.
func NewServer(svc *service.Service, wsServer *ws.Server, logger *slog.Logger) *echo.Echo {
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				logger.Warn("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			logger.Debug("request", attrs...)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	v1.NewHandler(svc).RegisterRoutes(e)
	if wsServer != nil {
		e.GET("/v1/sessions/:id/attach", wsServer.HandleAttach)
	}

	return e
}
