package v1

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/dispatch/internal/adapter"
	"github.com/xiaot623/gogo/dispatch/internal/adapter/loopback"
	"github.com/xiaot623/gogo/dispatch/internal/config"
	"github.com/xiaot623/gogo/dispatch/internal/service"
	"github.com/xiaot623/gogo/dispatch/tests/helpers"
)

func newTestHandler(t *testing.T) (*Handler, *service.Service) {
	t.Helper()

	adapters := adapter.NewRegistry(nil)
	adapters.Register(loopback.Kind, loopback.New())
	svc, err := service.New(helpers.NewTestSQLiteStore(t), adapters, nil, &config.Config{ShutdownConcurrency: 2}, nil, nil)
	if err != nil {
		t.Fatalf("service.New failed: %v", err)
	}
	t.Cleanup(func() { svc.Shutdown(context.Background()) })
	return NewHandler(svc), svc
}

// do routes a request through a fresh echo instance with the handler's routes.
func do(t *testing.T, h *Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	e := echo.New()
	h.RegisterRoutes(e)

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}
