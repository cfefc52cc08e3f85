package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xiaot623/gogo/dispatch/internal/domain"
)

// apiClient calls the dispatch REST API.
type apiClient struct {
	base       string
	httpClient *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base:       strings.TrimSuffix(base, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *apiClient) CreateSession(ctx context.Context, kind, workspace string) (*domain.CreateSessionResponse, error) {
	var resp domain.CreateSessionResponse
	body := map[string]string{"kind": kind, "workspace_path": workspace}
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) ListSessions(ctx context.Context, kind string) ([]domain.RunSession, error) {
	path := "/v1/sessions"
	if kind != "" {
		path += "?kind=" + url.QueryEscape(kind)
	}
	var resp struct {
		Sessions []domain.RunSession `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

func (c *apiClient) SendInput(ctx context.Context, sessionID, data string) error {
	return c.do(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(sessionID)+"/input", map[string]string{"data": data}, nil)
}

func (c *apiClient) CloseSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/sessions/"+url.PathEscape(sessionID), nil, nil)
}

func (c *apiClient) ResumeSession(ctx context.Context, sessionID string) (*domain.ResumeSessionResponse, error) {
	var resp domain.ResumeSessionResponse
	if err := c.do(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(sessionID)+"/resume", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// attachURL converts the API base address to the attach WebSocket URL.
func attachURL(base, sessionID string, from int64) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(base, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid address: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path += "/v1/sessions/" + sessionID + "/attach"
	if from > 0 {
		u.RawQuery = fmt.Sprintf("from=%d", from)
	}
	return u.String(), nil
}
