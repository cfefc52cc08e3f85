package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// InvokeRequest is the body posted to an agent's /invoke endpoint.
type InvokeRequest struct {
	SessionID     string          `json:"session_id"`
	TurnID        string          `json:"turn_id"`
	Input         string          `json:"input"`
	WorkspacePath string          `json:"workspace_path,omitempty"`
	Meta          json.RawMessage `json:"meta,omitempty"`
}

// SSEEvent represents a parsed SSE event.
type SSEEvent struct {
	Event string
	Data  string
}

// DeltaData is the data of a delta event.
type DeltaData struct {
	Text string `json:"text"`
}

// DoneData is the data of a done event.
type DoneData struct {
	FinalMessage string `json:"final_message,omitempty"`
}

// ErrorData is the data of an error event.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EventHandler is called for each SSE event from the agent.
type EventHandler func(event SSEEvent) error

// Client invokes agents over HTTP and streams their SSE responses.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a client whose requests time out after timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Invoke calls endpoint's /invoke and streams SSE events to handler.
func (c *Client) Invoke(ctx context.Context, endpoint string, req *InvokeRequest, handler EventHandler) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimSuffix(endpoint, "/") + "/invoke"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("X-Session-ID", req.SessionID)
	httpReq.Header.Set("X-Turn-ID", req.TurnID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to invoke agent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("agent returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	return parseSSE(resp.Body, handler)
}

// parseSSE calls handler for each event in an SSE stream.
func parseSSE(reader io.Reader, handler EventHandler) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var event SSEEvent

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if event.Event != "" || event.Data != "" {
				if err := handler(event); err != nil {
					return err
				}
				event = SSEEvent{}
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "event:"):
			event.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if event.Data != "" {
				event.Data += "\n" + data
			} else {
				event.Data = data
			}
		}
		// comments and other fields are ignored
	}

	if event.Event != "" || event.Data != "" {
		if err := handler(event); err != nil {
			return err
		}
	}
	return scanner.Err()
}
