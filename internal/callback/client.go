package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type Client struct {
	httpClient *http.Client
	delays     []time.Duration
}

func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		delays:     []time.Duration{0, 2 * time.Second, 5 * time.Second},
	}
}

type StatusPayload struct {
	RunID    string `json:"run_id"`
	Target   string `json:"target,omitempty"`
	State    string `json:"state"`
	Hostname string `json:"hostname,omitempty"`
	URL      string `json:"url,omitempty"`
	Commit   string `json:"commit,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (c *Client) SendStatus(ctx context.Context, callbackURL string, payload StatusPayload) error {
	if callbackURL == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("callback marshal: %w", err)
	}

	c.postWithRetry(ctx, callbackURL, body)
	return nil
}

type LogPayload struct {
	RunID string   `json:"run_id"`
	Lines []string `json:"lines"`
}

// LogsURL derives the log endpoint from a status URL: ".../status" becomes
// ".../logs", anything else gets "/logs" appended.
func LogsURL(statusURL string) string {
	return strings.TrimSuffix(strings.TrimSuffix(statusURL, "/"), "/status") + "/logs"
}

func (c *Client) SendLogs(ctx context.Context, logsURL string, payload LogPayload) error {
	if logsURL == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("callback marshal: %w", err)
	}

	// Log batches are best-effort, single attempt.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, logsURL, bytes.NewReader(body))
	if err != nil {
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	return nil
}

// postWithRetry attempts a POST up to 3 times with backoff. It never returns
// an error; a failed notification must not fail the run.
func (c *Client) postWithRetry(ctx context.Context, url string, body []byte) {
	for attempt, delay := range c.delays {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				slog.Warn("callback: giving up", "url", url, "err", ctx.Err())
				return
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			slog.Warn("callback: bad request", "url", url, "err", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			slog.Warn("callback: POST failed", "url", url, "attempt", attempt+1, "err", err)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode < 500 {
			if resp.StatusCode >= 400 {
				slog.Warn("callback: POST rejected", "url", url, "status", resp.StatusCode)
			}
			return
		}

		slog.Warn("callback: POST server error", "url", url, "attempt", attempt+1, "status", resp.StatusCode)
	}

	slog.Warn("callback: giving up", "url", url, "attempts", len(c.delays))
}
