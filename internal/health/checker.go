package health

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var DefaultPaths = []string{"/health", "/healthz", "/"}

// Check polls baseURL until one of the default paths answers with a 2xx or
// 3xx status, the timeout passes, or ctx is done.
func Check(ctx context.Context, baseURL string, timeout time.Duration, interval time.Duration) error {
	baseURL = strings.TrimSuffix(baseURL, "/")
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Now().Before(deadline) {
		for _, path := range DefaultPaths {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
			if err != nil {
				return fmt.Errorf("health check: %w", err)
			}

			resp, err := client.Do(req)
			if err != nil {
				continue
			}
			resp.Body.Close()

			if resp.StatusCode >= 200 && resp.StatusCode < 400 {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("health check: %w", ctx.Err())
		case <-time.After(interval):
		}
	}

	return fmt.Errorf("health check failed after %s", timeout)
}
