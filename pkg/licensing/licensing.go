// Package licensing activates self-hosted license keys against the
// license server. Activation is fire-and-forget at the call site; a
// deployment with an unreachable license server keeps working and retries
// on the next organisation creation.
package licensing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

// Client talks to the license server.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a license client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Activate registers the license key for this instance.
func (c *Client) Activate(ctx context.Context, licenseKey string) error {
	hostname, _ := os.Hostname()
	payload, err := json.Marshal(map[string]string{
		"license_key": licenseKey,
		"instance":    hostname,
	})
	if err != nil {
		return fmt.Errorf("failed to encode activation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/activate", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build activation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach license server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("license server returned status %d", resp.StatusCode)
	}
	return nil
}
