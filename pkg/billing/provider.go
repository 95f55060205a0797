package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Provider is the subscription provider's API surface this package needs.
type Provider interface {
	// CreateCustomer registers a customer and returns the provider's ID.
	CreateCustomer(ctx context.Context, name, email string) (string, error)

	// SetSeatCount updates the subscription quantity for a customer.
	SetSeatCount(ctx context.Context, customerID string, seats int) error
}

// HTTPProvider talks to the subscription provider over its JSON API.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPProvider creates a provider client.
func NewHTTPProvider(baseURL, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// CreateCustomer registers a customer and returns the provider's ID.
func (p *HTTPProvider) CreateCustomer(ctx context.Context, name, email string) (string, error) {
	body := map[string]string{"name": name, "email": email}
	var resp struct {
		ID string `json:"id"`
	}
	if err := p.do(ctx, http.MethodPost, "/v1/customers", body, &resp); err != nil {
		return "", fmt.Errorf("failed to create customer: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("provider returned empty customer id")
	}
	return resp.ID, nil
}

// SetSeatCount updates the subscription quantity for a customer.
func (p *HTTPProvider) SetSeatCount(ctx context.Context, customerID string, seats int) error {
	body := map[string]int{"quantity": seats}
	path := fmt.Sprintf("/v1/customers/%s/seats", customerID)
	if err := p.do(ctx, http.MethodPut, path, body, nil); err != nil {
		return fmt.Errorf("failed to set seat count: %w", err)
	}
	return nil
}

func (p *HTTPProvider) do(ctx context.Context, method, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("provider returned status %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
