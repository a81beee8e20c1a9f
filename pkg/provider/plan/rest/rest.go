// Package rest implements plan.Planner against the analytics HTTP endpoint.
//
// The wire contract is the one the voice-agent tooling already speaks:
// requests nest their arguments under "args" and successful responses wrap
// the plan under a top-level "plan" key.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zeri-fi/radiodash/pkg/provider/plan"
)

var _ plan.Planner = (*Client)(nil)

const planPath = "/analytics/spending_plan"

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// Client calls the spending-plan endpoint of an analytics service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for the analytics service at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("planrest: baseURL must not be empty")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

type planRequest struct {
	Args struct {
		UserID int `json:"user_id"`
	} `json:"args"`
}

type planResponse struct {
	Plan *plan.Plan `json:"plan"`
}

// SpendingPlan requests a computed spending plan for userID.
func (c *Client) SpendingPlan(ctx context.Context, userID int) (*plan.Plan, error) {
	var reqBody planRequest
	reqBody.Args.UserID = userID

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("planrest: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+planPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("planrest: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("planrest: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("planrest: unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var out planResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("planrest: decode response: %w", err)
	}
	if out.Plan == nil {
		return nil, errors.New("planrest: response missing plan")
	}
	return out.Plan, nil
}
