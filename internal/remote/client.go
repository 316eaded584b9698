// Package remote is the HTTP client for the remote authority. Submissions
// carry the transaction id as an idempotency key so a retry after a
// dropped response is recognized as already applied, never double-applied.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/marcus/till/internal/models"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
)

// Submission outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
)

// Client is an HTTP client for the remote authority.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// New creates a new remote client with the given submission timeout.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// SubmitResult is the explicit response to a transaction submission.
// A transport failure returns an error instead; absence of a result means
// the remote never answered.
type SubmitResult struct {
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
}

// submitRequest is the body for POST /v1/transactions.
type submitRequest struct {
	ID        string          `json:"id"`
	Kind      models.Kind     `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt string          `json:"created_at"`
}

// Entry is one reference-data record in a fetch response.
type Entry struct {
	Key     string          `json:"key"`
	Data    json.RawMessage `json:"data"`
	Version int64           `json:"version"`
}

// FetchResult is the response from a reference-data fetch.
type FetchResult struct {
	Entries []Entry `json:"entries"`
	Version int64   `json:"version"`
}

// healthResponse is the response from GET /healthz.
type healthResponse struct {
	Status string `json:"status"`
}

// Submit sends one transaction to the remote authority.
// Returns a SubmitResult for explicit accept/reject responses. A 409 with
// reason "duplicate" means the transaction was already applied and is
// reported as accepted. Any transport failure, timeout, or 5xx returns an
// error and no result.
func (c *Client) Submit(ctx context.Context, tx *models.PendingTransaction) (*SubmitResult, error) {
	body := submitRequest{
		ID:        tx.ID,
		Kind:      tx.Kind,
		Payload:   tx.Payload,
		CreatedAt: tx.CreatedAt.Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/v1/transactions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", tx.ID)
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return &SubmitResult{Outcome: OutcomeAccepted}, nil

	case resp.StatusCode == http.StatusConflict:
		// Already applied under this idempotency key
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Code == "duplicate" {
			return &SubmitResult{Outcome: OutcomeAccepted, Reason: "duplicate"}, nil
		}
		return &SubmitResult{Outcome: OutcomeRejected, Reason: rejectionReason(respBody, "conflict")}, nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &SubmitResult{Outcome: OutcomeRejected, Reason: "unauthorized"}, nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &SubmitResult{Outcome: OutcomeRejected, Reason: rejectionReason(respBody, fmt.Sprintf("HTTP %d", resp.StatusCode))}, nil

	default:
		return nil, fmt.Errorf("remote error: HTTP %d: %s", resp.StatusCode, string(respBody))
	}
}

// FetchProducts fetches the current product catalog with its version.
func (c *Client) FetchProducts(ctx context.Context) (*FetchResult, error) {
	var result FetchResult
	if err := c.do(ctx, "GET", "/v1/catalog/products", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// FetchStock fetches current stock levels with their version.
func (c *Client) FetchStock(ctx context.Context) (*FetchResult, error) {
	var result FetchResult
	if err := c.do(ctx, "GET", "/v1/catalog/stock", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Health hits the /healthz endpoint to verify server reachability.
func (c *Client) Health(ctx context.Context) error {
	var resp healthResponse
	return c.do(ctx, "GET", "/healthz", nil, &resp)
}

// --- HTTP helpers ---

// apiError is the standard error body from the server.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// rejectionReason extracts a human-readable reason from an error body.
func rejectionReason(body []byte, fallback string) string {
	var apiErr apiError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Code != "" {
		return apiErr.Error()
	}
	return fallback
}

// do executes an authenticated HTTP request and decodes the JSON response.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Code != "" {
			switch resp.StatusCode {
			case http.StatusUnauthorized, http.StatusForbidden:
				return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Message)
			case http.StatusNotFound:
				return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Message)
			default:
				return &apiErr
			}
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}
