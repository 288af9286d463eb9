package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Request carries the disbursement details for the provider.
type Request struct {
	WalletID  string `json:"wallet_id"`
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

// Result captures the provider's decision. Success false means the provider
// answered but declined; transport faults surface as errors instead.
type Result struct {
	Success bool
	Detail  string
}

// Client represents a connector to the external settlement provider that
// actually moves money out of the system.
type Client interface {
	Disburse(ctx context.Context, req Request) (Result, error)
}

// StaticClient simulates a provider that approves every disbursement.
// It backs dev mode when no provider URL is configured.
type StaticClient struct{}

// Disburse approves the request with a synthetic reference.
func (StaticClient) Disburse(_ context.Context, _ Request) (Result, error) {
	return Result{Success: true, Detail: uuid.NewString()}, nil
}

// HTTPClient calls the provider over HTTP with a fixed timeout. The provider
// signals acceptance with a body of {"data": "success"}; anything else is a
// rejection and the raw response is kept for the failure record.
type HTTPClient struct {
	url    string
	client *http.Client
}

// NewHTTPClient builds a provider connector with the given fixed timeout.
func NewHTTPClient(url string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Disburse posts the request and interprets the provider's reply.
func (c *HTTPClient) Disburse(ctx context.Context, req Request) (Result, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("encode settlement request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("build settlement request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("settlement call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return Result{}, fmt.Errorf("read settlement response: %w", err)
	}

	var decoded struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(body, &decoded); err == nil && decoded.Data == "success" {
		return Result{Success: true, Detail: string(body)}, nil
	}
	return Result{Success: false, Detail: string(body)}, nil
}
