// Package provider invokes out-of-process capability providers over HTTP.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"onboarding/internal/workflow/models"
)

// Request is the JSON body posted to a provider. Results arrive later on the
// callback endpoint, keyed by CorrelationID.
type Request struct {
	WorkflowID    string         `json:"workflowId"`
	CorrelationID string         `json:"correlationId"`
	Capability    string         `json:"capability"`
	Payload       map[string]any `json:"payload,omitempty"`
	Deadline      time.Time      `json:"deadline"`
}

func RequestFor(req models.DispatchRequest) Request {
	return Request{
		WorkflowID:    req.WorkflowID.String(),
		CorrelationID: req.CorrelationID.String(),
		Capability:    string(req.Capability),
		Payload:       req.Payload,
		Deadline:      req.Deadline,
	}
}

// Client posts dispatch requests to one provider endpoint.
type Client struct {
	capability string
	url        string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(capability, url string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		capability: capability,
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Capability() string {
	return c.capability
}

// Invoke posts the request. A 2xx response means the provider accepted the work.
func (c *Client) Invoke(ctx context.Context, req Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return NewProviderError(ErrorInternal, c.capability, "failed to encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return NewProviderError(ErrorInternal, c.capability, "failed to build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Correlation-ID", req.CorrelationID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return c.transportError(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	pe := NewProviderError(categoryForStatus(resp.StatusCode), c.capability,
		fmt.Sprintf("provider responded %d", resp.StatusCode), nil)
	pe.StatusCode = resp.StatusCode
	return pe
}

func (c *Client) transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewProviderError(ErrorTimeout, c.capability, "provider request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewProviderError(ErrorTimeout, c.capability, "provider request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewProviderError(ErrorInternal, c.capability, "dispatch cancelled", err)
	}
	return NewProviderError(ErrorOutage, c.capability, "provider unreachable", err)
}

func categoryForStatus(status int) ErrorCategory {
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ErrorTimeout
	case status == http.StatusTooManyRequests:
		return ErrorRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrorAuthentication
	case status >= 500:
		return ErrorOutage
	default:
		return ErrorBadData
	}
}
