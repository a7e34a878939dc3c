// Package gateclient calls the remote governance endpoint. The contract is
// fail-closed: any transport error, unexpected status, malformed body or
// missing decision rejects the run. There are no retries; a flaky endpoint
// blocks publication rather than being retried into a pass.
package gateclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Request is the governance validation request body.
type Request struct {
	Action      string         `json:"action"`
	Manifest    map[string]any `json:"manifest"`
	TestResults map[string]any `json:"test_results"`
	Timestamp   string         `json:"timestamp"`
}

// Response is the decoded endpoint response.
type Response struct {
	Decision   string         `json:"decision"`
	Confidence float64        `json:"confidence"`
	Detail     map[string]any `json:"detail,omitempty"`
}

// Passed reports whether the decision permits publication.
func (r *Response) Passed() bool {
	return r.Decision == "APPROVE" || r.Decision == "PASS"
}

// Client posts validation requests to a governance endpoint.
type Client struct {
	URL        string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Validate posts the request and decodes the decision. The returned error is
// non-nil for every condition that must block the run; callers treat error
// and !Passed() identically.
func (c *Client) Validate(ctx context.Context, req Request) (*Response, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("gateclient: no endpoint configured")
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("gateclient: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gateclient: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gateclient: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("gateclient: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateclient: endpoint returned %d: %s", resp.StatusCode, truncate(data, 256))
	}

	var decoded Response
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("gateclient: malformed response: %w", err)
	}
	if decoded.Decision == "" {
		return nil, fmt.Errorf("gateclient: response has no decision")
	}
	return &decoded, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
