package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"mortgage-settlement-go/internal/errs"
	"mortgage-settlement-go/internal/httpclient"
)

const maxResponseBytes = 1 << 20

// client is the JSON-over-HTTP plumbing shared by the provider clients.
// Network failures, 5xx and 429 are reported as the unreachable error so the
// caller can retry them.
type client struct {
	baseURL     string
	apiKey      string
	http        *http.Client
	unreachable *errs.Error
}

func newClient(baseURL, apiKey string, httpClient *http.Client, unreachable *errs.Error) (*client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%s: base url cannot be empty", unreachable.Code)
	}
	if httpClient == nil {
		var err error
		httpClient, err = httpclient.New(0)
		if err != nil {
			return nil, fmt.Errorf("unable to create http client: %w", err)
		}
	}
	return &client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		http:        httpClient,
		unreachable: unreachable,
	}, nil
}

// do sends body (if non-nil) and decodes a 2xx response into out. Other
// statuses are returned as *statusError unless they are retryable.
func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("unable to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("unable to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errs.Wrap(c.unreachable, err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return errs.Wrap(c.unreachable, err, "reading %s response", path)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return errs.New(c.unreachable, "%s %s returned %d", method, path, resp.StatusCode)
	case resp.StatusCode >= 400:
		return &statusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errs.Wrap(c.unreachable, err, "decoding %s response", path)
	}
	return nil
}

type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}
