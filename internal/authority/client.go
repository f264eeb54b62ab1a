// Package authority talks to the remote authority REST API that serves
// authoritative records. The engine consumes this API; it does not own
// the business rules behind it.
package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/mpcrae/boardsync/internal/errors"
)

// Client talks to the remote authority REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// apiError is the error body shape returned by the authority.
type apiError struct {
	Error string `json:"error"`
	Msg   string `json:"msg"`
}

// NewClient creates an API client with the given http.Client.
// If httpClient is nil, http.DefaultClient is used.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Get fetches the authoritative record for a resource, including its
// modification marker. Returns nil with no error when the record does
// not exist.
func (c *Client) Get(ctx context.Context, resourceID string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/resource/"+resourceID, nil, true)
}

// Put applies a change to a resource and returns the accepted record.
func (c *Client) Put(ctx context.Context, resourceID string, body json.RawMessage) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPut, "/resource/"+resourceID, body, false)
}

// Post creates a resource and returns the accepted record.
func (c *Client) Post(ctx context.Context, resourceID string, body json.RawMessage) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/resource/"+resourceID, body, false)
}

// Do replays a captured API request verbatim. Used for api_request sync
// items whose method and path were recorded while disconnected.
func (c *Client) Do(ctx context.Context, method, path string, body json.RawMessage) (json.RawMessage, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return c.do(ctx, method, path, body, false)
}

func (c *Client) do(ctx context.Context, method, path string, body json.RawMessage, missingOK bool) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending %s %s: %w: %w", method, path, err, apperrors.ErrRequest)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", path, err)
	}

	if resp.StatusCode == http.StatusNotFound && missingOK {
		return nil, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("%s %s (%d): %s: %w", method, path, resp.StatusCode, apiErr.Error, apperrors.ErrRequest)
		}

		return nil, fmt.Errorf("%s %s returned status %d: %w", method, path, resp.StatusCode, apperrors.ErrRequest)
	}

	if len(respBody) == 0 {
		return nil, nil
	}

	return json.RawMessage(respBody), nil
}
