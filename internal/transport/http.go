package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/izavyalov-dev/reportd/protocol"
)

// HTTPClient talks to a running reportd instance.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code     int
	Response protocol.ErrorResponse
}

func (e *StatusError) Error() string {
	if e.Response.Error != "" {
		return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Response.Error)
	}
	return fmt.Sprintf("unexpected status %d", e.Code)
}

func (c *HTTPClient) Health(ctx context.Context) (protocol.HealthResponse, error) {
	var out protocol.HealthResponse
	err := c.do(ctx, http.MethodGet, "/healthz", nil, &out)
	return out, err
}

func (c *HTTPClient) Meta(ctx context.Context) (protocol.MetaResponse, error) {
	var out protocol.MetaResponse
	err := c.do(ctx, http.MethodGet, "/api/meta", nil, &out)
	return out, err
}

func (c *HTTPClient) Generate(ctx context.Context, req protocol.GenerateRequest) (protocol.GenerateResponse, error) {
	var out protocol.GenerateResponse
	err := c.do(ctx, http.MethodPost, "/api/generate", req, &out)
	return out, err
}

func (c *HTTPClient) do(ctx context.Context, method, path string, payload, target any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		serr := &StatusError{Code: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(&serr.Response)
		return serr
	}
	if target == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}
