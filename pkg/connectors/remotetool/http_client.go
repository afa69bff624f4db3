package remotetool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dukex/stepflow/pkg/protocol"
)

const (
	// HeaderConnectionID carries the connection the action runs against.
	HeaderConnectionID = "X-Connection-Id"

	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4096
)

// actionResponse is the envelope returned by the actions service.
type actionResponse struct {
	Successful *bool          `json:"successful"`
	Data       map[string]any `json:"data"`
	Error      string         `json:"error"`
}

// HTTPActionClient posts actions to an actions service at
// {baseURL}/actions/{actionId}/execute. It performs exactly one request per call.
type HTTPActionClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// HTTPClientOption configures an HTTPActionClient.
type HTTPClientOption func(*HTTPActionClient)

// WithAPIKey sets the bearer token sent with every request.
func WithAPIKey(key string) HTTPClientOption {
	return func(c *HTTPActionClient) {
		c.apiKey = key
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(client *http.Client) HTTPClientOption {
	return func(c *HTTPActionClient) {
		c.client = client
	}
}

func NewHTTPActionClient(baseURL string, opts ...HTTPClientOption) *HTTPActionClient {
	c := &HTTPActionClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultTimeout},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *HTTPActionClient) ExecuteAction(ctx context.Context, req ActionRequest) (map[string]any, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	endpoint := c.baseURL + "/actions/" + url.PathEscape(req.ActionID) + "/execute"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(HeaderConnectionID, req.ConnectionID)

	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &protocol.RemoteActionError{
			ToolkitSlug: req.ToolkitSlug,
			ActionID:    req.ActionID,
			Err:         fmt.Errorf("request failed: %w", err),
		}
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &protocol.RemoteActionError{
			ToolkitSlug: req.ToolkitSlug,
			ActionID:    req.ActionID,
			StatusCode:  resp.StatusCode,
			Err:         fmt.Errorf("failed to read response: %w", err),
		}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		message := string(respBody)
		if len(message) > maxErrorBody {
			message = message[:maxErrorBody]
		}

		var envelope actionResponse
		if json.Unmarshal(respBody, &envelope) == nil && envelope.Error != "" {
			message = envelope.Error
		}

		return nil, &protocol.RemoteActionError{
			ToolkitSlug: req.ToolkitSlug,
			ActionID:    req.ActionID,
			StatusCode:  resp.StatusCode,
			Message:     message,
		}
	}

	var envelope actionResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, &protocol.RemoteActionError{
			ToolkitSlug: req.ToolkitSlug,
			ActionID:    req.ActionID,
			StatusCode:  resp.StatusCode,
			Err:         fmt.Errorf("failed to decode response: %w", err),
		}
	}

	if envelope.Successful != nil && !*envelope.Successful {
		return nil, &protocol.RemoteActionError{
			ToolkitSlug: req.ToolkitSlug,
			ActionID:    req.ActionID,
			StatusCode:  resp.StatusCode,
			Message:     envelope.Error,
		}
	}

	if envelope.Data == nil {
		return map[string]any{}, nil
	}

	return envelope.Data, nil
}
