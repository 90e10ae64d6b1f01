package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/convex-community/convex-go/protocol"
	"github.com/convex-community/convex-go/values"
)

// Status 560 carries the standard error envelope despite being non-2xx.
const statusFunctionError = 560

// Execute performs one call: POST {base}/api/{kind} with the encoded
// argument object. Retry belongs to the dispatcher, not here.
func (c *Client) Execute(ctx context.Context, kind protocol.CallKind, path string, encodedArgs string) (values.Value, error) {
	body, err := json.Marshal(protocol.HTTPRequest{
		Path:   path,
		Format: protocol.WireFormat,
		Args:   []json.RawMessage{json.RawMessage(encodedArgs)},
	})
	if err != nil {
		return nil, &protocol.SerializationError{Path: path, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/"+string(kind), bytes.NewReader(body))
	if err != nil {
		return nil, &protocol.TransportError{Op: "create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch auth token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &protocol.TransportError{Op: "http post", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &protocol.TransportError{Op: "read response", Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300,
		resp.StatusCode == statusFunctionError:
		return c.parseEnvelope(path, respBody)

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &protocol.RateLimitError{
			Path:       path,
			RetryAfter: retryAfter(resp),
		}

	case resp.StatusCode >= 500:
		return nil, &protocol.TransportError{
			Op:  "http post",
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		}

	default:
		return nil, &protocol.FunctionError{
			Path:    path,
			Message: fmt.Sprintf("http %d: %s", resp.StatusCode, string(respBody)),
		}
	}
}

// parseEnvelope decodes the {status, value | errorMessage, errorData}
// response body.
func (c *Client) parseEnvelope(path string, body []byte) (values.Value, error) {
	var envelope protocol.HTTPResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &protocol.SerializationError{Path: path, Err: err}
	}

	if envelope.Status == "error" {
		data, _ := values.DecodeRaw(envelope.ErrorData)
		return nil, &protocol.FunctionError{
			Path:    path,
			Message: envelope.ErrorMessage,
			Data:    data,
		}
	}

	v, err := values.DecodeRaw(envelope.Value)
	if err != nil {
		return nil, &protocol.SerializationError{Path: path, Err: err}
	}
	return v, nil
}

func retryAfter(resp *http.Response) time.Duration {
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Second
}
