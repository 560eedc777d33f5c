// Package serde implements the client/server serde middleware: string-JSON
// encode/decode of RunRequest and RunResponse at the wire boundary, plus the
// rule that promotes a server-reported exception into a client-side error.
package serde

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oriys/cmdproxy/internal/protocol"
)

// ClientMiddleware encodes a RunRequest to JSON and decodes the JSON
// RunResponse, re-lifting a non-empty exc field into an error.
type ClientMiddleware struct{}

// NewClient returns a client-end serde middleware.
func NewClient() *ClientMiddleware { return &ClientMiddleware{} }

// TransformRequest encodes req as a JSON string.
func (c *ClientMiddleware) TransformRequest(_ context.Context, req *protocol.RunRequest) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("serde: encode request: %w", err)
	}
	return string(data), nil
}

// TransformResponse decodes the broker's JSON string response. If decoding
// fails or the inner stage already failed, the error is propagated as-is.
// A decoded response with a non-empty Exc is re-lifted into an error.
func (c *ClientMiddleware) TransformResponse(_ context.Context, raw string, inErr error) (*protocol.RunResponse, error) {
	if inErr != nil {
		return nil, inErr
	}

	var resp protocol.RunResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("serde: decode response: %w", err)
	}

	if resp.Failed() {
		return nil, fmt.Errorf("Server Error: code=%d, %s", resp.ReturnCode, resp.Exc)
	}
	return &resp, nil
}
