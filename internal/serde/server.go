package serde

import (
	"context"
	"encoding/json"

	"github.com/oriys/cmdproxy/internal/protocol"
)

// ServerMiddleware decodes the JSON RunRequest delivered by the broker and
// encodes the RunResponse back to JSON. Server-side errors are never
// returned out of this middleware: they are embedded into the serialized
// response, per §4.6 — the sole mechanism by which a server failure reaches
// the client.
type ServerMiddleware struct{}

// NewServer returns a server-end serde middleware.
func NewServer() *ServerMiddleware { return &ServerMiddleware{} }

// TransformRequest decodes the delivered JSON string into a RunRequest.
func (s *ServerMiddleware) TransformRequest(_ context.Context, raw string) (*protocol.RunRequest, error) {
	var req protocol.RunRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// TransformResponse encodes resp to JSON on success. On a non-nil inErr, the
// error's message is embedded into a RunResponse{return_code: -1, exc: ...}
// instead of being returned: the server task must never bubble an error
// past this point.
func (s *ServerMiddleware) TransformResponse(_ context.Context, resp *protocol.RunResponse, inErr error) (string, error) {
	if inErr != nil {
		resp = &protocol.RunResponse{ReturnCode: -1, Exc: inErr.Error()}
	}

	data, err := json.Marshal(resp)
	if err != nil {
		// Encoding the response itself failed; there is nowhere further to
		// embed this, so it is the one case where the server middleware
		// returns a real error.
		return "", err
	}
	return string(data), nil
}
