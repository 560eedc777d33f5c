// Package cmdproxyclient is the client façade (§4.7): it determines the
// target queue, composes [invoke; serde] around the broker's send_task, and
// returns the command's exit code.
package cmdproxyclient

import (
	"context"
	"fmt"

	"github.com/oriys/cmdproxy/internal/blobstore"
	"github.com/oriys/cmdproxy/internal/broker"
	"github.com/oriys/cmdproxy/internal/invoke/clientend"
	"github.com/oriys/cmdproxy/internal/param"
	"github.com/oriys/cmdproxy/internal/protocol"
	"github.com/oriys/cmdproxy/internal/serde"
)

// Client is the cmdproxy client façade.
type Client struct {
	broker broker.Broker
	store  blobstore.Store
	env    clientend.EnvLookup
}

// New constructs a Client bound to b and store. env defaults to the process
// environment when nil.
func New(b broker.Broker, store blobstore.Store, env clientend.EnvLookup) *Client {
	if env == nil {
		env = clientend.NewDefaultEnvLookup()
	}
	return &Client{broker: b, store: store, env: env}
}

// Run submits req, optionally to the caller-supplied queue, and returns the
// remote command's exit code. If queue is empty, the queue is derived from
// req.Command when it is a CmdName; any other command variant without an
// explicit queue is a validation error (§4.7 "the only dispatching rule").
func (c *Client) Run(ctx context.Context, req *protocol.RunRequest, queue string) (int, error) {
	q := queue
	if q == "" {
		if req.Command != nil && req.Command.Kind == param.KindCmdName {
			q = req.Command.Name
		} else {
			return 0, fmt.Errorf("cmdproxyclient: no queue given and command is not a CmdName")
		}
	}

	invokeMw := clientend.New(c.store, c.env)
	serdeMw := serde.NewClient()

	wireReq, err := invokeMw.TransformRequest(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("cmdproxyclient: %w", err)
	}

	payload, err := serdeMw.TransformRequest(ctx, wireReq)
	if err != nil {
		return c.unwind(ctx, invokeMw, err)
	}

	resultID, err := c.broker.SendTask(ctx, q, payload)
	if err != nil {
		return c.unwindThrough(ctx, invokeMw, serdeMw, fmt.Errorf("cmdproxyclient: send task: %w", err))
	}

	rawResp, err := c.broker.Wait(ctx, resultID)
	if err != nil {
		return c.unwindThrough(ctx, invokeMw, serdeMw, fmt.Errorf("cmdproxyclient: wait for result: %w", err))
	}

	resp, respErr := serdeMw.TransformResponse(ctx, rawResp, nil)
	final, err := invokeMw.TransformResponse(ctx, resp, respErr)
	if err != nil {
		return 0, err
	}
	return final.ReturnCode, nil
}

// unwind runs only the invoke middleware's cleanup, used when serde's
// request-side transform failed but invoke's had already succeeded.
func (c *Client) unwind(ctx context.Context, invokeMw *clientend.Middleware, cause error) (int, error) {
	if _, err := invokeMw.TransformResponse(ctx, nil, cause); err != nil {
		return 0, err
	}
	return 0, cause
}

// unwindThrough runs serde's then invoke's response-side cleanup when a
// later stage (broker send/wait) failed after both earlier request-side
// transforms succeeded.
func (c *Client) unwindThrough(ctx context.Context, invokeMw *clientend.Middleware, serdeMw *serde.ClientMiddleware, cause error) (int, error) {
	_, serdeErr := serdeMw.TransformResponse(ctx, "", cause)
	if _, err := invokeMw.TransformResponse(ctx, nil, serdeErr); err != nil {
		return 0, err
	}
	return 0, serdeErr
}
