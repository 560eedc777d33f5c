// Package cmdproxyserver is the server façade (§4.8): for every delivered
// task it composes [serde; invoke] around the process launch, wires
// stdout/stderr to the scratch paths the server-end invoke middleware
// allocated, and bubbles the serialized response back to the broker.
package cmdproxyserver

import (
	"context"
	"time"

	"github.com/oriys/cmdproxy/internal/audit"
	"github.com/oriys/cmdproxy/internal/blobstore"
	"github.com/oriys/cmdproxy/internal/broker"
	"github.com/oriys/cmdproxy/internal/invoke/serverend"
	"github.com/oriys/cmdproxy/internal/launcher"
	"github.com/oriys/cmdproxy/internal/logging"
	"github.com/oriys/cmdproxy/internal/metrics"
	"github.com/oriys/cmdproxy/internal/protocol"
	"github.com/oriys/cmdproxy/internal/serde"
)

// Server is the cmdproxy server façade, i.e. one worker process.
type Server struct {
	Broker         broker.Broker
	Store          blobstore.Store
	Palette        serverend.Palette
	ScratchBaseDir string
	Launcher       launcher.Launcher
	RunLogger      *logging.RunLogger // optional
	Audit          *audit.Log         // optional
	Metrics        *metrics.Metrics   // optional
}

// Serve consumes from queues until ctx is cancelled, handling each
// delivered task in its own goroutine.
func (s *Server) Serve(ctx context.Context, queues []string) error {
	tasks, err := s.Broker.Consume(ctx, queues)
	if err != nil {
		return err
	}

	for task := range tasks {
		go s.handle(ctx, task)
	}
	return nil
}

// handle runs the full serde/invoke/launch pipeline for one delivered task
// and completes it on the broker. Every failure path still produces a
// wire-valid response (§4.6) and still completes the broker task.
func (s *Server) handle(ctx context.Context, task broker.Task) {
	start := time.Now()
	serdeMw := serde.NewServer()

	invokeMw, err := serverend.New(s.Store, s.Palette, s.ScratchBaseDir)
	if err != nil {
		wireResp, _ := serdeMw.TransformResponse(ctx, nil, err)
		s.complete(ctx, task, wireResp, -1, err, start)
		return
	}
	defer invokeMw.Close()

	req, err := serdeMw.TransformRequest(ctx, task.Payload)
	if err != nil {
		wireResp, _ := serdeMw.TransformResponse(ctx, nil, err)
		s.complete(ctx, task, wireResp, -1, err, start)
		return
	}

	recipe, recipeErr := invokeMw.TransformRequest(ctx, req)

	var code int
	var launchErr error
	if recipeErr != nil {
		launchErr = recipeErr
	} else {
		code, launchErr = s.Launcher.Launch(ctx, recipe)
	}

	resp, respErr := invokeMw.TransformResponse(ctx, code, launchErr)
	wireResp, _ := serdeMw.TransformResponse(ctx, resp, respErr)

	returnCode := code
	if resp != nil {
		returnCode = resp.ReturnCode
	} else if respErr != nil {
		returnCode = -1
	}

	s.complete(ctx, task, wireResp, returnCode, respErr, start)
}

func (s *Server) complete(ctx context.Context, task broker.Task, wireResp string, returnCode int, taskErr error, start time.Time) {
	durationMs := time.Since(start).Milliseconds()

	log := logging.OpForRun(task.ResultID, task.Queue)

	if err := s.Broker.Complete(ctx, task.ResultID, wireResp); err != nil {
		log.Error("cmdproxyserver: complete task failed", "error", err)
	}

	status := "ok"
	excText := ""
	if taskErr != nil {
		status = "fail"
		excText = taskErr.Error()
	}

	if s.Metrics != nil {
		s.Metrics.RunsTotal.WithLabelValues(task.Queue, status).Inc()
		s.Metrics.RunDurationMs.WithLabelValues(task.Queue).Observe(float64(durationMs))
	}

	if s.RunLogger != nil {
		s.RunLogger.Log(&logging.RunLog{
			RequestID:  task.ResultID,
			Queue:      task.Queue,
			ReturnCode: returnCode,
			Exc:        excText,
			DurationMs: durationMs,
		})
	}

	if s.Audit != nil {
		auditResp := &protocol.RunResponse{ReturnCode: returnCode, Exc: excText}
		if err := s.Audit.Record(ctx, task.ResultID, task.Queue, "", auditResp, 0, 0); err != nil {
			log.Warn("cmdproxyserver: audit record failed", "error", err)
		}
	}
}
