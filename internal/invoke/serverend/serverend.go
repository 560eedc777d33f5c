// Package serverend implements the server-end invoke middleware: it
// materializes cloud-input files into a worker-local scratch directory,
// allocates scratch sinks for cloud-output files, resolves CmdName against
// the command palette, and renders Format templates into a ready-to-launch
// RunRecipe. On the way back it uploads produced outputs; Close removes the
// scratch directory.
package serverend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/oriys/cmdproxy/internal/blobstore"
	"github.com/oriys/cmdproxy/internal/logging"
	"github.com/oriys/cmdproxy/internal/param"
	"github.com/oriys/cmdproxy/internal/protocol"
	"github.com/oriys/cmdproxy/internal/tracing"
)

var tracer = tracing.Tracer("cmdproxy/invoke/serverend")

// Palette maps a command name to its absolute path on this worker.
type Palette map[string]string

// Middleware is the server-end invoke middleware. One instance is
// constructed per delivered task.
type Middleware struct {
	store      blobstore.Store
	palette    Palette
	scratchDir string
	passedEnv  map[string]string
	outGuards  []*outCloudGuard
}

// New creates a server-end invoke middleware with its own scratch directory
// under baseDir.
func New(store blobstore.Store, palette Palette, baseDir string) (*Middleware, error) {
	dir := filepath.Join(baseDir, uuid.New().String())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("serverend: create scratch dir: %w", err)
	}
	return &Middleware{
		store:      store,
		palette:    palette,
		scratchDir: dir,
		passedEnv:  make(map[string]string),
	}, nil
}

// Close recursively removes the scratch directory. It is the Go analogue of
// the spec's "removed on drop of the middleware instance".
func (m *Middleware) Close() error {
	return os.RemoveAll(m.scratchDir)
}

type outCloudGuard struct {
	store      blobstore.Store
	scratchPath string
	cloudParam *param.Param
}

func (g *outCloudGuard) exit(ctx context.Context) error {
	if _, err := os.Stat(g.scratchPath); os.IsNotExist(err) {
		// the command chose not to produce this output; skip silently.
		return nil
	} else if err != nil {
		return fmt.Errorf("stat scratch output %s: %w", g.scratchPath, err)
	}

	if err := g.cloudParam.Upload(ctx, g.store, g.scratchPath); err != nil {
		return fmt.Errorf("upload output %s: %w", g.scratchPath, err)
	}
	return nil
}

// TransformRequest resolves req into a RunRecipe. The env map is resolved
// first (populating the passed-env map), then command, stdout, stderr, then
// args — this ordering is observable: a later Param may reference an env
// key resolved moments before (§4.5).
func (m *Middleware) TransformRequest(ctx context.Context, req *protocol.RunRequest) (recipe *protocol.RunRecipe, err error) {
	ctx, span := tracer.Start(ctx, "cmdproxy.invoke.enter")
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	recipe = &protocol.RunRecipe{Cwd: "."}
	if req.Cwd != nil {
		recipe.Cwd = *req.Cwd
	}

	if req.Env != nil {
		recipe.Env = make(map[string]string, len(req.Env))
		for k, v := range req.Env {
			s, err := m.resolve(ctx, v)
			if err != nil {
				return nil, fmt.Errorf("serverend: env[%s]: %w", k, err)
			}
			m.passedEnv[k] = s
			recipe.Env[k] = s
		}
	}

	cmd, err := m.resolve(ctx, req.Command)
	if err != nil {
		return nil, fmt.Errorf("serverend: command: %w", err)
	}
	recipe.Command = cmd

	if req.Stdout != nil {
		if recipe.Stdout, err = m.resolve(ctx, req.Stdout); err != nil {
			return nil, fmt.Errorf("serverend: stdout: %w", err)
		}
	}
	if req.Stderr != nil {
		if recipe.Stderr, err = m.resolve(ctx, req.Stderr); err != nil {
			return nil, fmt.Errorf("serverend: stderr: %w", err)
		}
	}

	recipe.Args = make([]string, len(req.Args))
	for i, a := range req.Args {
		if recipe.Args[i], err = m.resolve(ctx, a); err != nil {
			return nil, fmt.Errorf("serverend: args[%d]: %w", i, err)
		}
	}

	return recipe, nil
}

// resolve dispatches on p's Kind per §4.5's table, returning the resolved
// string.
func (m *Middleware) resolve(ctx context.Context, p *param.Param) (string, error) {
	if p == nil {
		return "", nil
	}

	switch p.Kind {
	case param.KindStr:
		return p.Value, nil

	case param.KindEnv, param.KindRemoteEnv:
		if v, ok := os.LookupEnv(p.Name); ok {
			return v, nil
		}
		if v, ok := m.passedEnv[p.Name]; ok {
			return v, nil
		}
		return "", nil

	case param.KindCmdName:
		path, ok := m.palette[p.Name]
		if !ok {
			keys := make([]string, 0, len(m.palette))
			for k := range m.palette {
				keys = append(keys, k)
			}
			return "", fmt.Errorf("command not found: %q (available: %s)", p.Name, strings.Join(keys, ", "))
		}
		return path, nil

	case param.KindCmdPath:
		return p.Path, nil

	case param.KindInCloudFile:
		scratchPath := m.allocScratchPath(p.Filepath)
		if err := p.Download(ctx, m.store, scratchPath); err != nil {
			return "", fmt.Errorf("materialize input %s: %w", p.Filepath, err)
		}
		return scratchPath, nil

	case param.KindOutCloudFile:
		scratchPath := m.allocScratchPath(p.Filepath)
		m.outGuards = append(m.outGuards, &outCloudGuard{store: m.store, scratchPath: scratchPath, cloudParam: p})
		return scratchPath, nil

	case param.KindFormat:
		values := make(map[string]string, len(p.Args))
		for name, sub := range p.Args {
			v, err := m.resolve(ctx, sub)
			if err != nil {
				return "", fmt.Errorf("format arg %q: %w", name, err)
			}
			values[name] = v
		}
		return param.RenderTemplate(p.Tmpl, values)

	default:
		return "", fmt.Errorf("serverend: unknown param kind %q", p.Kind)
	}
}

// allocScratchPath creates a uniquely named path inside the scratch
// directory carrying the original basename as a suffix; the file itself is
// not pre-created.
func (m *Middleware) allocScratchPath(originalPath string) string {
	base := filepath.Base(originalPath)
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "f"
	}
	return filepath.Join(m.scratchDir, fmt.Sprintf("%s_%s", uuid.New().String(), base))
}

// TransformResponse pops OutCloudFile guards LIFO, uploading any scratch
// file that was actually produced; on success it reports the child's return
// code, on any exit failure that failure becomes the response, and an inner
// failure is simply propagated (the server façade embeds it into the wire
// response).
func (m *Middleware) TransformResponse(ctx context.Context, code int, inErr error) (resp *protocol.RunResponse, err error) {
	ctx, span := tracer.Start(ctx, "cmdproxy.invoke.exit")
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var exitErr error
	for i := len(m.outGuards) - 1; i >= 0; i-- {
		if err := m.outGuards[i].exit(ctx); err != nil {
			if exitErr == nil {
				exitErr = err
			} else {
				logging.Op().Warn("serverend: additional output upload failed", "error", err)
			}
		}
	}
	m.outGuards = nil

	if exitErr != nil {
		return nil, exitErr
	}
	if inErr != nil {
		return nil, inErr
	}
	return &protocol.RunResponse{ReturnCode: code}, nil
}
