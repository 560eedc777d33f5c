// Package clientend implements the client-end invoke middleware: it rewrites
// local Params into their cloud-addressed form before the request is
// serialized, and reverses the rewrite (downloading outputs, deleting cloud
// residues) once the server has responded.
package clientend

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/codes"

	"github.com/oriys/cmdproxy/internal/blobstore"
	"github.com/oriys/cmdproxy/internal/logging"
	"github.com/oriys/cmdproxy/internal/param"
	"github.com/oriys/cmdproxy/internal/protocol"
	"github.com/oriys/cmdproxy/internal/tracing"
)

var tracer = tracing.Tracer("cmdproxy/invoke/clientend")

// argGuard is one acquired file-staging resource. Enter returns the
// rewritten Param; Exit performs the reverse action.
type argGuard interface {
	Enter(ctx context.Context) (*param.Param, error)
	Exit(ctx context.Context) error
}

// Middleware is the client-end invoke middleware. One instance is
// constructed per RunRequest.
type Middleware struct {
	store  blobstore.Store
	env    EnvLookup
	guards []argGuard
}

// EnvLookup resolves an Env{name} Param at the client. Defaults to os.Getenv
// via NewDefaultEnvLookup; tests may substitute a fake.
type EnvLookup func(name string) (string, bool)

// New constructs a client-end invoke middleware bound to store.
func New(store blobstore.Store, env EnvLookup) *Middleware {
	return &Middleware{store: store, env: env}
}

// TransformRequest rewrites every Param leaf of req into its client-side
// entered form, traversing command, stdout, stderr, args, then env, per
// §4.4. Any enter failure aborts the request after exiting all
// already-entered guards.
func (m *Middleware) TransformRequest(ctx context.Context, req *protocol.RunRequest) (out *protocol.RunRequest, err error) {
	ctx, span := tracer.Start(ctx, "cmdproxy.invoke.enter")
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	out = &protocol.RunRequest{
		Cwd: req.Cwd,
	}

	if out.Command, err = m.wrap(ctx, req.Command); err != nil {
		m.exitAll(ctx)
		return nil, fmt.Errorf("clientend: command: %w", err)
	}
	if req.Stdout != nil {
		if out.Stdout, err = m.wrap(ctx, req.Stdout); err != nil {
			m.exitAll(ctx)
			return nil, fmt.Errorf("clientend: stdout: %w", err)
		}
	}
	if req.Stderr != nil {
		if out.Stderr, err = m.wrap(ctx, req.Stderr); err != nil {
			m.exitAll(ctx)
			return nil, fmt.Errorf("clientend: stderr: %w", err)
		}
	}

	out.Args = make([]*param.Param, len(req.Args))
	for i, a := range req.Args {
		if out.Args[i], err = m.wrap(ctx, a); err != nil {
			m.exitAll(ctx)
			return nil, fmt.Errorf("clientend: args[%d]: %w", i, err)
		}
	}

	if req.Env != nil {
		out.Env = make(map[string]*param.Param, len(req.Env))
		for k, v := range req.Env {
			var wrapped *param.Param
			if wrapped, err = m.wrap(ctx, v); err != nil {
				m.exitAll(ctx)
				return nil, fmt.Errorf("clientend: env[%s]: %w", k, err)
			}
			out.Env[k] = wrapped
		}
	}

	return out, nil
}

// wrap dispatches on p's Kind, pushes the guard that was entered, and
// returns the rewritten Param.
func (m *Middleware) wrap(ctx context.Context, p *param.Param) (*param.Param, error) {
	if p == nil {
		return nil, nil
	}

	switch p.Kind {
	case param.KindStr, param.KindRemoteEnv, param.KindCmdName, param.KindCmdPath,
		param.KindInCloudFile, param.KindOutCloudFile:
		return p, nil

	case param.KindEnv:
		g := &envGuard{name: p.Name, lookup: m.env}
		rewritten, err := g.Enter(ctx)
		if err != nil {
			return nil, err
		}
		m.guards = append(m.guards, g)
		return rewritten, nil

	case param.KindInLocalFile:
		g := &inLocalGuard{store: m.store, src: p}
		rewritten, err := g.Enter(ctx)
		if err != nil {
			return nil, err
		}
		m.guards = append(m.guards, g)
		return rewritten, nil

	case param.KindOutLocalFile:
		g := &outLocalGuard{store: m.store, src: p}
		rewritten, err := g.Enter(ctx)
		if err != nil {
			return nil, err
		}
		m.guards = append(m.guards, g)
		return rewritten, nil

	case param.KindFormat:
		wrappedArgs := make(map[string]*param.Param, len(p.Args))
		for name, sub := range p.Args {
			w, err := m.wrap(ctx, sub)
			if err != nil {
				return nil, fmt.Errorf("format arg %q: %w", name, err)
			}
			wrappedArgs[name] = w
		}
		return param.Format(p.Tmpl, wrappedArgs), nil

	default:
		return nil, fmt.Errorf("clientend: unknown param kind %q", p.Kind)
	}
}

// TransformResponse pops all guards in LIFO order, running each Exit. Exit
// failures for OutLocalFile downloads override a successful response;
// cleanup-only failures (cloud delete) are logged and swallowed.
func (m *Middleware) TransformResponse(ctx context.Context, resp *protocol.RunResponse, inErr error) (out *protocol.RunResponse, err error) {
	ctx, span := tracer.Start(ctx, "cmdproxy.invoke.exit")
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	overrideErr := m.exitAll(ctx)
	if overrideErr != nil {
		return nil, overrideErr
	}
	if inErr != nil {
		return nil, inErr
	}
	return resp, nil
}

// exitAll pops and exits every guard LIFO, returning the first fatal error
// (an OutLocalFile download failure). Cleanup-only failures are logged.
func (m *Middleware) exitAll(ctx context.Context) error {
	var fatal error
	for i := len(m.guards) - 1; i >= 0; i-- {
		g := m.guards[i]
		if err := g.Exit(ctx); err != nil {
			if fg, ok := g.(fatalOnExitFailure); ok && fg.fatalOnExitFailure() {
				if fatal == nil {
					fatal = err
				}
			} else {
				logging.Op().Warn("clientend: cleanup failed", "error", err)
			}
		}
	}
	m.guards = nil
	return fatal
}

// fatalOnExitFailure marks guards whose Exit failure must override a
// successful response (only OutLocalFile's download, per §4.4).
type fatalOnExitFailure interface {
	fatalOnExitFailure() bool
}

var errEnvUnset = errors.New("clientend: env var unset")
