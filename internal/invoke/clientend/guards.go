package clientend

import (
	"context"
	"fmt"

	"github.com/oriys/cmdproxy/internal/blobstore"
	"github.com/oriys/cmdproxy/internal/logging"
	"github.com/oriys/cmdproxy/internal/param"
)

func logCleanupFailure(filepath string, err error) {
	logging.Op().Warn("clientend: residue cleanup failed", "filepath", filepath, "error", err)
}

// envGuard resolves Env{name} against the client's own environment. It has
// no exit action.
type envGuard struct {
	name   string
	lookup EnvLookup
}

func (g *envGuard) Enter(_ context.Context) (*param.Param, error) {
	v, ok := g.lookup(g.name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", errEnvUnset, g.name)
	}
	return param.Str(v), nil
}

func (g *envGuard) Exit(_ context.Context) error { return nil }

// inLocalGuard uploads a client-local input file to the cloud on Enter and
// deletes the cloud residue on Exit (the server has consumed it by then).
type inLocalGuard struct {
	store blobstore.Store
	src   *param.Param
}

func (g *inLocalGuard) Enter(ctx context.Context) (*param.Param, error) {
	if err := g.src.UploadInplace(ctx, g.store); err != nil {
		return nil, fmt.Errorf("stage input %s: %w", g.src.Filepath, err)
	}
	return g.src.AsCloud()
}

func (g *inLocalGuard) Exit(ctx context.Context) error {
	return g.src.RemoveFromCloud(ctx, g.store)
}

func (g *inLocalGuard) fatalOnExitFailure() bool { return false }

// outLocalGuard announces a client-local output file on Enter (no content
// yet) and downloads the server-produced content to its original path on
// Exit, then deletes the cloud residue.
type outLocalGuard struct {
	store blobstore.Store
	src   *param.Param
}

func (g *outLocalGuard) Enter(_ context.Context) (*param.Param, error) {
	return g.src.AsCloud()
}

func (g *outLocalGuard) Exit(ctx context.Context) error {
	if err := g.src.DownloadInplace(ctx, g.store); err != nil {
		return fmt.Errorf("fetch output %s: %w", g.src.Filepath, err)
	}
	// Residue cleanup failure is cleanup-only, not fatal; swallow it here so
	// the caller's fatalOnExitFailure() classification only ever applies to
	// the download above.
	if err := g.src.RemoveFromCloud(ctx, g.store); err != nil {
		logCleanupFailure(g.src.Filepath, err)
	}
	return nil
}

func (g *outLocalGuard) fatalOnExitFailure() bool { return true }
