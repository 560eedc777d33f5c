// Package launcher spawns the resolved RunRecipe as a child process, the
// external collaborator spec.md assumes ("a child-process API with
// stdout/stderr redirection, cwd, env inheritance, and exit-code
// retrieval"). Grounded in the teacher's os/exec.CommandContext usage.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/oriys/cmdproxy/internal/protocol"
)

// Launcher runs a resolved RunRecipe and returns the child's exit code.
type Launcher interface {
	Launch(ctx context.Context, recipe *protocol.RunRecipe) (exitCode int, err error)
}

// ProcessLauncher launches recipes as real OS child processes.
type ProcessLauncher struct{}

// New returns a ProcessLauncher.
func New() *ProcessLauncher { return &ProcessLauncher{} }

// Launch spawns recipe.Command with recipe.Args, redirecting stdout/stderr
// to the paths the server-end invoke middleware allocated, if any. A
// non-zero exit is returned as exitCode, not as an error; only failures to
// create the redirect files or to spawn the process are errors.
func (l *ProcessLauncher) Launch(ctx context.Context, recipe *protocol.RunRecipe) (int, error) {
	cmd := exec.CommandContext(ctx, recipe.Command, recipe.Args...)
	cmd.Dir = recipe.Cwd

	cmd.Env = os.Environ()
	for k, v := range recipe.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	if recipe.Stdout != "" {
		f, err := os.Create(recipe.Stdout)
		if err != nil {
			return 0, fmt.Errorf("launcher: open stdout %s: %w", recipe.Stdout, err)
		}
		defer f.Close()
		cmd.Stdout = f
	}
	if recipe.Stderr != "" {
		f, err := os.Create(recipe.Stderr)
		if err != nil {
			return 0, fmt.Errorf("launcher: open stderr %s: %w", recipe.Stderr, err)
		}
		defer f.Close()
		cmd.Stderr = f
	}

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}

	return 0, fmt.Errorf("launcher: spawn %s: %w", recipe.Command, err)
}
