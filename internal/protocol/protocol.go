// Package protocol defines the wire-level DTOs exchanged between the
// client and server façades: RunRequest carries Params, RunRecipe carries
// the resolved strings a process launcher consumes, RunResponse carries the
// outcome.
package protocol

import "github.com/oriys/cmdproxy/internal/param"

// RunRequest is the client-authored description of a command to run.
// Legacy to_downloads/to_uploads fields are deliberately absent; see
// DESIGN.md for the decision not to implement them.
type RunRequest struct {
	Command *param.Param            `json:"command"`
	Args    []*param.Param          `json:"args"`
	Cwd     *string                 `json:"cwd,omitempty"`
	Env     map[string]*param.Param `json:"env,omitempty"`
	Stdout  *param.Param            `json:"stdout,omitempty"`
	Stderr  *param.Param            `json:"stderr,omitempty"`
}

// RunRecipe is RunRequest with every Param resolved to a plain string,
// ready for process launch. Produced exclusively by the server-end invoke
// middleware.
type RunRecipe struct {
	Command string
	Args    []string
	Cwd     string
	Env     map[string]string
	Stdout  string // "" means not redirected
	Stderr  string
}

// RunResponse is the outcome of a completed (or failed) server-side run.
// Exc non-empty encodes a server-side failure with a human-readable reason;
// ReturnCode is -1 whenever Exc is non-empty (a child killed by a signal
// also reports -1, with an empty Exc).
type RunResponse struct {
	ReturnCode int    `json:"return_code"`
	Exc        string `json:"exc,omitempty"`
}

// Failed reports whether the response carries a server-side exception.
func (r *RunResponse) Failed() bool {
	return r.Exc != ""
}
