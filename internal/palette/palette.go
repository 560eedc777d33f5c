// Package palette loads the command-name-to-path mapping that resolves
// CmdName Params server-side, and the environments file consumed as extra
// process environment for the daemon itself. Both are YAML, grounded in the
// original Rust's command_palette/environments files.
package palette

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/oriys/cmdproxy/internal/invoke/serverend"
)

// Load reads a YAML file mapping command name to absolute path.
func Load(path string) (serverend.Palette, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("palette: read %s: %w", path, err)
	}

	var p serverend.Palette
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("palette: parse %s: %w", path, err)
	}
	return p, nil
}

// LoadEnvironments reads a YAML file of extra environment values and sets
// them in the current process environment, mirroring app.rs's environments
// file loading (std::env::set_var per entry).
func LoadEnvironments(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("palette: read environments %s: %w", path, err)
	}

	var env map[string]string
	if err := yaml.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("palette: parse environments %s: %w", path, err)
	}

	for k, v := range env {
		if err := os.Setenv(k, v); err != nil {
			return fmt.Errorf("palette: set env %s: %w", k, err)
		}
	}
	return nil
}
