package clientend

import "os"

// NewDefaultEnvLookup returns an EnvLookup backed by the process environment.
func NewDefaultEnvLookup() EnvLookup {
	return os.LookupEnv
}
