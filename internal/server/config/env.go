package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// parseEnv overlays GOPHAUTH_* variables onto config. Unset variables leave
// the current value alone. A nil environment means the process environment.
func parseEnv(config *Config, environment map[string]string) error {
	opts := env.Options{}
	if environment != nil {
		opts.Environment = environment
	}
	if err := env.ParseWithOptions(config, opts); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}
