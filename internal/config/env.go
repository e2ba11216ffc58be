package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnvFile loads KEY=VALUE pairs into the process environment without
// overriding variables that are already set. An empty path is a no-op.
func LoadEnvFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// expandSecrets resolves ${VAR} references in fields that usually hold
// credentials, so they can live outside the config file.
func expandSecrets(cfg *Config) {
	for _, p := range []*string{
		&cfg.Notify.Telegram.Token,
		&cfg.Remote.SSH.Password,
		&cfg.Shared.Token,
		&cfg.Status.Token,
	} {
		if strings.Contains(*p, "$") {
			*p = os.ExpandEnv(*p)
		}
	}
}
