package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	logx "ideinfo/pkg/logx"
)

// Validate checks values that would otherwise fail late at runtime.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" {
		if _, ok := logx.ParseLevel(lvl); !ok {
			add("logging.level: unknown level %q", lvl)
		}
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
	case "", "memory", "mem", "file", "sqlite", "sqlite3":
	default:
		add("storage.driver: unknown driver %q", d)
	}

	if strings.TrimSpace(cfg.Identity.UserID) == "" {
		add("identity.user_id: required")
	}
	if strings.TrimSpace(cfg.Engine.Domain) == "" {
		add("engine.domain: required")
	}
	if cfg.Engine.Hosted && strings.TrimSpace(cfg.Identity.ProjectID) != "" && strings.TrimSpace(cfg.Shared.APIURL) == "" {
		add("shared.api_url: required when engine.hosted and identity.project_id are set")
	}

	switch m := strings.ToLower(strings.TrimSpace(cfg.Remote.Mode)); m {
	case "", "local":
	case "ssh":
		if strings.TrimSpace(cfg.Remote.SSH.Addr) == "" || strings.TrimSpace(cfg.Remote.SSH.User) == "" {
			add("remote.ssh: addr and user are required")
		}
		if cfg.Remote.SSH.KeyFile == "" && cfg.Remote.SSH.Password == "" {
			add("remote.ssh: key_file or password is required")
		}
		if cfg.Remote.SSH.KnownHosts == "" && !cfg.Remote.SSH.InsecureIgnoreHostKey {
			add("remote.ssh: known_hosts is required unless insecure_ignore_host_key is set")
		}
	default:
		add("remote.mode: unknown mode %q", m)
	}

	switch ch := strings.ToLower(strings.TrimSpace(cfg.Index.Channel)); ch {
	case "", "none":
	case "mirror", "listing":
		if strings.TrimSpace(cfg.Index.URL) == "" {
			add("index.url: required for channel %q", ch)
		}
	case "s3":
		if strings.TrimSpace(cfg.Index.S3.Bucket) == "" {
			add("index.s3.bucket: required for channel s3")
		}
	default:
		add("index.channel: unknown channel %q", ch)
	}
	if p := strings.TrimSpace(cfg.Index.Pattern); p != "" {
		re, err := regexp.Compile(p)
		if err != nil {
			add("index.pattern: %v", err)
		} else if re.NumSubexp() < 1 {
			add("index.pattern: needs a capture group for the version number")
		}
	}

	if cfg.Notify.Telegram.Enabled {
		if strings.TrimSpace(cfg.Notify.Telegram.Token) == "" || cfg.Notify.Telegram.ChatID == 0 {
			add("notify.telegram: token and chat_id are required when enabled")
		}
	}

	for path, raw := range map[string]string{
		"storage.busy_timeout":    cfg.Storage.BusyTimeout,
		"remote.ssh.dial_timeout": cfg.Remote.SSH.DialTimeout,
		"index.interval":          cfg.Index.Interval,
		"index.timeout":           cfg.Index.Timeout,
		"shared.timeout":          cfg.Shared.Timeout,
		"notify.dedup_window":     cfg.Notify.DedupWindow,
		"status.read_timeout":     cfg.Status.ReadTimeout,
		"status.idle_timeout":     cfg.Status.IdleTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
