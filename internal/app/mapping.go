package app

import (
	"fmt"
	"strings"
	"time"

	"ideinfo/internal/config"
	"ideinfo/internal/engine"
	"ideinfo/internal/httpfetch"
	"ideinfo/internal/notifier"
	"ideinfo/internal/remote"
	"ideinfo/internal/status"
	"ideinfo/internal/storage"
	logx "ideinfo/pkg/logx"
)

func mapLogging(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		JSON:    c.JSON,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
	}
}

func mapStorageConfig(c config.StorageConfig) (storage.Config, error) {
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	path := strings.TrimSpace(c.Path)
	switch driver {
	case "", "memory", "mem":
		return storage.Config{Driver: "memory"}, nil
	case "file":
		if path == "" {
			path = "./ideinfo-settings"
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationField("storage.busy_timeout", c.BusyTimeout)
		if err != nil {
			return storage.Config{}, err
		}
		if busy <= 0 {
			busy = time.Second
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", c.Driver)
	}
}

func mapEngineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		UserID:      strings.TrimSpace(cfg.Identity.UserID),
		ClientID:    strings.TrimSpace(cfg.Identity.ClientID),
		ProjectID:   strings.TrimSpace(cfg.Identity.ProjectID),
		Domain:      cfg.Engine.Domain,
		Hosted:      cfg.Engine.Hosted,
		Protocol:    cfg.Engine.Protocol,
		InstallDir:  cfg.Engine.InstallDir,
		LatestEvery: config.DurationOr(cfg.Index.Interval, engine.DefaultLatestEvery),
	}
}

func mapSSHConfig(c config.SSHConfig) (remote.SSHConfig, error) {
	dial, err := config.ParseDurationField("remote.ssh.dial_timeout", c.DialTimeout)
	if err != nil {
		return remote.SSHConfig{}, err
	}
	return remote.SSHConfig{
		Addr:                  strings.TrimSpace(c.Addr),
		User:                  strings.TrimSpace(c.User),
		KeyFile:               c.KeyFile,
		Password:              c.Password,
		KnownHosts:            c.KnownHosts,
		InsecureIgnoreHostKey: c.InsecureIgnoreHostKey,
		DialTimeout:           dial,
	}, nil
}

func mapNotifierConfig(c config.NotifyConfig) notifier.Config {
	return notifier.Config{
		Workers:     c.Workers,
		QueueSize:   c.QueueSize,
		RatePerSec:  c.RatePerSec,
		RetryMax:    c.RetryMax,
		DedupWindow: config.DurationOr(c.DedupWindow, time.Minute),
	}
}

func mapStatusConfig(c config.StatusConfig) status.Config {
	return status.Config{
		Enabled:       c.Enabled,
		Addr:          c.Addr,
		Token:         c.Token,
		AllowInsecure: c.AllowInsecure,
		Pprof:         c.Pprof,
		ReadTimeout:   config.DurationOr(c.ReadTimeout, 10*time.Second),
		IdleTimeout:   config.DurationOr(c.IdleTimeout, 60*time.Second),
	}
}

// mapFetchOptions builds the HTTP options for one upstream. timeout is the
// section's own timeout string.
func mapFetchOptions(timeout, token string) httpfetch.Options {
	return httpfetch.Options{
		Timeout:     config.DurationOr(timeout, 15*time.Second),
		BearerToken: strings.TrimSpace(token),
	}
}
