package config

import (
	"reflect"
	"strings"

	logx "ideinfo/pkg/logx"
)

// SummarizeChange lists the sections that differ between two configs and
// returns log fields describing them. Secrets are reported only as *_set.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if oldCfg.Identity != newCfg.Identity {
		changed = append(changed, "identity")
	}
	if !reflect.DeepEqual(oldCfg.Engine, newCfg.Engine) {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.String("engine.domain", newCfg.Engine.Domain),
			logx.Bool("engine.hosted", newCfg.Engine.Hosted),
		)
		if newCfg.Engine.RefreshRate != nil {
			attrs = append(attrs, logx.Int("engine.refresh_rate", *newCfg.Engine.RefreshRate))
		}
	}
	if oldCfg.Remote != newCfg.Remote {
		changed = append(changed, "remote")
		attrs = append(attrs,
			logx.String("remote.mode", newCfg.Remote.Mode),
			logx.Bool("remote.ssh.password_set", newCfg.Remote.SSH.Password != ""),
		)
	}
	if oldCfg.Index != newCfg.Index {
		changed = append(changed, "index")
		attrs = append(attrs, logx.String("index.channel", newCfg.Index.Channel))
	}
	if oldCfg.Shared.APIURL != newCfg.Shared.APIURL || oldCfg.Shared.Timeout != newCfg.Shared.Timeout ||
		oldCfg.Shared.Token != newCfg.Shared.Token {
		changed = append(changed, "shared")
		attrs = append(attrs, logx.Bool("shared.token_set", strings.TrimSpace(newCfg.Shared.Token) != ""))
	}
	if oldCfg.Notify != newCfg.Notify {
		changed = append(changed, "notify")
		attrs = append(attrs,
			logx.Int("notify.rate_per_sec", newCfg.Notify.RatePerSec),
			logx.Bool("notify.telegram", newCfg.Notify.Telegram.Enabled),
		)
	}
	if oldCfg.Status != newCfg.Status {
		changed = append(changed, "status")
		attrs = append(attrs,
			logx.Bool("status.enabled", newCfg.Status.Enabled),
			logx.String("status.addr", newCfg.Status.Addr),
			logx.Bool("status.token_set", newCfg.Status.Token != ""),
		)
	}
	return changed, attrs
}

// RestartRequired reports sections whose change only takes effect after a
// process restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "storage", "remote", "identity", "index", "shared":
			out = append(out, s)
		}
	}
	return out
}
