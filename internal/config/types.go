package config

// Config is the whole ideinfo configuration file.
//
// Durations are Go duration strings ("500ms", "10s", "24h").
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Identity IdentityConfig `json:"identity"`
	Engine   EngineConfig   `json:"engine"`
	Remote   RemoteConfig   `json:"remote"`
	Index    IndexConfig    `json:"index"`
	Shared   SharedConfig   `json:"shared"`
	Notify   NotifyConfig   `json:"notify"`
	Status   StatusConfig   `json:"status"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the settings backend.
//
//	"storage": { "driver": "sqlite", "path": "./ideinfo.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// IdentityConfig names the connected session. The probe fingerprint is
// user_id + "-" + client_id; an empty client_id gets a random one per process.
type IdentityConfig struct {
	UserID    string `json:"user_id"`
	ClientID  string `json:"client_id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
}

type EngineConfig struct {
	// Domain is passed to the probe; a leading "ide." label is stripped.
	Domain string `json:"domain"`
	// Hosted enables the shared-workspace visibility sync.
	Hosted bool `json:"hosted"`
	// Protocol prefixes generated web server links. Default "https:".
	Protocol string `json:"protocol,omitempty"`
	// InstallDir holds the probe and update scripts. Default "~/bin/".
	InstallDir string `json:"install_dir,omitempty"`
	// RefreshRate, when set, is written into the refresh-rate setting on load
	// and on every reload. Values below 1 are coerced to 30 by the scheduler.
	RefreshRate *int `json:"refresh_rate,omitempty"`
}

type RemoteConfig struct {
	Mode string    `json:"mode"` // "local" (default) or "ssh"
	SSH  SSHConfig `json:"ssh,omitempty"`
}

type SSHConfig struct {
	Addr                  string `json:"addr"`
	User                  string `json:"user"`
	KeyFile               string `json:"key_file,omitempty"`
	Password              string `json:"password,omitempty"` // supports ${ENV}
	KnownHosts            string `json:"known_hosts,omitempty"`
	InsecureIgnoreHostKey bool   `json:"insecure_ignore_host_key,omitempty"`
	DialTimeout           string `json:"dial_timeout,omitempty"`
}

// IndexConfig points at the package index used to learn the latest version.
//
// Channels:
//   - mirror:  plain text with "Version: <n>" lines at URL
//   - listing: XML bucket listing at URL, filtered by Prefix, keys matched by Pattern
//   - s3:      ListObjectsV2 against S3.Bucket (anonymous), keys matched by Pattern
//   - none:    never query; only the cached value is used
type IndexConfig struct {
	Channel  string   `json:"channel"`
	URL      string   `json:"url,omitempty"`
	Prefix   string   `json:"prefix,omitempty"`
	Pattern  string   `json:"pattern,omitempty"`
	Interval string   `json:"interval,omitempty"` // default 24h
	Timeout  string   `json:"timeout,omitempty"`
	S3       S3Config `json:"s3,omitempty"`
}

type S3Config struct {
	Bucket   string `json:"bucket"`
	Region   string `json:"region,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

type SharedConfig struct {
	APIURL  string `json:"api_url,omitempty"`
	Token   string `json:"token,omitempty"` // supports ${ENV}
	Timeout string `json:"timeout,omitempty"`
}

// NotifyConfig controls the async delivery pipeline behind banners, alerts
// and errors. Log delivery is always on; Telegram is optional.
type NotifyConfig struct {
	Workers     int            `json:"workers,omitempty"`
	QueueSize   int            `json:"queue_size,omitempty"`
	RatePerSec  int            `json:"rate_per_sec,omitempty"`
	RetryMax    int            `json:"retry_max,omitempty"`
	DedupWindow string         `json:"dedup_window,omitempty"`
	Telegram    TelegramConfig `json:"telegram,omitempty"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	Token    string `json:"token,omitempty"` // supports ${ENV}
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
}

// StatusConfig controls the local status HTTP server.
//
// Prefer a loopback addr. A non-loopback bind needs a token or allow_insecure.
type StatusConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default 127.0.0.1:8050
	Token         string `json:"token,omitempty"` // bearer token, never logged
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}

const (
	DefaultRefreshRate = 30
	DefaultInstallDir  = "~/bin/"
	DefaultProtocol    = "https:"
	DefaultStatusAddr  = "127.0.0.1:8050"
	DefaultIndexEvery  = "24h"
)
