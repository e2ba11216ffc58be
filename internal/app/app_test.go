package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ideinfo/internal/config"
	"ideinfo/internal/settings"
	logx "ideinfo/pkg/logx"
)

const baseConfig = `{
  "identity": {"user_id": "42", "client_id": "7"},
  "engine": {"domain": "ide.cs50.io", "refresh_rate": 15},
  "index": {"channel": "none"}
}`

func newTestApp(t *testing.T, body string) *App {
	t.Helper()
	p := filepath.Join(t.TempDir(), "ideinfo.json")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	a, err := New(context.Background(), Options{ConfigPath: p, Log: logx.Nop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func TestNewWiresEngine(t *testing.T) {
	a := newTestApp(t, baseConfig)
	ctx := context.Background()

	if got := a.Settings().Int(ctx, settings.RefreshRate); got != 15 {
		t.Fatalf("refresh rate setting=%d, want 15", got)
	}
	if a.Engine().Domain() != "cs50.io" {
		t.Fatalf("domain=%q", a.Engine().Domain())
	}
	if a.Engine().Fingerprint() != "42-7" {
		t.Fatalf("fingerprint=%q", a.Engine().Fingerprint())
	}
	if a.Widget().State().Caption != "n/a" {
		t.Fatalf("caption=%q", a.Widget().State().Caption)
	}
	if a.StatusAddr() != "" {
		t.Fatalf("status must not listen before Start")
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(p, []byte(`{"engine": {"domain": "x"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(context.Background(), Options{ConfigPath: p, Log: logx.Nop()}); err == nil {
		t.Fatalf("missing user_id must fail")
	}
}

func TestApplyConfigRefreshRate(t *testing.T) {
	a := newTestApp(t, baseConfig)
	ctx := context.Background()

	oldCfg := a.Config()
	next := *oldCfg
	rate := 45
	next.Engine.RefreshRate = &rate
	a.applyConfig(ctx, oldCfg, &next)

	if got := a.Settings().Int(ctx, settings.RefreshRate); got != 45 {
		t.Fatalf("refresh rate setting=%d, want 45", got)
	}
}

func TestApplyConfigKeepsUserRefreshRate(t *testing.T) {
	a := newTestApp(t, baseConfig)
	ctx := context.Background()

	// A value chosen at runtime survives reloads that leave refresh_rate alone.
	if err := a.Settings().SetInt(ctx, settings.RefreshRate, 90); err != nil {
		t.Fatal(err)
	}
	oldCfg := a.Config()
	next := *oldCfg
	next.Logging.Level = "debug"
	a.applyConfig(ctx, oldCfg, &next)

	if got := a.Settings().Int(ctx, settings.RefreshRate); got != 90 {
		t.Fatalf("refresh rate setting=%d, want 90", got)
	}
}

func TestMapStorageConfig(t *testing.T) {
	cases := []struct {
		in      config.StorageConfig
		driver  string
		busy    time.Duration
		wantErr bool
	}{
		{in: config.StorageConfig{}, driver: "memory"},
		{in: config.StorageConfig{Driver: "file"}, driver: "file"},
		{in: config.StorageConfig{Driver: "sqlite", Path: "x.db"}, driver: "sqlite", busy: time.Second},
		{in: config.StorageConfig{Driver: "sqlite3", Path: "x.db", BusyTimeout: "3s"}, driver: "sqlite3", busy: 3 * time.Second},
		{in: config.StorageConfig{Driver: "sqlite"}, wantErr: true},
		{in: config.StorageConfig{Driver: "sqlite", Path: "x.db", BusyTimeout: "soon"}, wantErr: true},
		{in: config.StorageConfig{Driver: "redis"}, wantErr: true},
	}
	for _, tc := range cases {
		got, err := mapStorageConfig(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%+v: expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%+v: %v", tc.in, err)
		}
		if got.Driver != tc.driver || got.BusyTimeout != tc.busy {
			t.Fatalf("%+v: got %+v", tc.in, got)
		}
	}
}

func TestMapEngineConfigIndexInterval(t *testing.T) {
	cfg := &config.Config{}
	cfg.Index.Interval = "6h"
	if got := mapEngineConfig(cfg).LatestEvery; got != 6*time.Hour {
		t.Fatalf("LatestEvery=%v", got)
	}
	cfg.Index.Interval = ""
	if got := mapEngineConfig(cfg).LatestEvery; got != 24*time.Hour {
		t.Fatalf("default LatestEvery=%v", got)
	}
}

func TestValidateReloadRejectsBadPattern(t *testing.T) {
	a := newTestApp(t, baseConfig)
	cfg := *a.Config()
	cfg.Index.Pattern = "no-group"
	if err := a.validateReload(context.Background(), &cfg); err == nil {
		t.Fatalf("pattern without a capture group must be rejected")
	}
}

func TestStopWithoutStart(t *testing.T) {
	a := newTestApp(t, baseConfig)
	if err := a.Stop(context.Background(), StopAppStop); err != nil {
		t.Fatal(err)
	}
	if err := a.Start(context.Background()); err == nil {
		t.Fatalf("Start after Stop must fail")
	}
}
