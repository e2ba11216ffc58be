// Package app wires configuration, storage, the executor, the notification
// pipeline, the engine and the status server into one daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"ideinfo/internal/config"
	"ideinfo/internal/engine"
	"ideinfo/internal/eventbus"
	"ideinfo/internal/fsys"
	"ideinfo/internal/httpfetch"
	"ideinfo/internal/notifier"
	"ideinfo/internal/pkgindex"
	"ideinfo/internal/provision"
	"ideinfo/internal/remote"
	rtsup "ideinfo/internal/runtime/supervisor"
	"ideinfo/internal/settings"
	"ideinfo/internal/sharedapi"
	"ideinfo/internal/status"
	"ideinfo/internal/storage"
	logx "ideinfo/pkg/logx"
)

type Options struct {
	ConfigPath string
	EnvFile    string
	// Log replaces the configured logging service (tests, one-shot commands).
	Log logx.Logger
}

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	store    storage.Store
	bus      eventbus.Bus
	settings *settings.Store
	exec     remote.Executor
	closers  []io.Closer
	notif    *notifier.Service
	widget   *status.Widget
	engine   *engine.Engine
	status   *status.Service
	registry *prometheus.Registry

	mu      sync.Mutex
	sup     *rtsup.Supervisor
	started bool
	closed  bool
}

// New loads the config and builds every component without starting any of
// them. Call Close when Start is never called.
func New(ctx context.Context, opts Options) (*App, error) {
	if err := config.LoadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}
	cfgm := config.NewManager(opts.ConfigPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", opts.ConfigPath, err)
	}

	a := &App{cfgm: cfgm}
	if opts.Log.IsZero() {
		a.logs, a.log = logx.New(mapLogging(cfg.Logging))
	} else {
		a.log = opts.Log
	}
	cfgm.SetLogger(a.log.With(logx.Component("config")))

	if err := a.build(ctx, cfg); err != nil {
		a.closeResources()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config) error {
	sc, err := mapStorageConfig(cfg.Storage)
	if err != nil {
		return err
	}
	a.store, err = storage.Open(sc, a.log.With(logx.Component("storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.bus = eventbus.New()
	a.settings = settings.New(a.store, a.bus, a.log.With(logx.Component("settings")))
	if err := a.applyRefreshRate(ctx, cfg); err != nil {
		return err
	}

	var fs fsys.FS
	switch strings.ToLower(strings.TrimSpace(cfg.Remote.Mode)) {
	case "ssh":
		sshCfg, err := mapSSHConfig(cfg.Remote.SSH)
		if err != nil {
			return err
		}
		s, err := remote.NewSSH(sshCfg, a.log.With(logx.Component("ssh")))
		if err != nil {
			return fmt.Errorf("ssh executor: %w", err)
		}
		a.closers = append(a.closers, s)
		a.exec = s
		fs = fsys.NewRemote(s)
	default:
		a.exec = remote.NewLocal(a.log.With(logx.Component("exec")))
		fs = fsys.NewOS()
	}

	sinks := []notifier.Sink{notifier.LogSink{Log: a.log.With(logx.Component("notice"))}}
	if tg := cfg.Notify.Telegram; tg.Enabled {
		t, err := notifier.NewTelegram(notifier.TelegramConfig{Token: tg.Token, ChatID: tg.ChatID, ThreadID: tg.ThreadID})
		if err != nil {
			return fmt.Errorf("telegram sink: %w", err)
		}
		sinks = append(sinks, t)
	}
	a.notif = notifier.New(mapNotifierConfig(cfg.Notify), a.log.With(logx.Component("notifier")), a.bus, sinks...)

	idx, err := pkgindex.Open(ctx, cfg.Index,
		httpfetch.New(mapFetchOptions(cfg.Index.Timeout, ""), a.log.With(logx.Component("index"))))
	if err != nil {
		return fmt.Errorf("package index: %w", err)
	}

	var shared engine.SharedAPI
	if cfg.Engine.Hosted && strings.TrimSpace(cfg.Shared.APIURL) != "" {
		shared = sharedapi.New(cfg.Shared.APIURL,
			httpfetch.New(mapFetchOptions(cfg.Shared.Timeout, cfg.Shared.Token), a.log.With(logx.Component("shared"))))
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a.widget = status.NewWidget(a.bus)
	ecfg := mapEngineConfig(cfg)
	a.engine, err = engine.New(ecfg, engine.Deps{
		Exec:        a.exec,
		Settings:    a.settings,
		Surface:     a.notif,
		Widget:      a.widget,
		Index:       idx,
		Shared:      shared,
		Provisioner: provision.New(fs, a.settings, a.notif, a.log.With(logx.Component("provision"))),
		Registry:    a.registry,
		Log:         a.log,
	})
	if err != nil {
		return err
	}

	a.status = status.New(mapStatusConfig(cfg.Status), status.Deps{
		Engine:   a.engine,
		Notices:  a.notif,
		Widget:   a.widget,
		Bus:      a.bus,
		Gatherer: a.registry,
	}, a.log)
	return nil
}

// applyRefreshRate writes engine.refresh_rate into the settings store. The
// engine's settings watcher does the rest.
func (a *App) applyRefreshRate(ctx context.Context, cfg *config.Config) error {
	if cfg.Engine.RefreshRate == nil {
		return nil
	}
	want := *cfg.Engine.RefreshRate
	if cur, ok := a.settings.LookupInt(ctx, settings.RefreshRate); ok && cur == want {
		return nil
	}
	if err := a.settings.SetInt(ctx, settings.RefreshRate, want); err != nil {
		return fmt.Errorf("store refresh rate: %w", err)
	}
	return nil
}

func (a *App) Config() *config.Config      { return a.cfgm.Get() }
func (a *App) Log() logx.Logger            { return a.log }
func (a *App) Engine() *engine.Engine      { return a.engine }
func (a *App) Widget() *status.Widget      { return a.widget }
func (a *App) Notifier() *notifier.Service { return a.notif }
func (a *App) Settings() *settings.Store   { return a.settings }
func (a *App) StatusAddr() string          { return a.status.Addr() }

// Err returns the first error from a supervised goroutine.
func (a *App) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the daemon: notifier workers, the engine, the status server,
// config hot reload and the systemd watchdog.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return nil
	}
	if a.closed {
		a.mu.Unlock()
		return errors.New("app is closed")
	}
	a.started = true
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log.With(logx.Component("supervisor"))))
	sup := a.sup
	a.mu.Unlock()

	a.cfgm.SetValidator(a.validateReload)

	runCtx := sup.Context()
	a.notif.Start(runCtx)
	if err := a.engine.Start(runCtx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	cfg := a.cfgm.Get()
	if cfg.Status.Enabled {
		a.status.Start(runCtx)
	}

	if a.log.Enabled(logx.LevelDebug) {
		ch, unsub := a.bus.Subscribe(64)
		sup.Go0("eventbus.log", func(ctx context.Context) {
			defer unsub()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-ch:
					if !ok {
						return
					}
					a.log.Debug("event", logx.String("type", ev.Type))
				}
			}
		})
	}

	// Config reload fan-out. Bursts coalesce so only the newest config is
	// applied once the pipeline is free.
	updates := a.cfgm.Subscribe(4)
	sup.Go0("config.reload", func(ctx context.Context) {
		defer a.cfgm.Unsubscribe(updates)
		current := cfg
		for {
			select {
			case <-ctx.Done():
				return
			case next, ok := <-updates:
				if !ok {
					return
				}
				for drained := false; !drained; {
					select {
					case n, ok := <-updates:
						if !ok {
							return
						}
						next = n
					default:
						drained = true
					}
				}
				a.applyConfig(ctx, current, next)
				current = next
			}
		}
	})
	sup.Go("config.watch", a.cfgm.Watch)
	sup.Go("systemd.watchdog", func(ctx context.Context) error { return watchdog(ctx, a.log) })

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("started",
		logx.String("config", a.cfgm.Path()),
		logx.String("remote", remoteMode(cfg)),
		logx.String("index", cfg.Index.Channel),
		logx.Bool("status", cfg.Status.Enabled),
	)
	return nil
}

// validateReload rejects reloads that cannot be applied at all. Sections
// that need a restart are accepted and only warned about.
func (a *App) validateReload(_ context.Context, cfg *config.Config) error {
	if _, err := mapStorageConfig(cfg.Storage); err != nil {
		return err
	}
	if cfg.Index.Pattern != "" {
		if _, err := pkgindex.CompilePattern(cfg.Index.Pattern); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	changed, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(changed) == 0 {
		return
	}
	a.log.Info("config reloaded", append([]logx.Field{logx.Strings("changed", changed)}, attrs...)...)

	restart := config.RestartRequired(changed)
	for _, section := range changed {
		switch section {
		case "logging":
			if a.logs != nil {
				a.logs.Apply(mapLogging(newCfg.Logging))
			}
		case "notify":
			a.notif.Apply(mapNotifierConfig(newCfg.Notify))
			if oldCfg.Notify.Telegram != newCfg.Notify.Telegram {
				restart = append(restart, "notify.telegram")
			}
		case "status":
			a.status.Reconfigure(ctx, mapStatusConfig(newCfg.Status))
		case "engine":
			if err := a.applyRefreshRate(ctx, newCfg); err != nil {
				a.log.Warn("refresh rate not applied", logx.Err(err))
			}
			o, n := oldCfg.Engine, newCfg.Engine
			o.RefreshRate, n.RefreshRate = nil, nil
			if o != n {
				restart = append(restart, "engine")
			}
		}
	}
	if len(restart) > 0 {
		a.log.Warn("config change needs a restart to take effect", logx.Strings("sections", restart))
	}
}

// Stop shuts down in reverse dependency order. Each step is bounded so one
// stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		a.closeResources()
		return nil
	}
	a.started = false
	sup := a.sup
	a.mu.Unlock()

	if reason == "" {
		reason = StopUnknown
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	step := func(name string, max time.Duration, fn func(context.Context)) {
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped (deadline)", logx.String("name", name))
			return
		}
		start := time.Now()
		sctx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		fn(sctx)
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	}

	step("engine", 4*time.Second, a.engine.Stop)
	step("status", time.Second, a.status.Stop)
	step("notifier", 2*time.Second, a.notif.Stop)
	step("supervisor", 2*time.Second, func(c context.Context) {
		if err := sup.Stop(c); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("supervised goroutines", logx.Err(err))
		}
	})
	a.log.Info("stopped")
	a.closeResources()
	return nil
}

// Close releases storage and the executor connection. Stop calls it.
func (a *App) Close() { a.closeResources() }

func (a *App) closeResources() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.log.Warn("close failed", logx.Err(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

func remoteMode(cfg *config.Config) string {
	if m := strings.ToLower(strings.TrimSpace(cfg.Remote.Mode)); m != "" {
		return m
	}
	return "local"
}
