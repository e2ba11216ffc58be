package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"ideinfo/internal/assets"
	"ideinfo/internal/eventbus"
	"ideinfo/internal/notifier"
	"ideinfo/internal/pkgindex"
	"ideinfo/internal/provision"
	"ideinfo/internal/remote"
	"ideinfo/internal/schedule"
	"ideinfo/internal/settings"
	"ideinfo/internal/sharedapi"
	logx "ideinfo/pkg/logx"
)

const (
	DefaultInterval    = 30
	DefaultLatestEvery = 24 * time.Hour
	DefaultProtocol    = "https:"
	DefaultInstallDir  = "~/bin/"

	// budgetSlack is added to the interval to form the probe's time budget.
	budgetSlack = 2

	schedPoll   = "poll"
	schedLatest = "latest-version"
	bannerKey   = "update"
)

// SharedAPI is the project lookup SharedStatusSync needs.
type SharedAPI interface {
	Project(ctx context.Context, projectID string) (sharedapi.Project, error)
}

type Config struct {
	UserID    string
	ClientID  string // random per process when empty
	ProjectID string

	// Domain is the workspace domain; a leading "ide." is stripped.
	Domain     string
	Hosted     bool
	Protocol   string
	InstallDir string

	// LatestEvery is the period of the package index refresh. Default 24h.
	LatestEvery time.Duration
}

type Deps struct {
	Exec     remote.Executor
	Settings *settings.Store
	Surface  notifier.Surface
	Widget   Widget
	Index    pkgindex.Index
	Shared   SharedAPI
	// Provisioner installs Scripts. Nil skips provisioning.
	Provisioner *provision.Provisioner
	// Scripts defaults to provision.DefaultScripts(InstallDir).
	Scripts  []provision.Spec
	Registry prometheus.Registerer
	Log      logx.Logger
	Now      func() time.Time
}

// Engine owns Stats, version state and poll state for one workspace.
type Engine struct {
	cfg      Config
	domain   string
	exec     remote.Executor
	settings *settings.Store
	bus      eventbus.Bus
	surface  notifier.Surface
	widget   Widget
	index    pkgindex.Index
	shared   SharedAPI
	prov     *provision.Provisioner
	scripts  []provision.Spec
	probe    provision.Spec
	sched    *schedule.Service
	metrics  *metrics
	log      logx.Logger
	now      func() time.Time

	// poll admission gate
	lockMu  sync.Mutex
	locked  bool
	polling *pollScheduler

	version *reconciler

	mu          sync.RWMutex
	stats       *Stats
	lastPoll    time.Time
	lastOutcome Outcome
	visible     bool

	runMu       sync.Mutex
	running     bool
	stopped     bool // set by Stop until the next Start
	ctx         context.Context
	watchCancel context.CancelFunc
	wg          *sync.WaitGroup // replaced on Start; Stop waits on the old one
}

func New(cfg Config, d Deps) (*Engine, error) {
	if d.Exec == nil {
		return nil, errors.New("engine: executor required")
	}
	if d.Settings == nil {
		return nil, errors.New("engine: settings required")
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		cfg.ClientID = uuid.NewString()
	}
	if cfg.Protocol == "" {
		cfg.Protocol = DefaultProtocol
	}
	if cfg.InstallDir == "" {
		cfg.InstallDir = DefaultInstallDir
	}
	if cfg.LatestEvery <= 0 {
		cfg.LatestEvery = DefaultLatestEvery
	}
	if d.Widget == nil {
		d.Widget = nopWidget{}
	}
	if d.Surface == nil {
		d.Surface = notifier.Discard{}
	}
	if d.Index == nil {
		d.Index = pkgindex.None{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Scripts == nil {
		d.Scripts = provision.DefaultScripts(cfg.InstallDir)
	}
	log := d.Log.With(logx.Component("engine"))

	e := &Engine{
		cfg:      cfg,
		domain:   NormalizeDomain(cfg.Domain),
		exec:     d.Exec,
		settings: d.Settings,
		bus:      d.Settings.Bus(),
		surface:  d.Surface,
		widget:   d.Widget,
		index:    d.Index,
		shared:   d.Shared,
		prov:     d.Provisioner,
		scripts:  d.Scripts,
		sched:    schedule.New(log.With(logx.Component("schedule"))),
		metrics:  newMetrics(d.Registry),
		log:      log,
		now:      d.Now,
		ctx:      context.Background(),
		wg:       &sync.WaitGroup{},
	}
	e.probe = probeSpec(d.Scripts, cfg.InstallDir)
	e.polling = &pollScheduler{e: e, interval: DefaultInterval}
	e.version = &reconciler{e: e}
	if e.prov != nil {
		e.prov.SetObserver(e.metrics.observeProvision)
	}
	return e, nil
}

func probeSpec(specs []provision.Spec, dir string) provision.Spec {
	for _, s := range specs {
		if s.Name == assets.ProbeName {
			return s
		}
	}
	return provision.Spec{
		Name:        assets.ProbeName,
		Path:        assets.Join(dir, assets.ProbeName),
		RevisionKey: settings.InfoRevision,
	}
}

// NormalizeDomain drops a leading "ide." label: "ide.cs50.io" -> "cs50.io".
func NormalizeDomain(d string) string {
	return strings.TrimPrefix(strings.TrimSpace(d), "ide.")
}

func (e *Engine) Domain() string { return e.domain }

// Fingerprint identifies this client session to the probe.
func (e *Engine) Fingerprint() string { return e.cfg.UserID + "-" + e.cfg.ClientID }

// Start provisions the scripts, renders the widget, runs the first poll and
// starts both timers. It is a no-op while running.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	if e.running {
		e.runMu.Unlock()
		return nil
	}
	e.running = true
	if e.stopped {
		e.wg = &sync.WaitGroup{}
		e.stopped = false
	}
	e.ctx = context.WithoutCancel(ctx)
	wctx, cancel := context.WithCancel(ctx)
	e.watchCancel = cancel
	e.runMu.Unlock()

	e.version.loadCached(ctx)
	e.setVisible(true)
	e.version.render()

	// Failures are already on the error surface; polling still starts so a
	// later manual fix is picked up.
	_ = e.Provision(ctx)

	e.polling.load(ctx)
	e.sched.Start(e.ctx)

	ch, unsub := e.polling.subscribe()
	if !e.track(func() { e.polling.watch(wctx, ch, unsub) }) {
		unsub()
	}
	e.track(func() { _, _ = e.polling.TriggerNow(e.ctx) })
	e.polling.Start()
	e.RefreshLatest(ctx)

	e.log.Info("engine started",
		logx.String("domain", e.domain),
		logx.String("fingerprint", e.Fingerprint()),
		logx.Int("interval", e.polling.Interval()),
		logx.Bool("hosted", e.cfg.Hosted),
	)
	return nil
}

// Stop is the unload path: timers stop, the widget hides and in-memory state
// resets. Persisted settings survive. A probe already in flight still
// completes; Stop waits for it until ctx expires.
func (e *Engine) Stop(ctx context.Context) {
	e.runMu.Lock()
	if !e.running {
		e.runMu.Unlock()
		return
	}
	e.running = false
	e.stopped = true
	wg := e.wg
	cancel := e.watchCancel
	e.watchCancel = nil
	e.runMu.Unlock()

	e.polling.Stop()
	e.sched.Remove(schedLatest)
	e.sched.Stop(ctx)
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		e.log.Warn("engine stop: in-flight work did not finish", logx.Err(ctx.Err()))
	}
	// An HTTP refresh racing Stop may have re-armed the timer.
	e.sched.Remove(schedLatest)

	e.setVisible(false)
	e.mu.Lock()
	e.stats = nil
	e.lastOutcome = ""
	e.mu.Unlock()
	e.version.reset()
	e.polling.reset()
	e.log.Info("engine stopped")
}

// enter registers work that Stop waits for. It reports false once Stop has
// begun, and the caller must then do nothing; otherwise the caller calls
// Done on the returned group when finished.
func (e *Engine) enter() (*sync.WaitGroup, bool) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.stopped {
		return nil, false
	}
	e.wg.Add(1)
	return e.wg, true
}

// track runs fn on its own goroutine under enter.
func (e *Engine) track(fn func()) bool {
	wg, ok := e.enter()
	if !ok {
		return false
	}
	go func() {
		defer wg.Done()
		fn()
	}()
	return true
}

// Provision ensures every script is installed at its current revision.
func (e *Engine) Provision(ctx context.Context) error {
	if e.prov == nil {
		return nil
	}
	return e.prov.EnsureAll(ctx, e.scripts)
}

func (e *Engine) Running() bool {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.running
}

// ShowVersion and HideVersion toggle the version widget.
func (e *Engine) ShowVersion() { e.setVisible(true) }
func (e *Engine) HideVersion() { e.setVisible(false) }

func (e *Engine) setVisible(v bool) {
	e.mu.Lock()
	e.visible = v
	e.mu.Unlock()
	e.widget.SetVisible(v)
}

// Stats returns the last parsed probe result, nil before the first success.
func (e *Engine) Stats() *Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// HasLoaded reports whether a probe has succeeded at least once.
func (e *Engine) HasLoaded() bool { return e.Stats() != nil }

// Host is the last known web server host, "" when unknown.
func (e *Engine) Host() string {
	h, _ := e.Stats().Host()
	return h
}

// Snapshot is a read-only view for the status surface and the CLI.
type Snapshot struct {
	Running     bool            `json:"running"`
	Visible     bool            `json:"visible"`
	Domain      string          `json:"domain"`
	Fingerprint string          `json:"fingerprint"`
	Interval    int             `json:"interval"`
	Polling     bool            `json:"polling"`
	LastPoll    time.Time       `json:"last_poll,omitempty"`
	LastOutcome Outcome         `json:"last_outcome,omitempty"`
	HasLoaded   bool            `json:"has_loaded"`
	Stats       map[string]any  `json:"stats,omitempty"`
	Version     VersionState    `json:"version"`
	View        View            `json:"view"`
	CanPreview  bool            `json:"can_preview"`
	Schedules   []schedule.Info `json:"schedules"`
}

func (e *Engine) Snapshot(ctx context.Context) Snapshot {
	e.mu.RLock()
	st := e.stats
	s := Snapshot{
		Visible:     e.visible,
		LastPoll:    e.lastPoll,
		LastOutcome: e.lastOutcome,
	}
	e.mu.RUnlock()

	vs := e.version.State()
	s.Running = e.Running()
	s.Domain = e.domain
	s.Fingerprint = e.Fingerprint()
	s.Interval = e.polling.Interval()
	s.Polling = e.isLocked()
	s.HasLoaded = st != nil
	s.Stats = st.Redacted()
	s.Version = vs
	s.View = Evaluate(vs.Current, vs.Latest)
	s.CanPreview = e.CanPreview(ctx)
	s.Schedules = e.sched.Snapshot()
	return s
}

func (e *Engine) publish(topic string, data any) {
	e.bus.Publish(eventbus.Event{Type: topic, Time: e.now(), Data: data})
}
