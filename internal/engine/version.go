package engine

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"ideinfo/internal/eventbus"
	"ideinfo/internal/settings"
	logx "ideinfo/pkg/logx"
)

// VersionState is the installed and newest-known version.
type VersionState struct {
	Current           *int      `json:"current"`
	Latest            *int      `json:"latest"`
	LastLatestFetchAt time.Time `json:"last_latest_fetch_at,omitempty"`
}

// View is what the widget shows for a VersionState.
type View struct {
	Caption         string `json:"caption"`
	UpdateAvailable bool   `json:"update_available"`
}

// VersionEvent is the Data of version.changed events.
type VersionEvent struct {
	State VersionState `json:"state"`
	View  View         `json:"view"`
}

// Evaluate renders (current, latest). The update notice is shown only when
// both are known and latest is ahead.
func Evaluate(current, latest *int) View {
	if current == nil {
		return View{Caption: "n/a"}
	}
	return View{
		Caption:         "v" + strconv.Itoa(*current),
		UpdateAvailable: latest != nil && *latest > *current,
	}
}

// UpdateBanner is the text of the update notice.
func UpdateBanner(latest int) string {
	return fmt.Sprintf("A newer version (v%d) is available. Run update50 in a terminal to upgrade.", latest)
}

type rendered struct {
	view   View
	latest int
}

type reconciler struct {
	e *Engine

	mu        sync.Mutex
	current   *int
	latest    *int
	lastFetch time.Time
	pending   []func()
	deferred  bool

	sf singleflight.Group

	renderMu sync.Mutex
	last     *rendered
}

func (r *reconciler) State() VersionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return VersionState{Current: clone(r.current), Latest: clone(r.latest), LastLatestFetchAt: r.lastFetch}
}

func clone(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func (r *reconciler) loadCached(ctx context.Context) {
	if v, ok := r.e.settings.LookupInt(ctx, settings.LatestVersion); ok && v > 0 {
		r.raise(v)
	}
}

// raise moves latest up to v. It never moves it down.
func (r *reconciler) raise(v int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latest != nil && *r.latest >= v {
		return false
	}
	r.latest = &v
	return true
}

func (r *reconciler) reset() {
	r.mu.Lock()
	r.current, r.latest = nil, nil
	r.lastFetch = time.Time{}
	r.pending = nil
	r.deferred = false
	r.mu.Unlock()
	r.renderMu.Lock()
	r.last = nil
	r.renderMu.Unlock()
}

// OnStatsUpdate records the installed version and re-renders. The first
// known version releases continuations queued by WhenCurrentKnown.
func (r *reconciler) OnStatsUpdate(current *int) {
	r.mu.Lock()
	r.current = clone(current)
	var run []func()
	if current != nil {
		run, r.pending = r.pending, nil
	}
	r.mu.Unlock()

	r.render()
	for _, fn := range run {
		r.e.track(fn)
	}
}

// WhenCurrentKnown runs fn once the installed version is known; right away
// if it already is.
func (e *Engine) WhenCurrentKnown(fn func()) {
	r := e.version
	r.mu.Lock()
	if r.current == nil {
		r.pending = append(r.pending, fn)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	fn()
}

// RefreshLatest (re)arms the daily package index check and runs one check
// now. Before the first version is known it only queues itself.
func (e *Engine) RefreshLatest(ctx context.Context) error {
	r := e.version
	r.mu.Lock()
	if r.current == nil {
		if !r.deferred {
			r.deferred = true
			r.pending = append(r.pending, func() {
				if e.Running() {
					_ = e.RefreshLatest(e.ctx)
				}
			})
			e.log.Debug("latest-version refresh deferred until first stats")
		}
		r.mu.Unlock()
		return nil
	}
	r.deferred = false
	r.mu.Unlock()

	if err := e.sched.Every(schedLatest, e.cfg.LatestEvery, func(context.Context) {
		_ = e.version.check(e.ctx)
	}); err != nil {
		e.log.Error("latest-version timer not started", logx.Err(err))
	}
	return r.check(ctx)
}

type lookup struct {
	version int
	found   bool
}

func (r *reconciler) check(ctx context.Context) error {
	e := r.e
	cached := e.settings.Int(ctx, settings.LatestVersion)
	if cached > 0 && r.raise(cached) {
		r.render()
	}

	r.mu.Lock()
	cur, lat := clone(r.current), clone(r.latest)
	r.mu.Unlock()
	if cur == nil {
		return nil
	}
	if lat != nil && *lat > *cur {
		e.metrics.lookups.WithLabelValues("cached").Inc()
		r.render()
		return nil
	}

	watermark := cached
	if lat != nil && *lat > watermark {
		watermark = *lat
	}
	v, err, _ := r.sf.Do("latest", func() (any, error) {
		n, found, err := e.index.Latest(ctx, watermark)
		return lookup{version: n, found: found}, err
	})
	r.mu.Lock()
	r.lastFetch = e.now()
	r.mu.Unlock()
	if err != nil {
		e.metrics.lookups.WithLabelValues("error").Inc()
		e.log.Warn("latest-version lookup failed", logx.Int("watermark", watermark), logx.Err(err))
		return err
	}

	res := v.(lookup)
	if !res.found || !r.raise(res.version) {
		e.metrics.lookups.WithLabelValues("none").Inc()
		e.log.Debug("no newer version published", logx.Int("watermark", watermark))
		return nil
	}
	e.metrics.lookups.WithLabelValues("newer").Inc()
	if err := e.settings.SetInt(ctx, settings.LatestVersion, res.version); err != nil {
		e.log.Warn("persist latest version failed", logx.Err(err))
	}
	e.log.Info("newer version published", logx.Int("latest", res.version), logx.IntPtr("current", cur))
	r.render()
	return nil
}

func (r *reconciler) render() {
	r.renderMu.Lock()
	defer r.renderMu.Unlock()

	st := r.State()
	view := Evaluate(st.Current, st.Latest)
	m := r.e.metrics
	m.setVersion(m.current, st.Current)
	m.setVersion(m.latest, st.Latest)
	if view.UpdateAvailable {
		m.update.Set(1)
	} else {
		m.update.Set(0)
	}

	next := rendered{view: view}
	if st.Latest != nil {
		next.latest = *st.Latest
	}
	if r.last != nil && *r.last == next {
		return
	}
	r.last = &next

	w, s := r.e.widget, r.e.surface
	w.SetCaption(view.Caption)
	if view.UpdateAvailable {
		w.SetStyle(StyleUpdate)
		s.ShowBanner(bannerKey, UpdateBanner(*st.Latest))
	} else {
		w.SetStyle(StyleNormal)
		s.HideBanner(bannerKey)
	}
	r.e.publish(eventbus.TopicVersionChanged, VersionEvent{State: st, View: view})
}

// Version returns the current version state.
func (e *Engine) Version() VersionState { return e.version.State() }

// View returns what the widget currently shows.
func (e *Engine) View() View {
	st := e.version.State()
	return Evaluate(st.Current, st.Latest)
}
