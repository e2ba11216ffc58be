package engine

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"

	"ideinfo/internal/eventbus"
	"ideinfo/internal/fsys"
	"ideinfo/internal/provision"
	"ideinfo/internal/remote"
	"ideinfo/internal/settings"
	"ideinfo/internal/sharedapi"
	"ideinfo/internal/storage"
	logx "ideinfo/pkg/logx"
)

type fakeExec struct {
	mu      sync.Mutex
	calls   []remote.Command
	out     []byte
	err     error
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeExec) set(out string, err error) {
	f.mu.Lock()
	f.out, f.err = []byte(out), err
	f.mu.Unlock()
}

func (f *fakeExec) Exec(ctx context.Context, c remote.Command) (remote.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	out, err, gate, entered := f.out, f.err, f.gate, f.entered
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	return remote.Result{Stdout: out}, err
}

func (f *fakeExec) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeExec) last() remote.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type fakeWidget struct {
	mu      sync.Mutex
	caption string
	visible bool
	style   Style
}

func (w *fakeWidget) SetCaption(c string) { w.mu.Lock(); w.caption = c; w.mu.Unlock() }
func (w *fakeWidget) SetVisible(v bool)   { w.mu.Lock(); w.visible = v; w.mu.Unlock() }
func (w *fakeWidget) SetStyle(s Style)    { w.mu.Lock(); w.style = s; w.mu.Unlock() }

func (w *fakeWidget) get() (string, bool, Style) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.caption, w.visible, w.style
}

type fakeSurface struct {
	mu      sync.Mutex
	banners map[string]string
	errors  []string
	alerts  []string
}

func newSurface() *fakeSurface { return &fakeSurface{banners: map[string]string{}} }

func (s *fakeSurface) ShowBanner(k, t string) { s.mu.Lock(); s.banners[k] = t; s.mu.Unlock() }
func (s *fakeSurface) HideBanner(k string)    { s.mu.Lock(); delete(s.banners, k); s.mu.Unlock() }
func (s *fakeSurface) Alert(t, x string)      { s.mu.Lock(); s.alerts = append(s.alerts, t); s.mu.Unlock() }
func (s *fakeSurface) Error(t string)         { s.mu.Lock(); s.errors = append(s.errors, t); s.mu.Unlock() }

func (s *fakeSurface) banner() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.banners[bannerKey]
	return t, ok
}

func (s *fakeSurface) errs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.errors)
}

type fakeIndex struct {
	mu      sync.Mutex
	results []lookup
	errs    []error
	calls   int
	marks   []int
}

func (f *fakeIndex) Latest(_ context.Context, watermark int) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	f.marks = append(f.marks, watermark)
	if i < len(f.errs) && f.errs[i] != nil {
		return 0, false, f.errs[i]
	}
	if i < len(f.results) {
		return f.results[i].version, f.results[i].found, nil
	}
	return 0, false, nil
}

type fakeShared struct {
	p   sharedapi.Project
	err error
}

func (f fakeShared) Project(context.Context, string) (sharedapi.Project, error) { return f.p, f.err }

type harness struct {
	e      *Engine
	exec   *fakeExec
	widget *fakeWidget
	surf   *fakeSurface
	st     *settings.Store
	fs     afero.Fs
	reg    *prometheus.Registry
}

func newHarness(t *testing.T, cfg Config, mutate func(*Deps)) *harness {
	t.Helper()
	if cfg.UserID == "" {
		cfg.UserID = "42"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "7"
	}
	if cfg.Domain == "" {
		cfg.Domain = "ide.cs50.io"
	}
	h := &harness{
		exec:   &fakeExec{out: []byte(`{"host":"cs50.io","user":"u","passwd":"p","version":5}`)},
		widget: &fakeWidget{},
		surf:   newSurface(),
		fs:     afero.NewMemMapFs(),
		reg:    prometheus.NewRegistry(),
	}
	h.st = settings.New(storage.NewMemory(), eventbus.New(), logx.Nop())
	prov := provision.New(fsys.NewLocal(h.fs, "/home/u"), h.st, h.surf, logx.Nop())
	d := Deps{
		Exec:        h.exec,
		Settings:    h.st,
		Surface:     h.surf,
		Widget:      h.widget,
		Provisioner: prov,
		Registry:    h.reg,
		Log:         logx.Nop(),
	}
	if mutate != nil {
		mutate(&d)
	}
	e, err := New(cfg, d)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	h.e = e
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.e.Stop(ctx)
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestFirstLoadProvisionsAndPolls(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.start(t)

	waitFor(t, "caption v5", func() bool { c, _, _ := h.widget.get(); return c == "v5" })

	ok, _ := afero.Exists(h.fs, "/home/u/bin/.info50")
	if !ok {
		t.Fatalf(".info50 not written")
	}
	if got := h.st.Int(context.Background(), settings.InfoRevision); got != 1 {
		t.Fatalf("info revision=%d want 1", got)
	}
	cmd := h.exec.last()
	if want := []string{"cs50.io", "42-7", "32"}; !slices.Equal(cmd.Args, want) {
		t.Fatalf("args=%v want %v", cmd.Args, want)
	}
	if cmd.Path != "./.info50" || cmd.Dir != "~/bin/" || cmd.Timeout != 32*time.Second {
		t.Fatalf("cmd=%+v", cmd)
	}
	if _, shown := h.surf.banner(); shown {
		t.Fatalf("banner shown with unknown latest")
	}
	if _, visible, style := h.widget.get(); !visible || style != StyleNormal {
		t.Fatalf("visible=%v style=%s", visible, style)
	}
	if h.e.Host() != "cs50.io" || !h.e.HasLoaded() {
		t.Fatalf("host=%q loaded=%v", h.e.Host(), h.e.HasLoaded())
	}
}

func TestCachedLatestDrivesBanner(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()
	if err := h.st.SetInt(ctx, settings.LatestVersion, 5); err != nil {
		t.Fatal(err)
	}
	h.exec.set(`{"host":"cs50.io","version":4}`, nil)
	h.start(t)

	waitFor(t, "banner", func() bool { _, ok := h.surf.banner(); return ok })
	if c, _, style := h.widget.get(); c != "v4" || style != StyleUpdate {
		t.Fatalf("caption=%q style=%s", c, style)
	}

	h.exec.set(`{"host":"cs50.io","version":5}`, nil)
	if out, err := h.e.TriggerNow(ctx); out != OutcomeOK || err != nil {
		t.Fatalf("poll: %s %v", out, err)
	}
	if _, ok := h.surf.banner(); ok {
		t.Fatalf("banner still shown at current == latest")
	}
	if c, _, _ := h.widget.get(); c != "v5" {
		t.Fatalf("caption=%q", c)
	}
	if v := testutil.ToFloat64(h.e.metrics.update); v != 0 {
		t.Fatalf("update gauge=%v", v)
	}
}

func TestPermissionDeniedResetsRevision(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()
	if _, err := h.e.Poll(ctx); err != nil {
		t.Fatalf("first poll: %v", err)
	}
	before := h.e.Stats()
	_ = h.st.SetInt(ctx, settings.InfoRevision, 1)

	h.exec.set("", &remote.Error{Code: remote.CodePermissionDenied, Op: "exec ./.info50", ExitCode: 126})
	out, err := h.e.Poll(ctx)
	if out != OutcomeProvisioning || err == nil {
		t.Fatalf("out=%s err=%v", out, err)
	}
	if got := h.st.Int(ctx, settings.InfoRevision); got != 0 {
		t.Fatalf("revision=%d want 0", got)
	}
	errs := h.surf.errs()
	if len(errs) != 1 || !strings.Contains(errs[0], "chmod 755 ~/bin/") || !strings.Contains(errs[0], "~/bin/.info50") {
		t.Fatalf("errors=%q", errs)
	}
	if h.e.Stats() != before {
		t.Fatalf("stats replaced on failure")
	}
	if h.e.isLocked() {
		t.Fatalf("lock leaked")
	}
}

func TestNotFoundIsProvisioningProblem(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.exec.set("", &remote.Error{Code: remote.CodeNotFound, ExitCode: 127})
	if out, _ := h.e.Poll(context.Background()); out != OutcomeProvisioning {
		t.Fatalf("out=%s", out)
	}
}

func TestDisconnectIsSilent(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.exec.set("", &remote.Error{Code: remote.CodeDisconnected})
	out, err := h.e.Poll(context.Background())
	if out != OutcomeDisconnected || err != nil {
		t.Fatalf("out=%s err=%v", out, err)
	}
	if len(h.surf.errs()) != 0 {
		t.Fatalf("disconnect surfaced: %q", h.surf.errs())
	}
	if h.e.isLocked() {
		t.Fatalf("lock leaked")
	}
}

func TestGenericFailureClearsVersion(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()
	_, _ = h.e.Poll(ctx)
	if c, _, _ := h.widget.get(); c != "v5" {
		t.Fatalf("caption=%q", c)
	}
	h.exec.set("", &remote.Error{Code: remote.CodeFailed, ExitCode: 1})
	if out, err := h.e.Poll(ctx); out != OutcomeFailed || err == nil {
		t.Fatalf("out=%s err=%v", out, err)
	}
	if c, _, _ := h.widget.get(); c != "n/a" {
		t.Fatalf("caption=%q want n/a", c)
	}
	if h.e.Version().Current != nil {
		t.Fatalf("current not cleared")
	}
	if len(h.surf.errs()) != 0 {
		t.Fatalf("generic failure surfaced to user")
	}
}

func TestParseFailureKeepsStats(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()
	_, _ = h.e.Poll(ctx)
	prev := h.e.Stats()

	for _, out := range []string{
		`not json`,
		`[1,2]`,
		`{"host":"x"} {"host":"y"}`,
		`{"host":"x","version":5}}`,
		`{"host":"x","version":5}]`,
		`{"host":`,
		``,
	} {
		h.exec.set(out, nil)
		res, err := h.e.Poll(ctx)
		if res != OutcomeParse || !IsParseError(err) {
			t.Fatalf("%q: out=%s err=%v", out, res, err)
		}
		if h.e.Stats() != prev {
			t.Fatalf("%q: stats replaced", out)
		}
	}
	if c, _, _ := h.widget.get(); c != "v5" {
		t.Fatalf("caption=%q", c)
	}
}

func TestNonNumericVersion(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.exec.set(`{"version": "abc", "host": "x"}`, nil)
	if out, err := h.e.Poll(context.Background()); out != OutcomeOK || err != nil {
		t.Fatalf("out=%s err=%v", out, err)
	}
	if h.e.Version().Current != nil {
		t.Fatalf("current should be unknown")
	}
	if c, _, _ := h.widget.get(); c != "n/a" {
		t.Fatalf("caption=%q", c)
	}
	if h.e.Host() != "x" {
		t.Fatalf("stats not stored")
	}
}

func TestSecondPollWhileInFlightIsDropped(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.exec.gate = make(chan struct{})
	h.exec.entered = make(chan struct{}, 1)

	done := make(chan Outcome, 1)
	go func() {
		out, _ := h.e.Poll(context.Background())
		done <- out
	}()
	<-h.exec.entered

	out, err := h.e.Poll(context.Background())
	if out != OutcomeDropped || err != nil {
		t.Fatalf("second poll: %s %v", out, err)
	}
	if h.exec.count() != 1 {
		t.Fatalf("probe calls=%d want 1", h.exec.count())
	}
	if h.e.HasLoaded() {
		t.Fatalf("state changed before first poll completed")
	}

	close(h.exec.gate)
	if got := <-done; got != OutcomeOK {
		t.Fatalf("first poll: %s", got)
	}
	if !h.e.HasLoaded() || h.e.isLocked() {
		t.Fatalf("loaded=%v locked=%v", h.e.HasLoaded(), h.e.isLocked())
	}
	if v := testutil.ToFloat64(h.e.metrics.polls.WithLabelValues(string(OutcomeDropped))); v != 1 {
		t.Fatalf("dropped counter=%v", v)
	}
}

func TestEvaluateTruthTable(t *testing.T) {
	t.Parallel()
	p := func(v int) *int { return &v }
	cases := []struct {
		current, latest *int
		caption         string
		update          bool
	}{
		{nil, nil, "n/a", false},
		{nil, p(9), "n/a", false},
		{p(4), nil, "v4", false},
		{p(4), p(5), "v4", true},
		{p(5), p(5), "v5", false},
		{p(6), p(5), "v6", false},
		{p(0), p(1), "v0", true},
	}
	for _, tc := range cases {
		got := Evaluate(tc.current, tc.latest)
		if got.Caption != tc.caption || got.UpdateAvailable != tc.update {
			t.Fatalf("Evaluate(%v,%v)=%+v", tc.current, tc.latest, got)
		}
	}
}

func TestLatestNeverDecreases(t *testing.T) {
	idx := &fakeIndex{
		results: []lookup{{7, true}, {0, false}, {6, true}, {0, false}, {9, true}},
		errs:    []error{nil, errors.New("net down"), nil, nil, nil},
	}
	h := newHarness(t, Config{}, func(d *Deps) { d.Index = idx })
	ctx := context.Background()
	h.exec.set(`{"host":"cs50.io","version":8}`, nil)
	_, _ = h.e.Poll(ctx)

	want := []int{7, 7, 7, 7, 9}
	for i, w := range want {
		_ = h.e.RefreshLatest(ctx)
		got := h.e.Version().Latest
		if got == nil || *got != w {
			t.Fatalf("step %d: latest=%v want %d", i, got, w)
		}
		if p := h.st.Int(ctx, settings.LatestVersion); p != w {
			t.Fatalf("step %d: persisted=%d want %d", i, p, w)
		}
	}
	if idx.marks[len(idx.marks)-1] != 7 {
		t.Fatalf("watermark=%v", idx.marks)
	}
	if _, ok := h.surf.banner(); !ok {
		t.Fatalf("banner not shown for 9 > 8")
	}
}

func TestRefreshLatestWaitsForCurrent(t *testing.T) {
	idx := &fakeIndex{results: []lookup{{6, true}}}
	h := newHarness(t, Config{}, func(d *Deps) { d.Index = idx })
	ctx := context.Background()
	h.exec.set(`{"host":"cs50.io","version":"abc"}`, nil)
	h.start(t)
	waitFor(t, "first poll", h.e.HasLoaded)

	_ = h.e.RefreshLatest(ctx)
	idx.mu.Lock()
	calls := idx.calls
	idx.mu.Unlock()
	if calls != 0 {
		t.Fatalf("index queried before current known")
	}
	if h.e.sched.Has(schedLatest) {
		t.Fatalf("daily timer armed before current known")
	}

	h.exec.set(`{"host":"cs50.io","version":5}`, nil)
	if out, _ := h.e.TriggerNow(ctx); out != OutcomeOK {
		t.Fatalf("poll: %s", out)
	}
	waitFor(t, "latest from index", func() bool {
		l := h.e.Version().Latest
		return l != nil && *l == 6
	})
	if !h.e.sched.Has(schedLatest) {
		t.Fatalf("daily timer not armed")
	}
	idx.mu.Lock()
	calls = idx.calls
	idx.mu.Unlock()
	if calls != 1 {
		t.Fatalf("index calls=%d want 1", calls)
	}
	waitFor(t, "banner", func() bool { _, ok := h.surf.banner(); return ok })
}

func TestCachedLatestAheadSkipsIndex(t *testing.T) {
	idx := &fakeIndex{results: []lookup{{99, true}}}
	h := newHarness(t, Config{}, func(d *Deps) { d.Index = idx })
	ctx := context.Background()
	_ = h.st.SetInt(ctx, settings.LatestVersion, 6)
	_, _ = h.e.Poll(ctx)
	if err := h.e.RefreshLatest(ctx); err != nil {
		t.Fatal(err)
	}
	if idx.calls != 0 {
		t.Fatalf("index queried although cached latest is ahead")
	}
	if _, ok := h.surf.banner(); !ok {
		t.Fatalf("banner not shown")
	}
}

func TestRefreshRateCoercion(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()

	cases := []struct {
		in   int
		want int
	}{
		{0, 30},
		{-4, 30},
		{1, 1},
		{45, 45},
	}
	for _, tc := range cases {
		h.e.SetInterval(ctx, tc.in)
		if got := h.e.Interval(); got != tc.want {
			t.Fatalf("SetInterval(%d): interval=%d want %d", tc.in, got, tc.want)
		}
		if tc.in < 1 {
			if p := h.st.Int(ctx, settings.RefreshRate); p != 30 {
				t.Fatalf("SetInterval(%d): persisted=%d want 30", tc.in, p)
			}
		}
	}
}

func TestSetIntervalPollsOnChangeOnly(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()
	h.e.SetInterval(ctx, 30)
	if h.exec.count() != 0 {
		t.Fatalf("unchanged interval triggered a poll")
	}
	h.e.SetInterval(ctx, 10)
	if h.exec.count() != 1 {
		t.Fatalf("changed interval: probe calls=%d want 1", h.exec.count())
	}
	if b := h.e.Budget(); b != 12 {
		t.Fatalf("budget=%d want 12", b)
	}
}

func TestRefreshRateSettingIsWatched(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.start(t)
	ctx := context.Background()

	if err := h.st.SetRaw(ctx, settings.RefreshRate.Path, "12"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "interval 12", func() bool { return h.e.Interval() == 12 })

	if err := h.st.SetRaw(ctx, settings.RefreshRate.Path, "abc"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "coerced interval", func() bool { return h.e.Interval() == 30 })
	waitFor(t, "coercion persisted", func() bool {
		raw, _ := h.st.Raw(ctx, settings.RefreshRate.Path)
		return raw == "30"
	})
}

func TestLoadCoercesPersistedGarbage(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()
	_ = h.st.SetRaw(ctx, settings.RefreshRate.Path, "0")
	h.e.polling.load(ctx)
	if h.e.Interval() != 30 {
		t.Fatalf("interval=%d", h.e.Interval())
	}
	if raw, _ := h.st.Raw(ctx, settings.RefreshRate.Path); raw != "30" {
		t.Fatalf("persisted=%q", raw)
	}
}

func TestSharedSync(t *testing.T) {
	ctx := context.Background()
	owner := sharedapi.Project{Owner: sharedapi.Owner{ID: "42"}, Visibility: "private", AppAccess: "public"}

	h := newHarness(t, Config{Hosted: true}, func(d *Deps) { d.Shared = fakeShared{p: owner} })
	h.e.SyncShared(ctx)
	if !h.st.Bool(ctx, settings.Public) {
		t.Fatalf("owner sync did not set public")
	}

	other := owner
	other.Owner.ID = "99"
	other.AppAccess = "private"
	h2 := newHarness(t, Config{Hosted: true}, func(d *Deps) { d.Shared = fakeShared{p: other} })
	_ = h2.st.SetBool(ctx, settings.Public, true)
	h2.e.SyncShared(ctx)
	if !h2.st.Bool(ctx, settings.Public) {
		t.Fatalf("non-owner overwrote public")
	}

	h3 := newHarness(t, Config{Hosted: true}, func(d *Deps) { d.Shared = fakeShared{err: errors.New("503")} })
	h3.e.SyncShared(ctx)
	if h3.st.Bool(ctx, settings.Public) {
		t.Fatalf("error path wrote public")
	}
}

func TestPollTriggersSharedSyncWhenHosted(t *testing.T) {
	owner := sharedapi.Project{Owner: sharedapi.Owner{ID: "42"}, Visibility: "public"}
	h := newHarness(t, Config{Hosted: true}, func(d *Deps) { d.Shared = fakeShared{p: owner} })
	_, _ = h.e.Poll(context.Background())
	waitFor(t, "public set", func() bool { return h.st.Bool(context.Background(), settings.Public) })
}

func TestCanPreview(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name   string
		hosted bool
		public bool
		domain string
		out    string
		want   bool
	}{
		{"not hosted", false, false, "cs50.io", "", true},
		{"public", true, true, "cs50.io", "", true},
		{"no stats", true, false, "cs50.io", "", false},
		{"host matches", true, false, "ide.cs50.io", `{"host":"abc.cs50.io:8080"}`, true},
		{"host differs", true, false, "cs50.io", `{"host":"abc.example.com"}`, false},
		{"c9users", true, false, "c9.io", `{"host":"ws-x.c9users.io"}`, true},
		{"c9 plain", true, false, "c9.io", `{"host":"ws-x.c9.io"}`, true},
		{"non-string host", true, false, "cs50.io", `{"host":5}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, Config{Hosted: tc.hosted, Domain: tc.domain}, nil)
			_ = h.st.SetBool(ctx, settings.Public, tc.public)
			if tc.out != "" {
				h.exec.set(tc.out, nil)
				_, _ = h.e.Poll(ctx)
			}
			if got := h.e.CanPreview(ctx); got != tc.want {
				t.Fatalf("CanPreview=%v want %v", got, tc.want)
			}
		})
	}
}

func TestLinks(t *testing.T) {
	h := newHarness(t, Config{Protocol: "http:"}, nil)
	if _, err := h.e.OpenWebServer(); !errors.Is(err, ErrNoHost) {
		t.Fatalf("err=%v", err)
	}
	if len(h.surf.alerts) != 1 {
		t.Fatalf("alert not shown")
	}
	_, _ = h.e.Poll(context.Background())
	ws, err := h.e.WebServerURL()
	if err != nil || ws != "http://cs50.io/" {
		t.Fatalf("web=%q err=%v", ws, err)
	}
	pma, err := h.e.PHPMyAdminURL()
	if err != nil || pma != "http://u:p@cs50.io/phpmyadmin/" {
		t.Fatalf("pma=%q err=%v", pma, err)
	}
}

func TestStopResetsMemoryKeepsSettings(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.start(t)
	waitFor(t, "loaded", h.e.HasLoaded)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h.e.Stop(ctx)
	h.e.Stop(ctx)

	if h.e.HasLoaded() || h.e.Version().Current != nil || h.e.Running() {
		t.Fatalf("in-memory state survived stop")
	}
	if _, visible, _ := h.widget.get(); visible {
		t.Fatalf("widget still visible")
	}
	if h.st.Int(ctx, settings.InfoRevision) != 1 {
		t.Fatalf("persisted revision lost")
	}
	if len(h.e.sched.Snapshot()) != 0 {
		t.Fatalf("timers left: %+v", h.e.sched.Snapshot())
	}
}

func TestNormalizeDomain(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]string{
		"ide.cs50.io": "cs50.io",
		"cs50.io":     "cs50.io",
		"ide50.dev":   "ide50.dev",
		" ide.c9.io ": "c9.io",
	} {
		if got := NormalizeDomain(in); got != want {
			t.Fatalf("NormalizeDomain(%q)=%q want %q", in, got, want)
		}
	}
}

func TestPollTimerStartStopIdempotent(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()

	h.e.StartPolling()
	h.e.StartPolling()
	if got := h.e.sched.Snapshot(); len(got) != 1 || got[0].Name != schedPoll || got[0].Every != 30*time.Second {
		t.Fatalf("schedules=%+v", got)
	}

	h.e.SetInterval(ctx, 10)
	if got := h.e.sched.Snapshot(); len(got) != 1 || got[0].Every != 10*time.Second {
		t.Fatalf("timer not restarted with new period: %+v", got)
	}

	h.e.StopPolling()
	h.e.StopPolling()
	if h.e.sched.Has(schedPoll) {
		t.Fatalf("poll timer still registered after Stop")
	}
}

func TestStatsAllowTrailingWhitespace(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.exec.set("{\"host\":\"cs50.io\",\"version\":6}\n\t ", nil)
	if res, err := h.e.Poll(context.Background()); res != OutcomeOK || err != nil {
		t.Fatalf("out=%s err=%v", res, err)
	}
}

func TestStopDuringHostedPolls(t *testing.T) {
	owner := sharedapi.Project{Owner: sharedapi.Owner{ID: "42"}, Visibility: "public"}
	for i := 0; i < 20; i++ {
		h := newHarness(t, Config{Hosted: true, ProjectID: "p1"}, func(d *Deps) { d.Shared = fakeShared{p: owner} })
		h.start(t)

		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					_, _ = h.e.Poll(context.Background())
				}
			}()
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		h.e.Stop(ctx)
		cancel()
		wg.Wait()

		if h.e.Stats() != nil || h.e.HasLoaded() || h.e.Running() {
			t.Fatalf("iteration %d: state survived stop", i)
		}
	}
}

func TestPollAfterStopIsRejected(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.start(t)
	waitFor(t, "loaded", h.e.HasLoaded)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h.e.Stop(ctx)
	caption, _, _ := h.widget.get()
	calls := h.exec.count()

	res, err := h.e.Poll(ctx)
	if res != OutcomeStopped || !errors.Is(err, ErrStopped) {
		t.Fatalf("out=%s err=%v", res, err)
	}
	if h.e.Stats() != nil || h.exec.count() != calls {
		t.Fatalf("poll after stop ran the probe")
	}
	if c, _, _ := h.widget.get(); c != caption {
		t.Fatalf("caption=%q want %q", c, caption)
	}
	if got := testutil.ToFloat64(h.e.metrics.polls.WithLabelValues(string(OutcomeStopped))); got != 1 {
		t.Fatalf("stopped polls=%v", got)
	}

	// A restart accepts polls again.
	h.start(t)
	waitFor(t, "poll accepted after restart", func() bool {
		res, _ := h.e.Poll(ctx)
		return res == OutcomeOK
	})
}
