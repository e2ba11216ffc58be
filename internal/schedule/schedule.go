// Package schedule runs named repeating jobs on robfig/cron. A job never
// overlaps itself: a tick that arrives while the previous run is still
// going is skipped.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "ideinfo/pkg/logx"
)

type Job func(ctx context.Context)

type def struct {
	name    string
	every   time.Duration
	job     Job
	entryID cron.EntryID
}

// Info describes one registered schedule.
type Info struct {
	Name  string        `json:"name"`
	Every time.Duration `json:"every"`
	Next  time.Time     `json:"next,omitempty"`
	Prev  time.Time     `json:"prev,omitempty"`
}

type Service struct {
	log logx.Logger

	mu     sync.Mutex
	c      *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	defs   map[string]*def
}

func New(log logx.Logger) *Service {
	return &Service{log: log, defs: map[string]*def{}}
}

// Start is a no-op while already running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithChain(
		cron.Recover(cronLogger{s.log}),
		cron.SkipIfStillRunning(cronLogger{s.log}),
	))
	for _, d := range s.defs {
		s.addLocked(d)
	}
	s.c.Start()
	s.log.Debug("schedule started", logx.Int("schedules", len(s.defs)))
}

// Stop stops future ticks and waits (bounded by ctx) for running jobs.
// Idempotent.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, d := range s.defs {
		d.entryID = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}
	done := c.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("schedule stop timed out waiting for running jobs")
	}
	s.mu.Lock()
	if s.c == nil && s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
}

// Every registers job under name, replacing any schedule with that name.
// The first run happens one period from now.
func (s *Service) Every(name string, every time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("schedule: name required")
	}
	if every <= 0 {
		return fmt.Errorf("schedule %s: period must be positive, got %s", name, every)
	}
	if job == nil {
		return fmt.Errorf("schedule %s: nil job", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	d := &def{name: name, every: every, job: job}
	s.defs[name] = d
	if s.c != nil {
		s.addLocked(d)
	}
	s.log.Debug("schedule registered", logx.String("name", name), logx.Duration("every", every))
	return nil
}

// Remove unregisters name and reports whether it existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name)
}

func (s *Service) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.defs[name]
	return ok
}

func (s *Service) Snapshot() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, len(s.defs))
	for _, d := range s.defs {
		it := Info{Name: d.name, Every: d.every}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) addLocked(d *def) {
	ctx := s.ctx
	job := d.job
	d.entryID = s.c.Schedule(cron.Every(d.every), cron.FuncJob(func() { job(ctx) }))
}

func (s *Service) removeLocked(name string) bool {
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
	return true
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
