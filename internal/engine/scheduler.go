package engine

import (
	"context"
	"strconv"
	"sync"
	"time"

	"ideinfo/internal/eventbus"
	"ideinfo/internal/settings"
	logx "ideinfo/pkg/logx"
)

// pollScheduler owns the refresh interval and the repeating poll timer.
// It holds no poll lock of its own; overlapping ticks are skipped by the
// schedule and overlapping polls are dropped by the engine.
type pollScheduler struct {
	e *Engine

	mu       sync.Mutex
	interval int
	started  bool
}

func (p *pollScheduler) Interval() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// load reads the refresh-rate setting. An absent value means the default;
// a present but unusable one is coerced and the coercion persisted.
func (p *pollScheduler) load(ctx context.Context) {
	v := DefaultInterval
	if raw, ok := p.e.settings.Raw(ctx, settings.RefreshRate.Path); ok {
		n, numeric := settings.ParseInt(raw)
		if numeric && n >= 1 {
			v = n
		} else {
			p.persistDefault(ctx, raw)
		}
	}
	p.mu.Lock()
	p.interval = v
	p.mu.Unlock()
}

func (p *pollScheduler) persistDefault(ctx context.Context, bad string) {
	p.e.log.Warn("invalid refresh rate; using default",
		logx.String("value", bad), logx.Int("default", DefaultInterval))
	if err := p.e.settings.SetInt(ctx, settings.RefreshRate, DefaultInterval); err != nil {
		p.e.log.Warn("persist refresh rate failed", logx.Err(err))
	}
}

// Start registers the repeating timer. No-op if already registered.
func (p *pollScheduler) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.startLocked()
}

func (p *pollScheduler) startLocked() {
	every := time.Duration(p.interval) * time.Second
	err := p.e.sched.Every(schedPoll, every, func(context.Context) {
		_, _ = p.TriggerNow(p.e.ctx)
	})
	if err != nil {
		p.e.log.Error("poll timer not started", logx.Err(err))
		return
	}
	p.started = true
}

// Stop cancels the repeating timer. Idempotent.
func (p *pollScheduler) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.e.sched.Remove(schedPoll)
	p.started = false
}

func (p *pollScheduler) reset() {
	p.mu.Lock()
	p.interval = DefaultInterval
	p.mu.Unlock()
}

// SetInterval applies a new refresh rate. Values below 1 become the default
// and the default is persisted. A changed value polls immediately and then
// restarts the timer with the new period.
func (p *pollScheduler) SetInterval(ctx context.Context, seconds int) {
	eff := seconds
	if eff < 1 {
		eff = DefaultInterval
		if cur, ok := p.e.settings.LookupInt(ctx, settings.RefreshRate); !ok || cur != eff {
			p.persistDefault(ctx, strconv.Itoa(seconds))
		}
	}

	p.mu.Lock()
	changed := eff != p.interval
	p.interval = eff
	p.mu.Unlock()
	if !changed {
		return
	}
	p.e.log.Info("refresh rate changed", logx.Int("seconds", eff))

	_, _ = p.TriggerNow(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		p.e.sched.Remove(schedPoll)
		p.started = false
		p.startLocked()
	}
}

// TriggerNow polls immediately on the caller's goroutine.
func (p *pollScheduler) TriggerNow(ctx context.Context) (Outcome, error) {
	return p.e.Poll(ctx)
}

// watch applies refresh-rate changes made through the settings store.
func (p *pollScheduler) subscribe() (<-chan eventbus.Event, func()) {
	return p.e.bus.Subscribe(16, eventbus.TopicSettingsChanged)
}

func (p *pollScheduler) watch(ctx context.Context, ch <-chan eventbus.Event, unsub func()) {
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			c, ok := ev.Data.(settings.Change)
			if !ok || c.Key != settings.RefreshRate.Path {
				continue
			}
			v, numeric := settings.ParseInt(c.Value)
			if !numeric {
				v = 0
			}
			p.SetInterval(p.e.ctx, v)
		}
	}
}

// SetInterval is PollScheduler.setInterval on the engine.
func (e *Engine) SetInterval(ctx context.Context, seconds int) { e.polling.SetInterval(ctx, seconds) }

// TriggerNow polls immediately and returns the outcome.
func (e *Engine) TriggerNow(ctx context.Context) (Outcome, error) { return e.polling.TriggerNow(ctx) }

// StartPolling and StopPolling control the repeating poll timer only.
func (e *Engine) StartPolling() { e.polling.Start() }
func (e *Engine) StopPolling()  { e.polling.Stop() }

func (e *Engine) Interval() int { return e.polling.Interval() }
