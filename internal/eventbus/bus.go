// Package eventbus is a small in-process fan-out used between the engine,
// the settings store and the status surface.
package eventbus

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Topics published inside ideinfo.
const (
	TopicSettingsChanged = "settings.changed"
	TopicStatsUpdated    = "stats.updated"
	TopicVersionChanged  = "version.changed"
	TopicWidgetChanged   = "widget.changed"
	TopicConfigReloaded  = "config.reloaded"
	TopicNotice          = "notify.changed"
)

// Event is a small in-memory signal. Data should be a value type or an
// immutable snapshot; receivers must not mutate it.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus delivers events without blocking the publisher. A subscriber whose
// buffer is full misses the event; Dropped counts those misses.
type Bus interface {
	Publish(e Event)
	// Subscribe receives every topic, or only the listed ones.
	Subscribe(buffer int, topics ...string) (ch <-chan Event, unsubscribe func())
	Dropped() uint64
}

func New() Bus { return &memBus{subs: map[uint64]*sub{}} }

type sub struct {
	ch     chan Event
	topics []string
}

func (s *sub) wants(topic string) bool {
	return len(s.topics) == 0 || slices.Contains(s.topics, topic)
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]*sub
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sends happen under the read lock; unsubscribe closes under the write
	// lock, so a send never races a close.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.wants(e.Type) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int, topics ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &sub{ch: make(chan Event, buffer), topics: slices.Clone(topics)}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(s.ch)
			b.mu.Unlock()
		})
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
