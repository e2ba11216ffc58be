package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"ideinfo/internal/eventbus"
	rtsup "ideinfo/internal/runtime/supervisor"
	logx "ideinfo/pkg/logx"
)

var ErrQueueFull = errors.New("notifier queue full")

const historySize = 200

type job struct {
	n        Notification
	dedupKey string
}

// Service implements Surface. It is safe for concurrent use.
type Service struct {
	log   logx.Logger
	bus   eventbus.Bus
	sinks []Sink

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	queue   chan job
	sup     *rtsup.Supervisor
	banners map[string]Banner

	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []Notification
}

var _ Surface = (*Service)(nil)

func New(cfg Config, log logx.Logger, bus eventbus.Bus, sinks ...Sink) *Service {
	s := &Service{
		log:     log,
		bus:     bus,
		sinks:   sinks,
		banners: map[string]Banner{},
		dedup:   map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMax <= 0 {
		cfg.DedupMax = 500
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start launches the delivery workers. Calling it twice is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil {
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	q := s.queue
	for i := 0; i < s.cfg.Workers; i++ {
		s.sup.GoRestart(fmt.Sprintf("notify.worker.%d", i), func(c context.Context) error {
			s.worker(c, q)
			return nil
		}, rtsup.RestartPolicy{})
	}
}

// Stop closes intake and waits for the queue to drain or ctx to expire.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q, sup := s.queue, s.sup
	s.queue, s.sup = nil, nil
	s.mu.Unlock()
	if q == nil {
		return
	}
	close(q)
	if err := sup.Wait(ctx); err != nil {
		_ = sup.Stop(context.Background())
	}
}

func (s *Service) ShowBanner(key, text string) {
	now := time.Now()
	s.mu.Lock()
	if b, ok := s.banners[key]; ok && b.Text == text {
		s.mu.Unlock()
		return
	}
	s.banners[key] = Banner{Key: key, Text: text, Since: now}
	s.mu.Unlock()
	s.emit(Notification{Kind: KindBanner, Key: key, Text: text, At: now})
}

func (s *Service) HideBanner(key string) {
	s.mu.Lock()
	b, ok := s.banners[key]
	delete(s.banners, key)
	s.mu.Unlock()
	if !ok {
		return
	}
	s.emit(Notification{Kind: KindBannerCleared, Key: key, Text: b.Text, At: time.Now()})
}

func (s *Service) Alert(title, text string) {
	s.emit(Notification{Kind: KindAlert, Title: title, Text: text, At: time.Now()})
}

func (s *Service) Error(text string) {
	s.emit(Notification{Kind: KindError, Text: text, At: time.Now()})
}

// Banners returns the visible banners ordered by key.
func (s *Service) Banners() []Banner {
	s.mu.Lock()
	out := make([]Banner, 0, len(s.banners))
	for _, b := range s.banners {
		out = append(out, b)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// BannerVisible reports whether key is currently shown.
func (s *Service) BannerVisible(key string) bool {
	s.mu.Lock()
	_, ok := s.banners[key]
	s.mu.Unlock()
	return ok
}

// History returns recent notifications, oldest first.
func (s *Service) History() []Notification {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]Notification(nil), s.history...)
}

func (s *Service) emit(n Notification) {
	s.hmu.Lock()
	s.history = append(s.history, n)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.hmu.Unlock()

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TopicNotice, Data: Event{Notification: n, Banners: s.Banners()}})
	}
	if err := s.enqueue(n); err != nil {
		s.log.Debug("notification not queued", logx.String("kind", string(n.Kind)), logx.Err(err))
	}
}

func (s *Service) enqueue(n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue == nil {
		return errors.New("notifier not started")
	}
	key := dedupKey(n)
	if !s.dedupAllow(key, s.cfg.DedupWindow, s.cfg.DedupMax) {
		return nil
	}
	select {
	case s.queue <- job{n: n, dedupKey: key}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Service) worker(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			for _, sink := range s.sinks {
				s.deliver(ctx, sink, j.n)
			}
		}
	}
}

func (s *Service) deliver(ctx context.Context, sink Sink, n Notification) {
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()

	attempts := 1 + cfg.RetryMax
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := sink.Deliver(cctx, n)
		cancel()
		if err == nil {
			return
		}
		s.log.Debug("notify deliver failed",
			logx.String("sink", sink.Name()), logx.Int("attempt", attempt), logx.Err(err))
		if attempt == attempts {
			s.log.Warn("notification dropped", logx.String("sink", sink.Name()), logx.String("kind", string(n.Kind)), logx.Err(err))
			return
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
}

// dedupAllow reports whether key may be sent now and opens a new window
// for it. Banner transitions are never deduplicated.
func (s *Service) dedupAllow(key string, window time.Duration, maxEntries int) bool {
	if key == "" || window <= 0 {
		return true
	}
	now := time.Now()
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	for len(s.dedup) >= maxEntries {
		var oldest string
		var oldestT time.Time
		for k, t := range s.dedup {
			if oldest == "" || t.Before(oldestT) {
				oldest, oldestT = k, t
			}
		}
		delete(s.dedup, oldest)
	}
	s.dedup[key] = now.Add(window)
	return true
}

func dedupKey(n Notification) string {
	if n.Kind == KindBanner || n.Kind == KindBannerCleared {
		return ""
	}
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s|%s|%s", n.Kind, n.Title, n.Text)
	return fmt.Sprintf("%x", h.Sum64())
}

// retryDelay is base*2^(attempt-1) capped at RetryMaxDelay, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(d, cfg.RetryMaxDelay)
}
