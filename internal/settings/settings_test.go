package settings

import (
	"context"
	"testing"

	"ideinfo/internal/eventbus"
	"ideinfo/internal/storage"
	logx "ideinfo/pkg/logx"
)

func newStore(t *testing.T) (*Store, storage.Store, eventbus.Bus) {
	t.Helper()
	kv := storage.NewMemory()
	bus := eventbus.New()
	return New(kv, bus, logx.Nop()), kv, bus
}

func TestIntDefaults(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, kv, _ := newStore(t)

	if got := s.Int(ctx, RefreshRate); got != 30 {
		t.Fatalf("absent refresh rate=%d want 30", got)
	}
	for raw, want := range map[string]struct {
		v  int
		ok bool
	}{
		"45":   {45, true},
		" 12 ": {12, true},
		"5.0":  {5, true},
		"abc":  {30, false},
		"NaN":  {30, false},
		"2.5":  {30, false},
		"":     {30, false},
	} {
		_ = kv.Put(ctx, RefreshRate.Path, raw)
		v, ok := s.LookupInt(ctx, RefreshRate)
		if v != want.v || ok != want.ok {
			t.Fatalf("LookupInt(%q)=%d,%v want %d,%v", raw, v, ok, want.v, want.ok)
		}
	}
}

func TestBool(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, kv, _ := newStore(t)
	if s.Bool(ctx, Public) {
		t.Fatalf("default should be false")
	}
	if err := s.SetBool(ctx, Public, true); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !s.Bool(ctx, Public) {
		t.Fatalf("expected true")
	}
	_ = kv.Put(ctx, Public.Path, "maybe")
	if s.Bool(ctx, Public) {
		t.Fatalf("garbage should fall back to default")
	}
}

func TestSetPublishesOnlyOnChange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _, bus := newStore(t)
	ch, unsub := bus.Subscribe(8, eventbus.TopicSettingsChanged)
	defer unsub()

	_ = s.SetInt(ctx, InfoRevision, 1)
	_ = s.SetInt(ctx, InfoRevision, 1)
	_ = s.SetInt(ctx, InfoRevision, 2)

	if got := len(ch); got != 2 {
		t.Fatalf("events=%d want 2", got)
	}
	ev := <-ch
	c, ok := ev.Data.(Change)
	if !ok || c.Key != InfoRevision.Path || c.Value != "1" {
		t.Fatalf("unexpected change %+v", ev.Data)
	}
}
