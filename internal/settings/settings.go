// Package settings is the typed view over the persisted key/value store.
// Every read has a declared default; every effective write publishes a
// settings.changed event.
package settings

import (
	"context"
	"math"
	"strconv"
	"strings"

	"ideinfo/internal/eventbus"
	"ideinfo/internal/storage"
	logx "ideinfo/pkg/logx"
)

// Change is the Data of a settings.changed event.
type Change struct {
	Key   string
	Value string
}

type Store struct {
	kv  storage.Store
	bus eventbus.Bus
	log logx.Logger
}

func New(kv storage.Store, bus eventbus.Bus, log logx.Logger) *Store {
	if bus == nil {
		bus = eventbus.New()
	}
	return &Store{kv: kv, bus: bus, log: log}
}

// LookupInt returns the stored value and whether it was present and numeric.
func (s *Store) LookupInt(ctx context.Context, k IntKey) (int, bool) {
	raw, ok := s.Raw(ctx, k.Path)
	if !ok {
		return k.Default, false
	}
	v, ok := ParseInt(raw)
	if !ok {
		return k.Default, false
	}
	return v, true
}

// Int returns the stored value, or the default when absent or not numeric.
func (s *Store) Int(ctx context.Context, k IntKey) int {
	v, _ := s.LookupInt(ctx, k)
	return v
}

func (s *Store) SetInt(ctx context.Context, k IntKey, v int) error {
	return s.SetRaw(ctx, k.Path, strconv.Itoa(v))
}

func (s *Store) Bool(ctx context.Context, k BoolKey) bool {
	raw, ok := s.Raw(ctx, k.Path)
	if !ok {
		return k.Default
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return k.Default
	}
	return v
}

func (s *Store) SetBool(ctx context.Context, k BoolKey, v bool) error {
	return s.SetRaw(ctx, k.Path, strconv.FormatBool(v))
}

// Raw reads the undecoded value. Storage errors read as absent.
func (s *Store) Raw(ctx context.Context, path string) (string, bool) {
	v, ok, err := s.kv.Get(ctx, path)
	if err != nil {
		s.log.Warn("settings read failed", logx.String("key", path), logx.Err(err))
		return "", false
	}
	return v, ok
}

// SetRaw stores value as-is. Writing the current value again is a no-op and
// publishes nothing.
func (s *Store) SetRaw(ctx context.Context, path, value string) error {
	if cur, ok, err := s.kv.Get(ctx, path); err == nil && ok && cur == value {
		return nil
	}
	if err := s.kv.Put(ctx, path, value); err != nil {
		s.log.Warn("settings write failed", logx.String("key", path), logx.Err(err))
		return err
	}
	s.log.Debug("setting changed", logx.String("key", path), logx.String("value", value))
	s.bus.Publish(eventbus.Event{Type: eventbus.TopicSettingsChanged, Data: Change{Key: path, Value: value}})
	return nil
}

// Snapshot returns all stored settings.
func (s *Store) Snapshot(ctx context.Context) (map[string]string, error) {
	return s.kv.Snapshot(ctx)
}

func (s *Store) Bus() eventbus.Bus { return s.bus }

// ParseInt accepts base-10 integers and integral floats ("30", " 30 ",
// "30.0"). Anything else, including NaN and infinities, is rejected.
func ParseInt(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	if v, err := strconv.Atoi(raw); err == nil {
		return v, true
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}
