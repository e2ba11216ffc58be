package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage. An empty Driver selects memory.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is a flat string key/value space. Values are opaque to the store;
// the settings layer owns their encoding.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	// Snapshot returns a copy of every stored pair.
	Snapshot(ctx context.Context) (map[string]string, error)
	Close() error
}
