package notifier

import (
	"context"
	"time"
)

// Config controls the async delivery pipeline.
type Config struct {
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	DedupWindow   time.Duration
	DedupMax      int
}

type Kind string

const (
	KindBanner        Kind = "banner"
	KindBannerCleared Kind = "banner_cleared"
	KindAlert         Kind = "alert"
	KindError         Kind = "error"
)

type Notification struct {
	Kind  Kind      `json:"kind"`
	Key   string    `json:"key,omitempty"`
	Title string    `json:"title,omitempty"`
	Text  string    `json:"text"`
	At    time.Time `json:"at"`
}

// Banner is a persistent notice shown until hidden.
type Banner struct {
	Key   string    `json:"key"`
	Text  string    `json:"text"`
	Since time.Time `json:"since"`
}

// Surface is what the engine talks to. Nothing here returns a result.
type Surface interface {
	ShowBanner(key, text string)
	HideBanner(key string)
	Alert(title, text string)
	Error(text string)
}

// Discard is a Surface that drops everything.
type Discard struct{}

func (Discard) ShowBanner(string, string) {}
func (Discard) HideBanner(string)         {}
func (Discard) Alert(string, string)      {}
func (Discard) Error(string)              {}

// Sink delivers a notification somewhere outside the process.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n Notification) error
}

// Event is the Data of notify.changed bus events.
type Event struct {
	Notification Notification `json:"notification"`
	Banners      []Banner     `json:"banners"`
}
