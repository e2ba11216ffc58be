// Package notifier is the user-facing notification surface.
//
// Callers fire and forget: ShowBanner/HideBanner keep a set of persistent
// banners (for example "update available"), Alert raises a one-off dialog,
// Error a transient error. State changes are applied synchronously; delivery
// to sinks (log, Telegram) runs through an async queue with a worker pool,
// a rate limiter, retry with backoff and a dedup window.
package notifier
