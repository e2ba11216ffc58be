// Package status is the UI shell of a headless ideinfo: the version widget
// model, a small HTTP API, WebSocket push of widget and notification
// changes, Prometheus metrics and optional pprof.
//
// Security:
//   - Prefer binding to localhost (default 127.0.0.1:8050).
//   - A non-loopback bind needs Token or AllowInsecure.
package status
