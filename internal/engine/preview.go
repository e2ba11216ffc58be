package engine

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"ideinfo/internal/settings"
)

// ErrNoHost means no probe has reported a host yet.
var ErrNoHost = errors.New("web server host not known yet")

// CanPreview reports whether this client may preview the workspace web
// server.
func (e *Engine) CanPreview(ctx context.Context) bool {
	if !e.cfg.Hosted {
		return true
	}
	if e.settings.Bool(ctx, settings.Public) {
		return true
	}
	host, ok := e.Stats().Host()
	if !ok {
		return false
	}
	return hostMatches(host, e.domain)
}

func hostMatches(host, domain string) bool {
	host, _, _ = strings.Cut(host, ":")
	return (domain == "c9.io" && strings.HasSuffix(host, "c9users.io")) ||
		strings.HasSuffix(host, domain)
}

func (e *Engine) scheme() string {
	return strings.TrimSuffix(e.cfg.Protocol, ":")
}

// WebServerURL is <protocol>//<host>/.
func (e *Engine) WebServerURL() (string, error) {
	st := e.Stats()
	host, ok := st.Host()
	if !ok || host == "" {
		return "", ErrNoHost
	}
	u := url.URL{Scheme: e.scheme(), Host: host, Path: "/"}
	return u.String(), nil
}

// PHPMyAdminURL is <protocol>//<user>:<passwd>@<host>/phpmyadmin/.
func (e *Engine) PHPMyAdminURL() (string, error) {
	st := e.Stats()
	host, ok := st.Host()
	if !ok || host == "" {
		return "", ErrNoHost
	}
	u := url.URL{Scheme: e.scheme(), Host: host, Path: "/phpmyadmin/"}
	if user := st.User(); user != "" {
		u.User = url.UserPassword(user, st.Passwd())
	}
	return u.String(), nil
}

// OpenWebServer returns the web server link, or shows an alert when the
// host is not known yet.
func (e *Engine) OpenWebServer() (string, error) {
	return e.open("Web Server", e.WebServerURL)
}

func (e *Engine) OpenPHPMyAdmin() (string, error) {
	return e.open("phpMyAdmin", e.PHPMyAdminURL)
}

func (e *Engine) open(title string, fn func() (string, error)) (string, error) {
	u, err := fn()
	if err != nil {
		e.surface.Alert(title, "The workspace has not reported its web server address yet. Please try again in a few seconds.")
		return "", err
	}
	return u, nil
}
