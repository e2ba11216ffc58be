// Package httpfetch is the GET-only HTTP surface used for the package index
// and the shared-workspace API.
package httpfetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/codeGROOVE-dev/retry"

	logx "ideinfo/pkg/logx"
)

const (
	maxBody        = 4 << 20
	defaultTimeout = 15 * time.Second
	userAgent      = "ideinfo/1"
)

type Options struct {
	Timeout     time.Duration
	Attempts    uint
	Delay       time.Duration
	MaxDelay    time.Duration
	BearerToken string
	HTTPClient  *http.Client
}

// StatusError is a non-2xx response.
type StatusError struct {
	URL  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.Code)
}

type Client struct {
	opts Options
	http *http.Client
	log  logx.Logger
}

func New(opts Options, log logx.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Attempts == 0 {
		opts.Attempts = 3
	}
	if opts.Delay <= 0 {
		opts.Delay = 500 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 5 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{opts: opts, http: hc, log: log}
}

// GetText fetches rawURL with query merged into its query string. 5xx and
// transport errors are retried; 4xx fails immediately.
func (c *Client) GetText(ctx context.Context, rawURL string, query url.Values) (string, error) {
	b, err := c.get(ctx, rawURL, query)
	return string(b), err
}

// GetJSON is GetText followed by a JSON decode into out.
func (c *Client) GetJSON(ctx context.Context, rawURL string, query url.Values, out any) error {
	b, err := c.get(ctx, rawURL, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode %s: %w", rawURL, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, rawURL string, query url.Values) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	target := u.String()

	attempt := 0
	return retry.DoWithData(func() ([]byte, error) {
		attempt++
		b, err := c.once(ctx, target)
		if err != nil {
			c.log.Debug("http get failed", logx.String("url", u.Redacted()), logx.Int("attempt", attempt), logx.Err(err))
		}
		return b, err
	},
		retry.Context(ctx),
		retry.Attempts(c.opts.Attempts),
		retry.Delay(c.opts.Delay),
		retry.MaxDelay(c.opts.MaxDelay),
		retry.LastErrorOnly(true),
	)
}

func (c *Client) once(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, retry.Unrecoverable(err)
	}
	req.Header.Set("User-Agent", userAgent)
	if c.opts.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.BearerToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{URL: target, Code: resp.StatusCode, Body: string(body)}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, retry.Unrecoverable(serr)
		}
		return nil, serr
	}
	return body, nil
}
