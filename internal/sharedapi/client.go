// Package sharedapi queries the hosting API for a workspace's owner and
// visibility.
package sharedapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
)

// Project is the subset of the project document the engine reads.
type Project struct {
	Owner      Owner  `json:"owner"`
	Visibility string `json:"visibility"`
	AppAccess  string `json:"appAccess"`
}

type Owner struct {
	ID ID `json:"id"`
}

// ID accepts both numeric and string identifiers and keeps them as text.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// Public reports whether either visibility field says "public".
func (p Project) Public() bool {
	return p.Visibility == "public" || p.AppAccess == "public"
}

// Getter is the slice of httpfetch.Client the client needs.
type Getter interface {
	GetJSON(ctx context.Context, rawURL string, query url.Values, out any) error
}

var ErrNotConfigured = errors.New("sharedapi: api_url not configured")

type Client struct {
	base string
	http Getter
}

func New(apiURL string, http Getter) *Client {
	return &Client{base: strings.TrimRight(apiURL, "/"), http: http}
}

// Project fetches GET <api_url>/projects/<id>.
func (c *Client) Project(ctx context.Context, projectID string) (Project, error) {
	if c == nil || c.base == "" {
		return Project{}, ErrNotConfigured
	}
	var p Project
	err := c.http.GetJSON(ctx, c.base+"/projects/"+url.PathEscape(projectID), nil, &p)
	return p, err
}
