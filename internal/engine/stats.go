package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"strings"

	"ideinfo/internal/settings"
)

// Stats is one parsed probe result. It is immutable once built.
type Stats struct {
	fields map[string]any
}

// ParseError is a probe output that could not be used. The previous Stats
// stay in place.
type ParseError struct {
	Snippet string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse probe output %q: %v", e.Snippet, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var (
	errNotObject = errors.New("not a JSON object")
	errTrailing  = errors.New("trailing data after object")
)

// ParseStats accepts exactly one JSON object. Unknown fields are kept.
func ParseStats(out []byte) (*Stats, error) {
	dec := json.NewDecoder(bytes.NewReader(out))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &ParseError{Snippet: snippet(out), Err: err}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &ParseError{Snippet: snippet(out), Err: errNotObject}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, &ParseError{Snippet: snippet(out), Err: errTrailing}
	}
	return &Stats{fields: obj}, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 80 {
		s = s[:80] + "..."
	}
	return s
}

func (s *Stats) str(key string) (string, bool) {
	if s == nil {
		return "", false
	}
	v, ok := s.fields[key].(string)
	return v, ok
}

// Host is the web server host, possibly with a port.
func (s *Stats) Host() (string, bool) { return s.str("host") }
func (s *Stats) User() string         { v, _ := s.str("user"); return v }
func (s *Stats) Passwd() string       { v, _ := s.str("passwd"); return v }

// Version is the installed version, or nil when absent or not an integer.
func (s *Stats) Version() *int {
	if s == nil {
		return nil
	}
	var raw string
	switch v := s.fields["version"].(type) {
	case json.Number:
		raw = v.String()
	case string:
		raw = v
	default:
		return nil
	}
	n, ok := settings.ParseInt(raw)
	if !ok {
		return nil
	}
	return &n
}

// Redacted returns the fields with the database password masked.
func (s *Stats) Redacted() map[string]any {
	if s == nil {
		return nil
	}
	out := maps.Clone(s.fields)
	if _, ok := out["passwd"]; ok {
		out["passwd"] = "***"
	}
	return out
}
