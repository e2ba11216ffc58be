// Package remote runs programs on the execution target, either on this host
// or over SSH, and classifies failures into the codes the engine branches on.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"strings"
	"syscall"
	"time"
)

// Code is the machine-readable class of a failed invocation.
type Code string

const (
	CodeDisconnected     Code = "disconnected"
	CodeNotFound         Code = "not-found"
	CodePermissionDenied Code = "permission-denied"
	CodeFailed           Code = "failed"
)

// Shell exit statuses for "found but not executable" and "not found".
const (
	exitNotExecutable = 126
	exitNotFound      = 127
)

// Command describes one invocation. Path is resolved against Dir when it is
// relative and contains a slash ("./.info50"); a bare name goes through the
// target's PATH. Dir may start with "~/".
type Command struct {
	Path    string
	Dir     string
	Args    []string
	Stdin   []byte
	Timeout time.Duration
}

func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// Executor runs commands on the target. A non-nil error is always an
// *Error; Result still carries whatever output was captured.
type Executor interface {
	Exec(ctx context.Context, cmd Command) (Result, error)
}

type Error struct {
	Code     Code
	Op       string
	ExitCode int
	Stderr   string
	TimedOut bool
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(string(e.Code))
	if e.TimedOut {
		b.WriteString(" (timed out)")
	} else if e.ExitCode != 0 {
		fmt.Fprintf(&b, " (exit %d)", e.ExitCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		b.WriteString(": ")
		b.WriteString(truncate(s, 200))
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf classifies err. It returns "" for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	return classify(err)
}

func classify(err error) Code {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return CodeNotFound
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EACCES):
		return CodePermissionDenied
	case isDisconnect(err):
		return CodeDisconnected
	default:
		return CodeFailed
	}
}

func isDisconnect(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

func exitCodeClass(code int) Code {
	switch code {
	case exitNotExecutable:
		return CodePermissionDenied
	case exitNotFound:
		return CodeNotFound
	default:
		return CodeFailed
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
