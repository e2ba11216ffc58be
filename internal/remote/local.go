package remote

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	logx "ideinfo/pkg/logx"
)

// maxOutput caps captured stdout/stderr per stream.
const maxOutput = 1 << 20

// Local runs commands on this host.
type Local struct {
	log  logx.Logger
	home string
}

func NewLocal(log logx.Logger) *Local {
	home, _ := os.UserHomeDir()
	return &Local{log: log, home: home}
}

func (l *Local) Exec(ctx context.Context, c Command) (Result, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = ExpandHome(c.Dir, l.home)
	if c.Stdin != nil {
		cmd.Stdin = bytes.NewReader(c.Stdin)
	}
	var stdout, stderr limitedBuffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), Duration: time.Since(start)}
	if err == nil {
		return res, nil
	}

	re := &Error{Op: "exec " + c.Path, Stderr: string(res.Stderr)}
	var exitErr *exec.ExitError
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		re.Code, re.TimedOut, re.ExitCode = CodeFailed, true, -1
	case errors.As(err, &exitErr):
		re.ExitCode = exitErr.ExitCode()
		re.Code = exitCodeClass(re.ExitCode)
	default:
		// Start failures: the path is missing or not executable.
		re.Code, re.ExitCode, re.Err = classify(err), -1, err
	}
	res.ExitCode = re.ExitCode
	l.log.Debug("local exec failed",
		logx.String("cmd", c.String()),
		logx.String("code", string(re.Code)),
		logx.Int("exit", re.ExitCode),
		logx.Duration("took", res.Duration),
	)
	return res, re
}

// ExpandHome rewrites a leading "~" or "~/" using home.
func ExpandHome(p, home string) string {
	if home == "" {
		return p
	}
	if p == "~" {
		return home
	}
	if rest, ok := strings.CutPrefix(p, "~/"); ok {
		return filepath.Join(home, rest)
	}
	return p
}

type limitedBuffer struct {
	bytes.Buffer
	dropped bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if room := maxOutput - b.Len(); room < len(p) {
		b.dropped = true
		if room <= 0 {
			return n, nil
		}
		p = p[:room]
	}
	_, _ = b.Buffer.Write(p)
	return n, nil
}
