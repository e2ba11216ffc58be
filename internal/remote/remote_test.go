package remote

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "ideinfo/pkg/logx"
)

func writeScript(t *testing.T, dir, name, body string, mode os.FileMode) {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), mode); err != nil {
		t.Fatalf("write script: %v", err)
	}
	if err := os.Chmod(p, mode); err != nil {
		t.Fatalf("chmod: %v", err)
	}
}

func TestLocalExec(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "ok", "#!/bin/sh\necho \"{\\\"args\\\":\\\"$1 $2 $3\\\"}\"\n", 0o755)
	writeScript(t, dir, "noexec", "#!/bin/sh\necho hi\n", 0o644)
	writeScript(t, dir, "fail", "#!/bin/sh\necho bad >&2\nexit 3\n", 0o755)
	writeScript(t, dir, "slow", "#!/bin/sh\nsleep 5\n", 0o755)

	l := NewLocal(logx.Nop())
	ctx := context.Background()

	res, err := l.Exec(ctx, Command{Path: "./ok", Dir: dir, Args: []string{"cs50.io", "42-7", "32"}})
	if err != nil {
		t.Fatalf("ok: %v", err)
	}
	if got := string(res.Stdout); got != "{\"args\":\"cs50.io 42-7 32\"}\n" {
		t.Fatalf("stdout=%q", got)
	}

	tests := []struct {
		path    string
		timeout time.Duration
		code    Code
		exit    int
	}{
		{"./missing", 0, CodeNotFound, -1},
		{"./noexec", 0, CodePermissionDenied, -1},
		{"./fail", 0, CodeFailed, 3},
		{"./slow", 50 * time.Millisecond, CodeFailed, -1},
	}
	for _, tc := range tests {
		_, err := l.Exec(ctx, Command{Path: tc.path, Dir: dir, Timeout: tc.timeout})
		if got := CodeOf(err); got != tc.code {
			t.Fatalf("%s: code=%q want %q (err=%v)", tc.path, got, tc.code, err)
		}
		var re *Error
		if !errors.As(err, &re) || re.ExitCode != tc.exit {
			t.Fatalf("%s: exit=%v want %d", tc.path, err, tc.exit)
		}
	}
}

func TestLocalExecStdin(t *testing.T) {
	l := NewLocal(logx.Nop())
	res, err := l.Exec(context.Background(), Command{Path: "cat", Stdin: []byte("payload")})
	if err != nil {
		t.Fatalf("cat: %v", err)
	}
	if string(res.Stdout) != "payload" {
		t.Fatalf("stdout=%q", res.Stdout)
	}
}

func TestCodeOf(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		err  error
		want Code
	}{
		{nil, ""},
		{io.EOF, CodeDisconnected},
		{os.ErrNotExist, CodeNotFound},
		{os.ErrPermission, CodePermissionDenied},
		{errors.New("other"), CodeFailed},
		{&Error{Code: CodeDisconnected}, CodeDisconnected},
	} {
		if got := CodeOf(tc.err); got != tc.want {
			t.Fatalf("CodeOf(%v)=%q want %q", tc.err, got, tc.want)
		}
	}
}

func TestShellLine(t *testing.T) {
	t.Parallel()
	got := ShellLine(Command{Path: "./.info50", Dir: "~/bin/", Args: []string{"cs50.io", "it's"}})
	want := `cd "$HOME"/'bin/' || exit 127; exec './.info50' 'cs50.io' 'it'\''s'`
	if got != want {
		t.Fatalf("ShellLine=%s\nwant       %s", got, want)
	}
}

func TestShellLineMissingDirIsNotFound(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "gone")
	line := ShellLine(Command{Path: "./.info50", Dir: missing})

	l := NewLocal(logx.Nop())
	_, err := l.Exec(context.Background(), Command{Path: "sh", Args: []string{"-c", line}})
	if got := CodeOf(err); got != CodeNotFound {
		t.Fatalf("code=%q want %q (err=%v)", got, CodeNotFound, err)
	}
	var re *Error
	if !errors.As(err, &re) || re.ExitCode != 127 {
		t.Fatalf("exit=%v want 127", err)
	}
}

func TestExpandHome(t *testing.T) {
	t.Parallel()
	if got := ExpandHome("~/bin/", "/home/u"); got != "/home/u/bin" {
		t.Fatalf("got %q", got)
	}
	if got := ExpandHome("/opt/bin", "/home/u"); got != "/opt/bin" {
		t.Fatalf("got %q", got)
	}
}
