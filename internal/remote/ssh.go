package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	logx "ideinfo/pkg/logx"
)

type SSHConfig struct {
	Addr                  string
	User                  string
	KeyFile               string
	Password              string
	KnownHosts            string
	InsecureIgnoreHostKey bool
	DialTimeout           time.Duration
}

// SSH runs commands on a remote host over one shared connection, redialing
// after the connection drops.
type SSH struct {
	cfg       SSHConfig
	clientCfg *ssh.ClientConfig
	log       logx.Logger

	mu     sync.Mutex
	client *ssh.Client
}

func NewSSH(cfg SSHConfig, log logx.Logger) (*SSH, error) {
	var auth []ssh.AuthMethod
	if cfg.KeyFile != "" {
		pem, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if len(auth) == 0 {
		return nil, errors.New("ssh: no auth method configured")
	}

	var hostKey ssh.HostKeyCallback
	switch {
	case cfg.KnownHosts != "":
		cb, err := knownhosts.New(cfg.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts: %w", err)
		}
		hostKey = cb
	case cfg.InsecureIgnoreHostKey:
		log.Warn("ssh host key verification disabled", logx.String("addr", cfg.Addr))
		hostKey = ssh.InsecureIgnoreHostKey()
	default:
		return nil, errors.New("ssh: known_hosts required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	return &SSH{
		cfg: cfg,
		log: log,
		clientCfg: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            auth,
			HostKeyCallback: hostKey,
			Timeout:         cfg.DialTimeout,
		},
	}, nil
}

func (s *SSH) conn(ctx context.Context) (*ssh.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	d := net.Dialer{Timeout: s.cfg.DialTimeout}
	nc, err := d.DialContext(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(nc, s.cfg.Addr, s.clientCfg)
	if err != nil {
		_ = nc.Close()
		return nil, err
	}
	s.client = ssh.NewClient(c, chans, reqs)
	s.log.Info("ssh connected", logx.String("addr", s.cfg.Addr), logx.String("user", s.cfg.User))
	return s.client, nil
}

// drop forgets a broken client so the next Exec redials.
func (s *SSH) drop(c *ssh.Client) {
	s.mu.Lock()
	if s.client == c {
		s.client = nil
	}
	s.mu.Unlock()
	_ = c.Close()
}

func (s *SSH) Exec(ctx context.Context, c Command) (Result, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	op := "ssh " + c.Path

	client, err := s.conn(ctx)
	if err != nil {
		return Result{ExitCode: -1}, &Error{Code: CodeDisconnected, Op: op, ExitCode: -1, Err: err}
	}
	sess, err := client.NewSession()
	if err != nil {
		s.drop(client)
		return Result{ExitCode: -1}, &Error{Code: CodeDisconnected, Op: op, ExitCode: -1, Err: err}
	}
	defer sess.Close()

	var stdout, stderr limitedBuffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr
	if c.Stdin != nil {
		sess.Stdin = bytes.NewReader(c.Stdin)
	}

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- sess.Run(ShellLine(c)) }()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		_ = sess.Close()
		<-done
		res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitCode: -1, Duration: time.Since(start)}
		return res, &Error{Code: CodeFailed, Op: op, ExitCode: -1, TimedOut: true, Err: ctx.Err()}
	}

	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), Duration: time.Since(start)}
	if runErr == nil {
		return res, nil
	}

	re := &Error{Op: op, Stderr: string(res.Stderr)}
	var exitErr *ssh.ExitError
	var missing *ssh.ExitMissingError
	switch {
	case errors.As(runErr, &exitErr):
		re.ExitCode = exitErr.ExitStatus()
		re.Code = exitCodeClass(re.ExitCode)
	case errors.As(runErr, &missing):
		re.Code, re.ExitCode, re.Err = CodeDisconnected, -1, runErr
		s.drop(client)
	default:
		re.Code, re.ExitCode, re.Err = classify(runErr), -1, runErr
		if re.Code == CodeDisconnected {
			s.drop(client)
		}
	}
	res.ExitCode = re.ExitCode
	return res, re
}

func (s *SSH) Close() error {
	s.mu.Lock()
	c := s.client
	s.client = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}

// ShellLine renders c as a POSIX shell command line: cd into Dir, then exec
// Path with Args. A missing Dir exits 127 like a missing command. Everything
// is single-quoted except a leading "~/".
func ShellLine(c Command) string {
	var b strings.Builder
	if c.Dir != "" {
		b.WriteString("cd ")
		b.WriteString(QuotePath(c.Dir))
		b.WriteString(" || exit 127; ")
	}
	b.WriteString("exec ")
	b.WriteString(QuotePath(c.Path))
	for _, a := range c.Args {
		b.WriteByte(' ')
		b.WriteString(Quote(a))
	}
	return b.String()
}

// Quote single-quotes s for a POSIX shell.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// QuotePath is Quote that keeps a leading "~/" expandable.
func QuotePath(p string) string {
	if p == "~" {
		return `"$HOME"`
	}
	if rest, ok := strings.CutPrefix(p, "~/"); ok {
		return `"$HOME"/` + Quote(rest)
	}
	return Quote(p)
}
