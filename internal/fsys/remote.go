package fsys

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"ideinfo/internal/remote"
)

const opTimeout = 30 * time.Second

// Remote implements FS with POSIX shell commands through an executor.
type Remote struct {
	exec remote.Executor
}

func NewRemote(exec remote.Executor) *Remote { return &Remote{exec: exec} }

func (r *Remote) sh(ctx context.Context, script string, stdin []byte) error {
	_, err := r.exec.Exec(ctx, remote.Command{
		Path:    "sh",
		Args:    []string{"-c", script},
		Stdin:   stdin,
		Timeout: opTimeout,
	})
	return err
}

func (r *Remote) Exists(ctx context.Context, p string) (bool, error) {
	err := r.sh(ctx, "test -e "+remote.QuotePath(p), nil)
	if err == nil {
		return true, nil
	}
	var re *remote.Error
	if errors.As(err, &re) && re.Code == remote.CodeFailed && re.ExitCode == 1 {
		return false, nil
	}
	return false, err
}

func (r *Remote) WriteFile(ctx context.Context, p string, data []byte) error {
	script := fmt.Sprintf(`p=%s; mkdir -p "$(dirname "$p")" && cat > "$p"`, remote.QuotePath(p))
	if data == nil {
		data = []byte{}
	}
	return r.sh(ctx, script, data)
}

func (r *Remote) Chmod(ctx context.Context, p string, mode os.FileMode) error {
	return r.sh(ctx, fmt.Sprintf("chmod %o %s", mode.Perm(), remote.QuotePath(p)), nil)
}
