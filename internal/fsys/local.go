package fsys

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"ideinfo/internal/remote"
)

// Local is an FS over an afero file system. Paths starting with "~/" are
// resolved against Home.
type Local struct {
	fs   afero.Fs
	home string
}

// NewLocal wraps fs. Tests pass afero.NewMemMapFs().
func NewLocal(fs afero.Fs, home string) *Local { return &Local{fs: fs, home: home} }

// NewOS is the real file system with the current user's home.
func NewOS() *Local {
	home, _ := os.UserHomeDir()
	return NewLocal(afero.NewOsFs(), home)
}

func (l *Local) path(p string) string { return remote.ExpandHome(p, l.home) }

func (l *Local) Exists(_ context.Context, p string) (bool, error) {
	return afero.Exists(l.fs, l.path(p))
}

// WriteFile creates missing parent directories, then replaces the file.
func (l *Local) WriteFile(_ context.Context, p string, data []byte) error {
	p = l.path(p)
	if err := l.fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(l.fs, p, data, 0o644)
}

func (l *Local) Chmod(_ context.Context, p string, mode os.FileMode) error {
	return l.fs.Chmod(l.path(p), mode)
}
