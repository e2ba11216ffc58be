// Package fsys is the small file-system surface the provisioner needs:
// existence, write and chmod, on this host (afero) or on the remote target.
package fsys

import (
	"context"
	"os"
)

type FS interface {
	Exists(ctx context.Context, path string) (bool, error)
	WriteFile(ctx context.Context, path string, data []byte) error
	Chmod(ctx context.Context, path string, mode os.FileMode) error
}
