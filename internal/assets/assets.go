// Package assets embeds the helper scripts installed on the target.
package assets

import (
	_ "embed"
	"path"
	"strings"
)

var (
	//go:embed bin/info50.sh
	probe []byte
	//go:embed bin/update50.sh
	updater []byte
)

// Script names on the target.
const (
	ProbeName   = ".info50"
	UpdaterName = "update50"
)

// Revisions of the embedded scripts. Bump when the content changes so
// existing installs get rewritten.
const (
	ProbeRevision   = 1
	UpdaterRevision = 1
)

func Probe() []byte   { return append([]byte(nil), probe...) }
func Updater() []byte { return append([]byte(nil), updater...) }

// Join places a script name under an install dir, keeping "~/" intact.
func Join(dir, name string) string {
	if dir == "" {
		return name
	}
	return path.Join(strings.TrimSuffix(dir, "/"), name)
}
