package assets

import (
	"bytes"
	"testing"
)

func TestEmbeddedScripts(t *testing.T) {
	t.Parallel()
	for name, body := range map[string][]byte{ProbeName: Probe(), UpdaterName: Updater()} {
		if !bytes.HasPrefix(body, []byte("#!/bin/sh")) {
			t.Fatalf("%s: missing shebang", name)
		}
	}
	p := Probe()
	p[0] = 'X'
	if Probe()[0] != '#' {
		t.Fatalf("Probe must return a copy")
	}
}

func TestJoin(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct{ dir, want string }{
		{"~/bin/", "~/bin/.info50"},
		{"~/bin", "~/bin/.info50"},
		{"/opt/ide", "/opt/ide/.info50"},
		{"", ".info50"},
	} {
		if got := Join(tc.dir, ProbeName); got != tc.want {
			t.Fatalf("Join(%q)=%q want %q", tc.dir, got, tc.want)
		}
	}
}
