package settings

// IntKey is an integer setting with a declared default.
type IntKey struct {
	Path    string
	Default int
}

// BoolKey is a boolean setting with a declared default.
type BoolKey struct {
	Path    string
	Default bool
}

var (
	// RefreshRate is the poll interval in seconds.
	RefreshRate = IntKey{Path: "user/info/@refreshRate", Default: 30}
	// Public mirrors the shared workspace visibility.
	Public = BoolKey{Path: "project/info/@public", Default: false}
	// InfoRevision is the installed revision of the probe script.
	InfoRevision = IntKey{Path: "project/info/@ver", Default: 0}
	// UpdateRevision is the installed revision of the update script.
	UpdateRevision = IntKey{Path: "project/info/@updateVer", Default: 0}
	// LatestVersion caches the newest published version seen in the package index.
	LatestVersion = IntKey{Path: "project/info/@latestVersion", Default: 0}
)

// Known lists every declared key, for status output and the CLI.
func Known() []string {
	return []string{RefreshRate.Path, Public.Path, InfoRevision.Path, UpdateRevision.Path, LatestVersion.Path}
}
