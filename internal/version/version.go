// Package version holds build metadata injected via ldflags.
package version

//nolint:revive // Set via ldflags at build time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String renders the build stamp for startup logging.
func String() string {
	return Version + " (" + Commit + ", " + BuildDate + ")"
}
