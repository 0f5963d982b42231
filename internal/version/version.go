// Package version carries build-time identification, overridable via
// -ldflags "-X".
package version

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)
