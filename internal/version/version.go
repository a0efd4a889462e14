// Package version holds build metadata injected via ldflags.
package version

import (
	"fmt"
	"runtime"
)

//nolint:revive // Set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// String formats the build metadata for `semsearch version`.
func String() string {
	return fmt.Sprintf("semsearch %s (commit %s, built %s, %s)", Version, Commit, Date, runtime.Version())
}
