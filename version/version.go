// Package version holds build-time identity stamped in via -ldflags.
package version

import "fmt"

// Version, GitCommit, and BuildDate are overridden at build time with:
//
//	-ldflags "-X github.com/transientvm/transient/version.Version=... \
//	          -X github.com/transientvm/transient/version.GitCommit=... \
//	          -X github.com/transientvm/transient/version.BuildDate=..."
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// String renders a one-line version banner for "transient version".
func String() string {
	return fmt.Sprintf("transient %s (commit %s, built %s)", Version, GitCommit, BuildDate)
}
