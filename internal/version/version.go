// Package version holds build metadata injected via -ldflags.
package version

import "fmt"

var (
	Version = "dev"
	Commit  = "none"
)

// String returns the version line shown by --version.
func String() string {
	return fmt.Sprintf("%s (%s)", Version, Commit)
}
