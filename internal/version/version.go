// Package version carries build metadata set through -ldflags.
package version

import "fmt"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func Full() string {
	return fmt.Sprintf("engram %s, commit %s, built at %s", Version, Commit, Date)
}
