package version

import "fmt"

var (
	// Version is the semantic version of okxwatch, set via -ldflags.
	Version = "dev"
	// Commit is the git commit hash, set via -ldflags.
	Commit = "unknown"
	// BuildDate is the build timestamp, set via -ldflags.
	BuildDate = "unknown"
)

// String renders the build information block printed by `okxwatch version`.
func String() string {
	return fmt.Sprintf("okxwatch %s\ncommit: %s\nbuilt: %s", Version, Commit, BuildDate)
}
