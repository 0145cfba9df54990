// Package buildinfo carries version metadata stamped in at link time:
//
//	go build -ldflags "-X github.com/m3rciful/relaybot/core/buildinfo.Version=v0.3.0 \
//	  -X github.com/m3rciful/relaybot/core/buildinfo.Commit=$(git rev-parse --short HEAD) \
//	  -X github.com/m3rciful/relaybot/core/buildinfo.Date=$(date -u +%FT%TZ)" ./cmd/relaybot
package buildinfo

import "fmt"

var (
	// Version is the release tag, "dev" for local builds.
	Version = "dev"
	// Commit is the short source revision.
	Commit = "local"
	// Date is the RFC3339 build time; empty when not stamped.
	Date = ""
)

// String renders the metadata for --version output.
func String() string {
	date := Date
	if date == "" {
		date = "unknown"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, date)
}
