// Package version holds build metadata for the routerag binary, injected
// at link time:
//
//	go build -ldflags="-X github.com/54b3r/routerag-go/internal/version.Version=v0.3.0 \
//	                    -X github.com/54b3r/routerag-go/internal/version.Commit=abc1234 \
//	                    -X github.com/54b3r/routerag-go/internal/version.BuildDate=2026-01-01"
package version

import "fmt"

// Version is the semantic version of the binary. "dev" for local builds.
var Version = "dev"

// Commit is the short git SHA the binary was built from.
var Commit = "unknown"

// BuildDate is the UTC build date in RFC3339 format.
var BuildDate = "unknown"

// String renders the build metadata on a single line.
func String() string {
	return fmt.Sprintf("routerag %s (commit %s, built %s)", Version, Commit, BuildDate)
}
