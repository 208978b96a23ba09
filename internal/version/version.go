// Package version provides build-time version information.
//
// Variables are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/rickgao/exaroton/internal/version.Version=1.0.0 \
//	                   -X github.com/rickgao/exaroton/internal/version.Commit=$(git rev-parse --short HEAD)"
package version

// Build-time variables (set via ldflags)
var (
	Version = "dev"
	Commit  = "unknown"
)

// UserAgent identifies the client in REST and WebSocket requests.
func UserAgent() string {
	ua := "exaroton-go/" + Version
	if Commit != "unknown" {
		ua += " (" + Commit + ")"
	}
	return ua
}
