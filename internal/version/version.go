// Package version carries build identifiers stamped in via -ldflags.
package version

// Version and Commit are overridden at build time with:
//
//	-ldflags "-X github.com/wisbric/agentguard/internal/version.Version=... -X .../version.Commit=..."
var (
	Version = "dev"
	Commit  = "unknown"
)
