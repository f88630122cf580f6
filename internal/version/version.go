package version

import (
	"fmt"
	"runtime"

	"github.com/carlmjohnson/versioninfo"
)

// These variables can be set at build time via ldflags:
//
//	go build -ldflags="-X github.com/muurk/solminer/internal/version.Version=v1.2.3 \
//	                   -X github.com/muurk/solminer/internal/version.Commit=abc123"
//
// If not set, they come from the VCS stamp in the build info.
var (
	// Version is the semantic version of the application
	Version = ""
	// Commit is the git commit hash
	Commit = ""
)

func init() {
	if Version == "" {
		Version = versioninfo.Version
		if Version == "" || Version == "unknown" || Version == "(devel)" {
			Version = "dev-" + versioninfo.LastCommit.Format("20060102")
			if versioninfo.LastCommit.IsZero() {
				Version = "dev"
			}
		}
	}
	if Commit == "" {
		Commit = shortCommit(versioninfo.Revision, versioninfo.DirtyBuild)
	}
}

// shortCommit trims a revision to seven characters and marks dirty trees.
func shortCommit(revision string, dirty bool) string {
	if revision == "" || revision == "unknown" {
		return "unknown"
	}
	if len(revision) > 7 {
		revision = revision[:7]
	}
	if dirty {
		revision += "-dirty"
	}
	return revision
}

// Short returns the version and commit, e.g. "v1.2.3 (abc1234)".
func Short() string {
	return fmt.Sprintf("%s (%s)", Version, Commit)
}

// Full returns the full version string including commit
func Full() string {
	return fmt.Sprintf("%s (commit: %s, %s %s/%s)", Version, Commit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
