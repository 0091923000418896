// Package version defines livefeed version information and build metadata.
//
// CommitHash and Dirty should be set with -ldflags during compilation, e.g.
//
//	-ldflags "-X .../internal/version.CommitHash=$(git rev-parse --short HEAD)"
package version

import (
	"fmt"
	"strings"
)

// CommitHash stores the git commit hash of this build.
var CommitHash string

// Dirty is "true" when the build tree contained uncommitted changes.
var Dirty string

// These constants define the application version and follow the semantic
// versioning 2.0.0 spec (https://semver.org/).
const (
	appMajor uint = 1
	appMinor uint = 0
	appPatch uint = 0

	appPreRelease = ""
)

// Version returns the application version as a properly formed string per the
// semantic versioning 2.0.0 spec (https://semver.org/).
func Version() string {
	return semanticVersion()
}

// RichVersion returns the semantic version along with best-effort build
// metadata: the commit hash and a dirty marker, when set.
func RichVersion() string {
	version := semanticVersion()
	parts := make([]string, 0, 2)
	if hash := strings.TrimSpace(CommitHash); hash != "" {
		parts = append(parts, fmt.Sprintf("commit=%s", hash))
	}
	if Dirty == "true" {
		parts = append(parts, "dirty")
	}
	if len(parts) == 0 {
		return version
	}
	return fmt.Sprintf("%s (%s)", version, strings.Join(parts, " "))
}

func semanticVersion() string {
	version := fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)
	if appPreRelease != "" {
		version = fmt.Sprintf("%s-%s", version, appPreRelease)
	}
	return version
}
