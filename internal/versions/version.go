// Package versions provides build information for the cargo registry server
// and helpers for comparing crate versions.
package versions

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const unknownStr = "unknown"

// Build information, overridden with -ldflags "-X" in release builds
var (
	// Version is the released server version, "dev" for local builds
	Version = "dev"
	// Commit is the git commit hash of the build
	//nolint:goconst // This is a placeholder for the commit hash
	Commit = unknownStr
	// BuildDate is the date when the binary was built
	//nolint:goconst // This is a placeholder for the build date
	BuildDate = unknownStr
)

// VersionInfo is what /version and `cargo-registry-api version` report
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetVersionInfo returns the build information of the running binary
func GetVersionInfo() VersionInfo {
	var settings []debug.BuildSetting
	if info, ok := debug.ReadBuildInfo(); ok {
		settings = info.Settings
	}
	return buildVersionInfo(Version, Commit, BuildDate, settings)
}

// buildVersionInfo fills in what ldflags left unset. Development builds take
// the commit and date from the VCS stamp the go tool embeds.
func buildVersionInfo(version, commit, buildDate string, settings []debug.BuildSetting) VersionInfo {
	if strings.HasPrefix(version, "dev") {
		for _, s := range settings {
			switch {
			case s.Key == "vcs.revision" && commit == unknownStr:
				commit = s.Value
			case s.Key == "vcs.time" && buildDate == unknownStr:
				buildDate = s.Value
			}
		}
	}

	if t, err := time.Parse(time.RFC3339, buildDate); err == nil {
		buildDate = t.UTC().Format("2006-01-02 15:04:05 MST")
	}

	// Plain dev builds are named after their commit
	if version == "dev" {
		version = fmt.Sprintf("build-%.*s", 8, commit)
	}

	return VersionInfo{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}
