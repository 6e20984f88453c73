package versions

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// ParseCrateVersion parses a crate version. Cargo versions are strict
// semver: three numeric components, no leading "v", optional pre-release
// and build metadata.
func ParseCrateVersion(version string) (*semver.Version, error) {
	v, err := semver.StrictNewVersion(version)
	if err != nil {
		return nil, fmt.Errorf("invalid crate version %q: %w", version, err)
	}
	return v, nil
}

// SameVersion reports whether a and b name the same crate version.
// Build metadata is ignored, as cargo does when resolving.
func SameVersion(a, b string) bool {
	va, errA := semver.StrictNewVersion(a)
	vb, errB := semver.StrictNewVersion(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return va.Equal(vb)
}
