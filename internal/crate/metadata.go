// Package crate holds the data model exchanged with cargo: the metadata
// submitted on publish and the per-version line written to the index.
package crate

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/stacklok/cargo-registry-server/internal/errs"
	"github.com/stacklok/cargo-registry-server/internal/versions"
)

// Dependency kinds accepted by cargo
const (
	KindNormal = "normal"
	KindDev    = "dev"
	KindBuild  = "build"
)

// MaxNameLength is the longest crate name accepted on publish
const MaxNameLength = 64

var crateNameRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// Dependency is a direct dependency as declared in the publish payload
type Dependency struct {
	// Name of the dependency. When renamed in Cargo.toml this is the
	// original crate name and ExplicitNameInToml carries the new name.
	Name string `json:"name"`

	// VersionReq is the semver requirement, e.g. "^1.0"
	VersionReq string `json:"version_req"`

	Features        []string `json:"features"`
	Optional        bool     `json:"optional"`
	DefaultFeatures bool     `json:"default_features"`

	// Target is a platform predicate such as "cfg(windows)"
	Target *string `json:"target"`

	// Kind is one of "normal", "dev" or "build"
	Kind string `json:"kind"`

	// Registry is the index URL of the dependency's registry.
	// Nil means the dependency lives in this registry.
	Registry *string `json:"registry"`

	ExplicitNameInToml *string `json:"explicit_name_in_toml"`
}

// Metadata is the JSON document cargo sends ahead of the archive on publish
type Metadata struct {
	Name     string              `json:"name"`
	Vers     string              `json:"vers"`
	Deps     []Dependency        `json:"deps"`
	Features map[string][]string `json:"features"`
	Authors  []string            `json:"authors"`

	Description   *string `json:"description"`
	Documentation *string `json:"documentation"`
	Homepage      *string `json:"homepage"`
	Readme        *string `json:"readme"`
	ReadmeFile    *string `json:"readme_file"`

	Keywords   []string `json:"keywords"`
	Categories []string `json:"categories"`

	License     *string `json:"license"`
	LicenseFile *string `json:"license_file"`
	Repository  *string `json:"repository"`

	// Badges are accepted for compatibility and otherwise ignored
	Badges map[string]map[string]string `json:"badges,omitempty"`

	Links *string `json:"links"`
}

// DecodeMetadata parses and validates a publish metadata document
func DecodeMetadata(data []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errs.E(errs.KindValidation, "decode metadata", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	m.normalize()
	return &m, nil
}

// Validate checks the fields cargo and the index rely on
func (m *Metadata) Validate() error {
	if err := ValidateName(m.Name); err != nil {
		return err
	}
	if _, err := versions.ParseCrateVersion(m.Vers); err != nil {
		return errs.E(errs.KindValidation, "validate metadata", err)
	}
	for i, dep := range m.Deps {
		if dep.Name == "" {
			return errs.Validationf("validate metadata", "deps[%d]: name is required", i)
		}
		if dep.VersionReq == "" {
			return errs.Validationf("validate metadata", "deps[%d] (%s): version_req is required", i, dep.Name)
		}
		switch dep.Kind {
		case "", KindNormal, KindDev, KindBuild:
		default:
			return errs.Validationf("validate metadata", "deps[%d] (%s): unknown kind %q", i, dep.Name, dep.Kind)
		}
	}
	return nil
}

// normalize fills defaults so that stored rows and index lines never carry
// JSON nulls where cargo expects arrays or objects
func (m *Metadata) normalize() {
	if m.Deps == nil {
		m.Deps = []Dependency{}
	}
	for i := range m.Deps {
		if m.Deps[i].Kind == "" {
			m.Deps[i].Kind = KindNormal
		}
		if m.Deps[i].Features == nil {
			m.Deps[i].Features = []string{}
		}
	}
	if m.Features == nil {
		m.Features = map[string][]string{}
	}
	if m.Authors == nil {
		m.Authors = []string{}
	}
	if m.Keywords == nil {
		m.Keywords = []string{}
	}
	if m.Categories == nil {
		m.Categories = []string{}
	}
}

// ValidateName checks a crate name against the rules crates.io applies
func ValidateName(name string) error {
	if name == "" {
		return errs.Validationf("validate name", "crate name cannot be empty")
	}
	if len(name) > MaxNameLength {
		return errs.Validationf("validate name", "crate name %q exceeds %d characters", name, MaxNameLength)
	}
	if !crateNameRegex.MatchString(name) {
		return errs.E(errs.KindValidation, "validate name",
			fmt.Errorf("crate name %q must start with a letter and contain only letters, digits, '-' or '_'", name))
	}
	return nil
}
