package crate

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
)

// maxLineSize bounds a single index line when scanning an index file
const maxLineSize = 4 * 1024 * 1024

// IndexDependency is a dependency as cargo expects it in an index line
type IndexDependency struct {
	Name            string   `json:"name"`
	Req             string   `json:"req"`
	Features        []string `json:"features"`
	Optional        bool     `json:"optional"`
	DefaultFeatures bool     `json:"default_features"`
	Target          *string  `json:"target"`
	Kind            string   `json:"kind"`
	Registry        *string  `json:"registry"`

	// Package is the real crate name when Name is a rename
	Package *string `json:"package,omitempty"`
}

// IndexEntry is one line of a crate's index file, describing one version
type IndexEntry struct {
	Name     string              `json:"name"`
	Vers     string              `json:"vers"`
	Deps     []IndexDependency   `json:"deps"`
	Cksum    string              `json:"cksum"`
	Features map[string][]string `json:"features"`
	Yanked   bool                `json:"yanked"`
	Links    *string             `json:"links"`
}

// NewIndexEntry builds the index line for a published version
func NewIndexEntry(
	name, vers string, deps []Dependency, features map[string][]string, cksum string, links *string,
) *IndexEntry {
	entry := &IndexEntry{
		Name:     name,
		Vers:     vers,
		Deps:     make([]IndexDependency, 0, len(deps)),
		Cksum:    cksum,
		Features: features,
		Links:    links,
	}
	if entry.Features == nil {
		entry.Features = map[string][]string{}
	}

	for _, dep := range deps {
		idx := IndexDependency{
			Name:            dep.Name,
			Req:             dep.VersionReq,
			Features:        dep.Features,
			Optional:        dep.Optional,
			DefaultFeatures: dep.DefaultFeatures,
			Target:          dep.Target,
			Kind:            dep.Kind,
			Registry:        dep.Registry,
		}
		if idx.Features == nil {
			idx.Features = []string{}
		}
		if idx.Kind == "" {
			idx.Kind = KindNormal
		}
		if dep.ExplicitNameInToml != nil && *dep.ExplicitNameInToml != "" {
			original := dep.Name
			idx.Name = *dep.ExplicitNameInToml
			idx.Package = &original
		}
		entry.Deps = append(entry.Deps, idx)
	}

	return entry
}

// MarshalLine encodes the entry as a single newline-terminated JSON line
func (e *IndexEntry) MarshalLine() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode index entry %s@%s: %w", e.Name, e.Vers, err)
	}
	return append(data, '\n'), nil
}

// ContainsVersion reports whether an index file already holds a line for
// name at exactly vers. Build metadata is significant: a line for 1.0.0+a
// does not stand for 1.0.0+b. Lines that do not parse are skipped.
func ContainsVersion(content []byte, name, vers string) (bool, error) {
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var entry struct {
			Name string `json:"name"`
			Vers string `json:"vers"`
		}
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		if entry.Name == name && entry.Vers == vers {
			return true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("failed to scan index file: %w", err)
	}
	return false, nil
}

// AppendLine returns content with line appended, inserting a newline first
// when content does not already end with one. content is never modified.
func AppendLine(content, line []byte) []byte {
	out := make([]byte, 0, len(content)+len(line)+1)
	out = append(out, content...)
	if len(out) > 0 && out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	return append(out, line...)
}
