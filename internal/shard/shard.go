// Package shard maps crate names to their bucketed location. The same
// relative path addresses both the crate's file in the index repository and
// its directory in the archive store.
package shard

import (
	"path"

	"github.com/stacklok/cargo-registry-server/internal/errs"
)

// Path returns the slash-separated relative path for name:
//
//	a      -> 1/a
//	ab     -> 2/ab
//	abc    -> 3/abc
//	abcd.. -> ab/cd/abcd..
//
// The result depends on name only.
func Path(name string) (string, error) {
	runes := []rune(name)
	switch len(runes) {
	case 0:
		return "", errs.Validationf("shard", "crate name cannot be empty")
	case 1:
		return path.Join("1", name), nil
	case 2:
		return path.Join("2", name), nil
	case 3:
		return path.Join("3", name), nil
	default:
		return path.Join(string(runes[:2]), string(runes[2:4]), name), nil
	}
}
