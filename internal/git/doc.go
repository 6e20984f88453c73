// Package git owns the on-disk crate index repository.
//
// The index is a regular Git working tree mirrored from a single remote
// origin and a single tracked branch. Before every mutation the repository
// is brought up to date with origin:
//
//   - an absent or empty directory is cloned from origin
//   - a path occupied by a plain file or by something that is not a
//     repository is a fatal configuration error
//   - an existing repository must have an "origin" remote pointing at the
//     configured URL, otherwise the error is fatal
//   - the tracked branch is fetched and the local branch is either left
//     alone (up to date or strictly ahead) or fast-forwarded
//   - diverged history is reported as a fatal error and nothing is changed
//
// Network operations run with a per-attempt timeout and bounded
// exponential backoff. Errors carry an errs.Kind so callers can tell
// transient connectivity failures from conditions that need an operator.
//
// A Repository is not safe for concurrent use. Exactly one owner (the sync
// worker) holds it, and Lock takes an advisory file lock next to the
// working tree so that a second process pointed at the same directory
// fails fast instead of corrupting it.
//
// # Example Usage
//
//	repo, err := git.New(git.Config{
//	    Path:      "/var/lib/cargo-registry/index",
//	    OriginURL: "https://github.com/example/crate-index.git",
//	})
//	if err != nil {
//	    return err
//	}
//	if err := repo.Lock(); err != nil {
//	    return err
//	}
//	defer repo.Unlock()
//
//	if _, err := repo.Sync(ctx); err != nil {
//	    return err
//	}
//	if err := repo.WriteFile("se/rd/serde", content); err != nil {
//	    return err
//	}
//	commit, err := repo.Commit([]string{"se/rd/serde"}, "Updating crate `serde#1.0.0`")
package git
