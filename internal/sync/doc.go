// Package sync moves accepted crate versions from the metadata store into
// the index repository.
//
// # Core Interfaces
//
//   - Manager: runs one index pass (domain logic only, no scheduling)
//   - Index: the subset of the git repository a pass reads and writes
//
// # Index Pass
//
// A pass refreshes the local clone from origin, then walks every pending
// version oldest first. For each one it appends the version's JSON line to
// the crate's index file, commits that single file and records the commit
// id on the metadata row. A version whose line is already present is not
// appended again; only its row is marked. When pushing is enabled the
// commits made during the pass are pushed once at the end.
//
// # Coordinator Package
//
// The sync/coordinator subpackage owns scheduling: the wake signal, the
// periodic pass, status persistence and shutdown. See its documentation
// for details.
//
// # Result Types
//
//   - Result: commit counts and the head commit after a pass
//
// Errors are classified with the errs package. Transient failures leave the
// pending rows untouched for the next pass, and fatal ones stop the worker.
package sync
