// Package coordinator runs the index worker: the only goroutine allowed to
// touch the index repository.
//
// The worker sits on top of sync.Manager and handles:
//
//   - Ownership of the index directory through a file lock
//   - An initial pass on startup
//   - Passes on demand through Notify, plus a jittered periodic pass
//   - Status tracking and persistence
//   - Graceful shutdown
//
// # Wake Signal
//
// Notify writes to a channel with capacity one and never blocks. Any number
// of Notify calls made while a pass is running leave at most one request
// behind, so a burst of publishes is handled by a single follow-up pass.
// A pass always rescans every pending row, so a dropped request loses no
// work.
//
// # Usage Example
//
//	manager := sync.NewManager(repo, metadataStore, sync.WithPush(true))
//	worker := coordinator.New(manager,
//	    coordinator.WithLocker(repo),
//	    coordinator.WithPollInterval(time.Minute),
//	)
//
//	go worker.Start(ctx)
//
//	// After each accepted publish
//	worker.Notify()
//
//	// On shutdown
//	worker.Stop()
//
// # Error Handling
//
//   - Transient errors (origin or database unreachable) mark the pass
//     Failed; the next wake or tick retries it.
//   - Fatal errors (occupied index path, origin mismatch, diverged history)
//     move the worker to Halted. No further pass runs until the process is
//     restarted after the operator fixed the repository.
//   - Per-row failures are handled by the manager and never stop a pass.
package coordinator
