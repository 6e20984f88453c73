package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/stacklok/cargo-registry-server/internal/status"
	pkgsync "github.com/stacklok/cargo-registry-server/internal/sync"
)

// Coordinator is the single owner of the index. It runs index passes when
// woken by a publish and on a periodic timer.
type Coordinator interface {
	// Start runs the worker loop. It blocks until the context is cancelled
	// or Stop is called. It returns an error only if the worker could not
	// take ownership of the index.
	Start(ctx context.Context) error

	// Stop cancels the loop and waits for an in-flight pass to finish
	Stop() error

	// Notify asks for a pass. It never blocks; requests made while a pass
	// is running collapse into one follow-up pass.
	Notify()

	// Status returns a snapshot of the worker status
	Status() *status.WorkerStatus
}

// Locker guards the index directory against a second worker
type Locker interface {
	Lock() error
	Unlock() error
}

// defaultCoordinator is the default implementation of Coordinator
type defaultCoordinator struct {
	manager      pkgsync.Manager
	persistence  status.StatusPersistence
	locker       Locker
	pollInterval time.Duration

	// wake holds at most one pending request
	wake chan struct{}

	mu     gosync.RWMutex
	status *status.WorkerStatus

	// Lifecycle management
	lifecycle  gosync.Mutex
	cancelFunc context.CancelFunc
	done       chan struct{}
}

// Option is a function that configures the coordinator
type Option func(*defaultCoordinator)

// WithPollInterval sets the base interval between periodic passes
func WithPollInterval(interval time.Duration) Option {
	return func(c *defaultCoordinator) {
		c.pollInterval = interval
	}
}

// WithLocker makes the coordinator hold lock while it runs
func WithLocker(locker Locker) Option {
	return func(c *defaultCoordinator) {
		c.locker = locker
	}
}

// WithStatusPersistence sets where the worker status is saved
func WithStatusPersistence(p status.StatusPersistence) Option {
	return func(c *defaultCoordinator) {
		c.persistence = p
	}
}

// New creates a new coordinator with injected dependencies
func New(manager pkgsync.Manager, opts ...Option) Coordinator {
	c := &defaultCoordinator{
		manager:      manager,
		persistence:  status.NewMemoryStatusPersistence(),
		pollInterval: DefaultPollInterval,
		wake:         make(chan struct{}, 1),
		status:       &status.WorkerStatus{Phase: status.PhaseIdle},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Start begins the worker loop
func (c *defaultCoordinator) Start(ctx context.Context) error {
	coordCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.lifecycle.Lock()
	if c.done != nil {
		c.lifecycle.Unlock()
		cancel()
		return fmt.Errorf("index worker already started")
	}
	c.cancelFunc = cancel
	c.done = done
	c.lifecycle.Unlock()

	defer func() {
		cancel()
		close(done)
		slog.Info("Index worker shut down")
	}()

	if c.locker != nil {
		if err := c.locker.Lock(); err != nil {
			c.halt(ctx, err)
			return fmt.Errorf("failed to take ownership of the index: %w", err)
		}
		defer func() {
			if err := c.locker.Unlock(); err != nil {
				slog.Warn("Failed to release index lock", "error", err)
			}
		}()
	}

	c.restoreStatus(coordCtx)

	pollingInterval := calculatePollingInterval(c.pollInterval)
	slog.Info("Starting index worker",
		"base_interval", c.pollInterval,
		"actual_interval", pollingInterval)

	ticker := time.NewTicker(pollingInterval)
	defer ticker.Stop()

	// Pick up anything published while the worker was down
	if !c.runPass(coordCtx) {
		return c.waitHalted(coordCtx)
	}

	for {
		select {
		case <-c.wake:
			if !c.runPass(coordCtx) {
				return c.waitHalted(coordCtx)
			}
		case <-ticker.C:
			if !c.runPass(coordCtx) {
				return c.waitHalted(coordCtx)
			}
			ticker.Reset(calculatePollingInterval(c.pollInterval))
		case <-coordCtx.Done():
			c.drain()
			slog.Info("Index worker stopping")
			return nil
		}
	}
}

// waitHalted parks a halted worker until shutdown. Wake requests are
// dropped; nothing runs again until the process restarts.
func (c *defaultCoordinator) waitHalted(ctx context.Context) error {
	<-ctx.Done()
	c.drain()
	return nil
}

// drain discards a pending wake request
func (c *defaultCoordinator) drain() {
	select {
	case <-c.wake:
	default:
	}
}

// Stop gracefully stops the coordinator
func (c *defaultCoordinator) Stop() error {
	c.lifecycle.Lock()
	cancel, done := c.cancelFunc, c.done
	c.lifecycle.Unlock()

	if cancel != nil {
		slog.Info("Stopping index worker")
		cancel()
		<-done
	}
	return nil
}

// Notify implements Coordinator
func (c *defaultCoordinator) Notify() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Status implements Coordinator
func (c *defaultCoordinator) Status() *status.WorkerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snapshot := *c.status
	return &snapshot
}

// restoreStatus carries the last known commit across restarts
func (c *defaultCoordinator) restoreStatus(ctx context.Context) {
	previous, err := c.persistence.LoadStatus(ctx)
	if err != nil {
		slog.Warn("Failed to load previous worker status", "error", err)
		return
	}
	c.withStatus(ctx, func(s *status.WorkerStatus) {
		s.LastCommit = previous.LastCommit
		s.LastOutcome = previous.LastOutcome
		s.LastSuccess = previous.LastSuccess
	})
}

// withStatus mutates the status under lock and persists the result
func (c *defaultCoordinator) withStatus(ctx context.Context, fn func(*status.WorkerStatus)) {
	c.mu.Lock()
	fn(c.status)
	snapshot := *c.status
	c.mu.Unlock()

	if err := c.persistence.SaveStatus(context.WithoutCancel(ctx), &snapshot); err != nil {
		slog.Warn("Failed to persist worker status", "phase", snapshot.Phase, "error", err)
	}
}
