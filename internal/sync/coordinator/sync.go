package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stacklok/cargo-registry-server/internal/errs"
	"github.com/stacklok/cargo-registry-server/internal/status"
)

// runPass executes one index pass and records its outcome. It returns false
// once the worker is halted.
func (c *defaultCoordinator) runPass(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}

	var attempt int
	c.withStatus(ctx, func(s *status.WorkerStatus) {
		now := time.Now()
		s.Phase = status.PhaseSyncing
		s.Message = "Index pass in progress"
		s.LastAttempt = &now
		attempt = s.AttemptCount + 1
	})
	slog.Debug("Starting index pass", "attempt", attempt)

	result, err := c.manager.PerformPass(ctx)

	switch {
	case err == nil:
		c.withStatus(ctx, func(s *status.WorkerStatus) {
			now := time.Now()
			s.Phase = status.PhaseComplete
			s.Message = "Index pass completed"
			s.LastSuccess = &now
			s.LastCommit = result.Head
			s.LastOutcome = result.Outcome.String()
			s.CommittedTotal += result.Committed
			s.FailedRows = result.Failed
			s.AttemptCount = 0
		})
		return true

	case errs.Is(err, errs.KindFatal):
		c.halt(ctx, err)
		return false

	case ctx.Err() != nil:
		// Shutdown interrupted the pass; the next start picks up where it stopped
		c.withStatus(ctx, func(s *status.WorkerStatus) {
			s.Phase = status.PhaseIdle
			s.Message = "Index pass interrupted by shutdown"
		})
		return true

	default:
		c.withStatus(ctx, func(s *status.WorkerStatus) {
			s.Phase = status.PhaseFailed
			s.Message = err.Error()
			s.AttemptCount++
		})
		slog.Error("Index pass failed, will retry",
			"kind", errs.KindOf(err).String(),
			"attempt", attempt,
			"error", err)
		return true
	}
}

// halt stops all further index mutation until the process is restarted
func (c *defaultCoordinator) halt(ctx context.Context, err error) {
	c.withStatus(ctx, func(s *status.WorkerStatus) {
		s.Phase = status.PhaseHalted
		s.Message = fmt.Sprintf("Index worker halted: %v", err)
	})
	slog.Error("Index worker halted, operator action required",
		"kind", errs.KindOf(err).String(),
		"error", err)
}
