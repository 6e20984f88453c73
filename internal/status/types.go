package status

import "time"

// Phase represents the current phase of the index worker
type Phase string

const (
	// PhaseIdle means no pass has run yet
	PhaseIdle Phase = "Idle"

	// PhaseSyncing means a pass is in progress
	PhaseSyncing Phase = "Syncing"

	// PhaseComplete means the last pass completed
	PhaseComplete Phase = "Complete"

	// PhaseFailed means the last pass failed and will be retried
	PhaseFailed Phase = "Failed"

	// PhaseHalted means the worker hit an error that needs operator action
	// and will not run again until restarted
	PhaseHalted Phase = "Halted"
)

// WorkerStatus represents the current state of index synchronization
type WorkerStatus struct {
	// Phase represents the current phase
	Phase Phase `json:"phase"`

	// Message provides additional information about the status
	Message string `json:"message,omitempty"`

	// LastAttempt is the timestamp of the last pass
	LastAttempt *time.Time `json:"lastAttempt,omitempty"`

	// AttemptCount is the number of failed passes since the last success
	AttemptCount int `json:"attemptCount,omitempty"`

	// LastSuccess is the timestamp of the last completed pass
	LastSuccess *time.Time `json:"lastSuccess,omitempty"`

	// LastCommit is the index head after the last completed pass
	LastCommit string `json:"lastCommit,omitempty"`

	// LastOutcome is how the last completed pass reconciled with origin
	LastOutcome string `json:"lastOutcome,omitempty"`

	// CommittedTotal counts versions committed since the worker started
	CommittedTotal int `json:"committedTotal,omitempty"`

	// FailedRows is the number of rows left pending by the last pass
	FailedRows int `json:"failedRows,omitempty"`
}

// IsHalted reports whether the worker stopped for good
func (s *WorkerStatus) IsHalted() bool {
	return s != nil && s.Phase == PhaseHalted
}
