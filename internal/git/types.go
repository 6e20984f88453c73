package git

import (
	"errors"
	"time"
)

const (
	// DefaultBranch is the only branch the index tracks
	DefaultBranch = "main"

	// RemoteName is the name the origin remote must have
	RemoteName = "origin"

	defaultAuthorName   = "cargo-registry"
	defaultAuthorEmail  = "cargo-registry@localhost"
	defaultTimeout      = 2 * time.Minute
	defaultMaxAttempts  = 3
	defaultLockFileName = ".lock"
)

// Fatal conditions. They are always wrapped in an *errs.Error of kind Fatal.
var (
	// ErrPathOccupied means the index path holds something other than a
	// directory or a Git repository
	ErrPathOccupied = errors.New("index path is occupied")

	// ErrOriginMismatch means the local repository does not track the
	// configured origin
	ErrOriginMismatch = errors.New("origin remote does not match configured URL")

	// ErrDiverged means local and remote history have no fast-forward relation
	ErrDiverged = errors.New("local and remote history have diverged")

	// ErrEmptyRemote means origin has no commits or lacks the tracked branch
	ErrEmptyRemote = errors.New("origin has no tracked branch to clone")

	// ErrLocked means another process holds the index lock
	ErrLocked = errors.New("index repository is locked by another process")

	// ErrNotReady means Sync has not completed successfully yet
	ErrNotReady = errors.New("index repository has not been synced")
)

// AuthConfig holds HTTP basic credentials for origin
type AuthConfig struct {
	Username string
	Password string
}

// Config describes the index repository
type Config struct {
	// Path is the local working tree directory
	Path string

	// OriginURL is the URL the "origin" remote must point at
	OriginURL string

	// Branch is the tracked branch, DefaultBranch when empty
	Branch string

	// AuthorName and AuthorEmail identify the service on commits
	AuthorName  string
	AuthorEmail string

	// Auth is optional
	Auth *AuthConfig

	// NetworkTimeout bounds a single clone, fetch or push attempt
	NetworkTimeout time.Duration

	// MaxAttempts bounds retries of network operations
	MaxAttempts uint

	// RetryInitialInterval overrides the first backoff delay when set
	RetryInitialInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.Branch == "" {
		c.Branch = DefaultBranch
	}
	if c.AuthorName == "" {
		c.AuthorName = defaultAuthorName
	}
	if c.AuthorEmail == "" {
		c.AuthorEmail = defaultAuthorEmail
	}
	if c.NetworkTimeout <= 0 {
		c.NetworkTimeout = defaultTimeout
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
}

// Outcome describes what Sync did to the local repository
type Outcome int

const (
	// OutcomeCloned means the repository was freshly cloned
	OutcomeCloned Outcome = iota
	// OutcomeUpToDate means local and remote point at the same commit
	OutcomeUpToDate
	// OutcomeFastForward means the local branch advanced to the remote commit
	OutcomeFastForward
	// OutcomeAhead means local holds commits origin does not have yet
	OutcomeAhead
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCloned:
		return "cloned"
	case OutcomeUpToDate:
		return "up-to-date"
	case OutcomeFastForward:
		return "fast-forward"
	case OutcomeAhead:
		return "ahead"
	default:
		return "unknown"
	}
}

// SyncResult is returned by Sync
type SyncResult struct {
	Outcome Outcome

	// Head is the local branch commit after the sync
	Head string

	// Remote is the fetched origin commit
	Remote string
}
