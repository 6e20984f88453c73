package git

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/cargo-registry-server/internal/errs"
)

func newTestRepository(t *testing.T, path, origin string) *Repository {
	t.Helper()
	repo, err := New(Config{
		Path:                 path,
		OriginURL:            origin,
		AuthorName:           "Registry Bot",
		AuthorEmail:          "bot@example.com",
		NetworkTimeout:       30 * time.Second,
		MaxAttempts:          1,
		RetryInitialInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	return repo
}

func requireFatal(t *testing.T, err error, target error) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, target)
	assert.Equal(t, errs.KindFatal, errs.KindOf(err))
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{OriginURL: "https://example.com/index.git"})
	assert.True(t, errs.Is(err, errs.KindValidation))

	_, err = New(Config{Path: "/tmp/index"})
	assert.True(t, errs.Is(err, errs.KindValidation))

	repo, err := New(Config{Path: "/tmp/index", OriginURL: "https://example.com/index.git"})
	require.NoError(t, err)
	assert.Equal(t, DefaultBranch, repo.cfg.Branch)
	assert.Equal(t, uint(defaultMaxAttempts), repo.cfg.MaxAttempts)
}

func TestRepository_NotReady(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t, filepath.Join(t.TempDir(), "index"), "/nonexistent")

	_, err := repo.Head()
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = repo.ReadFile("1/a")
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, repo.WriteFile("1/a", nil), ErrNotReady)
	_, err = repo.Commit([]string{"1/a"}, "msg")
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestSync_ClonesAbsentDirectory(t *testing.T) {
	t.Parallel()

	origin := CreateTestOrigin(t, map[string]string{"config.json": `{"dl":"http://localhost"}`})
	path := filepath.Join(t.TempDir(), "index")
	repo := newTestRepository(t, path, origin)

	result, err := repo.Sync(t.Context())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCloned, result.Outcome)
	assert.Equal(t, BranchHead(t, origin).String(), result.Head)

	content, err := repo.ReadFile("config.json")
	require.NoError(t, err)
	assert.Equal(t, `{"dl":"http://localhost"}`, string(content))

	missing, err := repo.ReadFile("ab/cd/abcd")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSync_ClonesEmptyDirectory(t *testing.T) {
	t.Parallel()

	origin := CreateTestOrigin(t, map[string]string{"config.json": "{}"})
	path := t.TempDir()
	repo := newTestRepository(t, path, origin)

	result, err := repo.Sync(t.Context())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCloned, result.Outcome)
	assert.FileExists(t, filepath.Join(path, "config.json"))
}

func TestSync_PathOccupiedByFile(t *testing.T) {
	t.Parallel()

	origin := CreateTestOrigin(t, map[string]string{"config.json": "{}"})
	path := filepath.Join(t.TempDir(), "index")
	require.NoError(t, os.WriteFile(path, []byte("not a directory"), 0o600))

	repo := newTestRepository(t, path, origin)
	_, err := repo.Sync(t.Context())
	requireFatal(t, err, ErrPathOccupied)
}

func TestSync_PathOccupiedByNonRepository(t *testing.T) {
	t.Parallel()

	origin := CreateTestOrigin(t, map[string]string{"config.json": "{}"})
	path := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(path, "stray.txt"), []byte("x"), 0o600))

	repo := newTestRepository(t, path, origin)
	_, err := repo.Sync(t.Context())
	requireFatal(t, err, ErrPathOccupied)
}

func TestSync_OriginMismatch(t *testing.T) {
	t.Parallel()

	origin := CreateTestOrigin(t, map[string]string{"config.json": "{}"})
	other := CreateTestOrigin(t, map[string]string{"config.json": "{}"})
	path := filepath.Join(t.TempDir(), "index")

	_, err := newTestRepository(t, path, origin).Sync(t.Context())
	require.NoError(t, err)

	_, err = newTestRepository(t, path, other).Sync(t.Context())
	requireFatal(t, err, ErrOriginMismatch)
}

func TestSync_MissingOriginRemote(t *testing.T) {
	t.Parallel()

	origin := CreateTestOrigin(t, map[string]string{"config.json": "{}"})
	path := filepath.Join(t.TempDir(), "index")
	_, err := newTestRepository(t, path, origin).Sync(t.Context())
	require.NoError(t, err)

	raw, err := git.PlainOpen(path)
	require.NoError(t, err)
	require.NoError(t, raw.DeleteRemote(RemoteName))

	_, err = newTestRepository(t, path, origin).Sync(t.Context())
	requireFatal(t, err, ErrOriginMismatch)
}

func TestSync_EmptyRemote(t *testing.T) {
	t.Parallel()

	origin := t.TempDir()
	_, err := git.PlainInitWithOptions(origin, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
	})
	require.NoError(t, err)

	repo := newTestRepository(t, filepath.Join(t.TempDir(), "index"), origin)
	_, err = repo.Sync(t.Context())
	requireFatal(t, err, ErrEmptyRemote)
}

func TestSync_UnreachableOriginIsTransient(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t, filepath.Join(t.TempDir(), "index"), filepath.Join(t.TempDir(), "missing"))
	_, err := repo.Sync(t.Context())
	require.Error(t, err)
	assert.Equal(t, errs.KindTransient, errs.KindOf(err))
}

func TestSync_UpToDate(t *testing.T) {
	t.Parallel()

	origin := CreateTestOrigin(t, map[string]string{"config.json": "{}"})
	path := filepath.Join(t.TempDir(), "index")
	repo := newTestRepository(t, path, origin)

	first, err := repo.Sync(t.Context())
	require.NoError(t, err)

	second, err := repo.Sync(t.Context())
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpToDate, second.Outcome)
	assert.Equal(t, first.Head, second.Head)

	// A fresh handle on the existing directory opens instead of cloning
	reopened := newTestRepository(t, path, origin)
	third, err := reopened.Sync(t.Context())
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpToDate, third.Outcome)
	assert.Equal(t, first.Head, third.Head)
}

func TestSync_FastForward(t *testing.T) {
	t.Parallel()

	origin := CreateTestOrigin(t, map[string]string{"config.json": "{}"})
	path := filepath.Join(t.TempDir(), "index")
	repo := newTestRepository(t, path, origin)

	cloned, err := repo.Sync(t.Context())
	require.NoError(t, err)

	advanced := CommitTestFiles(t, origin, map[string]string{"3/abc": "line\n"}, "Add abc")

	result, err := repo.Sync(t.Context())
	require.NoError(t, err)
	assert.Equal(t, OutcomeFastForward, result.Outcome)
	assert.Equal(t, advanced.String(), result.Head)
	assert.NotEqual(t, cloned.Head, result.Head)

	head, err := repo.Head()
	require.NoError(t, err)
	assert.Equal(t, advanced.String(), head)

	onDisk, err := os.ReadFile(filepath.Join(path, "3", "abc"))
	require.NoError(t, err)
	assert.Equal(t, "line\n", string(onDisk))
}

func TestSync_AheadIsNotMutated(t *testing.T) {
	t.Parallel()

	origin := CreateTestOrigin(t, map[string]string{"config.json": "{}"})
	repo := newTestRepository(t, filepath.Join(t.TempDir(), "index"), origin)
	_, err := repo.Sync(t.Context())
	require.NoError(t, err)

	require.NoError(t, repo.WriteFile("2/ab", []byte("local\n")))
	local, err := repo.Commit([]string{"2/ab"}, "local commit")
	require.NoError(t, err)

	result, err := repo.Sync(t.Context())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAhead, result.Outcome)
	assert.Equal(t, local, result.Head)
}

func TestSync_DivergedLeavesLocalStateUnchanged(t *testing.T) {
	t.Parallel()

	origin := CreateTestOrigin(t, map[string]string{"config.json": "{}"})
	path := filepath.Join(t.TempDir(), "index")
	repo := newTestRepository(t, path, origin)
	_, err := repo.Sync(t.Context())
	require.NoError(t, err)

	require.NoError(t, repo.WriteFile("1/a", []byte("local\n")))
	local, err := repo.Commit([]string{"1/a"}, "local commit")
	require.NoError(t, err)

	CommitTestFiles(t, origin, map[string]string{"1/a": "remote\n"}, "remote commit")

	_, err = repo.Sync(t.Context())
	requireFatal(t, err, ErrDiverged)

	head, err := repo.Head()
	require.NoError(t, err)
	assert.Equal(t, local, head)

	onDisk, err := os.ReadFile(filepath.Join(path, "1", "a"))
	require.NoError(t, err)
	assert.Equal(t, "local\n", string(onDisk))
}

func TestCommit(t *testing.T) {
	t.Parallel()

	origin := CreateTestOrigin(t, map[string]string{"config.json": "{}"})
	repo := newTestRepository(t, filepath.Join(t.TempDir(), "index"), origin)
	before, err := repo.Sync(t.Context())
	require.NoError(t, err)

	require.NoError(t, repo.WriteFile("ab/cd/abcd", []byte("{\"name\":\"abcd\"}\n")))
	require.NoError(t, repo.WriteFile("3/abc", []byte("{\"name\":\"abc\"}\n")))

	hash, err := repo.Commit([]string{"ab/cd/abcd", "3/abc"}, "Updating crates")
	require.NoError(t, err)

	head, err := repo.Head()
	require.NoError(t, err)
	assert.Equal(t, hash, head)

	content, err := repo.ReadFile("ab/cd/abcd")
	require.NoError(t, err)
	assert.Equal(t, "{\"name\":\"abcd\"}\n", string(content))

	raw, err := git.PlainOpen(repo.Path())
	require.NoError(t, err)
	commit, err := raw.CommitObject(plumbing.NewHash(hash))
	require.NoError(t, err)
	assert.Equal(t, "Registry Bot", commit.Author.Name)
	assert.Equal(t, "bot@example.com", commit.Author.Email)
	assert.Equal(t, "Updating crates", commit.Message)
	require.Len(t, commit.ParentHashes, 1)
	assert.Equal(t, before.Head, commit.ParentHashes[0].String())
}

func TestCommit_NothingStagedFails(t *testing.T) {
	t.Parallel()

	origin := CreateTestOrigin(t, map[string]string{"config.json": "{}"})
	repo := newTestRepository(t, filepath.Join(t.TempDir(), "index"), origin)
	_, err := repo.Sync(t.Context())
	require.NoError(t, err)

	_, err = repo.Commit([]string{"config.json"}, "no change")
	require.Error(t, err)
	assert.Equal(t, errs.KindInternal, errs.KindOf(err))
}

func TestReset_DropsStagedChanges(t *testing.T) {
	t.Parallel()

	origin := CreateTestOrigin(t, map[string]string{"3/abc": "{\"vers\":\"1.0.0\"}\n"})
	repo := newTestRepository(t, filepath.Join(t.TempDir(), "index"), origin)
	_, err := repo.Sync(t.Context())
	require.NoError(t, err)

	// Simulate a pass that staged a file and then failed to commit
	require.NoError(t, repo.WriteFile("3/abc", []byte("garbage\n")))
	raw, err := git.PlainOpen(repo.Path())
	require.NoError(t, err)
	wt, err := raw.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("3/abc")
	require.NoError(t, err)

	require.NoError(t, repo.Reset())

	onDisk, err := os.ReadFile(filepath.Join(repo.Path(), "3", "abc"))
	require.NoError(t, err)
	assert.Equal(t, "{\"vers\":\"1.0.0\"}\n", string(onDisk))

	require.NoError(t, repo.WriteFile("2/ab", []byte("{}\n")))
	hash, err := repo.Commit([]string{"2/ab"}, "Updating crate `ab#2.0.0`")
	require.NoError(t, err)

	commit, err := raw.CommitObject(plumbing.NewHash(hash))
	require.NoError(t, err)
	file, err := commit.File("3/abc")
	require.NoError(t, err)
	content, err := file.Contents()
	require.NoError(t, err)
	assert.Equal(t, "{\"vers\":\"1.0.0\"}\n", content)
}

func TestPush(t *testing.T) {
	t.Parallel()

	origin := CreateBareTestOrigin(t, map[string]string{"config.json": "{}"})
	repo := newTestRepository(t, filepath.Join(t.TempDir(), "index"), origin)
	_, err := repo.Sync(t.Context())
	require.NoError(t, err)

	require.NoError(t, repo.WriteFile("2/ab", []byte("{}\n")))
	hash, err := repo.Commit([]string{"2/ab"}, "Updating crate `ab#2.0.0`")
	require.NoError(t, err)

	require.NoError(t, repo.Push(t.Context()))
	assert.Equal(t, hash, BranchHead(t, origin).String())

	// Nothing new to push is not an error
	require.NoError(t, repo.Push(t.Context()))

	result, err := repo.Sync(t.Context())
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpToDate, result.Outcome)
}

func TestLock(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "index")
	first := newTestRepository(t, path, "/unused")
	second := newTestRepository(t, path, "/unused")

	require.NoError(t, first.Lock())
	requireFatal(t, second.Lock(), ErrLocked)

	require.NoError(t, first.Unlock())
	require.NoError(t, second.Lock())
	require.NoError(t, second.Unlock())
}

func TestOutcome_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "cloned", OutcomeCloned.String())
	assert.Equal(t, "up-to-date", OutcomeUpToDate.String())
	assert.Equal(t, "fast-forward", OutcomeFastForward.String())
	assert.Equal(t, "ahead", OutcomeAhead.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}
