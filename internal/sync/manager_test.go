package sync

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/cargo-registry-server/internal/crate"
	"github.com/stacklok/cargo-registry-server/internal/errs"
	"github.com/stacklok/cargo-registry-server/internal/git"
	"github.com/stacklok/cargo-registry-server/internal/store"
)

func newIndex(t *testing.T, origin string) *git.Repository {
	t.Helper()
	repo, err := git.New(git.Config{
		Path:                 filepath.Join(t.TempDir(), "index"),
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

func publish(t *testing.T, s store.MetadataStore, name, version string) int64 {
	t.Helper()
	id, err := s.InsertPendingVersion(context.Background(), &store.PendingVersion{
		Name:     name,
		Version:  version,
		Download: "http://localhost/" + name + "/" + version,
		Checksum: strings.Repeat("a", 64),
		Deps: []crate.Dependency{
			{Name: "serde", VersionReq: "^1", Features: []string{}, DefaultFeatures: true, Kind: crate.KindNormal},
		},
		Features: map[string][]string{"default": {}},
	}, nil)
	require.NoError(t, err)
	return id
}

func commitMessage(t *testing.T, repoPath, hash string) string {
	t.Helper()
	raw, err := gogit.PlainOpen(repoPath)
	require.NoError(t, err)
	commit, err := raw.CommitObject(plumbing.NewHash(hash))
	require.NoError(t, err)
	return commit.Message
}

func indexLines(t *testing.T, idx *git.Repository, p string) []crate.IndexEntry {
	t.Helper()
	content, err := idx.ReadFile(p)
	require.NoError(t, err)

	var entries []crate.IndexEntry
	for _, line := range strings.Split(strings.TrimSuffix(string(content), "\n"), "\n") {
		if line == "" {
			continue
		}
		var e crate.IndexEntry
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		entries = append(entries, e)
	}
	return entries
}

func TestPerformPass_EndToEnd(t *testing.T) {
	t.Parallel()

	origin := git.CreateTestOrigin(t, map[string]string{"config.json": `{"dl":"http://localhost"}`})
	idx := newIndex(t, origin)
	metadata := store.NewMemory()

	abc := publish(t, metadata, "abc", "1.0.0")
	ab := publish(t, metadata, "ab", "2.0.0")

	result, err := NewManager(idx, metadata).PerformPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, git.OutcomeCloned, result.Outcome)
	assert.Equal(t, 2, result.Pending)
	assert.Equal(t, 2, result.Committed)
	assert.Zero(t, result.Failed)
	assert.False(t, result.Pushed)

	entries := indexLines(t, idx, "3/abc")
	require.Len(t, entries, 1)
	assert.Equal(t, "abc", entries[0].Name)
	assert.Equal(t, "1.0.0", entries[0].Vers)
	assert.Equal(t, strings.Repeat("a", 64), entries[0].Cksum)
	assert.False(t, entries[0].Yanked)
	require.Len(t, entries[0].Deps, 1)
	assert.Equal(t, "^1", entries[0].Deps[0].Req)

	entries = indexLines(t, idx, "2/ab")
	require.Len(t, entries, 1)
	assert.Equal(t, "2.0.0", entries[0].Vers)

	abcRow, ok := metadata.Get(abc)
	require.True(t, ok)
	require.NotNil(t, abcRow.CommitID)
	assert.Equal(t, "Updating crate `abc#1.0.0`", commitMessage(t, idx.Path(), *abcRow.CommitID))

	abRow, ok := metadata.Get(ab)
	require.True(t, ok)
	require.NotNil(t, abRow.CommitID)
	assert.Equal(t, result.Head, *abRow.CommitID, "last row commit is the new head")

	pending, err := metadata.CountPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestPerformPass_AppendsInUploadOrder(t *testing.T) {
	t.Parallel()

	origin := git.CreateTestOrigin(t, map[string]string{"config.json": "{}"})
	idx := newIndex(t, origin)
	metadata := store.NewMemory()
	manager := NewManager(idx, metadata)

	publish(t, metadata, "serde", "1.0.0")
	publish(t, metadata, "serde", "1.0.1")
	_, err := manager.PerformPass(context.Background())
	require.NoError(t, err)

	publish(t, metadata, "serde", "1.1.0")
	result, err := manager.PerformPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, git.OutcomeAhead, result.Outcome, "local commits were never pushed")
	assert.Equal(t, 1, result.Committed)

	entries := indexLines(t, idx, "se/rd/serde")
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"1.0.0", "1.0.1", "1.1.0"},
		[]string{entries[0].Vers, entries[1].Vers, entries[2].Vers})
}

func TestPerformPass_NothingPending(t *testing.T) {
	t.Parallel()

	origin := git.CreateTestOrigin(t, map[string]string{"config.json": "{}"})
	idx := newIndex(t, origin)
	manager := NewManager(idx, store.NewMemory())

	first, err := manager.PerformPass(context.Background())
	require.NoError(t, err)

	second, err := manager.PerformPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, git.OutcomeUpToDate, second.Outcome)
	assert.Equal(t, first.Head, second.Head)
	assert.Zero(t, second.Pending)
}

// flakyMarkStore fails MarkCommitted a fixed number of times
type flakyMarkStore struct {
	*store.Memory
	failures int
}

func (s *flakyMarkStore) MarkCommitted(ctx context.Context, id int64, commitID string) (bool, error) {
	if s.failures > 0 {
		s.failures--
		return false, errs.E(errs.KindTransient, "store.MarkCommitted", errors.New("connection reset"))
	}
	return s.Memory.MarkCommitted(ctx, id, commitID)
}

func TestPerformPass_RetryDoesNotDuplicate(t *testing.T) {
	t.Parallel()

	origin := git.CreateTestOrigin(t, map[string]string{"config.json": "{}"})
	idx := newIndex(t, origin)
	metadata := &flakyMarkStore{Memory: store.NewMemory(), failures: 1}
	manager := NewManager(idx, metadata)

	id := publish(t, metadata, "abc", "1.0.0")

	// The commit lands but recording it fails, so the row stays pending
	first, err := manager.PerformPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Failed)
	row, ok := metadata.Get(id)
	require.True(t, ok)
	assert.Nil(t, row.CommitID)

	second, err := manager.PerformPass(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Committed)
	assert.Equal(t, 1, second.AlreadyIndexed)
	assert.Equal(t, first.Head, second.Head, "no second commit")

	assert.Len(t, indexLines(t, idx, "3/abc"), 1)

	row, ok = metadata.Get(id)
	require.True(t, ok)
	require.NotNil(t, row.CommitID)
	assert.Equal(t, second.Head, *row.CommitID)

	// A third pass has nothing left to do
	third, err := manager.PerformPass(context.Background())
	require.NoError(t, err)
	assert.Zero(t, third.Pending)
}

// failingIndex fails commits touching one path
type failingIndex struct {
	*git.Repository
	failPath string
	resets   int
}

func (f *failingIndex) Commit(paths []string, message string) (string, error) {
	for _, p := range paths {
		if p == f.failPath {
			return "", errs.E(errs.KindInternal, "git.Commit", errors.New("object store is full"))
		}
	}
	return f.Repository.Commit(paths, message)
}

func (f *failingIndex) Reset() error {
	f.resets++
	return f.Repository.Reset()
}

func TestPerformPass_RowFailureDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	origin := git.CreateTestOrigin(t, map[string]string{"config.json": "{}"})
	idx := &failingIndex{Repository: newIndex(t, origin), failPath: "3/bad"}
	metadata := store.NewMemory()

	first := publish(t, metadata, "abc", "1.0.0")
	bad := publish(t, metadata, "bad", "1.0.0")
	last := publish(t, metadata, "tokio", "1.0.0")

	result, err := NewManager(idx, metadata).PerformPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Committed)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, idx.resets)

	for _, id := range []int64{first, last} {
		row, ok := metadata.Get(id)
		require.True(t, ok)
		assert.NotNil(t, row.CommitID)
	}
	row, ok := metadata.Get(bad)
	require.True(t, ok)
	assert.Nil(t, row.CommitID)

	// The failed write never reaches a commit
	content, err := idx.ReadFile("3/bad")
	require.NoError(t, err)
	assert.Nil(t, content)

	// Once the fault clears the row is picked up again
	idx.failPath = ""
	result, err = NewManager(idx, metadata).PerformPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Committed)
	assert.Len(t, indexLines(t, idx.Repository, "3/bad"), 1)
}

func TestPerformPass_DivergedIsFatal(t *testing.T) {
	t.Parallel()

	origin := git.CreateTestOrigin(t, map[string]string{"config.json": "{}"})
	idx := newIndex(t, origin)
	metadata := store.NewMemory()
	manager := NewManager(idx, metadata)

	publish(t, metadata, "abc", "1.0.0")
	before, err := manager.PerformPass(context.Background())
	require.NoError(t, err)

	// Origin moves on without the local commit
	git.CommitTestFiles(t, origin, map[string]string{"2/xy": "{}\n"}, "Unrelated change")
	pendingID := publish(t, metadata, "ab", "2.0.0")

	_, err = manager.PerformPass(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, git.ErrDiverged)
	assert.Equal(t, errs.KindFatal, errs.KindOf(err))

	head, err := idx.Head()
	require.NoError(t, err)
	assert.Equal(t, before.Head, head)

	row, ok := metadata.Get(pendingID)
	require.True(t, ok)
	assert.Nil(t, row.CommitID, "rows are not processed against a diverged index")
}

func TestPerformPass_PushesCommits(t *testing.T) {
	t.Parallel()

	origin := git.CreateBareTestOrigin(t, map[string]string{"config.json": "{}"})
	idx := newIndex(t, origin)
	metadata := store.NewMemory()
	manager := NewManager(idx, metadata, WithPush(true))

	publish(t, metadata, "abc", "1.0.0")
	result, err := manager.PerformPass(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Pushed)
	assert.Equal(t, result.Head, git.BranchHead(t, origin).String())

	// Nothing new, nothing pushed
	result, err = manager.PerformPass(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Pushed)
}

// unpushableIndex rejects every push
type unpushableIndex struct {
	*git.Repository
}

func (unpushableIndex) Push(_ context.Context) error {
	return errs.E(errs.KindTransient, "git.push", errors.New("connection refused"))
}

func TestPerformPass_PushFailureKeepsCommits(t *testing.T) {
	t.Parallel()

	origin := git.CreateBareTestOrigin(t, map[string]string{"config.json": "{}"})
	idx := unpushableIndex{Repository: newIndex(t, origin)}
	metadata := store.NewMemory()

	id := publish(t, metadata, "abc", "1.0.0")
	result, err := NewManager(idx, metadata, WithPush(true)).PerformPass(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Pushed)
	assert.Equal(t, 1, result.Committed)
	assert.NotEqual(t, result.Head, git.BranchHead(t, origin).String())

	row, ok := metadata.Get(id)
	require.True(t, ok)
	assert.NotNil(t, row.CommitID)

	// The next pass retries the push even without new rows
	result, err = NewManager(idx.Repository, metadata, WithPush(true)).PerformPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, git.OutcomeAhead, result.Outcome)
	assert.True(t, result.Pushed)
	assert.Equal(t, result.Head, git.BranchHead(t, origin).String())
}

func TestPerformPass_SyncErrorStopsPass(t *testing.T) {
	t.Parallel()

	idx := newIndex(t, filepath.Join(t.TempDir(), "missing-origin"))
	metadata := store.NewMemory()
	id := publish(t, metadata, "abc", "1.0.0")

	_, err := NewManager(idx, metadata).PerformPass(context.Background())
	require.Error(t, err)

	row, ok := metadata.Get(id)
	require.True(t, ok)
	assert.Nil(t, row.CommitID)
}

func TestPerformPass_BuildMetadataIsNotAlreadyIndexed(t *testing.T) {
	t.Parallel()

	// The index already lists 1.0.0+a, the store holds a pending 1.0.0+b
	existing, err := crate.NewIndexEntry("abc", "1.0.0+a", nil, nil, strings.Repeat("b", 64), nil).MarshalLine()
	require.NoError(t, err)
	origin := git.CreateTestOrigin(t, map[string]string{
		"config.json": "{}",
		"3/abc":       string(existing) + "\n",
	})
	idx := newIndex(t, origin)
	metadata := store.NewMemory()
	id := publish(t, metadata, "abc", "1.0.0+b")

	result, err := NewManager(idx, metadata).PerformPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Committed)
	assert.Zero(t, result.AlreadyIndexed)

	entries := indexLines(t, idx, "3/abc")
	require.Len(t, entries, 2)
	assert.Equal(t, "1.0.0+a", entries[0].Vers)
	assert.Equal(t, "1.0.0+b", entries[1].Vers)

	row, ok := metadata.Get(id)
	require.True(t, ok)
	require.NotNil(t, row.CommitID)
	assert.Equal(t, result.Head, *row.CommitID)
}
