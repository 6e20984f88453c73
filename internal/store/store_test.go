package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/cargo-registry-server/internal/crate"
	"github.com/stacklok/cargo-registry-server/internal/errs"
)

func strPtr(s string) *string { return &s }

func testVersion(name, version string) *PendingVersion {
	return &PendingVersion{
		Name:     name,
		Version:  version,
		Download: "http://localhost:8080/api/v1/files/" + name + "/" + version + ".crate",
		Checksum: "deadbeef",
		Deps: []crate.Dependency{
			{Name: "serde", VersionReq: "^1", Features: []string{}, Kind: crate.KindNormal},
		},
		Features:    map[string][]string{"default": {}},
		Authors:     []string{"someone"},
		Description: strPtr("a crate"),
		Categories:  []string{},
		Keywords:    []string{"test"},
		License:     strPtr("MIT"),
	}
}

// runStoreContract exercises behaviour every MetadataStore must share
func runStoreContract(t *testing.T, newStore func(t *testing.T) MetadataStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("insert then list pending in upload order", func(t *testing.T) {
		s := newStore(t)
		first, err := s.InsertPendingVersion(ctx, testVersion("abc", "1.0.0"), nil)
		require.NoError(t, err)
		second, err := s.InsertPendingVersion(ctx, testVersion("abc", "1.1.0"), nil)
		require.NoError(t, err)
		third, err := s.InsertPendingVersion(ctx, testVersion("ab", "2.0.0"), nil)
		require.NoError(t, err)

		pending, err := s.ListPending(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 3)
		assert.Equal(t, []int64{first, second, third}, []int64{pending[0].ID, pending[1].ID, pending[2].ID})

		got := pending[0]
		assert.Equal(t, "abc", got.Name)
		assert.Equal(t, "1.0.0", got.Version)
		assert.Equal(t, "deadbeef", got.Checksum)
		assert.Nil(t, got.CommitID)
		assert.False(t, got.IsCommitted())
		require.Len(t, got.Deps, 1)
		assert.Equal(t, "serde", got.Deps[0].Name)
		assert.Equal(t, "MIT", *got.License)
		assert.Nil(t, got.Homepage)
		assert.False(t, got.UploadedAt.IsZero())

		n, err := s.CountPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})

	t.Run("duplicate version conflicts", func(t *testing.T) {
		s := newStore(t)
		_, err := s.InsertPendingVersion(ctx, testVersion("serde", "1.0.0"), nil)
		require.NoError(t, err)

		_, err = s.InsertPendingVersion(ctx, testVersion("serde", "1.0.0"), nil)
		require.Error(t, err)
		assert.Equal(t, errs.KindConflict, errs.KindOf(err))
	})

	t.Run("build metadata does not make a new version", func(t *testing.T) {
		s := newStore(t)
		_, err := s.InsertPendingVersion(ctx, testVersion("serde", "1.0.0+a"), nil)
		require.NoError(t, err)

		_, err = s.InsertPendingVersion(ctx, testVersion("serde", "1.0.0+b"), nil)
		require.Error(t, err)
		assert.Equal(t, errs.KindConflict, errs.KindOf(err))

		// Same version string under another crate is unrelated
		_, err = s.InsertPendingVersion(ctx, testVersion("serde_json", "1.0.0+b"), nil)
		require.NoError(t, err)

		n, err := s.CountPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("concurrent publishes of one crate commit in upload order", func(t *testing.T) {
		s := newStore(t)
		release := make(chan struct{})
		firstDone := make(chan error, 1)

		// The first insert holds its transaction open in the hook
		go func() {
			_, err := s.InsertPendingVersion(ctx, testVersion("tokio", "1.0.0"), func(context.Context, int64) error {
				<-release
				return nil
			})
			firstDone <- err
		}()

		secondDone := make(chan error, 1)
		go func() {
			// Give the first insert time to take the crate first
			time.Sleep(50 * time.Millisecond)
			_, err := s.InsertPendingVersion(ctx, testVersion("tokio", "1.1.0"), nil)
			secondDone <- err
		}()

		time.Sleep(150 * time.Millisecond)
		close(release)
		require.NoError(t, <-firstDone)
		require.NoError(t, <-secondDone)

		pending, err := s.ListPending(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, "1.0.0", pending[0].Version)
		assert.Equal(t, "1.1.0", pending[1].Version)
	})

	t.Run("failing hook leaves no row", func(t *testing.T) {
		s := newStore(t)
		hookErr := errors.New("archive rename failed")

		var seen int64
		_, err := s.InsertPendingVersion(ctx, testVersion("tokio", "1.0.0"), func(_ context.Context, id int64) error {
			seen = id
			return hookErr
		})
		require.ErrorIs(t, err, hookErr)
		assert.NotZero(t, seen)

		pending, err := s.ListPending(ctx)
		require.NoError(t, err)
		assert.Empty(t, pending)

		_, err = s.LookupDownloadURL(ctx, "tokio", "1.0.0")
		assert.Equal(t, errs.KindNotFound, errs.KindOf(err))

		// The same version can be published once the failure is resolved
		_, err = s.InsertPendingVersion(ctx, testVersion("tokio", "1.0.0"), nil)
		require.NoError(t, err)
	})

	t.Run("mark committed exactly once", func(t *testing.T) {
		s := newStore(t)
		id, err := s.InsertPendingVersion(ctx, testVersion("rand", "0.8.5"), nil)
		require.NoError(t, err)

		updated, err := s.MarkCommitted(ctx, id, "c0ffee")
		require.NoError(t, err)
		assert.True(t, updated)

		updated, err = s.MarkCommitted(ctx, id, "other")
		require.NoError(t, err)
		assert.False(t, updated, "second mark must be a no-op")

		pending, err := s.ListPending(ctx)
		require.NoError(t, err)
		assert.Empty(t, pending)

		n, err := s.CountPending(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("lookup download url", func(t *testing.T) {
		s := newStore(t)
		v := testVersion("log", "0.4.0")
		_, err := s.InsertPendingVersion(ctx, v, nil)
		require.NoError(t, err)

		url, err := s.LookupDownloadURL(ctx, "log", "0.4.0")
		require.NoError(t, err)
		assert.Equal(t, v.Download, url)

		_, err = s.LookupDownloadURL(ctx, "log", "9.9.9")
		require.Error(t, err)
		assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
	})

	t.Run("ping", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Ping(ctx))
	})
}

func TestMemory(t *testing.T) {
	t.Parallel()
	runStoreContract(t, func(_ *testing.T) MetadataStore { return NewMemory() })
}

func TestMemory_OrdersByUploadTime(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := []time.Time{base.Add(2 * time.Second), base, base.Add(time.Second)}
	m.now = func() time.Time {
		next := clock[0]
		clock = clock[1:]
		return next
	}

	late, err := m.InsertPendingVersion(context.Background(), testVersion("a", "1.0.0"), nil)
	require.NoError(t, err)
	early, err := m.InsertPendingVersion(context.Background(), testVersion("b", "1.0.0"), nil)
	require.NoError(t, err)
	middle, err := m.InsertPendingVersion(context.Background(), testVersion("c", "1.0.0"), nil)
	require.NoError(t, err)

	pending, err := m.ListPending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, []int64{early, middle, late}, []int64{pending[0].ID, pending[1].ID, pending[2].ID})
}

func TestMemory_ReturnsCopies(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	id, err := m.InsertPendingVersion(context.Background(), testVersion("a", "1.0.0"), nil)
	require.NoError(t, err)

	pending, err := m.ListPending(context.Background())
	require.NoError(t, err)
	pending[0].CommitID = strPtr("tampered")

	row, ok := m.Get(id)
	require.True(t, ok)
	assert.Nil(t, row.CommitID)
}

func TestNewPendingVersion(t *testing.T) {
	t.Parallel()

	meta := &crate.Metadata{
		Name:     "demo",
		Vers:     "0.1.0",
		Deps:     []crate.Dependency{{Name: "x", VersionReq: "1", Kind: crate.KindDev}},
		Features: map[string][]string{"std": {}},
		Authors:  []string{"me"},
		Links:    strPtr("z"),
	}
	v := NewPendingVersion(meta, "http://dl/demo", "abc")

	assert.Equal(t, "demo", v.Name)
	assert.Equal(t, "0.1.0", v.Version)
	assert.Equal(t, "http://dl/demo", v.Download)
	assert.Equal(t, "abc", v.Checksum)
	assert.Nil(t, v.CommitID)

	entry := v.IndexEntry()
	assert.Equal(t, "demo", entry.Name)
	assert.Equal(t, "abc", entry.Cksum)
	assert.Equal(t, "z", *entry.Links)
	require.Len(t, entry.Deps, 1)
	assert.Equal(t, crate.KindDev, entry.Deps[0].Kind)
}
