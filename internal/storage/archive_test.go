package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/cargo-registry-server/internal/errs"
)

func TestArchivePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		crate   string
		version string
		want    string
		wantErr bool
	}{
		{name: "one char", crate: "a", version: "1.0.0", want: "1/a/1.0.0.crate"},
		{name: "two chars", crate: "ab", version: "2.0.0", want: "2/ab/2.0.0.crate"},
		{name: "three chars", crate: "abc", version: "1.0.0", want: "3/abc/1.0.0.crate"},
		{name: "long", crate: "serde", version: "1.0.197", want: "se/rd/serde/1.0.197.crate"},
		{name: "prerelease", crate: "tokio", version: "1.0.0-rc.1", want: "to/ki/tokio/1.0.0-rc.1.crate"},
		{name: "empty name", crate: "", version: "1.0.0", wantErr: true},
		{name: "empty version", crate: "serde", version: "", wantErr: true},
		{name: "traversal", crate: "serde", version: "../x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ArchivePath(tt.crate, tt.version)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errs.Is(err, errs.KindValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDownloadURL(t *testing.T) {
	t.Parallel()

	got, err := DownloadURL("http://localhost:8080/api/v1/files", "3/abc/1.0.0.crate")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/api/v1/files/3/abc/1.0.0.crate", got)

	got, err = DownloadURL("https://cdn.example.com/crates/", "2/ab/2.0.0.crate")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/crates/2/ab/2.0.0.crate", got)
}

func TestStageAndCommit(t *testing.T) {
	t.Parallel()

	fs := memfs.New()
	s := NewArchiveStore(fs)
	content := []byte("crate archive bytes")

	staged, err := s.Stage(bytes.NewReader(content), int64(len(content)))
	require.NoError(t, err)
	defer staged.Discard()

	sum := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(sum[:]), staged.Checksum)
	assert.Equal(t, int64(len(content)), staged.Size)

	require.NoError(t, staged.Commit("3/abc/1.0.0.crate"))

	stored, err := util.ReadFile(fs, "3/abc/1.0.0.crate")
	require.NoError(t, err)
	assert.Equal(t, content, stored)

	entries, err := fs.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file must be moved, not copied")
}

func TestStage_OnlyConsumesDeclaredBytes(t *testing.T) {
	t.Parallel()

	s := NewArchiveStore(memfs.New())
	r := strings.NewReader("0123456789trailing")

	staged, err := s.Stage(r, 10)
	require.NoError(t, err)
	defer staged.Discard()
	assert.Equal(t, int64(10), staged.Size)

	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "trailing", string(rest))
}

func TestStage_Truncated(t *testing.T) {
	t.Parallel()

	fs := memfs.New()
	s := NewArchiveStore(fs)

	_, err := s.Stage(strings.NewReader("short"), 100)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindValidation))

	entries, err := fs.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "partial upload must be removed")
}

func TestCommit_ReplacesExisting(t *testing.T) {
	t.Parallel()

	fs := memfs.New()
	s := NewArchiveStore(fs)
	require.NoError(t, util.WriteFile(fs, "2/ab/2.0.0.crate", []byte("stale"), 0o644))

	staged, err := s.Stage(strings.NewReader("fresh"), 5)
	require.NoError(t, err)
	require.NoError(t, staged.Commit("2/ab/2.0.0.crate"))

	stored, err := util.ReadFile(fs, "2/ab/2.0.0.crate")
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(stored))
}

func TestCommit_ExistingDirectoriesAreFine(t *testing.T) {
	t.Parallel()

	fs := memfs.New()
	s := NewArchiveStore(fs)
	require.NoError(t, fs.MkdirAll("se/rd/serde", 0o750))

	for _, v := range []string{"1.0.0", "1.0.1"} {
		staged, err := s.Stage(strings.NewReader(v), int64(len(v)))
		require.NoError(t, err)
		require.NoError(t, staged.Commit("se/rd/serde/"+v+".crate"))
	}

	entries, err := fs.ReadDir("se/rd/serde")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestOpenStatRemove(t *testing.T) {
	t.Parallel()

	fs := memfs.New()
	s := NewArchiveStore(fs)
	require.NoError(t, util.WriteFile(fs, "1/a/0.1.0.crate", []byte("data"), 0o644))

	f, err := s.Open("1/a/0.1.0.crate")
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, "data", string(data))

	info, err := s.Stat("1/a/0.1.0.crate")
	require.NoError(t, err)
	assert.Equal(t, int64(4), info.Size())

	require.NoError(t, s.Remove("1/a/0.1.0.crate"))
	require.NoError(t, s.Remove("1/a/0.1.0.crate"), "removing twice is fine")

	_, err = s.Open("1/a/0.1.0.crate")
	assert.True(t, errs.Is(err, errs.KindNotFound))
	_, err = s.Stat("1/a/0.1.0.crate")
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func TestNewLocalArchiveStore(t *testing.T) {
	t.Parallel()

	_, err := NewLocalArchiveStore("")
	require.Error(t, err)

	root := t.TempDir() + "/archives"
	s, err := NewLocalArchiveStore(root)
	require.NoError(t, err)

	staged, err := s.Stage(strings.NewReader("abc"), 3)
	require.NoError(t, err)
	require.NoError(t, staged.Commit("3/abc/1.0.0.crate"))
	assert.FileExists(t, root+"/3/abc/1.0.0.crate")
}
