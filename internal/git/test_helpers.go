package git

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// testAuthor signs commits made by the helpers below
var testAuthor = object.Signature{
	Name:  "Test Author",
	Email: "test@example.com",
}

// CreateTestOrigin creates a non-bare repository on branch main holding one
// commit with files, and returns its path. The directory is removed when
// the test ends.
func CreateTestOrigin(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	_, err := git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
	})
	if err != nil {
		t.Fatalf("Failed to init repository: %v", err)
	}

	CommitTestFiles(t, dir, files, "Initial commit")
	return dir
}

// CreateBareTestOrigin creates a bare repository on branch main seeded with
// files. Pushes are only accepted by bare origins.
func CreateBareTestOrigin(t *testing.T, files map[string]string) string {
	t.Helper()

	seed := CreateTestOrigin(t, files)
	dir := filepath.Join(t.TempDir(), "origin.git")
	_, err := git.PlainClone(dir, true, &git.CloneOptions{
		URL:           seed,
		ReferenceName: plumbing.Main,
		SingleBranch:  true,
	})
	if err != nil {
		t.Fatalf("Failed to create bare repository: %v", err)
	}
	return dir
}

// CommitTestFiles writes files into the working tree at dir and commits
// them on the current branch
func CommitTestFiles(t *testing.T, dir string, files map[string]string, message string) plumbing.Hash {
	t.Helper()

	repo, err := git.PlainOpen(dir)
	if err != nil {
		t.Fatalf("Failed to open repository: %v", err)
	}
	workTree, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Failed to get worktree: %v", err)
	}

	for filename, content := range files {
		filePath := filepath.Join(dir, filename)
		if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
			t.Fatalf("Failed to create directory for %s: %v", filename, err)
		}
		if err := os.WriteFile(filePath, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write file %s: %v", filename, err)
		}
		if _, err := workTree.Add(filename); err != nil {
			t.Fatalf("Failed to add file %s: %v", filename, err)
		}
	}

	author := testAuthor
	author.When = time.Now()
	hash, err := workTree.Commit(message, &git.CommitOptions{Author: &author})
	if err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}
	return hash
}

// BranchHead returns the commit refs/heads/main points at in the
// repository at dir, bare or not
func BranchHead(t *testing.T, dir string) plumbing.Hash {
	t.Helper()

	repo, err := git.PlainOpen(dir)
	if err != nil {
		t.Fatalf("Failed to open repository: %v", err)
	}
	ref, err := repo.Reference(plumbing.Main, true)
	if err != nil {
		t.Fatalf("Failed to resolve main: %v", err)
	}
	return ref.Hash()
}
