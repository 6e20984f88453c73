package status

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFileStatusPersistence_SaveAndLoad(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()

	persistence := NewFileStatusPersistence(tmpDir)
	require.NotNil(t, persistence)

	now := time.Now()
	testStatus := &WorkerStatus{
		Phase:          PhaseComplete,
		Message:        "Index pass completed",
		LastAttempt:    &now,
		LastSuccess:    &now,
		LastCommit:     "abc123",
		LastOutcome:    "fast-forward",
		CommittedTotal: 5,
	}

	ctx := context.Background()
	err := persistence.SaveStatus(ctx, testStatus)
	require.NoError(t, err)

	// Verify file was created
	expectedPath := filepath.Join(tmpDir, StatusFileName)
	_, err = os.Stat(expectedPath)
	require.NoError(t, err)

	loaded, err := persistence.LoadStatus(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, testStatus.Phase, loaded.Phase)
	require.Equal(t, testStatus.Message, loaded.Message)
	require.Equal(t, testStatus.LastCommit, loaded.LastCommit)
	require.Equal(t, testStatus.LastOutcome, loaded.LastOutcome)
	require.Equal(t, testStatus.CommittedTotal, loaded.CommittedTotal)
	require.True(t, testStatus.LastSuccess.Equal(*loaded.LastSuccess))
}

func TestFileStatusPersistence_LoadNonExistent(t *testing.T) {
	t.Parallel()

	persistence := NewFileStatusPersistence(filepath.Join(t.TempDir(), "missing"))

	loaded, err := persistence.LoadStatus(context.Background())
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, PhaseIdle, loaded.Phase)
	require.Empty(t, loaded.Message)
}

func TestFileStatusPersistence_UpdateStatus(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	persistence := NewFileStatusPersistence(tmpDir)
	ctx := context.Background()

	now1 := time.Now()
	err := persistence.SaveStatus(ctx, &WorkerStatus{
		Phase:        PhaseFailed,
		Message:      "origin unreachable",
		LastAttempt:  &now1,
		AttemptCount: 2,
	})
	require.NoError(t, err)

	now2 := time.Now()
	err = persistence.SaveStatus(ctx, &WorkerStatus{
		Phase:       PhaseHalted,
		Message:     "index history diverged from origin",
		LastAttempt: &now2,
	})
	require.NoError(t, err)

	loaded, err := persistence.LoadStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, PhaseHalted, loaded.Phase)
	require.True(t, loaded.IsHalted())
	require.Equal(t, 0, loaded.AttemptCount)
}

func TestFileStatusPersistence_AtomicWrite(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	persistence := NewFileStatusPersistence(tmpDir)

	now := time.Now()
	err := persistence.SaveStatus(context.Background(), &WorkerStatus{
		Phase:       PhaseComplete,
		LastAttempt: &now,
	})
	require.NoError(t, err)

	// Verify temporary file was cleaned up
	tempPath := filepath.Join(tmpDir, StatusFileName) + ".tmp"
	_, err = os.Stat(tempPath)
	require.True(t, os.IsNotExist(err), "Temporary file should not exist after save")
}

func TestFileStatusPersistence_CorruptFile(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	err := os.WriteFile(filepath.Join(tmpDir, StatusFileName), []byte("{invalid json}"), 0600)
	require.NoError(t, err)

	_, err = NewFileStatusPersistence(tmpDir).LoadStatus(context.Background())
	require.Error(t, err)
}

func TestMemoryStatusPersistence(t *testing.T) {
	t.Parallel()

	persistence := NewMemoryStatusPersistence()
	ctx := context.Background()

	loaded, err := persistence.LoadStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, PhaseIdle, loaded.Phase)

	saved := &WorkerStatus{Phase: PhaseSyncing}
	require.NoError(t, persistence.SaveStatus(ctx, saved))
	saved.Phase = PhaseFailed

	loaded, err = persistence.LoadStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, PhaseSyncing, loaded.Phase, "saved status must be copied")
}

func TestWorkerStatus_IsHalted(t *testing.T) {
	t.Parallel()

	var nilStatus *WorkerStatus
	require.False(t, nilStatus.IsHalted())
	require.False(t, (&WorkerStatus{Phase: PhaseFailed}).IsHalted())
	require.True(t, (&WorkerStatus{Phase: PhaseHalted}).IsHalted())
}
