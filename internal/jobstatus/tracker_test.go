package jobstatus

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shaharzep/decision-extract/constants"
	"github.com/shaharzep/decision-extract/internal/common"
)

func TestTracker_SaveLoadRoundTrip(t *testing.T) {
	tr := NewTracker(t.TempDir(), "extract-provisions", nil)

	meta := tr.Initialize("job-123")
	total := 42
	meta.TotalRecords = &total
	meta.RecordsProcessed = 10
	meta.RecordsFailed = 2
	meta.Errors = []string{"row 7: malformed response"}
	meta.ProviderBatchID = "batch_abc"

	require.NoError(t, tr.Save(meta))

	loaded, err := tr.Load()
	require.NoError(t, err)
	require.Equal(t, meta, loaded)
}

func TestTracker_LoadMissingIsNotFound(t *testing.T) {
	tr := NewTracker(t.TempDir(), "extract-provisions", nil)

	_, err := tr.Load()
	require.Error(t, err)
	require.ErrorIs(t, err, common.ErrNotFound)
	require.NotErrorIs(t, err, common.ErrStateCorruption)
}

func TestTracker_LoadCorruptIsFatal(t *testing.T) {
	dir := t.TempDir()
	tr := NewTracker(dir, "extract-provisions", nil)

	require.NoError(t, os.MkdirAll(filepath.Dir(tr.Path()), 0o755))
	require.NoError(t, os.WriteFile(tr.Path(), []byte("{not json"), 0o644))

	_, err := tr.Load()
	require.Error(t, err)
	require.ErrorIs(t, err, common.ErrStateCorruption)
	require.NotErrorIs(t, err, common.ErrNotFound)
}

func TestTracker_SubmittedAtStampedOnce(t *testing.T) {
	tr := NewTracker(t.TempDir(), "extract-provisions", nil)
	meta := tr.Initialize("job-1")

	require.NoError(t, tr.UpdateStatus(meta, constants.JobStatusSubmitted, nil))
	require.NotNil(t, meta.SubmittedAt)
	first := *meta.SubmittedAt

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, tr.UpdateStatus(meta, constants.JobStatusInProgress, nil))
	require.NoError(t, tr.UpdateStatus(meta, constants.JobStatusSubmitted, nil))
	require.Equal(t, first, *meta.SubmittedAt)
}

func TestTracker_CompletedAtStampedOnceOnFirstTerminal(t *testing.T) {
	tr := NewTracker(t.TempDir(), "extract-provisions", nil)
	meta := tr.Initialize("job-1")

	require.Nil(t, meta.CompletedAt)
	require.NoError(t, tr.UpdateStatus(meta, constants.JobStatusInProgress, nil))
	require.Nil(t, meta.CompletedAt)

	require.NoError(t, tr.UpdateStatus(meta, constants.JobStatusCompleted, nil))
	require.NotNil(t, meta.CompletedAt)
	first := *meta.CompletedAt

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, tr.UpdateStatus(meta, constants.JobStatusFailed, nil))
	require.Equal(t, first, *meta.CompletedAt)
}

func TestTracker_UpdateStatusMergesPatch(t *testing.T) {
	tr := NewTracker(t.TempDir(), "extract-provisions", nil)
	meta := tr.Initialize("job-1")

	total := 100
	require.NoError(t, tr.UpdateStatus(meta, constants.JobStatusSubmitted, &Patch{
		TotalRecords:    &total,
		ProviderBatchID: "batch_xyz",
	}))

	loaded, err := tr.Load()
	require.NoError(t, err)
	require.Equal(t, 100, *loaded.TotalRecords)
	require.Equal(t, "batch_xyz", loaded.ProviderBatchID)
	require.Equal(t, constants.JobStatusSubmitted, loaded.Status)
}

func TestTracker_AddErrorAppends(t *testing.T) {
	tr := NewTracker(t.TempDir(), "extract-provisions", nil)
	meta := tr.Initialize("job-1")

	require.NoError(t, tr.AddError(meta, "first"))
	require.NoError(t, tr.AddError(meta, "second"))

	loaded, err := tr.Load()
	require.NoError(t, err)
	require.Equal(t, []string{"first", "second"}, loaded.Errors)
}

func TestTracker_UpdateProgressKeepsStatus(t *testing.T) {
	tr := NewTracker(t.TempDir(), "extract-provisions", nil)
	meta := tr.Initialize("job-1")
	require.NoError(t, tr.UpdateStatus(meta, constants.JobStatusInProgress, nil))

	require.NoError(t, tr.UpdateProgress(meta, 55, 3))

	loaded, err := tr.Load()
	require.NoError(t, err)
	require.Equal(t, constants.JobStatusInProgress, loaded.Status)
	require.Equal(t, 55, loaded.RecordsProcessed)
	require.Equal(t, 3, loaded.RecordsFailed)
}

func TestTracker_IsRunning(t *testing.T) {
	dir := t.TempDir()
	tr := NewTracker(dir, "extract-provisions", nil)

	require.False(t, tr.IsRunning(), "missing document means not running")

	meta := tr.Initialize("job-1")
	require.NoError(t, tr.Save(meta))
	require.False(t, tr.IsRunning(), "PENDING is not running")

	require.NoError(t, tr.UpdateStatus(meta, constants.JobStatusInProgress, nil))
	require.True(t, tr.IsRunning())

	require.NoError(t, tr.UpdateStatus(meta, constants.JobStatusCompleted, nil))
	require.False(t, tr.IsRunning(), "terminal is not running")
}
