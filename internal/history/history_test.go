package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/archivemergeflow/internal/models"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func finishedRun(id string, start time.Time, elapsed time.Duration, files int) *models.Run {
	end := start.Add(elapsed)
	return &models.Run{
		ID:            id,
		ArchiveName:   id + ".zip",
		StartedAt:     start,
		EndedAt:       &end,
		Stage:         models.StageComplete,
		Outcome:       models.OutcomeSuccess,
		Total:         files,
		Succeeded:     files,
		RenditionTier: models.TierText,
	}
}

func TestRunFinishedAndRecent(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.RunFinished(ctx, finishedRun("first", day, 4*time.Second, 3)))
	failed := finishedRun("second", day.Add(time.Minute), time.Second, 0)
	failed.Stage = models.StageError
	failed.Outcome = models.OutcomeFailed
	failed.LastError = "nothing to merge: no qualifying documents in archive"
	require.NoError(t, s.RunFinished(ctx, failed))

	jobs, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	assert.Equal(t, "second", jobs[0].JobID)
	assert.Equal(t, "error", jobs[0].Status)
	assert.Equal(t, "failed", jobs[0].Outcome)
	assert.Contains(t, jobs[0].Error, "no qualifying documents")

	assert.Equal(t, "first", jobs[1].JobID)
	assert.Equal(t, "complete", jobs[1].Status)
	assert.Equal(t, 3, jobs[1].FileCount)
	assert.Equal(t, int64(4), jobs[1].ProcessingTime)
	assert.Equal(t, "first.zip", jobs[1].OriginalFilename)
	assert.Equal(t, "text", jobs[1].RenditionTier)
	require.NotNil(t, jobs[1].CompletedAt)
	assert.Equal(t, day.Add(4*time.Second), *jobs[1].CompletedAt)
}

func TestUsageCountsEachRunOnce(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	run := finishedRun("a", day, 2*time.Second, 5)
	require.NoError(t, s.RunFinished(ctx, run))
	require.NoError(t, s.RunFinished(ctx, run))
	require.NoError(t, s.RunFinished(ctx, finishedRun("b", day.Add(time.Hour), 3*time.Second, 2)))
	require.NoError(t, s.RunFinished(ctx, finishedRun("c", day.Add(24*time.Hour), time.Second, 1)))

	usage, err := s.UsageSince(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, []Usage{
		{Date: "2026-03-14", TotalJobs: 2, TotalFilesProcessed: 7, TotalProcessingTime: 5},
		{Date: "2026-03-15", TotalJobs: 1, TotalFilesProcessed: 1, TotalProcessingTime: 1},
	}, usage)

	later, err := s.UsageSince(ctx, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, later, 1)
}

func TestRunFinishedRejectsLiveRun(t *testing.T) {
	s := openMemory(t)
	run := finishedRun("live", time.Now(), 0, 1)
	run.Stage = models.StageMerging
	assert.Error(t, s.RunFinished(context.Background(), run))
}

func TestOpenFileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.RunFinished(context.Background(), finishedRun("x", time.Now(), time.Second, 1)))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	jobs, err := reopened.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	var mode string
	require.NoError(t, reopened.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}
