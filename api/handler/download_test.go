package handler

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/mediagrab/media"
	"github.com/use-agent/mediagrab/models"
)

func TestResolveDestDir(t *testing.T) {
	base := filepath.Join("srv", "downloads")
	tests := []struct {
		in   string
		want string
	}{
		{"", base},
		{"album", filepath.Join(base, "album")},
		{"../../etc", filepath.Join(base, "etc")},
		{"/abs/path", filepath.Join(base, "abs", "path")},
		{"a/../b", filepath.Join(base, "b")},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveDestDir(base, tt.in))
		})
	}
}

func TestFinalStatus(t *testing.T) {
	assert.Equal(t, JobCompleted, finalStatus(&models.Summary{Downloaded: 2, Skipped: 1}))
	assert.Equal(t, JobPartial, finalStatus(&models.Summary{Downloaded: 1, Failed: 1}))
	assert.Equal(t, JobFailed, finalStatus(&models.Summary{Failed: 2}))
	assert.Equal(t, JobCompleted, finalStatus(&models.Summary{Skipped: 3}))
}

func TestJob_Apply(t *testing.T) {
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	job := newJob(2, "/tmp/x", cancel)

	_, changed, finished := job.watch()
	assert.False(t, finished)

	job.apply(media.Event{Type: media.EventProgress, Progress: &models.FileProgress{Label: "a.jpg", Current: 10, Total: 20}}, false)
	select {
	case <-changed:
	default:
		t.Fatal("update must close the changed channel")
	}
	snap := job.Snapshot()
	require.NotNil(t, snap.Current)
	assert.Equal(t, int64(10), snap.Current.Current)

	job.apply(media.Event{Type: media.EventOutcome, Outcome: &models.DownloadOutcome{Index: 1, Status: models.StatusDownloaded}}, false)
	snap = job.Snapshot()
	assert.Nil(t, snap.Current)
	assert.Equal(t, 1, snap.Downloaded)
	assert.Equal(t, JobProcessing, snap.Status)

	final := &models.Summary{DestDir: "/tmp/x"}
	final.Add(models.DownloadOutcome{Index: 0, Status: models.StatusSkipped, Reason: models.SkipAlreadyExists})
	final.Add(models.DownloadOutcome{Index: 1, Status: models.StatusDownloaded})
	job.apply(media.Event{Type: media.EventDone, Summary: final}, false)

	snap, _, finished = job.watch()
	assert.True(t, finished)
	assert.Equal(t, JobCompleted, snap.Status)
	require.Len(t, snap.Outcomes, 2)
	assert.Equal(t, 0, snap.Outcomes[0].Index, "final summary order wins")
}

func TestJob_ApplyDirectoryFailure(t *testing.T) {
	job := newJob(1, "/nope", func() {})
	err := models.NewScrapeError(models.ErrCodeFilesystem, "could not create destination directory", errors.New("denied"))
	job.apply(media.Event{Type: media.EventDone, Err: err}, false)

	snap := job.Snapshot()
	assert.Equal(t, JobFailed, snap.Status)
	require.NotNil(t, snap.Error)
	assert.Equal(t, models.ErrCodeFilesystem, snap.Error.Code)
}

func TestJob_ApplyCanceled(t *testing.T) {
	job := newJob(2, "/tmp/x", func() {})
	final := &models.Summary{}
	final.Add(models.DownloadOutcome{Status: models.StatusDownloaded})
	final.Add(models.DownloadOutcome{Status: models.StatusFailed, Err: context.Canceled})
	job.apply(media.Event{Type: media.EventDone, Summary: final}, true)
	assert.Equal(t, JobCanceled, job.Snapshot().Status)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(models.ErrCodeSuperseded))
	assert.Equal(t, http.StatusNotFound, statusFor(models.ErrCodeNotFound))
	assert.Equal(t, http.StatusBadGateway, statusFor(models.ErrCodeNavigation))
	assert.Equal(t, http.StatusInternalServerError, statusFor("SOMETHING_ELSE"))
}
