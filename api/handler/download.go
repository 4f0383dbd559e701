package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/use-agent/mediagrab/cache"
	"github.com/use-agent/mediagrab/config"
	"github.com/use-agent/mediagrab/media"
	"github.com/use-agent/mediagrab/models"
	"github.com/use-agent/mediagrab/webhook"
)

// Job statuses.
const (
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobPartial    = "partial"
	JobFailed     = "failed"
	JobCanceled   = "canceled"
)

// Job is one background download. Its state is only changed by the
// goroutine draining the download's event channel.
type Job struct {
	ID        string
	createdAt time.Time
	cancel    context.CancelFunc

	mu        sync.Mutex
	status    string
	total     int
	destDir   string
	summary   models.Summary
	current   *models.FileProgress
	errDetail *models.ErrorDetail
	changed   chan struct{} // closed and replaced on every update
	finished  bool
}

func newJob(total int, destDir string, cancel context.CancelFunc) *Job {
	return &Job{
		ID:        "dl-" + uuid.NewString(),
		createdAt: time.Now(),
		cancel:    cancel,
		status:    JobProcessing,
		total:     total,
		destDir:   destDir,
		changed:   make(chan struct{}),
	}
}

// Snapshot returns the job's current state.
func (j *Job) Snapshot() models.DownloadStatusResponse {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshotLocked()
}

func (j *Job) snapshotLocked() models.DownloadStatusResponse {
	resp := models.DownloadStatusResponse{
		ID:         j.ID,
		Status:     j.status,
		Total:      j.total,
		Downloaded: j.summary.Downloaded,
		Skipped:    j.summary.Skipped,
		Failed:     j.summary.Failed,
		DestDir:    j.destDir,
		Outcomes:   append([]models.DownloadOutcome(nil), j.summary.Outcomes...),
		Error:      j.errDetail,
	}
	if j.current != nil {
		cur := *j.current
		resp.Current = &cur
	}
	return resp
}

// watch returns the current state, a channel closed on the next change and
// whether the job has finished.
func (j *Job) watch() (models.DownloadStatusResponse, <-chan struct{}, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshotLocked(), j.changed, j.finished
}

// apply folds one download event into the job state. canceled marks a
// finished job whose context was cancelled.
func (j *Job) apply(ev media.Event, canceled bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	switch ev.Type {
	case media.EventProgress:
		j.current = ev.Progress
	case media.EventOutcome:
		j.summary.Add(*ev.Outcome)
		j.current = nil
	case media.EventDone:
		j.current = nil
		j.finished = true
		switch {
		case ev.Err != nil:
			j.errDetail = asScrapeError(ev.Err).ToDetail()
			j.status = JobFailed
		default:
			// The final summary has the outcomes in selection order.
			j.summary = *ev.Summary
			j.destDir = ev.Summary.DestDir
			j.status = finalStatus(ev.Summary)
			if canceled {
				j.status = JobCanceled
			}
		}
	}
	close(j.changed)
	j.changed = make(chan struct{})
}

// finalStatus is failed when nothing succeeded, partial when some records
// failed, completed otherwise.
func finalStatus(s *models.Summary) string {
	switch {
	case s.Failed > 0 && s.Failed == s.Total():
		return JobFailed
	case s.Failed > 0:
		return JobPartial
	default:
		return JobCompleted
	}
}

// JobStore holds in-flight and finished download jobs.
type JobStore struct {
	jobs sync.Map
	ttl  time.Duration
	done chan struct{}
	once sync.Once
}

// NewJobStore creates a JobStore that forgets finished jobs after ttl.
func NewJobStore(ttl time.Duration) *JobStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	s := &JobStore{ttl: ttl, done: make(chan struct{})}
	go s.cleanupLoop()
	return s
}

// Get returns the job with id.
func (s *JobStore) Get(id string) (*Job, bool) {
	v, ok := s.jobs.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Job), true
}

// Close stops the cleanup goroutine and cancels running jobs.
func (s *JobStore) Close() {
	s.once.Do(func() {
		close(s.done)
		s.jobs.Range(func(_, v any) bool {
			v.(*Job).cancel()
			return true
		})
	})
}

func (s *JobStore) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-s.ttl)
			s.jobs.Range(func(key, value any) bool {
				job := value.(*Job)
				_, _, finished := job.watch()
				if finished && job.createdAt.Before(cutoff) {
					s.jobs.Delete(key)
				}
				return true
			})
		}
	}
}

// PostDownload returns a handler for POST /api/v1/media/download.
// It resolves the selection against a stored session and starts the
// transfer in the background.
func PostDownload(m *media.Manager, sessions *cache.Store, jobs *JobStore, notifier *webhook.Notifier, cfg config.DownloadConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.DownloadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abortError(c, models.ErrCodeInvalidInput, err.Error())
			return
		}

		sess, ok := sessions.Get(req.SessionID)
		if !ok {
			abortError(c, models.ErrCodeNotFound, "scrape session not found or expired")
			return
		}

		batch, err := sess.Pick(req.Indices, req.URLs, resolveDestDir(cfg.DefaultDir, req.DestDir))
		if err != nil {
			abortError(c, models.ErrCodeInvalidInput, err.Error())
			return
		}
		if len(batch.Records) == 0 {
			abortError(c, models.ErrCodeInvalidInput, "nothing selected for download")
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		job := newJob(len(batch.Records), batch.DestDir, cancel)
		jobs.jobs.Store(job.ID, job)

		go runJob(ctx, m, job, batch, notifier, req.WebhookURL, req.WebhookSecret)

		c.JSON(http.StatusAccepted, models.DownloadResponse{
			ID:     job.ID,
			Status: JobProcessing,
			Total:  job.total,
		})
	}
}

// runJob drains the download's events into job and fires the webhook.
func runJob(ctx context.Context, m *media.Manager, job *Job, batch media.Batch, notifier *webhook.Notifier, hookURL, hookSecret string) {
	defer job.cancel()

	for ev := range media.StartDownload(ctx, m, batch) {
		job.apply(ev, ctx.Err() != nil)
	}

	snap := job.Snapshot()
	slog.Info("download job finished",
		"id", job.ID,
		"status", snap.Status,
		"downloaded", snap.Downloaded,
		"skipped", snap.Skipped,
		"failed", snap.Failed,
		"total", snap.Total,
	)

	if hookURL != "" && notifier != nil {
		typ := webhook.EventDownloadCompleted
		if snap.Status == JobFailed {
			typ = webhook.EventDownloadFailed
		}
		notifier.DeliverAsync(hookURL, hookSecret, webhook.NewEvent(typ, job.ID, snap))
	}
}

// GetDownload returns a handler for GET /api/v1/media/download/:id.
func GetDownload(jobs *JobStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, ok := jobs.Get(c.Param("id"))
		if !ok {
			abortError(c, models.ErrCodeNotFound, "download job not found")
			return
		}
		c.JSON(http.StatusOK, job.Snapshot())
	}
}

// CancelDownload returns a handler for DELETE /api/v1/media/download/:id.
// Records already transferring finish; the rest fail as canceled.
func CancelDownload(jobs *JobStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, ok := jobs.Get(c.Param("id"))
		if !ok {
			abortError(c, models.ErrCodeNotFound, "download job not found")
			return
		}
		job.cancel()
		c.JSON(http.StatusAccepted, job.Snapshot())
	}
}

// StreamDownload returns a handler for GET /api/v1/media/download/:id/events.
// It sends a "progress" server-sent event on every state change and a final
// "done" event when the job finishes.
func StreamDownload(jobs *JobStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, ok := jobs.Get(c.Param("id"))
		if !ok {
			abortError(c, models.ErrCodeNotFound, "download job not found")
			return
		}

		c.Header("Cache-Control", "no-cache")
		c.Header("X-Accel-Buffering", "no")
		c.Stream(func(w io.Writer) bool {
			snap, changed, finished := job.watch()
			if finished {
				c.SSEvent("done", snap)
				return false
			}
			c.SSEvent("progress", snap)
			select {
			case <-changed:
				return true
			case <-c.Request.Context().Done():
				return false
			}
		})
	}
}

// resolveDestDir confines requested to base; absolute paths and ".." are
// re-rooted under it.
func resolveDestDir(base, requested string) string {
	if requested == "" {
		return base
	}
	return filepath.Join(base, filepath.Clean(string(filepath.Separator)+requested))
}
