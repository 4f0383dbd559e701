package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/use-agent/mediagrab/models"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	defaultChunkSize = 64 << 10
	maxCollisions    = 10000
	maxNameBytes     = 200
)

// ErrStalled fails a transfer that received no bytes within the stall timeout.
var ErrStalled = errors.New("media: download stalled")

// ProgressFunc receives the bytes written so far for the file named label.
// total is 0 when the server sent no content length. With more than one
// worker it is called concurrently.
type ProgressFunc func(current, total int64, label string)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	ChunkSize         int
	Workers           int
	StallTimeout      time.Duration
	RequestsPerSecond float64
}

// Manager streams records to disk. It is safe for concurrent use; batches
// writing into the same directory share one directory lock.
type Manager struct {
	client    *http.Client
	chunkSize int
	workers   int
	stall     time.Duration
	limiter   *rate.Limiter

	locks sync.Map // absolute dir -> *sync.Mutex
}

// NewManager creates a Manager that fetches with client.
func NewManager(client *http.Client, opts ManagerOptions) *Manager {
	m := &Manager{
		client:    client,
		chunkSize: opts.ChunkSize,
		workers:   opts.Workers,
		stall:     opts.StallTimeout,
	}
	if m.chunkSize <= 0 {
		m.chunkSize = defaultChunkSize
	}
	if m.workers <= 0 {
		m.workers = 1
	}
	if opts.RequestsPerSecond > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return m
}

// Batch is one download request.
type Batch struct {
	Records []models.MediaRecord

	// Indices are the records' session indices, used for synthesized file
	// names. Nil means the position in Records.
	Indices []int

	Headers    models.HeaderSet
	HeaderKind models.MediaKind
	PageURL    string
	DestDir    string
}

func (b Batch) index(i int) int {
	if i < len(b.Indices) {
		return b.Indices[i]
	}
	return i
}

// Download fetches every record in b into b.DestDir. The directory is created
// first; failure to create it is the only error returned. Every record ends
// in exactly one outcome, reported in selection order. Cancellation is
// checked between records: records not yet started fail with ctx's error.
func (m *Manager) Download(ctx context.Context, b Batch, progress ProgressFunc) (*models.Summary, error) {
	return m.download(ctx, b, progress, nil)
}

func (m *Manager) download(ctx context.Context, b Batch, progress ProgressFunc, onOutcome func(models.DownloadOutcome)) (*models.Summary, error) {
	dir, err := prepareDir(b.DestDir)
	if err != nil {
		return nil, err
	}
	if progress == nil {
		progress = func(int64, int64, string) {}
	}

	outcomes := make([]models.DownloadOutcome, len(b.Records))
	var g errgroup.Group
	g.SetLimit(m.workers)

	for i, rec := range b.Records {
		idx := b.index(i)
		if err := ctx.Err(); err != nil {
			outcomes[i] = failedOutcome(idx, rec.URL, err)
			if onOutcome != nil {
				onOutcome(outcomes[i])
			}
			continue
		}
		g.Go(func() error {
			outcomes[i] = m.downloadOne(ctx, dir, b, rec, idx, progress)
			if onOutcome != nil {
				onOutcome(outcomes[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	summary := &models.Summary{DestDir: dir}
	for _, o := range outcomes {
		summary.Add(o)
	}
	slog.Info("download batch finished",
		"dir", dir,
		"downloaded", summary.Downloaded,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
	)
	return summary, nil
}

func (m *Manager) downloadOne(ctx context.Context, dir string, b Batch, rec models.MediaRecord, idx int, progress ProgressFunc) models.DownloadOutcome {
	out := models.DownloadOutcome{Index: idx, URL: rec.URL}
	if err := ctx.Err(); err != nil {
		return failedOutcome(idx, rec.URL, err)
	}

	name := FileName(rec.URL, idx, rec.Kind)
	target := filepath.Join(dir, name)

	lock := m.dirLock(dir)
	lock.Lock()
	_, statErr := os.Stat(target)
	lock.Unlock()
	if statErr == nil {
		out.Status = models.StatusSkipped
		out.Reason = models.SkipAlreadyExists
		out.Path = target
		return out
	}

	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return failedOutcome(idx, rec.URL, err)
		}
	}

	reqCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	var stall *time.Timer
	if m.stall > 0 {
		stall = time.AfterFunc(m.stall, func() { cancel(ErrStalled) })
		defer stall.Stop()
	}
	touch := func() {
		if stall != nil {
			stall.Reset(m.stall)
		}
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rec.URL, nil)
	if err != nil {
		return failedOutcome(idx, rec.URL, &models.DownloadError{URL: rec.URL, Err: err})
	}
	requestHeaders(b.Headers, b.HeaderKind, rec.Kind, rec.URL, b.PageURL).Apply(req)

	resp, err := m.client.Do(req)
	if err != nil {
		return failedOutcome(idx, rec.URL, &models.DownloadError{URL: rec.URL, Err: causeOf(reqCtx, err)})
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return failedOutcome(idx, rec.URL, &models.DownloadError{
			URL:    rec.URL,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("HTTP %d", resp.StatusCode),
		})
	}
	touch()

	f, finalPath, err := m.createUnique(dir, name)
	if err != nil {
		return failedOutcome(idx, rec.URL, &models.DownloadError{URL: rec.URL, Err: err})
	}
	label := filepath.Base(finalPath)

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	written, err := m.copyChunks(f, resp.Body, total, label, progress, touch)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		slog.Warn("download interrupted", "url", rec.URL, "path", finalPath, "bytes", written, "error", err)
		o := failedOutcome(idx, rec.URL, &models.DownloadError{URL: rec.URL, Err: causeOf(reqCtx, err)})
		o.Path = finalPath
		o.Bytes = written
		return o
	}

	out.Status = models.StatusDownloaded
	out.Path = finalPath
	out.Bytes = written
	return out
}

// copyChunks streams src to dst in fixed-size chunks, reporting after each.
func (m *Manager) copyChunks(dst io.Writer, src io.Reader, total int64, label string, progress ProgressFunc, touch func()) (int64, error) {
	buf := make([]byte, m.chunkSize)
	var written int64
	for {
		n, rerr := io.ReadFull(src, buf)
		if n > 0 {
			touch()
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)
			progress(written, total, label)
		}
		switch {
		case rerr == nil:
		case errors.Is(rerr, io.EOF), errors.Is(rerr, io.ErrUnexpectedEOF):
			return written, nil
		default:
			return written, rerr
		}
	}
}

// createUnique creates name in dir, or name_1, name_2, ... when taken. The
// exclusive create makes the choice atomic; the directory lock keeps
// concurrent transfers from racing through the same suffixes.
func (m *Manager) createUnique(dir, name string) (*os.File, string, error) {
	lock := m.dirLock(dir)
	lock.Lock()
	defer lock.Unlock()

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 0; n < maxCollisions; n++ {
		candidate := name
		if n > 0 {
			candidate = fmt.Sprintf("%s_%d%s", stem, n, ext)
		}
		p := filepath.Join(dir, candidate)
		f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, p, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("create %s: %w", p, err)
		}
	}
	return nil, "", fmt.Errorf("create %s: too many collisions", name)
}

func (m *Manager) dirLock(dir string) *sync.Mutex {
	l, _ := m.locks.LoadOrStore(dir, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// prepareDir creates dir recursively and returns its absolute form.
func prepareDir(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "downloads"
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", models.NewScrapeError(models.ErrCodeFilesystem, "invalid destination directory", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", models.NewScrapeError(models.ErrCodeFilesystem, "could not create destination directory", err)
	}
	return abs, nil
}

// FileName derives the on-disk name for a record: the last segment of the
// URL path, unescaped and sanitized, or media_<index>.<ext> when blank.
func FileName(rawURL string, index int, kind models.MediaKind) string {
	var base string
	if u, err := url.Parse(rawURL); err == nil {
		p := u.Path
		if unescaped, err := url.PathUnescape(u.EscapedPath()); err == nil {
			p = unescaped
		}
		if !strings.HasSuffix(p, "/") {
			base = path.Base(p)
		}
	}
	base = sanitizeFileName(base)
	if base == "" {
		return fmt.Sprintf("media_%d.%s", index, kind.DefaultExt())
	}
	return base
}

func sanitizeFileName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' ||
			r == '"' || r == '<' || r == '>' || r == '|':
			return '_'
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	name = strings.Trim(name, ".")
	if name == "" {
		return ""
	}
	if len(name) > maxNameBytes {
		ext := filepath.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		stem := strings.ToValidUTF8(name[:maxNameBytes-len(ext)], "")
		name = stem + ext
	}
	return name
}

func failedOutcome(idx int, url string, err error) models.DownloadOutcome {
	return models.DownloadOutcome{
		Index:  idx,
		URL:    url,
		Status: models.StatusFailed,
		Err:    err,
		Error:  err.Error(),
	}
}

// causeOf surfaces a specific cancellation cause (ErrStalled) instead of the
// generic error the transport reported for it.
func causeOf(ctx context.Context, err error) error {
	cause := context.Cause(ctx)
	if cause == nil || errors.Is(err, cause) ||
		errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", cause, err)
}
