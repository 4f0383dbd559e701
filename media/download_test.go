package media

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/mediagrab/models"
)

func imageRecord(url string) models.MediaRecord {
	return models.MediaRecord{Kind: models.KindImage, URL: url}
}

func newFileServer(t *testing.T, files map[string][]byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		body, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestDownload_StreamsWithProgress(t *testing.T) {
	body := bytes.Repeat([]byte("x"), 150<<10)
	srv, _ := newFileServer(t, map[string][]byte{"/files/photo.jpg": body})
	dir := t.TempDir()

	m := NewManager(srv.Client(), ManagerOptions{ChunkSize: 64 << 10})
	var calls []int64
	var lastTotal int64
	var label string
	summary, err := m.Download(context.Background(), Batch{
		Records: []models.MediaRecord{imageRecord(srv.URL + "/files/photo.jpg")},
		DestDir: dir,
	}, func(current, total int64, l string) {
		calls = append(calls, current)
		lastTotal = total
		label = l
	})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Downloaded)
	assert.Equal(t, []int64{64 << 10, 128 << 10, 150 << 10}, calls)
	assert.Equal(t, int64(len(body)), lastTotal)
	assert.Equal(t, "photo.jpg", label)

	got, err := os.ReadFile(filepath.Join(dir, "photo.jpg"))
	require.NoError(t, err)
	assert.Equal(t, body, got)
	assert.Equal(t, int64(len(body)), summary.Outcomes[0].Bytes)
}

func TestDownload_SkipsExistingWithoutWriting(t *testing.T) {
	srv, hits := newFileServer(t, map[string][]byte{"/photo.jpg": []byte("new bytes")})
	dir := t.TempDir()
	existing := filepath.Join(dir, "photo.jpg")
	require.NoError(t, os.WriteFile(existing, []byte("old bytes"), 0o644))

	m := NewManager(srv.Client(), ManagerOptions{})
	summary, err := m.Download(context.Background(), Batch{
		Records: []models.MediaRecord{imageRecord(srv.URL + "/photo.jpg")},
		DestDir: dir,
	}, nil)
	require.NoError(t, err)

	require.Len(t, summary.Outcomes, 1)
	assert.Equal(t, models.StatusSkipped, summary.Outcomes[0].Status)
	assert.Equal(t, models.SkipAlreadyExists, summary.Outcomes[0].Reason)
	assert.Equal(t, int32(0), hits.Load(), "skip happens before any request")

	got, _ := os.ReadFile(existing)
	assert.Equal(t, "old bytes", string(got))
	_, err = os.Stat(filepath.Join(dir, "photo_1.jpg"))
	assert.True(t, os.IsNotExist(err), "a skip never bumps the collision counter")
}

func TestDownload_CollisionAfterCheck(t *testing.T) {
	dir := t.TempDir()
	var mu sync.Mutex
	var racers []string
	setRacers := func(names ...string) {
		mu.Lock()
		racers = names
		mu.Unlock()
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		// Simulate another writer creating the names between check and write.
		for _, name := range racers {
			_ = os.WriteFile(filepath.Join(dir, name), []byte("racer"), 0o644)
		}
		_, _ = w.Write([]byte("mine"))
	}))
	defer srv.Close()

	m := NewManager(srv.Client(), ManagerOptions{})

	setRacers("photo.jpg")
	summary, err := m.Download(context.Background(), Batch{
		Records: []models.MediaRecord{imageRecord(srv.URL + "/a/photo.jpg")},
		DestDir: dir,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "photo_1.jpg"), summary.Outcomes[0].Path)

	// photo.jpg now exists, so use a different name for the second race.
	setRacers("clip.jpg", "clip_1.jpg")
	summary, err = m.Download(context.Background(), Batch{
		Records: []models.MediaRecord{imageRecord(srv.URL + "/clip.jpg")},
		DestDir: dir,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "clip_2.jpg"), summary.Outcomes[0].Path)

	for _, name := range []string{"photo.jpg", "clip.jpg", "clip_1.jpg"} {
		got, _ := os.ReadFile(filepath.Join(dir, name))
		assert.Equal(t, "racer", string(got), "%s must not be overwritten", name)
	}
	got, _ := os.ReadFile(filepath.Join(dir, "clip_2.jpg"))
	assert.Equal(t, "mine", string(got))
}

func TestDownload_SecondRunAllSkipped(t *testing.T) {
	srv, _ := newFileServer(t, map[string][]byte{
		"/a.jpg": []byte("a"),
		"/b.jpg": []byte("b"),
		"/":      []byte("root"),
	})
	dir := t.TempDir()
	batch := Batch{
		Records: []models.MediaRecord{
			imageRecord(srv.URL + "/a.jpg"),
			imageRecord(srv.URL + "/b.jpg"),
			imageRecord(srv.URL + "/"),
		},
		Indices: []int{0, 1, 7},
		DestDir: dir,
	}
	m := NewManager(srv.Client(), ManagerOptions{})

	first, err := m.Download(context.Background(), batch, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Downloaded)
	assert.FileExists(t, filepath.Join(dir, "media_7.jpg"))

	second, err := m.Download(context.Background(), batch, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Downloaded)
	assert.Equal(t, 3, second.Skipped)
}

func TestDownload_FailureIsIsolated(t *testing.T) {
	srv, _ := newFileServer(t, map[string][]byte{"/ok.jpg": []byte("ok")})
	dir := t.TempDir()
	m := NewManager(srv.Client(), ManagerOptions{})

	summary, err := m.Download(context.Background(), Batch{
		Records: []models.MediaRecord{
			imageRecord(srv.URL + "/missing.jpg"),
			imageRecord("http://127.0.0.1:1/unreachable.jpg"),
			imageRecord(srv.URL + "/ok.jpg"),
		},
		DestDir: dir,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 1, summary.Downloaded)
	assert.Equal(t, 3, summary.Total())

	var de *models.DownloadError
	require.True(t, errors.As(summary.Outcomes[0].Err, &de))
	assert.Equal(t, http.StatusNotFound, de.Status)
	assert.NotEmpty(t, summary.Outcomes[1].Error)
	assert.Equal(t, models.StatusDownloaded, summary.Outcomes[2].Status)
	_, err = os.Stat(filepath.Join(dir, "missing.jpg"))
	assert.True(t, os.IsNotExist(err), "failed fetches write nothing")
}

func TestDownload_DirectoryFailure(t *testing.T) {
	parent := t.TempDir()
	blocker := filepath.Join(parent, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	m := NewManager(http.DefaultClient, ManagerOptions{})
	_, err := m.Download(context.Background(), Batch{
		Records: []models.MediaRecord{imageRecord("http://example.invalid/a.jpg")},
		DestDir: filepath.Join(blocker, "sub"),
	}, nil)
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeFilesystem, models.CodeOf(err))
}

func TestDownload_CancelledBeforeStart(t *testing.T) {
	srv, hits := newFileServer(t, map[string][]byte{"/a.jpg": []byte("a")})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewManager(srv.Client(), ManagerOptions{})
	summary, err := m.Download(ctx, Batch{
		Records: []models.MediaRecord{imageRecord(srv.URL + "/a.jpg"), imageRecord(srv.URL + "/b.jpg")},
		DestDir: t.TempDir(),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Failed)
	for _, o := range summary.Outcomes {
		assert.ErrorIs(t, o.Err, context.Canceled)
	}
	assert.Equal(t, int32(0), hits.Load())
}

func TestDownload_UnknownLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("part one "))
		w.(http.Flusher).Flush()
		_, _ = w.Write([]byte("part two"))
	}))
	defer srv.Close()

	m := NewManager(srv.Client(), ManagerOptions{ChunkSize: 4})
	var totals []int64
	summary, err := m.Download(context.Background(), Batch{
		Records: []models.MediaRecord{{Kind: models.KindVideo, URL: srv.URL + "/stream"}},
		DestDir: t.TempDir(),
	}, func(current, total int64, _ string) { totals = append(totals, total) })
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Downloaded)
	assert.Equal(t, int64(len("part one part two")), summary.Outcomes[0].Bytes)
	for _, total := range totals {
		assert.Zero(t, total)
	}
}

func TestDownload_Stall(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		_, _ = w.Write([]byte("start"))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	m := NewManager(srv.Client(), ManagerOptions{StallTimeout: 50 * time.Millisecond})
	summary, err := m.Download(context.Background(), Batch{
		Records: []models.MediaRecord{imageRecord(srv.URL + "/slow.jpg")},
		DestDir: t.TempDir(),
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Failed)
	assert.ErrorIs(t, summary.Outcomes[0].Err, ErrStalled)
}

func TestDownload_WorkersKeepOrder(t *testing.T) {
	names := []string{"a", "b", "c", "d", "e", "f"}
	files := map[string][]byte{}
	for _, name := range names {
		files["/"+name+".jpg"] = []byte(name)
	}
	srv, _ := newFileServer(t, files)
	var records []models.MediaRecord
	for _, name := range names {
		records = append(records, imageRecord(srv.URL+"/"+name+".jpg"))
	}

	var mu sync.Mutex
	labels := map[string]bool{}
	m := NewManager(srv.Client(), ManagerOptions{Workers: 3})
	summary, err := m.Download(context.Background(), Batch{Records: records, DestDir: t.TempDir()},
		func(_, _ int64, label string) {
			mu.Lock()
			labels[label] = true
			mu.Unlock()
		})
	require.NoError(t, err)
	assert.Equal(t, 6, summary.Downloaded)
	for i, o := range summary.Outcomes {
		assert.Equal(t, records[i].URL, o.URL)
		assert.Equal(t, i, o.Index)
	}
	assert.Len(t, labels, 6)
}

func TestStartDownload_Events(t *testing.T) {
	srv, _ := newFileServer(t, map[string][]byte{"/a.jpg": []byte("a"), "/b.jpg": []byte("b")})
	m := NewManager(srv.Client(), ManagerOptions{})

	events := StartDownload(context.Background(), m, Batch{
		Records: []models.MediaRecord{
			imageRecord(srv.URL + "/a.jpg"),
			imageRecord(srv.URL + "/missing.jpg"),
			imageRecord(srv.URL + "/b.jpg"),
		},
		DestDir: t.TempDir(),
	})

	var outcomes []models.DownloadOutcome
	var done *Event
	for ev := range events {
		switch ev.Type {
		case EventOutcome:
			outcomes = append(outcomes, *ev.Outcome)
		case EventDone:
			e := ev
			done = &e
		}
	}
	require.NotNil(t, done)
	require.NoError(t, done.Err)
	assert.Len(t, outcomes, 3)
	assert.Equal(t, 2, done.Summary.Downloaded)
	assert.Equal(t, 1, done.Summary.Failed)
}

func TestFileName(t *testing.T) {
	tests := []struct {
		url   string
		index int
		kind  models.MediaKind
		want  string
	}{
		{"https://x/a/b/photo.jpg?w=100", 0, models.KindImage, "photo.jpg"},
		{"https://x/a/my%20photo.png", 0, models.KindImage, "my photo.png"},
		{"https://x/", 3, models.KindImage, "media_3.jpg"},
		{"https://x", 4, models.KindVideo, "media_4.mp4"},
		{"https://x/dir/", 5, models.KindVideo, "media_5.mp4"},
		{"https://x/a%2Fb.jpg", 0, models.KindImage, "b.jpg"},
		{"https://x/what%3F.jpg", 0, models.KindImage, "what_.jpg"},
		{"https://x/..", 6, models.KindImage, "media_6.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, FileName(tt.url, tt.index, tt.kind))
		})
	}
}
