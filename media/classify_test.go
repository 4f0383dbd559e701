package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/mediagrab/models"
)

type mediaServer struct {
	*httptest.Server
	mu      sync.Mutex
	headers map[string]http.Header
}

func (s *mediaServer) seen(path string) http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headers[path]
}

func newMediaServer(t *testing.T) *mediaServer {
	t.Helper()
	pngAlpha := pngBytes(t, 400, 200, true)
	jpg := jpegBytes(t, 100, 300)

	s := &mediaServer{headers: make(map[string]http.Header)}
	mux := http.NewServeMux()
	record := func(r *http.Request) {
		s.mu.Lock()
		s.headers[r.URL.Path] = r.Header.Clone()
		s.mu.Unlock()
	}
	mux.HandleFunc("/alpha.png", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngAlpha)
	})
	mux.HandleFunc("/photo.jpg", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(jpg)
	})
	mux.HandleFunc("/page.html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html></html>"))
	})
	mux.HandleFunc("/broken.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("not really a jpeg"))
	})
	mux.HandleFunc("/clip.mp4", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		w.Header().Set("Content-Type", "video/mp4")
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/sized.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Length", "1234")
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/nohead.mp4", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_, _ = w.Write([]byte("video"))
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func newTestClassifier(srv *mediaServer) *Classifier {
	return &Classifier{Client: srv.Client(), ThumbnailEdge: 200}
}

func TestClassifyImage(t *testing.T) {
	srv := newMediaServer(t)
	c := newTestClassifier(srv)

	info, err := c.ClassifyImage(context.Background(), srv.URL+"/alpha.png", models.HeaderSet{"Referer": "https://x/"})
	require.NoError(t, err)
	assert.Equal(t, "image/png", info.ThumbnailType, "alpha sources stay PNG")
	assert.Positive(t, info.SizeBytes)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(info.Thumbnail))
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Width)
	assert.Equal(t, 100, cfg.Height)
	assert.Equal(t, "https://x/", srv.seen("/alpha.png").Get("Referer"))

	info, err = c.ClassifyImage(context.Background(), srv.URL+"/photo.jpg", nil)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", info.ThumbnailType)
	cfg, _, err = image.DecodeConfig(bytes.NewReader(info.Thumbnail))
	require.NoError(t, err)
	assert.Equal(t, 66, cfg.Width)
	assert.Equal(t, 200, cfg.Height)
}

func TestClassifyImage_Rejections(t *testing.T) {
	srv := newMediaServer(t)
	c := newTestClassifier(srv)

	tests := []struct {
		path     string
		kind     models.ClassificationKind
		notFound bool
	}{
		{"/missing.jpg", models.ClassifyStatus, true},
		{"/page.html", models.ClassifyContentType, false},
		{"/broken.jpg", models.ClassifyDecode, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			_, err := c.ClassifyImage(context.Background(), srv.URL+tt.path, nil)
			var ce *models.ClassificationError
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.Equal(t, tt.kind, ce.Kind)
			assert.Equal(t, tt.notFound, ce.NotFound())
			assert.True(t, IsRejection(err))
		})
	}
}

func TestClassifyImage_SizeCap(t *testing.T) {
	srv := newMediaServer(t)
	c := &Classifier{Client: srv.Client(), MaxImageBytes: 16}
	_, err := c.ClassifyImage(context.Background(), srv.URL+"/photo.jpg", nil)
	var ce *models.ClassificationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, models.ClassifyDecode, ce.Kind)
}

func TestClassifyVideo(t *testing.T) {
	srv := newMediaServer(t)
	c := newTestClassifier(srv)

	size, ct, err := c.ClassifyVideo(context.Background(), srv.URL+"/clip.mp4", nil)
	require.NoError(t, err, "missing content-length is not an error")
	assert.Nil(t, size)
	assert.Equal(t, "video/mp4", ct)

	size, _, err = c.ClassifyVideo(context.Background(), srv.URL+"/sized.mp4", nil)
	require.NoError(t, err)
	require.NotNil(t, size)
	assert.Equal(t, int64(1234), *size)

	size, _, err = c.ClassifyVideo(context.Background(), srv.URL+"/nohead.mp4", nil)
	require.NoError(t, err)
	assert.Nil(t, size)

	_, _, err = c.ClassifyVideo(context.Background(), srv.URL+"/gone.mp4", nil)
	var ce *models.ClassificationError
	require.True(t, errors.As(err, &ce))
	assert.True(t, ce.NotFound())
}

func TestClassify_VideoRecordKeptWithoutSize(t *testing.T) {
	srv := newMediaServer(t)
	c := newTestClassifier(srv)
	sess := NewSession(srv.URL + "/watch")
	sess.Headers = models.HeaderSet{"Referer": srv.URL + "/watch", "Accept": acceptImage}

	rec, err := c.Classify(context.Background(), sess, Candidate{
		Kind:      models.KindVideo,
		URL:       srv.URL + "/clip.mp4",
		PosterURL: srv.URL + "/missing-poster.jpg",
	})
	require.NoError(t, err)
	assert.Nil(t, rec.SizeBytes)
	assert.Equal(t, "image/png", rec.ThumbnailType, "placeholder when the poster fails")
	assert.NotEmpty(t, rec.Thumbnail)

	got := srv.seen("/clip.mp4")
	assert.Equal(t, acceptVideo, got.Get("Accept"), "accept follows the record kind")
	assert.Equal(t, "same-origin", got.Get("Sec-Fetch-Site"))
}

func TestClassify_PosterThumbnail(t *testing.T) {
	srv := newMediaServer(t)
	c := newTestClassifier(srv)
	sess := NewSession(srv.URL + "/watch")

	rec, err := c.Classify(context.Background(), sess, Candidate{
		Kind:      models.KindVideo,
		URL:       srv.URL + "/sized.mp4",
		PosterURL: srv.URL + "/photo.jpg",
	})
	require.NoError(t, err)
	require.NotNil(t, rec.SizeBytes)
	assert.Equal(t, "image/jpeg", rec.ThumbnailType)
}

func TestPlaceholderThumbnail(t *testing.T) {
	data, ct := PlaceholderThumbnail(200)
	assert.Equal(t, "image/png", ct)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 200, cfg.Width)
	assert.Equal(t, 112, cfg.Height)
}

func TestFitWithin(t *testing.T) {
	tests := []struct {
		w, h, max    int
		wantW, wantH int
	}{
		{400, 200, 200, 200, 100},
		{100, 300, 200, 66, 200},
		{50, 40, 200, 50, 40},
		{1000, 1, 200, 200, 1},
		{0, 10, 200, 0, 0},
	}
	for _, tt := range tests {
		w, h := fitWithin(tt.w, tt.h, tt.max)
		assert.Equal(t, tt.wantW, w)
		assert.Equal(t, tt.wantH, h)
	}
}
