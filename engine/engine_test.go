package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPEngine_Fetch(t *testing.T) {
	var gotUA, gotEncoding string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotEncoding = r.Header.Get("Accept-Encoding")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title> Gallery </title></head><body><img src="/a.jpg"></body></html>`))
	}))
	defer srv.Close()

	e := NewHTTPEngine(NewHTTPClient(ClientOptions{}), "test-agent/1.0")
	page, err := e.Fetch(context.Background(), srv.URL+"/gallery", nil)
	require.NoError(t, err)

	assert.Equal(t, "Gallery", page.Title)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Equal(t, srv.URL+"/gallery", page.FinalURL)
	assert.Contains(t, page.HTML, `<img src="/a.jpg">`)
	assert.Equal(t, "test-agent/1.0", gotUA)
	assert.Equal(t, "identity", gotEncoding)
}

func TestHTTPEngine_FetchExtraHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html></html>`))
	}))
	defer srv.Close()

	e := NewHTTPEngine(NewHTTPClient(ClientOptions{}), "ua")
	_, err := e.Fetch(context.Background(), srv.URL, map[string]string{
		"Referer":         "https://gallery.test/",
		"Accept-Language": "de-DE",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://gallery.test/", got.Get("Referer"))
	assert.Equal(t, "de-DE", got.Get("Accept-Language"))
	assert.Equal(t, "ua", got.Get("User-Agent"))
}

func TestHTTPEngine_FetchRejectsNonHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	e := NewHTTPEngine(NewHTTPClient(ClientOptions{}), "ua")
	_, err := e.Fetch(context.Background(), srv.URL, nil)
	assert.Error(t, err)
}

func TestHTTPEngine_FetchRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	e := NewHTTPEngine(NewHTTPClient(ClientOptions{}), "ua")
	_, err := e.Fetch(context.Background(), srv.URL, nil)
	assert.Error(t, err)
}

func TestProbeMemory(t *testing.T) {
	pm := NewProbeMemory(50 * time.Millisecond)
	defer pm.Stop()

	assert.False(t, pm.ShouldSkip("cdn.example.com"))

	pm.MarkTimeout("cdn.example.com")
	assert.True(t, pm.ShouldSkip("cdn.example.com"))
	assert.False(t, pm.ShouldSkip("other.example.com"))

	pm.Forget("cdn.example.com")
	assert.False(t, pm.ShouldSkip("cdn.example.com"))

	pm.MarkTimeout("cdn.example.com")
	time.Sleep(80 * time.Millisecond)
	assert.False(t, pm.ShouldSkip("cdn.example.com"), "entry should expire after ttl")
}

func TestExtractTitle(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{"simple", "<title>Hello</title>", "Hello"},
		{"trimmed", "<html><head><title>\n  Photos \n</title>", "Photos"},
		{"empty title", "<title></title><p>x</p>", ""},
		{"missing", "<html><body>no title</body></html>", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractTitle(tt.html))
		})
	}
}

func TestPageHealth(t *testing.T) {
	h := NewPageHealth()
	assert.False(t, h.ShouldRetire())

	h.Record(false)
	h.Record(false)
	h.Record(true)
	assert.False(t, h.ShouldRetire(), "score 1.5")

	h.Record(false)
	h.Record(false)
	assert.True(t, h.ShouldRetire(), "score 3.5")
}

func TestPageHealth_RetiresAfterUses(t *testing.T) {
	h := NewPageHealth()
	for i := 0; i < maxPageUses-1; i++ {
		h.Record(true)
	}
	assert.False(t, h.ShouldRetire())
	h.Record(true)
	assert.True(t, h.ShouldRetire())
}

func TestPageHealth_RetiresWhenOld(t *testing.T) {
	h := NewPageHealth()
	h.created = time.Now().Add(-maxPageAge)
	assert.True(t, h.ShouldRetire())
}
