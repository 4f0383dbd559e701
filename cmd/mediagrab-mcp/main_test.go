package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/mediagrab/models"
)

func fakeAPI(t *testing.T) (*apiClient, *atomic.Int32) {
	t.Helper()
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(models.ErrorResponse{Error: &models.ErrorDetail{Code: models.ErrCodeUnauthorized, Message: "invalid API key"}})
			return
		}
		switch r.Method + " " + r.URL.Path {
		case "POST /api/v1/media/scrape":
			var req models.ScrapeRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			if req.URL == "bad" {
				json.NewEncoder(w).Encode(models.ScrapeResponse{Error: &models.ErrorDetail{Code: models.ErrCodeNavigation, Message: "navigation failed"}})
				return
			}
			size := int64(1500)
			scrolls := -1
			if req.MaxScrolls != nil {
				scrolls = *req.MaxScrolls
			}
			json.NewEncoder(w).Encode(models.ScrapeResponse{
				Success:   true,
				SessionID: "sess-1",
				PageURL:   req.URL,
				Records: []models.MediaRecord{
					{Kind: models.KindImage, URL: "https://cdn.test/a.jpg", SizeBytes: &size},
					{Kind: models.KindVideo, URL: "https://cdn.test/b.mp4"},
				},
				Candidates: 3,
				Scrolls:    scrolls,
			})
		case "POST /api/v1/media/download":
			json.NewEncoder(w).Encode(models.DownloadResponse{ID: "dl-1", Status: "processing", Total: 1})
		case "GET /api/v1/media/download/dl-1":
			st := models.DownloadStatusResponse{ID: "dl-1", Status: "processing", Total: 1}
			if polls.Add(1) > 1 {
				st.Status = "completed"
				st.Downloaded = 1
				st.DestDir = "/srv/downloads"
				st.Outcomes = []models.DownloadOutcome{{URL: "https://cdn.test/a.jpg", Status: models.StatusDownloaded, Path: "/srv/downloads/a.jpg", Bytes: 1500}}
			}
			json.NewEncoder(w).Encode(st)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return &apiClient{baseURL: srv.URL, apiKey: "k", http: srv.Client(), poll: 5 * time.Millisecond}, &polls
}

func callTool(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestScrapeMedia(t *testing.T) {
	api, _ := fakeAPI(t)
	res, err := handleScrapeMedia(api)(t.Context(), callTool(map[string]any{
		"url":         "https://example.test/gallery",
		"max_scrolls": float64(3),
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	text := resultText(t, res)
	assert.Contains(t, text, "Session: sess-1")
	assert.Contains(t, text, "Found 2 media (3 candidates, 3 scrolls)")
	assert.Contains(t, text, "[0] image https://cdn.test/a.jpg (1.5 kB)")
	assert.Contains(t, text, "[1] video https://cdn.test/b.mp4 (unknown size)")
}

func TestScrapeMedia_Errors(t *testing.T) {
	api, _ := fakeAPI(t)

	res, err := handleScrapeMedia(api)(t.Context(), callTool(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = handleScrapeMedia(api)(t.Context(), callTool(map[string]any{"url": "bad"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), models.ErrCodeNavigation)

	api.apiKey = "wrong"
	res, err = handleScrapeMedia(api)(t.Context(), callTool(map[string]any{"url": "x"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), models.ErrCodeUnauthorized)
}

func TestDownloadMedia_PollsUntilDone(t *testing.T) {
	api, polls := fakeAPI(t)
	res, err := handleDownloadMedia(api)(t.Context(), callTool(map[string]any{
		"session_id": "sess-1",
		"indices":    []any{float64(0)},
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.GreaterOrEqual(t, polls.Load(), int32(2))

	text := resultText(t, res)
	assert.Contains(t, text, "Download dl-1 completed: 1 downloaded, 0 skipped, 0 failed")
	assert.Contains(t, text, "/srv/downloads/a.jpg (1.5 kB)")
}

func TestScrapeMedia_ScrollsOnlyWhenGiven(t *testing.T) {
	api, _ := fakeAPI(t)

	res, err := handleScrapeMedia(api)(t.Context(), callTool(map[string]any{"url": "https://example.test/"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "-1 scrolls", "unset max_scrolls is left to the server")

	res, err = handleScrapeMedia(api)(t.Context(), callTool(map[string]any{"url": "https://example.test/", "max_scrolls": float64(0)}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "0 scrolls")
}
