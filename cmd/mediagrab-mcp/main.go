package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/use-agent/mediagrab/models"
)

// apiClient talks to a running mediagrab HTTP API.
type apiClient struct {
	baseURL  string
	apiKey   string
	clientID string
	http     *http.Client
	poll     time.Duration
}

func main() {
	apiURL := os.Getenv("MEDIAGRAB_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}

	apiKey := os.Getenv("MEDIAGRAB_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "MEDIAGRAB_API_KEY is required")
		os.Exit(1)
	}

	api := &apiClient{
		baseURL:  strings.TrimRight(apiURL, "/"),
		apiKey:   apiKey,
		clientID: os.Getenv("MEDIAGRAB_CLIENT_ID"),
		http:     &http.Client{Timeout: 10 * time.Minute},
		poll:     2 * time.Second,
	}

	s := server.NewMCPServer(
		"mediagrab",
		"1.0.0",
		server.WithToolCapabilities(false),
	)
	registerTools(s, api)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func registerTools(s *server.MCPServer, api *apiClient) {
	scrapeTool := mcp.NewTool("scrape_media",
		mcp.WithDescription("Open a web page, scroll until no new media appears and list the images and videos found. Returns a session_id for download_media."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The page to discover media on"),
		),
		mcp.WithString("class",
			mcp.Description("Keep only elements whose class attribute contains this text"),
		),
		mcp.WithString("id",
			mcp.Description("Keep only elements whose id attribute contains this text"),
		),
		mcp.WithString("src",
			mcp.Description("Keep only elements whose source URL contains this text"),
		),
		mcp.WithNumber("max_scrolls",
			mcp.Description("Maximum scroll steps; 0 disables scrolling (default: server setting, max: 100)"),
		),
		mcp.WithString("mode",
			mcp.Description("'browser' (default) renders and scrolls the page; 'static' only fetches its HTML"),
			mcp.Enum(models.ModeBrowser, models.ModeStatic),
		),
	)
	s.AddTool(scrapeTool, handleScrapeMedia(api))

	downloadTool := mcp.NewTool("download_media",
		mcp.WithDescription("Download media from a scrape_media session to the server's disk and wait for the result. Without indices or urls every record is downloaded."),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("session_id returned by scrape_media"),
		),
		mcp.WithArray("indices",
			mcp.Description("Record indices to download"),
		),
		mcp.WithArray("urls",
			mcp.Description("Record URLs to download"),
		),
		mcp.WithString("dest_dir",
			mcp.Description("Subdirectory of the server's download directory"),
		),
	)
	s.AddTool(downloadTool, handleDownloadMedia(api))
}

// post sends a JSON POST request to the API and returns the response body.
func (a *apiClient) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(req)
}

func (a *apiClient) do(req *http.Request) ([]byte, error) {
	req.Header.Set("X-API-Key", a.apiKey)
	if a.clientID != "" {
		req.Header.Set("X-Client-ID", a.clientID)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// pollJob polls a download job until its status is no longer "processing"
// or ctx is cancelled.
func (a *apiClient) pollJob(ctx context.Context, id string) (*models.DownloadStatusResponse, error) {
	ticker := time.NewTicker(a.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/v1/media/download/"+id, nil)
			if err != nil {
				return nil, fmt.Errorf("create poll request: %w", err)
			}
			body, err := a.do(req)
			if err != nil {
				return nil, fmt.Errorf("poll request failed: %w", err)
			}
			var st models.DownloadStatusResponse
			if err := json.Unmarshal(body, &st); err != nil {
				return nil, fmt.Errorf("parse poll status: %w", err)
			}
			if st.Status != "processing" {
				return &st, nil
			}
		}
	}
}

func handleScrapeMedia(api *apiClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		reqBody := models.ScrapeRequest{
			URL: url,
			Filter: models.FilterSpec{
				ClassContains: request.GetString("class", ""),
				IDContains:    request.GetString("id", ""),
				SrcContains:   request.GetString("src", ""),
			},
			Mode: request.GetString("mode", ""),
		}
		if _, ok := request.GetArguments()["max_scrolls"]; ok {
			n := request.GetInt("max_scrolls", 0)
			reqBody.MaxScrolls = &n
		}

		respBody, err := api.post(ctx, "/api/v1/media/scrape", reqBody)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var resp models.ScrapeResponse
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}
		if !resp.Success {
			return mcp.NewToolResultError(errorText("scrape failed", resp.Error)), nil
		}
		return mcp.NewToolResultText(formatScrape(&resp)), nil
	}
}

func handleDownloadMedia(api *apiClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := request.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError("session_id is required"), nil
		}

		reqBody := models.DownloadRequest{
			SessionID: sessionID,
			Indices:   request.GetIntSlice("indices", nil),
			URLs:      request.GetStringSlice("urls", nil),
			DestDir:   request.GetString("dest_dir", ""),
		}

		respBody, err := api.post(ctx, "/api/v1/media/download", reqBody)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var started models.DownloadResponse
		if err := json.Unmarshal(respBody, &started); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}
		if started.ID == "" {
			return mcp.NewToolResultError(errorText("download failed", started.Error)), nil
		}

		st, err := api.pollJob(ctx, started.ID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("download %s: %v", started.ID, err)), nil
		}
		if st.Error != nil {
			return mcp.NewToolResultError(errorText("download failed", st.Error)), nil
		}
		return mcp.NewToolResultText(formatDownload(st)), nil
	}
}

func errorText(fallback string, e *models.ErrorDetail) string {
	if e == nil {
		return fallback
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func formatScrape(resp *models.ScrapeResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s\nPage: %s\nFound %d media (%d candidates, %d scrolls)\n\n",
		resp.SessionID, resp.PageURL, len(resp.Records), resp.Candidates, resp.Scrolls)
	for i, r := range resp.Records {
		size := "unknown size"
		if r.SizeBytes != nil {
			size = humanize.Bytes(uint64(*r.SizeBytes))
		}
		fmt.Fprintf(&b, "[%d] %s %s (%s)\n", i, r.Kind, r.URL, size)
	}
	return b.String()
}

func formatDownload(st *models.DownloadStatusResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Download %s %s: %d downloaded, %d skipped, %d failed\nDirectory: %s\n\n",
		st.ID, st.Status, st.Downloaded, st.Skipped, st.Failed, st.DestDir)
	for _, o := range st.Outcomes {
		switch o.Status {
		case models.StatusDownloaded:
			fmt.Fprintf(&b, "- %s -> %s (%s)\n", o.URL, o.Path, humanize.Bytes(uint64(o.Bytes)))
		case models.StatusSkipped:
			fmt.Fprintf(&b, "- %s skipped: %s\n", o.URL, o.Reason)
		default:
			fmt.Fprintf(&b, "- %s failed: %s\n", o.URL, o.Error)
		}
	}
	return b.String()
}
