package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/mediagrab/cache"
	"github.com/use-agent/mediagrab/config"
	"github.com/use-agent/mediagrab/media"
	"github.com/use-agent/mediagrab/models"
	"github.com/use-agent/mediagrab/scraper"
)

// ClientIDHeader names the caller-chosen owner of a scrape. A new scrape
// with the same owner (and API key) supersedes the running one.
const ClientIDHeader = "X-Client-ID"

// PageOpener hands out render contexts for one scrape.
type PageOpener interface {
	Open(ctx context.Context, mode string, opts scraper.PageOptions) (media.RenderContext, func(), error)
	Stats() models.PoolStats
}

// ScrapeMedia returns a handler for POST /api/v1/media/scrape.
//
// Orchestration flow:
//  1. Parse & validate request, apply defaults.
//  2. Open a render context for the requested mode.
//  3. Engine.FetchMedia → session       (navigation_ms, classify_ms)
//  4. Store the session, return records with thumbnails.
func ScrapeMedia(pages PageOpener, eng *media.Engine, sessions *cache.Store, cfg config.ScraperConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		totalStart := time.Now()

		// ── 1. Parse request ────────────────────────────────────────
		var req models.ScrapeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ScrapeResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: err.Error(),
				},
			})
			return
		}
		req.Defaults(cfg.MaxScrolls)

		ctx := c.Request.Context()
		if cfg.SessionTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.SessionTimeout)
			defer cancel()
		}

		// ── 2. Render context ───────────────────────────────────────
		page, release, err := pages.Open(ctx, req.Mode, scraper.PageOptions{
			Stealth: req.Stealth,
			Headers: req.Headers,
		})
		if err != nil {
			respondScrapeError(c, err, models.TimingInfo{TotalMs: time.Since(totalStart).Milliseconds()})
			return
		}
		defer release()

		// ── 3. Discover ─────────────────────────────────────────────
		sess, err := eng.FetchMedia(ctx, page, media.FetchRequest{
			URL:        req.URL,
			Owner:      owner(c),
			Filter:     req.Filter,
			MaxScrolls: *req.MaxScrolls,
			Kinds:      req.Kinds,
		})
		if err != nil {
			respondScrapeError(c, err, models.TimingInfo{TotalMs: time.Since(totalStart).Milliseconds()})
			return
		}

		// ── 4. Store and respond ────────────────────────────────────
		id := sessions.Put(sess)
		records := sess.Records()
		slog.Info("media scrape finished",
			"session_id", id,
			"url", sess.BaseURL,
			"records", len(records),
			"candidates", sess.Candidates,
			"scrolls", sess.Scrolls,
		)

		c.JSON(http.StatusOK, models.ScrapeResponse{
			Success:    true,
			SessionID:  id,
			PageURL:    sess.BaseURL,
			Records:    records,
			Scrolls:    sess.Scrolls,
			Candidates: sess.Candidates,
			Timing: models.TimingInfo{
				TotalMs:      time.Since(totalStart).Milliseconds(),
				NavigationMs: sess.NavigationTime.Milliseconds(),
				ClassifyMs:   sess.ClassifyTime.Milliseconds(),
			},
		})
	}
}

// owner scopes the client ID to the API key so callers cannot supersede
// each other's scrapes. No client ID means no supersession.
func owner(c *gin.Context) string {
	id := c.GetHeader(ClientIDHeader)
	if id == "" {
		return ""
	}
	return c.GetString("api_key") + "/" + id
}

// respondScrapeError maps a ScrapeError to the correct HTTP status code and
// writes a structured JSON error response.
func respondScrapeError(c *gin.Context, err error, timing models.TimingInfo) {
	scrapeErr := asScrapeError(err)
	c.JSON(statusFor(scrapeErr.Code), models.ScrapeResponse{
		Success: false,
		Records: []models.MediaRecord{},
		Error:   scrapeErr.ToDetail(),
		Timing:  timing,
	})
}
