package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/mediagrab/api/handler"
	"github.com/use-agent/mediagrab/api/middleware"
	"github.com/use-agent/mediagrab/cache"
	"github.com/use-agent/mediagrab/config"
	"github.com/use-agent/mediagrab/media"
	"github.com/use-agent/mediagrab/webhook"
)

// Deps are the long-lived services the routes share.
type Deps struct {
	Pages     handler.PageOpener
	Engine    *media.Engine
	Downloads *media.Manager
	Sessions  *cache.Store
	Jobs      *handler.JobStore
	Notifier  *webhook.Notifier
	StartTime time.Time
}

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health endpoint is intentionally outside auth so monitoring probes always work.
func NewRouter(d Deps, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	// Health: no auth required.
	v1.GET("/health", handler.Health(d.Pages, d.Sessions, d.StartTime))

	// Protected group: auth + rate limit.
	protected := v1.Group("/media")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.RateLimit))

	// Discovery
	protected.POST("/scrape", handler.ScrapeMedia(d.Pages, d.Engine, d.Sessions, cfg.Scraper))

	// Downloads
	protected.POST("/download", handler.PostDownload(d.Downloads, d.Sessions, d.Jobs, d.Notifier, cfg.Download))
	protected.GET("/download/:id", handler.GetDownload(d.Jobs))
	protected.DELETE("/download/:id", handler.CancelDownload(d.Jobs))
	protected.GET("/download/:id/events", handler.StreamDownload(d.Jobs))

	return r
}
