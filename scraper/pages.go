package scraper

import (
	"context"

	"github.com/use-agent/mediagrab/engine"
	"github.com/use-agent/mediagrab/media"
	"github.com/use-agent/mediagrab/models"
)

// Pages opens render contexts by mode. Either side may be nil; asking for
// a missing one is an INVALID_INPUT error.
type Pages struct {
	Browser *Scraper
	Static  *engine.HTTPEngine
}

// Open returns a render context for mode ("browser" or "static") and the
// func that gives it back. Static mode only honours opts.Headers.
func (p *Pages) Open(ctx context.Context, mode string, opts PageOptions) (media.RenderContext, func(), error) {
	switch mode {
	case models.ModeStatic:
		if p.Static == nil {
			return nil, nil, models.NewScrapeError(models.ErrCodeInvalidInput, "static mode is not available", nil)
		}
		return NewStaticPage(p.Static, opts.Headers), func() {}, nil
	case models.ModeBrowser, "":
		if p.Browser == nil {
			return nil, nil, models.NewScrapeError(models.ErrCodeInvalidInput, "browser mode is not available", nil)
		}
		page, err := p.Browser.Acquire(ctx, opts)
		if err != nil {
			return nil, nil, err
		}
		return page, page.Release, nil
	default:
		return nil, nil, models.NewScrapeError(models.ErrCodeInvalidInput, "unknown mode "+mode, nil)
	}
}

// Stats reports browser pool utilisation; zero without a browser.
func (p *Pages) Stats() models.PoolStats {
	if p.Browser == nil {
		return models.PoolStats{}
	}
	return p.Browser.Stats()
}
