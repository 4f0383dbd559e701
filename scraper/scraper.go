package scraper

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/mediagrab/config"
	"github.com/use-agent/mediagrab/engine"
	"github.com/use-agent/mediagrab/models"
)

// Scraper manages the global browser lifecycle and the page pool.
// It is safe for concurrent use.
type Scraper struct {
	browser     *rod.Browser
	pagePool    rod.Pool[rod.Page]
	browserCfg  config.BrowserConfig
	scraperCfg  config.ScraperConfig
	userAgent   string
	activePages atomic.Int32
	startTime   time.Time

	// health scores each pooled page (*rod.Page -> *engine.PageHealth).
	health sync.Map
}

// NewScraper launches a headless browser and initialises the reusable page pool.
func NewScraper(browserCfg config.BrowserConfig, scraperCfg config.ScraperConfig, userAgent string) (*Scraper, error) {
	l := launcher.New().
		Headless(browserCfg.Headless).
		NoSandbox(browserCfg.NoSandbox)

	if browserCfg.BrowserBin != "" {
		l = l.Bin(browserCfg.BrowserBin)
	}
	if browserCfg.DefaultProxy != "" {
		l = l.Proxy(browserCfg.DefaultProxy)
	}

	// ── Stealth flags ────────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))
	// Media elements must not start playback (and downloads) on their own.
	l.Set(flags.Flag("autoplay-policy"), "user-gesture-required")
	l.Set(flags.Flag("mute-audio"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewScrapeError(
			models.ErrCodeBrowserCrash,
			"failed to launch browser",
			err,
		)
	}
	slog.Info("browser launched", "controlURL", controlURL)

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, models.NewScrapeError(
			models.ErrCodeBrowserCrash,
			"failed to connect to browser",
			err,
		)
	}

	pool := rod.NewPagePool(browserCfg.MaxPages)
	slog.Info("page pool created", "maxPages", browserCfg.MaxPages)

	return &Scraper{
		browser:    browser,
		pagePool:   pool,
		browserCfg: browserCfg,
		scraperCfg: scraperCfg,
		userAgent:  userAgent,
		startTime:  time.Now(),
	}, nil
}

// PageOptions tunes one acquired page.
type PageOptions struct {
	// Stealth overrides the browser default when non-nil.
	Stealth *bool
	// Headers are sent with every request the page makes, media loads
	// included.
	Headers map[string]string
}

// Acquire borrows a page from the pool and prepares it for one scrape:
// stealth evasions, user agent and the request router are installed before
// any navigation. The caller must Release the page.
//
// The pool blocks while all pages are busy; ctx bounds that wait.
func (s *Scraper) Acquire(ctx context.Context, opts PageOptions) (*Page, error) {
	type result struct {
		page *rod.Page
		err  error
	}
	got := make(chan result, 1)
	go func() {
		p, err := s.pagePool.Get(s.newPage)
		got <- result{p, err}
	}()

	var rp *rod.Page
	select {
	case r := <-got:
		if r.err != nil {
			return nil, models.NewScrapeError(
				models.ErrCodeBrowserCrash,
				"failed to acquire page from pool",
				r.err,
			)
		}
		rp = r.page
	case <-ctx.Done():
		// Hand the page back once the pool produces it.
		go func() {
			if r := <-got; r.err == nil {
				s.pagePool.Put(r.page)
			}
		}()
		return nil, categorizeError(ctx.Err(), "waiting for a free page")
	}
	s.activePages.Add(1)

	useStealth := s.browserCfg.Stealth
	if opts.Stealth != nil {
		useStealth = *opts.Stealth
	}
	var removeStealth func() error
	if useStealth {
		remove, err := rp.EvalOnNewDocument(stealth.JS)
		if err != nil {
			slog.Warn("stealth injection failed, proceeding without stealth", "error", err)
		} else {
			removeStealth = remove
		}
	}
	if s.userAgent != "" {
		if err := rp.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      s.userAgent,
			AcceptLanguage: "en-US,en",
		}); err != nil {
			slog.Warn("user agent override failed", "error", err)
		}
	}

	page := &Page{
		scraper:       s,
		page:          rp,
		navTimeout:    s.scraperCfg.NavigationTimeout,
		observers:     newObserverSet(),
		removeStealth: removeStealth,
	}
	if err := page.setExtraHeaders(opts.Headers); err != nil {
		slog.Warn("extra headers failed", "error", err)
	}
	page.router = setupHijack(rp, page.observers, s.scraperCfg.BlockAds)
	return page, nil
}

func (s *Scraper) newPage() (*rod.Page, error) {
	p, err := s.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, err
	}
	s.health.Store(p, engine.NewPageHealth())
	return p, nil
}

// recycle returns rp to the pool, or closes it and frees its slot when its
// health says it should be retired.
func (s *Scraper) recycle(rp *rod.Page, success bool) {
	s.activePages.Add(-1)
	if v, ok := s.health.Load(rp); ok {
		h := v.(*engine.PageHealth)
		h.Record(success)
		if !h.ShouldRetire() {
			s.pagePool.Put(rp)
			return
		}
	}
	s.health.Delete(rp)
	slog.Debug("retiring browser page", "success", success)
	if err := rp.Close(); err != nil {
		slog.Warn("failed to close retired page", "error", err)
	}
	s.pagePool.Put(nil)
}

// Stats returns a snapshot of the pool's current state.
func (s *Scraper) Stats() models.PoolStats {
	return models.PoolStats{
		MaxPages:    s.browserCfg.MaxPages,
		ActivePages: int(s.activePages.Load()),
	}
}

// Uptime is how long the browser has been running.
func (s *Scraper) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// Close drains the page pool and kills the browser process.
// Call this on graceful shutdown to prevent zombie Chrome processes.
func (s *Scraper) Close() {
	slog.Info("scraper shutting down: draining page pool")
	s.pagePool.Cleanup(func(p *rod.Page) {
		_ = p.Close()
	})
	slog.Info("scraper shutting down: closing browser")
	if err := s.browser.Close(); err != nil {
		slog.Warn("browser close failed", "error", err)
	}
	slog.Info("scraper shutdown complete")
}
