package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/use-agent/mediagrab/models"
	"github.com/ysmood/gson"
)

const (
	// elementsJS reports matching elements with all attributes, plus the
	// <source> children of media elements.
	elementsJS = `(sel) => {
		const attrs = (el) => Object.fromEntries(Array.from(el.attributes).map(a => [a.name, a.value]));
		return Array.from(document.querySelectorAll(sel)).map(el => ({
			tag: el.tagName.toLowerCase(),
			attrs: attrs(el),
			children: Array.from(el.children)
				.filter(c => c.tagName === 'SOURCE')
				.map(c => ({ tag: 'source', attrs: attrs(c) })),
		}));
	}`

	locationJS  = `() => window.location.href`
	userAgentJS = `() => navigator.userAgent`

	// loadResourceJS makes the page request url the way its own markup
	// would, so the browser attaches its usual headers.
	loadResourceJS = `(url, kind) => {
		if (kind === 'video') {
			const v = document.createElement('video');
			v.preload = 'metadata';
			v.muted = true;
			v.src = url;
			return;
		}
		const img = new Image();
		img.src = url;
	}`
)

// Page is a pooled browser tab prepared for one scrape. It implements
// media.RenderContext and media.RequestObserver. A Page must not be used
// after Release.
type Page struct {
	scraper       *Scraper
	page          *rod.Page
	router        *rod.HijackRouter
	observers     *observerSet
	navTimeout    time.Duration
	removeStealth func() error
	releaseOnce   sync.Once
	extraHeaders  bool

	// failed is set when the browser itself misbehaved during this use.
	failed atomic.Bool
}

// Navigate loads url and waits for the DOM to settle. Lifecycle:
//
//  1. Navigation timeout – bounds page.Navigate alone
//  2. Navigate           – triggers the page load
//  3. Wait               – DOM stable, best effort
//
// WaitRequestIdle is avoided: it uses the Fetch domain, which conflicts
// with the hijack router installed at Acquire.
func (p *Page) Navigate(ctx context.Context, url string) error {
	rp := p.page.Context(ctx)
	if p.navTimeout > 0 {
		rp = rp.Timeout(p.navTimeout)
	}
	if err := rp.Navigate(url); err != nil {
		p.noteFailure(ctx, err)
		return categorizeError(err, "navigation to target URL failed")
	}
	if err := rp.WaitLoad(); err != nil {
		slog.Debug("WaitLoad did not complete, proceeding", "url", url, "error", err)
	}
	if err := p.page.Context(ctx).WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
		slog.Debug("WaitDOMStable did not converge, proceeding with current DOM",
			"error", err,
		)
	}
	return nil
}

// Eval runs a JS function expression and returns its value.
func (p *Page) Eval(ctx context.Context, js string, args ...any) (gson.JSON, error) {
	res, err := p.page.Context(ctx).Eval(js, args...)
	if err != nil {
		p.noteFailure(ctx, err)
		return gson.New(nil), categorizeError(err, "script evaluation failed")
	}
	return res.Value, nil
}

// Elements enumerates elements matching selector in DOM order.
func (p *Page) Elements(ctx context.Context, selector string) ([]models.Element, error) {
	v, err := p.Eval(ctx, elementsJS, selector)
	if err != nil {
		return nil, err
	}
	var elems []models.Element
	if err := v.Unmarshal(&elems); err != nil {
		return nil, fmt.Errorf("scraper: decode elements: %w", err)
	}
	return elems, nil
}

// Location returns the page's current URL.
func (p *Page) Location(ctx context.Context) (string, error) {
	v, err := p.Eval(ctx, locationJS)
	if err != nil {
		return "", err
	}
	return v.Str(), nil
}

// UserAgent returns navigator.userAgent.
func (p *Page) UserAgent(ctx context.Context) (string, error) {
	v, err := p.Eval(ctx, userAgentJS)
	if err != nil {
		return "", err
	}
	return v.Str(), nil
}

// ObserveRequest makes the page load url and returns the request headers
// the browser sent. The request itself is failed at the router so nothing
// is downloaded.
func (p *Page) ObserveRequest(ctx context.Context, url string, kind models.MediaKind) (map[string]string, error) {
	if p.router == nil {
		return nil, errors.New("scraper: request router not running")
	}
	ch, cancel := p.observers.add(url)
	defer cancel()

	if _, err := p.Eval(ctx, loadResourceJS, url, string(kind)); err != nil {
		return nil, err
	}
	select {
	case headers := <-ch:
		return headers, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns the tab to the pool. The router is stopped and the tab is
// navigated to about:blank so the previous page's DOM is freed.
func (p *Page) Release() {
	p.releaseOnce.Do(func() {
		if p.router != nil {
			_ = p.router.Stop()
		}
		if p.removeStealth != nil {
			_ = p.removeStealth()
		}
		if p.extraHeaders {
			if err := (proto.NetworkSetExtraHTTPHeaders{Headers: proto.NetworkHeaders{}}).Call(p.page); err != nil {
				slog.Warn("cleanup: failed to clear extra headers", "error", err)
				p.failed.Store(true)
			}
		}
		if err := p.page.Navigate("about:blank"); err != nil {
			slog.Warn("cleanup: failed to navigate to about:blank",
				"error", err,
			)
			p.failed.Store(true)
		}
		p.scraper.recycle(p.page, !p.failed.Load())
	})
}

// noteFailure marks the page unhealthy unless err only reflects the
// caller giving up.
func (p *Page) noteFailure(ctx context.Context, err error) {
	if ctx.Err() == nil && !errors.Is(err, context.Canceled) {
		p.failed.Store(true)
	}
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}

// fromHeadersMap is the inverse of toHeadersMap.
func fromHeadersMap(headers proto.NetworkHeaders) map[string]string {
	m := make(map[string]string, len(headers))
	for k, v := range headers {
		m[k] = v.Str()
	}
	return m
}

// setExtraHeaders makes every request from the page carry headers until
// Release clears them.
func (p *Page) setExtraHeaders(headers map[string]string) error {
	if len(headers) == 0 {
		return nil
	}
	if err := (proto.NetworkSetExtraHTTPHeaders{Headers: toHeadersMap(headers)}).Call(p.page); err != nil {
		return err
	}
	p.extraHeaders = true
	return nil
}

// categorizeError wraps raw errors into typed ScrapeErrors so the API layer
// can map them to appropriate HTTP status codes.
func categorizeError(err error, msg string) *models.ScrapeError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewScrapeError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewScrapeError(models.ErrCodeTimeout, "request canceled", err)
	default:
		return models.NewScrapeError(models.ErrCodeNavigation, msg, err)
	}
}
