package scraper

import (
	"net/url"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// adDomains is a set of well-known ad and tracking domains to block
// when BlockAds is enabled.
var adDomains = map[string]struct{}{
	"doubleclick.net":       {},
	"googlesyndication.com": {},
	"googleadservices.com":  {},
	"google-analytics.com":  {},
	"googletagmanager.com":  {},
	"googletagservices.com": {},
	"adnxs.com":             {},
	"adsrvr.org":            {},
	"amazon-adsystem.com":   {},
	"criteo.com":            {},
	"criteo.net":            {},
	"outbrain.com":          {},
	"taboola.com":           {},
	"moatads.com":           {},
	"pubmatic.com":          {},
	"rubiconproject.com":    {},
	"scorecardresearch.com": {},
	"quantserve.com":        {},
	"hotjar.com":            {},
	"ads-twitter.com":       {},
	"chartbeat.com":         {},
	"media.net":             {},
	"bidswitch.net":         {},
	"openx.net":             {},
	"casalemedia.com":       {},
	"demdex.net":            {},
	"serving-sys.com":       {},
	"consensu.org":          {},
}

// isAdDomain checks if a hostname (or any parent domain) is in the ad blocklist.
func isAdDomain(host string) bool {
	host = strings.ToLower(host)
	for {
		if _, ok := adDomains[host]; ok {
			return true
		}
		idx := strings.IndexByte(host, '.')
		if idx < 0 {
			return false
		}
		host = host[idx+1:]
	}
}

// observerSet hands intercepted request headers to waiting ObserveRequest
// calls, keyed by normalized URL.
type observerSet struct {
	mu      sync.Mutex
	waiting map[string]chan map[string]string
}

func newObserverSet() *observerSet {
	return &observerSet{waiting: make(map[string]chan map[string]string)}
}

// add registers interest in rawURL and returns the delivery channel and a
// func that unregisters it.
func (o *observerSet) add(rawURL string) (<-chan map[string]string, func()) {
	key := observerKey(rawURL)
	ch := make(chan map[string]string, 1)
	o.mu.Lock()
	o.waiting[key] = ch
	o.mu.Unlock()
	return ch, func() {
		o.mu.Lock()
		if o.waiting[key] == ch {
			delete(o.waiting, key)
		}
		o.mu.Unlock()
	}
}

// take delivers headers to the observer of rawURL, if any, and reports
// whether one was waiting.
func (o *observerSet) take(rawURL string, headers map[string]string) bool {
	key := observerKey(rawURL)
	o.mu.Lock()
	ch, ok := o.waiting[key]
	if ok {
		delete(o.waiting, key)
	}
	o.mu.Unlock()
	if !ok {
		return false
	}
	ch <- headers
	return true
}

// observerKey normalizes a URL the way the browser reports it back: lower
// case scheme and host, no fragment.
func observerKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// setupHijack installs the page's request router. Requests a probe is
// waiting for are captured and failed so nothing is downloaded; requests to
// known ad/tracking hosts are failed when blockAds is set; everything else
// continues untouched.
//
// Returns the running HijackRouter so the caller can stop it on release.
func setupHijack(page *rod.Page, observers *observerSet, blockAds bool) *rod.HijackRouter {
	router := page.HijackRequests()

	// Pattern "*" + empty resourceType = intercept ALL requests, then
	// decide per-request whether to capture, block or continue.
	_ = router.Add("*", "", func(ctx *rod.Hijack) {
		reqURL := ctx.Request.URL()

		if observers.take(reqURL.String(), fromHeadersMap(ctx.Request.Headers())) {
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}

		if blockAds && isAdDomain(reqURL.Hostname()) {
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}

		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	})

	// router.Run() blocks, so it must live in its own goroutine.
	// It will exit when router.Stop() is called.
	go router.Run()

	return router
}
