package models

import (
	"net/http"
	"net/url"
	"strings"
)

// HeaderSet is the outbound header template for one scrape session.
// It is read-only once produced; use ForTarget for per-request copies.
type HeaderSet map[string]string

// Clone returns an independent copy.
func (h HeaderSet) Clone() HeaderSet {
	out := make(HeaderSet, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// ForTarget returns a copy refined for one request: Host is the target's
// host and Sec-Fetch-Site is "same-origin" when the target host equals the
// host of pageURL, else "cross-site".
func (h HeaderSet) ForTarget(targetURL, pageURL string) HeaderSet {
	out := h.Clone()
	target, err := url.Parse(targetURL)
	if err != nil || target.Host == "" {
		return out
	}
	out["Host"] = target.Host

	site := "cross-site"
	if page, err := url.Parse(pageURL); err == nil && strings.EqualFold(page.Host, target.Host) {
		site = "same-origin"
	}
	out["Sec-Fetch-Site"] = site
	return out
}

// Apply copies the set onto req. Host is applied to req.Host because
// net/http ignores a Host entry in the header map.
func (h HeaderSet) Apply(req *http.Request) {
	for k, v := range h {
		if strings.EqualFold(k, "Host") {
			req.Host = v
			continue
		}
		req.Header.Set(k, v)
	}
}
