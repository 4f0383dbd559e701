package media

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/use-agent/mediagrab/engine"
	"github.com/use-agent/mediagrab/models"
)

// Accept values a browser sends for subresource loads.
const (
	acceptImage = "image/avif,image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8"
	acceptVideo = "video/webm,video/ogg,video/*;q=0.9,application/ogg;q=0.7,audio/*;q=0.6,*/*;q=0.5"
)

// Headers the probe never replays. Host and Sec-Fetch-Site are refined per
// target; Range would turn downloads into partial fetches.
var probeDropHeaders = map[string]struct{}{
	"Host":           {},
	"Range":          {},
	"Cookie":         {},
	"Content-Length": {},
	"Sec-Fetch-Site": {},
}

// Prober derives the session header set from the live page.
type Prober struct {
	// Timeout bounds the observed probe.
	Timeout time.Duration

	// Memory, when set, sends hosts whose observed probe timed out
	// straight to the synthesized headers.
	Memory *engine.ProbeMemory

	// UserAgent is used when the page cannot report its own.
	UserAgent string
}

// Probe returns the header set for requests made on behalf of page. When page
// implements RequestObserver it triggers a load of sampleURL inside the page
// and replays the headers the browser sent, completed from the synthesized
// set. Otherwise, or on any failure, it returns the synthesized set. Probe
// never fails.
func (p *Prober) Probe(ctx context.Context, page RenderContext, sampleURL string, kind models.MediaKind) models.HeaderSet {
	synth := p.Synthesize(ctx, page, kind)

	observer, ok := page.(RequestObserver)
	if !ok || sampleURL == "" {
		return synth
	}

	host := hostOf(sampleURL)
	if p.Memory != nil && p.Memory.ShouldSkip(host) {
		slog.Debug("probe skipped, host remembered as unresponsive", "host", host)
		return synth
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	observed, err := observer.ObserveRequest(probeCtx, sampleURL, kind)
	if err != nil {
		perr := &ProbeError{Host: host, Err: err}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil && p.Memory != nil {
			p.Memory.MarkTimeout(host)
		}
		slog.Warn("header probe failed, using synthesized headers", "error", perr)
		return synth
	}
	if p.Memory != nil {
		p.Memory.Forget(host)
	}

	merged := synth.Clone()
	for k, v := range observed {
		ck := http.CanonicalHeaderKey(k)
		if _, drop := probeDropHeaders[ck]; drop || v == "" {
			continue
		}
		merged[ck] = v
	}
	// The transport never decompresses; keep bodies byte-exact.
	merged["Accept-Encoding"] = "identity"
	slog.Debug("header probe observed", "host", host, "headers", len(observed))
	return merged
}

// Synthesize builds the fallback header set from the page location and the
// page's reported user agent.
func (p *Prober) Synthesize(ctx context.Context, page RenderContext, kind models.MediaKind) models.HeaderSet {
	h := models.HeaderSet{
		"Accept-Encoding": "identity",
		"Accept-Language": "en-US,en;q=0.9",
		"Connection":      "keep-alive",
		"Sec-Fetch-Mode":  "no-cors",
	}
	if kind == models.KindVideo {
		h["Accept"] = acceptVideo
		h["Sec-Fetch-Dest"] = "video"
	} else {
		h["Accept"] = acceptImage
		h["Sec-Fetch-Dest"] = "image"
	}

	ua, err := page.UserAgent(ctx)
	if err != nil || ua == "" {
		ua = p.UserAgent
	}
	if ua != "" {
		h["User-Agent"] = ua
	}

	if loc, err := page.Location(ctx); err == nil && loc != "" {
		h["Referer"] = loc
		if u, err := url.Parse(loc); err == nil && u.Scheme != "" && u.Host != "" {
			h["Origin"] = u.Scheme + "://" + u.Host
		}
	}
	return h
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
