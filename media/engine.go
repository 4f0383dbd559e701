package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/use-agent/mediagrab/models"
)

// FetchRequest describes one scrape.
type FetchRequest struct {
	URL string

	// Owner identifies whoever issued the request (a client, a CLI run).
	// A newer request with the same owner supersedes an older one.
	Owner string

	Filter     models.FilterSpec
	MaxScrolls int
	Kinds      []models.MediaKind

	// StatusFunc, if set, receives human-readable progress lines.
	StatusFunc func(string)
}

// Engine runs scrape sessions: navigate, stabilize, extract, probe and
// classify. It is safe for concurrent use; each call needs its own page.
type Engine struct {
	Prober     *Prober
	Classifier *Classifier

	// Settle is the wait after each scroll command.
	Settle time.Duration

	// Fingerprint enables media-fingerprint comparison while scrolling.
	Fingerprint bool

	mu     sync.Mutex
	seq    uint64
	owners map[string]ownerClaim
}

type ownerClaim struct {
	id     uint64
	cancel context.CancelCauseFunc
}

// NewEngine creates an Engine.
func NewEngine(prober *Prober, classifier *Classifier, settle time.Duration, fingerprint bool) *Engine {
	return &Engine{
		Prober:      prober,
		Classifier:  classifier,
		Settle:      settle,
		Fingerprint: fingerprint,
		owners:      make(map[string]ownerClaim),
	}
}

// FetchMedia discovers media on req.URL using page and returns the finished
// session. Navigation failures abort immediately; rejected candidates are
// dropped. If a newer request for the same owner starts while this one runs,
// this one stops and returns SESSION_SUPERSEDED with none of its results.
func (e *Engine) FetchMedia(ctx context.Context, page RenderContext, req FetchRequest) (*Session, error) {
	target, err := NormalizePageURL(req.URL)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeInvalidInput, err.Error(), err)
	}

	ctx, release := e.claim(ctx, req.Owner)
	defer release()

	status := func(format string, args ...any) {
		if req.StatusFunc != nil {
			req.StatusFunc(fmt.Sprintf(format, args...))
		}
	}

	// ── 1. Navigate ───────────────────────────────────────────────────
	navStart := time.Now()
	status("Loading page...")
	if err := page.Navigate(ctx, target); err != nil {
		return nil, e.fail(ctx, categorizeError(err, "navigation to target URL failed"))
	}
	location, err := page.Location(ctx)
	if err != nil || location == "" {
		location = target
	}
	sess := NewSession(location)

	// ── 2. Stabilize ──────────────────────────────────────────────────
	if req.MaxScrolls > 0 {
		driver := &ScrollDriver{
			Page:        page,
			Settle:      e.Settle,
			Fingerprint: e.Fingerprint,
			StatusFunc:  req.StatusFunc,
		}
		scrolls, err := driver.Stabilize(ctx, req.MaxScrolls)
		switch {
		case errors.Is(err, ErrNoScripting):
			slog.Debug("render context has no scripting, skipping scroll", "url", target)
		case err != nil:
			return nil, e.fail(ctx, err)
		}
		sess.Scrolls = scrolls
	}
	sess.NavigationTime = time.Since(navStart)

	// ── 3. Extract ────────────────────────────────────────────────────
	status("Extracting media...")
	cands, err := Extract(ctx, page, req.Filter, sess, req.Kinds)
	if err != nil {
		return nil, e.fail(ctx, err)
	}
	sess.Candidates = len(cands)
	slog.Info("media candidates extracted", "url", location, "candidates", len(cands), "scrolls", sess.Scrolls)

	// ── 4. Probe ──────────────────────────────────────────────────────
	if len(cands) > 0 {
		sess.HeaderKind = cands[0].Kind
		sess.Headers = e.Prober.Probe(ctx, page, cands[0].URL, cands[0].Kind)
	} else {
		sess.Headers = e.Prober.Synthesize(ctx, page, models.KindImage)
	}

	// ── 5. Classify ───────────────────────────────────────────────────
	classifyStart := time.Now()
	for i, cand := range cands {
		if ctx.Err() != nil {
			return nil, e.fail(ctx, categorizeError(ctx.Err(), "classification interrupted"))
		}
		status("Processing media %d/%d...", i+1, len(cands))
		rec, err := e.Classifier.Classify(ctx, sess, cand)
		if err != nil {
			if ctx.Err() != nil {
				return nil, e.fail(ctx, categorizeError(ctx.Err(), "classification interrupted"))
			}
			slog.Debug("candidate dropped", "url", cand.URL, "error", err)
			continue
		}
		sess.Add(rec)
	}
	sess.ClassifyTime = time.Since(classifyStart)

	if errors.Is(context.Cause(ctx), ErrSuperseded) {
		return nil, e.fail(ctx, nil)
	}
	status("Found %d media", sess.Len())
	return sess, nil
}

// claim registers ctx under owner, cancelling whatever the owner ran before.
func (e *Engine) claim(ctx context.Context, owner string) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	if owner == "" {
		return ctx, func() { cancel(nil) }
	}

	e.mu.Lock()
	if e.owners == nil {
		e.owners = make(map[string]ownerClaim)
	}
	if prev, ok := e.owners[owner]; ok {
		prev.cancel(ErrSuperseded)
	}
	e.seq++
	id := e.seq
	e.owners[owner] = ownerClaim{id: id, cancel: cancel}
	e.mu.Unlock()

	return ctx, func() {
		e.mu.Lock()
		if c, ok := e.owners[owner]; ok && c.id == id {
			delete(e.owners, owner)
		}
		e.mu.Unlock()
		cancel(nil)
	}
}

// fail replaces err with SESSION_SUPERSEDED when the session was cancelled
// by a newer request.
func (e *Engine) fail(ctx context.Context, err error) error {
	if errors.Is(context.Cause(ctx), ErrSuperseded) {
		return models.NewScrapeError(models.ErrCodeSuperseded, "superseded by a newer request", ErrSuperseded)
	}
	return err
}

// NormalizePageURL trims raw and adds https:// when no scheme is given.
func NormalizePageURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", errors.New("url is empty")
	}
	lower := strings.ToLower(s)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid url %q: no host", raw)
	}
	return u.String(), nil
}
