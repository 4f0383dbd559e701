package media

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"

	"github.com/use-agent/mediagrab/models"
)

// mediaSelector enumerates both kinds in DOM order.
const mediaSelector = "img, video"

// Candidate is a media reference that passed filtering, normalization and
// dedup but has not been classified yet.
type Candidate struct {
	Kind      models.MediaKind
	URL       string
	PosterURL string
}

// Extract enumerates img and video elements on page and returns the
// candidates, in DOM order, that pass filter and are new to sess.
// Records are not added to sess; that happens after classification.
func Extract(ctx context.Context, page RenderContext, filter models.FilterSpec, sess *Session, kinds []models.MediaKind) ([]Candidate, error) {
	location, err := page.Location(ctx)
	if err != nil || location == "" {
		location = sess.BaseURL
	}
	base, err := url.Parse(location)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeNavigation, "page location is not a URL", err)
	}

	elems, err := page.Elements(ctx, mediaSelector)
	if err != nil {
		return nil, scriptError(err, "enumerating media elements failed")
	}

	want := kindSet(kinds)
	visited := make(map[string]struct{})
	var out []Candidate

	for _, el := range elems {
		kind, ok := elementKind(el)
		if !ok {
			continue
		}
		if _, ok := want[kind]; !ok {
			continue
		}

		var poster string
		if kind == models.KindVideo {
			if p := el.Attr("poster"); isFetchable(p) {
				poster, _ = ResolveURL(base, p)
			}
		}

		for _, src := range elementSources(el, kind) {
			if !filter.Matches(el.Attr("class"), el.Attr("id"), src) {
				continue
			}
			if !isFetchable(src) {
				slog.Debug("candidate rejected", "src", truncate(src, 64), "reason", "blank or data URI")
				continue
			}
			abs, err := ResolveURL(base, src)
			if err != nil {
				slog.Debug("candidate rejected", "src", src, "reason", err)
				continue
			}
			if sess.Seen(abs) {
				continue
			}
			if _, dup := visited[abs]; dup {
				continue
			}
			visited[abs] = struct{}{}
			out = append(out, Candidate{Kind: kind, URL: abs, PosterURL: poster})
		}
	}
	return out, nil
}

// ResolveURL resolves ref against base and normalizes the result: lower-case
// scheme and host, no default port, no fragment. Only http and https
// results are accepted.
func ResolveURL(base *url.URL, ref string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", ref, err)
	}
	abs := base.ResolveReference(u)
	abs.Scheme = strings.ToLower(abs.Scheme)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", abs.Scheme)
	}
	if abs.Host == "" {
		return "", fmt.Errorf("no host in %q", ref)
	}

	host := strings.ToLower(abs.Hostname())
	port := abs.Port()
	if (abs.Scheme == "http" && port == "80") || (abs.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		abs.Host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		abs.Host = "[" + host + "]"
	} else {
		abs.Host = host
	}
	abs.Fragment = ""
	abs.RawFragment = ""
	return abs.String(), nil
}

func elementKind(el models.Element) (models.MediaKind, bool) {
	switch strings.ToLower(el.Tag) {
	case "img":
		return models.KindImage, true
	case "video":
		return models.KindVideo, true
	}
	return "", false
}

// elementSources lists the src values an element contributes. A video's own
// src comes before its <source> children.
func elementSources(el models.Element, kind models.MediaKind) []string {
	if kind == models.KindImage {
		return []string{el.Attr("src")}
	}
	var srcs []string
	if s := el.Attr("src"); strings.TrimSpace(s) != "" {
		srcs = append(srcs, s)
	}
	for _, child := range el.Children {
		if strings.EqualFold(child.Tag, "source") {
			srcs = append(srcs, child.Attr("src"))
		}
	}
	if len(srcs) == 0 {
		// Keep the element visible to the blank-src rejection.
		srcs = append(srcs, "")
	}
	return srcs
}

func isFetchable(src string) bool {
	s := strings.TrimSpace(src)
	if s == "" {
		return false
	}
	return !strings.HasPrefix(strings.ToLower(s), "data:")
}

func kindSet(kinds []models.MediaKind) map[models.MediaKind]struct{} {
	if len(kinds) == 0 {
		kinds = []models.MediaKind{models.KindImage, models.KindVideo}
	}
	set := make(map[models.MediaKind]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return set
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
