package scraper

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/use-agent/mediagrab/engine"
	"github.com/use-agent/mediagrab/media"
	"github.com/use-agent/mediagrab/models"
	"github.com/ysmood/gson"
	"golang.org/x/net/html"
)

// StaticPage is a render context over the server-sent HTML only. It cannot
// run scripts, so nothing lazy-loaded after the first paint is visible, but
// it needs no browser.
type StaticPage struct {
	fetcher  *engine.HTTPEngine
	headers  map[string]string
	doc      *goquery.Document
	location string
}

// NewStaticPage creates an empty StaticPage that sends headers with its
// fetch; call Navigate before use.
func NewStaticPage(fetcher *engine.HTTPEngine, headers map[string]string) *StaticPage {
	return &StaticPage{fetcher: fetcher, headers: headers}
}

// Navigate fetches rawURL and parses the response body.
func (p *StaticPage) Navigate(ctx context.Context, rawURL string) error {
	page, err := p.fetcher.Fetch(ctx, rawURL, p.headers)
	if err != nil {
		return categorizeError(err, "static fetch of target URL failed")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return models.NewScrapeError(models.ErrCodeNavigation, "parse page html", err)
	}
	p.doc = doc
	p.location = page.FinalURL
	if base := baseHref(doc); base != "" {
		p.location = resolveAgainst(page.FinalURL, base)
	}
	return nil
}

// Eval always fails with media.ErrNoScripting.
func (p *StaticPage) Eval(context.Context, string, ...any) (gson.JSON, error) {
	return gson.New(nil), media.ErrNoScripting
}

// Elements matches selector against the parsed document.
func (p *StaticPage) Elements(_ context.Context, selector string) ([]models.Element, error) {
	if p.doc == nil {
		return nil, errors.New("scraper: static page not loaded")
	}
	sel, err := cascadia.ParseGroup(selector)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeInvalidInput, "invalid selector", err)
	}

	var elems []models.Element
	for _, n := range p.doc.Nodes {
		for _, m := range cascadia.QueryAll(n, sel) {
			el := toElement(m)
			for c := m.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && c.Data == "source" {
					el.Children = append(el.Children, toElement(c))
				}
			}
			elems = append(elems, el)
		}
	}
	return elems, nil
}

// Location is the final URL after redirects, or the document's <base href>.
func (p *StaticPage) Location(context.Context) (string, error) {
	if p.location == "" {
		return "", errors.New("scraper: static page not loaded")
	}
	return p.location, nil
}

// UserAgent is the agent string the fetcher sends.
func (p *StaticPage) UserAgent(context.Context) (string, error) {
	return p.fetcher.UserAgent(), nil
}

func toElement(n *html.Node) models.Element {
	attrs := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		attrs[a.Key] = a.Val
	}
	return models.Element{Tag: strings.ToLower(n.Data), Attrs: attrs}
}

func baseHref(doc *goquery.Document) string {
	href, _ := doc.Find("head base[href]").First().Attr("href")
	return strings.TrimSpace(href)
}

func resolveAgainst(pageURL, ref string) string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return pageURL
	}
	abs, err := media.ResolveURL(base, ref)
	if err != nil {
		return pageURL
	}
	return abs
}
