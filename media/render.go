// Package media discovers downloadable images and videos on a rendered page
// and downloads a selected subset to local storage.
//
// A scrape session runs one sequential pass over a RenderContext:
// navigate, stabilize (scroll until the page stops growing), probe request
// headers, extract candidates, classify them into MediaRecords. Downloads run
// separately through a Manager, usually on a background goroutine started by
// StartDownload.
package media

import (
	"context"
	"errors"

	"github.com/use-agent/mediagrab/models"
	"github.com/ysmood/gson"
)

// ErrNoScripting is returned by render contexts that cannot execute script
// (the static HTML context). The engine skips scrolling for them.
var ErrNoScripting = errors.New("media: render context cannot run scripts")

// RenderContext is the page the engine works against. Implementations must
// be usable from a single goroutine at a time.
type RenderContext interface {
	// Navigate loads url and waits for the initial load to settle.
	Navigate(ctx context.Context, url string) error

	// Eval runs a JS function expression in the page and returns its result.
	Eval(ctx context.Context, js string, args ...any) (gson.JSON, error)

	// Elements enumerates elements matching a CSS selector in DOM order.
	Elements(ctx context.Context, selector string) ([]models.Element, error)

	// Location is the page's current URL, after redirects.
	Location(ctx context.Context) (string, error)

	// UserAgent is the agent string the page sends.
	UserAgent(ctx context.Context) (string, error)
}

// RequestObserver is implemented by render contexts that can trigger a
// resource load from inside the page and report the request headers the
// browser attached to it.
type RequestObserver interface {
	ObserveRequest(ctx context.Context, url string, kind models.MediaKind) (map[string]string, error)
}
