package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync"
	"testing"

	"github.com/use-agent/mediagrab/models"
	"github.com/ysmood/gson"
)

// fakePage is a scripted RenderContext.
type fakePage struct {
	mu sync.Mutex

	location string
	ua       string
	elements []models.Element

	heights     []int
	heightCalls int
	scrollCalls int
	sources     func(call int) []string
	sourceCalls int

	navErr      error
	evalErr     error
	noScripting bool

	// blockNav makes Navigate wait for ctx; navStarted is closed on entry.
	blockNav   bool
	navStarted chan struct{}
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	if p.navStarted != nil {
		close(p.navStarted)
	}
	if p.blockNav {
		<-ctx.Done()
		return ctx.Err()
	}
	if p.navErr != nil {
		return p.navErr
	}
	p.mu.Lock()
	if p.location == "" {
		p.location = url
	}
	p.mu.Unlock()
	return nil
}

func (p *fakePage) Eval(ctx context.Context, js string, args ...any) (gson.JSON, error) {
	if p.noScripting {
		return gson.New(nil), ErrNoScripting
	}
	if p.evalErr != nil {
		return gson.New(nil), p.evalErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	switch js {
	case heightJS:
		i := p.heightCalls
		p.heightCalls++
		if len(p.heights) == 0 {
			return gson.New(0), nil
		}
		if i >= len(p.heights) {
			i = len(p.heights) - 1
		}
		return gson.New(p.heights[i]), nil
	case scrollJS:
		p.scrollCalls++
		return gson.New(nil), nil
	case mediaSourcesJS:
		call := p.sourceCalls
		p.sourceCalls++
		var srcs []any
		if p.sources != nil {
			for _, s := range p.sources(call) {
				srcs = append(srcs, s)
			}
		}
		return gson.New(srcs), nil
	}
	return gson.New(nil), errors.New("unexpected script")
}

func (p *fakePage) Elements(ctx context.Context, selector string) ([]models.Element, error) {
	if p.evalErr != nil {
		return nil, p.evalErr
	}
	return p.elements, nil
}

func (p *fakePage) Location(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.location, nil
}

func (p *fakePage) UserAgent(ctx context.Context) (string, error) {
	return p.ua, nil
}

// observingPage adds RequestObserver to fakePage.
type observingPage struct {
	*fakePage
	observed map[string]string
	err      error
	block    bool
	calls    int
}

func (p *observingPage) ObserveRequest(ctx context.Context, url string, kind models.MediaKind) (map[string]string, error) {
	p.calls++
	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return p.observed, p.err
}

func img(src string, attrs ...string) models.Element {
	el := models.Element{Tag: "img", Attrs: map[string]string{"src": src}}
	for i := 0; i+1 < len(attrs); i += 2 {
		el.Attrs[attrs[i]] = attrs[i+1]
	}
	return el
}

func video(attrs map[string]string, sources ...string) models.Element {
	el := models.Element{Tag: "video", Attrs: attrs}
	for _, s := range sources {
		el.Children = append(el.Children, models.Element{Tag: "source", Attrs: map[string]string{"src": s}})
	}
	return el
}

func pngBytes(t *testing.T, w, h int, alpha bool) []byte {
	t.Helper()
	m := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a := uint8(0xff)
			if alpha && x == 0 {
				a = 0x40
			}
			m.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 0x80, A: a})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, m); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	m := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			m.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 0x40, A: 0xff})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, m, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}
