package media

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/use-agent/mediagrab/models"
)

// stableObservations is how many consecutive unchanged heights end scrolling.
const stableObservations = 3

const (
	heightJS = `() => document.body ? document.body.scrollHeight : 0`

	// Scroll to the bottom, then jump to the top and back. Some lazy loaders
	// only fire on a fresh scroll event that crosses their sentinel.
	scrollJS = `() => {
		window.scrollTo(0, document.body.scrollHeight);
		document.documentElement.scrollTop = 0;
		document.documentElement.scrollTop = document.documentElement.scrollHeight;
		window.scrollTo(0, document.body.scrollHeight);
	}`

	mediaSourcesJS = `() => Array.from(document.querySelectorAll('img[src], video[src], video source[src]'))
		.map(el => el.getAttribute('src'))`
)

// ScrollDriver scrolls a page until its content stops growing.
type ScrollDriver struct {
	Page RenderContext

	// Settle is the wait after each scroll command.
	Settle time.Duration

	// Fingerprint also requires the media sources to be unchanged before an
	// observation counts as stable.
	Fingerprint bool

	// StatusFunc, if set, receives a line per scroll.
	StatusFunc func(string)
}

// Stabilize issues at most maxScrolls scroll commands and returns how many
// it issued. It stops early after three consecutive observations with no
// height change. Any script failure aborts with NAVIGATION_FAILED.
//
// Pages that replace content without changing height look stable; enable
// Fingerprint to catch those.
func (d *ScrollDriver) Stabilize(ctx context.Context, maxScrolls int) (int, error) {
	last, err := d.height(ctx)
	if err != nil {
		return 0, err
	}
	var lastFP uint64
	if d.Fingerprint {
		if lastFP, err = d.fingerprint(ctx); err != nil {
			return 0, err
		}
	}

	unchanged := 0
	scrolls := 0
	for scrolls < maxScrolls {
		if err := ctx.Err(); err != nil {
			return scrolls, categorizeError(err, "scrolling interrupted")
		}
		if d.StatusFunc != nil {
			d.StatusFunc(scrollStatus(scrolls+1, maxScrolls))
		}
		if _, err := d.Page.Eval(ctx, scrollJS); err != nil {
			return scrolls, scriptError(err, "scroll command failed")
		}
		scrolls++

		if err := sleepCtx(ctx, d.Settle); err != nil {
			return scrolls, categorizeError(err, "scrolling interrupted")
		}

		h, err := d.height(ctx)
		if err != nil {
			return scrolls, err
		}
		same := h == last
		if d.Fingerprint {
			fp, err := d.fingerprint(ctx)
			if err != nil {
				return scrolls, err
			}
			same = same && Similar(fp, lastFP, fingerprintThreshold)
			lastFP = fp
		}

		if same {
			unchanged++
			if unchanged >= stableObservations {
				slog.Debug("page stabilized", "scrolls", scrolls, "height", h)
				break
			}
		} else {
			unchanged = 0
		}
		last = h
	}
	return scrolls, nil
}

func (d *ScrollDriver) height(ctx context.Context) (int, error) {
	res, err := d.Page.Eval(ctx, heightJS)
	if err != nil {
		return 0, scriptError(err, "reading page height failed")
	}
	return res.Int(), nil
}

func (d *ScrollDriver) fingerprint(ctx context.Context) (uint64, error) {
	res, err := d.Page.Eval(ctx, mediaSourcesJS)
	if err != nil {
		return 0, scriptError(err, "reading media sources failed")
	}
	arr := res.Arr()
	srcs := make([]string, 0, len(arr))
	for _, v := range arr {
		srcs = append(srcs, v.Str())
	}
	return Fingerprint(srcs), nil
}

func scriptError(err error, msg string) *models.ScrapeError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return categorizeError(err, msg)
	}
	return models.NewScrapeError(models.ErrCodeNavigation, msg, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
