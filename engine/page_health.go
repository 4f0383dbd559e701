package engine

import (
	"math"
	"sync"
	"time"
)

// Retirement thresholds for pooled browser pages.
const (
	maxErrScore = 3.0
	maxPageUses = 50
	maxPageAge  = 50 * time.Minute
)

// PageHealth tracks how a pooled browser page has been doing.
//
// Scoring rules:
//   - Success: errScore -= 0.5 (min 0)
//   - Failure: errScore += 1.0
//
// A page is retired once errScore reaches 3, after 50 uses, or when it is
// 50 minutes old, whichever comes first.
type PageHealth struct {
	mu       sync.Mutex
	errScore float64
	useCount int
	created  time.Time
}

// NewPageHealth starts tracking a freshly created page.
func NewPageHealth() *PageHealth {
	return &PageHealth{created: time.Now()}
}

// Record counts one use of the page.
func (h *PageHealth) Record(success bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.useCount++
	if success {
		h.errScore = math.Max(0, h.errScore-0.5)
	} else {
		h.errScore += 1.0
	}
}

// ShouldRetire reports whether the page should be closed instead of reused.
func (h *PageHealth) ShouldRetire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.errScore >= maxErrScore ||
		h.useCount >= maxPageUses ||
		time.Since(h.created) >= maxPageAge
}
