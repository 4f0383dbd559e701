package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/use-agent/mediagrab/models"
)

// ErrSuperseded is the cause attached to a session context cancelled by a
// newer request for the same owner.
var ErrSuperseded = errors.New("media: session superseded by a newer request")

// ProbeError explains why the observed probe fell back to synthesized
// headers. It is only logged.
type ProbeError struct {
	Host string
	Err  error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Host, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// categorizeError wraps context errors into typed ScrapeErrors.
func categorizeError(err error, msg string) *models.ScrapeError {
	switch {
	case errors.Is(err, ErrSuperseded):
		return models.NewScrapeError(models.ErrCodeSuperseded, "superseded by a newer request", err)
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewScrapeError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewScrapeError(models.ErrCodeTimeout, "request canceled", err)
	default:
		return models.NewScrapeError(models.ErrCodeNavigation, msg, err)
	}
}

func scrollStatus(n, max int) string {
	return fmt.Sprintf("Scrolling page... (%d/%d)", n, max)
}
