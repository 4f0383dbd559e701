package media

import (
	"context"

	"github.com/use-agent/mediagrab/models"
)

// EventType discriminates download events.
type EventType string

const (
	EventProgress EventType = "progress"
	EventOutcome  EventType = "outcome"
	EventDone     EventType = "done"
)

// Event is one message from a background download to its observer.
type Event struct {
	Type     EventType
	Progress *models.FileProgress    // EventProgress
	Outcome  *models.DownloadOutcome // EventOutcome
	Summary  *models.Summary         // EventDone, nil when Err is set
	Err      error                   // EventDone, directory creation failure
}

// StartDownload runs b on a background goroutine and returns its event
// stream. Progress events are dropped when the consumer falls behind;
// outcome events and the final done event are always delivered. The channel
// is closed after the done event, so callers must drain it.
func StartDownload(ctx context.Context, m *Manager, b Batch) <-chan Event {
	events := make(chan Event, 64)
	go func() {
		defer close(events)
		progress := func(current, total int64, label string) {
			ev := Event{Type: EventProgress, Progress: &models.FileProgress{
				Label:   label,
				Current: current,
				Total:   total,
			}}
			select {
			case events <- ev:
			default:
			}
		}
		onOutcome := func(o models.DownloadOutcome) {
			events <- Event{Type: EventOutcome, Outcome: &o}
		}
		summary, err := m.download(ctx, b, progress, onOutcome)
		events <- Event{Type: EventDone, Summary: summary, Err: err}
	}()
	return events
}
