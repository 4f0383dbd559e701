package models

// OutcomeStatus is the terminal state of one selected record.
type OutcomeStatus string

const (
	StatusDownloaded OutcomeStatus = "downloaded"
	StatusSkipped    OutcomeStatus = "skipped"
	StatusFailed     OutcomeStatus = "failed"
)

// SkipAlreadyExists is the skip reason for a name already present on disk.
const SkipAlreadyExists = "already exists"

// DownloadOutcome is the per-record result of a download batch.
type DownloadOutcome struct {
	Index  int           `json:"index"`
	URL    string        `json:"url"`
	Status OutcomeStatus `json:"status"`
	Reason string        `json:"reason,omitempty"` // skip reason
	Err    error         `json:"-"`
	Error  string        `json:"error,omitempty"`
	Path   string        `json:"path,omitempty"`
	Bytes  int64         `json:"bytes,omitempty"`
}

// Summary aggregates a download batch.
type Summary struct {
	Downloaded int               `json:"downloaded"`
	Skipped    int               `json:"skipped"`
	Failed     int               `json:"failed"`
	DestDir    string            `json:"dest_dir"`
	Outcomes   []DownloadOutcome `json:"outcomes"`
}

// Add counts an outcome and appends it.
func (s *Summary) Add(o DownloadOutcome) {
	switch o.Status {
	case StatusDownloaded:
		s.Downloaded++
	case StatusSkipped:
		s.Skipped++
	case StatusFailed:
		s.Failed++
		if o.Err != nil && o.Error == "" {
			o.Error = o.Err.Error()
		}
	}
	s.Outcomes = append(s.Outcomes, o)
}

// Total is the number of records accounted for.
func (s *Summary) Total() int {
	return s.Downloaded + s.Skipped + s.Failed
}
