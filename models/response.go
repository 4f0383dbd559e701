package models

// ScrapeResponse is the response for POST /api/v1/media/scrape.
type ScrapeResponse struct {
	// Success indicates whether discovery completed without a fatal error.
	Success bool `json:"success"`

	// SessionID addresses the record set in later download requests.
	SessionID string `json:"session_id,omitempty"`

	// PageURL is the page location after navigation and redirects.
	PageURL string `json:"page_url,omitempty"`

	// Records are the discovered media in DOM order.
	Records []MediaRecord `json:"records"`

	// Scrolls is how many scroll commands the page needed to stabilize.
	Scrolls int `json:"scrolls"`

	// Candidates counts elements that passed the filter; the difference to
	// len(Records) is what classification dropped.
	Candidates int `json:"candidates"`

	Timing TimingInfo `json:"timing"`

	Error *ErrorDetail `json:"error,omitempty"`
}

// TimingInfo provides performance breakdown for a scrape.
type TimingInfo struct {
	// TotalMs is the wall-clock time from request receipt to response.
	TotalMs int64 `json:"total_ms"`

	// NavigationMs covers navigation and scroll stabilization.
	NavigationMs int64 `json:"navigation_ms"`

	// ClassifyMs covers probing and classification.
	ClassifyMs int64 `json:"classify_ms"`
}

// DownloadResponse is the immediate response for POST /api/v1/media/download.
type DownloadResponse struct {
	ID     string       `json:"id,omitempty"`
	Status string       `json:"status"`
	Total  int          `json:"total"`
	Error  *ErrorDetail `json:"error,omitempty"`
}

// FileProgress is the transfer state of the file currently being written.
type FileProgress struct {
	Label   string `json:"label"`
	Current int64  `json:"current"`
	Total   int64  `json:"total"` // 0 when the server sent no length
}

// DownloadStatusResponse is the response for GET /api/v1/media/download/:id.
type DownloadStatusResponse struct {
	ID         string            `json:"id"`
	Status     string            `json:"status"` // "processing", "completed", "partial", "failed"
	Total      int               `json:"total"`
	Downloaded int               `json:"downloaded"`
	Skipped    int               `json:"skipped"`
	Failed     int               `json:"failed"`
	DestDir    string            `json:"dest_dir"`
	Current    *FileProgress     `json:"current,omitempty"`
	Outcomes   []DownloadOutcome `json:"outcomes,omitempty"`
	Error      *ErrorDetail      `json:"error,omitempty"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status    string    `json:"status"` // "healthy" or "degraded"
	Uptime    string    `json:"uptime"`
	PoolStats PoolStats `json:"pool_stats"`
	Sessions  int       `json:"sessions"`
	Version   string    `json:"version"`
}

// PoolStats exposes page pool utilisation.
type PoolStats struct {
	MaxPages    int `json:"max_pages"`
	ActivePages int `json:"active_pages"`
}
