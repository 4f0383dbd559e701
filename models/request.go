package models

// Fetch modes for ScrapeRequest.Mode.
const (
	ModeBrowser = "browser"
	ModeStatic  = "static"
)

// ScrapeRequest is the payload for POST /api/v1/media/scrape.
type ScrapeRequest struct {
	// URL is the page to discover media on. Required. A missing scheme
	// is completed with https://.
	URL string `json:"url" binding:"required"`

	// Filter narrows candidates by class/id/src substrings.
	Filter FilterSpec `json:"filter"`

	// MaxScrolls bounds the scroll driver. Unset means the server default;
	// 0 turns scrolling off. Max: 100.
	MaxScrolls *int `json:"max_scrolls,omitempty" binding:"omitempty,min=0,max=100"`

	// Mode selects the render context.
	// "browser" (default): headless Chrome with scrolling.
	// "static": plain HTTP fetch of the HTML, no scripting and no scrolling.
	Mode string `json:"mode,omitempty" binding:"omitempty,oneof=browser static"`

	// Kinds restricts discovery to "image" and/or "video". Default: both.
	Kinds []MediaKind `json:"kinds,omitempty"`

	// Stealth overrides the server's stealth default for this page.
	Stealth *bool `json:"stealth,omitempty"`

	// Headers are added to every request the page makes, e.g. a Referer
	// or Cookie the site expects.
	Headers map[string]string `json:"headers,omitempty"`
}

// Defaults applies default values to unset fields.
func (r *ScrapeRequest) Defaults(maxScrolls int) {
	if r.MaxScrolls == nil {
		r.MaxScrolls = &maxScrolls
	}
	if r.Mode == "" {
		r.Mode = ModeBrowser
	}
	if len(r.Kinds) == 0 {
		r.Kinds = []MediaKind{KindImage, KindVideo}
	}
	r.Filter = r.Filter.Trimmed()
}

// DownloadRequest is the payload for POST /api/v1/media/download.
// Exactly one of Indices or URLs selects records from the session; when
// both are empty every record is selected.
type DownloadRequest struct {
	SessionID string   `json:"session_id" binding:"required"`
	Indices   []int    `json:"indices,omitempty"`
	URLs      []string `json:"urls,omitempty"`

	// DestDir defaults to the server's download directory.
	DestDir string `json:"dest_dir,omitempty"`

	WebhookURL    string `json:"webhook_url,omitempty" binding:"omitempty,url"`
	WebhookSecret string `json:"webhook_secret,omitempty"`
}
