package media

import (
	"fmt"
	"sync"
	"time"

	"github.com/use-agent/mediagrab/models"
)

// Session is the state of one scrape: the page it was discovered on, the
// records found so far and the header set used to fetch them. A session is
// rebuilt for every scrape and never persisted.
//
// The seen set and the record list move together: a URL is marked seen only
// when its record is appended.
type Session struct {
	BaseURL string
	Headers models.HeaderSet

	// HeaderKind is the kind the header set was probed for. Requests for
	// the other kind get their Accept headers swapped.
	HeaderKind models.MediaKind

	Scrolls        int
	Candidates     int
	NavigationTime time.Duration
	ClassifyTime   time.Duration

	mu      sync.RWMutex
	seen    map[string]struct{}
	records []models.MediaRecord
}

// NewSession creates an empty session for baseURL.
func NewSession(baseURL string) *Session {
	return &Session{
		BaseURL:    baseURL,
		Headers:    models.HeaderSet{},
		HeaderKind: models.KindImage,
		seen:       make(map[string]struct{}),
	}
}

// Seen reports whether url already has a record.
func (s *Session) Seen(url string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[url]
	return ok
}

// Add appends rec unless its URL is already present. It reports whether the
// record was added.
func (s *Session) Add(rec models.MediaRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[rec.URL]; ok {
		return false
	}
	s.seen[rec.URL] = struct{}{}
	s.records = append(s.records, rec)
	return true
}

// Len is the number of records.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Records returns a copy of the records in discovery order.
func (s *Session) Records() []models.MediaRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.MediaRecord, len(s.records))
	copy(out, s.records)
	return out
}

// SetSelected changes the selection flag of the record at index.
func (s *Session) SetSelected(index int, selected bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.records) {
		return false
	}
	s.records[index].Selected = selected
	return true
}

// SelectAll sets every record's selection flag.
func (s *Session) SelectAll(selected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		s.records[i].Selected = selected
	}
}

// Selected returns the selected records with their session indices.
func (s *Session) Selected() ([]int, []models.MediaRecord) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var idx []int
	var recs []models.MediaRecord
	for i, r := range s.records {
		if r.Selected {
			idx = append(idx, i)
			recs = append(recs, r)
		}
	}
	return idx, recs
}

// HeadersFor returns the header set refined for one request to target.
func (s *Session) HeadersFor(target string, kind models.MediaKind) models.HeaderSet {
	return requestHeaders(s.Headers, s.HeaderKind, kind, target, s.BaseURL)
}

// Batch builds a download batch for the selected records.
func (s *Session) Batch(destDir string) Batch {
	idx, recs := s.Selected()
	return s.batch(idx, recs, destDir)
}

// Pick selects records by session index or by URL, in the order given, and
// builds a batch for them. With neither, every record is picked. Unknown
// indices or URLs are an error; repeats keep their first position.
func (s *Session) Pick(indices []int, urls []string, destDir string) (Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var idx []int
	picked := make(map[int]bool)
	add := func(i int) {
		if !picked[i] {
			picked[i] = true
			idx = append(idx, i)
		}
	}
	switch {
	case len(indices) > 0:
		for _, i := range indices {
			if i < 0 || i >= len(s.records) {
				return Batch{}, fmt.Errorf("index %d out of range [0,%d)", i, len(s.records))
			}
			add(i)
		}
	case len(urls) > 0:
		pos := make(map[string]int, len(s.records))
		for i, r := range s.records {
			pos[r.URL] = i
		}
		for _, u := range urls {
			i, ok := pos[u]
			if !ok {
				return Batch{}, fmt.Errorf("url %q is not part of the session", u)
			}
			add(i)
		}
	default:
		for i := range s.records {
			idx = append(idx, i)
		}
	}

	recs := make([]models.MediaRecord, len(idx))
	for n, i := range idx {
		recs[n] = s.records[i]
	}
	return s.batch(idx, recs, destDir), nil
}

func (s *Session) batch(idx []int, recs []models.MediaRecord, destDir string) Batch {
	return Batch{
		Records:    recs,
		Indices:    idx,
		Headers:    s.Headers,
		HeaderKind: s.HeaderKind,
		PageURL:    s.BaseURL,
		DestDir:    destDir,
	}
}

func requestHeaders(h models.HeaderSet, probedKind, kind models.MediaKind, target, pageURL string) models.HeaderSet {
	out := h.ForTarget(target, pageURL)
	if kind != probedKind && kind != "" {
		if kind == models.KindVideo {
			out["Accept"] = acceptVideo
			out["Sec-Fetch-Dest"] = "video"
		} else {
			out["Accept"] = acceptImage
			out["Sec-Fetch-Dest"] = "image"
		}
	}
	return out
}
